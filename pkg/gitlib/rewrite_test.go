package gitlib_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/absorb/pkg/gitlib"
	"github.com/Sumatoshi-tech/absorb/pkg/stack"
)

// absorbWorktree absorbs the working directory of tr into its stack and
// moves HEAD to the result.
func absorbWorktree(t *testing.T, tr *testRepo, opts ...gitlib.RewriterOption) stack.Result {
	t.Helper()

	ctx := context.Background()
	repo := tr.open()

	s, err := gitlib.LoadStack(ctx, repo, gitlib.StackOptions{})
	require.NoError(t, err)

	defer s.Free()

	worktree, err := gitlib.NewWorktree(repo)
	require.NoError(t, err)

	state, err := stack.New(s.Base, s.Revisions())
	require.NoError(t, err)
	require.NoError(t, state.DiffWith(ctx, worktree))
	require.NoError(t, state.Apply())

	rw := gitlib.NewRewriter(repo, opts...)

	result, err := state.Commit(ctx, rw)
	require.NoError(t, err)

	if result.Changed() {
		require.NoError(t, rw.MoveHead(ctx, result.NewHead))
	}

	return result
}

func TestRewriter_AbsorbsWorktree(t *testing.T) {
	t.Parallel()

	tr := newTestRepo(t)
	defer tr.cleanup()

	tr.createFile("a.txt", "a\nb\nc\n")
	tr.commit("root")

	tr.createFile("a.txt", "a\nB\nc\n")
	first := tr.commit("change b")

	tr.createFile("b.txt", "x\n")
	second := tr.commit("add b.txt")

	tr.createFile("a.txt", "a\nB2\nc\n")
	tr.createFile("b.txt", "x2\n")

	result := absorbWorktree(t, tr)

	assert.Equal(t, 2, result.Rewritten)
	assert.Contains(t, result.Replacements, first.String())
	assert.Contains(t, result.Replacements, second.String())

	repo := tr.open()

	head, err := repo.Head()
	require.NoError(t, err)
	assert.Equal(t, result.NewHead, head.String())

	s := loadStack(t, repo, gitlib.StackOptions{})
	require.Len(t, s.Commits, 2)

	assert.Equal(t, "change b", s.Commits[0].Description())
	assert.Equal(t, "add b.txt", s.Commits[1].Description())

	rewritten, err := repo.LookupCommit(context.Background(), head)
	require.NoError(t, err)

	defer rewritten.Free()

	assert.Equal(t, "Test User", rewritten.Author().Name)

	f, ok := s.Commits[0].File("a.txt")
	require.True(t, ok)
	assert.Equal(t, "a\nB2\nc\n", string(f.Content))

	_, ok = s.Commits[0].File("b.txt")
	assert.False(t, ok)

	f, ok = s.Commits[1].File("b.txt")
	require.True(t, ok)
	assert.Equal(t, "x2\n", string(f.Content))

	assert.Equal(t, "a\nB2\nc\n", tr.readFile("a.txt"))
}

func TestRewriter_KeepsModeAndUnchangedPrefix(t *testing.T) {
	t.Parallel()

	tr := newTestRepo(t)
	defer tr.cleanup()

	tr.createFile("run.sh", "echo a\n")
	tr.chmod("run.sh", 0o755)
	tr.commit("root")

	tr.createFile("other.txt", "o\n")
	kept := tr.commit("unrelated")

	tr.createFile("run.sh", "echo a\necho b\n")
	tr.commit("add b")

	tr.createFile("run.sh", "echo a\necho B\n")

	result := absorbWorktree(t, tr, gitlib.WithProvenance(true))
	require.Equal(t, 1, result.Rewritten)

	s := loadStack(t, tr.open(), gitlib.StackOptions{})
	require.Len(t, s.Commits, 2)

	assert.Equal(t, kept.String(), s.Commits[0].ID())

	f, ok := s.Commits[1].File("run.sh")
	require.True(t, ok)
	assert.Equal(t, stack.File{Content: []byte("echo a\necho B\n"), Mode: stack.ModeExecutable}, f)
	assert.Contains(t, s.Commits[1].Description(), gitlib.ProvenanceTrailer+": ")
}

func TestRewriter_DropsEmptiedCommit(t *testing.T) {
	t.Parallel()

	tr := newTestRepo(t)
	defer tr.cleanup()

	tr.createFile("f", "a\n")
	tr.commit("root")

	tr.createFile("f", "a\nb\n")
	tr.commit("add b")

	tr.createFile("g", "g\n")
	tr.commit("add g")

	tr.createFile("f", "a\n")

	result := absorbWorktree(t, tr)
	assert.Equal(t, 1, result.Dropped)
	assert.Equal(t, 1, result.Rewritten)

	s := loadStack(t, tr.open(), gitlib.StackOptions{})
	require.Len(t, s.Commits, 1)
	assert.Equal(t, "add g", s.Commits[0].Description())
}

func TestRewriter_ForeignRevision(t *testing.T) {
	t.Parallel()

	tr := newTestRepo(t)
	defer tr.cleanup()

	tr.createFile("f", "a\n")
	root := tr.commit("root")

	rw := gitlib.NewRewriter(tr.open())

	_, err := rw.Rewrite(context.Background(), &stack.MemoryRevision{RevID: "x"}, root.String(), nil)
	require.ErrorIs(t, err, gitlib.ErrForeignRevision)

	require.ErrorIs(t, rw.MoveHead(context.Background(), "HEAD"), gitlib.ErrInvalidHash)
}

func TestAddTrailer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		message string
		want    string
	}{
		{name: "empty", message: "", want: "Absorbed-From: abc\n"},
		{name: "subject only", message: "fix parser\n", want: "fix parser\n\nAbsorbed-From: abc\n"},
		{name: "body", message: "fix parser\n\nLonger text here.\n", want: "fix parser\n\nLonger text here.\n\nAbsorbed-From: abc\n"},
		{
			name:    "existing trailers",
			message: "fix parser\n\nSigned-off-by: A <a@example.com>\n",
			want:    "fix parser\n\nSigned-off-by: A <a@example.com>\nAbsorbed-From: abc\n",
		},
		{name: "subject looks like trailer", message: "docs: fix typo", want: "docs: fix typo\n\nAbsorbed-From: abc\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, gitlib.AddTrailer(tt.message, "Absorbed-From", "abc"))
		})
	}
}
