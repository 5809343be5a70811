package fixup_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/absorb/pkg/fixup"
	"github.com/Sumatoshi-tech/absorb/pkg/textdiff"
)

// chain builds entries where only the first one is immutable.
func chain(contents ...string) []fixup.Entry {
	entries := make([]fixup.Entry, len(contents))
	for i, content := range contents {
		entries[i] = fixup.Entry{Content: []byte(content), Immutable: i == 0}
	}

	return entries
}

func newState(t *testing.T, contents ...string) *fixup.FileState {
	t.Helper()

	state, err := fixup.NewFileState("file.txt", chain(contents...))
	require.NoError(t, err)

	return state
}

func finalContents(state *fixup.FileState) []string {
	result := make([]string, state.Len())
	for i := range result {
		result[i] = string(state.FinalContent(i))
	}

	return result
}

func TestNewFileState_Errors(t *testing.T) {
	t.Parallel()

	_, err := fixup.NewFileState("a", nil)
	require.ErrorIs(t, err, fixup.ErrEmptyChain)

	_, err = fixup.NewFileState("a", []fixup.Entry{{Content: []byte("x\n")}})
	require.ErrorIs(t, err, fixup.ErrMutableBase)
}

func TestCheckout_ContentFidelity(t *testing.T) {
	t.Parallel()

	contents := []string{
		"",
		"a\nb\nc\n",
		"a\nB\nc\nd\n",
		"z\na\nB\nd\n",
		"z\nd",
		"z\nd\ne\nf\ng\n",
		"",
		"new\n",
	}

	state := newState(t, contents...)

	for i, content := range contents {
		assert.Equal(t, content, string(state.Checkout(fixup.Original(i))), "position %d", i)
	}
}

func TestDiffWith_NoOp(t *testing.T) {
	t.Parallel()

	contents := []string{"a\nb\n", "a\nB\n", "a\nB\nc\n"}
	state := newState(t, contents...)

	state.DiffWith([]byte(contents[2]))

	assert.Empty(t, state.Fixups())
	assert.Equal(t, fixup.ChunkStats{}, state.ChunkStats())

	state.Apply()

	assert.Equal(t, contents, finalContents(state))

	for i := range contents {
		assert.False(t, state.Changed(i))
	}
}

func TestDiffWith_SingleOwner(t *testing.T) {
	t.Parallel()

	state := newState(t, "a\nb\nc\n", "a\nB\nc\n")

	state.DiffWith([]byte("a\nB2\nc\n"))

	assert.Equal(t, []fixup.Fixup{{Rev: fixup.Fixed(1), A1: 1, A2: 2, B1: 1, B2: 2}}, state.Fixups())
	assert.Equal(t, fixup.ChunkStats{Adopted: 1, Total: 1}, state.ChunkStats())
	assert.Equal(t, []int{1}, state.Affected())

	state.Apply()

	assert.Equal(t, []string{"a\nb\nc\n", "a\nB2\nc\n"}, finalContents(state))
	assert.False(t, state.Changed(0))
	assert.True(t, state.Changed(1))
}

func TestDiffWith_LineOwnedByBaseIsNotAbsorbed(t *testing.T) {
	t.Parallel()

	state := newState(t, "a\nb\nc\n", "a\nB\nc\n")

	state.DiffWith([]byte("a\nB\nc2\n"))

	assert.Empty(t, state.Fixups())
	assert.Equal(t, fixup.ChunkStats{Adopted: 0, Total: 1}, state.ChunkStats())

	state.Apply()

	assert.Equal(t, []string{"a\nb\nc\n", "a\nB\nc\n"}, finalContents(state))
}

func TestDiffWith_LinesAddedInStackAreAbsorbed(t *testing.T) {
	t.Parallel()

	state := newState(t, "", "a\nb\nc\n", "a\nB\nc\n")

	state.DiffWith([]byte("a\nB\nc2\n"))

	assert.Equal(t, []fixup.Fixup{{Rev: fixup.Fixed(1), A1: 2, A2: 3, B1: 2, B2: 3}}, state.Fixups())

	state.Apply()

	assert.Equal(t, []string{"", "a\nb\nc2\n", "a\nB\nc2\n"}, finalContents(state))
}

func TestDiffWith_BaseNeverTargeted(t *testing.T) {
	t.Parallel()

	t.Run("single owner base", func(t *testing.T) {
		t.Parallel()

		state := newState(t, "a\nb\n", "a\nb\nc\n")
		state.DiffWith([]byte("a2\nb\nc\n"))

		assert.Empty(t, state.Fixups())

		state.Apply()

		assert.Equal(t, []string{"a\nb\n", "a\nb\nc\n"}, finalContents(state))
	})

	t.Run("line by line mapping skips base lines", func(t *testing.T) {
		t.Parallel()

		state := newState(t, "a\nb\n", "a\nB\n")
		state.DiffWith([]byte("x\ny\n"))

		assert.Equal(t, []fixup.Fixup{{Rev: fixup.Fixed(1), A1: 1, A2: 2, B1: 1, B2: 2}}, state.Fixups())

		for _, f := range state.Fixups() {
			assert.False(t, f.Rev.IsBase())
		}

		state.Apply()

		assert.Equal(t, []string{"a\nb\n", "a\ny\n"}, finalContents(state))
	})
}

func TestDiffWith_AmbiguousChunk(t *testing.T) {
	t.Parallel()

	contents := []string{"x\n", "x\na\n", "x\na\nb\n"}
	state := newState(t, contents...)

	state.DiffWith([]byte("x\nc\n"))

	assert.Empty(t, state.Fixups())
	assert.Equal(t, fixup.ChunkStats{Adopted: 0, Total: 1}, state.ChunkStats())
	assert.False(t, state.ChunkStats().Complete())

	state.Apply()

	assert.Equal(t, contents, finalContents(state))
}

func TestDiffWith_CoalescesAdjacentFixups(t *testing.T) {
	t.Parallel()

	state := newState(t, "x\n", "x\na\nb\n", "x\na\nb\nc\n")

	state.DiffWith([]byte("x\nA\nB\nC\n"))

	assert.Equal(t, []fixup.Fixup{
		{Rev: fixup.Fixed(1), A1: 1, A2: 3, B1: 1, B2: 3},
		{Rev: fixup.Fixed(2), A1: 3, A2: 4, B1: 3, B2: 4},
	}, state.Fixups())
	assert.Equal(t, fixup.ChunkStats{Adopted: 1, Total: 1}, state.ChunkStats())
	assert.Equal(t, []int{1, 2}, state.Affected())

	state.Apply()

	assert.Equal(t, []string{"x\n", "x\nA\nB\n", "x\nA\nB\nC\n"}, finalContents(state))
}

func TestDiffWith_CoalescesDeletions(t *testing.T) {
	t.Parallel()

	state := newState(t, "x\n", "x\na\nb\n", "x\na\nb\nc\n")

	state.DiffWith([]byte("x\n"))

	assert.Equal(t, []fixup.Fixup{
		{Rev: fixup.Fixed(1), A1: 1, A2: 3},
		{Rev: fixup.Fixed(2), A1: 3, A2: 4},
	}, state.Fixups())

	state.Apply()

	assert.Equal(t, []string{"x\n", "x\n", "x\n"}, finalContents(state))
}

func TestDiffWith_ChunkStats(t *testing.T) {
	t.Parallel()

	// Three chunks: one owned by position 1, one ambiguous, one owned by the base.
	state := newState(t,
		"base1\nbase2\nbase3\nbase4\n",
		"one\nbase2\nmid\nbase4\n",
		"one\nbase2\nmid\ntwo\nbase4\n")

	state.DiffWith([]byte("ONE\nbase2\nfour\nbase4\nbase5\n"))

	stats := state.ChunkStats()

	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Adopted)
	assert.LessOrEqual(t, 0, stats.Adopted)
	assert.LessOrEqual(t, stats.Adopted, stats.Total)

	state.Apply()

	assert.Equal(t, "ONE\nbase2\nmid\nbase4\n", string(state.FinalContent(1)))
	assert.Equal(t, "ONE\nbase2\nmid\ntwo\nbase4\n", string(state.FinalContent(2)))
}

func TestDiffWith_TrailingInsertionBoundary(t *testing.T) {
	t.Parallel()

	t.Run("adopted by owner of last line", func(t *testing.T) {
		t.Parallel()

		state := newState(t, "a\n", "a\nb\n")
		state.DiffWith([]byte("a\nb\nc\n"))

		require.Len(t, state.Fixups(), 1)
		assert.Equal(t, uint32(4), state.Fixups()[0].Rev.Linelog())
		assert.Equal(t, fixup.Fixup{Rev: fixup.Fixed(1), A1: 2, A2: 2, B1: 2, B2: 3}, state.Fixups()[0])

		state.Apply()

		assert.Equal(t, []string{"a\n", "a\nb\nc\n"}, finalContents(state))
	})

	t.Run("base neighbours only", func(t *testing.T) {
		t.Parallel()

		state := newState(t, "a\nb\n", "a\nb\n")
		state.DiffWith([]byte("a\nb\nc\n"))

		assert.Empty(t, state.Fixups())
		assert.Equal(t, fixup.ChunkStats{Adopted: 0, Total: 1}, state.ChunkStats())
	})

	t.Run("insertion between two owners", func(t *testing.T) {
		t.Parallel()

		state := newState(t, "", "a\n", "a\nb\n")
		state.DiffWith([]byte("a\nnew\nb\n"))

		assert.Empty(t, state.Fixups())
	})

	t.Run("insertion at top of file", func(t *testing.T) {
		t.Parallel()

		state := newState(t, "", "a\nb\n")
		state.DiffWith([]byte("top\na\nb\n"))

		assert.Equal(t, []fixup.Fixup{{Rev: fixup.Fixed(1), A1: 0, A2: 0, B1: 0, B2: 1}}, state.Fixups())

		state.Apply()

		assert.Equal(t, "top\na\nb\n", string(state.FinalContent(1)))
	})
}

func TestDiffWith_ImmutableMiddleEntry(t *testing.T) {
	t.Parallel()

	entries := chain("a\n", "a\nb\n", "a\nb\nc\n")
	entries[1].Immutable = true

	state, err := fixup.NewFileState("file.txt", entries)
	require.NoError(t, err)

	state.DiffWith([]byte("a\nB\nC\n"))

	assert.Equal(t, []fixup.Fixup{{Rev: fixup.Fixed(2), A1: 2, A2: 3, B1: 2, B2: 3}}, state.Fixups())

	state.Apply()

	assert.Equal(t, []string{"a\n", "a\nb\n", "a\nb\nC\n"}, finalContents(state))
}

func TestDiffWith_ManyRevisionsEachAbsorbsOwnLine(t *testing.T) {
	t.Parallel()

	const revisions = 12

	contents := []string{""}
	target := make([]string, 0, revisions)

	for i := 1; i <= revisions; i++ {
		contents = append(contents, contents[i-1]+fmt.Sprintf("line %d\n", i))
		target = append(target, fmt.Sprintf("LINE %d\n", i))
	}

	state := newState(t, contents...)
	state.DiffWith([]byte(strings.Join(target, "")))

	assert.Len(t, state.Fixups(), revisions)
	assert.True(t, state.ChunkStats().Complete())

	state.Apply()

	for i := 1; i <= revisions; i++ {
		assert.Equal(t, strings.Join(target[:i], ""), string(state.FinalContent(i)))
	}
}

func TestApply_AfterCheckout(t *testing.T) {
	t.Parallel()

	state := newState(t, "", "a\nb\nc\n", "a\nb\nc\nd\ne\n")
	state.DiffWith([]byte("a\nb\nc\nd\nE\n"))

	assert.Equal(t, "a\nb\nc\n", string(state.Checkout(fixup.Original(1))))

	require.NotPanics(t, state.Apply)
	assert.Equal(t, []string{"", "a\nb\nc\n", "a\nb\nc\nd\nE\n"}, finalContents(state))
}

func TestFileState_Preconditions(t *testing.T) {
	t.Parallel()

	state := newState(t, "a\n", "a\nb\n")

	assert.Panics(t, func() { state.Apply() })
	assert.Panics(t, func() { state.FinalContent(0) })

	state.DiffWith([]byte("a\nc\n"))

	assert.Panics(t, func() { state.DiffWith([]byte("a\n")) })
	assert.Panics(t, func() { state.FinalContent(1) })

	state.Apply()

	assert.Panics(t, func() { state.Apply() })
	assert.Equal(t, "a\nc\n", string(state.FinalContent(1)))
}

func TestDiffWith_Reporter(t *testing.T) {
	t.Parallel()

	var events []fixup.ChunkEvent

	state, err := fixup.NewFileState("f", chain("a\nb\n", "a\nB\n"),
		fixup.WithReporter(fixup.ReporterFunc(func(event fixup.ChunkEvent) {
			events = append(events, event)
		})),
		fixup.WithDiffer(textdiff.NewDiffer()))
	require.NoError(t, err)

	state.DiffWith([]byte("x\ny\n"))

	require.Len(t, events, 1)

	event := events[0]

	assert.Equal(t, "f", event.Path)
	assert.True(t, event.Adopted())
	assert.Equal(t, textdiff.Chunk{A1: 0, A2: 2, B1: 0, B2: 2}, event.Chunk)
	assert.Equal(t, []fixup.AttributedLine{
		{Text: "a"},
		{Text: "B", Position: 1, Adopted: true},
	}, event.Deleted)
	assert.Equal(t, []fixup.AttributedLine{
		{Text: "x"},
		{Text: "y", Position: 1, Adopted: true},
	}, event.Inserted)
}

func TestDiffWith_ReporterDoesNotChangeResult(t *testing.T) {
	t.Parallel()

	contents := []string{"x\n", "x\na\nb\n", "x\na\nb\nc\n"}
	target := []byte("x\nA\nb\nC\nd\n")

	plain := newState(t, contents...)
	plain.DiffWith(target)

	reported, err := fixup.NewFileState("file.txt", chain(contents...),
		fixup.WithReporter(fixup.ReporterFunc(func(fixup.ChunkEvent) {})))
	require.NoError(t, err)
	reported.DiffWith(target)

	assert.Equal(t, plain.Fixups(), reported.Fixups())
	assert.Equal(t, plain.ChunkStats(), reported.ChunkStats())
}

func TestChunkStats(t *testing.T) {
	t.Parallel()

	sum := fixup.ChunkStats{Adopted: 1, Total: 2}.Add(fixup.ChunkStats{Adopted: 3, Total: 3})

	assert.Equal(t, fixup.ChunkStats{Adopted: 4, Total: 5}, sum)
	assert.False(t, sum.Complete())
	assert.True(t, fixup.ChunkStats{}.Complete())
}
