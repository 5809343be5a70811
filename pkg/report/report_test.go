package report_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/absorb/pkg/fixup"
	"github.com/Sumatoshi-tech/absorb/pkg/report"
	"github.com/Sumatoshi-tech/absorb/pkg/stack"
)

func snapshot(pairs ...string) stack.MemorySnapshot {
	s := make(stack.MemorySnapshot)
	for i := 0; i+1 < len(pairs); i += 2 {
		s[pairs[i]] = stack.File{Content: []byte(pairs[i+1])}
	}

	return s
}

// diffed builds a one-revision stack over base and diffs it with target.
func diffed(t *testing.T, base, top, target stack.MemorySnapshot) (*stack.State, []fixup.ChunkEvent) {
	t.Helper()

	baseRev := &stack.MemoryRevision{RevID: "base", Files: base}
	topRev := &stack.MemoryRevision{
		RevID:   "0123456789abcdef",
		Message: "change b\n\nlonger description",
		Files:   top,
		Changed: stack.ChangedBetween(base, top),
	}

	var events []fixup.ChunkEvent

	state, err := stack.New(baseRev, []stack.Revision{topRev},
		stack.WithReporter(fixup.ReporterFunc(func(event fixup.ChunkEvent) {
			events = append(events, event)
		})))
	require.NoError(t, err)
	require.NoError(t, state.DiffWith(context.Background(), target))

	return state, events
}

func TestPrinter_Changes(t *testing.T) {
	t.Parallel()

	state, events := diffed(t,
		snapshot("f", "a\nb\nc\n"),
		snapshot("f", "a\nB\nc\n"),
		snapshot("f", "a\nB2\nc\nd\n"))

	var out bytes.Buffer

	p := report.NewPrinter(&out, false)
	p.Changes(events, state)
	p.Affected(state.Affected())

	want := "showing changes for f\n" +
		"        @@ -1,1 +1,1 @@\n" +
		"0123456 -B\n" +
		"0123456 +B2\n" +
		"        @@ -3,0 +3,1 @@\n" +
		"        +d\n" +
		"\n1 changesets affected\n" +
		"0123456 change b\n"

	assert.Equal(t, want, out.String())
}

func TestPrinter_Result(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	p := report.NewPrinter(&out, false)
	p.Result(fixup.ChunkStats{Adopted: 2, Total: 3})
	p.Result(fixup.ChunkStats{Adopted: 0, Total: 3})
	p.Skipped([]stack.Skipped{
		{Path: "logo.png", Reason: stack.SkipBinary},
		{Path: "dump.sql", Reason: stack.SkipTooLarge, Size: 2_000_000},
	})

	assert.Equal(t, "2 of 3 chunk(s) applied\nnothing applied\n"+
		"skipping logo.png: binary\nskipping dump.sql: too large (2.0 MB)\n", out.String())
}

func TestPrinter_Colored(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	report.NewPrinter(&out, true).Affected([]stack.Revision{&stack.MemoryRevision{RevID: "abc", Message: "m"}})

	assert.Contains(t, out.String(), "\x1b[")
}

func TestPrinter_Table(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	report.NewPrinter(&out, false).Table([]report.PathStats{
		{Path: "a.go", Adopted: 1, Total: 2},
		{Path: "b.go", Adopted: 3, Total: 3},
	})

	rendered := out.String()

	assert.Contains(t, rendered, "a.go")
	assert.Contains(t, rendered, "b.go")
	assert.Contains(t, rendered, "2 PATHS")
}

func TestShortIDAndSummary(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0123456", report.ShortID("0123456789"))
	assert.Equal(t, "r1", report.ShortID("r1"))
	assert.Equal(t, "subject", report.Summary(&stack.MemoryRevision{Message: "subject\n\nbody"}))
}

func TestBuildAndWriteYAML(t *testing.T) {
	t.Parallel()

	state, _ := diffed(t,
		snapshot("f", "a\nb\nc\n"),
		snapshot("f", "a\nB\nc\n"),
		snapshot("f", "a\nB2\nc\nd\n"))
	require.NoError(t, state.Apply())

	result, err := state.Commit(context.Background(), stack.NewMemoryRewriter())
	require.NoError(t, err)

	r := report.Build(state, result)

	assert.Equal(t, fixup.ChunkStats{Adopted: 1, Total: 2}, r.Chunks)
	assert.Equal(t, []report.PathStats{{Path: "f", Adopted: 1, Total: 2}}, r.Paths)
	assert.Equal(t, []string{"0123456789abcdef"}, r.Affected)
	assert.Equal(t, map[string]string{"0123456789abcdef": "rewritten-1"}, r.Replacements)
	assert.Equal(t, "rewritten-1", r.NewHead)

	var out bytes.Buffer
	require.NoError(t, report.WriteYAML(&out, r))

	var decoded report.Report
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, r, decoded)
	assert.Contains(t, out.String(), "new_head: rewritten-1")
}
