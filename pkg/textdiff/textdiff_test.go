package textdiff_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Sumatoshi-tech/absorb/pkg/textdiff"
)

func TestSplitLines(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{name: "empty", content: "", want: nil},
		{name: "single terminated", content: "a\n", want: []string{"a\n"}},
		{name: "unterminated tail", content: "a\nb", want: []string{"a\n", "b"}},
		{name: "blank lines", content: "\n\n", want: []string{"\n", "\n"}},
		{name: "crlf kept", content: "a\r\nb\r\n", want: []string{"a\r\n", "b\r\n"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, textdiff.SplitLines([]byte(tt.content)))
		})
	}
}

func TestSplitLines_JoinRoundTrip(t *testing.T) {
	t.Parallel()

	content := "one\ntwo\n\nthree"
	assert.Equal(t, content, strings.Join(textdiff.SplitLines([]byte(content)), ""))
}

func split(s string) []string {
	return textdiff.SplitLines([]byte(s))
}

func TestChunks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		want []textdiff.Chunk
	}{
		{name: "identical", a: "a\nb\n", b: "a\nb\n", want: nil},
		{name: "both empty", a: "", b: "", want: nil},
		{name: "from empty", a: "", b: "a\nb\n", want: []textdiff.Chunk{{A1: 0, A2: 0, B1: 0, B2: 2}}},
		{name: "to empty", a: "a\nb\n", b: "", want: []textdiff.Chunk{{A1: 0, A2: 2, B1: 0, B2: 0}}},
		{name: "replace middle", a: "a\nb\nc\n", b: "a\nB\nc\n", want: []textdiff.Chunk{{A1: 1, A2: 2, B1: 1, B2: 2}}},
		{name: "append", a: "a\nb\n", b: "a\nb\nc\n", want: []textdiff.Chunk{{A1: 2, A2: 2, B1: 2, B2: 3}}},
		{name: "delete first", a: "a\nb\nc\n", b: "b\nc\n", want: []textdiff.Chunk{{A1: 0, A2: 1, B1: 0, B2: 0}}},
		{
			name: "separated regions stay apart",
			a:    "a\nb\nc\nd\ne\n",
			b:    "A\nb\nc\nD\ne\n",
			want: []textdiff.Chunk{{A1: 0, A2: 1, B1: 0, B2: 1}, {A1: 3, A2: 4, B1: 3, B2: 4}},
		},
		{
			name: "replace with more lines",
			a:    "a\nb\nc\n",
			b:    "a\nx\ny\nz\nc\n",
			want: []textdiff.Chunk{{A1: 1, A2: 2, B1: 1, B2: 4}},
		},
		{name: "missing terminator", a: "a\nb", b: "a\nb\n", want: []textdiff.Chunk{{A1: 1, A2: 2, B1: 1, B2: 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, textdiff.Chunks(split(tt.a), split(tt.b)))
		})
	}
}

func TestChunks_CoverAllDifferences(t *testing.T) {
	t.Parallel()

	var a, b strings.Builder

	for i := range 200 {
		fmt.Fprintf(&a, "line %d\n", i)

		switch {
		case i%17 == 0:
			fmt.Fprintf(&b, "changed %d\n", i)
		case i%23 == 0:
		default:
			fmt.Fprintf(&b, "line %d\n", i)
		}
	}

	before, after := split(a.String()), split(b.String())
	chunks := textdiff.NewDiffer(textdiff.WithTimeout(time.Minute)).Chunks(before, after)

	// Rebuild the new text from the old one plus the chunks.
	var rebuilt []string

	prev := 0

	for i, chunk := range chunks {
		assert.LessOrEqual(t, prev, chunk.A1, "chunk %d out of order", i)
		assert.False(t, chunk.A1 == chunk.A2 && chunk.B1 == chunk.B2, "empty chunk %v", chunk)

		rebuilt = append(rebuilt, before[prev:chunk.A1]...)
		rebuilt = append(rebuilt, after[chunk.B1:chunk.B2]...)
		prev = chunk.A2
	}

	rebuilt = append(rebuilt, before[prev:]...)

	assert.Equal(t, after, rebuilt)
}

func TestChunks_ManyDistinctLines(t *testing.T) {
	t.Parallel()

	// Enough distinct lines to cross the surrogate block of rune ids.
	const count = 0xD800 + 16

	a := make([]string, count)
	for i := range a {
		a[i] = fmt.Sprintf("%d\n", i)
	}

	b := append([]string{}, a...)
	b[count-2] = "changed\n"

	assert.Equal(t, []textdiff.Chunk{{A1: count - 2, A2: count - 1, B1: count - 2, B2: count - 1}}, textdiff.Chunks(a, b))
}

func TestChunk_Predicates(t *testing.T) {
	t.Parallel()

	insertion := textdiff.Chunk{A1: 2, A2: 2, B1: 2, B2: 3}
	deletion := textdiff.Chunk{A1: 2, A2: 4, B1: 2, B2: 2}

	assert.True(t, insertion.IsInsertion())
	assert.False(t, insertion.IsDeletion())
	assert.True(t, deletion.IsDeletion())
	assert.False(t, deletion.IsInsertion())
	assert.Equal(t, "[2,2)->[2,3)", insertion.String())
}
