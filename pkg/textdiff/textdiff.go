// Package textdiff computes line-level changed regions between two texts.
package textdiff

import (
	"bytes"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Chunk is one changed region: lines [A1, A2) of the old text are replaced by
// lines [B1, B2) of the new text. Either range may be empty.
type Chunk struct {
	A1, A2 int
	B1, B2 int
}

// String formats the chunk as a pair of half-open ranges.
func (c Chunk) String() string {
	return fmt.Sprintf("[%d,%d)->[%d,%d)", c.A1, c.A2, c.B1, c.B2)
}

// IsInsertion reports whether the chunk only adds lines.
func (c Chunk) IsInsertion() bool {
	return c.A1 == c.A2
}

// IsDeletion reports whether the chunk only removes lines.
func (c Chunk) IsDeletion() bool {
	return c.B1 == c.B2
}

// SplitLines splits content into lines, keeping the trailing "\n" of each one.
// A final line without a terminator is kept as is; empty content has no lines.
func SplitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}

	lines := make([]string, 0, bytes.Count(content, []byte{'\n'})+1)

	for len(content) > 0 {
		end := bytes.IndexByte(content, '\n')
		if end < 0 {
			lines = append(lines, string(content))

			break
		}

		lines = append(lines, string(content[:end+1]))
		content = content[end+1:]
	}

	return lines
}

// Differ computes chunks with diff-match-patch over line-encoded runes.
type Differ struct {
	timeout time.Duration
}

// Option configures a Differ.
type Option func(*Differ)

// WithTimeout bounds a single diff computation. Zero means unbounded, which
// keeps the output deterministic.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Differ) {
		d.timeout = timeout
	}
}

// NewDiffer creates a Differ.
func NewDiffer(opts ...Option) *Differ {
	d := &Differ{}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Chunks returns the changed regions between a and b ordered by A1. Regions
// separated by at least one unchanged line are never merged.
func (d *Differ) Chunks(a, b []string) []Chunk {
	src, dst := encodeLines(a, b)

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = d.timeout

	diffs := dmp.DiffMainRunes(src, dst, false)

	var (
		chunks  []Chunk
		current *Chunk
		aPos    int
		bPos    int
	)

	open := func() {
		if current == nil {
			current = &Chunk{A1: aPos, A2: aPos, B1: bPos, B2: bPos}
		}
	}

	for _, edit := range diffs {
		count := utf8.RuneCountInString(edit.Text)

		switch edit.Type {
		case diffmatchpatch.DiffEqual:
			if current != nil {
				chunks = append(chunks, *current)
				current = nil
			}

			aPos += count
			bPos += count
		case diffmatchpatch.DiffDelete:
			open()

			aPos += count
			current.A2 = aPos
		case diffmatchpatch.DiffInsert:
			open()

			bPos += count
			current.B2 = bPos
		}
	}

	if current != nil {
		chunks = append(chunks, *current)
	}

	return chunks
}

// Chunks diffs a and b with an unbounded Differ.
func Chunks(a, b []string) []Chunk {
	return NewDiffer().Chunks(a, b)
}

// surrogateGap is the size of the UTF-16 surrogate block, which cannot be
// encoded as a rune in a Go string.
const surrogateGap = 0x800

// encodeLines maps every distinct line to one rune so that a rune-level diff
// is a line-level diff. Ids skip the surrogate block so that diff texts keep
// one rune per line.
func encodeLines(a, b []string) (src, dst []rune) {
	ids := make(map[string]rune, len(a)+len(b))

	encode := func(lines []string) []rune {
		runes := make([]rune, len(lines))

		for i, line := range lines {
			id, ok := ids[line]
			if !ok {
				id = rune(len(ids))
				if id >= 0xD800 {
					id += surrogateGap
				}

				if id > utf8.MaxRune {
					panic("textdiff: too many distinct lines")
				}

				ids[line] = id
			}

			runes[i] = id
		}

		return runes
	}

	return encode(a), encode(b)
}
