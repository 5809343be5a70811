// Package overlay builds absorb targets by applying a unified diff to the
// stack top instead of reading the working directory.
package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/Sumatoshi-tech/absorb/pkg/stack"
	"github.com/Sumatoshi-tech/absorb/pkg/textdiff"
)

const devNull = "/dev/null"

var (
	// ErrPatchConflict is returned when a hunk does not match the base content.
	ErrPatchConflict = errors.New("patch does not apply")
	// ErrInvalidPatch is returned when the patch cannot be parsed.
	ErrInvalidPatch = errors.New("invalid patch")
)

// Snapshot is a base snapshot with patched files laid over it.
type Snapshot struct {
	base    stack.Snapshot
	files   map[string]stack.File
	deleted map[string]bool
}

// File implements stack.Snapshot.
func (s *Snapshot) File(path string) (stack.File, bool) {
	if f, ok := s.files[path]; ok {
		return f, true
	}

	if s.deleted[path] {
		return stack.File{}, false
	}

	return s.base.File(path)
}

// Patched returns the paths written by the patch in sorted order.
func (s *Snapshot) Patched() []string {
	return slices.Sorted(maps.Keys(s.files))
}

// FromPatch applies a multi-file unified diff to base.
func FromPatch(base stack.Snapshot, patch []byte) (*Snapshot, error) {
	fileDiffs, err := diff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPatch, err)
	}

	s := &Snapshot{
		base:    base,
		files:   make(map[string]stack.File),
		deleted: make(map[string]bool),
	}

	for _, fd := range fileDiffs {
		err = s.apply(fd)
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *Snapshot) apply(fd *diff.FileDiff) error {
	origName := strings.TrimPrefix(fd.OrigName, "a/")
	newName := strings.TrimPrefix(fd.NewName, "b/")

	var original stack.File

	if origName != devNull {
		f, ok := s.File(origName)
		if !ok {
			return fmt.Errorf("%w: %s does not exist", ErrPatchConflict, origName)
		}

		original = f
	}

	if newName == devNull {
		s.deleted[origName] = true
		delete(s.files, origName)

		return nil
	}

	content, err := applyHunks(original.Content, fd.Hunks)
	if err != nil {
		return fmt.Errorf("%s: %w", newName, err)
	}

	mode := original.Mode
	if m, ok := newMode(fd.Extended); ok {
		mode = m
	}

	if origName != devNull && origName != newName {
		s.deleted[origName] = true
		delete(s.files, origName)
	}

	delete(s.deleted, newName)
	s.files[newName] = stack.File{Content: content, Mode: mode}

	return nil
}

// newMode reads a "new mode" or "new file mode" extended header.
func newMode(extended []string) (stack.Mode, bool) {
	for _, header := range extended {
		value, ok := strings.CutPrefix(header, "new mode ")
		if !ok {
			value, ok = strings.CutPrefix(header, "new file mode ")
		}

		if !ok {
			continue
		}

		switch strings.TrimSpace(value) {
		case "100755":
			return stack.ModeExecutable, true
		case "120000":
			return stack.ModeSymlink, true
		default:
			return stack.ModeRegular, true
		}
	}

	return stack.ModeRegular, false
}

// applyHunks applies hunks in order. Context and removed lines must match
// the original exactly.
func applyHunks(original []byte, hunks []*diff.Hunk) ([]byte, error) {
	lines := textdiff.SplitLines(original)

	var out bytes.Buffer

	cursor := 0

	for _, hunk := range hunks {
		start := int(hunk.OrigStartLine) - 1
		if hunk.OrigLines == 0 {
			start = int(hunk.OrigStartLine)
		}

		if start < cursor || start > len(lines) {
			return nil, fmt.Errorf("%w: hunk at line %d is out of range", ErrPatchConflict, hunk.OrigStartLine)
		}

		for _, line := range lines[cursor:start] {
			out.WriteString(line)
		}

		cursor = start

		offset := 0

		for _, line := range strings.SplitAfter(string(hunk.Body), "\n") {
			offset += len(line)

			if line == "" {
				continue
			}

			op, text := line[0], line[1:]
			if line == "\n" {
				op, text = ' ', "\n"
			}

			if op != '+' && hunk.OrigNoNewlineAt > 0 && offset == int(hunk.OrigNoNewlineAt) {
				text = strings.TrimSuffix(text, "\n")
			}

			switch op {
			case '+':
				out.WriteString(text)
			case ' ', '-':
				if cursor >= len(lines) || lines[cursor] != text {
					return nil, fmt.Errorf("%w: line %d differs", ErrPatchConflict, cursor+1)
				}

				if op == ' ' {
					out.WriteString(text)
				}

				cursor++
			default:
				return nil, fmt.Errorf("%w: unexpected hunk line %q", ErrInvalidPatch, line)
			}
		}
	}

	for _, line := range lines[cursor:] {
		out.WriteString(line)
	}

	return out.Bytes(), nil
}
