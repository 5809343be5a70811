package stack

import (
	"bytes"
	"context"
	"fmt"
)

// Result describes a rewritten stack.
type Result struct {
	// Replacements maps old revision ids to new ones. An empty value means
	// the revision was dropped.
	Replacements map[string]string
	// NewHead is the id the stack top should move to.
	NewHead string
	// Rewritten and Dropped count the replaced revisions.
	Rewritten int
	Dropped   int
}

// Changed reports whether any revision was replaced.
func (r Result) Changed() bool {
	return len(r.Replacements) > 0
}

// Commit recreates the revisions that change, oldest first, through rw.
// Revisions below the first change are kept. Once a revision is rewritten or
// dropped, every later revision is recreated on top of the new parent. A
// revision whose changes are all reverted is dropped when skip-empty is set.
func (s *State) Commit(ctx context.Context, rw Rewriter) (Result, error) {
	if !s.applied {
		return Result{}, ErrNotDiffed
	}

	result := Result{Replacements: make(map[string]string)}

	parent := baseIndex
	parentID := s.base.ID()
	rewriting := false

	for index, rev := range s.revs {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("commit stack: %w", err)
		}

		overrides := s.Overrides(index)

		if len(overrides) == 0 && !rewriting {
			parent = index
			parentID = rev.ID()

			continue
		}

		rewriting = true

		noop := s.skipEmpty && len(rev.ChangedFiles()) > 0 && s.willBecomeNoop(rev, overrides, parent)

		if err := s.readErr(); err != nil {
			return Result{}, err
		}

		if noop {
			result.Replacements[rev.ID()] = ""
			result.Dropped++

			s.logger.Info("revision became empty and was dropped", "revision", rev.ID())

			continue
		}

		newID, err := rw.Rewrite(ctx, rev, parentID, overrides)
		if err != nil {
			return Result{}, fmt.Errorf("rewrite %s: %w", rev.ID(), err)
		}

		result.Replacements[rev.ID()] = newID
		result.Rewritten++

		s.logger.Info("revision rewritten",
			"revision", rev.ID(),
			"files", len(overrides),
			"new", newID)

		parent = index
		parentID = newID
	}

	result.NewHead = parentID

	return result, nil
}

// parentFile returns the file at path in the revision at index, as it will
// be after rewriting.
func (s *State) parentFile(index int, path string) (File, bool) {
	f, ok := s.revision(index).File(path)
	if !ok || index == baseIndex {
		return f, ok
	}

	if content, overridden := s.Overrides(index)[path]; overridden {
		f.Content = content
	}

	return f, true
}

// willBecomeNoop reports whether rev, with overrides applied, no longer
// differs from its new parent.
func (s *State) willBecomeNoop(rev Revision, overrides map[string][]byte, parent int) bool {
	for _, path := range rev.ChangedFiles() {
		if _, ok := overrides[path]; !ok {
			return false
		}
	}

	for path, content := range overrides {
		current, ok := rev.File(path)
		if !ok {
			return false
		}

		previous, ok := s.parentFile(parent, path)
		if !ok || previous.Mode != current.Mode || !bytes.Equal(previous.Content, content) {
			return false
		}
	}

	return true
}
