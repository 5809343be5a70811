// Package stack runs file absorption over every modified path of a linear
// stack of revisions and drives the rewrite of the revisions that change.
package stack

import (
	"bytes"
	"context"
	"errors"
)

var (
	// ErrEmptyStack is returned when there is no mutable revision to absorb into.
	ErrEmptyStack = errors.New("stack: no mutable revision to change")
	// ErrNotDiffed is returned when results are requested before DiffWith.
	ErrNotDiffed = errors.New("stack: DiffWith has not been called")
)

// Mode is the kind of a file entry.
type Mode uint8

const (
	// ModeRegular is a plain non-executable file.
	ModeRegular Mode = iota
	// ModeExecutable is a plain executable file.
	ModeExecutable
	// ModeSymlink is a symbolic link; its content is the link target.
	ModeSymlink
)

func (m Mode) String() string {
	switch m {
	case ModeExecutable:
		return "executable"
	case ModeSymlink:
		return "symlink"
	default:
		return "regular"
	}
}

// File is the content and mode of one path.
type File struct {
	Content []byte
	Mode    Mode
}

// Equal reports whether two files have the same content and mode.
func (f File) Equal(other File) bool {
	return f.Mode == other.Mode && bytes.Equal(f.Content, other.Content)
}

// Snapshot is a set of files addressed by path.
type Snapshot interface {
	File(path string) (File, bool)
}

// Revision is one revision of the stack.
type Revision interface {
	Snapshot

	// ID uniquely identifies the revision.
	ID() string
	// Description is the revision message.
	Description() string
	// Paths lists every file of the revision.
	Paths() []string
	// ChangedFiles lists the paths the revision touches relative to its parent.
	ChangedFiles() []string
	// CopySource returns the path that path was copied or renamed from in
	// this revision, if any.
	CopySource(path string) (string, bool)
}

// ReadErrorer is implemented by snapshots that load lazily and record read
// failures instead of returning them from File.
type ReadErrorer interface {
	Err() error
}

// readErr returns the recorded read failures of every snapshot.
func readErr(snapshots ...Snapshot) error {
	var errs []error

	for _, snapshot := range snapshots {
		if r, ok := snapshot.(ReadErrorer); ok {
			if err := r.Err(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	return errors.Join(errs...)
}

// Rewriter creates replacement revisions.
type Rewriter interface {
	// Rewrite creates a revision with the metadata and files of rev, placed
	// on top of parentID, with overrides substituted. It returns the new ID.
	Rewrite(ctx context.Context, rev Revision, parentID string, overrides map[string][]byte) (string, error)
}

// PathFilter selects the paths considered for absorption.
type PathFilter func(path string) bool
