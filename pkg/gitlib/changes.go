package gitlib

import (
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// ChangeAction represents the type of change in a diff.
type ChangeAction int

const (
	// Insert indicates a new file was added.
	Insert ChangeAction = iota
	// Delete indicates a file was removed.
	Delete
	// Modify indicates a file content or mode was changed.
	Modify
	// Rename indicates a file was moved, possibly with changes.
	Rename
)

// Change represents a single file change between two trees.
type Change struct {
	Action ChangeAction
	From   string
	To     string
}

// Changes is a collection of Change objects.
type Changes []Change

// Paths returns every path touched by the changes, on either side.
func (c Changes) Paths() []string {
	var paths []string

	for _, change := range c {
		if change.From != "" {
			paths = append(paths, change.From)
		}

		if change.To != "" && change.To != change.From {
			paths = append(paths, change.To)
		}
	}

	return paths
}

// TreeDiff computes the changes between two trees with rename detection.
// A nil oldTree stands for the empty tree.
// Skips diff when both tree OIDs are equal (e.g. metadata-only commits).
func TreeDiff(repo *Repository, oldTree, newTree *Tree) (Changes, error) {
	if oldTree != nil && newTree != nil && oldTree.Hash() == newTree.Hash() {
		return Changes{}, nil
	}

	diff, err := repo.DiffTreeToTree(oldTree, newTree)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}
	defer diff.Free()

	err = diff.FindRenames()
	if err != nil {
		return nil, err
	}

	numDeltas, err := diff.NumDeltas()
	if err != nil {
		return nil, err
	}

	changes := make(Changes, 0, numDeltas)

	for i := range numDeltas {
		delta, deltaErr := diff.Delta(i)
		if deltaErr != nil {
			return nil, deltaErr
		}

		switch delta.Status {
		case git2go.DeltaAdded:
			changes = append(changes, Change{Action: Insert, To: delta.NewFile.Path})
		case git2go.DeltaDeleted:
			changes = append(changes, Change{Action: Delete, From: delta.OldFile.Path})
		case git2go.DeltaModified, git2go.DeltaTypeChange:
			changes = append(changes, Change{Action: Modify, From: delta.OldFile.Path, To: delta.NewFile.Path})
		case git2go.DeltaRenamed, git2go.DeltaCopied:
			changes = append(changes, Change{Action: Rename, From: delta.OldFile.Path, To: delta.NewFile.Path})
		case git2go.DeltaUnmodified, git2go.DeltaIgnored, git2go.DeltaUntracked,
			git2go.DeltaUnreadable, git2go.DeltaConflicted:
			continue
		}
	}

	return changes, nil
}
