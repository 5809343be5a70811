package gitlib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"

	git2go "github.com/libgit2/git2go/v34"

	"github.com/Sumatoshi-tech/absorb/pkg/stack"
)

// ErrMergeHead is returned when HEAD is a merge commit.
var ErrMergeHead = errors.New("cannot absorb into a merge commit")

// StackOptions configures LoadStack.
type StackOptions struct {
	// Base is a revision expression naming the immutable parent of the stack.
	// Empty means the merge base with the upstream branch, when there is one.
	Base string
	// Limit caps the number of mutable commits. Zero means no limit.
	Limit int
}

// Stack is the linear run of commits ending at HEAD that absorb may rewrite.
type Stack struct {
	// Base is the immutable parent of the first commit.
	Base *StackCommit
	// Commits are the mutable commits, oldest first.
	Commits []*StackCommit
	// Truncated is set when Limit stopped the walk before a natural base.
	Truncated bool
}

// Revisions returns the commits as stack revisions, oldest first.
func (s *Stack) Revisions() []stack.Revision {
	revs := make([]stack.Revision, len(s.Commits))
	for i, commit := range s.Commits {
		revs[i] = commit
	}

	return revs
}

// Top returns the newest commit.
func (s *Stack) Top() *StackCommit {
	return s.Commits[len(s.Commits)-1]
}

// Free releases every commit of the stack.
func (s *Stack) Free() {
	s.Base.Free()

	for _, commit := range s.Commits {
		commit.Free()
	}
}

// LoadStack walks first parents from HEAD and collects the mutable commits.
// The walk stops at the base revision, at a merge or root commit, or when
// opts.Limit commits were collected; the commit it stops at becomes the base.
func LoadStack(ctx context.Context, repo *Repository, opts StackOptions) (*Stack, error) {
	var (
		base    Hash
		hasBase bool
		err     error
	)

	if opts.Base != "" {
		base, err = repo.Resolve(opts.Base)
		if err != nil {
			return nil, err
		}

		hasBase = true
	} else {
		base, hasBase = repo.UpstreamBase()
	}

	iter, err := repo.Log(&LogOptions{FirstParent: true})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var (
		commits    []*Commit
		baseCommit *Commit
		truncated  bool
	)

	release := func() {
		for _, commit := range commits {
			commit.Free()
		}
	}

	for baseCommit == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			release()

			return nil, fmt.Errorf("load stack: %w", ctxErr)
		}

		commit, nextErr := iter.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}

		if nextErr != nil {
			release()

			return nil, nextErr
		}

		isBase := hasBase && commit.Hash() == base

		switch {
		case !isBase && len(commits) == 0 && commit.NumParents() > 1:
			head := commit.Hash()
			commit.Free()

			return nil, fmt.Errorf("%w: %s", ErrMergeHead, head.Short())
		case isBase || commit.NumParents() != 1:
			baseCommit = commit
		case opts.Limit > 0 && len(commits) == opts.Limit:
			baseCommit = commit
			truncated = true
		default:
			commits = append(commits, commit)
		}
	}

	if baseCommit == nil || len(commits) == 0 {
		release()

		if baseCommit != nil {
			baseCommit.Free()
		}

		return nil, stack.ErrEmptyStack
	}

	slices.Reverse(commits)

	result := &Stack{Base: newStackCommit(baseCommit, nil), Truncated: truncated}
	parent := result.Base

	for _, commit := range commits {
		current := newStackCommit(commit, parent)
		result.Commits = append(result.Commits, current)
		parent = current
	}

	return result, nil
}

// StackCommit is a commit seen as a stack revision. Tree contents, changed
// paths and renames are loaded on first use.
type StackCommit struct {
	commit *Commit
	parent *StackCommit

	mu      sync.Mutex
	loaded  bool
	loadErr error
	tree    *Tree
	entries map[string]*TreeEntry
	files   map[string]stack.File
	changes Changes
	diffed  bool
	renames map[string]string
}

func newStackCommit(commit *Commit, parent *StackCommit) *StackCommit {
	return &StackCommit{commit: commit, parent: parent, files: make(map[string]stack.File)}
}

// ID implements stack.Revision.
func (c *StackCommit) ID() string {
	return c.commit.Hash().String()
}

// Description implements stack.Revision.
func (c *StackCommit) Description() string {
	return c.commit.Message()
}

// Err returns the first error met while reading the commit, if any.
// Lookups that fail report missing files.
func (c *StackCommit) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadTree()

	return c.loadErr
}

func (c *StackCommit) loadTree() {
	if c.loaded {
		return
	}

	c.loaded = true

	tree, err := c.commit.Tree()
	if err != nil {
		c.loadErr = err

		return
	}

	entries, err := tree.Blobs()
	if err != nil {
		c.loadErr = err
	}

	c.tree = tree
	c.entries = entries
}

// Paths implements stack.Revision.
func (c *StackCommit) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadTree()

	return slices.Sorted(maps.Keys(c.entries))
}

// File implements stack.Snapshot.
func (c *StackCommit) File(path string) (stack.File, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f, ok := c.files[path]; ok {
		return f, true
	}

	c.loadTree()

	entry, ok := c.entries[path]
	if !ok {
		return stack.File{}, false
	}

	blob, err := c.commit.repo.LookupBlob(context.Background(), entry.Hash())
	if err != nil {
		c.loadErr = errors.Join(c.loadErr, err)

		return stack.File{}, false
	}
	defer blob.Free()

	f := stack.File{Content: blob.Contents(), Mode: modeOf(entry.Filemode())}
	c.files[path] = f

	return f, true
}

func (c *StackCommit) loadChanges() {
	if c.diffed {
		return
	}

	c.diffed = true
	c.loadTree()

	if c.tree == nil {
		return
	}

	var parentTree *Tree

	if c.parent != nil {
		c.parent.mu.Lock()
		c.parent.loadTree()
		parentTree = c.parent.tree
		c.parent.mu.Unlock()
	}

	changes, err := TreeDiff(c.commit.repo, parentTree, c.tree)
	if err != nil {
		c.loadErr = errors.Join(c.loadErr, err)

		return
	}

	c.changes = changes
	c.renames = make(map[string]string)

	for _, change := range changes {
		if change.Action == Rename {
			c.renames[change.To] = change.From
		}
	}
}

// ChangedFiles implements stack.Revision.
func (c *StackCommit) ChangedFiles() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadChanges()

	return c.changes.Paths()
}

// CopySource implements stack.Revision. Only renames are reported.
func (c *StackCommit) CopySource(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadChanges()

	source, ok := c.renames[path]

	return source, ok
}

// Free releases the commit and its tree.
func (c *StackCommit) Free() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tree != nil {
		c.tree.Free()
		c.tree = nil
	}

	c.commit.Free()
}

func modeOf(mode git2go.Filemode) stack.Mode {
	switch mode {
	case git2go.FilemodeBlobExecutable:
		return stack.ModeExecutable
	case git2go.FilemodeLink:
		return stack.ModeSymlink
	default:
		return stack.ModeRegular
	}
}

func filemodeOf(mode stack.Mode) git2go.Filemode {
	switch mode {
	case stack.ModeExecutable:
		return git2go.FilemodeBlobExecutable
	case stack.ModeSymlink:
		return git2go.FilemodeLink
	default:
		return git2go.FilemodeBlob
	}
}
