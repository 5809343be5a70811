package gitlib

import (
	"context"
	"errors"
	"fmt"

	git2go "github.com/libgit2/git2go/v34"
)

// ErrBareRepository is returned when a working directory is required.
var ErrBareRepository = errors.New("repository has no working directory")

// Repository wraps a libgit2 repository.
type Repository struct {
	repo *git2go.Repository
	path string
}

// OpenRepository opens a git repository at the given path.
func OpenRepository(path string) (*Repository, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	return &Repository{repo: repo, path: path}, nil
}

// Path returns the repository path.
func (r *Repository) Path() string {
	return r.path
}

// Workdir returns the working directory, or ErrBareRepository.
func (r *Repository) Workdir() (string, error) {
	if r.repo.IsBare() {
		return "", ErrBareRepository
	}

	return r.repo.Workdir(), nil
}

// Free releases the repository resources.
func (r *Repository) Free() {
	if r.repo != nil {
		r.repo.Free()
		r.repo = nil
	}
}

// Head returns the HEAD reference target.
func (r *Repository) Head() (Hash, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return Hash{}, fmt.Errorf("get HEAD: %w", err)
	}
	defer ref.Free()

	return HashFromOid(ref.Target()), nil
}

// Resolve turns a revision expression such as "HEAD~3" or a branch name into
// a commit hash.
func (r *Repository) Resolve(expr string) (Hash, error) {
	obj, err := r.repo.RevparseSingle(expr)
	if err != nil {
		return Hash{}, fmt.Errorf("resolve %q: %w", expr, err)
	}
	defer obj.Free()

	commit, err := obj.Peel(git2go.ObjectCommit)
	if err != nil {
		return Hash{}, fmt.Errorf("resolve %q: %w", expr, err)
	}
	defer commit.Free()

	return HashFromOid(commit.Id()), nil
}

// UpstreamBase returns the merge base of HEAD and the upstream of the
// current branch. It reports false when HEAD is detached or has no upstream.
func (r *Repository) UpstreamBase() (Hash, bool) {
	head, err := r.repo.Head()
	if err != nil {
		return Hash{}, false
	}
	defer head.Free()

	if !head.IsBranch() {
		return Hash{}, false
	}

	upstream, err := head.Branch().Upstream()
	if err != nil {
		return Hash{}, false
	}
	defer upstream.Free()

	base, err := r.repo.MergeBase(head.Target(), upstream.Target())
	if err != nil {
		return Hash{}, false
	}

	return HashFromOid(base), true
}

// LookupCommit returns the commit with the given hash.
func (r *Repository) LookupCommit(_ context.Context, hash Hash) (*Commit, error) {
	commit, err := r.repo.LookupCommit(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup commit: %w", err)
	}

	return &Commit{commit: commit, repo: r}, nil
}

// LookupBlob returns the blob with the given hash.
func (r *Repository) LookupBlob(_ context.Context, hash Hash) (*Blob, error) {
	blob, err := r.repo.LookupBlob(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup blob: %w", err)
	}

	return &Blob{blob: blob}, nil
}

// LookupTree returns the tree with the given hash.
func (r *Repository) LookupTree(hash Hash) (*Tree, error) {
	tree, err := r.repo.LookupTree(hash.ToOid())
	if err != nil {
		return nil, fmt.Errorf("lookup tree: %w", err)
	}

	return &Tree{tree: tree, repo: r}, nil
}

// CreateBlob writes content to the object database.
func (r *Repository) CreateBlob(content []byte) (Hash, error) {
	oid, err := r.repo.CreateBlobFromBuffer(content)
	if err != nil {
		return Hash{}, fmt.Errorf("create blob: %w", err)
	}

	return HashFromOid(oid), nil
}

// DefaultSignature returns the configured user with the current time.
func (r *Repository) DefaultSignature() (Signature, error) {
	sig, err := r.repo.DefaultSignature()
	if err != nil {
		return Signature{}, fmt.Errorf("default signature: %w", err)
	}

	return signatureFrom(sig), nil
}

// LogOptions configures the commit log iteration.
type LogOptions struct {
	FirstParent bool // Follow only first parent (git log --first-parent).
}

// Log returns a commit iterator starting from HEAD.
func (r *Repository) Log(opts *LogOptions) (*CommitIter, error) {
	walk, err := r.repo.Walk()
	if err != nil {
		return nil, fmt.Errorf("create revwalk: %w", err)
	}

	walk.Sorting(git2go.SortTopological)

	headRef, err := r.repo.Head()
	if err != nil {
		walk.Free()

		return nil, fmt.Errorf("get HEAD: %w", err)
	}
	defer headRef.Free()

	err = walk.Push(headRef.Target())
	if err != nil {
		walk.Free()

		return nil, fmt.Errorf("push HEAD to revwalk: %w", err)
	}

	if opts != nil && opts.FirstParent {
		walk.SimplifyFirstParent()
	}

	return &CommitIter{walk: walk, repo: r}, nil
}

// DiffTreeToTree computes the diff between two trees. A nil tree stands for
// the empty tree.
func (r *Repository) DiffTreeToTree(oldTree, newTree *Tree) (*Diff, error) {
	opts, err := git2go.DefaultDiffOptions()
	if err != nil {
		return nil, fmt.Errorf("get diff options: %w", err)
	}

	var oldT, newT *git2go.Tree
	if oldTree != nil {
		oldT = oldTree.tree
	}

	if newTree != nil {
		newT = newTree.tree
	}

	diff, err := r.repo.DiffTreeToTree(oldT, newT, &opts)
	if err != nil {
		return nil, fmt.Errorf("diff trees: %w", err)
	}

	return &Diff{diff: diff}, nil
}

// Native returns the underlying libgit2 repository for advanced operations.
func (r *Repository) Native() *git2go.Repository {
	return r.repo
}
