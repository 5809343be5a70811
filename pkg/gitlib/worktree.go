package gitlib

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	git2go "github.com/libgit2/git2go/v34"

	"github.com/Sumatoshi-tech/absorb/pkg/stack"
)

// Worktree is the working directory of a repository seen as a snapshot.
type Worktree struct {
	root   string
	gitDir string

	mu  sync.Mutex
	err error
}

// NewWorktree returns the working directory snapshot of repo.
func NewWorktree(repo *Repository) (*Worktree, error) {
	root, err := repo.Workdir()
	if err != nil {
		return nil, err
	}

	return &Worktree{root: root, gitDir: repo.repo.Path()}, nil
}

// Err returns the read failures met so far. It implements stack.ReadErrorer.
func (w *Worktree) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.err
}

func (w *Worktree) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.err = errors.Join(w.err, err)
}

// File implements stack.Snapshot. Symlinks are not followed; their content
// is the link target. Content holding carriage returns goes through the clean
// filters of the repository. Missing paths and directories report false.
func (w *Worktree) File(path string) (stack.File, bool) {
	full := filepath.Join(w.root, filepath.FromSlash(path))

	info, err := os.Lstat(full)
	if err != nil {
		return stack.File{}, false
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, linkErr := os.Readlink(full)
		if linkErr != nil {
			w.fail(fmt.Errorf("read link %s: %w", path, linkErr))

			return stack.File{}, false
		}

		return stack.File{Content: []byte(filepath.ToSlash(target)), Mode: stack.ModeSymlink}, true
	case info.Mode().IsRegular():
		content, readErr := os.ReadFile(full)
		if readErr == nil && bytes.IndexByte(content, '\r') >= 0 {
			content, readErr = w.clean(path)
		}

		if readErr != nil {
			w.fail(readErr)

			return stack.File{}, false
		}

		mode := stack.ModeRegular
		if info.Mode()&0o100 != 0 {
			mode = stack.ModeExecutable
		}

		return stack.File{Content: content, Mode: mode}, true
	default:
		return stack.File{}, false
	}
}

// clean returns the blob content git add would store for path. It stages
// path in a private copy of the index that is never written back.
func (w *Worktree) clean(path string) ([]byte, error) {
	repo, err := git2go.OpenRepository(w.gitDir)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	defer repo.Free()

	index, err := repo.Index()
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer index.Free()

	err = index.AddByPath(path)
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", path, err)
	}

	entry, err := index.EntryByPath(path, 0)
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", path, err)
	}

	blob, err := repo.LookupBlob(entry.Id)
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", path, err)
	}
	defer blob.Free()

	return bytes.Clone(blob.Contents()), nil
}
