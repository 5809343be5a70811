package gitlib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	git2go "github.com/libgit2/git2go/v34"

	"github.com/Sumatoshi-tech/absorb/pkg/safeconv"
	"github.com/Sumatoshi-tech/absorb/pkg/stack"
)

// ProvenanceTrailer is the trailer key naming the commit a rewrite replaces.
const ProvenanceTrailer = "Absorbed-From"

var (
	// ErrForeignRevision is returned when a revision was not loaded from the
	// rewriter's repository.
	ErrForeignRevision = errors.New("revision does not belong to this repository")
	// ErrMissingPath is returned when an override names a path the revision lacks.
	ErrMissingPath = errors.New("path not in revision")
)

// Rewriter creates replacement commits in a repository. It implements
// stack.Rewriter.
type Rewriter struct {
	repo       *Repository
	logger     *slog.Logger
	provenance bool
	now        func() time.Time
}

// RewriterOption configures a Rewriter.
type RewriterOption func(*Rewriter)

// WithProvenance appends an "Absorbed-From: <old id>" trailer to rewritten messages.
func WithProvenance(enabled bool) RewriterOption {
	return func(w *Rewriter) {
		w.provenance = enabled
	}
}

// WithRewriterLogger sets the logger.
func WithRewriterLogger(logger *slog.Logger) RewriterOption {
	return func(w *Rewriter) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewRewriter creates a Rewriter for repo.
func NewRewriter(repo *Repository, opts ...RewriterOption) *Rewriter {
	w := &Rewriter{
		repo:   repo,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Rewrite creates a commit on parentID with the tree of rev and the
// overridden file contents. Author and message are kept; the committer is
// the configured user, or the original committer when none is configured.
func (w *Rewriter) Rewrite(_ context.Context, rev stack.Revision, parentID string, overrides map[string][]byte) (string, error) {
	original, ok := rev.(*StackCommit)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrForeignRevision, rev.ID())
	}

	parentHash, err := ParseHash(parentID)
	if err != nil {
		return "", err
	}

	parent, err := w.repo.repo.LookupCommit(parentHash.ToOid())
	if err != nil {
		return "", fmt.Errorf("lookup parent: %w", err)
	}
	defer parent.Free()

	tree, err := w.writeTree(original, overrides)
	if err != nil {
		return "", err
	}
	defer tree.Free()

	author := original.commit.Author()

	committer, err := w.repo.DefaultSignature()
	if err != nil {
		committer = original.commit.Committer()
		committer.When = w.now()
	}

	message := original.Description()
	if w.provenance {
		message = AddTrailer(message, ProvenanceTrailer, rev.ID())
	}

	oid, err := w.repo.repo.CreateCommit("", author.native(), committer.native(), message, tree.tree, parent)
	if err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}

	w.logger.Debug("created commit", "replaces", rev.ID(), "commit", HashFromOid(oid).String())

	return HashFromOid(oid).String(), nil
}

// writeTree overlays overrides onto the tree of rev in an in-memory index.
func (w *Rewriter) writeTree(rev *StackCommit, overrides map[string][]byte) (*Tree, error) {
	original, err := rev.commit.Tree()
	if err != nil {
		return nil, err
	}
	defer original.Free()

	index, err := git2go.NewIndex()
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	defer index.Free()

	err = index.ReadTree(original.tree)
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}

	for _, path := range slices.Sorted(maps.Keys(overrides)) {
		content := overrides[path]

		f, found := rev.File(path)
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrMissingPath, path)
		}

		blob, blobErr := w.repo.CreateBlob(content)
		if blobErr != nil {
			return nil, blobErr
		}

		addErr := index.Add(&git2go.IndexEntry{
			Path: path,
			Mode: filemodeOf(f.Mode),
			Id:   blob.ToOid(),
			Size: safeconv.MustIntToUint32(len(content)),
		})
		if addErr != nil {
			return nil, fmt.Errorf("stage %s: %w", path, addErr)
		}
	}

	treeID, err := index.WriteTreeTo(w.repo.repo)
	if err != nil {
		return nil, fmt.Errorf("write tree: %w", err)
	}

	return w.repo.LookupTree(HashFromOid(treeID))
}

// MoveHead points the current branch, or a detached HEAD, at id and resets
// the index to its tree. The working directory is left untouched.
func (w *Rewriter) MoveHead(_ context.Context, id string) error {
	hash, err := ParseHash(id)
	if err != nil {
		return err
	}

	commit, err := w.repo.repo.LookupCommit(hash.ToOid())
	if err != nil {
		return fmt.Errorf("lookup commit: %w", err)
	}
	defer commit.Free()

	err = w.repo.repo.ResetToCommit(commit, git2go.ResetMixed, &git2go.CheckoutOptions{})
	if err != nil {
		return fmt.Errorf("move HEAD: %w", err)
	}

	return nil
}

// CheckoutPaths overwrites paths in the working directory and the index with
// their content at HEAD.
func (w *Rewriter) CheckoutPaths(_ context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	err := w.repo.repo.CheckoutHead(&git2go.CheckoutOptions{
		Strategy: git2go.CheckoutForce | git2go.CheckoutDisablePathspecMatch,
		Paths:    paths,
	})
	if err != nil {
		return fmt.Errorf("checkout %s: %w", strings.Join(paths, ", "), err)
	}

	w.logger.Debug("checked out paths", "paths", paths)

	return nil
}

// AddTrailer appends "key: value" to the trailer block of message, starting
// a new block when the last paragraph is not one.
func AddTrailer(message, key, value string) string {
	body := strings.TrimRight(message, "\n")
	trailer := key + ": " + value

	if body == "" {
		return trailer + "\n"
	}

	paragraphs := strings.Split(body, "\n\n")
	last := paragraphs[len(paragraphs)-1]

	if len(paragraphs) > 1 && isTrailerBlock(last) {
		return body + "\n" + trailer + "\n"
	}

	return body + "\n\n" + trailer + "\n"
}

func isTrailerBlock(paragraph string) bool {
	for line := range strings.SplitSeq(paragraph, "\n") {
		key, _, found := strings.Cut(line, ": ")
		if !found || key == "" || strings.ContainsAny(key, " \t") {
			return false
		}
	}

	return true
}
