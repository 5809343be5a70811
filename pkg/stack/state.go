package stack

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"slices"
	"sort"

	"github.com/src-d/enry/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/absorb/pkg/fixup"
	"github.com/Sumatoshi-tech/absorb/pkg/textdiff"
)

// SkipReason explains why a modified path was not absorbed.
type SkipReason string

// Skip reasons.
const (
	SkipSymlink   SkipReason = "symlink"
	SkipBinary    SkipReason = "binary"
	SkipTooLarge  SkipReason = "too large"
	SkipUnchanged SkipReason = "unchanged"
)

// Skipped is a modified path left out of absorption.
type Skipped struct {
	Path   string
	Reason SkipReason
	// Size is the size in bytes of the version over the limit, for SkipTooLarge.
	Size int64
}

// State absorbs the difference between the top of a stack and a target
// snapshot into the stack revisions.
type State struct {
	base Revision
	revs []Revision

	logger      *slog.Logger
	reporter    fixup.Reporter
	differ      *textdiff.Differ
	filter      PathFilter
	workers     int
	skipEmpty   bool
	maxFileSize int64

	identities map[fileID]fileID
	chains     map[string]*chain
	files      map[string]*fixup.FileState
	paths      []string
	skipped    []Skipped
	diffed     bool
	applied    bool
}

// Option configures a State.
type Option func(*State)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *State) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReporter receives the chunk events of every path, in path order.
func WithReporter(reporter fixup.Reporter) Option {
	return func(s *State) {
		s.reporter = reporter
	}
}

// WithDiffer sets the differ used by every file state.
func WithDiffer(differ *textdiff.Differ) Option {
	return func(s *State) {
		s.differ = differ
	}
}

// WithPathFilter restricts absorption to the paths accepted by filter.
func WithPathFilter(filter PathFilter) Option {
	return func(s *State) {
		s.filter = filter
	}
}

// WithWorkers bounds the number of paths processed concurrently.
// Zero or less means runtime.NumCPU().
func WithWorkers(workers int) Option {
	return func(s *State) {
		s.workers = workers
	}
}

// WithSkipEmpty drops revisions whose changes are fully reverted by absorption.
func WithSkipEmpty(skip bool) Option {
	return func(s *State) {
		s.skipEmpty = skip
	}
}

// WithMaxFileSize skips paths where any version exceeds size bytes. Zero disables the check.
func WithMaxFileSize(size int64) Option {
	return func(s *State) {
		s.maxFileSize = size
	}
}

// New creates a State for the linear stack revs on top of base, oldest first.
func New(base Revision, revs []Revision, opts ...Option) (*State, error) {
	if len(revs) == 0 {
		return nil, ErrEmptyStack
	}

	s := &State{
		base:       base,
		revs:       revs,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		skipEmpty:  true,
		identities: make(map[fileID]fileID),
		chains:     make(map[string]*chain),
		files:      make(map[string]*fixup.FileState),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.workers <= 0 {
		s.workers = runtime.NumCPU()
	}

	return s, nil
}

// Base returns the immutable parent of the stack.
func (s *State) Base() Revision {
	return s.base
}

// Revisions returns the stack, oldest first.
func (s *State) Revisions() []Revision {
	return s.revs
}

// readErr reports read failures of the base, the stack and extra snapshots.
func (s *State) readErr(extra ...Snapshot) error {
	snapshots := make([]Snapshot, 0, len(s.revs)+1+len(extra))
	snapshots = append(snapshots, s.base)

	for _, rev := range s.revs {
		snapshots = append(snapshots, rev)
	}

	if err := readErr(append(snapshots, extra...)...); err != nil {
		return fmt.Errorf("read stack: %w", err)
	}

	return nil
}

// modifiedPaths lists the paths of the stack top whose content or mode differs in target.
func (s *State) modifiedPaths(target Snapshot) []string {
	top := s.revs[len(s.revs)-1]

	var paths []string

	for _, path := range top.Paths() {
		if s.filter != nil && !s.filter(path) {
			continue
		}

		current, _ := top.File(path)

		wanted, ok := target.File(path)
		if !ok || wanted.Equal(current) {
			continue
		}

		paths = append(paths, path)
	}

	sort.Strings(paths)

	return paths
}

func (s *State) skipReason(path string, target File, c *chain) (Skipped, bool) {
	files := append([]File{target}, c.files...)

	for i, f := range files {
		// The synthetic empty file carries no content to check.
		if i > 0 && c.ids[i-1].index == emptyIndex {
			continue
		}

		switch {
		case f.Mode == ModeSymlink:
			return Skipped{Path: path, Reason: SkipSymlink}, true
		case s.maxFileSize > 0 && int64(len(f.Content)) > s.maxFileSize:
			return Skipped{Path: path, Reason: SkipTooLarge, Size: int64(len(f.Content))}, true
		case enry.IsBinary(f.Content):
			return Skipped{Path: path, Reason: SkipBinary}, true
		}
	}

	if bytes.Equal(target.Content, c.files[len(c.files)-1].Content) {
		return Skipped{Path: path, Reason: SkipUnchanged}, true
	}

	return Skipped{}, false
}

// DiffWith computes fixups for every path modified between the stack top and
// target. Chains are built in sorted path order so that a file version shared
// by several paths is only absorbed into by the first of them. File states
// run on a worker pool; reporter events are replayed in path order.
func (s *State) DiffWith(ctx context.Context, target Snapshot) error {
	if s.diffed {
		panic("stack: DiffWith called twice")
	}

	s.diffed = true
	seen := make(map[fileID]bool)

	type job struct {
		path   string
		chain  *chain
		target []byte
		state  *fixup.FileState
		events []fixup.ChunkEvent
	}

	var jobs []*job

	for _, path := range s.modifiedPaths(target) {
		s.logger.Debug("calculating fixups", "path", path)

		wanted, _ := target.File(path)
		c := s.buildChain(path, seen)

		if skipped, skip := s.skipReason(path, wanted, c); skip {
			s.logger.Debug("skipping path", "path", path, "reason", string(skipped.Reason))
			s.skipped = append(s.skipped, skipped)

			continue
		}

		for _, id := range c.ids[1:] {
			seen[id] = true
		}

		s.chains[path] = c
		jobs = append(jobs, &job{path: path, chain: c, target: wanted.Content})
	}

	if err := s.readErr(target); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, j := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			opts := []fixup.Option{fixup.WithLogger(s.logger), fixup.WithDiffer(s.differ)}
			if s.reporter != nil {
				opts = append(opts, fixup.WithReporter(fixup.ReporterFunc(func(event fixup.ChunkEvent) {
					j.events = append(j.events, event)
				})))
			}

			state, err := fixup.NewFileState(j.path, j.chain.entries(), opts...)
			if err != nil {
				return fmt.Errorf("diff %s: %w", j.path, err)
			}

			state.DiffWith(j.target)
			j.state = state

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("calculate fixups: %w", err)
	}

	for _, j := range jobs {
		s.files[j.path] = j.state
		s.paths = append(s.paths, j.path)

		if s.reporter != nil {
			for _, event := range j.events {
				s.reporter.ReportChunk(event)
			}
		}
	}

	return nil
}

// Paths returns the absorbed paths in sorted order.
func (s *State) Paths() []string {
	return s.paths
}

// Skipped returns the modified paths that were left out.
func (s *State) Skipped() []Skipped {
	return s.skipped
}

// FileState returns the file state of an absorbed path.
func (s *State) FileState(path string) (*fixup.FileState, bool) {
	state, ok := s.files[path]

	return state, ok
}

// ChunkStats sums the chunk statistics of every path.
func (s *State) ChunkStats() fixup.ChunkStats {
	var total fixup.ChunkStats

	for _, path := range s.paths {
		total = total.Add(s.files[path].ChunkStats())
	}

	return total
}

// Affected returns the revisions that receive at least one fixup, oldest first.
func (s *State) Affected() []Revision {
	var indexes []int

	for _, path := range s.paths {
		c := s.chains[path]

		for _, pos := range s.files[path].Affected() {
			if index, ok := c.introducer(pos); ok {
				indexes = append(indexes, index)
			}
		}
	}

	slices.Sort(indexes)
	indexes = slices.Compact(indexes)

	revs := make([]Revision, len(indexes))
	for i, index := range indexes {
		revs[i] = s.revs[index]
	}

	return revs
}

// RevisionAt returns the stack revision that introduced the file version at
// chain position pos of path. It reports false for the base, the empty file
// and unknown paths.
func (s *State) RevisionAt(path string, pos int) (Revision, bool) {
	c, ok := s.chains[path]
	if !ok || pos < 0 || pos >= len(c.ids) {
		return nil, false
	}

	index, ok := c.introducer(pos)
	if !ok {
		return nil, false
	}

	return s.revs[index], true
}

// Apply writes the fixups of every path.
func (s *State) Apply() error {
	if !s.diffed {
		return ErrNotDiffed
	}

	if s.applied {
		return nil
	}

	for _, path := range s.paths {
		s.files[path].Apply()
	}

	s.applied = true

	return nil
}

// Overrides returns the new content of every file that changes in the
// revision at stack index, keyed by its path in that revision.
func (s *State) Overrides(index int) map[string][]byte {
	if !s.applied {
		panic("stack: Overrides called before Apply")
	}

	result := make(map[string][]byte)

	for _, path := range s.paths {
		ref, ok := s.chains[path].refs[index]
		if !ok {
			continue
		}

		state := s.files[path]
		if state.Changed(ref.position) {
			result[ref.path] = state.FinalContent(ref.position)
		}
	}

	return result
}
