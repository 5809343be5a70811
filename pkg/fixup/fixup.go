// Package fixup attributes edits of a file to the revisions that introduced
// the edited lines and rewrites those revisions to absorb the edits.
//
// A FileState is built from a chain of contents, oldest first. Position 0 is
// the immutable base; the other positions are candidates for absorption.
// Every position owns two linelog revisions, see Revision.
package fixup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/absorb/pkg/linelog"
	"github.com/Sumatoshi-tech/absorb/pkg/textdiff"
)

var (
	// ErrEmptyChain is returned when a file state is built without any content.
	ErrEmptyChain = errors.New("fixup: empty chain")
	// ErrMutableBase is returned when the first chain entry is not immutable.
	ErrMutableBase = errors.New("fixup: chain base must be immutable")
)

// Entry is one position of a file chain.
type Entry struct {
	Content   []byte
	Immutable bool
}

// Fixup splices lines [B1, B2) of the target into lines [A1, A2) of the view
// annotated at the top of the chain, as part of revision Rev.
type Fixup struct {
	Rev    Revision
	A1, A2 int
	B1, B2 int
}

func (f Fixup) String() string {
	return fmt.Sprintf("%s [%d,%d)->[%d,%d)", f.Rev, f.A1, f.A2, f.B1, f.B2)
}

// ChunkStats counts the diff chunks that produced at least one fixup against
// all chunks examined.
type ChunkStats struct {
	Adopted int `json:"adopted" yaml:"adopted"`
	Total   int `json:"total"   yaml:"total"`
}

// Add returns the sum of two stats.
func (s ChunkStats) Add(other ChunkStats) ChunkStats {
	return ChunkStats{Adopted: s.Adopted + other.Adopted, Total: s.Total + other.Total}
}

// Complete reports whether every chunk was adopted.
func (s ChunkStats) Complete() bool {
	return s.Adopted == s.Total
}

// FileState is the absorption engine of one file. It is used once:
// DiffWith, then Apply, then FinalContent.
type FileState struct {
	path         string
	chain        []Entry
	contentLines [][]string
	log          *linelog.Linelog
	differ       *textdiff.Differ
	logger       *slog.Logger
	reporter     Reporter

	targetLines   []string
	fixups        []Fixup
	stats         ChunkStats
	finalContents [][]byte
	diffed        bool
}

// Option configures a FileState.
type Option func(*FileState)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *FileState) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReporter attaches a reporter that receives one event per diff chunk.
func WithReporter(reporter Reporter) Option {
	return func(s *FileState) {
		s.reporter = reporter
	}
}

// WithDiffer replaces the default unbounded differ.
func WithDiffer(differ *textdiff.Differ) Option {
	return func(s *FileState) {
		if differ != nil {
			s.differ = differ
		}
	}
}

// NewFileState builds the linelog of chain. The first entry must be immutable.
func NewFileState(path string, chain []Entry, opts ...Option) (*FileState, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyChain, path)
	}

	if !chain[0].Immutable {
		return nil, fmt.Errorf("%w: %s", ErrMutableBase, path)
	}

	s := &FileState{
		path:   path,
		chain:  chain,
		log:    linelog.New(),
		differ: textdiff.NewDiffer(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.contentLines = make([][]string, len(chain))
	for i, entry := range chain {
		s.contentLines[i] = textdiff.SplitLines(entry.Content)
	}

	s.buildLinelog()

	return s, nil
}

func (s *FileState) buildLinelog() {
	var prev []string

	for i, lines := range s.contentLines {
		rev := Original(i).Linelog()
		chunks := s.differ.Chunks(prev, lines)

		for _, chunk := range slices.Backward(chunks) {
			s.log.ReplaceLines(rev, chunk.A1, chunk.A2, chunk.B1, chunk.B2)
		}

		prev = lines
	}
}

// Path returns the path the state was built for.
func (s *FileState) Path() string {
	return s.path
}

// Len returns the number of chain positions.
func (s *FileState) Len() int {
	return len(s.chain)
}

// Content returns the original content of position pos.
func (s *FileState) Content(pos int) []byte {
	return s.chain[pos].Content
}

// Fixups returns the fixups computed by DiffWith.
func (s *FileState) Fixups() []Fixup {
	return s.fixups
}

// ChunkStats returns the adoption counters computed by DiffWith.
func (s *FileState) ChunkStats() ChunkStats {
	return s.stats
}

// Affected returns the positions that received at least one fixup, ascending.
func (s *FileState) Affected() []int {
	var positions []int

	for _, f := range s.fixups {
		positions = append(positions, f.Rev.Position)
	}

	slices.Sort(positions)

	return slices.Compact(positions)
}

// Checkout materializes the content of a linelog revision.
func (s *FileState) Checkout(rev Revision) []byte {
	var sb strings.Builder

	for _, line := range s.log.Annotate(rev.Linelog()) {
		sb.WriteString(s.line(line))
	}

	return []byte(sb.String())
}

// line resolves a line reference to its text: original revisions read the
// chain content, fixup revisions read the target.
func (s *FileState) line(ref linelog.Line) string {
	rev := RevisionOf(ref.Rev)
	if rev.Kind == KindFixup {
		return s.targetLines[ref.Index]
	}

	return s.contentLines[rev.Position][ref.Index]
}

// eligible reports whether edits may be absorbed into the original revision rev.
func (s *FileState) eligible(rev uint32) bool {
	r := RevisionOf(rev)

	return r.Kind == KindOriginal && !r.IsBase() && r.Position < len(s.chain) && !s.chain[r.Position].Immutable
}

// DiffWith computes the fixups that turn the top of the chain into target.
// It panics when called twice.
func (s *FileState) DiffWith(target []byte) {
	if s.diffed {
		panic(fmt.Sprintf("fixup: DiffWith called twice for %s", s.path))
	}

	s.diffed = true
	s.targetLines = textdiff.SplitLines(target)

	aLines := s.contentLines[len(s.contentLines)-1]
	annotated := s.log.Annotate(s.log.MaxRev())

	if len(annotated) != len(aLines) {
		panic(fmt.Sprintf("fixup: %s: annotated %d lines, chain top has %d", s.path, len(annotated), len(aLines)))
	}

	// A dummy end line keeps annotated[a2] valid for insertions at the end.
	if len(annotated) > 0 {
		last := annotated[len(annotated)-1]
		annotated = append(annotated, linelog.Line{Rev: last.Rev, Index: last.Index + 1})
	}

	for _, chunk := range s.differ.Chunks(aLines, s.targetLines) {
		fixups := s.analyseChunk(chunk, annotated)

		if len(fixups) > 0 {
			s.stats.Adopted++
		}

		s.stats.Total++
		s.fixups = append(s.fixups, fixups...)

		if s.reporter != nil {
			s.reporter.ReportChunk(s.chunkEvent(chunk, fixups, aLines))
		}
	}

	s.logger.Debug("file diffed",
		"path", s.path,
		"chunks", s.stats.Total,
		"adopted", s.stats.Adopted,
		"fixups", len(s.fixups))
}

func (s *FileState) analyseChunk(chunk textdiff.Chunk, annotated []linelog.Line) []Fixup {
	a1, a2, b1, b2 := chunk.A1, chunk.A2, chunk.B1, chunk.B2

	involved := annotated[a1:a2]

	// Pure insertion: the neighbours decide, base lines excluded.
	if len(involved) == 0 && len(annotated) > 0 {
		involved = nil

		for _, i := range uniqueInts(a2, max(0, a1-1)) {
			if RevisionOf(annotated[i].Rev).IsBase() {
				continue
			}

			involved = append(involved, annotated[i])
		}
	}

	var revs []uint32

	for _, line := range involved {
		if !slices.Contains(revs, line.Rev) {
			revs = append(revs, line.Rev)
		}
	}

	var fixups []Fixup

	switch {
	case len(revs) == 1 && s.isContinuous(a1, a2-1, true):
		if s.eligible(revs[0]) {
			fixups = append(fixups, Fixup{Rev: RevisionOf(revs[0]).Fixed(), A1: a1, A2: a2, B1: b1, B2: b2})
		}
	case a2-a1 == b2-b1 || chunk.IsDeletion():
		for i := a1; i < a2; i++ {
			rev := annotated[i].Rev
			if !s.eligible(rev) {
				continue
			}

			f := Fixup{Rev: RevisionOf(rev).Fixed(), A1: i, A2: i + 1}
			if !chunk.IsDeletion() {
				f.B1 = b1 + i - a1
				f.B2 = f.B1 + 1
			}

			fixups = append(fixups, f)
		}
	}

	return s.coalesce(fixups)
}

func uniqueInts(a, b int) []int {
	if a == b {
		return []int{a}
	}

	return []int{a, b}
}

// coalesce merges adjacent fixups of the same revision when no foreign line
// sits between them.
func (s *FileState) coalesce(fixups []Fixup) []Fixup {
	var result []Fixup

	for _, f := range fixups {
		if n := len(result); n > 0 {
			last := &result[n-1]
			if f.Rev == last.Rev && f.A1 == last.A2 && f.B1 == last.B2 && s.isContinuous(max(f.A1-1, 0), f.A1, false) {
				last.A2 = f.A2
				last.B2 = f.B2

				continue
			}
		}

		result = append(result, f)
	}

	return result
}

// isContinuous reports whether lines a1 to a2 of the current view are
// adjacent in the linelog program, with no lines of other edits between
// them. closed includes a2 in the range.
func (s *FileState) isContinuous(a1, a2 int, closed bool) bool {
	if a1 >= a2 {
		return true
	}

	extra := 0
	if closed {
		extra = 1
	}

	start := s.log.GetOffset(a1)
	end := s.log.GetOffset(a2) + extra

	return len(s.log.GetAllLines(start, end)) == a2-a1+extra
}

// Apply writes the fixups into the linelog and materializes the final content
// of every position. Checkout calls between DiffWith and Apply are allowed.
// It panics when DiffWith was not called.
func (s *FileState) Apply() {
	if !s.diffed {
		panic(fmt.Sprintf("fixup: Apply called before DiffWith for %s", s.path))
	}

	if s.finalContents != nil {
		panic(fmt.Sprintf("fixup: Apply called twice for %s", s.path))
	}

	// Fixup offsets refer to the view DiffWith annotated.
	s.log.Annotate(s.log.MaxRev())

	for _, f := range slices.Backward(s.fixups) {
		s.logger.Debug("replace lines",
			"path", s.path,
			"rev", f.Rev.String(),
			"a1", f.A1, "a2", f.A2, "b1", f.B1, "b2", f.B2)
		s.log.ReplaceLines(f.Rev.Linelog(), f.A1, f.A2, f.B1, f.B2)
	}

	s.finalContents = make([][]byte, len(s.chain))
	for i := range s.chain {
		s.finalContents[i] = s.Checkout(Fixed(i))
	}
}

// FinalContent returns the content of position pos after Apply. It panics
// when Apply was not called.
func (s *FileState) FinalContent(pos int) []byte {
	if s.finalContents == nil {
		panic(fmt.Sprintf("fixup: FinalContent called before Apply for %s", s.path))
	}

	return s.finalContents[pos]
}

// Changed reports whether Apply changed the content of position pos.
func (s *FileState) Changed(pos int) bool {
	return !bytes.Equal(s.FinalContent(pos), s.chain[pos].Content)
}
