// Package report renders absorb results for terminals and machines.
package report

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/absorb/pkg/fixup"
	"github.com/Sumatoshi-tech/absorb/pkg/safeconv"
	"github.com/Sumatoshi-tech/absorb/pkg/stack"
)

// idWidth is the width of the revision column in change listings.
const idWidth = 7

// Resolver maps a chain position of a path to the revision holding it.
type Resolver interface {
	RevisionAt(path string, pos int) (stack.Revision, bool)
}

// Printer writes human readable reports.
type Printer struct {
	w io.Writer

	header  *color.Color
	hunk    *color.Color
	deleted *color.Color
	added   *color.Color
	id      *color.Color
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, colored bool) *Printer {
	p := &Printer{
		w:       w,
		header:  color.New(color.Bold),
		hunk:    color.New(color.FgCyan),
		deleted: color.New(color.FgRed),
		added:   color.New(color.FgGreen),
		id:      color.New(color.FgYellow),
	}

	for _, c := range []*color.Color{p.header, p.hunk, p.deleted, p.added, p.id} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	return p
}

// ShortID abbreviates a revision id for listings.
func ShortID(id string) string {
	if len(id) > idWidth {
		return id[:idWidth]
	}

	return id
}

// Summary returns the first line of a revision description.
func Summary(rev stack.Revision) string {
	line, _, _ := strings.Cut(rev.Description(), "\n")

	return line
}

// Changes lists every chunk with the revision each line was absorbed into.
// Lines left in the working copy have a blank revision column.
func (p *Printer) Changes(events []fixup.ChunkEvent, resolver Resolver) {
	path := ""

	for _, event := range events {
		if event.Path != path {
			path = event.Path
			p.header.Fprintf(p.w, "showing changes for %s\n", path)
		}

		c := event.Chunk
		p.hunk.Fprintf(p.w, "%s @@ -%d,%d +%d,%d @@\n",
			strings.Repeat(" ", idWidth), c.A1, c.A2-c.A1, c.B1, c.B2-c.B1)

		for _, line := range event.Deleted {
			p.line(event.Path, line, "-", p.deleted, resolver)
		}

		for _, line := range event.Inserted {
			p.line(event.Path, line, "+", p.added, resolver)
		}
	}
}

func (p *Printer) line(path string, line fixup.AttributedLine, sign string, c *color.Color, resolver Resolver) {
	column := strings.Repeat(" ", idWidth)

	if line.Adopted {
		if rev, ok := resolver.RevisionAt(path, line.Position); ok {
			column = fmt.Sprintf("%-*s", idWidth, ShortID(rev.ID()))
		}
	}

	p.id.Fprint(p.w, column)
	c.Fprintf(p.w, " %s%s\n", sign, line.Text)
}

// Affected lists the revisions that receive changes, newest first.
func (p *Printer) Affected(revs []stack.Revision) {
	fmt.Fprintf(p.w, "\n%d changesets affected\n", len(revs))

	for _, rev := range slices.Backward(revs) {
		p.id.Fprint(p.w, ShortID(rev.ID()))
		fmt.Fprintf(p.w, " %s\n", Summary(rev))
	}
}

// Skipped lists the modified paths left out of absorption.
func (p *Printer) Skipped(skipped []stack.Skipped) {
	for _, s := range skipped {
		if s.Reason == stack.SkipTooLarge {
			fmt.Fprintf(p.w, "skipping %s: %s (%s)\n", s.Path, s.Reason, humanize.Bytes(safeconv.MustInt64ToUint64(s.Size)))

			continue
		}

		fmt.Fprintf(p.w, "skipping %s: %s\n", s.Path, s.Reason)
	}
}

// Result prints the applied chunk count, or "nothing applied".
func (p *Printer) Result(stats fixup.ChunkStats) {
	if stats.Adopted == 0 {
		fmt.Fprintln(p.w, "nothing applied")

		return
	}

	fmt.Fprintf(p.w, "%d of %d chunk(s) applied\n", stats.Adopted, stats.Total)
}

// Table renders per-path chunk statistics.
func (p *Printer) Table(paths []PathStats) {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false

	tbl.AppendHeader(table.Row{"path", "applied", "chunks"})

	var total fixup.ChunkStats

	for _, ps := range paths {
		tbl.AppendRow(table.Row{ps.Path, ps.Adopted, ps.Total})
		total = total.Add(fixup.ChunkStats{Adopted: ps.Adopted, Total: ps.Total})
	}

	tbl.AppendFooter(table.Row{fmt.Sprintf("%d paths", len(paths)), total.Adopted, total.Total})

	fmt.Fprintln(p.w, tbl.Render())
}

// PathStats is the chunk statistics of one path.
type PathStats struct {
	Path    string `json:"path"    yaml:"path"`
	Adopted int    `json:"adopted" yaml:"adopted"`
	Total   int    `json:"total"   yaml:"total"`
}

// SkippedPath is a path left out of absorption.
type SkippedPath struct {
	Path   string `json:"path"   yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
}

// Report is the machine readable outcome of a run.
type Report struct {
	DryRun       bool              `json:"dry_run"                yaml:"dry_run"`
	Chunks       fixup.ChunkStats  `json:"chunks"                 yaml:"chunks"`
	Paths        []PathStats       `json:"paths"                  yaml:"paths"`
	Skipped      []SkippedPath     `json:"skipped,omitempty"      yaml:"skipped,omitempty"`
	Affected     []string          `json:"affected,omitempty"     yaml:"affected,omitempty"`
	Replacements map[string]string `json:"replacements,omitempty" yaml:"replacements,omitempty"`
	NewHead      string            `json:"new_head,omitempty"     yaml:"new_head,omitempty"`
	Rewritten    int               `json:"rewritten"              yaml:"rewritten"`
	Dropped      int               `json:"dropped"                yaml:"dropped"`
}

// Build collects the report of a diffed state and its commit result.
func Build(state *stack.State, result stack.Result) Report {
	r := Report{
		Chunks:       state.ChunkStats(),
		Replacements: result.Replacements,
		NewHead:      result.NewHead,
		Rewritten:    result.Rewritten,
		Dropped:      result.Dropped,
	}

	for _, path := range state.Paths() {
		fs, _ := state.FileState(path)
		stats := fs.ChunkStats()
		r.Paths = append(r.Paths, PathStats{Path: path, Adopted: stats.Adopted, Total: stats.Total})
	}

	for _, s := range state.Skipped() {
		r.Skipped = append(r.Skipped, SkippedPath{Path: s.Path, Reason: string(s.Reason)})
	}

	for _, rev := range state.Affected() {
		r.Affected = append(r.Affected, rev.ID())
	}

	if len(r.Replacements) == 0 {
		r.Replacements = nil
	}

	return r
}

// WriteYAML encodes r as a YAML document.
func WriteYAML(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	err := enc.Encode(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	err = enc.Close()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	return nil
}
