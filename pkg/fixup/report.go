package fixup

import (
	"strings"

	"github.com/Sumatoshi-tech/absorb/pkg/textdiff"
)

// Reporter receives classification events. Attaching one never changes the
// computed fixups.
type Reporter interface {
	ReportChunk(event ChunkEvent)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(event ChunkEvent)

// ReportChunk calls f(event).
func (f ReporterFunc) ReportChunk(event ChunkEvent) {
	f(event)
}

// AttributedLine is one deleted or inserted line of a chunk. Position is the
// chain position that adopted it, valid only when Adopted is set.
type AttributedLine struct {
	Text     string
	Position int
	Adopted  bool
}

// ChunkEvent describes one diff chunk between the chain top and the target.
type ChunkEvent struct {
	Path     string
	Chunk    textdiff.Chunk
	Fixups   []Fixup
	Deleted  []AttributedLine
	Inserted []AttributedLine
}

// Adopted reports whether the chunk produced at least one fixup.
func (e ChunkEvent) Adopted() bool {
	return len(e.Fixups) > 0
}

func (s *FileState) chunkEvent(chunk textdiff.Chunk, fixups []Fixup, aLines []string) ChunkEvent {
	event := ChunkEvent{
		Path:     s.path,
		Chunk:    chunk,
		Fixups:   fixups,
		Deleted:  make([]AttributedLine, chunk.A2-chunk.A1),
		Inserted: make([]AttributedLine, chunk.B2-chunk.B1),
	}

	for i := chunk.A1; i < chunk.A2; i++ {
		event.Deleted[i-chunk.A1].Text = strings.TrimSuffix(aLines[i], "\n")
	}

	for i := chunk.B1; i < chunk.B2; i++ {
		event.Inserted[i-chunk.B1].Text = strings.TrimSuffix(s.targetLines[i], "\n")
	}

	for _, f := range fixups {
		for i := f.A1; i < f.A2; i++ {
			event.Deleted[i-chunk.A1].Position = f.Rev.Position
			event.Deleted[i-chunk.A1].Adopted = true
		}

		for i := f.B1; i < f.B2; i++ {
			event.Inserted[i-chunk.B1].Position = f.Rev.Position
			event.Inserted[i-chunk.B1].Adopted = true
		}
	}

	return event
}
