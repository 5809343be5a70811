// Package linelog provides a revision-indexed line provenance log.
package linelog

import (
	"fmt"
	"slices"

	"github.com/Sumatoshi-tech/absorb/pkg/safeconv"
)

// Line identifies one physical line of text: the revision whose content buffer
// holds it and the line index inside that buffer.
type Line struct {
	Rev   uint32
	Index uint32
}

// String formats the line reference for debugging output.
func (l Line) String() string {
	return fmt.Sprintf("%d:%d", l.Rev, l.Index)
}

// lineInfo is an annotated line plus the program counter of its LINE instruction.
type lineInfo struct {
	Line

	offset int
}

// annotation is the materialized view of one revision. The most recent one is
// kept by the Linelog and patched in place by ReplaceLines.
type annotation struct {
	lines []lineInfo
	rev   uint32
	eof   int
}

// Linelog encapsulates a small linear program which, when executed for a given
// revision, emits the lines visible at that revision in order. Users are not
// supposed to create Linelog-s directly; instead, they should call New().
//
// ReplaceLines() patches the program so that revisions >= rev see a range of
// lines replaced by lines owned by rev.
//
// Annotate() replays the program for a revision.
//
// GetOffset() and GetAllLines() expose the program structure and are used to
// check whether a range of the current view is contiguous in the program.
type Linelog struct {
	program []instruction
	last    *annotation
	maxRev  uint32
}

// New initializes an empty Linelog. Program counter 0 is a padding EOF and
// execution starts at 1.
func New() *Linelog {
	return &Linelog{
		program: []instruction{eofInst(), eofInst()},
	}
}

// MaxRev returns the highest revision passed to ReplaceLines so far.
func (l *Linelog) MaxRev() uint32 {
	return l.maxRev
}

// Len returns the number of instructions in the program.
func (l *Linelog) Len() int {
	return len(l.program)
}

// Annotate replays the program for rev and returns the visible lines in order.
// The result becomes the current view used by ReplaceLines and GetOffset.
func (l *Linelog) Annotate(rev uint32) []Line {
	ar := l.annotate(rev)

	lines := make([]Line, len(ar.lines))
	for i, info := range ar.lines {
		lines[i] = info.Line
	}

	return lines
}

func (l *Linelog) annotate(rev uint32) *annotation {
	var lines []lineInfo

	pc, lastPC := 1, 0

	// Every instruction is executed at most once by a well-formed program.
	for executed := 0; pc >= 0; executed++ {
		if executed >= len(l.program) {
			panic(fmt.Sprintf("linelog: program does not terminate at revision %d", rev))
		}

		inst := l.program[pc]
		lastPC = pc

		switch inst.op {
		case opJGE:
			if rev >= inst.rev {
				pc = inst.arg
			} else {
				pc++
			}
		case opJL:
			if rev < inst.rev {
				pc = inst.arg
			} else {
				pc++
			}
		case opJump:
			pc = inst.arg
		case opLine:
			lines = append(lines, lineInfo{
				Line:   Line{Rev: inst.rev, Index: safeconv.MustIntToUint32(inst.arg)},
				offset: pc,
			})
			pc++
		case opEOF:
			pc = -1
		default:
			panic(fmt.Sprintf("linelog: illegal instruction %v at %d", inst, pc))
		}
	}

	l.last = &annotation{lines: lines, rev: rev, eof: lastPC}

	return l.last
}

// ReplaceLines records that, as of revision rev, lines [a1, a2) of the current
// view are replaced by lines [b1, b2) of rev's own content.
//
// The current view is the result of the latest Annotate call, updated in place
// by every ReplaceLines call since. When chunks of one diff are applied, they
// must be applied highest offset first so that the offsets of the remaining
// chunks stay valid.
//
// Either range may be empty: a1 == a2 is a pure insertion, b1 == b2 a pure
// deletion.
func (l *Linelog) ReplaceLines(rev uint32, a1, a2, b1, b2 int) {
	if rev == 0 {
		panic("linelog: revision 0 is reserved")
	}

	if a1 < 0 || a2 < a1 || b1 < 0 || b2 < b1 {
		panic(fmt.Sprintf("linelog: invalid ranges [%d, %d) -> [%d, %d)", a1, a2, b1, b2))
	}

	ar := l.last
	if ar == nil {
		ar = l.annotate(rev)
	}

	count := len(ar.lines)
	if a2 > count {
		panic(fmt.Sprintf("linelog: attempt to replace after the end of the view: %d > %d", a2, count))
	}

	// Inserting at the end patches the EOF instruction, which does not carry a line.
	a1Offset := ar.eof
	if a1 < count {
		a1Offset = ar.lines[a1].offset
	}

	a1Inst := l.program[a1Offset]
	oldLen := len(l.program)

	var inserted []lineInfo

	if b1 < b2 {
		// Older revisions skip the inserted block.
		l.program = append(l.program, jlInst(rev, oldLen+(b2-b1+1)))

		for index := b1; index < b2; index++ {
			inserted = append(inserted, lineInfo{
				Line:   Line{Rev: rev, Index: safeconv.MustIntToUint32(index)},
				offset: len(l.program),
			})
			l.program = append(l.program, lineInst(rev, index))
		}
	}

	if a1 < a2 {
		end := ar.eof
		if a2 < count {
			end = ar.lines[a2].offset
		}

		// Deleting from an old revision must not skip lines that later
		// revisions inserted between a2-1 and a2.
		if a2 > 0 && rev < l.maxRev {
			end = ar.lines[a2-1].offset + 1
		}

		l.program = append(l.program, jgeInst(rev, end))
	}

	a1PC := len(l.program)
	l.program = append(l.program, a1Inst)

	if a1Inst.op != opJump && a1Inst.op != opEOF {
		l.program = append(l.program, jumpInst(a1Offset+1))
	}

	// Make the patch live.
	l.program[a1Offset] = jumpInst(oldLen)

	if a1 < count {
		ar.lines[a1].offset = a1PC
	} else {
		ar.eof = a1PC
	}

	ar.lines = slices.Replace(ar.lines, a1, a2, inserted...)
	ar.rev = max(ar.rev, rev)
	l.maxRev = max(l.maxRev, rev)
}

// GetOffset returns the program counter of the instruction that emits line
// number pos of the current view. Passing the view length returns the EOF
// instruction offset.
func (l *Linelog) GetOffset(pos int) int {
	if l.last == nil {
		panic("linelog: GetOffset called before Annotate")
	}

	if pos == len(l.last.lines) {
		return l.last.eof
	}

	return l.last.lines[pos].offset
}

// GetAllLines returns every line that was ever emitted by the program between
// program counters start (inclusive) and end (exclusive), ignoring revision
// conditions. start == end == 0 walks the whole program.
func (l *Linelog) GetAllLines(start, end int) []Line {
	pc := start
	if pc == 0 {
		pc = 1
	}

	var lines []Line

	for range l.program {
		inst := l.program[pc]
		next := pc + 1

		switch inst.op {
		case opJump:
			next = inst.arg
		case opEOF:
			return lines
		case opJGE, opJL:
		case opLine:
			lines = append(lines, Line{Rev: inst.rev, Index: safeconv.MustIntToUint32(inst.arg)})
		default:
			panic(fmt.Sprintf("linelog: illegal instruction %v at %d", inst, pc))
		}

		if next == end {
			return lines
		}

		pc = next
	}

	panic(fmt.Sprintf("linelog: no EOF or end offset %d reachable from %d", end, start))
}
