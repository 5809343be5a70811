package fixup

import (
	"cmp"
	"fmt"

	"github.com/Sumatoshi-tech/absorb/pkg/safeconv"
)

// Kind distinguishes the two states of a chain position.
type Kind uint8

const (
	// KindOriginal is the content as it was read from the repository.
	KindOriginal Kind = iota
	// KindFixup is the content after absorbed edits are applied.
	KindFixup
)

// kindsPerPosition is the number of linelog revisions reserved for every chain position.
const kindsPerPosition = 2

// Revision names one state of one chain position. Revisions are totally
// ordered: Original(i) < Fixup(i) < Original(i+1).
type Revision struct {
	Position int
	Kind     Kind
}

// Original returns the revision holding the unmodified content of position pos.
func Original(pos int) Revision {
	return Revision{Position: pos, Kind: KindOriginal}
}

// Fixed returns the revision holding the post-fixup content of position pos.
func Fixed(pos int) Revision {
	return Revision{Position: pos, Kind: KindFixup}
}

// RevisionOf decodes a linelog revision number. Zero is reserved and panics.
func RevisionOf(rev uint32) Revision {
	if rev == 0 {
		panic("fixup: linelog revision 0 does not name a chain position")
	}

	n := int(rev - 1)

	return Revision{Position: n / kindsPerPosition, Kind: Kind(n % kindsPerPosition)}
}

// Linelog encodes the revision as a linelog revision number: 2i+1 for
// original content and 2i+2 for fixed content.
func (r Revision) Linelog() uint32 {
	if r.Position < 0 {
		panic(fmt.Sprintf("fixup: negative chain position %d", r.Position))
	}

	return safeconv.MustIntToUint32(r.Position*kindsPerPosition + 1 + int(r.Kind))
}

// Compare orders revisions by position, then kind.
func (r Revision) Compare(other Revision) int {
	if c := cmp.Compare(r.Position, other.Position); c != 0 {
		return c
	}

	return cmp.Compare(r.Kind, other.Kind)
}

// IsBase reports whether the revision belongs to the base position.
func (r Revision) IsBase() bool {
	return r.Position == 0
}

// Fixed returns the post-fixup sibling of r.
func (r Revision) Fixed() Revision {
	return Fixed(r.Position)
}

func (r Revision) String() string {
	if r.Kind == KindFixup {
		return fmt.Sprintf("fixup(%d)", r.Position)
	}

	return fmt.Sprintf("original(%d)", r.Position)
}
