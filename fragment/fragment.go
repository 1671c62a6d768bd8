// Package fragment models paired-end read fragments as they come off an
// aligner: mates projected onto reference columns, with the read-name
// conventions that carry UMIs and primer tags.
package fragment

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/umicall/pileup"
)

// PosType is the integer type used to represent genomic positions.
type PosType = pileup.PosType

var tagNM = sam.NewTag("NM")

// Site is one reference column covered by a mate.  Base is upper-case ASCII,
// or pileup.DeletionChar for a deleted column.
type Site struct {
	Pos  PosType
	Base byte
	Qual byte
}

// Mate is one read of a fragment.
type Mate struct {
	Read2   bool
	Reverse bool
	// Pos is the 0-based reference position of the first aligned base.
	Pos   PosType
	Cigar sam.Cigar
	// Seq holds upper-case ASCII bases, soft clips included.
	Seq  []byte
	Qual []byte
	// NM is the edit distance to the reference.
	NM int
	// Rec is the record the mate was built from.
	Rec *sam.Record
}

// newMate converts r.  ref is consulted only when r carries no NM tag.
func newMate(r *sam.Record, ref *pileup.Reference) (Mate, error) {
	m := Mate{
		Read2:   r.Flags&sam.Read2 != 0,
		Reverse: r.Flags&sam.Reverse != 0,
		Pos:     PosType(r.Pos),
		Cigar:   r.Cigar,
		Seq:     r.Seq.Expand(),
		Qual:    r.Qual,
		NM:      -1,
		Rec:     r,
	}
	for i, c := range m.Seq {
		m.Seq[i] = pileup.EnumToASCIITable[pileup.ASCIIToEnumTable[c]]
	}
	if len(m.Qual) != len(m.Seq) {
		return Mate{}, errors.E(errors.Invalid, "read", r.Name, "has", len(m.Seq), "bases but", len(m.Qual), "qualities")
	}
	if _, qlen := r.Cigar.Lengths(); qlen != len(m.Seq) {
		return Mate{}, errors.E(errors.Invalid, "read", r.Name, "CIGAR", r.Cigar.String(), "disagrees with sequence length", len(m.Seq))
	}
	if aux := r.AuxFields.Get(tagNM); aux != nil {
		nm, ok := auxInt(aux)
		if !ok {
			return Mate{}, errors.E(errors.Invalid, "read", r.Name, "has non-integer NM tag", aux.String())
		}
		m.NM = nm
	} else if ref != nil {
		m.NM = m.ComputeNM(ref.Seq)
	}
	return m, nil
}

func auxInt(aux sam.Aux) (int, bool) {
	switch v := aux.Value().(type) {
	case int8:
		return int(v), true
	case uint8:
		return int(v), true
	case int16:
		return int(v), true
	case uint16:
		return int(v), true
	case int32:
		return int(v), true
	case uint32:
		return int(v), true
	}
	return 0, false
}

// End returns the exclusive 0-based reference end of the alignment.
func (m *Mate) End() PosType {
	end := m.Pos
	for _, co := range m.Cigar {
		end += PosType(co.Len() * co.Type().Consumes().Reference)
	}
	return end
}

// FivePrime returns the unclipped 5' reference position of the mate: the
// start for a forward read, the last base for a reverse read.
func (m *Mate) FivePrime() PosType {
	if len(m.Cigar) == 0 {
		return m.Pos
	}
	if m.Reverse {
		last := m.Cigar[len(m.Cigar)-1]
		clip := 0
		if t := last.Type(); t == sam.CigarSoftClipped || t == sam.CigarHardClipped {
			clip = last.Len()
		}
		return m.End() - 1 + PosType(clip)
	}
	first := m.Cigar[0]
	clip := 0
	if t := first.Type(); t == sam.CigarSoftClipped || t == sam.CigarHardClipped {
		clip = first.Len()
	}
	return m.Pos - PosType(clip)
}

// Sites appends the reference columns covered by the mate to dst, in
// increasing position order.  Inserted and soft-clipped bases cover no
// column.  A deleted column carries the quality of the base preceding the
// deletion.
func (m *Mate) Sites(dst []Site) []Site {
	refPos, readPos := m.Pos, 0
	for _, co := range m.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for i := 0; i < n; i++ {
				dst = append(dst, Site{refPos, m.Seq[readPos], m.Qual[readPos]})
				refPos++
				readPos++
			}
		case sam.CigarDeletion:
			var q byte
			if readPos > 0 {
				q = m.Qual[readPos-1]
			} else if readPos < len(m.Qual) {
				q = m.Qual[readPos]
			}
			for i := 0; i < n; i++ {
				dst = append(dst, Site{refPos, pileup.DeletionChar, q})
				refPos++
			}
		case sam.CigarSkipped:
			refPos += PosType(n)
		case sam.CigarInsertion, sam.CigarSoftClipped:
			readPos += n
		}
	}
	return dst
}

// ComputeNM returns the edit distance of the alignment against ref: one per
// mismatched aligned base (N included) plus the inserted and deleted lengths.
func (m *Mate) ComputeNM(ref []byte) int {
	nm := 0
	refPos, readPos := int(m.Pos), 0
	for _, co := range m.Cigar {
		n := co.Len()
		switch co.Type() {
		case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
			for i := 0; i < n; i++ {
				if refPos >= len(ref) || m.Seq[readPos] != ref[refPos] || m.Seq[readPos] == 'N' {
					nm++
				}
				refPos++
				readPos++
			}
		case sam.CigarDeletion:
			nm += n
			refPos += n
		case sam.CigarSkipped:
			refPos += n
		case sam.CigarInsertion:
			nm += n
			readPos += n
		case sam.CigarSoftClipped:
			readPos += n
		}
	}
	return nm
}

// Fragment is a read pair, or a lone read whose mate is absent, sharing one
// query name.
type Fragment struct {
	Name string
	ID   Identifier
	// Mates holds one or two mates; R1 precedes R2 when both are present.
	Mates []Mate
}

func (f *Fragment) String() string {
	return fmt.Sprintf("%s(%d mates)", f.Name, len(f.Mates))
}

// New builds a fragment from one or two records of the same query name.
// ref, if non-nil, supplies the edit distance of records lacking NM.
func New(ref *pileup.Reference, recs ...*sam.Record) (*Fragment, error) {
	if len(recs) == 0 || len(recs) > 2 {
		return nil, errors.E(errors.Invalid, "a fragment needs one or two records, got", len(recs))
	}
	f := &Fragment{Name: recs[0].Name, Mates: make([]Mate, 0, len(recs))}
	for _, r := range recs {
		if r.Name != f.Name {
			return nil, errors.E(errors.Invalid, "mate names differ:", f.Name, r.Name)
		}
		m, err := newMate(r, ref)
		if err != nil {
			return nil, err
		}
		f.Mates = append(f.Mates, m)
	}
	if len(f.Mates) == 2 {
		if f.Mates[0].Read2 == f.Mates[1].Read2 {
			return nil, errors.E(errors.Invalid, "both mates of", f.Name, "carry the same read number")
		}
		if f.Mates[0].Read2 {
			f.Mates[0], f.Mates[1] = f.Mates[1], f.Mates[0]
		}
	}
	return f, nil
}

// R1 returns the first mate, or nil if the fragment holds only R2.
func (f *Fragment) R1() *Mate {
	if !f.Mates[0].Read2 {
		return &f.Mates[0]
	}
	return nil
}

// R2 returns the second mate, or nil.
func (f *Fragment) R2() *Mate {
	for i := range f.Mates {
		if f.Mates[i].Read2 {
			return &f.Mates[i]
		}
	}
	return nil
}

// EditDistance returns the larger of the mates' edit distances, or -1 if
// neither is known.
func (f *Fragment) EditDistance() int {
	nm := -1
	for i := range f.Mates {
		if f.Mates[i].NM > nm {
			nm = f.Mates[i].NM
		}
	}
	return nm
}

// Start returns the leftmost aligned position over both mates.
func (f *Fragment) Start() PosType {
	start := pileup.PosTypeMax
	for i := range f.Mates {
		if f.Mates[i].Pos < start {
			start = f.Mates[i].Pos
		}
	}
	return start
}
