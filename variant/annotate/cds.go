// Package annotate maps variant positions inside a coding sequence to their
// codon and amino-acid context.
package annotate

import (
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/umicall/pileup"
)

// MutSig is a saturation-mutagenesis codon signature: the degenerate codons a
// library was designed to contain.
type MutSig string

const (
	// MutSigNNN allows any codon.
	MutSigNNN MutSig = "NNN"
	// MutSigNNK requires G or T at the third position.
	MutSigNNK MutSig = "NNK"
	// MutSigNNS requires C or G at the third position.
	MutSigNNS MutSig = "NNS"
)

// ParseMutSig validates s, ignoring case.
func ParseMutSig(s string) (MutSig, error) {
	switch sig := MutSig(strings.ToUpper(s)); sig {
	case MutSigNNN, MutSigNNK, MutSigNNS:
		return sig, nil
	}
	return "", errors.E(errors.Invalid, "unsupported mutation signature", s, "(want NNN, NNK or NNS)")
}

// Matches reports whether codon fits the signature.
func (m MutSig) Matches(codon string) bool {
	if len(codon) != 3 {
		return false
	}
	switch m {
	case MutSigNNK:
		return codon[2] == 'G' || codon[2] == 'T'
	case MutSigNNS:
		return codon[2] == 'C' || codon[2] == 'G'
	}
	return true
}

// Codons are indexed 16*b1 + 4*b2 + b3 with bases ordered TCAG.
const codonTable = "FFLLSSSSYY**CC*WLLLLPPPPHHQQRRRRIIIMTTTTNNKKSSRRVVVVAAAADDEEGGGG"

var tcagIndex = func() (table [256]int8) {
	for i := range table {
		table[i] = -1
	}
	for i, c := range []byte("TCAG") {
		table[c] = int8(i)
	}
	return
}()

// Translate returns the amino acid for codon, 'X' if it holds a non-ACGT base.
func Translate(codon string) byte {
	idx := 0
	for i := 0; i < 3; i++ {
		v := tcagIndex[codon[i]]
		if v < 0 {
			return 'X'
		}
		idx = idx*4 + int(v)
	}
	return codonTable[idx]
}

// CDS is a forward-strand coding interval [Start, End) of a reference whose
// length is a multiple of three.
type CDS struct {
	Start, End pileup.PosType
	MutSig     MutSig
	ref        []byte
}

// NewCDS validates the coding interval against ref.
func NewCDS(ref *pileup.Reference, start, end pileup.PosType, sig MutSig) (*CDS, error) {
	if start < 0 || end > ref.Len() || end <= start {
		return nil, errors.E(errors.Invalid, "CDS", start, end, "outside reference", ref.Name, "of length", ref.Len())
	}
	if (end-start)%3 != 0 {
		return nil, errors.E(errors.Invalid, "CDS length", end-start, "is not a multiple of 3")
	}
	return &CDS{Start: start, End: end, MutSig: sig, ref: ref.Seq}, nil
}

// Effect is the coding consequence of a variant.  Codon and amino-acid
// strings hold one entry per codon the variant touches.
type Effect struct {
	RefCodons []string
	AltCodons []string
	RefAA     string
	AltAA     string
	// AAPos is the 1-based position of the first affected amino acid.
	AAPos int
	// MatchesMutSig is set when every altered codon fits the signature.
	MatchesMutSig bool
}

// Annotate returns the effect of replacing ref with alt at pos.  It returns
// false when the variant does not lie wholly inside the CDS.
func (c *CDS) Annotate(pos pileup.PosType, ref, alt string) (Effect, bool) {
	end := pos + pileup.PosType(len(ref))
	if len(ref) != len(alt) || pos < c.Start || end > c.End {
		return Effect{}, false
	}
	first := (pos - c.Start) / 3
	last := (end - 1 - c.Start) / 3
	e := Effect{AAPos: int(first) + 1, MatchesMutSig: true}
	var refAA, altAA []byte
	for cod := first; cod <= last; cod++ {
		cstart := c.Start + cod*3
		refCodon := []byte(string(c.ref[cstart : cstart+3]))
		altCodon := append([]byte(nil), refCodon...)
		for i := pileup.PosType(0); i < 3; i++ {
			if p := cstart + i; p >= pos && p < end {
				altCodon[i] = alt[p-pos]
			}
		}
		e.RefCodons = append(e.RefCodons, string(refCodon))
		e.AltCodons = append(e.AltCodons, string(altCodon))
		refAA = append(refAA, Translate(string(refCodon)))
		altAA = append(altAA, Translate(string(altCodon)))
		if !c.MutSig.Matches(string(altCodon)) {
			e.MatchesMutSig = false
		}
	}
	e.RefAA, e.AltAA = string(refAA), string(altAA)
	return e, true
}
