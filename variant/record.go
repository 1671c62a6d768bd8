// Package variant holds emitted variant records and their writers.
package variant

import (
	"fmt"
	"sort"

	"github.com/grailbio/umicall/pileup"
	"github.com/grailbio/umicall/pileup/concordant"
	"github.com/grailbio/umicall/variant/annotate"
)

// PosType is the integer type used to represent genomic positions.
type PosType = pileup.PosType

// CallType distinguishes single- from multi-nucleotide calls.
type CallType uint8

const (
	// SNP is a single-nucleotide polymorphism.
	SNP CallType = iota
	// MNP is a run of two or more adjacent phased substitutions.
	MNP
)

func (t CallType) String() string {
	if t == MNP {
		return "MNP"
	}
	return "SNP"
}

// Record is an emitted variant call.
type Record struct {
	Chrom string
	// Pos is 0-based.
	Pos  PosType
	Ref  string
	Alt  string
	Type CallType
	// Support is the number of fragments carrying Alt.
	Support int
	// Depth is the number of fragments passing filters over the span.
	Depth int
	AF    float64
	// Effect is set when the call lies inside an annotated CDS.
	Effect *annotate.Effect
}

func (r *Record) String() string {
	return fmt.Sprintf("%s:%d %s>%s %s %d/%d", r.Chrom, r.Pos+1, r.Ref, r.Alt, r.Type, r.Support, r.Depth)
}

// FromCandidate converts a surviving candidate.  cds may be nil.
func FromCandidate(chrom string, c *concordant.Candidate, cds *annotate.CDS) Record {
	r := Record{
		Chrom:   chrom,
		Pos:     c.Pos,
		Ref:     c.Ref,
		Alt:     c.Alt,
		Support: len(c.Support),
		Depth:   c.Total,
		AF:      c.AF(),
	}
	if !c.IsSNP() {
		r.Type = MNP
	}
	if cds != nil {
		if e, ok := cds.Annotate(c.Pos, c.Ref, c.Alt); ok {
			r.Effect = &e
		}
	}
	return r
}

// Sort orders records by position, then ref, then alt, which fixes the
// output byte order.
func Sort(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := &recs[i], &recs[j]
		if a.Pos != b.Pos {
			return a.Pos < b.Pos
		}
		if a.Ref != b.Ref {
			return a.Ref < b.Ref
		}
		return a.Alt < b.Alt
	})
}
