// Package concordant implements a fragment-level pileup: every reference
// column counts each fragment at most once, however many of its mates cover
// the column.
package concordant

import (
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/umicall/fragment"
	"github.com/grailbio/umicall/interval"
	"github.com/grailbio/umicall/pileup"
)

// PosType is the integer type used to represent genomic positions.
type PosType = pileup.PosType

// Opts configures Scan.
type Opts struct {
	// MinBaseQual excludes mate bases of lower quality.
	MinBaseQual byte
	// MaxNM excludes fragments whose edit distance exceeds it.
	MaxNM int
	// MinSupport is the fewest supporting fragments a candidate needs.
	MinSupport int
	// Parallelism bounds the number of workers.
	Parallelism int
}

// AlleleStats summarizes the fragments supporting one allele at a column.
type AlleleStats struct {
	// Support holds the ascending ids of the supporting fragments.
	Support []int32
	// MinQual is the lowest base quality among the supporting calls.
	MinQual byte
}

// Column is the pileup at one reference position.
type Column struct {
	Pos PosType
	Ref byte
	// Passing holds the ascending ids of fragments that pass the quality and
	// edit-distance filters here, whether or not their mates agree.
	Passing []int32
	Alleles [pileup.NBase]AlleleStats
}

// Depth returns the number of passing fragments.
func (c *Column) Depth() int { return len(c.Passing) }

// Candidate is a proposed variant: a single base, or after phasing a run of
// adjacent bases.  Fragment ids index the slice given to Scan.
type Candidate struct {
	Pos PosType
	Ref string
	Alt string
	// Support holds the ascending ids of fragments carrying Alt.
	Support []int32
	// Total is the number of fragments passing filters over the whole span.
	Total int
}

// End returns the exclusive end of the candidate's span.
func (c *Candidate) End() PosType { return c.Pos + PosType(len(c.Ref)) }

// IsSNP reports whether the candidate covers a single base.
func (c *Candidate) IsSNP() bool { return len(c.Ref) == 1 }

// AF returns the allele fraction Support/Total.
func (c *Candidate) AF() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(len(c.Support)) / float64(c.Total)
}

// Result is the output of Scan.
type Result struct {
	// Columns holds every scanned column, ascending by position.
	Columns []Column
	// Candidates holds the SNP candidates ordered by position, then alt.
	Candidates []Candidate
	// ExcludedFragments counts fragments over the edit-distance limit.
	ExcludedFragments int
}

// Passing returns the passing fragment ids at pos, or nil if pos was not
// scanned.
func (r *Result) Passing(pos PosType) []int32 {
	i := sort.Search(len(r.Columns), func(i int) bool { return r.Columns[i].Pos >= pos })
	if i < len(r.Columns) && r.Columns[i].Pos == pos {
		return r.Columns[i].Passing
	}
	return nil
}

// Scan piles up frags against ref.  Only columns inside targets that some
// fragment touches are scanned.  Work is split into contiguous reference
// regions, one per worker; the result does not depend on Parallelism.
func Scan(ref *pileup.Reference, targets *interval.Targets, frags []*fragment.Fragment, opts Opts) (*Result, error) {
	if targets.Contig() != ref.Name {
		return nil, errors.E(errors.Invalid, "targets on contig", targets.Contig(), "but reference is", ref.Name)
	}
	if opts.MinSupport < 1 {
		return nil, errors.E(errors.Invalid, "minimum support must be positive, got", opts.MinSupport)
	}
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	refLen := ref.Len()
	if PosType(parallelism) > refLen {
		parallelism = int(refLen)
	}

	excluded := make([]bool, len(frags))
	nExcluded := 0
	for i, f := range frags {
		if nm := f.EditDistance(); nm > opts.MaxNM {
			excluded[i] = true
			nExcluded++
			log.Debug.Printf("concordant.Scan: excluding %s with edit distance %d", f.Name, nm)
		}
	}

	shards := make([][]Column, parallelism)
	err := traverse.Each(parallelism, func(jobIdx int) error {
		lo := PosType(int64(jobIdx) * int64(refLen) / int64(parallelism))
		hi := PosType(int64(jobIdx+1) * int64(refLen) / int64(parallelism))
		shards[jobIdx] = scanRegion(ref, targets, frags, excluded, lo, hi, &opts)
		return nil
	})
	if err != nil {
		return nil, err
	}

	res := &Result{ExcludedFragments: nExcluded}
	for _, s := range shards {
		res.Columns = append(res.Columns, s...)
	}
	for i := range res.Columns {
		col := &res.Columns[i]
		refEnum := pileup.ASCIIToEnumTable[col.Ref]
		if refEnum >= pileup.NBase {
			continue
		}
		for b := byte(0); b < pileup.NBase; b++ {
			if b == refEnum || len(col.Alleles[b].Support) < opts.MinSupport {
				continue
			}
			res.Candidates = append(res.Candidates, Candidate{
				Pos:     col.Pos,
				Ref:     string(col.Ref),
				Alt:     string(pileup.EnumToASCIITable[b]),
				Support: col.Alleles[b].Support,
				Total:   col.Depth(),
			})
		}
	}
	log.Printf("concordant.Scan: %d columns, %d candidates, %d of %d fragments over the edit-distance limit",
		len(res.Columns), len(res.Candidates), nExcluded, len(frags))
	return res, nil
}

// mateCall is one mate's base at a column; base is a pileup enum, or
// noCall when the mate does not cover the column or fails filters.
type mateCall struct {
	base byte
	qual byte
}

const noCall = 0xff

// scanRegion builds the columns in [lo, hi).
func scanRegion(ref *pileup.Reference, targets *interval.Targets, frags []*fragment.Fragment, excluded []bool, lo, hi PosType, opts *Opts) []Column {
	var (
		touched = make([]bool, hi-lo)
		cols    = make([]Column, hi-lo)
		calls   [2][]mateCall
		sites   []fragment.Site
	)
	for i := range cols {
		cols[i].Pos = lo + PosType(i)
		cols[i].Ref = ref.Seq[lo+PosType(i)]
	}
	for fi, f := range frags {
		start, end := pileup.PosTypeMax, PosType(0)
		for mi := range f.Mates {
			m := &f.Mates[mi]
			if m.Pos < start {
				start = m.Pos
			}
			if e := m.End(); e > end {
				end = e
			}
		}
		if start < lo {
			start = lo
		}
		if end > hi {
			end = hi
		}
		if start >= end {
			continue
		}
		for i := start; i < end; i++ {
			touched[i-lo] = true
		}
		if excluded[fi] {
			continue
		}
		width := int(end - start)
		for mi := range f.Mates {
			c := calls[mi][:0]
			for i := 0; i < width; i++ {
				c = append(c, mateCall{base: noCall})
			}
			sites = f.Mates[mi].Sites(sites[:0])
			for _, s := range sites {
				if s.Pos < start || s.Pos >= end || s.Qual < opts.MinBaseQual {
					continue
				}
				// Deletions and N calls contribute neither depth nor support.
				if b := pileup.ASCIIToEnumTable[s.Base]; b < pileup.NBase {
					c[s.Pos-start] = mateCall{base: b, qual: s.Qual}
				}
			}
			calls[mi] = c
		}
		id := int32(fi)
		for i := 0; i < width; i++ {
			call := calls[0][i]
			if len(f.Mates) == 2 {
				other := calls[1][i]
				switch {
				case call.base == noCall:
					call = other
				case other.base == noCall:
				case other.base != call.base:
					// Discordant mates: the fragment counts toward depth
					// only.
					call.base = pileup.BaseX
				case other.qual > call.qual:
					call.qual = other.qual
				}
			}
			if call.base == noCall {
				continue
			}
			col := &cols[int(start-lo)+i]
			col.Passing = append(col.Passing, id)
			if call.base == pileup.BaseX {
				continue
			}
			a := &col.Alleles[call.base]
			if len(a.Support) == 0 || call.qual < a.MinQual {
				a.MinQual = call.qual
			}
			a.Support = append(a.Support, id)
		}
	}
	out := cols[:0]
	for i := range cols {
		if touched[i] && targets.Contains(cols[i].Pos) {
			out = append(out, cols[i])
		}
	}
	return out
}
