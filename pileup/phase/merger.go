// Package phase collapses adjacent single-base candidates that are carried by
// the same fragments into multi-nucleotide candidates.
package phase

import (
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/umicall/pileup/concordant"
	"github.com/samber/lo"
)

// MaxWindow is the widest phasing window supported.
const MaxWindow = 3

// Opts configures Merge.
type Opts struct {
	// Window is the most columns a merged candidate may span, 1 to MaxWindow.
	// A window of 1 disables phasing.
	Window int
	// MinSupport drops merged candidates with fewer supporting fragments.
	MinSupport int
}

// Passing returns the ascending ids of fragments passing filters at a
// position.  *concordant.Result implements it.
type Passing interface {
	Passing(pos concordant.PosType) []int32
}

// ValidateWindow checks the phasing window bound.
func ValidateWindow(window int) error {
	if window < 1 || window > MaxWindow {
		return errors.E(errors.Invalid, "MNP window must be between 1 and", MaxWindow, "got", window)
	}
	return nil
}

// Intersect returns the ids present in both ascending sets, ascending.
func Intersect(a, b []int32) []int32 {
	out := lo.Intersect(a, b)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// window is one run of adjacent SNPs being accumulated.
type window struct {
	acc []concordant.Candidate
	// shared is the intersection of the supports in acc.
	shared []int32
}

func newWindow(c concordant.Candidate) *window {
	return &window{acc: []concordant.Candidate{c}, shared: c.Support}
}

func (w *window) last() concordant.PosType { return w.acc[len(w.acc)-1].Pos }

// merger holds the open windows, all ending at the same position.
type merger struct {
	opts    Opts
	passing Passing
	open    []*window
	out     []concordant.Candidate

	merged, dropped int
}

// step feeds the SNPs found at one position.  Each open window takes at most
// one of them, and each SNP joins at most one window: the pairing sharing the
// most fragments goes first, then the older window, then the SNP earlier in
// input order.  SNPs left over open windows of their own; windows left over
// are flushed.
func (m *merger) step(snps []concordant.Candidate) {
	if len(m.open) > 0 && m.open[0].last()+1 != snps[0].Pos {
		m.flushAll()
	}
	claimed := make([]bool, len(snps))
	extended := make([]bool, len(m.open))
	for {
		bestW, bestS := -1, -1
		var best []int32
		for wi, w := range m.open {
			if extended[wi] {
				continue
			}
			for si := range snps {
				if claimed[si] {
					continue
				}
				if shared := Intersect(w.shared, snps[si].Support); len(shared) > len(best) {
					bestW, bestS, best = wi, si, shared
				}
			}
		}
		if bestW < 0 {
			break
		}
		w := m.open[bestW]
		w.acc = append(w.acc, snps[bestS])
		w.shared = best
		extended[bestW], claimed[bestS] = true, true
	}

	var next []*window
	keep := func(w *window) {
		if len(w.acc) >= m.opts.Window {
			m.flush(w)
			return
		}
		next = append(next, w)
	}
	for wi, w := range m.open {
		if extended[wi] {
			keep(w)
		} else {
			m.flush(w)
		}
	}
	for si := range snps {
		if !claimed[si] {
			keep(newWindow(snps[si]))
		}
	}
	m.open = next
}

func (m *merger) flushAll() {
	for _, w := range m.open {
		m.flush(w)
	}
	m.open = nil
}

// flush emits w: a lone SNP as itself, several as one merged candidate whose
// support is their shared fragments.  The components are never emitted
// alongside it.
func (m *merger) flush(w *window) {
	if len(w.acc) == 1 {
		m.out = append(m.out, w.acc[0])
		return
	}
	mnp := concordant.Candidate{Pos: w.acc[0].Pos, Support: w.shared}
	var ref, alt []byte
	for _, c := range w.acc {
		ref = append(ref, c.Ref...)
		alt = append(alt, c.Alt...)
	}
	mnp.Ref, mnp.Alt = string(ref), string(alt)
	mnp.Total = m.total(w, mnp.Pos, mnp.End())
	if len(mnp.Support) >= m.opts.MinSupport {
		m.out = append(m.out, mnp)
		m.merged++
	} else {
		m.dropped++
	}
}

// total counts the fragments that pass filters at every column of
// [start, end).  Without column data it falls back to the smallest
// per-column total among the components of w.
func (m *merger) total(w *window, start, end concordant.PosType) int {
	if m.passing == nil {
		n := -1
		for _, c := range w.acc {
			if n < 0 || c.Total < n {
				n = c.Total
			}
		}
		return n
	}
	ids := m.passing.Passing(start)
	for pos := start + 1; pos < end; pos++ {
		ids = Intersect(ids, m.passing.Passing(pos))
	}
	return len(ids)
}

// Merge phases cands, which must be ordered by position.  A SNP extends a
// window only when it lies exactly one column past the window's last SNP and
// shares at least one fragment with every SNP already in it.  Every alt at a
// position may extend a different window or open its own, so each haplotype
// through a multiallelic column is phased separately.  Candidates spanning
// more than one base pass through unchanged, so merging its own output is a
// no-op.  The result is ordered by position, then ref, then alt.  passing
// may be nil.
func Merge(cands []concordant.Candidate, passing Passing, opts Opts) ([]concordant.Candidate, error) {
	if err := ValidateWindow(opts.Window); err != nil {
		return nil, err
	}
	for i := 1; i < len(cands); i++ {
		if cands[i].Pos < cands[i-1].Pos {
			return nil, errors.E(errors.Invalid, "candidates out of order at position", cands[i].Pos)
		}
	}
	m := &merger{opts: opts, passing: passing}
	for i := 0; i < len(cands); {
		j := i
		var snps []concordant.Candidate
		for ; j < len(cands) && cands[j].Pos == cands[i].Pos; j++ {
			if cands[j].IsSNP() {
				snps = append(snps, cands[j])
			} else {
				m.out = append(m.out, cands[j])
			}
		}
		i = j
		if len(snps) > 0 {
			m.step(snps)
		}
	}
	m.flushAll()
	Sort(m.out)
	log.Printf("phase.Merge: %d candidates in, %d out (%d merged, %d merged candidates under minimum support)",
		len(cands), len(m.out), m.merged, m.dropped)
	return m.out, nil
}

// Sort orders candidates by position, then ref, then alt.
func Sort(cands []concordant.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := &cands[i], &cands[j]
		if a.Pos != b.Pos {
			return a.Pos < b.Pos
		}
		if a.Ref != b.Ref {
			return a.Ref < b.Ref
		}
		return a.Alt < b.Alt
	})
}
