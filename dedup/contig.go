package dedup

import (
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/umicall/fragment"
	"github.com/grailbio/umicall/pileup"
)

// uncovered marks a contig column no member mate reached.
const uncovered = 0

// tally accumulates the votes cast at one reference column, indexed by the
// pileup base enum.
type tally struct {
	weight  [pileup.NBaseEnum]int
	count   [pileup.NBaseEnum]int
	maxQual [pileup.NBaseEnum]byte
	// first holds the 1-based sequence number of the allele's first vote.
	first   [pileup.NBaseEnum]int
	covered int
}

// better reports whether allele a beats allele b: higher summed quality,
// then more votes, then seen earlier.
func (t *tally) better(a, b int) bool {
	if t.weight[a] != t.weight[b] {
		return t.weight[a] > t.weight[b]
	}
	if t.count[a] != t.count[b] {
		return t.count[a] > t.count[b]
	}
	return t.first[a] < t.first[b]
}

type column struct {
	base    byte // ASCII base, pileup.DeletionChar or uncovered
	qual    byte
	support uint16
}

// contig is a consensus alignment over consecutive reference columns.
type contig struct {
	start PosType
	cols  []column
}

// voteContig merges mates, which may be tiled at different starts, into one
// contig by per-column majority vote.
func voteContig(mates []*fragment.Mate, opts *ConsensusOpts, stats *Stats) contig {
	start, end := pileup.PosTypeMax, PosType(0)
	for _, m := range mates {
		if m.Pos < start {
			start = m.Pos
		}
		if e := m.End(); e > end {
			end = e
		}
	}
	if end <= start {
		return contig{start: start}
	}
	tallies := make([]tally, end-start)
	seq := 0
	var sites []fragment.Site
	for _, m := range mates {
		sites = m.Sites(sites[:0])
		for _, s := range sites {
			t := &tallies[s.Pos-start]
			b := pileup.ASCIIToEnumTable[s.Base]
			seq++
			if t.first[b] == 0 {
				t.first[b] = seq
			}
			t.weight[b] += int(s.Qual)
			t.count[b]++
			if s.Qual > t.maxQual[b] {
				t.maxQual[b] = s.Qual
			}
			t.covered++
		}
	}

	c := contig{start: start, cols: make([]column, len(tallies))}
	for i := range tallies {
		t := &tallies[i]
		if t.covered == 0 {
			continue
		}
		win := -1
		totalWeight := 0
		for b := 0; b < pileup.NBaseEnum; b++ {
			if t.count[b] == 0 {
				continue
			}
			totalWeight += t.weight[b]
			if win < 0 || t.better(b, win) {
				win = b
			}
		}
		support := clampSupport(t.covered)
		var frac float64
		if totalWeight > 0 {
			frac = float64(t.weight[win]) / float64(totalWeight)
		} else {
			frac = float64(t.count[win]) / float64(t.covered)
		}
		// Ambiguity takes precedence over low quality.
		if frac < opts.MinFraction {
			c.cols[i] = column{base: pileup.UnknownBase, support: support}
			stats.AmbiguousColumns++
			continue
		}
		if t.maxQual[win] < opts.MinQual {
			c.cols[i] = column{base: pileup.UnknownBase, support: support}
			stats.LowQualityColumns++
			continue
		}
		c.cols[i] = column{base: pileup.EnumToASCIITable[win], qual: t.maxQual[win], support: support}
	}
	c.maskGaps(opts.DelThreshold, stats)
	c.trim()
	return c
}

func clampSupport(n int) uint16 {
	if n > 0xffff {
		return 0xffff
	}
	return uint16(n)
}

// maskGaps replaces uncovered columns, and runs of deleted or uncovered
// columns longer than delThreshold, with the unknown base.
func (c *contig) maskGaps(delThreshold int, stats *Stats) {
	for i := 0; i < len(c.cols); {
		if b := c.cols[i].base; b != uncovered && b != pileup.DeletionChar {
			i++
			continue
		}
		j := i
		for j < len(c.cols) && (c.cols[j].base == uncovered || c.cols[j].base == pileup.DeletionChar) {
			j++
		}
		wide := j-i > delThreshold
		for k := i; k < j; k++ {
			if wide || c.cols[k].base == uncovered {
				c.cols[k].base = pileup.UnknownBase
				c.cols[k].qual = 0
				stats.GapColumns++
			}
		}
		i = j
	}
}

// trim drops deleted columns at either end.
func (c *contig) trim() {
	for len(c.cols) > 0 && c.cols[0].base == pileup.DeletionChar {
		c.cols = c.cols[1:]
		c.start++
	}
	for len(c.cols) > 0 && c.cols[len(c.cols)-1].base == pileup.DeletionChar {
		c.cols = c.cols[:len(c.cols)-1]
	}
}

// informative reports whether any column holds a called base.
func (c *contig) informative() bool {
	for _, col := range c.cols {
		if pileup.ASCIIToEnumTable[col.base] < pileup.NBase {
			return true
		}
	}
	return false
}

// alignment renders the contig as CIGAR, bases, qualities and per-base
// support, plus its edit distance against ref.  Unknown bases do not count
// toward the distance.
func (c *contig) alignment(ref []byte) (cigar sam.Cigar, seq, qual []byte, support []uint16, nm int) {
	var (
		opType sam.CigarOpType = sam.CigarMatch
		opLen  int
	)
	flush := func() {
		if opLen > 0 {
			cigar = append(cigar, sam.NewCigarOp(opType, opLen))
		}
	}
	for i, col := range c.cols {
		t := sam.CigarMatch
		if col.base == pileup.DeletionChar {
			t = sam.CigarDeletion
			nm++
		} else {
			seq = append(seq, col.base)
			qual = append(qual, col.qual)
			support = append(support, col.support)
			// Unknown columns are masked gaps or unresolved votes, not edits.
			if col.base != pileup.UnknownBase && col.base != ref[int(c.start)+i] {
				nm++
			}
		}
		if t != opType {
			flush()
			opType, opLen = t, 0
		}
		opLen++
	}
	flush()
	return
}
