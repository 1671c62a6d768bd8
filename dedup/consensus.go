package dedup

import (
	"sort"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/umicall/fragment"
	"github.com/grailbio/umicall/pileup"
)

var (
	// Per-base count of member mates covering the consensus column.
	tagSupport = sam.NewTag("cd")
	// Number of fragments in the network.
	tagNetworkSize = sam.NewTag("cs")
	tagNM          = sam.NewTag("NM")
)

// ConsensusOpts configures Build.
type ConsensusOpts struct {
	// DelThreshold is the longest run of deleted or uncovered columns kept as
	// a deletion; longer runs become unknown bases.
	DelThreshold int
	// MinFraction is the smallest share of the column's quality weight the
	// winning allele needs; below it the column is unknown.
	MinFraction float64
	// MinQual, if positive, marks a column unknown when no supporter of the
	// winning allele reaches this quality.
	MinQual byte
	// Parallelism bounds the number of workers.
	Parallelism int
}

// DefaultConsensusOpts holds the consensus defaults.
var DefaultConsensusOpts = ConsensusOpts{
	DelThreshold: 10,
	MinFraction:  0.5,
	Parallelism:  1,
}

// Consensus is the consensus read of one duplicate network.
type Consensus struct {
	Network int
	Size    int
	// Records holds the consensus R1 and/or R2, R1 first.
	Records []*sam.Record
}

// Name returns the consensus read name for network n: its id in the integer
// convention, followed by the UMI and primer tag.
func (n *Network) Name() string {
	id := fragment.Identifier{Core: strconv.Itoa(n.ID), UMI: n.UMI, Primer: n.Primer}
	return id.String()
}

// Build computes one Consensus per network.  Networks whose consensus holds no
// called base are dropped and counted in the returned Stats.  The result is
// ordered by network id.
func Build(ref *pileup.Reference, header *sam.Header, frags []*fragment.Fragment, networks []Network, opts ConsensusOpts) ([]Consensus, Stats, error) {
	refID, err := ref.CheckHeader(header)
	if err != nil {
		return nil, Stats{}, err
	}
	sref := header.Refs()[refID]
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	if parallelism > len(networks) && len(networks) > 0 {
		parallelism = len(networks)
	}
	results := make([]Consensus, len(networks))
	shardStats := make([]Stats, parallelism)
	err = traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := jobIdx * len(networks) / parallelism
		endIdx := (jobIdx + 1) * len(networks) / parallelism
		stats := &shardStats[jobIdx]
		for i := startIdx; i < endIdx; i++ {
			n := &networks[i]
			c, err := buildOne(ref, sref, frags, n, &opts, stats)
			if err != nil {
				return errors.E(err, "network", n.ID, n.Name())
			}
			results[i] = c
		}
		return nil
	})
	if err != nil {
		return nil, Stats{}, err
	}

	var total Stats
	for i := range shardStats {
		total.Add(&shardStats[i])
	}
	total.Fragments = len(frags)
	total.Networks = len(networks)
	if total.Fragments > total.Networks {
		if total.EstimatedLibrarySize, err = estimateLibrarySize(uint64(total.Fragments), uint64(total.Networks)); err != nil {
			log.Error.Printf("dedup.Build: library size: %v", err)
			total.EstimatedLibrarySize = 0
		}
	}
	out := results[:0]
	for _, c := range results {
		if c.Records != nil {
			out = append(out, c)
		}
	}
	log.Printf("dedup.Build: %d consensus reads from %d networks (%d singletons, %d all-unknown dropped)",
		len(out), len(networks), total.Singletons, total.AllUnknown)
	return out, total, nil
}

func buildOne(ref *pileup.Reference, sref *sam.Reference, frags []*fragment.Fragment, n *Network, opts *ConsensusOpts, stats *Stats) (Consensus, error) {
	c := Consensus{Network: n.ID, Size: len(n.Members)}
	if len(n.Members) == 1 {
		stats.Singletons++
		recs, err := passThrough(frags[n.Members[0]], n.Name())
		if err != nil {
			return c, err
		}
		c.Records = recs
		return c, nil
	}

	var (
		r1s, r2s []*fragment.Mate
		// Template mates supply strand and mapping quality.
		r1Tmpl, r2Tmpl *fragment.Mate
		mapQ           byte
	)
	for _, idx := range n.Members {
		f := frags[idx]
		for i := range f.Mates {
			m := &f.Mates[i]
			if m.Read2 {
				r2s = append(r2s, m)
				if r2Tmpl == nil {
					r2Tmpl = m
				}
			} else {
				r1s = append(r1s, m)
				if r1Tmpl == nil {
					r1Tmpl = m
				}
			}
			if m.Rec != nil && m.Rec.MapQ > mapQ {
				mapQ = m.Rec.MapQ
			}
		}
	}
	var contigs [2]contig
	if len(r1s) > 0 {
		contigs[0] = voteContig(r1s, opts, stats)
	}
	if len(r2s) > 0 {
		contigs[1] = voteContig(r2s, opts, stats)
	}
	if !contigs[0].informative() && !contigs[1].informative() {
		log.Debug.Printf("dedup.Build: network %s has an all-unknown consensus; dropped", n.Name())
		stats.AllUnknown++
		return c, nil
	}

	name := n.Name()
	paired := len(contigs[0].cols) > 0 && len(contigs[1].cols) > 0
	for i, tmpl := range []*fragment.Mate{r1Tmpl, r2Tmpl} {
		if len(contigs[i].cols) == 0 {
			continue
		}
		var flags sam.Flags
		if tmpl.Reverse {
			flags |= sam.Reverse
		}
		if i == 1 {
			flags |= sam.Read2
		} else {
			flags |= sam.Read1
		}
		matePos := -1
		var mateRef *sam.Reference
		if paired {
			flags |= sam.Paired
			mate := [2]*fragment.Mate{r2Tmpl, r1Tmpl}[i]
			if mate.Reverse {
				flags |= sam.MateReverse
			}
			matePos = int(contigs[1-i].start)
			mateRef = sref
		}
		cigar, seq, qual, support, nm := contigs[i].alignment(ref.Seq)
		aux, err := consensusAux(support, len(n.Members), nm)
		if err != nil {
			return c, err
		}
		r, err := sam.NewRecord(name, sref, mateRef, int(contigs[i].start), matePos, 0, mapQ, cigar, seq, qual, aux)
		if err != nil {
			return c, errors.E(errors.Invalid, err, "consensus record", name)
		}
		r.Flags = flags
		c.Records = append(c.Records, r)
	}
	return c, nil
}

func consensusAux(support []uint16, size, nm int) ([]sam.Aux, error) {
	cd, err := sam.NewAux(tagSupport, support)
	if err != nil {
		return nil, err
	}
	cs, err := sam.NewAux(tagNetworkSize, int32(size))
	if err != nil {
		return nil, err
	}
	nmAux, err := sam.NewAux(tagNM, int32(nm))
	if err != nil {
		return nil, err
	}
	return []sam.Aux{nmAux, cd, cs}, nil
}

// passThrough renames the records of a singleton network.  Bases, qualities
// and alignment are kept as they are.
func passThrough(f *fragment.Fragment, name string) ([]*sam.Record, error) {
	recs := make([]*sam.Record, 0, len(f.Mates))
	for i := range f.Mates {
		m := &f.Mates[i]
		r := *m.Rec
		r.Name = name
		support := make([]uint16, len(m.Seq))
		for j := range support {
			support[j] = 1
		}
		aux, err := consensusAux(support, 1, m.NM)
		if err != nil {
			return nil, errors.E(err, "singleton", name)
		}
		r.AuxFields = make(sam.AuxFields, 0, len(m.Rec.AuxFields)+len(aux))
		for _, a := range m.Rec.AuxFields {
			if t := a.Tag(); t != tagSupport && t != tagNetworkSize && t != tagNM {
				r.AuxFields = append(r.AuxFields, a)
			}
		}
		if m.NM < 0 {
			aux = aux[1:]
		}
		r.AuxFields = append(r.AuxFields, aux...)
		recs = append(recs, &r)
	}
	return recs, nil
}

// Fragments converts consensus reads back into fragments, ordered by
// leftmost position, for the pileup scanner.
func Fragments(ref *pileup.Reference, cons []Consensus) ([]*fragment.Fragment, error) {
	frags := make([]*fragment.Fragment, 0, len(cons))
	for _, c := range cons {
		f, err := fragment.New(ref, c.Records...)
		if err != nil {
			return nil, err
		}
		if f.ID, err = fragment.ParseIdentifier(f.Name); err != nil {
			return nil, err
		}
		frags = append(frags, f)
	}
	sort.SliceStable(frags, func(i, j int) bool { return frags[i].Start() < frags[j].Start() })
	return frags, nil
}
