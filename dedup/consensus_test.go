package dedup

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/umicall/fragment"
	"github.com/grailbio/umicall/interval"
	"github.com/grailbio/umicall/pileup"
	"github.com/grailbio/umicall/pileup/concordant"
	"github.com/stretchr/testify/assert"
)

func network(id int, umi string, members ...int) Network {
	return Network{ID: id, UMI: umi, Members: members}
}

func auxValue(t *testing.T, r *sam.Record, tag sam.Tag) interface{} {
	aux := r.AuxFields.Get(tag)
	if !assert.NotNil(t, aux, "tag %v missing from %s", tag, r.Name) {
		return nil
	}
	return aux.Value()
}

func phred(s string) []byte {
	q := []byte(s)
	for i := range q {
		q[i] -= 33
	}
	return q
}

func TestSingletonPassesThrough(t *testing.T) {
	ref, header := fragment.NewTestReference("amp", "ACGTACGTACGTACGTACGT")
	sref := header.Refs()[0]
	pair := fragment.NewTestPair("9_ACGT", sref, 1, "2S3M1I2M2D2M", "TTCGTGACAC", 10, "4M", "ATAC")
	pair[0].Qual = phred("#+5?I#+5?I")
	f := newFragment(t, ref, pair...)

	cons, stats, err := Build(ref, header, []*fragment.Fragment{f}, []Network{network(0, "ACGT", 0)}, DefaultConsensusOpts)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(cons))
	assert.Equal(t, 1, stats.Singletons)
	c := cons[0]
	assert.Equal(t, 1, c.Size)
	assert.Equal(t, 2, len(c.Records))
	for i, r := range c.Records {
		assert.Equal(t, "0_ACGT", r.Name)
		assert.Equal(t, pair[i].Pos, r.Pos)
		assert.Equal(t, pair[i].Cigar, r.Cigar)
		assert.Equal(t, pair[i].Seq.Expand(), r.Seq.Expand())
		assert.Equal(t, pair[i].Qual, r.Qual)
		assert.Equal(t, pair[i].Flags, r.Flags)
		assert.Equal(t, int32(1), auxValue(t, r, tagNetworkSize))
		assert.Equal(t, len(pair[i].Qual), len(auxValue(t, r, tagSupport).([]uint16)))
	}
	// The member's own record is untouched.
	assert.Equal(t, "9_ACGT", pair[0].Name)
}

func TestPassThroughWithoutNM(t *testing.T) {
	_, header := fragment.NewTestReference("amp", "ACGTACGT")
	r := fragment.NewTestRecord("3_AC", header.Refs()[0], 0, 0, "4M", "ACGT", "", -1)
	f, err := fragment.New(nil, r)
	assert.NoError(t, err)
	recs, err := passThrough(f, "0_AC")
	assert.NoError(t, err)
	assert.Equal(t, 1, len(recs))
	assert.Equal(t, "0_AC", recs[0].Name)
	assert.Nil(t, recs[0].AuxFields.Get(tagNM))
	assert.Equal(t, []uint16{1, 1, 1, 1}, auxValue(t, recs[0], tagSupport))
	assert.Equal(t, int32(1), auxValue(t, recs[0], tagNetworkSize))
}

func TestConsensusVote(t *testing.T) {
	ref, header := fragment.NewTestReference("amp", "ACGTACGTAC")
	sref := header.Refs()[0]
	frags := []*fragment.Fragment{
		newFragment(t, ref, fragment.NewTestRecord("1_AAA", sref, 0, 0, "4M", "ACGT", "????", -1)),
		newFragment(t, ref, fragment.NewTestRecord("2_AAA", sref, 0, 0, "4M", "ACGA", "??+?", -1)),
		newFragment(t, ref, fragment.NewTestRecord("3_AAA", sref, 0, 0, "4M", "ATAT", "?II?", -1)),
	}
	cons, _, err := Build(ref, header, frags, []Network{network(0, "AAA", 0, 1, 2)}, DefaultConsensusOpts)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(cons))
	r := cons[0].Records[0]
	assert.Equal(t, "0_AAA", r.Name)
	assert.Equal(t, 0, r.Pos)
	assert.Equal(t, "4M", r.Cigar.String())
	// Column 1: C wins on summed quality.  Column 2: G and A tie on quality,
	// G wins on count.
	assert.Equal(t, []byte("ACGT"), r.Seq.Expand())
	assert.Equal(t, []byte{30, 30, 30, 30}, r.Qual)
	assert.Equal(t, []uint16{3, 3, 3, 3}, auxValue(t, r, tagSupport))
	assert.Equal(t, int32(3), auxValue(t, r, tagNetworkSize))
	assert.Equal(t, int32(0), auxValue(t, r, tagNM))
	assert.Equal(t, sam.Read1, r.Flags)
}

func TestConsensusFirstObservedTieBreak(t *testing.T) {
	ref, header := fragment.NewTestReference("amp", "ACGTACGTAC")
	sref := header.Refs()[0]
	x := newFragment(t, ref, fragment.NewTestRecord("1_AAA", sref, 0, 0, "2M", "AC", "??", -1))
	y := newFragment(t, ref, fragment.NewTestRecord("2_AAA", sref, 0, 0, "2M", "AG", "??", -1))

	cons, _, err := Build(ref, header, []*fragment.Fragment{x, y}, []Network{network(0, "AAA", 0, 1)}, DefaultConsensusOpts)
	assert.NoError(t, err)
	assert.Equal(t, []byte("AC"), cons[0].Records[0].Seq.Expand())

	cons, _, err = Build(ref, header, []*fragment.Fragment{y, x}, []Network{network(0, "AAA", 0, 1)}, DefaultConsensusOpts)
	assert.NoError(t, err)
	assert.Equal(t, []byte("AG"), cons[0].Records[0].Seq.Expand())
	assert.Equal(t, int32(1), auxValue(t, cons[0].Records[0], tagNM))
}

func TestConsensusUnknownColumns(t *testing.T) {
	ref, header := fragment.NewTestReference("amp", "ACGTACGTAC")
	sref := header.Refs()[0]
	frags := []*fragment.Fragment{
		newFragment(t, ref, fragment.NewTestRecord("1_AAA", sref, 0, 0, "3M", "ACA", "???", -1)),
		newFragment(t, ref, fragment.NewTestRecord("2_AAA", sref, 0, 0, "3M", "ACC", "???", -1)),
		newFragment(t, ref, fragment.NewTestRecord("3_AAA", sref, 0, 0, "3M", "ACT", "???", -1)),
	}
	nets := []Network{network(0, "AAA", 0, 1, 2)}

	cons, stats, err := Build(ref, header, frags, nets, DefaultConsensusOpts)
	assert.NoError(t, err)
	assert.Equal(t, []byte("ACN"), cons[0].Records[0].Seq.Expand())
	assert.Equal(t, byte(0), cons[0].Records[0].Qual[2])
	assert.Equal(t, 1, stats.AmbiguousColumns)

	// Low quality applies only to columns that are not ambiguous.
	opts := DefaultConsensusOpts
	opts.MinQual = 35
	cons, stats, err = Build(ref, header, frags, nets, opts)
	assert.NoError(t, err)
	assert.Equal(t, 0, len(cons))
	assert.Equal(t, 1, stats.AmbiguousColumns)
	assert.Equal(t, 2, stats.LowQualityColumns)
	assert.Equal(t, 1, stats.AllUnknown)
}

func TestConsensusAllUnknownDropped(t *testing.T) {
	ref, header := fragment.NewTestReference("amp", "ACGTACGTAC")
	sref := header.Refs()[0]
	frags := []*fragment.Fragment{
		newFragment(t, ref, fragment.NewTestRecord("1_AAA", sref, 0, 0, "1M", "A", "", -1)),
		newFragment(t, ref, fragment.NewTestRecord("2_AAA", sref, 0, 0, "1M", "C", "", -1)),
		newFragment(t, ref, fragment.NewTestRecord("3_AAA", sref, 0, 0, "1M", "G", "", -1)),
		newFragment(t, ref, fragment.NewTestRecord("4_CCC", sref, 0, 0, "1M", "A", "", -1)),
	}
	cons, stats, err := Build(ref, header, frags, []Network{network(0, "AAA", 0, 1, 2), network(1, "CCC", 3)}, DefaultConsensusOpts)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(cons))
	assert.Equal(t, 1, cons[0].Network)
	assert.Equal(t, Stats{Fragments: 4, Networks: 2, Singletons: 1, AllUnknown: 1, AmbiguousColumns: 1}, stats)
}

func TestConsensusTiledGaps(t *testing.T) {
	refSeq := "ACGTACGTACGTACGTACGTACGTACGTACGTACGTACGT"
	ref, header := fragment.NewTestReference("amp", refSeq)
	sref := header.Refs()[0]
	frags := []*fragment.Fragment{
		newFragment(t, ref, fragment.NewTestPair("1_AAA", sref, 0, "4M", "ACGT", 10, "4M", refSeq[10:14])...),
		newFragment(t, ref, fragment.NewTestPair("2_AAA", sref, 0, "4M", "ACGT", 16, "4M", refSeq[16:20])...),
	}
	cons, stats, err := Build(ref, header, frags, []Network{network(0, "AAA", 0, 1)}, DefaultConsensusOpts)
	assert.NoError(t, err)
	recs := cons[0].Records
	assert.Equal(t, 2, len(recs))
	r1, r2 := recs[0], recs[1]
	assert.Equal(t, sam.Paired|sam.Read1|sam.MateReverse, r1.Flags)
	assert.Equal(t, sam.Paired|sam.Read2|sam.Reverse, r2.Flags)
	assert.Equal(t, 10, r1.MatePos)
	assert.Equal(t, 0, r2.MatePos)
	assert.Equal(t, 10, r2.Pos)
	assert.Equal(t, "10M", r2.Cigar.String())
	assert.Equal(t, refSeq[10:14]+"NN"+refSeq[16:20], string(r2.Seq.Expand()))
	assert.Equal(t, []uint16{1, 1, 1, 1, 0, 0, 1, 1, 1, 1}, auxValue(t, r2, tagSupport))
	assert.Equal(t, 2, stats.GapColumns)
}

func TestConsensusDeletionThreshold(t *testing.T) {
	refSeq := "ACGTACGTACGTACGT"
	ref, header := fragment.NewTestReference("amp", refSeq)
	sref := header.Refs()[0]
	frags := []*fragment.Fragment{
		newFragment(t, ref, fragment.NewTestRecord("1_AAA", sref, 0, 0, "2M5D2M", "ACTA", "", -1)),
		newFragment(t, ref, fragment.NewTestRecord("2_AAA", sref, 0, 0, "2M5D2M", "ACTA", "", -1)),
	}
	nets := []Network{network(0, "AAA", 0, 1)}

	cons, stats, err := Build(ref, header, frags, nets, DefaultConsensusOpts)
	assert.NoError(t, err)
	r := cons[0].Records[0]
	assert.Equal(t, "2M5D2M", r.Cigar.String())
	assert.Equal(t, []byte("ACTA"), r.Seq.Expand())
	assert.Equal(t, int32(5), auxValue(t, r, tagNM))
	assert.Equal(t, 0, stats.GapColumns)

	opts := DefaultConsensusOpts
	opts.DelThreshold = 4
	cons, stats, err = Build(ref, header, frags, nets, opts)
	assert.NoError(t, err)
	r = cons[0].Records[0]
	assert.Equal(t, "9M", r.Cigar.String())
	assert.Equal(t, []byte("ACNNNNNTA"), r.Seq.Expand())
	assert.Equal(t, int32(0), auxValue(t, r, tagNM))
	assert.Equal(t, 5, stats.GapColumns)
}

// A wide gap between R2 tiles is masked without pushing the molecule over the
// edit-distance limit, so its R1 calls still count.
func TestConsensusGapKeepsMolecule(t *testing.T) {
	refSeq := strings.Repeat("ACGT", 15)
	ref, header := fragment.NewTestReference("amp", refSeq)
	sref := header.Refs()[0]
	r1 := refSeq[:3] + "A" + refSeq[4:10]
	var frags []*fragment.Fragment
	for _, umi := range []string{"AAA", "CCC"} {
		frags = append(frags,
			newFragment(t, ref, fragment.NewTestPair("1_"+umi, sref, 0, "10M", r1, 20, "10M", refSeq[20:30])...),
			newFragment(t, ref, fragment.NewTestPair("2_"+umi, sref, 0, "10M", r1, 45, "10M", refSeq[45:55])...))
	}
	nets := []Network{network(0, "AAA", 0, 1), network(1, "CCC", 2, 3)}
	cons, stats, err := Build(ref, header, frags, nets, DefaultConsensusOpts)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(cons))
	assert.Equal(t, 2*15, stats.GapColumns)
	for _, c := range cons {
		assert.Equal(t, int32(1), auxValue(t, c.Records[0], tagNM))
		r2 := c.Records[1]
		assert.Equal(t, "35M", r2.Cigar.String())
		assert.Equal(t, refSeq[20:30]+strings.Repeat("N", 15)+refSeq[45:55], string(r2.Seq.Expand()))
		assert.Equal(t, int32(0), auxValue(t, r2, tagNM))
	}

	consFrags, err := Fragments(ref, cons)
	assert.NoError(t, err)
	opts := concordant.Opts{MinBaseQual: 30, MaxNM: 10, MinSupport: 2, Parallelism: 1}
	res, err := concordant.Scan(ref, interval.WholeContig(ref.Name, ref.Len()), consFrags, opts)
	assert.NoError(t, err)
	assert.Equal(t, 0, res.ExcludedFragments)
	assert.Equal(t, 2, len(res.Passing(3)))
	assert.Equal(t, 1, len(res.Candidates))
	c := res.Candidates[0]
	assert.Equal(t, PosType(3), c.Pos)
	assert.Equal(t, "T", c.Ref)
	assert.Equal(t, "A", c.Alt)
	assert.Equal(t, 2, len(c.Support))
	// Masked columns add no depth.
	assert.Equal(t, 0, len(res.Passing(35)))
}

// Every called consensus base must have been observed at its column by at
// least one member.
func TestConsensusBasesObserved(t *testing.T) {
	const refLen = 30
	rng := rand.New(rand.NewSource(0))
	refBytes := make([]byte, refLen)
	for i := range refBytes {
		refBytes[i] = "ACGT"[rng.Intn(4)]
	}
	ref, header := fragment.NewTestReference("amp", string(refBytes))
	sref := header.Refs()[0]

	for iter := 0; iter < 200; iter++ {
		n := 2 + rng.Intn(5)
		var frags []*fragment.Fragment
		var idx []int
		for i := 0; i < n; i++ {
			pos := rng.Intn(10)
			m1, d, m2 := 1+rng.Intn(8), rng.Intn(4), 1+rng.Intn(8)
			cigar := strings.Join([]string{strconv.Itoa(m1), "M", strconv.Itoa(d), "D", strconv.Itoa(m2), "M"}, "")
			if d == 0 {
				cigar = strconv.Itoa(m1+m2) + "M"
			}
			seq := make([]byte, m1+m2)
			qual := make([]byte, m1+m2)
			for j := range seq {
				seq[j] = "ACGTN"[rng.Intn(5)]
				qual[j] = byte(33 + rng.Intn(41))
			}
			r := fragment.NewTestRecord(strconv.Itoa(i)+"_AAA", sref, pos, 0, cigar, string(seq), string(qual), -1)
			frags = append(frags, newFragment(t, ref, r))
			idx = append(idx, i)
		}
		opts := DefaultConsensusOpts
		opts.DelThreshold = rng.Intn(4)
		cons, _, err := Build(ref, header, frags, []Network{network(0, "AAA", idx...)}, opts)
		assert.NoError(t, err)
		if len(cons) == 0 {
			continue
		}
		observed := map[fragment.PosType]map[byte]bool{}
		var sites []fragment.Site
		for _, f := range frags {
			sites = f.Mates[0].Sites(sites[:0])
			for _, s := range sites {
				if observed[s.Pos] == nil {
					observed[s.Pos] = map[byte]bool{}
				}
				observed[s.Pos][s.Base] = true
			}
		}
		cf, err := fragment.New(ref, cons[0].Records...)
		assert.NoError(t, err)
		for _, s := range cf.Mates[0].Sites(nil) {
			if s.Base == pileup.UnknownBase {
				continue
			}
			assert.True(t, observed[s.Pos][s.Base], "iter %d: consensus %c at %d never observed", iter, s.Base, s.Pos)
		}
	}
}
