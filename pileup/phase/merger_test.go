package phase

import (
	"math/rand"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/umicall/fragment"
	"github.com/grailbio/umicall/interval"
	"github.com/grailbio/umicall/pileup/concordant"
	"github.com/stretchr/testify/assert"
)

type passingMap map[concordant.PosType][]int32

func (p passingMap) Passing(pos concordant.PosType) []int32 { return p[pos] }

func snp(pos concordant.PosType, ref, alt string, total int, support ...int32) concordant.Candidate {
	return concordant.Candidate{Pos: pos, Ref: ref, Alt: alt, Support: support, Total: total}
}

var allPassing = passingMap{
	10: {0, 1, 2, 3, 4},
	11: {0, 1, 2, 3, 4},
	12: {0, 1, 2, 3},
	13: {0, 1, 2, 3, 4},
}

func TestMergeWindow(t *testing.T) {
	cands := []concordant.Candidate{
		snp(10, "A", "C", 5, 0, 1, 2, 3),
		snp(11, "C", "G", 5, 0, 1, 2),
		snp(12, "G", "T", 4, 1, 2, 3),
	}
	got, err := Merge(cands, allPassing, Opts{Window: 3, MinSupport: 1})
	assert.NoError(t, err)
	assert.Equal(t, []concordant.Candidate{
		{Pos: 10, Ref: "ACG", Alt: "CGT", Support: []int32{1, 2}, Total: 4},
	}, got)
	assert.Equal(t, 0.5, got[0].AF())

	got, err = Merge(cands, allPassing, Opts{Window: 1, MinSupport: 1})
	assert.NoError(t, err)
	assert.Equal(t, cands, got)

	got, err = Merge(cands, allPassing, Opts{Window: 2, MinSupport: 1})
	assert.NoError(t, err)
	assert.Equal(t, []concordant.Candidate{
		{Pos: 10, Ref: "AC", Alt: "CG", Support: []int32{0, 1, 2}, Total: 5},
		cands[2],
	}, got)

	// Without column data the total is the smallest component total.
	got, err = Merge(cands, nil, Opts{Window: 3, MinSupport: 1})
	assert.NoError(t, err)
	assert.Equal(t, 4, got[0].Total)
}

func TestMergeRequiresPhase(t *testing.T) {
	// Adjacent but carried by different fragments.
	cands := []concordant.Candidate{
		snp(10, "A", "C", 5, 0, 1),
		snp(11, "C", "G", 5, 2, 3),
		snp(13, "T", "A", 5, 2, 3),
	}
	got, err := Merge(cands, allPassing, Opts{Window: 3, MinSupport: 1})
	assert.NoError(t, err)
	assert.Equal(t, cands, got)

	// The third SNP shares a fragment with the second but not with the
	// first, so it opens a new window.
	cands = []concordant.Candidate{
		snp(10, "A", "C", 5, 0, 1),
		snp(11, "C", "G", 5, 1, 2),
		snp(12, "G", "T", 4, 2, 3),
	}
	got, err = Merge(cands, allPassing, Opts{Window: 3, MinSupport: 1})
	assert.NoError(t, err)
	assert.Equal(t, []concordant.Candidate{
		{Pos: 10, Ref: "AC", Alt: "CG", Support: []int32{1}, Total: 5},
		cands[2],
	}, got)
}

func TestMergeMinSupport(t *testing.T) {
	cands := []concordant.Candidate{
		snp(10, "A", "C", 5, 0, 1, 2),
		snp(11, "C", "G", 5, 2, 3, 4),
	}
	got, err := Merge(cands, allPassing, Opts{Window: 3, MinSupport: 2})
	assert.NoError(t, err)
	assert.Equal(t, 0, len(got))

	got, err = Merge(cands, allPassing, Opts{Window: 3, MinSupport: 1})
	assert.NoError(t, err)
	assert.Equal(t, []concordant.Candidate{{Pos: 10, Ref: "AC", Alt: "CG", Support: []int32{2}, Total: 5}}, got)
}

func TestMergeMultiallelic(t *testing.T) {
	cands := []concordant.Candidate{
		snp(10, "A", "C", 5, 0, 1, 2),
		snp(11, "C", "A", 5, 0, 3),
		snp(11, "C", "T", 5, 1, 2, 4),
	}
	got, err := Merge(cands, allPassing, Opts{Window: 3, MinSupport: 1})
	assert.NoError(t, err)
	assert.Equal(t, []concordant.Candidate{
		{Pos: 10, Ref: "AC", Alt: "CT", Support: []int32{1, 2}, Total: 5},
		cands[1],
	}, got)
}

// Each alt at a multiallelic column phases with its own neighbors.
func TestMergeHaplotypesThroughMultiallelicColumn(t *testing.T) {
	cands := []concordant.Candidate{
		snp(4, "G", "A", 5, 0, 1, 2),
		snp(5, "T", "A", 5, 0, 1, 2),
		snp(5, "T", "C", 5, 3, 4),
		snp(6, "A", "G", 5, 3, 4),
	}
	passing := passingMap{4: {0, 1, 2, 3, 4}, 5: {0, 1, 2, 3, 4}, 6: {0, 1, 2, 3, 4}}
	opts := Opts{Window: 3, MinSupport: 1}
	want := []concordant.Candidate{
		{Pos: 4, Ref: "GT", Alt: "AA", Support: []int32{0, 1, 2}, Total: 5},
		{Pos: 5, Ref: "TA", Alt: "CG", Support: []int32{3, 4}, Total: 5},
	}
	got, err := Merge(cands, passing, opts)
	assert.NoError(t, err)
	assert.Equal(t, want, got)
	got, err = Merge(got, passing, opts)
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestValidateWindow(t *testing.T) {
	for _, w := range []int{1, 2, 3} {
		assert.NoError(t, ValidateWindow(w))
	}
	for _, w := range []int{-1, 0, 4} {
		err := ValidateWindow(w)
		assert.True(t, errors.Is(errors.Invalid, err), "window %d", w)
		_, err = Merge(nil, nil, Opts{Window: w, MinSupport: 1})
		assert.Error(t, err)
	}
	_, err := Merge([]concordant.Candidate{snp(5, "A", "C", 1, 0), snp(4, "A", "C", 1, 0)}, nil, Opts{Window: 3, MinSupport: 1})
	assert.Error(t, err)
}

func TestMergeIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(0))
	for iter := 0; iter < 500; iter++ {
		var cands []concordant.Candidate
		passing := passingMap{}
		for pos := concordant.PosType(0); pos < 12; pos++ {
			passing[pos] = []int32{0, 1, 2, 3, 4, 5}
			if rng.Intn(3) == 0 {
				continue
			}
			for _, alt := range []string{"C", "G", "T"}[:1+rng.Intn(3)] {
				var support []int32
				for id := int32(0); id < 6; id++ {
					if rng.Intn(2) == 0 {
						support = append(support, id)
					}
				}
				if len(support) == 0 {
					continue
				}
				cands = append(cands, snp(pos, "A", alt, 6, support...))
			}
		}
		for _, window := range []int{1, 2, 3} {
			opts := Opts{Window: window, MinSupport: 1 + rng.Intn(2)}
			once, err := Merge(cands, passing, opts)
			assert.NoError(t, err)
			twice, err := Merge(append([]concordant.Candidate(nil), once...), passing, opts)
			assert.NoError(t, err)
			assert.Equal(t, once, twice, "iter %d window %d", iter, window)
		}
	}
}

// Two fragments both carry G>A and T>C at 0-based 2 and 3.
func TestScanAndMergeDinucleotide(t *testing.T) {
	ref, header := fragment.NewTestReference("amp", "ACGTACGT")
	sref := header.Refs()[0]
	var frags []*fragment.Fragment
	for _, name := range []string{"1", "2"} {
		f, err := fragment.New(ref, fragment.NewTestPair(name, sref, 0, "8M", "ACACACGT", 0, "8M", "ACACACGT")...)
		assert.NoError(t, err)
		frags = append(frags, f)
	}
	opts := concordant.Opts{MinBaseQual: 30, MaxNM: 10, MinSupport: 2, Parallelism: 2}
	res, err := concordant.Scan(ref, interval.WholeContig("amp", ref.Len()), frags, opts)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(res.Candidates))

	got, err := Merge(res.Candidates, res, Opts{Window: 3, MinSupport: 2})
	assert.NoError(t, err)
	assert.Equal(t, []concordant.Candidate{
		{Pos: 2, Ref: "GT", Alt: "AC", Support: []int32{0, 1}, Total: 2},
	}, got)
	assert.Equal(t, 1.0, got[0].AF())
}
