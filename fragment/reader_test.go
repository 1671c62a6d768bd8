package fragment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
)

func sortedRecords(groups ...[]*sam.Record) []*sam.Record {
	var out []*sam.Record
	for _, g := range groups {
		out = append(out, g...)
	}
	// Insertion sort keeps mates of equal position in input order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Pos < out[j-1].Pos; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func TestCollect(t *testing.T) {
	ref, header := NewTestReference("amp", "ACGTACGTACGT")
	sref := header.Refs()[0]
	otherRef, err := sam.NewReference("other", "", "", 100, nil, nil)
	assert.NoError(t, err)

	a := NewTestPair("1_AAA", sref, 0, "4M", "ACGT", 4, "4M", "ACGT")
	b := NewTestPair("2_CCC", sref, 1, "4M", "CGTA", 6, "4M", "GTAC")
	secondary := NewTestRecord("3_GGG", sref, 2, sam.Secondary, "2M", "GT", "", 0)
	unmapped := NewTestRecord("4_TTT", sref, 3, sam.Unmapped, "2M", "TA", "", 0)
	elsewhere := NewTestRecord("5_TTT", otherRef, 3, 0, "2M", "TA", "", 0)
	single := NewTestRecord("6_ACA", sref, 5, 0, "3M", "CGT", "", 0)
	// Paired, but its mate never shows up.
	orphan := NewTestRecord("7_CAC", sref, 8, sam.Paired|sam.Read1, "3M", "ACG", "", 0)

	recs := sortedRecords(a, b, []*sam.Record{secondary, unmapped, elsewhere, single, orphan})
	frags, stats, err := Collect(ref, header, RecordSource(recs), true)
	assert.NoError(t, err)
	var names []string
	for _, f := range frags {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"1_AAA", "2_CCC", "6_ACA", "7_CAC"}, names)
	assert.Equal(t, 2, len(frags[0].Mates))
	assert.Equal(t, 2, len(frags[1].Mates))
	assert.Equal(t, 1, len(frags[2].Mates))
	assert.Equal(t, "AAA", frags[0].ID.UMI)
	assert.Equal(t, Stats{Records: 9, Skipped: 2, OtherContig: 1, UnpairedMates: 1}, stats)
}

func TestCollectErrors(t *testing.T) {
	ref, header := NewTestReference("amp", "ACGTACGT")
	sref := header.Refs()[0]

	// Unsorted input.
	recs := []*sam.Record{
		NewTestRecord("1_A", sref, 4, 0, "2M", "AC", "", 0),
		NewTestRecord("2_A", sref, 1, 0, "2M", "CG", "", 0),
	}
	_, _, err := Collect(ref, header, RecordSource(recs), false)
	assert.True(t, errors.Is(errors.Invalid, err))
	assert.Contains(t, err.Error(), "coordinate-sorted")

	// Alignment past the reference end.
	recs = []*sam.Record{NewTestRecord("1_A", sref, 6, 0, "4M", "GTAC", "", 0)}
	_, _, err = Collect(ref, header, RecordSource(recs), false)
	assert.True(t, errors.Is(errors.Invalid, err))

	// Malformed names abort before any fragment is returned.
	recs = []*sam.Record{
		NewTestRecord("1_A", sref, 0, 0, "2M", "AC", "", 0),
		NewTestRecord("read/2", sref, 1, 0, "2M", "CG", "", 0),
	}
	frags, _, err := Collect(ref, header, RecordSource(recs), false)
	assert.True(t, IsMalformedIdentifier(err))
	assert.Nil(t, frags)

	// Mixed conventions.
	recs = []*sam.Record{
		NewTestRecord("1_A", sref, 0, 0, "2M", "AC", "", 0),
		NewTestRecord("M1:1:FC:1:1:1:1_A", sref, 1, 0, "2M", "CG", "", 0),
	}
	_, _, err = Collect(ref, header, RecordSource(recs), false)
	assert.True(t, IsMalformedIdentifier(err))

	// Reference/header length mismatch.
	shortRef, _ := NewTestReference("amp", "ACGT")
	_, _, err = Collect(shortRef, header, RecordSource(nil), false)
	assert.True(t, errors.Is(errors.Invalid, err))
	assert.Contains(t, err.Error(), "inconsistent lengths")
}

func TestReadBAM(t *testing.T) {
	ctx := vcontext.Background()
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tempDir)

	ref, header := NewTestReference("amp", "ACGTACGTACGT")
	sref := header.Refs()[0]
	recs := sortedRecords(
		NewTestPair("1_AAA", sref, 0, "4M", "ACGT", 4, "4M", "ACGT"),
		NewTestPair("2_AAA", sref, 0, "4M", "ACGT", 5, "4M", "CGTA"),
	)
	path := filepath.Join(tempDir, "in.bam")
	out, err := os.Create(path)
	assert.NoError(t, err)
	w, err := bam.NewWriter(out, header, 1)
	assert.NoError(t, err)
	for _, r := range recs {
		assert.NoError(t, w.Write(r))
	}
	assert.NoError(t, w.Close())
	assert.NoError(t, out.Close())

	frags, gotHeader, err := ReadBAM(ctx, path, ref, true)
	assert.NoError(t, err)
	assert.Equal(t, 1, len(gotHeader.Refs()))
	assert.Equal(t, 2, len(frags))
	assert.Equal(t, "2_AAA", frags[1].Name)
	assert.Equal(t, PosType(5), frags[1].R2().Pos)
	assert.Equal(t, []byte("CGTA"), frags[1].R2().Seq)
	assert.Equal(t, 0, frags[1].EditDistance())

	_, _, err = ReadBAM(ctx, filepath.Join(tempDir, "missing.bam"), ref, true)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing.bam")
}
