package dedup

import (
	"context"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// Stats summarizes a dedup run.
type Stats struct {
	// Fragments is the number of input fragments.
	Fragments int
	// Networks is the number of duplicate networks they formed.
	Networks int
	// Singletons counts networks with one member.
	Singletons int
	// AllUnknown counts networks dropped because no consensus column could
	// be called.
	AllUnknown int
	// AmbiguousColumns counts consensus columns where no allele held the
	// required share of the vote.
	AmbiguousColumns int
	// LowQualityColumns counts columns whose winning allele lacked quality.
	LowQualityColumns int
	// GapColumns counts uncovered or over-long deletion columns.
	GapColumns int
	// EstimatedLibrarySize is the Lander-Waterman estimate of distinct
	// molecules, or 0 when no fragment had a duplicate.
	EstimatedLibrarySize uint64
}

// Add adds the counts in other to s.
func (s *Stats) Add(other *Stats) {
	s.Fragments += other.Fragments
	s.Networks += other.Networks
	s.Singletons += other.Singletons
	s.AllUnknown += other.AllUnknown
	s.AmbiguousColumns += other.AmbiguousColumns
	s.LowQualityColumns += other.LowQualityColumns
	s.GapColumns += other.GapColumns
	s.EstimatedLibrarySize += other.EstimatedLibrarySize
}

// WriteStats writes s to path as a two-line TSV.
func WriteStats(ctx context.Context, path string, s *Stats) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "couldn't create dedup metrics file:", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	w := tsv.NewWriter(out.Writer(ctx))
	w.WriteString("FRAGMENTS\tNETWORKS\tSINGLETONS\tALL_UNKNOWN_DROPPED\tAMBIGUOUS_COLUMNS\tLOW_QUALITY_COLUMNS\tGAP_COLUMNS\tESTIMATED_LIBRARY_SIZE")
	if err = w.EndLine(); err != nil {
		return err
	}
	for _, v := range []int{s.Fragments, s.Networks, s.Singletons, s.AllUnknown,
		s.AmbiguousColumns, s.LowQualityColumns, s.GapColumns} {
		w.WriteUint32(uint32(v))
	}
	w.WriteString(strconv.FormatUint(s.EstimatedLibrarySize, 10))
	if err = w.EndLine(); err != nil {
		return err
	}
	return w.Flush()
}
