package dedup

import (
	"context"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
)

// WriteBAM writes the consensus records, coordinate-sorted, to path.
func WriteBAM(ctx context.Context, path string, header *sam.Header, cons []Consensus, parallelism int) (err error) {
	var recs []*sam.Record
	for _, c := range cons {
		recs = append(recs, c.Records...)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Pos != recs[j].Pos {
			return recs[i].Pos < recs[j].Pos
		}
		return recs[i].Flags&sam.Read2 < recs[j].Flags&sam.Read2
	})

	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create consensus BAM", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	h := header.Clone()
	h.SortOrder = sam.Coordinate
	if parallelism < 1 {
		parallelism = 1
	}
	w, err := bam.NewWriter(out.Writer(ctx), h, parallelism)
	if err != nil {
		return errors.E(err, "write consensus BAM header", path)
	}
	for _, r := range recs {
		if err = w.Write(r); err != nil {
			_ = w.Close()
			return errors.E(err, "write consensus record", r.Name, path)
		}
	}
	if err = w.Close(); err != nil {
		return errors.E(err, path)
	}
	log.Printf("dedup.WriteBAM: wrote %d consensus records to %s", len(recs), path)
	return nil
}
