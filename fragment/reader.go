package fragment

import (
	"context"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/umicall/pileup"
)

// Stats counts the records Collect set aside.
type Stats struct {
	Records       int
	Skipped       int // unmapped, secondary, supplementary or QC-failed
	OtherContig   int
	UnpairedMates int
}

// Collect pairs the records returned by next, which must be
// coordinate-sorted, into fragments ordered by leftmost mate.  next returns
// io.EOF at the end of input.  Reads aligned to contigs other than ref are
// ignored.  Every fragment name must parse under a single naming convention;
// requireUMI additionally demands a UMI field.
func Collect(ref *pileup.Reference, header *sam.Header, next func() (*sam.Record, error), requireUMI bool) ([]*Fragment, Stats, error) {
	var stats Stats
	if _, err := ref.CheckHeader(header); err != nil {
		return nil, stats, err
	}
	var (
		groups  [][]*sam.Record
		pending = map[string]int{}
		lastPos = -1
	)
	for {
		r, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, err
		}
		stats.Records++
		if r.Flags&(sam.Unmapped|sam.Secondary|sam.Supplementary|sam.QCFail) != 0 {
			log.Debug.Printf("fragment.Collect: skipping %s flags %v", r.Name, r.Flags)
			stats.Skipped++
			continue
		}
		if r.Ref == nil || r.Ref.Name() != ref.Name {
			stats.OtherContig++
			continue
		}
		if r.Pos < lastPos {
			return nil, stats, errors.E(errors.Invalid, "alignments are not coordinate-sorted: read", r.Name,
				"at", r.Pos, "follows position", lastPos)
		}
		lastPos = r.Pos
		if r.Pos < 0 || r.End() > len(ref.Seq) {
			return nil, stats, errors.E(errors.Invalid, "read", r.Name, "aligned to", r.Ref.Name(), r.Pos, r.End(),
				"lies outside reference of length", len(ref.Seq))
		}
		if idx, ok := pending[r.Name]; ok {
			groups[idx] = append(groups[idx], r)
			delete(pending, r.Name)
			continue
		}
		if r.Flags&sam.Paired != 0 && r.Flags&sam.MateUnmapped == 0 && r.MateRef == r.Ref {
			pending[r.Name] = len(groups)
		}
		groups = append(groups, []*sam.Record{r})
	}
	if len(pending) > 0 {
		stats.UnpairedMates = len(pending)
		log.Error.Printf("fragment.Collect: %d reads never met their mates; kept as single-read fragments", len(pending))
	}

	frags := make([]*Fragment, 0, len(groups))
	for _, g := range groups {
		f, err := New(ref, g...)
		if err != nil {
			return nil, stats, err
		}
		if f.ID, err = ParseIdentifier(f.Name); err != nil {
			return nil, stats, err
		}
		frags = append(frags, f)
	}
	if err := CheckNames(frags, requireUMI); err != nil {
		return nil, stats, err
	}
	log.Printf("fragment.Collect: %d fragments from %d records (%d skipped, %d on other contigs)",
		len(frags), stats.Records, stats.Skipped, stats.OtherContig)
	return frags, stats, nil
}

// ReadBAM reads the coordinate-sorted BAM at path and collects its
// fragments against ref.
func ReadBAM(ctx context.Context, path string, ref *pileup.Reference, requireUMI bool) (frags []*Fragment, header *sam.Header, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, errors.E(err, "open alignments", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	br, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		return nil, nil, errors.E(errors.Invalid, err, "read BAM header", path)
	}
	defer func() {
		if e := br.Close(); e != nil && err == nil {
			err = e
		}
	}()
	header = br.Header()
	frags, _, err = Collect(ref, header, br.Read, requireUMI)
	if err != nil {
		return nil, nil, errors.E(err, path)
	}
	return frags, header, nil
}
