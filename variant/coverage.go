package variant

import (
	"context"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/umicall/pileup/concordant"
)

// WriteCoverage writes one BED row per scanned column: 0-based start,
// exclusive end, reference base and the number of passing fragments.
func WriteCoverage(w io.Writer, chrom string, cols []concordant.Column) error {
	tsvw := tsv.NewWriter(w)
	tsvw.WriteString("#CHROM\tSTART\tEND\tREF\tDEPTH")
	if err := tsvw.EndLine(); err != nil {
		return err
	}
	for i := range cols {
		col := &cols[i]
		tsvw.WriteString(chrom)
		tsvw.WriteUint32(uint32(col.Pos))
		tsvw.WriteUint32(uint32(col.Pos + 1))
		tsvw.WriteByte(col.Ref)
		tsvw.WriteUint32(uint32(col.Depth()))
		if err := tsvw.EndLine(); err != nil {
			return err
		}
	}
	return tsvw.Flush()
}

// WriteCoverageFile writes the coverage summary to path.
func WriteCoverageFile(ctx context.Context, path, chrom string, cols []concordant.Column) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create coverage summary", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	if err = WriteCoverage(out.Writer(ctx), chrom, cols); err != nil {
		return errors.E(err, "write coverage summary", path)
	}
	return nil
}
