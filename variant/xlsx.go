package variant

import (
	"context"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/xuri/excelize/v2"
)

// CallsSheet names the worksheet written by WriteXLSX.
const CallsSheet = "calls"

var xlsxTitle = []string{"CHROM", "POS", "REF", "ALT", "TYPE", "DP", "AO", "AF",
	"REF_CODON", "ALT_CODON", "REF_AA", "ALT_AA", "AA_POS", "MATCHES_MUT_SIG"}

func xlsxRow(r *Record) []interface{} {
	row := []interface{}{r.Chrom, int(r.Pos) + 1, r.Ref, r.Alt, r.Type.String(), r.Depth, r.Support, r.AF}
	if e := r.Effect; e != nil {
		row = append(row, strings.Join(e.RefCodons, ","), strings.Join(e.AltCodons, ","),
			e.RefAA, e.AltAA, e.AAPos, e.MatchesMutSig)
	}
	return row
}

// WriteXLSX writes recs as one row each to the calls sheet of a workbook at
// path.  POS is 1-based, as in the VCF.
func WriteXLSX(ctx context.Context, path string, recs []Record) (err error) {
	xlsx := excelize.NewFile()
	defer func() {
		if e := xlsx.Close(); e != nil && err == nil {
			err = e
		}
	}()
	if _, err = xlsx.NewSheet(CallsSheet); err != nil {
		return errors.E(err, "xlsx sheet", CallsSheet)
	}
	if err = xlsx.DeleteSheet("Sheet1"); err != nil {
		return errors.E(err, "xlsx default sheet")
	}
	if err = xlsx.SetSheetRow(CallsSheet, "A1", &xlsxTitle); err != nil {
		return errors.E(err, "xlsx title")
	}
	for i := range recs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := xlsxRow(&recs[i])
		if err = xlsx.SetSheetRow(CallsSheet, cell, &row); err != nil {
			return errors.E(err, "xlsx row", recs[i].String())
		}
	}

	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create xlsx", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	if err = xlsx.Write(out.Writer(ctx)); err != nil {
		return errors.E(err, "write xlsx", path)
	}
	log.Printf("variant.WriteXLSX: wrote %d records to %s", len(recs), path)
	return nil
}
