package variant

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
)

// VCFHeader carries the metadata lines of a VCF.
type VCFHeader struct {
	Source    string
	Reference string
	Contig    string
	ContigLen int
	// Annotated adds the codon INFO keys.
	Annotated bool
}

var infoLines = []string{
	`##INFO=<ID=TYPE,Number=1,Type=String,Description="Call type, SNP or MNP">`,
	`##INFO=<ID=DP,Number=1,Type=Integer,Description="Fragments passing filters over the call span">`,
	`##INFO=<ID=AO,Number=1,Type=Integer,Description="Fragments supporting the alternate allele">`,
	`##INFO=<ID=AF,Number=1,Type=Float,Description="Allele fraction, AO/DP">`,
}

var annotationLines = []string{
	`##INFO=<ID=REF_CODON,Number=.,Type=String,Description="Reference codons touched by the call">`,
	`##INFO=<ID=ALT_CODON,Number=.,Type=String,Description="Alternate codons">`,
	`##INFO=<ID=REF_AA,Number=1,Type=String,Description="Reference amino acids">`,
	`##INFO=<ID=ALT_AA,Number=1,Type=String,Description="Alternate amino acids">`,
	`##INFO=<ID=AA_POS,Number=1,Type=Integer,Description="1-based position of the first affected amino acid">`,
	`##INFO=<ID=MATCHES_MUT_SIG,Number=0,Type=Flag,Description="Every alternate codon fits the mutagenesis signature">`,
}

// WriteVCF writes records, which must already be sorted, as VCFv4.2.
func WriteVCF(w io.Writer, h VCFHeader, recs []Record) error {
	tsvw := tsv.NewWriter(w)
	lines := []string{
		"##fileformat=VCFv4.2",
		"##source=" + h.Source,
	}
	if h.Reference != "" {
		lines = append(lines, "##reference="+h.Reference)
	}
	lines = append(lines, fmt.Sprintf("##contig=<ID=%s,length=%d>", h.Contig, h.ContigLen))
	lines = append(lines, infoLines...)
	if h.Annotated {
		lines = append(lines, annotationLines...)
	}
	lines = append(lines, "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO")
	for _, l := range lines {
		tsvw.WriteString(l)
		if err := tsvw.EndLine(); err != nil {
			return err
		}
	}
	for i := range recs {
		r := &recs[i]
		tsvw.WriteString(r.Chrom)
		tsvw.WriteUint32(uint32(r.Pos + 1)) // POS (1-based in VCF text)
		tsvw.WriteByte('.')
		tsvw.WriteString(r.Ref)
		tsvw.WriteString(r.Alt)
		tsvw.WriteByte('.')
		tsvw.WriteString("PASS")
		tsvw.WriteString(info(r))
		if err := tsvw.EndLine(); err != nil {
			return err
		}
	}
	return tsvw.Flush()
}

func info(r *Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TYPE=%s;DP=%d;AO=%d;AF=%s", r.Type, r.Depth, r.Support, strconv.FormatFloat(r.AF, 'g', 6, 64))
	if e := r.Effect; e != nil {
		fmt.Fprintf(&b, ";REF_CODON=%s;ALT_CODON=%s;REF_AA=%s;ALT_AA=%s;AA_POS=%d",
			strings.Join(e.RefCodons, ","), strings.Join(e.AltCodons, ","), e.RefAA, e.AltAA, e.AAPos)
		if e.MatchesMutSig {
			b.WriteString(";MATCHES_MUT_SIG")
		}
	}
	return b.String()
}

// WriteVCFFile writes the VCF to path, BGZF-compressed when path ends in
// ".gz".
func WriteVCFFile(ctx context.Context, path string, h VCFHeader, recs []Record, parallelism int) (err error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "create VCF", path)
	}
	defer file.CloseAndReport(ctx, out, &err)
	var w io.Writer = out.Writer(ctx)
	if strings.HasSuffix(path, ".gz") {
		if parallelism < 1 {
			parallelism = 1
		}
		bgzfw := bgzf.NewWriter(w, parallelism)
		defer func() {
			if e := bgzfw.Close(); e != nil && err == nil {
				err = e
			}
		}()
		w = bgzfw
	}
	if err = WriteVCF(w, h, recs); err != nil {
		return errors.E(err, "write VCF", path)
	}
	log.Printf("variant.WriteVCFFile: wrote %d records to %s", len(recs), path)
	return nil
}
