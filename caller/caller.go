// Package caller wires the dedup, pileup and variant packages into the
// call and dedup workflows.
package caller

import (
	"context"
	"io/ioutil"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/umicall/dedup"
	"github.com/grailbio/umicall/fragment"
	"github.com/grailbio/umicall/interval"
	"github.com/grailbio/umicall/pileup"
	"github.com/grailbio/umicall/pileup/concordant"
	"github.com/grailbio/umicall/pileup/phase"
	"github.com/grailbio/umicall/umi"
	"github.com/grailbio/umicall/variant"
	"github.com/grailbio/umicall/variant/annotate"
)

// Inputs holds everything Process reads.  Targets and CDS may be nil.
type Inputs struct {
	Reference *pileup.Reference
	Header    *sam.Header
	Fragments []*fragment.Fragment
	Targets   *interval.Targets
	CDS       *annotate.CDS
	Corrector *umi.SnapCorrector
}

// Result holds the outputs of Process.  Records and Columns are empty in the
// dedup workflow; Consensus is empty when deduplication is off.
type Result struct {
	Records    []variant.Record
	Columns    []concordant.Column
	Consensus  []dedup.Consensus
	DedupStats dedup.Stats
	// Excluded counts fragments dropped for their edit distance.
	Excluded int
}

// Process runs the configured workflow over in.  It touches no files.
func Process(in Inputs, opts Opts) (*Result, error) {
	cfg, err := newConfig(&opts)
	if err != nil {
		return nil, err
	}
	return process(in, cfg)
}

func process(in Inputs, cfg *config) (*Result, error) {
	if err := fragment.CheckNames(in.Fragments, cfg.dedup); err != nil {
		return nil, err
	}
	res := &Result{}
	frags := in.Fragments
	if cfg.dedup {
		gopts := cfg.group
		gopts.Corrector = in.Corrector
		networks, err := dedup.Group(frags, gopts)
		if err != nil {
			return nil, errors.E(err, "group duplicates")
		}
		cons, stats, err := dedup.Build(in.Reference, in.Header, frags, networks, cfg.consensus)
		if err != nil {
			return nil, errors.E(err, "build consensus")
		}
		res.Consensus, res.DedupStats = cons, stats
		log.Printf("caller: %d fragments formed %d networks (%d singletons, %d dropped)",
			stats.Fragments, stats.Networks, stats.Singletons, stats.AllUnknown)
		if cfg.workflow == WorkflowDedup {
			return res, nil
		}
		if frags, err = dedup.Fragments(in.Reference, cons); err != nil {
			return nil, errors.E(err, "reload consensus")
		}
	}

	targets := in.Targets
	if targets == nil {
		targets = interval.WholeContig(in.Reference.Name, in.Reference.Len())
	}
	scan, err := concordant.Scan(in.Reference, targets, frags, cfg.scan)
	if err != nil {
		return nil, err
	}
	res.Columns, res.Excluded = scan.Columns, scan.ExcludedFragments
	cands, err := phase.Merge(scan.Candidates, scan, cfg.phase)
	if err != nil {
		return nil, err
	}
	res.Records = make([]variant.Record, len(cands))
	for i := range cands {
		res.Records[i] = variant.FromCandidate(in.Reference.Name, &cands[i], in.CDS)
	}
	variant.Sort(res.Records)
	log.Printf("caller: %d columns scanned, %d fragments excluded, %d calls",
		len(res.Columns), res.Excluded, len(res.Records))
	return res, nil
}

// Run loads the inputs named by opts, runs the workflow and writes its
// outputs under opts.OutPrefix.
func Run(ctx context.Context, opts Opts) (err error) {
	cfg, err := newConfig(&opts)
	if err != nil {
		return err
	}
	if opts.AlignmentPath == "" || opts.ReferencePath == "" || opts.OutPrefix == "" {
		return errors.E(errors.Invalid, "alignments, reference and output prefix are required")
	}
	in, err := loadInputs(ctx, &opts, cfg)
	if err != nil {
		return err
	}
	res, err := process(in, cfg)
	if err != nil {
		return err
	}
	if cfg.dedup {
		if err = dedup.WriteBAM(ctx, opts.OutPrefix+".consensus.bam", in.Header, res.Consensus, cfg.parallelism); err != nil {
			return err
		}
		stats := res.DedupStats
		if err = dedup.WriteStats(ctx, opts.OutPrefix+".dedup.tsv", &stats); err != nil {
			return err
		}
	}
	if cfg.workflow == WorkflowDedup {
		return nil
	}
	vcfPath := opts.OutPrefix + ".vcf"
	if opts.Bgzip {
		vcfPath += ".gz"
	}
	h := variant.VCFHeader{
		Source:    "bio-umicall",
		Reference: opts.ReferencePath,
		Contig:    in.Reference.Name,
		ContigLen: int(in.Reference.Len()),
		Annotated: in.CDS != nil,
	}
	if err = variant.WriteVCFFile(ctx, vcfPath, h, res.Records, cfg.parallelism); err != nil {
		return err
	}
	if opts.XLSX {
		if err = variant.WriteXLSX(ctx, opts.OutPrefix+".calls.xlsx", res.Records); err != nil {
			return err
		}
	}
	return variant.WriteCoverageFile(ctx, opts.OutPrefix+".coverage.bed", in.Reference.Name, res.Columns)
}

func loadInputs(ctx context.Context, opts *Opts, cfg *config) (in Inputs, err error) {
	if in.Reference, err = pileup.LoadReference(ctx, opts.ReferencePath, opts.Contig); err != nil {
		return in, err
	}
	ref := in.Reference
	switch {
	case opts.TargetsPath != "":
		if in.Targets, err = interval.NewTargetsFromPath(ctx, opts.TargetsPath, ref.Name); err != nil {
			return in, err
		}
	case cfg.region != nil:
		if cfg.region.ChrName != ref.Name {
			return in, errors.E(errors.Invalid, "region contig", cfg.region.ChrName, "is not reference contig", ref.Name)
		}
		if in.Targets, err = interval.NewTargets(ref.Name, []interval.Entry{*cfg.region}); err != nil {
			return in, err
		}
	}
	if in.Targets != nil {
		in.Targets = in.Targets.Clip(ref.Len())
	}
	if cfg.cds != nil {
		if cfg.cds.ChrName != ref.Name {
			return in, errors.E(errors.Invalid, "CDS contig", cfg.cds.ChrName, "is not reference contig", ref.Name)
		}
		if in.CDS, err = annotate.NewCDS(ref, cfg.cds.Start0, cfg.cds.End, cfg.mutSig); err != nil {
			return in, err
		}
	}
	if opts.UmiFile != "" {
		if in.Corrector, err = readCorrector(ctx, opts.UmiFile); err != nil {
			return in, err
		}
	}
	if in.Fragments, in.Header, err = fragment.ReadBAM(ctx, opts.AlignmentPath, ref, cfg.dedup); err != nil {
		return in, err
	}
	log.Printf("caller: read %d fragments from %s", len(in.Fragments), opts.AlignmentPath)
	return in, nil
}

// readCorrector reads the known-UMI list at path, which may be compressed.
func readCorrector(ctx context.Context, path string) (c *umi.SnapCorrector, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "umi file", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	r, _ := compress.NewReader(in.Reader(ctx))
	defer r.Close() // nolint: errcheck
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.E(err, "read umi file", path)
	}
	if c, err = umi.NewSnapCorrector(data); err != nil {
		return nil, errors.E(err, "umi file", path)
	}
	log.Printf("caller: snapping %d-base UMIs to the known list in %s", c.Len(), path)
	return c, nil
}
