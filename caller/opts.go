package caller

import (
	"runtime"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/umicall/dedup"
	"github.com/grailbio/umicall/interval"
	"github.com/grailbio/umicall/pileup/concordant"
	"github.com/grailbio/umicall/pileup/phase"
	"github.com/grailbio/umicall/variant/annotate"
)

// Workflow selects which passes Run executes.
type Workflow uint8

const (
	// WorkflowCall scans the alignments, deduplicating first when
	// Opts.Dedup is set, and emits variant calls.
	WorkflowCall Workflow = iota
	// WorkflowDedup groups and builds consensus reads only.
	WorkflowDedup
)

func (w Workflow) String() string {
	switch w {
	case WorkflowCall:
		return "call"
	case WorkflowDedup:
		return "dedup"
	}
	return "unknown"
}

// ParseWorkflow maps a subcommand name to its Workflow.
func ParseWorkflow(s string) (Workflow, error) {
	switch strings.ToLower(s) {
	case "call":
		return WorkflowCall, nil
	case "dedup":
		return WorkflowDedup, nil
	}
	return 0, errors.E(errors.Invalid, "unknown workflow", s)
}

// Opts holds the command-line options.
type Opts struct {
	Workflow Workflow

	AlignmentPath string
	ReferencePath string
	// Contig names the reference sequence; it may be empty when the FASTA
	// holds a single sequence.
	Contig string
	// TargetsPath is an optional BED file restricting the scanned columns.
	TargetsPath string
	// Region is an optional contig:start-end restriction, used when
	// TargetsPath is empty.
	Region string
	// UmiFile lists known UMIs, one per line, for snap correction.
	UmiFile string
	// CDS is an optional contig:start-end coding interval, 1-based
	// inclusive, used to annotate calls.
	CDS       string
	OutPrefix string

	MinBaseQual          int
	MaxNM                int
	MinSupport           int
	MNPWindow            int
	DelThreshold         int
	MinConsensusFraction float64
	MinConsensusQual     int
	RaceLike             bool
	Dedup                bool
	MutSig               string
	Bgzip                bool
	// XLSX additionally writes the calls as a workbook.
	XLSX                 bool
	Parallelism          int
}

// DefaultOpts holds the defaults used by the command line.
var DefaultOpts = Opts{
	MinBaseQual:          30,
	MaxNM:                10,
	MinSupport:           2,
	MNPWindow:            3,
	DelThreshold:         10,
	MinConsensusFraction: 0.5,
	MutSig:               string(annotate.MutSigNNK),
}

// config is the validated form of Opts.
type config struct {
	workflow    Workflow
	dedup       bool
	mutSig      annotate.MutSig
	parallelism int
	cds         *interval.Entry
	region      *interval.Entry

	group     dedup.GroupOpts
	consensus dedup.ConsensusOpts
	scan      concordant.Opts
	phase     phase.Opts
}

// Validate checks opts without running anything.
func Validate(opts *Opts) error {
	_, err := newConfig(opts)
	return err
}

func newConfig(opts *Opts) (*config, error) {
	cfg := &config{workflow: opts.Workflow, dedup: opts.Dedup || opts.Workflow == WorkflowDedup}
	switch opts.Workflow {
	case WorkflowCall, WorkflowDedup:
	default:
		return nil, errors.E(errors.Invalid, "workflow: unknown value", int(opts.Workflow))
	}
	if err := phase.ValidateWindow(opts.MNPWindow); err != nil {
		return nil, errors.E(err, "mnp-window")
	}
	var err error
	if cfg.mutSig, err = annotate.ParseMutSig(opts.MutSig); err != nil {
		return nil, errors.E(err, "mut-sig")
	}
	if opts.MinBaseQual < 0 || opts.MinBaseQual > 93 {
		return nil, errors.E(errors.Invalid, "min-bq must be in [0, 93], got", opts.MinBaseQual)
	}
	if opts.MinConsensusQual < 0 || opts.MinConsensusQual > 93 {
		return nil, errors.E(errors.Invalid, "min-consensus-qual must be in [0, 93], got", opts.MinConsensusQual)
	}
	if opts.MaxNM < 0 {
		return nil, errors.E(errors.Invalid, "max-nm must be non-negative, got", opts.MaxNM)
	}
	if opts.MinSupport < 1 {
		return nil, errors.E(errors.Invalid, "min-support must be positive, got", opts.MinSupport)
	}
	if opts.DelThreshold < 0 {
		return nil, errors.E(errors.Invalid, "contig-del-threshold must be non-negative, got", opts.DelThreshold)
	}
	if opts.MinConsensusFraction <= 0 || opts.MinConsensusFraction > 1 {
		return nil, errors.E(errors.Invalid, "min-consensus-fraction must be in (0, 1], got", opts.MinConsensusFraction)
	}
	if opts.Parallelism < 0 {
		return nil, errors.E(errors.Invalid, "parallelism must be non-negative, got", opts.Parallelism)
	}
	if opts.UmiFile != "" && !cfg.dedup {
		return nil, errors.E(errors.Invalid, "umi-file is set, but dedup is off")
	}
	if opts.CDS != "" {
		e, err := interval.ParseRegionString(opts.CDS)
		if err == nil && !strings.Contains(opts.CDS, ":") {
			err = errors.E(errors.Invalid, "missing interval")
		}
		if err != nil {
			return nil, errors.E(errors.Invalid, err, "cds must be contig:start-end, got", opts.CDS)
		}
		cfg.cds = &e
	}
	if opts.Region != "" {
		e, err := interval.ParseRegionString(opts.Region)
		if err != nil {
			return nil, errors.E(errors.Invalid, err, "region", opts.Region)
		}
		cfg.region = &e
	}
	cfg.parallelism = opts.Parallelism
	if cfg.parallelism == 0 {
		cfg.parallelism = runtime.NumCPU()
	}

	cfg.group = dedup.GroupOpts{RaceLike: opts.RaceLike, Parallelism: cfg.parallelism}
	cfg.consensus = dedup.ConsensusOpts{
		DelThreshold: opts.DelThreshold,
		MinFraction:  opts.MinConsensusFraction,
		MinQual:      byte(opts.MinConsensusQual),
		Parallelism:  cfg.parallelism,
	}
	cfg.scan = concordant.Opts{
		MinBaseQual: byte(opts.MinBaseQual),
		MaxNM:       opts.MaxNM,
		MinSupport:  opts.MinSupport,
		Parallelism: cfg.parallelism,
	}
	cfg.phase = phase.Opts{Window: opts.MNPWindow, MinSupport: opts.MinSupport}
	return cfg, nil
}
