package cmd

import (
	"fmt"
	"log"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/umicall/caller"
	"github.com/grailbio/umicall/encoding/fasta"
	"v.io/x/lib/cmdline"
)

// registerFlags binds the options shared by call and dedup to cmd's flag set.
func registerFlags(cmd *cmdline.Command, opts *caller.Opts) {
	d := caller.DefaultOpts
	cmd.Flags.StringVar(&opts.Contig, "contig", d.Contig, "Reference contig; may be omitted when the FASTA holds one sequence")
	cmd.Flags.StringVar(&opts.UmiFile, "umi-file", d.UmiFile, "Known UMIs, one per line; UMIs are snapped to the nearest known UMI before grouping")
	cmd.Flags.IntVar(&opts.DelThreshold, "contig-del-threshold", d.DelThreshold, "Longest run of deleted or uncovered consensus columns kept as a deletion")
	cmd.Flags.Float64Var(&opts.MinConsensusFraction, "min-consensus-fraction", d.MinConsensusFraction, "Smallest quality-weighted share of a consensus column the winning base needs")
	cmd.Flags.IntVar(&opts.MinConsensusQual, "min-consensus-qual", d.MinConsensusQual, "Consensus columns whose best supporting base quality is below this are unknown")
	cmd.Flags.BoolVar(&opts.RaceLike, "race-like", d.RaceLike, "Group fragments on the R1 UMI and position only, tiling R2s of any start")
	cmd.Flags.IntVar(&opts.Parallelism, "parallelism", d.Parallelism, "Maximum number of concurrent workers; 0 = runtime.NumCPU()")
}

func runner(workflow caller.Workflow, opts *caller.Opts) cmdline.Runner {
	return cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 3 {
			return fmt.Errorf("%s takes bampath fapath outprefix, but got %v", workflow, argv)
		}
		opts.Workflow = workflow
		opts.AlignmentPath, opts.ReferencePath, opts.OutPrefix = argv[0], argv[1], argv[2]
		return caller.Run(vcontext.Background(), *opts)
	})
}

func newCmdCall() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "call",
		Short:    "Call mate-concordant SNPs and MNPs",
		ArgsName: "bampath fapath outprefix",
		Long: `
Call piles up the alignments in bampath, which must be coordinate-sorted, over
one contig of the indexed FASTA fapath.  Each fragment counts once per column
however many of its mates cover it; where both mates cover a column they must
agree for the fragment to support an allele.  Adjacent SNPs carried by the
same fragments are merged into MNPs.

Outputs are outprefix.vcf (or .vcf.gz with -bgzip) and outprefix.coverage.bed.
With -dedup, outprefix.consensus.bam and outprefix.dedup.tsv are also written
and calls are made on the consensus reads.`,
	}
	opts := caller.DefaultOpts
	registerFlags(cmd, &opts)
	d := caller.DefaultOpts
	cmd.Flags.StringVar(&opts.TargetsPath, "bed", d.TargetsPath, "Restrict calling to the intervals of this BED file")
	cmd.Flags.StringVar(&opts.Region, "region", d.Region, "Restrict calling to <contig>:<1-based first pos>-<last pos>; ignored when -bed is set")
	cmd.Flags.StringVar(&opts.CDS, "cds", d.CDS, "Coding interval <contig>:<1-based first pos>-<last pos> used to annotate calls")
	cmd.Flags.StringVar(&opts.MutSig, "mut-sig", d.MutSig, "Mutagenesis signature flagged in annotations: NNN, NNK or NNS")
	cmd.Flags.IntVar(&opts.MinBaseQual, "min-bq", d.MinBaseQual, "Lower bound on base quality in each mate")
	cmd.Flags.IntVar(&opts.MaxNM, "max-nm", d.MaxNM, "Fragments whose mates exceed this edit distance are excluded")
	cmd.Flags.IntVar(&opts.MinSupport, "min-support", d.MinSupport, "Lower bound on fragments supporting a call")
	cmd.Flags.IntVar(&opts.MNPWindow, "mnp-window", d.MNPWindow, "Maximum MNP length, 1 to 3; 1 disables merging")
	cmd.Flags.BoolVar(&opts.Dedup, "dedup", d.Dedup, "Collapse UMI duplicate networks into consensus reads before calling")
	cmd.Flags.BoolVar(&opts.Bgzip, "bgzip", d.Bgzip, "BGZF-compress the VCF")
	cmd.Flags.BoolVar(&opts.XLSX, "xlsx", d.XLSX, "Also write the calls to outprefix.calls.xlsx")
	cmd.Runner = runner(caller.WorkflowCall, &opts)
	return cmd
}

func newCmdDedup() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "dedup",
		Short:    "Build UMI consensus reads",
		ArgsName: "bampath fapath outprefix",
		Long: `
Dedup groups the fragments of bampath into duplicate networks by UMI, position
and primer, and writes one consensus read per network to
outprefix.consensus.bam along with outprefix.dedup.tsv.`,
	}
	opts := caller.DefaultOpts
	registerFlags(cmd, &opts)
	cmd.Runner = runner(caller.WorkflowDedup, &opts)
	return cmd
}

func newCmdFaidx() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "faidx",
		Short:    "Write the .fai index of a FASTA file",
		ArgsName: "fapath",
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("faidx takes one pathname argument, but got %v", argv)
		}
		return fasta.WriteIndex(vcontext.Background(), argv[0])
	})
	return cmd
}

// Run parses the command line and runs the selected subcommand.
func Run() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-umicall",
			Short:    "UMI consensus deduplication and mate-concordant variant calling",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdCall(),
				newCmdDedup(),
				newCmdFaidx(),
			},
		})
}
