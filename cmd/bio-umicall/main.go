// bio-umicall deduplicates UMI-tagged amplicon alignments into consensus
// reads and calls mate-concordant SNPs and MNPs against a single contig.
//
// Subcommands:
//
//	bio-umicall call [flags] bampath fapath outprefix
//	bio-umicall dedup [flags] bampath fapath outprefix
//	bio-umicall faidx fapath
package main

import "github.com/grailbio/umicall/cmd/bio-umicall/cmd"

func main() {
	cmd.Run()
}
