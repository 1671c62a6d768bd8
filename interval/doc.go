/*Package interval implements the target-region set consulted by the pileup
  scanner.  Targets are read from BED files (optionally gzipped) or region
  strings, restricted to the single contig being called, and merged into a
  union of disjoint half-open intervals.  Positions are PosType, int32 since
  that is what BAM files are limited to.
*/
package interval
