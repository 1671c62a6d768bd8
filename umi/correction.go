// Package umi implements correction of unique molecular identifiers against a
// list of known UMIs.
package umi

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/umicall/util"
)

// MaxSnapLength bounds the length of UMIs accepted by NewSnapCorrector; the
// correction table holds all 5^k k-mers over ACGTN.
const MaxSnapLength = 10

var (
	alphabetWithN = []byte{'A', 'C', 'G', 'T', 'N'}
)

type snapCorrectorEntry struct {
	knownUMI string
	edits    int
}

// SnapCorrector implements "snap" correction of UMIs.  A umi U is
// snappable if there is a known non-random umi U1 that is closer to U
// than all other known umis, in terms of Levenshtein edit distance.
type SnapCorrector struct {
	knownUMIs []string
	k         int

	// correctionTable maps every snappable k-mer (k is the length of the
	// umi) to the known UMI it snaps to.
	correctionTable map[string]snapCorrectorEntry
}

// NewSnapCorrector creates a new snap corrector.  knownUMIs is a \n
// separated list of UMIs, as read from a file with one UMI per line.  Known
// UMIs must consist of ACGT and share one length.
func NewSnapCorrector(knownUMIs []byte) (*SnapCorrector, error) {
	log.Debug.Printf("building snappable UMI correction table")
	scanner := bufio.NewScanner(bytes.NewReader(knownUMIs))
	known := []string{}
	seen := map[string]bool{}
	k := -1
	for scanner.Scan() {
		umi := strings.ToUpper(strings.TrimSpace(scanner.Text()))
		if umi == "" {
			continue
		}
		if k < 0 {
			k = len(umi)
		}
		if len(umi) != k {
			return nil, errors.E(errors.Invalid, "umi", umi, "has length", len(umi), "other umis have length", k)
		}
		if err := validateUMI(umi, false); err != nil {
			return nil, err
		}
		if !seen[umi] {
			seen[umi] = true
			known = append(known, umi)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, "reading known umis")
	}
	if k < 0 {
		return nil, errors.E(errors.Invalid, "no umis in input")
	}
	if k > MaxSnapLength {
		return nil, errors.E(errors.Invalid, "umi length", k, "exceeds snap correction limit", MaxSnapLength)
	}

	// For every possible k-mer, bucket the known UMIs by edit distance and
	// keep the k-mer if its nearest bucket holds exactly one known UMI.
	correctionTable := map[string]snapCorrectorEntry{}
	for _, umi := range allKmers(k, alphabetWithN) {
		best := -1
		var bestUMI string
		unique := false
		for _, knownUMI := range known {
			cost := util.Levenshtein(umi, knownUMI)
			switch {
			case best < 0 || cost < best:
				best, bestUMI, unique = cost, knownUMI, true
			case cost == best:
				unique = false
			}
		}
		if unique {
			correctionTable[umi] = snapCorrectorEntry{bestUMI, best}
		}
	}
	log.Debug.Printf("done building snappable UMI correction table: %d entries", len(correctionTable))

	return &SnapCorrector{
		knownUMIs:       known,
		k:               k,
		correctionTable: correctionTable,
	}, nil
}

// CorrectUMI returns a corrected umi, number of edits to the
// corrected umi, and true if there is exactly one known UMI that is
// closest to the original umi with respect to Levenshtein edit
// distance and it differs from umi.  A umi that is already known is
// returned with 0 edits and false.  Otherwise, return the original umi,
// -1, and false.
func (c *SnapCorrector) CorrectUMI(umi string) (correctedUMI string, edits int, corrected bool) {
	umi = strings.ToUpper(umi)
	entry, ok := c.correctionTable[umi]
	if ok {
		return entry.knownUMI, entry.edits, entry.knownUMI != umi
	}
	return umi, -1, false
}

// Len returns the length of the known UMIs.
func (c *SnapCorrector) Len() int { return c.k }

func validateUMI(umi string, allowN bool) error {
	for i := 0; i < len(umi); i++ {
		switch umi[i] {
		case 'A', 'C', 'G', 'T':
		case 'N':
			if !allowN {
				return errors.E(errors.Invalid, "invalid base N in umi", umi)
			}
		default:
			return errors.E(errors.Invalid, "invalid base", string(umi[i]), "in umi", umi)
		}
	}
	return nil
}

// returns a slice of all possible kmers with the given alphabet.
func allKmers(k int, alphabet []byte) []string {
	var fn func(partial []byte) []string
	fn = func(partial []byte) []string {
		if len(partial) == k {
			return []string{string(partial)}
		}
		kmers := []string{}
		for _, c := range alphabet {
			kmers = append(kmers, fn(append(partial, c))...)
		}
		return kmers
	}
	return fn(make([]byte, 0, k))
}
