package dedup

import (
	"fmt"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/umicall/fragment"
)

// PosType is the integer type used to represent genomic positions.
type PosType = fragment.PosType

// noPos marks an absent mate coordinate in a networkKey.
const noPos PosType = -1

// networkKey identifies a duplicate network.  r1Pos and r2Pos are unclipped
// 5' positions.  r2Pos is noPos in RACE-like mode, where tiles sharing an R1
// UMI and position collapse regardless of where R2 starts.  A fragment that
// lacks R1 is keyed on its R2 alone, with r1Pos set to noPos.
type networkKey struct {
	umi       string
	r1Pos     PosType
	r1Reverse bool
	r2Pos     PosType
	primer    string
}

func (k networkKey) String() string {
	strand := '+'
	if k.r1Reverse {
		strand = '-'
	}
	return fmt.Sprintf("(%s,%d%c,%d,%s)", k.umi, k.r1Pos, strand, k.r2Pos, k.primer)
}

// fingerprint hashes the key for partitioning across workers.
func (k networkKey) fingerprint() uint64 {
	return farm.Fingerprint64([]byte(k.String()))
}

func newNetworkKey(f *fragment.Fragment, umi string, raceLike bool) networkKey {
	k := networkKey{umi: umi, r1Pos: noPos, r2Pos: noPos, primer: f.ID.Primer}
	r1, r2 := f.R1(), f.R2()
	if r1 == nil {
		k.r1Reverse = r2.Reverse
		k.r2Pos = r2.FivePrime()
		return k
	}
	k.r1Pos = r1.FivePrime()
	k.r1Reverse = r1.Reverse
	if r2 != nil && !raceLike {
		k.r2Pos = r2.FivePrime()
	}
	return k
}
