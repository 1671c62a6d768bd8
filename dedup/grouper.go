package dedup

import (
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/umicall/fragment"
	"github.com/grailbio/umicall/umi"
)

// GroupOpts configures Group.
type GroupOpts struct {
	// RaceLike merges R2 tiles that share an R1 UMI and position, regardless
	// of where each R2 starts.
	RaceLike bool
	// Corrector, if non-nil, snaps each UMI to its nearest known UMI before
	// keying.
	Corrector *umi.SnapCorrector
	// Parallelism bounds the number of workers.  It must be positive.
	Parallelism int
}

// Network is a duplicate network: fragments inferred to derive from one
// molecule.
type Network struct {
	ID int
	// UMI is the (possibly corrected) UMI shared by the members.
	UMI    string
	Primer string
	// Members index the fragment slice passed to Group, ascending.
	Members []int
}

// Group partitions frags into duplicate networks.  Every fragment joins
// exactly one network.  Networks are numbered in order of their first
// member, so the result is independent of Parallelism.
func Group(frags []*fragment.Fragment, opts GroupOpts) ([]Network, error) {
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	keys := make([]networkKey, len(frags))
	hashes := make([]uint64, len(frags))
	nCorrected := make([]int, parallelism)
	err := traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := jobIdx * len(frags) / parallelism
		endIdx := (jobIdx + 1) * len(frags) / parallelism
		for i := startIdx; i < endIdx; i++ {
			u := frags[i].ID.UMI
			if opts.Corrector != nil {
				corrected, _, ok := opts.Corrector.CorrectUMI(u)
				if ok {
					nCorrected[jobIdx]++
				}
				u = corrected
			}
			keys[i] = newNetworkKey(frags[i], u, opts.RaceLike)
			hashes[i] = keys[i].fingerprint()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Each worker owns the keys whose fingerprint falls in its partition.
	partitions := make([][]Network, parallelism)
	err = traverse.Each(parallelism, func(jobIdx int) error {
		byKey := map[networkKey]int{}
		var networks []Network
		for i := range frags {
			if hashes[i]%uint64(parallelism) != uint64(jobIdx) {
				continue
			}
			idx, ok := byKey[keys[i]]
			if !ok {
				idx = len(networks)
				byKey[keys[i]] = idx
				networks = append(networks, Network{UMI: keys[i].umi, Primer: keys[i].primer})
			}
			networks[idx].Members = append(networks[idx].Members, i)
		}
		partitions[jobIdx] = networks
		return nil
	})
	if err != nil {
		return nil, err
	}

	var networks []Network
	corrected := 0
	for i, p := range partitions {
		networks = append(networks, p...)
		corrected += nCorrected[i]
	}
	sort.Slice(networks, func(i, j int) bool {
		return networks[i].Members[0] < networks[j].Members[0]
	})
	for i := range networks {
		networks[i].ID = i
	}
	log.Printf("dedup.Group: %d networks from %d fragments (%d UMIs corrected)", len(networks), len(frags), corrected)
	return networks, nil
}
