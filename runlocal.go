package brcluster

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// RunLocal executes one clustering run with nRanks simulated ranks in this
// process, one goroutine per rank over an in-memory network.
// patchesByRank[r] is rank r's share of the tagged index space; the result
// slice holds rank r's output at index r. If any rank fails, the first
// error is returned once every rank goroutine has returned; ranks still
// waiting on a failed peer are not interrupted.
func RunLocal(nRanks int, patchesByRank [][]Patch, bound Box, cfg Config) ([]*Result, error) {
	if nRanks < 1 {
		return nil, fmt.Errorf("brcluster: RunLocal needs at least one rank, got %d", nRanks)
	}
	if len(patchesByRank) != nRanks {
		return nil, fmt.Errorf("brcluster: patches for %d ranks, want %d", len(patchesByRank), nRanks)
	}
	net := NewMemNetwork(nRanks)
	results := make([]*Result, nRanks)
	var g errgroup.Group
	for r := 0; r < nRanks; r++ {
		r := r
		g.Go(func() error {
			res, err := Cluster(net.Endpoint(r), patchesByRank[r], bound, cfg)
			if err != nil {
				return fmt.Errorf("rank %d: %w", r, err)
			}
			results[r] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
