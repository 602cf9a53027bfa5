package brcluster

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Stats reports per-rank measurements of one clustering run. All values
// describe the local rank; aggregate across ranks externally if needed.
type Stats struct {
	// NumTags is the number of tags inside locally owned output boxes at
	// the end of the run.
	NumTags int

	// MaxTagsOwned is the peak of NumTags over the run. A recombination
	// replaces two owned boxes by one holding the same tags, so it does not
	// lower the count.
	MaxTagsOwned int

	// MaxNodes is the peak number of dendrogram nodes held on this rank.
	MaxNodes int

	// MaxGeneration is the deepest dendrogram generation reached locally
	// (root = 1).
	MaxGeneration int

	// MaxOwnership is the peak number of dendrogram nodes owned at once.
	MaxOwnership int

	// AvgContinuations and MaxContinuations measure how many times nodes
	// re-entered their state machine before completing.
	AvgContinuations float64
	MaxContinuations int

	// BoxesGenerated counts output boxes this rank saw created, owned or
	// not.
	BoxesGenerated int
}

// gatherStats assembles the run statistics from the context counters.
func gatherStats(c *runContext) Stats {
	s := Stats{
		NumTags:        c.numTagsOwned,
		MaxTagsOwned:   c.maxTagsOwned,
		MaxNodes:       c.maxNodesAllocated,
		MaxGeneration:  c.maxGeneration,
		MaxOwnership:   c.maxNodesOwned,
		BoxesGenerated: c.numBoxesGenerated,
	}
	if len(c.contCounts) > 0 {
		s.AvgContinuations = stat.Mean(c.contCounts, nil)
		s.MaxContinuations = int(floats.Max(c.contCounts))
	}
	return s
}
