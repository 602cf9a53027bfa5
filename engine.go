package brcluster

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/charmbracelet/log"
)

// Sentinel errors for the fatal failure kinds. Configuration problems are
// reported as plain descriptive errors before the first collective.
var (
	// ErrTagPoolExhausted means a rank ran out of fresh message tags.
	// Raise Config.TagUpperBound for runs with deeper dendrograms.
	ErrTagPoolExhausted = errors.New("brcluster: message tag pool exhausted")

	// ErrCommunicator wraps a failure reported by the communicator.
	ErrCommunicator = errors.New("brcluster: communicator failure")

	// ErrInvariant marks an internal consistency violation.
	ErrInvariant = errors.New("brcluster: invariant violation")
)

// OwnerMode selects how the owner of a child dendrogram node is elected
// within its participant group.
type OwnerMode string

const (
	// SingleOwner keeps rank 0 as the owner of every node.
	SingleOwner OwnerMode = "single_owner"

	// MostOverlap elects the participant with the most local patch cells
	// (tagged or not) overlapping the child box.
	MostOverlap OwnerMode = "most_overlap"

	// FewestOwned elects the participant currently owning the fewest
	// dendrogram nodes.
	FewestOwned OwnerMode = "fewest_owned"

	// LeastActive elects the participant with the fewest active
	// dendrogram nodes.
	LeastActive OwnerMode = "least_active"
)

// AdvanceMode selects how the engine drives the in-flight collectives.
type AdvanceMode string

const (
	// Synchronous drives every collective to completion as it is posted.
	// Deterministic; useful for debugging and reproducible tests.
	Synchronous AdvanceMode = "synchronous"

	// AdvanceSome blocks until at least one collective has fully
	// completed and relaunches every node whose collective did.
	AdvanceSome AdvanceMode = "advance_some"

	// AdvanceAny relaunches a node as soon as its collective makes any
	// internal progress, completed or not.
	AdvanceAny AdvanceMode = "advance_any"
)

// RelationshipMode selects which neighborhood sets the post-pass computes.
type RelationshipMode string

const (
	// NoRelationships skips the neighborhood post-pass.
	NoRelationships RelationshipMode = "none"

	// TagToNew computes only the local tag-box to output-box relation.
	TagToNew RelationshipMode = "tag_to_new"

	// Bidirectional also builds the reverse relation on the output-box
	// owners, using one extra message exchange.
	Bidirectional RelationshipMode = "bidirectional"
)

// Config controls a clustering run.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// TagVal is the cell value that counts as tagged. Default: 1.
	TagVal int

	// MinBox is the advisory per-dimension floor on output box sizes.
	// Splits produce halves of at least MinBox, except that a box over
	// MaxBoxSize with no such cut is cut at its center regardless. A box
	// whose tag bounds are already smaller can still be accepted below it.
	// Empty means 1 in every dimension.
	MinBox IntVector

	// MaxBoxSize is the hard per-dimension ceiling on output box sizes.
	// Boxes over the ceiling are always split. Empty means unlimited.
	MaxBoxSize IntVector

	// EfficiencyTol is the minimum fraction of tagged cells a box must
	// contain to be accepted, in [0, 1]. Default: 0.8.
	EfficiencyTol float64

	// CombineTol scales EfficiencyTol for recombination: two sibling
	// boxes are merged back when their union is at least
	// CombineTol * EfficiencyTol efficient. Default: 0.8.
	CombineTol float64

	// MaxLapCutFromCenter bounds how far from the box center a Laplacian
	// cut may land, as a fraction of the half extent, in [0, 1].
	// Default: 1.0 (anywhere).
	MaxLapCutFromCenter float64

	// GhostWidth is the per-dimension growth used by the neighborhood
	// overlap test. Empty means 1 in every dimension.
	GhostWidth IntVector

	// OwnerMode elects child-node owners. Default: MostOverlap.
	OwnerMode OwnerMode

	// AdvanceMode drives the in-flight collectives. Default: AdvanceSome.
	AdvanceMode AdvanceMode

	// Relationships selects the neighborhood post-pass.
	// Default: Bidirectional.
	Relationships RelationshipMode

	// Workers is the number of goroutines used to histogram local
	// patches. 0 means runtime.NumCPU(). Default: 0 (auto).
	Workers int

	// TagUpperBound is the exclusive upper bound on message tag values
	// the communicator supports. The per-rank tag pools partition the
	// range below it. Default: 1 << 30.
	TagUpperBound int

	// Logger receives engine and node-history records. Nil discards.
	Logger *log.Logger

	// LogNodeHistory logs each dendrogram node's major actions at debug
	// level. Default: false.
	LogNodeHistory bool
}

// DefaultConfig returns a Config with reasonable defaults. Dimension-sized
// fields (MinBox, MaxBoxSize, GhostWidth) are left empty and sized to the
// bound box when the run starts.
func DefaultConfig() Config {
	return Config{
		TagVal:              1,
		EfficiencyTol:       0.8,
		CombineTol:          0.8,
		MaxLapCutFromCenter: 1.0,
		OwnerMode:           MostOverlap,
		AdvanceMode:         AdvanceSome,
		Relationships:       Bidirectional,
		TagUpperBound:       1 << 30,
	}
}

// applyDefaults fills in zero-valued config fields with their defaults.
func applyDefaults(cfg *Config, dim int) {
	if cfg.TagVal == 0 {
		cfg.TagVal = 1
	}
	if len(cfg.MinBox) == 0 {
		cfg.MinBox = Uniform(dim, 1)
	}
	if len(cfg.MaxBoxSize) == 0 {
		cfg.MaxBoxSize = Uniform(dim, math.MaxInt32)
	}
	if cfg.EfficiencyTol == 0 {
		cfg.EfficiencyTol = 0.8
	}
	if cfg.CombineTol == 0 {
		cfg.CombineTol = 0.8
	}
	if cfg.MaxLapCutFromCenter == 0 {
		cfg.MaxLapCutFromCenter = 1.0
	}
	if len(cfg.GhostWidth) == 0 {
		cfg.GhostWidth = Uniform(dim, 1)
	}
	if cfg.OwnerMode == "" {
		cfg.OwnerMode = MostOverlap
	}
	if cfg.AdvanceMode == "" {
		cfg.AdvanceMode = AdvanceSome
	}
	if cfg.Relationships == "" {
		cfg.Relationships = Bidirectional
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.TagUpperBound == 0 {
		cfg.TagUpperBound = 1 << 30
	}
}

// validateConfig checks that cfg is valid for a run of the given dimension
// and communicator size and returns a descriptive error if not.
func validateConfig(cfg *Config, dim, nproc int) error {
	if nproc < 1 {
		return fmt.Errorf("brcluster: communicator reports %d ranks", nproc)
	}
	if dim < 1 {
		return fmt.Errorf("brcluster: bound box has dimension %d", dim)
	}
	if len(cfg.MinBox) != dim {
		return fmt.Errorf("brcluster: MinBox has dimension %d, want %d", len(cfg.MinBox), dim)
	}
	if len(cfg.MaxBoxSize) != dim {
		return fmt.Errorf("brcluster: MaxBoxSize has dimension %d, want %d", len(cfg.MaxBoxSize), dim)
	}
	if len(cfg.GhostWidth) != dim {
		return fmt.Errorf("brcluster: GhostWidth has dimension %d, want %d", len(cfg.GhostWidth), dim)
	}
	for d := 0; d < dim; d++ {
		if cfg.MinBox[d] < 1 {
			return fmt.Errorf("brcluster: MinBox[%d] must be >= 1, got %d", d, cfg.MinBox[d])
		}
		if cfg.MaxBoxSize[d] < 1 {
			return fmt.Errorf("brcluster: MaxBoxSize[%d] must be >= 1, got %d", d, cfg.MaxBoxSize[d])
		}
		if cfg.GhostWidth[d] < 0 {
			return fmt.Errorf("brcluster: GhostWidth[%d] must be >= 0, got %d", d, cfg.GhostWidth[d])
		}
	}
	if cfg.EfficiencyTol < 0 || cfg.EfficiencyTol > 1 {
		return fmt.Errorf("brcluster: EfficiencyTol must be in [0, 1], got %f", cfg.EfficiencyTol)
	}
	if cfg.CombineTol <= 0 {
		return fmt.Errorf("brcluster: CombineTol must be > 0, got %f", cfg.CombineTol)
	}
	if cfg.MaxLapCutFromCenter < 0 || cfg.MaxLapCutFromCenter > 1 {
		return fmt.Errorf("brcluster: MaxLapCutFromCenter must be in [0, 1], got %f", cfg.MaxLapCutFromCenter)
	}
	switch cfg.OwnerMode {
	case SingleOwner, MostOverlap, FewestOwned, LeastActive:
	default:
		return fmt.Errorf("brcluster: invalid OwnerMode %q", cfg.OwnerMode)
	}
	switch cfg.AdvanceMode {
	case Synchronous, AdvanceSome, AdvanceAny:
	default:
		return fmt.Errorf("brcluster: invalid AdvanceMode %q", cfg.AdvanceMode)
	}
	switch cfg.Relationships {
	case NoRelationships, TagToNew, Bidirectional:
	default:
		return fmt.Errorf("brcluster: invalid Relationships %q", cfg.Relationships)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("brcluster: Workers must be >= 0, got %d", cfg.Workers)
	}
	if (cfg.TagUpperBound-firstPoolTag)/nproc < 2 {
		return fmt.Errorf("brcluster: TagUpperBound %d leaves no tag pool for %d ranks", cfg.TagUpperBound, nproc)
	}
	return nil
}

// Result contains the output of one clustering run on the local rank.
type Result struct {
	// Boxes holds the output boxes owned by this rank, keyed by their
	// run-wide identifiers.
	Boxes map[BoxID]Box

	// TagToNew maps each local tag box (keyed by rank and patch index)
	// to the output boxes within ghost width of it. Nil unless a
	// relationship mode is enabled.
	TagToNew map[BoxID][]BoxID

	// NewToTag maps each locally owned output box to the tag boxes
	// within ghost width of it. Nil unless Relationships is
	// Bidirectional.
	NewToTag map[BoxID][]BoxID

	// Stats reports the per-rank run statistics.
	Stats Stats
}

// Cluster runs Berger-Rigoutsos clustering of the tagged cells in patches
// over the bound box, cooperating with the other ranks of comm. Every rank
// must call Cluster with the same bound and config. The patches are this
// rank's share of the tagged index space; they must lie inside bound.
func Cluster(comm Communicator, patches []Patch, bound Box, cfg Config) (*Result, error) {
	dim := bound.Dim()
	applyDefaults(&cfg, dim)
	if err := validateConfig(&cfg, dim, comm.Size()); err != nil {
		return nil, err
	}
	if bound.Empty() {
		return nil, fmt.Errorf("brcluster: empty bound box %s", bound.String())
	}
	for i, p := range patches {
		if p.Box.Dim() != dim {
			return nil, fmt.Errorf("brcluster: patch %d has dimension %d, want %d", i, p.Box.Dim(), dim)
		}
		if !bound.Contains(p.Box.Lo) || !bound.Contains(p.Box.Hi) {
			return nil, fmt.Errorf("brcluster: patch %d box %s outside bound %s", i, p.Box.String(), bound.String())
		}
	}

	c := newRunContext(comm, patches, bound, &cfg)
	group := make([]int, c.nproc)
	for i := range group {
		group[i] = i
	}
	root := c.materializeNode(bound, group, 0, rootTag, nilNode, 1, 1)
	c.logger.Debug("clustering started",
		"rank", c.rank, "ranks", c.nproc, "bound", bound.String(),
		"patches", len(patches), "advance", string(cfg.AdvanceMode))

	if err := runDendrogram(c, root); err != nil {
		return nil, err
	}

	tagToNew, newToTag, err := computeRelationships(c)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Boxes:    make(map[BoxID]Box, len(c.newBoxes)),
		TagToNew: tagToNew,
		NewToTag: newToTag,
		Stats:    gatherStats(c),
	}
	for id, b := range c.newBoxes {
		res.Boxes[id] = b
	}
	c.logger.Debug("clustering finished",
		"rank", c.rank, "boxes", len(res.Boxes), "tags", res.Stats.NumTags)
	return res, nil
}

// runDendrogram drives the relaunch queue and the async stage until the
// root node completes on the local rank. Every local node is a descendant
// of the root, so root completion implies the whole local tree is done.
func runDendrogram(c *runContext, root *dendrogramNode) error {
	c.enqueue(root)
	for root.phase != phaseCompleted {
		for len(c.relaunch) > 0 {
			n := c.dequeue()
			if _, err := n.continueAlgorithm(); err != nil {
				return err
			}
		}
		if root.phase == phaseCompleted {
			break
		}
		switch c.cfg.AdvanceMode {
		case Synchronous:
			// Collectives complete at launch in this mode, so a drained
			// queue means nothing can ever wake the remaining nodes.
			return fmt.Errorf("%w: relaunch queue drained before the root completed", ErrInvariant)
		case AdvanceAny:
			g, err := c.stage.advanceAny()
			if err != nil {
				return err
			}
			if g == nil {
				return fmt.Errorf("%w: no collectives in flight before the root completed", ErrInvariant)
			}
			c.enqueue(c.node(g.node))
		default: // AdvanceSome
			groups, err := c.stage.advanceSome()
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				return fmt.Errorf("%w: no collectives in flight before the root completed", ErrInvariant)
			}
			for _, g := range groups {
				c.enqueue(c.node(g.node))
			}
		}
	}
	return nil
}
