package brcluster

import (
	"io"

	"github.com/charmbracelet/log"
)

// nodeHandle indexes a dendrogram node in the per-run arena. Parents hold
// child handles and children hold the parent handle instead of pointers, so
// the tree carries no cycles.
type nodeHandle = int

const nilNode nodeHandle = -1

// relationshipTag is the message tag reserved for the post-clustering
// relationship exchange. Per-rank tag pools start above it and the root
// dendrogram node uses rootTag on every rank.
const (
	relationshipTag = 0
	rootTag         = 1
	firstPoolTag    = 2
)

// visibleBox is an output box this rank learned about during the run,
// together with the rank that owns it.
type visibleBox struct {
	box   Box
	owner int
}

// runContext carries everything the dendrogram nodes of one clustering run
// share: communication state, the relaunch queue, the node arena, the
// message-tag pool, output accumulators and counters. It is touched only by
// the local rank's goroutine, so nothing here is locked.
type runContext struct {
	comm  Communicator
	rank  int
	nproc int
	dim   int
	block BlockID

	cfg     *Config
	logger  *log.Logger
	patches []Patch

	stage commStage

	// relaunch is the FIFO of nodes ready for their next poll.
	relaunch []nodeHandle
	nodes    []*dendrogramNode

	// Message-tag pool: this rank claims tags from [nextTag, tagLimit).
	nextTag  int
	tagLimit int

	// Outputs. newBoxes and newBoxTags hold only locally owned boxes;
	// visibleBoxes holds every box this rank participated in accepting.
	newBoxes     map[BoxID]Box
	newBoxTags   map[BoxID]int
	visibleBoxes map[BoxID]visibleBox

	// Relationship exchange bookkeeping (BIDIRECTIONAL mode): the ranks
	// this rank must send proposals to, and the ranks it expects
	// proposals from, fixed before the exchange begins.
	relationshipTargets map[int]bool
	relationshipSenders map[int]bool

	// Counters behind the run statistics.
	numTagsOwned      int
	maxTagsOwned      int
	numNodesAllocated int
	maxNodesAllocated int
	numNodesActive    int
	maxNodesActive    int
	numNodesOwned     int
	maxNodesOwned     int
	numNodesCompleted int
	maxGeneration     int
	numBoxesGenerated int
	contCounts        []float64
}

func newRunContext(comm Communicator, patches []Patch, bound Box, cfg *Config) *runContext {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	c := &runContext{
		comm:                comm,
		rank:                comm.Rank(),
		nproc:               comm.Size(),
		dim:                 bound.Dim(),
		block:               bound.Block,
		cfg:                 cfg,
		logger:              logger,
		patches:             patches,
		newBoxes:            make(map[BoxID]Box),
		newBoxTags:          make(map[BoxID]int),
		visibleBoxes:        make(map[BoxID]visibleBox),
		relationshipTargets: make(map[int]bool),
		relationshipSenders: make(map[int]bool),
	}
	perRank := (cfg.TagUpperBound - firstPoolTag) / c.nproc
	c.nextTag = firstPoolTag + c.rank*perRank
	c.tagLimit = c.nextTag + perRank
	c.stage.setSynchronous(cfg.AdvanceMode == Synchronous)
	return c
}

// claimTag draws a fresh message tag from this rank's private pool.
func (c *runContext) claimTag() (int, error) {
	if c.nextTag >= c.tagLimit {
		return 0, ErrTagPoolExhausted
	}
	t := c.nextTag
	c.nextTag++
	return t, nil
}

// allocNode places a new node in the arena and returns it.
func (c *runContext) allocNode() *dendrogramNode {
	n := &dendrogramNode{
		ctx:    c,
		handle: nodeHandle(len(c.nodes)),
		parent: nilNode,
		left:   nilNode,
		right:  nilNode,
	}
	c.nodes = append(c.nodes, n)
	c.numNodesAllocated++
	if c.numNodesAllocated > c.maxNodesAllocated {
		c.maxNodesAllocated = c.numNodesAllocated
	}
	return n
}

func (c *runContext) node(h nodeHandle) *dendrogramNode {
	return c.nodes[h]
}

// enqueue appends a node to the relaunch queue unless it is already queued
// or complete.
func (c *runContext) enqueue(n *dendrogramNode) {
	if n.queued || n.phase == phaseCompleted {
		return
	}
	n.queued = true
	c.relaunch = append(c.relaunch, n.handle)
}

// dequeue pops the next node in FIFO order.
func (c *runContext) dequeue() *dendrogramNode {
	n := c.node(c.relaunch[0])
	c.relaunch = c.relaunch[1:]
	n.queued = false
	return n
}

// noteBoxCreated records an accepted output box on every group member: the
// owner stores the box itself (with its tag count); everyone records it as
// visible and, in BIDIRECTIONAL mode, fixes who will message whom during
// the relationship exchange.
func (c *runContext) noteBoxCreated(id BoxID, box Box, owner, tags int, group []int) {
	c.visibleBoxes[id] = visibleBox{box: box, owner: owner}
	c.numBoxesGenerated++
	if owner == c.rank {
		c.newBoxes[id] = box
		c.newBoxTags[id] = tags
		c.numTagsOwned += tags
		if c.numTagsOwned > c.maxTagsOwned {
			c.maxTagsOwned = c.numTagsOwned
		}
	}
	if c.cfg.Relationships != Bidirectional {
		return
	}
	if owner == c.rank {
		for _, r := range group {
			if r != c.rank {
				c.relationshipSenders[r] = true
			}
		}
	} else {
		c.relationshipTargets[owner] = true
	}
}

// noteBoxErased retires a box that a recombination replaced.
func (c *runContext) noteBoxErased(id BoxID) {
	delete(c.visibleBoxes, id)
	if _, ok := c.newBoxes[id]; ok {
		c.numTagsOwned -= c.newBoxTags[id]
		delete(c.newBoxes, id)
		delete(c.newBoxTags, id)
	}
}
