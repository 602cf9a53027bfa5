package brcluster

import (
	"fmt"
	"math"
)

// waitPhase is the dendrogram node state-machine value: the phase a node is
// in when continueAlgorithm returns without completing.
type waitPhase int

const (
	phaseToBeLaunched waitPhase = iota
	phaseReduceHistogram
	phaseBcastAcceptability
	phaseGatherGroupingCriteria
	phaseBcastChildGroups
	phaseRunChildren
	phaseBcastToDropouts
	phaseCompleted
)

var phaseNames = map[waitPhase]string{
	phaseToBeLaunched:           "to_be_launched",
	phaseReduceHistogram:        "reduce_histogram",
	phaseBcastAcceptability:     "bcast_acceptability",
	phaseGatherGroupingCriteria: "gather_grouping_criteria",
	phaseBcastChildGroups:       "bcast_child_groups",
	phaseRunChildren:            "run_children",
	phaseBcastToDropouts:        "bcast_to_dropouts",
	phaseCompleted:              "completed",
}

func (p waitPhase) String() string {
	return phaseNames[p]
}

// boxAcceptance records whether and how a candidate box was accepted.
// Accepted values are odd, rejected values even; the low bit survives the
// wire so any rank can classify a code it receives.
type boxAcceptance int

const (
	undetermined            boxAcceptance = -2
	hasnotagByOwner         boxAcceptance = -1
	rejectedByCalculation   boxAcceptance = 0
	acceptedByCalculation   boxAcceptance = 1
	rejectedByOwner         boxAcceptance = 2
	acceptedByOwner         boxAcceptance = 3
	rejectedByRecombination boxAcceptance = 4
	acceptedByRecombination boxAcceptance = 5
	rejectedByDropoutBcast  boxAcceptance = 6
	acceptedByDropoutBcast  boxAcceptance = 7
)

func (a boxAcceptance) accepted() bool {
	return a >= 0 && a%2 == 1
}

func (a boxAcceptance) rejected() bool {
	return a >= 0 && a%2 == 0
}

func (a boxAcceptance) hasNoTag() bool {
	return a == hasnotagByOwner
}

// dendrogramNode is one node of the Berger-Rigoutsos dendrogram: a
// candidate box, the ordered group of ranks cooperating on it, and the
// owner rank elected within the group. Each node is a cooperative state
// machine; continueAlgorithm advances it as far as the current collective
// allows and returns the phase it is waiting in.
type dendrogramNode struct {
	ctx    *runContext
	handle nodeHandle

	// pos is the heap-style position in the binary dendrogram: root 1,
	// children 2*pos and 2*pos+1. Positions too deep to represent become
	// -1 (left) and -2 (right).
	pos        int
	generation int
	parent     nodeHandle
	left       nodeHandle
	right      nodeHandle

	box    Box
	group  []int
	owner  int
	mpiTag int

	hist       *tagHistogram
	numTags    int
	acceptance boxAcceptance
	phase      waitPhase
	boxID      BoxID

	cg *commGroup

	// Split working data, valid from the acceptability broadcast on.
	cutDim               int
	leftBox, rightBox    Box
	leftOwner, rightOwn  int
	leftTag, rightTag    int
	leftGroup, rightGrp  []int
	dropouts             []int
	split                bool
	childrenExpected     int
	childrenDone         int
	recombined           bool

	nCont  int
	queued bool
}

// materializeNode allocates a node with its tree identity and counts it in
// the run statistics. Every process in the group calls this with identical
// arguments when the node is created.
func (c *runContext) materializeNode(box Box, group []int, owner, tag int, parent nodeHandle, pos, generation int) *dendrogramNode {
	n := c.allocNode()
	n.box = box
	n.group = group
	n.owner = owner
	n.mpiTag = tag
	n.parent = parent
	n.pos = pos
	n.generation = generation
	n.acceptance = undetermined
	n.phase = phaseToBeLaunched

	c.numNodesActive++
	if c.numNodesActive > c.maxNodesActive {
		c.maxNodesActive = c.numNodesActive
	}
	if owner == c.rank {
		c.numNodesOwned++
		if c.numNodesOwned > c.maxNodesOwned {
			c.maxNodesOwned = c.numNodesOwned
		}
	}
	if generation > c.maxGeneration {
		c.maxGeneration = generation
	}
	return n
}

func (n *dendrogramNode) ownerIdx() int {
	for i, r := range n.group {
		if r == n.owner {
			return i
		}
	}
	return -1
}

func (n *dendrogramNode) history(action string, kv ...any) {
	if !n.ctx.cfg.LogNodeHistory {
		return
	}
	args := append([]any{"pos", n.pos, "generation", n.generation, "owner", n.owner, "box", n.box.String()}, kv...)
	n.ctx.logger.Debug(action, args...)
}

// continueAlgorithm advances the node as far as the in-flight collective
// allows. It returns the phase the node is waiting in; phaseCompleted means
// the node and, transitively, its whole subtree are finished on this rank.
// The node expects to be relaunched (re-entered) whenever its collective
// progresses or one of its children completes.
func (n *dendrogramNode) continueAlgorithm() (waitPhase, error) {
	n.nCont++
	for {
		switch n.phase {
		case phaseToBeLaunched:
			if err := n.startReduceHistogram(); err != nil {
				return n.phase, err
			}

		case phaseReduceHistogram:
			if !n.cg.check() {
				return n.phase, nil
			}
			if n.cg.err != nil {
				return n.phase, n.cg.err
			}
			if err := n.finishReduceHistogram(); err != nil {
				return n.phase, err
			}

		case phaseBcastAcceptability:
			if !n.cg.check() {
				return n.phase, nil
			}
			if n.cg.err != nil {
				return n.phase, n.cg.err
			}
			if err := n.finishBcastAcceptability(); err != nil {
				return n.phase, err
			}

		case phaseGatherGroupingCriteria:
			if !n.cg.check() {
				return n.phase, nil
			}
			if n.cg.err != nil {
				return n.phase, n.cg.err
			}
			if err := n.finishGatherGroupingCriteria(); err != nil {
				return n.phase, err
			}

		case phaseBcastChildGroups:
			if !n.cg.check() {
				return n.phase, nil
			}
			if n.cg.err != nil {
				return n.phase, n.cg.err
			}
			if err := n.finishBcastChildGroups(); err != nil {
				return n.phase, err
			}

		case phaseRunChildren:
			if n.childrenDone < n.childrenExpected {
				return n.phase, nil
			}
			if err := n.finishRunChildren(); err != nil {
				return n.phase, err
			}

		case phaseBcastToDropouts:
			if !n.cg.check() {
				return n.phase, nil
			}
			if n.cg.err != nil {
				return n.phase, n.cg.err
			}
			if err := n.finishBcastToDropouts(); err != nil {
				return n.phase, err
			}

		case phaseCompleted:
			return phaseCompleted, nil
		}
	}
}

// startReduceHistogram builds the local histogram and posts the sum-reduce
// of it to the owner.
func (n *dendrogramNode) startReduceHistogram() error {
	cfg := n.ctx.cfg
	n.hist = makeLocalTagHistogram(n.box, n.ctx.patches, cfg.TagVal, cfg.Workers)
	n.cg = newCommGroup(n.ctx.comm, n.group, n.ownerIdx(), n.mpiTag, n.handle)
	n.cg.beginSumReduce(n.hist.buf)
	n.phase = phaseReduceHistogram
	n.history("node launched", "group", len(n.group), "tag", n.mpiTag)
	return n.ctx.stage.launch(n.cg)
}

// finishReduceHistogram runs the owner's accept-or-split decision on the
// reduced histogram and posts the acceptability broadcast.
func (n *dendrogramNode) finishReduceHistogram() error {
	var payload []int32
	if n.owner == n.ctx.rank {
		if err := n.acceptOrSplitBox(); err != nil {
			return err
		}
		payload = n.packAcceptability()
	}
	n.cg.beginBcast(payload)
	n.phase = phaseBcastAcceptability
	return n.ctx.stage.launch(n.cg)
}

// acceptOrSplitBox is the owner-only decision: shrink the box to its tag
// bounds, then accept it, declare it tagless, or choose a cut and reject it.
func (n *dendrogramNode) acceptOrSplitBox() error {
	cfg := n.ctx.cfg
	n.numTags = n.hist.numTags()
	if n.numTags == 0 {
		n.acceptance = hasnotagByOwner
		n.history("box has no tag")
		return nil
	}

	if shrunk, ok := tagBounds(n.box, n.hist); ok && !shrunk.Equal(n.box) {
		n.hist = n.hist.trimToBox(n.box, shrunk)
		n.history("box shrunk to tag bounds", "shrunk", shrunk.String())
		n.box = shrunk
	}

	efficiency := float64(n.numTags) / float64(n.box.Volume())
	withinMax := true
	for d := 0; d < n.box.Dim(); d++ {
		if n.box.Size(d) > cfg.MaxBoxSize[d] {
			withinMax = false
			break
		}
	}
	if efficiency >= cfg.EfficiencyTol && withinMax {
		n.acceptance = acceptedByCalculation
		return nil
	}

	dim, cut, ok := n.chooseCut()
	if !ok {
		// Every dimension is already at the advisory floor; splitting
		// further would make boxes smaller than MinBox.
		n.acceptance = acceptedByCalculation
		n.history("box accepted at size floor", "efficiency", efficiency)
		return nil
	}
	n.acceptance = rejectedByCalculation
	n.cutDim = dim
	n.leftBox = Box{Lo: n.box.Lo.Copy(), Hi: n.box.Hi.Copy(), Block: n.box.Block}
	n.rightBox = Box{Lo: n.box.Lo.Copy(), Hi: n.box.Hi.Copy(), Block: n.box.Block}
	n.leftBox.Hi[dim] = n.box.Lo[dim] + cut - 1
	n.rightBox.Lo[dim] = n.box.Lo[dim] + cut
	n.history("box rejected, cut chosen", "dim", dim, "cut", n.box.Lo[dim]+cut, "efficiency", efficiency)
	return nil
}

// cutWindow returns the admissible cut positions for dimension d, honoring
// the MinBox advisory floor on both halves.
func (n *dendrogramNode) cutWindow(d int) (minCut, maxCut int, ok bool) {
	size := n.box.Size(d)
	minCut = n.ctx.cfg.MinBox[d]
	maxCut = size - n.ctx.cfg.MinBox[d]
	return minCut, maxCut, minCut <= maxCut && size >= 2
}

// chooseCut picks the split plane: the widest zero swath across all
// cuttable dimensions, then the strongest Laplacian sign change, and as a
// last resort a center cut on a dimension that exceeds MaxBoxSize. Ties go
// to the lower dimension index, then the lower coordinate.
func (n *dendrogramNode) chooseCut() (dim, cut int, ok bool) {
	bestDim, bestCut, bestWidth := -1, 0, 0
	for d := 0; d < n.box.Dim(); d++ {
		minCut, maxCut, cuttable := n.cutWindow(d)
		if !cuttable {
			continue
		}
		lo, hi, found := findZeroCutSwath(n.hist.hist[d])
		if !found {
			continue
		}
		if width := hi - lo + 1; width > bestWidth {
			c := lo + width/2
			if c < minCut {
				c = minCut
			}
			if c > maxCut {
				c = maxCut
			}
			bestDim, bestCut, bestWidth = d, c, width
		}
	}
	if bestDim >= 0 {
		return bestDim, bestCut, true
	}

	bestJump := -1
	for d := 0; d < n.box.Dim(); d++ {
		minCut, maxCut, cuttable := n.cutWindow(d)
		if !cuttable {
			continue
		}
		// The Laplacian cut may not stray further from the box center
		// than MaxLapCutFromCenter of the half extent.
		size := n.box.Size(d)
		reach := int(n.ctx.cfg.MaxLapCutFromCenter * float64(size) / 2)
		if lo := size/2 - reach; lo > minCut {
			minCut = lo
		}
		if hi := size/2 + reach; hi < maxCut {
			maxCut = hi
		}
		if minCut > maxCut {
			continue
		}
		c, jump := cutAtLaplacian(n.hist.hist[d], minCut, maxCut)
		if jump > bestJump {
			bestDim, bestCut, bestJump = d, c, jump
		}
	}
	if bestDim >= 0 {
		return bestDim, bestCut, true
	}

	// No dimension can honor MinBox. A box over the size limit still must
	// be split, so cut the first offending dimension at its center.
	for d := 0; d < n.box.Dim(); d++ {
		if n.box.Size(d) > n.ctx.cfg.MaxBoxSize[d] && n.box.Size(d) >= 2 {
			return d, n.box.Size(d) / 2, true
		}
	}
	return 0, 0, false
}

// packAcceptability encodes the owner's verdict: the code, the (possibly
// shrunk) box, and on rejection the two child boxes the participants need
// for overlap counting.
func (n *dendrogramNode) packAcceptability() []int32 {
	buf := []int32{int32(n.acceptance)}
	buf = appendBox(buf, n.box)
	if n.acceptance.rejected() {
		buf = appendBox(buf, n.leftBox)
		buf = appendBox(buf, n.rightBox)
	}
	return buf
}

// finishBcastAcceptability applies the owner's verdict on every group
// member and steers the node to completion, or into the split path.
func (n *dendrogramNode) finishBcastAcceptability() error {
	dim := n.ctx.dim
	if n.owner != n.ctx.rank {
		buf := n.cg.result()
		if len(buf) < 1+2*dim {
			return fmt.Errorf("%w: short acceptability broadcast (%d ints)", ErrInvariant, len(buf))
		}
		code := boxAcceptance(buf[0])
		n.box, buf = decodeBox(buf[1:], dim, n.ctx.block)
		switch {
		case code.hasNoTag():
			n.acceptance = hasnotagByOwner
		case code.accepted():
			n.acceptance = acceptedByOwner
		default:
			n.acceptance = rejectedByOwner
			n.leftBox, buf = decodeBox(buf, dim, n.ctx.block)
			n.rightBox, _ = decodeBox(buf, dim, n.ctx.block)
		}
	}

	if n.acceptance.hasNoTag() {
		n.history("node completed without tags")
		n.complete()
		return nil
	}
	if n.acceptance.accepted() {
		n.createBox()
		n.complete()
		return nil
	}
	return n.startGatherGroupingCriteria()
}

// createBox records the accepted candidate as an output box on every group
// member.
func (n *dendrogramNode) createBox() {
	n.boxID = BoxID{Owner: n.owner, Index: n.mpiTag}
	n.ctx.noteBoxCreated(n.boxID, n.box, n.owner, n.numTags, n.group)
	n.history("box accepted", "id", fmt.Sprintf("%d:%d", n.boxID.Owner, n.boxID.Index))
}

// startGatherGroupingCriteria counts the local patch overlap with each child
// box and posts the gather to the owner.
func (n *dendrogramNode) startGatherGroupingCriteria() error {
	left := patchCellOverlap(n.ctx.patches, n.leftBox)
	right := patchCellOverlap(n.ctx.patches, n.rightBox)
	contrib := []int32{int32(left), int32(right)}
	switch n.ctx.cfg.OwnerMode {
	case FewestOwned:
		contrib = append(contrib, int32(n.ctx.numNodesOwned))
	case LeastActive:
		contrib = append(contrib, int32(n.ctx.numNodesActive))
	}
	n.cg.beginGather(contrib)
	n.phase = phaseGatherGroupingCriteria
	return n.ctx.stage.launch(n.cg)
}

// finishGatherGroupingCriteria forms the child groups on the owner, elects
// the child owners, claims their message tags, and posts the child-groups
// broadcast.
func (n *dendrogramNode) finishGatherGroupingCriteria() error {
	var payload []int32
	if n.owner == n.ctx.rank {
		if err := n.formChildGroups(); err != nil {
			return err
		}
		payload = n.packChildGroups()
	}
	n.cg.beginBcast(payload)
	n.phase = phaseBcastChildGroups
	return n.ctx.stage.launch(n.cg)
}

// formChildGroups is the owner-only election: a rank joins a child iff its
// patch overlap with that child box is positive (under SingleOwner, rank 0
// also joins both children), and each child's owner is picked per the
// configured OwnerMode.
func (n *dendrogramNode) formChildGroups() error {
	mode := n.ctx.cfg.OwnerMode
	contribs := n.cg.gatherResult()

	var leftGroup, rightGroup []int
	leftOverlap := make(map[int]int, len(n.group))
	rightOverlap := make(map[int]int, len(n.group))
	criterion := make(map[int]int, len(n.group))
	for i, rank := range n.group {
		c := contribs[i]
		want := 2
		if mode == FewestOwned || mode == LeastActive {
			want = 3
		}
		if len(c) != want {
			return fmt.Errorf("%w: grouping criteria from rank %d: %d ints, want %d", ErrInvariant, rank, len(c), want)
		}
		leftOverlap[rank] = int(c[0])
		rightOverlap[rank] = int(c[1])
		if want == 3 {
			criterion[rank] = int(c[2])
		}
		if c[0] > 0 {
			leftGroup = append(leftGroup, rank)
		}
		if c[1] > 0 {
			rightGroup = append(rightGroup, rank)
		}
	}
	if mode == SingleOwner {
		leftGroup = ensureMember(leftGroup, 0)
		rightGroup = ensureMember(rightGroup, 0)
	}
	if len(leftGroup) == 0 || len(rightGroup) == 0 {
		return fmt.Errorf("%w: empty child group after split of %s (left %d, right %d members)",
			ErrInvariant, n.box.String(), len(leftGroup), len(rightGroup))
	}

	n.leftGroup = leftGroup
	n.rightGrp = rightGroup
	n.leftOwner = electOwner(leftGroup, leftOverlap, criterion, mode)
	n.rightOwn = electOwner(rightGroup, rightOverlap, criterion, mode)

	var err error
	if n.leftTag, err = n.ctx.claimTag(); err != nil {
		return err
	}
	if n.rightTag, err = n.ctx.claimTag(); err != nil {
		return err
	}
	return nil
}

// ensureMember inserts rank into the sorted group if absent.
func ensureMember(group []int, rank int) []int {
	for i, r := range group {
		if r == rank {
			return group
		}
		if r > rank {
			return append(group[:i], append([]int{rank}, group[i:]...)...)
		}
	}
	return append(group, rank)
}

// electOwner picks a child's owner from its group. Overlap ties and
// criterion ties both resolve to the lower rank; groups are sorted, so the
// first strict improvement wins.
func electOwner(group []int, overlap, criterion map[int]int, mode OwnerMode) int {
	switch mode {
	case SingleOwner:
		return group[0]
	case FewestOwned, LeastActive:
		best := group[0]
		for _, r := range group[1:] {
			if criterion[r] < criterion[best] {
				best = r
			}
		}
		return best
	default: // MostOverlap
		best := group[0]
		for _, r := range group[1:] {
			if overlap[r] > overlap[best] {
				best = r
			}
		}
		return best
	}
}

// packChildGroups encodes both children: box, owner, message tag, and the
// participating ranks.
func (n *dendrogramNode) packChildGroups() []int32 {
	buf := appendBox(nil, n.leftBox)
	buf = append(buf, int32(n.leftOwner), int32(n.leftTag), int32(len(n.leftGroup)))
	for _, r := range n.leftGroup {
		buf = append(buf, int32(r))
	}
	buf = appendBox(buf, n.rightBox)
	buf = append(buf, int32(n.rightOwn), int32(n.rightTag), int32(len(n.rightGrp)))
	for _, r := range n.rightGrp {
		buf = append(buf, int32(r))
	}
	return buf
}

func (n *dendrogramNode) unpackChildGroups(buf []int32) error {
	dim := n.ctx.dim
	for side := 0; side < 2; side++ {
		if len(buf) < 2*dim+3 {
			return fmt.Errorf("%w: short child-groups broadcast", ErrInvariant)
		}
		var box Box
		box, buf = decodeBox(buf, dim, n.ctx.block)
		owner, tag, size := int(buf[0]), int(buf[1]), int(buf[2])
		buf = buf[3:]
		if size < 1 || size > len(buf) {
			return fmt.Errorf("%w: child group size %d", ErrInvariant, size)
		}
		group := make([]int, size)
		for i := range group {
			group[i] = int(buf[i])
		}
		buf = buf[size:]
		if side == 0 {
			n.leftBox, n.leftOwner, n.leftTag, n.leftGroup = box, owner, tag, group
		} else {
			n.rightBox, n.rightOwn, n.rightTag, n.rightGrp = box, owner, tag, group
		}
	}
	return nil
}

// childPositions returns the heap positions for this node's children,
// falling to the -1/-2 overflow markers when the tree is too deep.
func (n *dendrogramNode) childPositions() (int, int) {
	if n.pos <= 0 || n.pos > math.MaxInt32/2 {
		return -1, -2
	}
	return 2 * n.pos, 2*n.pos + 1
}

// finishBcastChildGroups materializes the children this rank participates
// in and enqueues them; ranks in neither child group become dropouts of the
// split and only await the final disposition broadcast.
func (n *dendrogramNode) finishBcastChildGroups() error {
	if n.owner != n.ctx.rank {
		if err := n.unpackChildGroups(n.cg.result()); err != nil {
			return err
		}
	}
	n.split = true
	n.dropouts = nil
	for _, r := range n.group {
		if !rankInGroup(n.leftGroup, r) && !rankInGroup(n.rightGrp, r) {
			n.dropouts = append(n.dropouts, r)
		}
	}

	leftPos, rightPos := n.childPositions()
	n.childrenExpected = 0
	if rankInGroup(n.leftGroup, n.ctx.rank) {
		child := n.ctx.materializeNode(n.leftBox, n.leftGroup, n.leftOwner, n.leftTag, n.handle, leftPos, n.generation+1)
		n.left = child.handle
		n.childrenExpected++
		n.ctx.enqueue(child)
	}
	if rankInGroup(n.rightGrp, n.ctx.rank) {
		child := n.ctx.materializeNode(n.rightBox, n.rightGrp, n.rightOwn, n.rightTag, n.handle, rightPos, n.generation+1)
		n.right = child.handle
		n.childrenExpected++
		n.ctx.enqueue(child)
	}
	n.history("children spawned",
		"left", n.leftBox.String(), "right", n.rightBox.String(),
		"leftOwner", n.leftOwner, "rightOwner", n.rightOwn, "dropouts", len(n.dropouts))
	n.phase = phaseRunChildren
	return nil
}

func rankInGroup(group []int, rank int) bool {
	for _, r := range group {
		if r == rank {
			return true
		}
	}
	return false
}

// finishRunChildren runs once all locally materialized children are
// complete. The owner decides recombination, then the final disposition is
// broadcast over the parent group so dropouts learn the outcome and every
// participant retires recombined child boxes.
func (n *dendrogramNode) finishRunChildren() error {
	if n.owner == n.ctx.rank {
		n.tryRecombine()
	}
	if len(n.group) == 1 {
		n.complete()
		return nil
	}
	var payload []int32
	if n.owner == n.ctx.rank {
		code := rejectedByDropoutBcast
		if n.recombined {
			code = acceptedByDropoutBcast
		}
		payload = []int32{int32(code)}
		if n.recombined {
			payload = appendBox(payload, n.box)
		}
	}
	n.cg.beginBcast(payload)
	n.phase = phaseBcastToDropouts
	return n.ctx.stage.launch(n.cg)
}

// tryRecombine fuses the two child boxes back into one when both children
// accepted their boxes outright, this rank owns both, and the union passes
// the combine efficiency and size limits. The child entries are erased
// before the parent's box is recorded.
func (n *dendrogramNode) tryRecombine() {
	cfg := n.ctx.cfg
	if n.left == nilNode || n.right == nilNode {
		return
	}
	l, r := n.ctx.node(n.left), n.ctx.node(n.right)
	if !l.acceptance.accepted() || !r.acceptance.accepted() {
		return
	}
	if l.owner != n.owner || r.owner != n.owner {
		return
	}
	union := l.box.Union(r.box)
	for d := 0; d < union.Dim(); d++ {
		if union.Size(d) > cfg.MaxBoxSize[d] {
			return
		}
	}
	tags := l.numTags + r.numTags
	if float64(tags)/float64(union.Volume()) < cfg.CombineTol*cfg.EfficiencyTol {
		return
	}

	n.ctx.noteBoxErased(l.boxID)
	n.ctx.noteBoxErased(r.boxID)
	l.acceptance = rejectedByRecombination
	r.acceptance = rejectedByRecombination
	n.box = union
	n.numTags = tags
	n.acceptance = acceptedByRecombination
	n.recombined = true
	n.createBox()
	n.history("children recombined", "tags", tags)
}

// finishBcastToDropouts applies the final disposition on the non-owner
// members of the parent group.
func (n *dendrogramNode) finishBcastToDropouts() error {
	if n.owner != n.ctx.rank {
		buf := n.cg.result()
		if len(buf) < 1 {
			return fmt.Errorf("%w: empty dropout broadcast", ErrInvariant)
		}
		code := boxAcceptance(buf[0])
		if code.accepted() {
			// The children were recombined: retire their boxes and
			// record the parent's.
			n.ctx.noteBoxErased(BoxID{Owner: n.leftOwner, Index: n.leftTag})
			n.ctx.noteBoxErased(BoxID{Owner: n.rightOwn, Index: n.rightTag})
			n.box, _ = decodeBox(buf[1:], n.ctx.dim, n.ctx.block)
			n.recombined = true
			n.createBox()
		}
		if rankInGroup(n.dropouts, n.ctx.rank) {
			if code.accepted() {
				n.acceptance = acceptedByDropoutBcast
			} else {
				n.acceptance = rejectedByDropoutBcast
			}
		}
	}
	n.complete()
	return nil
}

// complete finishes the node, updates counters, and wakes the parent if it
// is waiting on children.
func (n *dendrogramNode) complete() {
	n.phase = phaseCompleted
	c := n.ctx
	c.numNodesActive--
	c.numNodesCompleted++
	if n.owner == c.rank {
		c.numNodesOwned--
	}
	c.contCounts = append(c.contCounts, float64(n.nCont))
	n.history("node completed", "acceptance", int(n.acceptance), "continuations", n.nCont)

	if n.parent != nilNode {
		p := c.node(n.parent)
		p.childrenDone++
		if p.phase == phaseRunChildren && p.childrenDone >= p.childrenExpected {
			c.enqueue(p)
		}
	}
}
