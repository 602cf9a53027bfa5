package brcluster

import (
	"fmt"
	"sort"
)

// Relationship discovery runs after the dendrogram completes. Pass 1 is
// purely local: every local tag box is tested against every output box this
// rank saw during the run, using the ghost-width overlap rule. Pass 2, in
// BIDIRECTIONAL mode, ships reverse relationships to the output-box owners
// over the reserved relationship tag. Both the send set and the expected
// receive set were fixed during the run, so the pass terminates when both
// drain.

// neighbors reports whether the tag box grown by gcw intersects the
// candidate. Growing either side gives the same answer, so only one side is
// grown.
func neighbors(tag Box, gcw IntVector, candidate Box) bool {
	return tag.Grow(gcw).Intersects(candidate)
}

// computeRelationships builds the tag-to-new set and, in BIDIRECTIONAL
// mode, the new-to-tag set held by output-box owners. Tag boxes are the
// local input patches, identified by (rank, patch index).
func computeRelationships(c *runContext) (map[BoxID][]BoxID, map[BoxID][]BoxID, error) {
	if c.cfg.Relationships == NoRelationships {
		return nil, nil, nil
	}
	gcw := c.cfg.GhostWidth

	// Fix an iteration order over the visible boxes so proposal messages
	// are deterministic.
	visible := make([]BoxID, 0, len(c.visibleBoxes))
	for id := range c.visibleBoxes {
		visible = append(visible, id)
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].less(visible[j]) })

	tagToNew := make(map[BoxID][]BoxID)
	var newToTag map[BoxID][]BoxID
	if c.cfg.Relationships == Bidirectional {
		newToTag = make(map[BoxID][]BoxID)
	}
	outgoing := make(map[int][]int32)
	for i, p := range c.patches {
		tid := BoxID{Owner: c.rank, Index: i}
		grown := p.Box.Grow(gcw)
		for _, nid := range visible {
			vb := c.visibleBoxes[nid]
			if !grown.Intersects(vb.box) {
				continue
			}
			tagToNew[tid] = append(tagToNew[tid], nid)
			if newToTag == nil {
				continue
			}
			if vb.owner == c.rank {
				newToTag[nid] = append(newToTag[nid], tid)
			} else {
				outgoing[vb.owner] = appendRelationship(outgoing[vb.owner], tid, nid)
			}
		}
	}

	if c.cfg.Relationships != Bidirectional {
		return tagToNew, nil, nil
	}
	if err := exchangeRelationships(c, outgoing, newToTag); err != nil {
		return nil, nil, err
	}
	for id := range newToTag {
		ids := newToTag[id]
		sort.Slice(ids, func(i, j int) bool { return ids[i].less(ids[j]) })
	}
	return tagToNew, newToTag, nil
}

// appendRelationship appends one (tag id, new id) entry to a proposal
// buffer, leaving room for the count header at slot 0.
func appendRelationship(buf []int32, tag, new BoxID) []int32 {
	if buf == nil {
		buf = append(buf, 0)
	}
	buf[0]++
	return append(buf,
		int32(tag.Owner), int32(tag.Index),
		int32(new.Owner), int32(new.Index))
}

// exchangeRelationships runs pass 2: send a proposal message to every rank
// this rank owes one (even when empty), receive from every rank known to
// owe this rank one, and fold received entries into newToTag.
func exchangeRelationships(c *runContext, outgoing map[int][]int32, newToTag map[BoxID][]BoxID) error {
	targets := sortedRanks(c.relationshipTargets)
	senders := sortedRanks(c.relationshipSenders)

	sends := make([]*Request, 0, len(targets))
	for _, dst := range targets {
		buf := outgoing[dst]
		if buf == nil {
			buf = []int32{0}
		}
		sends = append(sends, c.comm.Isend(dst, relationshipTag, buf))
	}
	recvs := make([]*Request, 0, len(senders))
	for _, src := range senders {
		recvs = append(recvs, c.comm.Irecv(src, relationshipTag))
	}

	for _, r := range recvs {
		r.Wait()
		if r.Err() != nil {
			return fmt.Errorf("%w: relationship exchange: %v", ErrCommunicator, r.Err())
		}
		if err := unpackRelationships(r.Data(), newToTag); err != nil {
			return err
		}
	}
	for _, r := range sends {
		r.Wait()
		if r.Err() != nil {
			return fmt.Errorf("%w: relationship exchange: %v", ErrCommunicator, r.Err())
		}
	}
	return nil
}

// unpackRelationships folds one proposal message into newToTag.
func unpackRelationships(buf []int32, newToTag map[BoxID][]BoxID) error {
	if len(buf) < 1 {
		return fmt.Errorf("%w: empty relationship message", ErrInvariant)
	}
	n := int(buf[0])
	if len(buf) != 1+4*n {
		return fmt.Errorf("%w: relationship message length %d for %d entries", ErrInvariant, len(buf), n)
	}
	buf = buf[1:]
	for i := 0; i < n; i++ {
		tid := BoxID{Owner: int(buf[0]), Index: int(buf[1])}
		nid := BoxID{Owner: int(buf[2]), Index: int(buf[3])}
		newToTag[nid] = append(newToTag[nid], tid)
		buf = buf[4:]
	}
	return nil
}

func sortedRanks(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}
