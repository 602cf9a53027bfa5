package brcluster

import (
	"errors"
	"testing"
)

func TestNeighbors(t *testing.T) {
	tag := box2(0, 0, 3, 3)
	cases := []struct {
		gcw       IntVector
		candidate Box
		want      bool
	}{
		{IntVector{0, 0}, box2(2, 2, 5, 5), true},
		{IntVector{0, 0}, box2(4, 0, 6, 3), false},
		{IntVector{1, 1}, box2(4, 0, 6, 3), true},
		{IntVector{1, 1}, box2(5, 5, 7, 7), false},
		{IntVector{2, 2}, box2(5, 5, 7, 7), true},
	}
	for _, c := range cases {
		if got := neighbors(tag, c.gcw, c.candidate); got != c.want {
			t.Errorf("neighbors(%s, %v, %s) = %v, want %v",
				tag.String(), c.gcw, c.candidate.String(), got, c.want)
		}
	}
}

func TestRelationshipWireRoundTrip(t *testing.T) {
	var buf []int32
	buf = appendRelationship(buf, BoxID{Owner: 0, Index: 1}, BoxID{Owner: 2, Index: 7})
	buf = appendRelationship(buf, BoxID{Owner: 1, Index: 0}, BoxID{Owner: 2, Index: 7})
	if buf[0] != 2 || len(buf) != 9 {
		t.Fatalf("proposal buffer = %v", buf)
	}

	newToTag := make(map[BoxID][]BoxID)
	if err := unpackRelationships(buf, newToTag); err != nil {
		t.Fatal(err)
	}
	got := newToTag[BoxID{Owner: 2, Index: 7}]
	if len(got) != 2 || got[0] != (BoxID{Owner: 0, Index: 1}) || got[1] != (BoxID{Owner: 1, Index: 0}) {
		t.Errorf("unpacked %v", got)
	}
}

func TestUnpackRelationshipsRejectsMalformed(t *testing.T) {
	m := make(map[BoxID][]BoxID)
	if err := unpackRelationships(nil, m); !errors.Is(err, ErrInvariant) {
		t.Errorf("empty message: err = %v, want ErrInvariant", err)
	}
	if err := unpackRelationships([]int32{2, 0, 0, 1, 1}, m); !errors.Is(err, ErrInvariant) {
		t.Errorf("truncated message: err = %v, want ErrInvariant", err)
	}
	if err := unpackRelationships([]int32{0}, m); err != nil {
		t.Errorf("empty proposal rejected: %v", err)
	}
}

func TestSortedRanks(t *testing.T) {
	got := sortedRanks(map[int]bool{3: true, 0: true, 2: true})
	if len(got) != 3 || got[0] != 0 || got[1] != 2 || got[2] != 3 {
		t.Errorf("sortedRanks = %v, want [0 2 3]", got)
	}
	if got := sortedRanks(nil); len(got) != 0 {
		t.Errorf("sortedRanks(nil) = %v, want empty", got)
	}
}

// twoRankFull tags the whole 1D bound across two ranks, so the run produces
// a single box owned by rank 0 with both tag patches as neighbors.
func twoRankFull() (Box, [][]Patch) {
	bound := box1(0, 9)
	return bound, [][]Patch{
		{NewUniformPatch(box1(0, 4), 1)},
		{NewUniformPatch(box1(5, 9), 1)},
	}
}

func TestRelationshipsBidirectional(t *testing.T) {
	bound, patches := twoRankFull()
	cfg := DefaultConfig()
	cfg.Relationships = Bidirectional
	results, err := RunLocal(2, patches, bound, cfg)
	if err != nil {
		t.Fatal(err)
	}

	expectBoxes(t, gatherBoxes(results), []Box{bound})

	// Every rank sees its own tag patch next to the one output box.
	var boxID BoxID
	for id := range results[0].Boxes {
		boxID = id
	}
	for r, res := range results {
		tid := BoxID{Owner: r, Index: 0}
		nids := res.TagToNew[tid]
		if len(nids) != 1 || nids[0] != boxID {
			t.Errorf("rank %d TagToNew[%v] = %v, want [%v]", r, tid, nids, boxID)
		}
	}

	// The reverse set lives with the box owner and holds both tag boxes.
	tids := results[boxID.Owner].NewToTag[boxID]
	if len(tids) != 2 || tids[0] != (BoxID{Owner: 0, Index: 0}) || tids[1] != (BoxID{Owner: 1, Index: 0}) {
		t.Errorf("NewToTag[%v] = %v", boxID, tids)
	}
	other := 1 - boxID.Owner
	if len(results[other].NewToTag) != 0 {
		t.Errorf("non-owner rank holds %d reverse entries", len(results[other].NewToTag))
	}
}

func TestRelationshipsTagToNewOnly(t *testing.T) {
	bound, patches := twoRankFull()
	cfg := DefaultConfig()
	cfg.Relationships = TagToNew
	results, err := RunLocal(2, patches, bound, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for r, res := range results {
		if len(res.TagToNew) != 1 {
			t.Errorf("rank %d TagToNew has %d entries, want 1", r, len(res.TagToNew))
		}
		if len(res.NewToTag) != 0 {
			t.Errorf("rank %d holds reverse entries in TAG_TO_NEW mode", r)
		}
	}
}

func TestRelationshipsNone(t *testing.T) {
	bound, patches := twoRankFull()
	cfg := DefaultConfig()
	cfg.Relationships = NoRelationships
	results, err := RunLocal(2, patches, bound, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for r, res := range results {
		if len(res.TagToNew) != 0 || len(res.NewToTag) != 0 {
			t.Errorf("rank %d produced neighborhoods in NONE mode", r)
		}
	}
}

// TestRelationshipSymmetry checks that the union of forward pairs across
// all ranks equals the union of reversed pairs, on the four-rank split
// scenario where relationships cross rank boundaries.
func TestRelationshipSymmetry(t *testing.T) {
	bound := NewBox(IntVector{0, 0}, IntVector{7, 7})
	cfg := DefaultConfig()
	cfg.EfficiencyTol = 0.8
	cfg.CombineTol = 0.8
	cfg.AdvanceMode = Synchronous

	results, err := RunLocal(4, s6Patches(), bound, cfg)
	if err != nil {
		t.Fatal(err)
	}

	type pair struct{ tag, new BoxID }
	forward := make(map[pair]bool)
	reverse := make(map[pair]bool)
	for _, res := range results {
		for tid, nids := range res.TagToNew {
			for _, nid := range nids {
				forward[pair{tid, nid}] = true
			}
		}
		for nid, tids := range res.NewToTag {
			for _, tid := range tids {
				reverse[pair{tid, nid}] = true
			}
		}
	}
	if len(forward) == 0 {
		t.Fatal("no relationships found")
	}
	if len(forward) != len(reverse) {
		t.Fatalf("forward has %d pairs, reverse has %d", len(forward), len(reverse))
	}
	for p := range forward {
		if !reverse[p] {
			t.Errorf("pair %v missing from the reverse set", p)
		}
	}
}
