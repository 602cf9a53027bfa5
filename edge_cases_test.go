package brcluster

import "testing"

// blobField builds a deterministic 2D tag field with two dense blobs and
// scattered singles, the kind of pattern a refinement criterion produces.
func blobField(bound Box) []Patch {
	nx := bound.Size(0)
	ny := bound.Size(1)
	values := make([]int, nx*ny)
	set := func(x, y int) { values[x*ny+y] = 1 }
	for x := 2; x <= 6; x++ {
		for y := 2; y <= 6; y++ {
			set(x, y)
		}
	}
	for x := 12; x <= 15; x++ {
		for y := 10; y <= 14; y++ {
			set(x, y)
		}
	}
	seed := uint32(12345)
	for i := 0; i < 8; i++ {
		seed = seed*1664525 + 1013904223
		set(int(seed>>16)%nx, int(seed>>8)%ny)
	}
	return []Patch{NewDensePatch(bound, values)}
}

// splitByRows partitions a patch list into per-rank strips along dimension 1.
func splitByRows(patches []Patch, bound Box, nRanks int) [][]Patch {
	out := make([][]Patch, nRanks)
	ny := bound.Size(1)
	for r := 0; r < nRanks; r++ {
		lo := bound.Lo[1] + r*ny/nRanks
		hi := bound.Lo[1] + (r+1)*ny/nRanks - 1
		strip := NewBox(IntVector{bound.Lo[0], lo}, IntVector{bound.Hi[0], hi})
		for _, p := range patches {
			sub := p.Box.Intersect(strip)
			if sub.Empty() {
				continue
			}
			out[r] = append(out[r], Patch{Box: sub, Tags: p.Tags})
		}
	}
	return out
}

func taggedCells(patches []Patch, tagVal int) []IntVector {
	var cells []IntVector
	for _, p := range patches {
		forEachCell(p.Box, func(cell IntVector) {
			if p.Tags(cell) == tagVal {
				c := make(IntVector, len(cell))
				copy(c, cell)
				cells = append(cells, c)
			}
		})
	}
	return cells
}

func TestClusterCoverageAndDisjointness(t *testing.T) {
	bound := NewBox(IntVector{0, 0}, IntVector{19, 19})
	patches := blobField(bound)
	cfg := DefaultConfig()
	cfg.EfficiencyTol = 0.7

	results, err := RunLocal(1, [][]Patch{patches}, bound, cfg)
	if err != nil {
		t.Fatal(err)
	}
	boxes := gatherBoxes(results)
	if len(boxes) == 0 {
		t.Fatal("tagged field produced no boxes")
	}

	for i := 0; i < len(boxes); i++ {
		for j := i + 1; j < len(boxes); j++ {
			if boxes[i].Intersects(boxes[j]) {
				t.Errorf("boxes %s and %s overlap", boxes[i].String(), boxes[j].String())
			}
		}
	}

	for _, cell := range taggedCells(patches, cfg.TagVal) {
		n := 0
		for _, b := range boxes {
			if b.Contains(cell) {
				n++
			}
		}
		if n != 1 {
			t.Errorf("tagged cell %v covered by %d boxes, want 1", cell, n)
		}
	}

	// Every box holds tags and, unless it is a single uncuttable cell,
	// meets at least the recombination efficiency floor.
	floor := cfg.CombineTol * cfg.EfficiencyTol
	for _, b := range boxes {
		tags := makeLocalTagHistogram(b, patches, cfg.TagVal, 1).numTags()
		if tags == 0 {
			t.Errorf("box %s holds no tags", b.String())
			continue
		}
		if eff := float64(tags) / float64(b.Volume()); eff < floor && b.Volume() > 1 {
			t.Errorf("box %s has efficiency %.2f, want >= %.2f", b.String(), eff, floor)
		}
	}
}

func TestClusterRespectsMaxBoxSize(t *testing.T) {
	bound := NewBox(IntVector{0, 0}, IntVector{19, 19})
	cfg := DefaultConfig()
	cfg.MaxBoxSize = IntVector{6, 6}

	results, err := RunLocal(1, [][]Patch{blobField(bound)}, bound, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range gatherBoxes(results) {
		for d := 0; d < b.Dim(); d++ {
			if b.Size(d) > 6 {
				t.Errorf("box %s exceeds the size limit in dimension %d", b.String(), d)
			}
		}
	}
}

// TestClusterMinBoxSuppressesCuts sets the cut floor so high that no
// dimension admits a cut; the whole field collapses to one box at its tag
// bounds regardless of efficiency.
func TestClusterMinBoxSuppressesCuts(t *testing.T) {
	bound := NewBox(IntVector{0, 0}, IntVector{19, 19})
	patches := blobField(bound)
	cfg := DefaultConfig()
	cfg.MinBox = IntVector{11, 11}
	cfg.EfficiencyTol = 0.9

	results, err := RunLocal(1, [][]Patch{patches}, bound, cfg)
	if err != nil {
		t.Fatal(err)
	}
	boxes := gatherBoxes(results)
	if len(boxes) != 1 {
		t.Fatalf("got %d boxes, want 1 when no cut is admissible", len(boxes))
	}
	for _, cell := range taggedCells(patches, cfg.TagVal) {
		if !boxes[0].Contains(cell) {
			t.Errorf("tagged cell %v outside the single box %s", cell, boxes[0].String())
		}
	}
}

// TestClusterDecompositionInvariance runs the same tag field on 1, 2, and 4
// ranks and expects the same box set. SINGLE_OWNER pins every ownership
// decision, so only the histogram content can influence the result.
func TestClusterDecompositionInvariance(t *testing.T) {
	bound := NewBox(IntVector{0, 0}, IntVector{19, 19})
	patches := blobField(bound)
	cfg := DefaultConfig()
	cfg.EfficiencyTol = 0.7
	cfg.OwnerMode = SingleOwner
	cfg.AdvanceMode = Synchronous

	var reference []Box
	for _, nRanks := range []int{1, 2, 4} {
		results, err := RunLocal(nRanks, splitByRows(patches, bound, nRanks), bound, cfg)
		if err != nil {
			t.Fatalf("%d ranks: %v", nRanks, err)
		}
		got := gatherBoxes(results)
		if reference == nil {
			reference = got
			continue
		}
		expectBoxes(t, got, reference)
	}
}

func TestClusterDeterminism(t *testing.T) {
	bound := NewBox(IntVector{0, 0}, IntVector{19, 19})
	patches := blobField(bound)
	cfg := DefaultConfig()
	cfg.EfficiencyTol = 0.7
	cfg.AdvanceMode = Synchronous

	run := func() map[BoxID]Box {
		results, err := RunLocal(4, splitByRows(patches, bound, 4), bound, cfg)
		if err != nil {
			t.Fatal(err)
		}
		all := make(map[BoxID]Box)
		for _, res := range results {
			for id, b := range res.Boxes {
				all[id] = b
			}
		}
		return all
	}

	first := run()
	second := run()
	if len(first) != len(second) {
		t.Fatalf("runs produced %d and %d boxes", len(first), len(second))
	}
	for id, b := range first {
		b2, ok := second[id]
		if !ok || !b.Equal(b2) {
			t.Errorf("box %v = %s in run 1, %s in run 2", id, b.String(), b2.String())
		}
	}
}

func TestClusterSingleCellBound(t *testing.T) {
	bound := NewBox(IntVector{3, 3}, IntVector{3, 3})
	patches := []Patch{NewUniformPatch(bound, 1)}
	results, err := RunLocal(1, [][]Patch{patches}, bound, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	expectBoxes(t, gatherBoxes(results), []Box{bound})
}

func TestClusterThreeDimensions(t *testing.T) {
	bound := NewBox(IntVector{0, 0, 0}, IntVector{7, 7, 7})
	corner := NewBox(IntVector{0, 0, 0}, IntVector{2, 2, 2})
	patches := []Patch{NewUniformPatch(corner, 1)}
	results, err := RunLocal(1, [][]Patch{patches}, bound, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	expectBoxes(t, gatherBoxes(results), []Box{corner})
}
