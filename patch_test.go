package brcluster

import "testing"

func TestDensePatchRowMajor(t *testing.T) {
	b := box2(1, 1, 2, 3)
	p := NewDensePatch(b, []int{
		10, 11, 12,
		20, 21, 22,
	})
	cases := []struct {
		cell IntVector
		want int
	}{
		{IntVector{1, 1}, 10},
		{IntVector{1, 3}, 12},
		{IntVector{2, 1}, 20},
		{IntVector{2, 3}, 22},
	}
	for _, c := range cases {
		if got := p.Tags(c.cell); got != c.want {
			t.Errorf("Tags(%v) = %d, want %d", c.cell, got, c.want)
		}
	}
}

func TestForEachCellOrder(t *testing.T) {
	var cells []IntVector
	forEachCell(box2(0, 0, 1, 1), func(cell IntVector) {
		cells = append(cells, cell.Copy())
	})
	want := []IntVector{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	if len(cells) != len(want) {
		t.Fatalf("visited %d cells, want %d", len(cells), len(want))
	}
	for i := range want {
		for d := range want[i] {
			if cells[i][d] != want[i][d] {
				t.Errorf("cell %d = %v, want %v", i, cells[i], want[i])
			}
		}
	}
}

func TestForEachCellEmpty(t *testing.T) {
	count := 0
	forEachCell(box2(2, 2, 1, 5), func(IntVector) { count++ })
	if count != 0 {
		t.Errorf("visited %d cells of an empty box", count)
	}
}

func TestPatchCellOverlap(t *testing.T) {
	patches := []Patch{
		NewUniformPatch(box2(0, 0, 3, 3), 1),
		NewUniformPatch(box2(2, 2, 5, 5), 0),
	}
	if got := patchCellOverlap(patches, box2(0, 0, 2, 2)); got != 10 {
		t.Errorf("overlap = %d, want 10", got)
	}
	if got := patchCellOverlap(patches, box2(8, 8, 9, 9)); got != 0 {
		t.Errorf("overlap with disjoint box = %d, want 0", got)
	}
}
