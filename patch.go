package brcluster

// Patch is a rectangular piece of the tagged level held by the local
// process: its index box plus an accessor from cell index to the integer
// tag field value. The engine never copies the field; it only reads cells
// through Tags while building histograms.
type Patch struct {
	Box  Box
	Tags func(cell IntVector) int
}

// NewDensePatch builds a patch over box with the field values given in
// row-major order (last dimension fastest).
func NewDensePatch(box Box, values []int) Patch {
	b := box
	return Patch{
		Box: b,
		Tags: func(cell IntVector) int {
			idx := 0
			for d := 0; d < b.Dim(); d++ {
				idx = idx*b.Size(d) + (cell[d] - b.Lo[d])
			}
			return values[idx]
		},
	}
}

// NewUniformPatch builds a patch whose every cell carries the same value.
func NewUniformPatch(box Box, val int) Patch {
	return Patch{Box: box, Tags: func(IntVector) int { return val }}
}

// forEachCell visits every cell of box in row-major order. The callback
// receives a scratch vector that is reused between calls.
func forEachCell(box Box, fn func(cell IntVector)) {
	if box.Empty() {
		return
	}
	dim := box.Dim()
	cell := box.Lo.Copy()
	for {
		fn(cell)
		d := dim - 1
		for d >= 0 {
			cell[d]++
			if cell[d] <= box.Hi[d] {
				break
			}
			cell[d] = box.Lo[d]
			d--
		}
		if d < 0 {
			return
		}
	}
}

// patchCellOverlap counts the patch cells (tagged or not) that fall inside
// box. Used for ownership election when a candidate box is split.
func patchCellOverlap(patches []Patch, box Box) int {
	total := 0
	for _, p := range patches {
		total += p.Box.Intersect(box).Volume()
	}
	return total
}
