package brcluster

import "fmt"

// IntVector is a point or extent in the D-dimensional integer index space.
type IntVector []int

// Dim returns the number of dimensions.
func (v IntVector) Dim() int {
	return len(v)
}

// Copy returns an independent copy of v.
func (v IntVector) Copy() IntVector {
	out := make(IntVector, len(v))
	copy(out, v)
	return out
}

// Uniform returns a D-dimensional vector with every component set to val.
func Uniform(dim, val int) IntVector {
	v := make(IntVector, dim)
	for d := range v {
		v[d] = val
	}
	return v
}

// BlockID labels one of possibly several disjoint index spaces. A single
// clustering run operates within one block.
type BlockID int

// Box is a closed integer interval [Lo, Hi] in D dimensions. A box with any
// Hi[d] < Lo[d] is empty.
type Box struct {
	Lo, Hi IntVector
	Block  BlockID
}

// NewBox returns the box [lo, hi] in block 0.
func NewBox(lo, hi IntVector) Box {
	return Box{Lo: lo.Copy(), Hi: hi.Copy()}
}

// Dim returns the number of dimensions.
func (b Box) Dim() int {
	return len(b.Lo)
}

// Size returns the extent of the box along dimension d.
func (b Box) Size(d int) int {
	return b.Hi[d] - b.Lo[d] + 1
}

// Volume returns the number of cells in the box, 0 if empty.
func (b Box) Volume() int {
	v := 1
	for d := range b.Lo {
		s := b.Size(d)
		if s <= 0 {
			return 0
		}
		v *= s
	}
	return v
}

// Empty reports whether the box contains no cells.
func (b Box) Empty() bool {
	for d := range b.Lo {
		if b.Hi[d] < b.Lo[d] {
			return true
		}
	}
	return len(b.Lo) == 0
}

// Contains reports whether cell p lies inside the box.
func (b Box) Contains(p IntVector) bool {
	for d := range b.Lo {
		if p[d] < b.Lo[d] || p[d] > b.Hi[d] {
			return false
		}
	}
	return true
}

// Equal reports whether b and o span the same interval in the same block.
func (b Box) Equal(o Box) bool {
	if b.Block != o.Block || len(b.Lo) != len(o.Lo) {
		return false
	}
	for d := range b.Lo {
		if b.Lo[d] != o.Lo[d] || b.Hi[d] != o.Hi[d] {
			return false
		}
	}
	return true
}

// Intersect returns the overlap of b and o, which may be empty.
func (b Box) Intersect(o Box) Box {
	out := Box{Lo: b.Lo.Copy(), Hi: b.Hi.Copy(), Block: b.Block}
	for d := range out.Lo {
		if o.Lo[d] > out.Lo[d] {
			out.Lo[d] = o.Lo[d]
		}
		if o.Hi[d] < out.Hi[d] {
			out.Hi[d] = o.Hi[d]
		}
	}
	return out
}

// Intersects reports whether b and o share at least one cell.
func (b Box) Intersects(o Box) bool {
	if b.Block != o.Block {
		return false
	}
	for d := range b.Lo {
		if o.Hi[d] < b.Lo[d] || o.Lo[d] > b.Hi[d] {
			return false
		}
	}
	return true
}

// Grow returns b expanded by g cells in every direction along each dimension.
func (b Box) Grow(g IntVector) Box {
	out := Box{Lo: b.Lo.Copy(), Hi: b.Hi.Copy(), Block: b.Block}
	for d := range out.Lo {
		out.Lo[d] -= g[d]
		out.Hi[d] += g[d]
	}
	return out
}

// Union returns the minimal box containing both b and o.
func (b Box) Union(o Box) Box {
	out := Box{Lo: b.Lo.Copy(), Hi: b.Hi.Copy(), Block: b.Block}
	for d := range out.Lo {
		if o.Lo[d] < out.Lo[d] {
			out.Lo[d] = o.Lo[d]
		}
		if o.Hi[d] > out.Hi[d] {
			out.Hi[d] = o.Hi[d]
		}
	}
	return out
}

// String formats the box as [lo0 lo1 ..]..[hi0 hi1 ..] for logs and errors.
func (b Box) String() string {
	return fmt.Sprintf("%v..%v", []int(b.Lo), []int(b.Hi))
}

// appendBox encodes b onto buf as lo_0..lo_{D-1}, hi_0..hi_{D-1}.
func appendBox(buf []int32, b Box) []int32 {
	for d := range b.Lo {
		buf = append(buf, int32(b.Lo[d]))
	}
	for d := range b.Hi {
		buf = append(buf, int32(b.Hi[d]))
	}
	return buf
}

// decodeBox reads a box of the given dimension from the front of buf and
// returns it together with the remaining buffer.
func decodeBox(buf []int32, dim int, block BlockID) (Box, []int32) {
	b := Box{Lo: make(IntVector, dim), Hi: make(IntVector, dim), Block: block}
	for d := 0; d < dim; d++ {
		b.Lo[d] = int(buf[d])
		b.Hi[d] = int(buf[dim+d])
	}
	return b, buf[2*dim:]
}

// BoxID identifies an input or output box globally: the rank that owns the
// box plus an owner-local index. For output boxes the index is the message
// tag of the dendrogram node that accepted the box, which is unique across
// the run. For input boxes it is the local patch index.
type BoxID struct {
	Owner int
	Index int
}

// less orders IDs by owner, then index.
func (id BoxID) less(o BoxID) bool {
	if id.Owner != o.Owner {
		return id.Owner < o.Owner
	}
	return id.Index < o.Index
}
