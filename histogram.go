package brcluster

import "sync"

// tagHistogram is the per-dimension count of tagged cells along each axis of
// a candidate box. hist[d] has length box.Size(d); entry i counts the tagged
// cells whose coordinate along d is box.Lo[d]+i. The buf field is the wire
// layout: the D arrays concatenated in dimension order, each hist[d] a view
// into it.
type tagHistogram struct {
	buf  []int32
	hist [][]int32
}

// newTagHistogram allocates a zeroed histogram shaped for box.
func newTagHistogram(box Box) *tagHistogram {
	dim := box.Dim()
	total := 0
	for d := 0; d < dim; d++ {
		total += box.Size(d)
	}
	h := &tagHistogram{
		buf:  make([]int32, total),
		hist: make([][]int32, dim),
	}
	off := 0
	for d := 0; d < dim; d++ {
		h.hist[d] = h.buf[off : off+box.Size(d)]
		off += box.Size(d)
	}
	return h
}

// histogramFromBuffer wraps a received wire buffer as per-dimension views.
func histogramFromBuffer(box Box, buf []int32) *tagHistogram {
	h := &tagHistogram{buf: buf, hist: make([][]int32, box.Dim())}
	off := 0
	for d := 0; d < box.Dim(); d++ {
		h.hist[d] = buf[off : off+box.Size(d)]
		off += box.Size(d)
	}
	return h
}

// numTags returns the total tag count. Every dimension sums to the same
// value; dimension 0 is used.
func (h *tagHistogram) numTags() int {
	n := 0
	for _, c := range h.hist[0] {
		n += int(c)
	}
	return n
}

// accumulatePatch adds the tagged cells of one patch restricted to box.
func accumulatePatch(h *tagHistogram, box Box, p Patch, tagVal int) {
	inter := p.Box.Intersect(box)
	if inter.Empty() {
		return
	}
	forEachCell(inter, func(cell IntVector) {
		if p.Tags(cell) == tagVal {
			for d := range cell {
				h.hist[d][cell[d]-box.Lo[d]]++
			}
		}
	})
}

// makeLocalTagHistogram builds this process's contribution to the histogram
// of box from its local patches. Patches are split across numWorkers
// goroutines in contiguous ranges; each worker fills a private histogram and
// the results are summed after the workers join, so no synchronization is
// needed during counting. Falls back to a single pass when numWorkers <= 1
// or there are few patches.
func makeLocalTagHistogram(box Box, patches []Patch, tagVal, numWorkers int) *tagHistogram {
	if numWorkers <= 1 || len(patches) <= 1 {
		h := newTagHistogram(box)
		for _, p := range patches {
			accumulatePatch(h, box, p, tagVal)
		}
		return h
	}

	if numWorkers > len(patches) {
		numWorkers = len(patches)
	}
	partials := make([]*tagHistogram, numWorkers)

	var wg sync.WaitGroup
	perWorker := (len(patches) + numWorkers - 1) / numWorkers
	for w := 0; w < numWorkers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > len(patches) {
			end = len(patches)
		}
		if start >= len(patches) {
			break
		}

		wg.Add(1)
		go func(w, start, end int) {
			defer wg.Done()
			h := newTagHistogram(box)
			for _, p := range patches[start:end] {
				accumulatePatch(h, box, p, tagVal)
			}
			partials[w] = h
		}(w, start, end)
	}
	wg.Wait()

	out := newTagHistogram(box)
	for _, h := range partials {
		if h == nil {
			continue
		}
		for i, v := range h.buf {
			out.buf[i] += v
		}
	}
	return out
}

// tagBounds returns the minimal box within box that contains all tags, per
// the reduced histogram. ok is false when the histogram is empty.
func tagBounds(box Box, h *tagHistogram) (Box, bool) {
	out := Box{Lo: box.Lo.Copy(), Hi: box.Hi.Copy(), Block: box.Block}
	for d := range out.Lo {
		row := h.hist[d]
		lo := 0
		for lo < len(row) && row[lo] == 0 {
			lo++
		}
		if lo == len(row) {
			return box, false
		}
		hi := len(row) - 1
		for row[hi] == 0 {
			hi--
		}
		out.Lo[d] = box.Lo[d] + lo
		out.Hi[d] = box.Lo[d] + hi
	}
	return out, true
}

// trimToBox rebuilds the histogram restricted to shrunk, which must be
// contained in box.
func (h *tagHistogram) trimToBox(box, shrunk Box) *tagHistogram {
	out := newTagHistogram(shrunk)
	for d := 0; d < box.Dim(); d++ {
		off := shrunk.Lo[d] - box.Lo[d]
		copy(out.hist[d], h.hist[d][off:off+shrunk.Size(d)])
	}
	return out
}

// findZeroCutSwath scans row for the widest contiguous run of zeros and
// returns its inclusive bounds. Runs touching the ends cannot occur once the
// box has been shrunk to its tag bounds. Ties keep the earliest run.
func findZeroCutSwath(row []int32) (lo, hi int, found bool) {
	bestLo, bestWidth := 0, 0
	i := 0
	for i < len(row) {
		if row[i] != 0 {
			i++
			continue
		}
		j := i
		for j < len(row) && row[j] == 0 {
			j++
		}
		if j-i > bestWidth {
			bestLo, bestWidth = i, j-i
		}
		i = j
	}
	if bestWidth == 0 {
		return 0, 0, false
	}
	return bestLo, bestLo + bestWidth - 1, true
}

// cutAtLaplacian finds the split point of row by the largest jump across a
// sign change of the discrete Laplacian L[i] = row[i-1] - 2*row[i] +
// row[i+1]. Candidate cut positions are restricted to [minCut, maxCut]; a
// cut at position c separates cells [0,c-1] from [c,len-1]. When no sign
// change falls inside the window the cut falls back to the window-clamped
// midpoint with jump 0, so a cuttable dimension always yields a candidate.
func cutAtLaplacian(row []int32, minCut, maxCut int) (cut, jump int) {
	n := len(row)
	mid := n / 2
	if mid < minCut {
		mid = minCut
	}
	if mid > maxCut {
		mid = maxCut
	}
	cut, jump = mid, 0

	if n < 4 {
		return cut, jump
	}
	lap := make([]int, n)
	for i := 1; i < n-1; i++ {
		lap[i] = int(row[i-1]) - 2*int(row[i]) + int(row[i+1])
	}
	for i := 1; i < n-2; i++ {
		a, b := lap[i], lap[i+1]
		if a == 0 && b == 0 {
			continue
		}
		if a > 0 && b > 0 || a < 0 && b < 0 {
			continue
		}
		c := i + 1
		if c < minCut || c > maxCut {
			continue
		}
		j := a - b
		if j < 0 {
			j = -j
		}
		if j > jump {
			cut, jump = c, j
		}
	}
	return cut, jump
}
