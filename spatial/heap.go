package spatial

import (
	"container/heap"
	"sort"
)

// Compile time check to ensure candidateHeap satisfies the heap interface.
var _ heap.Interface = (*candidateHeap)(nil)

// candidate is a prior-ordered location considered as a neighbor.
type candidate struct {
	// Pos is the position of the location in the fixed ordering.
	Pos int
	// Dist is the squared Euclidean distance to the target location.
	Dist float64
}

// candidateHeap is a bounded max-heap that keeps the k nearest candidates
// seen so far. The farthest retained candidate sits at the top, so deciding
// whether a new candidate belongs in the set is a single comparison.
type candidateHeap struct {
	Items []candidate
	Bound int
}

func newCandidateHeap(bound int) *candidateHeap {
	return &candidateHeap{Items: make([]candidate, 0, bound), Bound: bound}
}

// Len returns the number of elements in the heap.
func (h *candidateHeap) Len() int { return len(h.Items) }

// Less reports whether the element with index i should sort before the
// element with index j. Farther candidates sort first so the worst retained
// candidate is always on top.
func (h *candidateHeap) Less(i, j int) bool { return h.Items[i].Dist > h.Items[j].Dist }

// Swap swaps the elements with indexes i and j.
func (h *candidateHeap) Swap(i, j int) { h.Items[i], h.Items[j] = h.Items[j], h.Items[i] }

// Push adds x to the heap.
func (h *candidateHeap) Push(x any) {
	item, _ := x.(candidate)
	h.Items = append(h.Items, item)
}

// Pop removes and returns the top element from the heap.
func (h *candidateHeap) Pop() any {
	old := h.Items
	n := len(old)
	item := old[n-1]
	h.Items = old[:n-1]
	return item
}

// Consider offers a candidate to the heap, evicting the current farthest
// retained candidate when the heap is full and the new candidate is closer.
func (h *candidateHeap) Consider(pos int, dist float64) {
	if len(h.Items) < h.Bound {
		heap.Push(h, candidate{Pos: pos, Dist: dist})
		return
	}
	if dist < h.Items[0].Dist {
		h.Items[0] = candidate{Pos: pos, Dist: dist}
		heap.Fix(h, 0)
	}
}

// Drain removes all retained candidates and returns them sorted by distance,
// nearest first, with ties broken by ordering position.
func (h *candidateHeap) Drain() []candidate {
	out := make([]candidate, len(h.Items))
	for i := len(h.Items) - 1; i >= 0; i-- {
		out[i], _ = heap.Pop(h).(candidate)
	}
	// Heap order leaves equal distances in arbitrary relative order.
	sortCandidates(out)
	return out
}

func sortCandidates(cands []candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Dist != cands[j].Dist {
			return cands[i].Dist < cands[j].Dist
		}
		return cands[i].Pos < cands[j].Pos
	})
}
