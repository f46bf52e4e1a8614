package spatial

import (
	"container/heap"
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// ErrInsufficientLocations indicates that the coordinate set is too small to
// support the requested neighbor count.
type ErrInsufficientLocations struct {
	Locations int
	K         int
}

func (e *ErrInsufficientLocations) Error() string {
	return fmt.Sprintf("insufficient locations: %d locations cannot support k=%d neighbors", e.Locations, e.K)
}

// NeighborStructure holds the fixed location ordering and, for each ordered
// position, the positions of up to k nearest earlier-ordered locations.
// Neighbor lists are sorted nearest-first. Immutable once built.
type NeighborStructure struct {
	coords    *CoordinateSet
	k         int
	order     []int   // position -> original location index
	position  []int   // original location index -> position
	neighbors [][]int // per position, earlier positions, nearest first

	meanNeighborDist float64
}

type buildOptions struct {
	randomOrder bool
	seed        int64
}

// BuildOption configures neighbor structure construction.
type BuildOption func(*buildOptions)

// WithRandomOrdering orders locations by a seeded shuffle instead of the
// default coordinate sort. The result is deterministic for a fixed seed.
func WithRandomOrdering(seed int64) BuildOption {
	return func(o *buildOptions) {
		o.randomOrder = true
		o.seed = seed
	}
}

// Build constructs the neighbor structure for a coordinate set. Locations are
// placed into a deterministic ordering (a lexicographic coordinate sort by
// default), then each location is linked to at most k nearest locations that
// precede it in that ordering, so the dependency graph is acyclic.
//
// Build fails with *ErrInsufficientLocations when the set has fewer than two
// locations, k is not positive, or k is not smaller than the location count.
func Build(coords *CoordinateSet, k int, opts ...BuildOption) (*NeighborStructure, error) {
	var o buildOptions
	for _, fn := range opts {
		fn(&o)
	}

	n := coords.Len()
	if n < 2 || k < 1 || k >= n {
		return nil, &ErrInsufficientLocations{Locations: n, K: k}
	}

	order := makeOrdering(coords, o)
	position := make([]int, n)
	for p, id := range order {
		position[id] = p
	}

	wrapped := make(locations, n)
	for i := 0; i < n; i++ {
		wrapped[i] = location{point: coords.At(i), id: i}
	}
	tree := kdtree.New(wrapped, false)

	// Querying roughly 3k nearest overall and filtering to earlier-ordered
	// locations finds the true k prior neighbors for the vast majority of
	// positions; the bounded-heap linear scan covers the rest exactly.
	probe := 3*k + 1
	if probe > n {
		probe = n
	}

	neighbors := make([][]int, n)
	neighbors[0] = []int{}
	var firstDistSum float64
	for p := 1; p < n; p++ {
		want := k
		if p < k {
			want = p
		}

		target := location{point: coords.At(order[p]), id: order[p]}
		cands := priorNeighbors(tree, target, position, p, probe)
		if len(cands) < want {
			cands = scanPriorNeighbors(coords, order, target.id, p, want)
		}
		if len(cands) > want {
			cands = cands[:want]
		}

		list := make([]int, len(cands))
		for i, c := range cands {
			list[i] = c.Pos
		}
		neighbors[p] = list
		firstDistSum += coords.Distance(order[p], order[list[0]])
	}

	return &NeighborStructure{
		coords:           coords,
		k:                k,
		order:            order,
		position:         position,
		neighbors:        neighbors,
		meanNeighborDist: firstDistSum / float64(n-1),
	}, nil
}

func makeOrdering(coords *CoordinateSet, o buildOptions) []int {
	n := coords.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if o.randomOrder {
		rng := rand.New(rand.NewSource(o.seed))
		rng.Shuffle(n, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
		return order
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := coords.At(order[i]), coords.At(order[j])
		for d := range a {
			if a[d] != b[d] {
				return a[d] < b[d]
			}
		}
		return order[i] < order[j]
	})
	return order
}

// priorNeighbors queries the tree for the probe nearest locations to target
// and keeps those ordered before position p.
func priorNeighbors(tree *kdtree.Tree, target location, position []int, p, probe int) []candidate {
	keeper := kdtree.NewNKeeper(probe)
	tree.NearestSet(keeper, target)

	var cands []candidate
	for keeper.Len() > 0 {
		item, _ := heap.Pop(keeper).(kdtree.ComparableDist)
		if item.Comparable == nil {
			continue
		}
		loc := item.Comparable.(location)
		if loc.id == target.id {
			continue
		}
		if pos := position[loc.id]; pos < p {
			cands = append(cands, candidate{Pos: pos, Dist: item.Dist})
		}
	}
	sortCandidates(cands)
	return cands
}

// scanPriorNeighbors finds the exact want nearest earlier-ordered locations
// by scanning all prior positions through a bounded max-heap.
func scanPriorNeighbors(coords *CoordinateSet, order []int, targetID, p, want int) []candidate {
	h := newCandidateHeap(want)
	target := coords.At(targetID)
	for pos := 0; pos < p; pos++ {
		h.Consider(pos, squaredDistance(target, coords.At(order[pos])))
	}
	return h.Drain()
}

// Len returns the number of locations in the structure.
func (ns *NeighborStructure) Len() int { return ns.coords.Len() }

// K returns the configured neighbor bound.
func (ns *NeighborStructure) K() int { return ns.k }

// Coordinates returns the underlying coordinate set.
func (ns *NeighborStructure) Coordinates() *CoordinateSet { return ns.coords }

// Ordering returns a copy of the location ordering: element p is the original
// location index placed at position p.
func (ns *NeighborStructure) Ordering() []int {
	out := make([]int, len(ns.order))
	copy(out, ns.order)
	return out
}

// Position returns the ordered position of original location index id.
func (ns *NeighborStructure) Position(id int) int { return ns.position[id] }

// NeighborsOf returns the neighbor positions of ordered position p, nearest
// first. The returned slice is shared with the structure and must not be
// modified.
func (ns *NeighborStructure) NeighborsOf(p int) []int { return ns.neighbors[p] }

// DistanceBetween returns the Euclidean distance between ordered positions.
func (ns *NeighborStructure) DistanceBetween(p, q int) float64 {
	return ns.coords.Distance(ns.order[p], ns.order[q])
}

// MeanNeighborDistance returns the average distance between each location and
// its nearest prior neighbor. Used to seed length-scale estimates.
func (ns *NeighborStructure) MeanNeighborDistance() float64 { return ns.meanNeighborDist }
