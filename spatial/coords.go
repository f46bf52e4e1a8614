package spatial

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// ErrInvalidCoordinates is returned when a coordinate set is empty, ragged,
// or contains non-finite values.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// CoordinateSet is an immutable, ordered set of spatial locations. Location i
// corresponds to observation column i of the matrices fed into the pipeline.
type CoordinateSet struct {
	points [][]float64
	dims   int
}

// NewCoordinateSet validates and wraps a slice of coordinate rows. Every row
// must have the same dimensionality (at least 1) and contain only finite
// values. The rows are copied, so the caller may reuse its backing slices.
func NewCoordinateSet(points [][]float64) (*CoordinateSet, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: empty coordinate set", ErrInvalidCoordinates)
	}
	dims := len(points[0])
	if dims < 1 {
		return nil, fmt.Errorf("%w: zero-dimensional location", ErrInvalidCoordinates)
	}
	cp := make([][]float64, len(points))
	for i, p := range points {
		if len(p) != dims {
			return nil, fmt.Errorf("%w: location %d has %d dimensions, want %d", ErrInvalidCoordinates, i, len(p), dims)
		}
		row := make([]float64, dims)
		for d, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite value at location %d, dimension %d", ErrInvalidCoordinates, i, d)
			}
			row[d] = v
		}
		cp[i] = row
	}
	return &CoordinateSet{points: cp, dims: dims}, nil
}

// Len returns the number of locations.
func (c *CoordinateSet) Len() int { return len(c.points) }

// Dims returns the dimensionality of each location.
func (c *CoordinateSet) Dims() int { return c.dims }

// At returns the coordinates of location i. The returned slice is shared with
// the set and must not be modified.
func (c *CoordinateSet) At(i int) []float64 { return c.points[i] }

// Distance returns the Euclidean distance between locations i and j.
func (c *CoordinateSet) Distance(i, j int) float64 {
	return math.Sqrt(squaredDistance(c.points[i], c.points[j]))
}

func squaredDistance(a, b []float64) float64 {
	var s float64
	for d := range a {
		diff := a[d] - b[d]
		s += diff * diff
	}
	return s
}

// location adapts a single coordinate row to the kdtree.Comparable interface,
// carrying the original location index alongside the coordinates.
type location struct {
	point []float64
	id    int
}

// Compare implements kdtree.Comparable.
func (l location) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(location)
	return l.point[d] - q.point[d]
}

// Dims implements kdtree.Comparable.
func (l location) Dims() int { return len(l.point) }

// Distance implements kdtree.Comparable. It returns the squared Euclidean
// distance, which preserves nearest-neighbor ordering and avoids the sqrt.
func (l location) Distance(c kdtree.Comparable) float64 {
	q := c.(location)
	return squaredDistance(l.point, q.point)
}

// locations adapts a coordinate set to the kdtree.Interface.
type locations []location

func (ls locations) Index(i int) kdtree.Comparable         { return ls[i] }
func (ls locations) Len() int                              { return len(ls) }
func (ls locations) Slice(start, end int) kdtree.Interface { return ls[start:end] }
func (ls locations) Pivot(d kdtree.Dim) int {
	p := locationPlane{locations: ls, Dim: d}
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

// locationPlane implements sort.Interface and kdtree.SortSlicer over a single
// dimension of a location slice.
type locationPlane struct {
	locations
	kdtree.Dim
}

func (p locationPlane) Less(i, j int) bool {
	return p.locations[i].point[p.Dim] < p.locations[j].point[p.Dim]
}

func (p locationPlane) Slice(start, end int) kdtree.SortSlicer {
	return locationPlane{locations: p.locations[start:end], Dim: p.Dim}
}

func (p locationPlane) Swap(i, j int) {
	p.locations[i], p.locations[j] = p.locations[j], p.locations[i]
}
