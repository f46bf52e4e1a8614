package spatial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioc/spoon/testutil"
)

func grid(rows, cols int) *CoordinateSet {
	cs, err := NewCoordinateSet(testutil.GridCoordinates(rows, cols))
	if err != nil {
		panic(err)
	}
	return cs
}

func TestNewCoordinateSet(t *testing.T) {
	tests := []struct {
		name    string
		points  [][]float64
		wantErr bool
	}{
		{"Valid2D", [][]float64{{0, 0}, {1, 0}, {0, 1}}, false},
		{"Valid3D", [][]float64{{0, 0, 0}, {1, 2, 3}}, false},
		{"Empty", nil, true},
		{"Ragged", [][]float64{{0, 0}, {1}}, true},
		{"ZeroDim", [][]float64{{}}, true},
		{"NaN", [][]float64{{0, 0}, {1, math.NaN()}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := NewCoordinateSet(tt.points)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidCoordinates)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.points), cs.Len())
		})
	}
}

func TestCoordinateSetCopiesInput(t *testing.T) {
	points := [][]float64{{1, 2}, {3, 4}}
	cs, err := NewCoordinateSet(points)
	require.NoError(t, err)

	points[0][0] = 99
	assert.Equal(t, 1.0, cs.At(0)[0])
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		rows int
		cols int
		k    int
	}{
		{"SingleLocation", 1, 1, 1},
		{"KZero", 3, 3, 0},
		{"KNegative", 3, 3, -1},
		{"KEqualsN", 2, 2, 4},
		{"KExceedsN", 2, 2, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(grid(tt.rows, tt.cols), tt.k)
			var insufficient *ErrInsufficientLocations
			require.ErrorAs(t, err, &insufficient)
			assert.Equal(t, tt.rows*tt.cols, insufficient.Locations)
			assert.Equal(t, tt.k, insufficient.K)
		})
	}
}

func TestBuildAcyclic(t *testing.T) {
	tests := []struct {
		name string
		rows int
		cols int
		k    int
	}{
		{"SmallGrid", 4, 5, 3},
		{"SquareGrid", 8, 8, 10},
		{"Line", 1, 30, 5},
		{"KNearlyN", 3, 3, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns, err := Build(grid(tt.rows, tt.cols), tt.k)
			require.NoError(t, err)

			n := tt.rows * tt.cols
			assert.Equal(t, n, ns.Len())
			assert.Empty(t, ns.NeighborsOf(0))
			for p := 1; p < n; p++ {
				nbr := ns.NeighborsOf(p)
				assert.LessOrEqual(t, len(nbr), tt.k, "position %d", p)
				want := tt.k
				if p < tt.k {
					want = p
				}
				assert.Len(t, nbr, want, "position %d", p)
				for _, q := range nbr {
					assert.Less(t, q, p, "neighbor of %d references later position", p)
				}
			}
		})
	}
}

func TestBuildNeighborsAreNearest(t *testing.T) {
	cs := grid(6, 6)
	const k = 4
	ns, err := Build(cs, k)
	require.NoError(t, err)

	// Every neighbor list must match an exhaustive scan over prior
	// positions.
	order := ns.Ordering()
	for p := 1; p < ns.Len(); p++ {
		nbr := ns.NeighborsOf(p)
		scan := scanPriorNeighbors(cs, order, order[p], p, len(nbr))
		for i, c := range scan {
			// Distances must agree even if equidistant positions differ.
			gotDist := ns.DistanceBetween(p, nbr[i])
			wantDist := ns.DistanceBetween(p, c.Pos)
			assert.InDelta(t, wantDist, gotDist, 1e-12, "position %d rank %d", p, i)
		}
	}
}

func TestBuildNeighborsSortedByDistance(t *testing.T) {
	ns, err := Build(grid(7, 5), 6)
	require.NoError(t, err)

	for p := 1; p < ns.Len(); p++ {
		nbr := ns.NeighborsOf(p)
		for i := 1; i < len(nbr); i++ {
			prev := ns.DistanceBetween(p, nbr[i-1])
			cur := ns.DistanceBetween(p, nbr[i])
			assert.LessOrEqual(t, prev, cur, "position %d", p)
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	rng := testutil.NewRNG(7)
	points := testutil.ScatterCoordinates(60, 10, rng)
	cs, err := NewCoordinateSet(points)
	require.NoError(t, err)

	a, err := Build(cs, 5)
	require.NoError(t, err)
	b, err := Build(cs, 5)
	require.NoError(t, err)

	assert.Equal(t, a.Ordering(), b.Ordering())
	for p := 0; p < a.Len(); p++ {
		assert.Equal(t, a.NeighborsOf(p), b.NeighborsOf(p), "position %d", p)
	}
}

func TestBuildRandomOrdering(t *testing.T) {
	cs := grid(5, 5)

	a, err := Build(cs, 4, WithRandomOrdering(42))
	require.NoError(t, err)
	b, err := Build(cs, 4, WithRandomOrdering(42))
	require.NoError(t, err)
	c, err := Build(cs, 4, WithRandomOrdering(43))
	require.NoError(t, err)

	assert.Equal(t, a.Ordering(), b.Ordering())
	assert.NotEqual(t, a.Ordering(), c.Ordering())

	// Acyclicity holds under any ordering.
	for p := 1; p < c.Len(); p++ {
		for _, q := range c.NeighborsOf(p) {
			assert.Less(t, q, p)
		}
	}
}

func TestOrderingIsPermutation(t *testing.T) {
	ns, err := Build(grid(4, 7), 3)
	require.NoError(t, err)

	order := ns.Ordering()
	seen := make(map[int]bool, len(order))
	for p, id := range order {
		assert.False(t, seen[id])
		seen[id] = true
		assert.Equal(t, p, ns.Position(id))
	}
	assert.Len(t, seen, ns.Len())
}

func TestMeanNeighborDistance(t *testing.T) {
	// On a unit line every nearest prior neighbor is exactly one step away.
	ns, err := Build(grid(1, 10), 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, ns.MeanNeighborDistance(), 1e-12)
}
