package testutil

import (
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Float64 returns, as a float64, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// NormFloat64 returns a standard normal pseudo-random number.
func (r *RNG) NormFloat64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.NormFloat64()
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// GridCoordinates returns rows*cols locations on a unit-spaced 2D grid,
// row-major.
func GridCoordinates(rows, cols int) [][]float64 {
	points := make([][]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			points = append(points, []float64{float64(c), float64(r)})
		}
	}
	return points
}

// ScatterCoordinates returns n random 2D locations in [0, extent)^2.
func ScatterCoordinates(n int, extent float64, rng *RNG) [][]float64 {
	points := make([][]float64, n)
	for i := range points {
		points[i] = []float64{rng.Float64() * extent, rng.Float64() * extent}
	}
	return points
}

// SpatialDataset generates an entities-by-locations matrix of log-scale
// observations with a smooth spatial signal and mean-dependent noise, so the
// scatter of (mean, variance) pairs carries a real trend. Deterministic for
// a fixed RNG seed.
func SpatialDataset(entities int, coords [][]float64, rng *RNG) *mat.Dense {
	obs := mat.NewDense(entities, len(coords), nil)
	for g := 0; g < entities; g++ {
		base := 0.5 + 0.4*float64(g)
		amp := 0.3 + 0.05*float64(g%5)
		noise := 0.05 + 0.02*base
		for j, p := range coords {
			signal := amp * math.Sin(p[0]/3) * math.Cos(p[1]/3)
			obs.Set(g, j, base+signal+noise*rng.NormFloat64())
		}
	}
	return obs
}

// SetConstantRow overwrites row i of m with a constant value, producing a
// zero-variance (degenerate) entity.
func SetConstantRow(m *mat.Dense, i int, value float64) {
	_, cols := m.Dims()
	for j := 0; j < cols; j++ {
		m.Set(i, j, value)
	}
}
