package trend

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultSmoothing is the penalty weight on second differences of the
	// spline coefficients.
	DefaultSmoothing = 1.0

	// DefaultMinPoints is the minimum number of valid (mean, variance)
	// pairs required to fit a curve.
	DefaultMinPoints = 10

	// DefaultFloor is the smallest variance the curve will ever predict.
	DefaultFloor = 1e-8

	degree           = 3
	maxInteriorKnots = 8
)

// ErrInsufficientData indicates that too few valid entity fits were
// available to estimate the mean-variance trend.
type ErrInsufficientData struct {
	Valid    int
	Required int
}

func (e *ErrInsufficientData) Error() string {
	return fmt.Sprintf("insufficient data: %d valid fits, need at least %d", e.Valid, e.Required)
}

// Point is one entity's contribution to the trend scatter.
type Point struct {
	Mean     float64
	Variance float64
}

// Curve is a fitted mean-to-variance function. Immutable; Evaluate is safe
// for concurrent use.
type Curve struct {
	knots []float64
	coef  []float64
	lo    float64
	hi    float64
	floor float64

	// constant is used instead of the spline when the observed means span a
	// degenerate range.
	constant float64
	isConst  bool
}

type options struct {
	smoothing float64
	minPoints int
	floor     float64
}

// Option configures trend fitting.
type Option func(*options)

// WithSmoothing sets the second-difference penalty weight. Larger values
// produce flatter curves.
func WithSmoothing(lambda float64) Option {
	return func(o *options) {
		if lambda > 0 {
			o.smoothing = lambda
		}
	}
}

// WithMinPoints sets the minimum number of valid pairs required.
func WithMinPoints(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.minPoints = n
		}
	}
}

// WithFloor sets the minimum variance the curve will predict.
func WithFloor(f float64) Option {
	return func(o *options) {
		if f > 0 {
			o.floor = f
		}
	}
}

// Fit estimates a smooth variance-versus-mean curve from the scatter of
// per-entity fit results. Non-finite pairs are dropped; if fewer than the
// minimum number of valid pairs remain, Fit fails with
// *ErrInsufficientData.
func Fit(points []Point, opts ...Option) (*Curve, error) {
	o := options{
		smoothing: DefaultSmoothing,
		minPoints: DefaultMinPoints,
		floor:     DefaultFloor,
	}
	for _, fn := range opts {
		fn(&o)
	}

	valid := make([]Point, 0, len(points))
	for _, p := range points {
		if finite(p.Mean) && finite(p.Variance) && p.Variance >= 0 {
			valid = append(valid, p)
		}
	}
	if len(valid) < o.minPoints {
		return nil, &ErrInsufficientData{Valid: len(valid), Required: o.minPoints}
	}

	sort.Slice(valid, func(i, j int) bool { return valid[i].Mean < valid[j].Mean })
	lo := valid[0].Mean
	hi := valid[len(valid)-1].Mean

	if hi-lo < 1e-12 {
		// All entities share one mean level; the trend collapses to the
		// average variance at that level.
		var sum float64
		for _, p := range valid {
			sum += p.Variance
		}
		return &Curve{
			lo:       lo,
			hi:       hi,
			floor:    o.floor,
			constant: math.Max(sum/float64(len(valid)), o.floor),
			isConst:  true,
		}, nil
	}

	knots := knotVector(valid, lo, hi)
	nb := len(knots) - degree - 1

	basis := mat.NewDense(len(valid), nb, nil)
	obs := mat.NewVecDense(len(valid), nil)
	row := make([]float64, nb)
	for i, p := range valid {
		basisRow(knots, p.Mean, row)
		basis.SetRow(i, row)
		obs.SetVec(i, p.Variance)
	}

	coef, err := solvePenalized(basis, obs, o.smoothing)
	if err != nil {
		return nil, fmt.Errorf("trend: %w", err)
	}

	return &Curve{
		knots: knots,
		coef:  coef,
		lo:    lo,
		hi:    hi,
		floor: o.floor,
	}, nil
}

// Evaluate returns the predicted variance at the given mean. Means outside
// the observed range clamp to the nearest boundary, and predictions never
// fall below the configured floor.
func (c *Curve) Evaluate(mean float64) float64 {
	if c.isConst {
		return c.constant
	}
	if mean < c.lo {
		mean = c.lo
	} else if mean > c.hi {
		mean = c.hi
	}
	row := make([]float64, len(c.coef))
	basisRow(c.knots, mean, row)
	var v float64
	for i, b := range row {
		v += b * c.coef[i]
	}
	if !finite(v) || v < c.floor {
		return c.floor
	}
	return v
}

// Domain returns the observed mean range the curve supports.
func (c *Curve) Domain() (lo, hi float64) { return c.lo, c.hi }

// knotVector builds a clamped cubic knot vector with interior knots at mean
// quantiles, deduplicated to keep the basis well defined.
func knotVector(valid []Point, lo, hi float64) []float64 {
	interior := len(valid) / 4
	if interior > maxInteriorKnots {
		interior = maxInteriorKnots
	}

	means := make([]float64, len(valid))
	for i, p := range valid {
		means[i] = p.Mean
	}

	knots := make([]float64, 0, interior+2*(degree+1))
	for i := 0; i <= degree; i++ {
		knots = append(knots, lo)
	}
	prev := lo
	for i := 1; i <= interior; i++ {
		q := stat.Quantile(float64(i)/float64(interior+1), stat.Empirical, means, nil)
		if q > prev && q < hi {
			knots = append(knots, q)
			prev = q
		}
	}
	for i := 0; i <= degree; i++ {
		knots = append(knots, hi)
	}
	return knots
}

// basisRow fills out with the cubic B-spline basis values at x using the
// Cox-de Boor recursion. x must lie within [knots[0], knots[last]].
func basisRow(knots []float64, x float64, out []float64) {
	last := len(knots) - 1
	n := make([]float64, last)
	if x >= knots[last] {
		// Right boundary belongs to the final non-degenerate interval.
		for i := last - 1; i >= 0; i-- {
			if knots[i] < knots[i+1] {
				n[i] = 1
				break
			}
		}
	} else {
		for i := 0; i < last; i++ {
			if knots[i] <= x && x < knots[i+1] {
				n[i] = 1
				break
			}
		}
	}

	for d := 1; d <= degree; d++ {
		for i := 0; i < last-d; i++ {
			var left, right float64
			if denom := knots[i+d] - knots[i]; denom > 0 {
				left = (x - knots[i]) / denom * n[i]
			}
			if denom := knots[i+d+1] - knots[i+1]; denom > 0 {
				right = (knots[i+d+1] - x) / denom * n[i+1]
			}
			n[i] = left + right
		}
	}
	copy(out, n[:len(out)])
}

// solvePenalized solves (B'B + lambda D'D) a = B'v where D is the
// second-difference operator on the spline coefficients.
func solvePenalized(basis *mat.Dense, obs *mat.VecDense, lambda float64) ([]float64, error) {
	_, nb := basis.Dims()

	var gram mat.Dense
	gram.Mul(basis.T(), basis)

	if nb > 2 {
		diff := mat.NewDense(nb-2, nb, nil)
		for i := 0; i < nb-2; i++ {
			diff.Set(i, i, 1)
			diff.Set(i, i+1, -2)
			diff.Set(i, i+2, 1)
		}
		var penalty mat.Dense
		penalty.Mul(diff.T(), diff)
		penalty.Scale(lambda, &penalty)
		gram.Add(&gram, &penalty)
	}
	// Small ridge keeps the system positive definite when basis columns are
	// nearly collinear.
	for i := 0; i < nb; i++ {
		gram.Set(i, i, gram.At(i, i)+1e-10)
	}

	rhs := mat.NewVecDense(nb, nil)
	rhs.MulVec(basis.T(), obs)

	sym := mat.NewSymDense(nb, nil)
	for i := 0; i < nb; i++ {
		for j := i; j < nb; j++ {
			sym.SetSym(i, j, gram.At(i, j))
		}
	}

	coef := mat.NewVecDense(nb, nil)
	var chol mat.Cholesky
	if chol.Factorize(sym) {
		if err := chol.SolveVecTo(coef, rhs); err == nil {
			return coef.RawVector().Data, nil
		}
	}
	if err := coef.SolveVec(&gram, rhs); err != nil {
		return nil, fmt.Errorf("penalized spline solve failed: %w", err)
	}
	return coef.RawVector().Data, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
