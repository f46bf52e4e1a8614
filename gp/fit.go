package gp

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/bioc/spoon/spatial"
)

// ErrFitDivergence indicates that the optimizer did not converge within its
// iteration budget, or that the entity carries no usable signal. The entity
// is still returned as a flagged fit; callers exclude it from trend fitting
// but keep it in the output.
var ErrFitDivergence = errors.New("gp: fit did not converge")

const (
	// DefaultMaxIterations bounds the Nelder-Mead iteration budget.
	DefaultMaxIterations = 200

	// DefaultVarianceFloor is the positive floor applied to unstable
	// variance estimates when stabilization is enabled.
	DefaultVarianceFloor = 1e-8
)

// FitOptions configures a single entity fit.
type FitOptions struct {
	// Kernel is the spatial covariance kernel. Defaults to Exponential.
	Kernel Kernel

	// Stabilize clamps near-zero or non-finite variance estimates to
	// VarianceFloor before they are returned.
	Stabilize bool

	// VarianceFloor overrides DefaultVarianceFloor when positive.
	VarianceFloor float64

	// MaxIterations overrides DefaultMaxIterations when positive.
	MaxIterations int

	// Restarts is the number of jittered re-optimizations attempted after a
	// failed first start. Zero disables restarts.
	Restarts int

	// Seed drives the restart jitter. Fits are fully deterministic for a
	// fixed seed.
	Seed int64
}

// EntityFit is the immutable result of fitting one entity.
type EntityFit struct {
	// Fitted holds the conditional mean per location, in the original
	// observation column order.
	Fitted []float64

	// Mean is the average fitted value on the fitting scale.
	Mean float64

	// Variance is the residual variance estimate on the fitting scale, the
	// sum of the spatial and nugget variances.
	Variance float64

	// SpatialVariance, Nugget and LengthScale are the estimated
	// hyperparameters.
	SpatialVariance float64
	Nugget          float64
	LengthScale     float64

	// LogLikelihood is the approximate log likelihood at the optimum.
	LogLikelihood float64

	// Converged reports whether the optimizer converged. Flagged fits carry
	// the sample mean as their fitted values.
	Converged bool
}

// Fit estimates a spatially correlated regression for one entity's
// observation vector using the neighbor-factorized likelihood.
//
// A flagged *EntityFit and ErrFitDivergence are returned together when the
// optimizer fails or the entity is degenerate (zero sample variance); any
// other error indicates a caller contract violation.
func Fit(y []float64, ns *spatial.NeighborStructure, opts FitOptions) (*EntityFit, error) {
	if ns == nil {
		return nil, errors.New("gp: nil neighbor structure")
	}
	n := ns.Len()
	if len(y) != n {
		return nil, fmt.Errorf("gp: observation length %d does not match %d locations", len(y), n)
	}
	kernel := opts.Kernel
	if kernel == nil {
		kernel = Exponential{}
	}
	floor := opts.VarianceFloor
	if floor <= 0 {
		floor = DefaultVarianceFloor
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	mu := stat.Mean(y, nil)
	sampleVar := stat.Variance(y, nil)
	if !isFinite(mu) || !isFinite(sampleVar) {
		return nil, fmt.Errorf("gp: non-finite observations")
	}
	if sampleVar <= floor {
		// No signal to model. Flag the entity instead of feeding a
		// zero-variance fit into the trend.
		return flaggedFit(mu, sampleVar, n, opts.Stabilize, floor), ErrFitDivergence
	}

	lik := newLikelihood(y, ns, kernel, mu)

	problem := optimize.Problem{Func: lik.negLogLikelihood}
	settings := &optimize.Settings{
		MajorIterations: maxIter,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-8,
			Iterations: 30,
		},
	}

	rho0 := ns.MeanNeighborDistance()
	if rho0 <= 0 {
		rho0 = 1
	}
	x0 := []float64{
		math.Log(sampleVar / 2),
		math.Log(sampleVar / 2),
		math.Log(rho0),
	}

	best, ok := minimize(problem, x0, settings)
	if !ok && opts.Restarts > 0 {
		rng := rand.New(rand.NewSource(opts.Seed))
		for r := 0; r < opts.Restarts && !ok; r++ {
			jittered := make([]float64, len(x0))
			for i, v := range x0 {
				jittered[i] = v + rng.NormFloat64()*0.5
			}
			best, ok = minimize(problem, jittered, settings)
		}
	}
	if !ok {
		return flaggedFit(mu, sampleVar, n, opts.Stabilize, floor), ErrFitDivergence
	}

	s2 := math.Exp(best.X[0])
	t2 := math.Exp(best.X[1])
	rho := math.Exp(best.X[2])

	fitted := lik.fittedValues(s2, t2, rho)
	variance := s2 + t2
	if opts.Stabilize && (!isFinite(variance) || variance < floor) {
		variance = floor
	}

	return &EntityFit{
		Fitted:          fitted,
		Mean:            stat.Mean(fitted, nil),
		Variance:        variance,
		SpatialVariance: s2,
		Nugget:          t2,
		LengthScale:     rho,
		LogLikelihood:   -best.F,
		Converged:       true,
	}, nil
}

func minimize(problem optimize.Problem, x0 []float64, settings *optimize.Settings) (*optimize.Result, bool) {
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil || result == nil {
		return nil, false
	}
	switch result.Status {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.Failure:
		return nil, false
	}
	if !isFinite(result.F) {
		return nil, false
	}
	for _, v := range result.X {
		if !isFinite(v) {
			return nil, false
		}
	}
	return result, true
}

func flaggedFit(mu, sampleVar float64, n int, stabilize bool, floor float64) *EntityFit {
	fitted := make([]float64, n)
	for i := range fitted {
		fitted[i] = mu
	}
	variance := sampleVar
	if stabilize && (!isFinite(variance) || variance < floor) {
		variance = floor
	}
	return &EntityFit{
		Fitted:    fitted,
		Mean:      mu,
		Variance:  variance,
		Converged: false,
	}
}

// likelihood caches the per-position neighbor geometry so repeated
// evaluations during optimization only recompute covariances.
type likelihood struct {
	ns     *spatial.NeighborStructure
	kernel Kernel

	// mu is the profiled process mean; yc is the observation vector centered
	// by mu and permuted into ordering space.
	mu float64
	yc []float64

	// Per position: distances target->neighbor and neighbor pairwise
	// distances (row-major m x m).
	dTarget [][]float64
	dPair   [][]float64

	// Scratch buffers reused across evaluations. Evaluations are serial
	// within one fit; a likelihood value must not be shared across fits.
	cov   []float64
	cvec  []float64
	alpha []float64
	ynb   []float64
}

func newLikelihood(y []float64, ns *spatial.NeighborStructure, kernel Kernel, mu float64) *likelihood {
	n := ns.Len()
	k := ns.K()
	order := ns.Ordering()

	yc := make([]float64, n)
	for p, id := range order {
		yc[p] = y[id] - mu
	}

	dTarget := make([][]float64, n)
	dPair := make([][]float64, n)
	for p := 1; p < n; p++ {
		nbr := ns.NeighborsOf(p)
		m := len(nbr)
		dt := make([]float64, m)
		dp := make([]float64, m*m)
		for i, qi := range nbr {
			dt[i] = ns.DistanceBetween(p, qi)
			for j, qj := range nbr {
				dp[i*m+j] = ns.DistanceBetween(qi, qj)
			}
		}
		dTarget[p] = dt
		dPair[p] = dp
	}

	return &likelihood{
		ns:      ns,
		kernel:  kernel,
		mu:      mu,
		yc:      yc,
		dTarget: dTarget,
		dPair:   dPair,
		cov:     make([]float64, k*k),
		cvec:    make([]float64, k),
		alpha:   make([]float64, k),
		ynb:     make([]float64, k),
	}
}

// negLogLikelihood evaluates the negative neighbor-factorized log likelihood
// at x = (log spatial variance, log nugget, log length scale). Parameter
// points that produce an indefinite covariance or a non-positive conditional
// variance evaluate to +Inf, which Nelder-Mead treats as infeasible.
func (l *likelihood) negLogLikelihood(x []float64) float64 {
	s2 := math.Exp(x[0])
	t2 := math.Exp(x[1])
	rho := math.Exp(x[2])
	if !isFinite(s2) || !isFinite(t2) || !isFinite(rho) || rho <= 0 {
		return math.Inf(1)
	}
	total := s2 + t2

	ll := gaussLogDensity(l.yc[0], total)
	n := l.ns.Len()
	for p := 1; p < n; p++ {
		condMean, condVar, ok := l.conditional(p, s2, t2, rho)
		if !ok {
			return math.Inf(1)
		}
		ll += gaussLogDensity(l.yc[p]-condMean, condVar)
	}
	if !isFinite(ll) {
		return math.Inf(1)
	}
	return -ll
}

// conditional returns the mean and variance of position p given its
// neighbors under the current hyperparameters.
func (l *likelihood) conditional(p int, s2, t2, rho float64) (condMean, condVar float64, ok bool) {
	nbr := l.ns.NeighborsOf(p)
	m := len(nbr)
	dt := l.dTarget[p]
	dp := l.dPair[p]

	cov := l.cov[:m*m]
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			v := l.kernel.Cov(dp[i*m+j], s2, rho)
			if i == j {
				v += t2
			}
			cov[i*m+j] = v
			cov[j*m+i] = v
		}
	}
	cvec := l.cvec[:m]
	ynb := l.ynb[:m]
	for i, q := range nbr {
		cvec[i] = l.kernel.Cov(dt[i], s2, rho)
		ynb[i] = l.yc[q]
	}

	var chol mat.Cholesky
	if !chol.Factorize(mat.NewSymDense(m, cov)) {
		return 0, 0, false
	}
	alpha := mat.NewVecDense(m, l.alpha[:m])
	if err := chol.SolveVecTo(alpha, mat.NewVecDense(m, cvec)); err != nil {
		return 0, 0, false
	}

	condVar = s2 + t2 - floats.Dot(cvec, l.alpha[:m])
	if condVar <= 0 || !isFinite(condVar) {
		return 0, 0, false
	}
	condMean = floats.Dot(l.alpha[:m], ynb)
	return condMean, condVar, true
}

// fittedValues computes the conditional means at the fitted hyperparameters
// and maps them back to the original column order.
func (l *likelihood) fittedValues(s2, t2, rho float64) []float64 {
	n := l.ns.Len()
	order := l.ns.Ordering()

	fitted := make([]float64, n)
	fitted[order[0]] = l.mu
	for p := 1; p < n; p++ {
		condMean, _, ok := l.conditional(p, s2, t2, rho)
		if !ok {
			condMean = 0
		}
		fitted[order[p]] = l.mu + condMean
	}
	return fitted
}

func gaussLogDensity(residual, variance float64) float64 {
	return -0.5 * (math.Log(2*math.Pi*variance) + residual*residual/variance)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
