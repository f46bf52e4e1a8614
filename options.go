package spoon

import (
	"fmt"
	"runtime"

	"github.com/bioc/spoon/gp"
)

const (
	// DefaultNeighbors is the default neighbor count k.
	DefaultNeighbors = 10

	// DefaultSeed drives location ordering and optimizer restarts.
	DefaultSeed = 1

	// DefaultMinConverged is the minimum number of converged entities
	// required to fit a trend.
	DefaultMinConverged = 10
)

type pipelineOptions struct {
	k             int
	stabilize     bool
	workers       int
	seed          int64
	randomOrder   bool
	kernel        gp.Kernel
	transform     Transform
	weightFloor   float64
	varianceFloor float64
	clipLow       float64
	clipHigh      float64
	normalizeRows bool
	minConverged  int
	smoothing     float64
	maxIterations int
	restarts      int
	logger        *Logger
	stats         StatsCollector
}

// Option configures a Pipeline.
//
// Options exist to avoid exploding the constructor surface; every option has
// a validated default.
type Option func(*pipelineOptions)

// WithNeighbors sets the neighbor count k used by the spatial index and the
// per-entity covariance approximation. Larger k is more accurate and more
// expensive; values beyond ~15 rarely change the fits.
func WithNeighbors(k int) Option {
	return func(o *pipelineOptions) { o.k = k }
}

// WithStabilization toggles clamping of unstable variance estimates and
// percentile clipping of extreme weights. Enabled by default.
func WithStabilization(enabled bool) Option {
	return func(o *pipelineOptions) { o.stabilize = enabled }
}

// WithWorkers sets the size of the fixed worker pool for the parallel fit
// phase. Defaults to GOMAXPROCS. Results do not depend on the worker count.
func WithWorkers(n int) Option {
	return func(o *pipelineOptions) { o.workers = n }
}

// WithSeed fixes the seed for every stochastic component (ordering shuffles,
// optimizer restarts). Identical seeds give identical results.
func WithSeed(seed int64) Option {
	return func(o *pipelineOptions) { o.seed = seed }
}

// WithRandomOrdering orders locations by a seeded shuffle instead of the
// default coordinate sort.
func WithRandomOrdering(enabled bool) Option {
	return func(o *pipelineOptions) { o.randomOrder = enabled }
}

// WithKernel sets the spatial covariance kernel. Defaults to
// gp.Exponential.
func WithKernel(k gp.Kernel) Option {
	return func(o *pipelineOptions) { o.kernel = k }
}

// WithTransform sets the preprocessing transform used for the delta-method
// correction. Defaults to Log1p.
func WithTransform(t Transform) Option {
	return func(o *pipelineOptions) { o.transform = t }
}

// WithWeightFloor sets the positive floor substituted for degenerate weights
// and flagged-entity rows.
func WithWeightFloor(f float64) Option {
	return func(o *pipelineOptions) { o.weightFloor = f }
}

// WithVarianceFloor sets the positive floor applied to unstable variance
// estimates when stabilization is enabled.
func WithVarianceFloor(f float64) Option {
	return func(o *pipelineOptions) { o.varianceFloor = f }
}

// WithClipPercentiles sets the percentile bounds for weight clipping.
// Both must lie in (0, 1) with lo < hi.
func WithClipPercentiles(lo, hi float64) Option {
	return func(o *pipelineOptions) {
		o.clipLow = lo
		o.clipHigh = hi
	}
}

// WithRowNormalization rescales each converged entity's weights to mean 1.
func WithRowNormalization(enabled bool) Option {
	return func(o *pipelineOptions) { o.normalizeRows = enabled }
}

// WithMinConverged sets the minimum number of converged entities required
// before a trend is fitted.
func WithMinConverged(n int) Option {
	return func(o *pipelineOptions) { o.minConverged = n }
}

// WithSmoothing sets the trend spline's second-difference penalty weight.
func WithSmoothing(lambda float64) Option {
	return func(o *pipelineOptions) { o.smoothing = lambda }
}

// WithMaxIterations bounds the per-entity optimizer iteration budget.
func WithMaxIterations(n int) Option {
	return func(o *pipelineOptions) { o.maxIterations = n }
}

// WithRestarts sets the number of jittered optimizer restarts attempted for
// entities whose first start fails.
func WithRestarts(n int) Option {
	return func(o *pipelineOptions) { o.restarts = n }
}

// WithLogger sets the logger. Defaults to a noop logger.
func WithLogger(l *Logger) Option {
	return func(o *pipelineOptions) { o.logger = l }
}

// WithStatsCollector sets the statistics collector. Pass nil to disable.
func WithStatsCollector(s StatsCollector) Option {
	return func(o *pipelineOptions) { o.stats = s }
}

func defaultOptions() pipelineOptions {
	return pipelineOptions{
		k:             DefaultNeighbors,
		stabilize:     true,
		workers:       runtime.GOMAXPROCS(0),
		seed:          DefaultSeed,
		weightFloor:   DefaultWeightFloor,
		varianceFloor: gp.DefaultVarianceFloor,
		clipLow:       DefaultClipLow,
		clipHigh:      DefaultClipHigh,
		minConverged:  DefaultMinConverged,
		smoothing:     0, // trend package default
		restarts:      2,
	}
}

func (o *pipelineOptions) validate() error {
	if o.k < 1 {
		return fmt.Errorf("spoon: neighbor count must be positive, got %d", o.k)
	}
	if o.workers < 1 {
		return fmt.Errorf("spoon: worker count must be positive, got %d", o.workers)
	}
	if o.weightFloor <= 0 {
		return fmt.Errorf("spoon: weight floor must be positive, got %g", o.weightFloor)
	}
	if o.varianceFloor <= 0 {
		return fmt.Errorf("spoon: variance floor must be positive, got %g", o.varianceFloor)
	}
	if o.clipLow <= 0 || o.clipHigh >= 1 || o.clipLow >= o.clipHigh {
		return fmt.Errorf("spoon: clip percentiles must satisfy 0 < lo < hi < 1, got (%g, %g)", o.clipLow, o.clipHigh)
	}
	if o.minConverged < 2 {
		return fmt.Errorf("spoon: minimum converged entities must be at least 2, got %d", o.minConverged)
	}
	return nil
}
