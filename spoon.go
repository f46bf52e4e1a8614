package spoon

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/mat"

	"github.com/bioc/spoon/gp"
	"github.com/bioc/spoon/spatial"
	"github.com/bioc/spoon/trend"
)

// Pipeline sequences the weight-generation stages: neighbor structure,
// parallel per-entity fits, trend estimation, and weight generation. A
// Pipeline is immutable after New and safe for concurrent runs.
type Pipeline struct {
	opts   pipelineOptions
	logger *Logger
	stats  StatsCollector
}

// Meta is the per-entity metadata exposed for downstream reporting.
type Meta struct {
	// Entity is the row index in the observation matrix.
	Entity int

	// Mean and Variance are the fitted mean and residual variance estimate
	// on the fitting scale.
	Mean     float64
	Variance float64

	// SpatialVariance, Nugget and LengthScale are the fitted
	// hyperparameters; zero for flagged entities.
	SpatialVariance float64
	Nugget          float64
	LengthScale     float64

	// Converged is false for entities whose fit diverged. Flagged entities
	// are excluded from the trend but kept in the weight matrix at the
	// floor value.
	Converged bool

	// FlooredCells counts observations substituted with the floor weight.
	FlooredCells int
}

// Result is the output of a pipeline run.
type Result struct {
	// Weights has the same shape as the input observation matrix.
	Weights *WeightMatrix

	// Meta holds one entry per entity, in input row order.
	Meta []Meta

	// Trend is the fitted mean-variance curve.
	Trend *trend.Curve

	// Converged and Flagged count the entity fit outcomes.
	Converged int
	Flagged   int

	// Elapsed is the wall time of the run.
	Elapsed time.Duration
}

// New creates a Pipeline. Invalid option combinations fail immediately
// rather than at run time.
func New(opts ...Option) (*Pipeline, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}
	logger := o.logger
	if logger == nil {
		logger = NoopLogger()
	}
	stats := o.stats
	if stats == nil {
		stats = NoopStatsCollector{}
	}
	return &Pipeline{opts: o, logger: logger, stats: stats}, nil
}

// Run executes the weight-generation pipeline on an entities-by-locations
// observation matrix. The observations must already be normalized and
// transformed onto the fitting scale; column j of every row corresponds to
// coords location j.
//
// Per-entity failures are flagged and floored, never fatal. Run fails with
// *ErrShapeMismatch on misaligned inputs, *spatial.ErrInsufficientLocations
// when the coordinate set cannot support k neighbors, and
// *ErrPipelineAborted (wrapping *trend.ErrInsufficientData or the context
// error) when no trend can be fitted.
func (p *Pipeline) Run(ctx context.Context, observations *mat.Dense, coords *spatial.CoordinateSet) (*Result, error) {
	started := time.Now()
	res, err := p.run(ctx, observations, coords)
	p.stats.RecordRun(time.Since(started), err)
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(started)
	p.logger.LogRun(ctx, len(res.Meta), coords.Len(), res.Converged, res.Flagged, res.Elapsed)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, observations *mat.Dense, coords *spatial.CoordinateSet) (*Result, error) {
	entities, locations := observations.Dims()
	if locations != coords.Len() {
		return nil, &ErrShapeMismatch{
			Subject:  "observations",
			Rows:     entities,
			Cols:     locations,
			WantRows: entities,
			WantCols: coords.Len(),
		}
	}

	var buildOpts []spatial.BuildOption
	if p.opts.randomOrder {
		buildOpts = append(buildOpts, spatial.WithRandomOrdering(p.opts.seed))
	}
	ns, err := spatial.Build(coords, p.opts.k, buildOpts...)
	if err != nil {
		return nil, err
	}

	fits, err := p.fitEntities(ctx, observations, ns)
	if err != nil {
		return nil, err
	}

	points := make([]trend.Point, 0, entities)
	converged := 0
	for _, f := range fits {
		if f.Converged {
			converged++
			points = append(points, trend.Point{Mean: f.Mean, Variance: f.Variance})
		}
	}
	flagged := entities - converged

	trendOpts := []trend.Option{trend.WithMinPoints(p.opts.minConverged)}
	if p.opts.smoothing > 0 {
		trendOpts = append(trendOpts, trend.WithSmoothing(p.opts.smoothing))
	}
	curve, err := trend.Fit(points, trendOpts...)
	p.logger.LogTrend(ctx, len(points), err)
	if err != nil {
		return nil, &ErrPipelineAborted{Converged: converged, Flagged: flagged, cause: err}
	}

	wopts := WeightOptions{
		Transform:     p.opts.transform,
		Floor:         p.opts.weightFloor,
		Clip:          p.opts.stabilize,
		ClipLow:       p.opts.clipLow,
		ClipHigh:      p.opts.clipHigh,
		NormalizeRows: p.opts.normalizeRows,
	}
	weights, floored, err := GenerateWeights(fits, curve, wopts)
	if err != nil {
		return nil, err
	}

	meta := make([]Meta, entities)
	for i, f := range fits {
		meta[i] = Meta{
			Entity:          i,
			Mean:            f.Mean,
			Variance:        f.Variance,
			SpatialVariance: f.SpatialVariance,
			Nugget:          f.Nugget,
			LengthScale:     f.LengthScale,
			Converged:       f.Converged,
			FlooredCells:    floored[i],
		}
		p.stats.RecordFlooredCells(floored[i])
	}

	return &Result{
		Weights:   weights,
		Meta:      meta,
		Trend:     curve,
		Converged: converged,
		Flagged:   flagged,
	}, nil
}

// fitEntities fans the per-entity fits out over a fixed-size worker pool.
// Each worker reads only the shared structure and its own row and writes
// only its own slot, so the phase needs no locking; the errgroup wait is the
// barrier before trend fitting. Per-entity seeds derive from the base seed
// and the entity index, which keeps results identical for any worker count.
func (p *Pipeline) fitEntities(ctx context.Context, observations *mat.Dense, ns *spatial.NeighborStructure) ([]*gp.EntityFit, error) {
	entities, locations := observations.Dims()
	fits := make([]*gp.EntityFit, entities)

	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	var completed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.workers)
	for i := 0; i < entities; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			row := make([]float64, locations)
			mat.Row(row, i, observations)

			started := time.Now()
			fit, err := gp.Fit(row, ns, gp.FitOptions{
				Kernel:        p.opts.kernel,
				Stabilize:     p.opts.stabilize,
				VarianceFloor: p.opts.varianceFloor,
				MaxIterations: p.opts.maxIterations,
				Restarts:      p.opts.restarts,
				Seed:          p.opts.seed + int64(i),
			})
			duration := time.Since(started)

			if err != nil && !errors.Is(err, gp.ErrFitDivergence) {
				p.logger.LogFit(gctx, i, false, duration, err)
				return err
			}
			fits[i] = fit
			p.stats.RecordFit(fit.Converged, duration)
			p.logger.LogFit(gctx, i, fit.Converged, duration, err)

			done := int(completed.Add(1))
			if limiter.Allow() {
				p.logger.LogProgress(gctx, done, entities)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &ErrPipelineAborted{cause: err}
	}
	return fits, nil
}

// RunWithRanker runs the pipeline and hands the output to the external
// ranking collaborator, branching on its weight capability: weight-aware
// rankers receive the weight matrix, the rest receive observations and
// covariates with the weights already folded in. A nil covariate matrix
// defaults to an intercept-only column.
func (p *Pipeline) RunWithRanker(ctx context.Context, observations *mat.Dense, coords *spatial.CoordinateSet, covariates *mat.Dense, r Ranker) (*Result, error) {
	res, err := p.Run(ctx, observations, coords)
	if err != nil {
		return nil, err
	}

	if covariates == nil {
		covariates = interceptOnly(coords.Len())
	} else if rows, _ := covariates.Dims(); rows != coords.Len() {
		_, cols := covariates.Dims()
		return nil, &ErrShapeMismatch{
			Subject:  "covariates",
			Rows:     rows,
			Cols:     cols,
			WantRows: coords.Len(),
			WantCols: cols,
		}
	}

	in := RankInput{
		Observations: observations,
		Coordinates:  coords,
		Covariates:   covariates,
		Meta:         res.Meta,
	}
	if r.AcceptsWeights() {
		in.Weights = res.Weights
	} else {
		scaledObs, scaledCov, err := Rescale(observations, covariates, res.Weights)
		if err != nil {
			return nil, err
		}
		in.ScaledObservations = scaledObs
		in.ScaledCovariates = scaledCov
	}
	if err := r.Rank(ctx, in); err != nil {
		return nil, err
	}
	return res, nil
}

func interceptOnly(n int) *mat.Dense {
	x := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
	}
	return x
}
