package spoon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/bioc/spoon/spatial"
	"github.com/bioc/spoon/testutil"
	"github.com/bioc/spoon/trend"
)

// testDataset builds a 12-entity dataset over a 6x6 grid with a smooth
// signal and a mean-variance trend, plus one constant (degenerate) entity.
func testDataset(t *testing.T) (*mat.Dense, *spatial.CoordinateSet) {
	t.Helper()
	points := testutil.GridCoordinates(6, 6)
	obs := testutil.SpatialDataset(12, points, testutil.NewRNG(1))
	testutil.SetConstantRow(obs, 5, 2.0)

	coords, err := spatial.NewCoordinateSet(points)
	require.NoError(t, err)
	return obs, coords
}

func newTestPipeline(t *testing.T, extra ...Option) *Pipeline {
	t.Helper()
	opts := append([]Option{
		WithNeighbors(5),
		WithMinConverged(3),
		WithSeed(7),
		WithLogger(NoopLogger()),
	}, extra...)
	p, err := New(opts...)
	require.NoError(t, err)
	return p
}

func TestNewOptionValidation(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "negative neighbors", opts: []Option{WithNeighbors(-1)}},
		{name: "zero workers", opts: []Option{WithWorkers(0)}},
		{name: "negative weight floor", opts: []Option{WithWeightFloor(-1)}},
		{name: "inverted clip percentiles", opts: []Option{WithClipPercentiles(0.9, 0.1)}},
		{name: "min converged below two", opts: []Option{WithMinConverged(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			assert.Error(t, err)
		})
	}
}

func TestRunProducesWeights(t *testing.T) {
	obs, coords := testDataset(t)
	p := newTestPipeline(t)

	res, err := p.Run(context.Background(), obs, coords)
	require.NoError(t, err)

	entities, locations := res.Weights.Dims()
	assert.Equal(t, 12, entities)
	assert.Equal(t, 36, locations)
	require.Len(t, res.Meta, 12)
	require.NotNil(t, res.Trend)
	assert.Equal(t, res.Converged+res.Flagged, 12)
	assert.GreaterOrEqual(t, res.Converged, 3)
	assert.Positive(t, res.Elapsed)

	for i := 0; i < entities; i++ {
		for j := 0; j < locations; j++ {
			assert.Greater(t, res.Weights.At(i, j), 0.0, "entity %d location %d", i, j)
		}
	}
}

func TestRunFlagsDegenerateEntity(t *testing.T) {
	obs, coords := testDataset(t)
	p := newTestPipeline(t)

	res, err := p.Run(context.Background(), obs, coords)
	require.NoError(t, err)

	m := res.Meta[5]
	assert.False(t, m.Converged)
	assert.Equal(t, 2.0, m.Mean)
	assert.Equal(t, 36, m.FlooredCells)
	assert.GreaterOrEqual(t, res.Flagged, 1)

	// The flagged row is filled with the floor, never dropped.
	for j := 0; j < 36; j++ {
		assert.Equal(t, DefaultWeightFloor, res.Weights.At(5, j))
	}
}

func TestRunWorkerCountInvariance(t *testing.T) {
	obs, coords := testDataset(t)

	serial := newTestPipeline(t, WithWorkers(1))
	parallel := newTestPipeline(t, WithWorkers(4))

	a, err := serial.Run(context.Background(), obs, coords)
	require.NoError(t, err)
	b, err := parallel.Run(context.Background(), obs, coords)
	require.NoError(t, err)

	assert.True(t, mat.Equal(a.Weights.Dense(), b.Weights.Dense()))
	assert.Equal(t, a.Meta, b.Meta)
}

func TestRunShapeMismatch(t *testing.T) {
	_, coords := testDataset(t)
	obs := mat.NewDense(3, 10, nil)
	p := newTestPipeline(t)

	_, err := p.Run(context.Background(), obs, coords)
	var shape *ErrShapeMismatch
	require.ErrorAs(t, err, &shape)
	assert.Equal(t, "observations", shape.Subject)
}

func TestRunAbortsWithoutEnoughConvergedEntities(t *testing.T) {
	points := testutil.GridCoordinates(5, 5)
	obs := testutil.SpatialDataset(5, points, testutil.NewRNG(3))
	for i := 1; i < 5; i++ {
		testutil.SetConstantRow(obs, i, float64(i))
	}
	coords, err := spatial.NewCoordinateSet(points)
	require.NoError(t, err)

	p := newTestPipeline(t)
	_, err = p.Run(context.Background(), obs, coords)

	var aborted *ErrPipelineAborted
	require.ErrorAs(t, err, &aborted)
	assert.Equal(t, 4, aborted.Flagged)

	var insufficient *trend.ErrInsufficientData
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 3, insufficient.Required)
}

func TestRunCancelledContext(t *testing.T) {
	obs, coords := testDataset(t)
	p := newTestPipeline(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, obs, coords)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunRecordsStats(t *testing.T) {
	obs, coords := testDataset(t)
	stats := &BasicStatsCollector{}
	p := newTestPipeline(t, WithStatsCollector(stats))

	res, err := p.Run(context.Background(), obs, coords)
	require.NoError(t, err)

	assert.Equal(t, int64(12), stats.FitCount.Load())
	assert.Equal(t, int64(res.Flagged), stats.FlaggedCount.Load())
	assert.GreaterOrEqual(t, stats.FlooredCells.Load(), int64(36))
	assert.Equal(t, int64(1), stats.RunCount.Load())
	assert.Equal(t, int64(0), stats.RunErrors.Load())
}

func TestRunRandomOrdering(t *testing.T) {
	obs, coords := testDataset(t)
	p := newTestPipeline(t, WithRandomOrdering(true))

	res, err := p.Run(context.Background(), obs, coords)
	require.NoError(t, err)
	assert.Equal(t, res.Converged+res.Flagged, 12)
}

type captureRanker struct {
	weighted bool
	fail     error
	called   bool
	in       RankInput
}

func (r *captureRanker) AcceptsWeights() bool { return r.weighted }

func (r *captureRanker) Rank(_ context.Context, in RankInput) error {
	r.called = true
	r.in = in
	return r.fail
}

func TestRunWithWeightAwareRanker(t *testing.T) {
	obs, coords := testDataset(t)
	p := newTestPipeline(t)
	ranker := &captureRanker{weighted: true}

	res, err := p.RunWithRanker(context.Background(), obs, coords, nil, ranker)
	require.NoError(t, err)
	require.True(t, ranker.called)

	assert.Same(t, res.Weights, ranker.in.Weights)
	assert.Nil(t, ranker.in.ScaledObservations)
	assert.Nil(t, ranker.in.ScaledCovariates)

	// Nil covariates default to an intercept-only design.
	rows, cols := ranker.in.Covariates.Dims()
	assert.Equal(t, coords.Len(), rows)
	assert.Equal(t, 1, cols)
	assert.Equal(t, 1.0, ranker.in.Covariates.At(0, 0))
}

func TestRunWithWeightUnawareRanker(t *testing.T) {
	obs, coords := testDataset(t)
	p := newTestPipeline(t)
	ranker := &captureRanker{weighted: false}

	res, err := p.RunWithRanker(context.Background(), obs, coords, nil, ranker)
	require.NoError(t, err)
	require.True(t, ranker.called)

	assert.Nil(t, ranker.in.Weights)
	require.NotNil(t, ranker.in.ScaledObservations)
	require.Len(t, ranker.in.ScaledCovariates, 12)

	entities, locations := ranker.in.ScaledObservations.Dims()
	assert.Equal(t, 12, entities)
	assert.Equal(t, 36, locations)

	// Weights still come back on the result even when the ranker never sees
	// them directly.
	require.NotNil(t, res.Weights)
}

func TestRunWithRankerCovariateMismatch(t *testing.T) {
	obs, coords := testDataset(t)
	p := newTestPipeline(t)
	cov := mat.NewDense(coords.Len()+1, 2, nil)

	_, err := p.RunWithRanker(context.Background(), obs, coords, cov, &captureRanker{weighted: true})
	var shape *ErrShapeMismatch
	require.ErrorAs(t, err, &shape)
	assert.Equal(t, "covariates", shape.Subject)
}

func TestRunWithRankerPropagatesRankError(t *testing.T) {
	obs, coords := testDataset(t)
	p := newTestPipeline(t)
	ranker := &captureRanker{weighted: true, fail: assert.AnError}

	_, err := p.RunWithRanker(context.Background(), obs, coords, nil, ranker)
	require.ErrorIs(t, err, assert.AnError)
}
