package trend

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bioc/spoon/testutil"
)

// quadraticScatter returns points that follow variance = mean + 0.1*mean^2
// with small multiplicative noise, the classic overdispersion shape.
func quadraticScatter(n int, rng *testutil.RNG) []Point {
	pts := make([]Point, n)
	for i := range pts {
		m := 0.2 + 5*rng.Float64()
		v := (m + 0.1*m*m) * (1 + 0.05*rng.NormFloat64())
		pts[i] = Point{Mean: m, Variance: math.Abs(v)}
	}
	return pts
}

func TestFitInsufficientData(t *testing.T) {
	tests := []struct {
		name   string
		points []Point
		opts   []Option
		want   int
	}{
		{
			name:   "too few points",
			points: quadraticScatter(5, testutil.NewRNG(1)),
			want:   DefaultMinPoints,
		},
		{
			name: "non-finite pairs dropped",
			points: append(quadraticScatter(8, testutil.NewRNG(2)),
				Point{Mean: math.NaN(), Variance: 1},
				Point{Mean: 1, Variance: math.Inf(1)},
				Point{Mean: 2, Variance: -1},
			),
			want: DefaultMinPoints,
		},
		{
			name:   "custom minimum",
			points: quadraticScatter(3, testutil.NewRNG(3)),
			opts:   []Option{WithMinPoints(4)},
			want:   4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fit(tt.points, tt.opts...)
			require.Error(t, err)

			var insufficient *ErrInsufficientData
			require.ErrorAs(t, err, &insufficient)
			assert.Equal(t, tt.want, insufficient.Required)
			assert.Less(t, insufficient.Valid, tt.want)
		})
	}
}

func TestFitTracksScatter(t *testing.T) {
	rng := testutil.NewRNG(7)
	pts := quadraticScatter(200, rng)

	curve, err := Fit(pts)
	require.NoError(t, err)

	// Predictions should stay close to the generating relation inside the
	// observed range.
	for m := 0.5; m <= 5.0; m += 0.5 {
		truth := m + 0.1*m*m
		got := curve.Evaluate(m)
		assert.InEpsilon(t, truth, got, 0.25, "mean %v", m)
	}
}

func TestFitMonotoneScatterStaysPositive(t *testing.T) {
	rng := testutil.NewRNG(19)
	pts := quadraticScatter(120, rng)

	curve, err := Fit(pts)
	require.NoError(t, err)

	lo, hi := curve.Domain()
	for i := 0; i <= 100; i++ {
		m := lo + (hi-lo)*float64(i)/100
		v := curve.Evaluate(m)
		assert.GreaterOrEqual(t, v, DefaultFloor)
		assert.False(t, math.IsNaN(v))
	}
}

func TestEvaluateClampsOutsideDomain(t *testing.T) {
	pts := quadraticScatter(100, testutil.NewRNG(5))
	curve, err := Fit(pts)
	require.NoError(t, err)

	lo, hi := curve.Domain()
	assert.Equal(t, curve.Evaluate(lo), curve.Evaluate(lo-100))
	assert.Equal(t, curve.Evaluate(hi), curve.Evaluate(hi+100))
}

func TestFitConstantMeans(t *testing.T) {
	pts := make([]Point, 20)
	for i := range pts {
		pts[i] = Point{Mean: 2.0, Variance: 1.0 + 0.1*float64(i%3)}
	}

	curve, err := Fit(pts)
	require.NoError(t, err)

	var sum float64
	for _, p := range pts {
		sum += p.Variance
	}
	want := sum / float64(len(pts))
	assert.InDelta(t, want, curve.Evaluate(2.0), 1e-12)
	// Constant curves answer the same everywhere.
	assert.InDelta(t, want, curve.Evaluate(-50), 1e-12)
	assert.InDelta(t, want, curve.Evaluate(50), 1e-12)
}

func TestFitFloor(t *testing.T) {
	rng := testutil.NewRNG(31)
	pts := make([]Point, 50)
	for i := range pts {
		// Variances near zero force the fitted curve below any sensible
		// floor somewhere in the domain.
		pts[i] = Point{Mean: rng.Float64() * 10, Variance: 1e-12 * rng.Float64()}
	}

	curve, err := Fit(pts, WithFloor(0.5))
	require.NoError(t, err)

	lo, hi := curve.Domain()
	for i := 0; i <= 20; i++ {
		m := lo + (hi-lo)*float64(i)/20
		assert.Equal(t, 0.5, curve.Evaluate(m))
	}
}

func TestSmoothingFlattensCurve(t *testing.T) {
	pts := quadraticScatter(150, testutil.NewRNG(13))

	wiggly, err := Fit(pts, WithSmoothing(1e-6))
	require.NoError(t, err)
	flat, err := Fit(pts, WithSmoothing(1e6))
	require.NoError(t, err)

	lo, hi := wiggly.Domain()
	roughness := func(c *Curve) float64 {
		var total float64
		prev := c.Evaluate(lo)
		for i := 1; i <= 200; i++ {
			cur := c.Evaluate(lo + (hi-lo)*float64(i)/200)
			total += math.Abs(cur - prev)
			prev = cur
		}
		return total
	}
	assert.Less(t, roughness(flat), roughness(wiggly)+1e-9)
}

func TestBasisRowPartitionOfUnity(t *testing.T) {
	pts := quadraticScatter(100, testutil.NewRNG(23))
	curve, err := Fit(pts)
	require.NoError(t, err)

	lo, hi := curve.Domain()
	row := make([]float64, len(curve.coef))
	for i := 0; i <= 50; i++ {
		x := lo + (hi-lo)*float64(i)/50
		basisRow(curve.knots, x, row)
		var sum float64
		for _, b := range row {
			assert.GreaterOrEqual(t, b, 0.0)
			sum += b
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "x=%v", x)
	}
}
