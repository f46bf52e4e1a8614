package spoon

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/bioc/spoon/gp"
	"github.com/bioc/spoon/trend"
)

const (
	// DefaultWeightFloor substitutes degenerate weights and fills the rows
	// of flagged entities.
	DefaultWeightFloor = 1e-6

	// DefaultClipLow and DefaultClipHigh are the percentile bounds applied
	// to weights when stabilization is enabled.
	DefaultClipLow  = 0.01
	DefaultClipHigh = 0.99
)

// WeightMatrix holds one positive, finite weight per observation, with the
// same entity-by-location shape as the input observation matrix.
type WeightMatrix struct {
	entities  int
	locations int
	w         *mat.Dense
}

// Dims returns the entity and location counts.
func (m *WeightMatrix) Dims() (entities, locations int) { return m.entities, m.locations }

// At returns the weight for entity i at location j.
func (m *WeightMatrix) At(i, j int) float64 { return m.w.At(i, j) }

// Row returns a copy of entity i's weights.
func (m *WeightMatrix) Row(i int) []float64 {
	out := make([]float64, m.locations)
	mat.Row(out, i, m.w)
	return out
}

// Dense returns the underlying matrix. It is shared with the WeightMatrix
// and must not be modified.
func (m *WeightMatrix) Dense() *mat.Dense { return m.w }

// WeightOptions configures weight generation.
type WeightOptions struct {
	// Transform is the preprocessing transform. Defaults to Log1p.
	Transform Transform

	// Floor substitutes degenerate weights and flagged-entity rows.
	// Defaults to DefaultWeightFloor.
	Floor float64

	// Clip bounds weights into the [ClipLow, ClipHigh] percentile range of
	// the finite weights produced by converged entities.
	Clip     bool
	ClipLow  float64
	ClipHigh float64

	// NormalizeRows rescales each converged entity's row to mean 1.
	NormalizeRows bool
}

// DefaultWeightOptions returns the options the pipeline uses when
// stabilization is enabled.
func DefaultWeightOptions() WeightOptions {
	return WeightOptions{
		Transform: Log1p{},
		Floor:     DefaultWeightFloor,
		Clip:      true,
		ClipLow:   DefaultClipLow,
		ClipHigh:  DefaultClipHigh,
	}
}

// GenerateWeights evaluates the trend at every observation's fitted mean and
// converts the predicted variance into an inverse-variance weight on the
// original measurement scale via the first-order delta method:
//
//	weight = 1 / (T'(T^-1(fitted))^2 * predictedVariance)
//
// Degenerate cells and flagged entities receive the floor weight, so the
// output shape always matches the input matrix. The returned slice counts
// floored cells per entity.
//
// Output is deterministic given the same fits and curve.
func GenerateWeights(fits []*gp.EntityFit, curve *trend.Curve, o WeightOptions) (*WeightMatrix, []int, error) {
	if len(fits) == 0 {
		return nil, nil, errors.New("spoon: no entity fits")
	}
	if curve == nil {
		return nil, nil, errors.New("spoon: nil trend curve")
	}
	if o.Transform == nil {
		o.Transform = Log1p{}
	}
	if o.Floor <= 0 {
		o.Floor = DefaultWeightFloor
	}

	locations := len(fits[0].Fitted)
	for _, f := range fits {
		if f == nil || len(f.Fitted) != locations {
			return nil, nil, &ErrShapeMismatch{
				Subject:  "entity fit",
				Rows:     1,
				Cols:     lenOrZero(f),
				WantRows: 1,
				WantCols: locations,
			}
		}
	}

	w := mat.NewDense(len(fits), locations, nil)
	floored := make([]int, len(fits))

	for i, f := range fits {
		if !f.Converged {
			for j := 0; j < locations; j++ {
				w.Set(i, j, o.Floor)
			}
			floored[i] = locations
			continue
		}
		for j := 0; j < locations; j++ {
			value, err := deltaWeight(f.Fitted[j], curve, o.Transform)
			if err != nil {
				value = o.Floor
				floored[i]++
			}
			w.Set(i, j, value)
		}
	}

	if o.Clip {
		clipWeights(w, fits, o)
	}
	if o.NormalizeRows {
		normalizeRows(w, fits)
	}

	return &WeightMatrix{entities: len(fits), locations: locations, w: w}, floored, nil
}

// deltaWeight computes a single observation's weight. It reports
// ErrDegenerateWeight when the predicted variance or the transform
// derivative vanishes.
func deltaWeight(fitted float64, curve *trend.Curve, t Transform) (float64, error) {
	predVar := curve.Evaluate(fitted)
	if predVar <= 0 || !finite(predVar) {
		return 0, ErrDegenerateWeight
	}
	deriv := t.Derivative(t.Inverse(fitted))
	if deriv == 0 || !finite(deriv) {
		return 0, ErrDegenerateWeight
	}
	weight := 1 / (deriv * deriv * predVar)
	if weight <= 0 || !finite(weight) {
		return 0, ErrDegenerateWeight
	}
	return weight, nil
}

// clipWeights bounds converged entities' weights into the configured
// percentile range, computed over all their finite cells.
func clipWeights(w *mat.Dense, fits []*gp.EntityFit, o WeightOptions) {
	_, locations := w.Dims()
	var all []float64
	for i, f := range fits {
		if !f.Converged {
			continue
		}
		for j := 0; j < locations; j++ {
			all = append(all, w.At(i, j))
		}
	}
	if len(all) == 0 {
		return
	}
	sort.Float64s(all)
	lo := stat.Quantile(o.ClipLow, stat.Empirical, all, nil)
	hi := stat.Quantile(o.ClipHigh, stat.Empirical, all, nil)
	if !(lo < hi) {
		return
	}
	for i, f := range fits {
		if !f.Converged {
			continue
		}
		for j := 0; j < locations; j++ {
			v := w.At(i, j)
			if v < lo {
				w.Set(i, j, lo)
			} else if v > hi {
				w.Set(i, j, hi)
			}
		}
	}
}

// normalizeRows rescales each converged row to mean 1.
func normalizeRows(w *mat.Dense, fits []*gp.EntityFit) {
	_, locations := w.Dims()
	for i, f := range fits {
		if !f.Converged {
			continue
		}
		var sum float64
		for j := 0; j < locations; j++ {
			sum += w.At(i, j)
		}
		if sum <= 0 {
			continue
		}
		scale := float64(locations) / sum
		for j := 0; j < locations; j++ {
			w.Set(i, j, w.At(i, j)*scale)
		}
	}
}

func lenOrZero(f *gp.EntityFit) int {
	if f == nil {
		return 0
	}
	return len(f.Fitted)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
