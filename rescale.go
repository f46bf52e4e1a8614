package spoon

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// RescaleEntity folds one entity's weights into its observation vector and
// covariate matrix by multiplying observation j and covariate row j by the
// square root of weight j. This is the transform that turns a weighted
// least-squares problem into an ordinary one, so ranking methods without
// native weight support still see de-biased inputs.
//
// RescaleEntity is a pure function. It fails with *ErrShapeMismatch when the
// vector lengths or covariate row count disagree.
func RescaleEntity(y []float64, covariates *mat.Dense, w []float64) ([]float64, *mat.Dense, error) {
	if len(w) != len(y) {
		return nil, nil, &ErrShapeMismatch{
			Subject:  "weights",
			Rows:     1,
			Cols:     len(w),
			WantRows: 1,
			WantCols: len(y),
		}
	}
	var cols int
	if covariates != nil {
		rows, c := covariates.Dims()
		if rows != len(y) {
			return nil, nil, &ErrShapeMismatch{
				Subject:  "covariates",
				Rows:     rows,
				Cols:     c,
				WantRows: len(y),
				WantCols: c,
			}
		}
		cols = c
	}

	scaledY := make([]float64, len(y))
	var scaledX *mat.Dense
	if covariates != nil {
		scaledX = mat.NewDense(len(y), cols, nil)
	}
	for j := range y {
		s := math.Sqrt(w[j])
		scaledY[j] = y[j] * s
		for c := 0; c < cols; c++ {
			scaledX.Set(j, c, covariates.At(j, c)*s)
		}
	}
	return scaledY, scaledX, nil
}

// Rescale applies RescaleEntity across a whole observation matrix. Every
// entity shares the covariate matrix but carries its own weight row, so the
// scaled covariates are returned per entity.
func Rescale(observations *mat.Dense, covariates *mat.Dense, weights *WeightMatrix) (*mat.Dense, []*mat.Dense, error) {
	entities, locations := observations.Dims()
	we, wl := weights.Dims()
	if we != entities || wl != locations {
		return nil, nil, &ErrShapeMismatch{
			Subject:  "weights",
			Rows:     we,
			Cols:     wl,
			WantRows: entities,
			WantCols: locations,
		}
	}

	scaledObs := mat.NewDense(entities, locations, nil)
	var scaledCov []*mat.Dense
	if covariates != nil {
		scaledCov = make([]*mat.Dense, entities)
	}
	row := make([]float64, locations)
	for i := 0; i < entities; i++ {
		mat.Row(row, i, observations)
		y, x, err := RescaleEntity(row, covariates, weights.Row(i))
		if err != nil {
			return nil, nil, err
		}
		scaledObs.SetRow(i, y)
		if covariates != nil {
			scaledCov[i] = x
		}
	}
	return scaledObs, scaledCov, nil
}
