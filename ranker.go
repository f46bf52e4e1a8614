package spoon

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/bioc/spoon/spatial"
)

// RankInput carries everything a ranking method needs from a completed run.
// Exactly one of Weights or the Scaled pair is populated, depending on the
// ranker's weight capability.
type RankInput struct {
	// Observations is the matrix the pipeline ran on.
	Observations *mat.Dense

	// Coordinates is the shared location set.
	Coordinates *spatial.CoordinateSet

	// Covariates is the per-location design matrix passed to the run, or an
	// intercept-only column when the caller supplied none.
	Covariates *mat.Dense

	// Weights is set for rankers that accept observation weights directly.
	Weights *WeightMatrix

	// ScaledObservations and ScaledCovariates are set for rankers without
	// native weight support; the weights are already folded in.
	ScaledObservations *mat.Dense
	ScaledCovariates   []*mat.Dense

	// Meta exposes the per-entity fit results for reporting.
	Meta []Meta
}

// Ranker is the external spatial-variability ranking collaborator. The
// pipeline never interprets its statistic; it only removes the
// mean-variance confound from the inputs it hands over.
type Ranker interface {
	// AcceptsWeights reports whether Rank consumes observation weights
	// directly. When false, the pipeline rescales observations and
	// covariates instead.
	AcceptsWeights() bool

	// Rank runs the external ranking method.
	Rank(ctx context.Context, in RankInput) error
}
