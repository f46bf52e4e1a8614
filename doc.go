// Package spoon generates per-observation precision weights that remove the
// mean-variance relationship from spatial count measurements, so downstream
// spatial-variability ranking is not confounded by signal level.
//
// The pipeline runs in four stages: a shared neighbor structure is built
// from the location coordinates (package spatial), an independent Gaussian
// process is fitted to every entity in parallel (package gp), the global
// mean-variance trend is estimated from the converged fits (package trend),
// and the trend is propagated through the measurement transform into an
// inverse-variance weight per observation.
//
// Basic usage:
//
//	coords, _ := spatial.NewCoordinateSet(points)
//	p, _ := spoon.New(spoon.WithNeighbors(10), spoon.WithSeed(1))
//	res, err := p.Run(ctx, observations, coords)
//	if err != nil {
//	    // handle *spoon.ErrPipelineAborted etc.
//	}
//	_ = res.Weights
//
// Ranking methods that accept observation weights consume Result.Weights
// directly; for the rest, Rescale folds the weights into the observations
// and covariates so a weighted problem becomes an ordinary one.
//
// Results are deterministic for a fixed seed regardless of worker count.
package spoon
