// Package trend estimates the global mean-variance relationship from the
// per-entity fit results.
//
// The scatter of (fitted mean, residual variance) pairs across all converged
// entities is summarized by a penalized cubic B-spline: smooth enough not to
// chase local noise, flexible enough to follow whatever shape the
// measurement technology produces. Evaluation outside the observed mean
// range clamps to the nearest boundary value, so extreme means never
// extrapolate into pathological variances.
package trend
