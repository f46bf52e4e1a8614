// Package gp fits an independent Gaussian process regression to each
// entity's observation vector over the shared spatial locations.
//
// Instead of working with the dense N x N covariance matrix, the likelihood
// is factored over the neighbor structure from package spatial: each ordered
// location contributes a Gaussian term conditioned on at most k prior
// neighbors, so every evaluation costs O(N k^3) rather than O(N^3). The
// hyperparameters (spatial variance, nugget variance, length scale) are
// estimated by Nelder-Mead maximization of this approximate likelihood.
//
// Fit is a pure function: it reads only its observation vector and the
// shared read-only neighbor structure, so entities can be fitted from many
// goroutines concurrently with no synchronization.
package gp
