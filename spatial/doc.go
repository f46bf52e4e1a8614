// Package spatial builds the ordered neighbor structure shared by all
// per-entity model fits.
//
// Locations are placed into a fixed, deterministic ordering and each location
// is assigned up to k nearest neighbors among the locations that precede it
// in that ordering. Because neighbor lists only ever reference
// earlier-ordered locations, the induced dependency graph is acyclic and the
// implied covariance factorization is triangular, which is what keeps the
// downstream Gaussian process fits cheap.
//
// The structure is built once per coordinate set and is safe for concurrent
// read access from any number of goroutines.
package spatial
