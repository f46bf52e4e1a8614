// Package testutil provides seeded random number generation and synthetic
// spatial dataset construction for tests and benchmarks.
package testutil
