package gp

import "math"

// Kernel computes the spatial covariance between two locations as a function
// of their separation distance. Cov(0, v, l) must equal v.
type Kernel interface {
	// Cov returns the covariance at separation distance d for a process with
	// the given marginal variance and length scale.
	Cov(d, variance, lengthScale float64) float64
	String() string
}

// Exponential is the exponential covariance kernel v * exp(-d/l). Its sample
// paths are continuous but rough, which matches count data well, and it is
// the default kernel for the pipeline.
type Exponential struct{}

// Cov implements Kernel.
func (Exponential) Cov(d, variance, lengthScale float64) float64 {
	return variance * math.Exp(-d/lengthScale)
}

func (Exponential) String() string { return "exponential" }

// Gaussian is the squared-exponential kernel v * exp(-(d/l)^2), producing
// very smooth sample paths.
type Gaussian struct{}

// Cov implements Kernel.
func (Gaussian) Cov(d, variance, lengthScale float64) float64 {
	r := d / lengthScale
	return variance * math.Exp(-r*r)
}

func (Gaussian) String() string { return "gaussian" }

// Matern32 is the Matern covariance with smoothness 3/2:
// v * (1 + sqrt(3) d/l) * exp(-sqrt(3) d/l).
type Matern32 struct{}

// Cov implements Kernel.
func (Matern32) Cov(d, variance, lengthScale float64) float64 {
	r := math.Sqrt(3) * d / lengthScale
	return variance * (1 + r) * math.Exp(-r)
}

func (Matern32) String() string { return "matern32" }
