package spoon

import "math"

// Transform describes the preprocessing transform that produced the values
// the models were fitted on. The weight generator uses its derivative to
// propagate the trend variance back to the original measurement scale via
// the first-order delta method.
type Transform interface {
	// Apply maps a raw value onto the fitting scale.
	Apply(x float64) float64

	// Derivative is the first derivative of Apply at a raw value.
	Derivative(x float64) float64

	// Inverse maps a fitted value back to the raw scale.
	Inverse(y float64) float64

	String() string
}

// Log1p is the natural log1p transform, the default for normalized counts.
type Log1p struct{}

// Apply implements Transform.
func (Log1p) Apply(x float64) float64 { return math.Log1p(x) }

// Derivative implements Transform.
func (Log1p) Derivative(x float64) float64 { return 1 / (1 + x) }

// Inverse implements Transform.
func (Log1p) Inverse(y float64) float64 { return math.Expm1(y) }

func (Log1p) String() string { return "log1p" }

// ShiftedLog2 is the log2(x + offset) transform used by count pipelines
// that add a pseudocount before taking logs.
type ShiftedLog2 struct {
	// Offset is the pseudocount. Zero means 0.5, the conventional choice.
	Offset float64
}

func (t ShiftedLog2) offset() float64 {
	if t.Offset <= 0 {
		return 0.5
	}
	return t.Offset
}

// Apply implements Transform.
func (t ShiftedLog2) Apply(x float64) float64 { return math.Log2(x + t.offset()) }

// Derivative implements Transform.
func (t ShiftedLog2) Derivative(x float64) float64 { return 1 / ((x + t.offset()) * math.Ln2) }

// Inverse implements Transform.
func (t ShiftedLog2) Inverse(y float64) float64 { return math.Exp2(y) - t.offset() }

func (t ShiftedLog2) String() string { return "shifted-log2" }

// Identity is the no-op transform for data modeled on its original scale.
// With Identity the weight reduces to the plain inverse predicted variance.
type Identity struct{}

// Apply implements Transform.
func (Identity) Apply(x float64) float64 { return x }

// Derivative implements Transform.
func (Identity) Derivative(x float64) float64 { return 1 }

// Inverse implements Transform.
func (Identity) Inverse(y float64) float64 { return y }

func (Identity) String() string { return "identity" }
