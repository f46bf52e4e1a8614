package spoon

import (
	"errors"
	"fmt"
)

// ErrDegenerateWeight marks an observation whose weight could not be
// computed (zero predicted variance or zero transform derivative). The cell
// is substituted with the weight floor rather than dropped.
var ErrDegenerateWeight = errors.New("degenerate weight")

// ErrShapeMismatch indicates that matrix dimensions disagree with the
// pipeline's contract. It is fatal: the caller handed in misaligned data.
type ErrShapeMismatch struct {
	Subject  string
	Rows     int
	Cols     int
	WantRows int
	WantCols int
}

func (e *ErrShapeMismatch) Error() string {
	return fmt.Sprintf("shape mismatch: %s is %dx%d, want %dx%d", e.Subject, e.Rows, e.Cols, e.WantRows, e.WantCols)
}

// ErrPipelineAborted indicates that a run stopped before producing weights,
// either because too few entities converged to support a trend or because
// the context was cancelled.
//
// The underlying cause can be accessed via errors.Unwrap, errors.Is or
// errors.As.
type ErrPipelineAborted struct {
	Converged int
	Flagged   int
	cause     error
}

func (e *ErrPipelineAborted) Error() string {
	return fmt.Sprintf("pipeline aborted (%d converged, %d flagged): %v", e.Converged, e.Flagged, e.cause)
}

func (e *ErrPipelineAborted) Unwrap() error { return e.cause }
