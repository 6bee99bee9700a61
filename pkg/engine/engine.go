// Package engine defines the registration-engine contract the per-slice
// state machine drives, together with a self-contained default
// implementation. The contract mirrors the capabilities the pipeline
// assumes: a 2-stage linear slice registration restricted to the
// phase-encode axis, a B-spline displacement refinement varying along that
// axis only, and group-wise volume motion correction against a shared
// reference. The engine must report an explicit failure when the source and
// reference bounding regions do not overlap; everything else it signals
// through ordinary errors.
package engine

import (
	"errors"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
)

// ErrNoOverlap is the explicit engine signal that the source and reference
// regions do not overlap under the requested initialization. The state
// machine treats it as a recoverable attempt failure, never as fatal.
var ErrNoOverlap = errors.New("engine: source and reference regions do not overlap")

// LinearRequest describes one linear slice-registration call: a
// translation-only stage followed by scale+translation, both restricted to
// the phase-encode axis, cost mean-squared-error under the fixed-side mask.
type LinearRequest struct {
	Source    *models.Slice
	Reference *models.Slice

	// FixedMask restricts the cost function on the reference side;
	// MovingMask restricts it on the source side (both required).
	FixedMask  []bool
	MovingMask []bool

	// FixedBackground/MovingBackground are the dilated background-rejection
	// masks. When non-nil, voxels outside them are zeroed before the cost
	// is evaluated (zero-masking).
	FixedBackground  []bool
	MovingBackground []bool

	// Init is the starting transform.
	Init models.LinearTransform

	// Iterations, ShrinkFactors and SmoothingSigmas define the
	// multi-resolution schedule, coarsest level first.
	Iterations      []int
	ShrinkFactors   []int
	SmoothingSigmas []float64

	// Step is the finest optimizer step size in voxels.
	Step float64
}

// BSplineRequest describes one non-linear refinement call: a cubic B-spline
// displacement field along the phase-encode axis only, local
// cross-correlation cost, initialized from an accepted linear transform.
type BSplineRequest struct {
	Source    *models.Slice
	Reference *models.Slice

	FixedMask  []bool
	MovingMask []bool

	// Linear is the accepted linear transform the field composes with.
	Linear models.LinearTransform

	// KnotIntervals is the number of knot intervals along the phase-encode
	// axis. There is no variation along the orthogonal axis.
	KnotIntervals int

	// Iterations is the optimization budget.
	Iterations int
}

// Registrar is the registration-engine contract.
type Registrar interface {
	// RegisterLinear runs the 2-stage linear protocol and returns the
	// resulting transform. Returns ErrNoOverlap when the masked regions do
	// not overlap under the initialization.
	RegisterLinear(req LinearRequest) (models.LinearTransform, error)

	// RegisterBSpline runs the regularized non-linear refinement and
	// returns the displacement field in reference space.
	RegisterBSpline(req BSplineRequest) (*models.DeformationField, error)

	// MotionCorrect rigidly aligns each volume to the shared reference
	// with the given number of multi-resolution levels and returns the
	// aligned volumes.
	MotionCorrect(vols []*models.Volume, ref *models.Volume, levels int) ([]*models.Volume, error)
}
