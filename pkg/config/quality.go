package config

import "fmt"

// QualityProfile is the immutable bundle of convergence and threshold
// parameters resolved once from a discrete quality level. It is passed by
// value into every component; nothing reads the quality level afterwards.
type QualityProfile struct {
	// Level is the quality level this profile was resolved from.
	Level int

	// PerfectThreshold is the similarity below which a slice is accepted
	// without registration (ORIGINAL_CHECK) or without non-linear
	// refinement (LINEAR_ACCEPT_CHECK). More negative is better; -1 means
	// registration is never skipped.
	PerfectThreshold float64

	// GoodThreshold and OkayThreshold partition the original-match score
	// into the strict/regular/liberal mask-tier selection.
	GoodThreshold float64
	OkayThreshold float64

	// LinearFloor is the fixed similarity floor a linear attempt must beat
	// to count as converged at all.
	LinearFloor float64

	// MaxLinearAttempts bounds the linear retry loop.
	MaxLinearAttempts int

	// Iterations holds the per-resolution-level iteration counts of the
	// linear stages, coarsest first.
	Iterations []int

	// ShrinkFactors and SmoothingSigmas define the multi-resolution
	// schedule, coarsest first.
	ShrinkFactors   []int
	SmoothingSigmas []float64

	// NonLinearIterations is the iteration budget of the B-spline stage.
	NonLinearIterations int

	// LastTryStep is the tightened optimizer step size (voxels) forced on
	// the final linear attempt.
	LastTryStep float64
}

// ResolveQuality maps a quality level to its profile. Levels outside 0-2
// are an input error.
func ResolveQuality(level int) (QualityProfile, error) {
	switch level {
	case 0:
		return QualityProfile{
			Level:               0,
			PerfectThreshold:    -0.95,
			GoodThreshold:       -0.85,
			OkayThreshold:       -0.65,
			LinearFloor:         -0.3,
			MaxLinearAttempts:   5,
			Iterations:          []int{100, 50},
			ShrinkFactors:       []int{2, 1},
			SmoothingSigmas:     []float64{1, 0},
			NonLinearIterations: 50,
			LastTryStep:         0.25,
		}, nil
	case 1:
		return QualityProfile{
			Level:               1,
			PerfectThreshold:    -0.97,
			GoodThreshold:       -0.85,
			OkayThreshold:       -0.65,
			LinearFloor:         -0.3,
			MaxLinearAttempts:   5,
			Iterations:          []int{200, 100},
			ShrinkFactors:       []int{2, 1},
			SmoothingSigmas:     []float64{1, 0},
			NonLinearIterations: 100,
			LastTryStep:         0.25,
		}, nil
	case 2:
		// PerfectThreshold of -1 is unattainable: at the highest quality
		// level every slice goes through the full protocol.
		return QualityProfile{
			Level:               2,
			PerfectThreshold:    -1,
			GoodThreshold:       -0.85,
			OkayThreshold:       -0.65,
			LinearFloor:         -0.3,
			MaxLinearAttempts:   5,
			Iterations:          []int{400, 200},
			ShrinkFactors:       []int{2, 1},
			SmoothingSigmas:     []float64{1, 0},
			NonLinearIterations: 200,
			LastTryStep:         0.25,
		}, nil
	default:
		return QualityProfile{}, fmt.Errorf("quality level must be 0, 1 or 2, got %d", level)
	}
}
