// Package registration drives the per-slice linear-then-non-linear
// registration protocol: mask-tier selection from the original match,
// a bounded retry loop over alternative initializations, quality gating
// against the simpler prior result, and deterministic fallbacks when the
// engine cannot do better than no motion at all.
package registration

import "fmt"

// InitKind enumerates the initialization strategies of the linear retry
// loop.
type InitKind int

const (
	// InitIntensity aligns the intensity centroids of source and
	// reference along the phase-encode axis.
	InitIntensity InitKind = iota

	// InitPredecessor starts from the accepted transform of the
	// predecessor unit (two slices back in acquisition order for
	// interleaved data, with a fallback ladder when absent).
	InitPredecessor

	// InitGeometric aligns the geometric centers of the mask bounding
	// boxes.
	InitGeometric

	// InitOrigin starts from the identity transform. Forced on the final
	// attempt together with a tightened optimizer step.
	InitOrigin
)

// InitStrategy is the tagged initialization choice for one attempt.
type InitStrategy struct {
	Kind InitKind

	// Offset is the predecessor slice offset for InitPredecessor.
	Offset int
}

func (s InitStrategy) String() string {
	switch s.Kind {
	case InitIntensity:
		return "intensity"
	case InitPredecessor:
		return fmt.Sprintf("predecessor(%d)", s.Offset)
	case InitGeometric:
		return "geometric"
	case InitOrigin:
		return "origin"
	}
	return "unknown"
}

// StrategyFor is the explicit transition table mapping the attempt number
// (1-based) to the next initialization: intensity, predecessor, geometric,
// then cycling back to intensity, with the last attempt forced to origin.
func StrategyFor(attempt, maxAttempts, predOffset int) InitStrategy {
	if attempt >= maxAttempts {
		return InitStrategy{Kind: InitOrigin}
	}
	switch (attempt - 1) % 3 {
	case 0:
		return InitStrategy{Kind: InitIntensity}
	case 1:
		return InitStrategy{Kind: InitPredecessor, Offset: predOffset}
	default:
		return InitStrategy{Kind: InitGeometric}
	}
}

// AttemptStatus classifies the outcome of one linear registration attempt.
type AttemptStatus int

const (
	// AttemptOK means the attempt converged and passed the quality gates.
	AttemptOK AttemptStatus = iota

	// AttemptNoOverlap means the engine reported non-overlapping regions.
	AttemptNoOverlap

	// AttemptQualityFailure means the result scored worse than the fixed
	// floor or failed to improve on the unregistered score.
	AttemptQualityFailure
)

func (s AttemptStatus) String() string {
	switch s {
	case AttemptOK:
		return "ok"
	case AttemptNoOverlap:
		return "no-overlap"
	case AttemptQualityFailure:
		return "quality-failure"
	}
	return "unknown"
}

// Attempt is the structured result of one linear registration attempt.
type Attempt struct {
	Strategy InitStrategy
	Status   AttemptStatus
	Score    float64
}
