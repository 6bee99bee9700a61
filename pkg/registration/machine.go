package registration

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/config"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/engine"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/mask"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/metrics"
)

// FinalState records how a slice left the state machine.
type FinalState int

const (
	// AcceptedOriginal: the untouched slice already matched the reference
	// better than the perfect threshold (or lies above the brain).
	AcceptedOriginal FinalState = iota

	// AcceptedLinear: the linear result was kept as final, either because
	// it beat the perfect threshold or because the non-linear stage did
	// not improve on it.
	AcceptedLinear

	// AcceptedNonLinear: the composed linear+non-linear result was kept.
	AcceptedNonLinear

	// FallbackNeighbor: all linear attempts failed; a neighboring slice's
	// accepted transform was copied and re-validated.
	FallbackNeighbor

	// FallbackIdentity: even the neighbor transform failed validation;
	// the slice keeps the identity transform.
	FallbackIdentity
)

func (s FinalState) String() string {
	switch s {
	case AcceptedOriginal:
		return "accepted-original"
	case AcceptedLinear:
		return "accepted-linear"
	case AcceptedNonLinear:
		return "accepted-nonlinear"
	case FallbackNeighbor:
		return "fallback-neighbor"
	case FallbackIdentity:
		return "fallback-identity"
	}
	return "unknown"
}

// Outcome is the persisted result of one (volume, slice) unit.
type Outcome struct {
	Key   models.Key
	State FinalState
	Tier  mask.Tier

	// OriginalScore, LinearScore and FinalScore are the strict-mask
	// similarity of the unit before registration, after the linear stage
	// and after the accepted final result. By construction
	// FinalScore <= LinearScore <= improvement-gated OriginalScore.
	OriginalScore float64
	LinearScore   float64
	FinalScore    float64

	Transform models.LinearTransform
	Field     *models.DeformationField
	Aligned   *models.Slice

	Attempts []Attempt
}

// Machine runs the per-slice registration protocol. Reference artifacts
// are read-only; the only mutable state is the store of accepted
// transforms that seeds predecessor initialization.
type Machine struct {
	Engine    engine.Registrar
	Profile   config.QualityProfile
	Hierarchy *mask.Hierarchy
	Reference *models.Volume
	Preds     *PredecessorIndex

	// ZeroMasking passes the background-rejection masks into the cost
	// function.
	ZeroMasking bool

	// NonLinear enables the B-spline refinement stage.
	NonLinear bool

	// KnotIntervals is the B-spline knot count along the phase-encode
	// axis.
	KnotIntervals int

	accepted map[models.Key]models.LinearTransform
}

// NewMachine wires a state machine over the shared reference artifacts.
func NewMachine(reg engine.Registrar, profile config.QualityProfile, h *mask.Hierarchy, ref *models.Volume, preds *PredecessorIndex) *Machine {
	return &Machine{
		Engine:        reg,
		Profile:       profile,
		Hierarchy:     h,
		Reference:     ref,
		Preds:         preds,
		ZeroMasking:   true,
		NonLinear:     true,
		KnotIntervals: 5,
		accepted:      make(map[models.Key]models.LinearTransform),
	}
}

// AcceptedTransform returns the accepted transform of a finished unit.
func (m *Machine) AcceptedTransform(k models.Key) (models.LinearTransform, bool) {
	t, ok := m.accepted[k]
	return t, ok
}

// SelectTier chooses the registration mask tier from the original-match
// score: well-matching slices stay on the strict mask so non-brain voxels
// cannot distract the optimizer, poorly matching slices get the wider
// capture range of the liberal tier.
func (m *Machine) SelectTier(originalScore float64) mask.Tier {
	switch {
	case originalScore < m.Profile.GoodThreshold:
		return mask.TierStrict
	case originalScore < m.Profile.OkayThreshold:
		return mask.TierRegular
	default:
		return mask.TierLiberal
	}
}

// Run executes the full state machine for one (volume, slice) unit and
// records the accepted transform for successor units. Engine failures are
// recoverable by construction; only geometry mismatches return an error.
func (m *Machine) Run(k models.Key, src *models.Slice) (*Outcome, error) {
	z := k.Slice
	if z < 0 || z >= m.Reference.Geom.NZ {
		return nil, fmt.Errorf("registration: slice %d out of range [0,%d)", z, m.Reference.Geom.NZ)
	}
	refSlice := m.Reference.ExtractSlice(z)
	strictMask := m.Hierarchy.Strict.ExtractSlice(z)

	out := &Outcome{Key: k, Transform: models.IdentityTransform()}
	out.OriginalScore = metrics.Similarity(src.Data, refSlice.Data, strictMask)

	// ORIGINAL_CHECK. Slices above the brain are always accepted unmoved.
	if z > m.Hierarchy.BrainTop || metrics.Better(out.OriginalScore, m.Profile.PerfectThreshold) {
		out.State = AcceptedOriginal
		out.LinearScore = out.OriginalScore
		out.FinalScore = out.OriginalScore
		out.Aligned = src.Clone()
		m.accepted[k] = out.Transform
		return out, nil
	}

	// MASK_SELECT.
	out.Tier = m.SelectTier(out.OriginalScore)
	tierMask := m.Hierarchy.Mask(out.Tier).ExtractSlice(z)
	var background []bool
	if m.ZeroMasking {
		background = m.Hierarchy.Background(out.Tier).ExtractSlice(z)
	}

	// LINEAR_REGISTER retry loop.
	linear, linScore, attempts := m.linearLoop(k, src, refSlice, strictMask, tierMask, background)
	out.Attempts = attempts

	if linear == nil {
		// Fallback ladder: copy a neighbor's accepted transform, then
		// identity if even that fails validation.
		linear, linScore = m.fallback(k, src, refSlice, strictMask, out)
	}
	out.Transform = *linear
	out.LinearScore = linScore

	// LINEAR_ACCEPT_CHECK: skip non-linear refinement when linear already
	// suffices.
	if !m.NonLinear || metrics.Better(linScore, m.Profile.PerfectThreshold) {
		if out.State != FallbackNeighbor && out.State != FallbackIdentity {
			out.State = AcceptedLinear
		}
		out.FinalScore = linScore
		out.Aligned = engine.ApplyLinear(src, out.Transform)
		m.accepted[k] = out.Transform
		return out, nil
	}

	// NONLINEAR_REGISTER + NONLINEAR_ACCEPT_CHECK.
	field, nlScore := m.nonLinear(src, refSlice, strictMask, z, out.Transform, linScore)
	if field != nil {
		out.State = AcceptedNonLinear
		out.Field = field
		out.FinalScore = nlScore
		out.Aligned = engine.ApplyComposed(src, out.Transform, field)
	} else {
		if out.State != FallbackNeighbor && out.State != FallbackIdentity {
			out.State = AcceptedLinear
		}
		out.FinalScore = linScore
		out.Aligned = engine.ApplyLinear(src, out.Transform)
	}
	m.accepted[k] = out.Transform
	return out, nil
}

// linearLoop runs up to MaxLinearAttempts linear registrations, cycling
// initialization strategies, and returns the first accepted transform.
func (m *Machine) linearLoop(k models.Key, src, ref *models.Slice, strictMask, tierMask, background []bool) (*models.LinearTransform, float64, []Attempt) {
	var attempts []Attempt
	for attempt := 1; attempt <= m.Profile.MaxLinearAttempts; attempt++ {
		strategy := StrategyFor(attempt, m.Profile.MaxLinearAttempts, m.Preds.SliceOffset)
		init := m.resolveInit(strategy, k, src, ref, tierMask)

		req := engine.LinearRequest{
			Source:          src,
			Reference:       ref,
			FixedMask:       tierMask,
			MovingMask:      tierMask,
			Init:            init,
			Iterations:      m.Profile.Iterations,
			ShrinkFactors:   m.Profile.ShrinkFactors,
			SmoothingSigmas: m.Profile.SmoothingSigmas,
		}
		if background != nil {
			req.FixedBackground = background
			req.MovingBackground = background
		}
		if attempt == m.Profile.MaxLinearAttempts {
			req.Step = m.Profile.LastTryStep
		}

		t, err := m.Engine.RegisterLinear(req)
		if err == engine.ErrNoOverlap {
			attempts = append(attempts, Attempt{Strategy: strategy, Status: AttemptNoOverlap, Score: 0})
			continue
		}
		if err != nil {
			logrus.WithField("unit", k).WithError(err).Warn("registration: engine error, retrying")
			attempts = append(attempts, Attempt{Strategy: strategy, Status: AttemptQualityFailure, Score: 0})
			continue
		}

		score := metrics.Similarity(engine.ApplyLinear(src, t).Data, ref.Data, strictMask)
		ok := metrics.Better(score, m.Profile.LinearFloor) && metrics.Better(score, m.originalFor(k, src, ref, strictMask))
		status := AttemptOK
		if !ok {
			status = AttemptQualityFailure
		}
		attempts = append(attempts, Attempt{Strategy: strategy, Status: status, Score: score})
		if ok {
			return &t, score, attempts
		}
	}
	return nil, 0, attempts
}

func (m *Machine) originalFor(k models.Key, src, ref *models.Slice, strictMask []bool) float64 {
	// The original unregistered score; recomputed cheaply rather than
	// threaded through every call.
	return metrics.Similarity(src.Data, ref.Data, strictMask)
}

// fallback copies a neighbor's accepted transform and re-validates it,
// degrading to identity when nothing passes.
func (m *Machine) fallback(k models.Key, src, ref *models.Slice, strictMask []bool, out *Outcome) (*models.LinearTransform, float64) {
	orig := metrics.Similarity(src.Data, ref.Data, strictMask)
	for _, nb := range m.Preds.FallbackChain(k) {
		t, ok := m.accepted[nb]
		if !ok {
			continue
		}
		score := metrics.Similarity(engine.ApplyLinear(src, t).Data, ref.Data, strictMask)
		if metrics.Better(score, m.Profile.LinearFloor) && metrics.Better(score, orig) {
			logrus.WithFields(logrus.Fields{"unit": k, "donor": nb}).
				Info("registration: using neighbor transform fallback")
			out.State = FallbackNeighbor
			return &t, score
		}
	}
	logrus.WithField("unit", k).Info("registration: keeping identity transform")
	out.State = FallbackIdentity
	id := models.IdentityTransform()
	return &id, orig
}

// nonLinear runs the B-spline refinement and returns the field only when
// the composed result is strictly better than the linear result. A tie
// keeps the linear transform.
func (m *Machine) nonLinear(src, ref *models.Slice, strictMask []bool, z int, linear models.LinearTransform, linScore float64) (*models.DeformationField, float64) {
	// Re-derive the source-side mask through the accepted linear
	// transform and re-extract the head region.
	movingMask := engine.ForwardWarpMask(strictMask, src.NX, src.NY, linear)
	headMask := engine.ForwardWarpMask(m.Hierarchy.HeadLoose.ExtractSlice(z), src.NX, src.NY, linear)
	head := src.Clone()
	for i := range head.Data {
		if !headMask[i] {
			head.Data[i] = 0
		}
	}

	field, err := m.Engine.RegisterBSpline(engine.BSplineRequest{
		Source:        head,
		Reference:     ref,
		FixedMask:     strictMask,
		MovingMask:    movingMask,
		Linear:        linear,
		KnotIntervals: m.KnotIntervals,
		Iterations:    m.Profile.NonLinearIterations,
	})
	if err != nil || field == nil {
		return nil, linScore
	}
	score := metrics.Similarity(engine.ApplyComposed(src, linear, field).Data, ref.Data, strictMask)
	if !metrics.Better(score, linScore) || math.IsNaN(score) {
		return nil, linScore
	}
	return field, score
}

// resolveInit maps an initialization strategy to a concrete transform.
func (m *Machine) resolveInit(s InitStrategy, k models.Key, src, ref *models.Slice, tierMask []bool) models.LinearTransform {
	switch s.Kind {
	case InitIntensity:
		return models.LinearTransform{Scale: 1, Translate: intensityCentroidY(ref, tierMask) - intensityCentroidY(src, tierMask)}
	case InitPredecessor:
		for _, nb := range m.Preds.FallbackChain(k) {
			if t, ok := m.accepted[nb]; ok {
				return t
			}
		}
		return models.IdentityTransform()
	case InitGeometric:
		return models.LinearTransform{Scale: 1, Translate: geometricCenterY(ref) - geometricCenterY(src)}
	default:
		return models.IdentityTransform()
	}
}

// intensityCentroidY is the intensity-weighted center along the
// phase-encode axis, restricted to the mask.
func intensityCentroidY(s *models.Slice, mask []bool) float64 {
	var wsum, ysum float64
	for y := 0; y < s.NY; y++ {
		for x := 0; x < s.NX; x++ {
			if mask != nil && !mask[y*s.NX+x] {
				continue
			}
			v := s.At(x, y)
			if v < 0 {
				continue
			}
			wsum += v
			ysum += v * float64(y)
		}
	}
	if wsum == 0 {
		return float64(s.NY-1) / 2
	}
	return ysum / wsum
}

// geometricCenterY is the center of the image-content bounding box along
// the phase-encode axis: rows holding any voxel above 10% of the slice
// maximum count as content.
func geometricCenterY(s *models.Slice) float64 {
	var max float64
	for _, v := range s.Data {
		if v > max {
			max = v
		}
	}
	if max <= 0 {
		return float64(s.NY-1) / 2
	}
	thr := 0.1 * max
	minY, maxY := s.NY, -1
	for y := 0; y < s.NY; y++ {
		for x := 0; x < s.NX; x++ {
			if s.At(x, y) > thr {
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
				break
			}
		}
	}
	if maxY < 0 {
		return float64(s.NY-1) / 2
	}
	return float64(minY+maxY) / 2
}
