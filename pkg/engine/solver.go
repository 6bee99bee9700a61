package engine

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/voxel"
)

// Solver is the built-in Registrar. It optimizes the masked
// mean-squared-error for the linear stages with a coarse-to-fine search
// along the phase-encode axis, and fits the B-spline field to row-wise
// shift estimates with a regularized least-squares solve.
type Solver struct {
	// MaxTranslation bounds the translation search in voxels. Zero means
	// a quarter of the phase-encode extent.
	MaxTranslation float64

	// ScaleRange bounds the scale search around 1.0. Zero means 0.2.
	ScaleRange float64
}

// NewSolver returns a Solver with default search bounds.
func NewSolver() *Solver { return &Solver{} }

// RegisterLinear implements Registrar.
func (s *Solver) RegisterLinear(req LinearRequest) (models.LinearTransform, error) {
	if req.Source.NX != req.Reference.NX || req.Source.NY != req.Reference.NY {
		return models.IdentityTransform(), fmt.Errorf("engine: source %dx%d and reference %dx%d differ",
			req.Source.NX, req.Source.NY, req.Reference.NX, req.Reference.NY)
	}
	if !masksOverlap(req.MovingMask, req.FixedMask, req.Source.NX, req.Source.NY, req.Init) {
		return models.IdentityTransform(), ErrNoOverlap
	}

	maxT := s.MaxTranslation
	if maxT <= 0 {
		maxT = float64(req.Source.NY) / 4
	}
	scaleRange := s.ScaleRange
	if scaleRange <= 0 {
		scaleRange = 0.2
	}
	stepFloor := req.Step
	if stepFloor <= 0 {
		stepFloor = 0.5
	}

	src := applyBackground(req.Source, req.MovingBackground)
	ref := applyBackground(req.Reference, req.FixedBackground)

	// Stage 1: translation only, multi-resolution.
	best := req.Init
	for level := range req.ShrinkFactors {
		step := float64(req.ShrinkFactors[level])
		lsrc, lref := src, ref
		if req.SmoothingSigmas != nil && req.SmoothingSigmas[level] > 0 {
			lsrc = smoothSlice(src, req.SmoothingSigmas[level])
			lref = smoothSlice(ref, req.SmoothingSigmas[level])
		}
		iters := 0
		if level < len(req.Iterations) {
			iters = req.Iterations[level]
		}
		best.Translate = s.searchTranslation(lsrc, lref, req.FixedMask, best, maxT, step, stepFloor, iters)
	}

	// Stage 2: scale + translation, alternating 1-D refinements.
	for pass := 0; pass < 2; pass++ {
		best.Scale = s.searchScale(src, ref, req.FixedMask, best, scaleRange, stepFloor/float64(req.Source.NY))
		best.Translate = s.searchTranslation(src, ref, req.FixedMask, best, maxT/2, 1, stepFloor, lastIterations(req.Iterations))
	}

	return best, nil
}

func lastIterations(iters []int) int {
	if len(iters) == 0 {
		return 50
	}
	return iters[len(iters)-1]
}

// searchTranslation refines the translation by halving the step from
// coarseStep down to stepFloor, keeping the MSE-minimizing candidate at
// each scale. The iteration budget caps the total cost evaluations.
func (s *Solver) searchTranslation(src, ref *models.Slice, fixedMask []bool, t models.LinearTransform, maxT, coarseStep, stepFloor float64, iters int) float64 {
	if iters <= 0 {
		iters = 50
	}
	evals := 0
	best := t.Translate
	bestCost := math.Inf(1)
	try := func(tr float64) {
		if tr < -maxT || tr > maxT || evals >= iters {
			return
		}
		evals++
		cand := models.LinearTransform{Scale: t.Scale, Translate: tr}
		c := maskedMSE(ApplyLinear(src, cand), ref, fixedMask)
		if c < bestCost {
			bestCost = c
			best = tr
		}
	}
	for tr := -maxT; tr <= maxT; tr += coarseStep {
		try(tr)
	}
	try(t.Translate)
	for step := coarseStep / 2; step >= stepFloor/2; step /= 2 {
		try(best - step)
		try(best + step)
	}
	return best
}

func (s *Solver) searchScale(src, ref *models.Slice, fixedMask []bool, t models.LinearTransform, scaleRange, stepFloor float64) float64 {
	best := t.Scale
	bestCost := math.Inf(1)
	try := func(sc float64) {
		if sc < 1-scaleRange || sc > 1+scaleRange || sc <= 0 {
			return
		}
		cand := models.LinearTransform{Scale: sc, Translate: t.Translate}
		c := maskedMSE(ApplyLinear(src, cand), ref, fixedMask)
		if c < bestCost {
			bestCost = c
			best = sc
		}
	}
	for sc := 1 - scaleRange; sc <= 1+scaleRange; sc += 0.02 {
		try(sc)
	}
	try(t.Scale)
	for step := 0.01; step >= stepFloor && step >= 1e-4; step /= 2 {
		try(best - step)
		try(best + step)
	}
	return best
}

// RegisterBSpline implements Registrar. Row-wise shifts are estimated by a
// banded correlation search in reference space, then regularized onto the
// spline with a weighted least-squares solve.
func (s *Solver) RegisterBSpline(req BSplineRequest) (*models.DeformationField, error) {
	nx, ny := req.Source.NX, req.Source.NY
	if req.Reference.NX != nx || req.Reference.NY != ny {
		return nil, fmt.Errorf("engine: source %dx%d and reference %dx%d differ", nx, ny, req.Reference.NX, req.Reference.NY)
	}
	k := req.KnotIntervals
	if k < 1 {
		k = 5
	}
	field := models.NewDeformationField(ny, k)

	warped := ApplyLinear(req.Source, req.Linear)
	maxShift := 4.0
	refine := 0.25
	if req.Iterations >= 150 {
		refine = 0.1
	}

	shifts := make([]float64, ny)
	weights := make([]float64, ny)
	for y := 0; y < ny; y++ {
		w := rowWeight(req.FixedMask, nx, y)
		if w == 0 {
			continue
		}
		shifts[y] = bestRowShift(warped, req.Reference, req.FixedMask, y, maxShift, refine)
		weights[y] = w
	}

	fitSpline(field, shifts, weights)
	return field, nil
}

func rowWeight(mask []bool, nx, y int) float64 {
	if mask == nil {
		return 1
	}
	n := 0
	for x := 0; x < nx; x++ {
		if mask[y*nx+x] {
			n++
		}
	}
	return float64(n)
}

// bestRowShift finds the displacement of reference row y that maximizes the
// local correlation between the warped source and the reference over a band
// of rows, coarse integer search refined to the given resolution.
func bestRowShift(src, ref *models.Slice, mask []bool, y int, maxShift, refine float64) float64 {
	best, bestScore := 0.0, math.Inf(1)
	try := func(d float64) {
		c := bandCost(src, ref, mask, y, d)
		if c < bestScore {
			bestScore = c
			best = d
		}
	}
	for d := -maxShift; d <= maxShift; d++ {
		try(d)
	}
	for step := 0.5; step >= refine; step /= 2 {
		try(best - step)
		try(best + step)
	}
	return best
}

// bandCost is the negative correlation between the reference band around
// row y and the source band displaced by d along the phase-encode axis.
func bandCost(src, ref *models.Slice, mask []bool, y int, d float64) float64 {
	const band = 2
	var xs, ys []float64
	for dy := -band; dy <= band; dy++ {
		ry := y + dy
		if ry < 0 || ry >= ref.NY {
			continue
		}
		sy := float64(ry) + d
		if sy < 0 || sy > float64(src.NY-1) {
			continue
		}
		y0 := int(math.Floor(sy))
		f := sy - float64(y0)
		for x := 0; x < ref.NX; x++ {
			if mask != nil && !mask[ry*ref.NX+x] {
				continue
			}
			v := src.At(x, y0)
			if y0+1 < src.NY {
				v = (1-f)*v + f*src.At(x, y0+1)
			}
			xs = append(xs, v)
			ys = append(ys, ref.At(x, ry))
		}
	}
	if len(xs) < 8 {
		return 0
	}
	return -correlation(xs, ys)
}

func correlation(a, b []float64) float64 {
	n := float64(len(a))
	var ma, mb float64
	for i := range a {
		ma += a[i]
		mb += b[i]
	}
	ma /= n
	mb /= n
	var cov, va, vb float64
	for i := range a {
		da, db := a[i]-ma, b[i]-mb
		cov += da * db
		va += da * da
		vb += db * db
	}
	if va == 0 || vb == 0 {
		return 0
	}
	return cov / math.Sqrt(va*vb)
}

// fitSpline solves the weighted, Tikhonov-regularized least-squares fit of
// the B-spline control points to the row-shift estimates.
func fitSpline(field *models.DeformationField, shifts, weights []float64) {
	ny := field.NY
	nc := field.Intervals + 3
	const lambda = 1.0

	a := mat.NewDense(ny+nc, nc, nil)
	b := mat.NewVecDense(ny+nc, nil)
	probe := models.NewDeformationField(ny, field.Intervals)
	for y := 0; y < ny; y++ {
		w := math.Sqrt(weights[y])
		if w == 0 {
			continue
		}
		for j := 0; j < nc; j++ {
			probe.Zero()
			probe.Control[j] = 1
			a.Set(y, j, w*probe.Displacement(float64(y)))
		}
		b.SetVec(y, w*shifts[y])
	}
	for j := 0; j < nc; j++ {
		a.Set(ny+j, j, math.Sqrt(lambda))
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		// Singular fit: keep the zero field rather than an unstable one.
		field.Zero()
		return
	}
	for j := 0; j < nc; j++ {
		field.Control[j] = sol.AtVec(j)
	}
}

// MotionCorrect implements Registrar: per-volume rigid translation search
// against the shared reference, coarse-to-fine over the given number of
// levels.
func (s *Solver) MotionCorrect(vols []*models.Volume, ref *models.Volume, levels int) ([]*models.Volume, error) {
	if levels < 1 {
		levels = 2
	}
	out := make([]*models.Volume, len(vols))
	for i, v := range vols {
		if !v.Geom.Equal(ref.Geom) {
			return nil, fmt.Errorf("engine: volume %d geometry differs from reference", i)
		}
		bdx, bdy, bdz := 0, 0, 0
		span := 2 << (levels - 1)
		for step := span; step >= 1; step /= 2 {
			bdx, bdy, bdz = refineShift(v, ref, bdx, bdy, bdz, step)
		}
		out[i] = ShiftVolume(v, bdx, bdy, bdz)
	}
	return out, nil
}

func refineShift(v, ref *models.Volume, dx, dy, dz, step int) (int, int, int) {
	bestCost := volumeCost(v, ref, dx, dy, dz)
	bx, by, bz := dx, dy, dz
	for _, c := range [][3]int{
		{dx - step, dy, dz}, {dx + step, dy, dz},
		{dx, dy - step, dz}, {dx, dy + step, dz},
		{dx, dy, dz - step}, {dx, dy, dz + step},
	} {
		cost := volumeCost(v, ref, c[0], c[1], c[2])
		if cost < bestCost {
			bestCost = cost
			bx, by, bz = c[0], c[1], c[2]
		}
	}
	return bx, by, bz
}

func volumeCost(v, ref *models.Volume, dx, dy, dz int) float64 {
	shifted := ShiftVolume(v, dx, dy, dz)
	var acc float64
	for i := range shifted.Data {
		d := shifted.Data[i] - ref.Data[i]
		acc += d * d
	}
	return acc
}

// masksOverlap checks whether the moving mask, pushed through the
// initialization, still intersects the fixed mask.
func masksOverlap(moving, fixed []bool, nx, ny int, t models.LinearTransform) bool {
	if moving == nil || fixed == nil {
		return true
	}
	center := float64(ny-1) / 2
	for y := 0; y < ny; y++ {
		yRef := int(math.Round(t.Apply(float64(y), center)))
		if yRef < 0 || yRef >= ny {
			continue
		}
		for x := 0; x < nx; x++ {
			if moving[y*nx+x] && fixed[yRef*nx+x] {
				return true
			}
		}
	}
	return false
}

func maskedMSE(a, b *models.Slice, mask []bool) float64 {
	var acc float64
	n := 0
	for i := range a.Data {
		if mask != nil && !mask[i] {
			continue
		}
		d := a.Data[i] - b.Data[i]
		acc += d * d
		n++
	}
	if n == 0 {
		return math.Inf(1)
	}
	return acc / float64(n)
}

func applyBackground(s *models.Slice, background []bool) *models.Slice {
	if background == nil {
		return s
	}
	out := s.Clone()
	for i := range out.Data {
		if !background[i] {
			out.Data[i] = 0
		}
	}
	return out
}

func smoothSlice(s *models.Slice, sigma float64) *models.Slice {
	geom := models.Geometry{NX: s.NX, NY: s.NY, NZ: 1, VoxelSize: [3]float64{1, 1, 1}}
	v := models.NewVolume(geom)
	copy(v.Data, s.Data)
	sm := voxel.GaussianSmooth(v, sigma)
	out := models.NewSlice(s.NX, s.NY)
	copy(out.Data, sm.Data)
	return out
}
