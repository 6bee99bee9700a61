// Package mask derives the tiered anatomical mask hierarchy that constrains
// the per-slice registration search space: nested strict/regular/liberal
// head masks with neck and ghosting exclusion, optional lateral restriction,
// and dilated background-rejection variants for the cost function.
package mask

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/voxel"
)

// Tier selects one of the nested mask tiers. Strict trades capture range
// for overfitting resistance; liberal the reverse.
type Tier int

const (
	TierStrict Tier = iota
	TierRegular
	TierLiberal
)

func (t Tier) String() string {
	switch t {
	case TierStrict:
		return "strict"
	case TierRegular:
		return "regular"
	case TierLiberal:
		return "liberal"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Hierarchy holds the reference-side mask set. Invariant: for every slice,
// strict ⊆ regular ⊆ liberal and brain ⊆ strict.
type Hierarchy struct {
	Brain *models.Mask

	Strict  *models.Mask
	Regular *models.Mask
	Liberal *models.Mask

	// Background-rejection variants: an isotropic dilation of each tier
	// used to suppress far-field voxels in the cost function.
	StrictBG  *models.Mask
	RegularBG *models.Mask
	LiberalBG *models.Mask

	// HeadLoose is the low-threshold whole-head mask (neck included), kept
	// for head re-extraction before the non-linear stage.
	HeadLoose *models.Mask

	// MidSlice is the estimated mid slice of the brain along Z.
	MidSlice int

	// BrainTop is the highest slice index containing brain voxels. Slices
	// above it are accepted unmoved by the state machine.
	BrainTop int
}

// Mask returns the base mask of the given tier.
func (h *Hierarchy) Mask(t Tier) *models.Mask {
	switch t {
	case TierRegular:
		return h.Regular
	case TierLiberal:
		return h.Liberal
	default:
		return h.Strict
	}
}

// Background returns the background-rejection mask of the given tier.
func (h *Hierarchy) Background(t Tier) *models.Mask {
	switch t {
	case TierRegular:
		return h.RegularBG
	case TierLiberal:
		return h.LiberalBG
	default:
		return h.StrictBG
	}
}

// Builder constructs the hierarchy from the reference volume and its brain
// mask.
type Builder struct {
	// LateralMode selects the lateral-width restriction: 0 off, 1 fixed
	// corridor from the 95th-percentile brain width, 2 per-slice scaled
	// brain extent with a minimum corridor.
	LateralMode int

	// RegularDilation and LiberalDilation are the posterior 1-D dilation
	// distances deriving the regular and liberal tiers from strict.
	RegularDilation int
	LiberalDilation int

	// BackgroundDilation is the isotropic dilation for the background-
	// rejection variants.
	BackgroundDilation int
}

// NewBuilder returns a builder with the standard dilation distances.
func NewBuilder(lateralMode int) *Builder {
	return &Builder{
		LateralMode:        lateralMode,
		RegularDilation:    6,
		LiberalDilation:    11,
		BackgroundDilation: 3,
	}
}

// Build derives the full hierarchy. The reference and brain mask share one
// grid; an empty brain mask is an input error.
func (b *Builder) Build(ref *models.Volume, brain *models.Mask) (*Hierarchy, error) {
	if brain.NX != ref.Geom.NX || brain.NY != ref.Geom.NY || brain.NZ != ref.Geom.NZ {
		return nil, fmt.Errorf("mask: brain mask %dx%dx%d does not match reference %dx%dx%d",
			brain.NX, brain.NY, brain.NZ, ref.Geom.NX, ref.Geom.NY, ref.Geom.NZ)
	}
	if brain.Count() == 0 {
		return nil, fmt.Errorf("mask: brain mask is empty")
	}

	// Step 1: sample confident brain voxels for the intensity thresholds.
	eroded := voxel.Erode(brain, 3)
	if eroded.Count() == 0 {
		eroded = brain
	}
	mean := voxel.MeanWithin(ref, eroded)
	tLoose, tTight := mean/4, mean/2
	logrus.WithFields(logrus.Fields{"mean": mean, "loose": tLoose, "tight": tTight}).
		Debug("mask: head thresholds")

	// Step 2: whole-head masks at both thresholds.
	headLoose := b.headMask(ref, brain, tLoose)
	strict := b.headMask(ref, brain, tTight)

	// Step 3: mid slice of the brain.
	mid := midSlice(brain)

	// Step 4: posterior (neck/ghosting) exclusion, strict tier only.
	strict.Intersect(posteriorExclusion(brain, mid))
	strict.Union(brain)

	// Step 5: lateral restriction.
	b.applyLateral(strict, brain)

	// Step 6: borrow masks for thin slices so every slice has enough
	// driving voxels.
	borrowThinSlices(strict, brain)

	// Step 7: re-polish and re-restrict.
	strict = voxel.LargestComponent(strict)
	strict = voxel.FillHoles(strict)
	strict = voxel.SmoothMask(strict, ref.Geom, 1.0, 0.2, 0.6)
	strict.Union(brain)
	b.applyLateral(strict, brain)

	// Step 8: nested tiers by posterior dilation.
	regular := voxel.DilatePosterior(strict, b.RegularDilation)
	liberal := voxel.DilatePosterior(strict, b.LiberalDilation)
	regular.Union(strict)
	liberal.Union(regular)

	h := &Hierarchy{
		Brain:     brain,
		Strict:    strict,
		Regular:   regular,
		Liberal:   liberal,
		HeadLoose: headLoose,
		MidSlice:  mid,
		BrainTop:  brainTop(brain),
	}

	// Step 9: background-rejection variants.
	h.StrictBG = voxel.Dilate(strict, b.BackgroundDilation)
	h.RegularBG = voxel.Dilate(regular, b.BackgroundDilation)
	h.LiberalBG = voxel.Dilate(liberal, b.BackgroundDilation)

	return h, nil
}

// headMask thresholds the reference, keeps the largest component, fills
// holes and runs two smoothing rounds, then force-includes the brain.
func (b *Builder) headMask(ref *models.Volume, brain *models.Mask, thr float64) *models.Mask {
	m := voxel.Threshold(ref, thr)
	m = voxel.LargestComponent(m)
	m = voxel.FillHoles(m)
	for i := 0; i < 2; i++ {
		m = voxel.SmoothMask(m, ref.Geom, 1.0, 0.2, 0.6)
	}
	m.Union(brain)
	return m
}

// midSlice averages three independent estimates of the brain's mid slice:
// the slice of maximal antero-posterior extent, the slice of maximal
// cross-sectional area, and the center-of-gravity slice.
func midSlice(brain *models.Mask) int {
	zExtent, bestExtent := 0, -1
	zArea, bestArea := 0, -1
	for z := 0; z < brain.NZ; z++ {
		if minY, maxY, ok := voxel.SliceExtentY(brain, z); ok {
			if ext := maxY - minY + 1; ext > bestExtent {
				bestExtent = ext
				zExtent = z
			}
		}
		if a := brain.SliceCount(z); a > bestArea {
			bestArea = a
			zArea = z
		}
	}
	_, _, cz := voxel.CenterOfMass(brain)
	return int(math.Round((float64(zExtent) + float64(zArea) + cz) / 3))
}

// posteriorExclusion builds the neck/ghosting exclusion mask. At the mid
// slice only voxels anterior to the brain's posterior boundary are
// accepted; the boundary relaxes by one voxel per slice toward the inferior
// pole, and superior slices use a fixed cutoff three voxels behind it.
func posteriorExclusion(brain *models.Mask, mid int) *models.Mask {
	_, boundary, ok := voxel.SliceExtentY(brain, mid)
	if !ok {
		boundary = brain.NY - 1
	}
	out := models.NewMask(brain.NX, brain.NY, brain.NZ)
	for z := 0; z < brain.NZ; z++ {
		cutoff := boundary
		switch {
		case z < mid:
			cutoff = boundary + (mid - z)
		case z > mid:
			cutoff = boundary + 3
		}
		if cutoff > brain.NY-1 {
			cutoff = brain.NY - 1
		}
		for y := 0; y <= cutoff; y++ {
			for x := 0; x < brain.NX; x++ {
				out.Set(x, y, z, true)
			}
		}
	}
	return out
}

// applyLateral clips the mask to a lateral corridor around the brain.
func (b *Builder) applyLateral(m, brain *models.Mask) {
	switch b.LateralMode {
	case 1:
		b.lateralFixed(m, brain)
	case 2:
		b.lateralScaled(m, brain)
	}
	m.Union(brain)
}

// lateralFixed clips uniformly to a corridor of width 120% of the
// 95th-percentile per-slice brain width, centered on the brain mid-column.
func (b *Builder) lateralFixed(m, brain *models.Mask) {
	var widths []float64
	for z := 0; z < brain.NZ; z++ {
		if minX, maxX, ok := voxel.SliceExtentX(brain, z); ok {
			widths = append(widths, float64(maxX-minX+1))
		}
	}
	if len(widths) == 0 {
		return
	}
	corridor := int(math.Round(1.2 * voxel.Percentile(widths, 95)))
	cx, _, _ := voxel.CenterOfMass(brain)
	lo := int(math.Round(cx)) - corridor/2
	hi := lo + corridor - 1
	clipX(m, lo, hi)
}

// lateralScaled scales the brain extent 1.2x per slice with a 31-voxel
// minimum corridor.
func (b *Builder) lateralScaled(m, brain *models.Mask) {
	const minCorridor = 31
	for z := 0; z < m.NZ; z++ {
		minX, maxX, ok := voxel.SliceExtentX(brain, z)
		if !ok {
			continue
		}
		width := float64(maxX-minX+1) * 1.2
		if width < minCorridor {
			width = minCorridor
		}
		c := float64(minX+maxX) / 2
		lo := int(math.Floor(c - width/2))
		hi := int(math.Ceil(c + width/2))
		clipSliceX(m, z, lo, hi)
	}
}

func clipX(m *models.Mask, lo, hi int) {
	for z := 0; z < m.NZ; z++ {
		clipSliceX(m, z, lo, hi)
	}
}

func clipSliceX(m *models.Mask, z, lo, hi int) {
	for y := 0; y < m.NY; y++ {
		for x := 0; x < m.NX; x++ {
			if x < lo || x > hi {
				m.Set(x, y, z, false)
			}
		}
	}
}

// borrowThinSlices replaces the mask of slices whose brain area falls below
// 5% (inferior of the peak) or 10% (superior) of the maximum-area slice
// with a dilated copy borrowed from the nearest well-populated slice.
func borrowThinSlices(m, brain *models.Mask) {
	areas := make([]int, brain.NZ)
	maxArea, zMax := 0, 0
	for z := 0; z < brain.NZ; z++ {
		areas[z] = brain.SliceCount(z)
		if areas[z] > maxArea {
			maxArea = areas[z]
			zMax = z
		}
	}
	if maxArea == 0 {
		return
	}
	floorFor := func(z int) int {
		if z < zMax {
			return int(math.Ceil(0.05 * float64(maxArea)))
		}
		return int(math.Ceil(0.10 * float64(maxArea)))
	}
	wellPopulated := func(z int) bool { return areas[z] >= floorFor(z) }

	for z := 0; z < m.NZ; z++ {
		if wellPopulated(z) {
			continue
		}
		// Nearest well-populated slice, ties resolved toward inferior.
		donor := -1
		for d := 1; d < m.NZ; d++ {
			if z-d >= 0 && wellPopulated(z-d) {
				donor = z - d
				break
			}
			if z+d < m.NZ && wellPopulated(z+d) {
				donor = z + d
				break
			}
		}
		if donor < 0 {
			continue
		}
		m.InsertSlice(z, voxel.DilateSlice2D(m, donor, 2))
	}
}

func brainTop(brain *models.Mask) int {
	top := 0
	for z := 0; z < brain.NZ; z++ {
		if brain.SliceCount(z) > 0 {
			top = z
		}
	}
	return top
}
