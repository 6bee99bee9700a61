package engine

import (
	"math"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
)

// ApplyLinear resamples the source slice onto the reference grid under the
// linear transform. Output row y samples the source at the inverse-mapped
// coordinate with linear interpolation; out-of-grid samples are zero.
func ApplyLinear(src *models.Slice, t models.LinearTransform) *models.Slice {
	return ApplyComposed(src, t, nil)
}

// ApplyComposed resamples the source slice under the linear transform
// composed with an optional reference-space displacement field along the
// phase-encode axis. A nil or zero field reduces to ApplyLinear.
func ApplyComposed(src *models.Slice, t models.LinearTransform, field *models.DeformationField) *models.Slice {
	out := models.NewSlice(src.NX, src.NY)
	center := float64(src.NY-1) / 2
	for y := 0; y < src.NY; y++ {
		yRef := float64(y)
		if field != nil {
			yRef += field.Displacement(float64(y))
		}
		ySrc := t.Invert(yRef, center)
		sampleRow(src, out, y, ySrc)
	}
	return out
}

func sampleRow(src, out *models.Slice, yOut int, ySrc float64) {
	if ySrc < 0 || ySrc > float64(src.NY-1) {
		return // row stays zero
	}
	y0 := int(math.Floor(ySrc))
	y1 := y0 + 1
	f := ySrc - float64(y0)
	for x := 0; x < src.NX; x++ {
		v := src.At(x, y0)
		if y1 < src.NY {
			v = (1-f)*v + f*src.At(x, y1)
		}
		out.Set(x, yOut, v)
	}
}

// ForwardWarpMask maps a reference-space 2-D mask into source space through
// the linear transform: source position (x, y) is set when the forward-mapped
// reference position is inside the mask. Used to re-derive the source-side
// mask before the non-linear stage.
func ForwardWarpMask(refMask []bool, nx, ny int, t models.LinearTransform) []bool {
	out := make([]bool, nx*ny)
	center := float64(ny-1) / 2
	for y := 0; y < ny; y++ {
		yRef := int(math.Round(t.Apply(float64(y), center)))
		if yRef < 0 || yRef >= ny {
			continue
		}
		for x := 0; x < nx; x++ {
			if refMask[yRef*nx+x] {
				out[y*nx+x] = true
			}
		}
	}
	return out
}

// ShiftVolume translates a volume by an integer offset per axis, used by
// group-wise motion correction. Out-of-grid voxels are zero.
func ShiftVolume(v *models.Volume, dx, dy, dz int) *models.Volume {
	out := models.NewVolume(v.Geom)
	for z := 0; z < v.Geom.NZ; z++ {
		sz := z - dz
		if sz < 0 || sz >= v.Geom.NZ {
			continue
		}
		for y := 0; y < v.Geom.NY; y++ {
			sy := y - dy
			if sy < 0 || sy >= v.Geom.NY {
				continue
			}
			for x := 0; x < v.Geom.NX; x++ {
				sx := x - dx
				if sx < 0 || sx >= v.Geom.NX {
					continue
				}
				out.Set(x, y, z, v.At(sx, sy, sz))
			}
		}
	}
	return out
}
