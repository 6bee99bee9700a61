package engine

import (
	"math"
	"testing"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
)

// blobSlice builds a slice holding a gaussian blob centered at (cx, cy).
func blobSlice(nx, ny int, cx, cy float64) *models.Slice {
	s := models.NewSlice(nx, ny)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			s.Set(x, y, 100*math.Exp(-(dx*dx+dy*dy)/10))
		}
	}
	return s
}

func TestApplyLinearIdentity(t *testing.T) {
	src := blobSlice(16, 32, 8, 16)
	out := ApplyLinear(src, models.IdentityTransform())
	for i := range src.Data {
		if math.Abs(out.Data[i]-src.Data[i]) > 1e-9 {
			t.Fatalf("Identity warp changed voxel %d from %v to %v", i, src.Data[i], out.Data[i])
		}
	}
}

func TestApplyLinearIntegerTranslation(t *testing.T) {
	src := blobSlice(16, 32, 8, 19)
	// translate -3 maps source content at y=19 onto reference row 16.
	out := ApplyLinear(src, models.LinearTransform{Scale: 1, Translate: -3})
	if math.Abs(out.At(8, 16)-src.At(8, 19)) > 1e-9 {
		t.Errorf("Warped peak %v does not match source peak %v", out.At(8, 16), src.At(8, 19))
	}
	// Rows inverse-mapped past the grid edge are zero.
	if out.At(8, 31) != 0 {
		t.Errorf("Out-of-grid row should be zero, got %v", out.At(8, 31))
	}
}

func TestApplyComposedConstantField(t *testing.T) {
	src := blobSlice(16, 32, 8, 18)
	field := models.NewDeformationField(32, 5)
	for i := range field.Control {
		field.Control[i] = 2
	}
	// Identity linear + constant displacement 2 equals a pure translation -2.
	composed := ApplyComposed(src, models.IdentityTransform(), field)
	translated := ApplyLinear(src, models.LinearTransform{Scale: 1, Translate: -2})
	for i := range composed.Data {
		if math.Abs(composed.Data[i]-translated.Data[i]) > 1e-9 {
			t.Fatalf("Composed warp differs from equivalent translation at voxel %d: %v vs %v",
				i, composed.Data[i], translated.Data[i])
		}
	}
}

func TestForwardWarpMask(t *testing.T) {
	nx, ny := 4, 10
	refMask := make([]bool, nx*ny)
	for x := 0; x < nx; x++ {
		refMask[5*nx+x] = true // reference row 5
	}
	// translate -2: source row y maps to reference row y-2, so source row 7
	// lands on the masked reference row.
	warped := ForwardWarpMask(refMask, nx, ny, models.LinearTransform{Scale: 1, Translate: -2})
	for x := 0; x < nx; x++ {
		if !warped[7*nx+x] {
			t.Errorf("Expected source row 7 set at x=%d", x)
		}
		if warped[5*nx+x] {
			t.Errorf("Source row 5 should not be set at x=%d", x)
		}
	}
}

func TestShiftVolume(t *testing.T) {
	geom := models.Geometry{NX: 4, NY: 4, NZ: 4, VoxelSize: [3]float64{1, 1, 1}}
	v := models.NewVolume(geom)
	v.Set(1, 1, 1, 9)
	out := ShiftVolume(v, 1, 2, 0)
	if got := out.At(2, 3, 1); got != 9 {
		t.Errorf("Shifted voxel = %v, expected 9", got)
	}
	if out.At(1, 1, 1) != 0 {
		t.Error("Original position should be cleared after shift")
	}
}
