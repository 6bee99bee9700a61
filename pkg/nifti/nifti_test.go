package nifti

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
)

func testGeometry() models.Geometry {
	return models.Geometry{
		NX: 4, NY: 5, NZ: 3,
		VoxelSize: [3]float64{1.5, 1.5, 2},
		Origin:    [3]float64{-10, 20, -5},
	}
}

func TestVolumeRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vol.nii")
	geom := testGeometry()
	vol := models.NewVolume(geom)
	for i := range vol.Data {
		vol.Data[i] = float64(i%7) * 0.5 // exactly representable in float32
	}

	if err := WriteVolume(path, vol); err != nil {
		t.Fatalf("Failed to write volume: %v", err)
	}
	got, err := ReadVolume(path)
	if err != nil {
		t.Fatalf("Failed to read volume: %v", err)
	}

	if !got.Geom.Equal(geom) {
		t.Errorf("Geometry %+v, expected %+v", got.Geom, geom)
	}
	for i := range vol.Data {
		if got.Data[i] != vol.Data[i] {
			t.Fatalf("Voxel %d = %v, expected %v", i, got.Data[i], vol.Data[i])
		}
	}
}

func TestTimeseriesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ts.nii")
	geom := testGeometry()
	vols := make([]*models.Volume, 3)
	for v := range vols {
		vols[v] = models.NewVolume(geom)
		for i := range vols[v].Data {
			vols[v].Data[i] = float64(v*100 + i)
		}
	}

	if err := WriteTimeseries(path, geom, vols); err != nil {
		t.Fatalf("Failed to write timeseries: %v", err)
	}
	ts, err := ReadTimeseries(path)
	if err != nil {
		t.Fatalf("Failed to read timeseries: %v", err)
	}

	if ts.Len() != 3 {
		t.Fatalf("Read %d volumes, expected 3", ts.Len())
	}
	for v := range vols {
		for i := range vols[v].Data {
			if ts.Volumes[v].Data[i] != vols[v].Data[i] {
				t.Fatalf("Volume %d voxel %d = %v, expected %v", v, i, ts.Volumes[v].Data[i], vols[v].Data[i])
			}
		}
	}
}

func TestMaskRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.nii")
	geom := testGeometry()
	m := models.NewMask(geom.NX, geom.NY, geom.NZ)
	m.Set(1, 2, 0, true)
	m.Set(3, 4, 2, true)

	if err := WriteMask(path, m, geom); err != nil {
		t.Fatalf("Failed to write mask: %v", err)
	}
	got, err := ReadMask(path)
	if err != nil {
		t.Fatalf("Failed to read mask: %v", err)
	}

	if got.Count() != 2 {
		t.Errorf("Read mask has %d voxels, expected 2", got.Count())
	}
	if !got.At(1, 2, 0) || !got.At(3, 4, 2) {
		t.Error("Set voxels did not survive the round trip")
	}
}

func TestReadRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	t.Run("TruncatedFile", func(t *testing.T) {
		path := filepath.Join(dir, "short.nii")
		if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
			t.Fatalf("Failed to write test file: %v", err)
		}
		if _, err := Read(path); err == nil {
			t.Error("Expected error for truncated file")
		}
	})

	t.Run("BadMagic", func(t *testing.T) {
		path := filepath.Join(dir, "bad.nii")
		vol := models.NewVolume(testGeometry())
		if err := WriteVolume(path, vol); err != nil {
			t.Fatalf("Failed to write volume: %v", err)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read file back: %v", err)
		}
		raw[344] = 'x' // magic field offset
		if err := os.WriteFile(path, raw, 0644); err != nil {
			t.Fatalf("Failed to corrupt file: %v", err)
		}
		if _, err := Read(path); err == nil {
			t.Error("Expected error for corrupted magic")
		}
	})

	t.Run("VoxOffsetPastEnd", func(t *testing.T) {
		path := filepath.Join(dir, "offset.nii")
		if err := WriteVolume(path, models.NewVolume(testGeometry())); err != nil {
			t.Fatalf("Failed to write volume: %v", err)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read file back: %v", err)
		}
		binary.LittleEndian.PutUint32(raw[108:], math.Float32bits(1e6)) // vox_offset field
		if err := os.WriteFile(path, raw, 0644); err != nil {
			t.Fatalf("Failed to corrupt file: %v", err)
		}
		if _, err := Read(path); err == nil {
			t.Error("Expected error for vox_offset past the end of the file")
		}
	})

	t.Run("NegativeVoxOffset", func(t *testing.T) {
		path := filepath.Join(dir, "negoffset.nii")
		if err := WriteVolume(path, models.NewVolume(testGeometry())); err != nil {
			t.Fatalf("Failed to write volume: %v", err)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read file back: %v", err)
		}
		binary.LittleEndian.PutUint32(raw[108:], math.Float32bits(-4))
		if err := os.WriteFile(path, raw, 0644); err != nil {
			t.Fatalf("Failed to corrupt file: %v", err)
		}
		if _, err := Read(path); err == nil {
			t.Error("Expected error for negative vox_offset")
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := Read(filepath.Join(dir, "nope.nii")); err == nil {
			t.Error("Expected error for missing file")
		}
	})
}
