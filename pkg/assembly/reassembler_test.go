package assembly

import (
	"testing"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
)

func testGeometry() models.Geometry {
	return models.Geometry{NX: 3, NY: 2, NZ: 4, VoxelSize: [3]float64{1.5, 1.5, 2}, Origin: [3]float64{-10, -20, -30}}
}

func TestAssembleVolumeOrdering(t *testing.T) {
	geom := testGeometry()
	r := NewReassembler(geom)

	slices := make([]*models.Slice, geom.NZ)
	for z := range slices {
		s := models.NewSlice(geom.NX, geom.NY)
		for i := range s.Data {
			s.Data[i] = float64(z)
		}
		slices[z] = s
	}

	vol, err := r.AssembleVolume(slices)
	if err != nil {
		t.Fatalf("Failed to assemble volume: %v", err)
	}
	for z := 0; z < geom.NZ; z++ {
		if got := vol.At(1, 1, z); got != float64(z) {
			t.Errorf("Slice %d landed at the wrong position: value %v", z, got)
		}
	}
	if !vol.Geom.Equal(geom) {
		t.Errorf("Assembled geometry %+v, expected %+v", vol.Geom, geom)
	}
}

func TestAssembleVolumeRejectsWrongCounts(t *testing.T) {
	r := NewReassembler(testGeometry())
	if _, err := r.AssembleVolume(make([]*models.Slice, 2)); err == nil {
		t.Error("Expected error for wrong slice count")
	}

	slices := make([]*models.Slice, 4)
	for z := range slices {
		slices[z] = models.NewSlice(5, 5) // wrong in-plane size
	}
	if _, err := r.AssembleVolume(slices); err == nil {
		t.Error("Expected error for mismatched slice dimensions")
	}
}

func TestAssembleFieldVolume(t *testing.T) {
	geom := testGeometry()
	r := NewReassembler(geom)

	field := models.NewDeformationField(geom.NY, 3)
	for i := range field.Control {
		field.Control[i] = 1.5
	}
	fields := make([]*models.DeformationField, geom.NZ)
	fields[2] = field // other slices had no non-linear stage

	vol, err := r.AssembleFieldVolume(fields)
	if err != nil {
		t.Fatalf("Failed to assemble field volume: %v", err)
	}
	if got := vol.At(1, 1, 2); got != 1.5 {
		t.Errorf("Field displacement = %v, expected 1.5", got)
	}
	if got := vol.At(1, 1, 0); got != 0 {
		t.Errorf("Nil field slice should be zero, got %v", got)
	}
}

func TestMergeTimeseriesPreservesOrderAboveLimit(t *testing.T) {
	geom := models.Geometry{NX: 1, NY: 1, NZ: 1, VoxelSize: [3]float64{1, 1, 1}}
	r := NewReassembler(geom)

	n := MergeLimit + 7
	vols := make([]*models.Volume, n)
	for i := range vols {
		v := models.NewVolume(geom)
		v.Data[0] = float64(i)
		vols[i] = v
	}

	ts, err := r.MergeTimeseries(vols)
	if err != nil {
		t.Fatalf("Failed to merge timeseries: %v", err)
	}
	if ts.Len() != n {
		t.Fatalf("Merged %d volumes, expected %d", ts.Len(), n)
	}
	for i, v := range ts.Volumes {
		if v.Data[0] != float64(i) {
			t.Fatalf("Volume %d out of order: value %v", i, v.Data[0])
		}
	}
}

func TestMergeBoundsOperationSize(t *testing.T) {
	geom := models.Geometry{NX: 1, NY: 1, NZ: 1, VoxelSize: [3]float64{1, 1, 1}}
	r := NewReassembler(geom)

	n := 2*MergeLimit + 7
	vols := make([]*models.Volume, n)
	for i := range vols {
		v := models.NewVolume(geom)
		v.Data[0] = float64(i)
		vols[i] = v
	}

	ts, err := r.MergeTimeseries(vols)
	if err != nil {
		t.Fatalf("Failed to merge timeseries: %v", err)
	}
	if r.maxMergeInputs > MergeLimit {
		t.Errorf("Largest merge operation took %d inputs, limit is %d", r.maxMergeInputs, MergeLimit)
	}
	if ts.Len() != n {
		t.Fatalf("Merged %d volumes, expected %d", ts.Len(), n)
	}
	for i, v := range ts.Volumes {
		if v.Data[0] != float64(i) {
			t.Fatalf("Volume %d out of order: value %v", i, v.Data[0])
		}
	}
}

func TestMergeResetsGeometry(t *testing.T) {
	geom := testGeometry()
	r := NewReassembler(geom)

	v := models.NewVolume(geom)
	v.Geom.Origin = [3]float64{99, 99, 99} // header rewritten downstream

	ts, err := r.MergeTimeseries([]*models.Volume{v})
	if err != nil {
		t.Fatalf("Failed to merge timeseries: %v", err)
	}
	if !ts.Volumes[0].Geom.Equal(geom) {
		t.Errorf("Geometry %+v was not reset to the source geometry %+v", ts.Volumes[0].Geom, geom)
	}
}

func TestClampRinging(t *testing.T) {
	geom := models.Geometry{NX: 2, NY: 2, NZ: 1, VoxelSize: [3]float64{1, 1, 1}}
	r := NewReassembler(geom)

	v := models.NewVolume(geom)
	v.Data = []float64{4, 6, -1, 10}
	ts, err := models.NewTimeseries(geom, []*models.Volume{v})
	if err != nil {
		t.Fatalf("Failed to build timeseries: %v", err)
	}

	r.ClampRinging(ts, 10) // floor = 5
	want := []float64{0, 6, 0, 10}
	for i, w := range want {
		if v.Data[i] != w {
			t.Errorf("Voxel %d = %v, expected %v", i, v.Data[i], w)
		}
	}

	t.Run("ZeroSourceMinimum", func(t *testing.T) {
		v := models.NewVolume(geom)
		v.Data = []float64{-0.5, 0, 0.5, 1}
		ts, _ := models.NewTimeseries(geom, []*models.Volume{v})
		r.ClampRinging(ts, 0)
		if v.Data[0] != 0 {
			t.Errorf("Negative ringing %v was not cleared", v.Data[0])
		}
		if v.Data[2] != 0.5 || v.Data[3] != 1 {
			t.Error("Non-negative voxels must be preserved")
		}
	})
}
