// Package models defines the image, mask and transform value types shared
// by every stage of the slice-wise distortion correction pipeline.
package models

import "fmt"

// Axis identifies one of the three voxel-grid axes. By convention X is the
// lateral (left-right) axis, Y is the antero-posterior axis with posterior
// at increasing Y, and Z is the slice axis with the inferior pole at Z=0.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// PhaseEncodeAxis is the axis along which geometric distortion manifests.
// All registration search is restricted to this axis.
const PhaseEncodeAxis = AxisY

// Geometry describes the voxel grid of a volume: dimensions, physical voxel
// size in mm and the position of the first voxel in scanner space. It is
// copied, never shared, so that an engine call rewriting one volume's header
// can be corrected from the pristine source geometry.
type Geometry struct {
	NX, NY, NZ int
	VoxelSize  [3]float64
	Origin     [3]float64
}

// VoxelCount returns the number of voxels in a volume with this geometry.
func (g Geometry) VoxelCount() int { return g.NX * g.NY * g.NZ }

// SliceVoxels returns the number of voxels in one 2-D slice.
func (g Geometry) SliceVoxels() int { return g.NX * g.NY }

// Equal reports whether two geometries describe the same voxel grid.
// Physical voxel sizes are compared exactly; the pipeline never resamples,
// so any mismatch is an input error rather than a tolerance question.
func (g Geometry) Equal(o Geometry) bool { return g == o }

// Volume is a single 3-D voxel grid stored in Z-major order:
// index = z*NX*NY + y*NX + x.
type Volume struct {
	Geom Geometry
	Data []float64
}

// NewVolume allocates a zero-filled volume with the given geometry.
func NewVolume(geom Geometry) *Volume {
	return &Volume{Geom: geom, Data: make([]float64, geom.VoxelCount())}
}

// At returns the voxel value at (x, y, z). No bounds checking; callers
// iterate within the geometry.
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[z*v.Geom.NX*v.Geom.NY+y*v.Geom.NX+x]
}

// Set writes the voxel value at (x, y, z).
func (v *Volume) Set(x, y, z int, val float64) {
	v.Data[z*v.Geom.NX*v.Geom.NY+y*v.Geom.NX+x] = val
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := NewVolume(v.Geom)
	copy(out.Data, v.Data)
	return out
}

// ExtractSlice copies slice z out of the volume as a standalone 2-D slice.
func (v *Volume) ExtractSlice(z int) *Slice {
	n := v.Geom.SliceVoxels()
	s := &Slice{NX: v.Geom.NX, NY: v.Geom.NY, Data: make([]float64, n)}
	copy(s.Data, v.Data[z*n:(z+1)*n])
	return s
}

// InsertSlice writes a 2-D slice back into position z of the volume.
func (v *Volume) InsertSlice(z int, s *Slice) {
	n := v.Geom.SliceVoxels()
	copy(v.Data[z*n:(z+1)*n], s.Data)
}

// Slice is a single 2-D cross-section of a volume, the unit of registration.
// Stored row-major: index = y*NX + x.
type Slice struct {
	NX, NY int
	Data   []float64
}

// NewSlice allocates a zero-filled slice.
func NewSlice(nx, ny int) *Slice {
	return &Slice{NX: nx, NY: ny, Data: make([]float64, nx*ny)}
}

// At returns the value at (x, y).
func (s *Slice) At(x, y int) float64 { return s.Data[y*s.NX+x] }

// Set writes the value at (x, y).
func (s *Slice) Set(x, y int, val float64) { s.Data[y*s.NX+x] = val }

// Clone returns a deep copy of the slice.
func (s *Slice) Clone() *Slice {
	out := NewSlice(s.NX, s.NY)
	copy(out.Data, s.Data)
	return out
}

// Timeseries is an ordered sequence of volumes sharing one geometry.
// The input timeseries is immutable once loaded.
type Timeseries struct {
	Geom    Geometry
	Volumes []*Volume
}

// NewTimeseries validates that all volumes share the given geometry and
// wraps them. A geometry mismatch is a fatal input error.
func NewTimeseries(geom Geometry, vols []*Volume) (*Timeseries, error) {
	for i, v := range vols {
		if !v.Geom.Equal(geom) {
			return nil, fmt.Errorf("volume %d geometry %+v does not match timeseries geometry %+v", i, v.Geom, geom)
		}
	}
	return &Timeseries{Geom: geom, Volumes: vols}, nil
}

// Len returns the number of volumes.
func (ts *Timeseries) Len() int { return len(ts.Volumes) }

// Key identifies one (volume, slice) registration unit.
type Key struct {
	Volume int
	Slice  int
}

func (k Key) String() string { return fmt.Sprintf("v%03d/s%02d", k.Volume, k.Slice) }
