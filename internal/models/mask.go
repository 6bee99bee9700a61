package models

// Mask is a binary voxel grid sharing the layout of Volume: Z-major,
// index = z*NX*NY + y*NX + x.
type Mask struct {
	NX, NY, NZ int
	Data       []bool
}

// NewMask allocates an empty (all-false) mask.
func NewMask(nx, ny, nz int) *Mask {
	return &Mask{NX: nx, NY: ny, NZ: nz, Data: make([]bool, nx*ny*nz)}
}

// At returns whether voxel (x, y, z) is set.
func (m *Mask) At(x, y, z int) bool { return m.Data[z*m.NX*m.NY+y*m.NX+x] }

// Set marks voxel (x, y, z).
func (m *Mask) Set(x, y, z int, v bool) { m.Data[z*m.NX*m.NY+y*m.NX+x] = v }

// Clone returns a deep copy of the mask.
func (m *Mask) Clone() *Mask {
	out := NewMask(m.NX, m.NY, m.NZ)
	copy(out.Data, m.Data)
	return out
}

// Count returns the number of set voxels.
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.Data {
		if b {
			n++
		}
	}
	return n
}

// SliceCount returns the number of set voxels within slice z.
func (m *Mask) SliceCount(z int) int {
	n := 0
	base := z * m.NX * m.NY
	for i := base; i < base+m.NX*m.NY; i++ {
		if m.Data[i] {
			n++
		}
	}
	return n
}

// ExtractSlice copies slice z of the mask as a flat 2-D boolean grid.
func (m *Mask) ExtractSlice(z int) []bool {
	n := m.NX * m.NY
	out := make([]bool, n)
	copy(out, m.Data[z*n:(z+1)*n])
	return out
}

// InsertSlice writes a flat 2-D boolean grid into slice z.
func (m *Mask) InsertSlice(z int, s []bool) {
	n := m.NX * m.NY
	copy(m.Data[z*n:(z+1)*n], s)
}

// SubsetOf reports whether every set voxel of m is also set in o.
func (m *Mask) SubsetOf(o *Mask) bool {
	for i, b := range m.Data {
		if b && !o.Data[i] {
			return false
		}
	}
	return true
}

// Union sets every voxel of m that is set in o.
func (m *Mask) Union(o *Mask) {
	for i, b := range o.Data {
		if b {
			m.Data[i] = true
		}
	}
}

// Intersect clears every voxel of m that is not set in o.
func (m *Mask) Intersect(o *Mask) {
	for i := range m.Data {
		m.Data[i] = m.Data[i] && o.Data[i]
	}
}
