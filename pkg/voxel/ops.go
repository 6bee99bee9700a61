// Package voxel implements the voxel-arithmetic and morphology operations
// the mask and registration stages are built on: thresholding, boolean
// combination, connected components, hole filling, dilation and erosion
// (isotropic and directional), gaussian smoothing and intensity statistics.
// All operations treat grids as Z-major flat arrays, matching models.Volume
// and models.Mask.
package voxel

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
)

// Threshold returns the mask of voxels with intensity strictly above t.
func Threshold(v *models.Volume, t float64) *models.Mask {
	m := models.NewMask(v.Geom.NX, v.Geom.NY, v.Geom.NZ)
	for i, val := range v.Data {
		m.Data[i] = val > t
	}
	return m
}

// MaskToVolume converts a mask into a 0/1-valued volume with the given
// voxel geometry.
func MaskToVolume(m *models.Mask, geom models.Geometry) *models.Volume {
	v := models.NewVolume(geom)
	for i, b := range m.Data {
		if b {
			v.Data[i] = 1
		}
	}
	return v
}

// MeanWithin returns the mean intensity of v inside the mask. Returns 0 for
// an empty mask.
func MeanWithin(v *models.Volume, m *models.Mask) float64 {
	sum, n := 0.0, 0
	for i, b := range m.Data {
		if b {
			sum += v.Data[i]
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Percentile returns the p-th percentile (0-100) of the values, using
// gonum's empirical quantile on a sorted copy.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return stat.Quantile(p/100, stat.Empirical, sorted, nil)
}

// MinMax returns the minimum and maximum of the data.
func MinMax(data []float64) (min, max float64) {
	if len(data) == 0 {
		return 0, 0
	}
	min, max = data[0], data[0]
	for _, v := range data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// CenterOfMass returns the set-voxel centroid of the mask in voxel
// coordinates. Returns zeros for an empty mask.
func CenterOfMass(m *models.Mask) (cx, cy, cz float64) {
	n := 0
	for z := 0; z < m.NZ; z++ {
		for y := 0; y < m.NY; y++ {
			for x := 0; x < m.NX; x++ {
				if m.At(x, y, z) {
					cx += float64(x)
					cy += float64(y)
					cz += float64(z)
					n++
				}
			}
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	f := float64(n)
	return cx / f, cy / f, cz / f
}

// Erode shrinks the mask by r iterations of 6-neighborhood erosion.
func Erode(m *models.Mask, r int) *models.Mask {
	out := m.Clone()
	for i := 0; i < r; i++ {
		out = erodeOnce(out)
	}
	return out
}

// Dilate grows the mask by r iterations of 6-neighborhood dilation.
func Dilate(m *models.Mask, r int) *models.Mask {
	out := m.Clone()
	for i := 0; i < r; i++ {
		out = dilateOnce(out)
	}
	return out
}

func erodeOnce(m *models.Mask) *models.Mask {
	out := models.NewMask(m.NX, m.NY, m.NZ)
	for z := 0; z < m.NZ; z++ {
		for y := 0; y < m.NY; y++ {
			for x := 0; x < m.NX; x++ {
				if !m.At(x, y, z) {
					continue
				}
				keep := x > 0 && x < m.NX-1 && y > 0 && y < m.NY-1 &&
					m.At(x-1, y, z) && m.At(x+1, y, z) &&
					m.At(x, y-1, z) && m.At(x, y+1, z)
				// Z neighbors only erode in the interior so a single-slice
				// mask survives erosion in-plane.
				if keep && m.NZ > 1 {
					if z > 0 && !m.At(x, y, z-1) {
						keep = false
					}
					if z < m.NZ-1 && !m.At(x, y, z+1) {
						keep = false
					}
				}
				out.Set(x, y, z, keep)
			}
		}
	}
	return out
}

func dilateOnce(m *models.Mask) *models.Mask {
	out := m.Clone()
	for z := 0; z < m.NZ; z++ {
		for y := 0; y < m.NY; y++ {
			for x := 0; x < m.NX; x++ {
				if m.At(x, y, z) {
					continue
				}
				set := (x > 0 && m.At(x-1, y, z)) || (x < m.NX-1 && m.At(x+1, y, z)) ||
					(y > 0 && m.At(x, y-1, z)) || (y < m.NY-1 && m.At(x, y+1, z)) ||
					(z > 0 && m.At(x, y, z-1)) || (z < m.NZ-1 && m.At(x, y, z+1))
				if set {
					out.Set(x, y, z, true)
				}
			}
		}
	}
	return out
}

// DilatePosterior grows the mask n voxels toward posterior (increasing Y)
// with a one-sided 1-D structuring element along the antero-posterior axis.
func DilatePosterior(m *models.Mask, n int) *models.Mask {
	out := m.Clone()
	for z := 0; z < m.NZ; z++ {
		for x := 0; x < m.NX; x++ {
			for y := m.NY - 1; y >= 0; y-- {
				if out.At(x, y, z) {
					continue
				}
				for d := 1; d <= n && y-d >= 0; d++ {
					if m.At(x, y-d, z) {
						out.Set(x, y, z, true)
						break
					}
				}
			}
		}
	}
	return out
}

// DilateSlice2D grows slice z of the mask by r iterations of in-plane
// 4-neighborhood dilation and returns it as a flat 2-D grid.
func DilateSlice2D(m *models.Mask, z, r int) []bool {
	cur := m.ExtractSlice(z)
	nx, ny := m.NX, m.NY
	for it := 0; it < r; it++ {
		next := make([]bool, len(cur))
		copy(next, cur)
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				if cur[y*nx+x] {
					continue
				}
				if (x > 0 && cur[y*nx+x-1]) || (x < nx-1 && cur[y*nx+x+1]) ||
					(y > 0 && cur[(y-1)*nx+x]) || (y < ny-1 && cur[(y+1)*nx+x]) {
					next[y*nx+x] = true
				}
			}
		}
		cur = next
	}
	return cur
}

// LargestComponent keeps only the largest 6-connected component of the mask.
func LargestComponent(m *models.Mask) *models.Mask {
	labels := make([]int, len(m.Data))
	for i := range labels {
		labels[i] = -1
	}
	bestLabel, bestSize := -1, 0
	next := 0
	idx := func(x, y, z int) int { return z*m.NX*m.NY + y*m.NX + x }

	var queue []int
	for start, b := range m.Data {
		if !b || labels[start] >= 0 {
			continue
		}
		size := 0
		queue = queue[:0]
		queue = append(queue, start)
		labels[start] = next
		for len(queue) > 0 {
			cur := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			size++
			z := cur / (m.NX * m.NY)
			rem := cur % (m.NX * m.NY)
			y := rem / m.NX
			x := rem % m.NX
			for _, nb := range [][3]int{{x - 1, y, z}, {x + 1, y, z}, {x, y - 1, z}, {x, y + 1, z}, {x, y, z - 1}, {x, y, z + 1}} {
				nx, ny, nz := nb[0], nb[1], nb[2]
				if nx < 0 || nx >= m.NX || ny < 0 || ny >= m.NY || nz < 0 || nz >= m.NZ {
					continue
				}
				ni := idx(nx, ny, nz)
				if m.Data[ni] && labels[ni] < 0 {
					labels[ni] = next
					queue = append(queue, ni)
				}
			}
		}
		if size > bestSize {
			bestSize = size
			bestLabel = next
		}
		next++
	}

	out := models.NewMask(m.NX, m.NY, m.NZ)
	if bestLabel < 0 {
		return out
	}
	for i, l := range labels {
		out.Data[i] = l == bestLabel
	}
	return out
}

// FillHoles fills background regions not connected to the grid border,
// slice by slice in-plane. Interior dark pockets (ventricles, susceptibility
// dropout) become part of the mask.
func FillHoles(m *models.Mask) *models.Mask {
	out := m.Clone()
	nx, ny := m.NX, m.NY
	for z := 0; z < m.NZ; z++ {
		sl := m.ExtractSlice(z)
		outside := make([]bool, len(sl))
		var queue []int
		push := func(i int) {
			if !sl[i] && !outside[i] {
				outside[i] = true
				queue = append(queue, i)
			}
		}
		for x := 0; x < nx; x++ {
			push(x)
			push((ny-1)*nx + x)
		}
		for y := 0; y < ny; y++ {
			push(y * nx)
			push(y*nx + nx - 1)
		}
		for len(queue) > 0 {
			cur := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			y, x := cur/nx, cur%nx
			if x > 0 {
				push(cur - 1)
			}
			if x < nx-1 {
				push(cur + 1)
			}
			if y > 0 {
				push(cur - nx)
			}
			if y < ny-1 {
				push(cur + nx)
			}
		}
		filled := make([]bool, len(sl))
		for i := range sl {
			filled[i] = sl[i] || !outside[i]
		}
		out.InsertSlice(z, filled)
	}
	return out
}

// GaussianSmooth applies a separable gaussian filter with the given sigma
// (voxels) along all three axes.
func GaussianSmooth(v *models.Volume, sigma float64) *models.Volume {
	if sigma <= 0 {
		return v.Clone()
	}
	kernel := gaussKernel(sigma)
	out := smoothAxis(v, kernel, models.AxisX)
	out = smoothAxis(out, kernel, models.AxisY)
	if v.Geom.NZ > 1 {
		out = smoothAxis(out, kernel, models.AxisZ)
	}
	return out
}

func gaussKernel(sigma float64) []float64 {
	r := int(math.Ceil(3 * sigma))
	k := make([]float64, 2*r+1)
	sum := 0.0
	for i := -r; i <= r; i++ {
		k[i+r] = math.Exp(-float64(i*i) / (2 * sigma * sigma))
		sum += k[i+r]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

func smoothAxis(v *models.Volume, kernel []float64, axis models.Axis) *models.Volume {
	out := models.NewVolume(v.Geom)
	r := len(kernel) / 2
	nx, ny, nz := v.Geom.NX, v.Geom.NY, v.Geom.NZ
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				acc, wsum := 0.0, 0.0
				for i := -r; i <= r; i++ {
					xx, yy, zz := x, y, z
					switch axis {
					case models.AxisX:
						xx += i
					case models.AxisY:
						yy += i
					case models.AxisZ:
						zz += i
					}
					if xx < 0 || xx >= nx || yy < 0 || yy >= ny || zz < 0 || zz >= nz {
						continue
					}
					w := kernel[i+r]
					acc += w * v.At(xx, yy, zz)
					wsum += w
				}
				if wsum > 0 {
					out.Set(x, y, z, acc/wsum)
				}
			}
		}
	}
	return out
}

// SmoothMask runs one gaussian-dilate/threshold/gaussian-erode/threshold
// round on the mask: smooth, keep everything above growThr (grows the mask),
// smooth again, keep everything above shrinkThr (pulls the boundary back).
func SmoothMask(m *models.Mask, geom models.Geometry, sigma, growThr, shrinkThr float64) *models.Mask {
	v := MaskToVolume(m, geom)
	grown := Threshold(GaussianSmooth(v, sigma), growThr)
	v2 := MaskToVolume(grown, geom)
	return Threshold(GaussianSmooth(v2, sigma), shrinkThr)
}

// SmoothAlongZ replaces every slice with the average of itself and its
// Z-neighbors within the kernel radius. Used as the inter-slice consistency
// proxy by the volume scorer.
func SmoothAlongZ(v *models.Volume, radius int) *models.Volume {
	out := models.NewVolume(v.Geom)
	nz := v.Geom.NZ
	sliceN := v.Geom.SliceVoxels()
	for z := 0; z < nz; z++ {
		lo, hi := z-radius, z+radius
		if lo < 0 {
			lo = 0
		}
		if hi > nz-1 {
			hi = nz - 1
		}
		n := float64(hi - lo + 1)
		for i := 0; i < sliceN; i++ {
			acc := 0.0
			for zz := lo; zz <= hi; zz++ {
				acc += v.Data[zz*sliceN+i]
			}
			out.Data[z*sliceN+i] = acc / n
		}
	}
	return out
}

// SliceExtentY returns the min and max Y of set voxels within slice z.
// ok is false when the slice is empty.
func SliceExtentY(m *models.Mask, z int) (minY, maxY int, ok bool) {
	minY, maxY = m.NY, -1
	for y := 0; y < m.NY; y++ {
		for x := 0; x < m.NX; x++ {
			if m.At(x, y, z) {
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}
	return minY, maxY, maxY >= 0
}

// SliceExtentX returns the min and max X of set voxels within slice z.
func SliceExtentX(m *models.Mask, z int) (minX, maxX int, ok bool) {
	minX, maxX = m.NX, -1
	for x := 0; x < m.NX; x++ {
		for y := 0; y < m.NY; y++ {
			if m.At(x, y, z) {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
			}
		}
	}
	return minX, maxX, maxX >= 0
}
