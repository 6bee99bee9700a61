package models

import "math"

// LinearTransform is the per-slice affine transform: a scale and a
// translation along the phase-encode axis, about the slice's Y center.
// A source row y maps to reference row scale*(y-c) + c + translate,
// where c = (NY-1)/2.
type LinearTransform struct {
	Scale     float64
	Translate float64
}

// IdentityTransform returns the no-motion transform.
func IdentityTransform() LinearTransform { return LinearTransform{Scale: 1, Translate: 0} }

// IsIdentity reports whether the transform moves nothing.
func (t LinearTransform) IsIdentity() bool { return t.Scale == 1 && t.Translate == 0 }

// Apply maps a source-space Y coordinate into reference space.
func (t LinearTransform) Apply(y, center float64) float64 {
	return t.Scale*(y-center) + center + t.Translate
}

// Invert maps a reference-space Y coordinate back into source space.
func (t LinearTransform) Invert(y, center float64) float64 {
	return (y-center-t.Translate)/t.Scale + center
}

// DeformationField is a B-spline displacement field along the phase-encode
// axis only. The displacement varies with Y and is constant along X: this is
// the anti-overfitting constraint that keeps slice-wise unwarping from
// chasing noise. Control holds the cubic B-spline coefficients over
// Intervals knot intervals spanning [0, NY-1].
type DeformationField struct {
	NY        int
	Intervals int
	Control   []float64
}

// NewDeformationField returns a zero-displacement field with the given
// number of knot intervals (Intervals+3 cubic control points).
func NewDeformationField(ny, intervals int) *DeformationField {
	return &DeformationField{NY: ny, Intervals: intervals, Control: make([]float64, intervals+3)}
}

// IsZero reports whether the field displaces nothing.
func (f *DeformationField) IsZero() bool {
	if f == nil {
		return true
	}
	for _, c := range f.Control {
		if c != 0 {
			return false
		}
	}
	return true
}

// Zero resets every control point to zero displacement.
func (f *DeformationField) Zero() {
	for i := range f.Control {
		f.Control[i] = 0
	}
}

// Displacement evaluates the field at Y coordinate y (voxels).
func (f *DeformationField) Displacement(y float64) float64 {
	if f == nil || f.NY <= 1 {
		return 0
	}
	// Map y into knot-interval space [0, Intervals].
	u := y / float64(f.NY-1) * float64(f.Intervals)
	if u < 0 {
		u = 0
	}
	if u > float64(f.Intervals) {
		u = float64(f.Intervals)
	}
	i := int(math.Floor(u))
	if i >= f.Intervals {
		i = f.Intervals - 1
	}
	t := u - float64(i)
	// Uniform cubic B-spline basis over control points i..i+3.
	b0 := (1 - t) * (1 - t) * (1 - t) / 6
	b1 := (3*t*t*t - 6*t*t + 4) / 6
	b2 := (-3*t*t*t + 3*t*t + 3*t + 1) / 6
	b3 := t * t * t / 6
	return b0*f.Control[i] + b1*f.Control[i+1] + b2*f.Control[i+2] + b3*f.Control[i+3]
}

// Dense expands the field into a per-row displacement table of length NY.
func (f *DeformationField) Dense() []float64 {
	out := make([]float64, f.NY)
	for y := 0; y < f.NY; y++ {
		out[y] = f.Displacement(float64(y))
	}
	return out
}

// Clone returns a deep copy of the field, or nil for a nil field.
func (f *DeformationField) Clone() *DeformationField {
	if f == nil {
		return nil
	}
	out := NewDeformationField(f.NY, f.Intervals)
	copy(out.Control, f.Control)
	return out
}
