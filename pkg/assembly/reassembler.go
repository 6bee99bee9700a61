// Package assembly merges aligned slices back into volumes and volumes
// into the output timeseries, with hierarchical sub-merges below the
// engine's per-operation volume limit, interpolation-ringing cleanup and
// geometry-header restoration from the pristine source.
package assembly

import (
	"fmt"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
)

// MergeLimit is the engine-imposed bound on volumes per merge operation.
// Larger collections are chunked and re-merged hierarchically.
const MergeLimit = 1000

// Reassembler rebuilds the output timeseries. The source geometry it is
// constructed with is treated as ground truth: every merge product has its
// geometry reset from it, correcting headers the engine is known to
// rewrite.
type Reassembler struct {
	Geom models.Geometry

	maxMergeInputs int // inputs to the largest single merge operation so far
}

// NewReassembler returns a reassembler restoring the given source geometry.
func NewReassembler(geom models.Geometry) *Reassembler {
	return &Reassembler{Geom: geom}
}

// AssembleVolume concatenates per-slice aligned outputs, ordered by slice
// index, into one volume with restored geometry.
func (r *Reassembler) AssembleVolume(slices []*models.Slice) (*models.Volume, error) {
	if len(slices) != r.Geom.NZ {
		return nil, fmt.Errorf("assembly: got %d slices, geometry needs %d", len(slices), r.Geom.NZ)
	}
	out := models.NewVolume(r.Geom)
	for z, s := range slices {
		if s.NX != r.Geom.NX || s.NY != r.Geom.NY {
			return nil, fmt.Errorf("assembly: slice %d is %dx%d, geometry needs %dx%d", z, s.NX, s.NY, r.Geom.NX, r.Geom.NY)
		}
		out.InsertSlice(z, s)
	}
	return out, nil
}

// AssembleFieldVolume expands per-slice deformation fields into a volume of
// per-voxel phase-encode displacements. Nil fields contribute zero
// displacement.
func (r *Reassembler) AssembleFieldVolume(fields []*models.DeformationField) (*models.Volume, error) {
	if len(fields) != r.Geom.NZ {
		return nil, fmt.Errorf("assembly: got %d fields, geometry needs %d", len(fields), r.Geom.NZ)
	}
	out := models.NewVolume(r.Geom)
	for z, f := range fields {
		if f == nil {
			continue
		}
		dense := f.Dense()
		for y := 0; y < r.Geom.NY; y++ {
			for x := 0; x < r.Geom.NX; x++ {
				out.Set(x, y, z, dense[y])
			}
		}
	}
	return out, nil
}

// MergeTimeseries concatenates volumes, ordered by volume index, into the
// output timeseries. Collections above MergeLimit are split into chunked
// sub-merges and re-merged hierarchically; each merge product gets its
// geometry reset from the source.
func (r *Reassembler) MergeTimeseries(vols []*models.Volume) (*models.Timeseries, error) {
	merged := r.mergeChunked(vols)
	for _, v := range merged {
		r.ResetGeometry(v)
	}
	return models.NewTimeseries(r.Geom, merged)
}

// mergeChunked splits oversized collections into chunks of at most
// MergeLimit volumes, reduces each chunk to one sub-product, and re-merges
// the sub-products, regrouping again if there are still too many. No single
// merge operation ever sees more than MergeLimit inputs.
func (r *Reassembler) mergeChunked(vols []*models.Volume) []*models.Volume {
	if len(vols) <= MergeLimit {
		return r.mergeOnce(vols)
	}
	var products [][]*models.Volume
	for start := 0; start < len(vols); start += MergeLimit {
		end := start + MergeLimit
		if end > len(vols) {
			end = len(vols)
		}
		products = append(products, r.mergeOnce(vols[start:end]))
	}
	for len(products) > MergeLimit {
		var regrouped [][]*models.Volume
		for start := 0; start < len(products); start += MergeLimit {
			end := start + MergeLimit
			if end > len(products) {
				end = len(products)
			}
			regrouped = append(regrouped, r.mergeProducts(products[start:end]))
		}
		products = regrouped
	}
	return r.mergeProducts(products)
}

// mergeOnce is one engine-level merge operation over raw volumes. Order is
// preserved; the geometry of every product is reset afterwards by the
// caller.
func (r *Reassembler) mergeOnce(vols []*models.Volume) []*models.Volume {
	r.recordMerge(len(vols))
	out := make([]*models.Volume, len(vols))
	copy(out, vols)
	return out
}

// mergeProducts is one merge operation whose inputs are sub-products of
// earlier merges. Each sub-product counts as a single input regardless of
// how many volumes it carries.
func (r *Reassembler) mergeProducts(products [][]*models.Volume) []*models.Volume {
	r.recordMerge(len(products))
	var out []*models.Volume
	for _, p := range products {
		out = append(out, p...)
	}
	return out
}

func (r *Reassembler) recordMerge(n int) {
	if n > r.maxMergeInputs {
		r.maxMergeInputs = n
	}
}

// ResetGeometry restores the pristine source geometry on a volume,
// correcting headers rewritten by engine calls. Applied proactively after
// every such call rather than detected reactively.
func (r *Reassembler) ResetGeometry(v *models.Volume) {
	v.Geom = r.Geom
}

// ClampRinging clears the low-magnitude ringing smooth interpolation
// leaves around the background: voxels below half the source timeseries
// minimum are reset to zero.
func (r *Reassembler) ClampRinging(ts *models.Timeseries, sourceMin float64) {
	floor := sourceMin / 2
	for _, v := range ts.Volumes {
		for i, val := range v.Data {
			if val < floor {
				v.Data[i] = 0
			}
		}
	}
}
