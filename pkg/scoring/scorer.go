// Package scoring ranks timeseries volumes by a similarity-based quality
// metric and selects the subsets the reference is built from.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/metrics"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/voxel"
)

// VolumeScore pairs a volume index with its quality score. More negative
// scores indicate higher quality.
type VolumeScore struct {
	Index int
	Score float64
}

// Result holds the outcome of volume scoring: all volumes ranked by
// slice-consistency score, the liberal (top-liberalFrac) selection, and the
// strict selection by combined score.
type Result struct {
	// Ranked lists every volume ordered best (most negative) first by the
	// slice-consistency score.
	Ranked []VolumeScore

	// Liberal holds the indices of the liberal selection, best first.
	Liberal []int

	// Strict holds the indices of the strict selection, best first.
	Strict []int

	// Combined holds the combined scores of the liberal selection, indexed
	// by volume index.
	Combined map[int]float64

	// QualityWarning is set when fewer than 5 volumes were available.
	QualityWarning bool
}

// Scorer ranks volumes for reference construction.
type Scorer struct {
	// LiberalFrac is the fraction of all volumes kept by the first pass.
	LiberalFrac float64

	// StrictFrac is the fraction of the liberal selection kept after the
	// combined-score pass.
	StrictFrac float64
}

// NewScorer returns a scorer with the given selection fractions.
func NewScorer(liberalFrac, strictFrac float64) *Scorer {
	return &Scorer{LiberalFrac: liberalFrac, StrictFrac: strictFrac}
}

// SelectionCount rounds frac*n to the nearest integer with a floor of 1.
func SelectionCount(frac float64, n int) int {
	c := int(math.Round(frac * float64(n)))
	if c < 1 {
		c = 1
	}
	if c > n {
		c = n
	}
	return c
}

// Score ranks the timeseries volumes. The first pass compares each volume
// with its neighbor-slice-averaged proxy: a volume whose slices agree with
// their Z-neighbors scores more negative. The liberal selection is then
// re-scored against its own temporary average (inter-volume consistency),
// the two scores combine 2:1, and the best half of the liberal selection
// becomes the strict set.
func (s *Scorer) Score(ts *models.Timeseries) (*Result, error) {
	nVol := ts.Len()
	if nVol == 0 {
		return nil, fmt.Errorf("scoring: empty timeseries")
	}

	res := &Result{Combined: make(map[int]float64)}
	if nVol < 5 {
		res.QualityWarning = true
	}

	// Pass 1: slice-consistency score for every volume.
	sliceScore := make([]float64, nVol)
	for i, v := range ts.Volumes {
		proxy := voxel.SmoothAlongZ(v, 1)
		sliceScore[i] = metrics.Similarity(v.Data, proxy.Data, nil)
		res.Ranked = append(res.Ranked, VolumeScore{Index: i, Score: sliceScore[i]})
	}
	sort.SliceStable(res.Ranked, func(a, b int) bool { return res.Ranked[a].Score < res.Ranked[b].Score })

	liberalN := SelectionCount(s.LiberalFrac, nVol)
	for _, vs := range res.Ranked[:liberalN] {
		res.Liberal = append(res.Liberal, vs.Index)
	}

	// Pass 2: inter-volume consistency against the liberal average.
	avg := AverageVolumes(ts.Volumes, res.Liberal)
	type combined struct {
		index int
		score float64
	}
	var combinedScores []combined
	for _, idx := range res.Liberal {
		volScore := metrics.Similarity(ts.Volumes[idx].Data, avg.Data, nil)
		c := (2*sliceScore[idx] + volScore) / 3
		res.Combined[idx] = c
		combinedScores = append(combinedScores, combined{index: idx, score: c})
	}
	sort.SliceStable(combinedScores, func(a, b int) bool { return combinedScores[a].score < combinedScores[b].score })

	strictN := SelectionCount(s.StrictFrac, liberalN)
	for _, c := range combinedScores[:strictN] {
		res.Strict = append(res.Strict, c.index)
	}

	return res, nil
}

// AverageVolumes returns the voxel-wise mean of the selected volumes.
func AverageVolumes(vols []*models.Volume, indices []int) *models.Volume {
	out := models.NewVolume(vols[indices[0]].Geom)
	for _, idx := range indices {
		for i, v := range vols[idx].Data {
			out.Data[i] += v
		}
	}
	n := float64(len(indices))
	for i := range out.Data {
		out.Data[i] /= n
	}
	return out
}
