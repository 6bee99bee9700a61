package report

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/charbiso/NHP-fMRI-analysis/internal/models"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/metrics"
	"github.com/charbiso/NHP-fMRI-analysis/pkg/voxel"
)

// StageAssessment is the outcome of one volume-quality stage: per-volume
// scores, the good/bad index partition and the mean image of the good set.
type StageAssessment struct {
	Scores []float64
	Good   []int
	Bad    []int
	Mean   *models.Volume
}

// Assessment bundles both stages of the post-reassembly quality check.
type Assessment struct {
	Stage1 *StageAssessment
	Stage2 *StageAssessment
}

// Reporter runs the two-stage volume quality assessment, independent of
// the per-slice logic.
type Reporter struct {
	// Detrend enables the second stage's linear detrending before the
	// similarity ranking.
	Detrend bool
}

// Assess ranks the reassembled volumes. Stage 1 scores each volume against
// its neighbor-slice-averaged proxy; stage 2 optionally detrends the
// timeseries and scores each volume against the detrended mean. Both flag
// outliers beyond meanBest + 3 sigma computed over the better-scoring half.
func (r *Reporter) Assess(ts *models.Timeseries) (*Assessment, error) {
	if ts.Len() == 0 {
		return nil, fmt.Errorf("report: empty timeseries")
	}

	s1 := make([]float64, ts.Len())
	for i, v := range ts.Volumes {
		proxy := voxel.SmoothAlongZ(v, 1)
		s1[i] = metrics.Similarity(v.Data, proxy.Data, nil)
	}
	stage1 := classify(ts, s1)

	vols := ts.Volumes
	if r.Detrend {
		vols = detrend(ts)
	}
	mean := meanVolume(vols)
	s2 := make([]float64, len(vols))
	for i, v := range vols {
		s2[i] = metrics.Similarity(v.Data, mean.Data, nil)
	}
	stage2 := classify(ts, s2)

	return &Assessment{Stage1: stage1, Stage2: stage2}, nil
}

// classify applies the outlier rule and builds the good-set mean.
func classify(ts *models.Timeseries, scores []float64) *StageAssessment {
	out := &StageAssessment{Scores: scores}

	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	half := sorted[:(len(sorted)+1)/2]
	meanBest := stat.Mean(half, nil)
	sigma := math.Sqrt(stat.Variance(half, nil))
	if math.IsNaN(sigma) {
		sigma = 0
	}
	cutoff := meanBest + 3*sigma

	for i, s := range scores {
		if s > cutoff {
			out.Bad = append(out.Bad, i)
		} else {
			out.Good = append(out.Good, i)
		}
	}
	if len(out.Good) == 0 {
		// Degenerate spread: keep everything rather than nothing.
		out.Good = make([]int, len(scores))
		for i := range scores {
			out.Good[i] = i
		}
		out.Bad = nil
	}

	acc := models.NewVolume(ts.Geom)
	for _, idx := range out.Good {
		for i, v := range ts.Volumes[idx].Data {
			acc.Data[i] += v
		}
	}
	n := float64(len(out.Good))
	for i := range acc.Data {
		acc.Data[i] /= n
	}
	out.Mean = acc
	return out
}

// detrend removes the per-voxel linear trend across time, keeping the mean
// level.
func detrend(ts *models.Timeseries) []*models.Volume {
	n := ts.Len()
	out := make([]*models.Volume, n)
	for i := range out {
		out[i] = models.NewVolume(ts.Geom)
	}
	t := make([]float64, n)
	for i := range t {
		t[i] = float64(i)
	}
	series := make([]float64, n)
	for vox := 0; vox < ts.Geom.VoxelCount(); vox++ {
		for i := 0; i < n; i++ {
			series[i] = ts.Volumes[i].Data[vox]
		}
		alpha, beta := stat.LinearRegression(t, series, nil, false)
		mean := stat.Mean(series, nil)
		for i := 0; i < n; i++ {
			out[i].Data[vox] = series[i] - (alpha + beta*t[i]) + mean
		}
	}
	return out
}

func meanVolume(vols []*models.Volume) *models.Volume {
	acc := models.NewVolume(vols[0].Geom)
	for _, v := range vols {
		for i, val := range v.Data {
			acc.Data[i] += val
		}
	}
	n := float64(len(vols))
	for i := range acc.Data {
		acc.Data[i] /= n
	}
	return acc
}
