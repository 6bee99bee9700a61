// Package metrics implements the masked similarity score used throughout
// the pipeline: the normalized negative correlation between two
// same-geometry images restricted to a mask. Scores live in [-1, 0] with
// more negative meaning a better match, so score comparisons read the same
// way as cost comparisons.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Similarity returns the normalized negative correlation of a and b over
// the set voxels of mask. A nil mask scores the whole grid. Degenerate
// inputs (fewer than two voxels, zero variance) score 0, the worst value,
// so an empty or flat comparison can never pass an acceptance gate.
func Similarity(a, b []float64, mask []bool) float64 {
	if len(a) != len(b) {
		return 0
	}
	var xs, ys []float64
	if mask == nil {
		xs, ys = a, b
	} else {
		for i, m := range mask {
			if m {
				xs = append(xs, a[i])
				ys = append(ys, b[i])
			}
		}
	}
	if len(xs) < 2 {
		return 0
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) || r <= 0 {
		return 0
	}
	if r > 1 {
		r = 1
	}
	return -r
}

// Better reports whether score a is strictly better (more negative) than b.
// Ties are not better: the caller keeps the simpler result on a tie.
func Better(a, b float64) bool { return a < b }
