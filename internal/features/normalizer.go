package features

import (
	"fmt"
	"math"
)

// Normalizer is a per-feature z-score transform (mean and scale fitted
// on a training matrix). A fitted Normalizer is immutable; Transform is
// safe for concurrent use.
type Normalizer struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitNormalizer computes per-feature mean and standard deviation over
// the rows of matrix. Features with zero variance get scale 1 so the
// transform stays defined for constant columns.
func FitNormalizer(matrix [][]float64) (*Normalizer, error) {
	if len(matrix) == 0 {
		return nil, fmt.Errorf("cannot fit normalizer on empty matrix")
	}

	dims := len(matrix[0])
	mean := make([]float64, dims)
	scale := make([]float64, dims)

	for _, row := range matrix {
		if len(row) != dims {
			return nil, fmt.Errorf("ragged matrix: expected %d features, got %d", dims, len(row))
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(matrix))
	for j := range mean {
		mean[j] /= n
	}

	for _, row := range matrix {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] < 1e-12 {
			scale[j] = 1
		}
	}

	return &Normalizer{Mean: mean, Scale: scale}, nil
}

// Transform z-scores a single vector.
func (nz *Normalizer) Transform(vec []float64) []float64 {
	out := make([]float64, len(vec))
	for j, v := range vec {
		out[j] = (v - nz.Mean[j]) / nz.Scale[j]
	}
	return out
}

// TransformMatrix z-scores every row of a matrix.
func (nz *Normalizer) TransformMatrix(matrix [][]float64) [][]float64 {
	out := make([][]float64, len(matrix))
	for i, row := range matrix {
		out[i] = nz.Transform(row)
	}
	return out
}
