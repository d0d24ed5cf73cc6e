// Package features maps raw telemetry onto fixed-order numeric vectors
// and provides the per-feature normalizer fitted alongside the detector.
package features

import (
	"encoding/json"

	"github.com/opensource-auth/kestrel/internal/domain"
)

// Extract maps a telemetry sample to the canonical 4-dimensional feature
// vector {keystroke_speed, mouse_speed, idle_time, cursor_path_length}.
// Missing or non-numeric fields coerce to 0. Extract is total: it never
// fails, and extra fields in the sample are ignored.
func Extract(sample domain.TelemetrySample) []float64 {
	order := domain.FeatureOrder()
	vec := make([]float64, len(order))
	for i, name := range order {
		vec[i] = toFloat(sample[name])
	}
	return vec
}

// ExtractBatch maps a training batch to a feature matrix, dropping nil
// samples. Rows for non-nil samples always extract (coercion, not
// failure), so the row count equals the non-nil sample count.
func ExtractBatch(samples []domain.TelemetrySample) [][]float64 {
	matrix := make([][]float64, 0, len(samples))
	for _, s := range samples {
		if s == nil {
			continue
		}
		matrix = append(matrix, Extract(s))
	}
	return matrix
}

// toFloat coerces JSON-decoded values to float64, defaulting to 0.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
