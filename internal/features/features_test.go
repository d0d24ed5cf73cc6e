package features

import (
	"encoding/json"
	"testing"

	"github.com/opensource-auth/kestrel/internal/domain"
)

func TestExtractCanonicalOrder(t *testing.T) {
	sample := domain.TelemetrySample{
		"keystroke_speed":    5.5,
		"mouse_speed":        120.0,
		"idle_time":          3.0,
		"cursor_path_length": 840.0,
	}

	vec := Extract(sample)
	if len(vec) != domain.FeatureCount {
		t.Fatalf("expected %d features, got %d", domain.FeatureCount, len(vec))
	}

	want := []float64{5.5, 120.0, 3.0, 840.0}
	for i, v := range want {
		if vec[i] != v {
			t.Errorf("feature %d: expected %v, got %v", i, v, vec[i])
		}
	}
}

func TestExtractMissingFieldsDefaultToZero(t *testing.T) {
	sample := domain.TelemetrySample{
		"keystroke_speed": 4.2,
	}

	vec := Extract(sample)
	if vec[0] != 4.2 {
		t.Errorf("expected keystroke_speed 4.2, got %v", vec[0])
	}
	for i := 1; i < len(vec); i++ {
		if vec[i] != 0 {
			t.Errorf("feature %d: expected 0 for missing field, got %v", i, vec[i])
		}
	}
}

func TestExtractCoercesNonNumeric(t *testing.T) {
	sample := domain.TelemetrySample{
		"keystroke_speed":    "fast",
		"mouse_speed":        nil,
		"idle_time":          map[string]any{"nested": true},
		"cursor_path_length": true,
	}

	for i, v := range Extract(sample) {
		if v != 0 {
			t.Errorf("feature %d: expected non-numeric coerced to 0, got %v", i, v)
		}
	}
}

func TestExtractIgnoresExtraFields(t *testing.T) {
	sample := domain.TelemetrySample{
		"keystroke_speed": 1.0,
		"location":        "Berlin, DE",
		"timestamp":       "2025-11-02T10:00:00Z",
	}

	vec := Extract(sample)
	if vec[0] != 1.0 {
		t.Errorf("expected 1.0, got %v", vec[0])
	}
}

func TestExtractHandlesJSONNumbers(t *testing.T) {
	// json.Decoder with UseNumber produces json.Number values.
	sample := domain.TelemetrySample{
		"keystroke_speed": json.Number("7.25"),
		"mouse_speed":     json.Number("not-a-number"),
		"idle_time":       int64(9),
	}

	vec := Extract(sample)
	if vec[0] != 7.25 {
		t.Errorf("expected 7.25, got %v", vec[0])
	}
	if vec[1] != 0 {
		t.Errorf("expected malformed json.Number coerced to 0, got %v", vec[1])
	}
	if vec[2] != 9 {
		t.Errorf("expected 9, got %v", vec[2])
	}
}

func TestExtractBatchDropsNilSamples(t *testing.T) {
	samples := []domain.TelemetrySample{
		{"keystroke_speed": 1.0},
		nil,
		{"keystroke_speed": 2.0},
	}

	matrix := ExtractBatch(samples)
	if len(matrix) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(matrix))
	}
	if matrix[0][0] != 1.0 || matrix[1][0] != 2.0 {
		t.Errorf("unexpected batch rows: %v", matrix)
	}
}
