// Package domain defines the core interfaces and types for Kestrel.
package domain

import "encoding/json"

// Canonical behavioral feature names. The order of FeatureOrder is the
// wire contract between the extractor, the trainer and the scorer.
const (
	FeatureKeystrokeSpeed   = "keystroke_speed"
	FeatureMouseSpeed       = "mouse_speed"
	FeatureIdleTime         = "idle_time"
	FeatureCursorPathLength = "cursor_path_length"
)

// FeatureCount is the dimensionality of a behavioral feature vector.
const FeatureCount = 4

// FeatureOrder returns the canonical feature order for behavioral vectors.
func FeatureOrder() []string {
	return []string{
		FeatureKeystrokeSpeed,
		FeatureMouseSpeed,
		FeatureIdleTime,
		FeatureCursorPathLength,
	}
}

// TelemetrySample is one raw telemetry record as received from a client.
// Only the canonical feature fields are consumed by the trust engine;
// additional fields (location, timestamp, ...) ride along for alert and
// audit payloads.
type TelemetrySample map[string]any

// Location returns the free-form location field, if the client sent one.
func (s TelemetrySample) Location() string {
	if v, ok := s["location"].(string); ok {
		return v
	}
	return ""
}

// JSON serializes the sample for alert and behavior-log payloads.
func (s TelemetrySample) JSON() []byte {
	b, err := json.Marshal(s)
	if err != nil {
		return []byte("{}")
	}
	return b
}
