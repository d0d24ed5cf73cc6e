package domain

import "time"

// AnomalyDetector scores a normalized feature vector for outlierness.
//
// Score convention: the returned value is in (0, 1) where higher means
// more outlying. 0.5 is the indistinguishable-from-average boundary;
// clearly normal samples score well below it, isolated outliers well
// above. Implementations must be deterministic once fitted.
type AnomalyDetector interface {
	Score(vector []float64) float64
}

// UserModel is a trained behavioral baseline for one user.
//
// A UserModel is immutable once constructed: the normalizer parameters
// and the detector were fitted together from the same training batch and
// are never mutated in place. Retraining produces a new UserModel value
// which replaces the old one wholesale in the registry.
type UserModel struct {
	UserID string

	// Normalizer parameters, indexed by FeatureOrder.
	FeatureOrder []string
	Mean         []float64
	Scale        []float64

	// Fitted detector plus the contamination-calibrated raw-score
	// cutoff observed on the training batch.
	Detector AnomalyDetector
	Cutoff   float64

	TrainedAt   time.Time
	SampleCount int
}

// Verdict is the trust decision for one scored telemetry sample.
type Verdict struct {
	TrustScore  float64 `json:"trust_score"`
	RawScore    float64 `json:"raw_score"`
	IsAnomalous bool    `json:"is_anomalous"`

	// ModelAbsent marks verdicts produced by the no-baseline default
	// policy rather than a fitted model.
	ModelAbsent bool `json:"model_absent,omitempty"`
}

// ModelSnapshot is the persisted form of a UserModel. Params holds the
// JSON-encoded normalizer and detector parameters.
type ModelSnapshot struct {
	UserID      string    `json:"userId"`
	Params      []byte    `json:"params"`
	TrainedAt   time.Time `json:"trainedAt"`
	SampleCount int       `json:"sampleCount"`
}
