// Package detector provides unsupervised outlier detection for the
// behavioral trust engine.
//
// Detectors are fitted once on a normalized training matrix and then
// score individual vectors. The score convention across the package:
// scores lie in (0, 1), higher means more outlying, and 0.5 is the
// indistinguishable-from-average boundary.
package detector

// Detector is the capability contract between the trainer/scorer and a
// concrete statistical model. Alternative models can be substituted
// without touching trainer or scorer logic.
type Detector interface {
	// Fit trains the detector on a matrix where each row is a
	// normalized feature vector.
	Fit(matrix [][]float64) error

	// Score returns the anomaly score for one normalized vector.
	// Must be deterministic once fitted.
	Score(vector []float64) float64
}

// Config holds detector hyperparameters.
type Config struct {
	// Trees is the ensemble size.
	Trees int

	// SubsampleSize caps the per-tree sample count. Capped at the
	// training-set size during fit.
	SubsampleSize int

	// Seed makes fits reproducible.
	Seed int64

	// Contamination is the expected anomaly fraction in training data,
	// used to calibrate the reference cutoff after fitting.
	Contamination float64
}

// DefaultConfig mirrors the engine defaults.
func DefaultConfig() Config {
	return Config{
		Trees:         100,
		SubsampleSize: 256,
		Seed:          42,
		Contamination: 0.1,
	}
}
