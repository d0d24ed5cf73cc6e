package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyDataset is returned when a training batch yields zero
	// usable rows after extraction.
	ErrEmptyDataset = errors.New("training dataset is empty")

	// ErrInsufficientData is returned when a training batch is smaller
	// than the configured minimum. A detector fitted on too few points
	// is not meaningful.
	ErrInsufficientData = errors.New("training dataset below minimum sample count")

	// ErrTrainingInProgress is returned when a Train call races an
	// in-flight training for the same user.
	ErrTrainingInProgress = errors.New("training already in progress for user")

	// ErrNoModel is returned when an operation targets a user without a
	// published baseline.
	ErrNoModel = errors.New("no trained baseline for user")
)

// ScoringError wraps a fault recovered during model scoring. The engine
// converts these to the no-baseline default verdict instead of letting a
// scoring fault destabilize the session layer.
type ScoringError struct {
	UserID string
	Cause  error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring failed for user %s: %v", e.UserID, e.Cause)
}

func (e *ScoringError) Unwrap() error {
	return e.Cause
}
