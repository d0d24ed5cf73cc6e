package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-auth/kestrel/internal/detector"
	"github.com/opensource-auth/kestrel/internal/domain"
	"github.com/opensource-auth/kestrel/internal/features"
)

// Trainer fits a normalizer and an anomaly detector from a user's
// historical behavior batch, producing a new immutable UserModel.
type Trainer struct {
	cfg domain.EngineConfig
}

// NewTrainer creates a trainer with the given hyperparameters.
func NewTrainer(cfg domain.EngineConfig) *Trainer {
	return &Trainer{cfg: cfg}
}

// Train fits a model from historical samples. Unusable rows are dropped,
// not fatal. A cancelled context aborts between fit phases so a
// cancelled training never produces a publishable model. Train has no
// side effects: publication is the engine's job.
func (t *Trainer) Train(ctx context.Context, userID string, samples []domain.TelemetrySample) (*domain.UserModel, error) {
	matrix := features.ExtractBatch(samples)
	if len(matrix) == 0 {
		return nil, ErrEmptyDataset
	}
	if len(matrix) < t.cfg.MinTrainingSamples {
		return nil, fmt.Errorf("%w: got %d usable rows, need %d",
			ErrInsufficientData, len(matrix), t.cfg.MinTrainingSamples)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalizer, err := features.FitNormalizer(matrix)
	if err != nil {
		return nil, fmt.Errorf("failed to fit normalizer: %w", err)
	}
	normalized := normalizer.TransformMatrix(matrix)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Normalizer and detector are fitted from the same batch; the
	// resulting model is internally consistent by construction.
	forest := detector.NewForest(detector.Config{
		Trees:         t.cfg.Trees,
		SubsampleSize: t.cfg.SubsampleSize,
		Seed:          t.cfg.RandomSeed,
		Contamination: t.cfg.Contamination,
	})
	if err := forest.Fit(normalized); err != nil {
		return nil, fmt.Errorf("failed to fit detector: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &domain.UserModel{
		UserID:       userID,
		FeatureOrder: domain.FeatureOrder(),
		Mean:         normalizer.Mean,
		Scale:        normalizer.Scale,
		Detector:     forest,
		Cutoff:       forest.Cutoff,
		TrainedAt:    time.Now().UTC(),
		SampleCount:  len(matrix),
	}, nil
}
