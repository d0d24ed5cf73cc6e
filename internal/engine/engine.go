// Package engine implements the behavioral trust engine: per-user
// baseline training, anomaly scoring and threshold-based trust
// decisioning over behavioral telemetry.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-auth/kestrel/internal/domain"
)

// Engine exposes the two trust operations, Train and Score, wiring the
// registry, trainer and scorer together. Repository and bus are
// optional collaborators: when present, trained models are snapshotted
// for restart survival and training events are published.
type Engine struct {
	cfg      domain.EngineConfig
	registry *Registry
	trainer  *Trainer
	scorer   *Scorer
	repo     domain.Repository
	bus      domain.EventBus
}

// New creates a trust engine around an injected registry. repo and bus
// may be nil.
func New(cfg domain.EngineConfig, registry *Registry, repo domain.Repository, bus domain.EventBus) *Engine {
	return &Engine{
		cfg:      cfg,
		registry: registry,
		trainer:  NewTrainer(cfg),
		scorer:   NewScorer(cfg),
		repo:     repo,
		bus:      bus,
	}
}

// Registry exposes the injected registry, mainly for tests and stats.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Train fits a new baseline for userID from historical samples and
// atomically publishes it. On any failure the prior model, if one
// exists, remains active and usable. Trainings for the same user are
// serialized; a concurrent call fails with ErrTrainingInProgress.
func (e *Engine) Train(ctx context.Context, userID string, samples []domain.TelemetrySample) (*domain.UserModel, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID is required")
	}

	if err := e.registry.beginTraining(userID); err != nil {
		return nil, err
	}
	defer e.registry.endTraining(userID)

	model, err := e.trainer.Train(ctx, userID, samples)
	if err != nil {
		return nil, err
	}

	// A cancelled training never publishes.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.registry.Publish(model)

	if e.repo != nil {
		if err := e.snapshot(ctx, model); err != nil {
			slog.Warn("failed to persist model snapshot",
				"user_id", userID,
				"error", err,
			)
		}
	}

	if e.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"userId":      userID,
			"trainedAt":   model.TrainedAt,
			"sampleCount": model.SampleCount,
		})
		if err := e.bus.Publish(ctx, domain.TopicModelTrained, payload); err != nil {
			slog.Warn("failed to publish model trained event",
				"user_id", userID,
				"error", err,
			)
		}
	}

	slog.Info("baseline model trained",
		"user_id", userID,
		"sample_count", model.SampleCount,
		"cutoff", model.Cutoff,
	)

	return model, nil
}

// Score evaluates one telemetry sample for userID and returns the trust
// verdict. Unknown users get the default policy verdict; scoring faults
// are logged and degrade to the same default rather than propagating.
// Score has no side effects beyond the verdict.
func (e *Engine) Score(ctx context.Context, userID string, sample domain.TelemetrySample) domain.Verdict {
	model, ok := e.registry.Lookup(userID)
	if !ok {
		return e.scorer.DefaultVerdict()
	}

	verdict, err := e.scorer.Score(model, sample)
	if err != nil {
		slog.Error("scoring fault, falling back to default verdict",
			"user_id", userID,
			"error", err,
		)
		return e.scorer.DefaultVerdict()
	}
	return verdict
}

// Threshold returns the configured trust threshold.
func (e *Engine) Threshold() float64 {
	return e.cfg.TrustThreshold
}

// DropModel discards a user's published baseline and its persisted
// snapshot. Scoring for the user falls back to the default policy
// verdict until a new baseline is trained.
func (e *Engine) DropModel(ctx context.Context, userID string) error {
	if _, ok := e.registry.Lookup(userID); !ok {
		return ErrNoModel
	}
	e.registry.Remove(userID)

	if e.repo != nil {
		if err := e.repo.DeleteModelSnapshot(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete model snapshot: %w", err)
		}
	}

	slog.Info("baseline model dropped", "user_id", userID)
	return nil
}
