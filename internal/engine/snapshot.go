package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-auth/kestrel/internal/detector"
	"github.com/opensource-auth/kestrel/internal/domain"
)

// snapshotParams is the JSON layout of a persisted model.
type snapshotParams struct {
	FeatureOrder []string         `json:"featureOrder"`
	Mean         []float64        `json:"mean"`
	Scale        []float64        `json:"scale"`
	Forest       *detector.Forest `json:"forest"`
	Cutoff       float64          `json:"cutoff"`
}

// snapshot persists the model parameters so baselines survive restarts.
func (e *Engine) snapshot(ctx context.Context, model *domain.UserModel) error {
	forest, ok := model.Detector.(*detector.Forest)
	if !ok {
		return fmt.Errorf("detector type %T is not snapshotable", model.Detector)
	}

	params, err := json.Marshal(snapshotParams{
		FeatureOrder: model.FeatureOrder,
		Mean:         model.Mean,
		Scale:        model.Scale,
		Forest:       forest,
		Cutoff:       model.Cutoff,
	})
	if err != nil {
		return fmt.Errorf("failed to encode model params: %w", err)
	}

	return e.repo.SaveModelSnapshot(ctx, &domain.ModelSnapshot{
		UserID:      model.UserID,
		Params:      params,
		TrainedAt:   model.TrainedAt,
		SampleCount: model.SampleCount,
	})
}

// Hydrate loads persisted model snapshots into the registry. Called once
// at startup; corrupt snapshots are skipped with a warning rather than
// failing the boot.
func (e *Engine) Hydrate(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}

	snaps, err := e.repo.ListModelSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("failed to list model snapshots: %w", err)
	}

	loaded := 0
	for _, snap := range snaps {
		model, err := decodeSnapshot(snap)
		if err != nil {
			slog.Warn("skipping corrupt model snapshot",
				"user_id", snap.UserID,
				"error", err,
			)
			continue
		}
		e.registry.Publish(model)
		loaded++
	}

	if loaded > 0 {
		slog.Info("hydrated baseline models", "count", loaded)
	}
	return nil
}

func decodeSnapshot(snap *domain.ModelSnapshot) (*domain.UserModel, error) {
	var params snapshotParams
	if err := json.Unmarshal(snap.Params, &params); err != nil {
		return nil, fmt.Errorf("failed to decode model params: %w", err)
	}
	if params.Forest == nil || len(params.Forest.Trees) == 0 {
		return nil, fmt.Errorf("snapshot has no fitted detector")
	}
	if len(params.Mean) != len(params.Scale) || len(params.Mean) != len(params.FeatureOrder) {
		return nil, fmt.Errorf("snapshot normalizer dimensions are inconsistent")
	}

	return &domain.UserModel{
		UserID:       snap.UserID,
		FeatureOrder: params.FeatureOrder,
		Mean:         params.Mean,
		Scale:        params.Scale,
		Detector:     params.Forest,
		Cutoff:       params.Cutoff,
		TrainedAt:    snap.TrainedAt,
		SampleCount:  snap.SampleCount,
	}, nil
}
