// Package worker provides async telemetry processing off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-auth/kestrel/internal/domain"
	"github.com/opensource-auth/kestrel/internal/engine"
	"github.com/opensource-auth/kestrel/internal/policy"
	"github.com/opensource-auth/kestrel/internal/session"
)

// Worker consumes telemetry events and runs each through the scoring
// pipeline: trust verdict, guard rules, session orchestration, audit
// log, verdict publication.
type Worker struct {
	bus          domain.EventBus
	repo         domain.Repository
	engine       *engine.Engine
	policies     *policy.Engine
	orchestrator *session.Orchestrator

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates an async telemetry worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, eng *engine.Engine, policies *policy.Engine, orchestrator *session.Orchestrator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:          bus,
		repo:         repo,
		engine:       eng,
		policies:     policies,
		orchestrator: orchestrator,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start subscribes to the telemetry topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTelemetryReceived, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("telemetry worker started",
		"topic", domain.TopicTelemetryReceived,
	)
	return nil
}

// TelemetryMessage is the payload published on TopicTelemetryReceived.
type TelemetryMessage struct {
	UserID    string                 `json:"userId"`
	SessionID string                 `json:"sessionId,omitempty"`
	TraceID   string                 `json:"traceId,omitempty"`
	Sample    domain.TelemetrySample `json:"sample"`
}

// VerdictMessage is the payload published on TopicVerdict after a
// sample has been scored.
type VerdictMessage struct {
	UserID     string                `json:"userId"`
	SessionID  string                `json:"sessionId,omitempty"`
	TraceID    string                `json:"traceId,omitempty"`
	Verdict    domain.Verdict        `json:"verdict"`
	Fired      []domain.PolicyResult `json:"firedRules,omitempty"`
	Terminated bool                  `json:"terminated"`
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var tm TelemetryMessage
	if err := json.Unmarshal(msg.Payload, &tm); err != nil {
		slog.Error("failed to parse telemetry message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if tm.UserID == "" {
		slog.Warn("telemetry message without user id dropped",
			"message_id", msg.ID,
		)
		return nil
	}

	traceID := tm.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	_, err := w.Process(ctx, &tm, traceID)
	return err
}

// Process runs one telemetry sample through the full pipeline and
// returns the resulting verdict message. Callers on the synchronous
// path (HTTP handlers) use Process directly; the bus subscription goes
// through handleMessage.
func (w *Worker) Process(ctx context.Context, tm *TelemetryMessage, traceID string) (*VerdictMessage, error) {
	start := time.Now()

	verdict := w.engine.Score(ctx, tm.UserID, tm.Sample)

	var fired []domain.PolicyResult
	if w.policies != nil && w.policies.RulesCount() > 0 {
		results := w.policies.EvaluateAll(ctx, verdict, tm.Sample)
		fired = policy.Triggered(results)
	}

	terminated := false
	sessionID := tm.SessionID
	if w.orchestrator != nil {
		if sess, err := w.repo.GetActiveSession(ctx, tm.UserID); err == nil {
			sessionID = sess.ID
			terminated, err = w.orchestrator.HandleVerdict(ctx, sess, verdict, tm.Sample, fired)
			if err != nil {
				slog.Error("session orchestration failed",
					"user_id", tm.UserID,
					"session_id", sess.ID,
					"trace_id", traceID,
					"error", err,
				)
			}
		}
	}

	w.logBehavior(ctx, tm, sessionID, verdict)

	vm := &VerdictMessage{
		UserID:     tm.UserID,
		SessionID:  sessionID,
		TraceID:    traceID,
		Verdict:    verdict,
		Fired:      fired,
		Terminated: terminated,
	}

	if w.bus != nil {
		payload, _ := json.Marshal(vm)
		if err := w.bus.Publish(ctx, domain.TopicVerdict, payload); err != nil {
			slog.Error("failed to publish verdict",
				"user_id", tm.UserID,
				"trace_id", traceID,
				"error", err,
			)
		}
	}

	slog.Info("telemetry processed",
		"user_id", tm.UserID,
		"trace_id", traceID,
		"trust_score", verdict.TrustScore,
		"is_anomalous", verdict.IsAnomalous,
		"terminated", terminated,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return vm, nil
}

func (w *Worker) logBehavior(ctx context.Context, tm *TelemetryMessage, sessionID string, verdict domain.Verdict) {
	if w.repo == nil {
		return
	}

	log := &domain.BehaviorLog{
		ID:          uuid.New().String(),
		UserID:      tm.UserID,
		SessionID:   sessionID,
		Timestamp:   time.Now().UTC(),
		TrustScore:  verdict.TrustScore,
		RawScore:    verdict.RawScore,
		IsAnomalous: verdict.IsAnomalous,
		Payload:     tm.Sample.JSON(),
	}

	if err := w.repo.SaveBehaviorLog(ctx, log); err != nil {
		slog.Error("failed to save behavior log",
			"user_id", tm.UserID,
			"error", err,
		)
	}
}

// Stats holds worker runtime statistics.
type Stats struct {
	SubscriptionCount int
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	return Stats{SubscriptionCount: len(w.subscriptions)}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("telemetry worker stopped")
	return nil
}
