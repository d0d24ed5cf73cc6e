// Package session manages the lifecycle of authenticated sessions:
// creation at login, activity tracking on every scored event, forced
// termination on anomalies and the idle-timeout sweep.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-auth/kestrel/internal/domain"
	"github.com/opensource-auth/kestrel/internal/repository"
)

// Orchestrator applies trust verdicts and guard-rule outcomes to
// session state.
type Orchestrator struct {
	repo     domain.Repository
	bus      domain.EventBus
	notifier Notifier
	timeout  time.Duration
}

// NewOrchestrator creates a session orchestrator. The bus and notifier
// may be nil; alert persistence and session state changes never depend
// on them.
func NewOrchestrator(repo domain.Repository, bus domain.EventBus, notifier Notifier, idleTimeout time.Duration) *Orchestrator {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}
	return &Orchestrator{
		repo:     repo,
		bus:      bus,
		notifier: notifier,
		timeout:  idleTimeout,
	}
}

// Open starts a new session for a user, closing any session still
// active. A login always yields a fresh session. sessionID may be empty,
// in which case one is generated; callers that sign the session ID into
// the token pass it explicitly.
func (o *Orchestrator) Open(ctx context.Context, userID, sessionID, token string) (*domain.Session, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	if prior, err := o.repo.GetActiveSession(ctx, userID); err == nil {
		if termErr := o.repo.TerminateSession(ctx, prior.ID); termErr != nil && !errors.Is(termErr, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to close prior session: %w", termErr)
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	session := &domain.Session{
		ID:           sessionID,
		UserID:       userID,
		Token:        token,
		Status:       domain.SessionActive,
		CreatedAt:    now,
		LastActivity: now,
	}

	if err := o.repo.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// HandleVerdict applies one scored telemetry event to a session. On
// normal behavior the session's activity clock advances; an anomalous
// verdict or a fired guard rule terminates the session and raises an
// alert. Returns whether the session was terminated.
func (o *Orchestrator) HandleVerdict(ctx context.Context, session *domain.Session, verdict domain.Verdict, sample domain.TelemetrySample, fired []domain.PolicyResult) (bool, error) {
	if session == nil {
		return false, fmt.Errorf("session is required")
	}

	if err := o.repo.UpdateUserTrustScore(ctx, session.UserID, verdict.TrustScore); err != nil {
		slog.Warn("failed to record trust score",
			"user_id", session.UserID,
			"error", err,
		)
	}

	if !verdict.IsAnomalous && len(fired) == 0 {
		if err := o.repo.TouchSession(ctx, session.ID, time.Now().UTC()); err != nil {
			return false, fmt.Errorf("failed to touch session: %w", err)
		}
		return false, nil
	}

	reason := terminationReason(verdict, fired)
	if err := o.Terminate(ctx, session, reason, verdict, sample); err != nil {
		return false, err
	}
	return true, nil
}

// Terminate closes a session and records the alert. Termination is
// absorbing: a session already terminated by a concurrent path is not
// an error.
func (o *Orchestrator) Terminate(ctx context.Context, session *domain.Session, reason string, verdict domain.Verdict, sample domain.TelemetrySample) error {
	err := o.repo.TerminateSession(ctx, session.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to terminate session: %w", err)
	}
	alreadyClosed := errors.Is(err, repository.ErrNotFound)

	alert := &domain.Alert{
		ID:         uuid.New().String(),
		UserID:     session.UserID,
		SessionID:  session.ID,
		Timestamp:  time.Now().UTC(),
		Reason:     reason,
		Location:   sample.Location(),
		Behavior:   sample.JSON(),
		TrustScore: verdict.TrustScore,
	}

	if err := o.repo.SaveAlert(ctx, alert); err != nil {
		slog.Error("failed to save alert",
			"user_id", session.UserID,
			"session_id", session.ID,
			"error", err,
		)
	}

	o.publish(ctx, domain.TopicAlert, alert)
	if !alreadyClosed {
		o.publish(ctx, domain.TopicSessionTerminated, session)
	}

	if user, err := o.repo.GetUser(ctx, session.UserID); err == nil {
		if err := o.notifier.SendAlert(ctx, user.Email, alert); err != nil {
			slog.Warn("failed to deliver alert notification",
				"user_id", session.UserID,
				"error", err,
			)
		}
	}

	slog.Info("session terminated",
		"user_id", session.UserID,
		"session_id", session.ID,
		"reason", reason,
		"trust_score", verdict.TrustScore,
	)

	return nil
}

// SweepIdle terminates sessions whose last activity predates the idle
// timeout. Returns the number of sessions closed.
func (o *Orchestrator) SweepIdle(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-o.timeout)

	n, err := o.repo.TerminateIdleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("idle sweep failed: %w", err)
	}

	if n > 0 {
		slog.Info("idle sessions terminated",
			"count", n,
			"idle_timeout", o.timeout.String(),
		)
	}
	return n, nil
}

// RunIdleSweeper runs SweepIdle on an interval until the context is
// cancelled.
func (o *Orchestrator) RunIdleSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := o.SweepIdle(ctx); err != nil {
				slog.Error("idle sweep error", "error", err)
			}
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, topic string, payload any) {
	if o.bus == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := o.bus.Publish(ctx, topic, data); err != nil {
		slog.Warn("failed to publish event",
			"topic", topic,
			"error", err,
		)
	}
}

func terminationReason(verdict domain.Verdict, fired []domain.PolicyResult) string {
	if len(fired) > 0 {
		names := make([]string, 0, len(fired))
		for _, r := range fired {
			if r.Reason != "" {
				names = append(names, r.Reason)
			} else {
				names = append(names, r.Name)
			}
		}
		return "policy violation: " + strings.Join(names, "; ")
	}
	return fmt.Sprintf("behavioral anomaly: trust score %.0f", verdict.TrustScore)
}
