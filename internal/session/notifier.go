package session

import (
	"context"
	"log/slog"

	"github.com/opensource-auth/kestrel/internal/domain"
)

// Notifier delivers out-of-band messages to account owners: OTP codes
// during signup and alert notices when a session is terminated.
type Notifier interface {
	SendOTP(ctx context.Context, email, code string) error
	SendAlert(ctx context.Context, email string, alert *domain.Alert) error
}

// LogNotifier writes notifications to the structured log. Default for
// the Community tier and for tests; deployments wire SMTP instead.
type LogNotifier struct{}

func (LogNotifier) SendOTP(ctx context.Context, email, code string) error {
	slog.Info("otp issued",
		"email", email,
		"code", code,
	)
	return nil
}

func (LogNotifier) SendAlert(ctx context.Context, email string, alert *domain.Alert) error {
	slog.Warn("security alert",
		"email", email,
		"alert_id", alert.ID,
		"reason", alert.Reason,
		"trust_score", alert.TrustScore,
	)
	return nil
}
