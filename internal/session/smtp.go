package session

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/opensource-auth/kestrel/internal/domain"
)

// SMTPNotifier delivers OTP codes and alert notices over SMTP.
type SMTPNotifier struct {
	cfg domain.MailConfig
}

// NewSMTPNotifier creates a notifier from mail configuration.
func NewSMTPNotifier(cfg domain.MailConfig) *SMTPNotifier {
	return &SMTPNotifier{cfg: cfg}
}

func (n *SMTPNotifier) SendOTP(ctx context.Context, email, code string) error {
	subject := "Your verification code"
	body := fmt.Sprintf("Your one-time verification code is %s. It expires shortly.", code)
	return n.send(email, subject, body)
}

func (n *SMTPNotifier) SendAlert(ctx context.Context, email string, alert *domain.Alert) error {
	subject := "Security alert: session terminated"
	body := fmt.Sprintf(
		"Unusual activity was detected on your account and the session was terminated.\r\n\r\n"+
			"Reason: %s\r\nTrust score: %.0f\r\nTime: %s\r\n\r\n"+
			"If this was you, log in again. Otherwise consider changing your password.",
		alert.Reason, alert.TrustScore, alert.Timestamp.Format("2006-01-02 15:04:05 UTC"),
	)
	return n.send(email, subject, body)
}

func (n *SMTPNotifier) send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)

	msg := []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n",
		n.cfg.From, to, subject, body,
	))

	var a smtp.Auth
	if n.cfg.Username != "" {
		a = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	if err := smtp.SendMail(addr, a, n.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}
