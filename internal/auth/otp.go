package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/opensource-auth/kestrel/internal/domain"
)

const otpDigits = 6

var (
	ErrOTPExpired  = errors.New("otp expired or not issued")
	ErrOTPMismatch = errors.New("otp mismatch")
)

// OTPIssuer generates and verifies one-time passcodes backed by the
// cache. Codes are single-use: a successful verification consumes the
// stored code.
type OTPIssuer struct {
	cache  domain.Cache
	expiry time.Duration
}

// NewOTPIssuer creates an issuer with the given code lifetime.
func NewOTPIssuer(cache domain.Cache, expiry time.Duration) *OTPIssuer {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	return &OTPIssuer{cache: cache, expiry: expiry}
}

// Issue generates a fresh 6-digit code for the user, replacing any
// outstanding one.
func (o *OTPIssuer) Issue(ctx context.Context, userID string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}

	if err := o.cache.Set(ctx, domain.ScopeOTP, userID, []byte(code), o.expiry); err != nil {
		return "", fmt.Errorf("failed to store otp: %w", err)
	}

	return code, nil
}

// Verify checks a submitted code and consumes it on success.
func (o *OTPIssuer) Verify(ctx context.Context, userID, code string) error {
	stored, err := o.cache.Get(ctx, domain.ScopeOTP, userID)
	if err != nil {
		return fmt.Errorf("failed to read otp: %w", err)
	}
	if stored == nil {
		return ErrOTPExpired
	}

	if subtle.ConstantTimeCompare(stored, []byte(code)) != 1 {
		return ErrOTPMismatch
	}

	// Single-use: consume on success.
	_ = o.cache.Delete(ctx, domain.ScopeOTP, userID)
	return nil
}

func generateCode() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
