// Package otp implements the one-time-password second factor used
// during login. Codes are six decimal digits, delivered out of band,
// and valid for a short window.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/framegate/framegate/internal/account"
	"github.com/framegate/framegate/internal/idgen"
	"github.com/framegate/framegate/internal/logging"
	"github.com/framegate/framegate/internal/metrics"
	"github.com/framegate/framegate/internal/notify"
)

const (
	codeMin = 100000
	codeMax = 999999

	// DefaultTTL is how long an issued code stays valid.
	DefaultTTL = 5 * time.Minute
)

var (
	// ErrNoChallenge means Verify was called for an account with no
	// outstanding code.
	ErrNoChallenge = errors.New("otp: no outstanding challenge")

	// ErrCodeMismatch means the submitted code does not match the
	// outstanding one.
	ErrCodeMismatch = errors.New("otp: code mismatch")

	// ErrCodeExpired means the submitted code matched but its
	// validity window has passed.
	ErrCodeExpired = errors.New("otp: code expired")
)

// Authenticator issues and verifies login challenges against the
// account store.
type Authenticator struct {
	repo     account.Repository
	notifier notify.Notifier
	ttl      time.Duration
	now      func() time.Time
}

// NewAuthenticator creates an authenticator with the default code
// lifetime.
func NewAuthenticator(repo account.Repository, notifier notify.Notifier) *Authenticator {
	return &Authenticator{
		repo:     repo,
		notifier: notifier,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (s *Authenticator) SetClock(now func() time.Time) {
	s.now = now
}

// Issue generates a fresh code for the account, persists it, and
// delivers it to the account's email address. Any previous
// outstanding code is replaced. Delivery is best effort; a failed
// send is logged and does not fail issuance.
func (s *Authenticator) Issue(ctx context.Context, a *account.Account) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}

	expiry := s.now().Add(s.ttl)
	a.OTPCode = code
	a.OTPExpiry = &expiry

	if err := s.repo.Update(ctx, a); err != nil {
		return fmt.Errorf("persist challenge: %w", err)
	}

	metrics.OTPIssuedTotal.Inc()

	// Delivery happens after the challenge is durable so a slow mail
	// hop cannot leave a code the store never saw. The send itself is
	// best effort and never blocks or fails issuance.
	body := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.ttl.Minutes()))
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Send(sendCtx, "Your verification code", body, a.Email); err != nil {
			logging.L(ctx).Error("otp delivery failed", "account_id", a.ID, "error", err)
		}
	}()

	return nil
}

// Verify checks a submitted code against the account's outstanding
// challenge. The identity of the code is checked before its expiry,
// so a wrong code never learns whether a challenge was still live.
// On success the challenge is cleared and persisted before the
// session token is returned.
func (s *Authenticator) Verify(ctx context.Context, a *account.Account, code string) (string, error) {
	if a.OTPCode == "" {
		metrics.OTPVerificationsTotal.WithLabelValues("no_challenge").Inc()
		return "", ErrNoChallenge
	}
	if code != a.OTPCode {
		metrics.OTPVerificationsTotal.WithLabelValues("mismatch").Inc()
		return "", ErrCodeMismatch
	}
	if a.OTPExpiry == nil || s.now().After(*a.OTPExpiry) {
		metrics.OTPVerificationsTotal.WithLabelValues("expired").Inc()
		return "", ErrCodeExpired
	}

	a.OTPCode = ""
	a.OTPExpiry = nil
	if err := s.repo.Update(ctx, a); err != nil {
		return "", fmt.Errorf("clear challenge: %w", err)
	}

	metrics.OTPVerificationsTotal.WithLabelValues("success").Inc()
	return idgen.WithPrefix("tok_"), nil
}

// generateCode returns a uniformly distributed six digit code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", codeMin+n.Int64()), nil
}
