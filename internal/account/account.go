// Package account defines the account record and its repository contract.
//
// Every authorization decision in the gateway reads, conditionally mutates,
// and writes back exactly one account record. Updates are optimistic: each
// record carries a version counter and writers compare-and-swap on it, so
// lost updates surface as ErrVersionConflict instead of silent overwrites.
package account

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Errors
var (
	ErrNotFound        = errors.New("account: not found")
	ErrEmailTaken      = errors.New("account: email already registered")
	ErrVersionConflict = errors.New("account: concurrent update conflict")
)

// Account is one registered user of the media API, keyed by unique email.
type Account struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	CredentialHash string `json:"-"`

	// Metering
	UsageCount int `json:"usageCount"`

	// Fraud state. RiskScore only increases inside the engine; ban fields
	// escalate, never auto-de-escalate.
	RiskScore         int        `json:"riskScore"`
	PermanentlyBanned bool       `json:"permanentlyBanned"`
	BannedUntil       *time.Time `json:"bannedUntil,omitempty"`

	// Entitlement
	IsPremium          bool       `json:"isPremium"`
	SubscriptionExpiry *time.Time `json:"subscriptionExpiry,omitempty"`

	// Pending login window. Code and expiry are a matched pair: both set
	// while a login is pending, both cleared on verification.
	OTPCode   string     `json:"-"`
	OTPExpiry *time.Time `json:"-"`

	// Forensic capture only. No business logic reads these today; future
	// risk features plausibly will.
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	LastKnownAddress  string `json:"lastKnownAddress,omitempty"`

	// Optimistic concurrency counter, incremented by every successful Update.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (a *Account) Clone() *Account {
	cp := *a
	cp.BannedUntil = copyTime(a.BannedUntil)
	cp.SubscriptionExpiry = copyTime(a.SubscriptionExpiry)
	cp.OTPExpiry = copyTime(a.OTPExpiry)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

// Repository persists accounts.
//
// Update performs a compare-and-swap against the Version the caller loaded:
// on success the stored record and the passed struct both carry Version+1;
// on mismatch it returns ErrVersionConflict and persists nothing.
type Repository interface {
	Get(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	Create(ctx context.Context, a *Account) error
	Update(ctx context.Context, a *Account) error
}

// HashCredential computes the opaque stored form of a login credential.
func HashCredential(credential string) string {
	h := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(h[:])
}
