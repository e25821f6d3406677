// Package bans evaluates the ban state of an account.
//
// Evaluation is a pure function of the record and the clock: it never
// mutates or persists. Any non-active status must short-circuit the caller
// before quota, entitlement, or processing logic runs.
package bans

import (
	"fmt"
	"time"

	"github.com/framegate/framegate/internal/account"
)

// State is an account's ban state.
type State string

const (
	StateActive            State = "active"
	StateTemporarilyBanned State = "temporarily_banned"
	StatePermanentlyBanned State = "permanently_banned"
)

// Status is the result of evaluating an account's ban fields.
type Status struct {
	State State      `json:"state"`
	Until *time.Time `json:"until,omitempty"` // set for temporary bans
}

// Active reports whether the account may proceed.
func (s Status) Active() bool {
	return s.State == StateActive
}

// Reason returns a human-readable denial reason. Empty for active accounts.
func (s Status) Reason() string {
	switch s.State {
	case StatePermanentlyBanned:
		return "account is permanently banned"
	case StateTemporarilyBanned:
		return fmt.Sprintf("account is banned until %s", s.Until.Format(time.RFC3339))
	default:
		return ""
	}
}

// Evaluate returns the ban status of an account at the given instant.
// A permanent ban is terminal and takes precedence; an unexpired BannedUntil
// denies access regardless of how it was set.
func Evaluate(a *account.Account, now time.Time) Status {
	if a.PermanentlyBanned {
		return Status{State: StatePermanentlyBanned}
	}
	if a.BannedUntil != nil && a.BannedUntil.After(now) {
		until := *a.BannedUntil
		return Status{State: StateTemporarilyBanned, Until: &until}
	}
	return Status{State: StateActive}
}
