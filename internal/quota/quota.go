// Package quota enforces the free-tier usage cap on resize requests.
package quota

import (
	"github.com/framegate/framegate/internal/account"
)

// FreeLimit is the number of resize operations a free account may
// perform over its lifetime. Premium accounts are not metered.
const FreeLimit = 10

// Enforcer answers quota questions from account state. It does not
// mutate accounts; the orchestrator increments usage after a
// successful operation.
type Enforcer struct {
	freeLimit int
}

// NewEnforcer creates an enforcer with the default free-tier limit.
func NewEnforcer() *Enforcer {
	return &Enforcer{freeLimit: FreeLimit}
}

// Allowed reports whether the account may perform one more resize.
// Premium accounts are always allowed.
func (e *Enforcer) Allowed(a *account.Account) bool {
	if a.IsPremium {
		return true
	}
	return a.UsageCount < e.freeLimit
}

// Remaining returns how many free-tier operations the account has
// left. Premium accounts report the full limit since they are not
// consuming it.
func (e *Enforcer) Remaining(a *account.Account) int {
	if a.IsPremium {
		return e.freeLimit
	}
	if a.UsageCount >= e.freeLimit {
		return 0
	}
	return e.freeLimit - a.UsageCount
}

// Limit returns the configured free-tier cap.
func (e *Enforcer) Limit() int {
	return e.freeLimit
}
