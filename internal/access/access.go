// Package access orchestrates every billable request: entitlement
// reconciliation, ban gating, quota enforcement, the transcode itself,
// metering, and risk evaluation, in that order.
package access

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAccountNotFound means the account id resolves to nothing.
	ErrAccountNotFound = errors.New("access: account not found")

	// ErrConflict means concurrent writers kept invalidating the
	// commit after the bounded retries were spent.
	ErrConflict = errors.New("access: concurrent update conflict, retry the request")
)

// ForbiddenError is a policy denial: the account exists and the
// request was well-formed, but the gateway refuses to perform the
// action.
type ForbiddenError struct {
	Reason string
	Until  *time.Time // expiry of a temporary ban, nil otherwise
	Quota  bool       // denial caused by quota exhaustion
}

func (e *ForbiddenError) Error() string {
	if e.Until != nil {
		return fmt.Sprintf("access: forbidden: %s (until %s)", e.Reason, e.Until.UTC().Format(time.RFC3339))
	}
	return "access: forbidden: " + e.Reason
}

// ProcessingError wraps a transcode failure or timeout. The account
// is left untouched when this is returned.
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string { return "access: processing failed: " + e.Err.Error() }
func (e *ProcessingError) Unwrap() error { return e.Err }
