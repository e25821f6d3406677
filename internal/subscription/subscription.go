// Package subscription manages premium entitlement: activation from
// billing webhooks and lazy expiry on read.
package subscription

import (
	"context"
	"time"

	"github.com/framegate/framegate/internal/account"
	"github.com/framegate/framegate/internal/logging"
	"github.com/framegate/framegate/internal/metrics"
	"github.com/framegate/framegate/internal/notify"
)

// Plan identifiers accepted from the billing provider.
const (
	PlanMonthly  = "monthly"
	PlanYearly   = "yearly"
	PlanLifetime = "lifetime"
)

// Entitlement durations per plan. Lifetime carries no expiry.
const (
	monthlyTerm = 30 * 24 * time.Hour
	yearlyTerm  = 365 * 24 * time.Hour
)

// Publisher receives activation events for the live ops feed.
// Implementations must not block.
type Publisher interface {
	BroadcastSubscription(accountID, plan string)
}

// Manager applies subscription state transitions to accounts.
type Manager struct {
	repo      account.Repository
	notifier  notify.Notifier
	publisher Publisher // optional
	now       func() time.Time
}

// NewManager creates a subscription manager.
func NewManager(repo account.Repository, notifier notify.Notifier) *Manager {
	return &Manager{repo: repo, notifier: notifier, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// SetPublisher attaches the live event feed.
func (m *Manager) SetPublisher(p Publisher) {
	m.publisher = p
}

// Reconcile downgrades an account whose term has lapsed. It mutates the
// passed account in place and reports whether anything changed; the
// caller owns persistence so the downgrade rides the same write as the
// rest of the request.
func (m *Manager) Reconcile(a *account.Account) bool {
	if !a.IsPremium || a.SubscriptionExpiry == nil {
		return false
	}
	if m.now().Before(*a.SubscriptionExpiry) {
		return false
	}
	a.IsPremium = false
	a.SubscriptionExpiry = nil
	return true
}

// Activate grants the entitlement a paid plan confers and persists it.
// Terms extend from now, not from the previous expiry. Unknown plans
// are acknowledged without changing entitlement so the billing
// provider does not retry a payment that already settled.
func (m *Manager) Activate(ctx context.Context, a *account.Account, plan string) error {
	now := m.now()

	switch plan {
	case PlanMonthly:
		expiry := now.Add(monthlyTerm)
		a.IsPremium = true
		a.SubscriptionExpiry = &expiry
	case PlanYearly:
		expiry := now.Add(yearlyTerm)
		a.IsPremium = true
		a.SubscriptionExpiry = &expiry
	case PlanLifetime:
		a.IsPremium = true
		a.SubscriptionExpiry = nil
	default:
		logging.L(ctx).Warn("unrecognized billing plan acknowledged",
			"account_id", a.ID,
			"plan", plan,
		)
		metrics.WebhookAcksTotal.WithLabelValues("unknown").Inc()
		return nil
	}

	if err := m.repo.Update(ctx, a); err != nil {
		return err
	}

	metrics.WebhookAcksTotal.WithLabelValues(plan).Inc()
	if m.publisher != nil {
		m.publisher.BroadcastSubscription(a.ID, plan)
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.notifier.Send(sendCtx, "Subscription Activated",
			"Your "+plan+" plan is now active. Thanks for upgrading.", a.Email); err != nil {
			logging.L(ctx).Error("subscription receipt failed", "account_id", a.ID, "error", err)
		}
	}()

	return nil
}
