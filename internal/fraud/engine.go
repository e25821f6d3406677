// Package fraud accumulates risk signal on accounts and escalates
// bans along a tiered ladder. Every evaluation leaves an audit event.
package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/framegate/framegate/internal/account"
	"github.com/framegate/framegate/internal/idgen"
	"github.com/framegate/framegate/internal/logging"
	"github.com/framegate/framegate/internal/metrics"
	"github.com/framegate/framegate/internal/notify"
)

// AnomalyIncrement is the score delta applied when the classifier
// flags an account.
const AnomalyIncrement = 30

// Ban tiers, highest threshold first. Each call picks the single
// highest tier the new score clears.
const (
	permanentThreshold  = 150
	thirtyDayThreshold  = 80
	fifteenDayThreshold = 50
	fiveDayThreshold    = 30
)

// Publisher receives escalation events for the live ops feed.
// Implementations must not block.
type Publisher interface {
	BroadcastRiskEscalation(accountID, tier string, score int)
	BroadcastBan(accountID, tier string, until *time.Time)
}

// Engine applies risk deltas and the escalation ladder.
type Engine struct {
	repo       account.Repository
	events     Store
	notifier   notify.Notifier
	classifier Classifier
	publisher  Publisher // optional
	now        func() time.Time
}

// NewEngine creates a fraud engine.
func NewEngine(repo account.Repository, events Store, notifier notify.Notifier, classifier Classifier) *Engine {
	return &Engine{
		repo:       repo,
		events:     events,
		notifier:   notifier,
		classifier: classifier,
		now:        time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// SetPublisher attaches the live event feed.
func (e *Engine) SetPublisher(p Publisher) {
	e.publisher = p
}

// AnomalyDelta consults the classifier on the account's current
// features and returns the increment to apply, or zero. Nothing else
// in the system calls the classifier.
func (e *Engine) AnomalyDelta(a *account.Account) int {
	if e.classifier.Flag(a.UsageCount, a.RiskScore) {
		return AnomalyIncrement
	}
	return 0
}

// EvaluateRisk adds delta to the account's score, applies the single
// highest matching ban tier against the new score, persists, and
// records an audit event. Temporary bans are always re-extended from
// now; an existing longer ban is not preserved. A permanent ban is
// terminal and never cleared.
func (e *Engine) EvaluateRisk(ctx context.Context, a *account.Account, delta int, reason string) error {
	a.RiskScore += delta
	now := e.now()

	tier := "none"
	switch {
	case a.RiskScore >= permanentThreshold:
		a.PermanentlyBanned = true
		tier = "permanent"
		e.notifyBan(ctx, a, "Account Permanently Banned", reason)
	case a.RiskScore >= thirtyDayThreshold:
		until := now.Add(30 * 24 * time.Hour)
		a.BannedUntil = &until
		tier = "30d"
		e.notifyBan(ctx, a, "30 Day Ban", reason)
	case a.RiskScore >= fifteenDayThreshold:
		until := now.Add(15 * 24 * time.Hour)
		a.BannedUntil = &until
		tier = "15d"
	case a.RiskScore >= fiveDayThreshold:
		until := now.Add(5 * 24 * time.Hour)
		a.BannedUntil = &until
		tier = "5d"
	}

	if err := e.repo.Update(ctx, a); err != nil {
		return fmt.Errorf("persist risk state: %w", err)
	}

	if tier != "none" {
		metrics.BanEscalationsTotal.WithLabelValues(tier).Inc()
		if e.publisher != nil {
			e.publisher.BroadcastRiskEscalation(a.ID, tier, a.RiskScore)
			e.publisher.BroadcastBan(a.ID, tier, a.BannedUntil)
		}
	}

	// The audit trail is best-effort: a lost event must not undo an
	// escalation that is already durable.
	ev := &Event{
		ID:             idgen.WithPrefix("risk_"),
		AccountID:      a.ID,
		Delta:          delta,
		Reason:         reason,
		ResultingScore: a.RiskScore,
		Tier:           tier,
		CreatedAt:      now,
	}
	if err := e.events.Record(ctx, ev); err != nil {
		logging.L(ctx).Error("risk event not recorded", "account_id", a.ID, "error", err)
	}

	return nil
}

func (e *Engine) notifyBan(ctx context.Context, a *account.Account, subject, reason string) {
	email := a.Email
	id := a.ID
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		body := "Your account has been restricted. Reason: " + reason
		if err := e.notifier.Send(sendCtx, subject, body, email); err != nil {
			logging.L(ctx).Error("ban notice failed", "account_id", id, "error", err)
		}
	}()
}
