package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/framegate/framegate/internal/account"
	"github.com/framegate/framegate/internal/bans"
	"github.com/framegate/framegate/internal/fraud"
	"github.com/framegate/framegate/internal/logging"
	"github.com/framegate/framegate/internal/media"
	"github.com/framegate/framegate/internal/metrics"
	"github.com/framegate/framegate/internal/quota"
	"github.com/framegate/framegate/internal/retry"
	"github.com/framegate/framegate/internal/subscription"
	"github.com/framegate/framegate/internal/syncutil"
)

// maxCommitAttempts bounds the compare-and-swap retry loop before the
// conflict surfaces to the caller.
const maxCommitAttempts = 5

// EventPublisher receives action outcomes for the live ops feed.
// Implementations must not block.
type EventPublisher interface {
	BroadcastQuotaDenied(accountID string, usageCount int)
	BroadcastActionDone(accountID string, remaining int)
}

// Result is the successful outcome of a billable action together with
// the caller's authorization context after the commit.
type Result struct {
	OutputRef string `json:"outputRef"`
	// Remaining is the free-tier quota left after this action. It is
	// meaningless when Premium is true.
	Remaining int  `json:"remaining"`
	Premium   bool `json:"premium"`
}

// Dashboard is the read-only account projection.
type Dashboard struct {
	Email          string `json:"email"`
	Premium        bool   `json:"premium"`
	UsageCount     int    `json:"usageCount"`
	RemainingQuota string `json:"remainingQuota"` // number, or "Unlimited"
	RiskScore      int    `json:"riskScore"`
}

// Controller is the single entry point for billable actions. All of
// its collaborators are injected once at construction; it holds no
// ambient state.
type Controller struct {
	repo      account.Repository
	subs      *subscription.Manager
	quota     *quota.Enforcer
	engine    *fraud.Engine
	processor media.Processor
	locks     *syncutil.ContextShardedMutex
	publisher EventPublisher // optional
}

// NewController wires the orchestrator.
func NewController(
	repo account.Repository,
	subs *subscription.Manager,
	enforcer *quota.Enforcer,
	engine *fraud.Engine,
	processor media.Processor,
) *Controller {
	return &Controller{
		repo:      repo,
		subs:      subs,
		quota:     enforcer,
		engine:    engine,
		processor: processor,
		locks:     syncutil.NewContextShardedMutex(),
	}
}

// SetPublisher attaches the live event feed.
func (c *Controller) SetPublisher(p EventPublisher) {
	c.publisher = p
}

// PerformAction authorizes, executes, and meters one resize.
//
// The admission checks and the commit both run under the account's
// lock; the transcode itself does not, so a slow job never serializes
// other accounts' traffic behind it. Because the lock is dropped
// across the transcode, quota is re-validated against the freshest
// record at commit time.
func (c *Controller) PerformAction(ctx context.Context, accountID, inputRef string, p media.Params) (*Result, error) {
	a, err := c.admit(ctx, accountID)
	if err != nil {
		return nil, err
	}

	outputRef, err := c.processor.Execute(ctx, inputRef, p)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues("processing_error").Inc()
		return nil, &ProcessingError{Err: err}
	}

	res, err := c.commit(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	res.OutputRef = outputRef

	metrics.ActionsTotal.WithLabelValues("ok").Inc()
	if c.publisher != nil {
		c.publisher.BroadcastActionDone(accountID, res.Remaining)
	}
	return res, nil
}

// admit runs the pre-flight checks (reconcile, ban gate, quota) under
// the account lock and returns the reconciled snapshot.
func (c *Controller) admit(ctx context.Context, accountID string) (*account.Account, error) {
	unlock, err := c.locks.LockContext(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	a, err := c.repo.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}

	if c.subs.Reconcile(a) {
		// The downgrade is persisted opportunistically; losing the
		// race just means the next request reconciles again.
		if err := c.repo.Update(ctx, a); err != nil && !errors.Is(err, account.ErrVersionConflict) {
			logging.L(ctx).Warn("lapsed subscription not persisted", "account_id", a.ID, "error", err)
		}
	}

	if status := bans.Evaluate(a, time.Now()); !status.Active() {
		metrics.ActionsTotal.WithLabelValues("banned").Inc()
		return nil, &ForbiddenError{Reason: status.Reason(), Until: status.Until}
	}

	if !c.quota.Allowed(a) {
		c.denyQuota(ctx, a)
		return nil, &ForbiddenError{Reason: "free quota exhausted", Quota: true}
	}

	return a, nil
}

// commit re-acquires the lock, re-validates quota against the freshest
// record, meters the action, and runs the anomaly check on the
// post-increment state. Version conflicts from concurrent writers
// (webhooks, other risk evaluations) are retried a bounded number of
// times.
func (c *Controller) commit(ctx context.Context, accountID string) (*Result, error) {
	unlock, err := c.locks.LockContext(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var committed *account.Account
	err = retry.Do(ctx, maxCommitAttempts, 20*time.Millisecond, func() error {
		fresh, err := c.repo.Get(ctx, accountID)
		if err != nil {
			return retry.Permanent(fmt.Errorf("reload account: %w", err))
		}
		c.subs.Reconcile(fresh)

		// The transcode already happened, but the meter moves only if
		// the quota still holds. Racing requests lose here, not by
		// overshooting the cap.
		if !c.quota.Allowed(fresh) {
			c.denyQuota(ctx, fresh)
			return retry.Permanent(&ForbiddenError{Reason: "free quota exhausted", Quota: true})
		}

		fresh.UsageCount++
		if err := c.repo.Update(ctx, fresh); err != nil {
			if errors.Is(err, account.ErrVersionConflict) {
				return err
			}
			return retry.Permanent(fmt.Errorf("persist usage: %w", err))
		}
		committed = fresh
		return nil
	})
	if err != nil {
		var fe *ForbiddenError
		if errors.As(err, &fe) {
			return nil, fe
		}
		if errors.Is(err, account.ErrVersionConflict) {
			metrics.ActionsTotal.WithLabelValues("conflict").Inc()
			return nil, ErrConflict
		}
		return nil, err
	}

	if delta := c.engine.AnomalyDelta(committed); delta > 0 {
		if err := c.evaluateRisk(ctx, accountID, delta); err != nil {
			return nil, err
		}
		// Risk evaluation may have replaced the stored record.
		if fresh, err := c.repo.Get(ctx, accountID); err == nil {
			committed = fresh
		}
	}

	return &Result{
		Remaining: c.quota.Remaining(committed),
		Premium:   committed.IsPremium,
	}, nil
}

// evaluateRisk applies the anomaly increment with its own bounded
// retry, reloading the record each attempt so the delta is applied
// exactly once.
func (c *Controller) evaluateRisk(ctx context.Context, accountID string, delta int) error {
	err := retry.Do(ctx, maxCommitAttempts, 20*time.Millisecond, func() error {
		fresh, err := c.repo.Get(ctx, accountID)
		if err != nil {
			return retry.Permanent(err)
		}
		if err := c.engine.EvaluateRisk(ctx, fresh, delta, "anomaly signal"); err != nil {
			if errors.Is(err, account.ErrVersionConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, account.ErrVersionConflict) {
			metrics.ActionsTotal.WithLabelValues("conflict").Inc()
			return ErrConflict
		}
		return fmt.Errorf("risk evaluation: %w", err)
	}
	return nil
}

func (c *Controller) denyQuota(ctx context.Context, a *account.Account) {
	metrics.ActionsTotal.WithLabelValues("quota_exceeded").Inc()
	metrics.QuotaDenialsTotal.Inc()
	if c.publisher != nil {
		c.publisher.BroadcastQuotaDenied(a.ID, a.UsageCount)
	}
	logging.L(ctx).Info("quota denial", "account_id", a.ID, "usage", a.UsageCount)
}

// Dashboard returns the read-only projection of an account. Lapsed
// subscriptions are reflected in the view but nothing is persisted.
func (c *Controller) Dashboard(ctx context.Context, accountID string) (*Dashboard, error) {
	a, err := c.repo.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	c.subs.Reconcile(a)

	remaining := "Unlimited"
	if !a.IsPremium {
		remaining = fmt.Sprintf("%d", c.quota.Remaining(a))
	}
	return &Dashboard{
		Email:          a.Email,
		Premium:        a.IsPremium,
		UsageCount:     a.UsageCount,
		RemainingQuota: remaining,
		RiskScore:      a.RiskScore,
	}, nil
}
