package subscription

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/framegate/framegate/internal/account"
	"github.com/framegate/framegate/internal/logging"
	"github.com/framegate/framegate/internal/retry"
	"github.com/framegate/framegate/internal/traces"
	"github.com/framegate/framegate/internal/validation"
)

// webhookRequest is the payload delivered by the billing provider once
// a payment has settled. Authentication happens upstream of us.
type webhookRequest struct {
	Email string `json:"email" binding:"required"`
	Plan  string `json:"plan" binding:"required"`
}

// RegisterRoutes mounts the billing webhook endpoint.
func (m *Manager) RegisterRoutes(r gin.IRouter) {
	r.POST("/billing/webhook", m.handleWebhook)
}

// handleWebhook applies a settled payment to the named account. The
// provider retries non-2xx responses, so transient store conflicts are
// retried here rather than bounced back.
func (m *Manager) handleWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and plan are required"})
		return
	}

	email := validation.SanitizeEmail(req.Email)
	if !validation.IsValidEmail(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email"})
		return
	}

	ctx, span := traces.StartSpan(c.Request.Context(), "subscription.Activate", traces.Plan(req.Plan))
	defer span.End()

	err := retry.Do(ctx, 3, 10*time.Millisecond, func() error {
		a, err := m.repo.GetByEmail(ctx, email)
		if err != nil {
			return retry.Permanent(err)
		}
		if err := m.Activate(ctx, a, req.Plan); err != nil {
			if errors.Is(err, account.ErrVersionConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		return nil
	})
	if err != nil {
		span.SetAttributes(traces.Outcome("error"))
		if errors.Is(err, account.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no account for that email"})
			return
		}
		logging.L(ctx).Error("webhook activation failed", "email", email, "plan", req.Plan, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "activation failed"})
		return
	}

	span.SetAttributes(traces.Outcome("ok"))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
