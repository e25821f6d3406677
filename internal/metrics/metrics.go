// Package metrics provides Prometheus instrumentation for the Framegate gateway.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framegate",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "framegate",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActionsTotal counts billable action authorizations by outcome.
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framegate",
			Name:      "billable_actions_total",
			Help:      "Total billable action attempts by outcome (ok, banned, quota_exceeded, processing_error, conflict).",
		},
		[]string{"outcome"},
	)

	// QuotaDenialsTotal counts free-tier quota denials.
	QuotaDenialsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "framegate",
			Name:      "quota_denials_total",
			Help:      "Total requests denied because the free-tier quota was exhausted.",
		},
	)

	// BanEscalationsTotal counts ban-ladder escalations by tier.
	BanEscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framegate",
			Name:      "ban_escalations_total",
			Help:      "Total ban escalations applied by tier (5d, 15d, 30d, permanent).",
		},
		[]string{"tier"},
	)

	// OTPIssuedTotal counts issued one-time passcodes.
	OTPIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "framegate",
			Name:      "otp_issued_total",
			Help:      "Total one-time passcodes issued.",
		},
	)

	// OTPVerificationsTotal counts OTP verification attempts by result.
	OTPVerificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framegate",
			Name:      "otp_verifications_total",
			Help:      "Total OTP verification attempts by result (success, mismatch, expired, no_challenge).",
		},
		[]string{"result"},
	)

	// WebhookAcksTotal counts payment webhook acknowledgments by plan.
	WebhookAcksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framegate",
			Name:      "billing_webhook_acks_total",
			Help:      "Total billing webhooks acknowledged by plan (monthly, yearly, lifetime, unknown).",
		},
		[]string{"plan"},
	)

	// ActiveWebSocketClients tracks currently connected event-feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "framegate",
			Name:      "websocket_clients",
			Help:      "Currently connected WebSocket event-feed clients.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActionsTotal,
		QuotaDenialsTotal,
		BanEscalationsTotal,
		OTPIssuedTotal,
		OTPVerificationsTotal,
		WebhookAcksTotal,
		ActiveWebSocketClients,
	)
}

// Middleware records request counts and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
