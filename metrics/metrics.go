package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Observation Metrics
var (
	// ObservationsTotal tracks liveness readings by platform and source (poll/webhook)
	ObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livewatch_observations_total",
			Help: "Liveness observations by platform and source",
		},
		[]string{"platform", "source"},
	)

	// TransitionsTotal tracks state tracker classifications
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livewatch_transitions_total",
			Help: "State transitions by platform and kind",
		},
		[]string{"platform", "kind"},
	)

	// LiveSessions tracks how many streamer keys are currently live
	LiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livewatch_live_sessions",
			Help: "Number of streamer keys currently live",
		},
	)
)

// Polling Metrics
var (
	// PollCycleDuration tracks how long one platform cycle takes in seconds
	PollCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livewatch_poll_cycle_duration_seconds",
			Help:    "Poll cycle duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"platform"},
	)

	// RateLimitDeferralsTotal tracks batches skipped because the window was exhausted
	RateLimitDeferralsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livewatch_rate_limit_deferrals_total",
			Help: "Batches deferred to the next window by platform",
		},
		[]string{"platform"},
	)

	// BatchFailuresTotal tracks batches dropped after retries, by reason (transient/auth/permanent)
	BatchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livewatch_batch_failures_total",
			Help: "Poll batches that failed by platform and reason",
		},
		[]string{"platform", "reason"},
	)

	// TokenRefreshesTotal tracks credential refreshes by status
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livewatch_token_refreshes_total",
			Help: "Credential refreshes by platform and status",
		},
		[]string{"platform", "status"},
	)
)

// Webhook Metrics
var (
	// WebhookRequestsTotal tracks inbound webhook requests by outcome
	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livewatch_webhook_requests_total",
			Help: "Inbound webhook requests by platform and outcome",
		},
		[]string{"platform", "outcome"},
	)

	// SubscriptionsCurrent tracks active push subscriptions
	SubscriptionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "livewatch_subscriptions_current",
			Help: "Active push subscriptions by platform",
		},
		[]string{"platform"},
	)
)

// Notification Metrics
var (
	// NotificationsTotal tracks sink calls by operation (render/update/close) and status
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livewatch_notifications_total",
			Help: "Notification sink calls by operation and status",
		},
		[]string{"operation", "status"},
	)
)
