package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 15, 60},
		},
		[]string{"method", "path"},
	)

	// Chat turn metrics
	ChatTurns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Chat turns by outcome",
		},
		[]string{"outcome"}, // "ok", "session_error", "webhook_error"
	)

	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_sessions_created_total",
			Help: "Sessions minted by the orchestrator",
		},
	)

	WebhookLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chat_webhook_latency_seconds",
			Help:    "External workflow webhook latency",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// Change feed metrics
	FeedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_feed_events_total",
			Help: "Message insert events received from the feed source",
		},
	)

	FeedSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_feed_subscribers",
			Help: "Live change feed subscriptions",
		},
	)

	FeedDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_feed_dropped_subscribers_total",
			Help: "Subscriptions closed because their buffer overflowed",
		},
	)

	FeedReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_feed_source_reconnects_total",
			Help: "Feed source resubscribe attempts",
		},
	)
)
