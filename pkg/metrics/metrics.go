// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMCallDuration tracks outbound model call duration.
	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_duration_seconds",
			Help:    "Outbound model call duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider", "outcome"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"provider", "direction"},
	)

	// SessionsActive tracks conversations currently held in the store.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_sessions_active",
			Help: "Number of conversations held in memory",
		},
	)

	// SessionsRemovedTotal tracks conversations removed from the store.
	SessionsRemovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sessions_removed_total",
			Help: "Conversations removed from the store",
		},
		[]string{"reason"},
	)

	// ReapRunsTotal tracks executed reaps.
	ReapRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_reap_runs_total",
			Help: "Number of expiry scans executed",
		},
	)

	// TurnsTotal tracks exchanges by outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_turns_total",
			Help: "Chat exchanges by outcome",
		},
		[]string{"outcome"},
	)

	// PairsPrunedTotal tracks (user, model) pairs evicted by history pruning.
	PairsPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_history_pairs_pruned_total",
			Help: "History pairs evicted to honour the history limit",
		},
	)

	// EventsPublishFailures tracks session events that could not be published.
	EventsPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_events_publish_failures_total",
			Help: "Session events that failed to publish",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMCall records metrics for an outbound model call.
func RecordLLMCall(provider, outcome string, duration float64, tokensIn, tokensOut int) {
	LLMCallDuration.WithLabelValues(provider, outcome).Observe(duration)
	if tokensIn > 0 {
		LLMTokensTotal.WithLabelValues(provider, "in").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		LLMTokensTotal.WithLabelValues(provider, "out").Add(float64(tokensOut))
	}
}

// RecordSessionsRemoved records conversations leaving the store.
func RecordSessionsRemoved(reason string, n int) {
	if n > 0 {
		SessionsRemovedTotal.WithLabelValues(reason).Add(float64(n))
	}
}

// SetSessionsActive sets the active conversation gauge.
func SetSessionsActive(n int) {
	SessionsActive.Set(float64(n))
}
