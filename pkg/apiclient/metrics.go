package apiclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the client-side counters for API traffic
type Metrics struct {
	Requests     *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	FallbackTier *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec
}

// NewMetrics registers the client metrics on reg. A nil registerer yields
// unregistered collectors, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inbox",
			Name:      "api_requests_total",
			Help:      "Requests sent to the booking API by operation and outcome.",
		}, []string{"op", "outcome"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "inbox",
			Name:      "api_request_duration_seconds",
			Help:      "Latency of booking API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		FallbackTier: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inbox",
			Name:      "message_fallback_tier_total",
			Help:      "Which message-list endpoint tier answered successfully.",
		}, []string{"tier"}),
		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "inbox",
			Name:      "api_circuit_state",
			Help:      "1 for the current circuit breaker state, 0 otherwise.",
		}, []string{"state"}),
	}
}
