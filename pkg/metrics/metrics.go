package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CodesIssued counts verification codes written to the store, by purpose
	// (signup|signin).
	CodesIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsecare_verification_codes_issued_total",
			Help: "Total number of verification codes issued",
		},
		[]string{"purpose"},
	)

	// VerifyAttempts counts code submissions by result
	// (success|not_found|expired|mismatch|error).
	VerifyAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsecare_verification_attempts_total",
			Help: "Total number of verification attempts",
		},
		[]string{"result"},
	)

	// AuthenticatedSessions tracks sessions currently in the authenticated
	// phase on this instance.
	AuthenticatedSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsecare_authenticated_sessions",
			Help: "Number of authenticated sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulsecare_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
