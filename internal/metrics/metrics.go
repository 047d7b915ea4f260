package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iocgw_provider_calls_total",
			Help: "Provider calls by outcome",
		},
		[]string{"provider", "endpoint", "outcome"},
	)

	ProviderAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iocgw_provider_attempt_duration_seconds",
			Help:    "Latency of individual provider HTTP attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iocgw_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"provider"},
	)

	LimiterWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iocgw_limiter_waits_total",
			Help: "Times a caller was suspended by a provider rate limiter",
		},
		[]string{"provider"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iocgw_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"}, // hit, miss, error
	)

	QuotaDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iocgw_quota_decisions_total",
			Help: "Tenant quota decisions",
		},
		[]string{"tier", "decision"},
	)

	AnalysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "iocgw_analysis_duration_seconds",
			Help:    "End to end indicator analysis latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"indicator_type", "status"},
	)
)
