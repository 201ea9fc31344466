package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gse_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gse_transitions_total",
			Help: "Applicant state transitions by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	VersionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gse_version_conflicts_total",
			Help: "Optimistic-concurrency write failures on gig documents",
		},
	)

	EscrowSettlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gse_escrow_settlements_total",
			Help: "Escrow releases and refunds",
		},
		[]string{"kind"},
	)

	CaptureDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gse_capture_seconds",
			Help:    "Duration of payment captures including retries",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gse_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gse_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
