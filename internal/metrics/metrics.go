// Package metrics provides Prometheus metrics for boqmatch.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MatchesTotal tracks resolved match requests by the tier that produced the answer
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boqmatch",
			Subsystem: "resolver",
			Name:      "matches_total",
			Help:      "Total number of resolved match requests by source tier",
		},
		[]string{"source"},
	)

	// MatchDuration tracks end-to-end resolution latency
	MatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "boqmatch",
			Subsystem: "resolver",
			Name:      "match_duration_seconds",
			Help:      "Duration of match requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)

	// DegradedTotal tracks requests answered from a lower tier after a dependency failure
	DegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boqmatch",
			Subsystem: "resolver",
			Name:      "degraded_total",
			Help:      "Total number of match requests degraded to the local matcher",
		},
		[]string{"reason"},
	)

	// KBLookups tracks knowledge base lookups by result
	KBLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boqmatch",
			Subsystem: "kb",
			Name:      "lookups_total",
			Help:      "Total number of knowledge base lookups by result",
		},
		[]string{"result"},
	)

	// KBWrites tracks knowledge base upserts by kind
	KBWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boqmatch",
			Subsystem: "kb",
			Name:      "writes_total",
			Help:      "Total number of knowledge base writes by kind",
		},
		[]string{"kind"},
	)

	// ClassifierFallbacks tracks classifier calls served by the local fallback
	ClassifierFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boqmatch",
			Subsystem: "classifier",
			Name:      "fallbacks_total",
			Help:      "Total number of classifications served by the fallback classifier",
		},
		[]string{"reason"},
	)

	// VerifierCalls tracks verifier invocations by outcome
	VerifierCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boqmatch",
			Subsystem: "verifier",
			Name:      "calls_total",
			Help:      "Total number of verifier invocations by outcome",
		},
		[]string{"outcome"},
	)

	// VerifierDuration tracks verifier latency
	VerifierDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "boqmatch",
			Subsystem: "verifier",
			Name:      "duration_seconds",
			Help:      "Duration of verifier calls in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30},
		},
	)

	// FeedbackProcessed tracks feedback records applied to the knowledge base
	FeedbackProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boqmatch",
			Subsystem: "feedback",
			Name:      "processed_total",
			Help:      "Total number of feedback records processed by outcome",
		},
		[]string{"outcome"},
	)

	// CatalogActiveCodes reports the code count of the active catalog version
	CatalogActiveCodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "boqmatch",
			Subsystem: "catalog",
			Name:      "active_codes",
			Help:      "Number of codes in the active catalog version",
		},
	)

	// CatalogHealthy is 1 when the last health check passed
	CatalogHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "boqmatch",
			Subsystem: "catalog",
			Name:      "healthy",
			Help:      "1 if the last catalog health check passed, 0 otherwise",
		},
	)

	// CatalogTransitions tracks catalog version status changes
	CatalogTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boqmatch",
			Subsystem: "catalog",
			Name:      "transitions_total",
			Help:      "Total number of catalog version status transitions",
		},
		[]string{"to"},
	)

	// JobRuns tracks scheduled job executions
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boqmatch",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total number of scheduled job runs by result",
		},
		[]string{"job", "result"},
	)

	// JobDuration tracks scheduled job duration
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "boqmatch",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled jobs in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"job"},
	)
)

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
