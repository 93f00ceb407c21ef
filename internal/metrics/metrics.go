// Package metrics exposes Prometheus instrumentation for the scoring
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// AnalysesTotal counts scoring requests by channel and outcome.
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_analyses_total",
		Help: "Total analysis requests processed, by channel and outcome.",
	}, []string{"channel", "outcome"})

	// AlertsTotal counts flagged results by channel.
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_alerts_total",
		Help: "Total flagged risk results, by channel.",
	}, []string{"channel"})

	// CorrelationsTotal counts correlation requests.
	CorrelationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_correlations_total",
		Help: "Total cross-channel correlation requests.",
	})

	// CorrelationAlertsTotal counts correlations whose combined score
	// crossed the alert threshold.
	CorrelationAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_correlation_alerts_total",
		Help: "Total correlations that crossed the alert threshold.",
	})

	// AnalysisDuration observes end-to-end scoring latency by channel.
	AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kestrel_analysis_duration_seconds",
		Help:    "Analysis latency by channel.",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})

	// PolicyMatchesTotal counts escalation rule hits by rule name.
	PolicyMatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_policy_matches_total",
		Help: "Total policy rule escalations, by rule.",
	}, []string{"rule"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)
