// Package procmetrics exposes the scheduler's own operational counters via
// a standard /metrics endpoint, following the same InitMetrics/MetricsHandler
// shape the original sidecar used for its outbound Prometheus surface.
package procmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	membershipFetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_membership_fetch_failures_total",
			Help: "Total number of failed LTM membership fetches, by pool.",
		},
		[]string{"pool"},
	)

	metricsScrapeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_metrics_scrape_failures_total",
			Help: "Total number of failed member metrics scrapes, by pool and reason.",
		},
		[]string{"pool", "reason"},
	)

	selectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_selections_total",
			Help: "Total number of /scheduler/select outcomes, by pool and outcome.",
		},
		[]string{"pool", "outcome"},
	)

	rescoreDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_rescore_duration_seconds",
			Help:    "Latency of a single pool rescore pass.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pool"},
	)

	configReloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_config_reloads_total",
			Help: "Total number of successful configuration hot-reloads.",
		},
	)
)

// Init registers every counter with the default Prometheus registry. Call
// once at process startup.
func Init() {
	prometheus.MustRegister(membershipFetchFailures, metricsScrapeFailures, selectionsTotal, rescoreDuration, configReloadsTotal)
}

// Handler returns the standard promhttp handler for the registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncMembershipFetchFailure records a failed LTM fetch for pool.
func IncMembershipFetchFailure(pool string) {
	membershipFetchFailures.WithLabelValues(pool).Inc()
}

// IncMetricsScrapeFailure records a failed member scrape for pool, tagged
// with the failure reason (unreachable, parse_error).
func IncMetricsScrapeFailure(pool, reason string) {
	metricsScrapeFailures.WithLabelValues(pool, reason).Inc()
}

// IncSelection records one /scheduler/select outcome (a member key, "none",
// or "fallback") for pool.
func IncSelection(pool, outcome string) {
	selectionsTotal.WithLabelValues(pool, outcome).Inc()
}

// ObserveRescoreDuration records how long one rescore pass took for pool.
func ObserveRescoreDuration(pool string, seconds float64) {
	rescoreDuration.WithLabelValues(pool).Observe(seconds)
}

// IncConfigReload records a successful hot-reload.
func IncConfigReload() {
	configReloadsTotal.Inc()
}
