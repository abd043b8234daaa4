// Package metrics exposes identity layer counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "graphauth"

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collector records auth, rate limit, resolution and restore outcomes.
// It satisfies registry.Observer.
type Collector struct {
	authAttempts    *prometheus.CounterVec
	failures        *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	strategyResults *prometheus.CounterVec
	strategyLatency *prometheus.HistogramVec
	restores        *prometheus.CounterVec
}

// NewCollector registers the identity metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Authentication attempts by operation and outcome.",
		}, []string{"operation", "outcome"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Failed identity operations by error category.",
		}, []string{"operation", "category"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Attempts denied by the attempt limiter.",
		}, []string{"operation"}),
		strategyResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alias_strategy_results_total",
			Help:      "Alias resolution strategy hits and misses.",
		}, []string{"strategy", "result"}),
		strategyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alias_strategy_latency_seconds",
			Help:      "Alias resolution strategy latency.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 1.5, 2, 3, 5},
		}, []string{"strategy"}),
		restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_restores_total",
			Help:      "Session restore attempts by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		c.authAttempts,
		c.failures,
		c.rateLimited,
		c.strategyResults,
		c.strategyLatency,
		c.restores,
	)
	return c
}

func (c *Collector) RecordAuthAttempt(operation, outcome string) {
	c.authAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordFailure counts a failed operation under its contracts error category.
func (c *Collector) RecordFailure(operation, category string) {
	c.failures.WithLabelValues(operation, category).Inc()
}

func (c *Collector) RecordRateLimited(operation string) {
	c.rateLimited.WithLabelValues(operation).Inc()
}

// RecordRestore counts restores. outcome is "success", "none" or the failure code.
func (c *Collector) RecordRestore(outcome string) {
	c.restores.WithLabelValues(outcome).Inc()
}

func (c *Collector) StrategyResult(strategy string, hit bool, elapsed time.Duration) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.strategyResults.WithLabelValues(strategy, result).Inc()
	c.strategyLatency.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute serves gatherer on /metrics.
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
