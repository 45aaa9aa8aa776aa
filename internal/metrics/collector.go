// internal/metrics/collector.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Request metrics
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripwire_requests_total",
			Help: "Total number of API requests processed",
		},
		[]string{"method", "endpoint", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tripwire_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Evaluation metrics
	evaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripwire_evaluations_total",
			Help: "Total number of transaction evaluations by final status",
		},
		[]string{"status"},
	)

	evaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tripwire_evaluation_duration_seconds",
			Help:    "Full transaction evaluation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	ruleMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripwire_rule_matches_total",
			Help: "Total number of rule matches by rule type and risk level",
		},
		[]string{"rule_type", "risk_level"},
	)

	ruleFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tripwire_rule_failures_total",
			Help: "Total number of rule evaluations that errored and were skipped",
		},
		[]string{"rule_type"},
	)

	// Cache metrics
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tripwire_rule_cache_hits_total",
			Help: "Total number of rule cache hits",
		},
	)

	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tripwire_rule_cache_misses_total",
			Help: "Total number of rule cache misses",
		},
	)

	cachedRules = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tripwire_cached_rules",
			Help: "Number of rules currently cached after the last refresh",
		},
	)

	cacheRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tripwire_cache_refreshes_total",
			Help: "Total number of rule cache refreshes",
		},
	)
)

// Collector manages metrics collection
type Collector struct {
	startTime time.Time
}

// NewCollector creates a metrics collector
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
	}
}

// RecordRequest records metrics for an API request
func (c *Collector) RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestsTotal.WithLabelValues(method, endpoint, statusClass(status)).Inc()
	requestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordEvaluation records one full transaction evaluation
func (c *Collector) RecordEvaluation(status string, duration time.Duration) {
	evaluationsTotal.WithLabelValues(status).Inc()
	evaluationDuration.Observe(duration.Seconds())
}

// RecordRuleMatch records a single matching rule
func (c *Collector) RecordRuleMatch(ruleType, riskLevel string) {
	ruleMatchesTotal.WithLabelValues(ruleType, riskLevel).Inc()
}

// RecordRuleFailure records a rule evaluation that errored
func (c *Collector) RecordRuleFailure(ruleType string) {
	ruleFailuresTotal.WithLabelValues(ruleType).Inc()
}

// RecordCacheHit records a rule cache hit
func (c *Collector) RecordCacheHit() {
	cacheHits.Inc()
}

// RecordCacheMiss records a rule cache miss
func (c *Collector) RecordCacheMiss() {
	cacheMisses.Inc()
}

// RecordCacheRefresh records a cache refresh and the resulting rule count
func (c *Collector) RecordCacheRefresh(loaded int) {
	cacheRefreshes.Inc()
	cachedRules.Set(float64(loaded))
}

// Uptime returns the uptime duration
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
