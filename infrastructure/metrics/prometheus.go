// Package metrics provides the Prometheus implementation of
// ports.MetricsCollector.
package metrics

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-assay/internal/ports"
)

// Namespace prefixes every exported metric.
const Namespace = "assay"

var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)

// PrometheusMetrics creates collectors on first use. A metric's label names
// are fixed by its first observation; later observations fill missing
// labels with "" and drop unknown ones, since Prometheus requires a stable
// label set per metric.
type PrometheusMetrics struct {
	factory promauto.Factory

	mu         sync.Mutex
	counters   map[string]*labeled[*prometheus.CounterVec]
	gauges     map[string]*labeled[*prometheus.GaugeVec]
	histograms map[string]*labeled[*prometheus.HistogramVec]
}

type labeled[V any] struct {
	vec    V
	labels []string
}

func (l *labeled[V]) values(labels map[string]string) []string {
	out := make([]string, len(l.labels))
	for i, name := range l.labels {
		out[i] = labels[name]
	}
	return out
}

// NewPrometheusMetrics registers collectors with reg. A nil reg uses the
// default Prometheus registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{
		factory:    promauto.With(reg),
		counters:   make(map[string]*labeled[*prometheus.CounterVec]),
		gauges:     make(map[string]*labeled[*prometheus.GaugeVec]),
		histograms: make(map[string]*labeled[*prometheus.HistogramVec]),
	}
}

func labelNames(labels map[string]string) []string {
	return slices.Sorted(maps.Keys(labels))
}

// RecordLatency observes duration in the histogram <operation>_duration_seconds.
func (pm *PrometheusMetrics) RecordLatency(operation string, duration time.Duration, labels map[string]string) {
	pm.RecordHistogram(operation+"_duration_seconds", duration.Seconds(), labels)
}

// RecordCounter adds value to a counter. Negative values are ignored.
func (pm *PrometheusMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	if value < 0 {
		return
	}
	pm.mu.Lock()
	c, ok := pm.counters[metric]
	if !ok {
		names := labelNames(labels)
		c = &labeled[*prometheus.CounterVec]{
			vec: pm.factory.NewCounterVec(prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      metric,
				Help:      helpFor(metric),
			}, names),
			labels: names,
		}
		pm.counters[metric] = c
	}
	pm.mu.Unlock()

	c.vec.WithLabelValues(c.values(labels)...).Add(value)
}

// RecordGauge sets a gauge.
func (pm *PrometheusMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	pm.mu.Lock()
	g, ok := pm.gauges[metric]
	if !ok {
		names := labelNames(labels)
		g = &labeled[*prometheus.GaugeVec]{
			vec: pm.factory.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      metric,
				Help:      helpFor(metric),
			}, names),
			labels: names,
		}
		pm.gauges[metric] = g
	}
	pm.mu.Unlock()

	g.vec.WithLabelValues(g.values(labels)...).Set(value)
}

// RecordHistogram observes value. Metrics named *_seconds use the default
// latency buckets; anything else is treated as a small count.
func (pm *PrometheusMetrics) RecordHistogram(metric string, value float64, labels map[string]string) {
	pm.mu.Lock()
	h, ok := pm.histograms[metric]
	if !ok {
		names := labelNames(labels)
		buckets := prometheus.DefBuckets
		if !strings.HasSuffix(metric, "_seconds") {
			buckets = prometheus.LinearBuckets(0, 1, 11)
		}
		h = &labeled[*prometheus.HistogramVec]{
			vec: pm.factory.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      metric,
				Help:      helpFor(metric),
				Buckets:   buckets,
			}, names),
			labels: names,
		}
		pm.histograms[metric] = h
	}
	pm.mu.Unlock()

	h.vec.WithLabelValues(h.values(labels)...).Observe(value)
}

var help = map[string]string{
	"inference_total":                "Model inference calls by skill and outcome.",
	"inference_latency_seconds":      "Model inference latency.",
	"fusion_total":                   "Fusion runs by skill and outcome.",
	"fusion_missing_sources":         "Number of missing sources per fused assessment.",
	"evidence_candidates":            "Evidence candidates scored per extraction.",
	"evidence_selected":              "Evidence items selected per extraction.",
	"evidence_source_failures_total": "Evidence source lookups that failed.",
	"source_failures_total":          "Score source lookups that failed and were treated as absent.",
	"reasoning_total":                "Reasoning generations by outcome.",
	"cache_hits_total":               "Reasoning cache hits.",
	"cache_misses_total":             "Reasoning cache misses.",
	"cache_evictions_total":          "Reasoning cache evictions.",
	"governor_decisions_total":       "Governor decisions by reason.",
	"governor_cost_total":            "Estimated completion spend.",
	"governor_daily_cost":            "Estimated completion spend for the current day.",
	"governor_alert":                 "1 when today's spend has crossed the alert threshold.",
	"governor_ledger_errors_total":   "Ledger persistence failures.",
	"llm_requests_total":             "Completion requests by provider, model and status.",
	"llm_latency_seconds":            "Completion request latency.",
	"llm_tokens_total":               "Completion tokens by direction.",
	"llm_circuit_state":              "Circuit breaker state (0 closed, 1 open, 2 half-open).",
	"llm_circuit_rejections_total":   "Requests rejected by the open circuit.",
}

func helpFor(metric string) string {
	if h, ok := help[metric]; ok {
		return h
	}
	return strings.ReplaceAll(metric, "_", " ")
}
