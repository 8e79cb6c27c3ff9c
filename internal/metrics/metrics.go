// Package metrics provides Prometheus instrumentation for the flagcore
// evaluation engine.
//
// All metrics are registered in a custom [prometheus.Registry] (not the
// global default) so that embedding multiple [FlagEvaluator] instances in
// one process, or embedding one inside a host that has its own metrics,
// never collides on collector names.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors used by a FlagEvaluator instance.
type Metrics struct {
	Registry *prometheus.Registry

	EvaluationsTotal    *prometheus.CounterVec
	EvaluationDuration  prometheus.Histogram
	UpdateStateTotal    *prometheus.CounterVec
	UpdateStateDuration prometheus.Histogram
	StoreGeneration     prometheus.Gauge
	StoreFlagCount      prometheus.Gauge
	InvalidFlagCount    prometheus.Gauge
}

// New creates and registers all flagcore metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagcore_evaluations_total",
			Help: "Total number of flag evaluations, labeled by reason.",
		}, []string{"reason"}),

		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flagcore_evaluation_duration_seconds",
			Help:    "Flag evaluation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
		}),

		UpdateStateTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flagcore_update_state_total",
			Help: "Total number of update_state calls, labeled by outcome.",
		}, []string{"success"}),

		UpdateStateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flagcore_update_state_duration_seconds",
			Help:    "update_state latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		StoreGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flagcore_store_generation",
			Help: "Current flag store generation.",
		}),

		StoreFlagCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flagcore_store_flag_count",
			Help: "Number of flags in the current generation.",
		}),

		InvalidFlagCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flagcore_store_invalid_flag_count",
			Help: "Number of flags that failed schema or targeting validation in permissive mode.",
		}),
	}

	reg.MustRegister(
		m.EvaluationsTotal,
		m.EvaluationDuration,
		m.UpdateStateTotal,
		m.UpdateStateDuration,
		m.StoreGeneration,
		m.StoreFlagCount,
		m.InvalidFlagCount,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics. A host
// embedding flagcore mounts this under its own metrics endpoint; the
// engine itself never starts a listener.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordEvaluation increments the evaluation counter for the given reason
// and observes the evaluation's wall-clock duration.
func (m *Metrics) RecordEvaluation(reason string, seconds float64) {
	m.EvaluationsTotal.WithLabelValues(reason).Inc()
	m.EvaluationDuration.Observe(seconds)
}

// RecordUpdateState increments the update_state counter for the given
// outcome and observes the call's wall-clock duration.
func (m *Metrics) RecordUpdateState(success bool, seconds float64) {
	label := "false"
	if success {
		label = "true"
	}
	m.UpdateStateTotal.WithLabelValues(label).Inc()
	m.UpdateStateDuration.Observe(seconds)
}

// SetStoreStats updates the generation, flag-count, and invalid-flag-count
// gauges after a successful update_state.
func (m *Metrics) SetStoreStats(generation uint64, flagCount, invalidCount int) {
	m.StoreGeneration.Set(float64(generation))
	m.StoreFlagCount.Set(float64(flagCount))
	m.InvalidFlagCount.Set(float64(invalidCount))
}
