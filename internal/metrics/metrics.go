// Package metrics exposes Prometheus collectors for the inbound pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mercabot"

// Turn results.
const (
	TurnOK       = "ok"
	TurnFallback = "fallback"
	TurnBusy     = "busy"
	TurnPanic    = "panic"
)

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	reg *prometheus.Registry

	fragments   *prometheus.CounterVec
	turns       *prometheus.CounterVec
	turnSeconds prometheus.Histogram
	compactions *prometheus.CounterVec
	aggregators prometheus.Gauge
	faults      *prometheus.CounterVec
}

// New creates a registry with the process collectors and the pipeline metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		fragments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_fragments_total",
			Help:      "Inbound message fragments by dispatch status.",
		}, []string{"status"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by result.",
		}, []string{"result"}),
		turnSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a conversation turn.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 90},
		}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compactions_total",
			Help:      "Conversation compactions by result.",
		}, []string{"result"}),
		aggregators: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aggregators_active",
			Help:      "Debounce aggregators currently watching a buffer.",
		}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_step_faults_total",
			Help:      "Non-fatal turn step failures by step.",
		}, []string{"step"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fragments, m.turns, m.turnSeconds, m.compactions, m.aggregators, m.faults,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Fragment(status string) {
	if m == nil {
		return
	}
	m.fragments.WithLabelValues(status).Inc()
}

func (m *Metrics) Turn(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(result).Inc()
	if result != TurnBusy {
		m.turnSeconds.Observe(d.Seconds())
	}
}

func (m *Metrics) StepFault(step string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(step).Inc()
}

func (m *Metrics) Compaction(result string) {
	if m == nil {
		return
	}
	m.compactions.WithLabelValues(result).Inc()
}

// AggregatorStarted increments the active gauge and returns the matching decrement.
func (m *Metrics) AggregatorStarted() func() {
	if m == nil {
		return func() {}
	}
	m.aggregators.Inc()
	return m.aggregators.Dec
}
