// Package metrics exposes Prometheus metrics for test runs.
//
// Metrics:
//   - agent_testing_conversations_total{status} - conversations finished, by chat status
//   - agent_testing_verdicts_total{result} - judge verdicts, "correct" or "incorrect"
//   - agent_testing_turn_duration_seconds - agent endpoint response time per turn
//   - agent_testing_runs_in_progress - runs currently executing
//
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors.
type Metrics struct {
	ConversationsTotal *prometheus.CounterVec
	VerdictsTotal      *prometheus.CounterVec
	TurnDuration       prometheus.Histogram
	RunsInProgress     prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg. A nil reg uses a
// fresh registry, which keeps tests independent of each other.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		ConversationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_testing_conversations_total",
				Help: "Total number of conversations finished, by status",
			},
			[]string{"status"}, // "passed" or "failed"
		),
		VerdictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_testing_verdicts_total",
				Help: "Total number of judge verdicts, by result",
			},
			[]string{"result"},
		),
		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agent_testing_turn_duration_seconds",
				Help:    "Response time of the agent under test per turn in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		),
		RunsInProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agent_testing_runs_in_progress",
				Help: "Number of test runs currently executing",
			},
		),
		gatherer: reg,
	}
}

// ObserveTurn records the response time of one agent call.
func (m *Metrics) ObserveTurn(d time.Duration) {
	if m == nil {
		return
	}
	m.TurnDuration.Observe(d.Seconds())
}

// ConversationFinished counts a conversation by its final status.
func (m *Metrics) ConversationFinished(status string) {
	if m == nil {
		return
	}
	m.ConversationsTotal.WithLabelValues(status).Inc()
}

// Verdict counts a judge verdict.
func (m *Metrics) Verdict(correct bool) {
	if m == nil {
		return
	}
	result := "incorrect"
	if correct {
		result = "correct"
	}
	m.VerdictsTotal.WithLabelValues(result).Inc()
}

// RunStarted increments the in-progress gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsInProgress.Inc()
}

// RunFinished decrements the in-progress gauge.
func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.RunsInProgress.Dec()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
