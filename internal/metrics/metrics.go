package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/simplerules/rules"
)

// Run outcomes reported by <ns>_runs_total
const (
	OutcomeStopped   = "stopped"
	OutcomeExhausted = "exhausted"
	OutcomeEmpty     = "empty"
	OutcomeError     = "error"
)

// RunMetrics records rule runs as Prometheus metrics. It implements rules.Observer.
//
// Metrics:
//   - <ns>_rule_evaluations_total: rule evaluations by rule name and stop flag
//   - <ns>_rule_evaluation_duration_seconds: time spent in a single rule
//   - <ns>_runs_total: finished runs by outcome
//   - <ns>_rules_per_run: rules evaluated before a run finished
type RunMetrics struct {
	registry *prometheus.Registry

	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	runsTotal          *prometheus.CounterVec
	rulesPerRun        prometheus.Histogram
}

var _ rules.Observer = (*RunMetrics)(nil)

// NewRunMetrics creates and registers run metrics with the provided registry
func NewRunMetrics(namespace string, registry *prometheus.Registry) *RunMetrics {
	m := &RunMetrics{
		registry: registry,
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_evaluations_total",
				Help:      "Total number of rule evaluations",
			},
			[]string{"rule", "stop"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rule_evaluation_duration_seconds",
				Help:      "Duration of a single rule evaluation in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
			[]string{"rule"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of rule runs by outcome",
			},
			[]string{"outcome"},
		),
		rulesPerRun: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rules_per_run",
				Help:      "Number of rules evaluated per run",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
	}

	registry.MustRegister(
		m.evaluationsTotal,
		m.evaluationDuration,
		m.runsTotal,
		m.rulesPerRun,
	)

	return m
}

// RuleEvaluated records one rule evaluation
func (m *RunMetrics) RuleEvaluated(rule rules.Rule, index int, ev *rules.Evaluation, d time.Duration) {
	name := rules.RuleName(rule)
	m.evaluationsTotal.WithLabelValues(name, strconv.FormatBool(ev.Stop)).Inc()
	m.evaluationDuration.WithLabelValues(name).Observe(d.Seconds())
}

// RunFinished records the outcome of a run
func (m *RunMetrics) RunFinished(ev *rules.Evaluation, evaluated int, d time.Duration, err error) {
	m.runsTotal.WithLabelValues(Outcome(ev, err)).Inc()
	m.rulesPerRun.Observe(float64(evaluated))
}

// Outcome classifies a finished run
func Outcome(ev *rules.Evaluation, err error) string {
	switch {
	case err != nil:
		return OutcomeError
	case ev == nil:
		return OutcomeEmpty
	case ev.Stop:
		return OutcomeStopped
	default:
		return OutcomeExhausted
	}
}

// RegisterCounter exposes an atomic counter kept elsewhere, such as the logger's
// error counters, as a Prometheus counter
func (m *RunMetrics) RegisterCounter(namespace, name, help string, c *atomic.Int64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(c.Load()) },
	))
}

// Handler returns an HTTP handler serving the registry in the Prometheus exposition format
func (m *RunMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
