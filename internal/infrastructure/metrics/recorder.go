// Package metrics exposes engine measurements as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/workflow-engine/internal/application/port"
)

const namespace = "workflow"

// Recorder implements port.MetricsRecorder on its own registry
type Recorder struct {
	registry *prometheus.Registry

	instancesStarted  *prometheus.CounterVec
	instancesFinished *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	transitionLatency *prometheus.HistogramVec
	actionDuration    *prometheus.HistogramVec
	suggestions       *prometheus.CounterVec
}

// NewRecorder registers every collector on a fresh registry, together with
// the Go runtime and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		instancesStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_started_total",
			Help:      "Instances started, by definition",
		}, []string{"definition"}),
		instancesFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_finished_total",
			Help:      "Instances that left the running status, by definition and final status",
		}, []string{"definition", "status"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Transition attempts that reached the guard, by definition and outcome",
		}, []string{"definition", "outcome"}),
		transitionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transition_duration_seconds",
			Help:      "End-to-end duration of a transition attempt",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"definition"}),
		actionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Duration of action execution by action and result",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"action", "result"}),
		suggestions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_total",
			Help:      "Recommender suggestions by fate: offered, dropped after re-validation, or unavailable calls",
		}, []string{"result"}),
	}
}

// Registry returns the registry backing the recorder
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) InstanceStarted(definitionID string) {
	r.instancesStarted.WithLabelValues(label(definitionID)).Inc()
}

func (r *Recorder) TransitionAttempted(definitionID, outcome string, elapsed time.Duration) {
	r.transitions.WithLabelValues(label(definitionID), label(outcome)).Inc()
	r.transitionLatency.WithLabelValues(label(definitionID)).Observe(elapsed.Seconds())
}

func (r *Recorder) ActionExecuted(action string, err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	r.actionDuration.WithLabelValues(label(action), result).Observe(elapsed.Seconds())
}

func (r *Recorder) InstanceFinished(definitionID, status string) {
	r.instancesFinished.WithLabelValues(label(definitionID), label(status)).Inc()
}

// SuggestionsServed counts accepted suggestions as offered and the rest as dropped
func (r *Recorder) SuggestionsServed(offered, accepted int, err error) {
	if err != nil {
		r.suggestions.WithLabelValues("unavailable").Inc()
		return
	}
	r.suggestions.WithLabelValues("offered").Add(float64(accepted))
	if dropped := offered - accepted; dropped > 0 {
		r.suggestions.WithLabelValues("dropped").Add(float64(dropped))
	}
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

// Verify interface compliance
var _ port.MetricsRecorder = (*Recorder)(nil)
