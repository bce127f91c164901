// Package metrics exposes Prometheus collectors for workflow activation and
// user lifecycle operations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tidewire"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeNoop    = "noop"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	registeredWorkflows  prometheus.Gauge
	transitions          *prometheus.CounterVec
	activationFailures   *prometheus.CounterVec
	triggerFirings       *prometheus.CounterVec
	notificationsDropped prometheus.Counter
	invitations          *prometheus.CounterVec
	lifecycleEvents      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		registeredWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_workflows",
			Help:      "Number of workflows whose triggers are live",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Workflow lifecycle transitions by kind and outcome",
		}, []string{"transition", "outcome"}),
		activationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_activation_failures_total",
			Help:      "Failed trigger registrations by activation reason",
		}, []string{"reason"}),
		triggerFirings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trigger_firings_total",
			Help:      "Trigger callbacks by trigger type",
		}, []string{"trigger_type"}),
		notificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications discarded because the dispatch queue was full",
		}),
		invitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invitations_total",
			Help:      "Invitation emails by outcome",
		}, []string{"outcome"}),
		lifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_total",
			Help:      "Lifecycle events consumed from the event bus by type",
		}, []string{"event_type"}),
	}

	m.registry.MustRegister(
		m.registeredWorkflows,
		m.transitions,
		m.activationFailures,
		m.triggerFirings,
		m.notificationsDropped,
		m.invitations,
		m.lifecycleEvents,
		collectors.NewGoCollector(),
	)

	return m
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetRegisteredWorkflows(n int) {
	if m == nil {
		return
	}

	m.registeredWorkflows.Set(float64(n))
}

func (m *Metrics) Transition(transition, outcome string) {
	if m == nil {
		return
	}

	m.transitions.WithLabelValues(transition, outcome).Inc()
}

func (m *Metrics) ActivationFailed(reason string) {
	if m == nil {
		return
	}

	m.activationFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) TriggerFired(triggerType string) {
	if m == nil {
		return
	}

	m.triggerFirings.WithLabelValues(triggerType).Inc()
}

func (m *Metrics) NotificationDropped() {
	if m == nil {
		return
	}

	m.notificationsDropped.Inc()
}

func (m *Metrics) Invitation(outcome string) {
	if m == nil {
		return
	}

	m.invitations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LifecycleEvent(eventType string) {
	if m == nil {
		return
	}

	m.lifecycleEvents.WithLabelValues(eventType).Inc()
}
