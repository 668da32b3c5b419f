package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the capsule lifecycle engine.
type Metrics struct {
	// Stage transitions by target stage
	Transitions *prometheus.CounterVec

	// Gate decisions by action and outcome
	GateDecisions *prometheus.CounterVec

	// Records skipped by engines, by reason
	Skips *prometheus.CounterVec

	// Ambiguous discrepancies queued for human review
	Escalations prometheus.Counter

	// Full operation latency by operation name
	OperationLatency *prometheus.HistogramVec
}

// New creates a Metrics instance with all capsule engine metrics registered.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "capstate_stage_transitions_total",
			Help: "Total promotion stage transitions by target stage",
		}, []string{"target"}),

		GateDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "capstate_gate_decisions_total",
			Help: "Total authorization gate decisions by action and outcome",
		}, []string{"action", "outcome"}), // outcome: "allowed", "denied"

		Skips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "capstate_engine_skips_total",
			Help: "Total records skipped by engines, by reason",
		}, []string{"reason"}), // reason: "locked", "ineligible", "already_imported"

		Escalations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "capstate_reconcile_escalations_total",
			Help: "Total ambiguous discrepancies escalated for manual review",
		}),

		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "capstate_operation_duration_seconds",
			Help:    "Duration of capsule state operations end to end",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
	}
}

// IncrementTransition records a successful stage transition.
func (m *Metrics) IncrementTransition(target string) {
	if m != nil {
		m.Transitions.WithLabelValues(target).Inc()
	}
}

// IncrementGateDecision records a gate decision outcome.
func (m *Metrics) IncrementGateDecision(action string, allowed bool) {
	if m != nil {
		outcome := "denied"
		if allowed {
			outcome = "allowed"
		}
		m.GateDecisions.WithLabelValues(action, outcome).Inc()
	}
}

// AddSkips records records skipped by an engine pass.
func (m *Metrics) AddSkips(reason string, n int) {
	if m != nil && n > 0 {
		m.Skips.WithLabelValues(reason).Add(float64(n))
	}
}

// AddEscalations records escalations raised by a reconciliation pass.
func (m *Metrics) AddEscalations(n int) {
	if m != nil && n > 0 {
		m.Escalations.Add(float64(n))
	}
}

// ObserveOperation records the total duration of one operation.
func (m *Metrics) ObserveOperation(operation string, d time.Duration) {
	if m != nil {
		m.OperationLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}
