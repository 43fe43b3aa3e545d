package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/lifeline/internal/session"
)

// Hooks are optional callbacks fired by the Service. Nil fields are skipped.
type Hooks struct {
	// OnTurn fires after every processed turn.
	OnTurn func(state session.State, urgency, confidence, latency float64)
	// OnResponder fires for every responder invocation.
	OnResponder func(kind session.Kind, failed bool)
	// OnDispatch fires when a recommendation is created.
	OnDispatch func(priority session.Priority, reason string)
	// OnOverride fires when the safety monitor forces a transition.
	OnOverride func(o session.Override)
	// OnSession fires on lifecycle operations: start, close, reopen.
	OnSession func(op string)
	// OnNotify fires after each notifier call.
	OnNotify func(failed bool)
	// OnReject fires when a turn is rejected before processing.
	OnReject func(reason string)
	// OnSlowTurn fires when a turn exceeds the response time threshold.
	OnSlowTurn func(seconds float64)
}

// Metrics holds Prometheus metrics for the orchestrator.
type Metrics struct {
	TurnsTotal        *prometheus.CounterVec
	TurnDuration      prometheus.Histogram
	TurnUrgency       prometheus.Histogram
	TurnConfidence    prometheus.Histogram
	ResponderCalls    *prometheus.CounterVec
	DispatchesTotal   *prometheus.CounterVec
	OverridesTotal    *prometheus.CounterVec
	SessionOpsTotal   *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
	RejectsTotal      *prometheus.CounterVec
	SlowTurnsTotal    prometheus.Counter
}

// NewMetrics registers and returns orchestrator metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_turns_total",
			Help: "Total processed turns by resulting session state.",
		}, []string{"state"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifeline_turn_duration_seconds",
			Help:    "Engine processing time per turn in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us .. ~26s
		}),
		TurnUrgency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifeline_turn_urgency",
			Help:    "Urgency score per turn.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0 .. 1
		}),
		TurnConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lifeline_turn_confidence",
			Help:    "Merged reply confidence per turn.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11), // 0 .. 1
		}),
		ResponderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_responder_calls_total",
			Help: "Total responder invocations by responder and status.",
		}, []string{"responder", "status"}),
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_dispatches_total",
			Help: "Total dispatch recommendations by priority and reason.",
		}, []string{"priority", "reason"}),
		OverridesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_safety_overrides_total",
			Help: "Total safety overrides by kind.",
		}, []string{"override"}),
		SessionOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_session_operations_total",
			Help: "Total session lifecycle operations.",
		}, []string{"op"}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_dispatch_notifications_total",
			Help: "Total dispatch notifications by result.",
		}, []string{"result"}),
		RejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeline_turn_rejects_total",
			Help: "Total turns rejected before processing by reason.",
		}, []string{"reason"}),
		SlowTurnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifeline_slow_turns_total",
			Help: "Total turns that exceeded the response time threshold.",
		}),
	}

	reg.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.TurnUrgency,
		m.TurnConfidence,
		m.ResponderCalls,
		m.DispatchesTotal,
		m.OverridesTotal,
		m.SessionOpsTotal,
		m.NotificationsSent,
		m.RejectsTotal,
		m.SlowTurnsTotal,
	)

	return m
}

// Hooks returns Service hooks that increment the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnTurn: func(state session.State, urgency, confidence, latency float64) {
			m.TurnsTotal.WithLabelValues(string(state)).Inc()
			m.TurnDuration.Observe(latency)
			m.TurnUrgency.Observe(urgency)
			m.TurnConfidence.Observe(confidence)
		},
		OnResponder: func(kind session.Kind, failed bool) {
			status := "success"
			if failed {
				status = "error"
			}
			m.ResponderCalls.WithLabelValues(string(kind), status).Inc()
		},
		OnDispatch: func(priority session.Priority, reason string) {
			m.DispatchesTotal.WithLabelValues(string(priority), reason).Inc()
		},
		OnOverride: func(o session.Override) {
			m.OverridesTotal.WithLabelValues(string(o)).Inc()
		},
		OnSession: func(op string) {
			m.SessionOpsTotal.WithLabelValues(op).Inc()
		},
		OnNotify: func(failed bool) {
			result := "success"
			if failed {
				result = "error"
			}
			m.NotificationsSent.WithLabelValues(result).Inc()
		},
		OnReject: func(reason string) {
			m.RejectsTotal.WithLabelValues(reason).Inc()
		},
		OnSlowTurn: func(float64) {
			m.SlowTurnsTotal.Inc()
		},
	}
}
