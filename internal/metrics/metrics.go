// Package metrics exposes the prometheus collectors of the payment core.
// A Metrics built from a nil registerer records nothing, so callers never
// need to nil-check.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pos_payments"

type Metrics struct {
	terminalRequests  *prometheus.CounterVec
	terminalLatency   *prometheus.HistogramVec
	intentTransitions *prometheus.CounterVec
	reconciliations   *prometheus.CounterVec
	reversals         *prometheus.CounterVec
	outboxEvents      *prometheus.CounterVec
	syncAttempts      *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	jobDuration       *prometheus.HistogramVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}

	m := &Metrics{
		terminalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_requests_total",
			Help:      "Terminal requests by type and outcome.",
		}, []string{"type", "outcome"}),
		terminalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "terminal_request_duration_seconds",
			Help:      "Terminal round trip time by request type.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"type"}),
		intentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intent_transitions_total",
			Help:      "Payment intent state transitions by target state.",
		}, []string{"state"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Order payment reconciliations by outcome.",
		}, []string{"outcome"}),
		reversals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reversals_total",
			Help:      "Processor reversals by outcome.",
		}, []string{"outcome"}),
		outboxEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_total",
			Help:      "Outbox publish attempts by outcome.",
		}, []string{"outcome"}),
		syncAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offline_sync_attempts_total",
			Help:      "Offline queue sync attempts by outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_queue_depth",
			Help:      "Entries waiting in the offline queue.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of background job runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}

	reg.MustRegister(
		m.terminalRequests,
		m.terminalLatency,
		m.intentTransitions,
		m.reconciliations,
		m.reversals,
		m.outboxEvents,
		m.syncAttempts,
		m.queueDepth,
		m.jobDuration,
	)
	return m
}

func (m *Metrics) ObserveTerminal(requestType, outcome string, d time.Duration) {
	if m == nil || m.terminalRequests == nil {
		return
	}
	m.terminalRequests.WithLabelValues(requestType, normalizeLabel(outcome)).Inc()
	m.terminalLatency.WithLabelValues(requestType).Observe(d.Seconds())
}

func (m *Metrics) IncIntentTransition(state string) {
	if m == nil || m.intentTransitions == nil {
		return
	}
	m.intentTransitions.WithLabelValues(normalizeLabel(state)).Inc()
}

func (m *Metrics) IncReconciliation(outcome string) {
	if m == nil || m.reconciliations == nil {
		return
	}
	m.reconciliations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncReversal(outcome string) {
	if m == nil || m.reversals == nil {
		return
	}
	m.reversals.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncOutbox(outcome string) {
	if m == nil || m.outboxEvents == nil {
		return
	}
	m.outboxEvents.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncSync(outcome string) {
	if m == nil || m.syncAttempts == nil {
		return
	}
	m.syncAttempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) ObserveJob(job string, d time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(normalizeLabel(job)).Observe(d.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
