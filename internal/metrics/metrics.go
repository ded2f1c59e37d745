// Package metrics exposes Prometheus counters for visits, tasks and tamper
// activity. It is fed from the event bus so no component has to know about it.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dohr-michael/taskgate/internal/events"
)

// Metrics holds all Prometheus metrics for taskgate.
type Metrics struct {
	VisitsStarted  prometheus.Counter
	VisitsActive   prometheus.Gauge
	VisitsClosed   *prometheus.CounterVec
	TasksCompleted prometheus.Counter
	GatesUnlocked  prometheus.Counter
	Reveals        prometheus.Counter
	DecodeFailures prometheus.Counter

	// Tamper metrics, labelled by probe kind
	Violations *prometheus.CounterVec
	Lockouts   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		VisitsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskgate_visits_started_total",
			Help: "Total number of visits started",
		}),
		VisitsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "taskgate_visits_active",
			Help: "Number of visits currently open",
		}),
		VisitsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskgate_visits_closed_total",
			Help: "Total number of visits closed, by reason",
		}, []string{"reason"}),
		TasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskgate_tasks_completed_total",
			Help: "Total number of tasks completed",
		}),
		GatesUnlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskgate_gates_unlocked_total",
			Help: "Total number of visits that completed every task",
		}),
		Reveals: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskgate_reveals_total",
			Help: "Total number of resource references revealed",
		}),
		DecodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "taskgate_resource_decode_failures_total",
			Help: "Total number of visits whose resource reference failed to decode",
		}),
		Violations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskgate_tamper_violations_total",
			Help: "Total number of tamper violations, by probe kind",
		}, []string{"kind"}),
		Lockouts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "taskgate_tamper_lockouts_total",
			Help: "Total number of lockouts, by the probe kind that tripped them",
		}, []string{"kind"}),
	}
}

// NewRegistry creates a fresh registry with taskgate metrics and the Go
// runtime collectors.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return reg, NewMetrics(reg)
}

// HandlerFor returns the /metrics handler for a registry.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observe subscribes m to the bus. The returned function unsubscribes.
func (m *Metrics) Observe(bus *events.Bus) func() {
	return bus.Subscribe(m.record,
		events.EventVisitStarted,
		events.EventVisitClosed,
		events.EventTaskState,
		events.EventGateUnlocked,
		events.EventGateRevealed,
		events.EventResourceDecodeFailed,
		events.EventTamperViolation,
		events.EventTamperLockout,
	)
}

func (m *Metrics) record(e events.Event) {
	switch e.Type {
	case events.EventVisitStarted:
		m.VisitsStarted.Inc()
		m.VisitsActive.Inc()
	case events.EventVisitClosed:
		p, _ := events.ExtractPayload[events.VisitClosedPayload](e)
		m.VisitsActive.Dec()
		m.VisitsClosed.WithLabelValues(p.Reason).Inc()
	case events.EventTaskState:
		if p, ok := events.GetTaskStatePayload(e); ok && p.State == "completed" {
			m.TasksCompleted.Inc()
		}
	case events.EventGateUnlocked:
		m.GatesUnlocked.Inc()
	case events.EventGateRevealed:
		m.Reveals.Inc()
	case events.EventResourceDecodeFailed:
		m.DecodeFailures.Inc()
	case events.EventTamperViolation:
		if p, ok := events.GetViolationPayload(e); ok {
			m.Violations.WithLabelValues(p.Kind).Inc()
		}
	case events.EventTamperLockout:
		if p, ok := events.GetLockoutPayload(e); ok {
			m.Lockouts.WithLabelValues(p.Kind).Inc()
		}
	}
}
