// Package metrics holds the Prometheus collectors for pciledger.
//
// All recording methods are safe to call on a nil *Metrics so that
// packages can be used without observability wired in (tests, CLI).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for pciledger.
type Metrics struct {
	AuditEntries  *prometheus.CounterVec
	AuditFailures *prometheus.CounterVec

	Transitions         *prometheus.CounterVec
	TransitionConflicts prometheus.Counter
	FlagEvents          *prometheus.CounterVec

	ReportDuration *prometheus.HistogramVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates a Metrics instance with all collectors registered on registry.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		AuditEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pciledger_audit_entries_total",
				Help: "Total number of audit entries appended",
			},
			[]string{"action", "entity_type"},
		),
		AuditFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pciledger_audit_failures_total",
				Help: "Total number of audit appends that failed",
			},
			[]string{"action"},
		),
		Transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pciledger_status_transitions_total",
				Help: "Total number of committed task status transitions",
			},
			[]string{"to"},
		),
		TransitionConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pciledger_transition_conflicts_total",
				Help: "Total number of rejected transitions out of a terminal status",
			},
		),
		FlagEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pciledger_flag_events_total",
				Help: "Total number of flag lifecycle events",
			},
			[]string{"event"},
		),
		ReportDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pciledger_report_duration_seconds",
				Help:    "Aggregation duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"kind"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pciledger_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "code"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pciledger_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}

// NewRegistry creates an isolated registry with metrics registered.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, New(reg)
}

// Handler returns the scrape handler for reg.
func Handler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) AuditRecorded(action, entityType string) {
	if m == nil {
		return
	}
	m.AuditEntries.WithLabelValues(action, entityType).Inc()
}

func (m *Metrics) AuditFailed(action string) {
	if m == nil {
		return
	}
	m.AuditFailures.WithLabelValues(action).Inc()
}

func (m *Metrics) Transitioned(to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(to).Inc()
}

func (m *Metrics) TransitionRejected() {
	if m == nil {
		return
	}
	m.TransitionConflicts.Inc()
}

func (m *Metrics) FlagEvent(event string) {
	if m == nil {
		return
	}
	m.FlagEvents.WithLabelValues(event).Inc()
}

// ObserveReport records how long an aggregation of kind took since start.
func (m *Metrics) ObserveReport(kind string, start time.Time) {
	if m == nil {
		return
	}
	m.ReportDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveHTTP(method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(d.Seconds())
}
