// Package metrics provides Prometheus metrics for the callboard service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "callboard"
	subsystem = "calls"
)

// Manager holds the service counters.
type Manager struct {
	registry prometheus.Registerer

	callsCreated    *prometheus.CounterVec
	callsAssigned   *prometheus.CounterVec
	callsCancelled  prometheus.Counter
	assignConflicts prometheus.Counter
	notifyFailures  prometheus.Counter
	httpRequests    *prometheus.CounterVec
}

var globalManager *Manager

var customRegistry = prometheus.NewRegistry()

func init() {
	globalManager = NewManager(customRegistry)
}

// NewManager registers the service metrics on the given registry.
func NewManager(reg prometheus.Registerer) *Manager {
	m := &Manager{registry: reg}
	auto := promauto.With(reg)

	m.callsCreated = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "created_total",
		Help:      "Total number of calls created, by kind",
	}, []string{"kind"})

	m.callsAssigned = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "assigned_total",
		Help:      "Total number of calls resolved to a responder, by kind",
	}, []string{"kind"})

	m.callsCancelled = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "cancelled_total",
		Help:      "Total number of open calls withdrawn by their requester",
	})

	m.assignConflicts = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "assign_conflicts_total",
		Help:      "Total number of respond attempts that lost the assignment race",
	})

	m.notifyFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "notify_failures_total",
		Help:      "Total number of failed notification deliveries (best-effort fan-out)",
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests by method and status code",
	}, []string{"method", "status_code"})

	return m
}

// RecordCallCreated increments the created counter for a kind.
func RecordCallCreated(kind string) {
	globalManager.callsCreated.WithLabelValues(kind).Inc()
}

// RecordCallAssigned increments the assigned counter for a kind.
func RecordCallAssigned(kind string) {
	globalManager.callsAssigned.WithLabelValues(kind).Inc()
}

// RecordCallsCancelled adds withdrawn calls to the cancelled counter.
func RecordCallsCancelled(n int) {
	globalManager.callsCancelled.Add(float64(n))
}

// RecordAssignConflict increments the lost-race counter.
func RecordAssignConflict() {
	globalManager.assignConflicts.Inc()
}

// RecordNotifyFailure increments the failed-delivery counter.
func RecordNotifyFailure() {
	globalManager.notifyFailures.Inc()
}

// RecordHTTPRequest records one served HTTP request.
func RecordHTTPRequest(method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(method, statusCode).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
