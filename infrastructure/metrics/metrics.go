// Package metrics provides Prometheus metrics collection
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the reconciliation engine
type Metrics struct {
	// Reconciliation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ResourcesInFlight prometheus.Gauge

	// Backend metrics
	BackendCallsTotal   *prometheus.CounterVec
	BackendCallDuration *prometheus.HistogramVec
	RetriesTotal        *prometheus.CounterVec

	// Drift metrics
	DriftEntriesTotal   *prometheus.CounterVec
	UnmanagedResources  prometheus.Gauge
	CompliantResources  prometheus.Gauge
}

// New creates a new Metrics instance with all collectors registered
func New(engine string) *Metrics {
	return NewWithRegistry(engine, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(engine string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brickkit_operations_total",
				Help: "Total number of reconcile operations",
			},
			[]string{"engine", "resource_type", "operation", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brickkit_operation_duration_seconds",
				Help:    "Reconcile operation duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"engine", "resource_type", "operation"},
		),
		ResourcesInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "brickkit_resources_in_flight",
				Help: "Resources currently being reconciled",
			},
		),
		BackendCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brickkit_backend_calls_total",
				Help: "Total number of backend calls",
			},
			[]string{"engine", "backend", "operation", "status"},
		),
		BackendCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "brickkit_backend_call_duration_seconds",
				Help:    "Backend call duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"engine", "backend", "operation"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brickkit_retries_total",
				Help: "Total number of retried backend calls",
			},
			[]string{"engine", "resource_type"},
		),
		DriftEntriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "brickkit_drift_entries_total",
				Help: "Drift entries detected by severity",
			},
			[]string{"engine", "severity"},
		),
		UnmanagedResources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "brickkit_unmanaged_resources",
				Help: "Observed resources absent from declared state",
			},
		),
		CompliantResources: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "brickkit_compliant_resources",
				Help: "Declared resources with no drift",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.OperationsTotal,
			m.OperationDuration,
			m.ResourcesInFlight,
			m.BackendCallsTotal,
			m.BackendCallDuration,
			m.RetriesTotal,
			m.DriftEntriesTotal,
			m.UnmanagedResources,
			m.CompliantResources,
		)
	}
	return m
}

// ObserveOperation records one finished reconcile operation.
func (m *Metrics) ObserveOperation(engine, resourceType, operation, outcome string, d time.Duration) {
	m.OperationsTotal.WithLabelValues(engine, resourceType, operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(engine, resourceType, operation).Observe(d.Seconds())
}

// ObserveBackendCall records one backend call.
func (m *Metrics) ObserveBackendCall(engine, backend, operation, status string, d time.Duration) {
	m.BackendCallsTotal.WithLabelValues(engine, backend, operation, status).Inc()
	m.BackendCallDuration.WithLabelValues(engine, backend, operation).Observe(d.Seconds())
}
