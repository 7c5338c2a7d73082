// File: internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles the Prometheus collectors of the execution engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  prometheus.Histogram
	IterationsTotal    *prometheus.CounterVec
	InstructionsTotal  *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
	ActiveExecutions   prometheus.Gauge
	BrowserSessions    prometheus.Gauge
	BrowserLaunches    prometheus.Counter
	RoutineRunsTotal   *prometheus.CounterVec
	DataOperationTotal *prometheus.CounterVec
}

// New constructs and registers all collectors on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: registry,
		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapeflow_executions_total",
				Help: "Finished scraper executions by outcome.",
			},
			[]string{"outcome"},
		),
		ExecutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scrapeflow_execution_duration_seconds",
				Help:    "Wall clock duration of scraper executions.",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
		),
		IterationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapeflow_iterations_total",
				Help: "Finished iterations by terminal entry type.",
			},
			[]string{"result"},
		),
		InstructionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapeflow_instructions_total",
				Help: "Executed instructions by type.",
			},
			[]string{"type"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapeflow_errors_total",
				Help: "Terminal iteration errors by kind.",
			},
			[]string{"kind"},
		),
		ActiveExecutions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrapeflow_active_executions",
				Help: "Executions currently pending or executing.",
			},
		),
		BrowserSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scrapeflow_browser_sessions",
				Help: "Live browser sessions holding a slot.",
			},
		),
		BrowserLaunches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scrapeflow_browser_launches_total",
				Help: "Browser processes launched.",
			},
		),
		RoutineRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapeflow_routine_runs_total",
				Help: "Routine runs by outcome.",
			},
			[]string{"outcome"},
		),
		DataOperationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scrapeflow_data_operations_total",
				Help: "Data source operations by kind.",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.ExecutionsTotal, m.ExecutionDuration, m.IterationsTotal, m.InstructionsTotal,
		m.ErrorsTotal, m.ActiveExecutions, m.BrowserSessions, m.BrowserLaunches,
		m.RoutineRunsTotal, m.DataOperationTotal,
	)
	return m
}

// ObserveExecution records a finished execution.
func (m *Metrics) ObserveExecution(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(outcome).Inc()
	m.ExecutionDuration.Observe(d.Seconds())
}

// IncIteration counts a finished iteration.
func (m *Metrics) IncIteration(result string) {
	if m == nil {
		return
	}
	m.IterationsTotal.WithLabelValues(result).Inc()
}

// IncInstruction counts an executed instruction.
func (m *Metrics) IncInstruction(instructionType string) {
	if m == nil {
		return
	}
	m.InstructionsTotal.WithLabelValues(instructionType).Inc()
}

// IncError counts a terminal error.
func (m *Metrics) IncError(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

// ExecutionStarted and ExecutionFinished track in-flight executions.
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.ActiveExecutions.Inc()
}

func (m *Metrics) ExecutionFinished() {
	if m == nil {
		return
	}
	m.ActiveExecutions.Dec()
}

// SessionOpened records a browser launch holding a slot.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.BrowserLaunches.Inc()
	m.BrowserSessions.Inc()
}

// SessionClosed records a released slot.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.BrowserSessions.Dec()
}

// IncRoutineRun counts a routine run.
func (m *Metrics) IncRoutineRun(outcome string) {
	if m == nil {
		return
	}
	m.RoutineRunsTotal.WithLabelValues(outcome).Inc()
}

// IncDataOperation counts a data source operation.
func (m *Metrics) IncDataOperation(operation string) {
	if m == nil {
		return
	}
	m.DataOperationTotal.WithLabelValues(operation).Inc()
}
