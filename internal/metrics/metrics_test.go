// File: internal/metrics/metrics_test.go
package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecording(t *testing.T) {
	m := New()

	m.ObserveExecution("success", 2*time.Second)
	m.ObserveExecution("error", time.Second)
	m.ObserveExecution("error", time.Second)
	m.IncIteration("success")
	m.IncInstruction("pageAction")
	m.IncError("ElementNotFound")
	m.ExecutionStarted()
	m.ExecutionStarted()
	m.ExecutionFinished()
	m.SessionOpened()
	m.IncRoutineRun("success")
	m.IncDataOperation("write")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveExecutions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BrowserSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BrowserLaunches))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("ElementNotFound")))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["scrapeflow_execution_duration_seconds"])
	assert.True(t, names["go_goroutines"])
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveExecution("success", time.Second)
		m.IncIteration("error")
		m.IncInstruction("jump")
		m.IncError("Terminated")
		m.ExecutionStarted()
		m.ExecutionFinished()
		m.SessionOpened()
		m.SessionClosed()
		m.IncRoutineRun("error")
		m.IncDataOperation("read")
	})
}
