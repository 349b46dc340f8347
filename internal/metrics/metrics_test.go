package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTerminalIncrementsByState(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTaskMetricsWithRegisterer(reg)

	m.RecordTerminal("COMPLETE")
	m.RecordTerminal("COMPLETE")
	m.RecordTerminal("ERROR")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.terminal.WithLabelValues("COMPLETE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.terminal.WithLabelValues("ERROR")))
}

func TestSetQueueDepthReportsLatestValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTaskMetricsWithRegisterer(reg)

	m.SetQueueDepth(3)
	m.SetQueueDepth(5)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.queueDepth))
}

func TestRecordClarifyAskedAndTimeoutIncrementCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewTaskMetricsWithRegisterer(reg)

	m.RecordClarifyAsked()
	m.RecordClarifyAsked()
	m.RecordTimeout()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.clarifyAsked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.timeouts))
}

func TestTwoRegisterersDoNotCollide(t *testing.T) {
	regA := prometheus.NewRegistry()
	regB := prometheus.NewRegistry()

	assert.NotPanics(t, func() {
		NewTaskMetricsWithRegisterer(regA)
		NewTaskMetricsWithRegisterer(regB)
	})
}
