// Package metrics exposes forge's Prometheus instrumentation, grounded on
// the teacher's observability.ContextMetrics constructor shape
// (internal/observability/context_metrics_test.go) — a
// NewXWithRegisterer constructor so tests can bind a private registry
// instead of the global default.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TaskMetrics instruments the task lifecycle: terminal counts by outcome,
// execution latency, and queue depth.
type TaskMetrics struct {
	terminal     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
	clarifyAsked prometheus.Counter
	timeouts     prometheus.Counter
}

// NewTaskMetrics registers against the global default registerer.
func NewTaskMetrics() *TaskMetrics {
	return NewTaskMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewTaskMetricsWithRegisterer registers against reg, letting tests bind a
// private prometheus.NewRegistry() instead of polluting the default one.
func NewTaskMetricsWithRegisterer(reg prometheus.Registerer) *TaskMetrics {
	m := &TaskMetrics{
		terminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "task",
			Name:      "terminal_total",
			Help:      "Count of tasks reaching a terminal state, by resulting state.",
		}, []string{"state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "forge",
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a supervised executor run.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "forge",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of tasks currently QUEUED or RUNNING.",
		}),
		clarifyAsked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "clarify",
			Name:      "asked_total",
			Help:      "Count of clarification questions raised by executors.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "forge",
			Subsystem: "executor",
			Name:      "timeouts_total",
			Help:      "Count of executor runs that hit the hard wall-clock timeout.",
		}),
	}
	reg.MustRegister(m.terminal, m.duration, m.queueDepth, m.clarifyAsked, m.timeouts)
	return m
}

func (m *TaskMetrics) RecordTerminal(state string)                 { m.terminal.WithLabelValues(state).Inc() }
func (m *TaskMetrics) RecordDuration(outcome string, seconds float64) {
	m.duration.WithLabelValues(outcome).Observe(seconds)
}
func (m *TaskMetrics) SetQueueDepth(n int)  { m.queueDepth.Set(float64(n)) }
func (m *TaskMetrics) RecordClarifyAsked()  { m.clarifyAsked.Inc() }
func (m *TaskMetrics) RecordTimeout()       { m.timeouts.Inc() }

// Serve starts an HTTP server exposing /metrics and /healthz on addr. It
// blocks until the server stops; callers typically run it in its own
// goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return http.ListenAndServe(addr, mux)
}
