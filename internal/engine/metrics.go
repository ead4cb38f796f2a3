package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the execution engine.
type Metrics struct {
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	ValidationFailures *prometheus.CounterVec
	WorkerKills        prometheus.Counter
	OutputEvents       *prometheus.CounterVec
}

// NewMetrics creates and registers engine metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Total script executions by language, database kind, and outcome.",
		}, []string{"language", "database", "status"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scriptbox",
			Subsystem: "engine",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock duration of script executions.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"language", "database"}),

		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "engine",
			Name:      "validation_failures_total",
			Help:      "Scripts rejected before spawn, by failure kind.",
		}, []string{"kind"}),

		WorkerKills: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "engine",
			Name:      "worker_kills_total",
			Help:      "Workers killed by the engine for missing the deadline.",
		}),

		OutputEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "engine",
			Name:      "output_events_total",
			Help:      "Worker output events received, by event type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ValidationFailures,
		m.WorkerKills,
		m.OutputEvents,
	)

	return m
}
