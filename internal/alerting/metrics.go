package alerting

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the reachability watcher.
type Metrics struct {
	ProbesRun         prometheus.Counter
	ProbesUnreachable prometheus.Counter
	AlertsFired       prometheus.Counter
	TickDuration      prometheus.Histogram
}

// NewMetrics creates and registers watcher metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		ProbesRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "alerting",
			Name:      "probes_run_total",
			Help:      "Total reachability probes executed.",
		}),
		ProbesUnreachable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "alerting",
			Name:      "probes_unreachable_total",
			Help:      "Total reachability probes that found an instance unreachable.",
		}),
		AlertsFired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "alerting",
			Name:      "alerts_fired_total",
			Help:      "Total unreachable-instance notifications dispatched.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scriptbox",
			Subsystem: "alerting",
			Name:      "tick_duration_seconds",
			Help:      "Duration of each watch cycle (list + probe all instances).",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}

	reg.MustRegister(
		m.ProbesRun,
		m.ProbesUnreachable,
		m.AlertsFired,
		m.TickDuration,
	)

	return m
}
