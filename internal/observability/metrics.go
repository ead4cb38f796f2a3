package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds the Prometheus metrics for the approval workflow,
// notifications, preflight probes, and the serve-mode HTTP surface.
// Uses a custom registry, not the global one. The execution engine registers
// its own metrics on the same Registry.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Approval workflow metrics.
	RequestsSubmittedTotal *prometheus.CounterVec
	RequestsResolvedTotal  *prometheus.CounterVec
	RequestsExpiredTotal   prometheus.Counter

	// Notification metrics.
	NotificationsTotal *prometheus.CounterVec

	// Preflight probe metrics.
	PreflightChecksTotal *prometheus.CounterVec

	// HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveExecutions prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		RequestsSubmittedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "requests",
			Name:      "submitted_total",
			Help:      "Total script requests submitted.",
		}, []string{"language", "database"}),

		RequestsResolvedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "requests",
			Name:      "resolved_total",
			Help:      "Total script requests resolved by a reviewer.",
		}, []string{"outcome"}),

		RequestsExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "requests",
			Name:      "expired_total",
			Help:      "Total pending requests that expired before review.",
		}),

		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Total notification deliveries.",
		}, []string{"sender", "status"}),

		PreflightChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "preflight",
			Name:      "checks_total",
			Help:      "Total instance connectivity probes.",
		}, []string{"kind", "result"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scriptbox",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scriptbox",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "scriptbox",
			Name:      "active_executions",
			Help:      "Number of scripts currently executing.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.RequestsSubmittedTotal,
		m.RequestsResolvedTotal,
		m.RequestsExpiredTotal,
		m.NotificationsTotal,
		m.PreflightChecksTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveExecutions,
	)

	return m
}
