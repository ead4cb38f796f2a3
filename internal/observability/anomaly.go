package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/okanya/scriptbox/internal/config"
)

// AnomalyDetector watches per-instance execution failure rates using
// sliding windows and logs a warning when the configured threshold is
// exceeded. A burst of failures against one instance usually means the
// instance itself is unhealthy, not the scripts.
type AnomalyDetector struct {
	mu            sync.Mutex
	failureCounts map[string]*slidingWindow
	successCounts map[string]*slidingWindow
	cfg           *config.AnomalyConfig
	logger        *slog.Logger
}

type slidingWindow struct {
	entries []windowEntry
	window  time.Duration
}

type windowEntry struct {
	timestamp time.Time
	value     float64
}

// NewAnomalyDetector creates an anomaly detector from config.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	return &AnomalyDetector{
		failureCounts: make(map[string]*slidingWindow),
		successCounts: make(map[string]*slidingWindow),
		cfg:           cfg,
		logger:        logger,
	}
}

func (a *AnomalyDetector) windowDuration() time.Duration {
	secs := a.cfg.WindowSeconds
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

// RecordFailure records a failed execution against an instance.
func (a *AnomalyDetector) RecordFailure(instance string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.getOrCreateWindow(a.failureCounts, instance)
	w.add(1)
	a.checkFailureRate(instance)
}

// RecordSuccess records a successful execution against an instance.
func (a *AnomalyDetector) RecordSuccess(instance string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	w := a.getOrCreateWindow(a.successCounts, instance)
	w.add(1)
}

// checkFailureRate checks if the failure rate exceeds the configured threshold.
// Must be called with a.mu held.
func (a *AnomalyDetector) checkFailureRate(instance string) {
	threshold := a.cfg.FailureRateThreshold
	if threshold <= 0 {
		return
	}

	failures := a.getOrCreateWindow(a.failureCounts, instance).sum()
	successes := a.getOrCreateWindow(a.successCounts, instance).sum()
	total := failures + successes

	if total < 5 {
		return // Not enough data.
	}

	rate := failures / total
	if rate > threshold && a.logger != nil {
		a.logger.Warn("anomaly detected: high execution failure rate",
			slog.String("instance", instance),
			slog.Float64("failure_rate", rate),
			slog.Float64("threshold", threshold),
			slog.Float64("failures", failures),
			slog.Float64("total", total),
		)
	}
}

func (a *AnomalyDetector) getOrCreateWindow(m map[string]*slidingWindow, key string) *slidingWindow {
	w, ok := m[key]
	if !ok {
		w = &slidingWindow{window: a.windowDuration()}
		m[key] = w
	}
	return w
}

// add appends a value and prunes expired entries.
func (w *slidingWindow) add(value float64) {
	now := time.Now()
	w.entries = append(w.entries, windowEntry{timestamp: now, value: value})
	w.prune(now)
}

// sum returns the total value within the window.
func (w *slidingWindow) sum() float64 {
	w.prune(time.Now())
	var total float64
	for _, e := range w.entries {
		total += e.value
	}
	return total
}

// prune removes entries older than the window duration.
func (w *slidingWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.entries) && w.entries[i].timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.entries = w.entries[i:]
	}
}
