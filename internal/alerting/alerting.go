// Package alerting watches registered database instances and announces
// reachability transitions for Scriptbox.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/okanya/scriptbox/internal/config"
	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/notification"
	"github.com/okanya/scriptbox/internal/preflight"
)

const (
	statusOK          = "ok"
	statusUnreachable = "unreachable"
)

// InstanceLister supplies the instances to watch.
type InstanceLister interface {
	List(ctx context.Context) ([]domain.Instance, error)
}

// instanceState is the last observed probe outcome for one instance.
type instanceState struct {
	status        string
	lastAlertedAt time.Time
}

// Watcher polls every enabled instance on a fixed cadence and notifies
// when an instance becomes unreachable. A transition notifies once;
// repeated failures inside the cooldown window are suppressed. Recovery
// is logged but not announced.
type Watcher struct {
	instances  InstanceLister
	prober     preflight.Prober
	dispatcher *notification.Dispatcher
	metrics    *Metrics
	cfg        *config.AlertingConfig
	logger     *slog.Logger

	mu    sync.Mutex
	state map[string]*instanceState
}

// NewWatcher creates a reachability watcher.
func NewWatcher(
	instances InstanceLister,
	prober preflight.Prober,
	dispatcher *notification.Dispatcher,
	cfg *config.AlertingConfig,
	metrics *Metrics,
	logger *slog.Logger,
) *Watcher {
	return &Watcher{
		instances:  instances,
		prober:     prober,
		dispatcher: dispatcher,
		metrics:    metrics,
		cfg:        cfg,
		logger:     logger,
		state:      make(map[string]*instanceState),
	}
}

// Start begins the watch loop. Returns a cancel function.
func (w *Watcher) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		w.logger.InfoContext(ctx, "reachability watcher started",
			slog.String("poll_interval", w.cfg.PollInterval().String()),
			slog.String("cooldown", w.cfg.Cooldown().String()),
		)

		ticker := time.NewTicker(w.cfg.PollInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				w.logger.Info("reachability watcher stopped")
				return
			case <-ticker.C:
				w.tick(ctx)
			}
		}
	}()

	return cancel
}

// tick runs a single poll cycle: probe every enabled instance with
// bounded concurrency, then record transitions.
func (w *Watcher) tick(ctx context.Context) {
	start := time.Now()

	insts, err := w.instances.List(ctx)
	if err != nil {
		w.logger.ErrorContext(ctx, "reachability tick failed",
			slog.String("error", err.Error()),
		)
		return
	}

	sem := make(chan struct{}, w.cfg.MaxConcurrent())
	var wg sync.WaitGroup

	for i := range insts {
		if !insts[i].Enabled {
			continue
		}
		sem <- struct{}{}
		wg.Add(1)

		go func(inst domain.Instance) {
			defer wg.Done()
			defer func() { <-sem }()
			w.probe(ctx, &inst)
		}(insts[i])
	}

	wg.Wait()

	if w.metrics != nil {
		w.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}

// probe checks one instance and records the outcome.
func (w *Watcher) probe(ctx context.Context, inst *domain.Instance) {
	if w.metrics != nil {
		w.metrics.ProbesRun.Inc()
	}

	status, detail := statusOK, ""
	if err := w.prober.Check(ctx, inst); err != nil {
		status, detail = statusUnreachable, err.Error()
		if w.metrics != nil {
			w.metrics.ProbesUnreachable.Inc()
		}
	}

	w.record(ctx, inst, status, detail)
}

// record updates the instance's observed state and dispatches a
// notification when it enters the unreachable state. The first
// observation of an unreachable instance alerts immediately.
func (w *Watcher) record(ctx context.Context, inst *domain.Instance, status, detail string) {
	now := time.Now()

	w.mu.Lock()
	prev, seen := w.state[inst.Name]
	if !seen {
		prev = &instanceState{}
		w.state[inst.Name] = prev
	}
	previousStatus := prev.status
	statusChanged := previousStatus != "" && previousStatus != status

	shouldNotify := false
	if status != statusOK && (statusChanged || previousStatus == "") {
		shouldNotify = true
	}
	if shouldNotify && !prev.lastAlertedAt.IsZero() && now.Before(prev.lastAlertedAt.Add(w.cfg.Cooldown())) {
		shouldNotify = false
	}

	prev.status = status
	if shouldNotify {
		prev.lastAlertedAt = now
	}
	w.mu.Unlock()

	switch {
	case status != statusOK && (statusChanged || previousStatus == ""):
		w.logger.WarnContext(ctx, "instance unreachable",
			slog.String("instance", inst.Name),
			slog.String("kind", string(inst.Kind)),
			slog.String("detail", detail),
		)
	case statusChanged:
		w.logger.InfoContext(ctx, "instance reachable again",
			slog.String("instance", inst.Name),
		)
	}

	if !shouldNotify {
		return
	}
	if w.metrics != nil {
		w.metrics.AlertsFired.Inc()
	}
	w.dispatcher.Notify(ctx, unreachableMessage(inst, previousStatus, detail))
}

// unreachableMessage renders the alert. Connection coordinates only;
// URIs are never echoed because they may carry userinfo.
func unreachableMessage(inst *domain.Instance, previousStatus, detail string) *notification.Message {
	if previousStatus == "" {
		previousStatus = "unknown"
	}

	body := fmt.Sprintf("Instance: %s (%s)\nTarget: %s\nStatus: %s (was: %s)",
		inst.Name, inst.Kind, probeTarget(inst), statusUnreachable, previousStatus)
	if detail != "" {
		body += "\nDetail: " + detail
	}

	return &notification.Message{
		Subject: fmt.Sprintf("Instance unreachable: %s", inst.Name),
		Body:    body,
		Metadata: map[string]string{
			"instance":        inst.Name,
			"kind":            string(inst.Kind),
			"status":          statusUnreachable,
			"previous_status": previousStatus,
			"type":            "reachability",
		},
	}
}

func probeTarget(inst *domain.Instance) string {
	if inst.Host == "" {
		return "configured URI"
	}
	if inst.Port > 0 {
		return fmt.Sprintf("%s:%d", inst.Host, inst.Port)
	}
	return inst.Host
}
