// Package retention implements the periodic cleanup sweeper for Scriptbox.
// On each scheduled run it expires stale pending requests, purges resolved
// requests past the retention window, and removes orphaned execution scratch
// directories.
//
// The request record is the audit trail, so nothing is purged before the
// configured age and pending requests are only ever expired, never deleted.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/okanya/scriptbox/internal/approval"
	"github.com/okanya/scriptbox/internal/config"
)

// Orphaned scratch dirs are crash leftovers; sweep them well before the
// request retention window.
const orphanAge = time.Hour

// DirSweeper removes abandoned execution scratch directories under root.
// Implemented by the engine's Cleaner.
type DirSweeper interface {
	SweepOrphans(root string, maxAge time.Duration) int
}

// Sweeper runs retention sweeps on a cron schedule.
// It runs as a background goroutine in serve mode.
type Sweeper struct {
	requests approval.RequestStore
	dirs     DirSweeper
	tempRoot string
	cfg      *config.RetentionConfig
	logger   *slog.Logger

	parser cron.Parser
}

// New creates a Sweeper. dirs may be nil to skip scratch dir sweeping.
func New(requests approval.RequestStore, dirs DirSweeper, tempRoot string, cfg *config.RetentionConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		requests: requests,
		dirs:     dirs,
		tempRoot: tempRoot,
		cfg:      cfg,
		logger:   logger,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Start begins the sweep loop. Returns a cancel function (matches the
// approval cleanup pattern).
func (s *Sweeper) Start(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		s.logger.InfoContext(ctx, "retention sweeper started",
			slog.String("schedule", s.cfg.CronSchedule()),
			slog.String("max_age", s.cfg.MaxAge().String()),
		)

		for {
			timer := time.NewTimer(time.Until(s.nextRun()))
			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("retention sweeper stopped")
				return
			case <-timer.C:
				s.Sweep(ctx)
			}
		}
	}()

	return cancel
}

// Sweep runs a single retention pass. Each step is independent: a failure
// in one is logged and the others still run.
func (s *Sweeper) Sweep(ctx context.Context) {
	start := time.Now()

	expired, err := s.requests.ExpireOld(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "retention: expiring stale requests",
			slog.String("error", err.Error()),
		)
	}

	purged, err := s.requests.DeleteResolved(ctx, s.cfg.MaxAge())
	if err != nil {
		s.logger.ErrorContext(ctx, "retention: purging resolved requests",
			slog.String("error", err.Error()),
		)
	}

	var swept int
	if s.dirs != nil {
		swept = s.dirs.SweepOrphans(s.tempRoot, orphanAge)
	}

	s.logger.InfoContext(ctx, "retention sweep complete",
		slog.Int64("expired", expired),
		slog.Int64("purged", purged),
		slog.Int("orphans_swept", swept),
		slog.Duration("took", time.Since(start)),
	)
}

// nextRun parses the schedule and returns the next run time after now.
func (s *Sweeper) nextRun() time.Time {
	sched, err := s.parser.Parse(s.cfg.CronSchedule())
	if err != nil {
		s.logger.Error("invalid retention schedule",
			slog.String("schedule", s.cfg.CronSchedule()),
			slog.String("error", err.Error()),
		)
		return time.Now().UTC().Add(24 * time.Hour)
	}
	return sched.Next(time.Now().UTC())
}
