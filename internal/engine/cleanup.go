package engine

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// tempDirPattern names per-execution scratch directories.
const tempDirPattern = "scriptbox-exec-*"

const tempDirPrefix = "scriptbox-exec-"

// Cleaner releases per-execution scratch directories. Every method absorbs
// errors: resource release must never fail an execution that already has an
// outcome. All methods are idempotent.
type Cleaner struct {
	logger *slog.Logger
}

// NewCleaner creates a Cleaner.
func NewCleaner(logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{logger: logger}
}

// Release removes the given directory. An empty path, a missing path, and a
// filesystem failure are all logged and absorbed.
func (c *Cleaner) Release(path string) {
	if path == "" {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		c.logger.Warn("failed to remove execution temp dir",
			slog.String("dir", path),
			slog.String("error", err.Error()),
		)
		return
	}
	c.logger.Debug("execution temp dir released", slog.String("dir", path))
}

// SweepOrphans removes execution scratch directories under root older than
// maxAge. Catches directories left behind by engine processes that died
// before their deferred release could run. Returns the number removed.
func (c *Cleaner) SweepOrphans(root string, maxAge time.Duration) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("sweep: reading temp root", slog.String("root", root), slog.String("error", err.Error()))
		}
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), tempDirPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			c.Release(filepath.Join(root, e.Name()))
			removed++
		}
	}
	return removed
}
