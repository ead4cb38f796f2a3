// Package workspace manages the Scriptbox runtime directory structure.
// Worker artifacts, production bundles, execution scratch space, and logs
// are consolidated under a single workspace root, making Scriptbox portable.
//
// Default workspace: ~/.scriptbox/workspace (configurable via config or
// SCRIPTBOX_WORKSPACE env var). Credential material never lives here;
// workers resolve credentials from their environment at execution time.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default workspace location relative to user home directory.
const defaultRelativePath = ".scriptbox/workspace"

// Workspace manages all Scriptbox runtime directories and derived paths.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Workspace rooted at the given path.
// It resolves ~ to the user's home directory and creates the root directory
// with appropriate permissions if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}

	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return w, nil
}

// Default creates a Workspace at ~/.scriptbox/workspace.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// --- Top-level directory accessors ---

// WorkersDir returns <root>/workers/. Worker runtime sources used in
// development mode.
func (w *Workspace) WorkersDir() string {
	return w.dir("workers")
}

// ProductionDir returns <root>/production/. Bundled worker builds used in
// production mode.
func (w *Workspace) ProductionDir() string {
	return w.dir("production")
}

// ScratchDir returns <root>/scratch/ with 0700 permissions. Parent of the
// per-execution temp directories; scratch contents include submitted script
// source and raw results.
func (w *Workspace) ScratchDir() string {
	return w.restrictedDir("scratch")
}

// LogsDir returns <root>/logs/. Application log files.
func (w *Workspace) LogsDir() string {
	return w.dir("logs")
}

// --- Language-scoped paths ---

// WorkerDir returns <root>/workers/<language>/.
func (w *Workspace) WorkerDir(language string) string {
	p := filepath.Join(w.WorkersDir(), sanitizeName(language))
	_ = w.ensureDir(p, 0750)
	return p
}

// ProductionWorkerDir returns <root>/production/<language>/.
func (w *Workspace) ProductionWorkerDir(language string) string {
	p := filepath.Join(w.ProductionDir(), sanitizeName(language))
	_ = w.ensureDir(p, 0750)
	return p
}

// --- Cleanup ---

// CleanScratch removes all contents of the scratch directory. Run at startup
// to drop execution leftovers from a previous process.
func (w *Workspace) CleanScratch() error {
	dir := filepath.Join(w.Root, "scratch")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading scratch dir: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("removing scratch entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// EnsureAll creates all standard workspace directories.
// Call this during first startup.
func (w *Workspace) EnsureAll() error {
	// Regular directories (0750).
	dirs := []string{
		w.WorkersDir(),
		w.WorkerDir("javascript"),
		w.WorkerDir("python"),
		w.ProductionDir(),
		w.LogsDir(),
	}
	for _, d := range dirs {
		if err := w.ensureDir(d, 0750); err != nil {
			return err
		}
	}
	// Restricted directories (0700).
	_ = w.ScratchDir()
	return nil
}

// --- Internal helpers ---

// dir returns an absolute path under the workspace root and ensures the directory exists.
func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// restrictedDir is like dir but uses 0700 permissions.
func (w *Workspace) restrictedDir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0700)
	return p
}

// ensureDir creates a directory if it doesn't already exist.
// Uses a cache to avoid redundant stat/mkdir calls.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// sanitizeName replaces path separator characters to prevent directory traversal.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" {
		name = "_"
	}
	return name
}
