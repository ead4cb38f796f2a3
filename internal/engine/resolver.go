package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/okanya/scriptbox/internal/domain"
)

// RuntimeMode selects how worker artifacts are resolved.
type RuntimeMode string

const (
	ModeDevelopment RuntimeMode = "development"
	ModeProduction  RuntimeMode = "production"
)

// Artifact is a resolved worker launch target.
type Artifact struct {
	Language domain.Language
	Path     string   // Worker artifact on disk.
	Bin      string   // Runtime binary (node, python3).
	Args     []string // Runtime arguments placed before the artifact path.
}

// WorkerResolver locates the worker artifact for a language. Resolution runs
// fresh on every execution and caches nothing, so hot-reloaded development
// artifacts are always picked up.
type WorkerResolver struct {
	workersDir    string // Checked-in artifacts used during development.
	productionDir string // Installed artifacts (production builds).
	mode          RuntimeMode
	nodeBin       string
	pythonBin     string
}

// NewWorkerResolver creates a resolver. Empty binaries default to node and
// python3 on PATH.
func NewWorkerResolver(workersDir, productionDir string, mode RuntimeMode, nodeBin, pythonBin string) *WorkerResolver {
	if nodeBin == "" {
		nodeBin = "node"
	}
	if pythonBin == "" {
		pythonBin = "python3"
	}
	if mode == "" {
		mode = ModeDevelopment
	}
	return &WorkerResolver{
		workersDir:    workersDir,
		productionDir: productionDir,
		mode:          mode,
		nodeBin:       nodeBin,
		pythonBin:     pythonBin,
	}
}

// Resolve returns the launch target for the given language. The error names
// every location probed so a missing deployment is diagnosable from the
// result message alone.
func (r *WorkerResolver) Resolve(lang domain.Language, memoryLimitMB int) (*Artifact, error) {
	switch lang {
	case domain.LanguageJavaScript:
		return r.resolveJavaScript(memoryLimitMB)
	case domain.LanguagePython:
		return r.resolvePython()
	default:
		return nil, fmt.Errorf("no worker available for language %q", lang)
	}
}

// resolveJavaScript probes, in order: the checked-in source artifact, its
// precompiled sibling, then the installed production build. First match
// wins. Production mode skips the development candidates.
func (r *WorkerResolver) resolveJavaScript(memoryLimitMB int) (*Artifact, error) {
	prod := filepath.Join(r.productionDir, "javascript", "worker.bundle.js")
	candidates := []string{prod}
	if r.mode != ModeProduction {
		source := filepath.Join(r.workersDir, "javascript", "worker.js")
		bundle := filepath.Join(r.workersDir, "javascript", "worker.bundle.js")
		candidates = []string{source, bundle, prod}
	}

	for _, path := range candidates {
		if !fileExists(path) {
			continue
		}
		var args []string
		if memoryLimitMB > 0 {
			args = append(args, fmt.Sprintf("--max-old-space-size=%d", memoryLimitMB))
		}
		return &Artifact{
			Language: domain.LanguageJavaScript,
			Path:     path,
			Bin:      r.nodeBin,
			Args:     args,
		}, nil
	}
	return nil, fmt.Errorf("javascript worker not found; probed %s", strings.Join(candidates, ", "))
}

// resolvePython resolves the single Python worker location. Python has one
// worker implementation, so there is no fallback chain.
func (r *WorkerResolver) resolvePython() (*Artifact, error) {
	dir := r.workersDir
	if r.mode == ModeProduction {
		dir = r.productionDir
	}
	path := filepath.Join(dir, "python", "worker.py")
	if !fileExists(path) {
		return nil, fmt.Errorf("python worker not found at %s", path)
	}
	return &Artifact{
		Language: domain.LanguagePython,
		Path:     path,
		Bin:      r.pythonBin,
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
