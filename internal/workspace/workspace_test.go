package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "workspace")

	ws, err := New(root)
	if err != nil {
		t.Fatalf("New(%q): %v", root, err)
	}
	if ws.Root != root {
		t.Errorf("Root = %q, want %q", ws.Root, root)
	}

	// Root directory should exist.
	if _, err := os.Stat(root); err != nil {
		t.Errorf("root dir not created: %v", err)
	}
}

func TestDirectoryAccessors(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		fn   func() string
		want string
	}{
		{"WorkersDir", ws.WorkersDir, "workers"},
		{"ProductionDir", ws.ProductionDir, "production"},
		{"ScratchDir", ws.ScratchDir, "scratch"},
		{"LogsDir", ws.LogsDir, "logs"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.fn()
			expected := filepath.Join(ws.Root, tc.want)
			if got != expected {
				t.Errorf("%s() = %q, want %q", tc.name, got, expected)
			}
			// Directory should exist.
			if _, err := os.Stat(got); err != nil {
				t.Errorf("directory not created: %v", err)
			}
		})
	}
}

func TestScratchDirPermissions(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	dir := ws.ScratchDir()
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0700 {
		t.Errorf("scratch dir permissions = %o, want 0700", perm)
	}
}

func TestWorkerPaths(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	jsDir := ws.WorkerDir("javascript")
	expected := filepath.Join(ws.Root, "workers", "javascript")
	if jsDir != expected {
		t.Errorf("WorkerDir = %q, want %q", jsDir, expected)
	}
	if _, err := os.Stat(jsDir); err != nil {
		t.Errorf("worker dir not created: %v", err)
	}

	prodDir := ws.ProductionWorkerDir("python")
	if prodDir != filepath.Join(ws.Root, "production", "python") {
		t.Errorf("ProductionWorkerDir = %q", prodDir)
	}
}

func TestWorkerDirSanitizesLanguage(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	got := ws.WorkerDir("../escape")
	if got != filepath.Join(ws.Root, "workers", "__escape") {
		t.Errorf("WorkerDir(../escape) = %q, escaped the workers tree", got)
	}
}

func TestCleanScratch(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	// Create some scratch entries.
	scratch := ws.ScratchDir()
	os.MkdirAll(filepath.Join(scratch, "scriptbox-exec-1"), 0700)
	os.MkdirAll(filepath.Join(scratch, "scriptbox-exec-2"), 0700)
	os.WriteFile(filepath.Join(scratch, "scriptbox-exec-1", "script.js"), []byte("export default async () => {}"), 0600)

	if err := ws.CleanScratch(); err != nil {
		t.Fatalf("CleanScratch: %v", err)
	}

	entries, _ := os.ReadDir(scratch)
	if len(entries) != 0 {
		t.Errorf("scratch dir not empty after clean: %d entries", len(entries))
	}
}

func TestCleanScratchNoop(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}
	// No scratch dir created; CleanScratch should be a no-op.
	os.RemoveAll(filepath.Join(ws.Root, "scratch"))
	if err := ws.CleanScratch(); err != nil {
		t.Fatalf("CleanScratch on missing dir: %v", err)
	}
}

func TestEnsureAll(t *testing.T) {
	tmp := t.TempDir()
	ws, err := New(filepath.Join(tmp, "ws"))
	if err != nil {
		t.Fatal(err)
	}

	if err := ws.EnsureAll(); err != nil {
		t.Fatal(err)
	}

	for _, sub := range []string{
		"workers",
		filepath.Join("workers", "javascript"),
		filepath.Join("workers", "python"),
		"production",
		"scratch",
		"logs",
	} {
		p := filepath.Join(ws.Root, sub)
		if _, err := os.Stat(p); err != nil {
			t.Errorf("directory %q not created: %v", sub, err)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"normal", "normal"},
		{"a/b", "a_b"},
		{"a\\b", "a_b"},
		{"../etc/passwd", "__etc_passwd"},
		{"", "_"},
	}
	for _, tc := range tests {
		got := sanitizeName(tc.input)
		if got != tc.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestResolveTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	got, err := resolvePath("~/test")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(home, "test")
	if got != want {
		t.Errorf("resolvePath(~/test) = %q, want %q", got, want)
	}
}
