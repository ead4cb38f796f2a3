package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCleaner_ReleaseRemovesTree(t *testing.T) {
	c := NewCleaner(nil)

	dir, err := os.MkdirTemp(t.TempDir(), tempDirPattern)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "nested", "deep"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "scratch.tmp"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	c.Release(dir)

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("dir still present after release: %v", err)
	}
}

func TestCleaner_ReleaseIsIdempotent(t *testing.T) {
	c := NewCleaner(nil)

	dir := filepath.Join(t.TempDir(), "gone")
	// Releasing a path that never existed, twice, must not panic or error
	// out of the call.
	c.Release(dir)
	c.Release(dir)
	c.Release("")
}

func TestCleaner_SweepOrphans(t *testing.T) {
	c := NewCleaner(nil)
	root := t.TempDir()

	old := filepath.Join(root, tempDirPrefix+"stale")
	fresh := filepath.Join(root, tempDirPrefix+"active")
	unrelated := filepath.Join(root, "keep-me")
	for _, dir := range []string{old, fresh, unrelated} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	removed := c.SweepOrphans(root, time.Hour)
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("stale dir survived the sweep")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh dir was swept")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Error("unrelated dir was swept")
	}
}

func TestCleaner_SweepOrphansMissingRoot(t *testing.T) {
	c := NewCleaner(nil)
	if removed := c.SweepOrphans(filepath.Join(t.TempDir(), "absent"), time.Hour); removed != 0 {
		t.Errorf("removed = %d, want 0 for a missing root", removed)
	}
}
