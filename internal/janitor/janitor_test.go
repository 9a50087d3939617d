package janitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPruneDir(t *testing.T) {
	dir := t.TempDir()

	oldFile := filepath.Join(dir, "old-1.html")
	newFile := filepath.Join(dir, "new-2.html")
	for _, p := range []string{oldFile, newFile} {
		if err := os.WriteFile(p, []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldFile, past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := pruneDir(dir, 24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed file, got %d", removed)
	}
	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Fatal("old artifact still present")
	}
	if _, err := os.Stat(newFile); err != nil {
		t.Fatal("recent artifact must survive")
	}
}

func TestPruneDirMissing(t *testing.T) {
	removed, err := pruneDir(filepath.Join(t.TempDir(), "nope"), time.Hour)
	if err != nil || removed != 0 {
		t.Fatalf("missing dir must be a no-op, got removed=%d err=%v", removed, err)
	}
}
