package indexer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type suffixMatcher string

func (s suffixMatcher) Match(path string) bool { return strings.HasSuffix(path, string(s)) }

func TestRepoWatcher_DebouncesIntoOneBatch(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}

	rw, err := NewRepoWatcher(root, suffixMatcher(".go"), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewRepoWatcher: %v", err)
	}
	defer rw.Close()

	batches := make(chan []string, 4)
	if err := rw.Watch(func(paths []string) { batches <- paths }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	for _, name := range []string{"pkg/b.go", "a.go", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(root, filepath.FromSlash(name)), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case got := <-batches:
		if len(got) != 2 || got[0] != "a.go" || got[1] != "pkg/b.go" {
			t.Errorf("batch = %v, want [a.go pkg/b.go]", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no batch delivered")
	}

	select {
	case extra := <-batches:
		t.Errorf("unexpected second batch %v", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRepoWatcher_CloseIsIdempotent(t *testing.T) {
	rw, err := NewRepoWatcher(t.TempDir(), nil, 0)
	if err != nil {
		t.Fatalf("NewRepoWatcher: %v", err)
	}
	if err := rw.Watch(nil); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rw.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
