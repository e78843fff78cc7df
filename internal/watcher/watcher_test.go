// file: internal/watcher/watcher_test.go
// version: 2.0.0
// guid: a1b2c3d4-e5f6-7890-abcd-ef1234567890

package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newStateDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state")
}

func TestStartCreatesDirectory(t *testing.T) {
	dir := newStateDir(t)
	w := New(dir, nil, func(string) {}, 50*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected %s to exist, err=%v", dir, err)
	}
}

func TestRemovedDirectoryIsRecreated(t *testing.T) {
	dir := newStateDir(t)

	var calls atomic.Int32
	w := New(dir, []string{"queue.json"}, func(got string) {
		if got == dir {
			calls.Add(1)
		}
	}, 100*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	time.Sleep(50 * time.Millisecond)
	if err := os.RemoveAll(dir); err != nil {
		t.Fatal(err)
	}
	time.Sleep(400 * time.Millisecond)

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("expected directory to be recreated: %v", err)
	}
	if c := calls.Load(); c != 1 {
		t.Errorf("expected 1 debounced callback, got %d", c)
	}
}

func TestTrackedFileRemovalTriggers(t *testing.T) {
	dir := newStateDir(t)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	tracked := filepath.Join(dir, "queue.json")
	other := filepath.Join(dir, "notes.txt")
	_ = os.WriteFile(tracked, []byte("[]"), 0o644)
	_ = os.WriteFile(other, []byte("x"), 0o644)

	var calls atomic.Int32
	w := New(dir, []string{"queue.json"}, func(string) { calls.Add(1) }, 100*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	time.Sleep(50 * time.Millisecond)

	_ = os.Remove(other)
	time.Sleep(250 * time.Millisecond)
	if c := calls.Load(); c != 0 {
		t.Fatalf("untracked removal should be ignored, got %d callbacks", c)
	}

	_ = os.Remove(tracked)
	time.Sleep(250 * time.Millisecond)
	if c := calls.Load(); c != 1 {
		t.Errorf("expected 1 callback, got %d", c)
	}
}

func TestWritesDoNotTrigger(t *testing.T) {
	dir := newStateDir(t)
	var calls atomic.Int32
	w := New(dir, []string{"queue.json"}, func(string) { calls.Add(1) }, 50*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	_ = os.WriteFile(filepath.Join(dir, "queue.json"), []byte("[]"), 0o644)
	time.Sleep(200 * time.Millisecond)
	if c := calls.Load(); c != 0 {
		t.Errorf("expected no callbacks for writes, got %d", c)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	w := New(newStateDir(t), nil, func(string) {}, 100*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}

func TestStartIsIdempotent(t *testing.T) {
	w := New(newStateDir(t), nil, func(string) {}, 100*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
}
