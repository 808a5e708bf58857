package tasks

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWatcherReportsSettledImages(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWatcher([]string{dir}, 50*time.Millisecond, testLogger())
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	w.Ignore = func(path string) bool { return strings.HasSuffix(path, "_mask.png") }
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	for _, name := range []string{"notes.txt", "laptop_mask.png"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	photo := filepath.Join(dir, "laptop.jpg")
	f, err := os.Create(photo)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 3; i++ {
		f.Write([]byte("chunk"))
	}
	f.Close()

	select {
	case ev := <-w.Events:
		if ev.Path != photo || ev.Operation != "created" {
			t.Fatalf("expected created event for %s, got %+v", photo, ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected an event for %s", photo)
	}

	select {
	case ev := <-w.Events:
		t.Fatalf("expected writes coalesced and other files ignored, got %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherStopClosesEvents(t *testing.T) {
	w, err := NewWatcher([]string{t.TempDir()}, 0, nil)
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, ok := <-w.Events; ok {
		t.Fatalf("expected closed events channel")
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("expected second stop to be a no-op, got %v", err)
	}
}

func TestWatcherRejectsMissingDir(t *testing.T) {
	w, err := NewWatcher([]string{filepath.Join(t.TempDir(), "absent")}, 0, nil)
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	defer w.Stop()
	if err := w.Start(); err == nil {
		t.Fatalf("expected error watching a missing directory")
	}
}

func TestWatcherIgnoresReplacedTimer(t *testing.T) {
	w, err := NewWatcher([]string{t.TempDir()}, 50*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	defer w.Stop()

	path := "/photos/laptop.jpg"
	w.schedule(path, "created")
	w.mu.Lock()
	stale := w.pending[path]
	w.mu.Unlock()
	w.schedule(path, "modified")

	// a stale timer that already fired must not report the path
	w.emit(path, stale)
	select {
	case ev := <-w.Events:
		t.Fatalf("expected no event from a replaced timer, got %+v", ev)
	default:
	}

	select {
	case ev := <-w.Events:
		if ev.Path != path || ev.Operation != "created" {
			t.Fatalf("expected created event for %s, got %+v", path, ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected the settled event")
	}
	select {
	case ev := <-w.Events:
		t.Fatalf("expected a single event, got %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}
