package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/obra-run/obra/internal/store"
)

func newTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "obra.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// poll retries condition until it returns true or timeout elapses, avoiding
// a fixed sleep for the debounce window plus fsnotify's own event latency.
func poll(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}

func newTestWatcher(t *testing.T, db *store.DB, root string) *Watcher {
	t.Helper()
	w, err := New(db, root, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func TestWatcherEmitsCreatedEvent(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	w := newTestWatcher(t, db, root)
	w.SetIteration("iter-1")

	path := filepath.Join(root, "widget.go")
	if err := os.WriteFile(path, []byte("package widget"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	var events []string
	ok := poll(t, 3*time.Second, func() bool {
		evs, err := db.FileChangesForIteration("iter-1")
		if err != nil {
			t.Fatalf("FileChangesForIteration: %v", err)
		}
		events = nil
		for _, e := range evs {
			events = append(events, e.Path)
		}
		return len(evs) > 0
	})
	if !ok {
		t.Fatalf("no file-change event observed, got paths %v", events)
	}

	evs, err := db.FileChangesForIteration("iter-1")
	if err != nil {
		t.Fatalf("FileChangesForIteration: %v", err)
	}
	if evs[0].Path != "widget.go" {
		t.Errorf("path = %q, want widget.go", evs[0].Path)
	}
	if evs[0].Kind != "created" {
		t.Errorf("kind = %q, want created", evs[0].Kind)
	}
	if evs[0].ContentHash == "" {
		t.Error("expected a non-empty content hash")
	}
}

func TestWatcherCollapsesBurstIntoOneEvent(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	w := newTestWatcher(t, db, root)
	w.SetIteration("iter-1")

	path := filepath.Join(root, "widget.go")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte("v"), 0644); err != nil {
			t.Fatalf("write file: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	poll(t, 3*time.Second, func() bool {
		evs, _ := db.FileChangesForIteration("iter-1")
		return len(evs) > 0
	})
	// Give any further debounced re-triggers a chance to land before counting.
	time.Sleep(200 * time.Millisecond)

	evs, err := db.FileChangesForIteration("iter-1")
	if err != nil {
		t.Fatalf("FileChangesForIteration: %v", err)
	}
	if len(evs) != 1 {
		t.Errorf("events = %d, want 1 (burst should collapse)", len(evs))
	}
}

func TestWatcherAttributesToCurrentIteration(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	w := newTestWatcher(t, db, root)

	w.SetIteration("iter-1")
	path1 := filepath.Join(root, "a.go")
	os.WriteFile(path1, []byte("a"), 0644)

	poll(t, 3*time.Second, func() bool {
		evs, _ := db.FileChangesForIteration("iter-1")
		return len(evs) > 0
	})

	w.SetIteration("iter-2")
	path2 := filepath.Join(root, "b.go")
	os.WriteFile(path2, []byte("b"), 0644)

	poll(t, 3*time.Second, func() bool {
		evs, _ := db.FileChangesForIteration("iter-2")
		return len(evs) > 0
	})

	iter1Events, err := db.FileChangesForIteration("iter-1")
	if err != nil {
		t.Fatalf("FileChangesForIteration iter-1: %v", err)
	}
	iter2Events, err := db.FileChangesForIteration("iter-2")
	if err != nil {
		t.Fatalf("FileChangesForIteration iter-2: %v", err)
	}
	if len(iter1Events) != 1 || iter1Events[0].Path != "a.go" {
		t.Errorf("iter-1 events = %v, want exactly [a.go]", iter1Events)
	}
	if len(iter2Events) != 1 || iter2Events[0].Path != "b.go" {
		t.Errorf("iter-2 events = %v, want exactly [b.go]", iter2Events)
	}
}

func TestWatcherEmitsDeletedEvent(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()

	path := filepath.Join(root, "widget.go")
	if err := os.WriteFile(path, []byte("package widget"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	w := newTestWatcher(t, db, root)
	w.SetIteration("iter-1")

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}

	poll(t, 3*time.Second, func() bool {
		evs, _ := db.FileChangesForIteration("iter-1")
		return len(evs) > 0
	})

	evs, err := db.FileChangesForIteration("iter-1")
	if err != nil {
		t.Fatalf("FileChangesForIteration: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	if evs[0].Kind != "deleted" {
		t.Errorf("kind = %q, want deleted", evs[0].Kind)
	}
	if evs[0].ContentHash != "" {
		t.Errorf("content hash = %q, want empty for a deletion", evs[0].ContentHash)
	}
}

func TestWatcherIgnoresObraDirectory(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".obra", "directives"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	w := newTestWatcher(t, db, root)
	w.SetIteration("iter-1")

	if err := os.WriteFile(filepath.Join(root, ".obra", "directives", "note.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	// Also write a tracked file so there is something to wait on.
	if err := os.WriteFile(filepath.Join(root, "tracked.go"), []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	poll(t, 3*time.Second, func() bool {
		evs, _ := db.FileChangesForIteration("iter-1")
		return len(evs) > 0
	})
	time.Sleep(200 * time.Millisecond)

	evs, err := db.FileChangesForIteration("iter-1")
	if err != nil {
		t.Fatalf("FileChangesForIteration: %v", err)
	}
	for _, e := range evs {
		if e.Path != "tracked.go" {
			t.Errorf("unexpected event for %q, .obra paths should never be watched", e.Path)
		}
	}
}

func TestWatcherDropsChangesBeforeFirstIterationIsSet(t *testing.T) {
	db := newTestDB(t)
	root := t.TempDir()
	w := newTestWatcher(t, db, root)

	if err := os.WriteFile(filepath.Join(root, "early.go"), []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	w.SetIteration("iter-1")
	if err := os.WriteFile(filepath.Join(root, "late.go"), []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	poll(t, 3*time.Second, func() bool {
		evs, _ := db.FileChangesForIteration("iter-1")
		return len(evs) > 0
	})

	evs, err := db.FileChangesForIteration("iter-1")
	if err != nil {
		t.Fatalf("FileChangesForIteration: %v", err)
	}
	for _, e := range evs {
		if e.Path == "early.go" {
			t.Error("change observed before SetIteration should have been dropped")
		}
	}
}
