//go:build cgo

package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bbiangul/recall/events"
	"github.com/bbiangul/recall/store"
)

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	w, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w
}

func waitForEvent(t *testing.T, w *Watcher, timeout time.Duration) FileEvent {
	t.Helper()
	select {
	case evt, ok := <-w.Events():
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return evt
	case <-time.After(timeout):
		t.Fatal("timed out waiting for file event")
	}
	return FileEvent{}
}

func TestWatcherDetectsCreatedFile(t *testing.T) {
	w := newTestWatcher(t)
	dir := t.TempDir()
	if err := w.AddFolder(dir); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	evt := waitForEvent(t, w, 2*time.Second)
	if evt.Kind != Created && evt.Kind != Modified {
		t.Fatalf("expected created or modified event, got %s", evt.Kind)
	}
	if filepath.Base(evt.Path) != "note.txt" {
		t.Fatalf("expected event for note.txt, got %s", evt.Path)
	}
}

func TestWatcherIgnoresUnrecognizedExtensions(t *testing.T) {
	w := newTestWatcher(t)
	dir := t.TempDir()
	if err := w.AddFolder(dir); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	path := filepath.Join(dir, "note.unknownext")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	select {
	case evt := <-w.Events():
		t.Fatalf("expected no event for unrecognized extension, got %+v", evt)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherRecursesIntoSubdirectories(t *testing.T) {
	w := newTestWatcher(t)
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := w.AddFolder(dir); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}

	path := filepath.Join(sub, "note.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	evt := waitForEvent(t, w, 2*time.Second)
	if filepath.Base(evt.Path) != "note.txt" {
		t.Fatalf("expected event for nested note.txt, got %s", evt.Path)
	}
}

func TestWatchedFoldersReflectsAddAndRemove(t *testing.T) {
	w := newTestWatcher(t)
	dir := t.TempDir()
	if err := w.AddFolder(dir); err != nil {
		t.Fatalf("AddFolder: %v", err)
	}
	if got := w.WatchedFolders(); len(got) != 1 || got[0] != dir {
		t.Fatalf("expected watched folders to contain %s, got %v", dir, got)
	}

	if err := w.RemoveFolder(dir); err != nil {
		t.Fatalf("RemoveFolder: %v", err)
	}
	if got := w.WatchedFolders(); len(got) != 0 {
		t.Fatalf("expected no watched folders after removal, got %v", got)
	}
}

// fakeIngester implements Ingester without touching the real ingestion
// engine, so the debounce loop can be tested in isolation.
type fakeIngester struct {
	calls chan string
}

func (f *fakeIngester) IngestFile(ctx context.Context, path string) (string, error) {
	f.calls <- path
	return "doc-id", nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestDebouncerGraduatesAfterQuietPeriod(t *testing.T) {
	w := newTestWatcher(t)
	st := newTestStore(t)
	bus := events.NewBus()
	ingester := &fakeIngester{calls: make(chan string, 1)}
	deb := NewDebouncer(w, ingester, st, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go deb.Run(ctx)

	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	deb.handle(ctx, FileEvent{Kind: Created, Path: path})

	select {
	case got := <-ingester.calls:
		t.Fatalf("expected no ingest before quiesce period, got call for %s", got)
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case got := <-ingester.calls:
		if got != path {
			t.Fatalf("expected ingest call for %s, got %s", path, got)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("timed out waiting for debounced ingest")
	}
}

func TestDebouncerHandlesDeletedImmediately(t *testing.T) {
	w := newTestWatcher(t)
	st := newTestStore(t)
	bus := events.NewBus()
	ingester := &fakeIngester{calls: make(chan string, 1)}
	deb := NewDebouncer(w, ingester, st, bus)

	dir := t.TempDir()
	path := filepath.Join(dir, "gone.txt")
	docID, err := st.InsertDocument(context.Background(), store.Document{
		Path:     path,
		Title:    "gone",
		FileType: store.FileTypeText,
		Status:   store.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}

	sub, ch := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	deb.handle(context.Background(), FileEvent{Kind: Deleted, Path: path})

	select {
	case evt := <-ch:
		if evt.Type != events.DocumentDeleted {
			t.Fatalf("expected document-deleted event, got %s", evt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for document-deleted event")
	}

	if _, err := st.GetDocumentByID(context.Background(), docID); err == nil {
		t.Fatal("expected document to be removed from the store")
	}
}
