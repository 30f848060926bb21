package watch

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/bbiangul/recall/events"
	"github.com/bbiangul/recall/store"
)

// tick is how often the debounce loop checks for files ready to
// graduate; quiesce is how long a path must sit without a new event
// before it does.
const (
	tick    = 500 * time.Millisecond
	quiesce = 2 * time.Second
)

// Ingester is the narrow slice of the ingestion engine the debounce
// loop needs, kept as an interface so watch never imports ingest
// directly (ingest already depends on extract/store, not the reverse).
type Ingester interface {
	IngestFile(ctx context.Context, path string) (string, error)
}

// Debouncer drains a Watcher's event channel, coalescing bursts of
// Created/Modified events per path before handing the path to the
// ingestion engine, and passing Deleted events straight through.
type Debouncer struct {
	watcher *Watcher
	engine  Ingester
	store   *store.Store
	bus     *events.Bus

	// mu guards pending and processing, which are read and written both
	// from Run's single goroutine and from the per-path goroutines
	// graduate spawns to ingest.
	mu         sync.Mutex
	pending    map[string]time.Time
	processing map[string]struct{}
}

// NewDebouncer wires a Debouncer over an already-running Watcher.
func NewDebouncer(w *Watcher, engine Ingester, st *store.Store, bus *events.Bus) *Debouncer {
	return &Debouncer{
		watcher:    w,
		engine:     engine,
		store:      st,
		bus:        bus,
		pending:    make(map[string]time.Time),
		processing: make(map[string]struct{}),
	}
}

// Run drains events until ctx is cancelled or the watcher's event
// channel closes. It blocks; callers run it in its own goroutine.
func (d *Debouncer) Run(ctx context.Context) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.handle(ctx, evt)
		case <-ticker.C:
			d.graduate(ctx)
		}
	}
}

func (d *Debouncer) handle(ctx context.Context, evt FileEvent) {
	switch evt.Kind {
	case Deleted:
		d.mu.Lock()
		delete(d.pending, evt.Path)
		delete(d.processing, evt.Path)
		d.mu.Unlock()
		d.handleDeleted(ctx, evt.Path)
	default:
		d.mu.Lock()
		_, inFlight := d.processing[evt.Path]
		if !inFlight {
			d.pending[evt.Path] = time.Now()
		}
		d.mu.Unlock()
	}
}

// finishProcessing removes path from the in-flight set once its
// ingestion goroutine has returned.
func (d *Debouncer) finishProcessing(path string) {
	d.mu.Lock()
	delete(d.processing, path)
	d.mu.Unlock()
}

// handleDeleted removes a vanished file's document immediately; spec.md
// §4.6 exempts deletions from debouncing.
func (d *Debouncer) handleDeleted(ctx context.Context, path string) {
	doc, err := d.store.GetDocumentByPath(ctx, path)
	if err != nil {
		return
	}
	if err := d.store.DeleteDocument(ctx, doc.ID); err != nil {
		slog.Error("watch: failed to delete document for removed file", "path", path, "error", err)
		return
	}
	d.bus.Publish(events.Event{Type: events.DocumentDeleted, Payload: doc.ID})
}

// graduate ingests every path whose last event is old enough, skipping
// ones that vanished or are already indexed.
func (d *Debouncer) graduate(ctx context.Context) {
	now := time.Now()

	d.mu.Lock()
	var ready []string
	for path, last := range d.pending {
		if now.Sub(last) >= quiesce {
			ready = append(ready, path)
		}
	}
	for _, path := range ready {
		delete(d.pending, path)
	}
	d.mu.Unlock()

	for _, path := range ready {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if _, err := d.store.GetDocumentByPath(ctx, path); err == nil {
			continue
		}

		d.mu.Lock()
		d.processing[path] = struct{}{}
		d.mu.Unlock()
		d.bus.Publish(events.Event{Type: events.AutoIngestStart, Payload: path})

		go func(path string) {
			defer d.finishProcessing(path)
			if _, err := d.engine.IngestFile(ctx, path); err != nil {
				d.bus.Publish(events.Event{Type: events.AutoIngestError, Payload: map[string]any{"path": path, "error": err.Error()}})
				return
			}
			d.bus.Publish(events.Event{Type: events.AutoIngestComplete, Payload: path})
		}(path)
	}
}
