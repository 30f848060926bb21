// Package watch turns OS-level filesystem events into debounced
// ingestion requests: a recursive fsnotify watch over a configured set
// of directories, filtered to recognized file types, quiesced before
// being handed to the ingestion engine.
package watch

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/bbiangul/recall/extract"
	"github.com/bbiangul/recall/store"
)

// EventKind classifies a raw OS event once its file type is recognized.
type EventKind string

const (
	Created  EventKind = "created"
	Modified EventKind = "modified"
	Deleted  EventKind = "deleted"
)

// FileEvent is one recognized, typed filesystem change.
type FileEvent struct {
	Kind EventKind
	Path string
}

// eventChannelCapacity is the ≥1000 buffer spec.md §4.6 requires;
// a full channel drops and loudly logs rather than blocking the
// fsnotify callback goroutine.
const eventChannelCapacity = 1000

// Watcher wraps an fsnotify watcher, mapping its raw events to the
// FileEvent channel the debounce loop consumes.
type Watcher struct {
	fsw *fsnotify.Watcher

	mu      sync.Mutex
	watched map[string]struct{}

	events chan FileEvent
}

// New starts an fsnotify watcher and its translation goroutine. Call
// Close to stop it.
func New() (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:     fsw,
		watched: make(map[string]struct{}),
		events:  make(chan FileEvent, eventChannelCapacity),
	}
	go w.translate()
	return w, nil
}

// Events returns the channel of recognized file events.
func (w *Watcher) Events() <-chan FileEvent { return w.events }

// AddFolder recursively watches dir. fsnotify has no native recursive
// mode, so every subdirectory that exists when AddFolder runs is
// registered individually. Subdirectories created afterwards are not
// added to the watch, so changes inside them produce no FileEvents;
// only recognized files ever trigger FileEvents.
func (w *Watcher) AddFolder(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[dir]; ok {
		return nil
	}
	dirs, err := subdirectories(dir)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if err := w.fsw.Add(d); err != nil {
			return err
		}
	}
	w.watched[dir] = struct{}{}
	return nil
}

// RemoveFolder stops watching dir and its previously-added subdirectories.
func (w *Watcher) RemoveFolder(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[dir]; !ok {
		return nil
	}
	dirs, err := subdirectories(dir)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		_ = w.fsw.Remove(d) // best-effort: already-removed dirs return an error we don't care about
	}
	delete(w.watched, dir)
	return nil
}

// WatchedFolders lists the top-level directories registered via AddFolder.
func (w *Watcher) WatchedFolders() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for d := range w.watched {
		out = append(out, d)
	}
	return out
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// translate maps raw fsnotify events to typed FileEvents, dropping
// anything whose extension isn't a recognized file type and logging
// loudly when the outbound channel is full.
func (w *Watcher) translate() {
	for {
		select {
		case evt, ok := <-w.fsw.Events:
			if !ok {
				close(w.events)
				return
			}
			w.handle(evt)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				continue
			}
			slog.Error("watch: fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handle(evt fsnotify.Event) {
	fileType := extract.DetectFileType(filepath.Ext(evt.Name))
	if fileType == store.FileTypeUnknown {
		return
	}

	var kind EventKind
	switch {
	case evt.Op&fsnotify.Create != 0:
		kind = Created
	case evt.Op&fsnotify.Write != 0:
		kind = Modified
	case evt.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		kind = Deleted
	default:
		return
	}

	select {
	case w.events <- FileEvent{Kind: kind, Path: evt.Name}:
	default:
		slog.Error("watch: event channel full, dropping event", "kind", kind, "path", evt.Name)
	}
}

// subdirectories returns dir and every directory beneath it.
func subdirectories(dir string) ([]string, error) {
	var dirs []string
	err := filepath.Walk(dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}
