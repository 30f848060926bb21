// Package capture implements the periodic screenshot pipeline: a
// filtered, interval-driven scheduler that grabs a frame, writes it to
// disk, records it as a document, and hands it to the ingestion
// engine exactly like any other file.
package capture

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bbiangul/recall/events"
	"github.com/bbiangul/recall/rerr"
	"github.com/bbiangul/recall/store"
)

// State is the scheduler's lifecycle: it starts stopped, runs on an
// interval once started, and can be paused without losing its timer.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Ingester is the narrow slice of the ingestion engine the scheduler
// needs, kept as an interface for the same reason watch.Ingester is:
// capture never imports ingest directly.
type Ingester interface {
	IngestExistingDocument(ctx context.Context, docID string) error
}

const captureFileLayout = "2006-01-02_15-04-05"

func fileName(t time.Time) string {
	return "capture_" + t.Format(captureFileLayout) + ".png"
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampInterval clamps a configured capture interval to [30, 300] seconds.
func ClampInterval(secs int) int { return clamp(secs, 30, 300) }

type msgKind int

const (
	msgStop msgKind = iota
	msgUpdateInterval
	msgPause
	msgResume
)

type controlMsg struct {
	kind     msgKind
	interval time.Duration
}

// Scheduler runs a filtered screenshot-and-ingest tick on a timer. It
// is safe to Start at most once per instance; a stopped scheduler is
// discarded rather than restarted, matching the lifecycle a fresh
// settings change constructs a new one for.
type Scheduler struct {
	capturer    Capturer
	store       *store.Store
	ingester    Ingester
	bus         *events.Bus
	capturesDir string

	mu      sync.Mutex
	state   State
	mode    CaptureMode
	filter  Filter
	control chan controlMsg
	done    chan struct{}
}

// NewScheduler prepares a Scheduler against capturesDir, creating the
// directory if needed. The scheduler starts in StateStopped; call
// Start to begin ticking.
func NewScheduler(capturer Capturer, st *store.Store, ingester Ingester, bus *events.Bus, capturesDir string, mode CaptureMode, filter Filter) (*Scheduler, error) {
	if err := os.MkdirAll(capturesDir, 0o755); err != nil {
		return nil, rerr.Wrap(rerr.Io, err, "creating captures directory")
	}
	return &Scheduler{
		capturer: capturer, store: st, ingester: ingester, bus: bus,
		capturesDir: capturesDir, mode: mode, filter: filter, state: StateStopped,
	}, nil
}

// Start begins the ticking loop at the given interval. It is a no-op
// if the scheduler is already running or paused.
func (s *Scheduler) Start(interval time.Duration) {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateRunning
	s.control = make(chan controlMsg, 4)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(interval)
}

// Stop signals the loop to exit and blocks until it has.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	control, done := s.control, s.done
	s.mu.Unlock()

	select {
	case control <- controlMsg{kind: msgStop}:
	default:
	}
	<-done
}

// SignalStop requests the loop exit without waiting for it to, unlike
// Stop. Useful from contexts (shutdown hooks, signal handlers) that
// must not block.
func (s *Scheduler) SignalStop() {
	s.mu.Lock()
	control, state := s.control, s.state
	s.mu.Unlock()
	if state == StateStopped || control == nil {
		return
	}
	select {
	case control <- controlMsg{kind: msgStop}:
	default:
	}
}

// Pause suspends ticks without stopping the timer; the loop keeps
// running and resumes cleanly on Resume.
func (s *Scheduler) Pause() { s.send(controlMsg{kind: msgPause}) }

// Resume undoes Pause.
func (s *Scheduler) Resume() { s.send(controlMsg{kind: msgResume}) }

// UpdateInterval replaces the running timer with a new one of the
// given period, without restarting the scheduler.
func (s *Scheduler) UpdateInterval(interval time.Duration) {
	s.send(controlMsg{kind: msgUpdateInterval, interval: interval})
}

func (s *Scheduler) send(msg controlMsg) {
	s.mu.Lock()
	control, state := s.control, s.state
	s.mu.Unlock()
	if state == StateStopped || control == nil {
		return
	}
	select {
	case control <- msg:
	default:
	}
}

// State reports the scheduler's current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// UpdateFilter swaps the active app filter, taking effect on the next
// tick; no restart required.
func (s *Scheduler) UpdateFilter(filter Filter) {
	s.mu.Lock()
	s.filter = filter
	s.mu.Unlock()
}

func (s *Scheduler) currentFilter() Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

func (s *Scheduler) run(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.State() == StatePaused {
				continue
			}
			s.tick(context.Background())
		case msg, ok := <-s.control:
			if !ok {
				s.setState(StateStopped)
				return
			}
			switch msg.kind {
			case msgStop:
				s.setState(StateStopped)
				return
			case msgUpdateInterval:
				ticker.Stop()
				ticker = time.NewTicker(msg.interval)
			case msgPause:
				s.setState(StatePaused)
			case msgResume:
				s.setState(StateRunning)
			}
		}
	}
}

// Now performs a single capture-and-ingest cycle immediately, outside
// the ticker. Used for the one-shot hotkey capture.
func (s *Scheduler) Now(ctx context.Context) error {
	return s.tick(ctx)
}

func (s *Scheduler) tick(ctx context.Context) error {
	appName, windowTitle, err := s.capturer.ForegroundWindow(ctx)
	if err != nil {
		wrapped := rerr.Wrap(rerr.Capture, err, "querying foreground window")
		s.publishError(wrapped)
		return wrapped
	}

	if !s.currentFilter().ShouldCapture(appName, windowTitle) {
		return nil
	}

	s.bus.Publish(events.Event{Type: events.CaptureStarted, Payload: map[string]any{"mode": string(s.mode)}})

	var img Image
	if s.mode == FullScreen {
		img, err = s.capturer.CaptureFullScreen(ctx)
	} else {
		img, err = s.capturer.CaptureActiveWindow(ctx)
	}
	if err != nil {
		wrapped := rerr.Wrap(rerr.Capture, err, "capturing frame")
		s.publishError(wrapped)
		return wrapped
	}

	path, err := s.writeImage(img)
	if err != nil {
		s.publishError(err)
		return err
	}

	docID, err := s.record(ctx, path, img, appName, windowTitle)
	if err != nil {
		s.publishError(err)
		return err
	}

	if err := s.ingester.IngestExistingDocument(ctx, docID); err != nil {
		s.publishError(err)
		return err
	}

	s.bus.Publish(events.Event{Type: events.CaptureComplete, Payload: map[string]any{"document_id": docID, "path": path}})
	return nil
}

func (s *Scheduler) publishError(err error) {
	slog.Warn("capture: tick failed", "error", err)
	s.bus.Publish(events.Event{Type: events.CaptureError, Payload: map[string]any{"error": err.Error()}})
}

func (s *Scheduler) writeImage(img Image) (string, error) {
	path := filepath.Join(s.capturesDir, fileName(time.Now()))
	if err := os.WriteFile(path, img.PNG, 0o644); err != nil {
		return "", rerr.Wrap(rerr.Io, err, "writing capture file")
	}
	return path, nil
}

func (s *Scheduler) record(ctx context.Context, path string, img Image, appName, windowTitle string) (string, error) {
	sum := sha256.Sum256(img.PNG)
	metadata, err := json.Marshal(map[string]any{
		"mode":         string(s.mode),
		"source_app":   appName,
		"window_title": windowTitle,
		"resolution":   fmt.Sprintf("%dx%d", img.Width, img.Height),
	})
	if err != nil {
		return "", rerr.Wrap(rerr.Serialization, err, "encoding capture metadata")
	}

	docID, err := s.store.InsertDocument(ctx, store.Document{
		Path:        path,
		Title:       filepath.Base(path),
		FileType:    store.FileTypeScreenshot,
		ByteSize:    int64(len(img.PNG)),
		ContentHash: hex.EncodeToString(sum[:]),
		MediaType:   "image/png",
		Status:      store.StatusPending,
		Metadata:    string(metadata),
	})
	if err != nil {
		return "", rerr.Wrap(rerr.Storage, err, "recording capture document")
	}
	return docID, nil
}
