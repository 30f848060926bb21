//go:build cgo

package capture

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bbiangul/recall/events"
	"github.com/bbiangul/recall/store"
)

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

// fakeCapturer returns canned frames without touching any real display.
type fakeCapturer struct {
	appName, windowTitle string
	img                  Image
	err                  error
}

func (f *fakeCapturer) ForegroundWindow(ctx context.Context) (string, string, error) {
	return f.appName, f.windowTitle, f.err
}
func (f *fakeCapturer) CaptureFullScreen(ctx context.Context) (Image, error)   { return f.img, f.err }
func (f *fakeCapturer) CaptureActiveWindow(ctx context.Context) (Image, error) { return f.img, f.err }

// fakeIngester records which documents it was asked to ingest.
type fakeIngester struct {
	ingested chan string
}

func (f *fakeIngester) IngestExistingDocument(ctx context.Context, docID string) error {
	f.ingested <- docID
	return nil
}

func TestSchedulerNowWritesDocumentAndIngests(t *testing.T) {
	st := newTestStore(t)
	bus := events.NewBus()
	_, capEvents := bus.Subscribe()
	ingester := &fakeIngester{ingested: make(chan string, 1)}
	capturer := &fakeCapturer{
		appName: "Visual Studio Code", windowTitle: "main.go",
		img: Image{PNG: []byte{0x89, 'P', 'N', 'G'}, Width: 1920, Height: 1080},
	}

	sched, err := NewScheduler(capturer, st, ingester, bus, t.TempDir(), ActiveWindow, NewFilter(ModeNone, nil))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	if err := sched.Now(context.Background()); err != nil {
		t.Fatalf("Now: %v", err)
	}

	select {
	case docID := <-ingester.ingested:
		doc, err := st.GetDocumentByID(context.Background(), docID)
		if err != nil {
			t.Fatalf("GetDocumentByID: %v", err)
		}
		if doc.FileType != store.FileTypeScreenshot {
			t.Fatalf("expected screenshot file type, got %s", doc.FileType)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ingestion hand-off")
	}

	sawStarted, sawComplete := false, false
	for i := 0; i < 2; i++ {
		select {
		case evt := <-capEvents:
			switch evt.Type {
			case events.CaptureStarted:
				sawStarted = true
			case events.CaptureComplete:
				sawComplete = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for capture events")
		}
	}
	if !sawStarted || !sawComplete {
		t.Fatalf("expected both capture-started and capture-complete events, got started=%v complete=%v", sawStarted, sawComplete)
	}
}

func TestSchedulerNowSkipsCaptureWhenFilterRejects(t *testing.T) {
	st := newTestStore(t)
	bus := events.NewBus()
	ingester := &fakeIngester{ingested: make(chan string, 1)}
	capturer := &fakeCapturer{appName: "1Password", windowTitle: "Unlock Vault"}

	sched, err := NewScheduler(capturer, st, ingester, bus, t.TempDir(), ActiveWindow, NewFilter(ModeNone, nil))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	if err := sched.Now(context.Background()); err != nil {
		t.Fatalf("Now: %v", err)
	}

	select {
	case docID := <-ingester.ingested:
		t.Fatalf("expected privacy filter to block capture, but document %s was ingested", docID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSchedulerNowPropagatesCaptureErrors(t *testing.T) {
	st := newTestStore(t)
	bus := events.NewBus()
	_, capEvents := bus.Subscribe()
	ingester := &fakeIngester{ingested: make(chan string, 1)}
	capturer := &fakeCapturer{appName: "Finder", err: errors.New("display unavailable")}

	sched, err := NewScheduler(capturer, st, ingester, bus, t.TempDir(), ActiveWindow, NewFilter(ModeNone, nil))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	if err := sched.Now(context.Background()); err == nil {
		t.Fatal("expected Now to return the underlying capture error")
	}

	select {
	case evt := <-capEvents:
		if evt.Type != events.CaptureError {
			t.Fatalf("expected a capture-error event, got %s", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for capture-error event")
	}
}

func TestSchedulerLifecycleTransitions(t *testing.T) {
	st := newTestStore(t)
	bus := events.NewBus()
	ingester := &fakeIngester{ingested: make(chan string, 64)}
	capturer := &fakeCapturer{appName: "Finder", img: Image{PNG: []byte{1, 2, 3}}}

	sched, err := NewScheduler(capturer, st, ingester, bus, t.TempDir(), ActiveWindow, NewFilter(ModeNone, nil))
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	if sched.State() != StateStopped {
		t.Fatalf("expected initial state stopped, got %s", sched.State())
	}

	sched.Start(20 * time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	if sched.State() != StateRunning {
		t.Fatalf("expected running after Start, got %s", sched.State())
	}

	sched.Pause()
	time.Sleep(20 * time.Millisecond)
	if sched.State() != StatePaused {
		t.Fatalf("expected paused after Pause, got %s", sched.State())
	}

	sched.Resume()
	time.Sleep(20 * time.Millisecond)
	if sched.State() != StateRunning {
		t.Fatalf("expected running after Resume, got %s", sched.State())
	}

	sched.Stop()
	if sched.State() != StateStopped {
		t.Fatalf("expected stopped after Stop, got %s", sched.State())
	}
}
