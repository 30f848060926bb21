// Package recall wires the store, extractors, chunker, model client,
// ingestion engine, file watcher, retriever, RAG engine, and capture
// scheduler into a single engine, the way goreason.New wires its own
// component graph.
package recall

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/bbiangul/recall/capture"
	"github.com/bbiangul/recall/chunk"
	"github.com/bbiangul/recall/events"
	"github.com/bbiangul/recall/extract"
	"github.com/bbiangul/recall/ingest"
	"github.com/bbiangul/recall/modelclient"
	"github.com/bbiangul/recall/rag"
	"github.com/bbiangul/recall/retrieve"
	"github.com/bbiangul/recall/rerr"
	"github.com/bbiangul/recall/store"
	"github.com/bbiangul/recall/watch"
)

// Licensor is the narrow out-of-scope boundary for license activation
// against a remote vendor; the engine holds at most one and degrades
// cleanly to KindConfig errors when none is wired in.
type Licensor interface {
	Get(ctx context.Context) (License, error)
	Activate(ctx context.Context, key string) error
	Deactivate(ctx context.Context) error
	Verify(ctx context.Context) (bool, error)
}

// License is the license state a Licensor reports.
type License struct {
	Active    bool   `json:"active"`
	Plan      string `json:"plan,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// Engine is the process-wide wiring of every component: one Store,
// one model client, one ingestion engine, an optional file watcher
// and capture scheduler layered on top.
type Engine struct {
	cfg Config

	store      *store.Store
	extractors *extract.Registry
	chunker    *chunk.Chunker
	client     modelclient.Client
	bus        *events.Bus

	ingestEngine *ingest.Engine
	retriever    *retrieve.Retriever
	rag          *rag.Engine

	watcher   *watch.Watcher
	debouncer *watch.Debouncer

	capturer capture.Capturer
	sched    *capture.Scheduler

	licensor Licensor

	mu          sync.Mutex
	watchCancel context.CancelFunc
}

// New constructs an Engine from cfg. Capturer may be nil (screen
// capture stays unavailable until one is wired in — it is the
// OS-specific boundary SPEC_FULL.md leaves external); licensor may
// also be nil.
func New(cfg Config, capturer capture.Capturer, licensor Licensor) (*Engine, error) {
	cfg.normalize()

	st, err := store.New(cfg.DBPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	var client modelclient.Client
	if cfg.ModelAPIKey != "" || cfg.ModelBaseURL != "" {
		client = modelclient.New(modelclient.Config{
			BaseURL:           cfg.ModelBaseURL,
			APIKey:            cfg.ModelAPIKey,
			Model:             cfg.ReasoningModel,
			EmbeddingModel:    cfg.EmbeddingModel,
			VisionModel:       cfg.ReasoningModel,
			RequestsPerMinute: cfg.RequestsPerMinute,
		})
	}

	extractors := extract.NewRegistry(client, cfg.KeyframeInterval, cfg.VideoSegmentDuration)
	chunker := chunk.New(chunk.Config{TargetTokens: cfg.ChunkSize, Overlap: cfg.ChunkOverlap})
	bus := events.NewBus()
	retriever := retrieve.New(st, client)

	w, err := watch.New()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("starting file watcher: %w", err)
	}

	ingestEngine := ingest.New(st, extractors, chunker, client, retriever, bus, ingest.Config{
		Chunker:    chunk.Config{TargetTokens: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		TrialLimit: cfg.TrialLimit,
	})
	debouncer := watch.NewDebouncer(w, ingestEngine, st, bus)
	ragEngine := rag.New(st, retriever, client)

	e := &Engine{
		cfg: cfg, store: st, extractors: extractors, chunker: chunker, client: client, bus: bus,
		ingestEngine: ingestEngine, retriever: retriever, rag: ragEngine,
		watcher: w, debouncer: debouncer, capturer: capturer, licensor: licensor,
	}

	for _, dir := range cfg.WatchedFolders {
		if err := w.AddFolder(dir); err != nil {
			w.Close()
			st.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	if capturer != nil {
		sched, err := capture.NewScheduler(capturer, st, ingestEngine, bus, cfg.CapturesDir,
			capture.ParseCaptureMode(cfg.CaptureMode), capture.NewFilter(capture.Mode(cfg.CaptureAppFilter), cfg.CaptureAppList))
		if err != nil {
			w.Close()
			st.Close()
			return nil, fmt.Errorf("creating capture scheduler: %w", err)
		}
		e.sched = sched
	}

	if cfg.AutoIngestEnabled {
		e.startWatchLoopLocked()
	}
	if e.sched != nil && cfg.ScreenCaptureEnabled {
		e.sched.Start(time.Duration(cfg.CaptureIntervalSecs) * time.Second)
	}

	return e, nil
}

// Close releases the store and watcher. The capture scheduler, if
// running, is stopped first.
func (e *Engine) Close() error {
	if e.sched != nil {
		e.sched.Stop()
	}
	e.mu.Lock()
	if e.watchCancel != nil {
		e.watchCancel()
	}
	e.mu.Unlock()
	if err := e.watcher.Close(); err != nil {
		return err
	}
	return e.store.Close()
}

// Store exposes the underlying store for diagnostic access.
func (e *Engine) Store() *store.Store { return e.store }

func (e *Engine) startWatchLoopLocked() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watchCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.watchCancel = cancel
	go e.debouncer.Run(ctx)
}

func (e *Engine) stopWatchLoopLocked() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watchCancel == nil {
		return
	}
	e.watchCancel()
	e.watchCancel = nil
}

// --- Documents ---

// ListDocuments returns every ingested document.
func (e *Engine) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return e.store.ListDocuments(ctx)
}

// GetDocument returns one document by id.
func (e *Engine) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	return e.store.GetDocumentByID(ctx, id)
}

// DeleteDocument removes a document and its chunks/embeddings.
func (e *Engine) DeleteDocument(ctx context.Context, id string) error {
	if err := e.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	e.bus.Publish(events.Event{Type: events.DocumentDeleted, Payload: id})
	return nil
}

// ResetStore wipes every document, chunk, embedding, conversation, and
// message, leaving the schema in place.
func (e *Engine) ResetStore() error {
	return e.store.HardReset()
}

// ReingestDocument re-runs the pipeline for an already-recorded document.
func (e *Engine) ReingestDocument(ctx context.Context, id string) error {
	return e.ingestEngine.IngestExistingDocument(ctx, id)
}

// --- Ingestion ---

// IngestFile runs path through the ingestion pipeline.
func (e *Engine) IngestFile(ctx context.Context, path string) (string, error) {
	return e.ingestEngine.IngestFile(ctx, path)
}

// IngestDirectory walks dir (optionally recursively) and ingests every
// file whose extension is a recognized type, continuing past
// individual failures and returning the first error alongside however
// many documents succeeded.
func (e *Engine) IngestDirectory(ctx context.Context, dir string, recursive bool) ([]string, error) {
	paths, err := collectFiles(dir, recursive)
	if err != nil {
		return nil, rerr.Wrap(rerr.Io, err, "listing directory")
	}

	var ids []string
	var firstErr error
	for _, path := range paths {
		if extract.DetectFileType(filepath.Ext(path)) == store.FileTypeUnknown {
			continue
		}
		id, err := e.ingestEngine.IngestFile(ctx, path)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ids = append(ids, id)
	}
	return ids, firstErr
}

// CancelIngestion cancels an in-flight ingestion for docID, if any.
func (e *Engine) CancelIngestion(docID string) { e.ingestEngine.Cancel(docID) }

// IngestionProgress reports the current progress for docID.
func (e *Engine) IngestionProgress(docID string) (ingest.Progress, bool) {
	return e.ingestEngine.Progress(docID)
}

// QueueStatus reports every in-flight document's progress and the
// number of documents currently queued behind the ingestion semaphore.
func (e *Engine) QueueStatus() ([]ingest.Progress, int) {
	return e.ingestEngine.AllProgress(), e.ingestEngine.QueueLength()
}

// --- Search / RAG ---

// Search runs hybrid retrieval over query, optionally restricted to
// documentIDs, without invoking the model.
func (e *Engine) Search(ctx context.Context, query string, limit int, documentIDs []string) ([]retrieve.Result, error) {
	return e.retriever.Retrieve(ctx, query, limit, documentIDs)
}

// Query answers a question, citing its sources.
func (e *Engine) Query(ctx context.Context, question string, opts rag.Options) (*rag.Response, error) {
	return e.rag.Query(ctx, question, opts)
}

// --- Conversations ---

func (e *Engine) CreateConversation(ctx context.Context, title string) (string, error) {
	return e.store.CreateConversation(ctx, title)
}

func (e *Engine) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	return e.store.GetConversation(ctx, id)
}

func (e *Engine) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	return e.store.ListConversations(ctx)
}

func (e *Engine) DeleteConversation(ctx context.Context, id string) error {
	return e.store.DeleteConversation(ctx, id)
}

func (e *Engine) UpdateConversationTitle(ctx context.Context, id, title string) error {
	return e.store.UpdateConversationTitle(ctx, id, title)
}

func (e *Engine) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	return e.store.ListMessagesByConversation(ctx, conversationID)
}

// --- Settings ---

// Settings returns the engine's current configuration, the same
// shape the shell persists as its settings blob.
func (e *Engine) Settings() Config { return e.cfg }

// UpdateSettings replaces the stored settings and pushes the capture
// filter and interval to a running capture scheduler. The model client
// keeps the API key and endpoint it was built with; a changed key takes
// effect only when the Engine is recreated.
func (e *Engine) UpdateSettings(next Config) {
	next.normalize()
	e.mu.Lock()
	e.cfg = next
	e.mu.Unlock()
	if e.sched != nil {
		e.sched.UpdateFilter(capture.NewFilter(capture.Mode(next.CaptureAppFilter), next.CaptureAppList))
		e.sched.UpdateInterval(time.Duration(next.CaptureIntervalSecs) * time.Second)
	}
}

// ClearAPIKey removes the stored model API key from settings.
func (e *Engine) ClearAPIKey() {
	e.mu.Lock()
	e.cfg.ModelAPIKey = ""
	e.mu.Unlock()
}

// ValidateAPIKey checks the configured model client can embed a
// trivial probe string, surfacing InvalidCredential distinctly from a
// transient network failure.
func (e *Engine) ValidateAPIKey(ctx context.Context) error {
	if e.client == nil {
		return rerr.New(rerr.Config, "no model client configured")
	}
	_, err := e.client.Embed(ctx, []string{"ping"})
	return err
}

// --- Watcher ---

// StartWatching begins draining filesystem events into the ingestion
// engine. A no-op if already running.
func (e *Engine) StartWatching() { e.startWatchLoopLocked() }

// StopWatching stops draining filesystem events; watched folders stay
// registered and can be resumed with StartWatching.
func (e *Engine) StopWatching() { e.stopWatchLoopLocked() }

// ToggleAutoIngest starts or stops the watch loop per enabled.
func (e *Engine) ToggleAutoIngest(enabled bool) {
	if enabled {
		e.StartWatching()
	} else {
		e.StopWatching()
	}
}

func (e *Engine) AddWatchedFolder(dir string) error    { return e.watcher.AddFolder(dir) }
func (e *Engine) RemoveWatchedFolder(dir string) error { return e.watcher.RemoveFolder(dir) }
func (e *Engine) WatchedFolders() []string             { return e.watcher.WatchedFolders() }

// --- Capture ---

// ErrCaptureNotConfigured is returned by the capture start, stop, now,
// status, pause and resume operations when the engine was built without
// an OS-specific Capturer. CleanupCaptures does not need one.
var ErrCaptureNotConfigured = rerr.New(rerr.Config, "capture not configured: no Capturer was wired in")

func (e *Engine) StartCapture() error {
	if e.sched == nil {
		return ErrCaptureNotConfigured
	}
	e.sched.Start(time.Duration(e.cfg.CaptureIntervalSecs) * time.Second)
	return nil
}

func (e *Engine) StopCapture() error {
	if e.sched == nil {
		return ErrCaptureNotConfigured
	}
	e.sched.Stop()
	return nil
}

func (e *Engine) CaptureNow(ctx context.Context) error {
	if e.sched == nil {
		return ErrCaptureNotConfigured
	}
	return e.sched.Now(ctx)
}

func (e *Engine) CaptureStatus() (capture.State, error) {
	if e.sched == nil {
		return capture.StateStopped, ErrCaptureNotConfigured
	}
	return e.sched.State(), nil
}

func (e *Engine) PauseCapture() error {
	if e.sched == nil {
		return ErrCaptureNotConfigured
	}
	e.sched.Pause()
	return nil
}

func (e *Engine) ResumeCapture() error {
	if e.sched == nil {
		return ErrCaptureNotConfigured
	}
	e.sched.Resume()
	return nil
}

// CleanupCaptures sweeps expired images from the captures directory,
// per the retention window in settings.
func (e *Engine) CleanupCaptures() (int, error) {
	return capture.Sweep(e.cfg.CapturesDir, time.Duration(e.cfg.CaptureRetentionDays)*24*time.Hour, time.Now())
}

// --- License ---

func (e *Engine) GetLicense(ctx context.Context) (License, error) {
	if e.licensor == nil {
		return License{}, rerr.New(rerr.Config, "license activation not configured")
	}
	return e.licensor.Get(ctx)
}

func (e *Engine) ActivateLicense(ctx context.Context, key string) error {
	if e.licensor == nil {
		return rerr.New(rerr.Config, "license activation not configured")
	}
	return e.licensor.Activate(ctx, key)
}

func (e *Engine) DeactivateLicense(ctx context.Context) error {
	if e.licensor == nil {
		return rerr.New(rerr.Config, "license activation not configured")
	}
	return e.licensor.Deactivate(ctx)
}

func (e *Engine) VerifyLicense(ctx context.Context) (bool, error) {
	if e.licensor == nil {
		return false, rerr.New(rerr.Config, "license activation not configured")
	}
	return e.licensor.Verify(ctx)
}
