// Package ingest implements the serialized extract-chunk-embed-index
// pipeline: the orchestrator that owns document dedup, cancellation,
// progress reporting, and the single-permit backpressure that keeps
// ingestion from outrunning the model provider's rate limit.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bbiangul/recall/chunk"
	"github.com/bbiangul/recall/events"
	"github.com/bbiangul/recall/extract"
	"github.com/bbiangul/recall/modelclient"
	"github.com/bbiangul/recall/rerr"
	"github.com/bbiangul/recall/store"
)

// embedBatchSize matches the model client's own per-request embedding
// cap; the engine chunks larger documents into batches of this size.
const embedBatchSize = 100

// coolDown is the back-pressure pause taken between ingestions when
// the pending queue is non-empty, giving the upstream rate limiter
// headroom to recover before the next document starts.
const coolDown = 2 * time.Second

// relatedSimilarityFloor and relatedLimit bound the related-document
// fan-out triggered after a document completes.
const (
	relatedSimilarityFloor = 0.3
	relatedLimit           = 5
)

// titleSampleChunks is how many leading chunks feed the short-title
// generator.
const titleSampleChunks = 3

// RelatedDocument is one entry in a related-documents result.
type RelatedDocument struct {
	DocumentID string
	Title      string
	Similarity float64
}

// RelatedFinder is the narrow slice of the retriever the engine needs
// for its post-completion related-content fan-out.
type RelatedFinder interface {
	FindRelated(ctx context.Context, docID string, limit int, minSimilarity float64) ([]RelatedDocument, error)
}

// Config controls engine-wide limits.
type Config struct {
	Chunker      chunk.Config
	TrialLimit   int // 0 = unlimited document count ceiling
}

// Engine is the ingestion orchestrator: one instance per store.
type Engine struct {
	store      *store.Store
	extractors *extract.Registry
	chunker    *chunk.Chunker
	client     modelclient.Client // nil degrades to FTS-only indexing
	related    RelatedFinder      // nil disables the related-documents fan-out
	bus        *events.Bus
	cfg        Config

	sem      chan struct{}
	queue    *pendingQueue
	progress *progressMap
	cancels  *cancelSet
}

// New wires an ingestion engine around a store, extractor registry,
// chunker, and optional model client / related-document finder.
func New(st *store.Store, extractors *extract.Registry, chunker *chunk.Chunker, client modelclient.Client, related RelatedFinder, bus *events.Bus, cfg Config) *Engine {
	return &Engine{
		store:      st,
		extractors: extractors,
		chunker:    chunker,
		client:     client,
		related:    related,
		bus:        bus,
		cfg:        cfg,
		sem:        make(chan struct{}, 1),
		queue:      newPendingQueue(),
		progress:   newProgressMap(),
		cancels:    newCancelSet(),
	}
}

// QueueLength reports the number of documents waiting for the permit.
func (e *Engine) QueueLength() int { return e.queue.len() }

// Progress returns the current snapshot for a document, if tracked.
func (e *Engine) Progress(docID string) (Progress, bool) { return e.progress.get(docID) }

// AllProgress lists every tracked progress snapshot.
func (e *Engine) AllProgress() []Progress { return e.progress.all() }

// ClearProgress drops every tracked progress entry (used on store reset).
func (e *Engine) ClearProgress() {
	e.progress.clear()
	e.bus.Publish(events.Event{Type: events.IngestionProgressCleared})
}

// Cancel requests cancellation of an in-flight or queued ingestion.
// The engine honors it at its next checkpoint (before extraction,
// after extraction, or after chunking).
func (e *Engine) Cancel(docID string) {
	e.cancels.request(docID)
}

// IngestFile is the entry contract for a path discovered by the
// watcher or requested directly: compute hash, dedup/rename-detect
// against existing documents, then run the full pipeline.
func (e *Engine) IngestFile(ctx context.Context, path string) (string, error) {
	if err := e.checkTrialLimit(ctx); err != nil {
		return "", err
	}

	if err := extract.ValidateFileSize(path); err != nil {
		return "", rerr.Wrap(rerr.Ingestion, err, "validating file size")
	}
	hash, err := computeFileHash(path)
	if err != nil {
		return "", rerr.Wrap(rerr.Io, err, "hashing file")
	}

	canon, err := store.CanonicalPath(path)
	if err != nil {
		return "", rerr.Wrap(rerr.Io, err, "canonicalizing path")
	}

	if existing, err := e.store.GetDocumentByPath(ctx, canon); err == nil {
		if existing.Status == store.StatusCompleted && existing.ContentHash == hash {
			return existing.ID, nil
		}
		if err := e.store.DeleteDocument(ctx, existing.ID); err != nil {
			return "", rerr.Wrap(rerr.Storage, err, "deleting superseded document")
		}
	} else if !rerr.Is(err, rerr.NotFound) {
		return "", err
	}

	if byHash, err := e.store.GetDocumentByHash(ctx, hash); err == nil && byHash.Status == store.StatusCompleted {
		title := titleFromFilename(path)
		if err := e.store.UpdateDocumentPathAndTitle(ctx, byHash.ID, canon, title); err != nil {
			return "", rerr.Wrap(rerr.Storage, err, "recording renamed document")
		}
		return byHash.ID, nil
	}

	fileType := extract.DetectFileType(filepath.Ext(path))
	info, err := os.Stat(path)
	if err != nil {
		return "", rerr.Wrap(rerr.Io, err, "statting file")
	}

	docID, err := e.store.InsertDocument(ctx, store.Document{
		Path:        canon,
		Title:       titleFromFilename(path),
		FileType:    fileType,
		ByteSize:    info.Size(),
		ContentHash: hash,
		Status:      store.StatusPending,
	})
	if err != nil {
		return "", rerr.Wrap(rerr.Storage, err, "creating document")
	}

	e.queue.push(canon)
	e.emit(docID, canon, StageQueued, "waiting for ingestion slot")

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		e.queue.remove(canon)
		return docID, ctx.Err()
	}
	e.queue.remove(canon)

	doc, err := e.store.GetDocumentByID(ctx, docID)
	if err != nil {
		<-e.sem
		return docID, rerr.Wrap(rerr.Storage, err, "reloading document before processing")
	}

	runErr := e.runPipeline(ctx, *doc)

	if e.queue.len() > 0 {
		time.Sleep(coolDown)
	}
	<-e.sem

	return docID, runErr
}

// IngestExistingDocument processes a Document that has already been
// inserted by a caller (the capture scheduler, for screenshots),
// running only the extraction-through-related-documents steps: no
// dedup/rename detection and no cool-down before releasing the permit.
func (e *Engine) IngestExistingDocument(ctx context.Context, docID string) error {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.sem }()

	doc, err := e.store.GetDocumentByID(ctx, docID)
	if err != nil {
		return rerr.Wrap(rerr.Storage, err, "loading document")
	}
	return e.runPipeline(ctx, *doc)
}

// runPipeline assumes the caller holds the ingestion permit. It runs
// extraction, chunking, embedding, and indexing for doc, updating
// status and progress at each stage, then fans out title generation
// and related-document discovery on success.
func (e *Engine) runPipeline(ctx context.Context, doc store.Document) error {
	defer e.cancels.clear(doc.ID)

	fail := func(cause error) error {
		wrapped := rerr.Wrap(rerr.Ingestion, cause, "ingesting "+doc.Path)
		if err := e.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusFailed, wrapped.Error()); err != nil {
			slog.Error("ingest: failed to record failure status", "document_id", doc.ID, "error", err)
		}
		e.emit(doc.ID, doc.Path, StageFailed, wrapped.Error())
		return wrapped
	}

	if err := e.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusProcessing, ""); err != nil {
		return fail(err)
	}

	if e.cancels.isCancelled(doc.ID) {
		return fail(errCancelled)
	}

	e.emit(doc.ID, doc.Path, StageExtracting, "extracting content")
	extractor, err := e.extractors.Get(doc.FileType)
	if err != nil {
		return fail(err)
	}
	content, err := extractor.Extract(ctx, doc.Path, func(message string) {
		e.progress.setMessage(doc.ID, message)
		e.bus.Publish(events.Event{Type: events.IngestionProgress, Payload: Progress{DocumentID: doc.ID, Stage: StageExtracting, Message: message, Path: doc.Path}})
	})
	if err != nil {
		return fail(err)
	}
	if content.IsEmpty() {
		return fail(fmt.Errorf("extraction produced no content"))
	}

	if e.cancels.isCancelled(doc.ID) {
		return fail(errCancelled)
	}

	e.emit(doc.ID, doc.Path, StageChunking, "splitting content into chunks")
	chunks := e.chunker.Chunk(content)
	if len(chunks) == 0 {
		return fail(fmt.Errorf("chunking produced no chunks"))
	}

	if e.cancels.isCancelled(doc.ID) {
		return fail(errCancelled)
	}

	e.emit(doc.ID, doc.Path, StageIndexing, "indexing chunks")
	chunkIDs, err := e.store.InsertChunks(ctx, doc.ID, chunks)
	if err != nil {
		return fail(err)
	}

	if e.client != nil {
		e.emit(doc.ID, doc.Path, StageEmbedding, "generating embeddings")
		if err := e.embedAndStore(ctx, chunks, chunkIDs); err != nil {
			return fail(err)
		}
	}

	if err := e.store.UpdateDocumentStatus(ctx, doc.ID, store.StatusCompleted, ""); err != nil {
		return fail(err)
	}
	e.emit(doc.ID, doc.Path, StageCompleted, "ingestion complete")
	e.progress.remove(doc.ID)

	e.generateTitle(ctx, doc.ID, chunks)
	e.fanOutRelated(ctx, doc.ID)

	return nil
}

// embedAndStore batches chunk texts through the model client and
// stores the resulting vectors, capped at the client's per-request
// batch limit.
func (e *Engine) embedAndStore(ctx context.Context, chunks []store.Chunk, chunkIDs []int64) error {
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i := start; i < end; i++ {
			texts[i-start] = chunks[i].Content
		}
		vectors, err := e.client.Embed(ctx, texts)
		if err != nil {
			return rerr.Wrap(rerr.Embedding, err, "embedding chunk batch")
		}
		if len(vectors) != len(texts) {
			return rerr.Newf(rerr.Embedding, "embedding count mismatch: got %d for %d texts", len(vectors), len(texts))
		}
		batch := make(map[int64][]float32, len(vectors))
		for i, v := range vectors {
			batch[chunkIDs[start+i]] = v
		}
		if err := e.store.InsertEmbeddings(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// generateTitle asks the model client for a short, content-aware title
// from the first few chunks. Failure here is non-fatal; the document
// keeps its filename-derived title.
func (e *Engine) generateTitle(ctx context.Context, docID string, chunks []store.Chunk) {
	if e.client == nil {
		return
	}
	n := titleSampleChunks
	if n > len(chunks) {
		n = len(chunks)
	}
	var sample strings.Builder
	for i := 0; i < n; i++ {
		sample.WriteString(chunks[i].Content)
		sample.WriteString("\n")
	}

	title, err := e.client.GenerateShortTitle(ctx, sample.String(), 60)
	if err != nil || strings.TrimSpace(title) == "" {
		if err != nil {
			slog.Warn("ingest: short title generation failed", "document_id", docID, "error", err)
		}
		return
	}
	if err := e.store.UpdateDocumentTitle(ctx, docID, strings.TrimSpace(title)); err != nil {
		slog.Warn("ingest: failed to save generated title", "document_id", docID, "error", err)
	}
}

// fanOutRelated asks the retriever for documents related to docID and
// emits a notification if it finds any. Only runs once the store has
// more than one document, since a single-document store has nothing
// to relate to.
func (e *Engine) fanOutRelated(ctx context.Context, docID string) {
	if e.related == nil {
		return
	}
	docs, err := e.store.ListDocuments(ctx)
	if err != nil || len(docs) <= 1 {
		return
	}

	related, err := e.related.FindRelated(ctx, docID, relatedLimit, relatedSimilarityFloor)
	if err != nil {
		slog.Warn("ingest: related-document lookup failed", "document_id", docID, "error", err)
		return
	}
	if len(related) == 0 {
		return
	}

	doc, err := e.store.GetDocumentByID(ctx, docID)
	if err != nil {
		return
	}
	e.bus.Publish(events.Event{
		Type: events.RelatedContentFound,
		Payload: map[string]any{
			"document_id": docID,
			"title":       doc.Title,
			"related":     related,
		},
	})
}

// checkTrialLimit enforces the configured document-count ceiling
// before any other work, per the entry contract.
func (e *Engine) checkTrialLimit(ctx context.Context) error {
	if e.cfg.TrialLimit <= 0 {
		return nil
	}
	docs, err := e.store.ListDocuments(ctx)
	if err != nil {
		return rerr.Wrap(rerr.Storage, err, "checking trial limit")
	}
	if len(docs) >= e.cfg.TrialLimit {
		return rerr.ErrTrialLimit
	}
	return nil
}

func (e *Engine) emit(docID, path string, stage Stage, message string) {
	pr := e.progress.set(docID, path, stage, message)
	e.bus.Publish(events.Event{Type: events.IngestionProgress, Payload: pr})
}

var errCancelled = fmt.Errorf("ingestion cancelled")

// computeFileHash hashes a file's full contents with SHA-256. Callers
// must validate file size first; this streams the file rather than
// loading it whole, but a very large file still costs a full read.
func computeFileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func titleFromFilename(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
