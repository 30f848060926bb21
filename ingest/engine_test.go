//go:build cgo

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bbiangul/recall/chunk"
	"github.com/bbiangul/recall/events"
	"github.com/bbiangul/recall/extract"
	"github.com/bbiangul/recall/modelclient"
	"github.com/bbiangul/recall/store"
)

func newTestEngine(t *testing.T, client modelclient.Client, related RelatedFinder, cfg Config) (*Engine, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	registry := extract.NewRegistry(client, 0, 0)
	chunker := chunk.New(chunk.Config{TargetTokens: 64, Overlap: 8})
	bus := events.NewBus()
	return New(st, registry, chunker, client, related, bus, cfg), st
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

// fakeClient implements modelclient.Client with deterministic,
// network-free responses sized for the test chunker.
type fakeClient struct {
	embedCalls int
}

func (f *fakeClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.embedCalls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3, 0.4}
	}
	return out, nil
}
func (f *fakeClient) Generate(ctx context.Context, req modelclient.GenerateRequest) (*modelclient.GenerateResult, error) {
	return &modelclient.GenerateResult{Content: "stub"}, nil
}
func (f *fakeClient) DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	return "a test image", nil
}
func (f *fakeClient) TranscribeAudio(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return "a test transcript", nil
}
func (f *fakeClient) AnalyzeVideoFrames(ctx context.Context, frames [][]byte, windowStart, windowEnd float64) ([]modelclient.VideoSegment, error) {
	return nil, nil
}
func (f *fakeClient) OCRPageImages(ctx context.Context, pages [][]byte) (string, error) {
	return "", nil
}
func (f *fakeClient) GenerateShortTitle(ctx context.Context, sample string, maxChars int) (string, error) {
	return "Generated Title", nil
}

func TestIngestFileTextDocumentCompletesWithoutClient(t *testing.T) {
	eng, st := newTestEngine(t, nil, nil, Config{})
	path := writeTempFile(t, "notes.txt", "Hello world. This is a test document with some content in it.")

	docID, err := eng.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}

	doc, err := st.GetDocumentByID(context.Background(), docID)
	if err != nil {
		t.Fatalf("GetDocumentByID: %v", err)
	}
	if doc.Status != store.StatusCompleted {
		t.Fatalf("expected status completed, got %s (error=%q)", doc.Status, doc.Error)
	}

	chunks, err := st.ListChunksByDocument(context.Background(), docID)
	if err != nil {
		t.Fatalf("ListChunksByDocument: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}
}

func TestIngestFileIsIdempotentWhenUnchanged(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil, Config{})
	path := writeTempFile(t, "notes.txt", "Some stable content that never changes across ingestions.")

	first, err := eng.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("first IngestFile: %v", err)
	}
	second, err := eng.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("second IngestFile: %v", err)
	}
	if first != second {
		t.Fatalf("expected idempotent re-ingest to return the same document id, got %s and %s", first, second)
	}
}

func TestIngestFileDetectsRenameByHash(t *testing.T) {
	eng, st := newTestEngine(t, nil, nil, Config{})
	dir := t.TempDir()
	original := filepath.Join(dir, "original.txt")
	if err := os.WriteFile(original, []byte("content that will be renamed"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	docID, err := eng.IngestFile(context.Background(), original)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}

	renamed := filepath.Join(dir, "renamed.txt")
	if err := os.Rename(original, renamed); err != nil {
		t.Fatalf("renaming file: %v", err)
	}

	renamedID, err := eng.IngestFile(context.Background(), renamed)
	if err != nil {
		t.Fatalf("IngestFile after rename: %v", err)
	}
	if renamedID != docID {
		t.Fatalf("expected rename to reuse document id %s, got %s", docID, renamedID)
	}

	doc, err := st.GetDocumentByID(context.Background(), docID)
	if err != nil {
		t.Fatalf("GetDocumentByID: %v", err)
	}
	if filepath.Base(doc.Path) != "renamed.txt" {
		t.Fatalf("expected path updated to renamed.txt, got %s", doc.Path)
	}
}

func TestIngestFileEmbedsWhenClientConfigured(t *testing.T) {
	client := &fakeClient{}
	eng, st := newTestEngine(t, client, nil, Config{})
	path := writeTempFile(t, "notes.txt", "Content that should be embedded once ingested through the pipeline.")

	docID, err := eng.IngestFile(context.Background(), path)
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if client.embedCalls == 0 {
		t.Fatal("expected at least one embedding call")
	}

	doc, err := st.GetDocumentByID(context.Background(), docID)
	if err != nil {
		t.Fatalf("GetDocumentByID: %v", err)
	}
	if doc.Title != "Generated Title" {
		t.Fatalf("expected generated title to be saved, got %q", doc.Title)
	}
}

func TestIngestFileFailsOnTrialLimit(t *testing.T) {
	eng, _ := newTestEngine(t, nil, nil, Config{TrialLimit: 1})
	first := writeTempFile(t, "a.txt", "first document content.")
	second := writeTempFile(t, "b.txt", "second document content.")

	if _, err := eng.IngestFile(context.Background(), first); err != nil {
		t.Fatalf("first IngestFile: %v", err)
	}
	if _, err := eng.IngestFile(context.Background(), second); err == nil {
		t.Fatal("expected trial limit error on second ingest")
	}
}

func TestIngestFileFailsOnEmptyContent(t *testing.T) {
	eng, st := newTestEngine(t, nil, nil, Config{})
	path := writeTempFile(t, "empty.txt", "")

	docID, err := eng.IngestFile(context.Background(), path)
	if err == nil {
		t.Fatal("expected error for empty document")
	}
	doc, gerr := st.GetDocumentByID(context.Background(), docID)
	if gerr != nil {
		t.Fatalf("GetDocumentByID: %v", gerr)
	}
	if doc.Status != store.StatusFailed {
		t.Fatalf("expected status failed, got %s", doc.Status)
	}
}

type fakeRelatedFinder struct {
	result []RelatedDocument
}

func (f *fakeRelatedFinder) FindRelated(ctx context.Context, docID string, limit int, minSimilarity float64) ([]RelatedDocument, error) {
	return f.result, nil
}

func TestIngestFilePublishesRelatedContentEvent(t *testing.T) {
	related := &fakeRelatedFinder{result: []RelatedDocument{{DocumentID: "other", Title: "Other Doc", Similarity: 0.5}}}
	eng, _ := newTestEngine(t, nil, related, Config{})

	sub, ch := eng.bus.Subscribe()
	defer eng.bus.Unsubscribe(sub)

	first := writeTempFile(t, "a.txt", "the quick brown fox jumps over the lazy dog repeatedly.")
	if _, err := eng.IngestFile(context.Background(), first); err != nil {
		t.Fatalf("first IngestFile: %v", err)
	}
	second := writeTempFile(t, "b.txt", "a completely different sentence about something else entirely.")
	if _, err := eng.IngestFile(context.Background(), second); err != nil {
		t.Fatalf("second IngestFile: %v", err)
	}

	found := false
drain:
	for {
		select {
		case evt := <-ch:
			if evt.Type == events.RelatedContentFound {
				found = true
			}
		default:
			break drain
		}
	}
	if !found {
		t.Fatal("expected a related-content-found event after second ingest")
	}
}

func TestCancelStopsIngestionAtCheckpoint(t *testing.T) {
	eng, st := newTestEngine(t, nil, nil, Config{})
	path := writeTempFile(t, "cancel-me.txt", "content that would otherwise ingest successfully.")

	docID, err := st.InsertDocument(context.Background(), store.Document{
		ID:       "cancel-test-doc",
		Path:     path,
		Title:    "cancel-me",
		FileType: store.FileTypeText,
		Status:   store.StatusPending,
	})
	if err != nil {
		t.Fatalf("InsertDocument: %v", err)
	}

	eng.Cancel(docID)
	err = eng.IngestExistingDocument(context.Background(), docID)
	if err == nil {
		t.Fatal("expected cancellation to surface as an error")
	}

	doc, gerr := st.GetDocumentByID(context.Background(), docID)
	if gerr != nil {
		t.Fatalf("GetDocumentByID: %v", gerr)
	}
	if doc.Status != store.StatusFailed {
		t.Fatalf("expected status failed after cancellation, got %s", doc.Status)
	}
}
