//go:build cgo

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bbiangul/recall/rerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
	if !s.VectorExtensionLoaded() {
		t.Fatal("expected vector extension to load")
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

// ---------------------------------------------------------------------------
// Document CRUD
// ---------------------------------------------------------------------------

func sampleDoc(path string) Document {
	return Document{
		Path:        path,
		Title:       "test",
		FileType:    "pdf",
		ByteSize:    1024,
		ContentHash: "abc123",
		Status:      StatusPending,
		Metadata:    `{"pages":10}`,
	}
}

func TestInsertAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := sampleDoc("/tmp/test.pdf")
	id, err := s.InsertDocument(ctx, doc)
	if err != nil {
		t.Fatalf("inserting document: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty document id")
	}

	got, err := s.GetDocumentByID(ctx, id)
	if err != nil {
		t.Fatalf("getting document by id: %v", err)
	}
	if got.Path != "/tmp/test.pdf" {
		t.Fatalf("expected path /tmp/test.pdf, got %s", got.Path)
	}
	if got.Status != StatusPending {
		t.Fatalf("expected status pending, got %s", got.Status)
	}

	byHash, err := s.GetDocumentByHash(ctx, "abc123")
	if err != nil {
		t.Fatalf("getting document by hash: %v", err)
	}
	if byHash.ID != id {
		t.Fatalf("expected same document via hash lookup, got %s want %s", byHash.ID, id)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetDocumentByID(context.Background(), "missing")
	if !rerr.Is(err, rerr.NotFound) {
		t.Fatalf("expected NotFound error, got %v", err)
	}
}

func TestUpdateDocumentStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.InsertDocument(ctx, sampleDoc("/tmp/a.pdf"))

	if err := s.UpdateDocumentStatus(ctx, id, StatusCompleted, ""); err != nil {
		t.Fatalf("updating status: %v", err)
	}
	got, _ := s.GetDocumentByID(ctx, id)
	if got.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.CompletedAt == "" {
		t.Fatal("expected completed_at to be stamped")
	}

	if err := s.UpdateDocumentStatus(ctx, id, StatusFailed, "boom"); err != nil {
		t.Fatalf("updating status: %v", err)
	}
	got, _ = s.GetDocumentByID(ctx, id)
	if got.Error != "boom" {
		t.Fatalf("expected error message boom, got %q", got.Error)
	}
}

func TestUpdateDocumentPathAndTitlePreservesID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.InsertDocument(ctx, sampleDoc("/tmp/a.md"))

	if err := s.UpdateDocumentPathAndTitle(ctx, id, "/tmp/b.md", "b"); err != nil {
		t.Fatalf("renaming: %v", err)
	}
	got, err := s.GetDocumentByID(ctx, id)
	if err != nil {
		t.Fatalf("getting renamed document: %v", err)
	}
	if got.Title != "b" {
		t.Fatalf("expected title b, got %s", got.Title)
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.InsertDocument(ctx, sampleDoc("/tmp/c.pdf"))

	ids, err := s.InsertChunks(ctx, id, []Chunk{
		{ChunkIndex: 0, Content: "hello world", TokenCount: 2},
	})
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}
	if err := s.InsertEmbedding(ctx, ids[0], []float32{0.1, 0.2, 0.3, 0.4}); err != nil {
		t.Fatalf("inserting embedding: %v", err)
	}

	if err := s.DeleteDocument(ctx, id); err != nil {
		t.Fatalf("deleting document: %v", err)
	}

	chunks, err := s.ListChunksByDocument(ctx, id)
	if err != nil {
		t.Fatalf("listing chunks: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected 0 chunks after delete, got %d", len(chunks))
	}

	var count int
	s.DB().QueryRow("SELECT COUNT(*) FROM vec_chunks WHERE chunk_id = ?", ids[0]).Scan(&count)
	if count != 0 {
		t.Fatalf("expected embedding to be deleted, got %d rows", count)
	}
}

// ---------------------------------------------------------------------------
// Chunk operations
// ---------------------------------------------------------------------------

func TestInsertChunksRejectsMissingParent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.InsertChunks(context.Background(), "does-not-exist", []Chunk{
		{ChunkIndex: 0, Content: "x", TokenCount: 1},
	})
	if err == nil {
		t.Fatal("expected error inserting chunks for missing document")
	}
}

func TestInsertChunksOrderedByIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.InsertDocument(ctx, sampleDoc("/tmp/d.txt"))

	_, err := s.InsertChunks(ctx, id, []Chunk{
		{ChunkIndex: 1, Content: "second", TokenCount: 1},
		{ChunkIndex: 0, Content: "first", TokenCount: 1},
	})
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}

	chunks, err := s.ListChunksByDocument(ctx, id)
	if err != nil {
		t.Fatalf("listing chunks: %v", err)
	}
	if len(chunks) != 2 || chunks[0].Content != "first" || chunks[1].Content != "second" {
		t.Fatalf("expected chunks ordered by index, got %+v", chunks)
	}
}

// ---------------------------------------------------------------------------
// Vector + FTS search
// ---------------------------------------------------------------------------

func TestVectorAndFTSSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _ := s.InsertDocument(ctx, sampleDoc("/tmp/e.txt"))

	ids, err := s.InsertChunks(ctx, id, []Chunk{
		{ChunkIndex: 0, Content: "the quick brown fox jumps over the lazy dog", TokenCount: 9},
	})
	if err != nil {
		t.Fatalf("inserting chunks: %v", err)
	}
	if err := s.InsertEmbedding(ctx, ids[0], []float32{1, 0, 0, 0}); err != nil {
		t.Fatalf("inserting embedding: %v", err)
	}

	vecHits, err := s.VectorSearch(ctx, []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(vecHits) != 1 || vecHits[0].ChunkID != ids[0] {
		t.Fatalf("expected one exact vector hit, got %+v", vecHits)
	}

	ftsHits, err := s.FTSSearch(ctx, `"quick fox" OR quick* OR fox*`, 5)
	if err != nil {
		t.Fatalf("fts search: %v", err)
	}
	if len(ftsHits) != 1 || ftsHits[0].ChunkID != ids[0] {
		t.Fatalf("expected one fts hit, got %+v", ftsHits)
	}
}

func TestFTSSearchEmptyQuery(t *testing.T) {
	s := newTestStore(t)
	hits, err := s.FTSSearch(context.Background(), "", 5)
	if err != nil {
		t.Fatalf("expected no error for empty query, got %v", err)
	}
	if hits != nil {
		t.Fatalf("expected nil hits for empty query, got %+v", hits)
	}
}

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

func TestConversationAndMessageLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	convID, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("creating conversation: %v", err)
	}

	if _, err := s.AppendMessage(ctx, Message{ConversationID: convID, Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("appending user message: %v", err)
	}
	if _, err := s.AppendMessage(ctx, Message{ConversationID: convID, Role: RoleAssistant, Content: "hello"}); err != nil {
		t.Fatalf("appending assistant message: %v", err)
	}

	msgs, err := s.ListMessagesByConversation(ctx, convID)
	if err != nil {
		t.Fatalf("listing messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Fatalf("expected user then assistant, got %+v", msgs)
	}

	if err := s.DeleteConversation(ctx, convID); err != nil {
		t.Fatalf("deleting conversation: %v", err)
	}
	msgs, err = s.ListMessagesByConversation(ctx, convID)
	if err != nil {
		t.Fatalf("listing messages after delete: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected messages to cascade-delete, got %d", len(msgs))
	}
}

// ---------------------------------------------------------------------------
// Path canonicalization
// ---------------------------------------------------------------------------

func TestCanonicalPathIdempotent(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a", "..", "a", "b.txt")
	c1, err := CanonicalPath(p)
	if err != nil {
		t.Fatalf("canonicalizing: %v", err)
	}
	c2, err := CanonicalPath(c1)
	if err != nil {
		t.Fatalf("canonicalizing twice: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected idempotent canonicalization, got %s then %s", c1, c2)
	}
}
