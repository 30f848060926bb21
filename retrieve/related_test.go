//go:build cgo

package retrieve

import (
	"context"
	"testing"
)

func TestFindRelatedExcludesSameDocumentAndSortsDescending(t *testing.T) {
	st := newTestStore(t)
	sourceDoc, _ := insertDocWithChunk(t, st, "/tmp/source.txt", "source content", []float32{1, 0, 0, 0})

	closeDoc, _ := insertDocWithChunk(t, st, "/tmp/close.txt", "close content", []float32{0.9, 0.1, 0, 0})
	farDoc, _ := insertDocWithChunk(t, st, "/tmp/far.txt", "far content", []float32{0, 1, 0, 0})

	r := New(st, nil)
	related, err := r.FindRelated(context.Background(), sourceDoc, 5, 0)
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}

	for _, rel := range related {
		if rel.DocumentID == sourceDoc {
			t.Fatalf("expected source document excluded from related results, got %+v", related)
		}
	}

	if len(related) != 2 {
		t.Fatalf("expected 2 related documents, got %d: %+v", len(related), related)
	}
	if related[0].DocumentID != closeDoc {
		t.Fatalf("expected closest document first, got %s", related[0].DocumentID)
	}
	if related[1].DocumentID != farDoc {
		t.Fatalf("expected farthest document last, got %s", related[1].DocumentID)
	}
}

func TestFindRelatedRespectsMinSimilarity(t *testing.T) {
	st := newTestStore(t)
	sourceDoc, _ := insertDocWithChunk(t, st, "/tmp/source.txt", "source content", []float32{1, 0, 0, 0})
	insertDocWithChunk(t, st, "/tmp/other.txt", "other content", []float32{0, 1, 0, 0})

	r := New(st, nil)
	related, err := r.FindRelated(context.Background(), sourceDoc, 5, 0.99)
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	if len(related) != 0 {
		t.Fatalf("expected no related documents above similarity 0.99, got %+v", related)
	}
}

func TestFindRelatedTruncatesToLimit(t *testing.T) {
	st := newTestStore(t)
	sourceDoc, _ := insertDocWithChunk(t, st, "/tmp/source.txt", "source content", []float32{1, 0, 0, 0})
	insertDocWithChunk(t, st, "/tmp/a.txt", "a content", []float32{0.9, 0.1, 0, 0})
	insertDocWithChunk(t, st, "/tmp/b.txt", "b content", []float32{0.8, 0.2, 0, 0})
	insertDocWithChunk(t, st, "/tmp/c.txt", "c content", []float32{0.7, 0.3, 0, 0})

	r := New(st, nil)
	related, err := r.FindRelated(context.Background(), sourceDoc, 1, 0)
	if err != nil {
		t.Fatalf("FindRelated: %v", err)
	}
	if len(related) != 1 {
		t.Fatalf("expected truncation to limit=1, got %d: %+v", len(related), related)
	}
}
