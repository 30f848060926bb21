package modelclient

import (
	"strings"
	"testing"
	"time"
)

func TestContextBlockEmpty(t *testing.T) {
	if got := contextBlock(nil); got != "" {
		t.Fatalf("expected empty block for no chunks, got %q", got)
	}
}

func TestContextBlockIncludesOptionalAttributes(t *testing.T) {
	page := 3
	ts := 12.5
	block := contextBlock([]ContextChunk{
		{ID: 7, Source: "notes.pdf", Page: &page, Content: "hello"},
		{ID: 8, Source: "clip.mp4", Timestamp: &ts, Content: "world"},
	})
	if !strings.Contains(block, `id="7"`) || !strings.Contains(block, `page="3"`) {
		t.Fatalf("expected page attribute for chunk 7, got %q", block)
	}
	if !strings.Contains(block, `id="8"`) || !strings.Contains(block, `timestamp="12.5"`) {
		t.Fatalf("expected timestamp attribute for chunk 8, got %q", block)
	}
	if !strings.HasPrefix(block, "<context>\n") || !strings.HasSuffix(block, "</context>\n\n") {
		t.Fatalf("expected wrapped <context> block, got %q", block)
	}
}

func TestExtractCitationsKeepsOnlyKnownIDs(t *testing.T) {
	context := []ContextChunk{{ID: 1}, {ID: 2}}
	content := "The deadline is in March [1]. Unrelated claim [99]. Also true [2]."
	cites := extractCitations(content, context)
	if len(cites) != 2 {
		t.Fatalf("expected 2 kept citations, got %d: %+v", len(cites), cites)
	}
	if cites[0].ChunkID != 1 || cites[1].ChunkID != 2 {
		t.Fatalf("expected citations in order [1,2], got %+v", cites)
	}
}

func TestExtractCitationsDedupesRepeatedIDs(t *testing.T) {
	context := []ContextChunk{{ID: 5}}
	content := "First mention [5]. Second mention [5] again."
	cites := extractCitations(content, context)
	if len(cites) != 1 {
		t.Fatalf("expected a single deduped citation, got %d", len(cites))
	}
}

func TestExtractCitationsSnippetClampedTo200(t *testing.T) {
	context := []ContextChunk{{ID: 1}}
	content := strings.Repeat("x", 500) + " [1]. trailing"
	cites := extractCitations(content, context)
	if len(cites) != 1 {
		t.Fatal("expected one citation")
	}
	if len(cites[0].Snippet) > 200 {
		t.Fatalf("expected snippet clamped to 200 chars, got %d", len(cites[0].Snippet))
	}
}

func TestExtractCitationsJoinsDocumentMetadata(t *testing.T) {
	page := 4
	ts := 12.5
	context := []ContextChunk{
		{ID: 1, DocumentID: "doc-1", Source: "notes.pdf", Page: &page, Timestamp: &ts, RelevanceScore: 0.87},
	}
	content := "The answer is here [1]."
	cites := extractCitations(content, context)
	if len(cites) != 1 {
		t.Fatalf("expected one citation, got %d", len(cites))
	}
	c := cites[0]
	if c.DocumentID != "doc-1" || c.DocumentTitle != "notes.pdf" {
		t.Fatalf("expected joined document metadata, got %+v", c)
	}
	if c.Page == nil || *c.Page != page {
		t.Fatalf("expected joined page %d, got %+v", page, c.Page)
	}
	if c.Timestamp == nil || *c.Timestamp != ts {
		t.Fatalf("expected joined timestamp %v, got %+v", ts, c.Timestamp)
	}
	if c.RelevanceScore != 0.87 {
		t.Fatalf("expected joined relevance score 0.87, got %v", c.RelevanceScore)
	}
}

func TestExtractJSONObjectStripsSurroundingProse(t *testing.T) {
	raw := "Sure, here you go:\n```json\n{\"segments\":[]}\n```\nthanks"
	got := extractJSONObject(raw)
	if got != `{"segments":[]}` {
		t.Fatalf("expected stripped JSON object, got %q", got)
	}
}

func TestRetryableStatusCode(t *testing.T) {
	for code, want := range map[int]bool{429: true, 502: true, 503: true, 504: true, 400: false, 401: false, 200: false} {
		if got := retryableStatusCode(code); got != want {
			t.Errorf("retryableStatusCode(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestAuthFailure(t *testing.T) {
	if !authFailure(401) || !authFailure(403) {
		t.Fatal("expected 401/403 to be treated as auth failures")
	}
	if authFailure(429) {
		t.Fatal("429 should not be treated as an auth failure")
	}
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 4; attempt++ {
		d := backoffDelay(attempt)
		if d < prev {
			t.Fatalf("expected non-decreasing backoff, attempt %d gave %v after %v", attempt, d, prev)
		}
		prev = d
	}
	if backoffDelay(20) > maxRetryDelay {
		t.Fatalf("expected backoff capped at %v, got %v", maxRetryDelay, backoffDelay(20))
	}
}

func TestRateLimitDelayHonorsLongerRetryAfter(t *testing.T) {
	d := rateLimitDelay(0, "90")
	if d < 90*time.Second {
		t.Fatalf("expected Retry-After to extend the delay to >= 90s, got %v", d)
	}
}

func TestNewLimiterDefaultsWhenUnset(t *testing.T) {
	l := newLimiter(0)
	if l.Burst() < 1 {
		t.Fatalf("expected a positive burst, got %d", l.Burst())
	}
}
