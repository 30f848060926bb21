// Package chunk splits extracted content into token-bounded, overlapping
// chunks with deterministic boundaries.
package chunk

import (
	"strings"

	"github.com/bbiangul/recall/extract"
	"github.com/bbiangul/recall/store"
)

// charsPerToken approximates the character-to-token ratio used to size
// the sliding window before the fixed tokenizer gives an exact count.
const charsPerToken = 4

// Config controls chunking behaviour.
type Config struct {
	TargetTokens int // target chunk size in tokens
	Overlap      int // overlap between consecutive chunks, in tokens
}

// DefaultConfig mirrors the settings defaults (chunk_size=512, chunk_overlap=50).
func DefaultConfig() Config {
	return Config{TargetTokens: 512, Overlap: 50}
}

// Chunker splits ExtractedContent into store-ready chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker, replacing a non-positive TargetTokens with the
// default of 512 and a negative Overlap with zero.
func New(cfg Config) *Chunker {
	if cfg.TargetTokens <= 0 {
		cfg.TargetTokens = 512
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	return &Chunker{cfg: cfg}
}

// Chunk converts content into an ordered list of chunks (without ids;
// the store assigns those on insert). The chunk_index field is a
// contiguous 0-based counter across the whole document.
func (c *Chunker) Chunk(content extract.Content) []store.Chunk {
	switch content.Kind {
	case extract.KindTimed:
		return c.chunkTimed(content.Segments)
	default:
		if len(content.Pages) > 0 {
			return c.chunkPages(content.Pages)
		}
		return c.chunkPlain(content.Text)
	}
}

func (c *Chunker) chunkPlain(text string) []store.Chunk {
	spans := c.slice(text)
	chunks := make([]store.Chunk, 0, len(spans))
	for i, sp := range spans {
		content := text[sp.start:sp.end]
		chunks = append(chunks, newChunk(i, content, nil))
	}
	return chunks
}

func (c *Chunker) chunkPages(pages []extract.Page) []store.Chunk {
	var chunks []store.Chunk
	idx := 0
	for _, page := range pages {
		spans := c.slice(page.Text)
		pn := page.Number
		for _, sp := range spans {
			content := page.Text[sp.start:sp.end]
			ch := newChunk(idx, content, &pn)
			chunks = append(chunks, ch)
			idx++
		}
	}
	return chunks
}

func (c *Chunker) chunkTimed(segments []extract.Segment) []store.Chunk {
	var chunks []store.Chunk
	idx := 0
	for _, seg := range segments {
		spans := c.slice(seg.Text)
		textLen := len(seg.Text)
		duration := seg.EndTime - seg.StartTime
		for _, sp := range spans {
			content := seg.Text[sp.start:sp.end]
			var startT, endT float64
			if textLen > 0 {
				startT = seg.StartTime + duration*float64(sp.start)/float64(textLen)
				endT = seg.StartTime + duration*float64(sp.end)/float64(textLen)
			} else {
				startT, endT = seg.StartTime, seg.EndTime
			}
			ch := newChunk(idx, content, nil)
			ch.StartTime = &startT
			ch.EndTime = &endT
			if len(seg.Topics) > 0 {
				ch.Metadata = store.MarshalMetadata(map[string]interface{}{"topics": seg.Topics})
			}
			chunks = append(chunks, ch)
			idx++
		}
	}
	return chunks
}

func newChunk(index int, content string, pageNumber *int) store.Chunk {
	trimmed := strings.TrimSpace(content)
	return store.Chunk{
		ChunkIndex: index,
		Content:    trimmed,
		TokenCount: CountTokens(trimmed),
		PageNumber: pageNumber,
	}
}

// span is a half-open byte range [start, end) into a source string.
type span struct {
	start, end int
}

// slice implements the §4.3 sliding-window algorithm: advance a window
// of approximately cfg.TargetTokens tokens, preferring to terminate at
// a sentence boundary within the last 20% of the window, else a space,
// else the clamped byte boundary; then advance the next window's start
// by end-overlap, never less than target/4 past the previous start.
func (c *Chunker) slice(text string) []span {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	targetChars := c.cfg.TargetTokens * charsPerToken
	overlapChars := c.cfg.Overlap * charsPerToken
	minAdvance := targetChars / 4
	if minAdvance < 1 {
		minAdvance = 1
	}

	n := len(text)
	var spans []span
	start := 0
	for start < n {
		end := start + targetChars
		if end > n {
			end = n
		} else {
			end = preferBoundary(text, start, end, targetChars)
		}
		end = clampToRuneBoundary(text, end)
		if end <= start {
			end = clampToRuneBoundary(text, start+1)
			if end <= start {
				break
			}
		}

		spans = append(spans, span{start, end})

		if end >= n {
			break
		}

		next := end - overlapChars
		if next < start+minAdvance {
			next = start + minAdvance
		}
		next = clampToRuneBoundary(text, next)
		if next <= start {
			next = start + minAdvance
		}
		start = next
	}
	return spans
}

// preferBoundary looks backward from end within the last 20% of the
// window for a sentence-ending punctuation mark followed by
// whitespace-or-end, falling back to the nearest space, falling back
// to the original clamped end.
func preferBoundary(text string, start, end, targetChars int) int {
	lastRegionStart := start + int(float64(targetChars)*0.8)
	if lastRegionStart < start {
		lastRegionStart = start
	}
	if lastRegionStart >= end {
		lastRegionStart = start
	}

	for i := end - 1; i >= lastRegionStart && i > start; i-- {
		ch := text[i]
		if ch == '.' || ch == '!' || ch == '?' {
			if i+1 >= len(text) || text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t' {
				return i + 1
			}
		}
	}

	for i := end - 1; i > start; i-- {
		if text[i] == ' ' || text[i] == '\n' || text[i] == '\t' {
			return i + 1
		}
	}

	return end
}

// clampToRuneBoundary moves idx backward until it lands on a valid
// UTF-8 rune boundary (never splits a multi-byte rune).
func clampToRuneBoundary(text string, idx int) int {
	if idx <= 0 {
		return 0
	}
	if idx >= len(text) {
		return len(text)
	}
	for idx > 0 && isUTF8Continuation(text[idx]) {
		idx--
	}
	return idx
}

func isUTF8Continuation(b byte) bool {
	return b&0xC0 == 0x80
}
