// Package modelclient defines the capability surface the engine needs
// from a multimodal model provider: embeddings, grounded generation,
// and the media-description calls the extractors fall back to.
package modelclient

import "context"

// ContextChunk is one retrieved chunk folded into a generation prompt.
type ContextChunk struct {
	ID             int64
	DocumentID     string
	Source         string // document title or path
	Page           *int
	Timestamp      *float64
	Content        string
	RelevanceScore float64
}

// HistoryMessage is one prior turn of a conversation, oldest first.
type HistoryMessage struct {
	Role    string
	Content string
}

// GenerateRequest carries everything needed to produce a grounded answer.
type GenerateRequest struct {
	System      string
	Prompt      string
	Context     []ContextChunk
	History     []HistoryMessage
	MaxTokens   int
	Temperature float64
}

// Citation is one [chunk_id] reference the model made in its answer,
// joined back to the source chunk it referenced.
type Citation struct {
	ChunkID        int64
	DocumentID     string
	DocumentTitle  string
	Snippet        string
	Page           *int
	Timestamp      *float64
	RelevanceScore float64
}

// GenerateResult is a grounded answer plus the citations it backed its
// claims with and the token accounting for the call.
type GenerateResult struct {
	Content          string
	Citations        []Citation
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// VideoSegment is one topic-tagged, time-bounded span a video analysis
// call produced from a window of sampled keyframes.
type VideoSegment struct {
	StartTime float64
	EndTime   float64
	Text      string
	Topics    []string
}

// Client is the full capability surface the engine drives a provider
// through. Embed accepts at most 100 texts per call, so callers split
// larger inputs into batches; the other methods take their whole input
// in one call.
type Client interface {
	// Embed returns one vector per input text, in the same order.
	// Callers must not pass more than 100 texts in a single call.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Generate produces a grounded answer to req.Prompt, citing
	// req.Context chunks by id.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

	// DescribeImage returns a natural-language description of an image.
	DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error)

	// TranscribeAudio returns a timestamped transcript ("[MM:SS] ..."
	// per line) of the given audio.
	TranscribeAudio(ctx context.Context, audio []byte, mimeType string) (string, error)

	// AnalyzeVideoFrames returns topic-tagged segments describing a
	// window of sampled keyframes spanning [windowStart, windowEnd].
	AnalyzeVideoFrames(ctx context.Context, frames [][]byte, windowStart, windowEnd float64) ([]VideoSegment, error)

	// OCRPageImages returns the recognized text of one or more page
	// images, concatenated in order with a form-feed between pages.
	OCRPageImages(ctx context.Context, pages [][]byte) (string, error)

	// GenerateShortTitle produces a short title (<= maxChars) summarizing
	// sample text, for naming new conversations and ingested captures.
	GenerateShortTitle(ctx context.Context, sample string, maxChars int) (string, error)
}
