package modelclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Config configures an httpClient against a single OpenAI-compatible
// multimodal endpoint.
type Config struct {
	BaseURL            string
	APIKey             string
	Model              string // text generation
	EmbeddingModel     string
	VisionModel        string
	RequestsPerMinute  int
}

type httpClient struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

// New returns a Client backed by cfg's HTTP endpoint.
func New(cfg Config) Client {
	return &httpClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: 120 * time.Second},
		limiter: newLimiter(cfg.RequestsPerMinute),
	}
}

// --- wire types (OpenAI chat-completions shape) ---

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// --- Embed ---

func (c *httpClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > 100 {
		return nil, fmt.Errorf("modelclient: batch of %d exceeds the 100-text embedding limit", len(texts))
	}

	body := embeddingRequest{Model: c.cfg.EmbeddingModel, Input: texts}
	respBody, err := c.doPost(ctx, "/v1/embeddings", body)
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return vectors, nil
}

// --- Generate ---

const defaultSystemPrompt = `You are a helpful assistant that answers questions using only the provided context.

INSTRUCTIONS:
1. Only use information from the <context> block to answer.
2. If the context doesn't contain relevant information, say so clearly instead of guessing.
3. Cite every claim drawn from context using the format [chunk_id], where chunk_id is the id attribute of the chunk it came from.
4. Be concise but thorough.`

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

func (c *httpClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	system := req.System
	if system == "" {
		system = defaultSystemPrompt
	}

	msgs := []message{{Role: "system", Content: system}}
	for _, h := range req.History {
		msgs = append(msgs, message{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, message{Role: "user", Content: contextBlock(req.Context) + req.Prompt})

	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	respBody, err := c.doPost(ctx, "/v1/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decoding generate response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("modelclient: no choices in generate response")
	}

	content := resp.Choices[0].Message.Content

	return &GenerateResult{
		Content:          content,
		Citations:        extractCitations(content, req.Context),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

// contextBlock renders retrieved chunks as the deterministic <context>
// block the system prompt tells the model to read citations from.
func contextBlock(chunks []ContextChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<context>\n")
	for _, ch := range chunks {
		b.WriteString(fmt.Sprintf(`<chunk id="%d" source=%q`, ch.ID, ch.Source))
		if ch.Page != nil {
			b.WriteString(fmt.Sprintf(` page="%d"`, *ch.Page))
		}
		if ch.Timestamp != nil {
			b.WriteString(fmt.Sprintf(` timestamp="%.1f"`, *ch.Timestamp))
		}
		b.WriteString(">")
		b.WriteString(ch.Content)
		b.WriteString("</chunk>\n")
	}
	b.WriteString("</context>\n\n")
	return b.String()
}

// extractCitations finds every [chunk_id] reference in content, drops
// references to chunks outside the supplied context, and pulls a short
// quote around each kept reference (the sentence it falls in, clamped
// to 200 characters), joining in the referenced chunk's document id,
// title, page, timestamp, and relevance score.
func extractCitations(content string, context []ContextChunk) []Citation {
	byID := make(map[int64]ContextChunk, len(context))
	for _, ch := range context {
		byID[ch.ID] = ch
	}

	var citations []Citation
	seen := make(map[int64]bool)

	for _, m := range citationPattern.FindAllStringSubmatchIndex(content, -1) {
		idStr := content[m[2]:m[3]]
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || seen[id] {
			continue
		}
		ch, ok := byID[id]
		if !ok {
			continue
		}
		seen[id] = true

		start, end := m[0], m[1]
		quoteStart := 0
		if i := strings.LastIndexByte(content[:start], '.'); i >= 0 {
			quoteStart = i + 1
		}
		quoteEnd := len(content)
		if i := strings.IndexByte(content[end:], '.'); i >= 0 {
			quoteEnd = end + i + 1
		}
		quote := strings.TrimSpace(content[quoteStart:quoteEnd])
		if len(quote) > 200 {
			quote = quote[:200]
		}
		citations = append(citations, Citation{
			ChunkID:        id,
			DocumentID:     ch.DocumentID,
			DocumentTitle:  ch.Source,
			Snippet:        quote,
			Page:           ch.Page,
			Timestamp:      ch.Timestamp,
			RelevanceScore: ch.RelevanceScore,
		})
	}
	return citations
}

// --- vision / media calls ---

func imageDataURL(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

func (c *httpClient) visionChat(ctx context.Context, prompt string, images [][]byte, mimeType string) (string, error) {
	parts := []contentPart{{Type: "text", Text: prompt}}
	for _, img := range images {
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: imageDataURL(img, mimeType)}})
	}

	body := chatRequest{
		Model:    c.cfg.VisionModel,
		Messages: []message{{Role: "user", Content: parts}},
	}

	respBody, err := c.doPost(ctx, "/v1/chat/completions", body)
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decoding vision response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("modelclient: no choices in vision response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *httpClient) DescribeImage(ctx context.Context, image []byte, mimeType string) (string, error) {
	return c.visionChat(ctx, "Describe this image in one or two sentences, noting any visible text.", [][]byte{image}, mimeType)
}

func (c *httpClient) TranscribeAudio(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "audio/wav"
	}
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []message{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: "Transcribe this audio. Prefix every line with its timestamp as [MM:SS]."},
				{Type: "input_audio", ImageURL: &imageURL{URL: imageDataURL(audio, mimeType)}},
			},
		}},
	}
	respBody, err := c.doPost(ctx, "/v1/chat/completions", body)
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decoding transcription response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("modelclient: no choices in transcription response")
	}
	return resp.Choices[0].Message.Content, nil
}

type videoAnalysisResponse struct {
	Segments []struct {
		OffsetSeconds float64  `json:"offset_seconds"`
		Text          string   `json:"text"`
		Topics        []string `json:"topics"`
	} `json:"segments"`
}

func (c *httpClient) AnalyzeVideoFrames(ctx context.Context, frames [][]byte, windowStart, windowEnd float64) ([]VideoSegment, error) {
	if len(frames) == 0 {
		return nil, nil
	}
	prompt := fmt.Sprintf(
		`These are keyframes sampled between t=%.1fs and t=%.1fs of a video, in order. `+
			`Respond with a JSON object {"segments":[{"offset_seconds":<float, relative to the window start>,"text":"<what happens>","topics":["..."]}]} describing what happens, splitting into multiple segments only if the content clearly changes.`,
		windowStart, windowEnd,
	)

	content, err := c.visionChat(ctx, prompt, frames, "image/jpeg")
	if err != nil {
		return nil, err
	}

	var parsed videoAnalysisResponse
	if err := json.Unmarshal([]byte(extractJSONObject(content)), &parsed); err != nil {
		// Degrade to a single whole-window segment rather than failing
		// ingestion outright when the model didn't return valid JSON.
		return []VideoSegment{{StartTime: windowStart, EndTime: windowEnd, Text: strings.TrimSpace(content)}}, nil
	}

	segments := make([]VideoSegment, 0, len(parsed.Segments))
	for i, s := range parsed.Segments {
		start := windowStart + s.OffsetSeconds
		end := windowEnd
		if i+1 < len(parsed.Segments) {
			end = windowStart + parsed.Segments[i+1].OffsetSeconds
		}
		if start < windowStart {
			start = windowStart
		}
		if end > windowEnd {
			end = windowEnd
		}
		segments = append(segments, VideoSegment{StartTime: start, EndTime: end, Text: s.Text, Topics: s.Topics})
	}
	return segments, nil
}

// extractJSONObject trims any leading/trailing prose a model wraps its
// JSON answer in (e.g. markdown code fences) down to the outermost
// {...} object.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

func (c *httpClient) OCRPageImages(ctx context.Context, pages [][]byte) (string, error) {
	if len(pages) == 0 {
		return "", nil
	}
	var out []string
	for _, page := range pages {
		text, err := c.visionChat(ctx, "Transcribe all text visible in this page image exactly, preserving reading order. Respond with the transcription only.", [][]byte{page}, "image/png")
		if err != nil {
			return "", err
		}
		out = append(out, strings.TrimSpace(text))
	}
	return strings.Join(out, "\f"), nil
}

func (c *httpClient) GenerateShortTitle(ctx context.Context, sample string, maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = 60
	}
	prompt := fmt.Sprintf("Summarize the following in a short title of at most %d characters. Respond with the title only, no quotes or punctuation at the end.\n\n%s", maxChars, sample)
	body := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []message{{Role: "user", Content: prompt}},
		MaxTokens:   64,
		Temperature: 0.2,
	}
	respBody, err := c.doPost(ctx, "/v1/chat/completions", body)
	if err != nil {
		return "", err
	}
	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("decoding title response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("modelclient: no choices in title response")
	}
	title := strings.TrimSpace(resp.Choices[0].Message.Content)
	if len(title) > maxChars {
		title = title[:maxChars]
	}
	return title, nil
}

// --- transport ---

// doPost sends a JSON POST, retrying retryable failures with capped
// exponential backoff (longer, Retry-After-aware delays on 429) and
// failing fast on bad credentials.
func (c *httpClient) doPost(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			slog.Warn("modelclient: retrying request", "url", url, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := wait(ctx, c.limiter); err != nil {
			return nil, err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request to %s failed: %w", url, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading response body: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		lastErr = fmt.Errorf("model api error %d: %s", resp.StatusCode, string(respBody))

		if authFailure(resp.StatusCode) {
			return nil, lastErr
		}
		if !retryableStatusCode(resp.StatusCode) {
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := rateLimitDelay(attempt, resp.Header.Get("Retry-After"))
			slog.Warn("modelclient: rate limited", "url", url, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	return nil, fmt.Errorf("modelclient: max retries exceeded: %w", lastErr)
}
