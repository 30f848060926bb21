// Package rag wires retrieval and generation into the conversational
// question-answering surface: resolve a conversation, retrieve grounded
// context, generate a cited answer, and persist the turn.
package rag

import (
	"context"
	"encoding/json"

	"github.com/bbiangul/recall/modelclient"
	"github.com/bbiangul/recall/retrieve"
	"github.com/bbiangul/recall/store"
)

// noResultsMessage is returned verbatim, without invoking the model,
// when retrieval comes back empty.
const noResultsMessage = "I don't have any relevant information in your knowledge base to answer this question."

const defaultMaxChunks = 20

const systemPrompt = `You are a precise personal-knowledge-base assistant. Answer questions using ONLY the <context> chunks provided.
Rules:
1. Cite every factual claim with the chunk id it came from, in the form [id].
2. Only state facts directly supported by the provided context.
3. If the context doesn't contain enough information to answer, say so explicitly.
4. Be concise.`

// SourceChunk is one retrieved chunk folded into a query response.
type SourceChunk struct {
	ChunkID    int64            `json:"chunk_id"`
	DocumentID string           `json:"document_id"`
	Title      string           `json:"title"`
	Content    string           `json:"content"`
	PageNumber *int             `json:"page_number,omitempty"`
	Timestamp  *float64         `json:"timestamp,omitempty"`
	Score      float64          `json:"score"`
	Origin     retrieve.Origin  `json:"origin"`
}

// Citation is a resolved [chunk_id] reference, joined back to its
// source chunk.
type Citation struct {
	ChunkID        int64    `json:"chunk_id"`
	DocumentID     string   `json:"document_id"`
	DocumentTitle  string   `json:"document_title"`
	Snippet        string   `json:"snippet"`
	Page           *int     `json:"page,omitempty"`
	Timestamp      *float64 `json:"timestamp,omitempty"`
	RelevanceScore float64  `json:"relevance_score"`
}

// Response is the result of a query: the answer text, its citations,
// the chunks it was grounded in, and the conversation it was appended to.
type Response struct {
	Answer         string        `json:"answer"`
	Citations      []Citation    `json:"citations"`
	Sources        []SourceChunk `json:"sources"`
	ConversationID string        `json:"conversation_id"`
}

// Options configures a single query.
type Options struct {
	ConversationID string // empty creates a new conversation
	MaxChunks      int    // 0 uses defaultMaxChunks
	IncludeSources bool
	DocumentIDs    []string
}

// Engine answers questions by retrieving grounded context and invoking
// a model client, persisting each turn to the conversation store.
type Engine struct {
	store     *store.Store
	retriever *retrieve.Retriever
	client    modelclient.Client
}

// New creates a RAG engine.
func New(st *store.Store, retriever *retrieve.Retriever, client modelclient.Client) *Engine {
	return &Engine{store: st, retriever: retriever, client: client}
}

// Query answers question q, resolving or creating a conversation,
// retrieving grounded context, and persisting the user/assistant turn.
func (e *Engine) Query(ctx context.Context, q string, opts Options) (*Response, error) {
	conversationID, history, err := e.resolveConversation(ctx, opts.ConversationID)
	if err != nil {
		return nil, err
	}

	maxChunks := opts.MaxChunks
	if maxChunks == 0 {
		maxChunks = defaultMaxChunks
	}

	results, err := e.retriever.Retrieve(ctx, q, maxChunks, opts.DocumentIDs)
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		if err := e.persistTurn(ctx, conversationID, q, noResultsMessage, nil); err != nil {
			return nil, err
		}
		return &Response{Answer: noResultsMessage, ConversationID: conversationID}, nil
	}

	sources := make([]SourceChunk, len(results))
	contextChunks := make([]modelclient.ContextChunk, len(results))
	for i, r := range results {
		sources[i] = SourceChunk{
			ChunkID: r.ChunkID, DocumentID: r.DocumentID, Title: r.DocumentTitle,
			Content: r.Content, PageNumber: r.PageNumber, Timestamp: r.StartTime,
			Score: r.Score, Origin: r.Origin,
		}
		contextChunks[i] = modelclient.ContextChunk{
			ID: r.ChunkID, DocumentID: r.DocumentID, Source: r.DocumentTitle, Page: r.PageNumber,
			Timestamp: r.StartTime, Content: r.Content, RelevanceScore: r.Score,
		}
	}

	result, err := e.client.Generate(ctx, modelclient.GenerateRequest{
		System:  systemPrompt,
		Prompt:  q,
		Context: contextChunks,
		History: history,
	})
	if err != nil {
		return nil, err
	}

	citations := make([]Citation, len(result.Citations))
	for i, c := range result.Citations {
		citations[i] = Citation{
			ChunkID:        c.ChunkID,
			DocumentID:     c.DocumentID,
			DocumentTitle:  c.DocumentTitle,
			Snippet:        c.Snippet,
			Page:           c.Page,
			Timestamp:      c.Timestamp,
			RelevanceScore: c.RelevanceScore,
		}
	}

	if err := e.persistTurn(ctx, conversationID, q, result.Content, citations); err != nil {
		return nil, err
	}

	resp := &Response{Answer: result.Content, Citations: citations, ConversationID: conversationID}
	if opts.IncludeSources {
		resp.Sources = sources
	}
	return resp, nil
}

// resolveConversation creates a new conversation when id is empty, or
// loads an existing one's full history as oldest-first turns.
func (e *Engine) resolveConversation(ctx context.Context, id string) (string, []modelclient.HistoryMessage, error) {
	if id == "" {
		newID, err := e.store.CreateConversation(ctx, "")
		return newID, nil, err
	}

	msgs, err := e.store.ListMessagesByConversation(ctx, id)
	if err != nil {
		return "", nil, err
	}
	history := make([]modelclient.HistoryMessage, len(msgs))
	for i, m := range msgs {
		history[i] = modelclient.HistoryMessage{Role: m.Role, Content: m.Content}
	}
	return id, history, nil
}

func (e *Engine) persistTurn(ctx context.Context, conversationID, question, answer string, citations []Citation) error {
	if _, err := e.store.AppendMessage(ctx, store.Message{
		ConversationID: conversationID, Role: store.RoleUser, Content: question,
	}); err != nil {
		return err
	}

	citationsJSON := ""
	if len(citations) > 0 {
		b, err := json.Marshal(citations)
		if err != nil {
			return err
		}
		citationsJSON = string(b)
	}
	_, err := e.store.AppendMessage(ctx, store.Message{
		ConversationID: conversationID, Role: store.RoleAssistant, Content: answer, Citations: citationsJSON,
	})
	return err
}
