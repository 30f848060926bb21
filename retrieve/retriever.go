// Package retrieve implements hybrid dense+sparse document retrieval,
// fusing a vector k-NN leg and an FTS5 leg with reciprocal rank fusion,
// plus a related-documents mode used by the ingestion engine.
package retrieve

import (
	"context"
	"regexp"
	"strings"

	"github.com/bbiangul/recall/modelclient"
	"github.com/bbiangul/recall/store"
)

// Origin records which leg(s) of the hybrid search surfaced a result.
type Origin string

const (
	OriginVector Origin = "vector"
	OriginFTS    Origin = "fts"
	OriginHybrid Origin = "hybrid"
)

// Result is one retrieved chunk, materialized with its owning document's
// identity and tagged with the fused score and origin.
type Result struct {
	ChunkID       int64
	DocumentID    string
	DocumentTitle string
	DocumentPath  string
	Content       string
	PageNumber    *int
	StartTime     *float64
	Score         float64
	Origin        Origin
}

// Retriever runs hybrid retrieval over a Store, embedding queries
// through a modelclient.Client.
type Retriever struct {
	store  *store.Store
	client modelclient.Client
}

// New creates a Retriever. client may be nil, in which case the dense
// leg is skipped and retrieval falls back to FTS only.
func New(st *store.Store, client modelclient.Client) *Retriever {
	return &Retriever{store: st, client: client}
}

// Retrieve runs the dense and sparse legs in parallel, fuses them with
// RRF, optionally filters to an allow-list of document ids, and
// materializes the top `limit` chunks.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int, documentIDs []string) ([]Result, error) {
	if limit <= 0 {
		return nil, nil
	}

	k := 2 * limit
	candidateLimit := limit
	var allow map[string]bool
	if len(documentIDs) > 0 {
		candidateLimit = limit * 3
		allow = make(map[string]bool, len(documentIDs))
		for _, id := range documentIDs {
			allow[id] = true
		}
	}

	type legResult struct {
		hits []rankedHit
		err  error
	}
	vecCh := make(chan legResult, 1)
	ftsCh := make(chan legResult, 1)

	go func() {
		hits, err := r.denseLeg(ctx, query, k)
		vecCh <- legResult{hits, err}
	}()
	go func() {
		hits, err := r.sparseLeg(ctx, query, k)
		ftsCh <- legResult{hits, err}
	}()

	vecRes := <-vecCh
	ftsRes := <-ftsCh

	fused := fuseRRF(vecRes.hits, ftsRes.hits)
	if len(fused) == 0 {
		return nil, nil
	}

	// Widen the candidate set when filtering so the allow-list doesn't
	// starve the final page of results.
	resultLimit := candidateLimit
	if resultLimit > len(fused) {
		resultLimit = len(fused)
	}
	fused = fused[:resultLimit]

	ids := make([]int64, len(fused))
	for i, f := range fused {
		ids[i] = f.chunkID
	}
	chunks, err := r.store.GetChunksWithDocument(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]store.ChunkWithDocument, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	results := make([]Result, 0, limit)
	for _, f := range fused {
		cwd, ok := byID[f.chunkID]
		if !ok {
			continue
		}
		if allow != nil && !allow[cwd.DocumentID] {
			continue
		}
		results = append(results, Result{
			ChunkID:       cwd.ID,
			DocumentID:    cwd.DocumentID,
			DocumentTitle: cwd.DocumentTitle,
			DocumentPath:  cwd.DocumentPath,
			Content:       cwd.Content,
			PageNumber:    cwd.PageNumber,
			StartTime:     cwd.StartTime,
			Score:         f.score,
			Origin:        f.origin,
		})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

func (r *Retriever) denseLeg(ctx context.Context, query string, k int) ([]rankedHit, error) {
	if r.client == nil {
		return nil, nil
	}
	embeddings, err := r.client.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, nil
	}
	hits, err := r.store.VectorSearch(ctx, embeddings[0], k)
	if err != nil {
		return nil, err
	}
	ranked := make([]rankedHit, len(hits))
	for i, h := range hits {
		ranked[i] = rankedHit{chunkID: h.ChunkID, similarity: 1 / (1 + h.Distance)}
	}
	return ranked, nil
}

func (r *Retriever) sparseLeg(ctx context.Context, query string, k int) ([]rankedHit, error) {
	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}
	hits, err := r.store.FTSSearch(ctx, ftsQuery, k)
	if err != nil {
		return nil, err
	}
	ranked := make([]rankedHit, len(hits))
	for i, h := range hits {
		ranked[i] = rankedHit{chunkID: h.ChunkID, similarity: h.Score}
	}
	return ranked, nil
}

// rankedHit is one leg's raw hit before RRF fusion.
type rankedHit struct {
	chunkID    int64
	similarity float64
}

// ftsSyntaxChars strips characters that carry syntactic meaning in the
// FTS5 query grammar before the remaining text is split into tokens.
var ftsSyntaxChars = regexp.MustCompile(`["*()+\-^:?\[\]{}!.,;]`)

// sanitizeFTSQuery builds an FTS5 MATCH expression from free text: a
// single surviving token becomes a prefix match, multiple tokens become
// a quoted phrase OR'd with per-token prefix matches, and an
// empty-after-cleaning input yields an empty query (no sparse leg).
func sanitizeFTSQuery(query string) string {
	cleaned := ftsSyntaxChars.ReplaceAllString(query, " ")
	var tokens []string
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) > 1 {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return ""
	}
	if len(tokens) == 1 {
		return tokens[0] + "*"
	}

	parts := []string{`"` + strings.Join(tokens, " ") + `"`}
	for _, tok := range tokens {
		parts = append(parts, tok+"*")
	}
	return strings.Join(parts, " OR ")
}
