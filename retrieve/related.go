package retrieve

import (
	"context"
	"sort"

	"github.com/bbiangul/recall/ingest"
)

// seedChunkCount is how many of a document's leading chunks seed the
// related-documents search.
const seedChunkCount = 3

// FindRelated implements ingest.RelatedFinder: it takes the first few
// chunks of docID, runs per-chunk vector k-NN excluding the source
// chunk, and accumulates the maximum cross-document similarity seen for
// each neighboring document.
func (r *Retriever) FindRelated(ctx context.Context, docID string, limit int, minSimilarity float64) ([]ingest.RelatedDocument, error) {
	chunks, err := r.store.ListChunksByDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if len(chunks) > seedChunkCount {
		chunks = chunks[:seedChunkCount]
	}

	best := make(map[string]float64)
	titles := make(map[string]string)

	k := 2 * limit
	for _, seed := range chunks {
		hits, err := r.store.VectorSearchByChunkID(ctx, seed.ID, k)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			continue
		}

		ids := make([]int64, len(hits))
		for i, h := range hits {
			ids[i] = h.ChunkID
		}
		withDoc, err := r.store.GetChunksWithDocument(ctx, ids)
		if err != nil {
			return nil, err
		}
		byChunkID := make(map[int64]string, len(withDoc))
		titleByDoc := make(map[string]string, len(withDoc))
		for _, cwd := range withDoc {
			byChunkID[cwd.ID] = cwd.DocumentID
			titleByDoc[cwd.DocumentID] = cwd.DocumentTitle
		}

		for _, h := range hits {
			otherDoc, ok := byChunkID[h.ChunkID]
			if !ok || otherDoc == docID {
				continue
			}
			similarity := 1 / (1 + h.Distance)
			if similarity > best[otherDoc] {
				best[otherDoc] = similarity
				titles[otherDoc] = titleByDoc[otherDoc]
			}
		}
	}

	related := make([]ingest.RelatedDocument, 0, len(best))
	for id, sim := range best {
		if sim < minSimilarity {
			continue
		}
		related = append(related, ingest.RelatedDocument{DocumentID: id, Title: titles[id], Similarity: sim})
	}
	sort.Slice(related, func(i, j int) bool { return related[i].Similarity > related[j].Similarity })
	if len(related) > limit {
		related = related[:limit]
	}
	return related, nil
}
