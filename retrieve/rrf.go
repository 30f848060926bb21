package retrieve

import "sort"

// rrfK is the reciprocal rank fusion constant from the literature.
// spec.md's open questions call this a tuning knob, not a contract.
const rrfK = 60

type fusedHit struct {
	chunkID int64
	score   float64
	origin  Origin
}

// fuseRRF combines two pre-ranked (best-first) hit lists into one
// descending-score list, tagging each chunk's origin as vector, fts, or
// hybrid when it appears in both. Deterministic for identical inputs:
// no timestamps, no randomness, ties broken by chunk id.
func fuseRRF(vecHits, ftsHits []rankedHit) []fusedHit {
	type entry struct {
		score     float64
		inVec     bool
		inFTS     bool
	}
	byChunk := make(map[int64]*entry)

	for rank, h := range vecHits {
		e, ok := byChunk[h.chunkID]
		if !ok {
			e = &entry{}
			byChunk[h.chunkID] = e
		}
		e.score += 1 / float64(rrfK+rank+1)
		e.inVec = true
	}
	for rank, h := range ftsHits {
		e, ok := byChunk[h.chunkID]
		if !ok {
			e = &entry{}
			byChunk[h.chunkID] = e
		}
		e.score += 1 / float64(rrfK+rank+1)
		e.inFTS = true
	}

	fused := make([]fusedHit, 0, len(byChunk))
	for chunkID, e := range byChunk {
		origin := OriginVector
		switch {
		case e.inVec && e.inFTS:
			origin = OriginHybrid
		case e.inFTS:
			origin = OriginFTS
		}
		fused = append(fused, fusedHit{chunkID: chunkID, score: e.score, origin: origin})
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].chunkID < fused[j].chunkID
	})
	return fused
}
