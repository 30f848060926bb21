package retrieve

import "testing"

func TestFuseRRFTagsOrigin(t *testing.T) {
	vec := []rankedHit{{chunkID: 1, similarity: 0.9}, {chunkID: 2, similarity: 0.8}}
	fts := []rankedHit{{chunkID: 2, similarity: 5}, {chunkID: 3, similarity: 3}}

	fused := fuseRRF(vec, fts)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(fused))
	}

	byID := make(map[int64]fusedHit, len(fused))
	for _, f := range fused {
		byID[f.chunkID] = f
	}

	if byID[1].origin != OriginVector {
		t.Errorf("expected chunk 1 origin vector, got %s", byID[1].origin)
	}
	if byID[2].origin != OriginHybrid {
		t.Errorf("expected chunk 2 origin hybrid, got %s", byID[2].origin)
	}
	if byID[3].origin != OriginFTS {
		t.Errorf("expected chunk 3 origin fts, got %s", byID[3].origin)
	}

	// Chunk 2 appears in both legs at rank 2 and rank 1 respectively,
	// so it should score at least as high as any single-leg chunk.
	if fused[0].chunkID != 2 {
		t.Errorf("expected chunk 2 ranked first (present in both legs), got chunk %d", fused[0].chunkID)
	}
}

func TestFuseRRFEmptyInputs(t *testing.T) {
	fused := fuseRRF(nil, nil)
	if len(fused) != 0 {
		t.Errorf("expected 0 results for empty inputs, got %d", len(fused))
	}
}

func TestFuseRRFIsStableForIdenticalInputs(t *testing.T) {
	vec := []rankedHit{{chunkID: 1}, {chunkID: 2}, {chunkID: 3}}
	fts := []rankedHit{{chunkID: 3}, {chunkID: 1}}

	first := fuseRRF(vec, fts)
	second := fuseRRF(vec, fts)
	if len(first) != len(second) {
		t.Fatalf("expected stable fusion, got different lengths %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].chunkID != second[i].chunkID || first[i].score != second[i].score {
			t.Fatalf("expected identical fusion for identical inputs at index %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSanitizeFTSQuerySingleToken(t *testing.T) {
	if got := sanitizeFTSQuery("compliance"); got != "compliance*" {
		t.Errorf("expected prefix match for single token, got %q", got)
	}
}

func TestSanitizeFTSQueryMultiToken(t *testing.T) {
	got := sanitizeFTSQuery("quality management")
	want := `"quality management" OR quality* OR management*`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSanitizeFTSQueryStripsSyntaxCharacters(t *testing.T) {
	got := sanitizeFTSQuery(`"ISO 9001" + (quality) - management*`)
	for _, ch := range []string{`"`, "(", ")", "+", "^", ":"} {
		if containsStr(got, ch) && ch != `"` {
			t.Errorf("sanitized query still contains raw syntax character %q: %s", ch, got)
		}
	}
}

func TestSanitizeFTSQueryDropsLengthOneTokens(t *testing.T) {
	got := sanitizeFTSQuery("a b c")
	if got != "" {
		t.Errorf("expected empty query when all tokens are length 1, got %q", got)
	}
}

func TestSanitizeFTSQueryEmptyAfterCleaning(t *testing.T) {
	if got := sanitizeFTSQuery("*** +++ ((("); got != "" {
		t.Errorf("expected empty query for syntax-only input, got %q", got)
	}
}

func containsStr(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
