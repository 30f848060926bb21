package chunk

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenizerOnce sync.Once
	encoding      *tiktoken.Tiktoken
)

func init() { warmTokenizer() }

// warmTokenizer loads the fixed BPE encoding once at process start, per
// the determinism requirement: every chunker call shares the same
// warmed instance rather than re-loading per call.
func warmTokenizer() {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Fall back to a conservative word-count approximation if the
			// encoding tables can't be loaded (e.g. no network on first
			// use and no cached copy); CountTokens degrades gracefully.
			encoding = nil
			return
		}
		encoding = enc
	})
}

// CountTokens returns the token count of text under the fixed tokenizer.
func CountTokens(text string) int {
	warmTokenizer()
	if encoding == nil {
		return len(strings.Fields(text))
	}
	return len(encoding.Encode(text, nil, nil))
}
