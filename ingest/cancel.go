package ingest

import "sync"

// cancelSet tracks documents whose ingestion has been requested to
// stop. The engine only consults this set at its three checkpoints
// (before extraction, after extraction, after chunking); it is not a
// preemptive cancellation mechanism.
type cancelSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newCancelSet() *cancelSet {
	return &cancelSet{ids: make(map[string]struct{})}
}

func (c *cancelSet) request(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[docID] = struct{}{}
}

func (c *cancelSet) isCancelled(docID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[docID]
	return ok
}

// clear removes docID from the set once its cancellation has taken
// effect, so the id can be reused if the document is later re-ingested.
func (c *cancelSet) clear(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ids, docID)
}

func (c *cancelSet) clearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = make(map[string]struct{})
}
