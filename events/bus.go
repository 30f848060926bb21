// Package events is the process-wide pub/sub fan-out used to notify
// collaborators (the shell, the UI, logs) of ingestion, watcher, and
// capture activity without coupling those components to a transport.
package events

import (
	"log/slog"
	"sync"
)

// Kinds of events emitted by the engine's components.
const (
	IngestionProgress       = "ingestion-progress"
	IngestionProgressCleared = "ingestion-progress-cleared"
	DocumentDeleted          = "document-deleted"
	AutoIngestStart          = "auto-ingest-start"
	AutoIngestComplete       = "auto-ingest-complete"
	AutoIngestError          = "auto-ingest-error"
	CaptureStarted           = "capture-started"
	CaptureComplete          = "capture-complete"
	CaptureError             = "capture-error"
	RelatedContentFound      = "related-content-found"
)

// Event is one notification carried on the bus. Payload is kind-specific;
// subscribers type-assert it based on Type.
type Event struct {
	Type    string
	Payload any
}

// subscriberBuffer is the channel capacity for each subscriber; a slow
// or absent subscriber drops events rather than blocking the publisher.
const subscriberBuffer = 256

// Bus fans out published events to any number of subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBus returns an empty, ready-to-use Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new listener and returns its channel and an id
// to later Unsubscribe with.
func (b *Bus) Subscribe() (int, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish fans an event out to every current subscriber. A subscriber
// whose buffer is full drops the event; the publisher never blocks.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			slog.Warn("events: dropped event, subscriber buffer full", "type", evt.Type, "subscriber", id)
		}
	}
}
