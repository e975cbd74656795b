// Package events provides the typed notification channel between the
// sync core and its observers (UI badges, diagnostics). The event set
// is closed: observers switch on Type instead of matching strings.
package events

import (
	"sync"
	"time"

	"github.com/opsquill/fieldops/backend/internal/models"
)

// Type distinguishes event kinds.
type Type int

const (
	// Enqueued fires when a new item is persisted to the queue.
	Enqueued Type = iota + 1
	// Dequeued fires when an item is selected for processing.
	Dequeued
	// ProcessingStart fires just before the outbound call for an item.
	ProcessingStart
	// ProcessingComplete fires after an item succeeds and is removed.
	ProcessingComplete
	// Failed fires when an attempt fails but retries remain.
	Failed
	// Dead fires when an item exhausts its retries.
	Dead
	// Reset fires when a user manually revives a dead or failed item.
	Reset
)

// String returns the wire name of the event type.
func (t Type) String() string {
	switch t {
	case Enqueued:
		return "enqueued"
	case Dequeued:
		return "dequeued"
	case ProcessingStart:
		return "processing_start"
	case ProcessingComplete:
		return "processing_complete"
	case Failed:
		return "failed"
	case Dead:
		return "dead"
	case Reset:
		return "reset"
	}
	return "unknown"
}

// Event is one notification about a queue item.
type Event struct {
	Type            Type
	ItemID          string
	Kind            models.OperationKind
	RelatedEntityID string
	RetryCount      int
	Err             string
	At              time.Time
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Bus is a subscribe/publish hub for queue events. A single Bus is
// shared by the queue manager and the orchestrator so observers see
// one ordered stream.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]Handler
	nextID int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

// Subscribe registers a handler and returns its subscription id.
func (b *Bus) Subscribe(h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs[b.nextID] = h
	return b.nextID
}

// Unsubscribe removes a handler by subscription id.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers the event to every subscriber. The subscriber list
// is copied under the lock so handlers may subscribe or unsubscribe
// reentrantly.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}
