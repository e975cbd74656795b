// Package queue provides queue management for offline operations. The
// Manager is the only component allowed to mutate queue item state, so
// the state machine's invariants (single syncing item, monotonic retry
// count) are enforced in one place.
package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/opsquill/fieldops/backend/internal/errors"
	"github.com/opsquill/fieldops/backend/internal/models"
	"github.com/opsquill/fieldops/backend/internal/sync/events"
	"github.com/opsquill/fieldops/backend/internal/uuid"
)

// Store is the durable persistence the Manager runs on. Satisfied by
// *db.QueueStore.
type Store interface {
	PutItem(item *models.QueueItem) error
	GetItem(id string) (*models.QueueItem, error)
	DeleteItem(id string) error
	ListItems() ([]*models.QueueItem, error)
	NextItem(excluded []string) (*models.QueueItem, error)
	CountItems() (*models.QueueCounts, error)
	TotalItems() (int, error)
}

// EnqueueOptions carries optional enqueue parameters.
type EnqueueOptions struct {
	// RelatedEntityID groups the item under a parent entity (e.g. a job
	// id) for UI display and targeted cache invalidation. It never
	// affects processing order.
	RelatedEntityID string
}

// Manager owns CRUD over queue items and the per-item state machine.
type Manager struct {
	store      Store
	bus        *events.Bus
	maxRetries int
	maxSize    int
	mu         sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxRetries overrides the retry budget applied to new items.
func WithMaxRetries(n int) Option {
	return func(m *Manager) { m.maxRetries = n }
}

// WithMaxSize overrides the queue capacity.
func WithMaxSize(n int) Option {
	return func(m *Manager) { m.maxSize = n }
}

// DefaultMaxSize is the queue capacity before enqueues are rejected.
const DefaultMaxSize = 1000

// NewManager creates a Manager on a store and event bus.
func NewManager(store Store, bus *events.Bus, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		bus:        bus,
		maxRetries: models.DefaultMaxRetries,
		maxSize:    DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue validates the operation kind, assigns an id and persists a
// new pending item. Unknown kinds are rejected here, not at processing
// time.
func (m *Manager) Enqueue(kind models.OperationKind, payload json.RawMessage, opts EnqueueOptions) (*models.QueueItem, error) {
	if !kind.Valid() {
		return nil, apperrors.New(apperrors.ErrUnknownOperation,
			fmt.Sprintf("unknown operation kind: %q", kind))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	total, err := m.store.TotalItems()
	if err != nil {
		return nil, err
	}
	if total >= m.maxSize {
		return nil, apperrors.New(apperrors.ErrQueueFull,
			fmt.Sprintf("queue is full (max size: %d)", m.maxSize))
	}

	item := &models.QueueItem{
		ID:              models.UUID(uuid.New()),
		Kind:            kind,
		Payload:         payload,
		RelatedEntityID: opts.RelatedEntityID,
		Status:          models.StatusPending,
		RetryCount:      0,
		MaxRetries:      m.maxRetries,
		CreatedAt:       time.Now().Unix(),
	}

	if err := m.store.PutItem(item); err != nil {
		return nil, err
	}

	m.publish(events.Enqueued, item)
	return item, nil
}

// DequeueNext returns the oldest item eligible for processing (pending
// or failed), without mutating it. Ids in excluded are skipped, letting
// a pass step past items it has already attempted. Returns nil when no
// eligible item remains.
func (m *Manager) DequeueNext(excluded ...string) (*models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.store.NextItem(excluded)
	if err != nil || item == nil {
		return nil, err
	}

	m.publish(events.Dequeued, item)
	return item, nil
}

// MarkSyncing transitions an item to syncing and stamps the attempt
// time. The caller (the orchestrator) guarantees at most one item is
// in this state at a time.
func (m *Manager) MarkSyncing(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.store.GetItem(id)
	if err != nil {
		return err
	}

	item.Status = models.StatusSyncing
	item.LastAttemptAt = time.Now().Unix()
	return m.store.PutItem(item)
}

// MarkSuccess removes a successfully transmitted item from the store.
// No success status is ever persisted.
func (m *Manager) MarkSuccess(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.store.DeleteItem(id)
}

// MarkFailed records a failed attempt: increments the retry count,
// stores the error, and moves the item to failed, or to dead the
// instant the retry budget is exhausted. Dead items are never retried
// automatically; only ResetItem revives them.
//
// An unknown operation kind at dispatch time is a programming error,
// not a transient failure: it can never succeed on retry, so the item
// dead-letters immediately instead of burning the budget.
func (m *Manager) MarkFailed(id string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.store.GetItem(id)
	if err != nil {
		return err
	}

	if apperrors.Is(cause, apperrors.ErrUnknownOperation) {
		item.RetryCount = item.MaxRetries
	} else {
		item.RetryCount++
	}
	item.LastAttemptAt = time.Now().Unix()
	if cause != nil {
		item.LastError = cause.Error()
	}

	if item.RetryCount >= item.MaxRetries {
		item.Status = models.StatusDead
	} else {
		item.Status = models.StatusFailed
	}

	if err := m.store.PutItem(item); err != nil {
		return err
	}

	if item.Status == models.StatusDead {
		m.publish(events.Dead, item)
	} else {
		m.publish(events.Failed, item)
	}
	return nil
}

// ResetItem clears an item's retry bookkeeping and forces it back to
// pending, letting a user manually retry a dead or failed item.
func (m *Manager) ResetItem(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.store.GetItem(id)
	if err != nil {
		return err
	}

	item.RetryCount = 0
	item.Status = models.StatusPending
	item.LastError = ""
	if err := m.store.PutItem(item); err != nil {
		return err
	}

	m.publish(events.Reset, item)
	return nil
}

// DeleteItem removes an item on explicit user request, regardless of
// its state.
func (m *Manager) DeleteItem(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.store.DeleteItem(id)
}

// Counts returns the derived per-status counts.
func (m *Manager) Counts() (*models.QueueCounts, error) {
	return m.store.CountItems()
}

// List returns every item in FIFO order.
func (m *Manager) List() ([]*models.QueueItem, error) {
	return m.store.ListItems()
}

func (m *Manager) publish(t events.Type, item *models.QueueItem) {
	if m.bus == nil {
		return
	}
	e := events.Event{
		Type:            t,
		ItemID:          string(item.ID),
		Kind:            item.Kind,
		RelatedEntityID: item.RelatedEntityID,
		RetryCount:      item.RetryCount,
	}
	if t == events.Failed || t == events.Dead {
		e.Err = item.LastError
	}
	m.bus.Publish(e)
}
