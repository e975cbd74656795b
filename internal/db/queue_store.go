package db

import (
	"database/sql"
	"strings"

	apperrors "github.com/opsquill/fieldops/backend/internal/errors"
	"github.com/opsquill/fieldops/backend/internal/models"
)

// QueueStore persists QueueItems. It holds no business logic: item
// state transitions belong to the queue manager, which is the only
// caller allowed to mutate items.
//
// Counts are always derived from current contents with a GROUP BY,
// never tracked separately, so they cannot drift from the rows.
type QueueStore struct {
	db *DB
}

// NewQueueStore creates a QueueStore on an open database.
func NewQueueStore(db *DB) *QueueStore {
	return &QueueStore{db: db}
}

// InitSchema prepares the store for use: applies pending schema
// migrations and reverts any item a crash left in the syncing state
// back to pending so it becomes eligible for dequeue again.
func (s *QueueStore) InitSchema() error {
	m := NewMigrator(s.db)
	if err := m.Initialize(); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to initialize migrations", err)
	}
	if err := m.Up(); err != nil {
		return apperrors.Wrap(apperrors.ErrMigration, "failed to apply migrations", err)
	}

	_, err := s.db.Exec("UPDATE op_queue SET status = ? WHERE status = ?",
		models.StatusPending, models.StatusSyncing)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to recover interrupted items", err)
	}
	return nil
}

// PutItem inserts or updates an item. Updates keep the original rowid
// so FIFO ordering by (created_at, rowid) survives in-place mutation.
func (s *QueueStore) PutItem(item *models.QueueItem) error {
	query := `
	INSERT INTO op_queue (id, kind, payload, related_entity_id, status,
		retry_count, max_retries, created_at, last_attempt_at, last_error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		retry_count = excluded.retry_count,
		last_attempt_at = excluded.last_attempt_at,
		last_error = excluded.last_error
	`
	_, err := s.db.Exec(query, item.ID, item.Kind, string(item.Payload),
		item.RelatedEntityID, item.Status, item.RetryCount, item.MaxRetries,
		item.CreatedAt, item.LastAttemptAt, item.LastError)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to persist queue item", err)
	}
	return nil
}

// GetItem returns the item with the given id.
func (s *QueueStore) GetItem(id string) (*models.QueueItem, error) {
	query := `
	SELECT id, kind, payload, related_entity_id, status,
		retry_count, max_retries, created_at, last_attempt_at, last_error
	FROM op_queue WHERE id = ?
	`
	item, err := scanItem(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrItemNotFound, "queue item not found: "+id)
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load queue item", err)
	}
	return item, nil
}

// DeleteItem removes the item with the given id. Deleting a missing
// item is not an error: success deletion must be idempotent.
func (s *QueueStore) DeleteItem(id string) error {
	if _, err := s.db.Exec("DELETE FROM op_queue WHERE id = ?", id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete queue item", err)
	}
	return nil
}

// ListItems returns every item in FIFO (creation) order.
func (s *QueueStore) ListItems() ([]*models.QueueItem, error) {
	query := `
	SELECT id, kind, payload, related_entity_id, status,
		retry_count, max_retries, created_at, last_attempt_at, last_error
	FROM op_queue ORDER BY created_at ASC, rowid ASC
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list queue items", err)
	}
	defer rows.Close()

	var items []*models.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to list queue items", err)
	}
	return items, nil
}

// NextItem returns the oldest item eligible for processing (status
// pending or failed), or nil if the queue holds no such item. Syncing
// and dead items are never returned. Ids in excluded are skipped, so
// a sync pass can step past items it has already attempted.
func (s *QueueStore) NextItem(excluded []string) (*models.QueueItem, error) {
	query := `
	SELECT id, kind, payload, related_entity_id, status,
		retry_count, max_retries, created_at, last_attempt_at, last_error
	FROM op_queue WHERE status IN (?, ?)`
	args := []interface{}{models.StatusPending, models.StatusFailed}
	if len(excluded) > 0 {
		query += " AND id NOT IN (?" + strings.Repeat(", ?", len(excluded)-1) + ")"
		for _, id := range excluded {
			args = append(args, id)
		}
	}
	query += " ORDER BY created_at ASC, rowid ASC LIMIT 1"

	item, err := scanItem(s.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load next queue item", err)
	}
	return item, nil
}

// CountItems returns per-status counts derived from current contents.
func (s *QueueStore) CountItems() (*models.QueueCounts, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM op_queue GROUP BY status")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue items", err)
	}
	defer rows.Close()

	counts := &models.QueueCounts{}
	for rows.Next() {
		var status models.QueueStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan queue counts", err)
		}
		switch status {
		case models.StatusPending:
			counts.Pending = n
		case models.StatusFailed:
			counts.Failed = n
		case models.StatusDead:
			counts.Dead = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue items", err)
	}
	return counts, nil
}

// TotalItems returns the number of rows in the queue regardless of status.
func (s *QueueStore) TotalItems() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM op_queue").Scan(&n); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count queue items", err)
	}
	return n, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanItem.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scanner) (*models.QueueItem, error) {
	var item models.QueueItem
	var payload string
	err := row.Scan(&item.ID, &item.Kind, &payload, &item.RelatedEntityID,
		&item.Status, &item.RetryCount, &item.MaxRetries,
		&item.CreatedAt, &item.LastAttemptAt, &item.LastError)
	if err != nil {
		return nil, err
	}
	item.Payload = []byte(payload)
	return &item, nil
}
