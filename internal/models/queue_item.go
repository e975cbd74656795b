// Package models provides data model definitions for the FieldOps sync core.
package models

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// UUID is a string-typed UUID v4 identifier.
type UUID string

// OperationKind identifies what a queued mutation does when replayed
// against the server. The set is closed; unregistered kinds are
// rejected at enqueue time.
type OperationKind string

const (
	OpCreateRecord   OperationKind = "create_record"
	OpUpdateRecord   OperationKind = "update_record"
	OpUpdateStatus   OperationKind = "update_status"
	OpUploadDocument OperationKind = "upload_document"
	OpSubmitForm     OperationKind = "submit_form"
)

// Valid reports whether the kind is one of the registered operation kinds.
func (k OperationKind) Valid() bool {
	switch k {
	case OpCreateRecord, OpUpdateRecord, OpUpdateStatus, OpUploadDocument, OpSubmitForm:
		return true
	}
	return false
}

// QueueStatus represents the persisted state of a queue item.
// There is no success status: terminal success deletes the row.
type QueueStatus string

const (
	StatusPending QueueStatus = "pending"
	StatusSyncing QueueStatus = "syncing"
	StatusFailed  QueueStatus = "failed"
	StatusDead    QueueStatus = "dead"
)

// DefaultMaxRetries is the retry budget before an item is dead-lettered.
const DefaultMaxRetries = 3

// QueueItem is one deferred mutation awaiting transmission to the server.
// The ID is assigned at enqueue time and never changes across retries;
// retries mutate status and retry_count in place rather than re-enqueuing.
type QueueItem struct {
	ID              UUID            `db:"id" json:"id"`
	Kind            OperationKind   `db:"kind" json:"kind"`
	Payload         json.RawMessage `db:"payload" json:"payload"`
	RelatedEntityID string          `db:"related_entity_id" json:"related_entity_id,omitempty"`
	Status          QueueStatus     `db:"status" json:"status"`
	RetryCount      int             `db:"retry_count" json:"retry_count"`
	MaxRetries      int             `db:"max_retries" json:"max_retries"`
	CreatedAt       int64           `db:"created_at" json:"created_at"`
	LastAttemptAt   int64           `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	LastError       string          `db:"last_error" json:"last_error,omitempty"`
}

// TableName returns the table name for QueueItem.
func (QueueItem) TableName() string {
	return "op_queue"
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (q *QueueItem) CreatedAtTime() time.Time {
	return time.Unix(q.CreatedAt, 0)
}

// LastAttemptAtTime returns the LastAttemptAt as time.Time.
// The zero time means the item has never been attempted.
func (q *QueueItem) LastAttemptAtTime() time.Time {
	if q.LastAttemptAt == 0 {
		return time.Time{}
	}
	return time.Unix(q.LastAttemptAt, 0)
}

// QueueCounts holds the derived per-status counts used by the
// sync-status indicator. Counts are computed from current queue
// contents, never stored, to avoid drift.
type QueueCounts struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
	Dead    int `json:"dead"`
}

// RecordRef is the minimal payload shape shared by record-targeted
// operations. The full payload is forwarded opaquely; only the record
// id is extracted for routing.
type RecordRef struct {
	RecordID string `json:"record_id"`
}

// DocumentPayload is the payload shape for upload_document items.
// The binary is embedded as a base64 string so the whole item stays
// JSON-serializable in the durable store.
type DocumentPayload struct {
	RecordID string `json:"record_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Folder   string `json:"folder"`
	Data     string `json:"data"`
}

// Decode decodes the embedded base64 data back into raw bytes.
func (p *DocumentPayload) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(p.Data)
}

// Encode stores raw bytes as base64 in the payload.
func (p *DocumentPayload) Encode(data []byte) {
	p.Data = base64.StdEncoding.EncodeToString(data)
}
