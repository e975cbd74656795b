// Package processor turns one queue item into exactly one outbound
// network call. It is stateless: item state transitions are the queue
// manager's job, performed by the orchestrator after Process returns.
package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gabriel-vasile/mimetype"

	apperrors "github.com/opsquill/fieldops/backend/internal/errors"
	"github.com/opsquill/fieldops/backend/internal/models"
)

// RemoteClient is the outbound API surface the processor dispatches
// to. Satisfied by *api.Client.
type RemoteClient interface {
	CreateRecord(ctx context.Context, payload json.RawMessage) error
	UpdateRecord(ctx context.Context, recordID string, payload json.RawMessage) error
	UpdateStatus(ctx context.Context, recordID string, payload json.RawMessage) error
	UploadDocument(ctx context.Context, doc *models.DocumentPayload, data []byte) error
	SubmitForm(ctx context.Context, payload json.RawMessage) error
}

// Processor dispatches queue items to the remote API.
type Processor struct {
	client RemoteClient
}

// New creates a Processor on an injected client.
func New(client RemoteClient) *Processor {
	return &Processor{client: client}
}

// Process dispatches the item by kind. An unknown kind is a
// programming error, returned immediately without a network call.
// Payload decode failures count as ordinary attempt failures: they go
// through the same retry and dead-letter policy as network errors.
func (p *Processor) Process(ctx context.Context, item *models.QueueItem) error {
	switch item.Kind {
	case models.OpCreateRecord:
		return p.client.CreateRecord(ctx, item.Payload)

	case models.OpUpdateRecord:
		ref, err := recordRef(item.Payload)
		if err != nil {
			return err
		}
		return p.client.UpdateRecord(ctx, ref.RecordID, item.Payload)

	case models.OpUpdateStatus:
		ref, err := recordRef(item.Payload)
		if err != nil {
			return err
		}
		return p.client.UpdateStatus(ctx, ref.RecordID, item.Payload)

	case models.OpUploadDocument:
		return p.uploadDocument(ctx, item)

	case models.OpSubmitForm:
		return p.client.SubmitForm(ctx, item.Payload)
	}

	return apperrors.New(apperrors.ErrUnknownOperation,
		fmt.Sprintf("no dispatch for operation kind %q", item.Kind))
}

func (p *Processor) uploadDocument(ctx context.Context, item *models.QueueItem) error {
	var doc models.DocumentPayload
	if err := json.Unmarshal(item.Payload, &doc); err != nil {
		return apperrors.Wrap(apperrors.ErrPayloadDecode, "malformed upload payload", err)
	}

	data, err := doc.Decode()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrPayloadDecode, "failed to decode document data", err)
	}

	// Older app builds enqueued uploads without a MIME type.
	if doc.MimeType == "" {
		doc.MimeType = mimetype.Detect(data).String()
	}

	return p.client.UploadDocument(ctx, &doc, data)
}

func recordRef(payload json.RawMessage) (*models.RecordRef, error) {
	var ref models.RecordRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPayloadDecode, "malformed record payload", err)
	}
	if ref.RecordID == "" {
		return nil, apperrors.New(apperrors.ErrPayloadDecode, "record payload missing record_id")
	}
	return &ref, nil
}
