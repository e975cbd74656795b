// Package api provides the HTTP client for the FieldOps remote API.
// Per-call timeout semantics live here, in the http.Client, not in the
// sync core.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/opsquill/fieldops/backend/internal/config"
	apperrors "github.com/opsquill/fieldops/backend/internal/errors"
	"github.com/opsquill/fieldops/backend/internal/models"
)

// Client calls the FieldOps remote API over HTTP.
type Client struct {
	baseURL string
	routes  config.Routes
	httpc   *http.Client
}

// NewClient creates a Client from API configuration.
func NewClient(cfg config.APIConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		routes:  cfg.Routes,
		httpc:   &http.Client{Timeout: cfg.Timeout},
	}
}

// CreateRecord creates a new record from the queued payload.
func (c *Client) CreateRecord(ctx context.Context, payload json.RawMessage) error {
	return c.doJSON(ctx, http.MethodPost, c.routes.CreateRecord, payload)
}

// UpdateRecord replaces a record's fields.
func (c *Client) UpdateRecord(ctx context.Context, recordID string, payload json.RawMessage) error {
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf(c.routes.UpdateRecord, recordID), payload)
}

// UpdateStatus updates a record's workflow status.
func (c *Client) UpdateStatus(ctx context.Context, recordID string, payload json.RawMessage) error {
	return c.doJSON(ctx, http.MethodPut, fmt.Sprintf(c.routes.UpdateStatus, recordID), payload)
}

// SubmitForm submits a completed form payload.
func (c *Client) SubmitForm(ctx context.Context, payload json.RawMessage) error {
	return c.doJSON(ctx, http.MethodPost, c.routes.SubmitForm, payload)
}

// UploadDocument uploads a decoded document as a multipart request with
// its metadata fields alongside the file part.
func (c *Client) UploadDocument(ctx context.Context, doc *models.DocumentPayload, data []byte) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if err := w.WriteField("file_name", doc.FileName); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build multipart body", err)
	}
	if err := w.WriteField("mime_type", doc.MimeType); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build multipart body", err)
	}
	if err := w.WriteField("folder", doc.Folder); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build multipart body", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, doc.FileName))
	header.Set("Content-Type", doc.MimeType)
	part, err := w.CreatePart(header)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build multipart body", err)
	}
	if _, err := part.Write(data); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build multipart body", err)
	}
	if err := w.Close(); err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build multipart body", err)
	}

	path := fmt.Sprintf(c.routes.UploadDocument, doc.RecordID)
	return c.do(ctx, http.MethodPost, path, &body, w.FormDataContentType())
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload json.RawMessage) error {
	return c.do(ctx, method, path, bytes.NewReader(payload), "application/json")
}

// do issues exactly one HTTP request and interprets the response
// status. Any 4xx/5xx becomes a REMOTE_FAILED error; the retry policy
// upstream deliberately does not distinguish the two classes.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrRemoteFailed, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.New(apperrors.ErrRemoteFailed,
			fmt.Sprintf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body)
	return nil
}
