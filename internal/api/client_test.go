package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsquill/fieldops/backend/internal/config"
	apperrors "github.com/opsquill/fieldops/backend/internal/errors"
	"github.com/opsquill/fieldops/backend/internal/models"
)

func testConfig(baseURL string) config.APIConfig {
	return config.APIConfig{
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Routes: config.Routes{
			CreateRecord:   "/records",
			UpdateRecord:   "/records/%s",
			UpdateStatus:   "/records/%s/status",
			UploadDocument: "/records/%s/documents",
			SubmitForm:     "/forms",
		},
	}
}

func TestCreateRecord(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	err := client.CreateRecord(context.Background(), json.RawMessage(`{"title":"Pump repair"}`))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/records", gotPath)
	assert.JSONEq(t, `{"title":"Pump repair"}`, gotBody)
}

func TestUpdateStatus_routesRecordID(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	err := client.UpdateStatus(context.Background(), "job-42", json.RawMessage(`{"status":"done"}`))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/records/job-42/status", gotPath)
}

func TestUploadDocument_multipart(t *testing.T) {
	var gotPath string
	var fields map[string]string
	var fileBytes []byte
	var fileName string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1<<20))
		fields = map[string]string{
			"file_name": r.FormValue("file_name"),
			"mime_type": r.FormValue("mime_type"),
			"folder":    r.FormValue("folder"),
		}
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		fileName = header.Filename
		fileBytes, _ = io.ReadAll(file)
	}))
	defer srv.Close()

	doc := &models.DocumentPayload{
		RecordID: "job-42",
		FileName: "site-photo.png",
		MimeType: "image/png",
		Folder:   "photos",
	}

	client := NewClient(testConfig(srv.URL))
	err := client.UploadDocument(context.Background(), doc, []byte("raw-image-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "/records/job-42/documents", gotPath)
	assert.Equal(t, "site-photo.png", fields["file_name"])
	assert.Equal(t, "image/png", fields["mime_type"])
	assert.Equal(t, "photos", fields["folder"])
	assert.Equal(t, "site-photo.png", fileName)
	assert.Equal(t, []byte("raw-image-bytes"), fileBytes)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"client error", http.StatusUnprocessableEntity},
		{"server error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			client := NewClient(testConfig(srv.URL))
			err := client.SubmitForm(context.Background(), json.RawMessage(`{}`))
			// 4xx and 5xx are indistinguishable to the retry policy upstream;
			// both surface as REMOTE_FAILED.
			assert.True(t, apperrors.Is(err, apperrors.ErrRemoteFailed), "got %v", err)
		})
	}
}

func TestConnectionRefused(t *testing.T) {
	client := NewClient(testConfig("http://127.0.0.1:1"))
	err := client.CreateRecord(context.Background(), json.RawMessage(`{}`))
	assert.True(t, apperrors.Is(err, apperrors.ErrRemoteFailed), "got %v", err)
}
