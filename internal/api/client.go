// Package api provides the HTTP client for the health record backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/healthfolio/folio/internal/common"
	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/service"
)

// Config holds backend API configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("API base URL is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("invalid API base URL: %s", c.BaseURL)
	}
	if c.Token == "" {
		return fmt.Errorf("API token is required")
	}
	return nil
}

// Client talks to the health record backend. The bearer credential is
// attached by the oauth2 transport; the client never inspects it.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	retryOpts  *service.RetryOptions
	baseURL    string
}

// NewClient creates a new backend client with the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = timeout

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:     slog.Default().With("component", "api"),
		retryOpts: &service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

// Upload sends one structured file to the synchronous ingestion endpoint.
func (c *Client) Upload(ctx context.Context, file model.FilePayload) (*UploadResponse, error) {
	var out UploadResponse
	if err := c.uploadMultipart(ctx, "/upload", file, &out); err != nil {
		return nil, err
	}

	c.logger.Info("Structured upload accepted",
		"upload_id", out.UploadID,
		"filename", file.Name,
		"records_inserted", out.RecordsInserted,
		"embedded_unstructured", len(out.UnstructuredUploads))

	return &out, nil
}

// UploadUnstructured sends one unstructured file for AI extraction.
func (c *Client) UploadUnstructured(ctx context.Context, file model.FilePayload) (*UnstructuredUpload, error) {
	var out UnstructuredUpload
	if err := c.uploadMultipart(ctx, "/upload/unstructured", file, &out); err != nil {
		return nil, err
	}

	c.logger.Info("Unstructured upload accepted",
		"upload_id", out.UploadID,
		"filename", file.Name,
		"file_type", out.FileType)

	return &out, nil
}

// UploadUnstructuredBatch sends multiple unstructured files in one call. The
// response preserves input order so entries correlate back to file names.
func (c *Client) UploadUnstructuredBatch(ctx context.Context, files []model.FilePayload) ([]UnstructuredUpload, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, file := range files {
		part, err := mw.CreateFormFile("files", file.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to build multipart body: %w", err)
		}
		if _, err := part.Write(file.Content); err != nil {
			return nil, fmt.Errorf("failed to write %q: %w", file.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/unstructured-batch", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out batchUploadResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}

	if len(out.Uploads) != len(files) {
		return nil, fmt.Errorf("malformed batch response: sent %d files, got %d entries", len(files), len(out.Uploads))
	}

	c.logger.Info("Batch upload accepted", "count", len(out.Uploads))

	return out.Uploads, nil
}

// GetExtraction fetches the current extraction result for an upload. Each
// response replaces the previous one wholesale.
func (c *Client) GetExtraction(ctx context.Context, uploadID string) (*model.ExtractionResult, error) {
	var out model.ExtractionResult
	if err := c.getJSON(ctx, fmt.Sprintf("/upload/%s/extraction", url.PathEscape(uploadID)), &out); err != nil {
		return nil, err
	}
	if out.UploadID == "" {
		out.UploadID = uploadID
	}
	return &out, nil
}

// GetExtractionProgress fetches the batch-level summary across all
// extractions in flight.
func (c *Client) GetExtractionProgress(ctx context.Context) (*model.ProgressSnapshot, error) {
	var out model.ProgressSnapshot
	if err := c.getJSON(ctx, "/upload/extraction-progress", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TriggerExtraction starts (or restarts) extraction for the given uploads.
// Triggering a job already processing or completed is a server-side no-op.
func (c *Client) TriggerExtraction(ctx context.Context, uploadIDs []string) ([]TriggerResult, error) {
	payload, err := json.Marshal(triggerExtractionRequest{UploadIDs: uploadIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/trigger-extraction", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out triggerExtractionResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// GetPendingExtraction lists uploads in the given statuses, used by the bulk
// retry path with statuses=failed.
func (c *Client) GetPendingExtraction(ctx context.Context, statuses []string) ([]UnstructuredUpload, error) {
	endpoint := "/upload/pending-extraction"
	if len(statuses) > 0 {
		q := url.Values{}
		q.Set("statuses", strings.Join(statuses, ","))
		endpoint += "?" + q.Encode()
	}

	var out pendingExtractionResponse
	if err := c.getJSON(ctx, endpoint, &out); err != nil {
		return nil, err
	}
	return out.Uploads, nil
}

// ConfirmExtraction submits the user-confirmed entities for an upload, bound
// to the chosen patient. Entity fields are echoed back verbatim.
func (c *Client) ConfirmExtraction(ctx context.Context, uploadID string, entities []model.ExtractedEntity, patientID string) (*ConfirmResponse, error) {
	payload, err := json.Marshal(confirmExtractionRequest{
		ConfirmedEntities: entities,
		PatientID:         patientID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("/upload/%s/confirm-extraction", url.PathEscape(uploadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out ConfirmResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}

	c.logger.Info("Extraction confirmed",
		"upload_id", uploadID,
		"entities", len(entities),
		"records_created", out.RecordsCreated)

	return &out, nil
}

// GetPatients fetches the patient list records attach to.
func (c *Client) GetPatients(ctx context.Context) ([]model.Patient, error) {
	var out patientsResponse
	if err := c.getJSON(ctx, "/dashboard/patients", &out); err != nil {
		return nil, err
	}
	return out.Patients, nil
}

// GetHistory fetches the server's upload history.
func (c *Client) GetHistory(ctx context.Context) ([]model.HistoryItem, error) {
	var out historyResponse
	if err := c.getJSON(ctx, "/upload/history", &out); err != nil {
		return nil, err
	}

	items := make([]model.HistoryItem, 0, len(out.Items))
	for _, it := range out.Items {
		created, _ := time.Parse(time.RFC3339, it.CreatedAt)
		items = append(items, model.HistoryItem{
			ID:            it.ID,
			Filename:      it.Filename,
			Status:        model.UploadStatus(it.IngestionStatus),
			Hash:          it.FileHash,
			RecordCount:   it.RecordCount,
			FileSizeBytes: it.FileSizeBytes,
			CreatedAt:     created,
		})
	}
	return items, nil
}

// uploadMultipart sends a single file as multipart form data and decodes the
// JSON response into out, retrying transient failures.
func (c *Client) uploadMultipart(ctx context.Context, endpoint string, file model.FilePayload, out any) error {
	return common.WithRetry(ctx, func() error {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		part, err := mw.CreateFormFile("file", file.Name)
		if err != nil {
			return fmt.Errorf("failed to build multipart body: %w", err)
		}
		if _, err := part.Write(file.Content); err != nil {
			return fmt.Errorf("failed to write %q: %w", file.Name, err)
		}
		if err := mw.Close(); err != nil {
			return fmt.Errorf("failed to finalize multipart body: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, body)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())

		return c.do(req, out)
	}, *c.retryOpts)
}

// getJSON issues a GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

// do executes the request and decodes the response, mapping HTTP status
// codes onto the shared error taxonomy.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrAPIConnection, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &common.RetryableError{Err: common.ErrUnauthorized, Retryable: false}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &common.RetryableError{Err: common.ErrRateLimit, Retryable: true}
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(resp.Body)
		return &common.RetryableError{
			Err:       fmt.Errorf("server error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body))),
			Retryable: true,
		}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return &common.RetryableError{
			Err:       fmt.Errorf("API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body))),
			Retryable: false,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
