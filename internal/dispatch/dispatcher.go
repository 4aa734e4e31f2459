// Package dispatch routes classified files to the correct ingestion endpoint.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/healthfolio/folio/internal/classify"
	"github.com/healthfolio/folio/internal/model"
)

// Dispatcher partitions a selection by category and sends each partition to
// the matching backend operation. Every file's outcome is independent; one
// failure never aborts the siblings.
type Dispatcher struct {
	client  Uploader
	history HistoryInvalidator
	logger  *slog.Logger

	mu      sync.Mutex
	pending []model.UploadJob
}

// New creates a dispatcher. history may be nil when no local cache is in use.
func New(client Uploader, history HistoryInvalidator) *Dispatcher {
	return &Dispatcher{
		client:  client,
		history: history,
		logger:  slog.Default().With("component", "dispatch"),
	}
}

// Dispatch uploads the selection and returns one result per input file, in
// input order. Structured files go one at a time, in selection order, because
// each triggers synchronous server-side ingestion; unstructured files use the
// single or batch endpoint depending on count. Files matching neither
// allow-list are skipped silently.
func (d *Dispatcher) Dispatch(ctx context.Context, files []model.FilePayload) []model.UploadResult {
	results := make([]model.UploadResult, len(files))

	var structuredIdx, unstructuredIdx []int
	for i, f := range files {
		results[i].Filename = f.Name
		switch classify.Classify(f.Name) {
		case model.CategoryStructured:
			structuredIdx = append(structuredIdx, i)
		case model.CategoryUnstructured:
			unstructuredIdx = append(unstructuredIdx, i)
		default:
			results[i].Skipped = true
		}
	}

	d.dispatchStructured(ctx, files, structuredIdx, results)
	d.dispatchUnstructured(ctx, files, unstructuredIdx, results)

	if d.history != nil {
		if err := d.history.MarkStale(ctx); err != nil {
			d.logger.Warn("Failed to invalidate history cache", "error", err)
		}
	}

	return results
}

// dispatchStructured uploads structured files strictly sequentially: one
// completes before the next begins, keeping error attribution unambiguous
// and the synchronous ingestion pipeline unsaturated.
func (d *Dispatcher) dispatchStructured(ctx context.Context, files []model.FilePayload, idx []int, results []model.UploadResult) {
	for _, i := range idx {
		file := files[i]

		resp, err := d.client.Upload(ctx, file)
		if err != nil {
			d.logger.Error("Structured upload failed", "filename", file.Name, "error", err)
			results[i].Err = err
			continue
		}

		results[i].Job = &model.UploadJob{
			ID:        resp.UploadID,
			Filename:  file.Name,
			Category:  model.CategoryStructured,
			Status:    model.UploadStatus(resp.Status),
			CreatedAt: time.Now(),
		}
		results[i].RecordsInserted = resp.RecordsInserted

		if len(resp.Errors) > 0 {
			d.logger.Warn("Ingestion reported row errors",
				"filename", file.Name,
				"upload_id", resp.UploadID,
				"errors", len(resp.Errors))
		}

		// Embedded unstructured attachments are already registered
		// server-side; queue them for extraction instead of re-uploading.
		for _, embedded := range resp.UnstructuredUploads {
			d.enqueuePending(model.UploadJob{
				ID:        embedded.UploadID,
				Filename:  embedded.Filename,
				Category:  model.CategoryUnstructured,
				Status:    model.UploadStatus(embedded.Status),
				CreatedAt: time.Now(),
			})
		}
	}
}

// dispatchUnstructured uses the single-file endpoint for exactly one file and
// the batch endpoint otherwise. Batch responses correlate to inputs by order.
func (d *Dispatcher) dispatchUnstructured(ctx context.Context, files []model.FilePayload, idx []int, results []model.UploadResult) {
	switch len(idx) {
	case 0:
		return
	case 1:
		i := idx[0]
		file := files[i]

		resp, err := d.client.UploadUnstructured(ctx, file)
		if err != nil {
			d.logger.Error("Unstructured upload failed", "filename", file.Name, "error", err)
			results[i].Err = err
			return
		}
		results[i].Job = d.jobFromUpload(file.Name, resp.UploadID, resp.Status, resp.FileType)
	default:
		batch := make([]model.FilePayload, len(idx))
		for n, i := range idx {
			batch[n] = files[i]
		}

		uploads, err := d.client.UploadUnstructuredBatch(ctx, batch)
		if err != nil {
			// The batch call itself failed; attribute the error to every
			// file in it, leaving structured siblings untouched.
			d.logger.Error("Batch upload failed", "count", len(batch), "error", err)
			for _, i := range idx {
				results[i].Err = err
			}
			return
		}

		for n, i := range idx {
			entry := uploads[n]
			if entry.UploadID == "" || entry.Status == string(model.StatusFailed) {
				results[i].Err = &perFileError{filename: files[i].Name}
				continue
			}
			results[i].Job = d.jobFromUpload(files[i].Name, entry.UploadID, entry.Status, entry.FileType)
		}
	}
}

func (d *Dispatcher) jobFromUpload(filename, uploadID, status, fileType string) *model.UploadJob {
	return &model.UploadJob{
		ID:        uploadID,
		Filename:  filename,
		FileType:  fileType,
		Category:  model.CategoryUnstructured,
		Status:    model.UploadStatus(status),
		CreatedAt: time.Now(),
	}
}

// PendingExtractions drains the queue of extraction candidates surfaced by
// structured uploads.
func (d *Dispatcher) PendingExtractions() []model.UploadJob {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending := d.pending
	d.pending = nil
	return pending
}

func (d *Dispatcher) enqueuePending(job model.UploadJob) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, job)
}

// perFileError marks a batch entry the server rejected.
type perFileError struct {
	filename string
}

func (e *perFileError) Error() string {
	return "server rejected " + e.filename
}
