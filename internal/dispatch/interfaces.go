package dispatch

import (
	"context"

	"github.com/healthfolio/folio/internal/api"
	"github.com/healthfolio/folio/internal/model"
)

// Uploader defines the backend operations the dispatcher needs.
type Uploader interface {
	Upload(ctx context.Context, file model.FilePayload) (*api.UploadResponse, error)
	UploadUnstructured(ctx context.Context, file model.FilePayload) (*api.UnstructuredUpload, error)
	UploadUnstructuredBatch(ctx context.Context, files []model.FilePayload) ([]api.UnstructuredUpload, error)
}

// HistoryInvalidator marks the local upload-history cache stale after a
// dispatch, so the next history view refetches from the server.
type HistoryInvalidator interface {
	MarkStale(ctx context.Context) error
}
