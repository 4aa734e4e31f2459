package poll

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/healthfolio/folio/internal/api"
)

// RetryTrigger defines the backend operations the retry controller needs.
type RetryTrigger interface {
	TriggerExtraction(ctx context.Context, uploadIDs []string) ([]api.TriggerResult, error)
	GetPendingExtraction(ctx context.Context, statuses []string) ([]api.UnstructuredUpload, error)
}

// RetryController re-submits extraction for failed or stalled jobs.
// Triggering a job already processing or completed is a server-side no-op,
// so callers need not pre-filter beyond what the server reports.
type RetryController struct {
	client RetryTrigger
	logger *slog.Logger
}

// NewRetryController creates a retry controller.
func NewRetryController(client RetryTrigger) *RetryController {
	return &RetryController{
		client: client,
		logger: slog.Default().With("component", "retry"),
	}
}

// Retry re-triggers extraction for the given upload ids.
func (r *RetryController) Retry(ctx context.Context, uploadIDs []string) ([]api.TriggerResult, error) {
	if len(uploadIDs) == 0 {
		return nil, nil
	}

	results, err := r.client.TriggerExtraction(ctx, uploadIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to trigger extraction: %w", err)
	}

	r.logger.Info("Re-triggered extraction", "count", len(results))
	return results, nil
}

// RetryAllFailed fetches every upload the server reports as failed and
// re-triggers extraction for the lot.
func (r *RetryController) RetryAllFailed(ctx context.Context) ([]api.TriggerResult, error) {
	uploads, err := r.client.GetPendingExtraction(ctx, []string{"failed"})
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable uploads: %w", err)
	}
	if len(uploads) == 0 {
		r.logger.Info("No failed extractions to retry")
		return nil, nil
	}

	ids := make([]string, len(uploads))
	for i, u := range uploads {
		ids[i] = u.UploadID
	}
	return r.Retry(ctx, ids)
}
