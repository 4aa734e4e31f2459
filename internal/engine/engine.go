// Package engine orchestrates the upload ingestion and extraction
// confirmation pipeline: classify, dispatch, poll, review.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/healthfolio/folio/internal/common"
	"github.com/healthfolio/folio/internal/dispatch"
	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/poll"
	"github.com/healthfolio/folio/internal/review"
	"github.com/healthfolio/folio/internal/service"
)

// Config holds configuration options for the ingestion engine.
type Config struct {
	Poll poll.Options
	// ProgressInterval paces the batch-level summary poll.
	ProgressInterval time.Duration
	// OnProgress receives each aggregate snapshot, when set.
	OnProgress func(model.ProgressSnapshot)
	// OnUpload receives each per-file dispatch outcome, when set.
	OnUpload func(model.UploadResult)
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Poll:             poll.DefaultOptions(),
		ProgressInterval: 2 * time.Second,
	}
}

// IngestionEngine wires the dispatcher, pollers, and review workflow into a
// single run over a file selection.
type IngestionEngine struct {
	backend    Backend
	storage    service.Storage
	prompter   Prompter
	dispatcher *dispatch.Dispatcher
	reviews    *review.Manager
	logger     *slog.Logger
	config     Config

	mu        sync.Mutex
	filenames map[string]string
	latest    map[string]*model.ExtractionResult
}

// New creates an ingestion engine with the given dependencies. storage may
// be nil to disable the local history cache.
func New(backend Backend, storage service.Storage, prompter Prompter) *IngestionEngine {
	return NewWithConfig(backend, storage, prompter, DefaultConfig())
}

// NewWithConfig creates an ingestion engine with custom configuration.
func NewWithConfig(backend Backend, storage service.Storage, prompter Prompter, config Config) *IngestionEngine {
	var invalidator dispatch.HistoryInvalidator
	if storage != nil {
		invalidator = storage
	}

	return &IngestionEngine{
		backend:    backend,
		storage:    storage,
		prompter:   prompter,
		dispatcher: dispatch.New(backend, invalidator),
		reviews:    review.NewManager(backend),
		logger:     slog.Default().With("component", "engine"),
		config:     config,
		filenames:  make(map[string]string),
		latest:     make(map[string]*model.ExtractionResult),
	}
}

// Reviews exposes the review state, for interfaces that render it live.
func (e *IngestionEngine) Reviews() *review.Manager {
	return e.reviews
}

// Run executes the full pipeline for a file selection and returns run
// statistics. Individual file failures are reported in the stats and
// through OnUpload; only infrastructure-level failures return an error.
func (e *IngestionEngine) Run(ctx context.Context, files []model.FilePayload) (*service.CompletionStats, error) {
	started := time.Now()
	stats := &service.CompletionStats{}

	if len(files) == 0 {
		return nil, common.ErrNothingToUpload
	}

	e.logger.Info("Starting ingestion run", "files", len(files))

	results := e.dispatcher.Dispatch(ctx, files)

	var extractionJobs []model.UploadJob
	for _, r := range results {
		if e.config.OnUpload != nil {
			e.config.OnUpload(r)
		}
		switch {
		case r.Skipped:
			continue
		case r.Err != nil:
			stats.FilesFailed++
		default:
			stats.FilesUploaded++
			stats.RecordsInserted += r.RecordsInserted
			if r.Job != nil && r.Job.Category == model.CategoryUnstructured {
				extractionJobs = append(extractionJobs, *r.Job)
				e.rememberFilename(r.Job.ID, r.Job.Filename)
			}
		}
	}

	// Embedded attachments surfaced by structured uploads join the
	// extraction set without being uploaded again.
	for _, job := range e.dispatcher.PendingExtractions() {
		extractionJobs = append(extractionJobs, job)
		e.rememberFilename(job.ID, job.Filename)
	}

	if len(extractionJobs) == 0 {
		stats.Duration = time.Since(started)
		e.refreshHistory(ctx)
		return stats, nil
	}

	if err := e.triggerPending(ctx, extractionJobs); err != nil {
		return nil, err
	}

	if err := e.pollExtractions(ctx, extractionJobs); err != nil {
		return nil, err
	}
	stats.ExtractionsRun = len(extractionJobs)

	confirmed, err := e.runReview(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("Review ended with error", "error", err)
	}
	stats.RecordsConfirmed = confirmed

	e.refreshHistory(ctx)

	stats.Duration = time.Since(started)
	e.logger.Info("Ingestion run complete",
		"uploaded", stats.FilesUploaded,
		"failed", stats.FilesFailed,
		"extractions", stats.ExtractionsRun,
		"records_confirmed", stats.RecordsConfirmed)

	return stats, nil
}

// triggerPending starts extraction for jobs still pending. Jobs already
// processing are unaffected; the trigger is a server-side no-op for them.
func (e *IngestionEngine) triggerPending(ctx context.Context, jobs []model.UploadJob) error {
	var pendingIDs []string
	for _, job := range jobs {
		if job.Status == model.StatusPending {
			pendingIDs = append(pendingIDs, job.ID)
		}
	}
	if len(pendingIDs) == 0 {
		return nil
	}

	if _, err := e.backend.TriggerExtraction(ctx, pendingIDs); err != nil {
		return fmt.Errorf("failed to trigger extraction: %w", err)
	}
	return nil
}

// pollExtractions fans out one polling loop per job and blocks until every
// loop reaches a terminal state or ctx is canceled. The aggregate summary is
// polled alongside when a progress callback is installed.
func (e *IngestionEngine) pollExtractions(ctx context.Context, jobs []model.UploadJob) error {
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	poller := poll.New(e.backend, e.onExtractionUpdate, e.config.Poll)
	defer poller.StopAll()

	handles := make([]*poll.PollHandle, 0, len(jobs))
	for _, job := range jobs {
		handle, err := poller.Watch(pollCtx, job.ID)
		if err != nil {
			e.logger.Warn("Skipping duplicate extraction job", "upload_id", job.ID, "error", err)
			continue
		}
		handles = append(handles, handle)
	}

	var aggDone chan struct{}
	if e.config.OnProgress != nil {
		aggregator := poll.NewAggregator(e.backend, e.config.ProgressInterval)
		aggDone = make(chan struct{})
		go func() {
			defer close(aggDone)
			if err := aggregator.Watch(pollCtx, e.config.OnProgress); err != nil && pollCtx.Err() == nil {
				e.logger.Warn("Progress aggregation stopped", "error", err)
			}
		}()
	}

	for _, handle := range handles {
		select {
		case <-handle.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cancel()
	if aggDone != nil {
		<-aggDone
	}
	return nil
}

// onExtractionUpdate replaces the stored result for a job and folds
// reviewable results into the review manager.
func (e *IngestionEngine) onExtractionUpdate(result *model.ExtractionResult) {
	e.mu.Lock()
	e.latest[result.UploadID] = result
	filename := e.filenames[result.UploadID]
	e.mu.Unlock()

	e.reviews.Ingest(result, filename)
}

// LatestResult returns the most recent extraction result seen for a job.
func (e *IngestionEngine) LatestResult(uploadID string) (*model.ExtractionResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	result, ok := e.latest[uploadID]
	return result, ok
}

// runReview walks every job awaiting confirmation through the prompter and
// submits confirmed selections. Returns total records created.
func (e *IngestionEngine) runReview(ctx context.Context) (int, error) {
	active := e.reviews.ActiveJobs()
	if len(active) == 0 {
		return 0, nil
	}

	patients, err := e.backend.GetPatients(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load patients: %w", err)
	}
	if len(patients) == 0 {
		return 0, common.ErrNoPatientChosen
	}
	e.reviews.SetPatients(patients)

	chosen, err := e.prompter.ChoosePatient(ctx, patients)
	if err != nil {
		return 0, fmt.Errorf("patient selection failed: %w", err)
	}
	if err := e.reviews.ChoosePatient(chosen.ID); err != nil {
		return 0, err
	}

	totalRecords := 0
	for _, job := range active {
		select {
		case <-ctx.Done():
			return totalRecords, ctx.Err()
		default:
		}

		decision, err := e.prompter.ReviewEntities(ctx, job)
		if err != nil {
			e.logger.Warn("Review failed, leaving job for a later session",
				"upload_id", job.UploadID, "error", err)
			continue
		}
		if !decision.Confirm {
			continue
		}

		e.applySelection(job.UploadID, decision.SelectedLocalIDs)

		resp, err := e.reviews.Confirm(ctx, job.UploadID)
		if err != nil {
			// Selection is preserved; the user can retry later.
			e.logger.Error("Confirmation failed",
				"upload_id", job.UploadID, "error", err)
			continue
		}
		totalRecords += resp.RecordsCreated
	}

	return totalRecords, nil
}

func (e *IngestionEngine) applySelection(uploadID string, selectedIDs []string) {
	e.reviews.SelectNone(uploadID)
	for _, id := range selectedIDs {
		if err := e.reviews.Toggle(uploadID, id); err != nil {
			e.logger.Warn("Ignoring unknown entity in selection",
				"upload_id", uploadID, "entity", id)
		}
	}
}

// refreshHistory refetches the server history into the local cache. Cache
// trouble never fails a run.
func (e *IngestionEngine) refreshHistory(ctx context.Context) {
	if e.storage == nil {
		return
	}

	items, err := e.backend.GetHistory(ctx)
	if err != nil {
		e.logger.Warn("Failed to refresh upload history", "error", err)
		return
	}
	if err := e.storage.SaveHistory(ctx, items); err != nil {
		e.logger.Warn("Failed to cache upload history", "error", err)
	}
}

func (e *IngestionEngine) rememberFilename(uploadID, filename string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filenames[uploadID] = filename
}
