package engine

import (
	"context"

	"github.com/healthfolio/folio/internal/dispatch"
	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/poll"
	"github.com/healthfolio/folio/internal/review"
)

// Backend is the full set of server operations the engine drives.
type Backend interface {
	dispatch.Uploader
	poll.ExtractionFetcher
	poll.ProgressFetcher
	poll.RetryTrigger
	review.Confirmer
	GetPatients(ctx context.Context) ([]model.Patient, error)
	GetHistory(ctx context.Context) ([]model.HistoryItem, error)
}

// Decision is the outcome of reviewing one job's entities.
type Decision struct {
	// SelectedLocalIDs lists the entities the user kept checked.
	SelectedLocalIDs []string
	// Confirm submits the selection; false skips the job, leaving it
	// awaiting confirmation for a later session.
	Confirm bool
}

// Prompter defines the contract for user interaction during review.
type Prompter interface {
	ChoosePatient(ctx context.Context, patients []model.Patient) (model.Patient, error)
	ReviewEntities(ctx context.Context, job *review.JobReview) (Decision, error)
}
