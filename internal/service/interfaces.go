// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/healthfolio/folio/internal/model"
)

// HistoryFilter defines filtering options for upload history queries.
type HistoryFilter struct {
	Status model.UploadStatus
	Limit  int
	Offset int
}

// Storage defines the contract for the local upload-history cache.
// The server owns upload history; this cache only avoids refetching it on
// every display, and is marked stale after each dispatch.
type Storage interface {
	// History cache operations
	SaveHistory(ctx context.Context, items []model.HistoryItem) error
	GetHistory(ctx context.Context, filter HistoryFilter) ([]model.HistoryItem, error)
	FindByHash(ctx context.Context, hash string) (*model.HistoryItem, error)
	MarkStale(ctx context.Context) error
	IsStale(ctx context.Context) (bool, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// CompletionStats shows the results of an ingestion run.
type CompletionStats struct {
	FilesUploaded    int
	FilesFailed      int
	RecordsInserted  int
	ExtractionsRun   int
	RecordsConfirmed int
	Duration         time.Duration
}
