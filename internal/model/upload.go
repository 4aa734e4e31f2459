// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// FileCategory indicates which ingestion pipeline a file belongs to.
type FileCategory string

// File category constants.
const (
	CategoryStructured   FileCategory = "structured"
	CategoryUnstructured FileCategory = "unstructured"
	CategoryUnknown      FileCategory = "unknown"
)

// UploadStatus is the server-reported lifecycle state of an upload.
type UploadStatus string

// Upload status constants. TimedOut is client-local: the poller assigns it
// when a job exceeds its poll deadline without reaching a server terminal state.
const (
	StatusPending              UploadStatus = "pending"
	StatusProcessing           UploadStatus = "processing"
	StatusAwaitingConfirmation UploadStatus = "awaiting_confirmation"
	StatusCompleted            UploadStatus = "completed"
	StatusFailed               UploadStatus = "failed"
	StatusTimedOut             UploadStatus = "timed_out"
)

// IsTerminal reports whether the poller should stop on this status.
func (s UploadStatus) IsTerminal() bool {
	switch s {
	case StatusAwaitingConfirmation, StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// UploadJob represents one file handed to the backend. The ID is
// server-assigned and immutable; Status is mutated only by poll responses
// and the explicit failed -> processing retry transition.
type UploadJob struct {
	CreatedAt time.Time
	ID        string
	Filename  string
	FileType  string
	Category  FileCategory
	Status    UploadStatus
}

// UploadResult is the per-file outcome of a dispatch. Exactly one of Job or
// Err is meaningful; a failed sibling never nulls out a successful entry.
// Skipped marks files excluded by classification, which is silent rather
// than an error.
type UploadResult struct {
	Job             *UploadJob
	Err             error
	Filename        string
	RecordsInserted int
	Skipped         bool
}

// Succeeded reports whether this file's upload was accepted by the server.
func (r UploadResult) Succeeded() bool {
	return r.Err == nil
}

// FilePayload is a file selected for upload: a display name plus its content.
type FilePayload struct {
	Name    string
	Content []byte
}

// Hash returns the SHA-256 digest of the payload, used for duplicate
// detection against the local upload history.
func (p FilePayload) Hash() string {
	sum := sha256.Sum256(p.Content)
	return fmt.Sprintf("%x", sum)
}

// HistoryItem is one row of the server's upload history, cached locally.
type HistoryItem struct {
	CreatedAt     time.Time
	ID            string
	Filename      string
	Status        UploadStatus
	Hash          string
	RecordCount   int
	FileSizeBytes int64
}
