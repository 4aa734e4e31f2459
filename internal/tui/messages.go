package tui

import (
	"github.com/healthfolio/folio/internal/model"
)

// Polling messages.
type resultMsg struct {
	result *model.ExtractionResult
}

type snapshotMsg struct {
	snapshot model.ProgressSnapshot
}

type pollTickMsg struct{}

type fetchErrMsg struct {
	err      error
	uploadID string
}

// Retry messages.
type retryDoneMsg struct {
	err       error
	uploadIDs []string
}
