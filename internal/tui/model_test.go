package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/healthfolio/folio/internal/api"
	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/poll"
)

type stubClient struct {
	results   map[string]*model.ExtractionResult
	snapshot  model.ProgressSnapshot
	triggered [][]string
}

func (s *stubClient) GetExtraction(_ context.Context, uploadID string) (*model.ExtractionResult, error) {
	return s.results[uploadID], nil
}

func (s *stubClient) GetExtractionProgress(_ context.Context) (*model.ProgressSnapshot, error) {
	snapshot := s.snapshot
	return &snapshot, nil
}

func (s *stubClient) TriggerExtraction(_ context.Context, uploadIDs []string) ([]api.TriggerResult, error) {
	s.triggered = append(s.triggered, uploadIDs)
	return nil, nil
}

func (s *stubClient) GetPendingExtraction(_ context.Context, _ []string) ([]api.UnstructuredUpload, error) {
	return nil, nil
}

func testJobs() []model.UploadJob {
	return []model.UploadJob{
		{ID: "up-1", Filename: "visit.pdf", Status: model.StatusPending},
		{ID: "up-2", Filename: "scan.png", Status: model.StatusProcessing},
	}
}

func testOptions() poll.Options {
	return poll.Options{Interval: time.Millisecond, Deadline: time.Minute}
}

func TestModelAppliesResults(t *testing.T) {
	m := New(context.Background(), &stubClient{}, testJobs(), testOptions())

	updated, _ := m.Update(resultMsg{result: &model.ExtractionResult{
		UploadID: "up-1",
		Status:   model.StatusAwaitingConfirmation,
		Entities: []model.ExtractedEntity{{Text: "Lisinopril"}},
	}})
	m = updated.(Model)

	assert.Equal(t, model.StatusAwaitingConfirmation, m.rows[0].status)
	assert.Equal(t, 1, m.rows[0].entityCount)
	assert.False(t, m.Settled())
}

func TestModelSettlesWhenAllTerminal(t *testing.T) {
	m := New(context.Background(), &stubClient{}, testJobs(), testOptions())

	for _, id := range []string{"up-1", "up-2"} {
		updated, _ := m.Update(resultMsg{result: &model.ExtractionResult{
			UploadID: id,
			Status:   model.StatusCompleted,
		}})
		m = updated.(Model)
	}

	assert.True(t, m.Settled())
	assert.Zero(t, m.FailedCount())
}

func TestModelCountsFailures(t *testing.T) {
	m := New(context.Background(), &stubClient{}, testJobs(), testOptions())

	updated, _ := m.Update(resultMsg{result: &model.ExtractionResult{
		UploadID: "up-1",
		Status:   model.StatusFailed,
		Error:    "ocr failed",
	}})
	m = updated.(Model)

	assert.Equal(t, 1, m.FailedCount())
	assert.Contains(t, m.View(), "ocr failed")
}

func TestModelDeadlineMarksTimedOut(t *testing.T) {
	m := New(context.Background(), &stubClient{}, testJobs(), poll.Options{
		Interval: time.Millisecond,
		Deadline: time.Nanosecond,
	})

	time.Sleep(time.Millisecond)
	m.pollCmds()

	assert.Equal(t, model.StatusTimedOut, m.rows[0].status)
	assert.Equal(t, model.StatusTimedOut, m.rows[1].status)
	assert.True(t, m.Settled())
	assert.Equal(t, 2, m.FailedCount())
}

func TestModelLateResultDoesNotReviveTimedOut(t *testing.T) {
	m := New(context.Background(), &stubClient{}, testJobs(), poll.Options{
		Interval: time.Millisecond,
		Deadline: time.Nanosecond,
	})

	time.Sleep(time.Millisecond)
	m.pollCmds()

	updated, _ := m.Update(resultMsg{result: &model.ExtractionResult{
		UploadID: "up-1",
		Status:   model.StatusCompleted,
	}})
	m = updated.(Model)

	assert.Equal(t, model.StatusTimedOut, m.rows[0].status)
}

func TestModelRetryResetsFailedRows(t *testing.T) {
	client := &stubClient{}
	m := New(context.Background(), client, testJobs(), testOptions())

	updated, _ := m.Update(resultMsg{result: &model.ExtractionResult{
		UploadID: "up-1",
		Status:   model.StatusFailed,
	}})
	m = updated.(Model)

	updated, _ = m.Update(retryDoneMsg{uploadIDs: []string{"up-1"}})
	m = updated.(Model)

	assert.Equal(t, model.StatusPending, m.rows[0].status)
	assert.Empty(t, m.rows[0].lastError)
}

func TestModelQuitKey(t *testing.T) {
	m := New(context.Background(), &stubClient{}, testJobs(), testOptions())

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	m = updated.(Model)

	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Empty(t, m.View())
}

func TestModelSnapshotRendered(t *testing.T) {
	m := New(context.Background(), &stubClient{}, testJobs(), testOptions())

	updated, _ := m.Update(snapshotMsg{snapshot: model.ProgressSnapshot{
		Total: 2, Completed: 1, Processing: 1,
	}})
	m = updated.(Model)

	view := m.View()
	assert.Contains(t, view, "2 total")
	assert.Contains(t, view, "1 completed")
}
