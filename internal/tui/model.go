// Package tui renders the extraction progress dashboard with bubbletea.
// It tracks a batch of unstructured uploads through extraction, offering
// retry on failures, and exits once the user dismisses the settled batch.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/healthfolio/folio/internal/model"
	"github.com/healthfolio/folio/internal/poll"
)

// Client is the server surface the dashboard polls.
type Client interface {
	poll.ExtractionFetcher
	poll.ProgressFetcher
	poll.RetryTrigger
}

// jobRow is the dashboard state for one upload.
type jobRow struct {
	startedAt   time.Time
	uploadID    string
	filename    string
	status      model.UploadStatus
	lastError   string
	entityCount int
}

// Model is the bubbletea model for the extraction dashboard.
type Model struct {
	ctx     context.Context
	client  Client
	keys    KeyMap
	options poll.Options

	rows     []jobRow
	snapshot *model.ProgressSnapshot

	spinner  spinner.Model
	progress progress.Model

	width    int
	quitting bool
	fetchErr string
}

// New creates a dashboard over the given extraction jobs.
func New(ctx context.Context, client Client, jobs []model.UploadJob, options poll.Options) Model {
	if options.Interval <= 0 {
		options = poll.DefaultOptions()
	}

	now := time.Now()
	rows := make([]jobRow, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, jobRow{
			startedAt: now,
			uploadID:  job.ID,
			filename:  job.Filename,
			status:    job.Status,
		})
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctx:      ctx,
		client:   client,
		keys:     DefaultKeyMap(),
		options:  options,
		rows:     rows,
		spinner:  sp,
		progress: progress.New(progress.WithDefaultGradient()),
		width:    80,
	}
}

// Init starts the spinner and the first polling round.
func (m Model) Init() tea.Cmd {
	return tea.Batch(append([]tea.Cmd{m.spinner.Tick}, m.pollCmds()...)...)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = msg.Width - 8
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.ForceQuit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Quit), key.Matches(msg, m.keys.Dismiss):
			if m.settled() || key.Matches(msg, m.keys.Quit) {
				m.quitting = true
				return m, tea.Quit
			}
		case key.Matches(msg, m.keys.Retry):
			if ids := m.failedIDs(); len(ids) > 0 {
				return m, retryFailed(m.ctx, m.client, ids)
			}
		}
		return m, nil

	case pollTickMsg:
		if m.settled() {
			return m, nil
		}
		return m, tea.Batch(m.pollCmds()...)

	case resultMsg:
		m.applyResult(msg.result)
		return m, nil

	case snapshotMsg:
		snapshot := msg.snapshot
		m.snapshot = &snapshot
		return m, nil

	case fetchErrMsg:
		// Transient; keep the last error visible and keep polling.
		m.fetchErr = msg.err.Error()
		return m, nil

	case retryDoneMsg:
		if msg.err != nil {
			m.fetchErr = msg.err.Error()
			return m, nil
		}
		m.fetchErr = ""
		now := time.Now()
		retried := make(map[string]bool, len(msg.uploadIDs))
		for _, id := range msg.uploadIDs {
			retried[id] = true
		}
		for i := range m.rows {
			if retried[m.rows[i].uploadID] {
				m.rows[i].status = model.StatusPending
				m.rows[i].lastError = ""
				m.rows[i].startedAt = now
			}
		}
		return m, pollTick(m.options.Interval)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// pollCmds builds one polling round: a fetch per live job, the aggregate
// snapshot, and the next tick.
func (m *Model) pollCmds() []tea.Cmd {
	now := time.Now()
	cmds := []tea.Cmd{fetchSnapshot(m.ctx, m.client)}
	for i := range m.rows {
		row := &m.rows[i]
		if row.status.IsTerminal() {
			continue
		}
		if m.options.Deadline > 0 && now.Sub(row.startedAt) > m.options.Deadline {
			row.status = model.StatusTimedOut
			continue
		}
		cmds = append(cmds, fetchResult(m.ctx, m.client, row.uploadID))
	}
	cmds = append(cmds, pollTick(m.options.Interval))
	return cmds
}

func (m *Model) applyResult(result *model.ExtractionResult) {
	for i := range m.rows {
		if m.rows[i].uploadID != result.UploadID {
			continue
		}
		// A timed-out row stays timed out even if a late poll lands.
		if m.rows[i].status == model.StatusTimedOut {
			return
		}
		m.rows[i].status = result.Status
		m.rows[i].lastError = result.Error
		m.rows[i].entityCount = len(result.Entities)
		return
	}
}

func (m *Model) settled() bool {
	for _, row := range m.rows {
		if !row.status.IsTerminal() {
			return false
		}
	}
	return true
}

func (m *Model) failedIDs() []string {
	var ids []string
	for _, row := range m.rows {
		if row.status == model.StatusFailed || row.status == model.StatusTimedOut {
			ids = append(ids, row.uploadID)
		}
	}
	return ids
}

// Settled reports whether every tracked job reached a terminal state.
func (m Model) Settled() bool {
	return m.settled()
}

// FailedCount returns the number of jobs in a failed or timed-out state.
func (m Model) FailedCount() int {
	return len(m.failedIDs())
}
