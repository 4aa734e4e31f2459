// Package poll tracks extraction jobs to completion against the backend.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/healthfolio/folio/internal/model"
)

// ExtractionFetcher fetches the current extraction result for one upload.
type ExtractionFetcher interface {
	GetExtraction(ctx context.Context, uploadID string) (*model.ExtractionResult, error)
}

// UpdateFunc receives each fresh extraction result. The result replaces any
// previous one for the same job wholesale.
type UpdateFunc func(result *model.ExtractionResult)

// Options configures polling cadence and the per-job deadline.
type Options struct {
	// Interval between status fetches for each job.
	Interval time.Duration
	// Deadline bounds how long a job may stay non-terminal before the
	// poller assigns it the client-local timed_out status.
	Deadline time.Duration
}

// DefaultOptions returns the defaults observed in production use.
func DefaultOptions() Options {
	return Options{
		Interval: 2 * time.Second,
		Deadline: 10 * time.Minute,
	}
}

// PollHandle is the cancellation handle for one job's polling loop. Holding
// handles in a map keyed by job id guarantees every loop is reachable at
// teardown; no timer bookkeeping is scattered across call sites.
type PollHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the loop. Safe to call more than once.
func (h *PollHandle) Cancel() {
	h.cancel()
}

// Done is closed when the loop has fully exited.
func (h *PollHandle) Done() <-chan struct{} {
	return h.done
}

// Poller fans out one polling loop per unstructured upload. Loops are
// independent; one job's failure never disturbs another's.
type Poller struct {
	client   ExtractionFetcher
	onUpdate UpdateFunc
	logger   *slog.Logger
	opts     Options

	mu      sync.Mutex
	handles map[string]*PollHandle
}

// New creates a poller delivering results through onUpdate.
func New(client ExtractionFetcher, onUpdate UpdateFunc, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultOptions().Interval
	}
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultOptions().Deadline
	}

	return &Poller{
		client:   client,
		onUpdate: onUpdate,
		logger:   slog.Default().With("component", "poll"),
		opts:     opts,
		handles:  make(map[string]*PollHandle),
	}
}

// Watch starts a polling loop for the job and returns its handle. Watching a
// job that already has an active loop is an error.
func (p *Poller) Watch(ctx context.Context, uploadID string) (*PollHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.handles[uploadID]; exists {
		return nil, fmt.Errorf("already polling upload %s", uploadID)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	handle := &PollHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	p.handles[uploadID] = handle

	go p.run(loopCtx, uploadID, handle)

	return handle, nil
}

// Cancel stops the loop for one job, if any.
func (p *Poller) Cancel(uploadID string) {
	p.mu.Lock()
	handle := p.handles[uploadID]
	p.mu.Unlock()

	if handle != nil {
		handle.Cancel()
		<-handle.Done()
	}
}

// StopAll cancels every outstanding loop and waits for them to exit. Must be
// called on view teardown; leaked loops keep issuing requests forever.
func (p *Poller) StopAll() {
	p.mu.Lock()
	handles := make([]*PollHandle, 0, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
		<-h.Done()
	}
}

// Active returns the number of loops currently polling.
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

func (p *Poller) run(ctx context.Context, uploadID string, handle *PollHandle) {
	defer func() {
		p.mu.Lock()
		delete(p.handles, uploadID)
		p.mu.Unlock()
		close(handle.done)
	}()

	started := time.Now()
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	// First poll happens immediately; the ticker paces the rest.
	for {
		if done := p.pollOnce(ctx, uploadID, started); done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce issues one status fetch. It returns true when the loop should
// stop: terminal status reached or deadline exceeded. A single errored poll
// does not abandon the loop.
func (p *Poller) pollOnce(ctx context.Context, uploadID string, started time.Time) bool {
	if ctx.Err() != nil {
		return true
	}

	if time.Since(started) > p.opts.Deadline {
		p.logger.Warn("Extraction exceeded poll deadline",
			"upload_id", uploadID,
			"deadline", p.opts.Deadline)
		p.onUpdate(&model.ExtractionResult{
			UploadID: uploadID,
			Status:   model.StatusTimedOut,
			Error:    fmt.Sprintf("no terminal status after %s", p.opts.Deadline),
		})
		return true
	}

	result, err := p.client.GetExtraction(ctx, uploadID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		// Transient poll failures are swallowed; only terminal status or
		// cancellation ends the loop.
		p.logger.Debug("Poll failed, continuing", "upload_id", uploadID, "error", err)
		return false
	}

	p.onUpdate(result)

	if result.Status.IsTerminal() {
		p.logger.Info("Extraction reached terminal status",
			"upload_id", uploadID,
			"status", result.Status)
		return true
	}
	return false
}
