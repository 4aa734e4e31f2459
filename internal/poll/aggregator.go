package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/healthfolio/folio/internal/model"
)

// ProgressFetcher fetches the batch-level extraction summary.
type ProgressFetcher interface {
	GetExtractionProgress(ctx context.Context) (*model.ProgressSnapshot, error)
}

// Aggregator polls one summary endpoint instead of N per-job ones for the
// bulk upload path. It owns its snapshot exclusively; nothing else writes it.
type Aggregator struct {
	client   ProgressFetcher
	logger   *slog.Logger
	interval time.Duration

	mu   sync.Mutex
	last *model.ProgressSnapshot
}

// NewAggregator creates an aggregator polling at the given interval.
func NewAggregator(client ProgressFetcher, interval time.Duration) *Aggregator {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Aggregator{
		client:   client,
		logger:   slog.Default().With("component", "progress"),
		interval: interval,
	}
}

// Watch polls the summary endpoint until nothing is left processing,
// delivering each snapshot to onTick. Transient fetch errors are swallowed
// and the loop continues; only completion or cancellation ends it.
func (a *Aggregator) Watch(ctx context.Context, onTick func(model.ProgressSnapshot)) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		snapshot, err := a.client.GetExtractionProgress(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Debug("Progress poll failed, continuing", "error", err)
		} else {
			a.mu.Lock()
			a.last = snapshot
			a.mu.Unlock()

			if onTick != nil {
				onTick(*snapshot)
			}

			if snapshot.Processing == 0 {
				a.logger.Info("Extraction batch settled",
					"total", snapshot.Total,
					"completed", snapshot.Completed,
					"failed", snapshot.Failed,
					"records_created", snapshot.RecordsCreated)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Last returns the most recent snapshot, or nil before the first tick.
func (a *Aggregator) Last() *model.ProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return nil
	}
	snapshot := *a.last
	return &snapshot
}

// RetryAvailable reports whether the settled batch left failed jobs behind,
// in which case the retry affordance is offered.
func (a *Aggregator) RetryAvailable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last != nil && a.last.AllDone() && a.last.Failed > 0
}

// Dismiss clears the aggregator's local state without contacting the server.
func (a *Aggregator) Dismiss() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last = nil
}
