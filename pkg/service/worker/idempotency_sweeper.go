package worker

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
)

// DefaultSweepInterval is how often expired idempotency records are removed
const DefaultSweepInterval = 10 * time.Minute

// IdempotencySweeper periodically deletes expired idempotency records.
// Backends with native expiry make each sweep a no-op.
//
// Multiple instances may sweep concurrently; deletes are conditional on the
// record still being expired.
type IdempotencySweeper struct {
	repo     interfaces.IdempotencyRepository
	interval time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type SweeperOption func(*IdempotencySweeper)

// WithSweeperClock replaces time.Now as the sweep cutoff
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(w *IdempotencySweeper) {
		w.now = now
	}
}

// NewIdempotencySweeper creates a sweeper. A non-positive interval uses
// DefaultSweepInterval.
func NewIdempotencySweeper(repo interfaces.IdempotencyRepository, interval time.Duration, opts ...SweeperOption) *IdempotencySweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	w := &IdempotencySweeper{
		repo:     repo,
		interval: interval,
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs an initial sweep and the periodic loop in the background
func (w *IdempotencySweeper) Start(ctx context.Context) error {
	logging.From(ctx).Info("idempotency sweeper starting", "interval", w.interval.String())
	go w.run(ctx)
	return nil
}

// Stop signals the loop to exit and waits for it
func (w *IdempotencySweeper) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.doneCh
	logging.Default().Info("idempotency sweeper stopped")
}

func (w *IdempotencySweeper) run(ctx context.Context) {
	defer close(w.doneCh)

	if _, err := w.Sweep(ctx); err != nil {
		logging.From(ctx).Error("initial idempotency sweep failed", "error", err.Error())
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				logging.From(ctx).Error("idempotency sweep failed", "error", err.Error())
			}

		case <-w.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one cleanup pass and returns the number of deleted records
func (w *IdempotencySweeper) Sweep(ctx context.Context) (int, error) {
	start := w.now()
	n, err := w.repo.DeleteExpired(ctx, start)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to delete expired idempotency records")
	}
	if n > 0 {
		logging.From(ctx).Info("expired idempotency records deleted",
			"count", n,
			"duration", time.Since(start).String())
	}
	return n, nil
}
