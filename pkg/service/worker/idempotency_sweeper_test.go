package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/repository/memory"
	"github.com/secmon-lab/actiongate/pkg/service/worker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func reserve(t *testing.T, repo *memory.Memory, key string, now time.Time) string {
	t.Helper()
	req := &model.ActionRequest{
		TenantID:       "tenant-a",
		Operation:      types.OpCRMContactCreate,
		IdempotencyKey: types.IdempotencyKey(key),
	}
	rec := model.NewPendingRecord(req, now, 0)
	holder, err := repo.Idempotency().Reserve(context.Background(), rec)
	gt.NoError(t, err).Required()
	gt.Value(t, holder).Nil()
	return rec.Owner
}

func TestIdempotencySweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := memory.New(memory.WithClock(clock.Now))

	reserve(t, repo, "key-1", clock.Now())
	owner := reserve(t, repo, "key-2", clock.Now())
	gt.NoError(t, repo.Idempotency().Complete(ctx, "tenant-a", "key-2", owner,
		&model.ActionResult{ActionID: "act-1"}, clock.Now().Add(time.Hour))).Required()

	sweeper := worker.NewIdempotencySweeper(repo.Idempotency(), time.Minute, worker.WithSweeperClock(clock.Now))

	t.Run("nothing expired yet", func(t *testing.T) {
		n, err := sweeper.Sweep(ctx)
		gt.NoError(t, err).Required()
		gt.Value(t, n).Equal(0)
	})

	t.Run("expired lease is removed and completed record kept", func(t *testing.T) {
		clock.Advance(model.DefaultReservationLease + time.Second)
		n, err := sweeper.Sweep(ctx)
		gt.NoError(t, err).Required()
		gt.Value(t, n).Equal(1)

		rec, err := repo.Idempotency().Get(ctx, "tenant-a", "key-2")
		gt.NoError(t, err).Required()
		gt.Value(t, rec).NotNil()
	})

	t.Run("completed record removed after expiry", func(t *testing.T) {
		clock.Advance(time.Hour)
		n, err := sweeper.Sweep(ctx)
		gt.NoError(t, err).Required()
		gt.Value(t, n).Equal(1)
	})
}

type countingIdempotency struct {
	interfaces.IdempotencyRepository
	mu    sync.Mutex
	calls int
	err   error
}

func newCounting(err error) *countingIdempotency {
	return &countingIdempotency{IdempotencyRepository: memory.New().Idempotency(), err: err}
}

func (c *countingIdempotency) DeleteExpired(_ context.Context, _ time.Time) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return 0, c.err
}

func (c *countingIdempotency) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestIdempotencySweeper_Loop(t *testing.T) {
	t.Run("sweeps immediately and periodically", func(t *testing.T) {
		target := newCounting(nil)
		sweeper := worker.NewIdempotencySweeper(target, 20*time.Millisecond)

		gt.NoError(t, sweeper.Start(context.Background())).Required()
		time.Sleep(110 * time.Millisecond)
		sweeper.Stop()

		gt.Bool(t, target.Calls() >= 3).True()
	})

	t.Run("keeps running after errors", func(t *testing.T) {
		target := newCounting(errors.New("backend down"))
		sweeper := worker.NewIdempotencySweeper(target, 20*time.Millisecond)

		gt.NoError(t, sweeper.Start(context.Background())).Required()
		time.Sleep(70 * time.Millisecond)
		sweeper.Stop()

		gt.Bool(t, target.Calls() >= 2).True()
	})

	t.Run("stops on context cancel and tolerates double stop", func(t *testing.T) {
		target := newCounting(nil)
		sweeper := worker.NewIdempotencySweeper(target, time.Hour)

		ctx, cancel := context.WithCancel(context.Background())
		gt.NoError(t, sweeper.Start(ctx)).Required()
		cancel()

		start := time.Now()
		sweeper.Stop()
		sweeper.Stop()
		gt.Bool(t, time.Since(start) < time.Second).True()
	})
}
