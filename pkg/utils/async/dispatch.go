package async

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/utils/logging"
)

var inflight sync.WaitGroup

// Dispatch executes a handler function asynchronously in a new goroutine.
// The handler receives a background context that keeps the caller's logger
// but not its cancellation, so work outlives the request that started it.
func Dispatch(ctx context.Context, handler func(ctx context.Context) error) {
	bgCtx := context.Background()
	if logger := logging.From(ctx); logger != nil {
		bgCtx = logging.With(bgCtx, logger)
	}

	inflight.Add(1)
	go func() {
		defer inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				logging.From(bgCtx).Error("panic in async handler", "panic", r)
			}
		}()

		if err := handler(bgCtx); err != nil {
			logging.From(bgCtx).Error("async handler failed", "error", err, "values", goerrValues(err))
		}
	}()
}

// Wait blocks until every dispatched handler has returned or timeout elapses.
// It reports whether all handlers finished.
func Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func goerrValues(err error) map[string]any {
	if ge := goerr.Unwrap(err); ge != nil {
		return ge.Values()
	}
	return nil
}
