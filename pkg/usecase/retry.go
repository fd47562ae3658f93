package usecase

import (
	"context"
	"time"

	"github.com/secmon-lab/actiongate/pkg/domain/model"
)

// RetryPolicy controls how many provider attempts the pipeline makes and how
// long it waits between them
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	Factor        float64
	MaxDelay      time.Duration
	MaxRetryAfter time.Duration
}

// DefaultRetryPolicy makes up to 4 attempts with 1s, 2s and 4s between them
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   4,
		BaseDelay:     time.Second,
		Factor:        2,
		MaxDelay:      30 * time.Second,
		MaxRetryAfter: 10 * time.Second,
	}
}

// Delay returns the backoff before retry number retry (1-based)
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 || p.BaseDelay <= 0 {
		return 0
	}
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	d := float64(p.BaseDelay)
	for i := 1; i < retry; i++ {
		d *= factor
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// wait is the delay before retry, stretched to the provider's retry_after
// hint when that is longer, bounded by MaxRetryAfter
func (p RetryPolicy) wait(retry int, actionErr *model.ActionError) time.Duration {
	d := p.Delay(retry)
	if actionErr == nil || actionErr.RetryAfter == nil {
		return d
	}
	hint := time.Duration(*actionErr.RetryAfter) * time.Second
	if p.MaxRetryAfter > 0 && hint > p.MaxRetryAfter {
		hint = p.MaxRetryAfter
	}
	if hint > d {
		return hint
	}
	return d
}

// reservationMargin covers the bookkeeping around the attempt loop
const reservationMargin = time.Minute

// Budget is the longest a run can hold an idempotency reservation. Each
// attempt may spend attemptTimeout waiting on the rate limiter and another
// attemptTimeout on the provider call, and every retry waits at most the
// larger of its backoff and MaxRetryAfter.
func (p RetryPolicy) Budget(attemptTimeout time.Duration) time.Duration {
	n := p.attempts()
	total := time.Duration(n) * 2 * attemptTimeout
	for retry := 1; retry < n; retry++ {
		d := p.Delay(retry)
		if p.MaxRetryAfter > d {
			d = p.MaxRetryAfter
		}
		total += d
	}
	return total + reservationMargin
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Sleeper blocks for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
