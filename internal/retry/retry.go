// Package retry implements bounded exponential backoff for operations
// whose failures are expected to be transient (single-item delivery,
// feedback sends). Persistence operations are never wrapped: those must
// fail fast so the surrounding transaction rolls back cleanly.
package retry

import (
	"context"
	"time"
)

type Policy struct {
	MaxAttempts int           // total attempts, including the first
	BaseDelay   time.Duration // wait before attempt 2; doubles each attempt
}

// Default matches the tuning the delivery paths ship with.
var Default = Policy{MaxAttempts: 3, BaseDelay: time.Second}

// Do runs op up to MaxAttempts times, waiting BaseDelay * 2^(n-1) after
// the n-th failure. The last attempt's error is returned unchanged.
// Cancelling ctx aborts a pending wait and returns ctx.Err().
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	delay := p.BaseDelay
	for i := 1; i <= attempts; i++ {
		last = op()
		if last == nil {
			return nil
		}
		if i == attempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
	return last
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
