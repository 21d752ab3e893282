// Package retry wraps a single upstream call in bounded exponential backoff.
package retry

import (
	"context"
	"time"
)

// Policy is a reusable backoff schedule. The zero value is not useful; use
// Default for resilience-sensitive external calls.
type Policy struct {
	Attempts int
	BaseWait time.Duration
	MaxWait  time.Duration
}

// Default retries 3 times total with 2s, 4s exponential waits capped at 10s.
var Default = Policy{Attempts: 3, BaseWait: 2 * time.Second, MaxWait: 10 * time.Second}

// Do runs fn up to p.Attempts times, sleeping between attempts. Every error
// is treated as retryable; after the last attempt the final error is
// returned as-is. The sleep is context-aware, so cancellation cuts the wait
// short and surfaces ctx.Err().
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	wait := p.BaseWait
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if serr := sleep(ctx, wait); serr != nil {
			return serr
		}
		wait *= 2
		if p.MaxWait > 0 && wait > p.MaxWait {
			wait = p.MaxWait
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
