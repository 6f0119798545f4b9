package journal

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a storage write is retried.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// do runs fn until it succeeds or the retries are spent, doubling the delay
// after each failure.
func (p RetryPolicy) do(ctx context.Context, fn func(context.Context) error) error {
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := p.Backoff
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil || attempt >= maxRetries {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
