package uploader

import (
	"context"
	"time"
)

// Backoff is the retry schedule for rate-limited and transient failures:
// exponential delays starting at Base, doubling per attempt, with at most
// MaxAttempts submissions per record.
type Backoff struct {
	Base        time.Duration
	Factor      float64
	MaxAttempts int
}

var DefaultBackoff = Backoff{
	Base:        time.Second,
	Factor:      2,
	MaxAttempts: 5,
}

// Delay returns the pause before the given retry, where attempt 1 is the
// first retry after the initial failure.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Factor)
	}
	return d
}

// sleep blocks for d or until ctx is done, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
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
