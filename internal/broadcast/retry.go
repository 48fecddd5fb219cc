package broadcast

import (
	"context"
	"time"
)

// backoff doubles the wait after every attempt up to limit
type backoff struct {
	next  time.Duration
	limit time.Duration
}

func newBackoff(start, limit time.Duration) *backoff {
	return &backoff{next: start, limit: limit}
}

// wait sleeps for the current interval unless ctx ends first
func (b *backoff) wait(ctx context.Context) error {
	t := time.NewTimer(b.next)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	b.next *= 2
	if b.limit > 0 && b.next > b.limit {
		b.next = b.limit
	}
	return nil
}
