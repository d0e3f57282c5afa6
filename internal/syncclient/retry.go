package syncclient

import (
	"context"
	"errors"
	"time"

	"github.com/otomatty/zedi-sub000/internal/apperr"
)

// Backoff retries transient failures with exponential delays.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultBackoff is used when an engine is built without one.
var DefaultBackoff = Backoff{Attempts: 4, Initial: 500 * time.Millisecond, Max: 10 * time.Second}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// attempts are spent.
func (b Backoff) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := b.Initial

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if b.Max > 0 && delay > b.Max {
				delay = b.Max
			}
		}
		if err = fn(ctx); err == nil || !errors.Is(err, apperr.ErrTransient) {
			return err
		}
	}
	return err
}
