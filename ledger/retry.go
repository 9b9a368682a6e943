package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds automatic retries of ConcurrencyConflict.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	Attempts:  3,
	BaseDelay: 20 * time.Millisecond,
	MaxDelay:  500 * time.Millisecond,
}

// Do runs fn until it succeeds, fails with a non-retryable error, the
// attempts are used up, or ctx is done. Delay doubles after each attempt.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}

// duplicateKeyAsConflict lets a retry observe the row a concurrent request
// committed between our idempotency lookup and our insert.
func duplicateKeyAsConflict(err error) error {
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		return fmt.Errorf("%w: %w", ErrConcurrencyConflict, err)
	}
	return err
}
