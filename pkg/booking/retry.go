package booking

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

const (
	defaultRetryAttempts  = 5
	defaultRetryBaseDelay = 5 * time.Millisecond
	defaultRetryMaxDelay  = 100 * time.Millisecond
)

// RetryPolicy bounds the optimistic-concurrency retry loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns five attempts with full-jitter exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultRetryAttempts,
		BaseDelay:   defaultRetryBaseDelay,
		MaxDelay:    defaultRetryMaxDelay,
	}
}

func (policy RetryPolicy) validate() error {
	if policy.MaxAttempts <= 0 {
		return fmt.Errorf("%w: retry attempts must be positive", ErrInvalidServiceConfig)
	}
	if policy.BaseDelay < 0 || policy.MaxDelay < policy.BaseDelay {
		return fmt.Errorf("%w: retry delays out of order", ErrInvalidServiceConfig)
	}
	return nil
}

// run calls attempt until it returns something other than ErrConflict.
// Exhausted conflicts come back as ErrStoreUnavailable and no longer match
// ErrConflict, so nested loops do not multiply their attempts.
func (policy RetryPolicy) run(ctx context.Context, attempt func(ctx context.Context) error) (int, error) {
	for attempts := 1; ; attempts++ {
		err := attempt(ctx)
		if err == nil || !errors.Is(err, ErrConflict) {
			return attempts, err
		}
		if attempts >= policy.MaxAttempts {
			return attempts, fmt.Errorf("%w: gave up after %d attempts: %v", ErrStoreUnavailable, attempts, err)
		}
		timer := time.NewTimer(policy.backoff(attempts))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, Unavailable(ctx.Err())
		case <-timer.C:
		}
	}
}

func (policy RetryPolicy) backoff(attempts int) time.Duration {
	ceiling := policy.BaseDelay << (attempts - 1)
	if ceiling > policy.MaxDelay || ceiling < policy.BaseDelay {
		ceiling = policy.MaxDelay
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}
