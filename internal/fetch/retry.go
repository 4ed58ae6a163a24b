package fetch

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy bounds retry attempts for one item. An item gets MaxRetries+1
// attempts total; between attempts the delay grows exponentially up to
// MaxDelay, with jitter so parallel items don't retry in lockstep.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func DefaultPolicy(maxRetries int) Policy {
	return Policy{
		MaxRetries:   maxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
	}
}

// retryableError marks a transient failure (connection error, timeout,
// 5xx) worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func retryable(err error) error {
	return &retryableError{err: err}
}

func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is exhausted. It returns the number of attempts made
// and the last error.
func (p Policy) Do(ctx context.Context, op func() error) (int, error) {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := p.backoff(ctx, attempt); err != nil {
				return attempt, err
			}
		}
		lastErr = op()
		if lastErr == nil || !IsRetryable(lastErr) {
			return attempt + 1, lastErr
		}
	}
	return p.MaxRetries + 1, lastErr
}

func (p Policy) backoff(ctx context.Context, attempt int) error {
	delay := p.InitialDelay * time.Duration(1<<uint(attempt-1))
	if delay <= 0 || delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	// jitter: 0.5x to 1.5x
	jittered := time.Duration(float64(delay) * (0.5 + rand.Float64()))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jittered):
		return nil
	}
}
