package retry

import (
	"context"
	"fmt"
	"time"
)

// DelayFunc returns the wait after the failed attempt (0-based) that produced err.
type DelayFunc func(attempt int, err error) time.Duration

type Policy struct {
	MaxAttempts int
	Delay       DelayFunc
	// Retryable decides whether err is worth another attempt. Nil retries everything.
	Retryable func(err error) bool
	// OnRetry is called before sleeping. Optional.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func Fixed(d time.Duration) DelayFunc {
	return func(int, error) time.Duration { return d }
}

// Exponential waits base * 2^attempt.
func Exponential(base time.Duration) DelayFunc {
	return func(attempt int, _ error) time.Duration {
		return base << attempt
	}
}

// Linear waits base * (attempt+1).
func Linear(base time.Duration) DelayFunc {
	return func(attempt int, _ error) time.Duration {
		return base * time.Duration(attempt+1)
	}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do calls fn until it succeeds, returns a non-retryable error, the context
// ends or MaxAttempts is reached. No wait follows the last attempt.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := range attempts {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return zero, err
		}

		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == attempts-1 {
			break
		}

		var wait time.Duration
		if p.Delay != nil {
			wait = p.Delay(attempt, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}

	return zero, &ExhaustedError{Attempts: attempts, Last: lastErr}
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
