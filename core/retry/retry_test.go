package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: Fixed(time.Hour)},
		func(context.Context, int) (string, error) {
			calls++
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
}

func TestDo_StopsAfterMaxAttempts(t *testing.T) {
	var seen []int
	_, err := Do(context.Background(), Policy{MaxAttempts: 3, Delay: Fixed(time.Millisecond)},
		func(_ context.Context, attempt int) (int, error) {
			seen = append(seen, attempt)
			return 0, errBoom
		})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []int{0, 1, 2}, seen)
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	permanent := errors.New("permanent")
	_, err := Do(context.Background(), Policy{
		MaxAttempts: 5,
		Delay:       Fixed(time.Millisecond),
		Retryable:   func(err error) bool { return !errors.Is(err, permanent) },
	}, func(context.Context, int) (int, error) {
		calls++
		return 0, permanent
	})

	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestDo_WaitsPerDelayFunc(t *testing.T) {
	var waits []time.Duration
	start := time.Now()
	_, err := Do(context.Background(), Policy{
		MaxAttempts: 4,
		Delay:       Exponential(2 * time.Millisecond),
		OnRetry:     func(_ int, _ error, wait time.Duration) { waits = append(waits, wait) },
	}, func(_ context.Context, attempt int) (int, error) {
		if attempt < 3 {
			return 0, errBoom
		}
		return attempt, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 4 * time.Millisecond, 8 * time.Millisecond}, waits)
	assert.GreaterOrEqual(t, time.Since(start), 14*time.Millisecond)
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	_, err := Do(ctx, Policy{MaxAttempts: 3, Delay: Fixed(time.Hour)},
		func(context.Context, int) (int, error) {
			calls++
			return 0, errBoom
		})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

func TestDelayFuncs(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, base, Fixed(base)(7, nil))
	assert.Equal(t, base, Exponential(base)(0, nil))
	assert.Equal(t, 8*base, Exponential(base)(3, nil))
	assert.Equal(t, base, Linear(base)(0, nil))
	assert.Equal(t, 3*base, Linear(base)(2, nil))
}
