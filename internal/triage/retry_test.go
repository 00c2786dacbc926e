package triage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sriyan983/slack-triage/internal/core"
)

func TestCalculateDelay_ExponentialCappedAtMax(t *testing.T) {
	p := NewRetryPolicy(
		WithBaseDelay(100*time.Millisecond),
		WithMaxDelay(300*time.Millisecond),
		WithJitter(0),
	)

	require.Equal(t, 100*time.Millisecond, p.CalculateDelay(1))
	require.Equal(t, 200*time.Millisecond, p.CalculateDelay(2))
	require.Equal(t, 300*time.Millisecond, p.CalculateDelay(3))
	// Far beyond the cap stays at the cap.
	require.Equal(t, 300*time.Millisecond, p.CalculateDelay(8))
}

func TestCalculateDelay_JitterStaysWithinBounds(t *testing.T) {
	p := NewRetryPolicy(
		WithBaseDelay(100*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.5),
	)

	// Attempt 2 has a 200ms base, so jitter keeps it in [100ms, 300ms].
	for i := 0; i < 50; i++ {
		d := p.CalculateDelay(2)
		require.GreaterOrEqual(t, d, 100*time.Millisecond)
		require.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestExecute_RetriesUntilSuccess(t *testing.T) {
	p := NewRetryPolicy(
		WithMaxAttempts(3),
		WithBaseDelay(time.Millisecond),
		WithMaxDelay(2*time.Millisecond),
		WithJitter(0),
	)

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return core.ErrClassifierUnavailable(errors.New("blip"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestExecute_NonRetryableReturnsImmediately(t *testing.T) {
	p := NewRetryPolicy(WithMaxAttempts(5), WithBaseDelay(time.Millisecond))

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return core.ErrValidation("BAD_INPUT", "not worth repeating")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
	require.False(t, IsRetryExhausted(err))
}

func TestExecute_ExhaustionStaysRetryable(t *testing.T) {
	p := NewRetryPolicy(
		WithMaxAttempts(2),
		WithBaseDelay(time.Millisecond),
		WithMaxDelay(time.Millisecond),
		WithJitter(0),
	)

	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return core.ErrNotifierUnavailable(errors.New("still down"))
	})
	require.Equal(t, 2, calls)
	require.True(t, IsRetryExhausted(err))

	// The scheduler relies on exhaustion staying retryable so the record
	// parks as failed and requeues next cycle.
	require.True(t, core.IsRetryable(err))

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 2, exhausted.Attempts)
}
