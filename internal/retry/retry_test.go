package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicyBackoff(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: 5 * time.Second, MaxDelay: 30 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 5 * time.Second},
		{attempt: 1, want: 10 * time.Second},
		{attempt: 4, want: 25 * time.Second},
		{attempt: 5, want: 30 * time.Second},
		{attempt: 9, want: 30 * time.Second},
		{attempt: -1, want: 5 * time.Second},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, p.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}

	uncapped := Policy{BaseDelay: time.Second}
	require.Equal(t, 10*time.Second, uncapped.Backoff(9))
}

func TestPolicyDoSucceedsAfterFailures(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 4, BaseDelay: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, nil)

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestPolicyDoExhaustsAttempts(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	sentinel := errors.New("still broken")

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return sentinel
	}, nil)

	require.Error(t, err)
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 3, calls)
}

func TestPolicyDoStopsOnNonRetryable(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	fatal := errors.New("not found")

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return fatal
	}, func(err error) bool { return !errors.Is(err, fatal) })

	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
}

func TestPolicyDoStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 10, BaseDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func() error {
			calls++
			return errors.New("transient")
		}, nil)
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestPolicyDoNeverRetriesContextErrors(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}

	calls := 0
	err := p.Do(context.Background(), func() error {
		calls++
		return context.DeadlineExceeded
	}, nil)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, calls)
}

func TestPolicyDoZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()
	calls := 0
	err := Policy{}.Do(context.Background(), func() error {
		calls++
		return nil
	}, nil)

	require.NoError(t, err)
	require.Equal(t, 1, calls)
}
