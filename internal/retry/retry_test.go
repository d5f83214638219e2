package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("write conflict")

func isConflict(err error) bool { return errors.Is(err, errConflict) }

func TestDoRetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(5, 0), isConflict, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnFatalError(t *testing.T) {
	fatal := errors.New("insufficient balance")
	calls := 0
	err := Do(context.Background(), Fixed(5, 0), isConflict, func(ctx context.Context) error {
		calls++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Fixed(4, time.Millisecond), isConflict, func(ctx context.Context) error {
		calls++
		return errConflict
	})
	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, errConflict)
	assert.Equal(t, 4, calls)
}

func TestDoTreatsAttemptTimeoutAsTransient(t *testing.T) {
	calls := 0
	policy := Fixed(3, 0).WithAttemptTimeout(5 * time.Millisecond)
	err := Do(context.Background(), policy, nil, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDoHonoursCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Fixed(10, 10*time.Millisecond), isConflict, func(ctx context.Context) error {
		calls++
		cancel()
		return errConflict
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExponentialBackoffCaps(t *testing.T) {
	p := Exponential(6, 10*time.Millisecond, 50*time.Millisecond)
	p.Jitter = false

	assert.Equal(t, 10*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 20*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 40*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 50*time.Millisecond, p.Backoff(4))
	assert.Equal(t, 50*time.Millisecond, p.Backoff(9))
}

func TestJitterStaysWithinSpread(t *testing.T) {
	p := Exponential(3, 40*time.Millisecond, time.Second)
	for i := 0; i < 100; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 30*time.Millisecond)
		assert.LessOrEqual(t, d, 50*time.Millisecond)
	}
}

func TestFixedPolicyWaitsBetweenAttempts(t *testing.T) {
	p := Fixed(3, 15*time.Millisecond)
	assert.Equal(t, 15*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 15*time.Millisecond, p.Backoff(3))

	var stamps []time.Time
	err := Do(context.Background(), p, isConflict, func(ctx context.Context) error {
		stamps = append(stamps, time.Now())
		return errConflict
	})
	require.ErrorIs(t, err, ErrExhausted)
	assert.Contains(t, err.Error(), "after 3 attempts")
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 15*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 15*time.Millisecond)
}

func TestDoRunsOnceWithoutAttemptBudget(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{}, isConflict, func(ctx context.Context) error {
		calls++
		return errConflict
	})
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestDoSkipsWorkWhenContextAlreadyDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Fixed(3, 0), isConflict, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}
