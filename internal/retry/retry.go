// Package retry runs a unit of work again when it fails with a transient error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrExhausted wraps the last transient error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// Policy bounds how many times and how quickly an operation is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
	// AttemptTimeout, when set, gives each attempt its own deadline. An attempt
	// that hits it while the caller's context is still live counts as transient.
	AttemptTimeout time.Duration
}

// Exponential doubles the delay after every failed attempt up to max.
func Exponential(attempts int, base, max time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   base,
		MaxDelay:    max,
		Multiplier:  2,
		Jitter:      true,
	}
}

// Fixed waits the same delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   delay,
		MaxDelay:    delay,
		Multiplier:  1,
	}
}

// WithAttemptTimeout returns a copy of p with a per-attempt deadline.
func (p Policy) WithAttemptTimeout(d time.Duration) Policy {
	p.AttemptTimeout = d
	return p
}

// Backoff is the wait before attempt n+1, where n counts from 1.
func (p Policy) Backoff(n int) time.Duration {
	b := p.backOff()
	var d time.Duration
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	return d
}

// backOff builds a fresh schedule. Jitter spreads each wait up to 25% either side.
func (p Policy) backOff() backoff.BackOff {
	if p.BaseDelay <= 0 {
		return &backoff.ZeroBackOff{}
	}
	if p.Multiplier <= 1 && !p.Jitter {
		return backoff.NewConstantBackOff(p.BaseDelay)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = max(p.Multiplier, 1)
	b.MaxInterval = p.MaxDelay
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	if p.Jitter {
		b.RandomizationFactor = 0.25
	}
	b.Reset()
	return b
}

// Do runs fn until it succeeds, returns a non-transient error, or runs out
// of attempts. A nil classifier treats every error as fatal.
func Do(ctx context.Context, p Policy, transient Classifier, fn func(ctx context.Context) error) error {
	limit := max(p.MaxAttempts, 1)

	var (
		last     error
		attempts int
		fatal    bool
	)
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		err := runAttempt(ctx, p.AttemptTimeout, fn)
		if err == nil {
			return nil
		}
		last = err
		if !isTransient(ctx, err, transient) {
			fatal = true
			return backoff.Permanent(err)
		}
		return err
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(p.backOff(), uint64(limit-1)), ctx)
	err := backoff.RetryNotify(op, schedule, func(err error, wait time.Duration) {
		zap.L().Debug("retrying after transient error", zap.Error(err), zap.Int("attempt", attempts), zap.Duration("wait", wait))
	})
	switch {
	case err == nil:
		return nil
	case fatal:
		return err
	case ctx.Err() != nil:
		if last != nil {
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), last)
		}
		return ctx.Err()
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, last)
}

func runAttempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func isTransient(parent context.Context, err error, transient Classifier) bool {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return transient != nil && transient(err)
}
