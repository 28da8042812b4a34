package util

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds exponential backoff for outbound calls.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy is used when a caller supplies a zero policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	MaxElapsed:      30 * time.Second,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	if p.MaxAttempts <= 0 {
		p = DefaultRetryPolicy
	}
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	// Zero leaves the attempt count as the only bound.
	b.MaxElapsedTime = p.MaxElapsed

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// Retry calls fn until it succeeds, the policy is exhausted or ctx is done.
// It returns the last error from fn. Errors wrapped with Permanent stop the
// loop immediately and are returned unwrapped.
func Retry(ctx context.Context, p RetryPolicy, fn func() error) error {
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return fn()
	}, p.backOff(ctx), func(err error, wait time.Duration) {
		slog.Debug("retrying", "attempt", attempt, "wait", wait, "error", err)
	})
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
