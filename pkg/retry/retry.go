// Package retry provides the bounded polling helper behind the certificate
// and stack wait loops.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrExhausted is returned when polling stops because a bound was hit rather
// than because the operation settled or failed.
var ErrExhausted = errors.New("retry: bound exhausted")

var errNotDone = errors.New("retry: not done")

// Options bounds a polling loop. Interval is required, and at least one of
// Timeout or MaxAttempts must be set.
type Options struct {
	// Interval is the fixed delay between attempts.
	Interval time.Duration
	// Timeout is a wall-clock bound across all attempts. Zero means unbounded.
	Timeout time.Duration
	// MaxAttempts caps the total number of attempts. Zero means unbounded.
	MaxAttempts uint64
}

// Until polls op every Interval until it reports done, a bound is hit, or ctx
// is cancelled. op returns (value, done, err); a non-nil err stops polling
// immediately and is returned as-is. Hitting a bound returns ErrExhausted;
// cancellation of ctx returns ctx.Err(). The first attempt runs immediately.
func Until[T any](ctx context.Context, opts Options, op func(context.Context) (T, bool, error)) (T, error) {
	var zero T
	if opts.Interval <= 0 {
		return zero, fmt.Errorf("retry: interval must be positive")
	}
	if opts.Timeout <= 0 && opts.MaxAttempts == 0 {
		return zero, fmt.Errorf("retry: a timeout or attempt bound is required")
	}

	waitCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var policy backoff.BackOff = backoff.NewConstantBackOff(opts.Interval)
	if opts.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, opts.MaxAttempts-1)
	}

	v, err := backoff.RetryWithData(func() (T, error) {
		v, done, err := op(waitCtx)
		if err != nil {
			return zero, backoff.Permanent(err)
		}
		if !done {
			return zero, errNotDone
		}
		return v, nil
	}, backoff.WithContext(policy, waitCtx))
	if err == nil {
		return v, nil
	}

	switch {
	case ctx.Err() != nil:
		return zero, ctx.Err()
	case errors.Is(err, errNotDone), errors.Is(err, context.DeadlineExceeded):
		return zero, ErrExhausted
	default:
		return zero, err
	}
}
