// Package retry implements the exponential-backoff-with-jitter retry loop
// used by the distributed Mutex, Bucket.MutateUsing, and the Consumer's
// bounded subscribe-RPC retry, on top of cenkalti/backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy mirrors the formula from the concurrency model:
// delay = clamp(minDelay*factor^attempt, maxDelay) * (1-jitter + 2*jitter*U[0,1)).
type Policy struct {
	Retries  int
	MinDelay time.Duration
	MaxDelay time.Duration
	Factor   float64
	Jitter   float64
}

// DefaultPolicy is the system-wide default: retries=10, minDelay=250ms,
// maxDelay=120s, factor=1.5, jitter=0.1.
func DefaultPolicy() Policy {
	return Policy{
		Retries:  10,
		MinDelay: 250 * time.Millisecond,
		MaxDelay: 120 * time.Second,
		Factor:   1.5,
		Jitter:   0.1,
	}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.MinDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Factor
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	return b
}

// When decides, given the error from the latest attempt and the attempt
// number (1-based), whether the loop should retry.
type When func(err error, attempt int) bool

// Always retries any non-nil error until the retry budget is exhausted.
func Always(error, int) bool { return true }

// Do runs fn, retrying while when(err, attempt) holds and the retry budget
// and ctx both allow it. It returns the last error once either is exhausted.
func Do(ctx context.Context, p Policy, when When, fn func() error) error {
	if when == nil {
		when = Always
	}
	b := backoff.WithContext(p.backOff(), ctx)
	attempt := 0
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		attempt++
		if attempt > p.Retries || !when(err, attempt) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, b)
	if err == nil {
		return nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
