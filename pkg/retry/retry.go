// Package retry provides bounded retry and polling primitives
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrDeadlineExceeded is returned by Poll when the condition never became
// true within the deadline
var ErrDeadlineExceeded = errors.New("poll deadline exceeded")

// Policy defines how to retry an operation
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is a sensible default for read-only exchange calls
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 250 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// IsTransientFunc decides if an error is transient and should be retried
type IsTransientFunc func(error) bool

// Do executes fn with retries according to the policy. Backoff doubles per
// attempt with up to 50% jitter added.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		var jitter time.Duration
		if half := int64(backoff / 2); half > 0 {
			jitter = time.Duration(rand.Int63n(half))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
			backoff = minDuration(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}

// Poll calls check at a fixed interval until it reports done, an error
// occurs that check does not swallow, the deadline elapses, or the context
// is cancelled. The first check runs immediately. Errors returned by check
// abort the poll; a check that wants to keep polling through transient
// failures should log and return (false, nil).
func Poll(ctx context.Context, interval, deadline time.Duration, check func(ctx context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrDeadlineExceeded
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
