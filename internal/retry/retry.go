// Package retry provides the bounded exponential-backoff policy shared by
// the session manager and the upstream gateway.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy describes a bounded exponential backoff loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultPolicy matches the upstream contract: 3 attempts, 2s base, doubling.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
	}
}

// Delay returns the backoff delay preceding the given 1-based attempt.
// The first attempt has no delay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 2; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// permanentError marks an error the loop must not retry.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Do returns it immediately instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, the attempts are exhausted, or the context
// is cancelled while waiting out a backoff delay. The last error is returned.
// An error wrapped with Permanent stops the loop on the spot.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if delay := p.Delay(attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if lastErr = fn(attempt); lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}
	}
	return lastErr
}
