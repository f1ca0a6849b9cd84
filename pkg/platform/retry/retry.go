// Package retry runs an operation with bounded, jitter-free exponential backoff.
//
// The delay before attempt k (k >= 2) is base * 2^(k-2). Only transient
// failures are retried; anything else is returned after the first attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"onboarding/pkg/platform/sentinel"
)

// Operation is one attempt of the retried work.
type Operation func(ctx context.Context) error

// ExhaustedError is returned when every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// TransientError marks a failure as safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is a timeout or connection-level failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sentinel.ErrUnavailable) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Notify is called after a failed attempt that will be retried.
type Notify func(attempt int, err error, wait time.Duration)

type config struct {
	timer  backoff.Timer
	notify Notify
}

type Option func(*config)

// WithTimer replaces the wall-clock timer used between attempts.
func WithTimer(t backoff.Timer) Option {
	return func(c *config) {
		c.timer = t
	}
}

// WithNotify registers a callback for retried failures.
func WithNotify(fn Notify) Option {
	return func(c *config) {
		c.notify = fn
	}
}

// Do runs op at most maxAttempts times. Values below 1 are treated as 1.
// A non-transient error is returned unchanged; running out of attempts yields
// *ExhaustedError; a cancelled context yields the context error.
func Do(ctx context.Context, op Operation, maxAttempts int, baseDelay time.Duration, opts ...Option) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = baseDelay
	policy.RandomizationFactor = 0
	policy.Multiplier = 2
	policy.MaxInterval = time.Duration(math.MaxInt64)
	policy.MaxElapsedTime = 0

	bounded := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxAttempts-1)), ctx)

	attempts := 0
	var lastErr error
	operation := func() error {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if cfg.notify != nil {
			cfg.notify(attempts, err, wait)
		}
	}

	err := backoff.RetryNotifyWithTimer(operation, bounded, notify, cfg.timer)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, lastErr) {
		return ctxErr
	}
	if IsTransient(err) && attempts >= maxAttempts {
		return &ExhaustedError{Attempts: attempts, Err: lastErr}
	}
	return err
}
