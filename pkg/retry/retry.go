package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) IsRetryable() bool {
	return true
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func NewRetryableError(err error) RetryableError {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// FatalError stops a retry loop immediately.
type FatalError interface {
	error
	IsFatal() bool
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) IsFatal() bool {
	return true
}

func (e *fatalError) Unwrap() error {
	return e.err
}

func NewFatalError(err error) FatalError {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  5 * time.Minute,
	}
}

// ConstantPolicy retries attempts times with a fixed pause in between.
func ConstantPolicy(attempts int, interval time.Duration) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: interval,
		MaxInterval:     interval,
		Multiplier:      1,
	}
}

// backOff builds the pause schedule. A multiplier of 1 gives fixed pauses;
// MaxElapsedTime of zero never stops on elapsed time.
func (p Policy) backOff() backoff.BackOff {
	if p.Multiplier == 1 {
		return backoff.NewConstantBackOff(p.InitialInterval)
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	exp.MaxElapsedTime = p.MaxElapsedTime
	return exp
}

func Retry(ctx context.Context, policy Policy, fn func() error) error {
	return RetryWithCallback(ctx, policy, fn, nil)
}

// RetryWithCallback runs fn until it succeeds, returns a FatalError, the
// attempts are exhausted or ctx is done. onRetry is called before every
// pause. A cancelled context yields ctx.Err().
func RetryWithCallback(ctx context.Context, policy Policy, fn func() error, onRetry func(attempt int, err error, nextDelay time.Duration)) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(policy.backOff(), uint64(policy.MaxAttempts-1)),
		ctx,
	)

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()

		if err == nil {
			return nil
		}

		var fatalErr FatalError
		if errors.As(err, &fatalErr) {
			return backoff.Permanent(err)
		}

		var retryableErr RetryableError
		if !errors.As(err, &retryableErr) {
			err = NewRetryableError(err)
		}

		return err
	}

	var notify backoff.Notify
	if onRetry != nil {
		notify = func(err error, next time.Duration) {
			onRetry(attempt, err, next)
		}
	}

	return backoff.RetryNotify(operation, b, notify)
}
