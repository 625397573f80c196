// Package retry runs an operation under a bounded exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// Policy retries a failing operation up to MaxRetries times. The wait before
// retry i (1-based) is 2^i * BaseDelay, so the defaults wait 2s, 4s and 8s.
type Policy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	// OnRetry, if set, is called after try failed with err and before
	// waiting delay for the next try.
	OnRetry func(try int, delay time.Duration, err error)
}

func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

// Operation performs one try. try starts at 1.
type Operation func(ctx context.Context, try int) error

// ExhaustedError is returned once every try of an operation has failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable. Do returns the wrapped error as is.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, returns a Permanent error, the retry budget is
// spent or ctx is done. Any other error is retried.
func (p Policy) Do(ctx context.Context, op Operation) error {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}

	var (
		try       int
		lastErr   error
		exhausted bool
	)

	limited := goretry.WithMaxRetries(p.MaxRetries, goretry.NewExponential(2*base))
	backoff := goretry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := limited.Next()
		if stop {
			exhausted = true
		} else if p.OnRetry != nil {
			p.OnRetry(try, delay, lastErr)
		}
		return delay, stop
	})

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		try++
		err := op(ctx, try)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		lastErr = err
		return goretry.RetryableError(err)
	})
	if err == nil {
		return nil
	}

	if exhausted {
		return &ExhaustedError{Attempts: try, Err: lastErr}
	}
	return err
}
