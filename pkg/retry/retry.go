// Package retry re-runs operations with capped exponential backoff.
//
// Operations mark their errors: Retryable errors are attempted again,
// Permanent errors stop immediately. Unmarked errors are returned as they
// are unless the Policy has a ShouldRetry predicate. The mark is removed
// from whatever error Do finally returns.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

type mark int

const (
	markRetryable mark = iota + 1
	markPermanent
)

type markedError struct {
	err  error
	mark mark
}

func (e *markedError) Error() string { return e.err.Error() }
func (e *markedError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, mark: markRetryable}
}

// Permanent marks err as final.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, mark: markPermanent}
}

func IsRetryable(err error) bool { return hasMark(err, markRetryable) }
func IsPermanent(err error) bool { return hasMark(err, markPermanent) }

func hasMark(err error, m mark) bool {
	var me *markedError
	return errors.As(err, &me) && me.mark == m
}

func strip(err error) error {
	var me *markedError
	if errors.As(err, &me) && me == err {
		return me.err
	}
	return err
}

// Policy describes how often and how patiently to retry.
type Policy struct {
	// Attempts includes the first call. Values below 1 mean a single call.
	Attempts int

	// Base is the delay before the second attempt. It doubles per attempt
	// up to Cap.
	Base time.Duration
	Cap  time.Duration

	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64

	// ShouldRetry overrides the default of retrying only Retryable errors.
	// Permanent errors are never retried.
	ShouldRetry func(error) bool

	OnRetry func(attempt int, err error, delay time.Duration)
}

// Executor is the policy for the remote code runner. Runs are short, so the
// whole budget stays well below a single run timeout.
func Executor(onRetry func(attempt int, err error, delay time.Duration)) Policy {
	return Policy{
		Attempts: 3,
		Base:     200 * time.Millisecond,
		Cap:      2 * time.Second,
		Jitter:   0.2,
		OnRetry:  onRetry,
	}
}

// Startup is the policy for reaching backing services while the process
// boots. Everything except cancellation is retried.
func Startup(onRetry func(attempt int, err error, delay time.Duration)) Policy {
	return Policy{
		Attempts:    5,
		Base:        500 * time.Millisecond,
		Cap:         5 * time.Second,
		Jitter:      0.1,
		ShouldRetry: func(err error) bool { return !errors.Is(err, context.Canceled) },
		OnRetry:     onRetry,
	}
}

// Do calls op until it succeeds, the error is not retryable, the attempts
// run out or ctx ends. When ctx ends mid-wait the last op error is returned.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return strip(last)
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		last = err

		if attempt >= attempts || !p.retries(err) {
			return strip(err)
		}

		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return strip(last)
		case <-t.C:
		}
	}
}

func (p Policy) retries(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if p.ShouldRetry != nil {
		return p.ShouldRetry(err)
	}
	return IsRetryable(err)
}

// Backoff is the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	d := p.Base
	for i := 1; i < attempt && (p.Cap <= 0 || d < p.Cap); i++ {
		d *= 2
	}
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d += time.Duration(spread * (rand.Float64()*2 - 1))
	}
	return max(d, 0)
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}
