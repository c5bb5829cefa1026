// Package poll runs an operation repeatedly at a fixed interval until its
// result satisfies a predicate, the attempt budget runs out, or the operation fails.
package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeoutExceeded reports that every attempt completed without the
// predicate holding.
var ErrTimeoutExceeded = errors.New("timeout exceeded")

// ErrInvalidAttempts is returned when maxAttempts is below one.
var ErrInvalidAttempts = errors.New("maxAttempts must be at least 1")

// InvocationError wraps the error returned by the polled operation.
// Polling stops at the first failed invocation.
type InvocationError struct {
	Attempt int
	Err     error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("poll attempt %d: %v", e.Attempt, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// TimeoutError carries the last observed result when the attempt budget is spent.
// It matches ErrTimeoutExceeded with errors.Is.
type TimeoutError[T any] struct {
	Attempts int
	Last     T
}

func (e *TimeoutError[T]) Error() string {
	return fmt.Sprintf("%v after %d attempts", ErrTimeoutExceeded, e.Attempts)
}

func (e *TimeoutError[T]) Unwrap() error { return ErrTimeoutExceeded }

// Poll calls invoke until succeeded reports true for its result.
//
// Attempts run one at a time with exactly interval between the end of one
// attempt and the start of the next. An invocation error ends polling at once
// with an *InvocationError. After maxAttempts unsuccessful results Poll returns
// a *TimeoutError. Cancelling ctx stops the wait between attempts and returns
// ctx.Err().
func Poll[T any](
	ctx context.Context,
	invoke func(context.Context) (T, error),
	succeeded func(T) bool,
	interval time.Duration,
	maxAttempts int,
) (T, error) {
	var zero T
	if maxAttempts < 1 {
		return zero, fmt.Errorf("%w (got %d)", ErrInvalidAttempts, maxAttempts)
	}
	if interval < 0 {
		interval = 0
	}

	var timer *time.Timer
	attempts := 0
	for {
		result, err := invoke(ctx)
		if err != nil {
			return zero, &InvocationError{Attempt: attempts + 1, Err: err}
		}
		if succeeded(result) {
			return result, nil
		}

		attempts++
		if attempts >= maxAttempts {
			return zero, &TimeoutError[T]{Attempts: attempts, Last: result}
		}

		if timer == nil {
			timer = time.NewTimer(interval)
			defer timer.Stop()
		} else {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// Result is the single completion delivered by Go.
type Result[T any] struct {
	Value T
	Err   error
}

// Go runs Poll in its own goroutine. The returned channel is buffered and
// receives exactly one Result, then closes, so the caller may abandon it.
func Go[T any](
	ctx context.Context,
	invoke func(context.Context) (T, error),
	succeeded func(T) bool,
	interval time.Duration,
	maxAttempts int,
) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		v, err := Poll(ctx, invoke, succeeded, interval, maxAttempts)
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}
