package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/errors"
)

type result[T any] struct {
	value T
	err   error
}

// Timeout runs fn with a derived context that is cancelled after d and
// returns its value. A call that overruns returns the zero T and an error
// matching both context.DeadlineExceeded and errors.ErrTimeout; fn's late
// result is discarded. A non-positive d runs fn directly.
func Timeout[T any](ctx context.Context, d time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	done := make(chan result[T], 1)
	go func() {
		v, err := fn(timeoutCtx)
		done <- result[T]{value: v, err: err}
	}()
	var zero T
	select {
	case r := <-done:
		return r.value, r.err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
		}
		return zero, fmt.Errorf("%s: %w: %w (limit: %v)", name, apperrors.ErrTimeout, context.DeadlineExceeded, d)
	}
}

// WithTimeout is Timeout for calls that return only an error.
func WithTimeout(ctx context.Context, d time.Duration, name string, fn func(ctx context.Context) error) error {
	_, err := Timeout(ctx, d, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
