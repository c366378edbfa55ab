package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls Retry. Zero fields take the defaults. Retryable,
// when set, decides whether an error is worth another attempt; errors
// marked Permanent, an open circuit and a cancelled context never are.
type RetryConfig struct {
	MaxAttempts    int              `yaml:"maxAttempts"`
	InitialDelay   time.Duration    `yaml:"initialDelay"`
	MaxDelay       time.Duration    `yaml:"maxDelay"`
	Multiplier     float64          `yaml:"multiplier"`
	JitterFraction float64          `yaml:"jitter"`
	Retryable      func(error) bool `yaml:"-"`
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.1
	}
	return c
}

// retryable applies the fixed exclusions before the configured predicate.
func (c RetryConfig) retryable(err error) bool {
	if IsPermanent(err) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	return c.Retryable == nil || c.Retryable(err)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// RetryError is returned when Retry gives up on Op.
type RetryError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	if e.Attempts == 1 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Retry calls fn until it succeeds, it fails with an error that is not
// retryable, the attempts run out, or ctx ends. Every failure is a
// *RetryError wrapping the last error.
func Retry(ctx context.Context, op string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", op)
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if !cfg.retryable(err) || attempt == cfg.MaxAttempts {
			return &RetryError{Op: op, Attempts: attempt, Err: err}
		}
		delay := computeDelay(attempt, cfg)
		logger.Warn("operation failed, retrying", "attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", err, "next_delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return &RetryError{Op: op, Attempts: attempt, Err: fmt.Errorf("backoff interrupted: %w", ctx.Err())}
		}
	}
}

// computeDelay is the jittered exponential backoff after attempt, capped at
// MaxDelay.
func computeDelay(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	backoff += backoff * cfg.JitterFraction * (2*rand.Float64() - 1)
	if backoff > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	if backoff < 0 {
		return cfg.InitialDelay
	}
	return time.Duration(backoff)
}
