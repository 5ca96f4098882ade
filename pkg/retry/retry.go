// Package retry re-runs an operation with capped exponential backoff.
//
// A Retrier never decides on its own which failures are worth another
// attempt: the caller supplies a classifier with WithRetryIf, usually a
// driver-aware predicate such as postgres.IsTransient. Without one, only
// errors wrapped by Transient are retried.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// transientError marks a failure the caller expects to clear on its own.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable for a Retrier with no classifier.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Config holds the backoff schedule and the retry classifier.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// JitterFactor spreads each delay by up to ±JitterFactor of its value.
	JitterFactor float64
	RetryIf      func(error) bool
	OnRetry      func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns three attempts starting at 100ms, doubling to 2s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		JitterFactor: 0.1,
	}
}

// Option adjusts a Config.
type Option func(*Config)

// WithMaxAttempts sets the attempt budget, first attempt included.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithBackoff sets the first delay and the cap the doubling stops at.
func WithBackoff(initial, ceiling time.Duration) Option {
	return func(c *Config) {
		if initial > 0 {
			c.InitialDelay = initial
		}
		if ceiling >= c.InitialDelay {
			c.MaxDelay = ceiling
		}
	}
}

// WithJitter sets the jitter factor, clamped to [0, 1].
func WithJitter(j float64) Option {
	return func(c *Config) {
		c.JitterFactor = min(max(j, 0), 1)
	}
}

// WithRetryIf sets the classifier deciding which errors get another attempt.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) { c.RetryIf = fn }
}

// WithOnRetry registers a hook called before each backoff sleep.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// Retrier runs operations under one Config. It is safe for concurrent use.
type Retrier struct {
	config Config
}

// New builds a Retrier from DefaultConfig and opts.
func New(opts ...Option) *Retrier {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Retrier{config: cfg}
}

// DatabaseRetrier returns the Retrier used around account import
// transactions. isTransient classifies driver errors; serialization
// failures and dropped connections are the usual candidates.
func DatabaseRetrier(isTransient func(error) bool) *Retrier {
	return New(
		WithMaxAttempts(3),
		WithBackoff(50*time.Millisecond, time.Second),
		WithJitter(0.05),
		WithRetryIf(isTransient),
	)
}

// Do calls op until it succeeds, returns a non-retryable error, the attempt
// budget runs out, or ctx is done. The last operation error is returned with
// any Transient marker removed.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = unmark(err)

		if !r.shouldRetry(err) || attempt == r.config.MaxAttempts {
			return lastErr
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

func (r *Retrier) shouldRetry(err error) bool {
	if r.config.RetryIf != nil {
		return r.config.RetryIf(err)
	}
	return IsTransient(err)
}

// delay is InitialDelay doubled per prior attempt, capped, then jittered.
func (r *Retrier) delay(attempt int) time.Duration {
	d := r.config.InitialDelay
	for i := 1; i < attempt && d < r.config.MaxDelay; i++ {
		d *= 2
	}
	d = min(d, r.config.MaxDelay)

	if j := r.config.JitterFactor; j > 0 {
		d += time.Duration(float64(d) * j * (rand.Float64()*2 - 1))
	}
	return max(d, 0)
}

func unmark(err error) error {
	if te, ok := err.(*transientError); ok {
		return te.err
	}
	return err
}
