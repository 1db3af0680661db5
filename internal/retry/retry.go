// Package retry re-runs caller-side operations that failed with transient
// errors. The storage core never retries on its own; callers that want
// retries wrap their calls here.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/kilupskalvis/artvault/internal/models"
)

// Config configures retry behavior for transient errors.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

func DefaultConfig() *Config {
	return &Config{
		MaxRetries:     3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.25,
	}
}

// IsTransient reports whether err is worth retrying. Invalid input,
// missing resources, conflicts and cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, permanent := range []error{models.ErrConfiguration, models.ErrNotFound, models.ErrConflict} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}

// backoff computes the delay for the given attempt with jitter.
func (c *Config) backoff(attempt int) time.Duration {
	base := float64(c.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(c.MaxBackoff) {
		base = float64(c.MaxBackoff)
	}
	jitter := base * c.JitterFraction * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn until it succeeds, fails permanently or the retries run out.
func Do(ctx context.Context, cfg *Config, operation string, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt < cfg.MaxRetries {
			if err := sleep(ctx, cfg.backoff(attempt)); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, cfg.MaxRetries)
}

// Value is Do for functions that return a result.
func Value[T any](ctx context.Context, cfg *Config, operation string, fn func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, operation, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
