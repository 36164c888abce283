// Package resilience bounds outbound calls with a deadline and a circuit breaker.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"docqa/internal/domain"
	"docqa/internal/observability"
)

// DefaultTimeout applies to every remote call without an explicit timeout.
const DefaultTimeout = 30 * time.Second

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// Guard runs calls to one remote dependency.
type Guard struct {
	name    string
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

// NewGuard creates a guard named after the dependency it protects.
func NewGuard(name string, timeout time.Duration, cfg BreakerConfig, logger observability.Logger) *Guard {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 5
	}
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.FailureRatio == 0 {
		cfg.FailureRatio = 0.5
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && ratio >= cfg.FailureRatio
		},
		// A caller giving up says nothing about the dependency's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}
	return &Guard{name: name, timeout: timeout, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Timeout returns the per-call deadline.
func (g *Guard) Timeout() time.Duration { return g.timeout }

// Call runs fn with a deadline through the breaker. A deadline expiry is
// returned as *domain.TimeoutError.
func (g *Guard) Call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, fn(callCtx)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &domain.TimeoutError{Op: g.name + " " + op, Err: err}
	}
	return err
}

// Retry runs fn with exponential backoff until it succeeds, returns a
// permanent error, attempts run out or ctx ends.
func Retry(ctx context.Context, attempts int, initial time.Duration, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	if initial > 0 {
		b.InitialInterval = initial
	}
	b.MaxInterval = 5 * time.Second
	if attempts < 0 {
		attempts = 0
	}
	return backoff.Retry(fn, backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts)), ctx))
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
