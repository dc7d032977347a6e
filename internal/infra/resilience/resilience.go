// Package resilience provides fault-tolerance patterns for external
// capabilities: retry with exponential backoff, circuit breaker, bulkhead
// and a token-bucket rate limiter.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/boddenberg/boleto-reconciler/internal/domain"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Config holds resilience parameters.
type Config struct {
	// MaxRetries bounds retries of ordinary failures (one quick retry by default).
	MaxRetries int
	// RateLimitRetries bounds retries of domain.ErrRateLimited failures.
	RateLimitRetries int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	MaxConcurrency   int
}

// DefaultConfig is the policy applied to every external capability call.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       1,
		RateLimitRetries: 4,
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       30 * time.Second,
		MaxConcurrency:   4,
	}
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryWithBackoff executes fn until it succeeds or the policy gives up.
// Rate-limit failures back off exponentially (with jitter, capped at
// MaxBackoff) for up to RateLimitRetries retries; any other failure is
// retried at most MaxRetries times after InitialBackoff. It respects
// context cancellation.
func RetryWithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	var rateRetries, otherRetries int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		var wait time.Duration
		if errors.Is(err, domain.ErrRateLimited) {
			if rateRetries >= cfg.RateLimitRetries {
				return err
			}
			wait = exponential(cfg, rateRetries)
			rateRetries++
		} else {
			if otherRetries >= cfg.MaxRetries {
				return err
			}
			wait = cfg.InitialBackoff
			otherRetries++
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func exponential(cfg Config, attempt int) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt))) * cfg.InitialBackoff
	if half := int64(backoff / 2); half > 0 {
		backoff += time.Duration(rand.Int63n(half))
	}
	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}
	return backoff
}

// NewCircuitBreaker creates a circuit breaker with sensible defaults.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // half-open: allow 3 requests
		Interval:    30 * time.Second, // closed: reset counters every 30s
		Timeout:     10 * time.Second, // open -> half-open after 10s
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// A throttled call is the provider protecting itself, not failing.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrRateLimited)
		},
	})
}

// IsBreakerOpen reports whether err came from a breaker refusing the call.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Bulkhead limits concurrent access to a resource.
type Bulkhead struct {
	sem chan struct{}
}

// NewBulkhead creates a bulkhead with the given max concurrency.
func NewBulkhead(maxConcurrency int) *Bulkhead {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Bulkhead{sem: make(chan struct{}, maxConcurrency)}
}

// Acquire blocks until a slot is available or context is cancelled.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (b *Bulkhead) Release() {
	<-b.sem
}

// Limiter is a token bucket placed in front of a rate-limited capability.
type Limiter struct {
	l *rate.Limiter
}

// NewLimiter allows rps calls per second with the given burst.
// A non-positive rps disables limiting.
func NewLimiter(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return &Limiter{l: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{l: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	return l.l.Wait(ctx)
}
