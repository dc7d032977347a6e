package resilience_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/boddenberg/boleto-reconciler/internal/domain"
	"github.com/boddenberg/boleto-reconciler/internal/infra/resilience"
)

func testConfig() resilience.Config {
	return resilience.Config{
		MaxRetries:       1,
		RateLimitRetries: 4,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       5 * time.Millisecond,
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), testConfig(), func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_OrdinaryErrorRetriedOnce(t *testing.T) {
	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), testConfig(), func() error {
		callCount++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if callCount != 2 {
		t.Errorf("expected 2 calls (one quick retry), got %d", callCount)
	}
}

func TestRetryWithBackoff_RateLimitedRetriedLonger(t *testing.T) {
	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), testConfig(), func() error {
		callCount++
		return fmt.Errorf("gemini: %w", domain.ErrRateLimited)
	})

	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if callCount != 5 {
		t.Errorf("expected 5 attempts, got %d", callCount)
	}
}

func TestRetryWithBackoff_RecoversAfterThrottling(t *testing.T) {
	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), testConfig(), func() error {
		callCount++
		if callCount < 3 {
			return domain.ErrRateLimited
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_Permanent(t *testing.T) {
	sentinel := errors.New("bad request")
	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), testConfig(), func() error {
		callCount++
		return resilience.Permanent(sentinel)
	})

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_RespectsContext(t *testing.T) {
	cfg := testConfig()
	cfg.InitialBackoff = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := resilience.RetryWithBackoff(ctx, cfg, func() error {
		return errors.New("error")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestBulkhead_AcquireRelease(t *testing.T) {
	bh := resilience.NewBulkhead(2)

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire, got %v", err)
	}
	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := bh.Acquire(ctx); err == nil {
		t.Fatal("expected timeout on third acquire")
	}

	bh.Release()

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	l := resilience.NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected wait error: %v", err)
		}
	}
}

func TestLimiter_CancelledWhileWaiting(t *testing.T) {
	l := resilience.NewLimiter(0.001, 1)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first token should be free, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected second wait to fail before a token refills")
	}
}

func TestCircuitBreaker_IgnoresThrottling(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test-throttle")
	for i := 0; i < 10; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, domain.ErrRateLimited })
	}
	_, err := cb.Execute(func() (any, error) { return "ok", nil })
	if resilience.IsBreakerOpen(err) {
		t.Fatal("breaker must not open on rate-limit signals")
	}
}

func TestCircuitBreaker_OpensOnFailures(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test-open")
	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(func() (any, error) { return nil, errors.New("boom") })
	}
	_, err := cb.Execute(func() (any, error) { return "ok", nil })
	if !resilience.IsBreakerOpen(err) {
		t.Fatalf("expected open breaker, got %v", err)
	}
}
