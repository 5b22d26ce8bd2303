package resilience

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestRetryPolicyNext(t *testing.T) {
	p := NewRetryPolicy(3, 2*time.Second)
	for attempt := 1; attempt <= 3; attempt++ {
		d, ok := p.Next(attempt)
		if !ok || d != 2*time.Second {
			t.Fatalf("attempt %d: expected 2s allowed, got %s %v", attempt, d, ok)
		}
	}
	if _, ok := p.Next(4); ok {
		t.Fatalf("expected fourth attempt to be refused")
	}
	if _, ok := p.Next(0); ok {
		t.Fatalf("expected attempt 0 to be refused")
	}
}

func TestCircuitBreakerOpensOnRateLimit(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(2, time.Minute).WithClock(func() time.Time { return now })
	cb.OnError(errors.New("plain failure"))
	cb.OnError(errors.New("plain failure"))
	if !cb.Allow() {
		t.Fatalf("expected non rate-limit errors to be ignored")
	}
	rl := fmt.Errorf("translate: %w", RateLimitError{Provider: "openai"})
	cb.OnError(rl)
	cb.OnError(rl)
	if cb.Allow() {
		t.Fatalf("expected breaker to open")
	}
	now = now.Add(time.Minute)
	if !cb.Allow() {
		t.Fatalf("expected breaker to close after cooldown")
	}
	cb.OnSuccess()
	cb.OnError(rl)
	if !cb.Allow() {
		t.Fatalf("expected success to reset the failure count")
	}
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(1, 10*time.Second).WithClock(func() time.Time { return now })
	cb.OnError(RateLimitError{Provider: "google", RetryAfter: 30 * time.Second})
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	now = now.Add(10 * time.Second)
	if cb.Allow() {
		t.Fatalf("expected RetryAfter to extend the cooldown")
	}
	now = now.Add(20 * time.Second)
	if !cb.Allow() {
		t.Fatalf("expected a probe after RetryAfter")
	}
	if cb.Allow() {
		t.Fatalf("expected only one probe while half open")
	}
	cb.OnError(RateLimitError{Provider: "google"})
	if cb.State() != BreakerOpen || cb.Allow() {
		t.Fatalf("expected a throttled probe to reopen the breaker")
	}
	now = now.Add(10 * time.Second)
	if !cb.Allow() {
		t.Fatalf("expected second probe")
	}
	cb.OnSuccess()
	if cb.State() != BreakerClosed || !cb.Allow() {
		t.Fatalf("expected a successful probe to close the breaker")
	}
}

func TestRateLimitErrorMessage(t *testing.T) {
	if got := (RateLimitError{Provider: "openai"}).Error(); got != "openai: rate limited" {
		t.Fatalf("unexpected message %q", got)
	}
}
