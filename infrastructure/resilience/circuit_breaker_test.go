package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_OpensAfterFailures(t *testing.T) {
	cb := New(Config{MaxFailures: 2, Timeout: time.Minute})
	failing := func() error { return errors.New("backend down") }

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), failing)
	}
	if cb.State() != StateOpen {
		t.Errorf("expected open after %d failures, got %s", 2, cb.State())
	}

	err := cb.Execute(context.Background(), func() error { return nil })
	if err != ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := New(Config{MaxFailures: 1, Timeout: 10 * time.Millisecond, HalfOpenMax: 1})
	_ = cb.Execute(context.Background(), func() error { return errors.New("fail") })
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.Execute(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("half-open probe should pass: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_CountIfIgnoresNonTransient(t *testing.T) {
	transient := errors.New("transient")
	cb := New(Config{
		MaxFailures: 1,
		Timeout:     time.Minute,
		CountIf:     func(err error) bool { return errors.Is(err, transient) },
	})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func() error { return errors.New("validation failed") })
	}
	if cb.State() != StateClosed {
		t.Errorf("non-counted errors must not trip the breaker, got %s", cb.State())
	}

	_ = cb.Execute(context.Background(), func() error { return transient })
	if cb.State() != StateOpen {
		t.Errorf("counted error should open the breaker, got %s", cb.State())
	}
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func() error {
		called = true
		return nil
	})
	if err == nil {
		t.Error("expected context error")
	}
	if called {
		t.Error("fn must not run under a cancelled context")
	}
}

func TestState_String(t *testing.T) {
	if StateClosed.String() != "closed" || StateOpen.String() != "open" || StateHalfOpen.String() != "half-open" {
		t.Error("state names changed")
	}
}
