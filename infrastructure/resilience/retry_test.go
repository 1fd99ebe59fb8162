package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry_Success(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}

	err := Retry(context.Background(), cfg, func() error {
		return nil
	})

	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestRetry_EventualSuccess(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond}
	attempts := 0

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("fail")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_AllFail(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond}
	testErr := errors.New("always fail")

	err := Retry(context.Background(), cfg, func() error {
		return testErr
	})

	if err != testErr {
		t.Errorf("expected testErr, got %v", err)
	}
}

func TestRetry_RetryIfStopsEarly(t *testing.T) {
	cfg := RetryConfig{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		RetryIf:      func(err error) bool { return false },
	}
	attempts := 0

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errors.New("terminal")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("non-retryable error should stop after 1 attempt, got %d", attempts)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, cfg, func() error {
			attempts++
			return errors.New("fail")
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-done
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNextDelay_CapsAtMax(t *testing.T) {
	cfg := RetryConfig{Multiplier: 10, MaxDelay: 100 * time.Millisecond}
	if d := nextDelay(50*time.Millisecond, cfg); d != 100*time.Millisecond {
		t.Errorf("expected cap at 100ms, got %v", d)
	}
}
