package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWait_NilLimiterAlwaysPasses(t *testing.T) {
	var l *Limiter
	if err := l.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter must not block: %v", err)
	}
	if !l.Allow() {
		t.Error("nil limiter must allow")
	}
}

func TestAllow_ExhaustsBurst(t *testing.T) {
	l := New(Config{RequestsPerSecond: 1, Burst: 2})
	if !l.Allow() || !l.Allow() {
		t.Fatal("burst should allow 2 calls")
	}
	if l.Allow() {
		t.Error("third immediate call should be rejected")
	}
}

func TestWait_RespectsContext(t *testing.T) {
	l := New(Config{RequestsPerSecond: 0.1, Burst: 1})
	_ = l.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Error("expected context deadline while waiting for a token")
	}
}
