// Package ratelimit bounds the engine's backend call rate
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Config configures the backend-call limiter
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns limits safe for a single workspace's API quota
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 20,
		Burst:             40,
	}
}

// Limiter wraps a token bucket shared by the SDK and SQL paths
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a new Limiter
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether a call may proceed without blocking.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
