package server

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// LimitsConfig bounds connection acceptance.
type LimitsConfig struct {
	AcceptRate     float64 // Upgrades per second; 0 disables rate limiting
	AcceptBurst    int
	MaxConnections int64 // Concurrent connections; 0 disables the cap
}

// DefaultLimitsConfig returns sensible defaults.
func DefaultLimitsConfig() LimitsConfig {
	return LimitsConfig{
		AcceptRate:     50,
		AcceptBurst:    100,
		MaxConnections: 1000,
	}
}

// LimitReason describes why a connection was rejected.
type LimitReason string

const (
	LimitReasonRate   LimitReason = "rate_limit"
	LimitReasonGlobal LimitReason = "global_limit"
)

// AcceptLimiter combines a token bucket on new upgrades with a cap on
// concurrent connections.
type AcceptLimiter struct {
	rate    *rate.Limiter
	max     int64
	current atomic.Int64
}

// NewAcceptLimiter creates a limiter from cfg.
func NewAcceptLimiter(cfg LimitsConfig) *AcceptLimiter {
	limit := rate.Limit(cfg.AcceptRate)
	if cfg.AcceptRate <= 0 {
		limit = rate.Inf
	}
	burst := cfg.AcceptBurst
	if burst < 1 {
		burst = 1
	}
	return &AcceptLimiter{
		rate: rate.NewLimiter(limit, burst),
		max:  cfg.MaxConnections,
	}
}

// Acquire takes a connection slot. Returns false and the reason when the
// upgrade rate or the connection cap is exceeded.
func (l *AcceptLimiter) Acquire() (bool, LimitReason) {
	// Check rate limit first (cheapest check)
	if !l.rate.Allow() {
		return false, LimitReasonRate
	}

	if l.max <= 0 {
		l.current.Add(1)
		return true, ""
	}
	for {
		current := l.current.Load()
		if current >= l.max {
			return false, LimitReasonGlobal
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true, ""
		}
	}
}

// Release releases a connection slot.
func (l *AcceptLimiter) Release() {
	l.current.Add(-1)
}

// Current returns the number of held slots.
func (l *AcceptLimiter) Current() int64 {
	return l.current.Load()
}

// Max returns the connection cap (0 when uncapped).
func (l *AcceptLimiter) Max() int64 {
	return l.max
}
