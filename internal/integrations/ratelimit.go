// Package integrations implements the external-service efun category from
// spec section 4.2: per-integration rate limiting, response caching, and
// the concrete AI text/image, chat gateway, and HTTP search clients that
// satisfy internal/sandbox.Integration.
package integrations

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitConfig controls one integration's per-minute budget. Grounded on
// infrastructure/ratelimit.RateLimitConfig, narrowed to the one window the
// spec actually asks for ("a per-minute rate limit enforced by the
// bridge").
type RateLimitConfig struct {
	RequestsPerMinute float64
	Burst             int
}

// DefaultRateLimitConfig allows 30 requests per minute with a burst of 5,
// a conservative default for a metered external API.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 30, Burst: 5}
}

// RateLimiter enforces a per-minute token-bucket budget for one
// integration. Grounded on infrastructure/ratelimit.RateLimiter's
// golang.org/x/time/rate wiring, narrowed from that package's dual
// per-second/per-minute buckets to a single per-minute bucket since that is
// the only window spec section 4.2 names.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	config  RateLimitConfig
}

// NewRateLimiter constructs a RateLimiter from cfg, filling sensible
// defaults for zero-valued fields.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 30
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	perSecond := rate.Limit(cfg.RequestsPerMinute / 60)
	return &RateLimiter{
		limiter: rate.NewLimiter(perSecond, cfg.Burst),
		config:  cfg,
	}
}

// Allow reports whether a call may proceed right now, consuming a token if
// so. It never blocks; callers over budget get an immediate efun-level
// rate-limit failure rather than stalling the sandbox.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiter.Allow()
}

// Reset rebuilds the limiter from its original configuration, clearing any
// accumulated burst debt.
func (r *RateLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter = rate.NewLimiter(rate.Limit(r.config.RequestsPerMinute/60), r.config.Burst)
}
