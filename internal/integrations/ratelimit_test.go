package integrations

import "testing"

func TestRateLimiterAllowsUpToBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, Burst: 3})
	allowed := 0
	for i := 0; i < 5; i++ {
		if rl.Allow() {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("expected exactly burst (3) calls to succeed immediately, got %d", allowed)
	}
}

func TestRateLimiterResetRestoresBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60, Burst: 1})
	if !rl.Allow() {
		t.Fatalf("expected first call to succeed")
	}
	if rl.Allow() {
		t.Fatalf("expected second call to be denied before reset")
	}
	rl.Reset()
	if !rl.Allow() {
		t.Fatalf("expected a call to succeed immediately after reset")
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute <= 0 || cfg.Burst <= 0 {
		t.Fatalf("expected positive defaults, got %+v", cfg)
	}
}
