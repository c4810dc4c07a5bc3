package config

import (
	"strings"
	"testing"
)

func TestNewDefaultsPassValidation(t *testing.T) {
	cfg := New()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestValidateRejectsBelowMinimums(t *testing.T) {
	cfg := New()
	cfg.Sandbox.MemoryMiB = 8
	cfg.Sandbox.TimeoutMs = 10
	cfg.Scheduler.HeartbeatIntervalMs = 1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"memoryMiB", "timeoutMs", "heartbeatIntervalMs"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected error to mention %q, got %q", want, msg)
		}
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := New()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected port validation error")
	}
}

func TestAdminConfigTokenList(t *testing.T) {
	cfg := AdminConfig{Tokens: " alpha, beta ,,gamma"}
	got := cfg.TokenList()
	want := []string{"alpha", "beta", "gamma"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i, w := range want {
		if got[i] != w {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestAdminConfigTokenListEmpty(t *testing.T) {
	cfg := AdminConfig{}
	if got := cfg.TokenList(); got != nil {
		t.Fatalf("expected nil token list for empty Tokens, got %v", got)
	}
}
