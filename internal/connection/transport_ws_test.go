package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jasona/mudforge-sub010/internal/audit"
)

func newTestWSService(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	if opts.Manager == nil {
		opts.Manager = NewManager(nil, nil)
	}
	svc := NewService(opts)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { svc.Stop(context.Background()) })
	return svc
}

func TestAdminStatusDisabledWithoutTokens(t *testing.T) {
	svc := newTestWSService(t, Options{})
	// Exercise the handler directly: wrapWithAuth must reject regardless of
	// transport plumbing, so there is no need to resolve the ephemeral port.
	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	rec := httptest.NewRecorder()
	svc.wrapWithAuth(svc.handleStatus)(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no admin tokens configured, got %d", rec.Code)
	}
}

func TestAdminStatusRejectsMissingOrWrongToken(t *testing.T) {
	svc := newTestWSService(t, Options{AdminTokens: []string{"s3cret"}})

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	rec := httptest.NewRecorder()
	svc.wrapWithAuth(svc.handleStatus)(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with no Authorization header, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("expected WWW-Authenticate: Bearer, got %q", rec.Header().Get("WWW-Authenticate"))
	}

	req2 := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req2.Header.Set("Authorization", "Bearer wrong-token")
	rec2 := httptest.NewRecorder()
	svc.wrapWithAuth(svc.handleStatus)(rec2, req2)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec2.Code)
	}
}

func TestAdminStatusAcceptsConfiguredToken(t *testing.T) {
	mgr := NewManager(nil, nil)
	svc := newTestWSService(t, Options{Manager: mgr, AdminTokens: []string{"s3cret"}})

	req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	svc.wrapWithAuth(svc.handleStatus)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, ok := body["connected_players"]; !ok {
		t.Fatalf("expected connected_players field, got %v", body)
	}
}

func TestAdminAuditReturnsRecordedEntries(t *testing.T) {
	log := audit.New(10, nil, nil)
	log.Add(audit.Entry{Actor: "alice", Action: "setPermissionLevel", Target: "bob"})

	svc := newTestWSService(t, Options{AdminTokens: []string{"s3cret"}, Audit: log})

	req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	svc.wrapWithAuth(svc.handleAudit)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Entries []audit.Entry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Entries) != 1 || body.Entries[0].Action != "setPermissionLevel" {
		t.Fatalf("expected one recorded entry, got %+v", body.Entries)
	}
}
