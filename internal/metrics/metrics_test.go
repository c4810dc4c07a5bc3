package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlerExposesRegisteredCollectors(t *testing.T) {
	RecordSandboxInvocation("success", 0.01)
	RecordHeartbeatTick()
	RecordCallout("success")
	SetConnectionsByState(map[string]int{"in_game": 2, "closed": 1})
	RecordPersistenceOp("save_player", "ok", 0.002)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"muddriver_sandbox_invocations_total",
		"muddriver_scheduler_heartbeats_total",
		"muddriver_scheduler_callouts_total",
		"muddriver_connection_sessions",
		"muddriver_persistence_operation_duration_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}
