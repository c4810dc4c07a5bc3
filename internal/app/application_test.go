package app

import (
	"context"
	"testing"
	"time"

	"github.com/jasona/mudforge-sub010/internal/connection"
	"github.com/jasona/mudforge-sub010/internal/domain/object"
	"github.com/jasona/mudforge-sub010/internal/domain/permission"
	"github.com/jasona/mudforge-sub010/internal/sandbox"
	"github.com/jasona/mudforge-sub010/pkg/config"
)

type stubLogin struct{}

func (stubLogin) Greeting() string { return "welcome" }

func (stubLogin) HandleLine(conn *connection.Connection, line string) (*object.Object, connection.AuthOutcome, string) {
	return nil, connection.AuthPending, "login: "
}

func (stubLogin) HandleFrame(conn *connection.Connection, tag string, payload map[string]any) (*object.Object, connection.AuthOutcome, string) {
	return nil, connection.AuthPending, ""
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.New()
	cfg.Persistence.Driver = "memory"
	cfg.Server.Port = 0
	return cfg
}

func TestNewRequiresLoginHandler(t *testing.T) {
	if _, err := New(testConfig(t)); err == nil {
		t.Fatalf("expected an error when no login handler is supplied")
	}
}

func TestNewBuildsWiredSubsystems(t *testing.T) {
	appInst, err := New(testConfig(t), WithLoginHandler(stubLogin{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if appInst.Registry == nil || appInst.Bridge == nil || appInst.Scheduler == nil {
		t.Fatalf("expected registry/bridge/scheduler to be constructed")
	}
	if appInst.Connections == nil || appInst.Transport == nil || appInst.Adapter == nil {
		t.Fatalf("expected connection manager/transport/adapter to be constructed")
	}
	if _, ok := appInst.Registry.Find("/limbo"); !ok {
		t.Fatalf("expected a default limbo object to be registered")
	}
}

func TestApplicationStartStopIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	appInst, err := New(cfg, WithLoginHandler(stubLogin{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := appInst.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := appInst.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := appInst.Stop(ctx); err != nil {
		t.Fatalf("expected idempotent Stop, got %v", err)
	}
}

func TestAutoSaveHookPersistsMarkedObjects(t *testing.T) {
	cfg := testConfig(t)
	appInst, err := New(cfg, WithLoginHandler(stubLogin{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	room := object.New("/room/one", object.KindBlueprint)
	room.SetProperty("persistent", true)
	if err := appInst.Registry.Register(room); err != nil {
		t.Fatalf("register room: %v", err)
	}

	hook := autoSaveHook(appInst.Registry, appInst.Connections, appInst.Permissions, appInst.Adapter, appInst.log)
	if err := hook(context.Background()); err != nil {
		t.Fatalf("autoSaveHook: %v", err)
	}

	snap, err := appInst.Adapter.LoadWorldState(context.Background())
	if err != nil {
		t.Fatalf("LoadWorldState: %v", err)
	}
	if snap == nil || len(snap.Objects) != 1 || snap.Objects[0].Path != "/room/one" {
		t.Fatalf("expected the persistent room to be saved, got %+v", snap)
	}
}

func TestNewWithTCPTransportStartsAndStops(t *testing.T) {
	cfg := testConfig(t)
	appInst, err := New(cfg, WithLoginHandler(stubLogin{}), WithTCPTransport("127.0.0.1:0"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if appInst.TCPTransport == nil {
		t.Fatalf("expected TCPTransport to be constructed when WithTCPTransport is supplied")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := appInst.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := appInst.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewWithoutTCPTransportLeavesItNil(t *testing.T) {
	appInst, err := New(testConfig(t), WithLoginHandler(stubLogin{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if appInst.TCPTransport != nil {
		t.Fatalf("expected TCPTransport to stay nil without WithTCPTransport")
	}
}

func TestShutdownEfunReachesShutdownRequests(t *testing.T) {
	appInst, err := New(testConfig(t), WithLoginHandler(stubLogin{}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cc := sandbox.CallContext{Caps: sandbox.CapabilitiesForLevel(permission.LevelAdmin)}
	if _, err := appInst.Bridge.Invoke(context.Background(), cc, `efuns.shutdown(params.reason)`, map[string]any{"reason": "operator request"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	select {
	case reason := <-appInst.ShutdownRequests():
		if reason != "operator request" {
			t.Fatalf("expected the shutdown reason to propagate, got %q", reason)
		}
	default:
		t.Fatalf("expected a shutdown request to be queued")
	}
}

func TestManagerRollsBackOnFailedStart(t *testing.T) {
	m := NewManager()
	var started, stopped []string
	good := fakeService{
		name:    "a",
		onStart: func() error { started = append(started, "a"); return nil },
		onStop:  func() error { stopped = append(stopped, "a"); return nil },
	}
	bad := fakeService{name: "b", onStart: func() error { return errFailStart }}
	_ = m.Register(good)
	_ = m.Register(bad)

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected Start to fail")
	}
	if len(started) != 1 {
		t.Fatalf("expected the first service to have started before rollback")
	}
	if len(stopped) != 1 {
		t.Fatalf("expected the already-started service to be stopped by rollback, got %v", stopped)
	}
}

type fakeService struct {
	name    string
	onStart func() error
	onStop  func() error
}

func (f fakeService) Name() string { return f.name }
func (f fakeService) Start(ctx context.Context) error {
	if f.onStart != nil {
		return f.onStart()
	}
	return nil
}
func (f fakeService) Stop(ctx context.Context) error {
	if f.onStop != nil {
		return f.onStop()
	}
	return nil
}

var errFailStart = context.DeadlineExceeded
