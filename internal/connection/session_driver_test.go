package connection

import (
	"context"
	"testing"

	"github.com/jasona/mudforge-sub010/internal/domain/object"
)

type recordingLogin struct {
	player  *object.Object
	outcome AuthOutcome
	prompt  string
}

func (l recordingLogin) Greeting() string { return "welcome to the keep" }

func (l recordingLogin) HandleLine(conn *Connection, line string) (*object.Object, AuthOutcome, string) {
	return l.player, l.outcome, l.prompt
}

func (l recordingLogin) HandleFrame(conn *Connection, tag string, payload map[string]any) (*object.Object, AuthOutcome, string) {
	return l.player, l.outcome, l.prompt
}

func TestSessionDriverGreetSendsBannerAndMovesToAuthenticating(t *testing.T) {
	mgr := NewManager(nil, nil)
	d := sessionDriver{mgr: mgr, login: recordingLogin{outcome: AuthPending}}
	conn := NewConnection("c1", "addr", 4)

	d.greet(conn)

	if conn.State() != StateAuthenticating {
		t.Fatalf("expected authenticating state after greet, got %v", conn.State())
	}
	msg := <-conn.Outbound()
	if string(msg) != "welcome to the keep" {
		t.Fatalf("expected greeting banner, got %q", msg)
	}
}

func TestSessionDriverHandleAuthLineBindsPlayerOnSuccess(t *testing.T) {
	mgr := NewManager(nil, nil)
	player := object.New("/players/alice", object.KindClone)
	d := sessionDriver{mgr: mgr, login: recordingLogin{player: player, outcome: AuthSucceeded}}
	conn := NewConnection("c1", "addr", 4)
	conn.SetState(StateAuthenticating)

	d.handleInbound(context.Background(), conn, []byte("alice"))

	if conn.Player() != player {
		t.Fatalf("expected the connection to be bound to the resolved player")
	}
	if got, ok := mgr.ByPlayer("/players/alice"); !ok || got != conn {
		t.Fatalf("expected manager to index the bound player")
	}
}

func TestSessionDriverHandleAuthLineClosesOnFailure(t *testing.T) {
	mgr := NewManager(nil, nil)
	d := sessionDriver{mgr: mgr, login: recordingLogin{outcome: AuthFailed, prompt: "bad password"}}
	conn := NewConnection("c1", "addr", 4)
	conn.SetState(StateAuthenticating)

	d.handleInbound(context.Background(), conn, []byte("wrong"))

	if conn.State() != StateClosing {
		t.Fatalf("expected closing state after failed auth, got %v", conn.State())
	}
	msg := <-conn.Outbound()
	if string(msg) != "bad password" {
		t.Fatalf("expected the failure prompt to be sent, got %q", msg)
	}
}

func TestSessionDriverHandleAuthLineRepromptsWhenPending(t *testing.T) {
	mgr := NewManager(nil, nil)
	d := sessionDriver{mgr: mgr, login: recordingLogin{outcome: AuthPending, prompt: "password: "}}
	conn := NewConnection("c1", "addr", 4)
	conn.SetState(StateAuthenticating)

	d.handleInbound(context.Background(), conn, []byte("alice"))

	if conn.State() != StateAuthenticating {
		t.Fatalf("expected to remain authenticating while pending, got %v", conn.State())
	}
	msg := <-conn.Outbound()
	if string(msg) != "password: " {
		t.Fatalf("expected the next prompt to be sent, got %q", msg)
	}
}

func TestSessionDriverHandleInboundDispatchesInGameLine(t *testing.T) {
	disp, _, _ := newTestDispatcher(t, nil)
	mgr := NewManager(nil, nil)
	d := sessionDriver{mgr: mgr, disp: disp}

	player := object.New("/players/alice", object.KindClone)
	conn := NewConnection("c1", "addr", 4)
	conn.SetState(StateInGame)
	conn.BindPlayer(player)

	d.handleInbound(context.Background(), conn, []byte("xyzzy"))

	msg := <-conn.Outbound()
	if string(msg) != "What?" {
		t.Fatalf("expected the dispatcher's not-understood prompt, got %q", msg)
	}
}

func TestSessionDriverHandleInboundDropsLineOutsideAuthOrGame(t *testing.T) {
	mgr := NewManager(nil, nil)
	d := sessionDriver{mgr: mgr, login: recordingLogin{outcome: AuthPending}}
	conn := NewConnection("c1", "addr", 4)
	conn.SetState(StateGreeting)

	d.handleInbound(context.Background(), conn, []byte("hello"))

	select {
	case msg := <-conn.Outbound():
		t.Fatalf("expected no reply while out of turn, got %q", msg)
	default:
	}
}

func TestSessionDriverHandleFrameRoutesStructuredAuth(t *testing.T) {
	mgr := NewManager(nil, nil)
	player := object.New("/players/bob", object.KindClone)
	d := sessionDriver{mgr: mgr, login: recordingLogin{player: player, outcome: AuthSucceeded}}
	conn := NewConnection("c1", "addr", 4)
	conn.SetState(StateAuthenticating)

	frame := append([]byte(frameMagic), []byte(`{"tag":"credentials","payload":{"user":"bob"}}`)...)
	d.handleInbound(context.Background(), conn, frame)

	if conn.Player() != player {
		t.Fatalf("expected the structured auth frame to bind the player")
	}
}

func TestStripFrameMagic(t *testing.T) {
	if _, ok := stripFrameMagic([]byte("look")); ok {
		t.Fatalf("expected plain text to not carry the frame magic")
	}
	raw, ok := stripFrameMagic(append([]byte(frameMagic), []byte(`{"ok":true}`)...))
	if !ok || string(raw) != `{"ok":true}` {
		t.Fatalf("expected the magic prefix to be stripped, got %q, %v", raw, ok)
	}
}
