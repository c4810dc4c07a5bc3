package connection

import (
	"context"
	"encoding/json"

	"github.com/jasona/mudforge-sub010/internal/domain/object"
	"github.com/jasona/mudforge-sub010/pkg/logger"
)

// sessionDriver holds the transport-independent half of one connection's
// life: the greeting, the authenticating-state dialog, and in-game command
// dispatch. Both the websocket Service and the raw-TCP Service embed one,
// so the two transports feed the exact same session pipeline per spec
// section 6.1 rather than each re-implementing it.
type sessionDriver struct {
	mgr   *Manager
	disp  *Dispatcher
	login LoginHandler
	log   *logger.Logger
}

// greet sends the login banner and moves conn into the authenticating
// state, per spec section 4.4's opening -> greeting -> authenticating
// transition.
func (d *sessionDriver) greet(conn *Connection) {
	conn.SetState(StateGreeting)
	if d.login != nil {
		conn.EnqueueText(d.login.Greeting())
	}
	conn.SetState(StateAuthenticating)
}

// handleInbound routes one inbound message: a magic-prefixed payload goes
// to the structured-frame path regardless of connection state; otherwise
// the line is handled per the connection's current state.
func (d *sessionDriver) handleInbound(ctx context.Context, conn *Connection, message []byte) {
	if raw, ok := stripFrameMagic(message); ok {
		d.handleFrame(conn, raw)
		return
	}

	line := string(message)
	switch conn.State() {
	case StateAuthenticating:
		d.handleAuthLine(conn, line)
	case StateInGame:
		if d.disp != nil {
			d.disp.Dispatch(ctx, conn, conn.Player(), line)
		}
	default:
		// greeting/opening/closing: drop inbound lines, client is out of turn.
	}
}

func (d *sessionDriver) handleAuthLine(conn *Connection, line string) {
	if d.login == nil {
		return
	}
	player, outcome, prompt := d.login.HandleLine(conn, line)
	d.applyAuthOutcome(conn, player, outcome, prompt)
}

func (d *sessionDriver) handleFrame(conn *Connection, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		d.log.Warnf("malformed structured frame from %s: %v", conn.ID(), err)
		return
	}
	if conn.State() != StateAuthenticating || d.login == nil {
		return
	}
	payload, _ := f.Payload.(map[string]any)
	player, outcome, prompt := d.login.HandleFrame(conn, f.Tag, payload)
	d.applyAuthOutcome(conn, player, outcome, prompt)
}

func (d *sessionDriver) applyAuthOutcome(conn *Connection, player *object.Object, outcome AuthOutcome, prompt string) {
	switch outcome {
	case AuthSucceeded:
		if player != nil {
			d.mgr.BindPlayer(conn, player)
		}
	case AuthFailed:
		if prompt != "" {
			conn.EnqueueText(prompt)
		}
		conn.SetState(StateClosing)
	default:
		if prompt != "" {
			conn.EnqueueText(prompt)
		}
	}
}

// stripFrameMagic reports whether message carries the structured-frame
// prefix and, if so, returns the JSON payload that follows it.
func stripFrameMagic(message []byte) ([]byte, bool) {
	if len(message) >= len(frameMagic) && string(message[:len(frameMagic)]) == frameMagic {
		return message[len(frameMagic):], true
	}
	return nil, false
}
