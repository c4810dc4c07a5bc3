// Package connection implements the connection manager and session dispatch
// pipeline from spec section 4.4: it accepts sockets, keeps per-connection
// state, routes inbound lines into the command pipeline, and fans outbound
// text and structured frames back out.
package connection

import (
	"fmt"
	"sync"
	"time"

	"github.com/jasona/mudforge-sub010/internal/domain/object"
)

// State is one stage of the connection state machine from spec section 4.4.
type State int

const (
	StateOpening State = iota
	StateGreeting
	StateAuthenticating
	StateInGame
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateGreeting:
		return "greeting"
	case StateAuthenticating:
		return "authenticating"
	case StateInGame:
		return "in-game"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// defaultOutboundQueue is the bound on each connection's outbound queue
// before new sends are dropped rather than blocking the writer, per spec
// section 4.4's "the connection is not forcibly closed" policy.
const defaultOutboundQueue = 64

// frameMagic prefixes a structured GUI frame so it is distinguishable from
// plain text on the wire, per spec section 4.2's "opaque to the core — a
// bytestream carrying a magic prefix" messaging contract.
const frameMagic = "\x02GMCP\x02"

// Frame is one structured GUI message: an opaque tag plus payload the core
// never interprets, only transports.
type Frame struct {
	Tag     string `json:"tag"`
	Payload any    `json:"payload"`
}

// Connection is one accepted session: its transport-independent state, the
// player it may be bound to, and a bounded outbound queue drained by the
// transport layer. Grounded on the teacher's connection-tracking idiom
// (wingedpig-trellis/internal/api/handlers/terminal.go's conns map plus a
// single-writer mutex), generalized from a fixed terminal-I/O protocol to
// the driver's text-plus-structured-frame session model.
type Connection struct {
	mu sync.Mutex

	id         string
	remoteAddr string
	state      State
	player     *object.Object
	aliases    map[string]string

	outbound chan []byte
	dropped  uint64

	openedAt time.Time
}

// NewConnection constructs a connection in the opening state with a bounded
// outbound queue of queueSize (defaultOutboundQueue if queueSize <= 0).
func NewConnection(id, remoteAddr string, queueSize int) *Connection {
	if queueSize <= 0 {
		queueSize = defaultOutboundQueue
	}
	return &Connection{
		id:         id,
		remoteAddr: remoteAddr,
		state:      StateOpening,
		aliases:    make(map[string]string),
		outbound:   make(chan []byte, queueSize),
		openedAt:   time.Now(),
	}
}

// ID returns the connection's stable identifier.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the transport-reported remote address.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState sets the connection's state to s. The transition is not
// validated: any state may be set from any other.
func (c *Connection) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Player returns the bound player object, or nil if not yet bound.
func (c *Connection) Player() *object.Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player
}

// BindPlayer binds player to this connection and transitions to in-game.
func (c *Connection) BindPlayer(player *object.Object) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.player = player
	c.state = StateInGame
	player.SetProperty("connected", true)
}

// UnbindPlayer clears the connection-to-player binding and flips the
// player's connected predicate false, per spec section 4.4's disconnect
// contract. The player object itself is left untouched otherwise; whether
// it lingers in-game or moves to a disconnect location is game policy.
func (c *Connection) UnbindPlayer() *object.Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	player := c.player
	c.player = nil
	if player != nil {
		player.SetProperty("connected", false)
	}
	return player
}

// SetAlias registers an alias token substitution for this connection's
// dispatch pipeline.
func (c *Connection) SetAlias(token, expansion string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[token] = expansion
}

// ExpandAlias returns the registered expansion for token, if any.
func (c *Connection) ExpandAlias(token string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.aliases[token]
	return e, ok
}

// EnqueueText queues a plain text line for the transport writer. If the
// outbound queue is full the line is dropped and the drop count bumped;
// the connection is never forcibly closed for backpressure, per spec
// section 4.4.
func (c *Connection) EnqueueText(line string) bool {
	return c.enqueue([]byte(line))
}

// EnqueueFrame queues a structured GUI frame, magic-prefixed and JSON
// encoded, via the same bounded outbound path as plain text.
func (c *Connection) EnqueueFrame(encoded []byte) bool {
	buf := make([]byte, 0, len(frameMagic)+len(encoded))
	buf = append(buf, frameMagic...)
	buf = append(buf, encoded...)
	return c.enqueue(buf)
}

func (c *Connection) enqueue(b []byte) bool {
	select {
	case c.outbound <- b:
		return true
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		return false
	}
}

// Outbound returns the channel the transport layer drains to write bytes
// to the socket.
func (c *Connection) Outbound() <-chan []byte { return c.outbound }

// Dropped reports how many outbound sends have been dropped for being full.
func (c *Connection) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
