package connection

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jasona/mudforge-sub010/internal/domain/object"
	"github.com/jasona/mudforge-sub010/internal/metrics"
	"github.com/jasona/mudforge-sub010/pkg/logger"
)

// DisconnectHook is notified when a bound player's connection goes away, per
// spec section 4.4's "the bound player (if any) is notified via a hook"
// disconnect contract. It runs after the player's connected predicate has
// already flipped false and the binding has already been cleared.
type DisconnectHook func(player *object.Object, reason string)

// Manager is the process-wide index of live connections keyed by connection
// id, plus a reverse index from bound player path to connection so the
// bridge's messaging efuns can route by player. Grounded on the teacher's
// connection-tracking idiom (wingedpig-trellis terminal.go's conns map under
// a single mutex), generalized to a two-way index and a Sender
// implementation so internal/sandbox can address players without importing
// this package.
type Manager struct {
	mu           sync.RWMutex
	byID         map[string]*Connection
	byPlayer     map[string]*Connection
	onDisconnect DisconnectHook
	log          *logger.Logger
}

// NewManager returns an empty Manager. onDisconnect may be nil.
func NewManager(onDisconnect DisconnectHook, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("connection")
	}
	return &Manager{
		byID:         make(map[string]*Connection),
		byPlayer:     make(map[string]*Connection),
		onDisconnect: onDisconnect,
		log:          log,
	}
}

// Register adds conn to the index. A connection always exists at most once,
// keyed by its connection id, per spec section 4.4.
func (m *Manager) Register(conn *Connection) {
	m.mu.Lock()
	m.byID[conn.ID()] = conn
	m.mu.Unlock()
	m.publishStateMetrics()
}

// Find returns the connection for id, if any.
func (m *Manager) Find(id string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	return c, ok
}

// BindPlayer binds player to conn and updates the reverse index, replacing
// any previous connection bound to the same player path.
func (m *Manager) BindPlayer(conn *Connection, player *object.Object) {
	conn.BindPlayer(player)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPlayer[player.Path()] = conn
}

// ByPlayer returns the connection currently bound to playerPath, if any.
func (m *Manager) ByPlayer(playerPath string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byPlayer[playerPath]
	return c, ok
}

// Disconnect removes conn from the index, notifies onDisconnect with the
// previously-bound player (if any) and reason, and clears the player's
// connected predicate. Idempotent: disconnecting an already-removed
// connection id is a no-op.
func (m *Manager) Disconnect(id string, reason string) {
	m.mu.Lock()
	conn, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byID, id)
	m.mu.Unlock()

	conn.SetState(StateClosing)
	player := conn.UnbindPlayer()
	if player != nil {
		m.mu.Lock()
		if m.byPlayer[player.Path()] == conn {
			delete(m.byPlayer, player.Path())
		}
		m.mu.Unlock()
	}
	conn.SetState(StateClosed)
	m.publishStateMetrics()

	if m.onDisconnect != nil && player != nil {
		m.onDisconnect(player, reason)
	}
}

// publishStateMetrics recomputes the connection-count-by-state gauge from
// every still-tracked connection. Called after any change to byID's
// membership; individual state transitions within a still-registered
// connection (e.g. greeting -> authenticating -> in-game) are cheap enough
// relative to human-speed connection churn that they are not separately
// instrumented here.
func (m *Manager) publishStateMetrics() {
	m.mu.RLock()
	counts := make(map[string]int, 6)
	for _, c := range m.byID {
		counts[c.State().String()]++
	}
	m.mu.RUnlock()
	metrics.SetConnectionsByState(counts)
}

// SendText implements sandbox.Sender: it writes text to the connection
// bound to the player at playerPath, if one exists.
func (m *Manager) SendText(playerPath, text string) error {
	conn, ok := m.ByPlayer(playerPath)
	if !ok {
		return fmt.Errorf("connection: no connection bound to %s", playerPath)
	}
	if !conn.EnqueueText(text) {
		m.log.Warnf("outbound queue full, dropped text for %s", playerPath)
	}
	return nil
}

// Broadcast implements sandbox.Sender: it writes text to every connection
// currently bound to a player, skipping any whose outbound queue is full.
func (m *Manager) Broadcast(text string) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.byPlayer))
	for _, c := range m.byPlayer {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		if !c.EnqueueText(text) {
			m.log.Warnf("outbound queue full, dropped broadcast for connection %s", c.ID())
		}
	}
}

// SendFrame implements sandbox.Sender: it writes a magic-prefixed,
// JSON-encoded structured frame to the connection bound to playerPath.
func (m *Manager) SendFrame(playerPath, tag string, payload any) error {
	conn, ok := m.ByPlayer(playerPath)
	if !ok {
		return fmt.Errorf("connection: no connection bound to %s", playerPath)
	}
	encoded, err := json.Marshal(Frame{Tag: tag, Payload: payload})
	if err != nil {
		return fmt.Errorf("connection: encode frame: %w", err)
	}
	if !conn.EnqueueFrame(encoded) {
		m.log.Warnf("outbound queue full, dropped frame for %s", playerPath)
	}
	return nil
}

// Connected reports how many connections are currently bound to a player.
func (m *Manager) Connected() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byPlayer)
}

// OnlinePlayers returns a snapshot of every player object currently bound to
// a connection, for the application layer's auto-save hook.
func (m *Manager) OnlinePlayers() []*object.Object {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*object.Object, 0, len(m.byPlayer))
	for _, c := range m.byPlayer {
		if p := c.Player(); p != nil {
			out = append(out, p)
		}
	}
	return out
}
