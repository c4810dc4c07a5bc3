package connection

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jasona/mudforge-sub010/internal/domain/object"
	"github.com/jasona/mudforge-sub010/internal/domain/permission"
	"github.com/jasona/mudforge-sub010/internal/registry"
	"github.com/jasona/mudforge-sub010/internal/sandbox"
	"github.com/jasona/mudforge-sub010/pkg/logger"
)

// Command is one global command: a verb bound to script source, gated by
// the minimum permission level required to invoke it, per spec section
// 4.4's "global commands loaded from a command directory indexed by verb
// and by the player's permission level."
type Command struct {
	Verb     string
	MinLevel permission.Level
	Source   string
}

// CommandTable indexes registered global commands by verb. Multiple
// commands may share a verb at different minimum levels (e.g. a builder
// override of a player-level verb); Candidates returns every command at or
// below level, most-specific (highest eligible level) first.
type CommandTable struct {
	mu     sync.RWMutex
	byVerb map[string][]Command
}

// NewCommandTable returns an empty command directory.
func NewCommandTable() *CommandTable {
	return &CommandTable{byVerb: make(map[string][]Command)}
}

// Register adds cmd to the directory.
func (t *CommandTable) Register(cmd Command) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byVerb[cmd.Verb] = append(t.byVerb[cmd.Verb], cmd)
}

// Candidates returns the commands registered for verb whose MinLevel is at
// or below level, ordered highest level first.
func (t *CommandTable) Candidates(verb string, level permission.Level) []Command {
	t.mu.RLock()
	defer t.mu.RUnlock()
	all := t.byVerb[verb]
	out := make([]Command, 0, len(all))
	for _, c := range all {
		if c.MinLevel <= level {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MinLevel > out[j].MinLevel })
	return out
}

// Dispatcher implements the inbound dispatch pipeline from spec section
// 4.4: normalize, alias expansion, verb resolution in locale order, a
// permission check, invocation through the bridge with the
// handled/not-handled contract, and fallthrough to a "not understood"
// message when every candidate declines.
type Dispatcher struct {
	registry *registry.Registry
	bridge   *sandbox.Bridge
	perms    *permission.Store
	commands *CommandTable
	log      *logger.Logger
}

// NewDispatcher constructs a Dispatcher. commands may be nil, in which case
// only object-local actions are ever resolved.
func NewDispatcher(reg *registry.Registry, bridge *sandbox.Bridge, perms *permission.Store, commands *CommandTable, log *logger.Logger) *Dispatcher {
	if commands == nil {
		commands = NewCommandTable()
	}
	if log == nil {
		log = logger.NewDefault("connection")
	}
	return &Dispatcher{registry: reg, bridge: bridge, perms: perms, commands: commands, log: log}
}

// candidate is one resolved action or command awaiting invocation.
type candidate struct {
	source     string
	handlerObj *object.Object // nil for a global command with no owning object
	minLevel   permission.Level
}

// Dispatch runs the full pipeline for one inbound line from an in-game
// connection bound to player. Every non-empty line ends in one of two
// outcomes: some candidate handles it, or "What?" is queued on conn as the
// not-understood reply. Empty and whitespace-only lines produce no output.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *Connection, player *object.Object, line string) {
	normalized := strings.TrimRight(line, "\r\n")
	normalized = strings.TrimSpace(normalized)
	if normalized == "" {
		return
	}

	head, rest := splitHead(normalized)
	if expansion, ok := conn.ExpandAlias(head); ok {
		normalized = strings.TrimSpace(expansion + " " + rest)
		head, rest = splitHead(normalized)
	}

	level := permission.LevelPlayer
	if d.perms != nil {
		level = d.perms.Level(principalName(player))
	}

	for _, cand := range d.resolveCandidates(player, head, level) {
		handled := d.invoke(ctx, player, cand, head, rest)
		if handled {
			return
		}
	}

	conn.EnqueueText("What?")
}

// resolveCandidates builds the ordered candidate list for verb, per spec
// section 4.4 step 3: the player's inventory deep-first, the player, the
// player's environment, objects in that environment, then eligible global
// commands.
func (d *Dispatcher) resolveCandidates(player *object.Object, verb string, level permission.Level) []candidate {
	var out []candidate

	appendIfMatches := func(o *object.Object) {
		if o == nil || o.Destructed() {
			return
		}
		if a, ok := o.ActionFor(verb); ok {
			out = append(out, candidate{source: a.Handler, handlerObj: o})
		}
	}

	var walkInventory func(o *object.Object)
	walkInventory = func(o *object.Object) {
		for _, child := range o.Inventory() {
			walkInventory(child)
			appendIfMatches(child)
		}
	}
	if player != nil {
		walkInventory(player)
		appendIfMatches(player)
		env := player.Environment()
		appendIfMatches(env)
		if env != nil {
			for _, sibling := range env.Inventory() {
				appendIfMatches(sibling)
			}
		}
	}

	for _, cmd := range d.commands.Candidates(verb, level) {
		out = append(out, candidate{source: cmd.Source, minLevel: cmd.MinLevel})
	}

	return out
}

// invoke runs one candidate through the bridge and reports whether it
// handled the line. A candidate returning the JS boolean false is
// not-handled, per spec section 4.4's load-bearing contract; any other
// return value (including none) consumes the line.
func (d *Dispatcher) invoke(ctx context.Context, player *object.Object, cand candidate, verb, rest string) bool {
	thisObject := cand.handlerObj
	if thisObject == nil {
		thisObject = player
	}

	cc := sandbox.CallContext{
		ThisObject: thisObject,
		ThisPlayer: player,
		Caps:       sandbox.CapabilitiesForLevel(d.levelOf(player)),
	}

	result, err := d.bridge.Invoke(ctx, cc, cand.source, map[string]any{
		"verb": verb,
		"args": rest,
	})
	if err != nil {
		d.log.Warnf("command dispatch error for verb %q: %v", verb, err)
		return true
	}
	if !result.Success {
		d.log.Warnf("command %q failed: %s", verb, result.Error)
		return true
	}
	if b, ok := result.Value.(bool); ok && !b {
		return false
	}
	return true
}

func (d *Dispatcher) levelOf(player *object.Object) permission.Level {
	if d.perms == nil || player == nil {
		return permission.LevelPlayer
	}
	return d.perms.Level(principalName(player))
}

// principalName returns the permission-table key for player: its "name"
// property if set, falling back to its path.
func principalName(player *object.Object) string {
	if player == nil {
		return ""
	}
	if v, ok := player.Property("name"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return player.Path()
}

// splitHead splits line into its leading verb token and the remainder.
func splitHead(line string) (head, rest string) {
	parts := strings.SplitN(line, " ", 2)
	head = parts[0]
	if len(parts) == 2 {
		rest = strings.TrimSpace(parts[1])
	}
	return head, rest
}
