package connection

import (
	"context"
	"testing"
	"time"

	"github.com/jasona/mudforge-sub010/internal/domain/object"
	"github.com/jasona/mudforge-sub010/internal/domain/permission"
	"github.com/jasona/mudforge-sub010/internal/registry"
	"github.com/jasona/mudforge-sub010/internal/sandbox"
)

func newTestDispatcher(t *testing.T, commands *CommandTable) (*Dispatcher, *registry.Registry, *permission.Store) {
	t.Helper()
	reg := registry.New()
	perms := permission.NewStore()
	bridge := sandbox.New(sandbox.Options{
		Registry:  reg,
		PoolSize:  2,
		MemoryMiB: 16,
		Timeout:   time.Second,
	})
	return NewDispatcher(reg, bridge, perms, commands, nil), reg, perms
}

func TestDispatchInvokesObjectAction(t *testing.T) {
	disp, _, _ := newTestDispatcher(t, nil)
	player := object.New("/players/alice", object.KindClone)
	player.AddAction("look", "true", 0)

	conn := NewConnection("c1", "addr", 4)
	disp.Dispatch(context.Background(), conn, player, "look")

	select {
	case msg := <-conn.Outbound():
		t.Fatalf("expected no fallback message for a handled action, got %q", msg)
	default:
	}
}

func TestDispatchFallsThroughDecliningActionToEnvironment(t *testing.T) {
	disp, _, _ := newTestDispatcher(t, nil)
	room := object.New("/rooms/square", object.KindClone)
	player := object.New("/players/alice", object.KindClone)
	player.SetEnvironment(room)
	room.AppendInventory(player)
	room.AddAction("wave", "true", 0)
	player.AddAction("wave", "false", 0)

	conn := NewConnection("c1", "addr", 4)
	disp.Dispatch(context.Background(), conn, player, "wave")

	select {
	case msg := <-conn.Outbound():
		t.Fatalf("expected the room's handler to consume the line, got %q", msg)
	default:
	}
}

func TestDispatchNotUnderstoodWhenNoCandidateMatches(t *testing.T) {
	disp, _, _ := newTestDispatcher(t, nil)
	player := object.New("/players/alice", object.KindClone)
	conn := NewConnection("c1", "addr", 4)

	disp.Dispatch(context.Background(), conn, player, "xyzzy")

	msg := <-conn.Outbound()
	if string(msg) != "What?" {
		t.Fatalf("expected a not-understood prompt, got %q", msg)
	}
}

func TestDispatchGlobalCommandRequiresLevel(t *testing.T) {
	commands := NewCommandTable()
	commands.Register(Command{Verb: "shutdown", MinLevel: permission.LevelAdmin, Source: "true"})

	disp, _, perms := newTestDispatcher(t, commands)
	player := object.New("/players/alice", object.KindClone)
	player.SetProperty("name", "alice")
	conn := NewConnection("c1", "addr", 4)

	disp.Dispatch(context.Background(), conn, player, "shutdown")
	msg := <-conn.Outbound()
	if string(msg) != "What?" {
		t.Fatalf("expected shutdown to be unavailable below admin level, got %q", msg)
	}

	if err := perms.SetLevel("alice", permission.LevelAdmin); err != nil {
		t.Fatalf("SetLevel: %v", err)
	}
	disp.Dispatch(context.Background(), conn, player, "shutdown")
	select {
	case leftover := <-conn.Outbound():
		t.Fatalf("expected shutdown to be handled once granted admin, got %q", leftover)
	default:
	}
}

func TestDispatchIgnoresEmptyLine(t *testing.T) {
	disp, _, _ := newTestDispatcher(t, nil)
	player := object.New("/players/alice", object.KindClone)
	conn := NewConnection("c1", "addr", 4)

	disp.Dispatch(context.Background(), conn, player, "   ")
	select {
	case msg := <-conn.Outbound():
		t.Fatalf("expected no output for an empty line, got %q", msg)
	default:
	}
}

func TestDispatchAliasExpansion(t *testing.T) {
	disp, _, _ := newTestDispatcher(t, nil)
	player := object.New("/players/alice", object.KindClone)
	player.AddAction("north", "true", 0)

	conn := NewConnection("c1", "addr", 4)
	conn.SetAlias("n", "north")

	disp.Dispatch(context.Background(), conn, player, "n")
	select {
	case msg := <-conn.Outbound():
		t.Fatalf("expected alias-expanded verb to be handled, got %q", msg)
	default:
	}
}

func TestCommandTableCandidatesOrderedBySpecificity(t *testing.T) {
	table := NewCommandTable()
	table.Register(Command{Verb: "dig", MinLevel: permission.LevelPlayer, Source: "false"})
	table.Register(Command{Verb: "dig", MinLevel: permission.LevelBuilder, Source: "true"})

	cands := table.Candidates("dig", permission.LevelBuilder)
	if len(cands) != 2 {
		t.Fatalf("expected both candidates eligible at builder level, got %d", len(cands))
	}
	if cands[0].MinLevel != permission.LevelBuilder {
		t.Fatalf("expected the more specific (higher level) candidate first")
	}

	cands = table.Candidates("dig", permission.LevelPlayer)
	if len(cands) != 1 {
		t.Fatalf("expected only the player-level candidate eligible, got %d", len(cands))
	}
}
