package main

import (
	"testing"

	"github.com/jasona/mudforge-sub010/internal/connection"
)

func TestGuestLoginPromptsUntilNameGiven(t *testing.T) {
	g := &guestLogin{}
	conn := connection.NewConnection("c1", "addr", 4)

	player, outcome, prompt := g.HandleLine(conn, "   ")
	if player != nil || outcome != connection.AuthPending || prompt == "" {
		t.Fatalf("expected a reprompt for a blank line, got %v %v %q", player, outcome, prompt)
	}

	player, outcome, _ = g.HandleLine(conn, "wanderer")
	if player == nil || outcome != connection.AuthSucceeded {
		t.Fatalf("expected a guest player on a non-blank name, got %v %v", player, outcome)
	}
	if got, _ := player.Property("name"); got != "wanderer" {
		t.Fatalf("expected the guest's name property to be set, got %v", got)
	}
}

func TestGuestLoginAssignsDistinctPaths(t *testing.T) {
	g := &guestLogin{}
	conn := connection.NewConnection("c1", "addr", 4)

	first, _, _ := g.HandleLine(conn, "alice")
	second, _, _ := g.HandleLine(conn, "bob")

	if first.Path() == second.Path() {
		t.Fatalf("expected distinct clone paths for successive guests, got %q twice", first.Path())
	}
}
