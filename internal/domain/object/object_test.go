package object

import "testing"

func TestActionsOrderedByPriorityThenRecency(t *testing.T) {
	o := New("/room/test", KindBlueprint)
	o.AddAction("look", "handler_a", 1)
	o.AddAction("look", "handler_b", 1) // replaces handler_a, same verb
	o.AddAction("get", "handler_c", 10)

	actions := o.Actions()
	if len(actions) != 2 {
		t.Fatalf("expected 2 distinct verbs, got %d", len(actions))
	}
	if actions[0].Verb != "get" || actions[0].Priority != 10 {
		t.Fatalf("expected highest priority action first, got %+v", actions[0])
	}
	if actions[1].Handler != "handler_b" {
		t.Fatalf("expected replaced handler to win, got %s", actions[1].Handler)
	}
}

func TestPropertiesAreCopiedNotAliased(t *testing.T) {
	o := New("/obj/test", KindClone)
	o.SetProperty("hp", 10)

	props := o.Properties()
	props["hp"] = 999

	v, _ := o.Property("hp")
	if v != 10 {
		t.Fatalf("expected mutation of returned map to not affect object, got %v", v)
	}
}

func TestIsBlueprintPath(t *testing.T) {
	if !IsBlueprintPath("/std/room") {
		t.Error("expected blueprint path to report true")
	}
	if IsBlueprintPath("/std/room#3") {
		t.Error("expected clone path to report false")
	}
}

func TestMarkDestructedClearsContainment(t *testing.T) {
	env := New("/room/a", KindBlueprint)
	o := New("/obj/a", KindClone)
	o.SetEnvironment(env)
	env.AppendInventory(o)

	o.MarkDestructed()

	if !o.Destructed() {
		t.Fatal("expected object to report destructed")
	}
	if o.Environment() != nil {
		t.Fatal("expected environment to be cleared on destruction")
	}
	if len(o.Inventory()) != 0 {
		t.Fatal("expected inventory to be cleared on destruction")
	}
}
