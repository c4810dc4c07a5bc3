package logger

import "testing"

func TestNewDefaultsToInfoLevel(t *testing.T) {
	l := New(Config{})
	if l.GetLevel().String() != "info" {
		t.Fatalf("expected info level, got %s", l.GetLevel())
	}
}

func TestNewHonoursLevel(t *testing.T) {
	l := New(Config{Level: "debug"})
	if l.GetLevel().String() != "debug" {
		t.Fatalf("expected debug level, got %s", l.GetLevel())
	}
}

func TestNewDefaultTagsComponent(t *testing.T) {
	l := NewDefault("scheduler")
	entry := l.WithField("k", "v")
	if entry.Data["component"] != "scheduler" {
		t.Fatalf("expected component field to be set, got %#v", entry.Data)
	}
}
