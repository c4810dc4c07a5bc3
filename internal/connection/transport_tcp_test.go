package connection

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/jasona/mudforge-sub010/internal/domain/object"
)

func TestTCPServiceEndToEndAuthAndCommand(t *testing.T) {
	mgr := NewManager(nil, nil)
	disp, _, _ := newTestDispatcher(t, nil)
	player := object.New("/players/alice", object.KindClone)
	player.AddAction("look", "true", 0)

	login := recordingLogin{player: player, outcome: AuthSucceeded}
	svc := NewTCPService(TCPOptions{
		Addr:         "127.0.0.1:0",
		Manager:      mgr,
		Dispatcher:   disp,
		Login:        login,
		OutboundSize: 8,
	})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer svc.Stop(context.Background())

	addr := svc.listener.Addr().String()
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer nc.Close()

	reader := bufio.NewReader(nc)
	nc.SetReadDeadline(time.Now().Add(2 * time.Second))

	banner, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read banner: %v", err)
	}
	if banner != "welcome to the keep\n" {
		t.Fatalf("expected greeting banner, got %q", banner)
	}

	if _, err := nc.Write([]byte("alice\n")); err != nil {
		t.Fatalf("write auth line: %v", err)
	}

	if _, err := nc.Write([]byte("look\n")); err != nil {
		t.Fatalf("write command: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for player to be bound")
		}
		if _, ok := mgr.ByPlayer("/players/alice"); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTCPServiceStopClosesListener(t *testing.T) {
	mgr := NewManager(nil, nil)
	svc := NewTCPService(TCPOptions{
		Addr:         "127.0.0.1:0",
		Manager:      mgr,
		Login:        recordingLogin{outcome: AuthPending},
		OutboundSize: 4,
	})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := svc.listener.Addr().String()

	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if _, err := net.Dial("tcp", addr); err == nil {
		t.Fatalf("expected dial to fail after Stop closed the listener")
	}
}

func TestTCPServiceStopWithoutStartIsNoop(t *testing.T) {
	svc := NewTCPService(TCPOptions{Addr: "127.0.0.1:0"})
	if err := svc.Stop(context.Background()); err != nil {
		t.Fatalf("expected Stop without Start to be a no-op, got %v", err)
	}
}
