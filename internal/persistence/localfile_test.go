package persistence

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jasona/mudforge-sub010/internal/domain/player"
	"github.com/jasona/mudforge-sub010/internal/domain/worldsnapshot"
)

func TestLocalFileSavePlayerRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewLocalFile(t.TempDir())
	if err := l.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	rec := player.SaveRecord{
		Name:          "Bob",
		LocationPath:  "/domain/rooms/square",
		BlueprintPath: "/domain/players/human",
		Properties:    map[string]any{"hp": float64(40)},
	}
	if err := l.SavePlayer(ctx, rec); err != nil {
		t.Fatalf("SavePlayer: %v", err)
	}

	got, err := l.LoadPlayer(ctx, "bob")
	if err != nil {
		t.Fatalf("LoadPlayer: %v", err)
	}
	if got == nil || got.LocationPath != rec.LocationPath {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestLocalFileLoadPlayerMissingReturnsNilNil(t *testing.T) {
	l := NewLocalFile(t.TempDir())
	rec, err := l.LoadPlayer(context.Background(), "nobody")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", rec, err)
	}
}

// TestLocalFileCorruptSaveFallsBackToBackup exercises spec section 4.5's
// atomic-save guarantee: a save always leaves either the new state or the
// previous good state on disk, and a caller never sees a parse error.
func TestLocalFileCorruptSaveFallsBackToBackup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := NewLocalFile(dir)
	_ = l.Initialize(ctx)

	good := player.SaveRecord{Name: "bob", LocationPath: "/domain/rooms/square"}
	if err := l.SavePlayer(ctx, good); err != nil {
		t.Fatalf("SavePlayer: %v", err)
	}

	// Save again so a .bak of the first good save exists.
	good.LocationPath = "/domain/rooms/gate"
	if err := l.SavePlayer(ctx, good); err != nil {
		t.Fatalf("SavePlayer (2nd): %v", err)
	}

	// Now simulate a torn write: truncate the live file to garbage bytes.
	path := l.playerPath("bob")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("corrupt live file: %v", err)
	}

	rec, err := l.LoadPlayer(ctx, "bob")
	if err != nil {
		t.Fatalf("LoadPlayer must never error on corrupt data, got %v", err)
	}
	if rec == nil {
		t.Fatal("expected fallback to .bak contents, got nil")
	}
	if rec.LocationPath != "/domain/rooms/square" {
		t.Errorf("expected backup's location, got %q", rec.LocationPath)
	}
}

func TestLocalFileCorruptSaveNoBackupReturnsNilNil(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l := NewLocalFile(dir)
	_ = l.Initialize(ctx)

	if err := os.MkdirAll(l.playersDir(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := l.playerPath("ghost")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	rec, err := l.LoadPlayer(ctx, "ghost")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record with no backup to fall back to, got %+v", rec)
	}
}

func TestLocalFileDeletePlayerRemovesFileAndBackup(t *testing.T) {
	ctx := context.Background()
	l := NewLocalFile(t.TempDir())
	_ = l.Initialize(ctx)

	_ = l.SavePlayer(ctx, player.SaveRecord{Name: "temp"})
	_ = l.SavePlayer(ctx, player.SaveRecord{Name: "temp", LocationPath: "/x"})

	if err := l.DeletePlayer(ctx, "TEMP"); err != nil {
		t.Fatalf("DeletePlayer: %v", err)
	}
	exists, _ := l.PlayerExists(ctx, "temp")
	if exists {
		t.Error("expected player file removed")
	}
	if _, err := os.Stat(l.playerPath("temp") + ".bak"); !os.IsNotExist(err) {
		t.Error("expected backup file removed alongside the live file")
	}
}

func TestLocalFileListPlayers(t *testing.T) {
	ctx := context.Background()
	l := NewLocalFile(t.TempDir())
	_ = l.Initialize(ctx)

	_ = l.SavePlayer(ctx, player.SaveRecord{Name: "zed"})
	_ = l.SavePlayer(ctx, player.SaveRecord{Name: "anna"})

	names, err := l.ListPlayers(ctx)
	if err != nil {
		t.Fatalf("ListPlayers: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 players, got %v", names)
	}
}

func TestLocalFileListPlayersEmptyDirReturnsNilNotError(t *testing.T) {
	l := NewLocalFile(t.TempDir())
	names, err := l.ListPlayers(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no players, got %v", names)
	}
}

func TestLocalFileWorldStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewLocalFile(t.TempDir())
	_ = l.Initialize(ctx)

	snap := worldsnapshot.Snapshot{Version: 2, Objects: []worldsnapshot.ObjectRecord{{Path: "/domain/rooms/gate"}}}
	if err := l.SaveWorldState(ctx, snap); err != nil {
		t.Fatalf("SaveWorldState: %v", err)
	}

	got, err := l.LoadWorldState(ctx)
	if err != nil || got == nil || len(got.Objects) != 1 {
		t.Fatalf("unexpected snapshot: %+v, err=%v", got, err)
	}
}

func TestLocalFileGenericDataSanitizesPathTraversal(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	l := NewLocalFile(root)
	_ = l.Initialize(ctx)

	if err := l.SaveData(ctx, "../../escape", "../../also-escape", "payload"); err != nil {
		t.Fatalf("SaveData: %v", err)
	}

	// The write must land inside root, never above it.
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error { return err })
	if err != nil {
		t.Fatalf("walk root: %v", err)
	}
	p := l.dataPath("../../escape", "../../also-escape")
	if rel, err := filepath.Rel(root, p); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		t.Fatalf("expected the data file under root, got %s", p)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("expected the data file at %s: %v", p, err)
	}

	v, err := l.LoadData(ctx, "../../escape", "../../also-escape")
	if err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if v != "payload" {
		t.Fatalf("expected payload, got %v", v)
	}
}
