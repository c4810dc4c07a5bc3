package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jasona/mudforge-sub010/internal/domain/permission"
	"github.com/jasona/mudforge-sub010/internal/domain/player"
	"github.com/jasona/mudforge-sub010/internal/domain/worldsnapshot"
)

// LocalFile is a durable Adapter backed by one JSON file per record under a
// data root, written with a tmp-file-plus-rename sequence so a crash mid
// write can never leave a half-written file in place (spec section 4.5).
// The previous file contents are preserved alongside as a .bak before the
// rename, so a load can fall back to the last good save if, for some
// external reason, the live file turns out to be corrupt.
//
// Grounded on the teacher pack's tmp+rename save helper
// (wingedpig-trellis/internal/cases/store.go's saveCase), generalized to
// the adapter's five record families.
type LocalFile struct {
	root string

	// mu serializes writes to any one path's tmp+bak+rename sequence so
	// concurrent saves to the same record never interleave.
	mu sync.Mutex
}

var _ Adapter = (*LocalFile)(nil)

// NewLocalFile returns an adapter rooted at dataDir. The directory and its
// subdirectories are created lazily, on first write.
func NewLocalFile(dataDir string) *LocalFile {
	return &LocalFile{root: dataDir}
}

func (l *LocalFile) Initialize(ctx context.Context) error {
	return os.MkdirAll(l.root, 0o755)
}

func (l *LocalFile) Shutdown(ctx context.Context) error { return nil }

func (l *LocalFile) playersDir() string { return filepath.Join(l.root, "players") }

func (l *LocalFile) playerPath(name string) string {
	return filepath.Join(l.playersDir(), sanitizeSegment(name)+".json")
}

func (l *LocalFile) worldStatePath() string { return filepath.Join(l.root, "world-state.json") }

func (l *LocalFile) permissionsPath() string { return filepath.Join(l.root, "permissions.json") }

func (l *LocalFile) dataPath(ns, key string) string {
	return filepath.Join(l.root, sanitizeSegment(ns), sanitizeSegment(key)+".json")
}

func (l *LocalFile) SavePlayer(ctx context.Context, rec player.SaveRecord) error {
	rec.Name = strings.TrimSpace(rec.Name)
	return l.writeJSON(l.playerPath(rec.Name), rec)
}

// LoadPlayer returns (nil, nil) for a missing or corrupt file per the
// adapter's soft-failure contract; only I/O errors unrelated to the file's
// absence or validity are surfaced.
func (l *LocalFile) LoadPlayer(ctx context.Context, name string) (*player.SaveRecord, error) {
	var rec player.SaveRecord
	ok, err := l.readJSONWithFallback(l.playerPath(name), &rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (l *LocalFile) PlayerExists(ctx context.Context, name string) (bool, error) {
	return fileExists(l.playerPath(name)), nil
}

func (l *LocalFile) ListPlayers(ctx context.Context) ([]string, error) {
	return listJSONBasenames(l.playersDir())
}

func (l *LocalFile) DeletePlayer(ctx context.Context, name string) error {
	return removeQuietly(l.playerPath(name))
}

func (l *LocalFile) SaveWorldState(ctx context.Context, snap worldsnapshot.Snapshot) error {
	return l.writeJSON(l.worldStatePath(), snap)
}

func (l *LocalFile) LoadWorldState(ctx context.Context) (*worldsnapshot.Snapshot, error) {
	var snap worldsnapshot.Snapshot
	ok, err := l.readJSONWithFallback(l.worldStatePath(), &snap)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (l *LocalFile) SavePermissions(ctx context.Context, table *permission.Table) error {
	return l.writeJSON(l.permissionsPath(), table)
}

func (l *LocalFile) LoadPermissions(ctx context.Context) (*permission.Table, error) {
	table := permission.NewTable()
	ok, err := l.readJSONWithFallback(l.permissionsPath(), table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return table, nil
}

func (l *LocalFile) SaveData(ctx context.Context, ns, key string, value any) error {
	return l.writeJSON(l.dataPath(ns, key), value)
}

func (l *LocalFile) LoadData(ctx context.Context, ns, key string) (any, error) {
	var value any
	ok, err := l.readJSONWithFallback(l.dataPath(ns, key), &value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return value, nil
}

func (l *LocalFile) DataExists(ctx context.Context, ns, key string) (bool, error) {
	return fileExists(l.dataPath(ns, key)), nil
}

func (l *LocalFile) DeleteData(ctx context.Context, ns, key string) error {
	return removeQuietly(l.dataPath(ns, key))
}

func (l *LocalFile) ListKeys(ctx context.Context, ns string) ([]string, error) {
	return listJSONBasenames(filepath.Join(l.root, sanitizeSegment(ns)))
}

// writeJSON marshals v and writes it to path via tmp+rename, first copying
// any existing file at path to path+".bak" so a load can recover the last
// good state if the new write is somehow found to be unreadable later.
func (l *LocalFile) writeJSON(path string, v any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("persistence: create directory %s: %w", dir, err)
	}

	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o644)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("persistence: write tmp file %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persistence: rename %s into place: %w", path, err)
	}

	return nil
}

// readJSONWithFallback loads path into v. If path is missing it reports
// (false, nil). If path exists but fails to parse, it tries path+".bak"
// before giving up and reporting (false, nil) — a corrupt save file is
// never surfaced to the caller as an error, per spec section 4.5.
func (l *LocalFile) readJSONWithFallback(path string, v any) (bool, error) {
	if data, err := os.ReadFile(path); err == nil {
		if json.Unmarshal(data, v) == nil {
			return true, nil
		}
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("persistence: read %s: %w", path, err)
	}

	if data, err := os.ReadFile(path + ".bak"); err == nil {
		if json.Unmarshal(data, v) == nil {
			return true, nil
		}
	}

	return false, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func removeQuietly(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persistence: remove %s: %w", path, err)
	}
	_ = os.Remove(path + ".bak")
	return nil
}

func listJSONBasenames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: list %s: %w", dir, err)
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".json"))
	}
	return out, nil
}
