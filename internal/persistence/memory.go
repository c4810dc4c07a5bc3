package persistence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jasona/mudforge-sub010/internal/domain/permission"
	"github.com/jasona/mudforge-sub010/internal/domain/player"
	"github.com/jasona/mudforge-sub010/internal/domain/worldsnapshot"
)

// Memory is a thread-safe in-memory Adapter implementation, intended for
// tests and prototyping. Grounded on internal/app/storage/memory.go.
type Memory struct {
	mu          sync.RWMutex
	players     map[string]player.SaveRecord
	world       *worldsnapshot.Snapshot
	permissions *permission.Table
	data        map[string]map[string]any
}

var _ Adapter = (*Memory)(nil)

// NewMemory returns an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{
		players: make(map[string]player.SaveRecord),
		data:    make(map[string]map[string]any),
	}
}

func (m *Memory) Initialize(ctx context.Context) error { return nil }
func (m *Memory) Shutdown(ctx context.Context) error   { return nil }

func (m *Memory) SavePlayer(ctx context.Context, rec player.SaveRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.SavedAt = time.Now().UTC()
	m.players[normalizeName(rec.Name)] = rec
	return nil
}

func (m *Memory) LoadPlayer(ctx context.Context, name string) (*player.SaveRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.players[normalizeName(name)]
	if !ok {
		return nil, nil
	}
	clone := rec
	clone.Properties = copyAnyMap(rec.Properties)
	return &clone, nil
}

func (m *Memory) PlayerExists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.players[normalizeName(name)]
	return ok, nil
}

func (m *Memory) ListPlayers(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.players))
	for name := range m.players {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) DeletePlayer(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.players, normalizeName(name))
	return nil
}

func (m *Memory) SaveWorldState(ctx context.Context, snap worldsnapshot.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.Timestamp = time.Now().UTC()
	cp := snap
	m.world = &cp
	return nil
}

func (m *Memory) LoadWorldState(ctx context.Context) (*worldsnapshot.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.world == nil {
		return nil, nil
	}
	cp := *m.world
	return &cp, nil
}

func (m *Memory) SavePermissions(ctx context.Context, table *permission.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if table == nil {
		m.permissions = nil
		return nil
	}
	m.permissions = table.Clone()
	return nil
}

func (m *Memory) LoadPermissions(ctx context.Context) (*permission.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.permissions == nil {
		return nil, nil
	}
	return m.permissions.Clone(), nil
}

func (m *Memory) SaveData(ctx context.Context, ns, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, key = sanitizeNamespace(ns), sanitizeKey(key)
	bucket, ok := m.data[ns]
	if !ok {
		bucket = make(map[string]any)
		m.data[ns] = bucket
	}
	bucket[key] = value
	return nil
}

func (m *Memory) LoadData(ctx context.Context, ns, key string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, key = sanitizeNamespace(ns), sanitizeKey(key)
	bucket, ok := m.data[ns]
	if !ok {
		return nil, nil
	}
	v, ok := bucket[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (m *Memory) DataExists(ctx context.Context, ns, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, key = sanitizeNamespace(ns), sanitizeKey(key)
	bucket, ok := m.data[ns]
	if !ok {
		return false, nil
	}
	_, ok = bucket[key]
	return ok, nil
}

func (m *Memory) DeleteData(ctx context.Context, ns, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, key = sanitizeNamespace(ns), sanitizeKey(key)
	if bucket, ok := m.data[ns]; ok {
		delete(bucket, key)
	}
	return nil
}

func (m *Memory) ListKeys(ctx context.Context, ns string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns = sanitizeNamespace(ns)
	bucket, ok := m.data[ns]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(bucket))
	for k := range bucket {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// sanitizeNamespace and sanitizeKey strip path separators and traversal
// components so generic K/V keys can never escape their logical bucket, in
// keeping with the local file adapter's name-sanitization contract (spec
// section 4.5). The in-memory adapter applies the same rule so its
// behaviour matches the durable adapter byte for byte.
func sanitizeNamespace(ns string) string {
	return sanitizeSegment(ns)
}

func sanitizeKey(key string) string {
	return sanitizeSegment(key)
}

func sanitizeSegment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "..", "_")
	if s == "" {
		s = "_"
	}
	return s
}

func copyAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
