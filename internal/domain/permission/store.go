package permission

import (
	"fmt"
	"strings"
	"sync"
)

// Store is the process-wide singleton wrapping a Table, per spec section
// 5's "permission table is a singleton; writes are serialized; reads are
// lock-free snapshots acceptable" policy. A single RWMutex serializes
// writes and lets concurrent reads proceed without blocking each other;
// Snapshot hands back a private copy so a caller's view is immune to
// concurrent mutation.
type Store struct {
	mu    sync.RWMutex
	table *Table
}

// NewStore returns a Store seeded with an empty table.
func NewStore() *Store {
	return &Store{table: NewTable()}
}

// Snapshot returns a deep copy of the current table, safe to read or
// mutate without affecting the store.
func (s *Store) Snapshot() *Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Clone()
}

// Replace installs t (cloned) as the store's table, e.g. after loading a
// permissions file at startup.
func (s *Store) Replace(t *Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t == nil {
		t = NewTable()
	}
	s.table = t.Clone()
}

// Level returns name's permission level, defaulting to LevelPlayer for
// unknown principals.
func (s *Store) Level(name string) Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lvl, ok := s.table.Levels[strings.ToLower(name)]
	if !ok {
		return LevelPlayer
	}
	return lvl
}

// SetLevel sets name's permission level. It rejects levels outside
// {0,1,2,3} per spec section 8's invariant on setPermissionLevel.
func (s *Store) SetLevel(name string, level Level) error {
	if !ValidLevel(int(level)) {
		return fmt.Errorf("permission: invalid level %d", int(level))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table.Levels[strings.ToLower(name)] = level
	return nil
}

// CanWrite reports whether name may write under path: admins may always
// write; everyone else needs path to fall under one of their configured
// writable prefixes.
func (s *Store) CanWrite(name, path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name = strings.ToLower(name)
	if s.table.Levels[name] >= LevelAdmin {
		return true
	}
	for _, prefix := range s.table.WritablePrefixes[name] {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// CanRead reports whether name may read path. Reads are unrestricted by
// default; only write access is scoped to configured prefixes, per spec
// section 3's permission model (no read-side restriction is defined there).
func (s *Store) CanRead(name, path string) bool {
	return true
}
