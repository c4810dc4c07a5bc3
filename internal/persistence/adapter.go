// Package persistence defines the pluggable storage interface described in
// spec section 4.5 and its local-file and Postgres implementations.
//
// Grounded on the teacher's storage interface split
// (internal/app/storage/interfaces.go, internal/app/storage/memory.go,
// internal/app/storage/postgres): one interface, a thread-safe in-memory
// implementation for tests and embedding, and a durable implementation for
// production (here: atomic local JSON files, or Postgres).
package persistence

import (
	"context"

	"github.com/jasona/mudforge-sub010/internal/domain/permission"
	"github.com/jasona/mudforge-sub010/internal/domain/player"
	"github.com/jasona/mudforge-sub010/internal/domain/worldsnapshot"
)

// Adapter is the pluggable persistence interface. Loading a record that
// does not exist returns (nil, nil). LocalFile also returns (nil, nil), or
// the .bak copy, for a file that fails to decode. Other load failures (a
// failed read, a database error) are returned as a non-nil error, not
// turned into (nil, nil). Save failures return a non-nil error; callers
// treat that as recoverable.
type Adapter interface {
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error

	SavePlayer(ctx context.Context, rec player.SaveRecord) error
	LoadPlayer(ctx context.Context, name string) (*player.SaveRecord, error)
	PlayerExists(ctx context.Context, name string) (bool, error)
	ListPlayers(ctx context.Context) ([]string, error)
	DeletePlayer(ctx context.Context, name string) error

	SaveWorldState(ctx context.Context, snap worldsnapshot.Snapshot) error
	LoadWorldState(ctx context.Context) (*worldsnapshot.Snapshot, error)

	SavePermissions(ctx context.Context, table *permission.Table) error
	LoadPermissions(ctx context.Context) (*permission.Table, error)

	SaveData(ctx context.Context, ns, key string, value any) error
	LoadData(ctx context.Context, ns, key string) (any, error)
	DataExists(ctx context.Context, ns, key string) (bool, error)
	DeleteData(ctx context.Context, ns, key string) error
	ListKeys(ctx context.Context, ns string) ([]string, error)
}
