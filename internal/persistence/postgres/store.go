// Package postgres implements the persistence.Adapter interface backed by
// PostgreSQL, for deployments that want a shared, queryable store instead of
// local JSON files.
//
// Grounded on the teacher's internal/app/storage/postgres package: plain
// database/sql with the lib/pq driver and JSONB columns for flexible
// properties. Saves are single INSERT ... ON CONFLICT ... DO UPDATE
// upserts rather than the teacher's CreateX/UpdateX split.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/jasona/mudforge-sub010/internal/domain/permission"
	"github.com/jasona/mudforge-sub010/internal/domain/player"
	"github.com/jasona/mudforge-sub010/internal/domain/worldsnapshot"
	"github.com/jasona/mudforge-sub010/internal/persistence"
)

// Store implements persistence.Adapter against a PostgreSQL database.
type Store struct {
	db *sql.DB
}

var _ persistence.Adapter = (*Store)(nil)

// New creates a Store using the provided database handle. The caller owns
// the handle's lifecycle; Shutdown does not close it.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open is a convenience constructor that opens a lib/pq connection to dsn
// and wraps it in a Store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence/postgres: open: %w", err)
	}
	return New(db), nil
}

const schema = `
CREATE TABLE IF NOT EXISTS mud_players (
	name TEXT PRIMARY KEY,
	location_path TEXT NOT NULL DEFAULT '',
	blueprint_path TEXT NOT NULL DEFAULT '',
	properties JSONB NOT NULL DEFAULT '{}',
	saved_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS mud_world_state (
	id INTEGER PRIMARY KEY DEFAULT 1,
	version INTEGER NOT NULL,
	object_manifest JSONB NOT NULL,
	saved_at TIMESTAMPTZ NOT NULL,
	CHECK (id = 1)
);

CREATE TABLE IF NOT EXISTS mud_permissions (
	id INTEGER PRIMARY KEY DEFAULT 1,
	levels JSONB NOT NULL,
	writable_prefixes JSONB NOT NULL,
	CHECK (id = 1)
);

CREATE TABLE IF NOT EXISTS mud_data (
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	value JSONB NOT NULL,
	PRIMARY KEY (namespace, key)
);
`

// Initialize creates the adapter's tables if they do not already exist.
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("persistence/postgres: migrate schema: %w", err)
	}
	return nil
}

func (s *Store) Shutdown(ctx context.Context) error { return nil }

func (s *Store) SavePlayer(ctx context.Context, rec player.SaveRecord) error {
	propsJSON, err := json.Marshal(rec.Properties)
	if err != nil {
		return fmt.Errorf("persistence/postgres: marshal player properties: %w", err)
	}
	rec.SavedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mud_players (name, location_path, blueprint_path, properties, saved_at)
		VALUES (lower($1), $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE
		SET location_path = $2, blueprint_path = $3, properties = $4, saved_at = $5
	`, rec.Name, rec.LocationPath, rec.BlueprintPath, propsJSON, rec.SavedAt)
	if err != nil {
		return fmt.Errorf("persistence/postgres: save player %q: %w", rec.Name, err)
	}
	return nil
}

// LoadPlayer returns (nil, nil) when the player has no saved record and
// wraps genuine connectivity errors, matching the adapter's soft-failure
// contract for missing-but-not-broken state.
func (s *Store) LoadPlayer(ctx context.Context, name string) (*player.SaveRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, location_path, blueprint_path, properties, saved_at
		FROM mud_players WHERE name = lower($1)
	`, name)

	var (
		rec       player.SaveRecord
		propsJSON []byte
	)
	if err := row.Scan(&rec.Name, &rec.LocationPath, &rec.BlueprintPath, &propsJSON, &rec.SavedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence/postgres: load player %q: %w", name, err)
	}
	if len(propsJSON) > 0 {
		_ = json.Unmarshal(propsJSON, &rec.Properties)
	}
	return &rec, nil
}

func (s *Store) PlayerExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM mud_players WHERE name = lower($1))`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("persistence/postgres: check player %q: %w", name, err)
	}
	return exists, nil
}

func (s *Store) ListPlayers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM mud_players ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("persistence/postgres: list players: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("persistence/postgres: scan player name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) DeletePlayer(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mud_players WHERE name = lower($1)`, name); err != nil {
		return fmt.Errorf("persistence/postgres: delete player %q: %w", name, err)
	}
	return nil
}

func (s *Store) SaveWorldState(ctx context.Context, snap worldsnapshot.Snapshot) error {
	objJSON, err := json.Marshal(snap.Objects)
	if err != nil {
		return fmt.Errorf("persistence/postgres: marshal world state: %w", err)
	}
	snap.Timestamp = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mud_world_state (id, version, object_manifest, saved_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET version = $1, object_manifest = $2, saved_at = $3
	`, snap.Version, objJSON, snap.Timestamp)
	if err != nil {
		return fmt.Errorf("persistence/postgres: save world state: %w", err)
	}
	return nil
}

func (s *Store) LoadWorldState(ctx context.Context) (*worldsnapshot.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT version, object_manifest, saved_at FROM mud_world_state WHERE id = 1`)

	var (
		snap    worldsnapshot.Snapshot
		objJSON []byte
	)
	if err := row.Scan(&snap.Version, &objJSON, &snap.Timestamp); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence/postgres: load world state: %w", err)
	}
	if len(objJSON) > 0 {
		_ = json.Unmarshal(objJSON, &snap.Objects)
	}
	return &snap, nil
}

func (s *Store) SavePermissions(ctx context.Context, table *permission.Table) error {
	if table == nil {
		table = permission.NewTable()
	}
	levelsJSON, err := json.Marshal(table.Levels)
	if err != nil {
		return fmt.Errorf("persistence/postgres: marshal permission levels: %w", err)
	}
	prefixesJSON, err := json.Marshal(table.WritablePrefixes)
	if err != nil {
		return fmt.Errorf("persistence/postgres: marshal writable prefixes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mud_permissions (id, levels, writable_prefixes)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET levels = $1, writable_prefixes = $2
	`, levelsJSON, prefixesJSON)
	if err != nil {
		return fmt.Errorf("persistence/postgres: save permissions: %w", err)
	}
	return nil
}

func (s *Store) LoadPermissions(ctx context.Context) (*permission.Table, error) {
	row := s.db.QueryRowContext(ctx, `SELECT levels, writable_prefixes FROM mud_permissions WHERE id = 1`)

	var levelsJSON, prefixesJSON []byte
	if err := row.Scan(&levelsJSON, &prefixesJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence/postgres: load permissions: %w", err)
	}

	table := permission.NewTable()
	_ = json.Unmarshal(levelsJSON, &table.Levels)
	_ = json.Unmarshal(prefixesJSON, &table.WritablePrefixes)
	return table, nil
}

func (s *Store) SaveData(ctx context.Context, ns, key string, value any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("persistence/postgres: marshal data %s/%s: %w", ns, key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mud_data (namespace, key, value)
		VALUES (lower($1), lower($2), $3)
		ON CONFLICT (namespace, key) DO UPDATE SET value = $3
	`, ns, key, valueJSON)
	if err != nil {
		return fmt.Errorf("persistence/postgres: save data %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *Store) LoadData(ctx context.Context, ns, key string) (any, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM mud_data WHERE namespace = lower($1) AND key = lower($2)`, ns, key)

	var valueJSON []byte
	if err := row.Scan(&valueJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence/postgres: load data %s/%s: %w", ns, key, err)
	}

	var value any
	if err := json.Unmarshal(valueJSON, &value); err != nil {
		return nil, nil
	}
	return value, nil
}

func (s *Store) DataExists(ctx context.Context, ns, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM mud_data WHERE namespace = lower($1) AND key = lower($2))`, ns, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("persistence/postgres: check data %s/%s: %w", ns, key, err)
	}
	return exists, nil
}

func (s *Store) DeleteData(ctx context.Context, ns, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mud_data WHERE namespace = lower($1) AND key = lower($2)`, ns, key)
	if err != nil {
		return fmt.Errorf("persistence/postgres: delete data %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *Store) ListKeys(ctx context.Context, ns string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM mud_data WHERE namespace = lower($1) ORDER BY key`, ns)
	if err != nil {
		return nil, fmt.Errorf("persistence/postgres: list keys %s: %w", ns, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("persistence/postgres: scan key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}
