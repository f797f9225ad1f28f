// Package persistence stores tile ownership, contests and wallets in SQLite.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schemaVersion = "1"

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
//
// The pool holds a single connection, so every transaction runs alone.
// That is what makes an entry's debit-and-insert and a week's resolution
// atomic with respect to concurrent requests.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}
	if err := db.pragmas(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pragmas: %w", err)
	}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("database ready", "path", path, "schema", schemaVersion)
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) pragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tile_ownership (
		tile_id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		owner_type TEXT NOT NULL,
		guild_id TEXT NOT NULL DEFAULT '',
		strength INTEGER NOT NULL,
		claimed_at INTEGER NOT NULL,
		last_reinforced_at INTEGER NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ownership_events (
		id TEXT PRIMARY KEY,
		tile_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		owner_type TEXT NOT NULL,
		strength INTEGER NOT NULL,
		reason TEXT NOT NULL,
		version INTEGER NOT NULL,
		at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS territories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		lat REAL NOT NULL,
		lng REAL NOT NULL,
		radius_m REAL NOT NULL,
		xp_modifier REAL NOT NULL,
		gold_modifier REAL NOT NULL,
		defense_modifier REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contest_entries (
		id TEXT PRIMARY KEY,
		territory_id TEXT NOT NULL,
		guild_id TEXT NOT NULL,
		initiated_by TEXT NOT NULL,
		year INTEGER NOT NULL,
		week INTEGER NOT NULL,
		workout_count INTEGER NOT NULL DEFAULT 0,
		total_volume INTEGER NOT NULL DEFAULT 0,
		xp_earned INTEGER NOT NULL DEFAULT 0,
		entered_at INTEGER NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		UNIQUE (territory_id, guild_id, year, week)
	);

	CREATE TABLE IF NOT EXISTS contest_resolutions (
		territory_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		week INTEGER NOT NULL,
		winner TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL DEFAULT 0,
		previous TEXT NOT NULL DEFAULT '',
		unchanged INTEGER NOT NULL,
		entries INTEGER NOT NULL,
		resolved_at INTEGER NOT NULL,
		PRIMARY KEY (territory_id, year, week)
	);

	CREATE TABLE IF NOT EXISTS territory_control (
		territory_id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		week INTEGER NOT NULL,
		since INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS wallets (
		owner_id TEXT PRIMARY KEY,
		balance INTEGER NOT NULL CHECK (balance >= 0)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ownership_owner ON tile_ownership(owner_id);
	CREATE INDEX IF NOT EXISTS idx_ownership_reinforced ON tile_ownership(last_reinforced_at);
	CREATE INDEX IF NOT EXISTS idx_events_tile ON ownership_events(tile_id, at);
	CREATE INDEX IF NOT EXISTS idx_entries_week ON contest_entries(territory_id, year, week);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO meta (key, value) VALUES ('schema_version', ?)",
		schemaVersion,
	)
	return err
}

// SaveMeta stores a key-value pair.
func (db *DB) SaveMeta(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. A missing key yields "" and no error.
func (db *DB) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := db.conn.GetContext(ctx, &value, "SELECT value FROM meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// Stats is a snapshot of table sizes for the status endpoint.
type Stats struct {
	OwnedTiles     int `json:"owned_tiles" db:"owned_tiles"`
	OwnershipLog   int `json:"ownership_events" db:"ownership_events"`
	Territories    int `json:"territories" db:"territories"`
	OpenEntries    int `json:"open_entries" db:"open_entries"`
	ControlledArea int `json:"controlled_territories" db:"controlled_territories"`
}

// Stats counts rows in the main tables.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := db.conn.GetContext(ctx, &s, `SELECT
		(SELECT COUNT(*) FROM tile_ownership) AS owned_tiles,
		(SELECT COUNT(*) FROM ownership_events) AS ownership_events,
		(SELECT COUNT(*) FROM territories) AS territories,
		(SELECT COUNT(*) FROM contest_entries WHERE resolved = 0) AS open_entries,
		(SELECT COUNT(*) FROM territory_control) AS controlled_territories`)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return s, nil
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
