package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/talgya/hexturf/internal/hexgrid"
	"github.com/talgya/hexturf/internal/ledger"
)

type tileRow struct {
	TileID           string `db:"tile_id"`
	OwnerID          string `db:"owner_id"`
	OwnerType        string `db:"owner_type"`
	GuildID          string `db:"guild_id"`
	Strength         int    `db:"strength"`
	ClaimedAt        int64  `db:"claimed_at"`
	LastReinforcedAt int64  `db:"last_reinforced_at"`
	Version          int64  `db:"version"`
}

func (r tileRow) ownership() ledger.Ownership {
	return ledger.Ownership{
		Tile:             hexgrid.TileID(r.TileID),
		Owner:            ledger.Owner{ID: r.OwnerID, Type: ledger.OwnerType(r.OwnerType)},
		GuildID:          r.GuildID,
		Strength:         r.Strength,
		ClaimedAt:        fromUnix(r.ClaimedAt),
		LastReinforcedAt: fromUnix(r.LastReinforcedAt),
		Version:          r.Version,
	}
}

const tileColumns = `tile_id, owner_id, owner_type, guild_id, strength,
	claimed_at, last_reinforced_at, version`

// TileStore is the SQLite ledger.Store. Writes are compare-and-set on the
// row version and append to ownership_events in the same transaction.
type TileStore struct {
	db *DB
}

// Tiles returns the ownership store.
func (db *DB) Tiles() *TileStore {
	return &TileStore{db: db}
}

// Get loads the ownership row for tile.
func (s *TileStore) Get(ctx context.Context, tile hexgrid.TileID) (ledger.Ownership, bool, error) {
	var row tileRow
	err := s.db.conn.GetContext(ctx, &row,
		"SELECT "+tileColumns+" FROM tile_ownership WHERE tile_id = ?", string(tile))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Ownership{}, false, nil
	}
	if err != nil {
		return ledger.Ownership{}, false, err
	}
	return row.ownership(), true, nil
}

// Insert creates the row for an unowned tile at version 1.
func (s *TileStore) Insert(ctx context.Context, o ledger.Ownership, reason ledger.Outcome) error {
	return s.write(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO tile_ownership (`+tileColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)
			ON CONFLICT (tile_id) DO NOTHING`,
			string(o.Tile), o.Owner.ID, string(o.Owner.Type), o.GuildID, o.Strength,
			toUnix(o.ClaimedAt), toUnix(o.LastReinforcedAt),
		)
		if err != nil {
			return err
		}
		if err := affected(res); err != nil {
			return err
		}
		return logOwnership(ctx, tx, o, reason, 1, o.LastReinforcedAt)
	})
}

// Update replaces the row if its version is still expected.
func (s *TileStore) Update(ctx context.Context, o ledger.Ownership, expected int64, reason ledger.Outcome) error {
	return s.write(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE tile_ownership SET
				owner_id = ?, owner_type = ?, guild_id = ?, strength = ?,
				claimed_at = ?, last_reinforced_at = ?, version = version + 1
			WHERE tile_id = ? AND version = ?`,
			o.Owner.ID, string(o.Owner.Type), o.GuildID, o.Strength,
			toUnix(o.ClaimedAt), toUnix(o.LastReinforcedAt),
			string(o.Tile), expected,
		)
		if err != nil {
			return err
		}
		if err := affected(res); err != nil {
			return err
		}
		at := o.LastReinforcedAt
		if reason == ledger.OutcomeDecayed {
			at = time.Now()
		}
		return logOwnership(ctx, tx, o, reason, expected+1, at)
	})
}

// Delete removes the row if its version is still expected. The tile is
// unowned afterwards; its history stays in ownership_events.
func (s *TileStore) Delete(ctx context.Context, tile hexgrid.TileID, expected int64, reason ledger.Outcome) error {
	return s.write(ctx, func(tx *sqlx.Tx) error {
		var row tileRow
		err := tx.GetContext(ctx, &row,
			"SELECT "+tileColumns+" FROM tile_ownership WHERE tile_id = ? AND version = ?",
			string(tile), expected)
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.ErrConflict
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM tile_ownership WHERE tile_id = ?", string(tile)); err != nil {
			return err
		}
		o := row.ownership()
		o.Strength = 0
		return logOwnership(ctx, tx, o, reason, expected, time.Now())
	})
}

func (s *TileStore) write(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrConflict
	}
	return nil
}

func logOwnership(ctx context.Context, tx *sqlx.Tx, o ledger.Ownership, reason ledger.Outcome, version int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ownership_events
		(id, tile_id, owner_id, owner_type, strength, reason, version, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), string(o.Tile), o.Owner.ID, string(o.Owner.Type),
		o.Strength, string(reason), version, toUnix(at),
	)
	if err != nil {
		return fmt.Errorf("log ownership %s: %w", o.Tile, err)
	}
	return nil
}

// ListByOwner returns every row held by ownerID, decayed or not.
func (s *TileStore) ListByOwner(ctx context.Context, ownerID string) ([]ledger.Ownership, error) {
	var rows []tileRow
	err := s.db.conn.SelectContext(ctx, &rows,
		"SELECT "+tileColumns+" FROM tile_ownership WHERE owner_id = ? ORDER BY tile_id", ownerID)
	if err != nil {
		return nil, err
	}
	return ownerships(rows), nil
}

// Stale pages through rows last reinforced before cutoff.
func (s *TileStore) Stale(ctx context.Context, cutoff time.Time, after hexgrid.TileID, limit int) ([]ledger.Ownership, error) {
	var rows []tileRow
	err := s.db.conn.SelectContext(ctx, &rows,
		"SELECT "+tileColumns+` FROM tile_ownership
		WHERE last_reinforced_at < ? AND tile_id > ?
		ORDER BY tile_id LIMIT ?`,
		toUnix(cutoff), string(after), limit)
	if err != nil {
		return nil, err
	}
	return ownerships(rows), nil
}

func ownerships(rows []tileRow) []ledger.Ownership {
	out := make([]ledger.Ownership, len(rows))
	for i, r := range rows {
		out[i] = r.ownership()
	}
	return out
}

// OwnershipEvent is one entry of a tile's history.
type OwnershipEvent struct {
	ID        string         `json:"id" db:"id"`
	Tile      hexgrid.TileID `json:"tile" db:"tile_id"`
	OwnerID   string         `json:"owner_id" db:"owner_id"`
	OwnerType string         `json:"owner_type" db:"owner_type"`
	Strength  int            `json:"strength" db:"strength"`
	Reason    string         `json:"reason" db:"reason"`
	Version   int64          `json:"version" db:"version"`
	AtNanos   int64          `json:"-" db:"at"`
	At        time.Time      `json:"at" db:"-"`
}

// History returns the most recent ownership changes of tile, newest first.
func (s *TileStore) History(ctx context.Context, tile hexgrid.TileID, limit int) ([]OwnershipEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var evs []OwnershipEvent
	err := s.db.conn.SelectContext(ctx, &evs, `SELECT id, tile_id, owner_id, owner_type,
		strength, reason, version, at
		FROM ownership_events WHERE tile_id = ?
		ORDER BY at DESC, version DESC LIMIT ?`,
		string(tile), limit)
	if err != nil {
		return nil, err
	}
	for i := range evs {
		evs[i].At = fromUnix(evs[i].AtNanos)
	}
	return evs, nil
}
