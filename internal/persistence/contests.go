package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/talgya/hexturf/internal/contest"
	"github.com/talgya/hexturf/internal/hexgrid"
)

type territoryRow struct {
	ID              string  `db:"id"`
	Name            string  `db:"name"`
	Kind            string  `db:"kind"`
	Lat             float64 `db:"lat"`
	Lng             float64 `db:"lng"`
	RadiusMeters    float64 `db:"radius_m"`
	XPModifier      float64 `db:"xp_modifier"`
	GoldModifier    float64 `db:"gold_modifier"`
	DefenseModifier float64 `db:"defense_modifier"`
}

func (r territoryRow) territory() contest.Territory {
	return contest.Territory{
		ID:              r.ID,
		Name:            r.Name,
		Kind:            contest.Kind(r.Kind),
		Center:          hexgrid.LatLng{Lat: r.Lat, Lng: r.Lng},
		RadiusMeters:    r.RadiusMeters,
		XPModifier:      r.XPModifier,
		GoldModifier:    r.GoldModifier,
		DefenseModifier: r.DefenseModifier,
	}
}

type entryRow struct {
	ID           string `db:"id"`
	TerritoryID  string `db:"territory_id"`
	GuildID      string `db:"guild_id"`
	InitiatedBy  string `db:"initiated_by"`
	Year         int    `db:"year"`
	Week         int    `db:"week"`
	WorkoutCount int64  `db:"workout_count"`
	TotalVolume  int64  `db:"total_volume"`
	XPEarned     int64  `db:"xp_earned"`
	EnteredAt    int64  `db:"entered_at"`
	Resolved     bool   `db:"resolved"`
}

func (r entryRow) entry() contest.Entry {
	return contest.Entry{
		ID:           r.ID,
		TerritoryID:  r.TerritoryID,
		GuildID:      r.GuildID,
		InitiatedBy:  r.InitiatedBy,
		Week:         contest.Week{Year: r.Year, Number: r.Week},
		WorkoutCount: r.WorkoutCount,
		TotalVolume:  r.TotalVolume,
		XPEarned:     r.XPEarned,
		EnteredAt:    fromUnix(r.EnteredAt),
		Resolved:     r.Resolved,
	}
}

const entryColumns = `id, territory_id, guild_id, initiated_by, year, week,
	workout_count, total_volume, xp_earned, entered_at, resolved`

type resolutionRow struct {
	TerritoryID string `db:"territory_id"`
	Year        int    `db:"year"`
	Week        int    `db:"week"`
	Winner      string `db:"winner"`
	Score       int64  `db:"score"`
	Previous    string `db:"previous"`
	Unchanged   bool   `db:"unchanged"`
	Entries     int    `db:"entries"`
	ResolvedAt  int64  `db:"resolved_at"`
}

func (r resolutionRow) resolution() contest.Resolution {
	return contest.Resolution{
		TerritoryID: r.TerritoryID,
		Week:        contest.Week{Year: r.Year, Number: r.Week},
		Winner:      r.Winner,
		Score:       r.Score,
		Previous:    r.Previous,
		Unchanged:   r.Unchanged,
		Entries:     r.Entries,
		ResolvedAt:  fromUnix(r.ResolvedAt),
	}
}

type controlRow struct {
	TerritoryID string `db:"territory_id"`
	GuildID     string `db:"guild_id"`
	Year        int    `db:"year"`
	Week        int    `db:"week"`
	Since       int64  `db:"since"`
}

func (r controlRow) control() contest.Control {
	return contest.Control{
		TerritoryID: r.TerritoryID,
		GuildID:     r.GuildID,
		Week:        contest.Week{Year: r.Year, Number: r.Week},
		Since:       fromUnix(r.Since),
	}
}

// ContestStore is the SQLite contest.Store.
type ContestStore struct {
	db *DB
}

// Contests returns the contest store.
func (db *DB) Contests() *ContestStore {
	return &ContestStore{db: db}
}

// SyncTerritories replaces the stored territories with ts.
func (db *DB) SyncTerritories(ctx context.Context, ts []contest.Territory) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM territories"); err != nil {
		return err
	}
	for _, t := range ts {
		_, err := tx.NamedExecContext(ctx, `INSERT INTO territories
			(id, name, kind, lat, lng, radius_m, xp_modifier, gold_modifier, defense_modifier)
			VALUES (:id, :name, :kind, :lat, :lng, :radius_m, :xp_modifier, :gold_modifier, :defense_modifier)`,
			territoryRow{
				ID:              t.ID,
				Name:            t.Name,
				Kind:            string(t.Kind),
				Lat:             t.Center.Lat,
				Lng:             t.Center.Lng,
				RadiusMeters:    t.RadiusMeters,
				XPModifier:      t.XPModifier,
				GoldModifier:    t.GoldModifier,
				DefenseModifier: t.DefenseModifier,
			})
		if err != nil {
			return fmt.Errorf("insert territory %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("territories synced", "count", len(ts))
	return nil
}

// Territories lists every territory ordered by ID.
func (s *ContestStore) Territories(ctx context.Context) ([]contest.Territory, error) {
	var rows []territoryRow
	if err := s.db.conn.SelectContext(ctx, &rows, "SELECT * FROM territories ORDER BY id"); err != nil {
		return nil, err
	}
	out := make([]contest.Territory, len(rows))
	for i, r := range rows {
		out[i] = r.territory()
	}
	return out, nil
}

// Territory loads one territory.
func (s *ContestStore) Territory(ctx context.Context, id string) (contest.Territory, bool, error) {
	var row territoryRow
	err := s.db.conn.GetContext(ctx, &row, "SELECT * FROM territories WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return contest.Territory{}, false, nil
	}
	if err != nil {
		return contest.Territory{}, false, err
	}
	return row.territory(), true, nil
}

// CreateEntry checks the week is open and the guild not yet entered, debits
// cost from payer and inserts e, in one transaction.
func (s *ContestStore) CreateEntry(ctx context.Context, e contest.Entry, payer string, cost int64) (contest.EnterStatus, error) {
	tx, err := s.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	closed, err := exists(ctx, tx,
		"SELECT COUNT(*) FROM contest_resolutions WHERE territory_id = ? AND year = ? AND week = ?",
		e.TerritoryID, e.Week.Year, e.Week.Number)
	if err != nil {
		return "", err
	}
	if closed {
		return contest.StatusClosed, nil
	}

	entered, err := exists(ctx, tx,
		"SELECT COUNT(*) FROM contest_entries WHERE territory_id = ? AND guild_id = ? AND year = ? AND week = ?",
		e.TerritoryID, e.GuildID, e.Week.Year, e.Week.Number)
	if err != nil {
		return "", err
	}
	if entered {
		return contest.StatusAlreadyContesting, nil
	}

	if cost > 0 {
		ok, err := debit(ctx, tx, payer, cost)
		if err != nil {
			return "", err
		}
		if !ok {
			return contest.StatusInsufficientResource, nil
		}
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO contest_entries
		(id, territory_id, guild_id, initiated_by, year, week, entered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TerritoryID, e.GuildID, e.InitiatedBy, e.Week.Year, e.Week.Number, toUnix(e.EnteredAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return contest.StatusEntered, nil
}

func exists(ctx context.Context, tx *sqlx.Tx, query string, args ...any) (bool, error) {
	var n int
	if err := tx.GetContext(ctx, &n, query, args...); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Entry loads one guild's entry.
func (s *ContestStore) Entry(ctx context.Context, territoryID, guildID string, w contest.Week) (contest.Entry, bool, error) {
	var row entryRow
	err := s.db.conn.GetContext(ctx, &row, "SELECT "+entryColumns+` FROM contest_entries
		WHERE territory_id = ? AND guild_id = ? AND year = ? AND week = ?`,
		territoryID, guildID, w.Year, w.Number)
	if errors.Is(err, sql.ErrNoRows) {
		return contest.Entry{}, false, nil
	}
	if err != nil {
		return contest.Entry{}, false, err
	}
	return row.entry(), true, nil
}

// OldestOpenWeek returns the earliest week that still has an unresolved entry
// for a known territory.
func (s *ContestStore) OldestOpenWeek(ctx context.Context) (contest.Week, bool, error) {
	var w contest.Week
	err := s.db.conn.QueryRowxContext(ctx, `SELECT year, week FROM contest_entries
		WHERE resolved = 0 AND territory_id IN (SELECT id FROM territories)
		ORDER BY year, week
		LIMIT 1`).Scan(&w.Year, &w.Number)
	if errors.Is(err, sql.ErrNoRows) {
		return contest.Week{}, false, nil
	}
	if err != nil {
		return contest.Week{}, false, err
	}
	return w, true, nil
}

// Entries lists a week's entries in entry order.
func (s *ContestStore) Entries(ctx context.Context, territoryID string, w contest.Week) ([]contest.Entry, error) {
	return selectEntries(ctx, s.db.conn, territoryID, w)
}

func selectEntries(ctx context.Context, q sqlx.QueryerContext, territoryID string, w contest.Week) ([]contest.Entry, error) {
	var rows []entryRow
	err := sqlx.SelectContext(ctx, q, &rows, "SELECT "+entryColumns+` FROM contest_entries
		WHERE territory_id = ? AND year = ? AND week = ?
		ORDER BY entered_at, guild_id`,
		territoryID, w.Year, w.Number)
	if err != nil {
		return nil, err
	}
	out := make([]contest.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.entry()
	}
	return out, nil
}

// AddActivity increments an open entry with a single UPDATE. Each counter
// saturates at contest.MaxScore; both operands are below 2^53 so the SQL
// addition cannot overflow.
func (s *ContestStore) AddActivity(ctx context.Context, territoryID, guildID string, w contest.Week, m contest.Metrics) (bool, error) {
	m = m.Clamp()
	res, err := s.db.conn.ExecContext(ctx, `UPDATE contest_entries SET
			workout_count = MIN(workout_count + ?, ?),
			total_volume = MIN(total_volume + ?, ?),
			xp_earned = MIN(xp_earned + ?, ?)
		WHERE territory_id = ? AND guild_id = ? AND year = ? AND week = ? AND resolved = 0`,
		m.Workouts, contest.MaxScore,
		m.Volume, contest.MaxScore,
		m.XP, contest.MaxScore,
		territoryID, guildID, w.Year, w.Number,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Resolve closes a week in one transaction.
func (s *ContestStore) Resolve(ctx context.Context, territoryID string, w contest.Week, at time.Time, pick contest.PickFunc) (contest.Resolution, error) {
	tx, err := s.db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return contest.Resolution{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var done resolutionRow
	err = tx.GetContext(ctx, &done, `SELECT * FROM contest_resolutions
		WHERE territory_id = ? AND year = ? AND week = ?`,
		territoryID, w.Year, w.Number)
	switch {
	case err == nil:
		res := done.resolution()
		res.AlreadyResolved = true
		return res, nil
	case !errors.Is(err, sql.ErrNoRows):
		return contest.Resolution{}, err
	}

	entries, err := selectEntries(ctx, tx, territoryID, w)
	if err != nil {
		return contest.Resolution{}, fmt.Errorf("load entries: %w", err)
	}
	res := contest.Resolution{
		TerritoryID: territoryID,
		Week:        w,
		Entries:     len(entries),
		ResolvedAt:  at,
		Unchanged:   true,
	}

	var prev controlRow
	err = tx.GetContext(ctx, &prev, "SELECT * FROM territory_control WHERE territory_id = ?", territoryID)
	switch {
	case err == nil:
		res.Previous = prev.GuildID
	case !errors.Is(err, sql.ErrNoRows):
		return contest.Resolution{}, err
	}

	if winner, ok := pick(entries); ok {
		res.Winner, res.Score = winner.GuildID, winner.XPEarned
		res.Unchanged = res.Previous == winner.GuildID
		_, err := tx.ExecContext(ctx, `INSERT INTO territory_control (territory_id, guild_id, year, week, since)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (territory_id) DO UPDATE SET
				guild_id = excluded.guild_id, year = excluded.year, week = excluded.week,
				since = CASE WHEN territory_control.guild_id = excluded.guild_id
					THEN territory_control.since ELSE excluded.since END`,
			territoryID, winner.GuildID, w.Year, w.Number, toUnix(at))
		if err != nil {
			return contest.Resolution{}, fmt.Errorf("set controller: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE contest_entries SET resolved = 1
		WHERE territory_id = ? AND year = ? AND week = ?`,
		territoryID, w.Year, w.Number); err != nil {
		return contest.Resolution{}, fmt.Errorf("freeze entries: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO contest_resolutions
		(territory_id, year, week, winner, score, previous, unchanged, entries, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		territoryID, w.Year, w.Number, res.Winner, res.Score, res.Previous,
		boolInt(res.Unchanged), res.Entries, toUnix(at))
	if err != nil {
		return contest.Resolution{}, fmt.Errorf("record resolution: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return contest.Resolution{}, err
	}
	return res, nil
}

// Controller returns the guild controlling territoryID.
func (s *ContestStore) Controller(ctx context.Context, territoryID string) (contest.Control, bool, error) {
	var row controlRow
	err := s.db.conn.GetContext(ctx, &row, "SELECT * FROM territory_control WHERE territory_id = ?", territoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return contest.Control{}, false, nil
	}
	if err != nil {
		return contest.Control{}, false, err
	}
	return row.control(), true, nil
}
