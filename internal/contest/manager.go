// Package contest runs the weekly guild competition over named territories:
// entry with a cost, accrual of member activity, leaderboards, and resolution
// of each week into territory control.
package contest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/hexturf/internal/events"
	"github.com/talgya/hexturf/internal/hexgrid"
)

// Payer selects whose resource pool funds an entry.
type Payer string

const (
	PayerUser  Payer = "user"
	PayerGuild Payer = "guild"
)

// Config tunes the contest rules.
type Config struct {
	EntryCost     int64  `yaml:"entry_cost"`
	Payer         Payer  `yaml:"entry_payer"`
	DefaultMetric Metric `yaml:"default_metric"`
	XPPerTile     int64  `yaml:"xp_per_tile"`
}

// DefaultConfig returns the stock contest rules.
func DefaultConfig() Config {
	return Config{
		EntryCost:     100,
		Payer:         PayerUser,
		DefaultMetric: MetricScore,
		XPPerTile:     10,
	}
}

// Manager coordinates contests. It holds no contest state of its own; every
// decision reads and writes through the Store.
type Manager struct {
	store Store
	idx   hexgrid.Index
	pub   events.Publisher
	cfg   Config
	now   func() time.Time
}

// NewManager creates a Manager. pub may be nil.
func NewManager(store Store, idx hexgrid.Index, pub events.Publisher, cfg Config) *Manager {
	if _, ok := ParseMetric(string(cfg.DefaultMetric)); !ok {
		cfg.DefaultMetric = MetricScore
	}
	if cfg.Payer != PayerGuild {
		cfg.Payer = PayerUser
	}
	return &Manager{store: store, idx: idx, pub: pub, cfg: cfg, now: time.Now}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Config returns the manager's rules.
func (m *Manager) Config() Config {
	return m.cfg
}

// CurrentWeek returns the contest week at the manager's clock.
func (m *Manager) CurrentWeek() Week {
	return WeekOf(m.now())
}

// EnterResult reports an entry attempt.
type EnterResult struct {
	Status EnterStatus `json:"status"`
	Entry  *Entry      `json:"entry,omitempty"`
	Cost   int64       `json:"cost"`
	Payer  string      `json:"payer,omitempty"`
}

// Enter stakes guildID in territoryID for the current week, paying the entry
// cost. A guild can enter each territory once per week.
func (m *Manager) Enter(ctx context.Context, territoryID, guildID, userID string) (EnterResult, error) {
	if strings.TrimSpace(guildID) == "" || strings.TrimSpace(userID) == "" {
		return EnterResult{}, ErrInvalidEntry
	}
	if _, ok, err := m.store.Territory(ctx, territoryID); err != nil {
		return EnterResult{}, fmt.Errorf("load territory %s: %w", territoryID, err)
	} else if !ok {
		return EnterResult{Status: StatusUnknownTerritory}, nil
	}

	payer := userID
	if m.cfg.Payer == PayerGuild {
		payer = guildID
	}
	now := m.now().UTC()
	e := Entry{
		ID:          uuid.NewString(),
		TerritoryID: territoryID,
		GuildID:     guildID,
		InitiatedBy: userID,
		Week:        WeekOf(now),
		EnteredAt:   now,
	}

	status, err := m.store.CreateEntry(ctx, e, payer, m.cfg.EntryCost)
	if err != nil {
		return EnterResult{}, fmt.Errorf("create entry: %w", err)
	}
	res := EnterResult{Status: status, Cost: m.cfg.EntryCost, Payer: payer}
	if status != StatusEntered {
		slog.Info("contest entry refused", "territory", territoryID, "guild", guildID, "status", status)
		return res, nil
	}

	res.Entry = &e
	slog.Info("guild entered contest", "territory", territoryID, "guild", guildID, "week", e.Week, "payer", payer)
	events.Emit(ctx, m.pub, events.New(events.KindContestEntered, now, e))
	return res, nil
}

// RecordActivity adds a contribution to guildID's current-week entry in
// territoryID. It reports false, without error, when the guild is not contesting.
func (m *Manager) RecordActivity(ctx context.Context, guildID, territoryID string, metrics Metrics) (bool, error) {
	if err := metrics.Validate(); err != nil {
		return false, err
	}
	ok, err := m.store.AddActivity(ctx, territoryID, guildID, m.CurrentWeek(), metrics.Clamp())
	if err != nil {
		return false, fmt.Errorf("record activity: %w", err)
	}
	return ok, nil
}

// Leaderboard ranks the current week's entries for territoryID. An empty
// metric uses the configured default.
func (m *Manager) Leaderboard(ctx context.Context, territoryID string, metric Metric) ([]Standing, error) {
	return m.LeaderboardFor(ctx, territoryID, m.CurrentWeek(), metric)
}

// LeaderboardFor ranks the entries of an explicit week.
func (m *Manager) LeaderboardFor(ctx context.Context, territoryID string, w Week, metric Metric) ([]Standing, error) {
	if metric == "" {
		metric = m.cfg.DefaultMetric
	}
	if _, ok := ParseMetric(string(metric)); !ok {
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	entries, err := m.store.Entries(ctx, territoryID, w)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	return Rank(entries, metric), nil
}

// ResolveWeek closes the current week for territoryID.
func (m *Manager) ResolveWeek(ctx context.Context, territoryID string) (Resolution, error) {
	return m.ResolvePeriod(ctx, territoryID, m.CurrentWeek())
}

// ResolvePeriod closes week w for territoryID. The top-scoring entry takes or
// keeps control; with no entries the controller is unchanged. Entries are
// frozen afterwards and resolving the same week again returns the stored result.
func (m *Manager) ResolvePeriod(ctx context.Context, territoryID string, w Week) (Resolution, error) {
	if _, ok, err := m.store.Territory(ctx, territoryID); err != nil {
		return Resolution{}, fmt.Errorf("load territory %s: %w", territoryID, err)
	} else if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownTerritory, territoryID)
	}

	now := m.now().UTC()
	res, err := m.store.Resolve(ctx, territoryID, w, now, pickWinner)
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve %s %s: %w", territoryID, w, err)
	}
	if res.AlreadyResolved {
		return res, nil
	}

	slog.Info("contest week resolved",
		"territory", territoryID,
		"week", w,
		"winner", res.Winner,
		"score", res.Score,
		"entries", res.Entries,
		"unchanged", res.Unchanged,
	)
	events.Emit(ctx, m.pub, events.New(events.KindContestResolved, now, res))
	return res, nil
}

func pickWinner(entries []Entry) (Entry, bool) {
	ranked := Rank(entries, MetricScore)
	if len(ranked) == 0 {
		return Entry{}, false
	}
	return ranked[0].Entry, true
}

// Controller returns the guild controlling territoryID, if any.
func (m *Manager) Controller(ctx context.Context, territoryID string) (Control, bool, error) {
	return m.store.Controller(ctx, territoryID)
}

// OverdueWeek returns the earliest past week whose entries are still
// unresolved. ok is false when every finished week has been closed.
func (m *Manager) OverdueWeek(ctx context.Context) (Week, bool, error) {
	w, ok, err := m.store.OldestOpenWeek(ctx)
	if err != nil {
		return Week{}, false, fmt.Errorf("oldest open week: %w", err)
	}
	if !ok || !w.Before(m.CurrentWeek()) {
		return Week{}, false, nil
	}
	return w, true, nil
}

// TerritoryStatus is a territory with its controller.
type TerritoryStatus struct {
	Territory
	Controller *Control `json:"controller,omitempty"`
}

// Territories lists every territory with its controller.
func (m *Manager) Territories(ctx context.Context) ([]TerritoryStatus, error) {
	ts, err := m.store.Territories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list territories: %w", err)
	}
	out := make([]TerritoryStatus, 0, len(ts))
	for _, t := range ts {
		st := TerritoryStatus{Territory: t}
		c, ok, err := m.store.Controller(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("controller of %s: %w", t.ID, err)
		}
		if ok {
			st.Controller = &c
		}
		out = append(out, st)
	}
	return out, nil
}

// Covering returns the territory holding tile.
func (m *Manager) Covering(ctx context.Context, tile hexgrid.TileID) (Territory, bool, error) {
	ts, err := m.store.Territories(ctx)
	if err != nil {
		return Territory{}, false, fmt.Errorf("list territories: %w", err)
	}
	t, ok := Covering(m.idx, ts, tile)
	return t, ok, nil
}

// ContestScore is a guild's current-week XP in the territory covering tile,
// or zero when there is no such territory or entry. It is the score the
// ledger compares when a tile outside a home zone is contested.
func (m *Manager) ContestScore(ctx context.Context, guildID string, tile hexgrid.TileID) (int64, error) {
	if guildID == "" {
		return 0, nil
	}
	t, ok, err := m.Covering(ctx, tile)
	if err != nil || !ok {
		return 0, err
	}
	e, ok, err := m.store.Entry(ctx, t.ID, guildID, m.CurrentWeek())
	if err != nil {
		return 0, fmt.Errorf("load entry: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return e.XPEarned, nil
}

// TerritoryTiles is a territory with the tiles of one track that fall in it.
type TerritoryTiles struct {
	Territory Territory
	Tiles     []hexgrid.TileID
}

// TerritoriesAt groups tiles by covering territory, ordered by territory ID.
// Tiles outside every territory are left out.
func (m *Manager) TerritoriesAt(ctx context.Context, tiles []hexgrid.TileID) ([]TerritoryTiles, error) {
	ts, err := m.store.Territories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list territories: %w", err)
	}
	byID := map[string]*TerritoryTiles{}
	var order []string
	for _, tile := range tiles {
		t, ok := Covering(m.idx, ts, tile)
		if !ok {
			continue
		}
		g, seen := byID[t.ID]
		if !seen {
			g = &TerritoryTiles{Territory: t}
			byID[t.ID] = g
			order = append(order, t.ID)
		}
		g.Tiles = append(g.Tiles, tile)
	}
	sort.Strings(order)
	out := make([]TerritoryTiles, len(order))
	for i, id := range order {
		out[i] = *byID[id]
	}
	return out, nil
}

// Territory looks up one territory.
func (m *Manager) Territory(ctx context.Context, id string) (Territory, bool, error) {
	return m.store.Territory(ctx, id)
}
