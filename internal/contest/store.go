package contest

import (
	"context"
	"time"
)

// EnterStatus explains the result of an entry attempt. Only StatusEntered
// creates an entry; the rest are expected refusals, not failures.
type EnterStatus string

const (
	StatusEntered              EnterStatus = "entered"
	StatusAlreadyContesting    EnterStatus = "already_contesting"
	StatusInsufficientResource EnterStatus = "insufficient_resource"
	StatusUnknownTerritory     EnterStatus = "unknown_territory"
	StatusClosed               EnterStatus = "closed"
)

// Resolution is the outcome of closing one territory's week.
type Resolution struct {
	TerritoryID     string    `json:"territory_id"`
	Week            Week      `json:"week"`
	Winner          string    `json:"winner,omitempty"`
	Score           int64     `json:"score"`
	Previous        string    `json:"previous,omitempty"`
	Unchanged       bool      `json:"unchanged"`
	Entries         int       `json:"entries"`
	ResolvedAt      time.Time `json:"resolved_at"`
	AlreadyResolved bool      `json:"already_resolved,omitempty"`
}

// Control is a territory's current controller.
type Control struct {
	TerritoryID string    `json:"territory_id"`
	GuildID     string    `json:"guild_id"`
	Week        Week      `json:"week"`
	Since       time.Time `json:"since"`
}

// PickFunc chooses the winner among a week's entries. ok is false when there is none.
type PickFunc func(entries []Entry) (winner Entry, ok bool)

// Store persists contest state. CreateEntry and Resolve are atomic units:
// CreateEntry checks for an existing entry or a closed week, debits cost from
// payer and inserts e, all or nothing. Resolve reads the week's entries,
// applies pick, freezes the entries, records the resolution and updates the
// controller in one transaction; a week resolved earlier is returned as stored
// with AlreadyResolved set.
type Store interface {
	Territories(ctx context.Context) ([]Territory, error)
	Territory(ctx context.Context, id string) (Territory, bool, error)

	CreateEntry(ctx context.Context, e Entry, payer string, cost int64) (EnterStatus, error)
	Entry(ctx context.Context, territoryID, guildID string, w Week) (Entry, bool, error)
	Entries(ctx context.Context, territoryID string, w Week) ([]Entry, error)
	// AddActivity increments an unresolved entry and reports whether one existed.
	AddActivity(ctx context.Context, territoryID, guildID string, w Week, m Metrics) (bool, error)

	Resolve(ctx context.Context, territoryID string, w Week, at time.Time, pick PickFunc) (Resolution, error)
	Controller(ctx context.Context, territoryID string) (Control, bool, error)
	// OldestOpenWeek is the earliest week holding an unresolved entry.
	OldestOpenWeek(ctx context.Context) (Week, bool, error)
}
