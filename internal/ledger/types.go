// Package ledger is the single source of truth for tile ownership.
// It is the only package allowed to mutate ownership; every write goes
// through a compare-and-set on the row version.
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/talgya/hexturf/internal/hexgrid"
)

// OwnerType distinguishes individual and guild owners.
type OwnerType string

const (
	OwnerUser  OwnerType = "USER"
	OwnerGuild OwnerType = "GUILD"
)

// ParseOwnerType normalizes s; ok is false for unknown kinds.
func ParseOwnerType(s string) (OwnerType, bool) {
	switch OwnerType(strings.ToUpper(strings.TrimSpace(s))) {
	case OwnerUser:
		return OwnerUser, true
	case OwnerGuild:
		return OwnerGuild, true
	}
	return "", false
}

// Owner identifies who holds a tile.
type Owner struct {
	ID   string    `json:"id"`
	Type OwnerType `json:"type"`
}

// Ownership is one row of the ledger. Strength is the value at
// LastReinforcedAt; the effective value decays with inactivity. Decay may
// move LastReinforcedAt back, never past ClaimedAt.
type Ownership struct {
	Tile             hexgrid.TileID `json:"tile"`
	Owner            Owner          `json:"owner"`
	GuildID          string         `json:"guild_id,omitempty"` // guild whose contest score defends the tile
	Strength         int            `json:"strength"`
	ClaimedAt        time.Time      `json:"claimed_at"`
	LastReinforcedAt time.Time      `json:"last_reinforced_at"`
	Version          int64          `json:"version"`
}

// Outcome explains what a claim did. None of these are errors.
type Outcome string

const (
	OutcomeClaimed          Outcome = "claimed"
	OutcomeReinforced       Outcome = "reinforced"
	OutcomeHomeZoneOverride Outcome = "home_zone_override"
	OutcomeCaptured         Outcome = "captured"
	OutcomeContested        Outcome = "contested_insufficient"
	OutcomeSuperseded       Outcome = "superseded"
	OutcomeDecayed          Outcome = "decayed"
)

// Changed reports whether the outcome wrote ownership.
func (o Outcome) Changed() bool {
	switch o {
	case OutcomeClaimed, OutcomeReinforced, OutcomeHomeZoneOverride, OutcomeCaptured:
		return true
	}
	return false
}

var (
	// ErrConflict is returned by a Store when the row changed since it was read.
	ErrConflict = errors.New("ledger: ownership changed concurrently")

	// ErrInvalidClaim is returned for claims with a malformed tile or owner.
	ErrInvalidClaim = errors.New("ledger: invalid claim")
)

// Store persists ownership rows. Insert, Update and Delete are conditional:
// Insert fails with ErrConflict when a row exists, Update and Delete when the
// stored version differs from expected. Each successful write records reason
// in the ownership history.
type Store interface {
	Get(ctx context.Context, tile hexgrid.TileID) (Ownership, bool, error)
	Insert(ctx context.Context, o Ownership, reason Outcome) error
	Update(ctx context.Context, o Ownership, expected int64, reason Outcome) error
	Delete(ctx context.Context, tile hexgrid.TileID, expected int64, reason Outcome) error
	ListByOwner(ctx context.Context, ownerID string) ([]Ownership, error)
	// Stale pages through rows last reinforced before cutoff, ordered by tile,
	// starting after the given tile.
	Stale(ctx context.Context, cutoff time.Time, after hexgrid.TileID, limit int) ([]Ownership, error)
}

// ScoreSource reports a guild's contest score for the area holding tile.
type ScoreSource interface {
	ContestScore(ctx context.Context, guildID string, tile hexgrid.TileID) (int64, error)
}
