package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/talgya/hexturf/internal/hexgrid"
)

// ClaimRequest asks to take or strengthen a tile.
type ClaimRequest struct {
	Tile     hexgrid.TileID
	Owner    Owner
	GuildID  string // claimant's guild; defaults to Owner.ID for guild owners
	HomeZone bool
	Bonus    int // extra strength from effort weighting
}

func (r ClaimRequest) guild() string {
	if r.GuildID == "" && r.Owner.Type == OwnerGuild {
		return r.Owner.ID
	}
	return r.GuildID
}

func (r ClaimRequest) validate() error {
	if !r.Tile.Valid() {
		return fmt.Errorf("%w: tile %q", ErrInvalidClaim, r.Tile)
	}
	if strings.TrimSpace(r.Owner.ID) == "" {
		return fmt.Errorf("%w: missing owner id", ErrInvalidClaim)
	}
	if _, ok := ParseOwnerType(string(r.Owner.Type)); !ok {
		return fmt.Errorf("%w: owner type %q", ErrInvalidClaim, r.Owner.Type)
	}
	return nil
}

// ClaimResult reports the outcome of a claim and, for contests, both scores.
type ClaimResult struct {
	Tile          hexgrid.TileID `json:"tile"`
	Outcome       Outcome        `json:"outcome"`
	Owner         Owner          `json:"owner"`
	Strength      int            `json:"strength"`
	Previous      *Owner         `json:"previous_owner,omitempty"`
	AttackerScore int64          `json:"attacker_score,omitempty"`
	DefenderScore int64          `json:"defender_score,omitempty"`
}

// Ledger applies the claim, reinforcement and decay rules over a Store.
type Ledger struct {
	store  Store
	scores ScoreSource
	rules  Rules
	now    func() time.Time
}

// New creates a ledger. scores may be nil, in which case every contest score is zero.
func New(store Store, scores ScoreSource, rules Rules) *Ledger {
	return &Ledger{
		store:  store,
		scores: scores,
		rules:  rules,
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

// Rules returns the ledger's tuning.
func (l *Ledger) Rules() Rules {
	return l.rules
}

// Claim takes or reinforces a tile for req.Owner. Concurrent claims on the
// same tile serialize through the store's version check; a loser re-reads and
// re-evaluates, and after ClaimRetries attempts gets OutcomeSuperseded.
func (l *Ledger) Claim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	if err := req.validate(); err != nil {
		return ClaimResult{}, err
	}

	attempts := max(l.rules.ClaimRetries, 1)
	delay := l.rules.RetryDelay
	for i := 0; i < attempts; i++ {
		res, err := l.tryClaim(ctx, req)
		if !errors.Is(err, ErrConflict) {
			return res, err
		}
		slog.Debug("claim conflict, retrying", "tile", req.Tile, "owner", req.Owner.ID, "attempt", i+1)
		if i+1 < attempts && delay > 0 {
			if err := sleep(ctx, jitter(delay)); err != nil {
				return ClaimResult{}, err
			}
			delay *= 2
		}
	}

	slog.Warn("claim superseded after retries", "tile", req.Tile, "owner", req.Owner.ID, "attempts", attempts)
	return ClaimResult{Tile: req.Tile, Outcome: OutcomeSuperseded, Owner: req.Owner}, nil
}

func (l *Ledger) tryClaim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	now := l.now()
	cur, found, err := l.store.Get(ctx, req.Tile)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("load ownership %s: %w", req.Tile, err)
	}

	next := Ownership{
		Tile:             req.Tile,
		Owner:            req.Owner,
		GuildID:          req.guild(),
		Strength:         l.rules.base(req.Bonus),
		ClaimedAt:        now,
		LastReinforcedAt: now,
	}
	res := ClaimResult{Tile: req.Tile, Owner: req.Owner}

	if !found {
		if err := l.store.Insert(ctx, next, OutcomeClaimed); err != nil {
			return ClaimResult{}, err
		}
		res.Outcome, res.Strength = OutcomeClaimed, next.Strength
		return res, nil
	}

	effective := l.rules.Effective(cur, now)
	switch {
	case effective == 0:
		// Decayed to nothing but not yet swept: the tile is unowned.
		res.Outcome = OutcomeClaimed

	case cur.Owner == req.Owner:
		next.ClaimedAt = cur.ClaimedAt
		next.Strength = l.rules.reinforced(effective, req.Bonus)
		res.Outcome = OutcomeReinforced

	case req.HomeZone:
		prev := cur.Owner
		res.Previous = &prev
		res.Outcome = OutcomeHomeZoneOverride

	default:
		attacker, err := l.score(ctx, req.guild(), req.Tile)
		if err != nil {
			return ClaimResult{}, err
		}
		defender, err := l.score(ctx, cur.GuildID, req.Tile)
		if err != nil {
			return ClaimResult{}, err
		}
		prev := cur.Owner
		res.Previous = &prev
		res.AttackerScore, res.DefenderScore = attacker, defender
		if attacker <= defender {
			res.Outcome = OutcomeContested
			res.Owner = cur.Owner
			res.Strength = effective
			return res, nil
		}
		res.Outcome = OutcomeCaptured
	}

	if err := l.store.Update(ctx, next, cur.Version, res.Outcome); err != nil {
		return ClaimResult{}, err
	}
	res.Strength = next.Strength
	if res.Outcome == OutcomeCaptured || res.Outcome == OutcomeHomeZoneOverride {
		slog.Info("tile changed hands",
			"tile", req.Tile,
			"outcome", res.Outcome,
			"from", cur.Owner.ID,
			"to", req.Owner.ID,
		)
	}
	return res, nil
}

func (l *Ledger) score(ctx context.Context, guildID string, tile hexgrid.TileID) (int64, error) {
	if l.scores == nil || guildID == "" {
		return 0, nil
	}
	s, err := l.scores.ContestScore(ctx, guildID, tile)
	if err != nil {
		return 0, fmt.Errorf("contest score for %s: %w", guildID, err)
	}
	return s, nil
}

// Decay ages tile by daysInactive days without reinforcement and returns the
// effective strength. Inactivity is at least what the record already shows
// and at most the time the owner has held the tile. The decay anchor
// (LastReinforcedAt) moves back to match, so OwnerOf agrees with the result
// and repeating a call is a no-op. At zero the tile reverts to unowned.
func (l *Ledger) Decay(ctx context.Context, tile hexgrid.TileID, daysInactive int) (int, error) {
	for i := 0; i < max(l.rules.ClaimRetries, 1); i++ {
		cur, found, err := l.store.Get(ctx, tile)
		if err != nil {
			return 0, fmt.Errorf("load ownership %s: %w", tile, err)
		}
		if !found {
			return 0, nil
		}
		now := l.now()
		idle := DaysInactive(cur.LastReinforcedAt, now)
		days := min(max(daysInactive, idle), DaysInactive(cur.ClaimedAt, now))
		strength := l.rules.Decayed(cur.Strength, max(days, idle))

		switch {
		case strength == 0:
			err = l.store.Delete(ctx, tile, cur.Version, OutcomeDecayed)
		case days > idle:
			next := cur
			next.LastReinforcedAt = now.Add(-time.Duration(days) * 24 * time.Hour)
			err = l.store.Update(ctx, next, cur.Version, OutcomeDecayed)
		default:
			return strength, nil
		}
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if strength == 0 {
			slog.Info("tile decayed to unowned", "tile", tile, "owner", cur.Owner.ID)
		}
		return strength, nil
	}
	// Someone kept reinforcing the tile while we tried to age it.
	cur, found, err := l.OwnerOf(ctx, tile)
	if err != nil || !found {
		return 0, err
	}
	return cur.Strength, nil
}

// OwnerOf returns the current owner of tile with decay applied.
// A tile whose strength decayed to zero is reported as unowned.
func (l *Ledger) OwnerOf(ctx context.Context, tile hexgrid.TileID) (Ownership, bool, error) {
	cur, found, err := l.store.Get(ctx, tile)
	if err != nil {
		return Ownership{}, false, fmt.Errorf("load ownership %s: %w", tile, err)
	}
	if !found {
		return Ownership{}, false, nil
	}
	cur.Strength = l.rules.Effective(cur, l.now())
	if cur.Strength == 0 {
		return Ownership{}, false, nil
	}
	return cur, true, nil
}

// TilesOwnedBy returns every tile ownerID currently holds.
func (l *Ledger) TilesOwnedBy(ctx context.Context, ownerID string) (hexgrid.Set, error) {
	rows, err := l.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tiles of %s: %w", ownerID, err)
	}
	now := l.now()
	set := make(hexgrid.Set, len(rows))
	for _, o := range rows {
		if l.rules.Effective(o, now) > 0 {
			set.Add(o.Tile)
		}
	}
	return set, nil
}

// SweepReport summarizes one decay sweep.
type SweepReport struct {
	Scanned int `json:"scanned"`
	Cleared int `json:"cleared"`
	Skipped int `json:"skipped"` // reinforced while the sweep ran
}

// Sweep removes every ownership whose strength has decayed to zero.
// It is driven by an external scheduler; pageSize bounds each store read.
func (l *Ledger) Sweep(ctx context.Context, pageSize int) (SweepReport, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	now := l.now()
	cutoff := now.Add(-time.Duration(l.rules.DecayGraceDays) * 24 * time.Hour)

	var (
		rep   SweepReport
		after hexgrid.TileID
	)
	for {
		rows, err := l.store.Stale(ctx, cutoff, after, pageSize)
		if err != nil {
			return rep, fmt.Errorf("list stale tiles: %w", err)
		}
		for _, o := range rows {
			rep.Scanned++
			after = o.Tile
			if l.rules.Effective(o, now) > 0 {
				continue
			}
			err := l.store.Delete(ctx, o.Tile, o.Version, OutcomeDecayed)
			switch {
			case errors.Is(err, ErrConflict):
				rep.Skipped++
			case err != nil:
				return rep, err
			default:
				rep.Cleared++
			}
		}
		if len(rows) < pageSize {
			break
		}
	}

	slog.Info("decay sweep complete", "scanned", rep.Scanned, "cleared", rep.Cleared, "skipped", rep.Skipped)
	return rep, nil
}

func jitter(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
