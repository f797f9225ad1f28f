// Package activity runs an uploaded workout through the territory core:
// the track becomes tile claims, and the guild's share of the workout is
// split across the territory contests the track passed through.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"strings"
	"time"

	"github.com/talgya/hexturf/internal/contest"
	"github.com/talgya/hexturf/internal/events"
	"github.com/talgya/hexturf/internal/hexgrid"
	"github.com/talgya/hexturf/internal/ledger"
	"github.com/talgya/hexturf/internal/track"
)

// ErrMissingUser is returned for uploads without a user.
var ErrMissingUser = errors.New("activity: missing user id")

// Upload is one workout as received from an activity source.
type Upload struct {
	UserID  string        `json:"user_id"`
	GuildID string        `json:"guild_id,omitempty"`
	Points  []track.Point `json:"points"`
	// HomeZone is the user's anchor. A zero radius takes the configured default.
	HomeZone   *track.HomeZone   `json:"home_zone,omitempty"`
	Biometrics *track.Biometrics `json:"biometrics,omitempty"`
	// Metrics replaces the contest contribution derived from the track.
	Metrics *contest.Metrics `json:"metrics,omitempty"`
}

// Config tunes how uploads turn into claims and contest credit.
type Config struct {
	DefaultHomeRadius    float64
	EffortBonusThreshold float64
	MaxEffortBonus       int
	XPPerTile            int64
}

// Contribution is the credit one territory received from an upload.
type Contribution struct {
	TerritoryID string          `json:"territory_id"`
	Tiles       int             `json:"tiles"`
	Metrics     contest.Metrics `json:"metrics"`
	// Recorded is false when the guild is not contesting the territory this week.
	Recorded bool `json:"recorded"`
}

// Report is everything an upload did.
type Report struct {
	Accepted      int                    `json:"accepted_points"`
	Dropped       int                    `json:"dropped_points"`
	Meters        float64                `json:"meters"`
	Bonus         int                    `json:"effort_bonus"`
	Claims        []ledger.ClaimResult   `json:"claims"`
	Outcomes      map[ledger.Outcome]int `json:"outcomes"`
	Contributions []Contribution         `json:"contributions"`
}

// Processor wires the ingestor, the ledger and the contest manager together.
type Processor struct {
	idx      hexgrid.Index
	ledger   *ledger.Ledger
	contests *contest.Manager
	pub      events.Publisher
	cfg      Config
	now      func() time.Time
}

// NewProcessor creates a Processor. pub may be nil.
func NewProcessor(idx hexgrid.Index, l *ledger.Ledger, contests *contest.Manager, pub events.Publisher, cfg Config) *Processor {
	return &Processor{idx: idx, ledger: l, contests: contests, pub: pub, cfg: cfg, now: time.Now}
}

// Process ingests u's track, claims every visited tile in order and credits
// the guild's contests. Invalid points are dropped, not fatal. A claim that
// fails with a system error aborts the rest of the upload; claims already
// made stand, each being atomic on its own.
func (p *Processor) Process(ctx context.Context, u Upload) (Report, error) {
	if strings.TrimSpace(u.UserID) == "" {
		return Report{}, ErrMissingUser
	}
	if u.Metrics != nil {
		if err := u.Metrics.Validate(); err != nil {
			return Report{}, err
		}
	}

	res := track.Ingest(p.idx, u.Points, p.homeZone(u.HomeZone))
	rep := Report{
		Accepted:      res.Accepted,
		Dropped:       res.Dropped,
		Meters:        res.Meters,
		Claims:        make([]ledger.ClaimResult, 0, len(res.Visits)),
		Outcomes:      map[ledger.Outcome]int{},
		Contributions: []Contribution{},
	}
	if u.Biometrics != nil {
		rep.Bonus = u.Biometrics.Bonus(p.cfg.EffortBonusThreshold, p.cfg.MaxEffortBonus)
	}

	owner := ledger.Owner{ID: u.UserID, Type: ledger.OwnerUser}
	for _, v := range res.Visits {
		cr, err := p.ledger.Claim(ctx, ledger.ClaimRequest{
			Tile:     v.Tile,
			Owner:    owner,
			GuildID:  u.GuildID,
			HomeZone: v.InHomeZone,
			Bonus:    rep.Bonus,
		})
		if err != nil {
			return rep, fmt.Errorf("claim %s: %w", v.Tile, err)
		}
		rep.Claims = append(rep.Claims, cr)
		rep.Outcomes[cr.Outcome]++
		if cr.Outcome == ledger.OutcomeCaptured || cr.Outcome == ledger.OutcomeHomeZoneOverride {
			events.Emit(ctx, p.pub, events.New(events.KindTileCaptured, p.now(), cr))
		}
	}

	if u.GuildID != "" && len(res.Visits) > 0 {
		contribs, err := p.credit(ctx, u, res)
		if err != nil {
			return rep, err
		}
		rep.Contributions = contribs
	}

	slog.Info("activity processed",
		"user", u.UserID,
		"guild", u.GuildID,
		"visits", len(res.Visits),
		"dropped", res.Dropped,
		"captured", rep.Outcomes[ledger.OutcomeCaptured]+rep.Outcomes[ledger.OutcomeHomeZoneOverride],
		"contests", len(rep.Contributions),
	)
	return rep, nil
}

// SetClock replaces the time source used for event timestamps.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// credit splits one workout across the territories it crossed, so the sum of
// the contributions is one workout however many contests it touched. Explicit
// metrics and the workout count go pro rata by tiles; derived volume is the
// distance covered inside each territory.
func (p *Processor) credit(ctx context.Context, u Upload, res track.Result) ([]Contribution, error) {
	groups, err := p.contests.TerritoriesAt(ctx, res.Distinct())
	if err != nil {
		return nil, err
	}
	weights := make([]int, len(groups))
	for i, g := range groups {
		weights[i] = len(g.Tiles)
	}
	total := contest.Metrics{Workouts: 1}
	if u.Metrics != nil {
		total = *u.Metrics
	}
	workouts := apportion(total.Workouts, weights)
	volume := apportion(total.Volume, weights)
	xp := apportion(total.XP, weights)

	out := make([]Contribution, 0, len(groups))
	for i, g := range groups {
		m := contest.Metrics{Workouts: workouts[i], Volume: volume[i], XP: xp[i]}
		if u.Metrics == nil {
			m = p.derive(g, res, workouts[i])
		}
		ok, err := p.contests.RecordActivity(ctx, u.GuildID, g.Territory.ID, m)
		if err != nil {
			return out, fmt.Errorf("credit %s: %w", g.Territory.ID, err)
		}
		out = append(out, Contribution{
			TerritoryID: g.Territory.ID,
			Tiles:       len(g.Tiles),
			Metrics:     m,
			Recorded:    ok,
		})
	}
	return out, nil
}

// derive turns the part of a track inside one territory into contest metrics.
func (p *Processor) derive(g contest.TerritoryTiles, res track.Result, workouts int64) contest.Metrics {
	xp := float64(len(g.Tiles)) * float64(p.cfg.XPPerTile) * g.Territory.XPModifier
	return contest.Metrics{
		Workouts: workouts,
		Volume:   clampInt(res.MetersIn(hexgrid.NewSet(g.Tiles...))),
		XP:       clampInt(xp),
	}.Clamp()
}

// apportion splits total by weight, rounding down. The remainder goes to the
// heaviest share, the first one on ties.
func apportion(total int64, weights []int) []int64 {
	out := make([]int64, len(weights))
	var sum uint64
	heaviest := 0
	for i, w := range weights {
		sum += uint64(max(w, 0))
		if w > weights[heaviest] {
			heaviest = i
		}
	}
	if total <= 0 || sum == 0 {
		return out
	}
	left := total
	for i, w := range weights {
		// total*w/sum without overflow; w <= sum keeps the quotient in range.
		hi, lo := bits.Mul64(uint64(total), uint64(max(w, 0)))
		q, _ := bits.Div64(hi, lo, sum)
		out[i] = int64(q)
		left -= out[i]
	}
	out[heaviest] += left
	return out
}

func clampInt(f float64) int64 {
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= float64(contest.MaxScore) {
		return contest.MaxScore
	}
	return int64(math.Round(f))
}

func (p *Processor) homeZone(z *track.HomeZone) track.HomeZone {
	if z == nil {
		return track.HomeZone{}
	}
	out := *z
	if out.RadiusMeters <= 0 {
		out.RadiusMeters = p.cfg.DefaultHomeRadius
	}
	return out
}
