package activity

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/hexturf/internal/contest"
	"github.com/talgya/hexturf/internal/events"
	"github.com/talgya/hexturf/internal/hexgrid"
	"github.com/talgya/hexturf/internal/ledger"
	"github.com/talgya/hexturf/internal/persistence"
	"github.com/talgya/hexturf/internal/track"
)

var anchor = hexgrid.LatLng{Lat: 59.3293, Lng: 18.0686}

type fixture struct {
	db       *persistence.DB
	grid     *hexgrid.Grid
	ledger   *ledger.Ledger
	contests *contest.Manager
	proc     *Processor
	events   *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "turf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.SyncTerritories(ctx, []contest.Territory{{
		ID:           "T1",
		Name:         "Norrmalm",
		Kind:         contest.KindResource,
		Center:       anchor,
		RadiusMeters: 2000,
		XPModifier:   1.5,
	}}))

	now := time.Date(2026, 10, 14, 6, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	grid := hexgrid.NewGrid(0)
	rec := &events.Recorder{}

	cm := contest.NewManager(db.Contests(), grid, rec, contest.DefaultConfig())
	cm.SetClock(clock)
	l := ledger.New(db.Tiles(), cm, ledger.DefaultRules())
	l.SetClock(clock)
	proc := NewProcessor(grid, l, cm, rec, Config{
		DefaultHomeRadius:    500,
		EffortBonusThreshold: 0.85,
		MaxEffortBonus:       3,
		XPPerTile:            10,
	})
	proc.SetClock(clock)

	return &fixture{db: db, grid: grid, ledger: l, contests: cm, proc: proc, events: rec}
}

// eastWest runs along anchor's parallel, halfWidth degrees of longitude each side.
func eastWest(halfWidth float64) []track.Point {
	var pts []track.Point
	for d := -halfWidth; d <= halfWidth+1e-9; d += 0.0002 {
		pts = append(pts, track.Point{Lat: anchor.Lat, Lng: anchor.Lng + d})
	}
	return pts
}

func (f *fixture) enter(t *testing.T, guild, user string, xp int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.db.Credit(ctx, user, 100)
	require.NoError(t, err)
	res, err := f.contests.Enter(ctx, "T1", guild, user)
	require.NoError(t, err)
	require.Equal(t, contest.StatusEntered, res.Status)
	if xp > 0 {
		_, err = f.contests.RecordActivity(ctx, guild, "T1", contest.Metrics{XP: xp})
		require.NoError(t, err)
	}
}

func TestHomeZoneOverridesStrongerOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// A rival whose guild dominates the territory owns the whole street.
	f.enter(t, "strong", "rival", 10_000)
	_, err := f.proc.Process(ctx, Upload{UserID: "rival", GuildID: "strong", Points: eastWest(0.003)})
	require.NoError(t, err)

	// Without a home zone the weaker runner loses every contest.
	rep, err := f.proc.Process(ctx, Upload{UserID: "visitor", Points: eastWest(0.003)})
	require.NoError(t, err)
	assert.Equal(t, len(rep.Claims), rep.Outcomes[ledger.OutcomeContested])

	// Inside their home zone they take every tile regardless.
	rep, err = f.proc.Process(ctx, Upload{
		UserID:   "local",
		Points:   eastWest(0.003),
		HomeZone: &track.HomeZone{Anchor: anchor},
	})
	require.NoError(t, err)
	require.NotEmpty(t, rep.Claims)
	for _, c := range rep.Claims {
		assert.Equal(t, ledger.OutcomeHomeZoneOverride, c.Outcome, c.Tile)
		require.NotNil(t, c.Previous)
		assert.Equal(t, "rival", c.Previous.ID)

		o, ok, err := f.ledger.OwnerOf(ctx, c.Tile)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "local", o.Owner.ID)
	}
	assert.Contains(t, f.events.Kinds(), events.KindTileCaptured)
}

func TestGuildContributionFromTrack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enter(t, "G1", "alice", 0)

	rep, err := f.proc.Process(ctx, Upload{UserID: "alice", GuildID: "G1", Points: eastWest(0.004)})
	require.NoError(t, err)
	require.Len(t, rep.Contributions, 1)

	c := rep.Contributions[0]
	assert.True(t, c.Recorded)
	assert.Equal(t, "T1", c.TerritoryID)
	distinct := track.Ingest(f.grid, eastWest(0.004), track.HomeZone{}).Distinct()
	assert.Equal(t, len(distinct), c.Tiles)
	assert.Equal(t, int64(math.Round(float64(c.Tiles)*10*1.5)), c.Metrics.XP)
	assert.Equal(t, int64(1), c.Metrics.Workouts)
	assert.InDelta(t, rep.Meters, float64(c.Metrics.Volume), 1)

	board, err := f.contests.Leaderboard(ctx, "T1", contest.MetricScore)
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, c.Metrics.XP, board[0].Value)
}

func TestExplicitMetricsOverrideTrack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.enter(t, "G1", "alice", 0)

	rep, err := f.proc.Process(ctx, Upload{
		UserID:  "alice",
		GuildID: "G1",
		Points:  eastWest(0.001),
		Metrics: &contest.Metrics{Workouts: 1, Volume: 5000, XP: 100},
	})
	require.NoError(t, err)
	require.Len(t, rep.Contributions, 1)
	assert.Equal(t, int64(100), rep.Contributions[0].Metrics.XP)

	_, err = f.proc.Process(ctx, Upload{UserID: "alice", Metrics: &contest.Metrics{XP: -1}})
	assert.ErrorIs(t, err, contest.ErrInvalidMetrics)
}

// twoTerritories adds T2 east of T1 and enters G1 in both.
func (f *fixture) twoTerritories(t *testing.T) []track.Point {
	t.Helper()
	ctx := context.Background()
	east := hexgrid.LatLng{Lat: anchor.Lat, Lng: anchor.Lng + 0.02}
	require.NoError(t, f.db.SyncTerritories(ctx, []contest.Territory{
		{ID: "T1", Name: "Norrmalm", Kind: contest.KindResource, Center: anchor, RadiusMeters: 2000, XPModifier: 1},
		{ID: "T2", Name: "Östermalm", Kind: contest.KindResource, Center: east, RadiusMeters: 2000, XPModifier: 1},
	}))
	_, err := f.db.Credit(ctx, "alice", 200)
	require.NoError(t, err)
	for _, id := range []string{"T1", "T2"} {
		res, err := f.contests.Enter(ctx, id, "G1", "alice")
		require.NoError(t, err)
		require.Equal(t, contest.StatusEntered, res.Status)
	}

	var pts []track.Point
	for d := -0.004; d <= 0.024; d += 0.0002 {
		pts = append(pts, track.Point{Lat: anchor.Lat, Lng: anchor.Lng + d})
	}
	return pts
}

func boardTotal(t *testing.T, f *fixture, metric contest.Metric) int64 {
	t.Helper()
	var sum int64
	for _, id := range []string{"T1", "T2"} {
		board, err := f.contests.Leaderboard(context.Background(), id, metric)
		require.NoError(t, err)
		for _, s := range board {
			sum += s.Value
		}
	}
	return sum
}

func TestExplicitMetricsSplitAcrossTerritories(t *testing.T) {
	f := newFixture(t)
	pts := f.twoTerritories(t)

	rep, err := f.proc.Process(context.Background(), Upload{
		UserID:  "alice",
		GuildID: "G1",
		Points:  pts,
		Metrics: &contest.Metrics{Workouts: 1, Volume: 5000, XP: 100},
	})
	require.NoError(t, err)
	require.Len(t, rep.Contributions, 2)

	var sum contest.Metrics
	for _, c := range rep.Contributions {
		assert.True(t, c.Recorded)
		assert.Positive(t, c.Metrics.XP, c.TerritoryID)
		sum.Workouts += c.Metrics.Workouts
		sum.Volume += c.Metrics.Volume
		sum.XP += c.Metrics.XP
	}
	assert.Equal(t, contest.Metrics{Workouts: 1, Volume: 5000, XP: 100}, sum)
	assert.Equal(t, int64(100), boardTotal(t, f, contest.MetricScore))
	assert.Equal(t, int64(1), boardTotal(t, f, contest.MetricWorkouts))
}

func TestDerivedMetricsSplitAcrossTerritories(t *testing.T) {
	f := newFixture(t)
	pts := f.twoTerritories(t)

	rep, err := f.proc.Process(context.Background(), Upload{UserID: "alice", GuildID: "G1", Points: pts})
	require.NoError(t, err)
	require.Len(t, rep.Contributions, 2)

	var workouts, volume int64
	for _, c := range rep.Contributions {
		assert.Equal(t, int64(c.Tiles)*10, c.Metrics.XP)
		workouts += c.Metrics.Workouts
		volume += c.Metrics.Volume
	}
	assert.Equal(t, int64(1), workouts)
	assert.InDelta(t, rep.Meters, float64(volume), 1)
	assert.Equal(t, int64(1), boardTotal(t, f, contest.MetricWorkouts))
}

func TestApportion(t *testing.T) {
	assert.Equal(t, []int64{1, 0}, apportion(1, []int{3, 3}))
	assert.Equal(t, []int64{0, 1}, apportion(1, []int{2, 5}))
	assert.Equal(t, []int64{34, 33, 33}, apportion(100, []int{1, 1, 1}))
	assert.Equal(t, []int64{0, 0}, apportion(0, []int{1, 1}))
	assert.Equal(t, []int64{0}, apportion(7, []int{0}))

	split := apportion(contest.MaxScore, []int{7, 13})
	assert.Equal(t, contest.MaxScore, split[0]+split[1])
}

func TestNotContestingIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	rep, err := f.proc.Process(context.Background(), Upload{UserID: "bob", GuildID: "G9", Points: eastWest(0.001)})
	require.NoError(t, err)
	require.Len(t, rep.Contributions, 1)
	assert.False(t, rep.Contributions[0].Recorded)
}

func TestMalformedPointsDropped(t *testing.T) {
	f := newFixture(t)
	pts := []track.Point{
		{Lat: anchor.Lat, Lng: anchor.Lng},
		{Lat: math.NaN(), Lng: 18},
		{Lat: 91, Lng: 0},
		{Lat: anchor.Lat, Lng: anchor.Lng + 0.01},
	}
	rep, err := f.proc.Process(context.Background(), Upload{UserID: "bob", Points: pts})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Accepted)
	assert.Equal(t, 2, rep.Dropped)
	assert.Len(t, rep.Claims, 2)
	assert.Equal(t, 2, rep.Outcomes[ledger.OutcomeClaimed])
}

func TestEmptyTrack(t *testing.T) {
	f := newFixture(t)
	rep, err := f.proc.Process(context.Background(), Upload{UserID: "bob"})
	require.NoError(t, err)
	assert.Empty(t, rep.Claims)
	assert.Empty(t, rep.Contributions)

	_, err = f.proc.Process(context.Background(), Upload{})
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestEffortBonusRaisesStrength(t *testing.T) {
	f := newFixture(t)
	rep, err := f.proc.Process(context.Background(), Upload{
		UserID:     "bob",
		Points:     []track.Point{{Lat: anchor.Lat, Lng: anchor.Lng}},
		Biometrics: &track.Biometrics{AvgPower: 300, FTP: 300},
	})
	require.NoError(t, err)
	require.Len(t, rep.Claims, 1)
	assert.Equal(t, 2, rep.Bonus)
	assert.Equal(t, 12, rep.Claims[0].Strength)
}
