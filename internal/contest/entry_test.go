package contest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSaturatingAdd(t *testing.T) {
	assert.Equal(t, int64(250), SaturatingAdd(100, 150))
	assert.Equal(t, MaxScore, SaturatingAdd(MaxScore-1, 2))
	assert.Equal(t, MaxScore, SaturatingAdd(MaxScore, MaxScore))
	assert.Equal(t, MaxScore, SaturatingAdd(MaxScore, 0))
}

func TestMetricsValidateClamp(t *testing.T) {
	assert.NoError(t, Metrics{}.Validate())
	assert.ErrorIs(t, Metrics{XP: -1}.Validate(), ErrInvalidMetrics)
	assert.ErrorIs(t, Metrics{Volume: -5}.Validate(), ErrInvalidMetrics)

	c := Metrics{Workouts: 1, XP: 1 << 62}.Clamp()
	assert.Equal(t, MaxScore, c.XP)
	assert.Equal(t, int64(1), c.Workouts)
}

func TestRank(t *testing.T) {
	t0 := time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)
	entries := []Entry{
		{GuildID: "g-late", XPEarned: 300, TotalVolume: 10, EnteredAt: t0.Add(2 * time.Hour)},
		{GuildID: "g-early", XPEarned: 300, TotalVolume: 50, EnteredAt: t0},
		{GuildID: "g-low", XPEarned: 100, TotalVolume: 90, WorkoutCount: 7, EnteredAt: t0.Add(time.Hour)},
	}

	byScore := Rank(entries, MetricScore)
	assert.Equal(t, []string{"g-early", "g-late", "g-low"}, guilds(byScore))
	assert.Equal(t, 1, byScore[0].Rank)
	assert.Equal(t, int64(300), byScore[0].Value)

	assert.Equal(t, []string{"g-low", "g-early", "g-late"}, guilds(Rank(entries, MetricVolume)))
	assert.Equal(t, "g-low", Rank(entries, MetricWorkouts)[0].Entry.GuildID)

	// Input is left untouched.
	assert.Equal(t, "g-late", entries[0].GuildID)
	assert.Empty(t, Rank(nil, MetricScore))
}

func TestParseMetric(t *testing.T) {
	m, ok := ParseMetric(" Volume ")
	assert.True(t, ok)
	assert.Equal(t, MetricVolume, m)
	_, ok = ParseMetric("gold")
	assert.False(t, ok)
	_, ok = ParseMetric("")
	assert.False(t, ok)
}

func guilds(ss []Standing) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.Entry.GuildID
	}
	return out
}
