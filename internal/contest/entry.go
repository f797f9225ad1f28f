package contest

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// MaxScore bounds every accumulated counter. Additions saturate here, which
// keeps values exact for clients that decode JSON numbers as doubles.
const MaxScore int64 = 1<<53 - 1

var (
	// ErrInvalidMetrics is returned for negative activity contributions.
	ErrInvalidMetrics = errors.New("contest: metrics must be non-negative")

	// ErrUnknownTerritory is returned when a territory ID is not configured.
	ErrUnknownTerritory = errors.New("contest: unknown territory")

	// ErrInvalidEntry is returned when an entry request is missing identities.
	ErrInvalidEntry = errors.New("contest: missing guild or user")
)

// Entry is one guild's stake in one territory for one week.
type Entry struct {
	ID           string    `json:"id"`
	TerritoryID  string    `json:"territory_id"`
	GuildID      string    `json:"guild_id"`
	InitiatedBy  string    `json:"initiated_by"`
	Week         Week      `json:"week"`
	WorkoutCount int64     `json:"workout_count"`
	TotalVolume  int64     `json:"total_volume"`
	XPEarned     int64     `json:"xp_earned"`
	EnteredAt    time.Time `json:"entered_at"`
	Resolved     bool      `json:"resolved"`
}

// Metrics is one contribution to an entry.
type Metrics struct {
	Workouts int64 `json:"workouts"`
	Volume   int64 `json:"volume"`
	XP       int64 `json:"xp"`
}

// Validate rejects negative contributions.
func (m Metrics) Validate() error {
	if m.Workouts < 0 || m.Volume < 0 || m.XP < 0 {
		return ErrInvalidMetrics
	}
	return nil
}

// Clamp caps each field at MaxScore.
func (m Metrics) Clamp() Metrics {
	return Metrics{
		Workouts: min(m.Workouts, MaxScore),
		Volume:   min(m.Volume, MaxScore),
		XP:       min(m.XP, MaxScore),
	}
}

// SaturatingAdd adds two non-negative counters, stopping at MaxScore.
func SaturatingAdd(a, b int64) int64 {
	if b > MaxScore-a {
		return MaxScore
	}
	return a + b
}

// Metric selects the leaderboard ordering.
type Metric string

const (
	MetricScore    Metric = "score"
	MetricVolume   Metric = "volume"
	MetricWorkouts Metric = "workouts"
)

// ParseMetric normalizes s; an empty string yields ok=false.
func ParseMetric(s string) (Metric, bool) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case MetricScore, MetricVolume, MetricWorkouts:
		return m, true
	}
	return "", false
}

// Value returns the entry's value under m. Unknown metrics use the score.
func (e Entry) Value(m Metric) int64 {
	switch m {
	case MetricVolume:
		return e.TotalVolume
	case MetricWorkouts:
		return e.WorkoutCount
	default:
		return e.XPEarned
	}
}

// Standing is a ranked leaderboard row.
type Standing struct {
	Rank  int   `json:"rank"`
	Value int64 `json:"value"`
	Entry Entry `json:"entry"`
}

// Rank orders entries by m descending, earliest entry first on ties.
func Rank(entries []Entry, m Metric) []Standing {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if av, bv := a.Value(m), b.Value(m); av != bv {
			return av > bv
		}
		if !a.EnteredAt.Equal(b.EnteredAt) {
			return a.EnteredAt.Before(b.EnteredAt)
		}
		return a.GuildID < b.GuildID
	})
	out := make([]Standing, len(sorted))
	for i, e := range sorted {
		out[i] = Standing{Rank: i + 1, Value: e.Value(m), Entry: e}
	}
	return out
}
