package contest

import (
	"strings"

	"github.com/talgya/hexturf/internal/hexgrid"
)

// Kind is a territory's gameplay role.
type Kind string

const (
	KindResource        Kind = "resource"
	KindFortress        Kind = "fortress"
	KindTrainingGrounds Kind = "training_grounds"
)

// ParseKind normalizes s; ok is false for unknown kinds.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindResource, KindFortress, KindTrainingGrounds:
		return k, true
	}
	return "", false
}

// Territory is a named zone whose controller is decided by weekly contests.
// Territories are authored outside the core and never change at runtime.
type Territory struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Kind            Kind           `json:"type"`
	Center          hexgrid.LatLng `json:"center"`
	RadiusMeters    float64        `json:"radius_m"`
	XPModifier      float64        `json:"xp_modifier"`
	GoldModifier    float64        `json:"gold_modifier"`
	DefenseModifier float64        `json:"defense_modifier"`
}

// Contains reports whether tile's center lies inside the territory.
func (t Territory) Contains(idx hexgrid.Index, tile hexgrid.TileID) bool {
	return hexgrid.Haversine(idx.Center(tile), t.Center) <= t.RadiusMeters
}

// Covering returns the territory holding tile. When territories overlap the
// one with the nearest center wins.
func Covering(idx hexgrid.Index, territories []Territory, tile hexgrid.TileID) (Territory, bool) {
	center := idx.Center(tile)
	var (
		best  Territory
		bestD float64
		found bool
	)
	for _, t := range territories {
		d := hexgrid.Haversine(center, t.Center)
		if d > t.RadiusMeters {
			continue
		}
		if !found || d < bestD || (d == bestD && t.ID < best.ID) {
			best, bestD, found = t, d, true
		}
	}
	return best, found
}
