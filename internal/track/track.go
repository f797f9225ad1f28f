// Package track turns raw GPS samples into the ordered list of tiles a user crossed.
package track

import (
	"math"

	"github.com/talgya/hexturf/internal/hexgrid"
)

// Point is one GPS sample. Timestamp is carried through untouched.
type Point struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp string  `json:"timestamp,omitempty"`
}

// LatLng returns the sample's position.
func (p Point) LatLng() hexgrid.LatLng {
	return hexgrid.LatLng{Lat: p.Lat, Lng: p.Lng}
}

// ValidPoint reports whether p is a usable coordinate.
func ValidPoint(p Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// HomeZone is a user's anchor point and radius. A zero radius means no home zone.
type HomeZone struct {
	Anchor       hexgrid.LatLng `json:"anchor"`
	RadiusMeters float64        `json:"radius_m"`
}

// Contains reports whether the center of tile lies inside the zone.
func (z HomeZone) Contains(idx hexgrid.Index, tile hexgrid.TileID) bool {
	if z.RadiusMeters <= 0 {
		return false
	}
	return hexgrid.Haversine(idx.Center(tile), z.Anchor) <= z.RadiusMeters
}

// Visit is one entry into a tile. Meters covers the segments ending inside
// the tile during this visit, including the one that entered it.
type Visit struct {
	Tile       hexgrid.TileID `json:"tile"`
	InHomeZone bool           `json:"in_home_zone"`
	Meters     float64        `json:"meters"`
}

// Result is the outcome of ingesting a track.
type Result struct {
	Visits   []Visit `json:"visits"`
	Accepted int     `json:"accepted"`
	Dropped  int     `json:"dropped"`
	Meters   float64 `json:"meters"` // path length over accepted samples
}

// Ingest maps points to tiles in a single pass. Consecutive samples in the same
// tile collapse to one visit; leaving and re-entering a tile yields a new visit.
// Invalid samples are dropped and counted, never fatal.
func Ingest(idx hexgrid.Index, points []Point, home HomeZone) Result {
	res := Result{Visits: []Visit{}}

	var (
		last    hexgrid.TileID
		prev    hexgrid.LatLng
		started bool
	)
	for _, p := range points {
		if !ValidPoint(p) {
			res.Dropped++
			continue
		}
		ll := p.LatLng()
		var seg float64
		if started {
			seg = hexgrid.Haversine(prev, ll)
			res.Meters += seg
		}
		prev = ll
		res.Accepted++

		tile := idx.TileOf(ll)
		if started && tile == last {
			res.Visits[len(res.Visits)-1].Meters += seg
			continue
		}
		started = true
		last = tile
		res.Visits = append(res.Visits, Visit{
			Tile:       tile,
			InHomeZone: home.Contains(idx, tile),
			Meters:     seg,
		})
	}
	return res
}

// MetersIn sums the distance travelled inside the given tiles.
func (r Result) MetersIn(tiles hexgrid.Set) float64 {
	var m float64
	for _, v := range r.Visits {
		if tiles.Has(v.Tile) {
			m += v.Meters
		}
	}
	return m
}

// Distinct returns the visited tiles without repeats, in first-visit order.
func (r Result) Distinct() []hexgrid.TileID {
	seen := make(hexgrid.Set, len(r.Visits))
	out := make([]hexgrid.TileID, 0, len(r.Visits))
	for _, v := range r.Visits {
		if seen.Has(v.Tile) {
			continue
		}
		seen.Add(v.Tile)
		out = append(out, v.Tile)
	}
	return out
}
