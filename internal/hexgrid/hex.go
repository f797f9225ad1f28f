// Package hexgrid maps geographic coordinates onto a fixed-resolution hex grid.
// Tiles use axial coordinates (q, r) over an equal-area projection of the sphere.
package hexgrid

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// HexNeighborDirections defines the six neighbor offsets in axial coordinates.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// ID returns the canonical tile ID for the coordinate.
func (h HexCoord) ID() TileID {
	return TileID(strconv.Itoa(h.Q) + ":" + strconv.Itoa(h.R))
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	// Max of the three absolute differences in cube coordinates.
	return max(dq, dr, ds)
}

// Disk returns every coordinate within hex distance k of center, center included.
func Disk(center HexCoord, k int) []HexCoord {
	if k < 0 {
		return nil
	}
	out := make([]HexCoord, 0, 3*k*(k+1)+1)
	for dq := -k; dq <= k; dq++ {
		lo := max(-k, -dq-k)
		hi := min(k, -dq+k)
		for dr := lo; dr <= hi; dr++ {
			out = append(out, HexCoord{Q: center.Q + dq, R: center.R + dr})
		}
	}
	return out
}

// roundHex snaps fractional axial coordinates to the containing hex.
func roundHex(q, r float64) HexCoord {
	s := -q - r
	rq := math.Round(q)
	rr := math.Round(r)
	rs := math.Round(s)

	dq := math.Abs(rq - q)
	dr := math.Abs(rr - r)
	ds := math.Abs(rs - s)

	switch {
	case dq > dr && dq > ds:
		rq = -rr - rs
	case dr > ds:
		rr = -rq - rs
	}
	return HexCoord{Q: int(rq), R: int(rr)}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// TileID is the stable string key of a tile, "<q>:<r>".
type TileID string

// ErrBadTileID is returned when a string is not a canonical tile ID.
var ErrBadTileID = errors.New("hexgrid: malformed tile id")

// ParseTileID validates s and returns its coordinate.
func ParseTileID(s string) (HexCoord, error) {
	qs, rs, ok := strings.Cut(s, ":")
	if !ok {
		return HexCoord{}, fmt.Errorf("%w: %q", ErrBadTileID, s)
	}
	q, err := strconv.Atoi(qs)
	if err != nil {
		return HexCoord{}, fmt.Errorf("%w: %q", ErrBadTileID, s)
	}
	r, err := strconv.Atoi(rs)
	if err != nil {
		return HexCoord{}, fmt.Errorf("%w: %q", ErrBadTileID, s)
	}
	h := HexCoord{Q: q, R: r}
	if h.ID() != TileID(s) {
		// Reject non-canonical spellings such as "+1:02".
		return HexCoord{}, fmt.Errorf("%w: %q", ErrBadTileID, s)
	}
	return h, nil
}

// Coord returns the coordinate of id. Malformed IDs map to the origin tile.
func (id TileID) Coord() HexCoord {
	h, _ := ParseTileID(string(id))
	return h
}

// Valid reports whether id is in canonical form.
func (id TileID) Valid() bool {
	_, err := ParseTileID(string(id))
	return err == nil
}
