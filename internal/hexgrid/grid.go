package hexgrid

import "math"

// EarthRadiusMeters is the mean Earth radius used for projection and distances.
const EarthRadiusMeters = 6371008.8

// DefaultEdgeMeters is the hex edge length; one tile takes a few minutes to cross on foot.
const DefaultEdgeMeters = 200.0

// LatLng is a geographic point in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Index maps points to tiles. Implementations must be deterministic.
type Index interface {
	TileOf(p LatLng) TileID
	Center(id TileID) LatLng
	// Neighbors returns the tiles sharing an edge with id. Callers must not
	// assume six: icosahedral tilings have pentagons with five.
	Neighbors(id TileID) []TileID
	DistanceMeters(a, b TileID) float64
}

// Grid is a pointy-top hex grid over a sinusoidal projection. The projection is
// equal-area and true to scale along every parallel, so tiles keep their ground
// size at all latitudes.
type Grid struct {
	edge float64
}

var _ Index = (*Grid)(nil)

// NewGrid creates a grid with the given edge length in meters.
func NewGrid(edgeMeters float64) *Grid {
	if edgeMeters <= 0 || math.IsNaN(edgeMeters) || math.IsInf(edgeMeters, 0) {
		edgeMeters = DefaultEdgeMeters
	}
	return &Grid{edge: edgeMeters}
}

// EdgeMeters returns the grid resolution.
func (g *Grid) EdgeMeters() float64 {
	return g.edge
}

// TileOf returns the tile containing p. It does not validate ranges.
func (g *Grid) TileOf(p LatLng) TileID {
	return g.CoordOf(p).ID()
}

// CoordOf returns the hex coordinate containing p.
func (g *Grid) CoordOf(p LatLng) HexCoord {
	x, y := project(p)
	q := (math.Sqrt(3)/3*x - y/3) / g.edge
	r := (2.0 / 3.0 * y) / g.edge
	return roundHex(q, r)
}

// Center returns the tile's center point. Near the antimeridian the longitude
// may fall slightly outside ±180; TileOf maps it back to the same tile.
func (g *Grid) Center(id TileID) LatLng {
	return g.CenterOf(id.Coord())
}

// CenterOf returns the center point of h.
func (g *Grid) CenterOf(h HexCoord) LatLng {
	x := g.edge * math.Sqrt(3) * (float64(h.Q) + float64(h.R)/2)
	y := g.edge * 1.5 * float64(h.R)
	return unproject(x, y)
}

// Neighbors returns the six tiles sharing an edge with id.
func (g *Grid) Neighbors(id TileID) []TileID {
	ns := id.Coord().Neighbors()
	out := make([]TileID, len(ns))
	for i, n := range ns {
		out[i] = n.ID()
	}
	return out
}

// DistanceMeters returns the great-circle distance between tile centers.
func (g *Grid) DistanceMeters(a, b TileID) float64 {
	return Haversine(g.Center(a), g.Center(b))
}

// TilesWithin returns every tile whose center lies within radius meters of p.
func (g *Grid) TilesWithin(p LatLng, radius float64) []TileID {
	if radius < 0 {
		return nil
	}
	origin := g.CoordOf(p)
	// Centers at hex distance d are at least 1.5*d*edge apart in the plane;
	// stretch covers the projection's shear away from the central meridian.
	phi := p.Lat * math.Pi / 180
	stretch := 1 + math.Abs(p.Lng*math.Pi/180*math.Sin(phi))
	k := int(math.Ceil(stretch * (radius + g.edge) / (1.5 * g.edge)))
	var out []TileID
	for _, h := range Disk(origin, k) {
		if Haversine(g.CenterOf(h), p) <= radius {
			out = append(out, h.ID())
		}
	}
	return out
}

func project(p LatLng) (x, y float64) {
	phi := p.Lat * math.Pi / 180
	lambda := p.Lng * math.Pi / 180
	return EarthRadiusMeters * lambda * math.Cos(phi), EarthRadiusMeters * phi
}

func unproject(x, y float64) LatLng {
	phi := y / EarthRadiusMeters
	c := math.Cos(phi)
	var lambda float64
	if math.Abs(c) > 1e-12 {
		lambda = x / (EarthRadiusMeters * c)
	}
	return LatLng{Lat: phi * 180 / math.Pi, Lng: lambda * 180 / math.Pi}
}

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b LatLng) float64 {
	const rad = math.Pi / 180
	dLat := (b.Lat - a.Lat) * rad
	dLng := (b.Lng - a.Lng) * rad
	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if s > 1 {
		s = 1
	}
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(s))
}
