package hexgrid

import "sort"

// Set is an unordered collection of tiles.
type Set map[TileID]struct{}

// NewSet returns a set holding ids.
func NewSet(ids ...TileID) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id.
func (s Set) Add(id TileID) {
	s[id] = struct{}{}
}

// Has reports whether id is in the set.
func (s Set) Has(id TileID) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of tiles.
func (s Set) Len() int {
	return len(s)
}

// Sorted returns the tiles in lexical order.
func (s Set) Sorted() []TileID {
	out := make([]TileID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
