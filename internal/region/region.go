// Package region measures how contiguous an owner's holdings are.
package region

import (
	"context"
	"fmt"
	"sort"

	"github.com/talgya/hexturf/internal/hexgrid"
	"github.com/talgya/hexturf/internal/ledger"
)

// ConnectedSize returns the number of owned tiles reachable from start through
// owned neighbors, start included. Zero when start is not owned. Work is
// proportional to the size of start's cluster, not the whole map.
func ConnectedSize(idx hexgrid.Index, owned hexgrid.Set, start hexgrid.TileID) int {
	return len(cluster(idx, owned, start, nil))
}

// cluster runs a BFS from start restricted to owned and returns the visited tiles.
// seen, when non-nil, is shared across calls so callers can partition a set.
func cluster(idx hexgrid.Index, owned hexgrid.Set, start hexgrid.TileID, seen hexgrid.Set) []hexgrid.TileID {
	if !owned.Has(start) {
		return nil
	}
	if seen == nil {
		seen = make(hexgrid.Set)
	} else if seen.Has(start) {
		return nil
	}
	seen.Add(start)

	queue := []hexgrid.TileID{start}
	for i := 0; i < len(queue); i++ {
		for _, n := range idx.Neighbors(queue[i]) {
			if !owned.Has(n) || seen.Has(n) {
				continue
			}
			seen.Add(n)
			queue = append(queue, n)
		}
	}
	return queue
}

// Largest returns the size of the biggest connected cluster in owned and the
// smallest tile ID in it. Ties go to the cluster holding the smaller ID.
func Largest(idx hexgrid.Index, owned hexgrid.Set) (int, hexgrid.TileID) {
	var (
		best   int
		anchor hexgrid.TileID
	)
	seen := make(hexgrid.Set, owned.Len())
	for _, id := range owned.Sorted() {
		c := cluster(idx, owned, id, seen)
		if len(c) > best {
			best, anchor = len(c), id
		}
	}
	return best, anchor
}

// Clusters returns the sizes of every connected cluster, largest first.
func Clusters(idx hexgrid.Index, owned hexgrid.Set) []int {
	var sizes []int
	seen := make(hexgrid.Set, owned.Len())
	for _, id := range owned.Sorted() {
		if c := cluster(idx, owned, id, seen); len(c) > 0 {
			sizes = append(sizes, len(c))
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sizes)))
	return sizes
}

// Owners is the part of the ledger the analyzer reads.
type Owners interface {
	OwnerOf(ctx context.Context, tile hexgrid.TileID) (ledger.Ownership, bool, error)
	TilesOwnedBy(ctx context.Context, ownerID string) (hexgrid.Set, error)
}

// Analyzer answers region queries against the live ledger.
type Analyzer struct {
	Index  hexgrid.Index
	Owners Owners
}

// Region is the connected holding around one tile.
type Region struct {
	Tile  hexgrid.TileID `json:"tile"`
	Owner *ledger.Owner  `json:"owner,omitempty"`
	Size  int            `json:"size"`
}

// RegionOf returns the connected region of the tile's current owner.
func (a *Analyzer) RegionOf(ctx context.Context, tile hexgrid.TileID) (Region, error) {
	o, ok, err := a.Owners.OwnerOf(ctx, tile)
	if err != nil {
		return Region{}, err
	}
	if !ok {
		return Region{Tile: tile}, nil
	}
	owned, err := a.Owners.TilesOwnedBy(ctx, o.Owner.ID)
	if err != nil {
		return Region{}, fmt.Errorf("region of %s: %w", tile, err)
	}
	owner := o.Owner
	return Region{Tile: tile, Owner: &owner, Size: ConnectedSize(a.Index, owned, tile)}, nil
}

// Bonus is an owner's adjacency summary.
type Bonus struct {
	OwnerID  string         `json:"owner_id"`
	Owned    int            `json:"owned"`
	Largest  int            `json:"largest_region"`
	Anchor   hexgrid.TileID `json:"anchor,omitempty"`
	Clusters []int          `json:"clusters"`
}

// Bonus computes the adjacency bonus inputs for ownerID.
func (a *Analyzer) Bonus(ctx context.Context, ownerID string) (Bonus, error) {
	owned, err := a.Owners.TilesOwnedBy(ctx, ownerID)
	if err != nil {
		return Bonus{}, err
	}
	size, anchor := Largest(a.Index, owned)
	clusters := Clusters(a.Index, owned)
	if clusters == nil {
		clusters = []int{}
	}
	return Bonus{
		OwnerID:  ownerID,
		Owned:    owned.Len(),
		Largest:  size,
		Anchor:   anchor,
		Clusters: clusters,
	}, nil
}
