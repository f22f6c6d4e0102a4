// Package spatial provides a coarse uniform-bucket hash grid answering
// "which entities are near this point" without a linear scan.
package spatial

import (
	"math"
	"sort"

	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/entity"
)

// DefaultCellSize is the bucket edge length in world units.
const DefaultCellSize = 20

// Cell is a signed integer cell coordinate.
type Cell struct {
	X, Y int32
}

// Grid maps cells to sets of entities, with an inverse index so that moving
// or removing an entity never scans buckets.
//
// Every live, positioned entity appears in exactly one bucket and has exactly
// one reverse entry; empty buckets are pruned.
type Grid struct {
	cellSize float32
	cells    map[Cell]map[entity.Entity]struct{}
	owners   map[entity.Entity]Cell
}

// NewGrid creates an empty grid. Non-positive sizes fall back to DefaultCellSize.
func NewGrid(cellSize float32) *Grid {
	if cellSize <= 0 || cellSize != cellSize {
		cellSize = DefaultCellSize
	}
	return &Grid{
		cellSize: cellSize,
		cells:    make(map[Cell]map[entity.Entity]struct{}),
		owners:   make(map[entity.Entity]Cell),
	}
}

// CellSize returns the bucket edge length.
func (g *Grid) CellSize() float32 {
	return g.cellSize
}

// CellOf returns the cell containing p.
func (g *Grid) CellOf(p core.Vec2) Cell {
	return Cell{X: g.coord(p.X), Y: g.coord(p.Y)}
}

func (g *Grid) coord(v float32) int32 {
	return int32(math.Floor(float64(v / g.cellSize)))
}

// Update records that e is at p. No-op when e is already in p's cell.
// Non-finite positions are ignored so a corrupted transform cannot poison
// the index.
func (g *Grid) Update(e entity.Entity, p core.Vec2) {
	if !p.IsFinite() {
		return
	}
	cell := g.CellOf(p)
	if old, ok := g.owners[e]; ok {
		if old == cell {
			return
		}
		g.removeFromBucket(e, old)
	}

	bucket := g.cells[cell]
	if bucket == nil {
		bucket = make(map[entity.Entity]struct{})
		g.cells[cell] = bucket
	}
	bucket[e] = struct{}{}
	g.owners[e] = cell
}

// Remove drops e from the grid, pruning its bucket if it becomes empty.
func (g *Grid) Remove(e entity.Entity) {
	cell, ok := g.owners[e]
	if !ok {
		return
	}
	g.removeFromBucket(e, cell)
	delete(g.owners, e)
}

func (g *Grid) removeFromBucket(e entity.Entity, cell Cell) {
	bucket := g.cells[cell]
	if bucket == nil {
		return
	}
	delete(bucket, e)
	if len(bucket) == 0 {
		delete(g.cells, cell)
	}
}

// QueryNearby returns every entity in the cells overlapping the square that
// bounds the circle (p, radius). The result over-approximates: callers must
// re-check exact distance. Entities are returned once each, in ascending
// handle order, so summing over the result is reproducible.
func (g *Grid) QueryNearby(p core.Vec2, radius float32) []entity.Entity {
	return g.AppendNearby(nil, p, radius)
}

// AppendNearby is QueryNearby appending into buf to avoid per-call allocation.
func (g *Grid) AppendNearby(buf []entity.Entity, p core.Vec2, radius float32) []entity.Entity {
	if len(g.cells) == 0 || !p.IsFinite() || radius < 0 || radius != radius {
		return buf
	}

	begin := g.CellOf(core.V(p.X-radius, p.Y-radius))
	span := int32(math.Ceil(float64(radius * 2 / g.cellSize)))

	start := len(buf)
	// Each entity lives in exactly one bucket, so the union has no duplicates.
	for y := begin.Y; y <= begin.Y+span; y++ {
		for x := begin.X; x <= begin.X+span; x++ {
			for e := range g.cells[Cell{X: x, Y: y}] {
				buf = append(buf, e)
			}
		}
	}

	found := buf[start:]
	sort.Slice(found, func(i, j int) bool { return found[i].Less(found[j]) })
	return buf
}

// Len returns the number of indexed entities.
func (g *Grid) Len() int {
	return len(g.owners)
}

// Buckets returns the number of non-empty cells.
func (g *Grid) Buckets() int {
	return len(g.cells)
}

// Contains reports whether e is indexed, and in which cell.
func (g *Grid) Contains(e entity.Entity) (Cell, bool) {
	c, ok := g.owners[e]
	return c, ok
}

// Reset removes every entity.
func (g *Grid) Reset() {
	clear(g.cells)
	clear(g.owners)
}
