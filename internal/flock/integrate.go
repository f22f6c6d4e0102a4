package flock

import (
	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/entity"
)

// DirectionStore gives Integrate read/write access to headings.
type DirectionStore interface {
	Direction(e entity.Entity) (core.Vec2, bool)
	SetDirection(e entity.Entity, dir core.Vec2)
}

// TableDirections adapts a component table to DirectionStore.
type TableDirections struct {
	Table *entity.Table[core.Vec2]
}

// Direction returns the heading of e.
func (t TableDirections) Direction(e entity.Entity) (core.Vec2, bool) {
	return t.Table.Get(e)
}

// SetDirection overwrites the heading of e if it still exists.
func (t TableDirections) SetDirection(e entity.Entity, dir core.Vec2) {
	if p := t.Table.Ptr(e); p != nil {
		*p = dir
	}
}

// Integrate applies events in canonical order. Each event blends the heading
// toward Dir by Weight*step and re-normalizes. Headings that are NaN, and
// entities that no longer exist, are skipped. A blend that collapses to zero
// length keeps the previous heading. Returns the number of events applied.
func Integrate(events []ForceEvent, dirs DirectionStore, step float32) int {
	Canonicalize(events)

	applied := 0
	for _, ev := range events {
		cur, ok := dirs.Direction(ev.Entity)
		if !ok || cur.IsNaN() {
			continue
		}
		next, ok := cur.Lerp(ev.Dir, ev.Weight*step).Normalize()
		if !ok {
			continue
		}
		dirs.SetDirection(ev.Entity, next)
		applied++
	}
	return applied
}
