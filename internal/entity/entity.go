// Package entity provides generational entity handles and dense component
// tables. Components refer to each other only through handles, so a lookup
// through a handle whose entity was destroyed fails softly instead of
// dereferencing freed state.
package entity

import "fmt"

// Entity is an opaque, stable, reusable-after-free handle.
// Index addresses the slot; Gen is bumped every time the slot is freed.
type Entity struct {
	Index uint32
	Gen   uint32
}

// Nil is the zero handle. No live entity ever has generation 0.
var Nil = Entity{}

// IsNil reports whether e is the zero handle.
func (e Entity) IsNil() bool {
	return e.Gen == 0
}

// Less orders entities by index, then generation. This is the canonical
// order used wherever iteration order affects simulation results.
func (e Entity) Less(o Entity) bool {
	if e.Index != o.Index {
		return e.Index < o.Index
	}
	return e.Gen < o.Gen
}

// String returns "index:gen".
func (e Entity) String() string {
	return fmt.Sprintf("%d:%d", e.Index, e.Gen)
}

// Allocator owns the identifier space.
// Freed indices are reused lowest-first so allocation order is deterministic.
type Allocator struct {
	gens []uint32 // current generation per index; 0 = never used
	live []bool
	free []uint32 // sorted descending so the lowest index pops last
}

// NewAllocator creates an empty allocator.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// Create mints a new live handle.
func (a *Allocator) Create() Entity {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.gens[idx]++
		a.live[idx] = true
		return Entity{Index: idx, Gen: a.gens[idx]}
	}
	idx := uint32(len(a.gens)) //nolint:gosec // entity counts stay far below 2^32
	a.gens = append(a.gens, 1)
	a.live = append(a.live, true)
	return Entity{Index: idx, Gen: 1}
}

// Destroy frees a handle. Destroying a stale or nil handle is a no-op.
func (a *Allocator) Destroy(e Entity) {
	if !a.Alive(e) {
		return
	}
	a.live[e.Index] = false

	// Keep free list sorted descending; insertion is rare relative to lookups.
	pos := len(a.free)
	for i, idx := range a.free {
		if idx < e.Index {
			pos = i
			break
		}
	}
	a.free = append(a.free, 0)
	copy(a.free[pos+1:], a.free[pos:])
	a.free[pos] = e.Index
}

// Alive reports whether e refers to a live entity.
func (a *Allocator) Alive(e Entity) bool {
	if e.IsNil() || int(e.Index) >= len(a.gens) {
		return false
	}
	return a.live[e.Index] && a.gens[e.Index] == e.Gen
}

// Len returns the number of live entities.
func (a *Allocator) Len() int {
	return len(a.gens) - len(a.free)
}

// Each calls fn for every index ever allocated, in ascending order, with its
// current generation and liveness. Together these determine the free list and
// therefore every handle future Creates will mint.
func (a *Allocator) Each(fn func(index, gen uint32, live bool)) {
	for i, gen := range a.gens {
		fn(uint32(i), gen, a.live[i]) //nolint:gosec // bounded by len(gens)
	}
}

// Clone returns a deep copy, used when saving rollback state.
func (a *Allocator) Clone() *Allocator {
	return &Allocator{
		gens: append([]uint32(nil), a.gens...),
		live: append([]bool(nil), a.live...),
		free: append([]uint32(nil), a.free...),
	}
}
