package entity

type slot[T any] struct {
	gen     uint32
	present bool
	val     T
}

// Table stores one component type densely by entity index.
// Iteration is always in ascending index order, which keeps every system
// that walks a table deterministic.
type Table[T any] struct {
	slots []slot[T]
	count int
}

// NewTable creates an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{}
}

// Set attaches or replaces the component for e.
func (t *Table[T]) Set(e Entity, v T) {
	if e.IsNil() {
		return
	}
	for int(e.Index) >= len(t.slots) {
		t.slots = append(t.slots, slot[T]{})
	}
	s := &t.slots[e.Index]
	if !s.present {
		t.count++
	}
	s.gen = e.Gen
	s.present = true
	s.val = v
}

// Get returns the component for e. ok is false if e has no component or the
// handle is stale.
func (t *Table[T]) Get(e Entity) (T, bool) {
	var zero T
	if e.IsNil() || int(e.Index) >= len(t.slots) {
		return zero, false
	}
	s := &t.slots[e.Index]
	if !s.present || s.gen != e.Gen {
		return zero, false
	}
	return s.val, true
}

// Ptr returns a pointer to the component for in-place mutation, or nil.
// The pointer is invalidated by the next Set that grows the table.
func (t *Table[T]) Ptr(e Entity) *T {
	if e.IsNil() || int(e.Index) >= len(t.slots) {
		return nil
	}
	s := &t.slots[e.Index]
	if !s.present || s.gen != e.Gen {
		return nil
	}
	return &s.val
}

// Has reports whether e has a component in this table.
func (t *Table[T]) Has(e Entity) bool {
	_, ok := t.Get(e)
	return ok
}

// Remove detaches the component for e. Stale handles are ignored.
func (t *Table[T]) Remove(e Entity) {
	if e.IsNil() || int(e.Index) >= len(t.slots) {
		return
	}
	s := &t.slots[e.Index]
	if !s.present || s.gen != e.Gen {
		return
	}
	var zero T
	s.present = false
	s.val = zero
	t.count--
}

// Len returns the number of entities with this component.
func (t *Table[T]) Len() int {
	return t.count
}

// Each calls fn for every present component in ascending index order.
// fn receives a pointer it may mutate; it must not add or remove entries.
func (t *Table[T]) Each(fn func(e Entity, v *T)) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.present {
			fn(Entity{Index: uint32(i), Gen: s.gen}, &s.val) //nolint:gosec // index bounded by slice length
		}
	}
}

// Entities returns the handles present in the table in ascending index order.
func (t *Table[T]) Entities() []Entity {
	out := make([]Entity, 0, t.count)
	t.Each(func(e Entity, _ *T) {
		out = append(out, e)
	})
	return out
}

// Clone returns a copy of the table. Components are copied by value, so T
// must not contain pointers or slices shared with live state.
func (t *Table[T]) Clone() *Table[T] {
	return &Table[T]{
		slots: append([]slot[T](nil), t.slots...),
		count: t.count,
	}
}
