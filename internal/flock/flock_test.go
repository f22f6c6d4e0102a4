package flock

import (
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/entity"
	"github.com/vovakirdan/horde-arena/internal/spatial"
)

const step = float32(1.0 / 60.0)

// world is a small fixture: creatures in a grid plus positioned players.
type world struct {
	alloc   *entity.Allocator
	grid    *spatial.Grid
	agents  []Agent
	players map[entity.Entity]core.Vec2
}

func newWorld() *world {
	return &world{
		alloc:   entity.NewAllocator(),
		grid:    spatial.NewGrid(spatial.DefaultCellSize),
		players: make(map[entity.Entity]core.Vec2),
	}
}

func (w *world) addPlayer(p core.Vec2) entity.Entity {
	e := w.alloc.Create()
	w.players[e] = p
	return e
}

func (w *world) addAgent(a Agent) *Agent {
	a.Entity = w.alloc.Create()
	if a.Size == 0 {
		a.Size = 10
	}
	w.grid.Update(a.Entity, a.Pos)
	w.agents = append(w.agents, a)
	return &w.agents[len(w.agents)-1]
}

func (w *world) frame() *Frame {
	return NewFrame(w.agents, w.grid, DefaultTable(), LocatorFunc(func(e entity.Entity) (core.Vec2, bool) {
		p, ok := w.players[e]
		return p, ok
	}))
}

func eventsFor(events []ForceEvent, e entity.Entity) []ForceEvent {
	var out []ForceEvent
	for _, ev := range events {
		if ev.Entity == e {
			out = append(out, ev)
		}
	}
	return out
}

func TestAccumulateIndependentOfWorkers(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	w := newWorld()
	owner := w.addPlayer(core.V(0, 0))

	for i := 0; i < 400; i++ {
		a := Agent{
			Pos:  core.V(rng.Float32()*600-300, rng.Float32()*600-300),
			Dir:  core.FromAngle(rng.Float32() * 2 * math.Pi),
			Kind: Kind(rng.Intn(3)),
			Size: 10 + rng.Float32()*5,
		}
		if i%3 == 0 {
			a.Owner = owner
			a.Follow = owner
			a.FollowDistance = 25 + rng.Float32()*50
		}
		w.addAgent(a)
	}

	f := w.frame()
	base := Accumulate(f, 1)
	if len(base) == 0 {
		t.Fatal("expected some events from a dense horde")
	}

	for _, workers := range []int{2, 3, 7, 16, 1000} {
		got := Accumulate(f, workers)
		if !slices.Equal(base, got) {
			t.Errorf("workers=%d: events differ from single worker (%d vs %d events)", workers, len(base), len(got))
		}
	}
}

func TestFollowEmitsOnlyBeyondDistance(t *testing.T) {
	tests := []struct {
		name     string
		distance float32
		expected int
	}{
		{name: "far from owner", distance: 80, expected: 1},
		{name: "within disengage distance", distance: 30, expected: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := newWorld()
			owner := w.addPlayer(core.V(0, 0))
			a := w.addAgent(Agent{
				Pos:            core.V(tc.distance, 0),
				Dir:            core.V(0, 1),
				Owner:          owner,
				Follow:         owner,
				FollowDistance: 50,
			})

			events := Accumulate(w.frame(), 4)
			if len(events) != tc.expected {
				t.Fatalf("expected %d events, got %d: %+v", tc.expected, len(events), events)
			}
			if tc.expected == 1 {
				ev := events[0]
				if ev.Entity != a.Entity {
					t.Errorf("event for %v, expected %v", ev.Entity, a.Entity)
				}
				if ev.Dir.Dist(core.V(-1, 0)) > 1e-6 {
					t.Errorf("follow direction = %v, expected toward owner (-1,0)", ev.Dir)
				}
				if ev.Weight != ZombieWeights.Chase {
					t.Errorf("weight = %v, expected %v", ev.Weight, ZombieWeights.Chase)
				}
			}
		})
	}
}

func TestTargetOverridesFollow(t *testing.T) {
	w := newWorld()
	owner := w.addPlayer(core.V(0, 200))
	enemy := w.addPlayer(core.V(200, 0))
	a := w.addAgent(Agent{
		Pos:            core.V(0, 0),
		Dir:            core.V(0, 1),
		Owner:          owner,
		Follow:         owner,
		FollowDistance: 50,
		Target:         enemy,
	})

	events := Accumulate(w.frame(), 1)
	if len(events) != 1 {
		t.Fatalf("expected a single chase event, got %+v", events)
	}
	if events[0].Entity != a.Entity || events[0].Dir.Dist(core.V(1, 0)) > 1e-6 {
		t.Errorf("chase event = %+v, expected toward target (1,0)", events[0])
	}
}

func TestStaleTargetFallsBackToFollow(t *testing.T) {
	w := newWorld()
	owner := w.addPlayer(core.V(0, 200))
	gone := w.alloc.Create()
	w.alloc.Destroy(gone)

	w.addAgent(Agent{
		Pos:            core.V(0, 0),
		Dir:            core.V(1, 0),
		Owner:          owner,
		Follow:         owner,
		FollowDistance: 50,
		Target:         gone,
	})

	events := Accumulate(w.frame(), 1)
	if len(events) != 1 || events[0].Dir.Dist(core.V(0, 1)) > 1e-6 {
		t.Errorf("expected one follow event toward owner, got %+v", events)
	}
}

func TestStaleFollowOwnerIsSoftMiss(t *testing.T) {
	w := newWorld()
	owner := w.addPlayer(core.V(0, 200))
	delete(w.players, owner)
	w.addAgent(Agent{Pos: core.V(0, 0), Dir: core.V(1, 0), Owner: owner, Follow: owner, FollowDistance: 10})

	if events := Accumulate(w.frame(), 2); len(events) != 0 {
		t.Errorf("expected no events for a lost owner, got %+v", events)
	}
}

func TestSeparationScenario(t *testing.T) {
	w := newWorld()
	a := w.addAgent(Agent{Pos: core.V(0, 0), Dir: core.V(0, 1)})
	b := w.addAgent(Agent{Pos: core.V(30, 0), Dir: core.V(0, -1)})

	events := Accumulate(w.frame(), 2)

	// Neither is inside the other's avoidance radius, so each emits
	// cohesion, alignment and separation in that order.
	evA := eventsFor(events, a.Entity)
	if len(evA) != 3 {
		t.Fatalf("expected 3 events for A, got %+v", evA)
	}
	sep := evA[2]
	if sep.Weight != ZombieWeights.Separation || sep.Dir.Dist(core.V(-1, 0)) > 1e-6 {
		t.Errorf("separation event = %+v, expected (-1,0) with weight %v", sep, ZombieWeights.Separation)
	}

	dirs := map[entity.Entity]core.Vec2{a.Entity: a.Dir, b.Entity: b.Dir}
	Integrate(events, mapDirections(dirs), step)

	da, db := dirs[a.Entity], dirs[b.Entity]
	if da.X <= 0 {
		t.Errorf("A heading %v should lean toward B (+x)", da)
	}
	if db.X >= 0 {
		t.Errorf("B heading %v should lean toward A (-x)", db)
	}
	if math.Abs(float64(da.X+db.X)) > 1e-5 {
		t.Errorf("headings should mirror: %v vs %v", da, db)
	}
	for _, d := range []core.Vec2{da, db} {
		if math.Abs(float64(d.Len()-1)) > 1e-5 {
			t.Errorf("heading %v is not unit length", d)
		}
	}
}

func TestAvoidanceIgnoresType(t *testing.T) {
	w := newWorld()
	p := w.addPlayer(core.V(500, 500))
	a := w.addAgent(Agent{Pos: core.V(0, 0), Dir: core.V(0, 1), Kind: KindZombie})
	w.addAgent(Agent{Pos: core.V(5, 0), Dir: core.V(0, 1), Kind: KindRunner, Owner: p})

	evA := eventsFor(Accumulate(w.frame(), 1), a.Entity)
	if len(evA) != 1 {
		t.Fatalf("expected only an avoidance event, got %+v", evA)
	}
	if evA[0].Weight != ZombieWeights.Avoidance || evA[0].Dir.Dist(core.V(-1, 0)) > 1e-6 {
		t.Errorf("avoidance event = %+v", evA[0])
	}
}

func TestCoincidentAgentsEmitNoNaN(t *testing.T) {
	w := newWorld()
	w.addAgent(Agent{Pos: core.V(3, 3), Dir: core.V(0, 1)})
	w.addAgent(Agent{Pos: core.V(3, 3), Dir: core.V(0, 1)})

	for _, ev := range Accumulate(w.frame(), 1) {
		if ev.Dir.IsNaN() {
			t.Fatalf("NaN direction emitted: %+v", ev)
		}
	}
}

func TestIntegrateSkipsNaNAndMissing(t *testing.T) {
	alloc := entity.NewAllocator()
	nanEnt, okEnt, gone := alloc.Create(), alloc.Create(), alloc.Create()
	nan := float32(math.NaN())

	dirs := map[entity.Entity]core.Vec2{
		nanEnt: core.V(nan, 1),
		okEnt:  core.V(0, 1),
	}
	events := []ForceEvent{
		{Entity: nanEnt, Dir: core.V(1, 0), Weight: 10},
		{Entity: gone, Dir: core.V(1, 0), Weight: 10},
		{Entity: okEnt, Dir: core.V(1, 0), Weight: 10},
	}

	if n := Integrate(events, mapDirections(dirs), step); n != 1 {
		t.Errorf("applied %d events, expected 1", n)
	}
	if !dirs[nanEnt].IsNaN() {
		t.Error("NaN heading should be left untouched")
	}
	if dirs[okEnt].X <= 0 {
		t.Errorf("heading %v should lean toward +x", dirs[okEnt])
	}
}

func TestIntegrateKeepsHeadingOnCollapse(t *testing.T) {
	alloc := entity.NewAllocator()
	e := alloc.Create()
	dirs := map[entity.Entity]core.Vec2{e: core.V(0, 1)}

	// Halfway toward the exact opposite direction is the zero vector.
	Integrate([]ForceEvent{{Entity: e, Dir: core.V(0, -1), Weight: 0.5}}, mapDirections(dirs), 1)
	if dirs[e] != core.V(0, 1) {
		t.Errorf("heading = %v, expected unchanged (0,1)", dirs[e])
	}
}

func TestIntegrateOrderIsCanonical(t *testing.T) {
	alloc := entity.NewAllocator()
	e := alloc.Create()
	events := []ForceEvent{
		{Entity: e, Dir: core.V(1, 0), Weight: 20, Seq: 0},
		{Entity: e, Dir: core.V(-1, 0), Weight: 5, Seq: 1},
		{Entity: e, Dir: core.V(0, -1), Weight: 12, Seq: 2},
	}
	shuffled := []ForceEvent{events[2], events[0], events[1]}

	d1 := map[entity.Entity]core.Vec2{e: core.V(0, 1)}
	d2 := map[entity.Entity]core.Vec2{e: core.V(0, 1)}
	Integrate(events, mapDirections(d1), step)
	Integrate(shuffled, mapDirections(d2), step)

	if d1[e] != d2[e] {
		t.Errorf("arrival order changed result: %v vs %v", d1[e], d2[e])
	}
}

func TestCanonicalizeLongSequences(t *testing.T) {
	alloc := entity.NewAllocator()
	a, b := alloc.Create(), alloc.Create()

	// More events than a 16-bit sequence can number, produced back to
	// front and interleaved with a second entity.
	const n = 70000
	events := make([]ForceEvent, 0, 2*n)
	for i := n - 1; i >= 0; i-- {
		events = append(events,
			ForceEvent{Entity: b, Weight: float32(i), Seq: uint32(i)},
			ForceEvent{Entity: a, Weight: float32(i), Seq: uint32(i)})
	}
	Canonicalize(events)

	for i, ev := range events {
		wantEntity, wantSeq := a, uint32(i)
		if i >= n {
			wantEntity, wantSeq = b, uint32(i-n)
		}
		if ev.Entity != wantEntity || ev.Seq != wantSeq {
			t.Fatalf("event %d = {%v seq %d}, expected {%v seq %d}", i, ev.Entity, ev.Seq, wantEntity, wantSeq)
		}
	}
}

func TestCanonicalizeIsStable(t *testing.T) {
	alloc := entity.NewAllocator()
	e := alloc.Create()
	events := make([]ForceEvent, 50)
	for i := range events {
		events[i] = ForceEvent{Entity: e, Weight: float32(i), Seq: 7}
	}
	Canonicalize(events)
	for i, ev := range events {
		if ev.Weight != float32(i) {
			t.Fatalf("equal events reordered: position %d holds weight %v", i, ev.Weight)
		}
	}
}

func TestTableDirections(t *testing.T) {
	alloc := entity.NewAllocator()
	tbl := entity.NewTable[core.Vec2]()
	e := alloc.Create()
	tbl.Set(e, core.V(0, 1))

	Integrate([]ForceEvent{{Entity: e, Dir: core.V(1, 0), Weight: 15}}, TableDirections{Table: tbl}, step)
	if d, _ := tbl.Get(e); d.X <= 0 {
		t.Errorf("table heading %v not updated", d)
	}
}

type mapDirections map[entity.Entity]core.Vec2

func (m mapDirections) Direction(e entity.Entity) (core.Vec2, bool) {
	d, ok := m[e]
	return d, ok
}

func (m mapDirections) SetDirection(e entity.Entity, d core.Vec2) {
	m[e] = d
}
