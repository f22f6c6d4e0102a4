// Package flock computes steering forces for the horde and blends them into
// creature headings.
//
// Accumulate never touches headings; it emits ForceEvents. Integrate sorts
// the events into a canonical order before applying them, so how many workers
// produced them, and in which order they finished, cannot change the result.
package flock

import (
	"cmp"
	"slices"
	"sync"

	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/entity"
	"github.com/vovakirdan/horde-arena/internal/spatial"
)

// chaseStopDistance is how close a targeting creature gets before the chase
// force switches off.
const chaseStopDistance = 1.0

// ForceEvent asks Integrate to pull one entity's heading toward Dir.
// Seq is the production order within one agent's computation.
type ForceEvent struct {
	Entity entity.Entity
	Dir    core.Vec2
	Weight float32
	Seq    uint32
}

// Agent is a frame-frozen snapshot of one creature.
type Agent struct {
	Entity entity.Entity
	Pos    core.Vec2
	Dir    core.Vec2
	Kind   Kind
	Owner  entity.Entity // player the creature belongs to, Nil when wild
	Size   float32

	Target         entity.Entity // active pursuit, Nil when none
	Follow         entity.Entity // passive pursuit, Nil when none
	FollowDistance float32       // disengage distance for Follow
}

// flockmate reports whether a and b flock together.
func (a *Agent) flockmate(b *Agent) bool {
	return a.Kind == b.Kind && a.Owner == b.Owner
}

// Locator resolves the position of a pursuit target or follow owner.
// ok is false when the entity no longer exists.
type Locator interface {
	Position(e entity.Entity) (core.Vec2, bool)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(e entity.Entity) (core.Vec2, bool)

// Position calls f.
func (f LocatorFunc) Position(e entity.Entity) (core.Vec2, bool) {
	return f(e)
}

// Frame is everything the accumulator reads. It must not change while
// Accumulate runs.
type Frame struct {
	Agents  []Agent
	Grid    *spatial.Grid
	Weights Table
	Targets Locator

	index map[entity.Entity]int
}

// NewFrame builds a frame and its entity lookup.
func NewFrame(agents []Agent, grid *spatial.Grid, weights Table, targets Locator) *Frame {
	f := &Frame{
		Agents:  agents,
		Grid:    grid,
		Weights: weights,
		Targets: targets,
		index:   make(map[entity.Entity]int, len(agents)),
	}
	for i := range agents {
		f.index[agents[i].Entity] = i
	}
	return f
}

func (f *Frame) agent(e entity.Entity) (*Agent, bool) {
	i, ok := f.index[e]
	if !ok {
		return nil, false
	}
	return &f.Agents[i], true
}

// Sink collects events from concurrent workers. Each worker appends a whole
// agent's batch under one lock acquisition.
type Sink struct {
	mu     sync.Mutex
	events []ForceEvent
}

// Push appends a batch.
func (s *Sink) Push(batch []ForceEvent) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	s.events = append(s.events, batch...)
	s.mu.Unlock()
}

// Drain returns the collected events in canonical order and empties the sink.
func (s *Sink) Drain() []ForceEvent {
	s.mu.Lock()
	out := s.events
	s.events = nil
	s.mu.Unlock()

	Canonicalize(out)
	return out
}

// Canonicalize sorts events by entity, then by production sequence. The
// sort is stable, so events that compare equal keep the order they were
// produced in.
func Canonicalize(events []ForceEvent) {
	slices.SortStableFunc(events, func(a, b ForceEvent) int {
		switch {
		case a.Entity.Less(b.Entity):
			return -1
		case b.Entity.Less(a.Entity):
			return 1
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
}

// Accumulate computes every agent's force events. Agents are split into
// contiguous chunks of ceil(N/workers), one goroutine per chunk, and joined
// before returning. The result is canonical and independent of workers.
func Accumulate(f *Frame, workers int) []ForceEvent {
	n := len(f.Agents)
	if n == 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}

	var sink Sink
	if workers == 1 {
		accumulateChunk(f, f.Agents, &sink)
		return sink.Drain()
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(agents []Agent) {
			defer wg.Done()
			accumulateChunk(f, agents, &sink)
		}(f.Agents[start:end])
	}
	wg.Wait()

	return sink.Drain()
}

func accumulateChunk(f *Frame, agents []Agent, sink *Sink) {
	var (
		neighbors []entity.Entity
		batch     []ForceEvent
	)
	for i := range agents {
		batch = batch[:0]
		neighbors = neighbors[:0]
		batch, neighbors = agentForces(f, &agents[i], batch, neighbors)
		sink.Push(batch)
	}
}

// agentForces appends the events for a. buf and neighbors are scratch space
// reused across agents.
func agentForces(f *Frame, a *Agent, buf []ForceEvent, neighbors []entity.Entity) ([]ForceEvent, []entity.Entity) {
	if !a.Pos.IsFinite() {
		return buf, neighbors
	}

	w := f.Weights.For(a.Kind)
	var seq uint32
	emit := func(dir core.Vec2, weight float32) {
		unit, ok := dir.Normalize()
		if !ok {
			return
		}
		buf = append(buf, ForceEvent{Entity: a.Entity, Dir: unit, Weight: weight, Seq: seq})
		seq++
	}

	var (
		sumPos, sumDir, sumClose core.Vec2
		vision, halfVision       int
	)
	halfRadius := w.Vision / 2
	avoidRadius := a.Size * 2

	if f.Grid != nil {
		neighbors = f.Grid.AppendNearby(neighbors, a.Pos, w.Vision)
	}
	for _, e := range neighbors {
		if e == a.Entity {
			continue
		}
		b, ok := f.agent(e)
		if !ok {
			continue
		}
		d := a.Pos.Dist(b.Pos)

		if d <= avoidRadius {
			emit(a.Pos.Sub(b.Pos), w.Avoidance)
		}
		if !a.flockmate(b) {
			continue
		}
		if d <= w.Vision {
			vision++
			sumPos = sumPos.Add(b.Pos)
			sumDir = sumDir.Add(b.Dir)
		}
		if d <= halfRadius {
			halfVision++
			sumClose = sumClose.Add(b.Pos)
		}
	}

	if vision > 0 {
		inv := 1 / float32(vision)
		emit(sumPos.Scale(inv).Sub(a.Pos), w.Cohesion)
		emit(sumDir.Scale(inv), w.Alignment)
	}
	if halfVision > 0 {
		emit(a.Pos.Sub(sumClose.Scale(1/float32(halfVision))), w.Separation)
	}

	// Target overrides Follow. A lost target lets Follow resume.
	if f.Targets == nil {
		return buf, neighbors
	}
	if !a.Target.IsNil() {
		if p, ok := f.Targets.Position(a.Target); ok {
			if a.Pos.Dist(p) > chaseStopDistance {
				emit(p.Sub(a.Pos), w.Chase)
			}
			return buf, neighbors
		}
	}
	if !a.Follow.IsNil() {
		if p, ok := f.Targets.Position(a.Follow); ok && a.Pos.Dist(p) > a.FollowDistance {
			emit(p.Sub(a.Pos), w.Chase)
		}
	}
	return buf, neighbors
}
