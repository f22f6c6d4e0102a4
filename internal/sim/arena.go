// Package sim holds the arena world state and the per-frame pipeline that
// advances it. Everything reachable from State is rollback state: Save and
// Load round-trip it exactly, and Checksum fingerprints it.
package sim

import (
	"io"
	"math"
	"math/rand"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/entity"
	"github.com/vovakirdan/horde-arena/internal/flock"
	"github.com/vovakirdan/horde-arena/internal/spatial"
)

// State is a complete snapshot of the arena.
type State struct {
	Frame      uint32
	Alloc      *entity.Allocator
	Transforms *entity.Table[Transform]
	Dirs       *entity.Table[core.Vec2]
	Creatures  *entity.Table[Creature]
	Follows    *entity.Table[Follow]
	Targets    *entity.Table[Target]
	Players    *entity.Table[Player]
	Health     *entity.Table[Health]
	Bullets    *entity.Table[Bullet]
	Slots      []entity.Entity // live player entity per slot, Nil while dead
	Respawns   []Respawn
	Stats      []SlotStats
}

// Clone deep-copies the snapshot.
func (s *State) Clone() State {
	return State{
		Frame:      s.Frame,
		Alloc:      s.Alloc.Clone(),
		Transforms: s.Transforms.Clone(),
		Dirs:       s.Dirs.Clone(),
		Creatures:  s.Creatures.Clone(),
		Follows:    s.Follows.Clone(),
		Targets:    s.Targets.Clone(),
		Players:    s.Players.Clone(),
		Health:     s.Health.Clone(),
		Bullets:    s.Bullets.Clone(),
		Slots:      append([]entity.Entity(nil), s.Slots...),
		Respawns:   append([]Respawn(nil), s.Respawns...),
		Stats:      append([]SlotStats(nil), s.Stats...),
	}
}

// Arena is the simulated world.
type Arena struct {
	cfg    Config
	step   float32
	state  State
	grid   *spatial.Grid
	logger *log.Logger

	// scratch reused across frames; never part of State
	agents []flock.Agent
}

// Option configures an Arena.
type Option func(*Arena)

// WithLogger sets the logger. Nil means discard.
func WithLogger(l *log.Logger) Option {
	return func(a *Arena) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewArena creates an arena and spawns the players and the initial horde.
// The seeded RNG is only used here; frames draw from frameRand.
func NewArena(cfg Config, opts ...Option) *Arena {
	if cfg.Runtime.Players < 1 {
		cfg.Runtime.Players = 1
	}
	if len(cfg.Weights) == 0 {
		cfg.Weights = flock.DefaultTable()
	}
	if len(cfg.Horde.Kinds) == 0 {
		cfg.Horde.Kinds = []flock.Kind{flock.KindZombie}
	}

	a := &Arena{
		cfg:    cfg,
		step:   cfg.Runtime.StepDuration(),
		grid:   spatial.NewGrid(cfg.CellSize),
		logger: log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(a)
	}

	n := cfg.Runtime.Players
	a.state = State{
		Alloc:      entity.NewAllocator(),
		Transforms: entity.NewTable[Transform](),
		Dirs:       entity.NewTable[core.Vec2](),
		Creatures:  entity.NewTable[Creature](),
		Follows:    entity.NewTable[Follow](),
		Targets:    entity.NewTable[Target](),
		Players:    entity.NewTable[Player](),
		Health:     entity.NewTable[Health](),
		Bullets:    entity.NewTable[Bullet](),
		Slots:      make([]entity.Entity, n),
		Stats:      make([]SlotStats, n),
	}

	for slot := 0; slot < n; slot++ {
		a.spawnPlayer(slot)
	}

	rng := rand.New(rand.NewSource(cfg.Runtime.Seed)) //nolint:gosec // gameplay RNG, not security
	m := cfg.Runtime.Map
	for i := 0; i < cfg.Horde.Count; i++ {
		pos := core.V((rng.Float32()-0.5)*m.Width, (rng.Float32()-0.5)*m.Height)
		dir := core.FromAngle(rng.Float32() * 2 * math.Pi)
		size := cfg.Horde.SizeMin + float32(rng.Float32()*(cfg.Horde.SizeMax-cfg.Horde.SizeMin))
		kind := cfg.Horde.Kinds[rng.Intn(len(cfg.Horde.Kinds))]
		a.SpawnCreature(kind, pos, dir, size)
	}
	a.syncGrid()

	a.logger.Debug("arena ready", "players", n, "creatures", cfg.Horde.Count, "seed", cfg.Runtime.Seed)
	return a
}

// Config returns the arena configuration.
func (a *Arena) Config() Config {
	return a.cfg
}

// Frame returns the number of frames simulated.
func (a *Arena) Frame() uint32 {
	return a.state.Frame
}

// Save returns a snapshot of all rollback state.
func (a *Arena) Save() State {
	return a.state.Clone()
}

// Load restores a snapshot. The spatial grid is derived data and is rebuilt
// from the restored positions.
func (a *Arena) Load(s State) {
	a.state = s.Clone()
	a.grid.Reset()
	a.syncGrid()
}

// Grid exposes the spatial index for read-only inspection.
func (a *Arena) Grid() *spatial.Grid {
	return a.grid
}

// SlotEntity returns the live player entity for slot.
func (a *Arena) SlotEntity(slot int) (entity.Entity, bool) {
	if slot < 0 || slot >= len(a.state.Slots) {
		return entity.Nil, false
	}
	e := a.state.Slots[slot]
	return e, !e.IsNil()
}

// SpawnCreature adds a wild creature. Exposed for tools and tests that build
// scripted scenarios; rounds spawn their horde in NewArena.
func (a *Arena) SpawnCreature(kind flock.Kind, pos, dir core.Vec2, size float32) entity.Entity {
	s := &a.state
	pos = a.cfg.Runtime.Map.Clamp(pos)
	e := s.Alloc.Create()
	s.Transforms.Set(e, Transform{Pos: pos, Rot: core.Angle(dir)})
	s.Dirs.Set(e, dir)
	s.Creatures.Set(e, Creature{Kind: kind, Size: size, Cooldown: a.cfg.ticks(a.cfg.Horde.AttackCooldownSec)})
	s.Health.Set(e, Health{HP: a.cfg.Horde.Health})
	a.grid.Update(e, pos)
	return e
}

// spawnPoint places slot on a circle of radius min(w,h)/4 around the center.
func (a *Arena) spawnPoint(slot int) core.Vec2 {
	m := a.cfg.Runtime.Map
	r := min(m.Width, m.Height) / 4
	angle := float64(slot) / float64(a.cfg.Runtime.Players) * 2 * math.Pi
	s, c := core.Sincos(angle)
	return core.V(float32(c)*r, float32(s)*r)
}

func (a *Arena) spawnPlayer(slot int) entity.Entity {
	s := &a.state
	e := s.Alloc.Create()
	s.Transforms.Set(e, Transform{Pos: a.spawnPoint(slot)})
	s.Players.Set(e, Player{Slot: slot, BulletReady: true, Size: a.cfg.Player.Size})
	s.Health.Set(e, Health{HP: a.cfg.Player.Health})
	s.Slots[slot] = e
	return e
}

func (a *Arena) destroy(e entity.Entity) {
	s := &a.state
	s.Transforms.Remove(e)
	s.Dirs.Remove(e)
	s.Creatures.Remove(e)
	s.Follows.Remove(e)
	s.Targets.Remove(e)
	s.Players.Remove(e)
	s.Health.Remove(e)
	s.Bullets.Remove(e)
	a.grid.Remove(e)
	s.Alloc.Destroy(e)
}

// playerPos resolves a live player's position. It is the Locator the force
// accumulator uses for Follow and Target.
func (a *Arena) playerPos(e entity.Entity) (core.Vec2, bool) {
	if !a.state.Players.Has(e) {
		return core.Vec2{}, false
	}
	t, ok := a.state.Transforms.Get(e)
	return t.Pos, ok
}

// syncGrid writes every creature's current position into the grid.
func (a *Arena) syncGrid() {
	a.state.Creatures.Each(func(e entity.Entity, _ *Creature) {
		if t, ok := a.state.Transforms.Get(e); ok {
			a.grid.Update(e, t.Pos)
		}
	})
}
