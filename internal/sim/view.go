package sim

import (
	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/entity"
	"github.com/vovakirdan/horde-arena/internal/flock"
)

// Read-only copies of per-entity state for presentation. They are rebuilt
// on every call and never alias arena storage.

// PlayerView describes a live player.
type PlayerView struct {
	Entity    entity.Entity
	Slot      int
	Pos       core.Vec2
	Rot       float32
	Vel       core.Vec2
	HP        int32
	Followers int
}

// CreatureView describes a horde member.
type CreatureView struct {
	Entity    entity.Entity
	Kind      flock.Kind
	Pos       core.Vec2
	Rot       float32
	Owner     entity.Entity
	Size      float32
	HP        int32
	Targeting bool
}

// BulletView describes a projectile.
type BulletView struct {
	Entity  entity.Entity
	Pos     core.Vec2
	Rot     float32
	FiredBy entity.Entity
}

// Players returns the live players in slot order.
func (a *Arena) Players() []PlayerView {
	s := &a.state
	followers := make(map[entity.Entity]int)
	s.Creatures.Each(func(_ entity.Entity, c *Creature) {
		if !c.Owner.IsNil() {
			followers[c.Owner]++
		}
	})

	var out []PlayerView
	for slot, e := range s.Slots {
		p, ok := s.Players.Get(e)
		if !ok {
			continue
		}
		t, _ := s.Transforms.Get(e)
		h, _ := s.Health.Get(e)
		out = append(out, PlayerView{
			Entity:    e,
			Slot:      slot,
			Pos:       t.Pos,
			Rot:       t.Rot,
			Vel:       p.Vel,
			HP:        h.HP,
			Followers: followers[e],
		})
	}
	return out
}

// Creatures returns every creature in entity order.
func (a *Arena) Creatures() []CreatureView {
	s := &a.state
	out := make([]CreatureView, 0, s.Creatures.Len())
	s.Creatures.Each(func(e entity.Entity, c *Creature) {
		t, _ := s.Transforms.Get(e)
		h, _ := s.Health.Get(e)
		out = append(out, CreatureView{
			Entity:    e,
			Kind:      c.Kind,
			Pos:       t.Pos,
			Rot:       t.Rot,
			Owner:     c.Owner,
			Size:      c.Size,
			HP:        h.HP,
			Targeting: s.Targets.Has(e),
		})
	})
	return out
}

// Bullets returns every bullet in flight.
func (a *Arena) Bullets() []BulletView {
	s := &a.state
	out := make([]BulletView, 0, s.Bullets.Len())
	s.Bullets.Each(func(e entity.Entity, b *Bullet) {
		t, _ := s.Transforms.Get(e)
		out = append(out, BulletView{Entity: e, Pos: t.Pos, Rot: t.Rot, FiredBy: b.FiredBy})
	})
	return out
}

// Stats returns a copy of the per-slot tallies.
func (a *Arena) Stats() []SlotStats {
	return append([]SlotStats(nil), a.state.Stats...)
}
