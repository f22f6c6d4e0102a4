package sim

import (
	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/entity"
	"github.com/vovakirdan/horde-arena/internal/flock"
	"github.com/vovakirdan/horde-arena/internal/motion"
)

// Salts separating the per-frame random streams.
const (
	saltFollowDistance uint32 = iota + 1
)

func (a *Arena) applyInputs(inputs []core.PlayerInput) {
	a.state.Players.Each(func(_ entity.Entity, p *Player) {
		var bits core.InputBits
		if p.Slot < len(inputs) {
			bits = inputs[p.Slot].Effective()
		}
		p.Throttle = bits.Throttle()
		p.Steer = bits.Steer()
		p.Firing = bits.Has(core.InputFire)
		p.Commanding = bits.Has(core.InputModifier)
	})
}

func (a *Arena) movePlayers() {
	s := &a.state
	s.Players.Each(func(e entity.Entity, p *Player) {
		t := s.Transforms.Ptr(e)
		if t == nil {
			return
		}
		b := motion.StepVehicle(
			motion.Body{Pos: t.Pos, Rot: t.Rot, Vel: p.Vel},
			p.Throttle, p.Steer, a.cfg.Vehicle, a.step, a.cfg.Runtime.Map,
		)
		t.Pos, t.Rot, p.Vel = b.Pos, b.Rot, b.Vel
	})
}

// updateBullets reloads, fires, then advances every bullet in flight.
// A player is ready to fire again once the trigger is released.
func (a *Arena) updateBullets() {
	s := &a.state

	type shot struct {
		owner entity.Entity
		pos   core.Vec2
		rot   float32
	}
	var shots []shot
	s.Players.Each(func(e entity.Entity, p *Player) {
		if !p.Firing {
			p.BulletReady = true
			return
		}
		if !p.BulletReady {
			return
		}
		t, ok := s.Transforms.Get(e)
		if !ok {
			return
		}
		p.BulletReady = false
		shots = append(shots, shot{owner: e, pos: motion.Muzzle(t.Pos, t.Rot, p.Size), rot: t.Rot})
	})
	for _, sh := range shots {
		b := s.Alloc.Create()
		s.Transforms.Set(b, Transform{Pos: sh.pos, Rot: sh.rot})
		s.Bullets.Set(b, Bullet{FiredBy: sh.owner, Remaining: a.cfg.ticks(a.cfg.Player.BulletFlightSec)})
	}

	var expired []entity.Entity
	s.Bullets.Each(func(e entity.Entity, b *Bullet) {
		t := s.Transforms.Ptr(e)
		if t == nil {
			expired = append(expired, e)
			return
		}
		if pos, ok := motion.StepBullet(t.Pos, t.Rot, a.cfg.Player.BulletSpeed, a.step); ok {
			t.Pos = pos
		}
		b.Remaining--
		if b.Remaining == 0 {
			expired = append(expired, e)
		}
	})
	for _, e := range expired {
		a.destroy(e)
	}
}

// bulletHits lets each bullet strike at most one victim: the lowest-handle
// creature not owned by the shooter, else any other player.
func (a *Arena) bulletHits() {
	s := &a.state
	reach := a.cfg.Horde.SizeMax

	var spent []entity.Entity
	s.Bullets.Each(func(be entity.Entity, b *Bullet) {
		bt, ok := s.Transforms.Get(be)
		if !ok {
			return
		}

		for _, ce := range a.grid.QueryNearby(bt.Pos, reach) {
			c, ok := s.Creatures.Get(ce)
			if !ok || c.Owner == b.FiredBy {
				continue
			}
			ct, _ := s.Transforms.Get(ce)
			if ct.Pos.Dist(bt.Pos) < c.Size/2 {
				spent = append(spent, be)
				a.damageCreature(ce, b.FiredBy)
				return
			}
		}

		for _, pe := range s.Slots {
			if pe.IsNil() || pe == b.FiredBy {
				continue
			}
			p, ok := s.Players.Get(pe)
			if !ok {
				continue
			}
			pt, _ := s.Transforms.Get(pe)
			if pt.Pos.Dist(bt.Pos) < p.Size/2 {
				spent = append(spent, be)
				a.damagePlayer(pe, b.FiredBy)
				return
			}
		}
	})
	for _, e := range spent {
		a.destroy(e)
	}
}

// collectFollowers recruits wild creatures near each player into its horde.
// Lower slots recruit first.
func (a *Arena) collectFollowers() {
	s := &a.state
	h := a.cfg.Horde
	for _, pe := range s.Slots {
		pos, ok := a.playerPos(pe)
		if !ok {
			continue
		}
		for _, ce := range a.grid.QueryNearby(pos, h.CollectDistance) {
			c := s.Creatures.Ptr(ce)
			if c == nil || !c.Owner.IsNil() || s.Follows.Has(ce) || s.Targets.Has(ce) {
				continue
			}
			ct, _ := s.Transforms.Get(ce)
			if ct.Pos.Dist(pos) >= h.CollectDistance {
				continue
			}
			r := frameRand(a.cfg.Runtime.Seed, s.Frame, ce, saltFollowDistance)
			c.Owner = pe
			s.Follows.Set(ce, Follow{Owner: pe, Distance: h.FollowMin + float32(r*(h.FollowMax-h.FollowMin))})
		}
	}
}

// commandTargets sends the followers of every player holding the modifier
// after the nearest enemy player in range.
func (a *Arena) commandTargets() {
	s := &a.state
	s.Creatures.Each(func(ce entity.Entity, c *Creature) {
		if c.Owner.IsNil() || s.Targets.Has(ce) {
			return
		}
		owner, ok := s.Players.Get(c.Owner)
		if !ok || !owner.Commanding {
			return
		}
		ct, _ := s.Transforms.Get(ce)

		best, bestDist := entity.Nil, a.cfg.Horde.TargetDistance
		for _, pe := range s.Slots {
			if pe == c.Owner {
				continue
			}
			pos, ok := a.playerPos(pe)
			if !ok {
				continue
			}
			if d := pos.Dist(ct.Pos); d < bestDist {
				best, bestDist = pe, d
			}
		}
		if !best.IsNil() {
			s.Targets.Set(ce, Target{Entity: best})
		}
	})
}

// moveCreatures advances targeting and following creatures along their
// heading. Target takes precedence; a creature whose target is gone falls
// back to its Follow. Wild creatures stand still.
func (a *Arena) moveCreatures() {
	s := &a.state
	s.Creatures.Each(func(ce entity.Entity, c *Creature) {
		t := s.Transforms.Ptr(ce)
		if t == nil {
			return
		}

		if tg, ok := s.Targets.Get(ce); ok {
			if pos, alive := a.playerPos(tg.Entity); alive {
				p, _ := s.Players.Get(tg.Entity)
				if t.Pos.Dist(pos) >= c.Size+p.Size {
					a.advanceCreature(ce, c, t)
				}
				return
			}
		}

		f, ok := s.Follows.Get(ce)
		if !ok {
			return
		}
		pos, alive := a.playerPos(f.Owner)
		if !alive || t.Pos.Dist(pos) < f.Distance {
			return
		}
		a.advanceCreature(ce, c, t)
	})
}

func (a *Arena) advanceCreature(e entity.Entity, c *Creature, t *Transform) {
	dir, ok := a.state.Dirs.Get(e)
	if !ok {
		return
	}
	speed := a.cfg.Weights.For(c.Kind).Speed
	if pos, rot, ok := motion.StepCreature(t.Pos, dir, speed, a.step, a.cfg.Runtime.Map); ok {
		t.Pos, t.Rot = pos, rot
	}
}

func (a *Arena) accumulateForces() []flock.ForceEvent {
	s := &a.state
	a.agents = a.agents[:0]
	s.Creatures.Each(func(ce entity.Entity, c *Creature) {
		t, ok := s.Transforms.Get(ce)
		if !ok {
			return
		}
		dir, _ := s.Dirs.Get(ce)
		ag := flock.Agent{
			Entity: ce,
			Pos:    t.Pos,
			Dir:    dir,
			Kind:   c.Kind,
			Owner:  c.Owner,
			Size:   c.Size,
		}
		if tg, ok := s.Targets.Get(ce); ok {
			ag.Target = tg.Entity
		}
		if f, ok := s.Follows.Get(ce); ok {
			ag.Follow, ag.FollowDistance = f.Owner, f.Distance
		}
		a.agents = append(a.agents, ag)
	})

	frame := flock.NewFrame(a.agents, a.grid, a.cfg.Weights, flock.LocatorFunc(a.playerPos))
	return flock.Accumulate(frame, a.cfg.Runtime.Workers)
}

// creatureAttacks lets targeting creatures in reach strike their target
// once per cooldown, and drops targets that no longer exist.
func (a *Arena) creatureAttacks() {
	s := &a.state
	s.Creatures.Each(func(ce entity.Entity, c *Creature) {
		tg, ok := s.Targets.Get(ce)
		if !ok {
			return
		}
		pos, alive := a.playerPos(tg.Entity)
		if !alive {
			s.Targets.Remove(ce)
			return
		}
		p, _ := s.Players.Get(tg.Entity)
		ct, _ := s.Transforms.Get(ce)
		if ct.Pos.Dist(pos) >= c.Size+p.Size {
			return
		}
		if c.Cooldown > 0 {
			c.Cooldown--
		}
		if c.Cooldown == 0 {
			c.Cooldown = a.cfg.ticks(a.cfg.Horde.AttackCooldownSec)
			a.damagePlayer(tg.Entity, ce)
		}
	})
}

func (a *Arena) respawnPlayers() {
	s := &a.state
	pending := s.Respawns[:0]
	for _, r := range s.Respawns {
		r.Remaining--
		if r.Remaining == 0 {
			e := a.spawnPlayer(r.Slot)
			a.logger.Debug("player respawned", "slot", r.Slot, "entity", e, "frame", s.Frame)
			continue
		}
		pending = append(pending, r)
	}
	s.Respawns = pending
}

func (a *Arena) damageCreature(victim, attacker entity.Entity) {
	h := a.state.Health.Ptr(victim)
	if h == nil {
		return
	}
	h.HP--
	if h.HP <= 0 {
		a.credit(attacker)
		a.destroy(victim)
	}
}

// damagePlayer hurts a player. A survivor's horde turns on the attacking
// player; a dead player's horde goes wild and a respawn is scheduled.
func (a *Arena) damagePlayer(victim, attacker entity.Entity) {
	s := &a.state
	h := s.Health.Ptr(victim)
	p, ok := s.Players.Get(victim)
	if h == nil || !ok {
		return
	}
	h.HP--
	if h.HP > 0 {
		if s.Players.Has(attacker) {
			a.retaliate(victim, attacker)
		}
		return
	}

	a.credit(attacker)
	s.Stats[p.Slot].Deaths++
	s.Creatures.Each(func(ce entity.Entity, c *Creature) {
		if c.Owner != victim {
			return
		}
		c.Owner = entity.Nil
		s.Follows.Remove(ce)
		s.Targets.Remove(ce)
	})
	a.destroy(victim)
	s.Slots[p.Slot] = entity.Nil
	s.Respawns = append(s.Respawns, Respawn{Slot: p.Slot, Remaining: a.cfg.ticks(a.cfg.Player.RespawnSec)})
	a.logger.Debug("player died", "slot", p.Slot, "frame", s.Frame)
}

func (a *Arena) retaliate(victim, attacker entity.Entity) {
	s := &a.state
	s.Creatures.Each(func(ce entity.Entity, c *Creature) {
		if c.Owner == victim {
			s.Targets.Set(ce, Target{Entity: attacker})
		}
	})
}

// credit awards a kill to the attacking player, or to the owner of the
// attacking creature.
func (a *Arena) credit(attacker entity.Entity) {
	s := &a.state
	if c, ok := s.Creatures.Get(attacker); ok {
		attacker = c.Owner
	}
	if p, ok := s.Players.Get(attacker); ok {
		s.Stats[p.Slot].Kills++
	}
}
