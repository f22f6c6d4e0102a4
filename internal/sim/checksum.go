package sim

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/entity"
)

// Checksum fingerprints the current state.
func (a *Arena) Checksum() uint64 {
	return a.state.Checksum()
}

// Checksum hashes a canonical little-endian serialization of every
// rollback-relevant field, the allocator's generations included. Tables are walked in ascending entity order and
// each section is prefixed with its length, so the encoding is unambiguous.
func (s *State) Checksum() uint64 {
	d := digest{h: xxhash.New()}

	d.u32(s.Frame)
	d.u32(uint32(s.Alloc.Len())) //nolint:gosec // entity count fits

	// Generations of freed slots decide the handles of later spawns.
	s.Alloc.Each(func(index, gen uint32, live bool) {
		d.u32(index)
		d.u32(gen)
		d.flag(live)
	})

	d.u32(uint32(s.Transforms.Len())) //nolint:gosec
	s.Transforms.Each(func(e entity.Entity, t *Transform) {
		d.entity(e)
		d.vec(t.Pos)
		d.f32(t.Rot)
	})

	d.u32(uint32(s.Dirs.Len())) //nolint:gosec
	s.Dirs.Each(func(e entity.Entity, v *core.Vec2) {
		d.entity(e)
		d.vec(*v)
	})

	d.u32(uint32(s.Creatures.Len())) //nolint:gosec
	s.Creatures.Each(func(e entity.Entity, c *Creature) {
		d.entity(e)
		d.u32(uint32(c.Kind))
		d.entity(c.Owner)
		d.f32(c.Size)
		d.u32(uint32(c.Cooldown))
	})

	d.u32(uint32(s.Follows.Len())) //nolint:gosec
	s.Follows.Each(func(e entity.Entity, f *Follow) {
		d.entity(e)
		d.entity(f.Owner)
		d.f32(f.Distance)
	})

	d.u32(uint32(s.Targets.Len())) //nolint:gosec
	s.Targets.Each(func(e entity.Entity, t *Target) {
		d.entity(e)
		d.entity(t.Entity)
	})

	d.u32(uint32(s.Players.Len())) //nolint:gosec
	s.Players.Each(func(e entity.Entity, p *Player) {
		d.entity(e)
		d.u32(uint32(p.Slot)) //nolint:gosec
		d.vec(p.Vel)
		d.f32(p.Throttle)
		d.f32(p.Steer)
		d.flag(p.Firing)
		d.flag(p.Commanding)
		d.flag(p.BulletReady)
		d.f32(p.Size)
	})

	d.u32(uint32(s.Health.Len())) //nolint:gosec
	s.Health.Each(func(e entity.Entity, h *Health) {
		d.entity(e)
		d.u32(uint32(h.HP)) //nolint:gosec
	})

	d.u32(uint32(s.Bullets.Len())) //nolint:gosec
	s.Bullets.Each(func(e entity.Entity, b *Bullet) {
		d.entity(e)
		d.entity(b.FiredBy)
		d.u32(uint32(b.Remaining))
	})

	d.u32(uint32(len(s.Slots))) //nolint:gosec
	for _, e := range s.Slots {
		d.entity(e)
	}
	d.u32(uint32(len(s.Respawns))) //nolint:gosec
	for _, r := range s.Respawns {
		d.u32(uint32(r.Slot)) //nolint:gosec
		d.u32(uint32(r.Remaining))
	}
	d.u32(uint32(len(s.Stats))) //nolint:gosec
	for _, st := range s.Stats {
		d.u32(uint32(st.Kills))  //nolint:gosec
		d.u32(uint32(st.Deaths)) //nolint:gosec
	}

	return d.h.Sum64()
}

type digest struct {
	h   *xxhash.Digest
	tmp [8]byte
}

func (d *digest) u32(v uint32) {
	binary.LittleEndian.PutUint32(d.tmp[:4], v)
	_, _ = d.h.Write(d.tmp[:4])
}

func (d *digest) f32(v float32) {
	d.u32(math.Float32bits(v))
}

func (d *digest) vec(v core.Vec2) {
	d.f32(v.X)
	d.f32(v.Y)
}

func (d *digest) entity(e entity.Entity) {
	d.u32(e.Index)
	d.u32(e.Gen)
}

func (d *digest) flag(b bool) {
	if b {
		d.u32(1)
	} else {
		d.u32(0)
	}
}

// frameRand is the in-frame random source: a pure function of the round
// seed, the frame, the entity and a stream salt. Returns a value in [0, 1).
func frameRand(seed int64, frame uint32, e entity.Entity, salt uint32) float32 {
	var buf [24]byte
	binary.LittleEndian.PutUint64(buf[0:], uint64(seed)) //nolint:gosec // bit reinterpretation
	binary.LittleEndian.PutUint32(buf[8:], frame)
	binary.LittleEndian.PutUint32(buf[12:], e.Index)
	binary.LittleEndian.PutUint32(buf[16:], e.Gen)
	binary.LittleEndian.PutUint32(buf[20:], salt)
	return float32(xxhash.Sum64(buf[:])>>40) / (1 << 24)
}
