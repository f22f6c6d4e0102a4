package sim

import (
	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/entity"
	"github.com/vovakirdan/horde-arena/internal/flock"
)

// Component blocks. All of them are plain values so a table clone is a
// complete snapshot. Cross-entity references are handles only.

// Transform is position and rotation. Rotation 0 faces +Y.
type Transform struct {
	Pos core.Vec2
	Rot float32
}

// Creature marks a horde member.
type Creature struct {
	Kind     flock.Kind
	Owner    entity.Entity // player the creature follows, Nil when wild
	Size     float32
	Cooldown uint16 // frames until the next attack may land
}

// Follow is passive pursuit of an owner, disengaging within Distance.
type Follow struct {
	Owner    entity.Entity
	Distance float32
}

// Target is active pursuit of an enemy player.
type Target struct {
	Entity entity.Entity
}

// Player is a ship bound to an input slot.
type Player struct {
	Slot        int
	Vel         core.Vec2
	Throttle    float32
	Steer       float32
	Firing      bool
	Commanding  bool // modifier held: send followers after enemies
	BulletReady bool
	Size        float32
}

// Health is hit points for players and creatures.
type Health struct {
	HP int32
}

// Bullet is a projectile in flight.
type Bullet struct {
	FiredBy   entity.Entity
	Remaining uint16 // frames of flight left
}

// Respawn is a pending player respawn.
type Respawn struct {
	Slot      int
	Remaining uint16
}

// SlotStats is the running tally for one input slot.
type SlotStats struct {
	Kills  int32 // creatures and players destroyed
	Deaths int32
}
