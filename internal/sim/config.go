package sim

import (
	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/flock"
	"github.com/vovakirdan/horde-arena/internal/motion"
	"github.com/vovakirdan/horde-arena/internal/spatial"
)

// Config is fixed for the lifetime of a round. Every peer must build its
// arena from an identical Config.
type Config struct {
	Runtime  core.RuntimeConfig
	Vehicle  motion.Vehicle
	Weights  flock.Table
	Horde    HordeConfig
	Player   PlayerConfig
	CellSize float32 // spatial grid bucket size
}

// HordeConfig controls creature spawning and behavior.
type HordeConfig struct {
	Count             int          // creatures spawned at round start
	Kinds             []flock.Kind // spawn mix; each creature picks one uniformly
	SizeMin           float32
	SizeMax           float32
	FollowMin         float32 // follow disengage distance range
	FollowMax         float32
	CollectDistance   float32 // wild creatures closer than this join a player
	TargetDistance    float32 // commanded creatures pick targets within this range
	Health            int32
	AttackCooldownSec float32
}

// PlayerConfig controls player ships and their bullets.
type PlayerConfig struct {
	Health          int32
	Size            float32
	RespawnSec      float32
	BulletSpeed     float32
	BulletFlightSec float32
}

// DefaultConfig returns the stock two-player arena.
func DefaultConfig() Config {
	rt := core.DefaultConfig()
	rt.Map = core.Bounds{Width: 720, Height: 720}

	return Config{
		Runtime: rt,
		Vehicle: motion.DefaultVehicle(),
		Weights: flock.DefaultTable(),
		Horde: HordeConfig{
			Count:             120,
			Kinds:             []flock.Kind{flock.KindZombie, flock.KindZombie, flock.KindZombie, flock.KindRunner, flock.KindBrute},
			SizeMin:           10,
			SizeMax:           15,
			FollowMin:         25,
			FollowMax:         75,
			CollectDistance:   100,
			TargetDistance:    100,
			Health:            2,
			AttackCooldownSec: 1,
		},
		Player: PlayerConfig{
			Health:          10,
			Size:            50,
			RespawnSec:      3,
			BulletSpeed:     600,
			BulletFlightSec: 3,
		},
		CellSize: spatial.DefaultCellSize,
	}
}

// ticks converts seconds to a whole number of frames, at least one.
func (c Config) ticks(sec float32) uint16 {
	n := int(float32(sec*float32(c.Runtime.TickRate)) + 0.5)
	return uint16(core.Clamp(n, 1, 0xffff)) //nolint:gosec // clamped above
}
