package config

import (
	_ "embed"
	"fmt"

	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/flock"
	"github.com/vovakirdan/horde-arena/internal/motion"
	"github.com/vovakirdan/horde-arena/internal/rollback"
	"github.com/vovakirdan/horde-arena/internal/sim"
)

//go:embed defaults/arena.yaml
var defaultArenaYAML []byte

//go:embed defaults/arena.schema.json
var arenaSchemaJSON string

// DefaultArenaConfig returns the built-in arena configuration.
func DefaultArenaConfig() ArenaConfig {
	return FromSim(sim.DefaultConfig(), rollback.DefaultConfig())
}

// FromSim converts runtime configs back into their file form.
func FromSim(sc sim.Config, rc rollback.Config) ArenaConfig {
	kinds := make(map[string]KindSection, len(sc.Weights))
	for i, w := range sc.Weights {
		kinds[flock.Kind(i).String()] = KindSection(w)
	}
	horde := make([]string, len(sc.Horde.Kinds))
	for i, k := range sc.Horde.Kinds {
		horde[i] = k.String()
	}

	return ArenaConfig{
		Runtime: RuntimeSection{
			TickRate: sc.Runtime.TickRate,
			Seed:     sc.Runtime.Seed,
			Players:  sc.Runtime.Players,
			Workers:  sc.Runtime.Workers,
		},
		Map: MapSection{
			Width:    sc.Runtime.Map.Width,
			Height:   sc.Runtime.Map.Height,
			CellSize: sc.CellSize,
		},
		Vehicle: VehicleSection(sc.Vehicle),
		Horde: HordeSection{
			Count:             sc.Horde.Count,
			Kinds:             horde,
			SizeMin:           sc.Horde.SizeMin,
			SizeMax:           sc.Horde.SizeMax,
			FollowMin:         sc.Horde.FollowMin,
			FollowMax:         sc.Horde.FollowMax,
			CollectDistance:   sc.Horde.CollectDistance,
			TargetDistance:    sc.Horde.TargetDistance,
			Health:            sc.Horde.Health,
			AttackCooldownSec: sc.Horde.AttackCooldownSec,
		},
		Player: PlayerSection(sc.Player),
		Kinds:  kinds,
		Session: SessionSection{
			MaxPrediction:           rc.MaxPrediction,
			InputDelay:              rc.InputDelay,
			CheckDistance:           rc.CheckDistance,
			DisconnectTimeoutFrames: rc.DisconnectTimeoutFrames,
		},
	}
}

// Sim builds the arena config. Unknown kind names are an error; kinds
// missing from the table keep their built-in weights.
func (c ArenaConfig) Sim() (sim.Config, error) {
	table := flock.DefaultTable()
	for name, ks := range c.Kinds {
		k, ok := flock.ParseKind(name)
		if !ok {
			return sim.Config{}, fmt.Errorf("config: unknown creature kind %q", name)
		}
		table[k] = flock.Weights(ks)
	}

	kinds := make([]flock.Kind, 0, len(c.Horde.Kinds))
	for _, name := range c.Horde.Kinds {
		k, ok := flock.ParseKind(name)
		if !ok {
			return sim.Config{}, fmt.Errorf("config: unknown creature kind %q in horde.kinds", name)
		}
		kinds = append(kinds, k)
	}

	return sim.Config{
		Runtime: core.RuntimeConfig{
			TickRate: c.Runtime.TickRate,
			Seed:     c.Runtime.Seed,
			Players:  c.Runtime.Players,
			Map:      core.Bounds{Width: c.Map.Width, Height: c.Map.Height},
			Workers:  c.Runtime.Workers,
		},
		Vehicle: motion.Vehicle(c.Vehicle),
		Weights: table,
		Horde: sim.HordeConfig{
			Count:             c.Horde.Count,
			Kinds:             kinds,
			SizeMin:           c.Horde.SizeMin,
			SizeMax:           c.Horde.SizeMax,
			FollowMin:         c.Horde.FollowMin,
			FollowMax:         c.Horde.FollowMax,
			CollectDistance:   c.Horde.CollectDistance,
			TargetDistance:    c.Horde.TargetDistance,
			Health:            c.Horde.Health,
			AttackCooldownSec: c.Horde.AttackCooldownSec,
		},
		Player:   sim.PlayerConfig(c.Player),
		CellSize: c.Map.CellSize,
	}, nil
}

// RollbackConfig builds the rollback session config.
func (c ArenaConfig) RollbackConfig() rollback.Config {
	return rollback.Config{
		Players:                 c.Runtime.Players,
		MaxPrediction:           c.Session.MaxPrediction,
		TickRate:                c.Runtime.TickRate,
		InputDelay:              c.Session.InputDelay,
		CheckDistance:           c.Session.CheckDistance,
		DisconnectTimeoutFrames: c.Session.DisconnectTimeoutFrames,
	}
}
