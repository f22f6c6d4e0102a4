package sim

import (
	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/flock"
)

// Step advances the arena by one frame. inputs is indexed by player slot;
// missing slots read as the neutral input.
//
// Step reads nothing but its argument and the arena state: no clocks, no
// global RNG. Loading a saved state and replaying the same inputs reproduces
// the same states bit for bit.
func (a *Arena) Step(inputs []core.PlayerInput) {
	a.state.Frame++

	a.applyInputs(inputs)
	a.movePlayers()
	a.updateBullets()
	a.bulletHits()
	a.collectFollowers()
	a.commandTargets()
	a.moveCreatures()
	a.syncGrid()

	events := a.accumulateForces()
	flock.Integrate(events, flock.TableDirections{Table: a.state.Dirs}, a.step)

	a.creatureAttacks()
	a.respawnPlayers()
}

// StepFrame is Step for a MultiInputFrame.
func (a *Arena) StepFrame(in core.MultiInputFrame) {
	a.Step(in.ByPlayer)
}
