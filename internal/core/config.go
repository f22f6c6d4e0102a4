package core

// RuntimeConfig contains configuration fixed for the lifetime of a round.
// Every peer must use an identical RuntimeConfig or their simulations diverge.
type RuntimeConfig struct {
	TickRate int    // Simulation ticks per second (default 60)
	Seed     int64  // RNG seed for deterministic setup
	Players  int    // Number of player slots
	Map      Bounds // Play area, supplied once at round start
	Workers  int    // Force computation workers (does not affect results)
}

// DefaultConfig returns a RuntimeConfig with sensible defaults.
func DefaultConfig() RuntimeConfig {
	return RuntimeConfig{
		TickRate: 60,
		Seed:     1,
		Players:  2,
		Map:      Bounds{Width: 1024, Height: 1024},
		Workers:  4,
	}
}

// StepDuration returns the fixed time step in seconds.
func (c RuntimeConfig) StepDuration() float32 {
	if c.TickRate <= 0 {
		return 1.0 / 60.0
	}
	return 1.0 / float32(c.TickRate)
}
