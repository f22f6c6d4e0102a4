// Package rollback runs a deterministic game over a peer-to-peer rollback
// protocol. Remote input is predicted by repeating the last confirmed value;
// when a prediction turns out wrong the session loads the saved state of the
// first wrong frame and re-simulates forward with the corrected input.
package rollback

import (
	"errors"
	"fmt"
)

// Session limits.
const (
	MaxPlayers       = 8
	MaxTickRate      = 240
	MaxPredictionCap = 128
)

// ErrInvalidConfig wraps every configuration rejection.
var ErrInvalidConfig = errors.New("rollback: invalid config")

// Config is fixed for the lifetime of a session. All peers must agree on
// Players, TickRate and CheckDistance; InputDelay may differ per peer.
type Config struct {
	Players       int // player slots, local and remote
	MaxPrediction int // frames the session may run ahead of confirmed input
	TickRate      int // frames per second
	InputDelay    int // frames between sampling local input and applying it
	CheckDistance int // exchange checksums every N confirmed frames; 0 disables

	// DisconnectTimeoutFrames disconnects a peer that has sent nothing for
	// this many AdvanceFrame calls. 0 disables the timeout.
	DisconnectTimeoutFrames int
}

// DefaultConfig returns the stock two-player session settings.
func DefaultConfig() Config {
	return Config{
		Players:                 2,
		MaxPrediction:           12,
		TickRate:                60,
		InputDelay:              2,
		CheckDistance:           2,
		DisconnectTimeoutFrames: 180,
	}
}

// Validate reports the first problem with c, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.Players < 1:
		return fmt.Errorf("%w: need at least one player, got %d", ErrInvalidConfig, c.Players)
	case c.Players > MaxPlayers:
		return fmt.Errorf("%w: at most %d players, got %d", ErrInvalidConfig, MaxPlayers, c.Players)
	case c.TickRate < 1 || c.TickRate > MaxTickRate:
		return fmt.Errorf("%w: tick rate %d outside 1..%d", ErrInvalidConfig, c.TickRate, MaxTickRate)
	case c.MaxPrediction < 1 || c.MaxPrediction > MaxPredictionCap:
		return fmt.Errorf("%w: prediction window %d outside 1..%d", ErrInvalidConfig, c.MaxPrediction, MaxPredictionCap)
	case c.InputDelay < 0 || c.InputDelay >= c.MaxPrediction:
		return fmt.Errorf("%w: input delay %d must be in 0..%d", ErrInvalidConfig, c.InputDelay, c.MaxPrediction-1)
	case c.CheckDistance < 0:
		return fmt.Errorf("%w: negative check distance %d", ErrInvalidConfig, c.CheckDistance)
	case c.DisconnectTimeoutFrames < 0:
		return fmt.Errorf("%w: negative disconnect timeout %d", ErrInvalidConfig, c.DisconnectTimeoutFrames)
	}
	return nil
}
