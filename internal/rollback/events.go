package rollback

import (
	"errors"

	"github.com/vovakirdan/horde-arena/internal/core"
)

// Errors returned by Session methods.
var (
	// ErrPredictionThreshold means the local frame is MaxPrediction frames
	// ahead of confirmed remote input. The frame was not simulated and the
	// local input was dropped; call AdvanceFrame again next tick.
	ErrPredictionThreshold = errors.New("rollback: prediction threshold reached")

	// ErrNotSynchronized means the handshake with some peer is still running.
	ErrNotSynchronized = errors.New("rollback: peers not synchronized")

	ErrNotRunning = errors.New("rollback: session not started")
	ErrTerminated = errors.New("rollback: session terminated")
	ErrBadPlayer  = errors.New("rollback: invalid player")
)

// State is the session lifecycle position.
type State uint8

const (
	StateIdle State = iota
	StateSynchronizing
	StateRunning
	StateResimulating
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSynchronizing:
		return "synchronizing"
	case StateRunning:
		return "running"
	case StateResimulating:
		return "resimulating"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Event is a notification drained with PollEvents.
type Event interface {
	sessionEvent()
}

// Synchronizing reports handshake progress with the peer serving Slot.
type Synchronizing struct {
	Slot  int
	Count int
	Total int
}

// Synchronized reports that the handshake with every peer finished.
type Synchronized struct{}

// Disconnected reports that Slot's peer left. From Frame on, the slot's
// input is the neutral bitmask.
type Disconnected struct {
	Slot  int
	Frame uint32
}

// DesyncDetected reports a checksum mismatch with the peer serving Slot.
// The session keeps running; the caller decides what to do.
type DesyncDetected struct {
	Slot   int
	Frame  uint32
	Local  uint64
	Remote uint64
}

func (Synchronizing) sessionEvent()  {}
func (Synchronized) sessionEvent()   {}
func (Disconnected) sessionEvent()   {}
func (DesyncDetected) sessionEvent() {}

// FrameChecksum is the checksum of the state after Frame frames, exported
// once every input before Frame is confirmed.
type FrameChecksum struct {
	Frame    uint32
	Checksum uint64
}

// Stats counts session activity.
type Stats struct {
	Frame             uint32
	ConfirmedFrame    uint32
	Rollbacks         uint64
	ResimulatedFrames uint64
	PredictionStalls  uint64
	PacketsSent       uint64
	PacketsReceived   uint64
	Desyncs           uint64
}

// Game is the deterministic simulation a session drives. Step must depend
// only on the loaded state and its inputs.
type Game[S any] interface {
	Save() S
	Load(S)
	Step(inputs []core.PlayerInput)
	Checksum() uint64
}
