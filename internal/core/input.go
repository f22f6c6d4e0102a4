package core

// InputBits is the fixed-width per-player input bitmask sampled once per tick.
// The bit layout is part of the wire format and must never be reordered.
type InputBits uint8

const (
	InputUp       InputBits = 1 << 0 // W, Up arrow - throttle forward
	InputDown     InputBits = 1 << 1 // S, Down arrow - reverse
	InputLeft     InputBits = 1 << 2 // A, Left arrow - steer left
	InputRight    InputBits = 1 << 3 // D, Right arrow - steer right
	InputFire     InputBits = 1 << 4 // Space - fire
	InputModifier InputBits = 1 << 5 // Shift - command the horde

	inputMask = InputUp | InputDown | InputLeft | InputRight | InputFire | InputModifier
)

// String returns a compact human-readable form like "U.L.F.".
func (b InputBits) String() string {
	const names = "UDLRFM"
	out := make([]byte, len(names))
	for i := range names {
		if b&(1<<i) != 0 {
			out[i] = names[i]
		} else {
			out[i] = '.'
		}
	}
	return string(out)
}

// Has returns true if every bit in mask is set.
func (b InputBits) Has(mask InputBits) bool {
	return b&mask == mask
}

// With returns b with the bits in mask set.
func (b InputBits) With(mask InputBits) InputBits {
	return b | mask
}

// Sanitize drops bits outside the defined layout.
func (b InputBits) Sanitize() InputBits {
	return b & inputMask
}

// Throttle returns +1 for forward, -1 for reverse, 0 when neither or both are held.
func (b InputBits) Throttle() float32 {
	up, down := b&InputUp != 0, b&InputDown != 0
	switch {
	case up && !down:
		return 1
	case down && !up:
		return -1
	default:
		return 0
	}
}

// Steer returns +1 for left, -1 for right, 0 when neither or both are held.
func (b InputBits) Steer() float32 {
	left, right := b&InputLeft != 0, b&InputRight != 0
	switch {
	case left && !right:
		return 1
	case right && !left:
		return -1
	default:
		return 0
	}
}

// InputFrame is one player's recorded input for one simulation frame.
// Immutable once recorded; the frame number is the unit of re-simulation.
type InputFrame struct {
	Frame uint32
	Bits  InputBits
}

// InputStatus describes how trustworthy an input is.
type InputStatus uint8

const (
	// StatusConfirmed inputs come from the owning peer and never change.
	StatusConfirmed InputStatus = iota

	// StatusPredicted inputs are guesses that may be corrected later.
	StatusPredicted

	// StatusDisconnected marks a player whose peer has left.
	StatusDisconnected
)

// String returns a human-readable name for the status.
func (s InputStatus) String() string {
	switch s {
	case StatusConfirmed:
		return "Confirmed"
	case StatusPredicted:
		return "Predicted"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// PlayerInput pairs an input with its status for one player slot.
type PlayerInput struct {
	Bits   InputBits
	Status InputStatus
}

// Effective returns the bits the simulation should act on.
// Disconnected players always do nothing.
func (p PlayerInput) Effective() InputBits {
	if p.Status == StatusDisconnected {
		return 0
	}
	return p.Bits.Sanitize()
}

// MultiInputFrame contains input from all player slots for a single frame.
// The rollback session builds this; the simulation consumes it without
// knowing whether an input was local, remote, or predicted.
type MultiInputFrame struct {
	Frame    uint32
	ByPlayer []PlayerInput
}

// NewMultiInputFrame creates a frame with every slot neutral and confirmed.
func NewMultiInputFrame(frame uint32, players int) MultiInputFrame {
	return MultiInputFrame{
		Frame:    frame,
		ByPlayer: make([]PlayerInput, players),
	}
}

// Player returns the effective input bits for a slot.
// Out-of-range slots read as the neutral input.
func (m MultiInputFrame) Player(slot int) InputBits {
	if slot < 0 || slot >= len(m.ByPlayer) {
		return 0
	}
	return m.ByPlayer[slot].Effective()
}

// SetPlayer sets the input for a slot.
func (m *MultiInputFrame) SetPlayer(slot int, in PlayerInput) {
	if slot < 0 || slot >= len(m.ByPlayer) {
		return
	}
	m.ByPlayer[slot] = in
}

// Clone creates a copy of this multi-input frame.
func (m MultiInputFrame) Clone() MultiInputFrame {
	clone := MultiInputFrame{Frame: m.Frame, ByPlayer: make([]PlayerInput, len(m.ByPlayer))}
	copy(clone.ByPlayer, m.ByPlayer)
	return clone
}
