package rollback

import (
	"math"

	"github.com/vovakirdan/horde-arena/internal/core"
)

// never is the confirmation horizon of a slot that can no longer change.
const never = math.MaxUint32

// inputQueue is one slot's confirmed input history, indexed by frame, plus
// the bits each simulated frame last ran with so late confirmations can be
// checked against the prediction.
type inputQueue struct {
	confirmed    []core.InputBits
	used         []core.InputBits
	disconnected bool
	disconnectAt uint32
}

// until returns the first frame without confirmed input.
func (q *inputQueue) until() uint32 {
	if q.disconnected {
		return never
	}
	return uint32(len(q.confirmed)) //nolint:gosec // frame counts fit in uint32
}

// add appends the confirmed input for frame. Only the next missing frame is
// accepted; duplicates and gaps are ignored.
func (q *inputQueue) add(frame uint32, bits core.InputBits) bool {
	if q.disconnected || frame != uint32(len(q.confirmed)) { //nolint:gosec
		return false
	}
	q.confirmed = append(q.confirmed, bits.Sanitize())
	return true
}

// input returns the input the simulation should use for frame: confirmed
// when known, neutral once disconnected, otherwise the last confirmed value
// repeated as a prediction.
func (q *inputQueue) input(frame uint32) core.PlayerInput {
	if q.disconnected && frame >= q.disconnectAt {
		return core.PlayerInput{Status: core.StatusDisconnected}
	}
	if int(frame) < len(q.confirmed) {
		return core.PlayerInput{Bits: q.confirmed[frame], Status: core.StatusConfirmed}
	}
	var last core.InputBits
	if n := len(q.confirmed); n > 0 {
		last = q.confirmed[n-1]
	}
	return core.PlayerInput{Bits: last, Status: core.StatusPredicted}
}

// record notes the bits frame was simulated with.
func (q *inputQueue) record(frame uint32, bits core.InputBits) {
	for int(frame) >= len(q.used) {
		q.used = append(q.used, 0)
	}
	q.used[frame] = bits
}

// usedAt returns the bits frame was simulated with, and whether it ran.
func (q *inputQueue) usedAt(frame uint32) (core.InputBits, bool) {
	if int(frame) >= len(q.used) {
		return 0, false
	}
	return q.used[frame], true
}

// disconnect freezes the slot. Frames from the returned frame on read as
// the neutral input.
func (q *inputQueue) disconnect() uint32 {
	if !q.disconnected {
		q.disconnected = true
		q.disconnectAt = uint32(len(q.confirmed)) //nolint:gosec
	}
	return q.disconnectAt
}

// savedFrame is the state before a frame was simulated.
type savedFrame[S any] struct {
	frame    uint32
	state    S
	checksum uint64
	valid    bool
}

// stateRing keeps the most recent saved states, one per frame.
type stateRing[S any] struct {
	slots []savedFrame[S]
}

func newStateRing[S any](size int) *stateRing[S] {
	return &stateRing[S]{slots: make([]savedFrame[S], size)}
}

func (r *stateRing[S]) save(frame uint32, state S, checksum uint64) {
	r.slots[int(frame)%len(r.slots)] = savedFrame[S]{frame: frame, state: state, checksum: checksum, valid: true}
}

func (r *stateRing[S]) load(frame uint32) (savedFrame[S], bool) {
	sf := r.slots[int(frame)%len(r.slots)]
	if !sf.valid || sf.frame != frame {
		return savedFrame[S]{}, false
	}
	return sf, true
}

func (r *stateRing[S]) reset() {
	clear(r.slots)
}
