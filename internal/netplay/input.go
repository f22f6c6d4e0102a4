package netplay

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/vovakirdan/horde-arena/internal/core"
)

// InputSource is polled once per tick for each local slot.
type InputSource interface {
	Poll(slot int, frame uint32) core.InputBits
}

// InputFunc adapts a function to InputSource.
type InputFunc func(slot int, frame uint32) core.InputBits

// Poll calls f.
func (f InputFunc) Poll(slot int, frame uint32) core.InputBits {
	return f(slot, frame)
}

// Bot produces reproducible pseudo-random driving. It holds each decision
// for Hold frames so the vehicle actually goes somewhere.
type Bot struct {
	Seed int64
	Hold uint32
}

// Poll returns the bot's input for slot at frame.
func (b Bot) Poll(slot int, frame uint32) core.InputBits {
	hold := b.Hold
	if hold == 0 {
		hold = 20
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(b.Seed)) //nolint:gosec // bit pattern only
	binary.LittleEndian.PutUint32(buf[8:12], uint32(slot))  //nolint:gosec
	binary.LittleEndian.PutUint32(buf[12:16], frame/hold)
	h := xxhash.Sum64(buf[:])

	var bits core.InputBits
	if h%4 != 0 {
		bits = bits.With(core.InputUp)
	}
	switch (h >> 8) % 3 {
	case 1:
		bits = bits.With(core.InputLeft)
	case 2:
		bits = bits.With(core.InputRight)
	}
	// Fire is tapped so the bullet reload cycle sees the trigger released.
	if (h>>16)%2 == 0 && frame%8 == 0 {
		bits = bits.With(core.InputFire)
	}
	if (h>>24)%5 == 0 {
		bits = bits.With(core.InputModifier)
	}
	return bits
}
