package rollback

import "github.com/vovakirdan/horde-arena/internal/core"

// PacketKind tags a Packet.
type PacketKind uint8

const (
	PacketSyncRequest PacketKind = iota + 1
	PacketSyncReply
	PacketInput
	PacketChecksum
	PacketDisconnect
)

// String returns the packet kind name.
func (k PacketKind) String() string {
	switch k {
	case PacketSyncRequest:
		return "sync_request"
	case PacketSyncReply:
		return "sync_reply"
	case PacketInput:
		return "input"
	case PacketChecksum:
		return "checksum"
	case PacketDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Packet is the unit exchanged with a peer. Transports encode it however
// they like; the session only needs it delivered mostly in order.
type Packet struct {
	Kind  PacketKind `json:"k"`
	Nonce uint32     `json:"n,omitempty"`

	// Input: Start is the frame of each Inputs[i].Bits[0]; Ack says the
	// sender holds all of the recipient's inputs for frames < Ack.
	Start  uint32       `json:"s,omitempty"`
	Inputs []SlotInputs `json:"i,omitempty"`
	Ack    uint32       `json:"a,omitempty"`

	// Checksum: the sender's checksum of the state after Frame frames.
	Frame    uint32 `json:"f,omitempty"`
	Checksum uint64 `json:"c,omitempty"`
}

// SlotInputs is a run of consecutive inputs for one slot.
type SlotInputs struct {
	Slot int              `json:"p"`
	Bits []core.InputBits `json:"b"`
}

// Peer is an established bidirectional channel to one remote machine.
// Receive must never block the sender; Done closes when the channel is gone.
type Peer interface {
	Send(p Packet) error
	Receive() <-chan Packet
	Done() <-chan struct{}
	Close() error
}
