// Package netplay connects rollback sessions to each other and drives them
// at a fixed tick rate. Transports implement rollback.Peer; the Match loop
// owns one session and feeds its confirmed output to recorders.
package netplay

import (
	"errors"
	"sync"

	"github.com/vovakirdan/horde-arena/internal/rollback"
)

// ErrPeerClosed is returned by Send once the link is gone.
var ErrPeerClosed = errors.New("netplay: peer closed")

// DefaultBuffer is the packet buffer used when a caller passes zero.
const DefaultBuffer = 256

// offer pushes v without blocking. When the buffer is full the oldest
// entry is dropped to make room; it reports whether v went in.
func offer[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}

type link struct {
	done     chan struct{}
	doneOnce sync.Once
}

func (l *link) close() {
	l.doneOnce.Do(func() {
		close(l.done)
	})
}

// ChannelPeer is one end of an in-memory link. Packets are delivered on a
// buffered channel; a slow reader loses the oldest packets, which the
// rollback protocol tolerates because inputs are resent until acked.
type ChannelPeer struct {
	in     chan rollback.Packet
	remote *ChannelPeer
	link   *link
}

// NewChannelPair creates two connected peers. Closing either end closes
// the link for both.
func NewChannelPair(buffer int) (*ChannelPeer, *ChannelPeer) {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	l := &link{done: make(chan struct{})}
	a := &ChannelPeer{in: make(chan rollback.Packet, buffer), link: l}
	b := &ChannelPeer{in: make(chan rollback.Packet, buffer), link: l}
	a.remote, b.remote = b, a
	return a, b
}

// Send delivers p to the other end.
func (p *ChannelPeer) Send(pkt rollback.Packet) error {
	select {
	case <-p.link.done:
		return ErrPeerClosed
	default:
	}
	offer(p.remote.in, pkt)
	return nil
}

// Receive returns the inbound packet channel. It is never closed.
func (p *ChannelPeer) Receive() <-chan rollback.Packet {
	return p.in
}

// Done closes when either end closes the link.
func (p *ChannelPeer) Done() <-chan struct{} {
	return p.link.done
}

// Close tears down the link. Safe to call multiple times.
func (p *ChannelPeer) Close() error {
	p.link.close()
	return nil
}
