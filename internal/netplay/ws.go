package netplay

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/vovakirdan/horde-arena/internal/rollback"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 30 * time.Second
)

// WSPeer carries rollback packets as JSON text frames over an established
// websocket connection. A reader and a writer goroutine own the connection;
// Send and Receive never block.
type WSPeer struct {
	conn   *websocket.Conn
	logger *log.Logger

	in  chan rollback.Packet
	out chan []byte

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

// NewWSPeer starts pumping packets on conn. The handshake, if any, must be
// finished before calling it.
func NewWSPeer(conn *websocket.Conn, logger *log.Logger) *WSPeer {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	p := &WSPeer{
		conn:   conn,
		logger: logger,
		in:     make(chan rollback.Packet, DefaultBuffer),
		out:    make(chan []byte, DefaultBuffer),
		done:   make(chan struct{}),
	}
	go p.readLoop()
	go p.writeLoop()
	return p
}

// Send queues pkt for the writer goroutine.
func (p *WSPeer) Send(pkt rollback.Packet) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}
	b, err := json.Marshal(pkt)
	if err != nil {
		return err
	}
	offer(p.out, b)
	return nil
}

// Receive returns the inbound packet channel. It is never closed.
func (p *WSPeer) Receive() <-chan rollback.Packet {
	return p.in
}

// Done closes when the connection is lost or closed.
func (p *WSPeer) Done() <-chan struct{} {
	return p.done
}

// Close sends a close frame and drops the connection.
func (p *WSPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		p.shutdown()
		err = p.conn.Close()
	})
	return err
}

func (p *WSPeer) shutdown() {
	p.doneOnce.Do(func() {
		close(p.done)
	})
}

func (p *WSPeer) readLoop() {
	defer p.shutdown()
	for {
		_ = p.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.logger.Debug("websocket read", "err", err)
			}
			return
		}
		var pkt rollback.Packet
		if err := json.Unmarshal(msg, &pkt); err != nil {
			p.logger.Warn("bad packet", "err", err)
			continue
		}
		offer(p.in, pkt)
	}
}

func (p *WSPeer) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case b := <-p.out:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				p.logger.Debug("websocket write", "err", err)
				p.shutdown()
				return
			}
		}
	}
}
