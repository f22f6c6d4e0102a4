package netplay

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vovakirdan/horde-arena/internal/config"
)

// ProtocolVersion must match between host and joiner.
const ProtocolVersion = 2

const handshakeTimeout = 5 * time.Second

// Lobby errors.
var (
	ErrLobbyFull   = errors.New("netplay: lobby is full")
	ErrBadJoinCode = errors.New("netplay: wrong join code")
	ErrBadVersion  = errors.New("netplay: protocol version mismatch")
	ErrRejected    = errors.New("netplay: rejected by host")
)

// Hello is the first message a joiner sends.
type Hello struct {
	Version int    `json:"version"`
	Code    string `json:"code"`
	Name    string `json:"name,omitempty"`
}

// Welcome is the host's answer: the slot it assigned and the whole arena
// config, which the joiner simulates with in place of its own.
type Welcome struct {
	Version int                `json:"version"`
	MatchID string             `json:"match_id"`
	Slot    int                `json:"slot"`
	Config  config.ArenaConfig `json:"config"`
	Error   string             `json:"error,omitempty"`
}

// Adopt returns the host's config with the settings that only tune the local
// peer taken from local: force workers, input delay, prediction window and
// disconnect timeout. Everything that shapes the simulation comes from the
// host, as does the checksum distance both peers exchange on.
func (w Welcome) Adopt(local config.ArenaConfig) config.ArenaConfig {
	cfg := w.Config
	cfg.Runtime.Workers = local.Runtime.Workers
	cfg.Session = local.Session
	cfg.Session.CheckDistance = w.Config.Session.CheckDistance
	return cfg
}

// HostConfig describes the match a host offers.
type HostConfig struct {
	Arena config.ArenaConfig
	Code  string // generated when empty
}

// Seat is a joiner that completed the handshake.
type Seat struct {
	Slot int
	Name string
	Peer *WSPeer
}

// Host accepts joiners over websocket and hands each the next free slot.
// The host itself plays slot 0. Joiners only connect to the host, so a
// hosted match has exactly two players.
type Host struct {
	cfg      HostConfig
	matchID  string
	logger   *log.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	nextSlot int
	seats    chan Seat
}

// NewHost prepares a lobby. A nil logger discards output.
func NewHost(cfg HostConfig, logger *log.Logger) (*Host, error) {
	if n := cfg.Arena.Runtime.Players; n != 2 {
		return nil, fmt.Errorf("netplay: hosted matches need exactly 2 players, got %d", n)
	}
	if err := cfg.Arena.Validate(); err != nil {
		return nil, err
	}
	if cfg.Code == "" {
		cfg.Code = generateJoinCode()
	}
	cfg.Code = strings.ToUpper(cfg.Code)
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Host{
		cfg:     cfg,
		matchID: uuid.NewString(),
		logger:  logger.WithPrefix("lobby"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		nextSlot: 1,
		seats:    make(chan Seat, cfg.Arena.Runtime.Players),
	}, nil
}

// Code returns the join code.
func (h *Host) Code() string {
	return h.cfg.Code
}

// MatchID returns the id shared with every joiner.
func (h *Host) MatchID() string {
	return h.matchID
}

// Handler upgrades joiners and runs the handshake.
func (h *Host) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		seat, err := h.admit(conn)
		if err != nil {
			h.logger.Warn("join refused", "remote", r.RemoteAddr, "err", err)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
				time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}
		h.logger.Info("player joined", "slot", seat.Slot, "name", seat.Name, "remote", r.RemoteAddr)
		h.seats <- seat
	}
}

func (h *Host) admit(conn *websocket.Conn) (Seat, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var hello Hello
	if err := conn.ReadJSON(&hello); err != nil {
		return Seat{}, fmt.Errorf("netplay: reading hello: %w", err)
	}

	welcome := Welcome{
		Version: ProtocolVersion,
		MatchID: h.matchID,
		Config:  h.cfg.Arena,
	}

	var reject error
	switch {
	case hello.Version != ProtocolVersion:
		reject = ErrBadVersion
	case strings.ToUpper(hello.Code) != h.cfg.Code:
		reject = ErrBadJoinCode
	}

	if reject == nil {
		h.mu.Lock()
		if h.nextSlot >= h.cfg.Arena.Runtime.Players {
			reject = ErrLobbyFull
		} else {
			welcome.Slot = h.nextSlot
			h.nextSlot++
		}
		h.mu.Unlock()
	}
	if reject != nil {
		welcome.Error = reject.Error()
	}

	_ = conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if err := conn.WriteJSON(welcome); err != nil {
		return Seat{}, fmt.Errorf("netplay: writing welcome: %w", err)
	}
	if reject != nil {
		return Seat{}, reject
	}
	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})
	return Seat{Slot: welcome.Slot, Name: hello.Name, Peer: NewWSPeer(conn, h.logger)}, nil
}

// Wait blocks until every remote slot is filled or ctx ends.
func (h *Host) Wait(ctx context.Context) ([]Seat, error) {
	players := h.cfg.Arena.Runtime.Players
	seats := make([]Seat, 0, players-1)
	for len(seats) < players-1 {
		select {
		case s := <-h.seats:
			seats = append(seats, s)
		case <-ctx.Done():
			for _, s := range seats {
				_ = s.Peer.Close()
			}
			return nil, ctx.Err()
		}
	}
	return seats, nil
}

// Dial joins a hosted match at url. The returned Welcome carries the host's
// validated arena config.
func Dial(ctx context.Context, url string, hello Hello, logger *log.Logger) (*WSPeer, Welcome, error) {
	if hello.Version == 0 {
		hello.Version = ProtocolVersion
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, Welcome{}, fmt.Errorf("netplay: dial %s: %w", url, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, Welcome{}, fmt.Errorf("netplay: writing hello: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, Welcome{}, fmt.Errorf("netplay: reading welcome: %w", err)
	}
	var welcome Welcome
	if err := json.Unmarshal(msg, &welcome); err != nil {
		_ = conn.Close()
		return nil, Welcome{}, fmt.Errorf("netplay: decoding welcome: %w", err)
	}
	if welcome.Error != "" {
		_ = conn.Close()
		return nil, welcome, fmt.Errorf("%w: %s", ErrRejected, welcome.Error)
	}
	if welcome.Version != ProtocolVersion {
		_ = conn.Close()
		return nil, welcome, fmt.Errorf("%w: host speaks %d", ErrBadVersion, welcome.Version)
	}
	if err := welcome.Config.Validate(); err != nil {
		_ = conn.Close()
		return nil, welcome, fmt.Errorf("netplay: host config: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})
	return NewWSPeer(conn, logger), welcome, nil
}

// generateJoinCode creates a 6-character uppercase code.
func generateJoinCode() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%06X", time.Now().UnixNano()&0xFFFFFF)
	}
	return base32.StdEncoding.EncodeToString(b)[:6]
}
