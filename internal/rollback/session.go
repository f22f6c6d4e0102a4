package rollback

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/horde-arena/internal/core"
)

const (
	syncRoundtrips   = 5
	syncResendFrames = 10

	// maxInputsPerPacket caps one input packet; older unacked frames go first.
	maxInputsPerPacket = 128

	// checksumHistory is how many local reports are kept for late remotes.
	checksumHistory = 64
)

// PlayerKind says where a slot's input comes from.
type PlayerKind uint8

const (
	PlayerLocal PlayerKind = iota
	PlayerRemote
)

type player struct {
	added bool
	kind  PlayerKind
	peer  int
}

type peerState struct {
	peer  Peer
	slots []int

	synced     bool
	syncCount  int
	syncFrames int
	nonce      uint32

	acked        uint32 // the remote holds our local inputs for frames < acked
	silent       int
	disconnected bool

	pending map[uint32]uint64 // remote checksums not yet compared
}

// Session drives a Game under rollback. It is not safe for concurrent use;
// one goroutine owns it and calls AdvanceFrame once per tick.
type Session[S any] struct {
	cfg    Config
	game   Game[S]
	logger *log.Logger

	state   State
	players []player
	peers   []*peerState
	queues  []*inputQueue
	ring    *stateRing[S]

	frame       uint32
	rollback    bool
	rollbackTo  uint32
	reported    uint32
	localChecks map[uint32]uint64

	checksums []FrameChecksum
	inputs    []core.MultiInputFrame
	events    []Event
	stats     Stats
}

// New creates an idle session. A nil logger discards output.
func New[S any](cfg Config, game Game[S], logger *log.Logger) (*Session[S], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if game == nil {
		return nil, fmt.Errorf("%w: nil game", ErrInvalidConfig)
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	s := &Session[S]{
		cfg:         cfg,
		game:        game,
		logger:      logger.WithPrefix("rollback"),
		players:     make([]player, cfg.Players),
		queues:      make([]*inputQueue, cfg.Players),
		ring:        newStateRing[S](cfg.MaxPrediction + 2),
		localChecks: make(map[uint32]uint64),
	}
	for i := range s.queues {
		s.queues[i] = &inputQueue{}
	}
	return s, nil
}

// AddPlayer assigns a slot. Remote slots served by the same Peer share one
// handshake and one packet stream.
func (s *Session[S]) AddPlayer(kind PlayerKind, slot int, peer Peer) error {
	if s.state != StateIdle {
		return fmt.Errorf("%w: session already started", ErrBadPlayer)
	}
	if slot < 0 || slot >= s.cfg.Players {
		return fmt.Errorf("%w: slot %d outside 0..%d", ErrBadPlayer, slot, s.cfg.Players-1)
	}
	if s.players[slot].added {
		return fmt.Errorf("%w: slot %d already added", ErrBadPlayer, slot)
	}

	switch kind {
	case PlayerLocal:
		s.players[slot] = player{added: true, kind: PlayerLocal, peer: -1}
	case PlayerRemote:
		if peer == nil {
			return fmt.Errorf("%w: remote slot %d needs a peer", ErrBadPlayer, slot)
		}
		idx := -1
		for i, ps := range s.peers {
			if ps.peer == peer {
				idx = i
				break
			}
		}
		if idx < 0 {
			idx = len(s.peers)
			s.peers = append(s.peers, &peerState{peer: peer, pending: make(map[uint32]uint64)})
		}
		s.peers[idx].slots = append(s.peers[idx].slots, slot)
		s.players[slot] = player{added: true, kind: PlayerRemote, peer: idx}
	default:
		return fmt.Errorf("%w: unknown player kind %d", ErrBadPlayer, kind)
	}
	return nil
}

// Start begins the handshake with every peer. A session with only local
// players is running immediately.
func (s *Session[S]) Start() error {
	switch s.state {
	case StateIdle:
	case StateTerminated:
		return ErrTerminated
	default:
		return nil
	}
	for slot, p := range s.players {
		if !p.added {
			return fmt.Errorf("%w: slot %d has no player", ErrBadPlayer, slot)
		}
	}
	for slot, p := range s.players {
		if p.kind == PlayerLocal {
			for f := 0; f < s.cfg.InputDelay; f++ {
				s.queues[slot].add(uint32(f), 0) //nolint:gosec
			}
		}
	}

	if len(s.peers) == 0 {
		s.state = StateRunning
		s.events = append(s.events, Synchronized{})
		s.logger.Debug("session running", "players", s.cfg.Players)
		return nil
	}

	s.state = StateSynchronizing
	for _, ps := range s.peers {
		ps.nonce = rand.Uint32() //nolint:gosec // handshake nonce, not a secret
		s.send(ps, Packet{Kind: PacketSyncRequest, Nonce: ps.nonce})
	}
	s.logger.Debug("synchronizing", "peers", len(s.peers))
	return nil
}

// AdvanceFrame applies this tick's local input (keyed by slot) and
// simulates one frame, first re-simulating any frames whose prediction
// turned out wrong. Missing local slots read as the neutral input.
func (s *Session[S]) AdvanceFrame(local map[int]core.InputBits) error {
	switch s.state {
	case StateIdle:
		return ErrNotRunning
	case StateTerminated:
		return ErrTerminated
	}

	s.poll()

	if s.state == StateSynchronizing {
		s.resendSync()
		if !s.allSynced() {
			return ErrNotSynchronized
		}
		s.state = StateRunning
		s.events = append(s.events, Synchronized{})
		s.logger.Info("synchronized", "peers", len(s.peers))
	}

	s.checkTimeouts()

	if s.rollback {
		s.resimulate()
	}

	if s.aheadOfConfirmed() {
		s.stats.PredictionStalls++
		s.sendInputs()
		return ErrPredictionThreshold
	}

	at := s.frame + uint32(s.cfg.InputDelay) //nolint:gosec
	for slot, p := range s.players {
		if p.kind == PlayerLocal {
			s.queues[slot].add(at, local[slot])
		}
	}

	s.simulate()
	s.confirm()
	s.sendInputs()
	return nil
}

// aheadOfConfirmed reports whether simulating another frame would leave
// MaxPrediction or more frames resting on predicted input.
func (s *Session[S]) aheadOfConfirmed() bool {
	minRemote := uint32(never)
	for slot, p := range s.players {
		if p.kind == PlayerRemote {
			minRemote = min(minRemote, s.queues[slot].until())
		}
	}
	if minRemote == never || minRemote > s.frame {
		return false
	}
	return s.frame-minRemote >= uint32(s.cfg.MaxPrediction) //nolint:gosec
}

// simulate saves the current state and steps one frame.
func (s *Session[S]) simulate() {
	inputs := make([]core.PlayerInput, s.cfg.Players)
	for slot, q := range s.queues {
		in := q.input(s.frame)
		inputs[slot] = in
		if s.players[slot].kind == PlayerRemote {
			q.record(s.frame, in.Effective())
		}
	}
	s.ring.save(s.frame, s.game.Save(), s.game.Checksum())
	s.game.Step(inputs)
	s.frame++
}

func (s *Session[S]) markRollback(frame uint32) {
	if frame >= s.frame {
		return
	}
	if !s.rollback || frame < s.rollbackTo {
		s.rollback = true
		s.rollbackTo = frame
	}
}

func (s *Session[S]) resimulate() {
	from := s.rollbackTo
	s.rollback = false

	saved, ok := s.ring.load(from)
	if !ok {
		s.logger.Error("saved state missing, cannot roll back", "frame", from, "current", s.frame)
		return
	}

	target := s.frame
	s.state = StateResimulating
	s.game.Load(saved.state)
	s.frame = from
	for s.frame < target {
		s.simulate()
	}
	s.state = StateRunning

	s.stats.Rollbacks++
	s.stats.ResimulatedFrames += uint64(target - from)
	s.logger.Debug("rolled back", "from", from, "to", target)
}

// confirmedFrame is the number of frames whose every input is confirmed,
// capped at the current frame.
func (s *Session[S]) confirmedFrame() uint32 {
	until := s.frame
	for _, q := range s.queues {
		until = min(until, q.until())
	}
	return until
}

// confirm exports checksums and inputs for newly confirmed frames and
// reports every CheckDistance-th checksum to the peers.
func (s *Session[S]) confirm() {
	until := s.confirmedFrame()
	for f := s.reported + 1; f <= until; f++ {
		mif := core.NewMultiInputFrame(f-1, s.cfg.Players)
		for slot, q := range s.queues {
			mif.SetPlayer(slot, q.input(f-1))
		}
		s.inputs = append(s.inputs, mif)

		var sum uint64
		if f == s.frame {
			sum = s.game.Checksum()
		} else if saved, ok := s.ring.load(f); ok {
			sum = saved.checksum
		} else {
			s.logger.Error("confirmed state missing", "frame", f)
			s.reported = f
			continue
		}
		s.checksums = append(s.checksums, FrameChecksum{Frame: f, Checksum: sum})
		s.reported = f

		if s.cfg.CheckDistance > 0 && f%uint32(s.cfg.CheckDistance) == 0 { //nolint:gosec
			s.reportChecksum(f, sum)
		}
	}
}

func (s *Session[S]) reportChecksum(frame uint32, sum uint64) {
	s.localChecks[frame] = sum
	if old := uint32(checksumHistory * s.cfg.CheckDistance); frame > old { //nolint:gosec
		delete(s.localChecks, frame-old)
	}
	for i, ps := range s.peers {
		if ps.disconnected {
			continue
		}
		s.send(ps, Packet{Kind: PacketChecksum, Frame: frame, Checksum: sum})
		if remote, ok := ps.pending[frame]; ok {
			delete(ps.pending, frame)
			s.compare(i, frame, sum, remote)
		}
	}
}

func (s *Session[S]) compare(peer int, frame uint32, local, remote uint64) {
	if local == remote {
		return
	}
	slot := s.peers[peer].slots[0]
	s.stats.Desyncs++
	s.events = append(s.events, DesyncDetected{Slot: slot, Frame: frame, Local: local, Remote: remote})
	s.logger.Warn("desync detected", "slot", slot, "frame", frame,
		"local", fmt.Sprintf("%016x", local), "remote", fmt.Sprintf("%016x", remote))
}

func (s *Session[S]) poll() {
	for i, ps := range s.peers {
		if ps.disconnected {
			continue
		}
		select {
		case <-ps.peer.Done():
			s.disconnectPeer(i, "transport closed")
			continue
		default:
		}
	drain:
		for {
			select {
			case pkt, ok := <-ps.peer.Receive():
				if !ok {
					s.disconnectPeer(i, "transport closed")
					break drain
				}
				s.handle(i, pkt)
				if ps.disconnected {
					break drain
				}
			default:
				break drain
			}
		}
	}
}

func (s *Session[S]) handle(peer int, pkt Packet) {
	ps := s.peers[peer]
	ps.silent = 0
	s.stats.PacketsReceived++

	switch pkt.Kind {
	case PacketSyncRequest:
		s.send(ps, Packet{Kind: PacketSyncReply, Nonce: pkt.Nonce})

	case PacketSyncReply:
		if ps.synced || pkt.Nonce != ps.nonce {
			return
		}
		ps.syncCount++
		s.events = append(s.events, Synchronizing{Slot: ps.slots[0], Count: ps.syncCount, Total: syncRoundtrips})
		if ps.syncCount >= syncRoundtrips {
			ps.synced = true
			return
		}
		ps.nonce++
		ps.syncFrames = 0
		s.send(ps, Packet{Kind: PacketSyncRequest, Nonce: ps.nonce})

	case PacketInput:
		ps.acked = max(ps.acked, pkt.Ack)
		for _, run := range pkt.Inputs {
			if !ps.serves(run.Slot) {
				s.logger.Warn("input for foreign slot ignored", "slot", run.Slot, "peer", ps.slots)
				continue
			}
			for i, bits := range run.Bits {
				s.receiveInput(run.Slot, pkt.Start+uint32(i), bits) //nolint:gosec
			}
		}

	case PacketChecksum:
		if local, ok := s.localChecks[pkt.Frame]; ok {
			s.compare(peer, pkt.Frame, local, pkt.Checksum)
			return
		}
		if pkt.Frame > s.reported {
			ps.pending[pkt.Frame] = pkt.Checksum
		}

	case PacketDisconnect:
		s.disconnectPeer(peer, "peer left")

	default:
		s.logger.Warn("unknown packet", "kind", pkt.Kind)
	}
}

func (s *Session[S]) receiveInput(slot int, frame uint32, bits core.InputBits) {
	q := s.queues[slot]
	if !q.add(frame, bits) {
		return
	}
	if used, ran := q.usedAt(frame); ran && used != bits.Sanitize() {
		s.markRollback(frame)
	}
}

func (ps *peerState) serves(slot int) bool {
	for _, sl := range ps.slots {
		if sl == slot {
			return true
		}
	}
	return false
}

func (s *Session[S]) allSynced() bool {
	for _, ps := range s.peers {
		if !ps.synced && !ps.disconnected {
			return false
		}
	}
	return true
}

func (s *Session[S]) resendSync() {
	for _, ps := range s.peers {
		if ps.synced || ps.disconnected {
			continue
		}
		ps.syncFrames++
		if ps.syncFrames >= syncResendFrames {
			ps.syncFrames = 0
			s.send(ps, Packet{Kind: PacketSyncRequest, Nonce: ps.nonce})
		}
	}
}

func (s *Session[S]) checkTimeouts() {
	if s.cfg.DisconnectTimeoutFrames == 0 {
		return
	}
	for i, ps := range s.peers {
		if ps.disconnected {
			continue
		}
		ps.silent++
		if ps.silent > s.cfg.DisconnectTimeoutFrames {
			s.disconnectPeer(i, "timed out")
		}
	}
}

// disconnectPeer freezes every slot the peer served. Frames already
// simulated with non-neutral predictions for those slots are re-run.
func (s *Session[S]) disconnectPeer(peer int, reason string) {
	ps := s.peers[peer]
	if ps.disconnected {
		return
	}
	ps.disconnected = true
	for _, slot := range ps.slots {
		q := s.queues[slot]
		at := q.disconnect()
		s.events = append(s.events, Disconnected{Slot: slot, Frame: at})
		for f := at; f < s.frame; f++ {
			if used, ran := q.usedAt(f); ran && used != 0 {
				s.markRollback(f)
				break
			}
		}
		s.logger.Info("player disconnected", "slot", slot, "frame", at, "reason", reason)
	}
	if err := ps.peer.Close(); err != nil {
		s.logger.Debug("closing peer", "err", err)
	}
}

// sendInputs sends every peer the local inputs it has not acknowledged.
// An empty run still carries our ack and keeps the peer from timing out.
func (s *Session[S]) sendInputs() {
	for _, ps := range s.peers {
		if ps.disconnected {
			continue
		}
		pkt := Packet{Kind: PacketInput, Start: ps.acked, Ack: s.ackFor(ps)}
		for slot, p := range s.players {
			if p.kind != PlayerLocal {
				continue
			}
			confirmed := s.queues[slot].confirmed
			start := min(int(ps.acked), len(confirmed))
			end := min(len(confirmed), start+maxInputsPerPacket)
			bits := make([]core.InputBits, end-start)
			copy(bits, confirmed[start:end])
			pkt.Inputs = append(pkt.Inputs, SlotInputs{Slot: slot, Bits: bits})
		}
		s.send(ps, pkt)
	}
}

func (s *Session[S]) ackFor(ps *peerState) uint32 {
	ack := uint32(never)
	for _, slot := range ps.slots {
		ack = min(ack, uint32(len(s.queues[slot].confirmed))) //nolint:gosec
	}
	if ack == never {
		return 0
	}
	return ack
}

func (s *Session[S]) send(ps *peerState, pkt Packet) {
	if err := ps.peer.Send(pkt); err != nil {
		s.logger.Debug("send failed", "kind", pkt.Kind, "err", err)
		return
	}
	s.stats.PacketsSent++
}

// PollEvents returns and clears the pending events.
func (s *Session[S]) PollEvents() []Event {
	ev := s.events
	s.events = nil
	return ev
}

// ConfirmedChecksums returns and clears the checksums of frames confirmed
// since the last call, in frame order.
func (s *Session[S]) ConfirmedChecksums() []FrameChecksum {
	out := s.checksums
	s.checksums = nil
	return out
}

// ConfirmedInputs returns and clears the inputs of frames confirmed since
// the last call, in frame order.
func (s *Session[S]) ConfirmedInputs() []core.MultiInputFrame {
	out := s.inputs
	s.inputs = nil
	return out
}

// Checksum returns the checksum of the current, possibly predicted, state.
func (s *Session[S]) Checksum() uint64 {
	return s.game.Checksum()
}

// Frame returns the number of frames simulated.
func (s *Session[S]) Frame() uint32 {
	return s.frame
}

// State returns the lifecycle state.
func (s *Session[S]) State() State {
	return s.state
}

// Stats returns a snapshot of the session counters.
func (s *Session[S]) Stats() Stats {
	st := s.stats
	st.Frame = s.frame
	st.ConfirmedFrame = s.confirmedFrame()
	return st
}

// LocalSlots returns the slots fed by this machine, ascending.
func (s *Session[S]) LocalSlots() []int {
	var out []int
	for slot, p := range s.players {
		if p.added && p.kind == PlayerLocal {
			out = append(out, slot)
		}
	}
	return out
}

// Close tells every connected peer we are leaving, closes the transports
// and releases saved states. The session cannot be restarted.
func (s *Session[S]) Close() error {
	if s.state == StateTerminated {
		return nil
	}
	var errs []error
	for _, ps := range s.peers {
		if ps.disconnected {
			continue
		}
		_ = ps.peer.Send(Packet{Kind: PacketDisconnect})
		ps.disconnected = true
		if err := ps.peer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.ring.reset()
	s.state = StateTerminated
	s.logger.Debug("session closed", "frame", s.frame)
	return errors.Join(errs...)
}
