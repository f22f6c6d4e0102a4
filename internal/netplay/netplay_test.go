package netplay

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/horde-arena/internal/config"
	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/rollback"
	"github.com/vovakirdan/horde-arena/internal/sim"
)

func TestChannelPeerDropsOldest(t *testing.T) {
	a, b := NewChannelPair(2)
	for i := uint32(1); i <= 3; i++ {
		if err := a.Send(rollback.Packet{Kind: rollback.PacketChecksum, Frame: i}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	var got []uint32
	for len(got) < 2 {
		select {
		case p := <-b.Receive():
			got = append(got, p.Frame)
		default:
			t.Fatalf("expected 2 buffered packets, got %v", got)
		}
	}
	if got[0] != 2 || got[1] != 3 {
		t.Fatalf("got frames %v, want [2 3]", got)
	}
}

func TestChannelPeerCloseIsShared(t *testing.T) {
	a, b := NewChannelPair(0)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal("second Close failed")
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("closing one end did not close the other")
	}
	if err := a.Send(rollback.Packet{Kind: rollback.PacketInput}); !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("Send after close = %v", err)
	}
}

func TestBotIsReproducible(t *testing.T) {
	b1 := Bot{Seed: 7}
	b2 := Bot{Seed: 7}
	other := Bot{Seed: 8}
	differs := false
	for f := uint32(0); f < 400; f++ {
		if b1.Poll(1, f) != b2.Poll(1, f) {
			t.Fatalf("frame %d: same seed, different input", f)
		}
		if b1.Poll(1, f) != other.Poll(1, f) {
			differs = true
		}
		if b1.Poll(0, f).Sanitize() != b1.Poll(0, f) {
			t.Fatalf("frame %d: bot produced undefined bits", f)
		}
	}
	if !differs {
		t.Fatal("different seeds drove identically")
	}
}

type memRecorder struct {
	mu      sync.Mutex
	sums    map[uint32]uint64
	desyncs []rollback.DesyncDetected
	frames  []core.MultiInputFrame
}

func newMemRecorder() *memRecorder {
	return &memRecorder{sums: make(map[uint32]uint64)}
}

func (r *memRecorder) RecordChecksums(_ string, sums []rollback.FrameChecksum) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range sums {
		r.sums[s.Frame] = s.Checksum
	}
	return nil
}

func (r *memRecorder) RecordDesync(_ string, d rollback.DesyncDetected) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.desyncs = append(r.desyncs, d)
	return nil
}

func (r *memRecorder) WriteFrames(frames []core.MultiInputFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frames...)
	return nil
}

type countingObserver struct {
	ticks  int
	events int
}

func (o *countingObserver) Observe(rollback.Stats) { o.ticks++ }
func (o *countingObserver) Event(rollback.Event)   { o.events++ }

func arenaConfig() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.Runtime.Seed = 4242
	cfg.Horde.Count = 40
	return cfg
}

func newSession(t *testing.T, local, remote int, peer rollback.Peer) *rollback.Session[sim.State] {
	t.Helper()
	cfg := rollback.DefaultConfig()
	cfg.DisconnectTimeoutFrames = 0
	s, err := rollback.New[sim.State](cfg, sim.NewArena(arenaConfig()), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddPlayer(rollback.PlayerLocal, local, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.AddPlayer(rollback.PlayerRemote, remote, peer); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestMatchesConvergeOverChannelPeers(t *testing.T) {
	pa, pb := NewChannelPair(0)
	sa := newSession(t, 0, 1, pa)
	sb := newSession(t, 1, 0, pb)
	ra, rb := newMemRecorder(), newMemRecorder()
	obs := &countingObserver{}

	ma := NewMatch("m", sa, Bot{Seed: 1}, 60, 1, WithRecorder(ra), WithInputRecorder(ra), WithObserver(obs))
	mb := NewMatch("m", sb, Bot{Seed: 2}, 60, 1, WithRecorder(rb), WithInputRecorder(rb))

	if err := sa.Start(); err != nil {
		t.Fatal(err)
	}
	if err := sb.Start(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 300; i++ {
		if _, done, err := ma.Tick(); err != nil || done {
			t.Fatalf("tick %d: done=%v err=%v", i, done, err)
		}
		if _, done, err := mb.Tick(); err != nil || done {
			t.Fatalf("tick %d: done=%v err=%v", i, done, err)
		}
	}

	common := 0
	for f, sum := range ra.sums {
		if other, ok := rb.sums[f]; ok {
			common++
			if sum != other {
				t.Fatalf("frame %d: checksums differ", f)
			}
		}
	}
	if common < 250 {
		t.Fatalf("only %d common confirmed frames", common)
	}
	if len(ra.desyncs)+len(rb.desyncs) != 0 {
		t.Fatalf("unexpected desyncs: %v %v", ra.desyncs, rb.desyncs)
	}
	if obs.ticks != 300 || obs.events == 0 {
		t.Fatalf("observer saw %d ticks, %d events", obs.ticks, obs.events)
	}

	// The recorded inputs replay to the recorded checksums.
	ref := sim.NewArena(arenaConfig())
	for _, mif := range ra.frames {
		ref.StepFrame(mif)
		if want, ok := ra.sums[mif.Frame+1]; ok && ref.Checksum() != want {
			t.Fatalf("replay diverged at frame %d", mif.Frame+1)
		}
	}
}

func TestMatchEndsWhenPeerLeaves(t *testing.T) {
	pa, pb := NewChannelPair(0)
	sa := newSession(t, 0, 1, pa)
	sb := newSession(t, 1, 0, pb)
	ma := NewMatch("m", sa, Bot{Seed: 1}, 60, 1)
	mb := NewMatch("m", sb, Bot{Seed: 2}, 60, 1, WithFrameLimit(50))

	if err := sa.Start(); err != nil {
		t.Fatal(err)
	}
	if err := sb.Start(); err != nil {
		t.Fatal(err)
	}

	var bDone bool
	for i := 0; i < 400; i++ {
		reason, done, err := ma.Tick()
		if err != nil {
			t.Fatal(err)
		}
		if done {
			if reason != EndDisconnect {
				t.Fatalf("reason = %v, want disconnect", reason)
			}
			if !bDone {
				t.Fatal("a ended before b left")
			}
			return
		}
		if !bDone {
			reason, done, err := mb.Tick()
			if err != nil {
				t.Fatal(err)
			}
			if done {
				if reason != EndCompleted {
					t.Fatalf("b reason = %v, want completed", reason)
				}
				if err := sb.Close(); err != nil {
					t.Fatal(err)
				}
				bDone = true
			}
		}
	}
	t.Fatal("match never noticed the disconnect")
}

func TestMatchRunCancels(t *testing.T) {
	s, err := rollback.New[sim.State](rollback.Config{
		Players: 1, MaxPrediction: 8, TickRate: 240, CheckDistance: 1,
	}, sim.NewArena(arenaConfig()), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddPlayer(rollback.PlayerLocal, 0, nil); err != nil {
		t.Fatal(err)
	}
	rec := newMemRecorder()
	m := NewMatch("solo", s, Bot{Seed: 3}, 240, 0, WithRecorder(rec), WithFrameLimit(30))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := m.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != EndCompleted || res.Frames != 30 {
		t.Fatalf("result = %+v", res)
	}
	if len(rec.sums) != 30 {
		t.Fatalf("recorded %d checksums, want 30", len(rec.sums))
	}
	if s.State() != rollback.StateTerminated {
		t.Fatalf("session state = %v after Run", s.State())
	}

	// A cancelled context stops an unlimited match.
	s2, err := rollback.New[sim.State](rollback.Config{Players: 1, MaxPrediction: 8, TickRate: 60}, sim.NewArena(arenaConfig()), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s2.AddPlayer(rollback.PlayerLocal, 0, nil); err != nil {
		t.Fatal(err)
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	res2, err := NewMatch("solo2", s2, Bot{}, 60, 0).Run(ctx2)
	if err != nil {
		t.Fatal(err)
	}
	if res2.Reason != EndCancelled {
		t.Fatalf("reason = %v, want cancelled", res2.Reason)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func lobbyConfig() config.ArenaConfig {
	cfg := config.DefaultArenaConfig()
	cfg.Runtime.Players = 2
	cfg.Runtime.Seed = 99
	cfg.Session.CheckDistance = 2
	return cfg
}

func TestLobbyHandshake(t *testing.T) {
	host, err := NewHost(HostConfig{Arena: lobbyConfig(), Code: "abc123"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(host.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, _, err := Dial(ctx, wsURL(srv), Hello{Code: "WRONG1"}, nil); !errors.Is(err, ErrRejected) {
		t.Fatalf("wrong code: err = %v", err)
	}

	joiner, welcome, err := Dial(ctx, wsURL(srv), Hello{Code: "ABC123", Name: "bob"}, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer joiner.Close()
	if welcome.Slot != 1 || welcome.Config.Runtime.Seed != 99 || welcome.Config.Runtime.Players != 2 ||
		welcome.MatchID != host.MatchID() {
		t.Fatalf("welcome = %+v", welcome)
	}

	seats, err := host.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(seats) != 1 || seats[0].Slot != 1 || seats[0].Name != "bob" {
		t.Fatalf("seats = %+v", seats)
	}
	defer seats[0].Peer.Close()

	if _, _, err := Dial(ctx, wsURL(srv), Hello{Code: "ABC123"}, nil); !errors.Is(err, ErrRejected) {
		t.Fatalf("full lobby: err = %v", err)
	}

	// Packets flow both ways.
	want := rollback.Packet{Kind: rollback.PacketInput, Start: 4, Ack: 2,
		Inputs: []rollback.SlotInputs{{Slot: 1, Bits: []core.InputBits{core.InputUp, core.InputFire}}}}
	if err := joiner.Send(want); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-seats[0].Peer.Receive():
		if got.Kind != want.Kind || got.Start != 4 || got.Ack != 2 || len(got.Inputs) != 1 ||
			got.Inputs[0].Bits[1] != core.InputFire {
			t.Fatalf("got %+v", got)
		}
	case <-ctx.Done():
		t.Fatal("packet never arrived at host")
	}
	if err := seats[0].Peer.Send(rollback.Packet{Kind: rollback.PacketChecksum, Frame: 8, Checksum: 1 << 60}); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-joiner.Receive():
		if got.Frame != 8 || got.Checksum != 1<<60 {
			t.Fatalf("got %+v", got)
		}
	case <-ctx.Done():
		t.Fatal("packet never arrived at joiner")
	}

	// Closing one side is seen by the other.
	if err := joiner.Close(); err != nil {
		t.Logf("close: %v", err)
	}
	select {
	case <-seats[0].Peer.Done():
	case <-ctx.Done():
		t.Fatal("host never saw the joiner leave")
	}
}

func TestNewHostRejectsPlayerCount(t *testing.T) {
	three := lobbyConfig()
	three.Runtime.Players = 3
	if _, err := NewHost(HostConfig{Arena: three}, nil); err == nil {
		t.Fatal("expected an error for a 3-player host")
	}
	broken := lobbyConfig()
	broken.Horde.SizeMin = broken.Horde.SizeMax + 1
	if _, err := NewHost(HostConfig{Arena: broken}, nil); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("invalid arena config: err = %v", err)
	}
	h, err := NewHost(HostConfig{Arena: lobbyConfig()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Code()) != 6 || strings.ToUpper(h.Code()) != h.Code() {
		t.Fatalf("generated code %q", h.Code())
	}
}

func TestJoinerAdoptsHostArena(t *testing.T) {
	hostCfg := lobbyConfig()
	config.ApplyPreset(&hostCfg, config.PresetSwarm)
	hostCfg.Map.Width = 900
	hostCfg.Vehicle.MaxSpeed = 9.25
	hostCfg.Session.InputDelay = 3

	host, err := NewHost(HostConfig{Arena: hostCfg, Code: "SWARM1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(host.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	joiner, welcome, err := Dial(ctx, wsURL(srv), Hello{Code: "SWARM1"}, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer joiner.Close()
	seats, err := host.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer seats[0].Peer.Close()

	// The joiner loaded the plain defaults with a different seed.
	local := config.DefaultArenaConfig()
	local.Runtime.Seed = 7
	local.Runtime.Workers = 1
	local.Session.InputDelay = 1
	got := welcome.Adopt(local)

	hostSim, err := hostCfg.Sim()
	if err != nil {
		t.Fatal(err)
	}
	joinSim, err := got.Sim()
	if err != nil {
		t.Fatalf("adopted config: %v", err)
	}
	if joinSim.Runtime.Seed != 99 || joinSim.Horde.Count != hostSim.Horde.Count ||
		len(joinSim.Horde.Kinds) != len(hostSim.Horde.Kinds) ||
		joinSim.Runtime.Map.Width != 900 || got.Vehicle.MaxSpeed != 9.25 {
		t.Fatalf("joiner arena differs from host: %+v", got)
	}
	if got.Session.CheckDistance != hostCfg.Session.CheckDistance {
		t.Fatalf("check distance %d, host uses %d", got.Session.CheckDistance, hostCfg.Session.CheckDistance)
	}
	if got.Runtime.Workers != 1 || got.Session.InputDelay != 1 {
		t.Fatalf("local tuning overwritten: workers %d, input delay %d", got.Runtime.Workers, got.Session.InputDelay)
	}

	// Both sides build the same starting state.
	if a, b := sim.NewArena(hostSim).Checksum(), sim.NewArena(joinSim).Checksum(); a != b {
		t.Fatalf("initial checksums differ: host %016x, joiner %016x", a, b)
	}
}

type failingRecorder struct{}

func (failingRecorder) RecordChecksums(string, []rollback.FrameChecksum) error {
	return errors.New("disk full")
}

func (failingRecorder) RecordDesync(string, rollback.DesyncDetected) error {
	return errors.New("disk full")
}

func TestUnpacedMatchFansOutRecorders(t *testing.T) {
	s, err := rollback.New[sim.State](rollback.Config{
		Players: 2, MaxPrediction: 8, TickRate: 60, InputDelay: 1, CheckDistance: 1,
	}, sim.NewArena(arenaConfig()), nil)
	if err != nil {
		t.Fatal(err)
	}
	for slot := range 2 {
		if err := s.AddPlayer(rollback.PlayerLocal, slot, nil); err != nil {
			t.Fatal(err)
		}
	}
	a, b := newMemRecorder(), newMemRecorder()
	m := NewMatch("fast", s, Bot{Seed: 5}, 1, 0,
		WithUnpaced(), WithFrameLimit(500), WithRecorder(Recorders{a, failingRecorder{}, b}))

	// At one tick per second a paced run would take minutes.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := m.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != EndCompleted || res.Frames != 500 {
		t.Fatalf("result = %+v", res)
	}
	if len(a.sums) != 500 || len(b.sums) != 500 {
		t.Fatalf("recorded %d and %d checksums, want 500 each", len(a.sums), len(b.sums))
	}

	if err := (Recorders{a, failingRecorder{}}).RecordDesync("x", rollback.DesyncDetected{}); err == nil {
		t.Fatal("Recorders swallowed an error")
	}
}
