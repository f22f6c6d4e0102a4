package rollback

import (
	"errors"
	"testing"

	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/sim"
)

var errLinkClosed = errors.New("link closed")

// testClock delivers in-flight packets once their latency has elapsed.
type testClock struct {
	now  int
	ends []*testEnd
}

func (c *testClock) tick() {
	c.now++
	for _, e := range c.ends {
		e.deliver()
	}
}

type flight struct {
	at  int
	pkt Packet
}

// testEnd is one side of an in-memory link with fixed one-way latency.
type testEnd struct {
	clock    *testClock
	latency  int
	remote   *testEnd
	inflight []flight
	in       chan Packet
	done     chan struct{}
	closed   bool
	cut      bool
}

func newTestLink(c *testClock, latency int) (*testEnd, *testEnd) {
	a := &testEnd{clock: c, latency: latency, in: make(chan Packet, 8192), done: make(chan struct{})}
	b := &testEnd{clock: c, latency: latency, in: make(chan Packet, 8192), done: make(chan struct{})}
	a.remote, b.remote = b, a
	c.ends = append(c.ends, a, b)
	return a, b
}

func (e *testEnd) Send(p Packet) error {
	if e.closed {
		return errLinkClosed
	}
	if e.cut {
		return nil
	}
	e.inflight = append(e.inflight, flight{at: e.clock.now + e.latency, pkt: p})
	return nil
}

func (e *testEnd) deliver() {
	n := 0
	for _, f := range e.inflight {
		if f.at <= e.clock.now {
			e.remote.in <- f.pkt
			continue
		}
		e.inflight[n] = f
		n++
	}
	e.inflight = e.inflight[:n]
}

func (e *testEnd) Receive() <-chan Packet { return e.in }
func (e *testEnd) Done() <-chan struct{}  { return e.done }

func (e *testEnd) Close() error {
	if !e.closed {
		e.closed = true
		close(e.done)
	}
	return nil
}

// counterGame is a tiny deterministic game folding every input it sees.
type counterGame struct {
	st    counterState
	steps [][]core.PlayerInput
	bias  uint64
	after uint32
}

type counterState struct {
	Frame uint32
	Acc   uint64
}

func (g *counterGame) Save() counterState  { return g.st }
func (g *counterGame) Load(s counterState) { g.st = s }

func (g *counterGame) Step(inputs []core.PlayerInput) {
	cp := make([]core.PlayerInput, len(inputs))
	copy(cp, inputs)
	g.steps = append(g.steps, cp)
	for slot, in := range inputs {
		g.st.Acc = g.st.Acc*1099511628211 ^ (uint64(in.Effective()) + uint64(slot)<<8)
	}
	g.st.Frame++
}

func (g *counterGame) Checksum() uint64 {
	sum := g.st.Acc ^ uint64(g.st.Frame)<<40
	if g.bias != 0 && g.st.Frame >= g.after {
		sum += g.bias
	}
	return sum
}

func pattern(slot, tick int) core.InputBits {
	var b core.InputBits
	switch slot {
	case 0:
		if tick%40 < 30 {
			b = b.With(core.InputUp)
		}
		if tick%90 < 20 {
			b = b.With(core.InputLeft)
		}
		if tick%7 == 0 {
			b = b.With(core.InputFire)
		}
	default:
		if tick%50 < 35 {
			b = b.With(core.InputUp)
		}
		if tick%60 > 40 {
			b = b.With(core.InputRight)
		}
		if tick%11 < 3 {
			b = b.With(core.InputFire)
		}
	}
	if tick > 120 && tick%100 < 30 {
		b = b.With(core.InputModifier)
	}
	return b
}

func testSessionConfig() Config {
	cfg := DefaultConfig()
	cfg.DisconnectTimeoutFrames = 0
	return cfg
}

// newPair wires two sessions: a owns slot 0, b owns slot 1.
func newPair[S any](t *testing.T, cfg Config, ga, gb Game[S], latency int) (*testClock, *Session[S], *Session[S], *testEnd, *testEnd) {
	t.Helper()
	clock := &testClock{}
	ea, eb := newTestLink(clock, latency)

	a, err := New(cfg, ga, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(cfg, gb, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	must(t, a.AddPlayer(PlayerLocal, 0, nil))
	must(t, a.AddPlayer(PlayerRemote, 1, ea))
	must(t, b.AddPlayer(PlayerRemote, 0, eb))
	must(t, b.AddPlayer(PlayerLocal, 1, nil))
	must(t, a.Start())
	must(t, b.Start())
	return clock, a, b, ea, eb
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func advance[S any](t *testing.T, s *Session[S], slot, tick int) error {
	t.Helper()
	err := s.AdvanceFrame(map[int]core.InputBits{slot: pattern(slot, tick)})
	switch {
	case err == nil, errors.Is(err, ErrNotSynchronized), errors.Is(err, ErrPredictionThreshold):
		return err
	default:
		t.Fatalf("AdvanceFrame: %v", err)
		return err
	}
}

func collect(dst map[uint32]uint64, sums []FrameChecksum) {
	for _, fc := range sums {
		dst[fc.Frame] = fc.Checksum
	}
}

func TestTwoPeersConvergeOnArena(t *testing.T) {
	arenaCfg := sim.DefaultConfig()
	arenaCfg.Runtime.Seed = 99
	arenaCfg.Horde.Count = 60

	clock, a, b, _, _ := newPair[sim.State](t, testSessionConfig(),
		sim.NewArena(arenaCfg), sim.NewArena(arenaCfg), 3)

	sumsA := map[uint32]uint64{}
	sumsB := map[uint32]uint64{}
	var inputsA []core.MultiInputFrame

	for tick := 0; tick < 360; tick++ {
		clock.tick()
		_ = advance(t, a, 0, tick)
		_ = advance(t, b, 1, tick)
		collect(sumsA, a.ConfirmedChecksums())
		collect(sumsB, b.ConfirmedChecksums())
		inputsA = append(inputsA, a.ConfirmedInputs()...)
		for _, ev := range append(a.PollEvents(), b.PollEvents()...) {
			if d, ok := ev.(DesyncDetected); ok {
				t.Fatalf("unexpected desync: %+v", d)
			}
		}
	}

	common := 0
	for f, sa := range sumsA {
		if sb, ok := sumsB[f]; ok {
			common++
			if sa != sb {
				t.Fatalf("frame %d: confirmed checksums differ: %x vs %x", f, sa, sb)
			}
		}
	}
	if common < 200 {
		t.Fatalf("only %d frames confirmed on both peers", common)
	}
	if a.Stats().Rollbacks == 0 && b.Stats().Rollbacks == 0 {
		t.Error("expected at least one rollback with a 3-tick link")
	}

	// Replaying the confirmed inputs from scratch reproduces every confirmed state.
	ref := sim.NewArena(arenaCfg)
	for i, mif := range inputsA {
		if mif.Frame != uint32(i) { //nolint:gosec
			t.Fatalf("confirmed inputs out of order: got frame %d at %d", mif.Frame, i)
		}
		ref.StepFrame(mif)
		if want, ok := sumsA[mif.Frame+1]; ok && ref.Checksum() != want {
			t.Fatalf("replay diverged after frame %d", mif.Frame+1)
		}
	}
}

func TestConfirmedChecksumsAreOrdered(t *testing.T) {
	clock, a, b, _, _ := newPair[counterState](t, testSessionConfig(), &counterGame{}, &counterGame{}, 2)
	var got []FrameChecksum
	for tick := 0; tick < 120; tick++ {
		clock.tick()
		_ = advance(t, a, 0, tick)
		_ = advance(t, b, 1, tick)
		got = append(got, a.ConfirmedChecksums()...)
	}
	if len(got) == 0 {
		t.Fatal("no confirmed checksums")
	}
	for i, fc := range got {
		if fc.Frame != uint32(i+1) { //nolint:gosec
			t.Fatalf("checksum %d is for frame %d", i, fc.Frame)
		}
	}
}

func TestDisconnectZeroesSlot(t *testing.T) {
	ga := &counterGame{}
	clock, a, b, _, _ := newPair[counterState](t, testSessionConfig(), ga, &counterGame{}, 2)

	var inputs []core.MultiInputFrame
	var disc *Disconnected
	for tick := 0; tick < 100; tick++ {
		clock.tick()
		_ = advance(t, a, 0, tick)
		_ = advance(t, b, 1, tick)
		inputs = append(inputs, a.ConfirmedInputs()...)
	}
	a.PollEvents()
	must(t, b.Close())

	before := a.Frame()
	for tick := 100; tick < 200; tick++ {
		clock.tick()
		if err := advance(t, a, 0, tick); err != nil {
			t.Fatalf("tick %d: %v", tick, err)
		}
		inputs = append(inputs, a.ConfirmedInputs()...)
		for _, ev := range a.PollEvents() {
			if d, ok := ev.(Disconnected); ok {
				disc = &d
			}
		}
	}
	if disc == nil {
		t.Fatal("no Disconnected event")
	}
	if disc.Slot != 1 {
		t.Fatalf("disconnected slot = %d, want 1", disc.Slot)
	}
	if a.Frame()-before != 100 {
		t.Fatalf("session advanced %d frames after disconnect, want 100", a.Frame()-before)
	}

	for _, mif := range inputs {
		if mif.Frame < disc.Frame {
			if mif.ByPlayer[1].Status != core.StatusConfirmed {
				t.Fatalf("frame %d before disconnect has status %v", mif.Frame, mif.ByPlayer[1].Status)
			}
			continue
		}
		if mif.ByPlayer[1].Status != core.StatusDisconnected || mif.Player(1) != 0 {
			t.Fatalf("frame %d after disconnect: %+v", mif.Frame, mif.ByPlayer[1])
		}
	}

	// The last simulation of every frame past the disconnect saw neutral input.
	last := ga.steps[len(ga.steps)-1]
	if last[1].Effective() != 0 {
		t.Fatalf("slot 1 still acting after disconnect: %v", last[1])
	}
}

func TestDesyncDetected(t *testing.T) {
	gb := &counterGame{bias: 1, after: 40}
	clock, a, b, _, _ := newPair[counterState](t, testSessionConfig(), &counterGame{}, gb, 1)

	var desync []DesyncDetected
	for tick := 0; tick < 150; tick++ {
		clock.tick()
		_ = advance(t, a, 0, tick)
		_ = advance(t, b, 1, tick)
		for _, ev := range a.PollEvents() {
			if d, ok := ev.(DesyncDetected); ok {
				desync = append(desync, d)
			}
		}
	}
	if len(desync) == 0 {
		t.Fatal("no DesyncDetected event")
	}
	first := desync[0]
	if first.Slot != 1 {
		t.Errorf("desync slot = %d, want 1", first.Slot)
	}
	if first.Frame < 40 {
		t.Errorf("desync reported at frame %d, before the divergence", first.Frame)
	}
	if first.Local == first.Remote {
		t.Errorf("desync with equal checksums: %+v", first)
	}
	if a.Stats().Desyncs == 0 {
		t.Error("Stats.Desyncs not counted")
	}
}

func TestPredictionThreshold(t *testing.T) {
	cfg := testSessionConfig()
	cfg.MaxPrediction = 8
	cfg.InputDelay = 1
	clock, a, b, _, eb := newPair[counterState](t, cfg, &counterGame{}, &counterGame{}, 1)

	for tick := 0; tick < 60; tick++ {
		clock.tick()
		_ = advance(t, a, 0, tick)
		_ = advance(t, b, 1, tick)
	}
	if a.State() != StateRunning {
		t.Fatalf("state = %v, want running", a.State())
	}
	eb.cut = true

	var stalled bool
	for tick := 60; tick < 100; tick++ {
		clock.tick()
		if errors.Is(advance(t, a, 0, tick), ErrPredictionThreshold) {
			stalled = true
		}
	}
	if !stalled {
		t.Fatal("session never hit the prediction threshold")
	}
	st := a.Stats()
	if st.Frame-st.ConfirmedFrame > uint32(cfg.MaxPrediction) { //nolint:gosec
		t.Fatalf("ran %d frames past confirmed input, limit %d", st.Frame-st.ConfirmedFrame, cfg.MaxPrediction)
	}
	if st.PredictionStalls == 0 {
		t.Error("stalls not counted")
	}

	// Frames stop advancing while stalled.
	frame := a.Frame()
	clock.tick()
	_ = advance(t, a, 0, 100)
	if a.Frame() != frame {
		t.Fatalf("frame advanced from %d to %d while stalled", frame, a.Frame())
	}
}

func TestLocalOnlySession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InputDelay = 2
	g := &counterGame{}
	s, err := New[counterState](cfg, g, nil)
	must(t, err)
	must(t, s.AddPlayer(PlayerLocal, 0, nil))
	must(t, s.AddPlayer(PlayerLocal, 1, nil))
	must(t, s.Start())
	if s.State() != StateRunning {
		t.Fatalf("state = %v, want running", s.State())
	}
	if ev := s.PollEvents(); len(ev) != 1 {
		t.Fatalf("events = %v, want one Synchronized", ev)
	} else if _, ok := ev[0].(Synchronized); !ok {
		t.Fatalf("event = %T, want Synchronized", ev[0])
	}

	up := core.InputUp
	for i := 0; i < 5; i++ {
		must(t, s.AdvanceFrame(map[int]core.InputBits{0: up, 1: core.InputFire}))
	}
	if len(g.steps) != 5 {
		t.Fatalf("game stepped %d times, want 5", len(g.steps))
	}
	for f := 0; f < 2; f++ {
		if g.steps[f][0].Bits != 0 || g.steps[f][1].Bits != 0 {
			t.Fatalf("frame %d inside input delay got %v", f, g.steps[f])
		}
	}
	if g.steps[2][0].Bits != up || g.steps[2][1].Bits != core.InputFire {
		t.Fatalf("frame 2 got %v", g.steps[2])
	}
	if sums := s.ConfirmedChecksums(); len(sums) != 5 {
		t.Fatalf("confirmed %d checksums, want 5", len(sums))
	}
	if s.Stats().Rollbacks != 0 {
		t.Fatal("local session rolled back")
	}
}

func TestSanitizedLocalInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Players = 1
	cfg.InputDelay = 0
	g := &counterGame{}
	s, err := New[counterState](cfg, g, nil)
	must(t, err)
	must(t, s.AddPlayer(PlayerLocal, 0, nil))
	must(t, s.Start())
	must(t, s.AdvanceFrame(map[int]core.InputBits{0: 0xFF}))
	if got := g.steps[0][0].Bits; got != core.InputBits(0xFF).Sanitize() {
		t.Fatalf("bits = %v, want sanitized", got)
	}
}

func TestLifecycleErrors(t *testing.T) {
	s, err := New[counterState](DefaultConfig(), &counterGame{}, nil)
	must(t, err)

	if err := s.AdvanceFrame(nil); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("AdvanceFrame before Start = %v", err)
	}
	if err := s.AddPlayer(PlayerLocal, 5, nil); !errors.Is(err, ErrBadPlayer) {
		t.Fatalf("out of range slot = %v", err)
	}
	if err := s.AddPlayer(PlayerRemote, 1, nil); !errors.Is(err, ErrBadPlayer) {
		t.Fatalf("remote without peer = %v", err)
	}
	must(t, s.AddPlayer(PlayerLocal, 0, nil))
	if err := s.AddPlayer(PlayerLocal, 0, nil); !errors.Is(err, ErrBadPlayer) {
		t.Fatalf("duplicate slot = %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrBadPlayer) {
		t.Fatalf("Start with empty slot = %v", err)
	}
	must(t, s.AddPlayer(PlayerLocal, 1, nil))
	must(t, s.Start())
	if err := s.AddPlayer(PlayerLocal, 1, nil); !errors.Is(err, ErrBadPlayer) {
		t.Fatalf("AddPlayer after Start = %v", err)
	}

	must(t, s.Close())
	if s.State() != StateTerminated {
		t.Fatalf("state = %v after Close", s.State())
	}
	if err := s.AdvanceFrame(nil); !errors.Is(err, ErrTerminated) {
		t.Fatalf("AdvanceFrame after Close = %v", err)
	}
	must(t, s.Close())
}

func TestSynchronizingEvents(t *testing.T) {
	clock, a, b, _, _ := newPair[counterState](t, testSessionConfig(), &counterGame{}, &counterGame{}, 2)
	if a.State() != StateSynchronizing {
		t.Fatalf("state = %v, want synchronizing", a.State())
	}

	var progress []Synchronizing
	synced := false
	for tick := 0; tick < 100 && !synced; tick++ {
		clock.tick()
		_ = advance(t, a, 0, tick)
		_ = advance(t, b, 1, tick)
		for _, ev := range a.PollEvents() {
			switch e := ev.(type) {
			case Synchronizing:
				progress = append(progress, e)
			case Synchronized:
				synced = true
			}
		}
	}
	if !synced {
		t.Fatal("never synchronized")
	}
	if len(progress) != syncRoundtrips {
		t.Fatalf("got %d progress events, want %d", len(progress), syncRoundtrips)
	}
	for i, p := range progress {
		if p.Slot != 1 || p.Count != i+1 || p.Total != syncRoundtrips {
			t.Fatalf("progress %d = %+v", i, p)
		}
	}
}

func TestTimeoutDisconnects(t *testing.T) {
	cfg := testSessionConfig()
	cfg.DisconnectTimeoutFrames = 20
	clock, a, b, _, eb := newPair[counterState](t, cfg, &counterGame{}, &counterGame{}, 1)
	for tick := 0; tick < 50; tick++ {
		clock.tick()
		_ = advance(t, a, 0, tick)
		_ = advance(t, b, 1, tick)
	}
	a.PollEvents()
	eb.cut = true

	var disc bool
	for tick := 50; tick < 100; tick++ {
		clock.tick()
		_ = advance(t, a, 0, tick)
		for _, ev := range a.PollEvents() {
			if _, ok := ev.(Disconnected); ok {
				disc = true
			}
		}
	}
	if !disc {
		t.Fatal("silent peer was not disconnected")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"no players", func(c *Config) { c.Players = 0 }, false},
		{"too many players", func(c *Config) { c.Players = MaxPlayers + 1 }, false},
		{"zero tick rate", func(c *Config) { c.TickRate = 0 }, false},
		{"tick rate cap", func(c *Config) { c.TickRate = MaxTickRate + 1 }, false},
		{"zero prediction", func(c *Config) { c.MaxPrediction = 0 }, false},
		{"prediction cap", func(c *Config) { c.MaxPrediction = MaxPredictionCap + 1 }, false},
		{"delay equals window", func(c *Config) { c.InputDelay = c.MaxPrediction }, false},
		{"negative delay", func(c *Config) { c.InputDelay = -1 }, false},
		{"zero delay", func(c *Config) { c.InputDelay = 0 }, true},
		{"negative check distance", func(c *Config) { c.CheckDistance = -1 }, false},
		{"checks off", func(c *Config) { c.CheckDistance = 0 }, true},
		{"negative timeout", func(c *Config) { c.DisconnectTimeoutFrames = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}

	bad := DefaultConfig()
	bad.Players = 0
	if _, err := New[counterState](bad, &counterGame{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("New with bad config = %v", err)
	}
}
