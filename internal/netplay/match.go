package netplay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/rollback"
	"github.com/vovakirdan/horde-arena/internal/sim"
)

// EndReason describes why a match loop stopped.
type EndReason int

const (
	EndCompleted  EndReason = iota // frame limit reached
	EndDisconnect                  // every remote player left
	EndCancelled                   // context cancelled
	EndFailed                      // session error
)

// String returns a human-readable reason.
func (r EndReason) String() string {
	switch r {
	case EndCompleted:
		return "completed"
	case EndDisconnect:
		return "disconnect"
	case EndCancelled:
		return "cancelled"
	case EndFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of Match.Run.
type Result struct {
	RunID    string
	Reason   EndReason
	Frames   uint32
	Checksum uint64
	Stats    rollback.Stats
	Desyncs  []rollback.DesyncDetected
}

// Recorder stores confirmed checksums and desync reports under the run id
// given to NewMatch.
type Recorder interface {
	RecordChecksums(runID string, sums []rollback.FrameChecksum) error
	RecordDesync(runID string, d rollback.DesyncDetected) error
}

// Recorders fans every call out to each recorder and joins the errors.
type Recorders []Recorder

// RecordChecksums implements Recorder.
func (rs Recorders) RecordChecksums(runID string, sums []rollback.FrameChecksum) error {
	var errs []error
	for _, r := range rs {
		errs = append(errs, r.RecordChecksums(runID, sums))
	}
	return errors.Join(errs...)
}

// RecordDesync implements Recorder.
func (rs Recorders) RecordDesync(runID string, d rollback.DesyncDetected) error {
	var errs []error
	for _, r := range rs {
		errs = append(errs, r.RecordDesync(runID, d))
	}
	return errors.Join(errs...)
}

// InputRecorder stores confirmed input frames in order.
type InputRecorder interface {
	WriteFrames(frames []core.MultiInputFrame) error
}

// Observer receives session statistics and events every tick.
type Observer interface {
	Observe(st rollback.Stats)
	Event(ev rollback.Event)
}

// Match drives one rollback session over a sim.Arena at a fixed tick rate.
type Match struct {
	id       string
	session  *rollback.Session[sim.State]
	input    InputSource
	tickRate int

	maxFrames uint32
	unpaced   bool
	logger    *log.Logger
	recorder  Recorder
	inputs    InputRecorder
	observer  Observer

	remotes int
	gone    int
	desyncs []rollback.DesyncDetected
}

// MatchOption configures a Match.
type MatchOption func(*Match)

// WithLogger sets the match logger.
func WithLogger(l *log.Logger) MatchOption {
	return func(m *Match) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithFrameLimit ends the match after n frames. Zero runs until cancelled.
func WithFrameLimit(n uint32) MatchOption {
	return func(m *Match) { m.maxFrames = n }
}

// WithUnpaced makes Run advance as fast as possible instead of once per
// tick. Useful for headless runs with local players only.
func WithUnpaced() MatchOption {
	return func(m *Match) { m.unpaced = true }
}

// WithRecorder sets where confirmed checksums and desyncs go.
func WithRecorder(r Recorder) MatchOption {
	return func(m *Match) { m.recorder = r }
}

// WithInputRecorder sets where confirmed inputs go.
func WithInputRecorder(r InputRecorder) MatchOption {
	return func(m *Match) { m.inputs = r }
}

// WithObserver sets the stats observer.
func WithObserver(o Observer) MatchOption {
	return func(m *Match) { m.observer = o }
}

// NewMatch wraps a session whose players are already added. id names this
// machine's run of the match. remotes is the number of remote slots; when
// all of them disconnect the match ends.
func NewMatch(id string, session *rollback.Session[sim.State], input InputSource, tickRate, remotes int, opts ...MatchOption) *Match {
	m := &Match{
		id:       id,
		session:  session,
		input:    input,
		tickRate: tickRate,
		remotes:  remotes,
		logger:   log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the run identifier.
func (m *Match) ID() string {
	return m.id
}

// Run starts the session and advances it once per tick until the frame
// limit, a full disconnect, ctx cancellation or a session error. The
// session is closed on return.
func (m *Match) Run(ctx context.Context) (Result, error) {
	if err := m.session.Start(); err != nil {
		return m.result(EndFailed), err
	}
	defer func() {
		if err := m.session.Close(); err != nil {
			m.logger.Debug("closing session", "err", err)
		}
	}()

	rate := max(1, m.tickRate)
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	m.logger.Info("match started", "run", m.id, "tick_rate", rate, "unpaced", m.unpaced, "local", m.session.LocalSlots())
	for {
		if m.unpaced {
			if ctx.Err() != nil {
				m.flush()
				return m.result(EndCancelled), nil
			}
		} else {
			select {
			case <-ctx.Done():
				m.flush()
				return m.result(EndCancelled), nil
			case <-ticker.C:
			}
		}

		reason, done, err := m.Tick()
		if err != nil {
			m.flush()
			return m.result(EndFailed), err
		}
		if done {
			m.logger.Info("match ended", "run", m.id, "reason", reason, "frame", m.session.Frame())
			return m.result(reason), nil
		}
	}
}

// Tick advances the session once and forwards everything it confirmed.
// It reports whether the match is over.
func (m *Match) Tick() (EndReason, bool, error) {
	frame := m.session.Frame()
	local := make(map[int]core.InputBits)
	for _, slot := range m.session.LocalSlots() {
		local[slot] = m.input.Poll(slot, frame)
	}

	err := m.session.AdvanceFrame(local)
	switch {
	case err == nil:
	case errors.Is(err, rollback.ErrNotSynchronized), errors.Is(err, rollback.ErrPredictionThreshold):
	default:
		return EndFailed, true, fmt.Errorf("netplay: advancing frame %d: %w", frame, err)
	}

	m.handleEvents()
	m.flush()
	if m.observer != nil {
		m.observer.Observe(m.session.Stats())
	}

	if m.remotes > 0 && m.gone >= m.remotes {
		return EndDisconnect, true, nil
	}
	if m.maxFrames > 0 && m.session.Frame() >= m.maxFrames {
		return EndCompleted, true, nil
	}
	return EndCompleted, false, nil
}

func (m *Match) handleEvents() {
	for _, ev := range m.session.PollEvents() {
		if m.observer != nil {
			m.observer.Event(ev)
		}
		switch e := ev.(type) {
		case rollback.Synchronizing:
			m.logger.Debug("synchronizing", "slot", e.Slot, "step", e.Count, "of", e.Total)
		case rollback.Synchronized:
			m.logger.Info("synchronized", "run", m.id)
		case rollback.Disconnected:
			m.gone++
			m.logger.Warn("player disconnected", "slot", e.Slot, "frame", e.Frame)
		case rollback.DesyncDetected:
			m.desyncs = append(m.desyncs, e)
			m.logger.Error("desync", "slot", e.Slot, "frame", e.Frame,
				"local", fmt.Sprintf("%016x", e.Local), "remote", fmt.Sprintf("%016x", e.Remote))
			if m.recorder != nil {
				if err := m.recorder.RecordDesync(m.id, e); err != nil {
					m.logger.Warn("recording desync", "err", err)
				}
			}
		}
	}
}

// flush forwards confirmed checksums and inputs. Recorder failures are
// logged; the match keeps running.
func (m *Match) flush() {
	if sums := m.session.ConfirmedChecksums(); len(sums) > 0 && m.recorder != nil {
		if err := m.recorder.RecordChecksums(m.id, sums); err != nil {
			m.logger.Warn("recording checksums", "err", err)
		}
	}
	if frames := m.session.ConfirmedInputs(); len(frames) > 0 && m.inputs != nil {
		if err := m.inputs.WriteFrames(frames); err != nil {
			m.logger.Warn("recording inputs", "err", err)
		}
	}
}

func (m *Match) result(reason EndReason) Result {
	return Result{
		RunID:    m.id,
		Reason:   reason,
		Frames:   m.session.Frame(),
		Checksum: m.session.Checksum(),
		Stats:    m.session.Stats(),
		Desyncs:  m.desyncs,
	}
}
