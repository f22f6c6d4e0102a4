package replay

import (
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/rollback"
	"github.com/vovakirdan/horde-arena/internal/sim"
)

// Mismatch is a frame whose re-simulated checksum differs from the one
// recorded.
type Mismatch struct {
	Frame    uint32
	Recorded uint64
	Replayed uint64
}

// Report summarizes a verification run.
type Report struct {
	Frames   uint32 // input frames replayed
	Checked  int    // checksums compared
	Final    uint64 // checksum of the last replayed state
	Mismatch *Mismatch
}

// OK reports whether every compared checksum matched.
func (r Report) OK() bool {
	return r.Mismatch == nil
}

// Log is a fully decoded replay.
type Log struct {
	Header    Header
	Frames    []core.MultiInputFrame
	Checksums map[uint32]uint64
}

// ReadAll decodes every entry of r. Input frames must be contiguous from
// frame zero.
func ReadAll(r *Reader) (*Log, error) {
	lg := &Log{Header: r.Header(), Checksums: make(map[uint32]uint64)}
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return lg, nil
		}
		if err != nil {
			return nil, err
		}
		switch e.Kind {
		case KindFrame:
			if want := uint32(len(lg.Frames)); e.Frame != want { //nolint:gosec // frame counts fit in uint32
				return nil, fmt.Errorf("%w: input frame %d, want %d", ErrFormat, e.Frame, want)
			}
			if len(e.Bits) != len(e.Status) {
				return nil, fmt.Errorf("%w: frame %d has %d inputs and %d statuses", ErrFormat, e.Frame, len(e.Bits), len(e.Status))
			}
			mif := core.NewMultiInputFrame(e.Frame, len(e.Bits))
			for i := range e.Bits {
				mif.SetPlayer(i, core.PlayerInput{Bits: e.Bits[i], Status: e.Status[i]})
			}
			lg.Frames = append(lg.Frames, mif)
		case KindChecksum:
			lg.Checksums[e.Frame] = e.Checksum
		default:
			return nil, fmt.Errorf("%w: unknown entry kind %q", ErrFormat, e.Kind)
		}
	}
}

// Verify re-simulates lg from a fresh arena and compares the state
// checksum after every frame against the recorded ones and against extra,
// if given. Verification stops at the first mismatch.
func Verify(lg *Log, extra []rollback.FrameChecksum, logger *log.Logger) (Report, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	cfg, err := lg.Header.Config.Sim()
	if err != nil {
		return Report{}, fmt.Errorf("replay: header config: %w", err)
	}

	expected := make(map[uint32]uint64, len(lg.Checksums)+len(extra))
	for f, sum := range lg.Checksums {
		expected[f] = sum
	}
	for _, fc := range extra {
		if sum, ok := expected[fc.Frame]; ok && sum != fc.Checksum {
			return Report{}, fmt.Errorf("replay: frame %d recorded as %016x in the log and %016x elsewhere",
				fc.Frame, sum, fc.Checksum)
		}
		expected[fc.Frame] = fc.Checksum
	}

	arena := sim.NewArena(cfg, sim.WithLogger(logger))
	var rep Report
	for _, mif := range lg.Frames {
		arena.StepFrame(mif)
		rep.Frames++

		f := arena.Frame()
		want, ok := expected[f]
		if !ok {
			continue
		}
		rep.Checked++
		if got := arena.Checksum(); got != want {
			rep.Mismatch = &Mismatch{Frame: f, Recorded: want, Replayed: got}
			logger.Error("replay diverged", "frame", f,
				"recorded", fmt.Sprintf("%016x", want), "replayed", fmt.Sprintf("%016x", got))
			break
		}
	}
	rep.Final = arena.Checksum()
	logger.Debug("replay verified", "run", lg.Header.RunID, "frames", rep.Frames, "checked", rep.Checked)
	return rep, nil
}

// VerifyFile reads and verifies the log at path.
func VerifyFile(path string, extra []rollback.FrameChecksum, logger *log.Logger) (Report, Header, error) {
	r, err := Open(path)
	if err != nil {
		return Report{}, Header{}, err
	}
	defer r.Close()

	lg, err := ReadAll(r)
	if err != nil {
		return Report{}, r.Header(), err
	}
	rep, err := Verify(lg, extra, logger)
	return rep, lg.Header, err
}
