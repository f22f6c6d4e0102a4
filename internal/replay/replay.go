// Package replay records a run's confirmed inputs and checksums as
// zstd-compressed JSON lines and re-simulates them to verify determinism.
package replay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/vovakirdan/horde-arena/internal/config"
	"github.com/vovakirdan/horde-arena/internal/core"
	"github.com/vovakirdan/horde-arena/internal/rollback"
)

// Version is the log format version.
const Version = 1

// ErrFormat wraps malformed logs.
var ErrFormat = errors.New("replay: bad log")

// Header is the first line of a log. Config is everything needed to build
// an identical arena.
type Header struct {
	Version int                `json:"version"`
	RunID   string             `json:"run_id"`
	MatchID string             `json:"match_id,omitempty"`
	Slot    int                `json:"slot"`
	Config  config.ArenaConfig `json:"config"`
}

// Entry kinds.
const (
	KindFrame    = "frame"
	KindChecksum = "sum"
)

// Entry is one log line after the header. Bits and Status are byte slices
// and so encode as base64.
type Entry struct {
	Kind     string             `json:"t"`
	Frame    uint32             `json:"f"`
	Bits     []core.InputBits   `json:"in,omitempty"`
	Status   []core.InputStatus `json:"st,omitempty"`
	Checksum uint64             `json:"c,omitempty"`
}

// Writer appends entries to a compressed log. Safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

// Create starts a new log at path, replacing any existing file.
func Create(path string, h Header) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("replay: cannot create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("replay: cannot create %s: %w", path, err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("replay: cannot start compressor: %w", err)
	}
	w := &Writer{f: f, enc: enc, w: bufio.NewWriterSize(enc, 64*1024)}

	h.Version = Version
	if err := w.writeLine(h); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// WriteFrames appends confirmed input frames.
func (w *Writer) WriteFrames(frames []core.MultiInputFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, mif := range frames {
		e := Entry{
			Kind:   KindFrame,
			Frame:  mif.Frame,
			Bits:   make([]core.InputBits, len(mif.ByPlayer)),
			Status: make([]core.InputStatus, len(mif.ByPlayer)),
		}
		for i, in := range mif.ByPlayer {
			e.Bits[i] = in.Bits
			e.Status[i] = in.Status
		}
		if err := w.writeLine(e); err != nil {
			return err
		}
	}
	return nil
}

// RecordChecksums appends confirmed checksums. The run id is implied by
// the log.
func (w *Writer) RecordChecksums(_ string, sums []rollback.FrameChecksum) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, fc := range sums {
		if err := w.writeLine(Entry{Kind: KindChecksum, Frame: fc.Frame, Checksum: fc.Checksum}); err != nil {
			return err
		}
	}
	return nil
}

// RecordDesync is a no-op; desyncs are reconstructed by Verify.
func (w *Writer) RecordDesync(string, rollback.DesyncDetected) error {
	return nil
}

func (w *Writer) writeLine(v any) error {
	if w.w == nil {
		return fmt.Errorf("replay: writer closed")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("replay: encoding entry: %w", err)
	}
	if _, err := w.w.Write(b); err != nil {
		return fmt.Errorf("replay: writing entry: %w", err)
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("replay: writing entry: %w", err)
	}
	return nil
}

// Close flushes and closes the log.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var errs []error
	if w.w != nil {
		errs = append(errs, w.w.Flush())
		w.w = nil
	}
	if w.enc != nil {
		errs = append(errs, w.enc.Close())
		w.enc = nil
	}
	if w.f != nil {
		errs = append(errs, w.f.Close())
		w.f = nil
	}
	return errors.Join(errs...)
}

// Reader decodes a log sequentially.
type Reader struct {
	header Header
	dec    *zstd.Decoder
	sc     *bufio.Scanner
	closer io.Closer
	line   int
}

// NewReader reads the header from r.
func NewReader(r io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("replay: cannot start decompressor: %w", err)
	}
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	rd := &Reader{dec: dec, sc: sc}
	if !sc.Scan() {
		dec.Close()
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("replay: reading header: %w", err)
		}
		return nil, fmt.Errorf("%w: empty log", ErrFormat)
	}
	rd.line = 1
	if err := json.Unmarshal(sc.Bytes(), &rd.header); err != nil {
		dec.Close()
		return nil, fmt.Errorf("%w: header: %w", ErrFormat, err)
	}
	if rd.header.Version != Version {
		dec.Close()
		return nil, fmt.Errorf("%w: version %d, want %d", ErrFormat, rd.header.Version, Version)
	}
	return rd, nil
}

// Open opens the log at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: cannot open %s: %w", path, err)
	}
	rd, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	rd.closer = f
	return rd, nil
}

// Header returns the log header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next entry, or io.EOF.
func (r *Reader) Next() (Entry, error) {
	for r.sc.Scan() {
		r.line++
		if len(r.sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(r.sc.Bytes(), &e); err != nil {
			return Entry{}, fmt.Errorf("%w: line %d: %w", ErrFormat, r.line, err)
		}
		return e, nil
	}
	if err := r.sc.Err(); err != nil {
		return Entry{}, fmt.Errorf("replay: reading line %d: %w", r.line+1, err)
	}
	return Entry{}, io.EOF
}

// Close releases the decoder and the file, if any.
func (r *Reader) Close() error {
	r.dec.Close()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
