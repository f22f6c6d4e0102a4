// Package storage provides SQLite-based persistence for match runs and
// their per-frame checksums, so two machines' logs can be compared after
// the fact. Uses the pure-Go modernc.org/sqlite driver to avoid CGO.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/vovakirdan/horde-arena/internal/rollback"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("storage: run not found")

// Store manages the SQLite database connection.
type Store struct {
	db *sql.DB
}

// Run is one machine's record of a match.
type Run struct {
	RunID     string
	MatchID   string // shared by every peer of the same match
	Slot      int    // first local slot
	Seed      int64
	Players   int
	TickRate  int
	EndReason string // empty while running
	Frames    uint32
	CreatedAt time.Time
}

// Desync is a stored checksum mismatch report.
type Desync struct {
	RunID  string
	Slot   int
	Frame  uint32
	Local  uint64
	Remote uint64
}

// Divergence is the first frame where two runs disagree.
type Divergence struct {
	Frame uint32
	A, B  uint64
}

// Open creates or opens a SQLite database at the given path.
// It creates the parent directories if needed and runs migrations.
func Open(dbPath string) (*Store, error) {
	if dbPath != "" && dbPath[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("storage: cannot expand home directory: %w", err)
		}
		dbPath = filepath.Join(home, dbPath[1:])
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: cannot create directory %s: %w", dir, err)
	}

	// Two peers on one machine may share the file.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("storage: cannot open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: cannot connect to database: %w", err)
	}

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migration failed: %w", err)
	}

	return store, nil
}

// migrate creates the database schema if it doesn't exist.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			match_id TEXT NOT NULL,
			slot INTEGER NOT NULL DEFAULT 0,
			seed INTEGER NOT NULL,
			players INTEGER NOT NULL,
			tick_rate INTEGER NOT NULL,
			end_reason TEXT NOT NULL DEFAULT '',
			frames INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_runs_match_id ON runs(match_id);

		CREATE TABLE IF NOT EXISTS checksums (
			run_id TEXT NOT NULL,
			frame INTEGER NOT NULL,
			checksum INTEGER NOT NULL,
			PRIMARY KEY (run_id, frame)
		);

		CREATE TABLE IF NOT EXISTS desyncs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			slot INTEGER NOT NULL,
			frame INTEGER NOT NULL,
			local_checksum INTEGER NOT NULL,
			remote_checksum INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_desyncs_run_id ON desyncs(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StartRun records a new run. An empty RunID is filled with a fresh UUID;
// the id actually used is returned.
func (s *Store) StartRun(run Run) (string, error) {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	if run.MatchID == "" {
		run.MatchID = run.RunID
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, match_id, slot, seed, players, tick_rate)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.MatchID, run.Slot, run.Seed, run.Players, run.TickRate,
	)
	if err != nil {
		return "", fmt.Errorf("storage: cannot save run: %w", err)
	}
	return run.RunID, nil
}

// FinishRun stores how a run ended.
func (s *Store) FinishRun(runID, reason string, frames uint32) error {
	res, err := s.db.Exec(
		"UPDATE runs SET end_reason = ?, frames = ? WHERE run_id = ?",
		reason, frames, runID,
	)
	if err != nil {
		return fmt.Errorf("storage: cannot finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// RunByID retrieves a run by its id.
func (s *Store) RunByID(runID string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT run_id, match_id, slot, seed, players, tick_rate, end_reason, frames, created_at
		 FROM runs WHERE run_id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query run: %w", err)
	}
	return run, nil
}

// RunsForMatch returns every machine's run of one match, oldest first.
func (s *Store) RunsForMatch(matchID string) ([]Run, error) {
	return s.queryRuns(
		`SELECT run_id, match_id, slot, seed, players, tick_rate, end_reason, frames, created_at
		 FROM runs WHERE match_id = ? ORDER BY id`,
		matchID,
	)
}

// RecentRuns retrieves the most recent runs.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryRuns(
		`SELECT run_id, match_id, slot, seed, players, tick_rate, end_reason, frames, created_at
		 FROM runs ORDER BY id DESC LIMIT ?`,
		limit,
	)
}

func (s *Store) queryRuns(query string, args ...any) ([]Run, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: cannot scan row: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: row iteration error: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var createdAt any
	if err := row.Scan(
		&run.RunID,
		&run.MatchID,
		&run.Slot,
		&run.Seed,
		&run.Players,
		&run.TickRate,
		&run.EndReason,
		&run.Frames,
		&createdAt,
	); err != nil {
		return nil, err
	}

	switch v := createdAt.(type) {
	case time.Time:
		run.CreatedAt = v
	case string:
		if parsed, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
			run.CreatedAt = parsed
		}
	}
	return &run, nil
}

// RecordChecksums stores confirmed frame checksums for a run. Re-recording
// a frame overwrites it.
func (s *Store) RecordChecksums(runID string, sums []rollback.FrameChecksum) error {
	if len(sums) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: cannot begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit

	stmt, err := tx.Prepare("INSERT OR REPLACE INTO checksums (run_id, frame, checksum) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("storage: cannot prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, fc := range sums {
		if _, err := stmt.Exec(runID, fc.Frame, int64(fc.Checksum)); err != nil { //nolint:gosec // stored as raw bits
			return fmt.Errorf("storage: cannot save checksum for frame %d: %w", fc.Frame, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: cannot commit checksums: %w", err)
	}
	return nil
}

// Checksums returns a run's checksums for frames in [from, to], ascending.
func (s *Store) Checksums(runID string, from, to uint32) ([]rollback.FrameChecksum, error) {
	rows, err := s.db.Query(
		`SELECT frame, checksum FROM checksums
		 WHERE run_id = ? AND frame BETWEEN ? AND ?
		 ORDER BY frame`,
		runID, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query checksums: %w", err)
	}
	defer rows.Close()

	var out []rollback.FrameChecksum
	for rows.Next() {
		var fc rollback.FrameChecksum
		var sum int64
		if err := rows.Scan(&fc.Frame, &sum); err != nil {
			return nil, fmt.Errorf("storage: cannot scan row: %w", err)
		}
		fc.Checksum = uint64(sum) //nolint:gosec // raw bits
		out = append(out, fc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: row iteration error: %w", err)
	}
	return out, nil
}

// RecordDesync stores a desync report.
func (s *Store) RecordDesync(runID string, d rollback.DesyncDetected) error {
	_, err := s.db.Exec(
		`INSERT INTO desyncs (run_id, slot, frame, local_checksum, remote_checksum)
		 VALUES (?, ?, ?, ?, ?)`,
		runID, d.Slot, d.Frame, int64(d.Local), int64(d.Remote), //nolint:gosec // raw bits
	)
	if err != nil {
		return fmt.Errorf("storage: cannot save desync: %w", err)
	}
	return nil
}

// Desyncs returns a run's desync reports in frame order.
func (s *Store) Desyncs(runID string) ([]Desync, error) {
	rows, err := s.db.Query(
		`SELECT run_id, slot, frame, local_checksum, remote_checksum
		 FROM desyncs WHERE run_id = ? ORDER BY frame, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: cannot query desyncs: %w", err)
	}
	defer rows.Close()

	var out []Desync
	for rows.Next() {
		var d Desync
		var local, remote int64
		if err := rows.Scan(&d.RunID, &d.Slot, &d.Frame, &local, &remote); err != nil {
			return nil, fmt.Errorf("storage: cannot scan row: %w", err)
		}
		d.Local, d.Remote = uint64(local), uint64(remote) //nolint:gosec // raw bits
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: row iteration error: %w", err)
	}
	return out, nil
}

// FirstDivergence compares two runs over the frames both recorded. It
// returns the earliest mismatch, if any, and how many frames were compared.
func (s *Store) FirstDivergence(runA, runB string) (*Divergence, int, error) {
	var compared int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM checksums a
		 JOIN checksums b ON b.run_id = ? AND b.frame = a.frame
		 WHERE a.run_id = ?`,
		runB, runA,
	).Scan(&compared)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: cannot count common frames: %w", err)
	}

	var d Divergence
	var a, b int64
	err = s.db.QueryRow(
		`SELECT a.frame, a.checksum, b.checksum FROM checksums a
		 JOIN checksums b ON b.run_id = ? AND b.frame = a.frame
		 WHERE a.run_id = ? AND a.checksum != b.checksum
		 ORDER BY a.frame LIMIT 1`,
		runB, runA,
	).Scan(&d.Frame, &a, &b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, compared, nil
	}
	if err != nil {
		return nil, compared, fmt.Errorf("storage: cannot compare runs: %w", err)
	}
	d.A, d.B = uint64(a), uint64(b) //nolint:gosec // raw bits
	return &d, compared, nil
}
