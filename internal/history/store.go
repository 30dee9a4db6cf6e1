// Package history persists finished commands in SQLite and searches them.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mosaicterm/mosaicterm/internal/block"
	"github.com/mosaicterm/mosaicterm/internal/logging"
)

var histLog = logging.ForComponent(logging.CompHistory)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

const (
	DefaultMaxEntries = 1000
	DefaultQueueSize  = 256

	// prune after this many inserts
	pruneEvery = 64
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history: store closed")

// Entry is one recorded command.
type Entry struct {
	ID         int64        `json:"id"`
	SessionID  string       `json:"session_id"`
	BlockID    string       `json:"block_id"`
	Command    string       `json:"command"`
	WorkingDir string       `json:"working_dir"`
	Status     block.Status `json:"status"`
	ExitCode   *int         `json:"exit_code,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	EndedAt    time.Time    `json:"ended_at"`
	Truncated  bool         `json:"truncated,omitempty"`
}

// Duration is how long the command ran.
func (e Entry) Duration() time.Duration {
	if e.EndedAt.Before(e.StartedAt) {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// FromBlock converts a finished block.
func FromBlock(sessionID string, b block.CommandBlock) Entry {
	return Entry{
		SessionID:  sessionID,
		BlockID:    b.ID,
		Command:    b.Command,
		WorkingDir: b.WorkingDir,
		Status:     b.Status,
		ExitCode:   b.ExitCode,
		StartedAt:  b.StartedAt,
		EndedAt:    b.EndedAt,
		Truncated:  b.Truncated,
	}
}

// Options configure a Store. Zero fields take defaults.
type Options struct {
	// MaxEntries is the number of rows kept by Prune
	MaxEntries int
	// QueueSize bounds RecordBlock's backlog; excess blocks are dropped
	QueueSize int
}

type op struct {
	entry *Entry
	ack   chan struct{}
}

// Store wraps a SQLite database of finished commands. RecordBlock queues
// writes for a background goroutine so callers never wait on disk I/O.
// Multiple processes can share the file via WAL mode and a busy timeout.
type Store struct {
	db         *sql.DB
	maxEntries int

	mu     sync.RWMutex
	closed bool
	queue  chan op
	wg     sync.WaitGroup
}

// Open creates or opens the database at path, migrates it and starts the
// background writer.
func Open(path string, opts Options) (*Store, error) {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("history: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}

	// WAL mode: readers do not block the writer goroutine
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: wal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: busy timeout: %w", err)
	}

	s := &Store{
		db:         db,
		maxEntries: opts.MaxEntries,
		queue:      make(chan op, opts.QueueSize),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := s.Prune(); err != nil {
		histLog.Warn("history_prune_failed", slog.String("error", err.Error()))
	}

	s.wg.Add(1)
	go s.writer()
	return s, nil
}

func (s *Store) migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("history: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("history: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS commands (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id  TEXT NOT NULL,
			block_id    TEXT NOT NULL DEFAULT '',
			command     TEXT NOT NULL,
			working_dir TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			exit_code   INTEGER,
			started_at  INTEGER NOT NULL,
			ended_at    INTEGER NOT NULL,
			truncated   INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("history: create commands: %w", err)
	}

	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_commands_command ON commands(command)`); err != nil {
		return fmt.Errorf("history: create index: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("history: set schema version: %w", err)
	}

	return tx.Commit()
}

// RecordBlock queues a finished block for writing. It never blocks: when
// the queue is full the block is dropped and counted.
func (s *Store) RecordBlock(sessionID string, b block.CommandBlock) {
	if b.Command == "" || !b.Status.Finished() {
		return
	}
	e := FromBlock(sessionID, b)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- op{entry: &e}:
	default:
		logging.Aggregate(logging.CompHistory, "record_dropped")
	}
}

// Flush waits until every block queued before the call is written.
func (s *Store) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.queue <- op{ack: ack}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) writer() {
	defer s.wg.Done()
	inserted := 0
	for o := range s.queue {
		if o.ack != nil {
			close(o.ack)
			continue
		}
		if _, err := s.Add(*o.entry); err != nil {
			histLog.Warn("history_write_failed", slog.String("error", err.Error()))
			continue
		}
		inserted++
		if inserted%pruneEvery == 0 {
			if _, err := s.Prune(); err != nil {
				histLog.Warn("history_prune_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Add writes e synchronously and returns its row id.
func (s *Store) Add(e Entry) (int64, error) {
	var exit any
	if e.ExitCode != nil {
		exit = *e.ExitCode
	}
	res, err := s.db.Exec(`
		INSERT INTO commands (
			session_id, block_id, command, working_dir, status,
			exit_code, started_at, ended_at, truncated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.SessionID, e.BlockID, e.Command, e.WorkingDir, e.Status.String(),
		exit, e.StartedAt.UnixMilli(), e.EndedAt.UnixMilli(), boolToInt(e.Truncated),
	)
	if err != nil {
		return 0, fmt.Errorf("history: insert: %w", err)
	}
	return res.LastInsertId()
}

const selectColumns = `
	SELECT id, session_id, block_id, command, working_dir, status,
		exit_code, started_at, ended_at, truncated
	FROM commands`

// Recent returns up to limit entries, newest first. limit <= 0 means all.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(selectColumns+` ORDER BY id DESC LIMIT ?`, limit)
}

// Count returns the number of stored entries.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM commands`).Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}

// Prune deletes all but the newest MaxEntries rows.
func (s *Store) Prune() (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM commands WHERE id NOT IN (
			SELECT id FROM commands ORDER BY id DESC LIMIT ?
		)
	`, s.maxEntries)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		histLog.Debug("history_pruned", slog.Int64("rows", n))
	}
	return n, nil
}

// Clear deletes every entry.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM commands`); err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}

// Close stops the writer after it drains the queue, checkpoints the WAL and
// closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

func (s *Store) query(q string, args ...any) ([]Entry, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e              Entry
			status         string
			exit           sql.NullInt64
			started, ended int64
			truncated      int
		)
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.BlockID, &e.Command, &e.WorkingDir, &status,
			&exit, &started, &ended, &truncated,
		); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		st, err := block.ParseStatus(status)
		if err != nil {
			return nil, err
		}
		e.Status = st
		if exit.Valid {
			code := int(exit.Int64)
			e.ExitCode = &code
		}
		e.StartedAt = time.UnixMilli(started)
		e.EndedAt = time.UnixMilli(ended)
		e.Truncated = truncated != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
