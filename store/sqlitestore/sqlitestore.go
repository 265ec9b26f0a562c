// Package sqlitestore provides SQLite backed session state and frame queues. Several engine
// processes on one host can share a database file, so a session started on one of them is served
// by any other.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store implements mcp.SessionStore using SQLite. Expired values are hidden on read and removed by
// Purge.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	pollInterval time.Duration
}

// Queue implements mcp.Queue on the database of a Store. Pop polls the table, so a frame pushed by
// another process is seen within one poll interval.
type Queue struct {
	store *Store
}

// Option represents the options for the Store.
type Option func(*Store)

const (
	memoryPath          = ":memory:"
	defaultPollInterval = 50 * time.Millisecond
)

// New opens the database at path, creating the file, its parent directories and the schema when
// needed. Use ":memory:" for a private in-memory database.
func New(path string, options ...Option) (*Store, error) {
	s := &Store{
		logger:       slog.Default(),
		now:          time.Now,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range options {
		opt(s)
	}

	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers of this process and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	s.db = db

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring database: %w", err)
		}
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Debug("sqlite session store opened", slog.String("path", path))
	return s, nil
}

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger.With(
			slog.String("package", "go-mcp-engine"),
			slog.String("component", "sqlitestore"),
		)
	}
}

// WithPollInterval configures how often a blocked Pop checks the queue table.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Store) {
		if interval > 0 {
			s.pollInterval = interval
		}
	}
}

// WithClock replaces the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS mcp_session_state (
			session_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, key)
		);

		CREATE INDEX IF NOT EXISTS idx_mcp_session_state_expires
			ON mcp_session_state(expires_at);

		CREATE TABLE IF NOT EXISTS mcp_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_mcp_queue_channel
			ON mcp_queue(channel, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get implements mcp.SessionStore.
func (s *Store) Get(ctx context.Context, sessionID, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM mcp_session_state
		WHERE session_id = ? AND key = ? AND (expires_at = 0 OR expires_at > ?)`,
		sessionID, key, s.now().UnixNano(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying session state: %w", err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

// Set implements mcp.SessionStore. A ttl of zero or less keeps the value until it is forgotten.
func (s *Store) Set(ctx context.Context, sessionID, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixNano()
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mcp_session_state (session_id, key, value, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id, key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		sessionID, key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("storing session state: %w", err)
	}
	return nil
}

// Has implements mcp.SessionStore.
func (s *Store) Has(ctx context.Context, sessionID, key string) (bool, error) {
	_, ok, err := s.Get(ctx, sessionID, key)
	return ok, err
}

// Forget implements mcp.SessionStore.
func (s *Store) Forget(ctx context.Context, sessionID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM mcp_session_state WHERE session_id = ? AND key = ?`,
		sessionID, key,
	)
	if err != nil {
		return fmt.Errorf("deleting session state: %w", err)
	}
	return nil
}

// Purge deletes every expired value and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM mcp_session_state WHERE expires_at != 0 AND expires_at <= ?`,
		s.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("purging session state: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged rows: %w", err)
	}
	if n > 0 {
		s.logger.Debug("purged expired session state", slog.Int64("rows", n))
	}
	return n, nil
}

// Queue returns the frame queue sharing the database of s.
func (s *Store) Queue() *Queue {
	return &Queue{store: s}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Push implements mcp.Queue.
func (q *Queue) Push(ctx context.Context, channel string, payload []byte) error {
	if payload == nil {
		payload = []byte{}
	}
	_, err := q.store.db.ExecContext(ctx,
		`INSERT INTO mcp_queue (channel, payload, created_at) VALUES (?, ?, ?)`,
		channel, payload, q.store.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("pushing frame: %w", err)
	}
	return nil
}

// Pop implements mcp.Queue.
func (q *Queue) Pop(ctx context.Context, channel string, timeout time.Duration) ([]byte, bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(q.store.pollInterval)
	defer ticker.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		payload, ok, err := q.popOne(ctx, channel)
		if err != nil || ok {
			return payload, ok, err
		}

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-deadline.C:
			return nil, false, nil
		case <-ticker.C:
		}
	}
}

// Len returns the number of frames waiting on channel.
func (q *Queue) Len(ctx context.Context, channel string) (int, error) {
	var n int
	err := q.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mcp_queue WHERE channel = ?`, channel,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting frames: %w", err)
	}
	return n, nil
}

func (q *Queue) popOne(ctx context.Context, channel string) ([]byte, bool, error) {
	var payload []byte
	err := q.store.db.QueryRowContext(ctx,
		`DELETE FROM mcp_queue
		WHERE id = (SELECT id FROM mcp_queue WHERE channel = ? ORDER BY id LIMIT 1)
		RETURNING payload`,
		channel,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("popping frame: %w", err)
	}
	return payload, true, nil
}
