package statedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps a SQLite database for attention-state persistence.
// Thread-safe for concurrent use from multiple goroutines within one process.
// Multiple OS processes can safely read/write via WAL mode + busy timeout.
type StateDB struct {
	db *sql.DB
}

// EventRow is one recorded completion event.
type EventRow struct {
	ID         int64
	SessionID  string
	ChannelID  string
	Payload    string
	Suppressed bool
	CreatedAt  time.Time
}

// BindingRow records which session owned a channel.
type BindingRow struct {
	ChannelID string
	SessionID string
	BoundAt   time.Time
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	// Pragmas go in the DSN so every connection in the database/sql pool
	// gets them, not just the one that happened to run an Exec.
	// WAL allows concurrent readers while writing; the busy timeout makes
	// writers wait up to 5s instead of failing with SQLITE_BUSY.
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: ping: %w", err)
	}

	return &StateDB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist and records the schema version.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	// pending counts survive daemon restarts so the badge comes back
	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS pending (
			session_id TEXT PRIMARY KEY,
			count      INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create pending: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS completion_events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			payload    TEXT NOT NULL,
			suppressed INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create completion_events: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE INDEX IF NOT EXISTS idx_events_session
		ON completion_events (session_id, created_at)
	`); err != nil {
		return fmt.Errorf("statedb: create events index: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS bindings (
			channel_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			bound_at   INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create bindings: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Pending counts ---

// SetPending inserts or replaces a session's pending count.
func (s *StateDB) SetPending(sessionID string, count int) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO pending (session_id, count, updated_at)
		VALUES (?, ?, ?)
	`, sessionID, count, time.Now().Unix())
	return err
}

// DeletePending removes a session's pending row entirely.
func (s *StateDB) DeletePending(sessionID string) error {
	_, err := s.db.Exec("DELETE FROM pending WHERE session_id = ?", sessionID)
	return err
}

// LoadPending returns all positive pending counts keyed by session.
func (s *StateDB) LoadPending() (map[string]int, error) {
	rows, err := s.db.Query("SELECT session_id, count FROM pending WHERE count > 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		result[id] = count
	}
	return result, rows.Err()
}

// --- Completion event history ---

// AppendEvent records one completion event.
func (s *StateDB) AppendEvent(sessionID, channelID, payload string, suppressed bool) error {
	sup := 0
	if suppressed {
		sup = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO completion_events (session_id, channel_id, payload, suppressed, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, channelID, payload, sup, time.Now().Unix())
	return err
}

// RecentEvents returns the newest events, most recent first.
func (s *StateDB) RecentEvents(limit int) ([]*EventRow, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, channel_id, payload, suppressed, created_at
		FROM completion_events ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*EventRow
	for rows.Next() {
		r := &EventRow{}
		var sup int
		var createdUnix int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.ChannelID, &r.Payload, &sup, &createdUnix); err != nil {
			return nil, err
		}
		r.Suppressed = sup != 0
		r.CreatedAt = time.Unix(createdUnix, 0)
		result = append(result, r)
	}
	return result, rows.Err()
}

// PruneEvents keeps only the newest keep rows in the history table.
func (s *StateDB) PruneEvents(keep int) error {
	_, err := s.db.Exec(`
		DELETE FROM completion_events WHERE id NOT IN (
			SELECT id FROM completion_events ORDER BY id DESC LIMIT ?
		)
	`, keep)
	return err
}

// --- Bindings ---

// SaveBinding records or replaces the session owning a channel.
func (s *StateDB) SaveBinding(channelID, sessionID string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO bindings (channel_id, session_id, bound_at)
		VALUES (?, ?, ?)
	`, channelID, sessionID, time.Now().Unix())
	return err
}

// DeleteBinding removes a channel's binding row.
func (s *StateDB) DeleteBinding(channelID string) error {
	_, err := s.db.Exec("DELETE FROM bindings WHERE channel_id = ?", channelID)
	return err
}

// LoadBindings returns all recorded bindings.
func (s *StateDB) LoadBindings() ([]*BindingRow, error) {
	rows, err := s.db.Query("SELECT channel_id, session_id, bound_at FROM bindings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*BindingRow
	for rows.Next() {
		b := &BindingRow{}
		var boundUnix int64
		if err := rows.Scan(&b.ChannelID, &b.SessionID, &boundUnix); err != nil {
			return nil, err
		}
		b.BoundAt = time.Unix(boundUnix, 0)
		result = append(result, b)
	}
	return result, rows.Err()
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
