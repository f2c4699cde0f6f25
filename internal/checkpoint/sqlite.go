package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the Store implementation on a local SQLite database.
// WAL mode keeps concurrent readers cheap; writes are serialized by the mutex.
type SQLiteStore struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// OpenSQLite opens (creating if needed) a checkpoint database at path and
// applies migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

const schemaCheckpoints = `
CREATE TABLE IF NOT EXISTS checkpoints (
	workflow_id TEXT PRIMARY KEY,
	saved_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL,
	status TEXT NOT NULL,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_expires_at ON checkpoints(expires_at);
`

// migrate applies pending schema migrations.
func (s *SQLiteStore) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, schemaCheckpoints},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Save upserts the checkpoint under its workflow ID. ttl <= 0 falls back to
// DefaultTTL.
func (s *SQLiteStore) Save(cp *Checkpoint, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err = s.conn.Exec(`
		INSERT INTO checkpoints (workflow_id, saved_at, expires_at, status, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			saved_at = excluded.saved_at,
			expires_at = excluded.expires_at,
			status = excluded.status,
			payload = excluded.payload
	`, cp.WorkflowID, formatTime(now), formatTime(now.Add(ttl)), cp.Status, string(payload))
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.WorkflowID, err)
	}
	return nil
}

// Load returns the checkpoint for workflowID, or ErrNotFound if absent or
// past its TTL.
func (s *SQLiteStore) Load(workflowID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload, expiresAt string
	row := s.conn.QueryRow(
		"SELECT payload, expires_at FROM checkpoints WHERE workflow_id = ?", workflowID)
	if err := row.Scan(&payload, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load checkpoint %s: %w", workflowID, err)
	}

	if exp, err := parseTime(expiresAt); err == nil && time.Now().UTC().After(exp) {
		return nil, ErrNotFound
	}

	var cp Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint %s: %w", workflowID, err)
	}
	return &cp, nil
}

// Delete removes the checkpoint for workflowID. Missing rows are not an error.
func (s *SQLiteStore) Delete(workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec("DELETE FROM checkpoints WHERE workflow_id = ?", workflowID); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", workflowID, err)
	}
	return nil
}

// PurgeExpired deletes checkpoints past their TTL, returning the count.
func (s *SQLiteStore) PurgeExpired() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.conn.Exec(
		"DELETE FROM checkpoints WHERE expires_at < ?", formatTime(time.Now().UTC()))
	if err != nil {
		return 0, fmt.Errorf("purge expired checkpoints: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

var _ Store = (*SQLiteStore)(nil)
