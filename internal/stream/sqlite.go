package stream

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores the progress log and latest-status records in a
// local SQLite database so external pollers can read them out-of-process.
type SQLiteBackend struct {
	conn *sql.DB
	mu   sync.Mutex
}

// OpenSQLite opens (creating if needed) a stream database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
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

	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS progress_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			stream TEXT NOT NULL,
			entry TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_progress_log_stream ON progress_log(stream);

		CREATE TABLE IF NOT EXISTS latest_status (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);
	`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create stream tables: %w", err)
	}

	return &SQLiteBackend{conn: conn}, nil
}

// Append writes one entry to the named stream.
func (b *SQLiteBackend) Append(ctx context.Context, stream string, entry []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.conn.ExecContext(ctx,
		"INSERT INTO progress_log (stream, entry, created_at) VALUES (?, ?, ?)",
		stream, string(entry), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append to %s: %w", stream, err)
	}
	return nil
}

// SetLatest upserts the latest-value record for key.
func (b *SQLiteBackend) SetLatest(ctx context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.conn.ExecContext(ctx, `
		INSERT INTO latest_status (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(value), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set latest %s: %w", key, err)
	}
	return nil
}

// GetLatest returns the latest value for key, or nil if absent.
func (b *SQLiteBackend) GetLatest(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var value string
	row := b.conn.QueryRowContext(ctx, "SELECT value FROM latest_status WHERE key = ?", key)
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest %s: %w", key, err)
	}
	return []byte(value), nil
}

// Entries returns all entries appended to the named stream, oldest first.
func (b *SQLiteBackend) Entries(ctx context.Context, stream string) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rows, err := b.conn.QueryContext(ctx,
		"SELECT entry FROM progress_log WHERE stream = ? ORDER BY id", stream)
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", stream, err)
	}
	defer rows.Close()

	var entries [][]byte
	for rows.Next() {
		var entry string
		if err := rows.Scan(&entry); err != nil {
			return nil, err
		}
		entries = append(entries, []byte(entry))
	}
	return entries, rows.Err()
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn.Close()
}

var _ Backend = (*SQLiteBackend)(nil)
