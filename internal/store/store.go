// Package store provides the local durable store for the sync engine.
//
// The store is an embedded SQLite database (WAL mode) holding the offline
// operation queue, calendar connections, mirrored calendar events, and a
// cache of the source entities. It is the single shared mutable resource:
// the UI layer, the sync coordinator, and the calendar sync engine all go
// through the same transactional write path, so a crash mid-write never
// leaves a half-updated row.
//
// Reads never touch the network; the UI is always served from here.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection with sync-engine specific functionality.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If it doesn't exist it is created; call InitSchema before first use.
// The caller MUST call Close when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist. Idempotent.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS offline_ops (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		payload TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at TEXT NOT NULL,
		last_attempt_at TEXT
	);

	CREATE TABLE IF NOT EXISTS calendar_connections (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		circle_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		calendar_id TEXT,
		direction TEXT NOT NULL,
		strategy TEXT NOT NULL,
		toggles TEXT NOT NULL,  -- JSON object
		minimal_details INTEGER NOT NULL DEFAULT 0,
		last_sync_at TEXT,
		last_sync_status TEXT,
		last_sync_error TEXT,
		events_synced INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS calendar_events (
		id TEXT PRIMARY KEY,
		connection_id TEXT NOT NULL,
		circle_id TEXT NOT NULL,
		patient_id TEXT,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		external_id TEXT,
		external_etag TEXT,
		title TEXT NOT NULL,
		description TEXT,
		location TEXT,
		recurrence_rule TEXT,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		all_day INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		checksum TEXT,
		conflict_payload BLOB,
		last_synced_at TEXT,
		local_updated_at TEXT NOT NULL,
		external_updated_at TEXT,
		created_at TEXT NOT NULL,
		FOREIGN KEY (connection_id) REFERENCES calendar_connections(id) ON DELETE CASCADE,
		UNIQUE (connection_id, source_type, source_id)
	);

	-- Cache of source entities, keyed by (type, id), body as JSON.
	CREATE TABLE IF NOT EXISTS source_entities (
		source_type TEXT NOT NULL,
		id TEXT NOT NULL,
		circle_id TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (source_type, id)
	);

	CREATE INDEX IF NOT EXISTS idx_ops_status ON offline_ops(status);
	CREATE INDEX IF NOT EXISTS idx_ops_entity ON offline_ops(entity_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_conn_status ON calendar_connections(status);
	CREATE INDEX IF NOT EXISTS idx_events_conn ON calendar_events(connection_id);
	CREATE INDEX IF NOT EXISTS idx_events_status ON calendar_events(status);
	CREATE INDEX IF NOT EXISTS idx_events_source ON calendar_events(source_type, source_id);
	CREATE INDEX IF NOT EXISTS idx_sources_circle ON source_entities(circle_id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// WithTx runs fn inside a transaction, rolling back on error. All writers
// that touch more than one row go through here.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// timeLayout is a fixed-width RFC 3339 layout. RFC3339Nano trims trailing
// fractional zeros, which breaks lexicographic ordering of TEXT columns
// ("...05.15Z" sorts before "...05.1Z"); the queue's FIFO drain orders by
// created_at, so stored times must sort chronologically as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
