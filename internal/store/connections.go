package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kincareapp/kincare/internal/model"
)

// UpsertConnection inserts or updates a calendar connection.
// Toggles are stored as a JSON object.
func (db *DB) UpsertConnection(ctx context.Context, c *model.CalendarConnection) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid connection: %w", err)
	}

	togglesJSON, err := json.Marshal(c.Toggles)
	if err != nil {
		return fmt.Errorf("failed to marshal toggles: %w", err)
	}

	query := `
	INSERT INTO calendar_connections (
		id, user_id, circle_id, provider, status, calendar_id,
		direction, strategy, toggles, minimal_details,
		last_sync_at, last_sync_status, last_sync_error, events_synced,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		calendar_id = excluded.calendar_id,
		direction = excluded.direction,
		strategy = excluded.strategy,
		toggles = excluded.toggles,
		minimal_details = excluded.minimal_details,
		last_sync_at = excluded.last_sync_at,
		last_sync_status = excluded.last_sync_status,
		last_sync_error = excluded.last_sync_error,
		events_synced = excluded.events_synced,
		updated_at = excluded.updated_at
	`

	_, err = db.conn.ExecContext(ctx, query,
		c.ID,
		c.UserID,
		c.CircleID,
		string(c.Provider),
		string(c.Status),
		c.CalendarID,
		string(c.Direction),
		string(c.Strategy),
		string(togglesJSON),
		boolToInt(c.MinimalDetails),
		timeToNullString(c.LastSyncAt),
		c.LastSyncStatus,
		c.LastSyncError,
		c.EventsSynced,
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}

	return nil
}

// GetConnection retrieves a single connection by ID.
// Returns sql.ErrNoRows if not found.
func (db *DB) GetConnection(ctx context.Context, id string) (*model.CalendarConnection, error) {
	row := db.conn.QueryRowContext(ctx, connectionSelect+` WHERE id = ?`, id)
	return scanConnection(row)
}

// ConnectionFilter configures ListConnections.
type ConnectionFilter struct {
	// Status filters by connection status (empty = all)
	Status model.ConnectionStatus
	// CircleID filters by circle (empty = all)
	CircleID string
}

// ListConnections retrieves connections matching the filter, oldest first.
func (db *DB) ListConnections(ctx context.Context, filter ConnectionFilter) ([]*model.CalendarConnection, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.CircleID != "" {
		conditions = append(conditions, "circle_id = ?")
		args = append(args, filter.CircleID)
	}

	query := connectionSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*model.CalendarConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}

	return conns, nil
}

// SetConnectionStatus moves a connection to a new lifecycle state.
// Used for revocation and for auth failures detected during sync.
func (db *DB) SetConnectionStatus(ctx context.Context, id string, status model.ConnectionStatus, errMsg string) error {
	query := `
	UPDATE calendar_connections
	SET status = ?, last_sync_error = ?, updated_at = ?
	WHERE id = ?
	`
	_, err := db.conn.ExecContext(ctx, query, string(status), errMsg, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to set connection %s status: %w", id, err)
	}
	return nil
}

// RecordConnectionSync updates the per-pass bookkeeping after a sync pass.
func (db *DB) RecordConnectionSync(ctx context.Context, id string, at time.Time, status, errMsg string, eventsSynced int) error {
	query := `
	UPDATE calendar_connections
	SET last_sync_at = ?, last_sync_status = ?, last_sync_error = ?,
	    events_synced = events_synced + ?, updated_at = ?
	WHERE id = ?
	`
	_, err := db.conn.ExecContext(ctx, query,
		formatTime(at), status, errMsg, eventsSynced, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("failed to record sync for connection %s: %w", id, err)
	}
	return nil
}

const connectionSelect = `
	SELECT id, user_id, circle_id, provider, status, calendar_id,
	       direction, strategy, toggles, minimal_details,
	       last_sync_at, last_sync_status, last_sync_error, events_synced,
	       created_at, updated_at
	FROM calendar_connections`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*model.CalendarConnection, error) {
	var c model.CalendarConnection
	var provider, status, direction, strategy, togglesJSON string
	var calendarID, lastSyncStatus, lastSyncError sql.NullString
	var lastSyncAt sql.NullString
	var minimalDetails int
	var createdAt, updatedAt string

	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.CircleID,
		&provider,
		&status,
		&calendarID,
		&direction,
		&strategy,
		&togglesJSON,
		&minimalDetails,
		&lastSyncAt,
		&lastSyncStatus,
		&lastSyncError,
		&c.EventsSynced,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}

	c.Provider = model.Provider(provider)
	c.Status = model.ConnectionStatus(status)
	c.CalendarID = calendarID.String
	c.Direction = model.SyncDirection(direction)
	c.Strategy = model.ConflictStrategy(strategy)
	c.MinimalDetails = minimalDetails != 0
	c.LastSyncAt = nullStringToTime(lastSyncAt)
	c.LastSyncStatus = lastSyncStatus.String
	c.LastSyncError = lastSyncError.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)

	if err := json.Unmarshal([]byte(togglesJSON), &c.Toggles); err != nil {
		return nil, fmt.Errorf("failed to unmarshal toggles: %w", err)
	}

	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
