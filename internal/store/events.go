package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kincareapp/kincare/internal/model"
)

// UpsertEvent inserts or updates a mirrored calendar event.
//
// The caller is responsible for having stamped the event's checksum via
// the integrity guard before persisting; the store does not compute it.
func (db *DB) UpsertEvent(ctx context.Context, e *model.CalendarEvent) error {
	return db.upsertEvent(ctx, db.conn.ExecContext, e)
}

// UpsertEventTx is UpsertEvent inside an existing transaction.
func (db *DB) UpsertEventTx(ctx context.Context, tx *sql.Tx, e *model.CalendarEvent) error {
	return db.upsertEvent(ctx, tx.ExecContext, e)
}

type execFunc func(ctx context.Context, query string, args ...interface{}) (sql.Result, error)

func (db *DB) upsertEvent(ctx context.Context, exec execFunc, e *model.CalendarEvent) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	query := `
	INSERT INTO calendar_events (
		id, connection_id, circle_id, patient_id, source_type, source_id,
		external_id, external_etag, title, description, location,
		recurrence_rule, start_at, end_at, all_day, status, checksum,
		conflict_payload, last_synced_at, local_updated_at,
		external_updated_at, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		external_id = excluded.external_id,
		external_etag = excluded.external_etag,
		title = excluded.title,
		description = excluded.description,
		location = excluded.location,
		recurrence_rule = excluded.recurrence_rule,
		start_at = excluded.start_at,
		end_at = excluded.end_at,
		all_day = excluded.all_day,
		status = excluded.status,
		checksum = excluded.checksum,
		conflict_payload = excluded.conflict_payload,
		last_synced_at = excluded.last_synced_at,
		local_updated_at = excluded.local_updated_at,
		external_updated_at = excluded.external_updated_at
	`

	_, err := exec(ctx, query,
		e.ID,
		e.ConnectionID,
		e.CircleID,
		e.PatientID,
		string(e.SourceType),
		e.SourceID,
		e.ExternalID,
		e.ExternalEtag,
		e.Title,
		e.Description,
		e.Location,
		e.RecurrenceRule,
		formatTime(e.StartAt),
		formatTime(e.EndAt),
		boolToInt(e.AllDay),
		string(e.Status),
		e.Checksum,
		e.ConflictPayload,
		timeToNullString(e.LastSyncedAt),
		formatTime(e.LocalUpdatedAt),
		timeToNullString(e.ExternalUpdatedAt),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert event: %w", err)
	}

	return nil
}

// GetEvent retrieves a single event by ID.
// Returns sql.ErrNoRows if not found.
func (db *DB) GetEvent(ctx context.Context, id string) (*model.CalendarEvent, error) {
	row := db.conn.QueryRowContext(ctx, eventSelect+` WHERE id = ?`, id)
	return scanEvent(row)
}

// GetEventBySource retrieves the event mirroring a given source entity
// under a given connection. Returns sql.ErrNoRows if no mirror exists yet.
func (db *DB) GetEventBySource(ctx context.Context, connectionID string, sourceType model.SourceType, sourceID string) (*model.CalendarEvent, error) {
	row := db.conn.QueryRowContext(ctx,
		eventSelect+` WHERE connection_id = ? AND source_type = ? AND source_id = ?`,
		connectionID, string(sourceType), sourceID)
	return scanEvent(row)
}

// EventFilter configures ListEvents.
type EventFilter struct {
	// ConnectionID filters to one connection (empty = all)
	ConnectionID string
	// Status filters by sync status (empty = all)
	Status model.SyncStatus
	// IncludeDeleted includes soft-deleted events
	IncludeDeleted bool
}

// ListEvents retrieves events matching the filter, oldest first.
func (db *DB) ListEvents(ctx context.Context, filter EventFilter) ([]*model.CalendarEvent, error) {
	var conditions []string
	var args []interface{}

	if filter.ConnectionID != "" {
		conditions = append(conditions, "connection_id = ?")
		args = append(args, filter.ConnectionID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.IncludeDeleted && filter.Status != model.StatusDeleted {
		conditions = append(conditions, "status != 'deleted'")
	}

	query := eventSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*model.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// MarkEventStatus updates only an event's sync status, leaving the stored
// fields and checksum untouched. Used to flag integrity failures without
// rewriting the suspect row.
func (db *DB) MarkEventStatus(ctx context.Context, id string, status model.SyncStatus) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE calendar_events SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to mark event %s status: %w", id, err)
	}
	return nil
}

// MarkEventDeleted soft-deletes an event. Terminal.
func (db *DB) MarkEventDeleted(ctx context.Context, id string) error {
	query := `
	UPDATE calendar_events
	SET status = 'deleted', conflict_payload = NULL, local_updated_at = ?
	WHERE id = ?
	`
	_, err := db.conn.ExecContext(ctx, query, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to mark event %s deleted: %w", id, err)
	}
	return nil
}

const eventSelect = `
	SELECT id, connection_id, circle_id, patient_id, source_type, source_id,
	       external_id, external_etag, title, description, location,
	       recurrence_rule, start_at, end_at, all_day, status, checksum,
	       conflict_payload, last_synced_at, local_updated_at,
	       external_updated_at, created_at
	FROM calendar_events`

func scanEvent(row rowScanner) (*model.CalendarEvent, error) {
	var e model.CalendarEvent
	var patientID, externalID, externalEtag sql.NullString
	var description, location, recurrence, checksum sql.NullString
	var sourceType, status string
	var startAt, endAt, localUpdatedAt, createdAt string
	var lastSyncedAt, externalUpdatedAt sql.NullString
	var allDay int

	err := row.Scan(
		&e.ID,
		&e.ConnectionID,
		&e.CircleID,
		&patientID,
		&sourceType,
		&e.SourceID,
		&externalID,
		&externalEtag,
		&e.Title,
		&description,
		&location,
		&recurrence,
		&startAt,
		&endAt,
		&allDay,
		&status,
		&checksum,
		&e.ConflictPayload,
		&lastSyncedAt,
		&localUpdatedAt,
		&externalUpdatedAt,
		&createdAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	e.PatientID = patientID.String
	e.SourceType = model.SourceType(sourceType)
	e.ExternalID = externalID.String
	e.ExternalEtag = externalEtag.String
	e.Description = description.String
	e.Location = location.String
	e.RecurrenceRule = recurrence.String
	e.StartAt = parseTime(startAt)
	e.EndAt = parseTime(endAt)
	e.AllDay = allDay != 0
	e.Status = model.SyncStatus(status)
	e.Checksum = checksum.String
	e.LastSyncedAt = nullStringToTime(lastSyncedAt)
	e.LocalUpdatedAt = parseTime(localUpdatedAt)
	e.ExternalUpdatedAt = nullStringToTime(externalUpdatedAt)
	e.CreatedAt = parseTime(createdAt)

	return &e, nil
}
