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

// PutSource upserts a source entity into the local cache. The entity body
// is stored as JSON keyed by (type, id), which keeps the cache schema
// stable while the entity shapes evolve server-side.
func (db *DB) PutSource(ctx context.Context, entity model.SourceEntity) error {
	return db.putSource(ctx, db.conn.ExecContext, entity)
}

// PutSourceTx is PutSource inside an existing transaction. The UI write
// path uses this to persist the entity and its queue operation atomically.
func (db *DB) PutSourceTx(ctx context.Context, tx *sql.Tx, entity model.SourceEntity) error {
	return db.putSource(ctx, tx.ExecContext, entity)
}

func (db *DB) putSource(ctx context.Context, exec execFunc, entity model.SourceEntity) error {
	sourceType, id := entity.SourceRef()
	if id == "" {
		return fmt.Errorf("source id is required")
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to marshal source entity: %w", err)
	}

	query := `
	INSERT INTO source_entities (source_type, id, circle_id, data, updated_at, deleted)
	VALUES (?, ?, ?, ?, ?, 0)
	ON CONFLICT(source_type, id) DO UPDATE SET
		circle_id = excluded.circle_id,
		data = excluded.data,
		updated_at = excluded.updated_at,
		deleted = 0
	`

	_, err = exec(ctx, query,
		string(sourceType),
		id,
		entity.Circle(),
		string(data),
		formatTime(entity.Updated()),
	)
	if err != nil {
		return fmt.Errorf("failed to put source entity: %w", err)
	}

	return nil
}

// GetSource retrieves one source entity. Returns sql.ErrNoRows if absent.
func (db *DB) GetSource(ctx context.Context, sourceType model.SourceType, id string) (model.SourceEntity, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT data FROM source_entities WHERE source_type = ? AND id = ? AND deleted = 0`,
		string(sourceType), id)

	var data string
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan source entity: %w", err)
	}

	return model.DecodeSource(sourceType, []byte(data))
}

// SourceFilter configures ListSources.
type SourceFilter struct {
	// Type filters by source type (empty = all)
	Type model.SourceType
	// CircleID filters by circle (empty = all)
	CircleID string
	// IncludeDeleted includes soft-deleted entities
	IncludeDeleted bool
}

// ListSources retrieves cached source entities matching the filter.
func (db *DB) ListSources(ctx context.Context, filter SourceFilter) ([]model.SourceEntity, error) {
	var conditions []string
	var args []interface{}

	if filter.Type != "" {
		conditions = append(conditions, "source_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.CircleID != "" {
		conditions = append(conditions, "circle_id = ?")
		args = append(args, filter.CircleID)
	}
	if !filter.IncludeDeleted {
		conditions = append(conditions, "deleted = 0")
	}

	query := `SELECT source_type, data FROM source_entities`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY updated_at ASC, id ASC"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list source entities: %w", err)
	}
	defer rows.Close()

	var entities []model.SourceEntity
	for rows.Next() {
		var sourceType, data string
		if err := rows.Scan(&sourceType, &data); err != nil {
			return nil, fmt.Errorf("failed to scan source entity: %w", err)
		}
		entity, err := model.DecodeSource(model.SourceType(sourceType), []byte(data))
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating source entities: %w", err)
	}

	return entities, nil
}

// MarkSourceDeleted soft-deletes a source entity. The calendar engine uses
// the tombstone to propagate the deletion to mirrored events.
func (db *DB) MarkSourceDeleted(ctx context.Context, sourceType model.SourceType, id string) error {
	return db.markSourceDeleted(ctx, db.conn.ExecContext, sourceType, id)
}

// MarkSourceDeletedTx is MarkSourceDeleted inside an existing transaction.
func (db *DB) MarkSourceDeletedTx(ctx context.Context, tx *sql.Tx, sourceType model.SourceType, id string) error {
	return db.markSourceDeleted(ctx, tx.ExecContext, sourceType, id)
}

func (db *DB) markSourceDeleted(ctx context.Context, exec execFunc, sourceType model.SourceType, id string) error {
	query := `
	UPDATE source_entities SET deleted = 1, updated_at = ?
	WHERE source_type = ? AND id = ?
	`
	_, err := exec(ctx, query, formatTime(time.Now()), string(sourceType), id)
	if err != nil {
		return fmt.Errorf("failed to mark source %s/%s deleted: %w", sourceType, id, err)
	}
	return nil
}

// IsSourceDeleted reports whether the entity carries a deletion tombstone.
func (db *DB) IsSourceDeleted(ctx context.Context, sourceType model.SourceType, id string) (bool, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT deleted FROM source_entities WHERE source_type = ? AND id = ?`,
		string(sourceType), id)

	var deleted int
	if err := row.Scan(&deleted); err != nil {
		if err == sql.ErrNoRows {
			// Never cached locally; treat as gone.
			return true, nil
		}
		return false, fmt.Errorf("failed to scan tombstone: %w", err)
	}
	return deleted != 0, nil
}
