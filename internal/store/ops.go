package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kincareapp/kincare/internal/model"
)

// EnqueueOp appends an offline operation to the queue.
func (db *DB) EnqueueOp(ctx context.Context, op *model.Operation) error {
	return db.enqueueOp(ctx, db.conn.ExecContext, op)
}

// EnqueueOpTx is EnqueueOp inside an existing transaction, so a local
// entity write and its queue record commit atomically.
func (db *DB) EnqueueOpTx(ctx context.Context, tx *sql.Tx, op *model.Operation) error {
	return db.enqueueOp(ctx, tx.ExecContext, op)
}

func (db *DB) enqueueOp(ctx context.Context, exec execFunc, op *model.Operation) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("invalid operation: %w", err)
	}

	query := `
	INSERT INTO offline_ops (
		id, kind, entity_type, entity_id, payload,
		status, attempts, last_error, created_at, last_attempt_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := exec(ctx, query,
		op.ID,
		string(op.Kind),
		string(op.EntityType),
		op.EntityID,
		string(op.Payload),
		string(op.Status),
		op.Attempts,
		op.LastError,
		formatTime(op.CreatedAt),
		timeToNullString(op.LastAttemptAt),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue operation: %w", err)
	}

	return nil
}

// ListPendingOps returns all pending operations ordered by creation time.
// The coordinator enforces per-entity head-of-line ordering on top of this.
func (db *DB) ListPendingOps(ctx context.Context) ([]*model.Operation, error) {
	query := `
	SELECT id, kind, entity_type, entity_id, payload,
	       status, attempts, last_error, created_at, last_attempt_at
	FROM offline_ops
	WHERE status = 'pending'
	ORDER BY created_at ASC, id ASC
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()

	return scanOps(rows)
}

// ListFailedOps returns dead-lettered operations for the needs-attention
// surface, oldest first.
func (db *DB) ListFailedOps(ctx context.Context) ([]*model.Operation, error) {
	query := `
	SELECT id, kind, entity_type, entity_id, payload,
	       status, attempts, last_error, created_at, last_attempt_at
	FROM offline_ops
	WHERE status = 'failed'
	ORDER BY created_at ASC, id ASC
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed operations: %w", err)
	}
	defer rows.Close()

	return scanOps(rows)
}

// DeleteOp removes an operation from the queue once the remote store has
// acknowledged it. Returns nil if the operation doesn't exist (idempotent).
func (db *DB) DeleteOp(ctx context.Context, opID string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM offline_ops WHERE id = ?`, opID)
	if err != nil {
		return fmt.Errorf("failed to delete operation %s: %w", opID, err)
	}
	return nil
}

// RecordOpAttempt bumps the attempt counter and last-attempt time for a
// retryable failure.
func (db *DB) RecordOpAttempt(ctx context.Context, opID string, attempts int, at time.Time, lastError string) error {
	query := `
	UPDATE offline_ops
	SET attempts = ?, last_attempt_at = ?, last_error = ?
	WHERE id = ?
	`
	_, err := db.conn.ExecContext(ctx, query, attempts, formatTime(at), lastError, opID)
	if err != nil {
		return fmt.Errorf("failed to record attempt for %s: %w", opID, err)
	}
	return nil
}

// MarkOpFailed moves an operation to the dead-letter state. It will no
// longer be drained until the user re-queues or discards it.
func (db *DB) MarkOpFailed(ctx context.Context, opID string, at time.Time, lastError string) error {
	query := `
	UPDATE offline_ops
	SET status = 'failed', last_attempt_at = ?, last_error = ?
	WHERE id = ?
	`
	_, err := db.conn.ExecContext(ctx, query, formatTime(at), lastError, opID)
	if err != nil {
		return fmt.Errorf("failed to mark operation %s failed: %w", opID, err)
	}
	return nil
}

// RequeueOp resets a dead-lettered operation back to pending with a fresh
// attempt budget.
func (db *DB) RequeueOp(ctx context.Context, opID string) error {
	query := `
	UPDATE offline_ops
	SET status = 'pending', attempts = 0, last_error = NULL
	WHERE id = ? AND status = 'failed'
	`
	res, err := db.conn.ExecContext(ctx, query, opID)
	if err != nil {
		return fmt.Errorf("failed to requeue operation %s: %w", opID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("operation %s is not in the failed state", opID)
	}
	return nil
}

// CountOps returns the number of operations per status.
func (db *DB) CountOps(ctx context.Context) (pending, failed int, err error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM offline_ops GROUP BY status`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count operations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return 0, 0, fmt.Errorf("failed to scan count: %w", err)
		}
		switch model.OperationStatus(status) {
		case model.OpStatusPending:
			pending = n
		case model.OpStatusFailed:
			failed = n
		}
	}
	return pending, failed, rows.Err()
}

func scanOps(rows *sql.Rows) ([]*model.Operation, error) {
	var ops []*model.Operation

	for rows.Next() {
		var op model.Operation
		var kind, entityType, status, createdAt string
		var payload, lastError sql.NullString
		var lastAttemptAt sql.NullString

		err := rows.Scan(
			&op.ID,
			&kind,
			&entityType,
			&op.EntityID,
			&payload,
			&status,
			&op.Attempts,
			&lastError,
			&createdAt,
			&lastAttemptAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}

		op.Kind = model.OperationKind(kind)
		op.EntityType = model.EntityType(entityType)
		op.Status = model.OperationStatus(status)
		if payload.Valid {
			op.Payload = []byte(payload.String)
		}
		op.LastError = lastError.String
		op.CreatedAt = parseTime(createdAt)
		op.LastAttemptAt = nullStringToTime(lastAttemptAt)

		ops = append(ops, &op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return ops, nil
}
