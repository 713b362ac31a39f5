// Package syncer drains the offline mutation queue against the remote
// store and refreshes local source entities from it.
//
// Draining is FIFO per entity: a failed or backed-off operation blocks the
// later operations for the same entity (an update must never land before
// the insert that created its row) but never blocks other entities.
package syncer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kincareapp/kincare/internal/model"
	"github.com/kincareapp/kincare/internal/remote"
	"github.com/kincareapp/kincare/internal/store"
)

// ErrDrainInProgress is returned when a drain pass is already running.
// Callers treat it as "someone else is doing the work" and move on.
var ErrDrainInProgress = errors.New("syncer: drain already in progress")

const (
	backoffBase = 2 * time.Second
	backoffCap  = 5 * time.Minute
)

// DrainResult summarizes one drain pass over the pending queue.
type DrainResult struct {
	Attempted  int
	Confirmed  int
	Retried    int
	DeadLetter int
	Deferred   int
}

// Coordinator owns the offline operation queue.
type Coordinator struct {
	db     *store.DB
	remote remote.Store
	logger *log.Logger
	clock  func() time.Time

	mu       sync.Mutex
	draining bool

	refreshMu   sync.Mutex
	lastRefresh map[model.EntityType]time.Time
}

// New creates a sync coordinator. If logger is nil, a default logger
// writing to stderr is used.
func New(db *store.DB, rs remote.Store, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	return &Coordinator{
		db:          db,
		remote:      rs,
		logger:      logger,
		clock:       time.Now,
		lastRefresh: make(map[model.EntityType]time.Time),
	}
}

// SetClock overrides the coordinator's timestamp source for deterministic
// tests.
func (c *Coordinator) SetClock(clock func() time.Time) { c.clock = clock }

// Enqueue validates and records a mutation in the offline queue.
func (c *Coordinator) Enqueue(ctx context.Context, op *model.Operation) error {
	return c.db.EnqueueOp(ctx, op)
}

// EnqueueEntity stores the source entity locally and queues the matching
// mutation in one transaction, so the queue never references an entity the
// local store does not have.
func (c *Coordinator) EnqueueEntity(ctx context.Context, kind model.OperationKind, src model.SourceEntity) (*model.Operation, error) {
	if kind == model.OpDelete {
		return nil, fmt.Errorf("use EnqueueDelete for deletions")
	}
	op, err := model.NewSourceOperation(uuid.NewString(), kind, src, c.clock())
	if err != nil {
		return nil, err
	}

	err = c.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := c.db.PutSourceTx(ctx, tx, src); err != nil {
			return err
		}
		return c.db.EnqueueOpTx(ctx, tx, op)
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// EnqueueDelete tombstones the local entity and queues its deletion in one
// transaction.
func (c *Coordinator) EnqueueDelete(ctx context.Context, sourceType model.SourceType, id string) (*model.Operation, error) {
	op := &model.Operation{
		ID:         uuid.NewString(),
		Kind:       model.OpDelete,
		EntityType: entityTypeFor(sourceType),
		EntityID:   id,
		Status:     model.OpStatusPending,
		CreatedAt:  c.clock(),
	}

	err := c.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := c.db.MarkSourceDeletedTx(ctx, tx, sourceType, id); err != nil {
			return err
		}
		return c.db.EnqueueOpTx(ctx, tx, op)
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// DrainNow runs one pass over the pending queue, oldest first. Only one
// pass runs at a time; a concurrent call returns ErrDrainInProgress.
//
// Draining stops between operations when ctx is canceled. The operation in
// flight always completes its bookkeeping so no confirmation is lost.
func (c *Coordinator) DrainNow(ctx context.Context) (*DrainResult, error) {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return nil, ErrDrainInProgress
	}
	c.draining = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.draining = false
		c.mu.Unlock()
	}()

	ops, err := c.db.ListPendingOps(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}

	res := &DrainResult{}
	// Entities whose head operation failed or is backing off; their later
	// operations are deferred to keep per-entity ordering.
	blocked := make(map[string]bool)

	for _, op := range ops {
		if ctx.Err() != nil {
			break
		}

		key := string(op.EntityType) + "/" + op.EntityID
		if blocked[key] {
			res.Deferred++
			continue
		}

		now := c.clock()
		if !eligible(op, now) {
			blocked[key] = true
			res.Deferred++
			continue
		}

		res.Attempted++
		if err := c.apply(ctx, op); err != nil {
			blocked[key] = true
			c.fail(ctx, op, now, err, res)
			continue
		}

		if err := c.db.DeleteOp(ctx, op.ID); err != nil {
			// The remote accepted the mutation but the local delete
			// failed; the replay on the next pass is idempotent.
			c.logger.Printf("WARNING: failed to confirm op %s: %v", op.ID, err)
			blocked[key] = true
			continue
		}
		res.Confirmed++
	}

	if res.Attempted > 0 || res.Deferred > 0 {
		c.logger.Printf("Drained queue: attempted=%d confirmed=%d retried=%d dead-letter=%d deferred=%d",
			res.Attempted, res.Confirmed, res.Retried, res.DeadLetter, res.Deferred)
	}
	return res, nil
}

// apply replays one operation against the remote store.
func (c *Coordinator) apply(ctx context.Context, op *model.Operation) error {
	collection := string(op.EntityType)
	switch op.Kind {
	case model.OpInsert:
		return c.remote.Insert(ctx, collection, op.Payload)
	case model.OpUpdate:
		return c.remote.Update(ctx, collection, op.EntityID, op.Payload)
	case model.OpDelete:
		return c.remote.Delete(ctx, collection, op.EntityID)
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// fail records a failed attempt. Terminal errors and exhausted budgets move
// the operation to the dead-letter state; retryable failures schedule a
// backed-off retry.
func (c *Coordinator) fail(ctx context.Context, op *model.Operation, now time.Time, cause error, res *DrainResult) {
	attempts := op.Attempts + 1
	terminal := !remote.Retryable(cause)

	if terminal || attempts >= model.MaxAttempts {
		if err := c.db.MarkOpFailed(ctx, op.ID, now, cause.Error()); err != nil {
			c.logger.Printf("WARNING: failed to dead-letter op %s: %v", op.ID, err)
			return
		}
		res.DeadLetter++
		c.logger.Printf("WARNING: op %s (%s %s/%s) moved to failed after %d attempt(s): %v",
			op.ID, op.Kind, op.EntityType, op.EntityID, attempts, cause)
		return
	}

	if err := c.db.RecordOpAttempt(ctx, op.ID, attempts, now, cause.Error()); err != nil {
		c.logger.Printf("WARNING: failed to record attempt for op %s: %v", op.ID, err)
		return
	}
	res.Retried++
	c.logger.Printf("WARNING: op %s failed (attempt %d/%d), retrying in %s: %v",
		op.ID, attempts, model.MaxAttempts, backoff(attempts), cause)
}

// RequeueFailed resets a dead-lettered operation so the next drain retries
// it from a fresh budget.
func (c *Coordinator) RequeueFailed(ctx context.Context, opID string) error {
	return c.db.RequeueOp(ctx, opID)
}

// DiscardFailed drops a dead-lettered operation without replaying it.
func (c *Coordinator) DiscardFailed(ctx context.Context, opID string) error {
	return c.db.DeleteOp(ctx, opID)
}

// Refresh pulls remote changes for one collection into the local store.
// Records that fail to decode are logged and skipped.
func (c *Coordinator) Refresh(ctx context.Context, entityType model.EntityType) (int, error) {
	sourceType, ok := sourceTypeFor(entityType)
	if !ok {
		return 0, fmt.Errorf("entity type %q has no local source table", entityType)
	}

	c.refreshMu.Lock()
	since := c.lastRefresh[entityType]
	c.refreshMu.Unlock()

	started := c.clock()
	records, err := c.remote.Select(ctx, string(entityType), since)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, raw := range records {
		entity, err := model.DecodeSource(sourceType, raw)
		if err != nil {
			c.logger.Printf("WARNING: skipping malformed %s record: %v", entityType, err)
			continue
		}
		if err := c.db.PutSource(ctx, entity); err != nil {
			c.logger.Printf("WARNING: failed to store %s record: %v", entityType, err)
			continue
		}
		applied++
	}

	c.refreshMu.Lock()
	c.lastRefresh[entityType] = started
	c.refreshMu.Unlock()

	if applied > 0 {
		c.logger.Printf("Refreshed %d %s record(s)", applied, entityType)
	}
	return applied, nil
}

// RefreshAll refreshes every schedulable collection. A failure in one
// collection is logged and does not abort the others.
func (c *Coordinator) RefreshAll(ctx context.Context) int {
	total := 0
	for _, t := range []model.EntityType{
		model.EntityTask, model.EntityShift, model.EntityAppointment, model.EntityFollowUp,
	} {
		if ctx.Err() != nil {
			break
		}
		n, err := c.Refresh(ctx, t)
		if err != nil {
			c.logger.Printf("WARNING: refresh failed for %s: %v", t, err)
			continue
		}
		total += n
	}
	return total
}

// eligible reports whether the operation's backoff window has elapsed.
func eligible(op *model.Operation, now time.Time) bool {
	if op.Attempts == 0 || op.LastAttemptAt == nil {
		return true
	}
	return !now.Before(op.LastAttemptAt.Add(backoff(op.Attempts)))
}

// backoff returns the capped exponential delay after the given number of
// failed attempts.
func backoff(attempts int) time.Duration {
	d := backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}

func entityTypeFor(sourceType model.SourceType) model.EntityType {
	switch sourceType {
	case model.SourceTask:
		return model.EntityTask
	case model.SourceShift:
		return model.EntityShift
	case model.SourceAppointment:
		return model.EntityAppointment
	default:
		return model.EntityFollowUp
	}
}

func sourceTypeFor(entityType model.EntityType) (model.SourceType, bool) {
	switch entityType {
	case model.EntityTask:
		return model.SourceTask, true
	case model.EntityShift:
		return model.SourceShift, true
	case model.EntityAppointment:
		return model.SourceAppointment, true
	case model.EntityFollowUp:
		return model.SourceFollowUp, true
	}
	return "", false
}
