package calendar

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

	"github.com/kincareapp/kincare/internal/integrity"
	"github.com/kincareapp/kincare/internal/model"
	"github.com/kincareapp/kincare/internal/provider"
	"github.com/kincareapp/kincare/internal/store"
)

// ErrPassInProgress is returned when a sync pass for the same connection
// is already running. The caller coalesces the request into its next tick
// instead of running two writers against the same rows.
var ErrPassInProgress = errors.New("calendar: sync pass already in progress")

// PassResult summarizes one per-connection sync pass.
type PassResult struct {
	ConnectionID string
	Skipped      bool
	Pushed       int
	Pulled       int
	Merged       int
	Conflicts    int
	Deleted      int
	Errors       int
}

// Engine walks local source entities and remote provider events per
// connection, classifies each pairing, and applies the configured
// resolution strategy. Passes for the same connection are serialized.
type Engine struct {
	db        *store.DB
	providers *provider.Registry
	guard     *integrity.Guard
	logger    *log.Logger
	clock     func() time.Time

	mu      sync.Mutex
	running map[string]bool
}

// NewEngine creates a calendar sync engine. If logger is nil, a default
// logger writing to stderr is used.
func NewEngine(db *store.DB, providers *provider.Registry, guard *integrity.Guard, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[calsync] ", log.LstdFlags)
	}
	return &Engine{
		db:        db,
		providers: providers,
		guard:     guard,
		logger:    logger,
		clock:     time.Now,
		running:   make(map[string]bool),
	}
}

// SetClock overrides the engine's timestamp source for deterministic tests.
func (e *Engine) SetClock(clock func() time.Time) { e.clock = clock }

// SyncAll runs one pass over every connection. A failure in one
// connection's pass is logged and does not abort the others.
func (e *Engine) SyncAll(ctx context.Context) []*PassResult {
	conns, err := e.db.ListConnections(ctx, store.ConnectionFilter{})
	if err != nil {
		e.logger.Printf("WARNING: failed to list connections: %v", err)
		return nil
	}

	var results []*PassResult
	for _, conn := range conns {
		if ctx.Err() != nil {
			break
		}
		res, err := e.SyncConnection(ctx, conn.ID)
		if err != nil && !errors.Is(err, ErrPassInProgress) {
			e.logger.Printf("WARNING: sync failed for connection %s: %v", conn.ID, err)
		}
		if res != nil {
			results = append(results, res)
		}
	}
	return results
}

// SyncConnection runs one sync pass for a single connection.
//
// Connections that are not active are skipped without any provider call.
// A second pass requested while one is running returns ErrPassInProgress.
func (e *Engine) SyncConnection(ctx context.Context, connectionID string) (*PassResult, error) {
	conn, err := e.db.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}

	res := &PassResult{ConnectionID: connectionID}
	if !conn.CanSync() {
		e.logger.Printf("Skipping connection %s (status=%s)", connectionID, conn.Status)
		res.Skipped = true
		return res, nil
	}

	if !e.begin(connectionID) {
		return nil, ErrPassInProgress
	}
	defer e.end(connectionID)

	prov, err := e.providers.Get(conn.Provider)
	if err != nil {
		return nil, err
	}

	remoteEvents, err := prov.ListEvents(ctx, conn.CalendarID, time.Time{})
	if err != nil {
		return res, e.failPass(ctx, conn, res, err)
	}
	remoteByID := make(map[string]provider.Event, len(remoteEvents))
	for _, ev := range remoteEvents {
		remoteByID[ev.ID] = ev
	}

	sources, err := e.db.ListSources(ctx, store.SourceFilter{CircleID: conn.CircleID})
	if err != nil {
		return res, fmt.Errorf("failed to list sources: %w", err)
	}

	for _, src := range sources {
		// Cancellation is honored between entities; the entity being
		// processed always runs to completion so its row stays
		// consistent on disk.
		if ctx.Err() != nil {
			break
		}
		if err := e.syncSource(ctx, conn, prov, src, remoteByID, res); err != nil {
			if provider.IsAuth(err) {
				return res, e.failPass(ctx, conn, res, err)
			}
			e.logger.Printf("WARNING: failed to sync %v: %v", sourceRef(src), err)
			res.Errors++
		}
	}

	if ctx.Err() == nil {
		if err := e.propagateDeletions(ctx, conn, prov, res); err != nil {
			e.logger.Printf("WARNING: deletion propagation for %s: %v", connectionID, err)
			res.Errors++
		}
	}

	status := "success"
	if res.Errors > 0 {
		status = "partial"
	}
	synced := res.Pushed + res.Pulled + res.Merged
	if err := e.db.RecordConnectionSync(ctx, connectionID, e.clock(), status, "", synced); err != nil {
		e.logger.Printf("WARNING: failed to record sync for %s: %v", connectionID, err)
	}

	e.logger.Printf("Synced connection %s: pushed=%d pulled=%d merged=%d conflicts=%d deleted=%d errors=%d",
		connectionID, res.Pushed, res.Pulled, res.Merged, res.Conflicts, res.Deleted, res.Errors)
	return res, nil
}

// failPass records a pass-level failure. Auth failures park the connection
// in the error state so sync pauses until re-authentication; other
// connections are unaffected.
func (e *Engine) failPass(ctx context.Context, conn *model.CalendarConnection, res *PassResult, cause error) error {
	res.Errors++
	if provider.IsAuth(cause) {
		if err := e.db.SetConnectionStatus(ctx, conn.ID, model.ConnError, cause.Error()); err != nil {
			e.logger.Printf("WARNING: failed to park connection %s: %v", conn.ID, err)
		}
	}
	if err := e.db.RecordConnectionSync(ctx, conn.ID, e.clock(), "error", cause.Error(), 0); err != nil {
		e.logger.Printf("WARNING: failed to record sync for %s: %v", conn.ID, err)
	}
	return cause
}

func (e *Engine) syncSource(ctx context.Context, conn *model.CalendarConnection, prov provider.Provider, src model.SourceEntity, remoteByID map[string]provider.Event, res *PassResult) error {
	sourceType, sourceID := src.SourceRef()

	mirror, err := e.db.GetEventBySource(ctx, conn.ID, sourceType, sourceID)
	if err != nil {
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to load mirror: %w", err)
		}
		return e.createMirror(ctx, conn, prov, src, res)
	}

	if mirror.Status == model.StatusDeleted {
		return nil
	}

	// Integrity gate: a tampered row is flagged and excluded from
	// resolution, never silently trusted or overwritten.
	if err := integrity.Verify(mirror); err != nil {
		if markErr := e.db.MarkEventStatus(ctx, mirror.ID, model.StatusError); markErr != nil {
			return markErr
		}
		res.Errors++
		e.logger.Printf("WARNING: %v", err)
		return nil
	}
	if mirror.Status == model.StatusError {
		return nil
	}

	localFields, ok := FieldsFor(src, conn)
	if !ok {
		// Source no longer schedulable (or toggled off): retract the
		// mirror.
		return e.retireMirror(ctx, conn, prov, mirror, res)
	}

	now := e.clock()

	var external provider.Event
	hasExternal := false
	if mirror.ExternalID != "" {
		external, hasExternal = remoteByID[mirror.ExternalID]
	}
	if hasExternal && external.Deleted {
		if conn.Direction == model.DirectionWriteOnly {
			// Provider-side deletions are overwritten on write-only
			// connections: recreate.
			mirror.ExternalID = ""
			mirror.ExternalEtag = ""
			hasExternal = false
		} else {
			if err := e.db.MarkEventDeleted(ctx, mirror.ID); err != nil {
				return err
			}
			if err := e.db.MarkSourceDeleted(ctx, sourceType, sourceID); err != nil {
				return err
			}
			res.Deleted++
			return nil
		}
	}

	extUpdated := mirror.ExternalUpdatedAt
	base := mirror.Fields()
	extFields := base
	if hasExternal {
		extFields = fromProviderEvent(external)
		mirror.ExternalEtag = external.Etag
		u := external.UpdatedAt
		extUpdated = &u
	}

	change := Classify(src.Updated(), extUpdated, mirror.LastSyncedAt)
	outcome := Decide(conn, change, base, localFields, extFields, now)

	switch outcome.Action {
	case ActionNone:
		if mirror.Status == model.StatusPendingPush || mirror.Status == model.StatusPendingPull {
			mirror.Status = model.StatusSynced
			integrity.Stamp(mirror)
			return e.db.UpsertEvent(ctx, mirror)
		}
		return nil

	case ActionPush:
		if err := e.push(ctx, conn, prov, mirror, outcome.Fields, now); err != nil {
			return err
		}
		if outcome.Merged {
			if err := e.writeBackSource(ctx, src, outcome.Fields, now); err != nil {
				return err
			}
			res.Merged++
		} else {
			res.Pushed++
		}
		return nil

	case ActionPull:
		if err := e.writeBackSource(ctx, src, outcome.Fields, now); err != nil {
			return err
		}
		mirror.ApplyFields(outcome.Fields)
		if extUpdated != nil {
			mirror.ExternalUpdatedAt = extUpdated
		}
		e.markSynced(mirror, now)
		if err := e.db.UpsertEvent(ctx, mirror); err != nil {
			return err
		}
		res.Pulled++
		return nil

	default: // ActionConflict
		sealed, err := e.guard.SealConflict(outcome.Record)
		if err != nil {
			return fmt.Errorf("failed to seal conflict record: %w", err)
		}
		mirror.ConflictPayload = sealed
		mirror.Status = model.StatusConflict
		if extUpdated != nil {
			mirror.ExternalUpdatedAt = extUpdated
		}
		integrity.Stamp(mirror)
		if err := e.db.UpsertEvent(ctx, mirror); err != nil {
			return err
		}
		res.Conflicts++
		return nil
	}
}

// createMirror handles a source entity seen for the first time under this
// connection. On read-only connections nothing is written to the
// provider, so the mirror stays unpaired (no ExternalID); it acquires a
// pairing only if the connection is later widened to a pushing direction.
// Adopting pre-existing provider events onto local sources is an import
// flow, not part of the sync pass.
func (e *Engine) createMirror(ctx context.Context, conn *model.CalendarConnection, prov provider.Provider, src model.SourceEntity, res *PassResult) error {
	now := e.clock()
	ev := ToCalendarEvent(src, conn, now)
	if ev == nil {
		return nil
	}

	if conn.PushAllowed() {
		created, err := prov.CreateEvent(ctx, conn.CalendarID, toProviderEvent(ev, ev.Fields()))
		if err != nil {
			return err
		}
		ev.ExternalID = created.ID
		ev.ExternalEtag = created.Etag
		u := created.UpdatedAt
		ev.ExternalUpdatedAt = &u
		res.Pushed++
	}

	e.markSynced(ev, now)
	return e.db.UpsertEvent(ctx, ev)
}

// push writes a snapshot to the provider and persists the updated mirror.
func (e *Engine) push(ctx context.Context, conn *model.CalendarConnection, prov provider.Provider, mirror *model.CalendarEvent, f model.EventFields, now time.Time) error {
	var pushed provider.Event
	var err error
	if mirror.ExternalID == "" {
		pushed, err = prov.CreateEvent(ctx, conn.CalendarID, toProviderEvent(mirror, f))
	} else {
		// Pushing resolves the pair, so the etag precondition is
		// deliberately dropped here: the decision already accounted for
		// the provider's current version.
		pushed, err = prov.UpdateEvent(ctx, conn.CalendarID, mirror.ExternalID, "", toProviderEvent(mirror, f))
	}
	if err != nil {
		return err
	}

	mirror.ApplyFields(f)
	mirror.ExternalID = pushed.ID
	mirror.ExternalEtag = pushed.Etag
	u := pushed.UpdatedAt
	mirror.ExternalUpdatedAt = &u
	e.markSynced(mirror, now)
	return e.db.UpsertEvent(ctx, mirror)
}

// retireMirror removes the external event (where allowed) and soft-deletes
// the mirror.
func (e *Engine) retireMirror(ctx context.Context, conn *model.CalendarConnection, prov provider.Provider, mirror *model.CalendarEvent, res *PassResult) error {
	if conn.PushAllowed() && mirror.ExternalID != "" {
		if err := prov.DeleteEvent(ctx, conn.CalendarID, mirror.ExternalID); err != nil {
			return err
		}
	}
	if err := e.db.MarkEventDeleted(ctx, mirror.ID); err != nil {
		return err
	}
	res.Deleted++
	return nil
}

// propagateDeletions retires mirrors whose source entity has a deletion
// tombstone.
func (e *Engine) propagateDeletions(ctx context.Context, conn *model.CalendarConnection, prov provider.Provider, res *PassResult) error {
	events, err := e.db.ListEvents(ctx, store.EventFilter{ConnectionID: conn.ID})
	if err != nil {
		return err
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			return nil
		}
		deleted, err := e.db.IsSourceDeleted(ctx, ev.SourceType, ev.SourceID)
		if err != nil {
			return err
		}
		if !deleted {
			continue
		}
		if err := e.retireMirror(ctx, conn, prov, ev, res); err != nil {
			return err
		}
	}
	return nil
}

// writeBackSource applies a pulled or merged snapshot onto the local
// source entity and queues the update for the remote store, atomically.
func (e *Engine) writeBackSource(ctx context.Context, src model.SourceEntity, f model.EventFields, now time.Time) error {
	if err := ApplyEventToSource(src, f, now); err != nil {
		return err
	}

	op, err := sourceUpdateOp(src, now)
	if err != nil {
		return err
	}

	return e.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := e.db.PutSourceTx(ctx, tx, src); err != nil {
			return err
		}
		return e.db.EnqueueOpTx(ctx, tx, op)
	})
}

// markSynced stamps the bookkeeping for a cleanly reconciled event. The
// watermark must cover both sides' update times: a provider clock running
// ahead of ours would otherwise leave ExternalUpdatedAt past the
// watermark and re-pull the same event every pass.
func (e *Engine) markSynced(ev *model.CalendarEvent, now time.Time) {
	ev.Status = model.StatusSynced
	ev.ConflictPayload = nil
	t := now
	if ev.ExternalUpdatedAt != nil && ev.ExternalUpdatedAt.After(t) {
		t = *ev.ExternalUpdatedAt
	}
	ev.LastSyncedAt = &t
	ev.LocalUpdatedAt = now
	integrity.Stamp(ev)
}

func (e *Engine) begin(connectionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running[connectionID] {
		return false
	}
	e.running[connectionID] = true
	return true
}

func (e *Engine) end(connectionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, connectionID)
}

// sourceUpdateOp builds the offline operation mirroring a locally applied
// pull/merge so the remote store converges too.
func sourceUpdateOp(src model.SourceEntity, now time.Time) (*model.Operation, error) {
	return model.NewSourceOperation(uuid.NewString(), model.OpUpdate, src, now)
}

func sourceRef(src model.SourceEntity) string {
	t, id := src.SourceRef()
	return string(t) + "/" + id
}
