package calendar

import (
	"context"
	"fmt"

	"github.com/kincareapp/kincare/internal/integrity"
	"github.com/kincareapp/kincare/internal/model"
	"github.com/kincareapp/kincare/internal/store"
)

// Resolution is an explicit choice for a manually resolved conflict.
type Resolution string

const (
	ResolveKeepLocal    Resolution = "local"
	ResolveKeepExternal Resolution = "external"
)

// Conflict is a decrypted pending conflict for display.
type Conflict struct {
	Event  *model.CalendarEvent
	Record *model.ConflictRecord
}

// ListConflicts returns all events pending manual resolution with their
// decrypted conflict records. Events that fail checksum verification or
// whose payload cannot be opened are logged and skipped rather than
// failing the whole listing; tampered fields are never surfaced.
func (e *Engine) ListConflicts(ctx context.Context) ([]*Conflict, error) {
	events, err := e.db.ListEvents(ctx, store.EventFilter{Status: model.StatusConflict})
	if err != nil {
		return nil, err
	}

	var out []*Conflict
	for _, ev := range events {
		if len(ev.ConflictPayload) == 0 {
			continue
		}
		if err := integrity.Verify(ev); err != nil {
			e.logger.Printf("WARNING: excluding event %s from conflict listing: %v", ev.ID, err)
			continue
		}
		rec, err := e.guard.OpenConflict(ev.ConflictPayload)
		if err != nil {
			e.logger.Printf("WARNING: unreadable conflict payload for event %s: %v", ev.ID, err)
			continue
		}
		out = append(out, &Conflict{Event: ev, Record: rec})
	}
	return out, nil
}

// ResolveConflict commits an explicit resolution for a conflicted event:
// the chosen side's snapshot is pushed to the provider or pulled into the
// local source, the conflict record is destroyed, and the event returns to
// synced.
func (e *Engine) ResolveConflict(ctx context.Context, eventID string, resolution Resolution) error {
	if resolution != ResolveKeepLocal && resolution != ResolveKeepExternal {
		return fmt.Errorf("unknown resolution %q", resolution)
	}

	ev, err := e.db.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to load event: %w", err)
	}
	if ev.Status != model.StatusConflict {
		return fmt.Errorf("event %s is not in conflict (status=%s)", eventID, ev.Status)
	}
	if err := integrity.Verify(ev); err != nil {
		return err
	}

	rec, err := e.guard.OpenConflict(ev.ConflictPayload)
	if err != nil {
		return fmt.Errorf("failed to open conflict record: %w", err)
	}

	conn, err := e.db.GetConnection(ctx, ev.ConnectionID)
	if err != nil {
		return fmt.Errorf("failed to load connection: %w", err)
	}
	prov, err := e.providers.Get(conn.Provider)
	if err != nil {
		return err
	}

	now := e.clock()
	if resolution == ResolveKeepLocal {
		if err := e.push(ctx, conn, prov, ev, rec.Local, now); err != nil {
			return err
		}
	} else {
		src, err := e.db.GetSource(ctx, ev.SourceType, ev.SourceID)
		if err != nil {
			return fmt.Errorf("failed to load source entity: %w", err)
		}
		if err := e.writeBackSource(ctx, src, rec.External, now); err != nil {
			return err
		}
		ev.ApplyFields(rec.External)
		e.markSynced(ev, now)
		if err := e.db.UpsertEvent(ctx, ev); err != nil {
			return err
		}
	}

	e.logger.Printf("Resolved conflict for event %s (keep %s)", eventID, resolution)
	return nil
}
