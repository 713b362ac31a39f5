package dashboard

import (
	"context"
	"time"

	"github.com/kincareapp/kincare/internal/integrity"
	"github.com/kincareapp/kincare/internal/model"
	"github.com/kincareapp/kincare/internal/store"
)

// AttentionItem is one entry in the needs-attention queue.
type AttentionItem struct {
	Kind   string    `json:"kind"` // failed_op, conflict, integrity_error, connection_error
	ID     string    `json:"id"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Attention is the needs-attention snapshot surfaced to the user: dead-
// lettered operations, events pending manual conflict resolution, and
// connections parked on auth or provider errors.
type Attention struct {
	PendingOps int             `json:"pending_ops"`
	Items      []AttentionItem `json:"items"`
}

// Empty reports whether nothing needs user attention.
func (a *Attention) Empty() bool { return len(a.Items) == 0 }

// CollectAttention assembles the needs-attention snapshot from the local
// store.
func CollectAttention(ctx context.Context, db *store.DB) (*Attention, error) {
	att := &Attention{}

	pending, _, err := db.CountOps(ctx)
	if err != nil {
		return nil, err
	}
	att.PendingOps = pending

	failed, err := db.ListFailedOps(ctx)
	if err != nil {
		return nil, err
	}
	for _, op := range failed {
		at := op.CreatedAt
		if op.LastAttemptAt != nil {
			at = *op.LastAttemptAt
		}
		att.Items = append(att.Items, AttentionItem{
			Kind:   "failed_op",
			ID:     op.ID,
			Detail: string(op.Kind) + " " + string(op.EntityType) + ": " + op.LastError,
			At:     at,
		})
	}

	conflicts, err := db.ListEvents(ctx, store.EventFilter{Status: model.StatusConflict})
	if err != nil {
		return nil, err
	}
	for _, ev := range conflicts {
		item := AttentionItem{
			Kind:   "conflict",
			ID:     ev.ID,
			Detail: string(ev.SourceType) + "/" + ev.SourceID,
			At:     ev.LocalUpdatedAt,
		}
		// A failing checksum outranks the conflict itself; the stored
		// fields can no longer be trusted for resolution.
		if err := integrity.Verify(ev); err != nil {
			item.Kind = "integrity_error"
			item.Detail = string(ev.SourceType) + "/" + ev.SourceID + ": checksum mismatch"
		}
		att.Items = append(att.Items, item)
	}

	conns, err := db.ListConnections(ctx, store.ConnectionFilter{Status: model.ConnError})
	if err != nil {
		return nil, err
	}
	for _, conn := range conns {
		at := conn.UpdatedAt
		if conn.LastSyncAt != nil {
			at = *conn.LastSyncAt
		}
		att.Items = append(att.Items, AttentionItem{
			Kind:   "connection_error",
			ID:     conn.ID,
			Detail: string(conn.Provider) + ": " + conn.LastSyncError,
			At:     at,
		})
	}

	return att, nil
}
