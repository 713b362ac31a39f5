// Package model provides the data structures shared by the offline sync
// queue, the local store, and the calendar sync engine.
//
// Structures are flat and JSON-serializable with last-write-wins friendly
// timestamps, so each field can be updated independently and replayed
// against the remote store without custom merge logic.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationKind is the kind of mutation recorded in the offline queue.
type OperationKind string

const (
	OpInsert OperationKind = "insert"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// OperationStatus tracks an offline operation through the drain loop.
type OperationStatus string

const (
	// OpStatusPending means the operation has not yet been confirmed by
	// the remote store and is eligible for draining.
	OpStatusPending OperationStatus = "pending"

	// OpStatusFailed means the operation exhausted its retry budget or hit
	// a terminal error. It stays in the queue for the needs-attention
	// surface until the user discards or re-queues it.
	OpStatusFailed OperationStatus = "failed"
)

// EntityType names a remote collection that offline operations target.
type EntityType string

const (
	EntityTask        EntityType = "care_tasks"
	EntityShift       EntityType = "shifts"
	EntityAppointment EntityType = "appointments"
	EntityFollowUp    EntityType = "handoff_followups"
	EntityConnection  EntityType = "calendar_connections"
	EntityEvent       EntityType = "calendar_events"
)

// MaxAttempts is the retry budget for a single offline operation. Once
// exceeded, the operation moves to OpStatusFailed and is surfaced to the
// user instead of being retried forever.
const MaxAttempts = 3

// Operation is a single queued local mutation awaiting confirmation by the
// remote store.
//
// Operations are drained in creation order per entity id (FIFO per entity)
// so an UPDATE is never applied before the INSERT that created its row.
// Entity ids are client-generated UUIDs, which makes a replayed INSERT an
// idempotent upsert on the remote side.
type Operation struct {
	ID         string          `json:"id"`
	Kind       OperationKind   `json:"kind"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     OperationStatus `json:"status"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
}

// Validate checks that the operation is well formed before it enters the
// queue. Payloads are decoded exactly once, at enqueue time.
func (op *Operation) Validate() error {
	if op.ID == "" {
		return fmt.Errorf("operation id is required")
	}
	switch op.Kind {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("invalid operation kind %q", op.Kind)
	}
	if !validEntityType(op.EntityType) {
		return fmt.Errorf("invalid entity type %q", op.EntityType)
	}
	if op.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}
	if op.Kind != OpDelete {
		if _, err := DecodePayload(op.EntityType, op.Payload); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}
	if op.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

func validEntityType(t EntityType) bool {
	switch t {
	case EntityTask, EntityShift, EntityAppointment, EntityFollowUp,
		EntityConnection, EntityEvent:
		return true
	}
	return false
}

// Payload is the closed union of mutation bodies. Each entity type has
// exactly one payload variant; DecodePayload selects it from the entity
// type tag on the operation. Variants embed their record so the payload's
// JSON shape is the record itself, which is what the remote collections
// store and return.
type Payload interface {
	EntityType() EntityType
}

// TaskPayload is the mutation body for care tasks.
type TaskPayload struct {
	CareTask
}

func (TaskPayload) EntityType() EntityType { return EntityTask }

// ShiftPayload is the mutation body for caregiver shifts.
type ShiftPayload struct {
	Shift
}

func (ShiftPayload) EntityType() EntityType { return EntityShift }

// AppointmentPayload is the mutation body for medical appointments.
type AppointmentPayload struct {
	Appointment
}

func (AppointmentPayload) EntityType() EntityType { return EntityAppointment }

// FollowUpPayload is the mutation body for handoff follow-ups.
type FollowUpPayload struct {
	HandoffFollowUp
}

func (FollowUpPayload) EntityType() EntityType { return EntityFollowUp }

// ConnectionPayload is the mutation body for calendar connections.
type ConnectionPayload struct {
	CalendarConnection
}

func (ConnectionPayload) EntityType() EntityType { return EntityConnection }

// EventPayload is the mutation body for mirrored calendar events.
type EventPayload struct {
	CalendarEvent
}

func (EventPayload) EntityType() EntityType { return EntityEvent }

// NewSourceOperation builds a queued mutation carrying the given source
// entity. The operation id must be supplied by the caller (a fresh UUID)
// so that a replay after a lost acknowledgment stays idempotent.
func NewSourceOperation(id string, kind OperationKind, src SourceEntity, now time.Time) (*Operation, error) {
	_, sourceID := src.SourceRef()

	var payload Payload
	var entityType EntityType
	switch s := src.(type) {
	case *CareTask:
		payload = &TaskPayload{CareTask: *s}
		entityType = EntityTask
	case *Shift:
		payload = &ShiftPayload{Shift: *s}
		entityType = EntityShift
	case *Appointment:
		payload = &AppointmentPayload{Appointment: *s}
		entityType = EntityAppointment
	case *HandoffFollowUp:
		payload = &FollowUpPayload{HandoffFollowUp: *s}
		entityType = EntityFollowUp
	default:
		return nil, fmt.Errorf("unknown source entity type %T", src)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", entityType, err)
	}

	return &Operation{
		ID:         id,
		Kind:       kind,
		EntityType: entityType,
		EntityID:   sourceID,
		Payload:    raw,
		Status:     OpStatusPending,
		CreatedAt:  now,
	}, nil
}

// DecodePayload parses a raw mutation body into its typed variant for the
// given entity type. The queue decodes once at enqueue time; retries reuse
// the already-validated bytes.
func DecodePayload(t EntityType, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty payload for entity type %q", t)
	}
	var p Payload
	switch t {
	case EntityTask:
		p = &TaskPayload{}
	case EntityShift:
		p = &ShiftPayload{}
	case EntityAppointment:
		p = &AppointmentPayload{}
	case EntityFollowUp:
		p = &FollowUpPayload{}
	case EntityConnection:
		p = &ConnectionPayload{}
	case EntityEvent:
		p = &EventPayload{}
	default:
		return nil, fmt.Errorf("unknown entity type %q", t)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, err
	}
	return p, nil
}
