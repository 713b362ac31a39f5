package model

import (
	"fmt"
	"time"
)

// SyncStatus is the per-event state machine driven by the sync engine.
//
//	synced -> pending_push | pending_pull -> synced
//	synced -> conflict -> synced (on resolution)
//	any    -> error (provider rejection or integrity failure)
//	any    -> deleted (terminal)
type SyncStatus string

const (
	StatusSynced      SyncStatus = "synced"
	StatusPendingPush SyncStatus = "pending_push"
	StatusPendingPull SyncStatus = "pending_pull"
	StatusConflict    SyncStatus = "conflict"
	StatusError       SyncStatus = "error"
	StatusDeleted     SyncStatus = "deleted"
)

// SourceType identifies which local entity a calendar event mirrors.
type SourceType string

const (
	SourceTask        SourceType = "task"
	SourceShift       SourceType = "shift"
	SourceAppointment SourceType = "appointment"
	SourceFollowUp    SourceType = "handoff_followup"
)

// EventFields is the set of mutable scheduling fields shared by both sides
// of the mirror. The integrity checksum and the conflict diff are computed
// over exactly this set.
type EventFields struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	AllDay      bool      `json:"all_day"`
	Location    string    `json:"location,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DiffFields returns the names of fields whose values differ between two
// snapshots, in a fixed order. UpdatedAt is bookkeeping, not content, and
// is never reported.
func DiffFields(a, b EventFields) []string {
	var diff []string
	if a.Title != b.Title {
		diff = append(diff, "title")
	}
	if a.Description != b.Description {
		diff = append(diff, "description")
	}
	if !a.StartAt.Equal(b.StartAt) {
		diff = append(diff, "start_at")
	}
	if !a.EndAt.Equal(b.EndAt) {
		diff = append(diff, "end_at")
	}
	if a.AllDay != b.AllDay {
		diff = append(diff, "all_day")
	}
	if a.Location != b.Location {
		diff = append(diff, "location")
	}
	return diff
}

// ConflictRecord stores both sides of an unresolved conflict plus the list
// of diverging fields. It exists only while the event is in StatusConflict.
type ConflictRecord struct {
	Local      EventFields `json:"local"`
	External   EventFields `json:"external"`
	Fields     []string    `json:"fields"`
	DetectedAt time.Time   `json:"detected_at"`
}

// CalendarEvent is the local mirror of one provider event, tied to exactly
// one source entity of SourceType.
type CalendarEvent struct {
	ID           string     `json:"id"`
	ConnectionID string     `json:"connection_id"`
	CircleID     string     `json:"circle_id"`
	PatientID    string     `json:"patient_id,omitempty"`
	SourceType   SourceType `json:"source_type"`
	SourceID     string     `json:"source_id"`

	ExternalID   string `json:"external_id,omitempty"` // provider event id
	ExternalEtag string `json:"external_etag,omitempty"`

	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	Location       string `json:"location,omitempty"`
	RecurrenceRule string `json:"recurrence_rule,omitempty"`

	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
	AllDay  bool      `json:"all_day"`

	Status   SyncStatus `json:"status"`
	Checksum string     `json:"checksum,omitempty"`

	// ConflictPayload holds the encrypted ConflictRecord while the event
	// is in conflict. Conflict snapshots may contain care-related free
	// text, so they are never persisted in the clear.
	ConflictPayload []byte `json:"conflict_payload,omitempty"`

	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`
	LocalUpdatedAt    time.Time  `json:"local_updated_at"`
	ExternalUpdatedAt *time.Time `json:"external_updated_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Fields extracts the mutable snapshot of the local side of the event.
func (e *CalendarEvent) Fields() EventFields {
	return EventFields{
		Title:       e.Title,
		Description: e.Description,
		StartAt:     e.StartAt,
		EndAt:       e.EndAt,
		AllDay:      e.AllDay,
		Location:    e.Location,
		UpdatedAt:   e.LocalUpdatedAt,
	}
}

// ApplyFields writes a snapshot back onto the event's mutable fields.
func (e *CalendarEvent) ApplyFields(f EventFields) {
	e.Title = f.Title
	e.Description = f.Description
	e.StartAt = f.StartAt
	e.EndAt = f.EndAt
	e.AllDay = f.AllDay
	e.Location = f.Location
}

// Validate checks the event's field values.
func (e *CalendarEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if e.ConnectionID == "" {
		return fmt.Errorf("connection id is required")
	}
	switch e.SourceType {
	case SourceTask, SourceShift, SourceAppointment, SourceFollowUp:
	default:
		return fmt.Errorf("invalid source type %q", e.SourceType)
	}
	if e.SourceID == "" {
		return fmt.Errorf("source id is required")
	}
	switch e.Status {
	case StatusSynced, StatusPendingPush, StatusPendingPull,
		StatusConflict, StatusError, StatusDeleted:
	default:
		return fmt.Errorf("invalid sync status %q", e.Status)
	}
	if e.Title == "" {
		return fmt.Errorf("title is required")
	}
	if e.EndAt.Before(e.StartAt) {
		return fmt.Errorf("end must not precede start")
	}
	return nil
}
