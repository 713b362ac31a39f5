// Package calendar implements the bidirectional mirror between local
// source entities and external calendar providers: the event mapper, the
// per-connection sync engine, and conflict detection and resolution.
package calendar

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kincareapp/kincare/internal/model"
	"github.com/kincareapp/kincare/internal/provider"
)

// GenericTitle replaces the real event title when a connection's minimal
// details mode is on. Minimal details is a privacy contract: identifying
// care content never reaches the external provider, under any resolution
// strategy.
const GenericTitle = "Busy"

// FieldsFor maps a source entity to its calendar representation under the
// given connection. ok is false when the entity has no schedulable time or
// its type is toggled off.
//
// The mapping is a pure function of (entity, connection), which is what
// keeps the integrity checksum stable across passes.
func FieldsFor(src model.SourceEntity, conn *model.CalendarConnection) (model.EventFields, bool) {
	sourceType, _ := src.SourceRef()
	if !conn.Toggles.Enabled(sourceType) {
		return model.EventFields{}, false
	}

	start, end, allDay, ok := src.Schedule()
	if !ok {
		return model.EventFields{}, false
	}

	f := model.EventFields{
		Title:       src.EventTitle(),
		Description: src.EventDescription(),
		Location:    src.EventLocation(),
		StartAt:     start,
		EndAt:       end,
		AllDay:      allDay,
		UpdatedAt:   src.Updated(),
	}
	if conn.MinimalDetails {
		f = Redact(f)
	}
	return f, true
}

// Redact strips identifying care content from a snapshot: generic title,
// no description, no location. Applied last so no resolution path can
// reintroduce redacted content.
func Redact(f model.EventFields) model.EventFields {
	f.Title = GenericTitle
	f.Description = ""
	f.Location = ""
	return f
}

// ToCalendarEvent builds a new mirror event for a source entity that has
// become eligible for sync. Returns nil when the entity doesn't map.
func ToCalendarEvent(src model.SourceEntity, conn *model.CalendarConnection, now time.Time) *model.CalendarEvent {
	f, ok := FieldsFor(src, conn)
	if !ok {
		return nil
	}

	sourceType, sourceID := src.SourceRef()
	e := &model.CalendarEvent{
		ID:             uuid.NewString(),
		ConnectionID:   conn.ID,
		CircleID:       src.Circle(),
		SourceType:     sourceType,
		SourceID:       sourceID,
		Status:         model.StatusPendingPush,
		LocalUpdatedAt: src.Updated(),
		CreatedAt:      now,
	}
	e.ApplyFields(f)
	if a, ok := src.(*model.Appointment); ok {
		e.PatientID = a.PatientID
	}
	if t, ok := src.(*model.CareTask); ok {
		e.PatientID = t.PatientID
	}
	return e
}

// ApplyEventToSource is the inverse mapping: it writes a snapshot's
// schedulable fields (title, time range) back onto the source entity after
// a pull or merge. Redacted snapshots keep the source's own title.
func ApplyEventToSource(src model.SourceEntity, f model.EventFields, now time.Time) error {
	titled := f.Title != "" && f.Title != GenericTitle

	switch s := src.(type) {
	case *model.CareTask:
		if titled {
			s.Title = f.Title
		}
		due := f.StartAt
		s.DueAt = &due
		s.UpdatedAt = now
	case *model.Shift:
		s.StartAt = f.StartAt
		s.EndAt = f.EndAt
		s.Location = f.Location
		s.UpdatedAt = now
	case *model.Appointment:
		if titled {
			s.Title = f.Title
		}
		s.StartAt = f.StartAt
		s.EndAt = f.EndAt
		s.AllDay = f.AllDay
		s.Location = f.Location
		s.UpdatedAt = now
	case *model.HandoffFollowUp:
		due := f.StartAt
		s.DueAt = &due
		s.UpdatedAt = now
	default:
		return fmt.Errorf("unknown source entity type %T", src)
	}
	return nil
}

// toProviderEvent converts a local snapshot to the provider-neutral shape.
func toProviderEvent(e *model.CalendarEvent, f model.EventFields) provider.Event {
	return provider.Event{
		ID:          e.ExternalID,
		Etag:        e.ExternalEtag,
		Title:       f.Title,
		Description: f.Description,
		Location:    f.Location,
		StartAt:     f.StartAt,
		EndAt:       f.EndAt,
		AllDay:      f.AllDay,
		Recurrence:  e.RecurrenceRule,
	}
}

// fromProviderEvent extracts the mutable snapshot of a provider event.
func fromProviderEvent(ev provider.Event) model.EventFields {
	return model.EventFields{
		Title:       ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
		StartAt:     ev.StartAt,
		EndAt:       ev.EndAt,
		AllDay:      ev.AllDay,
		UpdatedAt:   ev.UpdatedAt,
	}
}
