package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// SourceEntity is implemented by every local entity that can be mirrored
// to an external calendar.
type SourceEntity interface {
	// SourceRef returns the entity's type tag and id.
	SourceRef() (SourceType, string)

	// Circle returns the sharing scope the entity belongs to.
	Circle() string

	// Updated returns the entity's last local modification time.
	Updated() time.Time

	// Schedule returns the entity's time window. ok is false when the
	// entity has no schedulable time (for example a task with no due
	// date), in which case it is skipped by the mapper.
	Schedule() (start, end time.Time, allDay bool, ok bool)

	// EventTitle, EventDescription and EventLocation provide the calendar
	// representation of the entity's content.
	EventTitle() string
	EventDescription() string
	EventLocation() string
}

// CareTask is a care-coordination task with an optional due date.
type CareTask struct {
	ID        string     `json:"id"`
	CircleID  string     `json:"circle_id"`
	PatientID string     `json:"patient_id,omitempty"`
	Title     string     `json:"title"`
	Notes     string     `json:"notes,omitempty"`
	Done      bool       `json:"done"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (t *CareTask) SourceRef() (SourceType, string) { return SourceTask, t.ID }
func (t *CareTask) Circle() string { return t.CircleID }
func (t *CareTask) Updated() time.Time { return t.UpdatedAt }

// Schedule maps a due date to a one-hour window. Tasks without a due date
// are not schedulable.
func (t *CareTask) Schedule() (time.Time, time.Time, bool, bool) {
	if t.DueAt == nil {
		return time.Time{}, time.Time{}, false, false
	}
	return *t.DueAt, t.DueAt.Add(time.Hour), false, true
}

func (t *CareTask) EventTitle() string { return t.Title }
func (t *CareTask) EventDescription() string { return t.Notes }
func (t *CareTask) EventLocation() string { return "" }

// Shift is a caregiver's scheduled coverage window.
type Shift struct {
	ID          string    `json:"id"`
	CircleID    string    `json:"circle_id"`
	CaregiverID string    `json:"caregiver_id"`
	Caregiver   string    `json:"caregiver,omitempty"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	Location    string    `json:"location,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Shift) SourceRef() (SourceType, string) { return SourceShift, s.ID }
func (s *Shift) Circle() string { return s.CircleID }
func (s *Shift) Updated() time.Time { return s.UpdatedAt }

func (s *Shift) Schedule() (time.Time, time.Time, bool, bool) {
	if s.StartAt.IsZero() {
		return time.Time{}, time.Time{}, false, false
	}
	return s.StartAt, s.EndAt, false, true
}

func (s *Shift) EventTitle() string {
	if s.Caregiver != "" {
		return "Care shift: " + s.Caregiver
	}
	return "Care shift"
}
func (s *Shift) EventDescription() string { return s.Notes }
func (s *Shift) EventLocation() string { return s.Location }

// Appointment is a medical appointment for a patient.
type Appointment struct {
	ID           string    `json:"id"`
	CircleID     string    `json:"circle_id"`
	PatientID    string    `json:"patient_id,omitempty"`
	Title        string    `json:"title"`
	ProviderName string    `json:"provider_name,omitempty"`
	StartAt      time.Time `json:"start_at"`
	EndAt        time.Time `json:"end_at"`
	AllDay       bool      `json:"all_day"`
	Location     string    `json:"location,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (a *Appointment) SourceRef() (SourceType, string) { return SourceAppointment, a.ID }
func (a *Appointment) Circle() string { return a.CircleID }
func (a *Appointment) Updated() time.Time { return a.UpdatedAt }

func (a *Appointment) Schedule() (time.Time, time.Time, bool, bool) {
	if a.StartAt.IsZero() {
		return time.Time{}, time.Time{}, false, false
	}
	return a.StartAt, a.EndAt, a.AllDay, true
}

func (a *Appointment) EventTitle() string { return a.Title }
func (a *Appointment) EventDescription() string {
	if a.ProviderName == "" {
		return a.Notes
	}
	if a.Notes == "" {
		return "With " + a.ProviderName
	}
	return "With " + a.ProviderName + "\n" + a.Notes
}
func (a *Appointment) EventLocation() string { return a.Location }

// HandoffFollowUp is a schedulable follow-up item spun off a care handoff.
type HandoffFollowUp struct {
	ID        string     `json:"id"`
	CircleID  string     `json:"circle_id"`
	HandoffID string     `json:"handoff_id"`
	Summary   string     `json:"summary"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	Resolved  bool       `json:"resolved"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (f *HandoffFollowUp) SourceRef() (SourceType, string) { return SourceFollowUp, f.ID }
func (f *HandoffFollowUp) Circle() string { return f.CircleID }
func (f *HandoffFollowUp) Updated() time.Time { return f.UpdatedAt }

func (f *HandoffFollowUp) Schedule() (time.Time, time.Time, bool, bool) {
	if f.DueAt == nil {
		return time.Time{}, time.Time{}, false, false
	}
	return *f.DueAt, f.DueAt.Add(30 * time.Minute), false, true
}

func (f *HandoffFollowUp) EventTitle() string { return "Follow-up: " + f.Summary }
func (f *HandoffFollowUp) EventDescription() string { return "" }
func (f *HandoffFollowUp) EventLocation() string { return "" }

// DecodeSource parses a JSON entity body into its concrete type.
func DecodeSource(sourceType SourceType, data []byte) (SourceEntity, error) {
	var entity SourceEntity
	switch sourceType {
	case SourceTask:
		entity = &CareTask{}
	case SourceShift:
		entity = &Shift{}
	case SourceAppointment:
		entity = &Appointment{}
	case SourceFollowUp:
		entity = &HandoffFollowUp{}
	default:
		return nil, fmt.Errorf("unknown source type %q", sourceType)
	}
	if err := json.Unmarshal(data, entity); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s entity: %w", sourceType, err)
	}
	return entity, nil
}
