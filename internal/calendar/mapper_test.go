package calendar

import (
	"testing"
	"time"

	"github.com/kincareapp/kincare/internal/model"
)

func allToggles() model.EntityToggles {
	return model.EntityToggles{Tasks: true, Shifts: true, Appointments: true, FollowUps: true}
}

func bidiConnection() *model.CalendarConnection {
	return &model.CalendarConnection{
		ID:        "conn-1",
		UserID:    "user-1",
		CircleID:  "circle-1",
		Provider:  model.ProviderGoogle,
		Status:    model.ConnActive,
		Direction: model.DirectionBidirectional,
		Strategy:  model.StrategyManual,
		Toggles:   allToggles(),
	}
}

func dueTask(due time.Time) *model.CareTask {
	return &model.CareTask{
		ID:        "task-1",
		CircleID:  "circle-1",
		PatientID: "patient-1",
		Title:     "Pick up prescription",
		Notes:     "Pharmacy closes at 6",
		DueAt:     &due,
		UpdatedAt: due.Add(-24 * time.Hour),
	}
}

// TestFieldsFor checks entity-to-snapshot mapping across schedulability,
// toggles and minimal details.
func TestFieldsFor(t *testing.T) {
	due := time.Date(2026, 5, 2, 17, 0, 0, 0, time.UTC)
	conn := bidiConnection()

	t.Run("task maps to one hour window", func(t *testing.T) {
		f, ok := FieldsFor(dueTask(due), conn)
		if !ok {
			t.Fatal("FieldsFor() should map a dated task")
		}
		if f.Title != "Pick up prescription" || f.Description != "Pharmacy closes at 6" {
			t.Errorf("fields = %+v", f)
		}
		if !f.StartAt.Equal(due) || !f.EndAt.Equal(due.Add(time.Hour)) {
			t.Errorf("window = %v..%v", f.StartAt, f.EndAt)
		}
	})

	t.Run("undated task is skipped", func(t *testing.T) {
		task := dueTask(due)
		task.DueAt = nil
		if _, ok := FieldsFor(task, conn); ok {
			t.Error("FieldsFor() should skip a task without a due date")
		}
	})

	t.Run("toggled off type is skipped", func(t *testing.T) {
		off := bidiConnection()
		off.Toggles.Tasks = false
		if _, ok := FieldsFor(dueTask(due), off); ok {
			t.Error("FieldsFor() should skip toggled-off entity types")
		}
	})

	t.Run("minimal details redacts content", func(t *testing.T) {
		private := bidiConnection()
		private.MinimalDetails = true
		f, ok := FieldsFor(dueTask(due), private)
		if !ok {
			t.Fatal("FieldsFor() failed")
		}
		if f.Title != GenericTitle || f.Description != "" || f.Location != "" {
			t.Errorf("redacted fields = %+v", f)
		}
		if !f.StartAt.Equal(due) {
			t.Error("redaction should keep the time window")
		}
	})
}

// TestFieldsFor_FollowUp checks the follow-up window and synthesized title.
func TestFieldsFor_FollowUp(t *testing.T) {
	due := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)
	fu := &model.HandoffFollowUp{
		ID:        "fu-1",
		CircleID:  "circle-1",
		HandoffID: "h-1",
		Summary:   "Check swelling",
		DueAt:     &due,
		UpdatedAt: due,
	}
	f, ok := FieldsFor(fu, bidiConnection())
	if !ok {
		t.Fatal("FieldsFor() failed")
	}
	if f.Title != "Follow-up: Check swelling" {
		t.Errorf("title = %q", f.Title)
	}
	if !f.EndAt.Equal(due.Add(30 * time.Minute)) {
		t.Errorf("end = %v", f.EndAt)
	}
}

// TestToCalendarEvent checks mirror creation carries identity and the
// patient reference.
func TestToCalendarEvent(t *testing.T) {
	due := time.Date(2026, 5, 2, 17, 0, 0, 0, time.UTC)
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	task := dueTask(due)

	ev := ToCalendarEvent(task, bidiConnection(), now)
	if ev == nil {
		t.Fatal("ToCalendarEvent() returned nil")
	}
	if ev.ID == "" {
		t.Error("mirror should get a generated id")
	}
	if ev.ConnectionID != "conn-1" || ev.SourceType != model.SourceTask || ev.SourceID != "task-1" {
		t.Errorf("identity = %s %s/%s", ev.ConnectionID, ev.SourceType, ev.SourceID)
	}
	if ev.PatientID != "patient-1" {
		t.Errorf("patient id = %q", ev.PatientID)
	}
	if ev.Status != model.StatusPendingPush {
		t.Errorf("status = %q", ev.Status)
	}
	if !ev.LocalUpdatedAt.Equal(task.UpdatedAt) {
		t.Errorf("local updated = %v", ev.LocalUpdatedAt)
	}

	undated := dueTask(due)
	undated.DueAt = nil
	if ToCalendarEvent(undated, bidiConnection(), now) != nil {
		t.Error("ToCalendarEvent() should return nil for unmappable entities")
	}
}

// TestApplyEventToSource checks the pull-side write-back per entity type,
// including the redacted-title rule.
func TestApplyEventToSource(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	start := time.Date(2026, 5, 5, 14, 0, 0, 0, time.UTC)
	f := model.EventFields{
		Title:    "Cardiology consult",
		StartAt:  start,
		EndAt:    start.Add(time.Hour),
		Location: "Clinic B",
	}

	t.Run("task takes title and due date", func(t *testing.T) {
		task := dueTask(start.Add(-48 * time.Hour))
		if err := ApplyEventToSource(task, f, now); err != nil {
			t.Fatalf("ApplyEventToSource() failed: %v", err)
		}
		if task.Title != "Cardiology consult" {
			t.Errorf("title = %q", task.Title)
		}
		if task.DueAt == nil || !task.DueAt.Equal(start) {
			t.Errorf("due = %v", task.DueAt)
		}
		if !task.UpdatedAt.Equal(now) {
			t.Errorf("updated = %v", task.UpdatedAt)
		}
	})

	t.Run("generic title does not overwrite", func(t *testing.T) {
		task := dueTask(start)
		redacted := f
		redacted.Title = GenericTitle
		if err := ApplyEventToSource(task, redacted, now); err != nil {
			t.Fatalf("ApplyEventToSource() failed: %v", err)
		}
		if task.Title != "Pick up prescription" {
			t.Errorf("redacted pull changed the title to %q", task.Title)
		}
	})

	t.Run("shift takes the full window", func(t *testing.T) {
		shift := &model.Shift{ID: "s-1", CircleID: "circle-1", StartAt: start.Add(-time.Hour), EndAt: start}
		if err := ApplyEventToSource(shift, f, now); err != nil {
			t.Fatalf("ApplyEventToSource() failed: %v", err)
		}
		if !shift.StartAt.Equal(start) || !shift.EndAt.Equal(start.Add(time.Hour)) {
			t.Errorf("window = %v..%v", shift.StartAt, shift.EndAt)
		}
		if shift.Location != "Clinic B" {
			t.Errorf("location = %q", shift.Location)
		}
	})

	t.Run("appointment takes all fields", func(t *testing.T) {
		appt := &model.Appointment{ID: "a-1", CircleID: "circle-1", Title: "Old title"}
		if err := ApplyEventToSource(appt, f, now); err != nil {
			t.Fatalf("ApplyEventToSource() failed: %v", err)
		}
		if appt.Title != "Cardiology consult" || !appt.StartAt.Equal(start) {
			t.Errorf("appointment = %+v", appt)
		}
	})
}

// TestRedact checks redaction is idempotent and keeps scheduling fields.
func TestRedact(t *testing.T) {
	f := model.EventFields{
		Title:       "Dialysis",
		Description: "details",
		Location:    "Renal unit",
		StartAt:     time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
		AllDay:      true,
	}
	r := Redact(f)
	if r.Title != GenericTitle || r.Description != "" || r.Location != "" {
		t.Errorf("Redact() = %+v", r)
	}
	if !r.StartAt.Equal(f.StartAt) || !r.AllDay {
		t.Error("Redact() should not touch scheduling fields")
	}
	if Redact(r) != r {
		t.Error("Redact() should be idempotent")
	}
}
