package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/kincareapp/kincare/internal/model"
)

func testConnection(id string) *model.CalendarConnection {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return &model.CalendarConnection{
		ID:         id,
		UserID:     "user-1",
		CircleID:   "circle-1",
		Provider:   model.ProviderGoogle,
		Status:     model.ConnActive,
		CalendarID: "primary",
		Direction:  model.DirectionBidirectional,
		Strategy:   model.StrategyLocalWins,
		Toggles:    model.EntityToggles{Tasks: true, Shifts: true, Appointments: true, FollowUps: true},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func testEvent(id, connID, sourceID string) *model.CalendarEvent {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	return &model.CalendarEvent{
		ID:             id,
		ConnectionID:   connID,
		CircleID:       "circle-1",
		SourceType:     model.SourceAppointment,
		SourceID:       sourceID,
		Title:          "Cardiology",
		StartAt:        start,
		EndAt:          start.Add(time.Hour),
		Status:         model.StatusSynced,
		Checksum:       "abc123",
		LocalUpdatedAt: start.Add(-time.Hour),
		CreatedAt:      start.Add(-time.Hour),
	}
}

// TestUpsertEvent_RoundTrip checks event persistence including nullable
// bookkeeping fields and the conflict payload blob.
func TestUpsertEvent_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	conn := testConnection("conn-1")
	if err := db.UpsertConnection(ctx, conn); err != nil {
		t.Fatalf("UpsertConnection() failed: %v", err)
	}

	ev := testEvent("ev-1", "conn-1", "appt-1")
	synced := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	ev.LastSyncedAt = &synced
	ev.ExternalID = "ext-42"
	ev.ExternalEtag = `"v7"`
	ev.ConflictPayload = []byte("kcv1 not really encrypted")

	if err := db.UpsertEvent(ctx, ev); err != nil {
		t.Fatalf("UpsertEvent() failed: %v", err)
	}

	got, err := db.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetEvent() failed: %v", err)
	}
	if got.Title != ev.Title || got.ExternalID != "ext-42" || got.ExternalEtag != `"v7"` {
		t.Errorf("GetEvent() = %+v", got)
	}
	if got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(synced) {
		t.Errorf("LastSyncedAt = %v, want %v", got.LastSyncedAt, synced)
	}
	if string(got.ConflictPayload) != string(ev.ConflictPayload) {
		t.Errorf("ConflictPayload = %q", got.ConflictPayload)
	}

	// Upsert replaces in place.
	ev.Title = "Cardiology follow-up"
	if err := db.UpsertEvent(ctx, ev); err != nil {
		t.Fatalf("second UpsertEvent() failed: %v", err)
	}
	got, _ = db.GetEvent(ctx, "ev-1")
	if got.Title != "Cardiology follow-up" {
		t.Errorf("Title after upsert = %q", got.Title)
	}
}

// TestGetEventBySource checks the (connection, source) lookup used by the
// sync engine.
func TestGetEventBySource(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.UpsertConnection(ctx, testConnection("conn-1")); err != nil {
		t.Fatalf("UpsertConnection() failed: %v", err)
	}
	if err := db.UpsertEvent(ctx, testEvent("ev-1", "conn-1", "appt-1")); err != nil {
		t.Fatalf("UpsertEvent() failed: %v", err)
	}

	got, err := db.GetEventBySource(ctx, "conn-1", model.SourceAppointment, "appt-1")
	if err != nil {
		t.Fatalf("GetEventBySource() failed: %v", err)
	}
	if got.ID != "ev-1" {
		t.Errorf("ID = %q, want ev-1", got.ID)
	}

	if _, err := db.GetEventBySource(ctx, "conn-1", model.SourceTask, "appt-1"); err != sql.ErrNoRows {
		t.Errorf("missing pair error = %v, want sql.ErrNoRows", err)
	}
}

// TestMarkEventStatus checks the status-only update leaves the stored
// checksum untouched, which is what keeps a tampered row quarantined.
func TestMarkEventStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.UpsertConnection(ctx, testConnection("conn-1")); err != nil {
		t.Fatalf("UpsertConnection() failed: %v", err)
	}
	ev := testEvent("ev-1", "conn-1", "appt-1")
	if err := db.UpsertEvent(ctx, ev); err != nil {
		t.Fatalf("UpsertEvent() failed: %v", err)
	}

	if err := db.MarkEventStatus(ctx, "ev-1", model.StatusError); err != nil {
		t.Fatalf("MarkEventStatus() failed: %v", err)
	}

	got, _ := db.GetEvent(ctx, "ev-1")
	if got.Status != model.StatusError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	if got.Checksum != ev.Checksum {
		t.Errorf("Checksum changed: %q -> %q", ev.Checksum, got.Checksum)
	}
}

// TestMarkEventDeleted checks soft deletion clears the conflict payload.
func TestMarkEventDeleted(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.UpsertConnection(ctx, testConnection("conn-1")); err != nil {
		t.Fatalf("UpsertConnection() failed: %v", err)
	}
	ev := testEvent("ev-1", "conn-1", "appt-1")
	ev.Status = model.StatusConflict
	ev.ConflictPayload = []byte("snapshot")
	if err := db.UpsertEvent(ctx, ev); err != nil {
		t.Fatalf("UpsertEvent() failed: %v", err)
	}

	if err := db.MarkEventDeleted(ctx, "ev-1"); err != nil {
		t.Fatalf("MarkEventDeleted() failed: %v", err)
	}

	got, _ := db.GetEvent(ctx, "ev-1")
	if got.Status != model.StatusDeleted {
		t.Errorf("Status = %q, want deleted", got.Status)
	}
	if got.ConflictPayload != nil {
		t.Errorf("ConflictPayload = %q, want nil", got.ConflictPayload)
	}

	// Deleted events stay out of default listings.
	events, err := db.ListEvents(ctx, EventFilter{ConnectionID: "conn-1"})
	if err != nil {
		t.Fatalf("ListEvents() failed: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("default listing returned %d deleted events", len(events))
	}
	events, _ = db.ListEvents(ctx, EventFilter{ConnectionID: "conn-1", IncludeDeleted: true})
	if len(events) != 1 {
		t.Errorf("IncludeDeleted listing returned %d events, want 1", len(events))
	}
}

// TestListEvents_StatusFilter checks status filtering.
func TestListEvents_StatusFilter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.UpsertConnection(ctx, testConnection("conn-1")); err != nil {
		t.Fatalf("UpsertConnection() failed: %v", err)
	}
	a := testEvent("ev-1", "conn-1", "appt-1")
	b := testEvent("ev-2", "conn-1", "appt-2")
	b.Status = model.StatusConflict
	for _, ev := range []*model.CalendarEvent{a, b} {
		if err := db.UpsertEvent(ctx, ev); err != nil {
			t.Fatalf("UpsertEvent() failed: %v", err)
		}
	}

	events, err := db.ListEvents(ctx, EventFilter{Status: model.StatusConflict})
	if err != nil {
		t.Fatalf("ListEvents() failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != "ev-2" {
		t.Errorf("ListEvents(conflict) = %+v", events)
	}
}
