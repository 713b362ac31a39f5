package store

import (
	"context"
	"testing"
	"time"

	"github.com/kincareapp/kincare/internal/model"
)

// TestUpsertConnection_RoundTrip checks connection persistence including
// the toggles JSON column.
func TestUpsertConnection_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	conn := testConnection("conn-1")
	conn.Toggles = model.EntityToggles{Appointments: true}
	conn.MinimalDetails = true
	if err := db.UpsertConnection(ctx, conn); err != nil {
		t.Fatalf("UpsertConnection() failed: %v", err)
	}

	got, err := db.GetConnection(ctx, "conn-1")
	if err != nil {
		t.Fatalf("GetConnection() failed: %v", err)
	}
	if got.Provider != model.ProviderGoogle || !got.MinimalDetails {
		t.Errorf("GetConnection() = %+v", got)
	}
	if !got.Toggles.Appointments || got.Toggles.Tasks {
		t.Errorf("Toggles = %+v, want appointments only", got.Toggles)
	}
}

// TestListConnections_Filter checks status and circle filters.
func TestListConnections_Filter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a := testConnection("conn-a")
	b := testConnection("conn-b")
	b.Status = model.ConnError
	b.CircleID = "circle-2"
	for _, c := range []*model.CalendarConnection{a, b} {
		if err := db.UpsertConnection(ctx, c); err != nil {
			t.Fatalf("UpsertConnection() failed: %v", err)
		}
	}

	all, err := db.ListConnections(ctx, ConnectionFilter{})
	if err != nil {
		t.Fatalf("ListConnections() failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListConnections() returned %d, want 2", len(all))
	}

	errored, _ := db.ListConnections(ctx, ConnectionFilter{Status: model.ConnError})
	if len(errored) != 1 || errored[0].ID != "conn-b" {
		t.Errorf("ListConnections(error) = %+v", errored)
	}

	circle, _ := db.ListConnections(ctx, ConnectionFilter{CircleID: "circle-1"})
	if len(circle) != 1 || circle[0].ID != "conn-a" {
		t.Errorf("ListConnections(circle-1) = %+v", circle)
	}
}

// TestSetConnectionStatus checks parking a connection with the error
// message preserved.
func TestSetConnectionStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.UpsertConnection(ctx, testConnection("conn-1")); err != nil {
		t.Fatalf("UpsertConnection() failed: %v", err)
	}
	if err := db.SetConnectionStatus(ctx, "conn-1", model.ConnError, "token revoked"); err != nil {
		t.Fatalf("SetConnectionStatus() failed: %v", err)
	}

	got, _ := db.GetConnection(ctx, "conn-1")
	if got.Status != model.ConnError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	if got.LastSyncError != "token revoked" {
		t.Errorf("LastSyncError = %q", got.LastSyncError)
	}
}

// TestRecordConnectionSync checks pass bookkeeping accumulates.
func TestRecordConnectionSync(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.UpsertConnection(ctx, testConnection("conn-1")); err != nil {
		t.Fatalf("UpsertConnection() failed: %v", err)
	}

	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if err := db.RecordConnectionSync(ctx, "conn-1", at, "success", "", 3); err != nil {
		t.Fatalf("RecordConnectionSync() failed: %v", err)
	}
	if err := db.RecordConnectionSync(ctx, "conn-1", at.Add(time.Hour), "partial", "one entity failed", 2); err != nil {
		t.Fatalf("second RecordConnectionSync() failed: %v", err)
	}

	got, _ := db.GetConnection(ctx, "conn-1")
	if got.LastSyncStatus != "partial" || got.LastSyncError != "one entity failed" {
		t.Errorf("last sync = %q %q", got.LastSyncStatus, got.LastSyncError)
	}
	if got.LastSyncAt == nil || !got.LastSyncAt.Equal(at.Add(time.Hour)) {
		t.Errorf("LastSyncAt = %v", got.LastSyncAt)
	}
	if got.EventsSynced != 5 {
		t.Errorf("EventsSynced = %d, want 5", got.EventsSynced)
	}
}
