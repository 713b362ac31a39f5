package calendar

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/kincareapp/kincare/internal/integrity"
	"github.com/kincareapp/kincare/internal/model"
	"github.com/kincareapp/kincare/internal/provider"
	"github.com/kincareapp/kincare/internal/store"
)

// engineFixture wires an engine against a temp database and a fake
// provider with a controllable clock.
type engineFixture struct {
	db     *store.DB
	fake   *provider.Fake
	engine *Engine
	conn   *model.CalendarConnection
	now    time.Time
}

func setupEngine(t *testing.T) *engineFixture {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(filepath.Join(t.TempDir(), "kincare.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("Failed to init schema: %v", err)
	}

	fake := provider.NewFake(model.ProviderGoogle)
	registry := provider.NewRegistry()
	registry.Register(fake)

	guard, err := integrity.NewGuard(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatalf("Failed to create guard: %v", err)
	}

	f := &engineFixture{
		db:   db,
		fake: fake,
		now:  time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(db, registry, guard, log.New(io.Discard, "", 0))
	f.engine.SetClock(func() time.Time { return f.now })
	fake.SetClock(func() time.Time { return f.now })

	f.conn = &model.CalendarConnection{
		ID:         "conn-1",
		UserID:     "user-1",
		CircleID:   "circle-1",
		Provider:   model.ProviderGoogle,
		Status:     model.ConnActive,
		CalendarID: "cal-1",
		Direction:  model.DirectionBidirectional,
		Strategy:   model.StrategyManual,
		Toggles:    allToggles(),
		CreatedAt:  f.now,
		UpdatedAt:  f.now,
	}
	if err := db.UpsertConnection(ctx, f.conn); err != nil {
		t.Fatalf("Failed to store connection: %v", err)
	}
	return f
}

func (f *engineFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

// putTask stores a dated task in the circle and returns it.
func (f *engineFixture) putTask(t *testing.T, title string) *model.CareTask {
	t.Helper()
	due := f.now.Add(48 * time.Hour)
	task := &model.CareTask{
		ID:        "task-1",
		CircleID:  "circle-1",
		Title:     title,
		DueAt:     &due,
		CreatedAt: f.now.Add(-time.Hour),
		UpdatedAt: f.now.Add(-time.Hour),
	}
	if err := f.db.PutSource(context.Background(), task); err != nil {
		t.Fatalf("Failed to store task: %v", err)
	}
	return task
}

// sync runs one pass and fails the test on a pass-level error.
func (f *engineFixture) sync(t *testing.T) *PassResult {
	t.Helper()
	res, err := f.engine.SyncConnection(context.Background(), f.conn.ID)
	if err != nil {
		t.Fatalf("SyncConnection() failed: %v", err)
	}
	return res
}

func (f *engineFixture) mirror(t *testing.T, sourceType model.SourceType, sourceID string) *model.CalendarEvent {
	t.Helper()
	ev, err := f.db.GetEventBySource(context.Background(), f.conn.ID, sourceType, sourceID)
	if err != nil {
		t.Fatalf("Failed to load mirror: %v", err)
	}
	return ev
}

// TestSyncConnection_CreateMirror checks a new source entity gets pushed
// to the provider with a persisted, stamped mirror row.
func TestSyncConnection_CreateMirror(t *testing.T) {
	f := setupEngine(t)
	task := f.putTask(t, "Pick up prescription")

	res := f.sync(t)
	if res.Pushed != 1 || res.Errors != 0 {
		t.Fatalf("pass = %+v", res)
	}

	ev := f.mirror(t, model.SourceTask, task.ID)
	if ev.Status != model.StatusSynced {
		t.Errorf("status = %q", ev.Status)
	}
	if ev.ExternalID == "" || ev.ExternalEtag == "" {
		t.Errorf("external identity = %q/%q", ev.ExternalID, ev.ExternalEtag)
	}
	if ev.LastSyncedAt == nil || !ev.LastSyncedAt.Equal(f.now) {
		t.Errorf("watermark = %v", ev.LastSyncedAt)
	}
	if err := integrity.Verify(ev); err != nil {
		t.Errorf("stored mirror fails verification: %v", err)
	}

	remote, ok := f.fake.Get("cal-1", ev.ExternalID)
	if !ok {
		t.Fatal("provider has no event")
	}
	if remote.Title != "Pick up prescription" {
		t.Errorf("provider title = %q", remote.Title)
	}

	// A second pass with nothing changed is a no-op.
	f.advance(time.Minute)
	res = f.sync(t)
	if res.Pushed != 0 || res.Pulled != 0 || res.Conflicts != 0 {
		t.Errorf("idle pass = %+v", res)
	}
}

// TestSyncConnection_LocalEdit checks a local change after the watermark
// is pushed out.
func TestSyncConnection_LocalEdit(t *testing.T) {
	f := setupEngine(t)
	task := f.putTask(t, "Original")
	f.sync(t)

	f.advance(time.Hour)
	task.Title = "Renamed"
	task.UpdatedAt = f.now
	if err := f.db.PutSource(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	f.advance(time.Hour)
	res := f.sync(t)
	if res.Pushed != 1 {
		t.Fatalf("pass = %+v", res)
	}

	ev := f.mirror(t, model.SourceTask, task.ID)
	remote, _ := f.fake.Get("cal-1", ev.ExternalID)
	if remote.Title != "Renamed" {
		t.Errorf("provider title = %q", remote.Title)
	}
}

// TestSyncConnection_ExternalEdit checks a provider-side change is pulled
// into the mirror and written back to the source entity, with the remote
// update queued.
func TestSyncConnection_ExternalEdit(t *testing.T) {
	f := setupEngine(t)
	task := f.putTask(t, "Original")
	f.sync(t)
	ev := f.mirror(t, model.SourceTask, task.ID)

	f.advance(time.Hour)
	remote, _ := f.fake.Get("cal-1", ev.ExternalID)
	remote.Title = "Renamed at provider"
	remote.StartAt = remote.StartAt.Add(2 * time.Hour)
	remote.EndAt = remote.EndAt.Add(2 * time.Hour)
	remote.UpdatedAt = f.now
	f.fake.Seed("cal-1", remote)

	f.advance(time.Hour)
	res := f.sync(t)
	if res.Pulled != 1 {
		t.Fatalf("pass = %+v", res)
	}

	src, err := f.db.GetSource(context.Background(), model.SourceTask, task.ID)
	if err != nil {
		t.Fatalf("Failed to load source: %v", err)
	}
	got := src.(*model.CareTask)
	if got.Title != "Renamed at provider" {
		t.Errorf("task title = %q", got.Title)
	}
	if got.DueAt == nil || !got.DueAt.Equal(remote.StartAt) {
		t.Errorf("task due = %v, want %v", got.DueAt, remote.StartAt)
	}

	// The write-back is queued for the remote store.
	ops, err := f.db.ListPendingOps(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 {
		t.Fatalf("got %d pending ops, want 1", len(ops))
	}
	op := ops[0]
	if op.Kind != model.OpUpdate || op.EntityType != model.EntityTask || op.EntityID != task.ID {
		t.Errorf("op = %s %s/%s", op.Kind, op.EntityType, op.EntityID)
	}

	ev = f.mirror(t, model.SourceTask, task.ID)
	if ev.Title != "Renamed at provider" || ev.Status != model.StatusSynced {
		t.Errorf("mirror = %q (%s)", ev.Title, ev.Status)
	}
}

// TestSyncConnection_ProviderClockAhead checks a provider timestamp past
// the local clock does not leave the pair re-pulling on every pass: the
// watermark covers the external update time.
func TestSyncConnection_ProviderClockAhead(t *testing.T) {
	f := setupEngine(t)
	task := f.putTask(t, "Original")
	f.sync(t)
	ev := f.mirror(t, model.SourceTask, task.ID)

	f.advance(time.Hour)
	remote, _ := f.fake.Get("cal-1", ev.ExternalID)
	remote.Title = "Renamed at provider"
	remote.UpdatedAt = f.now.Add(30 * time.Minute) // ahead of the local clock
	f.fake.Seed("cal-1", remote)

	res := f.sync(t)
	if res.Pulled != 1 {
		t.Fatalf("pass = %+v", res)
	}

	ev = f.mirror(t, model.SourceTask, task.ID)
	if ev.LastSyncedAt == nil || ev.LastSyncedAt.Before(remote.UpdatedAt) {
		t.Errorf("LastSyncedAt = %v, want at or after %v", ev.LastSyncedAt, remote.UpdatedAt)
	}

	// An idle second pass must not re-pull or queue another write-back.
	f.advance(time.Minute)
	res = f.sync(t)
	if res.Pulled != 0 || res.Pushed != 0 {
		t.Errorf("idle pass = %+v", res)
	}
	ops, err := f.db.ListPendingOps(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 {
		t.Errorf("got %d pending ops, want the single original write-back", len(ops))
	}
}

// seedConflict edits both sides of a synced pair so the next manual-mode
// pass records a conflict. Returns the mirror event id.
func seedConflict(t *testing.T, f *engineFixture) (string, *model.CareTask) {
	t.Helper()
	task := f.putTask(t, "Original")
	f.sync(t)
	ev := f.mirror(t, model.SourceTask, task.ID)

	f.advance(time.Hour)
	task.Title = "Local title"
	task.UpdatedAt = f.now
	if err := f.db.PutSource(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	remote, _ := f.fake.Get("cal-1", ev.ExternalID)
	remote.Title = "External title"
	remote.UpdatedAt = f.now.Add(time.Minute)
	f.fake.Seed("cal-1", remote)

	f.advance(time.Hour)
	res := f.sync(t)
	if res.Conflicts != 1 {
		t.Fatalf("pass = %+v", res)
	}
	return ev.ID, task
}

// TestSyncConnection_ManualConflict checks divergence under the manual
// strategy parks the pair with a sealed conflict record.
func TestSyncConnection_ManualConflict(t *testing.T) {
	f := setupEngine(t)
	eventID, _ := seedConflict(t, f)

	ev, err := f.db.GetEvent(context.Background(), eventID)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Status != model.StatusConflict {
		t.Errorf("status = %q", ev.Status)
	}
	if len(ev.ConflictPayload) == 0 {
		t.Fatal("conflict payload is empty")
	}
	if bytes.Contains(ev.ConflictPayload, []byte("Local title")) {
		t.Error("conflict payload stored in plaintext")
	}

	conflicts, err := f.engine.ListConflicts(context.Background())
	if err != nil {
		t.Fatalf("ListConflicts() failed: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("got %d conflicts, want 1", len(conflicts))
	}
	rec := conflicts[0].Record
	if rec.Local.Title != "Local title" || rec.External.Title != "External title" {
		t.Errorf("record sides = %q / %q", rec.Local.Title, rec.External.Title)
	}

	// A later pass re-detects the same divergence and refreshes the
	// record in place, not a second row.
	f.advance(time.Hour)
	res := f.sync(t)
	if res.Conflicts != 1 || res.Pushed != 0 || res.Pulled != 0 {
		t.Errorf("re-detection pass = %+v", res)
	}
	conflicts, err = f.engine.ListConflicts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 {
		t.Errorf("got %d conflicts after re-detection, want 1", len(conflicts))
	}
}

// TestListConflicts_Tampered checks a conflicted event whose stored
// fields fail checksum verification is excluded from the listing.
func TestListConflicts_Tampered(t *testing.T) {
	f := setupEngine(t)
	eventID, _ := seedConflict(t, f)
	ctx := context.Background()

	ev, err := f.db.GetEvent(ctx, eventID)
	if err != nil {
		t.Fatal(err)
	}
	ev.Title = "Tampered"
	if err := f.db.UpsertEvent(ctx, ev); err != nil {
		t.Fatal(err)
	}

	conflicts, err := f.engine.ListConflicts(ctx)
	if err != nil {
		t.Fatalf("ListConflicts() failed: %v", err)
	}
	if len(conflicts) != 0 {
		t.Errorf("got %d conflicts, want tampered event excluded", len(conflicts))
	}
}

// TestResolveConflict_KeepLocal checks the local side wins on explicit
// resolution: pushed to the provider, event back to synced.
func TestResolveConflict_KeepLocal(t *testing.T) {
	f := setupEngine(t)
	eventID, task := seedConflict(t, f)

	f.advance(time.Minute)
	if err := f.engine.ResolveConflict(context.Background(), eventID, ResolveKeepLocal); err != nil {
		t.Fatalf("ResolveConflict() failed: %v", err)
	}

	ev, _ := f.db.GetEvent(context.Background(), eventID)
	if ev.Status != model.StatusSynced {
		t.Errorf("status = %q", ev.Status)
	}
	if len(ev.ConflictPayload) != 0 {
		t.Error("conflict payload not cleared")
	}
	remote, _ := f.fake.Get("cal-1", ev.ExternalID)
	if remote.Title != "Local title" {
		t.Errorf("provider title = %q", remote.Title)
	}

	src, _ := f.db.GetSource(context.Background(), model.SourceTask, task.ID)
	if src.(*model.CareTask).Title != "Local title" {
		t.Errorf("task title = %q", src.(*model.CareTask).Title)
	}
}

// TestResolveConflict_KeepExternal checks the external side wins on
// explicit resolution: written back locally and queued for the remote
// store.
func TestResolveConflict_KeepExternal(t *testing.T) {
	f := setupEngine(t)
	eventID, task := seedConflict(t, f)

	f.advance(time.Minute)
	if err := f.engine.ResolveConflict(context.Background(), eventID, ResolveKeepExternal); err != nil {
		t.Fatalf("ResolveConflict() failed: %v", err)
	}

	ev, _ := f.db.GetEvent(context.Background(), eventID)
	if ev.Status != model.StatusSynced || ev.Title != "External title" {
		t.Errorf("mirror = %q (%s)", ev.Title, ev.Status)
	}

	src, _ := f.db.GetSource(context.Background(), model.SourceTask, task.ID)
	if src.(*model.CareTask).Title != "External title" {
		t.Errorf("task title = %q", src.(*model.CareTask).Title)
	}

	ops, _ := f.db.ListPendingOps(context.Background())
	if len(ops) != 1 || ops[0].Kind != model.OpUpdate {
		t.Errorf("pending ops = %d", len(ops))
	}
}

// TestResolveConflict_Validation covers the resolve edge cases.
func TestResolveConflict_Validation(t *testing.T) {
	f := setupEngine(t)
	eventID, _ := seedConflict(t, f)

	if err := f.engine.ResolveConflict(context.Background(), eventID, Resolution("merge")); err == nil {
		t.Error("unknown resolution should be rejected")
	}
	if err := f.engine.ResolveConflict(context.Background(), "no-such-event", ResolveKeepLocal); err == nil {
		t.Error("missing event should be rejected")
	}

	// Resolving twice fails: the event is no longer in conflict.
	if err := f.engine.ResolveConflict(context.Background(), eventID, ResolveKeepLocal); err != nil {
		t.Fatalf("ResolveConflict() failed: %v", err)
	}
	if err := f.engine.ResolveConflict(context.Background(), eventID, ResolveKeepLocal); err == nil {
		t.Error("resolving a synced event should fail")
	}
}

// TestSyncConnection_ReadOnly checks read_only connections never write to
// the provider.
func TestSyncConnection_ReadOnly(t *testing.T) {
	f := setupEngine(t)
	f.conn.Direction = model.DirectionReadOnly
	if err := f.db.UpsertConnection(context.Background(), f.conn); err != nil {
		t.Fatal(err)
	}
	task := f.putTask(t, "Local only")

	res := f.sync(t)
	if res.Pushed != 0 {
		t.Errorf("pass = %+v", res)
	}
	// One ListEvents call, no writes.
	if f.fake.Calls != 1 {
		t.Errorf("provider calls = %d, want 1", f.fake.Calls)
	}

	ev := f.mirror(t, model.SourceTask, task.ID)
	if ev.ExternalID != "" {
		t.Errorf("read_only mirror got external id %q", ev.ExternalID)
	}

	// Widening the direction pairs the mirror on the next local change.
	f.conn.Direction = model.DirectionBidirectional
	if err := f.db.UpsertConnection(context.Background(), f.conn); err != nil {
		t.Fatal(err)
	}
	f.advance(time.Hour)
	task.Title = "Local only, renamed"
	task.UpdatedAt = f.now
	if err := f.db.PutSource(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	res = f.sync(t)
	if res.Pushed != 1 {
		t.Fatalf("widened pass = %+v", res)
	}
	ev = f.mirror(t, model.SourceTask, task.ID)
	if ev.ExternalID == "" {
		t.Error("widened mirror did not pair with a provider event")
	}
	if _, ok := f.fake.Get("cal-1", ev.ExternalID); !ok {
		t.Error("provider event missing after pairing")
	}
}

// TestSyncConnection_MinimalDetails checks redaction on the wire.
func TestSyncConnection_MinimalDetails(t *testing.T) {
	f := setupEngine(t)
	f.conn.MinimalDetails = true
	if err := f.db.UpsertConnection(context.Background(), f.conn); err != nil {
		t.Fatal(err)
	}
	task := f.putTask(t, "Dialysis appointment")
	task.Notes = "sensitive details"
	if err := f.db.PutSource(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	f.sync(t)

	ev := f.mirror(t, model.SourceTask, task.ID)
	remote, _ := f.fake.Get("cal-1", ev.ExternalID)
	if remote.Title != GenericTitle || remote.Description != "" {
		t.Errorf("provider event = %q / %q", remote.Title, remote.Description)
	}
}

// TestSyncConnection_AuthError checks an auth failure parks the
// connection in the error state.
func TestSyncConnection_AuthError(t *testing.T) {
	f := setupEngine(t)
	f.putTask(t, "Anything")
	f.fake.FailWith = &provider.Error{
		Provider: model.ProviderGoogle, Op: "list", StatusCode: 401,
		Auth: true, Message: "token revoked",
	}

	_, err := f.engine.SyncConnection(context.Background(), f.conn.ID)
	if !provider.IsAuth(err) {
		t.Fatalf("SyncConnection() error = %v, want auth", err)
	}

	conn, err := f.db.GetConnection(context.Background(), f.conn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if conn.Status != model.ConnError {
		t.Errorf("status = %q, want error", conn.Status)
	}
	if conn.LastSyncError == "" {
		t.Error("last sync error not recorded")
	}

	// Parked connections are skipped until re-authenticated.
	f.fake.FailWith = nil
	before := f.fake.Calls
	res := f.sync(t)
	if !res.Skipped {
		t.Error("parked connection should be skipped")
	}
	if f.fake.Calls != before {
		t.Error("skipped connection made provider calls")
	}
}

// TestSyncConnection_IntegrityFailure checks a tampered mirror row is
// quarantined instead of synced.
func TestSyncConnection_IntegrityFailure(t *testing.T) {
	f := setupEngine(t)
	task := f.putTask(t, "Original")
	f.sync(t)

	// Tamper with the stored row without restamping.
	ev := f.mirror(t, model.SourceTask, task.ID)
	ev.Location = "altered"
	if err := f.db.UpsertEvent(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	f.advance(time.Hour)
	res := f.sync(t)
	if res.Errors != 1 {
		t.Fatalf("pass = %+v", res)
	}

	got, _ := f.db.GetEvent(context.Background(), ev.ID)
	if got.Status != model.StatusError {
		t.Errorf("status = %q, want error", got.Status)
	}

	// The quarantined row is never pushed.
	remote, _ := f.fake.Get("cal-1", ev.ExternalID)
	if remote.Location == "altered" {
		t.Error("tampered content reached the provider")
	}
}

// TestSyncConnection_SourceDeleted checks a tombstoned source retires its
// mirror and the provider copy.
func TestSyncConnection_SourceDeleted(t *testing.T) {
	f := setupEngine(t)
	task := f.putTask(t, "Doomed")
	f.sync(t)
	ev := f.mirror(t, model.SourceTask, task.ID)

	if err := f.db.MarkSourceDeleted(context.Background(), model.SourceTask, task.ID); err != nil {
		t.Fatal(err)
	}

	f.advance(time.Hour)
	res := f.sync(t)
	if res.Deleted != 1 {
		t.Fatalf("pass = %+v", res)
	}

	if _, ok := f.fake.Get("cal-1", ev.ExternalID); ok {
		t.Error("provider event not deleted")
	}
	got, _ := f.db.GetEvent(context.Background(), ev.ID)
	if got.Status != model.StatusDeleted {
		t.Errorf("mirror status = %q", got.Status)
	}
}

// TestSyncConnection_ExternalDeleted checks a provider-side deletion
// propagates to the local source on a bidirectional connection.
func TestSyncConnection_ExternalDeleted(t *testing.T) {
	f := setupEngine(t)
	task := f.putTask(t, "Cancelled externally")
	f.sync(t)
	ev := f.mirror(t, model.SourceTask, task.ID)

	f.advance(time.Hour)
	remote, _ := f.fake.Get("cal-1", ev.ExternalID)
	remote.Deleted = true
	remote.UpdatedAt = f.now
	f.fake.Seed("cal-1", remote)

	f.advance(time.Hour)
	res := f.sync(t)
	if res.Deleted != 1 {
		t.Fatalf("pass = %+v", res)
	}

	deleted, err := f.db.IsSourceDeleted(context.Background(), model.SourceTask, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Error("source not tombstoned")
	}
}

// TestSyncConnection_Unschedulable checks a source that loses its
// schedulable time retracts its mirror.
func TestSyncConnection_Unschedulable(t *testing.T) {
	f := setupEngine(t)
	task := f.putTask(t, "Had a date")
	f.sync(t)
	ev := f.mirror(t, model.SourceTask, task.ID)

	f.advance(time.Hour)
	task.DueAt = nil
	task.UpdatedAt = f.now
	if err := f.db.PutSource(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	f.advance(time.Hour)
	res := f.sync(t)
	if res.Deleted != 1 {
		t.Fatalf("pass = %+v", res)
	}
	if _, ok := f.fake.Get("cal-1", ev.ExternalID); ok {
		t.Error("provider event not removed")
	}
}

// gatedProvider blocks ListEvents until released, for overlap tests.
type gatedProvider struct {
	*provider.Fake
	entered chan struct{}
	release chan struct{}
}

func (g *gatedProvider) ListEvents(ctx context.Context, calendarID string, since time.Time) ([]provider.Event, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.Fake.ListEvents(ctx, calendarID, since)
}

// TestSyncConnection_PassInProgress checks overlapping passes for the
// same connection are rejected.
func TestSyncConnection_PassInProgress(t *testing.T) {
	f := setupEngine(t)
	f.putTask(t, "Anything")

	gated := &gatedProvider{
		Fake:    f.fake,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	registry := provider.NewRegistry()
	registry.Register(gated)
	f.engine.providers = registry

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.SyncConnection(context.Background(), f.conn.ID)
		done <- err
	}()

	<-gated.entered
	_, err := f.engine.SyncConnection(context.Background(), f.conn.ID)
	if !errors.Is(err, ErrPassInProgress) {
		t.Errorf("overlapping pass error = %v, want ErrPassInProgress", err)
	}

	close(gated.release)
	if err := <-done; err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
}

// TestSyncAll checks per-connection isolation: one failing connection
// does not stop the others.
func TestSyncAll(t *testing.T) {
	f := setupEngine(t)
	f.putTask(t, "Task for conn-1")

	broken := &model.CalendarConnection{
		ID:         "conn-2",
		UserID:     "user-1",
		CircleID:   "circle-1",
		Provider:   model.ProviderOutlook, // not registered
		Status:     model.ConnActive,
		CalendarID: "cal-2",
		Direction:  model.DirectionBidirectional,
		Strategy:   model.StrategyManual,
		Toggles:    allToggles(),
		CreatedAt:  f.now,
		UpdatedAt:  f.now,
	}
	if err := f.db.UpsertConnection(context.Background(), broken); err != nil {
		t.Fatal(err)
	}

	results := f.engine.SyncAll(context.Background())
	var synced *PassResult
	for _, r := range results {
		if r.ConnectionID == "conn-1" {
			synced = r
		}
	}
	if synced == nil || synced.Pushed != 1 {
		t.Errorf("healthy connection result = %+v", synced)
	}
}

// TestSyncConnection_RecordsBookkeeping checks the connection's last-sync
// fields after a pass.
func TestSyncConnection_RecordsBookkeeping(t *testing.T) {
	f := setupEngine(t)
	f.putTask(t, "Anything")
	f.sync(t)

	conn, err := f.db.GetConnection(context.Background(), f.conn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if conn.LastSyncAt == nil || !conn.LastSyncAt.Equal(f.now) {
		t.Errorf("last sync at = %v", conn.LastSyncAt)
	}
	if conn.LastSyncStatus != "success" {
		t.Errorf("last sync status = %q", conn.LastSyncStatus)
	}
	if conn.EventsSynced != 1 {
		t.Errorf("events synced = %d", conn.EventsSynced)
	}
}
