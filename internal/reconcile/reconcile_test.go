// Package reconcile_test tests conflict resolution and the reconciliation
// pass against an in-memory database and a fake calendar client.
package reconcile_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/edgard/taskbell/internal/clock"
	"github.com/edgard/taskbell/internal/database"
	"github.com/edgard/taskbell/internal/gcal"
	"github.com/edgard/taskbell/internal/reconcile"
)

func TestDecide(t *testing.T) {
	t.Parallel()

	lastSync := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		localModified time.Time
		want          reconcile.Decision
	}{
		{
			name:          "local untouched since last sync",
			localModified: lastSync.Add(-time.Hour),
			want:          reconcile.RemoteWins,
		},
		{
			name:          "local modified exactly at last sync",
			localModified: lastSync,
			want:          reconcile.RemoteWins,
		},
		{
			name:          "local modified after last sync",
			localModified: lastSync.Add(time.Minute),
			want:          reconcile.Conflict,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := reconcile.Decide(tc.localModified, lastSync); got != tc.want {
				t.Errorf("Decide = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		decision reconcile.Decision
		local    time.Time
		remote   time.Time
		want     reconcile.Decision
	}{
		{
			name:     "non-conflict passes through",
			decision: reconcile.RemoteWins,
			local:    base.Add(time.Hour),
			remote:   base,
			want:     reconcile.RemoteWins,
		},
		{
			name:     "local newer wins",
			decision: reconcile.Conflict,
			local:    base.Add(time.Hour),
			remote:   base,
			want:     reconcile.LocalWins,
		},
		{
			name:     "remote newer wins",
			decision: reconcile.Conflict,
			local:    base,
			remote:   base.Add(time.Hour),
			want:     reconcile.RemoteWins,
		},
		{
			name:     "equal timestamps break to remote",
			decision: reconcile.Conflict,
			local:    base,
			remote:   base,
			want:     reconcile.RemoteWins,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := reconcile.Resolve(tc.decision, tc.local, tc.remote); got != tc.want {
				t.Errorf("Resolve = %v, want %v", got, tc.want)
			}
		})
	}
}

// fakeClient scripts delta listings and records pushed mutations.
type fakeClient struct {
	mu       sync.Mutex
	page     gcal.DeltaPage
	listErr  error
	created  []gcal.EventPayload
	updated  map[string]gcal.EventPayload
	deleted  []string
	nextID   int
	lastSeen gcal.Cursor
}

func newFakeClient() *fakeClient {
	return &fakeClient{updated: make(map[string]gcal.EventPayload)}
}

func (c *fakeClient) ListDeltasSince(_ context.Context, cursor gcal.Cursor) (gcal.DeltaPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = cursor
	if c.listErr != nil {
		return gcal.DeltaPage{}, c.listErr
	}
	return c.page, nil
}

func (c *fakeClient) CreateEvent(_ context.Context, payload gcal.EventPayload) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, payload)
	c.nextID++
	return fmt.Sprintf("evt_%d", c.nextID), nil
}

func (c *fakeClient) UpdateEvent(_ context.Context, eventID string, payload gcal.EventPayload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updated[eventID] = payload
	return nil
}

func (c *fakeClient) DeleteEvent(_ context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, eventID)
	return nil
}

// fakeFactory returns the same client for every user.
type fakeFactory struct {
	client *fakeClient
	err    error
}

func (f *fakeFactory) ClientFor(_ context.Context, _ int64) (gcal.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()
	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })
	return database.NewStore(db, nil)
}

func seedSyncUser(t *testing.T, ctx context.Context, store database.Store, userID int64) {
	t.Helper()
	err := store.SaveUserProfile(ctx, &database.UserProfile{
		UserID:               userID,
		ChatID:               userID * 10,
		Timezone:             "UTC",
		TZConfirmed:          true,
		NotificationsEnabled: true,
		SyncEnabled:          true,
	})
	if err != nil {
		t.Fatalf("failed to seed profile: %v", err)
	}
}

func newReconciler(store database.Store, factory gcal.ClientFactory) *reconcile.Reconciler {
	return reconcile.NewReconciler(nil, store, factory, clock.NewResolver("UTC"), nil, nil,
		reconcile.Config{Workers: 2})
}

func TestReconcileCreatesTaskFromRemote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	client := newFakeClient()
	start := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	client.page = gcal.DeltaPage{
		Deltas: []gcal.Delta{{
			EventID:    "evt_remote",
			Kind:       gcal.DeltaUpsert,
			Payload:    gcal.EventPayload{Title: "dentist", StartAt: start},
			ModifiedAt: time.Now().UTC(),
		}},
		NextToken: "tok_next",
	}
	seedSyncUser(t, ctx, store, 7)

	r := newReconciler(store, &fakeFactory{client: client})
	if err := r.ReconcileUser(ctx, 7); err != nil {
		t.Fatalf("ReconcileUser failed: %v", err)
	}

	task, err := store.GetTaskByRemoteEventID(ctx, "evt_remote")
	if err != nil {
		t.Fatalf("expected task linked to remote event: %v", err)
	}
	if task.Title != "dentist" || !task.SyncEnabled {
		t.Errorf("got %+v", task)
	}
	if !task.DueAt.Valid || !task.DueAt.Time.Equal(start) {
		t.Errorf("due at = %+v, want %v", task.DueAt, start)
	}

	// The cursor advanced to the provider's next token.
	cursor, err := store.GetSyncCursor(ctx, 7)
	if err != nil || cursor == nil {
		t.Fatalf("expected saved cursor, err=%v", err)
	}
	if cursor.Token.String != "tok_next" {
		t.Errorf("token = %q, want tok_next", cursor.Token.String)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	client := newFakeClient()
	client.page = gcal.DeltaPage{
		Deltas: []gcal.Delta{{
			EventID:    "evt_remote",
			Kind:       gcal.DeltaUpsert,
			Payload:    gcal.EventPayload{Title: "dentist", StartAt: time.Now().Add(48 * time.Hour).UTC()},
			ModifiedAt: time.Now().UTC(),
		}},
	}
	seedSyncUser(t, ctx, store, 7)

	r := newReconciler(store, &fakeFactory{client: client})
	if err := r.ReconcileUser(ctx, 7); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if err := r.ReconcileUser(ctx, 7); err != nil {
		t.Fatalf("second pass failed: %v", err)
	}

	// Applying the same delta twice creates one task, not two.
	tasks, err := store.ListSyncTasks(ctx, 7)
	if err != nil {
		t.Fatalf("ListSyncTasks failed: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("expected 1 task after duplicate delta, got %d", len(tasks))
	}
}

func TestReconcileRemoteDeleteCancelsTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	seedSyncUser(t, ctx, store, 7)

	task := &database.Task{
		UserID:      7,
		Title:       "dentist",
		Status:      database.TaskStatusOpen,
		SyncEnabled: true,
		ModifiedAt:  time.Now().Add(-time.Hour).UTC(),
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := store.LinkTask(ctx, task.ID, "evt_gone"); err != nil {
		t.Fatalf("LinkTask failed: %v", err)
	}

	client := newFakeClient()
	client.page = gcal.DeltaPage{
		Deltas: []gcal.Delta{{EventID: "evt_gone", Kind: gcal.DeltaDelete, ModifiedAt: time.Now().UTC()}},
	}
	r := newReconciler(store, &fakeFactory{client: client})
	if err := r.ReconcileUser(ctx, 7); err != nil {
		t.Fatalf("ReconcileUser failed: %v", err)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	// Cancelled, not deleted: history survives, the dead link does not.
	if got.Status != database.TaskStatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
	if got.RemoteEventID.Valid {
		t.Errorf("remote event id = %+v, want the link cleared", got.RemoteEventID)
	}
}

func TestReconcileLocalWinsPushesToRemote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	seedSyncUser(t, ctx, store, 7)

	lastSync := time.Now().Add(-time.Hour).UTC()
	if err := store.SaveSyncCursor(ctx, &database.SyncCursor{
		UserID:       7,
		LastSyncedAt: sql.NullTime{Time: lastSync, Valid: true},
	}); err != nil {
		t.Fatalf("SaveSyncCursor failed: %v", err)
	}

	// Local edit after last sync, newer than the remote change.
	task := &database.Task{
		UserID:      7,
		Title:       "dentist at three",
		Status:      database.TaskStatusOpen,
		SyncEnabled: true,
		DueAt:       sql.NullTime{Time: time.Now().Add(24 * time.Hour).UTC(), Valid: true},
		ModifiedAt:  time.Now().UTC(),
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := store.LinkTask(ctx, task.ID, "evt_1"); err != nil {
		t.Fatalf("LinkTask failed: %v", err)
	}

	client := newFakeClient()
	client.page = gcal.DeltaPage{
		Deltas: []gcal.Delta{{
			EventID:    "evt_1",
			Kind:       gcal.DeltaUpsert,
			Payload:    gcal.EventPayload{Title: "dentist at two"},
			ModifiedAt: time.Now().Add(-30 * time.Minute).UTC(),
		}},
	}
	r := newReconciler(store, &fakeFactory{client: client})
	if err := r.ReconcileUser(ctx, 7); err != nil {
		t.Fatalf("ReconcileUser failed: %v", err)
	}

	// The remote change lost; local state was pushed back.
	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Title != "dentist at three" {
		t.Errorf("title = %q, local edit should have survived", got.Title)
	}
	client.mu.Lock()
	pushed, ok := client.updated["evt_1"]
	client.mu.Unlock()
	if !ok || pushed.Title != "dentist at three" {
		t.Errorf("pushed = %+v, want local title on the remote event", pushed)
	}
}

func TestReconcileRemoteWinsAppliesRemote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	seedSyncUser(t, ctx, store, 7)

	lastSync := time.Now().Add(-time.Hour).UTC()
	if err := store.SaveSyncCursor(ctx, &database.SyncCursor{
		UserID:       7,
		LastSyncedAt: sql.NullTime{Time: lastSync, Valid: true},
	}); err != nil {
		t.Fatalf("SaveSyncCursor failed: %v", err)
	}

	// Local task untouched since last sync.
	task := &database.Task{
		UserID:      7,
		Title:       "dentist",
		Status:      database.TaskStatusOpen,
		SyncEnabled: true,
		ModifiedAt:  lastSync.Add(-time.Minute),
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := store.LinkTask(ctx, task.ID, "evt_1"); err != nil {
		t.Fatalf("LinkTask failed: %v", err)
	}

	client := newFakeClient()
	client.page = gcal.DeltaPage{
		Deltas: []gcal.Delta{{
			EventID:    "evt_1",
			Kind:       gcal.DeltaUpsert,
			Payload:    gcal.EventPayload{Title: "dentist rescheduled"},
			ModifiedAt: time.Now().UTC(),
		}},
	}
	r := newReconciler(store, &fakeFactory{client: client})
	if err := r.ReconcileUser(ctx, 7); err != nil {
		t.Fatalf("ReconcileUser failed: %v", err)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Title != "dentist rescheduled" {
		t.Errorf("title = %q, want the remote change applied", got.Title)
	}
}

func TestReconcilePushesLocalOnlyTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	seedSyncUser(t, ctx, store, 7)

	task := &database.Task{
		UserID:      7,
		Title:       "buy a gift",
		Status:      database.TaskStatusOpen,
		SyncEnabled: true,
		DueAt:       sql.NullTime{Time: time.Now().Add(24 * time.Hour).UTC(), Valid: true},
		ModifiedAt:  time.Now().UTC(),
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	client := newFakeClient()
	r := newReconciler(store, &fakeFactory{client: client})
	if err := r.ReconcileUser(ctx, 7); err != nil {
		t.Fatalf("ReconcileUser failed: %v", err)
	}

	client.mu.Lock()
	created := len(client.created)
	var stamp int64
	if created > 0 {
		stamp = client.created[0].LocalTaskID
	}
	client.mu.Unlock()
	if created != 1 {
		t.Fatalf("expected 1 pushed event, got %d", created)
	}
	// The event carries the local task stamp for link recovery.
	if stamp != task.ID {
		t.Errorf("pushed LocalTaskID = %d, want %d", stamp, task.ID)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if !got.RemoteEventID.Valid {
		t.Error("expected the task to be linked after push")
	}
}

func TestReconcilePushesLocalEditsOnLinkedTasks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	seedSyncUser(t, ctx, store, 7)

	lastSync := time.Now().Add(-time.Hour).UTC()
	if err := store.SaveSyncCursor(ctx, &database.SyncCursor{
		UserID:       7,
		LastSyncedAt: sql.NullTime{Time: lastSync, Valid: true},
	}); err != nil {
		t.Fatalf("SaveSyncCursor failed: %v", err)
	}

	// A linked task edited locally after the last pass. The remote emits no
	// delta for it, so only the push stage can carry the edit across.
	task := &database.Task{
		UserID:      7,
		Title:       "dentist moved to friday",
		Status:      database.TaskStatusOpen,
		SyncEnabled: true,
		DueAt:       sql.NullTime{Time: time.Now().Add(72 * time.Hour).UTC(), Valid: true},
		ModifiedAt:  time.Now().UTC(),
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := store.LinkTask(ctx, task.ID, "evt_1"); err != nil {
		t.Fatalf("LinkTask failed: %v", err)
	}

	client := newFakeClient()
	r := newReconciler(store, &fakeFactory{client: client})
	if err := r.ReconcileUser(ctx, 7); err != nil {
		t.Fatalf("ReconcileUser failed: %v", err)
	}

	client.mu.Lock()
	pushed, ok := client.updated["evt_1"]
	client.mu.Unlock()
	if !ok || pushed.Title != "dentist moved to friday" {
		t.Errorf("pushed = %+v, want the local edit on the remote event", pushed)
	}
}

func TestReconcileUntouchedLinkedTaskIsNotPushed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	seedSyncUser(t, ctx, store, 7)

	lastSync := time.Now().Add(-time.Hour).UTC()
	if err := store.SaveSyncCursor(ctx, &database.SyncCursor{
		UserID:       7,
		LastSyncedAt: sql.NullTime{Time: lastSync, Valid: true},
	}); err != nil {
		t.Fatalf("SaveSyncCursor failed: %v", err)
	}

	task := &database.Task{
		UserID:      7,
		Title:       "dentist",
		Status:      database.TaskStatusOpen,
		SyncEnabled: true,
		ModifiedAt:  lastSync.Add(-time.Minute),
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := store.LinkTask(ctx, task.ID, "evt_1"); err != nil {
		t.Fatalf("LinkTask failed: %v", err)
	}

	client := newFakeClient()
	r := newReconciler(store, &fakeFactory{client: client})
	if err := r.ReconcileUser(ctx, 7); err != nil {
		t.Fatalf("ReconcileUser failed: %v", err)
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.updated) != 0 || len(client.created) != 0 {
		t.Errorf("updated=%v created=%v, want no pushes for an untouched task",
			client.updated, client.created)
	}
}

func TestReconcileDeletesEventForClosedTask(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	seedSyncUser(t, ctx, store, 7)

	task := &database.Task{
		UserID:      7,
		Title:       "dentist",
		Status:      database.TaskStatusOpen,
		SyncEnabled: true,
		ModifiedAt:  time.Now().Add(-time.Hour).UTC(),
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := store.LinkTask(ctx, task.ID, "evt_1"); err != nil {
		t.Fatalf("LinkTask failed: %v", err)
	}
	if err := store.CancelTask(ctx, task.ID); err != nil {
		t.Fatalf("CancelTask failed: %v", err)
	}

	client := newFakeClient()
	r := newReconciler(store, &fakeFactory{client: client})
	if err := r.ReconcileUser(ctx, 7); err != nil {
		t.Fatalf("ReconcileUser failed: %v", err)
	}

	client.mu.Lock()
	deleted := append([]string(nil), client.deleted...)
	client.mu.Unlock()
	if len(deleted) != 1 || deleted[0] != "evt_1" {
		t.Fatalf("deleted = %v, want [evt_1]", deleted)
	}

	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.RemoteEventID.Valid {
		t.Errorf("remote event id = %+v, want the link cleared after deletion", got.RemoteEventID)
	}
}

func TestReconcileKeepsMidnightUTCTimedStart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	// The user lives far from UTC; a timed event that genuinely starts at
	// midnight UTC must not be reinterpreted as a local all-day event.
	if err := store.SaveUserProfile(ctx, &database.UserProfile{
		UserID:               7,
		ChatID:               70,
		Timezone:             "America/New_York",
		TZConfirmed:          true,
		NotificationsEnabled: true,
		SyncEnabled:          true,
	}); err != nil {
		t.Fatalf("SaveUserProfile failed: %v", err)
	}

	midnight := time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC)
	client := newFakeClient()
	client.page = gcal.DeltaPage{
		Deltas: []gcal.Delta{{
			EventID:    "evt_timed",
			Kind:       gcal.DeltaUpsert,
			Payload:    gcal.EventPayload{Title: "red-eye check-in", StartAt: midnight},
			ModifiedAt: time.Now().UTC(),
		}},
	}

	r := newReconciler(store, &fakeFactory{client: client})
	if err := r.ReconcileUser(ctx, 7); err != nil {
		t.Fatalf("ReconcileUser failed: %v", err)
	}

	task, err := store.GetTaskByRemoteEventID(ctx, "evt_timed")
	if err != nil {
		t.Fatalf("expected linked task: %v", err)
	}
	if !task.DueAt.Valid || !task.DueAt.Time.Equal(midnight) {
		t.Errorf("due at = %+v, want exactly %v", task.DueAt, midnight)
	}
}

func TestReconcileAllDayEventLandsInUserZone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.SaveUserProfile(ctx, &database.UserProfile{
		UserID:               7,
		ChatID:               70,
		Timezone:             "America/New_York",
		TZConfirmed:          true,
		NotificationsEnabled: true,
		SyncEnabled:          true,
	}); err != nil {
		t.Fatalf("SaveUserProfile failed: %v", err)
	}

	client := newFakeClient()
	client.page = gcal.DeltaPage{
		Deltas: []gcal.Delta{{
			EventID: "evt_allday",
			Kind:    gcal.DeltaUpsert,
			Payload: gcal.EventPayload{
				Title:   "anniversary",
				StartAt: time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC),
				AllDay:  true,
			},
			ModifiedAt: time.Now().UTC(),
		}},
	}

	r := newReconciler(store, &fakeFactory{client: client})
	if err := r.ReconcileUser(ctx, 7); err != nil {
		t.Fatalf("ReconcileUser failed: %v", err)
	}

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	task, err := store.GetTaskByRemoteEventID(ctx, "evt_allday")
	if err != nil {
		t.Fatalf("expected linked task: %v", err)
	}
	want := time.Date(2026, 9, 2, 0, 0, 0, 0, ny)
	if !task.DueAt.Valid || !task.DueAt.Time.Equal(want) {
		t.Errorf("due at = %+v, want %v", task.DueAt, want)
	}
}

func TestReconcileTransientErrorKeepsCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	seedSyncUser(t, ctx, store, 7)

	if err := store.SaveSyncCursor(ctx, &database.SyncCursor{
		UserID: 7,
		Token:  sql.NullString{String: "tok_keep", Valid: true},
	}); err != nil {
		t.Fatalf("SaveSyncCursor failed: %v", err)
	}

	client := newFakeClient()
	client.listErr = fmt.Errorf("calendar list: %w", gcal.ErrTransient)
	r := newReconciler(store, &fakeFactory{client: client})

	if err := r.ReconcileUser(ctx, 7); !errors.Is(err, gcal.ErrTransient) {
		t.Fatalf("expected transient error to propagate, got %v", err)
	}

	// The cursor is untouched, so the same delta window is retried.
	cursor, err := store.GetSyncCursor(ctx, 7)
	if err != nil || cursor == nil {
		t.Fatalf("GetSyncCursor failed: %v", err)
	}
	if cursor.Token.String != "tok_keep" {
		t.Errorf("token = %q, want tok_keep", cursor.Token.String)
	}
}

func TestReconcileInvalidCursorResetsToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	seedSyncUser(t, ctx, store, 7)

	watermark := time.Now().Add(-24 * time.Hour).UTC()
	if err := store.SaveSyncCursor(ctx, &database.SyncCursor{
		UserID:     7,
		Token:      sql.NullString{String: "tok_stale", Valid: true},
		UpdatedMin: sql.NullTime{Time: watermark, Valid: true},
	}); err != nil {
		t.Fatalf("SaveSyncCursor failed: %v", err)
	}

	client := newFakeClient()
	client.listErr = fmt.Errorf("calendar list: %w", gcal.ErrCursorInvalid)
	r := newReconciler(store, &fakeFactory{client: client})

	if err := r.ReconcileUser(ctx, 7); err != nil {
		t.Fatalf("ReconcileUser failed: %v", err)
	}

	client.mu.Lock()
	seen := client.lastSeen
	client.mu.Unlock()
	if seen.Token != "tok_stale" {
		t.Errorf("list called with token %q, want %q", seen.Token, "tok_stale")
	}

	// The stale token is dropped but the updated-min watermark survives, so
	// the next pass can list from it instead of the full horizon.
	cursor, err := store.GetSyncCursor(ctx, 7)
	if err != nil || cursor == nil {
		t.Fatalf("GetSyncCursor failed: %v", err)
	}
	if cursor.Token.Valid && cursor.Token.String != "" {
		t.Errorf("token = %q, want cleared", cursor.Token.String)
	}
	if !cursor.UpdatedMin.Valid || !cursor.UpdatedMin.Time.Equal(watermark) {
		t.Errorf("updated min = %+v, want %v preserved", cursor.UpdatedMin, watermark)
	}
}

func TestReconcileUnauthorizedNotifies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)
	seedSyncUser(t, ctx, store, 7)

	var notified []int64
	var mu sync.Mutex
	onAuth := func(_ context.Context, userID int64) {
		mu.Lock()
		notified = append(notified, userID)
		mu.Unlock()
	}

	factory := &fakeFactory{err: fmt.Errorf("token: %w", gcal.ErrUnauthorized)}
	r := reconcile.NewReconciler(nil, store, factory, clock.NewResolver("UTC"), nil, onAuth,
		reconcile.Config{Workers: 2})

	if err := r.ReconcileUser(ctx, 7); !errors.Is(err, gcal.ErrUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 || notified[0] != 7 {
		t.Errorf("notified = %v, want [7]", notified)
	}
}
