package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/taskbell/internal/clock"
	"github.com/edgard/taskbell/internal/database"
	"github.com/edgard/taskbell/internal/gcal"
)

// Enroller re-enrolls a task's reminder after the reconciler changes its due
// date or creates it. Implemented by the scheduler engine.
type Enroller interface {
	OnTaskCreatedOrEdited(ctx context.Context, task *database.Task) error
}

// AuthNotifier is called when a user's calendar credentials have expired and
// re-authorization is required. Implemented by the chat transport.
type AuthNotifier func(ctx context.Context, userID int64)

// Config holds reconciler tuning.
type Config struct {
	// Workers bounds concurrent per-user reconciliation passes.
	Workers int
}

// Reconciler periodically diffs local task state against each user's remote
// calendar and resolves divergence. It shares the store with the scheduler
// core; every mutation goes through the store's atomic operations and no
// lock is held across a remote call.
type Reconciler struct {
	logger   *slog.Logger
	store    database.Store
	clients  gcal.ClientFactory
	resolver *clock.Resolver
	enroller Enroller
	onAuth   AuthNotifier
	workers  int
}

// NewReconciler creates a Reconciler. enroller and onAuth may be nil when the
// caller does not need reminder re-enrollment or re-auth prompts (tests).
func NewReconciler(
	logger *slog.Logger,
	store database.Store,
	clients gcal.ClientFactory,
	resolver *clock.Resolver,
	enroller Enroller,
	onAuth AuthNotifier,
	cfg Config,
) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Reconciler{
		logger:   logger.With("component", "reconciler"),
		store:    store,
		clients:  clients,
		resolver: resolver,
		enroller: enroller,
		onAuth:   onAuth,
		workers:  workers,
	}
}

// ReconcileAll runs one reconciliation pass over every sync-enabled user.
// Failures are isolated per user: one user's broken credentials or slow
// remote API never stalls or fails the others.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	userIDs, err := r.store.ListSyncUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sync users: %w", err)
	}
	if len(userIDs) == 0 {
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, userID := range userIDs {
		g.Go(func() error {
			if err := r.ReconcileUser(gCtx, userID); err != nil {
				r.logger.ErrorContext(gCtx, "Reconciliation pass failed",
					"user_id", userID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ReconcileUser runs one reconciliation pass for a single user. This is also
// the manual "sync now" entry point.
func (r *Reconciler) ReconcileUser(ctx context.Context, userID int64) error {
	startTime := time.Now()

	client, err := r.clients.ClientFor(ctx, userID)
	if err != nil {
		if errors.Is(err, gcal.ErrUnauthorized) {
			r.notifyAuthRequired(ctx, userID)
			return err
		}
		return fmt.Errorf("failed to build calendar client for user %d: %w", userID, err)
	}

	stored, err := r.store.GetSyncCursor(ctx, userID)
	if err != nil {
		return err
	}
	cursor := gcal.Cursor{}
	lastSync := time.Time{}
	if stored != nil {
		cursor.Token = stored.Token.String
		if stored.UpdatedMin.Valid {
			cursor.UpdatedMin = stored.UpdatedMin.Time
		}
		if stored.LastSyncedAt.Valid {
			lastSync = stored.LastSyncedAt.Time
		}
	}

	page, err := client.ListDeltasSince(ctx, cursor)
	if err != nil {
		switch {
		case errors.Is(err, gcal.ErrCursorInvalid):
			// Token expired at the provider. Drop it and fall back to the
			// updated-min watermark on the next cycle.
			r.logger.WarnContext(ctx, "Sync token invalidated, resetting cursor",
				"user_id", userID)
			return r.resetCursorToken(ctx, userID, stored)
		case errors.Is(err, gcal.ErrUnauthorized):
			r.notifyAuthRequired(ctx, userID)
			return err
		default:
			// Transient: the cursor is not advanced, so this exact delta
			// window is retried on the next cycle.
			return err
		}
	}

	seen := make(map[string]struct{}, len(page.Deltas))
	for _, delta := range page.Deltas {
		seen[delta.EventID] = struct{}{}
		if err := r.applyDelta(ctx, userID, client, delta, lastSync); err != nil {
			return fmt.Errorf("failed to apply delta for event %s: %w", delta.EventID, err)
		}
	}

	if err := r.pushLocalChanges(ctx, userID, client, lastSync, seen); err != nil {
		return err
	}

	now := time.Now().UTC()
	newCursor := &database.SyncCursor{
		UserID:       userID,
		Token:        sql.NullString{String: page.NextToken, Valid: page.NextToken != ""},
		UpdatedMin:   sql.NullTime{Time: now, Valid: true},
		LastSyncedAt: sql.NullTime{Time: now, Valid: true},
	}
	if err := r.store.SaveSyncCursor(ctx, newCursor); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Reconciliation pass completed",
		"user_id", userID,
		"deltas", len(page.Deltas),
		"duration_ms", time.Since(startTime).Milliseconds())
	return nil
}

func (r *Reconciler) resetCursorToken(ctx context.Context, userID int64, stored *database.SyncCursor) error {
	reset := &database.SyncCursor{UserID: userID}
	if stored != nil {
		reset.UpdatedMin = stored.UpdatedMin
		reset.LastSyncedAt = stored.LastSyncedAt
	}
	return r.store.SaveSyncCursor(ctx, reset)
}

func (r *Reconciler) notifyAuthRequired(ctx context.Context, userID int64) {
	r.logger.WarnContext(ctx, "Calendar authorization expired, user action required",
		"user_id", userID)
	if r.onAuth != nil {
		r.onAuth(ctx, userID)
	}
}

// applyDelta joins one remote change against local state and applies the
// conflict policy. Applying the same delta twice yields the same local state
// as applying it once.
func (r *Reconciler) applyDelta(ctx context.Context, userID int64, client gcal.Client, delta gcal.Delta, lastSync time.Time) error {
	task, err := r.store.GetTaskByRemoteEventID(ctx, delta.EventID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}

	if delta.Kind == gcal.DeltaDelete {
		if task == nil {
			// Broken link: the remote event vanished before we ever linked
			// it, or the link was already cleared. Surface, don't drop.
			r.logger.DebugContext(ctx, "Remote deletion for unlinked event",
				"user_id", userID, "event_id", delta.EventID)
			return nil
		}
		// Remote deletion cancels the local task and clears the link but
		// keeps history.
		if err := r.store.CancelTask(ctx, task.ID); err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil
			}
			return err
		}
		if err := r.store.ClearTaskLink(ctx, task.ID); err != nil {
			return err
		}
		r.logger.InfoContext(ctx, "Remote event deleted, local task cancelled",
			"user_id", userID, "task_id", task.ID, "event_id", delta.EventID)
		return nil
	}

	// Recover a broken link when the event still carries our task stamp.
	if task == nil && delta.Payload.LocalTaskID != 0 {
		stamped, err := r.store.GetTask(ctx, delta.Payload.LocalTaskID)
		if err == nil && stamped.UserID == userID {
			if err := r.store.LinkTask(ctx, stamped.ID, delta.EventID); err != nil {
				return err
			}
			task = stamped
			task.RemoteEventID = sql.NullString{String: delta.EventID, Valid: true}
			r.logger.InfoContext(ctx, "Recovered broken event link",
				"user_id", userID, "task_id", task.ID, "event_id", delta.EventID)
		}
	}

	if task == nil {
		return r.createFromRemote(ctx, userID, delta)
	}

	decision := Resolve(Decide(task.ModifiedAt, lastSync), task.ModifiedAt, delta.ModifiedAt)
	switch decision {
	case RemoteWins:
		return r.applyRemote(ctx, task, delta)
	case LocalWins:
		r.logger.DebugContext(ctx, "Local edit wins, pushing state to remote",
			"user_id", userID, "task_id", task.ID, "event_id", delta.EventID)
		return client.UpdateEvent(ctx, delta.EventID, payloadFromTask(task))
	default:
		return fmt.Errorf("unresolved sync decision %v for task %d", decision, task.ID)
	}
}

// createFromRemote materializes a remote-only event as a local task and
// links it.
func (r *Reconciler) createFromRemote(ctx context.Context, userID int64, delta gcal.Delta) error {
	title := delta.Payload.Title
	if title == "" {
		title = "(untitled event)"
	}
	task := &database.Task{
		UserID:      userID,
		Title:       title,
		Description: sql.NullString{String: delta.Payload.Description, Valid: delta.Payload.Description != ""},
		Status:      database.TaskStatusOpen,
		SyncEnabled: true,
		ModifiedAt:  delta.ModifiedAt,
	}
	if !delta.Payload.StartAt.IsZero() {
		task.DueAt = sql.NullTime{Time: r.dueFromPayload(ctx, userID, delta.Payload), Valid: true}
	}
	if err := r.store.CreateTask(ctx, task); err != nil {
		return err
	}
	if err := r.store.LinkTask(ctx, task.ID, delta.EventID); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "Created local task from remote event",
		"user_id", userID, "task_id", task.ID, "event_id", delta.EventID)
	return r.enroll(ctx, task)
}

// applyRemote overwrites local fields with the remote payload.
func (r *Reconciler) applyRemote(ctx context.Context, task *database.Task, delta gcal.Delta) error {
	changed := false
	if delta.Payload.Title != "" && delta.Payload.Title != task.Title {
		task.Title = delta.Payload.Title
		changed = true
	}
	if delta.Payload.Description != task.Description.String {
		task.Description = sql.NullString{String: delta.Payload.Description, Valid: delta.Payload.Description != ""}
		changed = true
	}
	if !delta.Payload.StartAt.IsZero() {
		due := r.dueFromPayload(ctx, task.UserID, delta.Payload)
		if !task.DueAt.Valid || !task.DueAt.Time.Equal(due) {
			task.DueAt = sql.NullTime{Time: due, Valid: true}
			changed = true
		}
	}
	if !changed {
		return nil
	}

	task.ModifiedAt = delta.ModifiedAt
	if err := r.store.UpdateTask(ctx, task); err != nil {
		return err
	}
	r.logger.InfoContext(ctx, "Applied remote changes to local task",
		"user_id", task.UserID, "task_id", task.ID)
	return r.enroll(ctx, task)
}

// pushLocalChanges pushes local state the delta listing did not cover:
// create events for unlinked open tasks, remove events for tasks finished or
// cancelled locally, and update events for linked tasks edited locally since
// the last successful pass.
func (r *Reconciler) pushLocalChanges(ctx context.Context, userID int64, client gcal.Client, lastSync time.Time, seen map[string]struct{}) error {
	tasks, err := r.store.ListSyncTasks(ctx, userID)
	if err != nil {
		return err
	}
	for i := range tasks {
		task := &tasks[i]
		if task.RemoteEventID.Valid {
			if _, ok := seen[task.RemoteEventID.String]; ok {
				// Already reconciled through its delta in this pass.
				continue
			}
		}
		switch {
		case !task.RemoteEventID.Valid:
			if task.Status != database.TaskStatusOpen {
				continue
			}
			eventID, err := client.CreateEvent(ctx, payloadFromTask(task))
			if err != nil {
				return fmt.Errorf("failed to push task %d: %w", task.ID, err)
			}
			if err := r.store.LinkTask(ctx, task.ID, eventID); err != nil {
				return err
			}
			r.logger.InfoContext(ctx, "Pushed local task to remote calendar",
				"user_id", userID, "task_id", task.ID, "event_id", eventID)
		case task.Status != database.TaskStatusOpen:
			err := client.DeleteEvent(ctx, task.RemoteEventID.String)
			if err != nil && !errors.Is(err, gcal.ErrNotFound) {
				return fmt.Errorf("failed to delete event for task %d: %w", task.ID, err)
			}
			if err := r.store.ClearTaskLink(ctx, task.ID); err != nil {
				return err
			}
			r.logger.InfoContext(ctx, "Removed remote event for closed task",
				"user_id", userID, "task_id", task.ID)
		case task.ModifiedAt.After(lastSync):
			if err := client.UpdateEvent(ctx, task.RemoteEventID.String, payloadFromTask(task)); err != nil {
				return fmt.Errorf("failed to push edits for task %d: %w", task.ID, err)
			}
			r.logger.InfoContext(ctx, "Pushed local edits to remote event",
				"user_id", userID, "task_id", task.ID, "event_id", task.RemoteEventID.String)
		}
	}
	return nil
}

// dueFromPayload converts a remote start into the local due instant. All-day
// events land at midnight in the user's timezone; timed starts pass through
// unchanged.
func (r *Reconciler) dueFromPayload(ctx context.Context, userID int64, payload gcal.EventPayload) time.Time {
	if !payload.AllDay {
		return payload.StartAt
	}
	start := payload.StartAt
	profile, err := r.store.GetUserProfile(ctx, userID)
	if err != nil {
		return start
	}
	loc, fellBack := r.resolver.LocationOrDefault(profile.Timezone)
	if fellBack {
		// Unknown timezone on the profile: keep scheduling in the default
		// location and ask the user to re-confirm.
		if err := r.store.FlagTimezoneUnconfirmed(ctx, userID); err != nil {
			r.logger.WarnContext(ctx, "Failed to flag unconfirmed timezone",
				"user_id", userID, "error", err)
		}
	}
	return time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
}

func (r *Reconciler) enroll(ctx context.Context, task *database.Task) error {
	if r.enroller == nil {
		return nil
	}
	return r.enroller.OnTaskCreatedOrEdited(ctx, task)
}

func payloadFromTask(task *database.Task) gcal.EventPayload {
	payload := gcal.EventPayload{
		Title:       task.Title,
		Description: task.Description.String,
		LocalTaskID: task.ID,
	}
	if task.DueAt.Valid {
		payload.StartAt = task.DueAt.Time
	}
	return payload
}
