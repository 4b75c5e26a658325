package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/edgard/taskbell/internal/database"
)

// dispatch makes one delivery attempt for a due reminder. Transient failures
// defer the next attempt on the entry itself, so the worker returns
// immediately and the loop re-picks the entry after the backoff. Failures
// are contained here: nothing escapes to the scheduling loop.
func (e *Engine) dispatch(ctx context.Context, entry database.ReminderEntry) {
	log := e.logger.With("entry_id", entry.ID, "task_id", entry.TaskID)

	task, err := e.store.GetTask(ctx, entry.TaskID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// Orphaned entry; retire it rather than firing forever.
			log.Warn("Reminder entry references missing task, superseding")
			e.retire(ctx, entry.ID, log)
			return
		}
		log.Error("Failed to load task for reminder", "error", err)
		return
	}

	if task.Status != database.TaskStatusOpen {
		// The task was completed or cancelled after this entry was queued.
		if err := e.store.SupersedePendingForTask(ctx, task.ID); err != nil {
			log.Error("Failed to supersede stale reminder", "error", err)
		}
		return
	}

	profile, err := e.store.GetUserProfile(ctx, task.UserID)
	if err != nil {
		log.Error("Failed to load profile for reminder", "user_id", task.UserID, "error", err)
		return
	}
	if !profile.NotificationsEnabled {
		// Previously flagged permanent failure or user opt-out: skip and
		// flag, never retry.
		log.Info("Notifications disabled for user, skipping reminder", "user_id", task.UserID)
		if err := e.store.MarkSkipped(ctx, entry.ID); err != nil && !errors.Is(err, database.ErrEntryNotPending) {
			log.Error("Failed to mark reminder skipped", "error", err)
		}
		return
	}

	msg := Message{
		TaskID:   task.ID,
		EntryID:  entry.ID,
		Title:    task.Title,
		Priority: task.Priority,
		DueAt:    entry.FireAt,
	}

	if err := e.gateway.Deliver(ctx, task.UserID, msg); err != nil {
		e.handleDeliveryFailure(ctx, task, entry, err, log)
		return
	}
	e.complete(ctx, task, entry, log)
}

// handleDeliveryFailure records one failed delivery attempt and decides what
// happens next: disable notifications on a permanent failure, skip after the
// retry ceiling, otherwise defer the entry by the backoff interval.
func (e *Engine) handleDeliveryFailure(ctx context.Context, task *database.Task, entry database.ReminderEntry, deliverErr error, log *slog.Logger) {
	if errors.Is(deliverErr, ErrDeliveryPermanent) {
		log.Warn("Permanent delivery failure, disabling notifications for user",
			"user_id", task.UserID, "error", deliverErr)
		if err := e.store.SetNotificationsEnabled(ctx, task.UserID, false); err != nil {
			log.Error("Failed to disable notifications", "error", err)
		}
		if err := e.store.MarkSkipped(ctx, entry.ID); err != nil && !errors.Is(err, database.ErrEntryNotPending) {
			log.Error("Failed to mark reminder skipped", "error", err)
		}
		return
	}

	attempts, err := e.store.IncrementAttempts(ctx, entry.ID)
	if err != nil {
		log.Error("Failed to record delivery attempt", "error", err)
		attempts = e.cfg.MaxAttempts
	}
	if attempts >= e.cfg.MaxAttempts {
		// Retry ceiling reached. The entry is skipped, not dropped: it
		// surfaces as a missed reminder on the user's next interaction.
		log.Error("Delivery retry ceiling reached, marking reminder missed",
			"attempts", attempts, "error", deliverErr)
		if err := e.store.MarkSkipped(ctx, entry.ID); err != nil && !errors.Is(err, database.ErrEntryNotPending) {
			log.Error("Failed to mark reminder skipped", "error", err)
		}
		return
	}

	wait := e.backoff(attempts)
	log.Warn("Delivery failed, deferring retry",
		"attempt", attempts, "retry_in", wait, "error", deliverErr)
	if err := e.store.DeferAttempt(ctx, entry.ID, time.Now().Add(wait)); err != nil && !errors.Is(err, database.ErrEntryNotPending) {
		log.Error("Failed to defer delivery retry", "error", err)
	}
}

// complete marks the entry fired, publishes the event, and enrolls the next
// occurrence for recurring tasks.
func (e *Engine) complete(ctx context.Context, task *database.Task, entry database.ReminderEntry, log *slog.Logger) {
	if err := e.store.MarkFired(ctx, entry.ID); err != nil {
		if errors.Is(err, database.ErrEntryNotPending) {
			// A concurrent edit superseded this entry mid-delivery and
			// already scheduled its replacement; do not enroll on top.
			log.Warn("Reminder superseded during delivery, not re-enrolling")
			return
		}
		log.Error("Failed to mark reminder fired", "error", err)
		return
	}

	select {
	case e.events <- FiredEvent{
		EntryID:     entry.ID,
		TaskID:      task.ID,
		UserID:      task.UserID,
		FireAt:      entry.FireAt,
		DeliveredAt: time.Now().UTC(),
	}:
	default:
	}

	// Re-enroll strictly after the fired instant, preserving per-task
	// monotonic order and restart safety.
	next, ok, err := e.nextOccurrence(ctx, task, entry.FireAt)
	if err != nil {
		log.Error("Failed to compute next occurrence", "error", err)
		return
	}
	if !ok {
		return
	}
	if _, err := e.store.UpsertPending(ctx, task.ID, next); err != nil {
		log.Error("Failed to schedule next occurrence", "error", err)
		return
	}
	e.Notify()
}

func (e *Engine) retire(ctx context.Context, entryID string, log *slog.Logger) {
	if err := e.store.MarkSkipped(ctx, entryID); err != nil && !errors.Is(err, database.ErrEntryNotPending) {
		log.Error("Failed to retire reminder entry", "error", err)
	}
}

// backoff computes the wait before retry attempt n+1: exponential from the
// configured base, capped, with half-interval jitter to avoid thundering
// herds after an outage.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.cfg.BackoffBase << (attempt - 1)
	if d > e.cfg.BackoffMax || d <= 0 {
		d = e.cfg.BackoffMax
	}
	half := d / 2
	return half + rand.N(half+1)
}
