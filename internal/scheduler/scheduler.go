// Package scheduler implements the reminder scheduling core: a single
// time-ordered loop that wakes at the next due instant, dispatches firing
// reminders through the delivery gateway, and re-enrolls recurring tasks.
//
// The reminder ledger (database.Store) is the sole source of scheduling
// truth; the loop holds no in-memory queue that could diverge from it across
// restarts. Engine state is constructed at startup and passed by reference,
// never kept in package globals.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/taskbell/internal/clock"
	"github.com/edgard/taskbell/internal/database"
	"github.com/edgard/taskbell/internal/recurrence"
)

// ErrDeliveryPermanent is returned by a Gateway when delivery can never
// succeed for this user (e.g. the user blocked the bot). The engine stops
// retrying and disables the user's future notifications.
var ErrDeliveryPermanent = errors.New("permanent delivery failure")

// Message is the notification handed to the delivery gateway. Rendering is
// the transport's concern.
type Message struct {
	TaskID   int64
	EntryID  string
	Title    string
	Priority string
	DueAt    time.Time
}

// Gateway is the abstract notification sink. The chat transport implements
// it. Transient failures are ordinary errors; permanent ones wrap
// ErrDeliveryPermanent.
type Gateway interface {
	Deliver(ctx context.Context, userID int64, msg Message) error
}

// FiredEvent is published on the engine's event stream after a reminder is
// delivered, for the chat transport to render follow-ups.
type FiredEvent struct {
	EntryID     string
	TaskID      int64
	UserID      int64
	FireAt      time.Time
	DeliveredAt time.Time
}

// Config holds scheduler tuning. All values are configuration with
// documented defaults rather than hard-coded constants.
type Config struct {
	// Workers bounds concurrent reminder dispatches so one slow delivery
	// cannot stall detection of other due reminders.
	Workers int
	// MaxAttempts is the delivery retry ceiling per reminder.
	MaxAttempts int
	// BackoffBase and BackoffMax bound the exponential delivery backoff.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// IdleRecheck caps how long the loop sleeps when the ledger is empty.
	IdleRecheck time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 2 * time.Minute
	}
	if c.IdleRecheck <= 0 {
		c.IdleRecheck = time.Minute
	}
}

// Engine is the scheduler core.
type Engine struct {
	logger   *slog.Logger
	store    database.Store
	gateway  Gateway
	resolver *clock.Resolver
	cfg      Config

	// wake is signalled when an earlier-due entry may have been inserted,
	// cancelling the current timed wait. Buffered so Notify never blocks.
	wake   chan struct{}
	events chan FiredEvent

	// inflight tracks entries handed to the worker pool, so the loop skips
	// them on its next pass instead of dispatching them twice.
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewEngine creates the scheduler engine.
func NewEngine(logger *slog.Logger, store database.Store, gateway Gateway, resolver *clock.Resolver, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Engine{
		logger:   logger.With("component", "scheduler"),
		store:    store,
		gateway:  gateway,
		resolver: resolver,
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
		events:   make(chan FiredEvent, 64),
		inflight: make(map[string]struct{}),
	}
}

// Events exposes the fired-reminder event stream. The channel is never
// closed while the engine runs; slow consumers drop events rather than
// blocking dispatch.
func (e *Engine) Events() <-chan FiredEvent {
	return e.events
}

// Notify wakes the scheduling loop early, typically after an entry with an
// earlier fire instant was inserted. Safe to call from any goroutine.
func (e *Engine) Notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run executes the scheduling loop until the context is cancelled. Errors in
// individual dispatches are isolated and logged, never propagated out of the
// loop. Dispatches run on a bounded worker pool the loop never joins, so a
// slow or failing delivery cannot stall detection of other due reminders.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Scheduler loop starting",
		"workers", e.cfg.Workers, "max_attempts", e.cfg.MaxAttempts)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	err := e.loop(gCtx, g)
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}

func (e *Engine) loop(ctx context.Context, g *errgroup.Group) error {
	for {
		started, err := e.fireDue(ctx, g)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("Failed to process due reminders", "error", err)
		}

		sleep := e.cfg.IdleRecheck
		next, ok, err := e.store.NextPendingAt(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Error("Failed to query next pending instant", "error", err)
		} else if ok {
			if d := time.Until(next); d < sleep {
				sleep = d
			}
		}
		if sleep <= 0 {
			if started > 0 {
				continue
			}
			// Everything due is already in flight or the pool is full; a
			// finishing dispatch wakes the loop via Notify.
			sleep = e.cfg.IdleRecheck
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-e.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// fireDue pulls everything due at or before now and hands each entry to the
// worker pool without waiting for delivery, skipping entries already in
// flight. Returns the number of dispatches started. The
// at-most-one-pending-per-task invariant means no two entries in a batch
// share a task, so per-task ordering is preserved.
func (e *Engine) fireDue(ctx context.Context, g *errgroup.Group) (int, error) {
	entries, err := e.store.DueBefore(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	started := 0
	for _, entry := range entries {
		if !e.claim(entry.ID) {
			continue
		}
		ok := g.TryGo(func() error {
			defer func() {
				e.release(entry.ID)
				e.Notify()
			}()
			e.dispatch(ctx, entry)
			return nil
		})
		if !ok {
			// Pool saturated; the remaining entries stay due and are
			// re-picked once a worker frees up.
			e.release(entry.ID)
			break
		}
		started++
	}

	if started > 0 {
		e.logger.Debug("Dispatching due reminders", "count", started)
	}
	return started, nil
}

func (e *Engine) claim(entryID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[entryID]; busy {
		return false
	}
	e.inflight[entryID] = struct{}{}
	return true
}

func (e *Engine) release(entryID string) {
	e.mu.Lock()
	delete(e.inflight, entryID)
	e.mu.Unlock()
}

// OnTaskCreatedOrEdited recomputes the task's next reminder and writes it to
// the ledger, superseding any pending entry. Called by task CRUD and by the
// reconciler after remote edits.
func (e *Engine) OnTaskCreatedOrEdited(ctx context.Context, task *database.Task) error {
	if task == nil {
		return fmt.Errorf("cannot enroll nil task")
	}
	if task.Status != database.TaskStatusOpen {
		if err := e.store.SupersedePendingForTask(ctx, task.ID); err != nil {
			return err
		}
		return nil
	}

	next, ok, err := e.nextOccurrence(ctx, task, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		// Rule exhausted or no future due date: nothing left to fire.
		return e.store.SupersedePendingForTask(ctx, task.ID)
	}

	if _, err := e.store.UpsertPending(ctx, task.ID, next); err != nil {
		return err
	}
	e.Notify()
	return nil
}

// OnTaskCancelled supersedes the task's pending reminder before returning,
// guaranteeing the loop cannot fire a stale reminder racing the
// cancellation acknowledgement.
func (e *Engine) OnTaskCancelled(ctx context.Context, taskID int64) error {
	if err := e.store.CancelTask(ctx, taskID); err != nil {
		return err
	}
	e.Notify()
	return nil
}

// nextOccurrence computes the task's first occurrence strictly after the
// given instant: the next recurrence expansion when a rule is attached,
// otherwise the plain due date.
func (e *Engine) nextOccurrence(ctx context.Context, task *database.Task, after time.Time) (time.Time, bool, error) {
	if !task.RuleID.Valid {
		if task.DueAt.Valid && task.DueAt.Time.After(after) {
			return task.DueAt.Time, true, nil
		}
		return time.Time{}, false, nil
	}

	record, err := e.store.GetRule(ctx, task.RuleID.Int64)
	if err != nil {
		return time.Time{}, false, err
	}
	rule, err := RuleFromRecord(record)
	if err != nil {
		return time.Time{}, false, err
	}

	loc := e.userLocation(ctx, task.UserID)
	return recurrence.Next(rule, after, loc)
}

// userLocation resolves the owner's timezone, falling back to the configured
// default and flagging the profile when the stored identifier is unknown.
func (e *Engine) userLocation(ctx context.Context, userID int64) *time.Location {
	profile, err := e.store.GetUserProfile(ctx, userID)
	if err != nil {
		e.logger.Warn("Failed to load user profile for timezone resolution",
			"user_id", userID, "error", err)
		loc, _ := e.resolver.LocationOrDefault("")
		return loc
	}
	loc, fellBack := e.resolver.LocationOrDefault(profile.Timezone)
	if fellBack {
		e.logger.Warn("Unknown timezone on profile, using default",
			"user_id", userID, "timezone", profile.Timezone)
		if err := e.store.FlagTimezoneUnconfirmed(ctx, userID); err != nil {
			e.logger.Warn("Failed to flag unconfirmed timezone",
				"user_id", userID, "error", err)
		}
	}
	return loc
}

// RuleFromRecord converts a stored recurrence rule into its expansion form.
func RuleFromRecord(record *database.RecurrenceRule) (recurrence.Rule, error) {
	rule := recurrence.Rule{
		Frequency: recurrence.Frequency(record.Frequency),
		Interval:  record.Interval,
		Anchor:    record.AnchorAt,
		Count:     record.Count,
		CronSpec:  record.CronSpec.String,
	}
	if record.UntilAt.Valid {
		rule.Until = record.UntilAt.Time
	}
	if record.Weekdays.Valid {
		days, err := database.DecodeWeekdays(record.Weekdays.String)
		if err != nil {
			return recurrence.Rule{}, fmt.Errorf("%w: %v", recurrence.ErrMalformedRule, err)
		}
		rule.Weekdays = days
	}
	return rule, nil
}

// RecordFromRule converts an expansion rule into its storage form.
func RecordFromRule(rule recurrence.Rule) *database.RecurrenceRule {
	record := &database.RecurrenceRule{
		Frequency: string(rule.Frequency),
		Interval:  rule.Interval,
		AnchorAt:  rule.Anchor,
		Count:     rule.Count,
	}
	if !rule.Until.IsZero() {
		record.UntilAt = sql.NullTime{Time: rule.Until, Valid: true}
	}
	if len(rule.Weekdays) > 0 {
		record.Weekdays = sql.NullString{String: database.EncodeWeekdays(rule.Weekdays), Valid: true}
	}
	if rule.CronSpec != "" {
		record.CronSpec = sql.NullString{String: rule.CronSpec, Valid: true}
	}
	return record
}
