package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrEntryNotPending is returned when a ledger transition targets an entry
// that is no longer pending, typically because it was superseded by a
// concurrent edit or cancellation.
var ErrEntryNotPending = errors.New("reminder entry is not pending")

// ErrLedgerConflict indicates the at-most-one-pending-per-task invariant was
// found violated. The store self-heals by superseding the older entries and
// logging; callers normally never observe it.
var ErrLedgerConflict = errors.New("ledger conflict: duplicate pending entry")

// Store defines the data access interface shared by the scheduler core and
// the calendar reconciler. All mutations are atomic with respect to
// concurrent access; no caller holds a long-lived lock across a suspension
// point.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// CreateTask inserts a new task, assigning its ID.
	CreateTask(ctx context.Context, task *Task) error

	// GetTask retrieves a task by ID. Returns ErrNotFound if missing.
	GetTask(ctx context.Context, id int64) (*Task, error)

	// GetTaskByRemoteEventID resolves the local task linked to a remote
	// calendar event. Returns ErrNotFound when no link exists.
	GetTaskByRemoteEventID(ctx context.Context, eventID string) (*Task, error)

	// UpdateTask persists task field changes. The caller is responsible
	// for bumping ModifiedAt when the change is user-visible.
	UpdateTask(ctx context.Context, task *Task) error

	// CancelTask marks a task cancelled and supersedes its pending
	// reminder entry in the same transaction, so the scheduler cannot
	// fire a stale reminder racing the cancellation. The remote event
	// link is kept; the reconciler clears it after removing the event.
	CancelTask(ctx context.Context, taskID int64) error

	// ClearTaskLink removes the remote event link, keeping task history.
	ClearTaskLink(ctx context.Context, taskID int64) error

	// LinkTask records the remote event identifier for a task.
	LinkTask(ctx context.Context, taskID int64, eventID string) error

	// ListUserTasksDueBetween returns a user's open tasks due within
	// [from, to), ordered by due instant. Used by the daily agenda job.
	ListUserTasksDueBetween(ctx context.Context, userID int64, from, to time.Time) ([]Task, error)

	// ListSyncTasks returns a user's tasks that participate in calendar
	// sync, including cancelled ones (the reconciler needs the links).
	ListSyncTasks(ctx context.Context, userID int64) ([]Task, error)

	// InsertRule stores a new immutable recurrence rule.
	InsertRule(ctx context.Context, rule *RecurrenceRule) error

	// GetRule retrieves a recurrence rule by ID.
	GetRule(ctx context.Context, id int64) (*RecurrenceRule, error)

	// UpsertPending schedules the next reminder for a task, atomically
	// superseding any existing pending entry so at most one pending entry
	// exists per task. Returns the new entry's ID.
	UpsertPending(ctx context.Context, taskID int64, fireAt time.Time) (string, error)

	// MarkFired transitions a pending entry to fired. Returns
	// ErrEntryNotPending if the entry was superseded meanwhile.
	MarkFired(ctx context.Context, entryID string) error

	// MarkSkipped transitions a pending entry to skipped after the
	// delivery retry ceiling is exhausted.
	MarkSkipped(ctx context.Context, entryID string) error

	// SupersedePendingForTask supersedes the task's pending entry, if any.
	SupersedePendingForTask(ctx context.Context, taskID int64) error

	// IncrementAttempts bumps and returns the delivery attempt counter.
	IncrementAttempts(ctx context.Context, entryID string) (int, error)

	// DeferAttempt sets the earliest instant of the next delivery attempt
	// without moving the original fire instant. Returns ErrEntryNotPending
	// if the entry already left pending.
	DeferAttempt(ctx context.Context, entryID string, until time.Time) error

	// DueBefore returns pending entries with fire_at at or before the
	// given instant whose retry deferral (if any) has passed, ordered by
	// fire instant ascending, ties broken by entry ID for determinism.
	DueBefore(ctx context.Context, now time.Time) ([]ReminderEntry, error)

	// NextPendingAt returns the earliest instant at which any pending
	// entry becomes deliverable, accounting for retry deferrals. The
	// boolean is false when no pending entries exist.
	NextPendingAt(ctx context.Context) (time.Time, bool, error)

	// PendingCatchUp returns a user's skipped-and-not-yet-surfaced
	// entries (missed reminders) and marks them surfaced.
	PendingCatchUp(ctx context.Context, userID int64) ([]ReminderEntry, error)

	// GetSyncCursor retrieves a user's sync cursor. Returns nil, nil when
	// the user has never synced.
	GetSyncCursor(ctx context.Context, userID int64) (*SyncCursor, error)

	// SaveSyncCursor inserts or updates a user's sync cursor.
	SaveSyncCursor(ctx context.Context, cursor *SyncCursor) error

	// GetUserProfile retrieves a user profile. Returns ErrNotFound if the
	// user is unknown.
	GetUserProfile(ctx context.Context, userID int64) (*UserProfile, error)

	// SaveUserProfile inserts or updates a user profile.
	SaveUserProfile(ctx context.Context, profile *UserProfile) error

	// ListSyncUsers returns IDs of users with calendar sync enabled.
	ListSyncUsers(ctx context.Context) ([]int64, error)

	// ListNotifiableUsers returns profiles with notifications enabled.
	ListNotifiableUsers(ctx context.Context) ([]UserProfile, error)

	// MarkDigestSent records the user-local date of the latest agenda
	// digest so at most one is sent per day.
	MarkDigestSent(ctx context.Context, userID int64, day string) error

	// SetNotificationsEnabled toggles a user's notification preference.
	// Used to stop retrying after a permanent delivery failure.
	SetNotificationsEnabled(ctx context.Context, userID int64, enabled bool) error

	// FlagTimezoneUnconfirmed marks a profile whose stored timezone failed
	// to resolve, so the user is asked to re-confirm it.
	FlagTimezoneUnconfirmed(ctx context.Context, userID int64) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Tasks ---

func (s *sqlxStore) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return fmt.Errorf("cannot create nil task")
	}
	if task.UserID == 0 {
		return fmt.Errorf("task must have a non-zero user_id")
	}
	if task.Title == "" {
		return fmt.Errorf("task must have a non-empty title")
	}

	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	if task.ModifiedAt.IsZero() {
		task.ModifiedAt = now
	}
	if task.Status == "" {
		task.Status = TaskStatusOpen
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO tasks (user_id, created_at, updated_at, title, description,
			priority, status, due_at, rule_id, sync_enabled, remote_event_id, modified_at)
		VALUES (:user_id, :created_at, :updated_at, :title, :description,
			:priority, :status, :due_at, :rule_id, :sync_enabled, :remote_event_id, :modified_at)`,
		task)
	if err != nil {
		return fmt.Errorf("failed to insert task for user %d: %w", task.UserID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get inserted task ID: %w", err)
	}
	task.ID = id
	return nil
}

func (s *sqlxStore) GetTask(ctx context.Context, id int64) (*Task, error) {
	var task Task
	err := s.db.GetContext(ctx, &task, `SELECT * FROM tasks WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	return &task, nil
}

func (s *sqlxStore) GetTaskByRemoteEventID(ctx context.Context, eventID string) (*Task, error) {
	var task Task
	err := s.db.GetContext(ctx, &task, `SELECT * FROM tasks WHERE remote_event_id = ?`, eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task for event %s: %w", eventID, err)
	}
	return &task, nil
}

func (s *sqlxStore) UpdateTask(ctx context.Context, task *Task) error {
	if task == nil || task.ID == 0 {
		return fmt.Errorf("cannot update task without ID")
	}
	task.UpdatedAt = time.Now().UTC()

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE tasks SET updated_at = :updated_at, title = :title,
			description = :description, priority = :priority, status = :status,
			due_at = :due_at, rule_id = :rule_id, sync_enabled = :sync_enabled,
			remote_event_id = :remote_event_id, modified_at = :modified_at
		WHERE id = :id`, task)
	if err != nil {
		return fmt.Errorf("failed to update task %d: %w", task.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d: %w", task.ID, ErrNotFound)
	}
	return nil
}

func (s *sqlxStore) CancelTask(ctx context.Context, taskID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, s.logger)

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?, modified_at = ?
		WHERE id = ?`, TaskStatusCancelled, now, now, taskID)
	if err != nil {
		return fmt.Errorf("failed to cancel task %d: %w", taskID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	}

	if err := supersedePendingTx(ctx, tx, taskID, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task cancellation: %w", err)
	}
	s.logger.InfoContext(ctx, "Task cancelled and pending reminder superseded", "task_id", taskID)
	return nil
}

func (s *sqlxStore) ClearTaskLink(ctx context.Context, taskID int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET remote_event_id = NULL, updated_at = ? WHERE id = ?`, now, taskID)
	if err != nil {
		return fmt.Errorf("failed to clear link for task %d: %w", taskID, err)
	}
	return nil
}

func (s *sqlxStore) LinkTask(ctx context.Context, taskID int64, eventID string) error {
	if eventID == "" {
		return fmt.Errorf("cannot link task %d to empty event ID", taskID)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET remote_event_id = ?, updated_at = ? WHERE id = ?`, eventID, now, taskID)
	if err != nil {
		return fmt.Errorf("failed to link task %d to event %s: %w", taskID, eventID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	}
	return nil
}

func (s *sqlxStore) ListUserTasksDueBetween(ctx context.Context, userID int64, from, to time.Time) ([]Task, error) {
	var tasks []Task
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT * FROM tasks
		WHERE user_id = ? AND status = ? AND due_at >= ? AND due_at < ?
		ORDER BY due_at ASC, id ASC`,
		userID, TaskStatusOpen, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list due tasks for user %d: %w", userID, err)
	}
	return tasks, nil
}

func (s *sqlxStore) ListSyncTasks(ctx context.Context, userID int64) ([]Task, error) {
	var tasks []Task
	err := s.db.SelectContext(ctx, &tasks,
		`SELECT * FROM tasks WHERE user_id = ? AND sync_enabled = 1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync tasks for user %d: %w", userID, err)
	}
	return tasks, nil
}

// --- Recurrence rules ---

func (s *sqlxStore) InsertRule(ctx context.Context, rule *RecurrenceRule) error {
	if rule == nil {
		return fmt.Errorf("cannot insert nil rule")
	}
	rule.CreatedAt = time.Now().UTC()

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO recurrence_rules (created_at, frequency, interval, anchor_at,
			weekdays, count, until_at, cron_spec)
		VALUES (:created_at, :frequency, :interval, :anchor_at,
			:weekdays, :count, :until_at, :cron_spec)`, rule)
	if err != nil {
		return fmt.Errorf("failed to insert recurrence rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get inserted rule ID: %w", err)
	}
	rule.ID = id
	return nil
}

func (s *sqlxStore) GetRule(ctx context.Context, id int64) (*RecurrenceRule, error) {
	var rule RecurrenceRule
	err := s.db.GetContext(ctx, &rule, `SELECT * FROM recurrence_rules WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rule %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule %d: %w", id, err)
	}
	return &rule, nil
}

// --- Reminder ledger ---

func (s *sqlxStore) UpsertPending(ctx context.Context, taskID int64, fireAt time.Time) (string, error) {
	if taskID == 0 {
		return "", fmt.Errorf("cannot schedule reminder without task ID")
	}
	if fireAt.IsZero() {
		return "", fmt.Errorf("cannot schedule reminder without fire instant")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, s.logger)

	now := time.Now().UTC()

	var existing []ReminderEntry
	if err := tx.SelectContext(ctx, &existing,
		`SELECT * FROM reminder_entries WHERE task_id = ? AND status = ?`,
		taskID, EntryStatusPending); err != nil {
		return "", fmt.Errorf("failed to query pending entries for task %d: %w", taskID, err)
	}

	// Invariant repair: more than one pending entry should be impossible, but
	// if found all are superseded and the violation is logged.
	if len(existing) > 1 {
		s.logger.ErrorContext(ctx, "Ledger conflict detected, superseding duplicates",
			"task_id", taskID, "pending_count", len(existing), "error", ErrLedgerConflict)
	}

	generation := 1
	for _, e := range existing {
		if e.Generation >= generation {
			generation = e.Generation + 1
		}
	}
	if len(existing) > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE reminder_entries SET status = ?, updated_at = ? WHERE task_id = ? AND status = ?`,
			EntryStatusSuperseded, now, taskID, EntryStatusPending); err != nil {
			return "", fmt.Errorf("failed to supersede pending entries for task %d: %w", taskID, err)
		}
	}

	entry := ReminderEntry{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		CreatedAt:  now,
		UpdatedAt:  now,
		FireAt:     fireAt.UTC(),
		Status:     EntryStatusPending,
		Generation: generation,
	}
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO reminder_entries (id, task_id, created_at, updated_at,
			fire_at, next_attempt_at, status, generation, attempts, surfaced)
		VALUES (:id, :task_id, :created_at, :updated_at,
			:fire_at, :next_attempt_at, :status, :generation, :attempts, :surfaced)`, entry); err != nil {
		return "", fmt.Errorf("failed to insert pending entry for task %d: %w", taskID, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit pending entry: %w", err)
	}

	s.logger.DebugContext(ctx, "Pending reminder scheduled",
		"task_id", taskID, "entry_id", entry.ID, "fire_at", entry.FireAt, "generation", generation)
	return entry.ID, nil
}

func (s *sqlxStore) MarkFired(ctx context.Context, entryID string) error {
	return s.transition(ctx, entryID, EntryStatusFired)
}

func (s *sqlxStore) MarkSkipped(ctx context.Context, entryID string) error {
	return s.transition(ctx, entryID, EntryStatusSkipped)
}

// transition moves a pending entry into a terminal state. Only pending
// entries transition; anything else means a concurrent supersede won.
func (s *sqlxStore) transition(ctx context.Context, entryID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminder_entries SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, time.Now().UTC(), entryID, EntryStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark entry %s %s: %w", entryID, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", entryID, ErrEntryNotPending)
	}
	return nil
}

func (s *sqlxStore) SupersedePendingForTask(ctx context.Context, taskID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, s.logger)

	if err := supersedePendingTx(ctx, tx, taskID, time.Now().UTC()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit supersede for task %d: %w", taskID, err)
	}
	return nil
}

func supersedePendingTx(ctx context.Context, tx *sqlx.Tx, taskID int64, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE reminder_entries SET status = ?, updated_at = ? WHERE task_id = ? AND status = ?`,
		EntryStatusSuperseded, now, taskID, EntryStatusPending); err != nil {
		return fmt.Errorf("failed to supersede pending entry for task %d: %w", taskID, err)
	}
	return nil
}

func (s *sqlxStore) IncrementAttempts(ctx context.Context, entryID string) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, s.logger)

	if _, err := tx.ExecContext(ctx,
		`UPDATE reminder_entries SET attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), entryID); err != nil {
		return 0, fmt.Errorf("failed to increment attempts for entry %s: %w", entryID, err)
	}

	var attempts int
	if err := tx.GetContext(ctx, &attempts,
		`SELECT attempts FROM reminder_entries WHERE id = ?`, entryID); err != nil {
		return 0, fmt.Errorf("failed to read attempts for entry %s: %w", entryID, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit attempt increment: %w", err)
	}
	return attempts, nil
}

func (s *sqlxStore) DeferAttempt(ctx context.Context, entryID string, until time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminder_entries SET next_attempt_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		until.UTC(), time.Now().UTC(), entryID, EntryStatusPending)
	if err != nil {
		return fmt.Errorf("failed to defer entry %s: %w", entryID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("entry %s: %w", entryID, ErrEntryNotPending)
	}
	return nil
}

func (s *sqlxStore) DueBefore(ctx context.Context, now time.Time) ([]ReminderEntry, error) {
	var entries []ReminderEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT * FROM reminder_entries
		WHERE status = ? AND fire_at <= ?
			AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY fire_at ASC, id ASC`,
		EntryStatusPending, now.UTC(), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query due entries: %w", err)
	}
	return entries, nil
}

// NextPendingAt selects the row, not an aggregate: the driver only maps a
// bare DATETIME column back onto time.Time, MIN(fire_at) would come back as
// a string.
func (s *sqlxStore) NextPendingAt(ctx context.Context) (time.Time, bool, error) {
	var row struct {
		FireAt        time.Time    `db:"fire_at"`
		NextAttemptAt sql.NullTime `db:"next_attempt_at"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT fire_at, next_attempt_at FROM reminder_entries
		WHERE status = ?
		ORDER BY max(fire_at, coalesce(next_attempt_at, fire_at)) ASC, id ASC
		LIMIT 1`, EntryStatusPending)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to query next pending instant: %w", err)
	}
	at := row.FireAt
	if row.NextAttemptAt.Valid && row.NextAttemptAt.Time.After(at) {
		at = row.NextAttemptAt.Time
	}
	return at.UTC(), true, nil
}

func (s *sqlxStore) PendingCatchUp(ctx context.Context, userID int64) ([]ReminderEntry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, s.logger)

	var entries []ReminderEntry
	if err := tx.SelectContext(ctx, &entries, `
		SELECT e.* FROM reminder_entries e
		JOIN tasks t ON t.id = e.task_id
		WHERE t.user_id = ? AND e.status = ? AND e.surfaced = 0
		ORDER BY e.fire_at ASC, e.id ASC`,
		userID, EntryStatusSkipped); err != nil {
		return nil, fmt.Errorf("failed to query missed reminders for user %d: %w", userID, err)
	}

	if len(entries) > 0 {
		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		query, args, err := sqlx.In(
			`UPDATE reminder_entries SET surfaced = 1, updated_at = ? WHERE id IN (?)`,
			time.Now().UTC(), ids)
		if err != nil {
			return nil, fmt.Errorf("failed to build surfaced update: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return nil, fmt.Errorf("failed to mark reminders surfaced for user %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit catch-up query: %w", err)
	}
	return entries, nil
}

// --- Sync cursors ---

func (s *sqlxStore) GetSyncCursor(ctx context.Context, userID int64) (*SyncCursor, error) {
	var cursor SyncCursor
	err := s.db.GetContext(ctx, &cursor, `SELECT * FROM sync_cursors WHERE user_id = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sync cursor for user %d: %w", userID, err)
	}
	return &cursor, nil
}

func (s *sqlxStore) SaveSyncCursor(ctx context.Context, cursor *SyncCursor) error {
	if cursor == nil || cursor.UserID == 0 {
		return fmt.Errorf("cannot save sync cursor without user ID")
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sync_cursors (user_id, token, updated_min, last_synced_at)
		VALUES (:user_id, :token, :updated_min, :last_synced_at)
		ON CONFLICT(user_id) DO UPDATE SET
			token = excluded.token,
			updated_min = excluded.updated_min,
			last_synced_at = excluded.last_synced_at`, cursor)
	if err != nil {
		return fmt.Errorf("failed to save sync cursor for user %d: %w", cursor.UserID, err)
	}
	return nil
}

// --- User profiles ---

func (s *sqlxStore) GetUserProfile(ctx context.Context, userID int64) (*UserProfile, error) {
	var profile UserProfile
	err := s.db.GetContext(ctx, &profile, `SELECT * FROM user_profiles WHERE user_id = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get profile for user %d: %w", userID, err)
	}
	return &profile, nil
}

func (s *sqlxStore) SaveUserProfile(ctx context.Context, profile *UserProfile) error {
	if profile == nil || profile.UserID == 0 {
		return fmt.Errorf("cannot save profile without user ID")
	}
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO user_profiles (user_id, chat_id, created_at, updated_at,
			timezone, tz_confirmed, notifications_enabled, sync_enabled, last_digest_on)
		VALUES (:user_id, :chat_id, :created_at, :updated_at,
			:timezone, :tz_confirmed, :notifications_enabled, :sync_enabled, :last_digest_on)
		ON CONFLICT(user_id) DO UPDATE SET
			chat_id = excluded.chat_id,
			updated_at = excluded.updated_at,
			timezone = excluded.timezone,
			tz_confirmed = excluded.tz_confirmed,
			notifications_enabled = excluded.notifications_enabled,
			sync_enabled = excluded.sync_enabled`, profile)
	if err != nil {
		return fmt.Errorf("failed to save profile for user %d: %w", profile.UserID, err)
	}
	return nil
}

func (s *sqlxStore) ListSyncUsers(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM user_profiles WHERE sync_enabled = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync users: %w", err)
	}
	return ids, nil
}

func (s *sqlxStore) ListNotifiableUsers(ctx context.Context) ([]UserProfile, error) {
	var profiles []UserProfile
	err := s.db.SelectContext(ctx, &profiles,
		`SELECT * FROM user_profiles WHERE notifications_enabled = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifiable users: %w", err)
	}
	return profiles, nil
}

func (s *sqlxStore) MarkDigestSent(ctx context.Context, userID int64, day string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_profiles SET last_digest_on = ?, updated_at = ? WHERE user_id = ?`,
		day, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to record digest date for user %d: %w", userID, err)
	}
	return nil
}

func (s *sqlxStore) SetNotificationsEnabled(ctx context.Context, userID int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_profiles SET notifications_enabled = ?, updated_at = ? WHERE user_id = ?`,
		enabled, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to set notifications for user %d: %w", userID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *sqlxStore) FlagTimezoneUnconfirmed(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_profiles SET tz_confirmed = 0, updated_at = ? WHERE user_id = ?`,
		time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to flag timezone for user %d: %w", userID, err)
	}
	return nil
}

// --- Maintenance ---

func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	startTime := time.Now()
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("failed to analyze database: %w", err)
	}
	s.logger.InfoContext(ctx, "SQL maintenance completed",
		"duration_ms", time.Since(startTime).Milliseconds())
	return nil
}

// rollback is a deferred-rollback helper. Rolling back after a successful
// commit returns sql.ErrTxDone, which is ignored.
func rollback(tx *sqlx.Tx, logger *slog.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Error("Failed to rollback transaction", "error", err)
	}
}

// EncodeWeekdays serializes a weekday set for storage.
func EncodeWeekdays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

// DecodeWeekdays parses a stored weekday set.
func DecodeWeekdays(encoded string) ([]time.Weekday, error) {
	if encoded == "" {
		return nil, nil
	}
	parts := strings.Split(encoded, ",")
	days := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 6 {
			return nil, fmt.Errorf("invalid weekday %q", p)
		}
		days = append(days, time.Weekday(n))
	}
	return days, nil
}
