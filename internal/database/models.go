package database

import (
	"database/sql"
	"time"
)

// Task status values. Cancelled tasks keep their history; the reconciler
// marks a task cancelled when its linked remote event disappears.
const (
	TaskStatusOpen      = "open"
	TaskStatusDone      = "done"
	TaskStatusCancelled = "cancelled"
)

// Task priority values, carried through to fired notifications.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Reminder entry status values.
const (
	EntryStatusPending    = "pending"
	EntryStatusFired      = "fired"
	EntryStatusSkipped    = "skipped"
	EntryStatusSuperseded = "superseded"
)

// Task represents a user's task. ModifiedAt is bumped on every user-visible
// edit and drives last-writer-wins conflict resolution against the remote
// calendar, which compares modification timestamps rather than sync run times.
type Task struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	Title       string         `db:"title"`
	Description sql.NullString `db:"description"`
	Priority    string         `db:"priority"`
	Status      string         `db:"status"`
	DueAt       sql.NullTime   `db:"due_at"`
	RuleID      sql.NullInt64  `db:"rule_id"`

	SyncEnabled   bool           `db:"sync_enabled"`
	RemoteEventID sql.NullString `db:"remote_event_id"`
	ModifiedAt    time.Time      `db:"modified_at"`
}

// RecurrenceRule is an immutable stored recurrence. Editing a task's
// recurrence inserts a new row and repoints the task, so ledger entries
// created under the old rule are never silently invalidated.
type RecurrenceRule struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	Frequency string         `db:"frequency"`
	Interval  int            `db:"interval"`
	AnchorAt  time.Time      `db:"anchor_at"`
	Weekdays  sql.NullString `db:"weekdays"` // comma-separated 0..6, Sunday = 0
	Count     int            `db:"count"`
	UntilAt   sql.NullTime   `db:"until_at"`
	CronSpec  sql.NullString `db:"cron_spec"`
}

// ReminderEntry is a single scheduled notification instance for one
// occurrence of a task. FireAt is stored UTC-normalized. The generation
// counter increments whenever an entry is replaced by the next occurrence.
//
// Invariant: at most one pending entry exists per task at any time. The
// store's UpsertPending enforces this transactionally.
type ReminderEntry struct {
	ID        string    `db:"id"` // uuid
	TaskID    int64     `db:"task_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	FireAt     time.Time `db:"fire_at"`
	Status     string    `db:"status"`
	Generation int       `db:"generation"`
	Attempts   int       `db:"attempts"`

	// NextAttemptAt gates redelivery after a failed attempt. FireAt stays
	// the instant the reminder was due; the entry is not picked up again
	// before NextAttemptAt passes.
	NextAttemptAt sql.NullTime `db:"next_attempt_at"`

	// Surfaced marks a skipped entry that has already been shown to the
	// user as a missed reminder.
	Surfaced bool `db:"surfaced"`
}

// SyncCursor is the per-user bookmark into the remote calendar's change
// stream. Token is the provider's opaque delta token; UpdatedMin is the
// fallback watermark when the provider invalidates the token. LastSyncedAt
// only advances on a fully successful pass so a failed delta window is
// retried on the next cycle.
type SyncCursor struct {
	UserID       int64          `db:"user_id"`
	Token        sql.NullString `db:"token"`
	UpdatedMin   sql.NullTime   `db:"updated_min"`
	LastSyncedAt sql.NullTime   `db:"last_synced_at"`
}

// UserProfile holds the per-user settings the engine reads: timezone and
// notification preference. TZConfirmed is cleared when the stored timezone
// fails to resolve, prompting re-confirmation on next interaction.
type UserProfile struct {
	UserID    int64     `db:"user_id"`
	ChatID    int64     `db:"chat_id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	Timezone             string `db:"timezone"`
	TZConfirmed          bool   `db:"tz_confirmed"`
	NotificationsEnabled bool   `db:"notifications_enabled"`
	SyncEnabled          bool   `db:"sync_enabled"`

	// LastDigestOn is the user-local date (YYYY-MM-DD) of the most recent
	// agenda digest, used to send at most one digest per day.
	LastDigestOn string `db:"last_digest_on"`
}
