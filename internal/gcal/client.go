// Package gcal defines the remote calendar contract consumed by the sync
// reconciler, and provides the Google Calendar implementation. The engine
// only needs minimal event CRUD plus delta polling; it is not a full
// calendar protocol client.
package gcal

import (
	"context"
	"errors"
	"time"
)

// ErrTransient indicates a retriable failure (network, rate limit, 5xx).
// The reconciler leaves the sync cursor untouched so the same delta window
// is retried on the next cycle.
var ErrTransient = errors.New("transient calendar error")

// ErrUnauthorized indicates expired or revoked credentials. This is surfaced
// to the user for re-authorization and must not be retried indefinitely.
var ErrUnauthorized = errors.New("calendar authorization expired")

// ErrCursorInvalid indicates the provider invalidated the delta token. The
// reconciler falls back to the updated-min watermark and rebuilds the token.
var ErrCursorInvalid = errors.New("sync cursor invalidated by provider")

// ErrNotFound indicates the targeted event no longer exists on the provider.
// Deleting an already-deleted event treats this as success.
var ErrNotFound = errors.New("calendar event not found")

// DeltaKind classifies a remote change. The provider only distinguishes
// upserts from deletions; the reconciler derives create-vs-update by joining
// against the local link map.
type DeltaKind string

const (
	DeltaUpsert DeltaKind = "upsert"
	DeltaDelete DeltaKind = "delete"
)

// EventPayload is the minimal event projection the engine cares about.
type EventPayload struct {
	Title       string
	Description string
	StartAt     time.Time

	// AllDay marks a date-only event. StartAt then carries the date at
	// midnight UTC; the consumer decides which timezone the day lives in.
	AllDay bool

	// LocalTaskID is stamped into the event's private extended properties
	// when pushing, so events created by this engine can be re-linked even
	// if the local link table is lost.
	LocalTaskID int64
}

// Delta is one remote change since the cursor.
type Delta struct {
	EventID    string
	Kind       DeltaKind
	Payload    EventPayload
	ModifiedAt time.Time
}

// Cursor is the provider-side position of a delta listing: an opaque token
// when available, otherwise an updated-min watermark.
type Cursor struct {
	Token      string
	UpdatedMin time.Time
}

// DeltaPage is a complete delta listing plus the token for the next one.
type DeltaPage struct {
	Deltas    []Delta
	NextToken string
}

// Client is the per-user remote calendar contract.
type Client interface {
	// ListDeltasSince returns all changes since the cursor. A zero cursor
	// means a full listing bounded by the provider's default window.
	ListDeltasSince(ctx context.Context, cursor Cursor) (DeltaPage, error)

	// CreateEvent pushes a new event and returns its identifier.
	CreateEvent(ctx context.Context, payload EventPayload) (string, error)

	// UpdateEvent pushes changed fields onto an existing event.
	UpdateEvent(ctx context.Context, eventID string, payload EventPayload) error

	// DeleteEvent removes an event.
	DeleteEvent(ctx context.Context, eventID string) error
}

// ClientFactory resolves the calendar client for a user. Each user carries
// their own OAuth credentials, so clients are constructed per user.
type ClientFactory interface {
	ClientFor(ctx context.Context, userID int64) (Client, error)
}
