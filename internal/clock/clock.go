// Package clock resolves user wall-clock times against the IANA timezone
// database so that scheduling stays correct across DST transitions.
package clock

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTimezone indicates that a stored timezone identifier is not known
// to the timezone database. Callers are expected to fall back to a default
// location and flag the user profile for re-confirmation, never to abort
// scheduling.
var ErrInvalidTimezone = errors.New("invalid timezone")

// Resolver converts between user-local wall-clock times and absolute instants.
// The zero value is not usable; construct with NewResolver.
type Resolver struct {
	fallback *time.Location
}

// NewResolver creates a Resolver that falls back to the given default
// timezone identifier when a user's stored timezone is unknown. If the
// default itself cannot be loaded, UTC is used.
func NewResolver(defaultTZ string) *Resolver {
	loc, err := time.LoadLocation(defaultTZ)
	if err != nil {
		loc = time.UTC
	}
	return &Resolver{fallback: loc}
}

// Location loads the IANA location for the given identifier.
// Returns ErrInvalidTimezone (wrapped) when the identifier is unknown.
func (r *Resolver) Location(tzID string) (*time.Location, error) {
	if tzID == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrInvalidTimezone)
	}
	loc, err := time.LoadLocation(tzID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tzID)
	}
	return loc, nil
}

// LocationOrDefault loads the location for tzID, falling back to the
// configured default when the identifier is unknown. The second return value
// reports whether the fallback was used, so the caller can flag the profile.
func (r *Resolver) LocationOrDefault(tzID string) (*time.Location, bool) {
	loc, err := r.Location(tzID)
	if err != nil {
		return r.fallback, true
	}
	return loc, false
}

// Resolve converts a wall-clock time expressed in the user's timezone into an
// absolute instant. The date and clock fields of local are reinterpreted in
// the target location; its original offset is ignored.
func (r *Resolver) Resolve(local time.Time, tzID string) (time.Time, error) {
	loc, err := r.Location(tzID)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc), nil
}

// NowIn returns the current wall-clock time in the user's timezone.
func (r *Resolver) NowIn(tzID string) (time.Time, error) {
	loc, err := r.Location(tzID)
	if err != nil {
		return time.Time{}, err
	}
	return time.Now().In(loc), nil
}
