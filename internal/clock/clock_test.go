// Package clock_test tests timezone resolution.
package clock_test

import (
	"errors"
	"testing"
	"time"

	"github.com/edgard/taskbell/internal/clock"
)

func TestLocation(t *testing.T) {
	t.Parallel()
	r := clock.NewResolver("UTC")

	tests := []struct {
		name    string
		tzID    string
		wantErr bool
	}{
		{name: "valid zone", tzID: "America/New_York"},
		{name: "valid European zone", tzID: "Europe/Lisbon"},
		{name: "utc", tzID: "UTC"},
		{name: "unknown zone", tzID: "Mars/Olympus_Mons", wantErr: true},
		{name: "empty", tzID: "", wantErr: true},
		{name: "garbage", tzID: "not a zone", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			loc, err := r.Location(tc.tzID)
			if tc.wantErr {
				if !errors.Is(err, clock.ErrInvalidTimezone) {
					t.Errorf("expected ErrInvalidTimezone, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if loc.String() != tc.tzID {
				t.Errorf("loaded %q, want %q", loc.String(), tc.tzID)
			}
		})
	}
}

func TestLocationOrDefault(t *testing.T) {
	t.Parallel()
	r := clock.NewResolver("Europe/Lisbon")

	loc, fellBack := r.LocationOrDefault("America/New_York")
	if fellBack {
		t.Error("unexpected fallback for a valid zone")
	}
	if loc.String() != "America/New_York" {
		t.Errorf("got %q, want America/New_York", loc.String())
	}

	loc, fellBack = r.LocationOrDefault("Nowhere/Invalid")
	if !fellBack {
		t.Error("expected fallback for an unknown zone")
	}
	if loc.String() != "Europe/Lisbon" {
		t.Errorf("fallback location = %q, want Europe/Lisbon", loc.String())
	}
}

func TestNewResolverBadDefault(t *testing.T) {
	t.Parallel()
	r := clock.NewResolver("Bad/Zone")

	loc, fellBack := r.LocationOrDefault("Also/Bad")
	if !fellBack {
		t.Error("expected fallback")
	}
	if loc != time.UTC {
		t.Errorf("fallback location = %q, want UTC", loc.String())
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	r := clock.NewResolver("UTC")

	// 09:00 wall clock in New York during EDT is 13:00 UTC; the original
	// offset of the input is ignored.
	local := time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)
	got, err := r.Resolve(local, "America/New_York")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 6, 15, 13, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got.UTC(), want)
	}

	// Same wall clock in winter is EST, one hour further from UTC.
	local = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	got, err = r.Resolve(local, "America/New_York")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want = time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got.UTC(), want)
	}

	if _, err := r.Resolve(local, "Bad/Zone"); !errors.Is(err, clock.ErrInvalidTimezone) {
		t.Errorf("expected ErrInvalidTimezone, got %v", err)
	}
}

func TestNowIn(t *testing.T) {
	t.Parallel()
	r := clock.NewResolver("UTC")

	got, err := r.NowIn("Europe/Lisbon")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Location().String() != "Europe/Lisbon" {
		t.Errorf("location = %q, want Europe/Lisbon", got.Location().String())
	}

	if _, err := r.NowIn(""); !errors.Is(err, clock.ErrInvalidTimezone) {
		t.Errorf("expected ErrInvalidTimezone, got %v", err)
	}
}
