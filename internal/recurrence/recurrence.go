// Package recurrence expands recurrence rules into occurrence instants.
//
// Expansion is a pure function of (rule, last instant): there is no iterator
// state, so the reminder ledger remains the only source of truth after a
// process restart. Stepping is computed in the user's local calendar and only
// then converted to an absolute instant, which keeps "9am every day" at 9am
// local across DST changes.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrMalformedRule indicates a rule that can never produce occurrences, such
// as a non-positive interval or a weekly rule without weekdays.
var ErrMalformedRule = errors.New("malformed recurrence rule")

// Frequency identifies the stepping unit of a recurrence rule.
type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqYearly  Frequency = "yearly"
	FreqCustom  Frequency = "custom" // cron expression in CronSpec
)

// Rule describes a recurrence. Rules are immutable once attached to a task:
// editing a task's recurrence stores a new rule row rather than mutating the
// existing one, so in-flight ledger entries keep a stable reference.
type Rule struct {
	Frequency Frequency
	Interval  int // step every N units, at least 1

	// Anchor is the first scheduled occurrence, expressed as a wall-clock
	// time in the owner's timezone. All stepping derives from it.
	Anchor time.Time

	// Weekdays is the explicit weekday set for weekly rules. Required for
	// FreqWeekly, ignored otherwise.
	Weekdays []time.Weekday

	// End conditions. Count of zero and a zero Until mean unbounded.
	Count int       // total number of occurrences including the anchor
	Until time.Time // no occurrence strictly after this instant

	// CronSpec holds a standard 5-field cron expression for FreqCustom.
	CronSpec string
}

// maxSteps bounds rule iteration so a pathological rule cannot spin the
// scheduler. Far beyond any realistic horizon.
const maxSteps = 100000

// Validate reports whether the rule is well formed.
func Validate(r Rule) error {
	switch r.Frequency {
	case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
		if r.Interval <= 0 {
			return fmt.Errorf("%w: interval %d must be positive", ErrMalformedRule, r.Interval)
		}
		if r.Frequency == FreqWeekly && len(r.Weekdays) == 0 {
			return fmt.Errorf("%w: weekly rule requires a weekday set", ErrMalformedRule)
		}
	case FreqCustom:
		if _, err := cron.ParseStandard(r.CronSpec); err != nil {
			return fmt.Errorf("%w: invalid cron spec %q: %v", ErrMalformedRule, r.CronSpec, err)
		}
	default:
		return fmt.Errorf("%w: unknown frequency %q", ErrMalformedRule, r.Frequency)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: count %d must not be negative", ErrMalformedRule, r.Count)
	}
	if r.Anchor.IsZero() {
		return fmt.Errorf("%w: anchor is required", ErrMalformedRule)
	}
	return nil
}

// Next returns the first occurrence strictly after the given instant, in the
// user's location. The boolean is false when the rule is exhausted (count or
// until-date reached): the rule is terminal and no further occurrence exists.
//
// Next is restart-safe: feeding each returned instant back as "after"
// reproduces the same sequence regardless of process restarts.
func Next(r Rule, after time.Time, loc *time.Location) (time.Time, bool, error) {
	if err := Validate(r); err != nil {
		return time.Time{}, false, err
	}
	if loc == nil {
		loc = time.UTC
	}

	if r.Frequency == FreqCustom {
		return nextCron(r, after, loc)
	}

	// Walk occurrences in order from the anchor so count-based end
	// conditions stay deterministic. Bounded by maxSteps.
	seen := 0
	emit := func(occ time.Time) (time.Time, bool, bool) {
		seen++
		if r.Count > 0 && seen > r.Count {
			return time.Time{}, false, true
		}
		if !r.Until.IsZero() && occ.After(r.Until) {
			return time.Time{}, false, true
		}
		if occ.After(after) {
			return occ, true, true
		}
		return time.Time{}, false, false
	}

	switch r.Frequency {
	case FreqWeekly:
		return nextWeekly(r, loc, emit)
	default:
		return nextStepped(r, loc, emit)
	}
}

// emitFunc reports (occurrence, found, stop) for each candidate in order.
type emitFunc func(time.Time) (time.Time, bool, bool)

// nextStepped handles daily, monthly, and yearly rules: the anchor stepped by
// i*interval units. Monthly rules anchored on a day-of-month missing from a
// given month (the 31st, Feb 30) roll to the last day of that month. That is a
// documented policy, not an error, and the anchor day is restored in longer
// months.
func nextStepped(r Rule, loc *time.Location, emit emitFunc) (time.Time, bool, error) {
	a := r.Anchor.In(loc)
	for i := 0; i < maxSteps; i++ {
		var occ time.Time
		switch r.Frequency {
		case FreqDaily:
			occ = addDays(a, i*r.Interval, loc)
		case FreqMonthly:
			occ = addMonthsClamped(a, i*r.Interval, loc)
		case FreqYearly:
			occ = addMonthsClamped(a, i*r.Interval*12, loc)
		}
		if got, found, stop := emit(occ); stop {
			return got, found, nil
		}
	}
	return time.Time{}, false, nil
}

// nextWeekly enumerates the weekday set week by week. Weeks run Monday
// through Sunday; the interval selects every Nth week counted from the
// anchor's week.
func nextWeekly(r Rule, loc *time.Location, emit emitFunc) (time.Time, bool, error) {
	a := r.Anchor.In(loc)
	set := make(map[time.Weekday]bool, len(r.Weekdays))
	for _, wd := range r.Weekdays {
		set[wd] = true
	}
	weekStart := startOfWeek(a)

	for week := 0; week < maxSteps; week += r.Interval {
		base := addDays(weekStart, week*7, loc)
		for day := 0; day < 7; day++ {
			cand := addDays(base, day, loc)
			if cand.Before(a) || !set[cand.Weekday()] {
				continue
			}
			occ := time.Date(cand.Year(), cand.Month(), cand.Day(),
				a.Hour(), a.Minute(), a.Second(), 0, loc)
			if got, found, stop := emit(occ); stop {
				return got, found, nil
			}
		}
	}
	return time.Time{}, false, nil
}

// nextCron delegates occurrence computation to the cron schedule, evaluated
// in the user's location. Count-based end conditions are counted from the
// anchor to stay restart-safe.
func nextCron(r Rule, after time.Time, loc *time.Location) (time.Time, bool, error) {
	sched, err := cron.ParseStandard(r.CronSpec)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: invalid cron spec %q: %v", ErrMalformedRule, r.CronSpec, err)
	}

	cursor := r.Anchor.In(loc).Add(-time.Second)
	seen := 0
	for i := 0; i < maxSteps; i++ {
		occ := sched.Next(cursor)
		if occ.IsZero() {
			return time.Time{}, false, nil
		}
		seen++
		if r.Count > 0 && seen > r.Count {
			return time.Time{}, false, nil
		}
		if !r.Until.IsZero() && occ.After(r.Until) {
			return time.Time{}, false, nil
		}
		if occ.After(after) {
			return occ, true, nil
		}
		cursor = occ
	}
	return time.Time{}, false, nil
}

// addDays advances by whole calendar days in loc, preserving the wall clock.
// Using time.Date rather than Add keeps the local hour stable across DST.
func addDays(t time.Time, days int, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day()+days,
		t.Hour(), t.Minute(), t.Second(), 0, loc)
}

// addMonthsClamped advances by whole months, clamping the day-of-month to the
// last day of the target month instead of letting time.Date normalize Jan 31
// + 1 month into Mar 2/3.
func addMonthsClamped(t time.Time, months int, loc *time.Location) time.Time {
	y, m := t.Year(), int(t.Month())-1+months
	y += m / 12
	m = m % 12
	if m < 0 {
		m += 12
		y--
	}
	month := time.Month(m + 1)
	day := t.Day()
	if last := daysIn(y, month); day > last {
		day = last
	}
	return time.Date(y, month, day, t.Hour(), t.Minute(), t.Second(), 0, loc)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func startOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7 // Monday = 0
	return time.Date(t.Year(), t.Month(), t.Day()-offset, t.Hour(), t.Minute(), t.Second(), 0, t.Location())
}
