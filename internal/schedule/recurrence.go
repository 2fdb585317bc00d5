package schedule

import (
	"fmt"
	"time"

	"routinely/internal/domain"
)

// ShortMonthPolicy decides what a monthly routine does in months that lack
// its start day (e.g. a routine started on the 31st in a 30-day month).
type ShortMonthPolicy string

const (
	// ShortMonthClamp makes the routine due on the last day of a short month.
	ShortMonthClamp ShortMonthPolicy = "clamp"
	// ShortMonthSkip makes the routine not due at all in a short month.
	ShortMonthSkip ShortMonthPolicy = "skip"
)

// ParseShortMonthPolicy accepts "", "clamp" or "skip".
func ParseShortMonthPolicy(s string) (ShortMonthPolicy, error) {
	switch ShortMonthPolicy(s) {
	case "", ShortMonthClamp:
		return ShortMonthClamp, nil
	case ShortMonthSkip:
		return ShortMonthSkip, nil
	default:
		return "", fmt.Errorf("unknown short month policy %q (use clamp or skip)", s)
	}
}

// Evaluator decides whether a recurrence is due on a date.
type Evaluator struct {
	ShortMonth ShortMonthPolicy
}

// IsDue uses the default clamp policy.
func IsDue(rec domain.Recurrence, ref, start time.Time) bool {
	return Evaluator{}.IsDue(rec, ref, start)
}

// IsDue reports whether rec is due on ref for a routine starting on start.
// Only the calendar date of ref and start is considered. Recurring kinds
// are never due without a start date.
func (e Evaluator) IsDue(rec domain.Recurrence, ref, start time.Time) bool {
	ref = civil(ref)
	start = civil(start)
	if start.IsZero() && rec.Kind != domain.RecurrenceOneOff {
		return false
	}
	switch rec.Kind {
	case domain.RecurrenceDaily:
		return !ref.Before(start)
	case domain.RecurrenceWeekly:
		if rec.Weekday == nil || *rec.Weekday < 0 || *rec.Weekday > 6 {
			return false
		}
		return !ref.Before(start) && int(ref.Weekday()) == *rec.Weekday
	case domain.RecurrenceMonthly:
		if ref.Before(start) {
			return false
		}
		return e.monthlyDay(ref.Year(), ref.Month(), start.Day()) == ref.Day()
	case domain.RecurrenceOneOff:
		d, err := ParseDate(rec.Date)
		if err != nil {
			return false
		}
		return ref.Equal(d)
	default:
		return false
	}
}

// monthlyDay returns the day of the given month a monthly routine anchored on
// day falls on, or 0 when the policy skips the month.
func (e Evaluator) monthlyDay(year int, month time.Month, day int) int {
	last := daysIn(year, month)
	if day <= last {
		return day
	}
	if e.ShortMonth == ShortMonthSkip {
		return 0
	}
	return last
}

// IsDueOn is IsDue for a stored routine; a malformed start date is never due
// except for one-off routines, which carry their own date.
func (e Evaluator) IsDueOn(r domain.Routine, ref time.Time) bool {
	start, err := ParseDate(r.StartDate)
	if err != nil && r.Recurrence.Kind != domain.RecurrenceOneOff {
		return false
	}
	return e.IsDue(r.Recurrence, ref, start)
}

// Occurrences lists the dates in [from, to] on which the routine is due.
func (e Evaluator) Occurrences(r domain.Routine, from, to time.Time) []time.Time {
	from, to = civil(from), civil(to)
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if e.IsDueOn(r, d) {
			out = append(out, d)
		}
	}
	return out
}

// ParseDate parses a civil date in UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(domain.DateLayout, s, time.UTC)
}

// FormatDate renders a civil date.
func FormatDate(t time.Time) string {
	return t.Format(domain.DateLayout)
}

func civil(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
