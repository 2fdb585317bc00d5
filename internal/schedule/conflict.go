package schedule

import (
	"fmt"
	"strings"
	"time"

	"routinely/internal/domain"
)

// Slot is a half-open interval [Start, Start+Duration) in minutes of the day.
// Intervals do not wrap past midnight.
type Slot struct {
	RoutineID       string
	StartMinute     int
	DurationMinutes int
}

func (s Slot) End() int { return s.StartMinute + s.DurationMinutes }

// Overlaps reports whether two slots intersect.
func Overlaps(a, b Slot) bool {
	return a.StartMinute < b.End() && b.StartMinute < a.End()
}

// FirstConflict returns the first existing slot that overlaps candidate.
func FirstConflict(existing []Slot, candidate Slot) (Slot, bool) {
	for _, s := range existing {
		if Overlaps(s, candidate) {
			return s, true
		}
	}
	return Slot{}, false
}

// ParseClock converts "HH:MM" (seconds are tolerated and ignored) into
// minutes after midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) == len("15:04:05") {
		s = s[:5]
	}
	t, err := time.Parse(domain.ClockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (use HH:MM)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// FormatClock renders minutes after midnight as HH:MM.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// NeedsConflictCheck reports whether a routine takes part in daily overlap
// detection: normal, daily and with a start time.
func NeedsConflictCheck(r domain.Routine) bool {
	return r.Kind == domain.RoutineNormal &&
		r.Recurrence.Kind == domain.RecurrenceDaily &&
		strings.TrimSpace(r.StartTime) != ""
}

// SlotOf builds the slot of a routine; ok is false when it has no usable
// start time.
func SlotOf(r domain.Routine) (Slot, bool) {
	start, err := ParseClock(r.StartTime)
	if err != nil {
		return Slot{}, false
	}
	return Slot{RoutineID: r.ID, StartMinute: start, DurationMinutes: r.DurationMinutes}, true
}
