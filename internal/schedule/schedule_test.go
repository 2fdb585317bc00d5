package schedule

import (
	"testing"
	"time"

	"routinely/internal/domain"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return d
}

func TestIsDueTruthTable(t *testing.T) {
	start := "2024-01-03" // Wednesday
	cases := []struct {
		name string
		rec  domain.Recurrence
		ref  string
		want bool
	}{
		{"daily before start", domain.Daily(), "2024-01-02", false},
		{"daily on start", domain.Daily(), "2024-01-03", true},
		{"daily after start", domain.Daily(), "2024-03-15", true},
		{"weekly on start", domain.Weekly(time.Wednesday), "2024-01-03", true},
		{"weekly next week", domain.Weekly(time.Wednesday), "2024-01-10", true},
		{"weekly wrong day", domain.Weekly(time.Wednesday), "2024-01-11", false},
		{"weekly before start", domain.Weekly(time.Wednesday), "2023-12-27", false},
		{"weekly other weekday", domain.Weekly(time.Friday), "2024-01-05", true},
		{"monthly on start", domain.Monthly(3), "2024-01-03", true},
		{"monthly next month", domain.Monthly(3), "2024-02-03", true},
		{"monthly wrong day", domain.Monthly(3), "2024-02-04", false},
		{"monthly before start", domain.Monthly(3), "2023-12-03", false},
		{"oneoff match", domain.OneOff("2024-02-01"), "2024-02-01", true},
		{"oneoff other day", domain.OneOff("2024-02-01"), "2024-02-02", false},
		{"oneoff before start date ignored", domain.OneOff("2023-12-01"), "2023-12-01", true},
		{"weekly missing weekday", domain.Recurrence{Kind: domain.RecurrenceWeekly}, "2024-01-10", false},
		{"oneoff missing date", domain.Recurrence{Kind: domain.RecurrenceOneOff}, "2024-01-10", false},
		{"unknown kind", domain.Recurrence{Kind: "yearly"}, "2024-01-10", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := IsDue(tc.rec, date(t, tc.ref), date(t, start))
			if got != tc.want {
				t.Fatalf("IsDue(%+v, %s) = %v, want %v", tc.rec, tc.ref, got, tc.want)
			}
		})
	}
}

func TestIsDueIgnoresTimeOfDay(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	ref := time.Date(2024, 1, 10, 23, 30, 0, 0, loc)
	start := time.Date(2024, 1, 3, 8, 0, 0, 0, loc)
	if !IsDue(domain.Weekly(time.Wednesday), ref, start) {
		t.Fatalf("expected weekly routine due on local Wednesday")
	}
}

func TestIsDueWithoutStartDate(t *testing.T) {
	ref := date(t, "2024-01-10") // Wednesday
	for _, rec := range []domain.Recurrence{domain.Daily(), domain.Weekly(time.Wednesday), domain.Monthly(10)} {
		if IsDue(rec, ref, time.Time{}) {
			t.Fatalf("%s without a start date must not be due", rec.Kind)
		}
	}
	if !IsDue(domain.OneOff("2024-01-10"), ref, time.Time{}) {
		t.Fatalf("one-off is due on its own date regardless of start")
	}
}

func TestMonthlyShortMonthPolicy(t *testing.T) {
	start := date(t, "2024-01-31")
	rec := domain.Monthly(31)
	clamp := Evaluator{ShortMonth: ShortMonthClamp}
	skip := Evaluator{ShortMonth: ShortMonthSkip}

	if !clamp.IsDue(rec, date(t, "2024-02-29"), start) {
		t.Fatalf("clamp: expected due on last day of February")
	}
	if clamp.IsDue(rec, date(t, "2024-02-28"), start) {
		t.Fatalf("clamp: not due before the last day")
	}
	if !clamp.IsDue(rec, date(t, "2024-04-30"), start) {
		t.Fatalf("clamp: expected due on April 30")
	}
	if skip.IsDue(rec, date(t, "2024-02-29"), start) {
		t.Fatalf("skip: expected not due in February")
	}
	if !skip.IsDue(rec, date(t, "2024-03-31"), start) {
		t.Fatalf("skip: expected due on March 31")
	}
}

func TestOccurrences(t *testing.T) {
	r := domain.Routine{StartDate: "2024-01-03", Recurrence: domain.Weekly(time.Wednesday)}
	got := Evaluator{}.Occurrences(r, date(t, "2024-01-01"), date(t, "2024-01-31"))
	want := []string{"2024-01-03", "2024-01-10", "2024-01-17", "2024-01-24", "2024-01-31"}
	if len(got) != len(want) {
		t.Fatalf("expected %d occurrences, got %d", len(want), len(got))
	}
	for i := range want {
		if FormatDate(got[i]) != want[i] {
			t.Fatalf("occurrence %d: got %s want %s", i, FormatDate(got[i]), want[i])
		}
	}
}

func TestOverlapScenario(t *testing.T) {
	a := Slot{RoutineID: "A", StartMinute: 8 * 60, DurationMinutes: 60}
	b := Slot{RoutineID: "B", StartMinute: 8*60 + 30, DurationMinutes: 60}
	if !Overlaps(a, b) {
		t.Fatalf("08:30-09:30 should overlap 08:00-09:00")
	}
	hit, ok := FirstConflict([]Slot{a}, b)
	if !ok || hit.RoutineID != "A" {
		t.Fatalf("expected conflict with A, got %+v %v", hit, ok)
	}
}

func TestOverlapHalfOpen(t *testing.T) {
	a := Slot{StartMinute: 8 * 60, DurationMinutes: 60}
	b := Slot{StartMinute: 9 * 60, DurationMinutes: 30}
	if Overlaps(a, b) || Overlaps(b, a) {
		t.Fatalf("adjacent slots must not overlap")
	}
}

func TestOverlapDoesNotWrapMidnight(t *testing.T) {
	late := Slot{StartMinute: 23*60 + 30, DurationMinutes: 60}
	early := Slot{StartMinute: 0, DurationMinutes: 30}
	if Overlaps(late, early) || Overlaps(early, late) {
		t.Fatalf("23:30+60 must not conflict with 00:00+30; slots do not wrap past midnight")
	}
}

func TestOverlapSymmetricUnderContainment(t *testing.T) {
	outer := Slot{StartMinute: 7 * 60, DurationMinutes: 240}
	inner := Slot{StartMinute: 8 * 60, DurationMinutes: 15}
	if !Overlaps(outer, inner) || !Overlaps(inner, outer) {
		t.Fatalf("containment must conflict in both directions")
	}
	if _, ok := FirstConflict([]Slot{outer}, inner); !ok {
		t.Fatalf("inner candidate should conflict with outer")
	}
	if _, ok := FirstConflict([]Slot{inner}, outer); !ok {
		t.Fatalf("outer candidate should conflict with inner")
	}
}

func TestParseClock(t *testing.T) {
	cases := map[string]int{"00:00": 0, "08:30": 510, "23:59": 1439, "08:30:00": 510}
	for in, want := range cases {
		got, err := ParseClock(in)
		if err != nil || got != want {
			t.Fatalf("ParseClock(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	if _, err := ParseClock("8h"); err == nil {
		t.Fatalf("expected error for malformed clock")
	}
	if FormatClock(510) != "08:30" {
		t.Fatalf("FormatClock(510) = %s", FormatClock(510))
	}
}

func TestNeedsConflictCheck(t *testing.T) {
	r := domain.Routine{Kind: domain.RoutineNormal, Recurrence: domain.Daily(), StartTime: "08:00"}
	if !NeedsConflictCheck(r) {
		t.Fatalf("normal daily routine with start time should be checked")
	}
	r.Recurrence = domain.Weekly(time.Monday)
	if NeedsConflictCheck(r) {
		t.Fatalf("weekly routines are not checked")
	}
	r.Recurrence = domain.Daily()
	r.Kind = domain.RoutineAdHoc
	if NeedsConflictCheck(r) {
		t.Fatalf("ad-hoc routines are not checked")
	}
	r.Kind = domain.RoutineNormal
	r.StartTime = ""
	if NeedsConflictCheck(r) {
		t.Fatalf("routines without start time are not checked")
	}
}
