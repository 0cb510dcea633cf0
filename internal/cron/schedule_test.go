package cron

import (
	"testing"
	"time"
)

func TestMatchesEveryMinute(t *testing.T) {
	ok, err := Matches("* * * * *", time.Date(2026, 1, 1, 10, 17, 0, 0, time.UTC))
	if err != nil || !ok {
		t.Fatalf("expected a wildcard expression to match, err=%v ok=%v", err, ok)
	}
}

func TestMatchesStep(t *testing.T) {
	ok, err := Matches("*/15 * * * *", time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC))
	if err != nil || !ok {
		t.Fatalf("expected :30 to satisfy */15, err=%v ok=%v", err, ok)
	}
	ok, err = Matches("*/15 * * * *", time.Date(2026, 1, 1, 10, 31, 0, 0, time.UTC))
	if err != nil || ok {
		t.Fatalf("expected :31 to not satisfy */15")
	}
}

func TestMatchesRangeAndList(t *testing.T) {
	ok, err := Matches("0 9-17 * * 1-5", time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)) // Monday
	if err != nil || !ok {
		t.Fatalf("expected weekday business hour to match, err=%v ok=%v", err, ok)
	}
	ok, err = Matches("0 9-17 * * 1-5", time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC)) // Sunday
	if err != nil || ok {
		t.Fatalf("expected Sunday to not match a weekday range")
	}
	ok, err = Matches("30 9 1,15 * *", time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC))
	if err != nil || !ok {
		t.Fatalf("expected day-of-month list to match the 15th")
	}
}

func TestParseFieldsRejectsWrongArity(t *testing.T) {
	if _, err := ParseFields("* * *"); err == nil {
		t.Fatal("expected an error for a 3-field expression")
	}
}

func TestNextTZAdvancesToNextMatchingMinute(t *testing.T) {
	after := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	next, ok, err := NextTZ("0 */5 * * *", after, time.UTC)
	if err != nil || !ok {
		t.Fatalf("NextTZ error=%v ok=%v", err, ok)
	}
	want := time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected next run at %v, got %v", want, next)
	}
}

func TestNextTZExclusiveOfAfter(t *testing.T) {
	after := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC) // itself matches "0 * * * *"
	next, ok, err := NextTZ("0 * * * *", after, time.UTC)
	if err != nil || !ok {
		t.Fatalf("NextTZ error=%v ok=%v", err, ok)
	}
	if !next.After(after) {
		t.Fatalf("expected NextTZ to be strictly after the anchor, got %v", next)
	}
	want := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("expected the following hour, got %v", next)
	}
}

func TestNextTZSpringForwardGapIsSkipped(t *testing.T) {
	// America/New_York: 2026-03-08 02:00 local springs forward to 03:00.
	loc := ParseTZ("America/New_York")
	after := time.Date(2026, 3, 8, 1, 59, 0, 0, loc)
	next, ok, err := NextTZ("30 2 * * *", after, loc)
	if err != nil || !ok {
		t.Fatalf("NextTZ error=%v ok=%v", err, ok)
	}
	// 02:30 never occurs on the spring-forward day; the next match must be
	// the following day.
	if next.In(loc).Day() == 8 {
		t.Fatalf("expected the nonexistent local minute skipped, got %v", next.In(loc))
	}
}

func TestNextTZFallBackResolvesToEarliestMapping(t *testing.T) {
	// America/New_York: 2026-11-01 01:30 local occurs twice (DST and standard).
	loc := ParseTZ("America/New_York")
	after := time.Date(2026, 11, 1, 0, 0, 0, 0, loc)
	next, ok, err := NextTZ("30 1 * * *", after, loc)
	if err != nil || !ok {
		t.Fatalf("NextTZ error=%v ok=%v", err, ok)
	}
	if next.In(loc).Hour() != 1 || next.In(loc).Minute() != 30 {
		t.Fatalf("expected 01:30 local, got %v", next.In(loc))
	}
}

func TestParseTZFallsBackToUTC(t *testing.T) {
	if loc := ParseTZ(""); loc != time.UTC {
		t.Fatalf("expected empty timezone to fall back to UTC, got %v", loc)
	}
	if loc := ParseTZ("Not/Real"); loc != time.UTC {
		t.Fatalf("expected an unknown timezone to fall back to UTC, got %v", loc)
	}
}

func TestCooldownMinutesDoublesAndCaps(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 2: 2, 3: 4, 4: 8, 11: 1024, 12: 1440, 30: 1440}
	for failures, want := range cases {
		if got := CooldownMinutes(failures); got != want {
			t.Fatalf("CooldownMinutes(%d) = %d, want %d", failures, got, want)
		}
	}
}
