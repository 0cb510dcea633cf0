// Package cron implements the gateway's scheduler: a
// timezone-aware 5-field cron evaluator, missed-window policy, a tick loop
// that spawns scheduled turns, and webhook delivery with retry.
//
// Grounded on internal/cron's package (tick loop shape, Option-based
// Scheduler construction, execution history store) and on
// original_source's crates/gateway/src/runtime/schedules/cron.rs for the
// DST-safe cron_next_tz advancement, which a plain robfig/cron/v3 based
// schedule.Next did not need (at/every/cron jobs never required
// missed-window catch-up or an explicit earliest-mapping/gap-skip
// guarantee).
package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// matchField reports whether value satisfies a single cron field: "*",
// "*/N", "a,b,c", "a-b", or a bare integer.
func matchField(field string, value int) bool {
	if field == "*" {
		return true
	}
	if step, ok := strings.CutPrefix(field, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 {
			return false
		}
		return value%n == 0
	}
	for _, part := range strings.Split(field, ",") {
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err1 := strconv.Atoi(lo)
			end, err2 := strconv.Atoi(hi)
			if err1 == nil && err2 == nil && value >= start && value <= end {
				return true
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err == nil && value == n {
			return true
		}
	}
	return false
}

// ParseFields splits a 5-field cron expression (min hour dom month dow).
func ParseFields(expr string) ([5]string, error) {
	var fields [5]string
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return fields, fmt.Errorf("cron: expected 5 fields (min hour dom month dow), got %d in %q", len(parts), expr)
	}
	copy(fields[:], parts)
	return fields, nil
}

// matchesLocal reports whether local time t satisfies the 5-field cron
// expression.
func matchesLocal(fields [5]string, t time.Time) bool {
	return matchField(fields[0], t.Minute()) &&
		matchField(fields[1], t.Hour()) &&
		matchField(fields[2], t.Day()) &&
		matchField(fields[3], int(t.Month())) &&
		matchField(fields[4], int(t.Weekday()))
}

// Matches reports whether UTC time t satisfies expr.
func Matches(expr string, t time.Time) (bool, error) {
	fields, err := ParseFields(expr)
	if err != nil {
		return false, err
	}
	return matchesLocal(fields, t.UTC()), nil
}

// ParseTZ parses an IANA timezone name, falling back to UTC on an empty or
// unknown name.
func ParseTZ(tz string) *time.Location {
	if strings.TrimSpace(tz) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

const maxNextMinuteChecks = 366 * 24 * 60 // one year of minutes

// NextTZ advances minute-by-minute from after (exclusive) up to one year,
// evaluating expr in loc, and returns the next matching UTC instant.
// Spring-forward gaps are skipped since that local minute never occurs;
// fall-back overlaps resolve to the earliest mapping — both fall out of
// re-anchoring each naive (year, month, day, hour, minute) reading with
// time.Date in loc and checking it round-trips to the same wall clock.
func NextTZ(expr string, after time.Time, loc *time.Location) (time.Time, bool, error) {
	fields, err := ParseFields(expr)
	if err != nil {
		return time.Time{}, false, err
	}
	if loc == nil {
		loc = time.UTC
	}

	local := after.In(loc)
	candidate := local.Truncate(time.Minute).Add(time.Minute)

	for i := 0; i < maxNextMinuteChecks; i++ {
		if matchesLocal(fields, candidate) {
			if resolved, ok := resolveLocal(candidate, loc); ok {
				return resolved.UTC(), true, nil
			}
			// Spring-forward gap: this local minute does not exist. Skip it.
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, false, nil
}

// resolveLocal re-anchors a naive (year, month, day, hour, minute) reading
// in loc, reporting false if that wall-clock instant falls in a
// spring-forward gap (time.Date silently rolls it forward past the
// transition, changing the hour or day) rather than landing on an
// unambiguous or ambiguous-but-earliest instant.
func resolveLocal(candidate time.Time, loc *time.Location) (time.Time, bool) {
	resolved := time.Date(candidate.Year(), candidate.Month(), candidate.Day(),
		candidate.Hour(), candidate.Minute(), 0, 0, loc)
	if resolved.Hour() != candidate.Hour() || resolved.Minute() != candidate.Minute() || resolved.Day() != candidate.Day() {
		return time.Time{}, false
	}
	return resolved, true
}

// NextN computes up to n occurrences of expr after after, evaluated in loc.
func NextN(expr string, after time.Time, n int, loc *time.Location) ([]time.Time, error) {
	out := make([]time.Time, 0, n)
	cursor := after
	for i := 0; i < n; i++ {
		next, ok, err := NextTZ(expr, cursor, loc)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, next)
		cursor = next
	}
	return out, nil
}

// CooldownMinutes computes the exponential back-off after
// consecutive run failures: 2^(failures-1) minutes, capped at 24h, 0 when
// there have been no failures.
func CooldownMinutes(consecutiveFailures int) int {
	if consecutiveFailures <= 0 {
		return 0
	}
	const capMinutes = 24 * 60
	exp := consecutiveFailures - 1
	if exp > 20 {
		exp = 20
	}
	minutes := 1 << uint(exp)
	if minutes > capMinutes {
		minutes = capMinutes
	}
	return minutes
}
