package cron

import (
	"time"

	"github.com/relaygate/relaygate/pkg/models"
)

// MissedWindowCount counts whole cron windows that fall between lastRunAt
// (exclusive) and now, capped at maxCatchup. A schedule that has never run
// counts as exactly one missed window. Grounded on original_source's
// missed_window_count (schedule_runner.rs).
func MissedWindowCount(cronExpr string, loc *time.Location, lastRunAt *time.Time, now time.Time, maxCatchup int) int {
	if lastRunAt == nil {
		return 1
	}
	count := 0
	cursor := *lastRunAt
	for {
		next, ok, err := NextTZ(cronExpr, cursor, loc)
		if err != nil || !ok || next.After(now) {
			break
		}
		count++
		cursor = next
		if count > maxCatchup {
			break
		}
	}
	return count
}

// RunsToFire applies a MissedPolicy to the missed-window count to decide
// how many runs to spawn this tick.
func RunsToFire(policy models.MissedPolicy, cronExpr string, loc *time.Location, lastRunAt *time.Time, now time.Time, maxCatchup int) int {
	missed := MissedWindowCount(cronExpr, loc, lastRunAt, now, maxCatchup)
	switch policy {
	case models.MissedSkip:
		if missed > 1 {
			return 0
		}
		return missed
	case models.MissedCatchUp:
		if missed > maxCatchup {
			return maxCatchup
		}
		return missed
	default: // models.MissedRunOnce
		if missed > 1 {
			return 1
		}
		return missed
	}
}
