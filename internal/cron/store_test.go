package cron

import (
	"testing"
	"time"

	"github.com/relaygate/relaygate/pkg/models"
)

func TestScheduleStoreInsertComputesNextRunAt(t *testing.T) {
	store, err := NewScheduleStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewScheduleStore: %v", err)
	}
	t.Cleanup(store.Close)

	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	sched := &models.Schedule{ID: "s1", Cron: "0 * * * *", Timezone: "UTC", Enabled: true}
	store.Insert(sched, now)

	if sched.NextRunAt == nil || !sched.NextRunAt.Equal(time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected next_run_at computed from cron, got %v", sched.NextRunAt)
	}
}

func TestScheduleStoreDueSchedulesRespectsEnabledAndCooldown(t *testing.T) {
	store, err := NewScheduleStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewScheduleStore: %v", err)
	}
	t.Cleanup(store.Close)

	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	enabled := &models.Schedule{ID: "due", Enabled: true, NextRunAt: &past}
	disabled := &models.Schedule{ID: "disabled", Enabled: false, NextRunAt: &past}
	notYet := &models.Schedule{ID: "future", Enabled: true, NextRunAt: &future}
	cooling := &models.Schedule{ID: "cooling", Enabled: true, NextRunAt: &past, CooldownUntil: &future}

	for _, s := range []*models.Schedule{enabled, disabled, notYet, cooling} {
		store.Insert(s, now)
		// Insert recomputes NextRunAt if Enabled and Cron set; these schedules
		// have no cron, so NextTZ fails and NextRunAt is left as set above.
	}

	due := store.DueSchedules(now)
	if len(due) != 1 || due[0].ID != "due" {
		t.Fatalf("expected only the due, enabled, non-cooling schedule, got %+v", due)
	}
}

func TestScheduleStoreRecordFailureSetsCooldown(t *testing.T) {
	store, err := NewScheduleStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewScheduleStore: %v", err)
	}
	t.Cleanup(store.Close)

	now := time.Now()
	sched := &models.Schedule{ID: "s1"}
	store.Insert(sched, now)

	store.RecordFailure("s1", "boom", now)
	updated, _ := store.Get("s1")
	if updated.ConsecutiveFailures != 1 || updated.LastError != "boom" {
		t.Fatalf("unexpected failure state: %+v", updated)
	}
	if updated.CooldownUntil == nil || !updated.CooldownUntil.After(now) {
		t.Fatalf("expected a cooldown set after the first failure, got %v", updated.CooldownUntil)
	}

	store.RecordSuccess("s1", now)
	updated, _ = store.Get("s1")
	if updated.ConsecutiveFailures != 0 || updated.CooldownUntil != nil {
		t.Fatalf("expected failure state cleared after success, got %+v", updated)
	}
}

func TestScheduleStoreAddUsageAccumulates(t *testing.T) {
	store, err := NewScheduleStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewScheduleStore: %v", err)
	}
	t.Cleanup(store.Close)

	sched := &models.Schedule{ID: "s1"}
	store.Insert(sched, time.Now())
	store.AddUsage("s1", 10, 5)
	store.AddUsage("s1", 3, 1)

	updated, _ := store.Get("s1")
	if updated.UsageTotals.Input != 13 || updated.UsageTotals.Output != 6 || updated.UsageTotals.Total != 19 {
		t.Fatalf("expected accumulated usage totals, got %+v", updated.UsageTotals)
	}
}

func TestScheduleStorePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewScheduleStore(dir)
	if err != nil {
		t.Fatalf("NewScheduleStore: %v", err)
	}
	store.Insert(&models.Schedule{ID: "s1", Name: "persisted"}, time.Now())
	if err := store.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	store.Close()

	reloaded, err := NewScheduleStore(dir)
	if err != nil {
		t.Fatalf("NewScheduleStore (reload): %v", err)
	}
	t.Cleanup(reloaded.Close)

	got, ok := reloaded.Get("s1")
	if !ok || got.Name != "persisted" {
		t.Fatalf("expected the schedule to survive a reload, got %+v ok=%v", got, ok)
	}
}

func TestScheduleStoreDeleteAndList(t *testing.T) {
	store, err := NewScheduleStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewScheduleStore: %v", err)
	}
	t.Cleanup(store.Close)

	store.Insert(&models.Schedule{ID: "a"}, time.Now())
	store.Insert(&models.Schedule{ID: "b"}, time.Now())
	if len(store.List()) != 2 {
		t.Fatalf("expected 2 schedules listed")
	}
	if !store.Delete("a") {
		t.Fatal("expected delete of an existing schedule to succeed")
	}
	if store.Delete("a") {
		t.Fatal("expected a second delete to report not found")
	}
	if len(store.List()) != 1 {
		t.Fatalf("expected 1 schedule remaining after delete")
	}
}
