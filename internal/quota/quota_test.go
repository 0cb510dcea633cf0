package quota

import (
	"testing"
	"time"
)

func ptrI(v int64) *int64    { return &v }
func ptrF(v float64) *float64 { return &v }

func newFixedClockTracker(cfg Config, at time.Time) *Tracker {
	tr := New(cfg)
	tr.now = func() time.Time { return at }
	return tr
}

func makeConfig() Config {
	return Config{
		DefaultDailyTokens:  ptrI(10_000),
		DefaultDailyCostUSD: ptrF(5.0),
		PerAgent: map[string]AgentQuota{
			"planner": {DailyTokens: ptrI(5000), DailyCostUSD: ptrF(1.0)},
		},
	}
}

func TestNoUsagePassesCheck(t *testing.T) {
	tr := newFixedClockTracker(makeConfig(), time.Now())
	if err := tr.CheckQuota(""); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := tr.CheckQuota("planner"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestRecordAndCheckTokens(t *testing.T) {
	now := time.Now()
	tr := newFixedClockTracker(makeConfig(), now)

	tr.RecordUsage("planner", 4999, 0)
	if err := tr.CheckQuota("planner"); err != nil {
		t.Fatalf("expected within limit, got %v", err)
	}

	tr.RecordUsage("planner", 1, 0)
	err := tr.CheckQuota("planner")
	if err == nil {
		t.Fatal("expected quota exceeded")
	}
	exceeded, ok := err.(*Exceeded)
	if !ok || exceeded.Kind != "tokens" || exceeded.Used != 5000 || exceeded.Limit != 5000 {
		t.Fatalf("unexpected exceeded error: %+v", err)
	}
}

func TestRecordAndCheckCost(t *testing.T) {
	tr := newFixedClockTracker(makeConfig(), time.Now())

	tr.RecordUsage("", 0, 4.99)
	if err := tr.CheckQuota(""); err != nil {
		t.Fatalf("expected within limit, got %v", err)
	}

	tr.RecordUsage("", 0, 0.01)
	err := tr.CheckQuota("")
	exceeded, ok := err.(*Exceeded)
	if !ok || exceeded.Kind != "cost" {
		t.Fatalf("expected a cost exceeded error, got %v", err)
	}
}

func TestDefaultFallbackForUnknownAgent(t *testing.T) {
	tr := newFixedClockTracker(makeConfig(), time.Now())
	tr.RecordUsage("researcher", 10_000, 0)
	err := tr.CheckQuota("researcher")
	exceeded, ok := err.(*Exceeded)
	if !ok || exceeded.Kind != "tokens" || exceeded.Limit != 10_000 {
		t.Fatalf("expected fallback to default token limit, got %v", err)
	}
}

func TestNoLimitsConfiguredAlwaysPasses(t *testing.T) {
	tr := newFixedClockTracker(Config{}, time.Now())
	tr.RecordUsage("", 999_999, 999.0)
	if err := tr.CheckQuota(""); err != nil {
		t.Fatalf("expected no limits to mean no error, got %v", err)
	}
}

func TestUsageRollsOverAtUTCDateChange(t *testing.T) {
	day1 := time.Date(2026, 1, 1, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 2, 0, 1, 0, 0, time.UTC)

	tr := New(makeConfig())
	tr.now = func() time.Time { return day1 }
	tr.RecordUsage("planner", 5000, 0)
	if err := tr.CheckQuota("planner"); err == nil {
		t.Fatal("expected quota exceeded on day 1")
	}

	tr.now = func() time.Time { return day2 }
	if err := tr.CheckQuota("planner"); err != nil {
		t.Fatalf("expected the new UTC day to reset usage, got %v", err)
	}
	tr.RecordUsage("planner", 1, 0)
	got := tr.Snapshot()
	for _, s := range got {
		if s.AgentID == "planner" && s.TokensUsed != 1 {
			t.Fatalf("expected rolled-over usage to start from 0, got %d", s.TokensUsed)
		}
	}
}

func TestSnapshotIncludesConfiguredAndActiveAgents(t *testing.T) {
	tr := newFixedClockTracker(makeConfig(), time.Now())
	tr.RecordUsage("executor", 100, 0.01)

	snap := tr.Snapshot()
	ids := make(map[string]bool)
	for _, s := range snap {
		ids[s.AgentID] = true
	}
	for _, want := range []string{"executor", "planner", "default"} {
		if !ids[want] {
			t.Fatalf("expected snapshot to include %q, got %+v", want, snap)
		}
	}
}
