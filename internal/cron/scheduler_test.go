package cron

import (
	"context"
	"testing"
	"time"

	"github.com/relaygate/relaygate/internal/orchestrator"
	"github.com/relaygate/relaygate/internal/providers"
	"github.com/relaygate/relaygate/internal/sessions"
	"github.com/relaygate/relaygate/pkg/models"
)

type fakeScheduleProvider struct{ text string }

func (f *fakeScheduleProvider) ID() string { return "fake" }
func (f *fakeScheduleProvider) Capabilities() providers.Capabilities {
	return providers.Capabilities{SupportsStreaming: true}
}
func (f *fakeScheduleProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return nil, nil
}
func (f *fakeScheduleProvider) ChatStream(ctx context.Context, req providers.ChatRequest) (<-chan providers.StreamEvent, error) {
	out := make(chan providers.StreamEvent, 2)
	out <- providers.StreamEvent{Kind: providers.EventToken, Text: f.text}
	out <- providers.StreamEvent{Kind: providers.EventDone, Usage: &providers.Usage{InputTokens: 5, OutputTokens: 1, TotalTokens: 6}}
	close(out)
	return out, nil
}

func newTestTurn(t *testing.T, text string) *orchestrator.Turn {
	t.Helper()
	registry := providers.NewRegistry()
	registry.Register("fake", &fakeScheduleProvider{text: text})
	store := sessions.NewTranscriptStore(t.TempDir())
	t.Cleanup(store.Close)
	return orchestrator.New(orchestrator.Config{Registry: registry, Transcripts: store})
}

func newTestSchedule(id string) *models.Schedule {
	return &models.Schedule{
		ID: id, Name: "digest", Cron: "* * * * *", Timezone: "UTC", Enabled: true,
		PromptTemplate: "say hi", MissedPolicy: models.MissedRunOnce,
		MaxConcurrency: 1, MaxCatchupRuns: 5,
	}
}

func TestScheduleRunnerTickFiresDueSchedule(t *testing.T) {
	dir := t.TempDir()
	store, err := NewScheduleStore(dir)
	if err != nil {
		t.Fatalf("NewScheduleStore: %v", err)
	}
	t.Cleanup(store.Close)

	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	sched := newTestSchedule("s1")
	store.Insert(sched, now)
	past := now.Add(-time.Minute)
	sched.NextRunAt = &past

	deliveries := NewDeliveryStore()
	runs := orchestrator.NewRunStore(16)
	runner := NewScheduleRunner(store, deliveries, newTestTurn(t, "hello from schedule"), runs, WithNow(func() time.Time { return now }))

	runner.Tick(context.Background())

	deadline := time.After(2 * time.Second)
	for {
		if deliveries.UnreadCount() > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected a delivery to be created")
		case <-time.After(10 * time.Millisecond):
		}
	}

	list := deliveries.List("s1", 0, 0)
	if len(list) != 1 || list[0].Body != "hello from schedule" {
		t.Fatalf("unexpected delivery: %+v", list)
	}

	updated, ok := store.Get("s1")
	if !ok || updated.LastRunID == "" {
		t.Fatalf("expected last_run_id recorded, got %+v", updated)
	}
}

func TestScheduleRunnerTickWithZeroRunsAdvancesNextRun(t *testing.T) {
	dir := t.TempDir()
	store, err := NewScheduleStore(dir)
	if err != nil {
		t.Fatalf("NewScheduleStore: %v", err)
	}
	t.Cleanup(store.Close)

	now := time.Date(2026, 1, 1, 13, 0, 0, 0, time.UTC)
	sched := newTestSchedule("s2")
	sched.Cron = "0 * * * *"
	sched.MissedPolicy = models.MissedSkip
	store.Insert(sched, now)
	last := now.Add(-3 * time.Hour)
	sched.LastRunAt = &last
	past := now.Add(-time.Minute)
	sched.NextRunAt = &past

	deliveries := NewDeliveryStore()
	runs := orchestrator.NewRunStore(16)
	runner := NewScheduleRunner(store, deliveries, newTestTurn(t, "unused"), runs, WithNow(func() time.Time { return now }))

	runner.Tick(context.Background())

	time.Sleep(20 * time.Millisecond) // no run should have spawned
	if deliveries.UnreadCount() != 0 {
		t.Fatalf("expected the skip policy to drop >1 missed windows, got a delivery")
	}

	updated, ok := store.Get("s2")
	if !ok || updated.NextRunAt == nil || !updated.NextRunAt.After(now) {
		t.Fatalf("expected next_run_at advanced past now, got %+v", updated.NextRunAt)
	}
}

func TestScheduleRunnerConcurrencyLimitStopsSpawning(t *testing.T) {
	dir := t.TempDir()
	store, err := NewScheduleStore(dir)
	if err != nil {
		t.Fatalf("NewScheduleStore: %v", err)
	}
	t.Cleanup(store.Close)

	runner := NewScheduleRunner(store, NewDeliveryStore(), newTestTurn(t, "x"), orchestrator.NewRunStore(16))
	if !runner.concurrency.TryAcquire("s3", 1) {
		t.Fatal("expected the first acquire to succeed")
	}

	sched := newTestSchedule("s3")
	sched.MaxConcurrency = 1
	store.Insert(sched, time.Now())

	if err := runner.RunNow(context.Background(), "s3"); err == nil {
		t.Fatal("expected RunNow to fail while the schedule is already at its concurrency limit")
	}
}
