package orchestrator

import (
	"testing"
	"time"
)

func TestRunStoreCreateAndGet(t *testing.T) {
	store := NewRunStore(4)
	run := &Run{ID: "r1", SessionKey: "s1", Status: RunQueued, StartedAt: time.Now()}
	store.Create(run)

	got, ok := store.Get("r1")
	if !ok || got.ID != "r1" {
		t.Fatalf("expected to find run r1, got %+v ok=%v", got, ok)
	}
}

func TestRunStoreListFiltersBySessionAndStatus(t *testing.T) {
	store := NewRunStore(4)
	store.Create(&Run{ID: "r1", SessionKey: "s1", Status: RunRunning, StartedAt: time.Now()})
	store.Create(&Run{ID: "r2", SessionKey: "s2", Status: RunCompleted, StartedAt: time.Now().Add(time.Second)})
	store.Create(&Run{ID: "r3", SessionKey: "s1", Status: RunCompleted, StartedAt: time.Now().Add(2 * time.Second)})

	bySession := store.List(RunFilter{SessionKey: "s1"})
	if len(bySession) != 2 {
		t.Fatalf("expected 2 runs for s1, got %d", len(bySession))
	}

	byStatus := store.List(RunFilter{Status: RunCompleted})
	if len(byStatus) != 2 {
		t.Fatalf("expected 2 completed runs, got %d", len(byStatus))
	}
}

func TestRunStoreListOrdersMostRecentFirst(t *testing.T) {
	store := NewRunStore(4)
	now := time.Now()
	store.Create(&Run{ID: "old", StartedAt: now})
	store.Create(&Run{ID: "new", StartedAt: now.Add(time.Minute)})

	runs := store.List(RunFilter{})
	if runs[0].ID != "new" || runs[1].ID != "old" {
		t.Fatalf("expected newest run first, got %v, %v", runs[0].ID, runs[1].ID)
	}
}

func TestRunStorePublishDeliversToSubscriber(t *testing.T) {
	store := NewRunStore(4)
	store.Create(&Run{ID: "r1", Status: RunRunning, StartedAt: time.Now()})

	ch, cancel := store.Subscribe("r1")
	defer cancel()

	store.Publish("r1", RunEvent{Kind: RunEventLog, Message: "working"})

	select {
	case ev := <-ch:
		if ev.Kind != RunEventLog || ev.Message != "working" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("expected to receive the published event")
	}
}

func TestRunStoreUpdateStatusClosesChannelOnTerminal(t *testing.T) {
	store := NewRunStore(4)
	store.Create(&Run{ID: "r1", Status: RunRunning, StartedAt: time.Now()})

	ch, cancel := store.Subscribe("r1")
	defer cancel()

	store.UpdateStatus("r1", RunCompleted, "")

	var sawStatus bool
	for ev := range ch {
		if ev.Kind == RunEventStatus && ev.Status == RunCompleted {
			sawStatus = true
		}
	}
	if !sawStatus {
		t.Fatal("expected a terminal RunEventStatus before the channel closed")
	}

	run, ok := store.Get("r1")
	if !ok || run.Status != RunCompleted {
		t.Fatalf("expected run status updated, got %+v", run)
	}
	if run.EndedAt.IsZero() {
		t.Fatal("expected EndedAt set on terminal transition")
	}
}

func TestRunStoreSubscribeToAlreadyTerminalRunReturnsSnapshot(t *testing.T) {
	store := NewRunStore(4)
	store.Create(&Run{ID: "r1", Status: RunFailed, StartedAt: time.Now(), EndedAt: time.Now()})

	ch, cancel := store.Subscribe("r1")
	defer cancel()

	ev, ok := <-ch
	if !ok {
		t.Fatal("expected one snapshot event before the channel closes")
	}
	if ev.Status != RunFailed {
		t.Fatalf("expected the terminal status snapshot, got %+v", ev)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected the channel closed after the snapshot")
	}
}

func TestRunStorePublishLagTracksDroppedEvents(t *testing.T) {
	store := NewRunStore(1)
	store.Create(&Run{ID: "r1", Status: RunRunning, StartedAt: time.Now()})

	ch, cancel := store.Subscribe("r1")
	defer cancel()

	// Fill the one-slot buffer, then force a drop.
	store.Publish("r1", RunEvent{Kind: RunEventLog, Message: "first"})
	store.Publish("r1", RunEvent{Kind: RunEventLog, Message: "second"})

	first := <-ch
	if first.Message != "first" {
		t.Fatalf("expected the buffered event first, got %+v", first)
	}

	store.Publish("r1", RunEvent{Kind: RunEventLog, Message: "third"})

	next := <-ch
	if next.Kind != RunEventLagged {
		t.Fatalf("expected a lagged warning before resuming delivery, got %+v", next)
	}
}
