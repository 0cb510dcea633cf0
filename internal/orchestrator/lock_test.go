package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSessionLocksTryAcquireIsExclusivePerKey(t *testing.T) {
	locks := NewSessionLocks()

	permit, err := locks.TryAcquire("session-a")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	if _, err := locks.TryAcquire("session-a"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("expected ErrSessionBusy on a second acquire, got %v", err)
	}

	if _, err := locks.TryAcquire("session-b"); err != nil {
		t.Fatalf("expected a different session_key to acquire freely, got %v", err)
	}

	permit.Release()
	if _, err := locks.TryAcquire("session-a"); err != nil {
		t.Fatalf("expected acquire to succeed after release, got %v", err)
	}
}

func TestSessionLocksAcquireBlocksUntilReleased(t *testing.T) {
	locks := NewSessionLocks()
	permit, err := locks.TryAcquire("session-a")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		p, err := locks.Acquire(context.Background(), "session-a")
		if err != nil {
			return
		}
		p.Release()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("expected Acquire to block while the permit is held")
	case <-time.After(50 * time.Millisecond):
	}

	permit.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("expected Acquire to unblock after Release")
	}
}

func TestSessionLocksAcquireRespectsContextCancel(t *testing.T) {
	locks := NewSessionLocks()
	_, err := locks.TryAcquire("session-a")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := locks.Acquire(ctx, "session-a"); err == nil {
		t.Fatal("expected Acquire to return an error once the context is done")
	}
}
