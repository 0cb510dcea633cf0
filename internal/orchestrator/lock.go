package orchestrator

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrSessionBusy is returned by TryAcquire when session_key already holds an
// outstanding permit.
var ErrSessionBusy = errors.New("orchestrator: session busy")

// SessionLocks is a keyed single-permit semaphore registry:
// each session_key maps to a single-permit semaphore, guaranteeing at most
// one concurrent turn per session. Grounded on the per-session
// serialization around loop.Run (WithSession context injection in
// internal/agent/loop.go), made explicit here as its own registry since the
// turn orchestrator has no implicit session-scoped goroutine to lean on.
type SessionLocks struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewSessionLocks builds an empty registry.
func NewSessionLocks() *SessionLocks {
	return &SessionLocks{sems: make(map[string]*semaphore.Weighted)}
}

// Permit is held for the lifetime of one turn's event stream; Release drops
// it, permitting the next queued (or rejected, per TryAcquire) turn on the
// same session_key.
type Permit struct {
	sem *semaphore.Weighted
}

// Release drops the permit. Safe to call at most once.
func (p *Permit) Release() {
	if p == nil || p.sem == nil {
		return
	}
	p.sem.Release(1)
}

func (l *SessionLocks) semFor(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.sems[key] = sem
	}
	return sem
}

// TryAcquire returns a permit for key, or ErrSessionBusy if one is already
// held.
func (l *SessionLocks) TryAcquire(key string) (*Permit, error) {
	sem := l.semFor(key)
	if !sem.TryAcquire(1) {
		return nil, ErrSessionBusy
	}
	return &Permit{sem: sem}, nil
}

// Acquire blocks until a permit for key is available or ctx is done.
func (l *SessionLocks) Acquire(ctx context.Context, key string) (*Permit, error) {
	sem := l.semFor(key)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Permit{sem: sem}, nil
}
