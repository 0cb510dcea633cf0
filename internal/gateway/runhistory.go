package gateway

import (
	"sync"

	"github.com/relaygate/relaygate/internal/orchestrator"
)

// runEventHistory keeps a capped backward-looking log of each run's
// RunEvents, since orchestrator.RunStore only supports forward-looking
// Subscribe. The gateway appends to this as it drives a turn and
// publishes to RunStore in lockstep, so /v1/runs/{id}/events and
// /v1/runs/{id}/nodes have something to list for a run nobody is
// currently subscribed to.
type runEventHistory struct {
	mu     sync.Mutex
	cap    int
	events map[string][]orchestrator.RunEvent
}

func newRunEventHistory(capPerRun int) *runEventHistory {
	if capPerRun <= 0 {
		capPerRun = 500
	}
	return &runEventHistory{cap: capPerRun, events: make(map[string][]orchestrator.RunEvent)}
}

func (h *runEventHistory) append(runID string, ev orchestrator.RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	events := append(h.events[runID], ev)
	if len(events) > h.cap {
		events = events[len(events)-h.cap:]
	}
	h.events[runID] = events
}

func (h *runEventHistory) list(runID string) []orchestrator.RunEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]orchestrator.RunEvent, len(h.events[runID]))
	copy(out, h.events[runID])
	return out
}

// nodeEvents filters a run's history down to node dispatch events, the
// data behind /v1/runs/{id}/nodes.
func (h *runEventHistory) nodeEvents(runID string) []orchestrator.RunEvent {
	all := h.list(runID)
	out := make([]orchestrator.RunEvent, 0, len(all))
	for _, ev := range all {
		switch ev.Kind {
		case orchestrator.RunEventNodeStarted, orchestrator.RunEventNodeCompleted, orchestrator.RunEventNodeFailed:
			out = append(out, ev)
		}
	}
	return out
}
