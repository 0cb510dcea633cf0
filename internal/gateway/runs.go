package gateway

import (
	"net/http"

	"github.com/relaygate/relaygate/internal/orchestrator"
)

type runBody struct {
	ID         string `json:"id"`
	SessionKey string `json:"session_key"`
	Agent      string `json:"agent"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	EndedAt    string `json:"ended_at,omitempty"`
	Error      string `json:"error,omitempty"`
}

func toRunBody(r *orchestrator.Run) runBody {
	b := runBody{
		ID: r.ID, SessionKey: r.SessionKey, Agent: r.Agent,
		Status: string(r.Status), StartedAt: r.StartedAt.Format(rfc3339),
		Error: r.Error,
	}
	if !r.EndedAt.IsZero() {
		b.EndedAt = r.EndedAt.Format(rfc3339)
	}
	return b
}

const rfc3339 = "2006-01-02T15:04:05.999999999Z07:00"

// handleRunsList implements GET /v1/runs?session_key=&status=.
func (s *Server) handleRunsList(w http.ResponseWriter, r *http.Request) {
	filter := orchestrator.RunFilter{
		SessionKey: r.URL.Query().Get("session_key"),
		Status:     orchestrator.RunStatus(r.URL.Query().Get("status")),
	}
	runs := s.deps.Runs.List(filter)
	out := make([]runBody, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunBody(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*orchestrator.Run, bool) {
	run, ok := s.deps.Runs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run")
		return nil, false
	}
	return run, true
}

// handleRunGet implements GET /v1/runs/{id}.
func (s *Server) handleRunGet(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toRunBody(run))
}

type runEventBody struct {
	Kind         string `json:"kind"`
	Time         string `json:"time"`
	Status       string `json:"status,omitempty"`
	NodeID       string `json:"node_id,omitempty"`
	Message      string `json:"message,omitempty"`
	InputTokens  int64  `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
	TotalTokens  int64  `json:"total_tokens,omitempty"`
}

func toRunEventBody(ev orchestrator.RunEvent) runEventBody {
	return runEventBody{
		Kind: string(ev.Kind), Time: ev.Time.Format(rfc3339), Status: string(ev.Status),
		NodeID: ev.NodeID, Message: ev.Message,
		InputTokens: ev.InputTokens, OutputTokens: ev.OutputTokens, TotalTokens: ev.TotalTokens,
	}
}

// handleRunNodes implements GET /v1/runs/{id}/nodes: just the
// node-dispatch events from a run's history, a convenience filter over the
// same events handleRunEvents replays in full.
func (s *Server) handleRunNodes(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.lookupRun(w, r); !ok {
		return
	}
	events := s.history.nodeEvents(r.PathValue("id"))
	out := make([]runEventBody, 0, len(events))
	for _, ev := range events {
		out = append(out, toRunEventBody(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": out})
}

// handleRunEvents implements GET /v1/runs/{id}/events (SSE): replays the
// recorded history first, then streams live events until the run reaches a
// terminal state or the client disconnects.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	for _, ev := range s.history.list(run.ID) {
		if err := sse.send(string(ev.Kind), toRunEventBody(ev)); err != nil {
			return
		}
	}

	live, cancel := s.deps.Runs.Subscribe(run.ID)
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case ev, open := <-live:
			if !open {
				return
			}
			if err := sse.send(string(ev.Kind), toRunEventBody(ev)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
