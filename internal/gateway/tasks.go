package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/relaygate/relaygate/internal/orchestrator"
	"github.com/relaygate/relaygate/pkg/models"
)

type taskRequest struct {
	SessionKey string `json:"session_key"`
	Text       string `json:"text"`
	Model      string `json:"model,omitempty"`
	Agent      string `json:"agent,omitempty"`
}

type taskResponse struct {
	RunID      string `json:"run_id"`
	SessionKey string `json:"session_key"`
	Status     string `json:"status"`
}

// handleTaskCreate implements POST /v1/tasks: starts a turn in the
// background and returns immediately with the run id, leaving progress and
// the eventual result to GET /v1/tasks/{id} and /v1/tasks/{id}/events.
func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionKey == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "session_key and text are required")
		return
	}

	agent := req.Agent
	if agent == "" {
		agent = s.deps.DefaultAgentID
	}

	if s.deps.Quota != nil {
		if err := s.deps.Quota.CheckQuota(agent); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
	}
	if s.deps.ProviderRegistry == nil || s.deps.ProviderRegistry.IsEmpty() {
		writeError(w, http.StatusServiceUnavailable, "no LLM providers configured")
		return
	}

	now := time.Now()
	entry := s.deps.Sessions.ResolveOrCreate(req.SessionKey, models.Origin{}, now)
	if s.deps.Expiry != nil && s.deps.Expiry.CheckExpiry(entry, "", "") {
		entry, _ = s.deps.Sessions.Reset(req.SessionKey, now)
	}

	permit, err := s.deps.Locks.TryAcquire(req.SessionKey)
	if err != nil {
		writeError(w, http.StatusTooManyRequests, "session busy")
		return
	}

	in := orchestrator.TurnInput{
		SessionKey:  req.SessionKey,
		SessionID:   entry.SessionID,
		UserMessage: req.Text,
		Model:       req.Model,
		Agent:       agent,
		System:      orchestrator.BuildSystemContext(orchestrator.SystemContextInput{}),
	}

	run := s.startRun(req.SessionKey, agent)

	// Detached from the request context: the whole point of a task is that
	// it keeps running after the HTTP response returns.
	ctx, end := s.beginTask(context.Background(), run.ID)
	go func() {
		defer permit.Release()
		defer end()
		s.driveTurn(ctx, run.ID, in, nil)
	}()

	writeJSON(w, http.StatusAccepted, taskResponse{RunID: run.ID, SessionKey: req.SessionKey, Status: string(orchestrator.RunRunning)})
}

// handleTaskGet implements GET /v1/tasks/{id}, an alias over the same run
// record /v1/runs/{id} exposes.
func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	run, ok := s.deps.Runs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	writeJSON(w, http.StatusOK, toRunBody(run))
}

// handleTaskDelete implements DELETE /v1/tasks/{id}: cancels the background
// run if it is still in flight.
func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.deps.Runs.Get(id); !ok {
		writeError(w, http.StatusNotFound, "unknown task")
		return
	}
	if !s.stopTask(id) {
		writeError(w, http.StatusConflict, "task already finished")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
}

// handleTaskEvents implements GET /v1/tasks/{id}/events, the same
// replay-then-live SSE stream as /v1/runs/{id}/events.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	s.handleRunEvents(w, r)
}
