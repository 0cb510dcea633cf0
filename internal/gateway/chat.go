package gateway

import (
	"net/http"
	"time"

	"github.com/relaygate/relaygate/internal/orchestrator"
	"github.com/relaygate/relaygate/pkg/models"
)

// chatRequest is the wire shape for /v1/chat and /v1/chat/stream.
type chatRequest struct {
	SessionKey     string `json:"session_key"`
	Text           string `json:"text"`
	Model          string `json:"model,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	Agent          string `json:"agent,omitempty"`
}

type usageBody struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

type chatResponse struct {
	SessionKey string    `json:"session_key"`
	SessionID  string    `json:"session_id"`
	RunID      string    `json:"run_id"`
	Text       string    `json:"text"`
	Stopped    bool      `json:"stopped,omitempty"`
	Error      string    `json:"error,omitempty"`
	Usage      usageBody `json:"usage"`
}

// resolveChatInput validates the request, checks quota, resolves the
// session entry (applying any due auto-reset), and builds the TurnInput the
// orchestrator expects. Returns the session entry and agent id alongside
// the input so callers can acquire the right lock and build a response.
func (s *Server) resolveChatInput(w http.ResponseWriter, r *http.Request) (orchestrator.TurnInput, *models.SessionEntry, string, bool) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return orchestrator.TurnInput{}, nil, "", false
	}
	if req.SessionKey == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "session_key and text are required")
		return orchestrator.TurnInput{}, nil, "", false
	}

	agent := req.Agent
	if agent == "" {
		agent = s.deps.DefaultAgentID
	}

	if s.deps.Quota != nil {
		if err := s.deps.Quota.CheckQuota(agent); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return orchestrator.TurnInput{}, nil, "", false
		}
	}
	if s.deps.ProviderRegistry == nil || s.deps.ProviderRegistry.IsEmpty() {
		writeError(w, http.StatusServiceUnavailable, "no LLM providers configured")
		return orchestrator.TurnInput{}, nil, "", false
	}

	now := time.Now()
	entry := s.deps.Sessions.ResolveOrCreate(req.SessionKey, models.Origin{}, now)
	if s.deps.Expiry != nil && s.deps.Expiry.CheckExpiry(entry, "", "") {
		entry, _ = s.deps.Sessions.Reset(req.SessionKey, now)
	}

	in := orchestrator.TurnInput{
		SessionKey:     req.SessionKey,
		SessionID:      entry.SessionID,
		UserMessage:    req.Text,
		Model:          req.Model,
		ResponseFormat: req.ResponseFormat,
		Agent:          agent,
		System:         orchestrator.BuildSystemContext(orchestrator.SystemContextInput{}),
	}
	return in, entry, agent, true
}

// handleChat implements POST /v1/chat: a non-streaming turn. 429 on a busy
// session, 503 if no provider is configured.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	in, entry, agent, ok := s.resolveChatInput(w, r)
	if !ok {
		return
	}

	permit, err := s.deps.Locks.TryAcquire(in.SessionKey)
	if err != nil {
		writeError(w, http.StatusTooManyRequests, "session busy")
		return
	}
	defer permit.Release()

	ctx, end := s.beginTurn(r.Context(), in.SessionKey)
	defer end()

	run := s.startRun(in.SessionKey, agent)
	outcome := s.driveTurn(ctx, run.ID, in, nil)

	writeJSON(w, http.StatusOK, chatResponse{
		SessionKey: in.SessionKey,
		SessionID:  entry.SessionID,
		RunID:      run.ID,
		Text:       outcome.Text,
		Stopped:    outcome.Stopped,
		Error:      outcome.ErrorMsg,
		Usage: usageBody{
			InputTokens:  int64(outcome.Usage.InputTokens),
			OutputTokens: int64(outcome.Usage.OutputTokens),
			TotalTokens:  int64(outcome.Usage.TotalTokens),
		},
	})
}

// handleChatStream implements POST /v1/chat/stream: one SSE event per
// TurnEvent, the event's tag being the variant name.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	in, _, agent, ok := s.resolveChatInput(w, r)
	if !ok {
		return
	}

	permit, err := s.deps.Locks.TryAcquire(in.SessionKey)
	if err != nil {
		writeError(w, http.StatusTooManyRequests, "session busy")
		return
	}
	defer permit.Release()

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, end := s.beginTurn(r.Context(), in.SessionKey)
	defer end()

	run := s.startRun(in.SessionKey, agent)
	s.driveTurn(ctx, run.ID, in, func(ev orchestrator.TurnEvent) {
		_ = sse.send(string(ev.Kind), turnEventBody(ev))
	})
}

// turnEventBody mirrors a TurnEvent's populated fields into a plain map so
// each SSE data payload carries only the fields relevant to its kind.
func turnEventBody(ev orchestrator.TurnEvent) map[string]any {
	body := map[string]any{}
	switch ev.Kind {
	case orchestrator.EventAssistantDelta, orchestrator.EventThought, orchestrator.EventFinal, orchestrator.EventStopped:
		body["text"] = ev.Text
	case orchestrator.EventToolCall:
		body["call_id"] = ev.CallID
		body["tool_name"] = ev.ToolName
		body["arguments"] = ev.Arguments
	case orchestrator.EventToolResult:
		body["call_id"] = ev.CallID
		body["tool_name"] = ev.ToolName
		body["result"] = ev.Result
		body["is_error"] = ev.IsError
	case orchestrator.EventUsage:
		body["input_tokens"] = ev.InputTokens
		body["output_tokens"] = ev.OutputTokens
		body["total_tokens"] = ev.TotalTokens
	case orchestrator.EventError:
		body["message"] = ev.Message
	}
	return body
}
