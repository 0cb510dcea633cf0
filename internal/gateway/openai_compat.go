package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/relaygate/relaygate/internal/orchestrator"
	"github.com/relaygate/relaygate/pkg/models"
)

// openAIMessage is one message in an OpenAI-compatible chat request.
type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAICompletionsRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream,omitempty"`
}

type openAIErrorBody struct {
	Error openAIError `json:"error"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func writeOpenAIError(w http.ResponseWriter, status int, typ, message string) {
	writeJSON(w, status, openAIErrorBody{Error: openAIError{Message: message, Type: typ}})
}

type openAIChoice struct {
	Index        int           `json:"index"`
	Message      openAIMessage `json:"message,omitempty"`
	Delta        openAIMessage `json:"delta,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

type openAICompletionsResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// handleOpenAICompletions implements POST /v1/chat/completions: an
// OpenAI-compatible surface over the same turn orchestrator, using one
// ephemeral session per call — the caller supplies the full message history
// every time, like the real OpenAI API, so the gateway keeps no state
// between calls on this path.
func (s *Server) handleOpenAICompletions(w http.ResponseWriter, r *http.Request) {
	var req openAICompletionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}
	if len(req.Messages) == 0 {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}

	var system string
	var lastUser string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			lastUser = m.Content
		}
	}
	if lastUser == "" {
		writeOpenAIError(w, http.StatusBadRequest, "invalid_request_error", "no user message found")
		return
	}

	if s.deps.ProviderRegistry == nil || s.deps.ProviderRegistry.IsEmpty() {
		writeOpenAIError(w, http.StatusServiceUnavailable, "server_error", "no LLM providers configured")
		return
	}

	sessionKey := "openai-compat:" + uuid.NewString()
	now := time.Now()
	entry := s.deps.Sessions.ResolveOrCreate(sessionKey, models.Origin{Channel: models.ChannelAPI}, now)

	in := orchestrator.TurnInput{
		SessionKey:  sessionKey,
		SessionID:   entry.SessionID,
		UserMessage: lastUser,
		Model:       req.Model,
		System:      system,
	}

	permit, err := s.deps.Locks.TryAcquire(sessionKey)
	if err != nil {
		writeOpenAIError(w, http.StatusTooManyRequests, "server_error", "session busy")
		return
	}
	defer permit.Release()

	run := s.startRun(sessionKey, s.deps.DefaultAgentID)
	created := time.Now().Unix()

	if !req.Stream {
		outcome := s.driveTurn(r.Context(), run.ID, in, nil)
		if outcome.IsError {
			writeOpenAIError(w, http.StatusBadGateway, "server_error", outcome.ErrorMsg)
			return
		}
		resp := openAICompletionsResponse{
			ID:      "chatcmpl-" + run.ID,
			Object:  "chat.completion",
			Created: created,
			Model:   req.Model,
			Choices: []openAIChoice{{
				Index:        0,
				Message:      openAIMessage{Role: "assistant", Content: outcome.Text},
				FinishReason: "stop",
			}},
		}
		resp.Usage.PromptTokens = int64(outcome.Usage.InputTokens)
		resp.Usage.CompletionTokens = int64(outcome.Usage.OutputTokens)
		resp.Usage.TotalTokens = int64(outcome.Usage.TotalTokens)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeOpenAIError(w, http.StatusInternalServerError, "server_error", "streaming unsupported")
		return
	}
	chunkID := "chatcmpl-" + run.ID
	s.driveTurn(r.Context(), run.ID, in, func(ev orchestrator.TurnEvent) {
		switch ev.Kind {
		case orchestrator.EventAssistantDelta:
			_ = sse.sendData(openAICompletionsResponse{
				ID: chunkID, Object: "chat.completion.chunk", Created: created, Model: req.Model,
				Choices: []openAIChoice{{Index: 0, Delta: openAIMessage{Content: ev.Text}}},
			})
		case orchestrator.EventFinal, orchestrator.EventStopped:
			_ = sse.sendData(openAICompletionsResponse{
				ID: chunkID, Object: "chat.completion.chunk", Created: created, Model: req.Model,
				Choices: []openAIChoice{{Index: 0, Delta: openAIMessage{}, FinishReason: "stop"}},
			})
		case orchestrator.EventError:
			_ = sse.sendData(openAIErrorBody{Error: openAIError{Message: ev.Message, Type: "server_error"}})
		}
	})
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
}
