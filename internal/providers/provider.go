// Package providers implements the gateway's LLM provider contract: a
// shared chat/streaming interface, a capability-driven registry and
// router, and the concrete Anthropic/OpenAI/Bedrock/Gemini adapters.
package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/relaygate/relaygate/pkg/models"
)

// ToolSupport describes how a provider handles tool/function calling.
type ToolSupport string

const (
	ToolSupportNone     ToolSupport = "none"
	ToolSupportBasic    ToolSupport = "basic"
	ToolSupportParallel ToolSupport = "parallel"
)

// Capabilities is what a provider declares about itself; the router consults
// these before routing a request that requires tools, JSON mode, or streaming.
type Capabilities struct {
	SupportsTools     ToolSupport
	SupportsJSONMode  bool
	SupportsStreaming bool
}

// Tool is a single callable definition offered to the model in a ChatRequest.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Usage carries token accounting for one chat call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ChatRequest is the provider-agnostic request shape built by the turn
// orchestrator.
type ChatRequest struct {
	Messages    []models.Message
	System      string
	Tools       []Tool
	Temperature float64
	MaxTokens   int
	JSONMode    bool
	Model       string
}

// ChatResponse is the non-streaming convenience result of Provider.Chat.
type ChatResponse struct {
	Message      models.Message
	ToolCalls    []models.ToolCall
	Usage        *Usage
	FinishReason string
}

// StreamEventKind discriminates a StreamEvent's populated fields.
type StreamEventKind string

const (
	EventToken            StreamEventKind = "token"
	EventToolCallStarted  StreamEventKind = "tool_call_started"
	EventToolCallDelta    StreamEventKind = "tool_call_delta"
	EventToolCallFinished StreamEventKind = "tool_call_finished"
	EventDone             StreamEventKind = "done"
	EventError            StreamEventKind = "error"
)

// StreamEvent is one element of the stream a Provider.ChatStream call
// produces. The emission order per call is fixed: zero or more
// Token events, tool-call events per planned call, exactly one Done, or an
// Error that terminates the stream early.
type StreamEvent struct {
	Kind StreamEventKind

	// EventToken
	Text string

	// EventToolCallStarted / EventToolCallDelta / EventToolCallFinished
	CallID   string
	ToolName string
	Delta    string          // raw JSON argument fragment (ToolCallDelta)
	Args     json.RawMessage // complete arguments (ToolCallFinished)

	// EventDone
	Usage        *Usage
	FinishReason string

	// EventError
	Err error
}

// Provider is the interface every LLM adapter implements. Accept this
// interface, never a concrete provider type.
type Provider interface {
	ID() string
	Capabilities() Capabilities
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error)
}

// CollectChat drives a ChatStream to completion and folds it into a single
// ChatResponse, for providers whose SDK has no separate non-streaming path
// (teacher's providers likewise always stream internally; see base.go).
func CollectChat(ctx context.Context, p Provider, req ChatRequest) (*ChatResponse, error) {
	stream, err := p.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	var toolCalls []models.ToolCall
	pending := map[string]*models.ToolCall{}
	var order []string
	resp := &ChatResponse{}

	for ev := range stream {
		switch ev.Kind {
		case EventToken:
			text.WriteString(ev.Text)
		case EventToolCallStarted:
			pending[ev.CallID] = &models.ToolCall{CallID: ev.CallID, ToolName: ev.ToolName}
			order = append(order, ev.CallID)
		case EventToolCallDelta:
			if tc, ok := pending[ev.CallID]; ok {
				tc.Arguments = append(tc.Arguments, []byte(ev.Delta)...)
			}
		case EventToolCallFinished:
			if tc, ok := pending[ev.CallID]; ok {
				tc.Arguments = ev.Args
			}
		case EventDone:
			resp.Usage = ev.Usage
			resp.FinishReason = ev.FinishReason
		case EventError:
			return nil, ev.Err
		}
	}

	for _, id := range order {
		toolCalls = append(toolCalls, *pending[id])
	}
	resp.Message = models.Message{Role: models.RoleAssistant, Text: text.String()}
	resp.ToolCalls = toolCalls
	return resp, nil
}

// sseTranslator converts one SSE data payload into zero or more StreamEvents.
// Implemented per-provider (see anthropic.go, openai.go, ...).
type sseTranslator func(data string) []StreamEvent

// StreamSSE implements the shared SSE draining rule: the body
// is read and split on "\n\n" boundaries; inside each block only "data:"
// lines contribute (joined with "\n" when multi-line); a partial block
// missing its terminating blank line stays buffered until the next read. The
// provider-specific translate closure maps each payload to zero or more
// events. If upstream never emits something the translator turns into an
// EventDone, StreamSSE synthesizes one with FinishReason "stop" once body
// reaches EOF.
func StreamSSE(ctx context.Context, body io.ReadCloser, translate sseTranslator) <-chan StreamEvent {
	out := make(chan StreamEvent)

	go func() {
		defer close(out)
		defer body.Close()

		sawDone := false
		emit := func(ev StreamEvent) bool {
			if ev.Kind == EventDone {
				sawDone = true
			}
			select {
			case out <- ev:
				return ev.Kind != EventError
			case <-ctx.Done():
				return false
			}
		}

		reader := bufio.NewReader(body)
		var dataLines []string

		flush := func() bool {
			if len(dataLines) == 0 {
				dataLines = nil
				return true
			}
			data := strings.Join(dataLines, "\n")
			dataLines = nil
			for _, ev := range translate(data) {
				if !emit(ev) {
					return false
				}
			}
			return true
		}

		for {
			line, err := reader.ReadString('\n')
			trimmed := strings.TrimRight(line, "\r\n")

			if trimmed == "" && line != "" {
				// Blank line: end of one SSE event block.
				if !flush() {
					return
				}
			} else if strings.HasPrefix(trimmed, "data:") {
				dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(trimmed, "data:"), " "))
			}
			// Other line types (event:, id:, :comment) are ignored; providers
			// here only ever emit bare "data:" frames.

			if err != nil {
				if err != io.EOF {
					emit(StreamEvent{Kind: EventError, Err: err})
					return
				}
				// EOF: flush any trailing (unterminated) block, then stop.
				flush()
				break
			}
		}

		if !sawDone {
			emit(StreamEvent{Kind: EventDone, FinishReason: "stop"})
		}
	}()

	return out
}

// DecodeJSON is a small helper so per-provider translate closures can stay
// one-liners when unmarshaling an SSE data payload.
func DecodeJSON(data string, v any) error {
	return json.Unmarshal([]byte(data), v)
}
