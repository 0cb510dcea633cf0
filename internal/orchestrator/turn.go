// Package orchestrator implements the turn orchestrator, the
// gateway's core: it resolves a provider, assembles system and
// conversation context, drives the provider's streaming tool loop, and
// dispatches tool calls either inline or to a connected node. Grounded on
// AgenticLoop's state machine (internal/agent/loop.go), generalized from
// its ResponseChunk/LoopPhase vocabulary to this module's TurnEvent
// vocabulary.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/relaygate/relaygate/internal/nodes"
	"github.com/relaygate/relaygate/internal/providers"
	"github.com/relaygate/relaygate/internal/sessions"
	"github.com/relaygate/relaygate/pkg/models"
)

// MaxToolLoops is the tool-loop iteration ceiling.
const MaxToolLoops = 25

const turnEventBuffer = 64

// TurnEventKind discriminates a TurnEvent's populated fields.
type TurnEventKind string

const (
	EventAssistantDelta TurnEventKind = "assistant_delta"
	EventThought        TurnEventKind = "thought"
	EventToolCall       TurnEventKind = "tool_call"
	EventToolResult     TurnEventKind = "tool_result"
	EventFinal          TurnEventKind = "final"
	EventStopped        TurnEventKind = "stopped"
	EventUsage          TurnEventKind = "usage"
	EventError          TurnEventKind = "error"
)

// TurnEvent is one element of the bounded channel the orchestrator streams
// to its caller. Emitting Final, Stopped, or Error terminates
// the stream; no further events follow.
type TurnEvent struct {
	Kind TurnEventKind

	Text string // AssistantDelta/Thought/Final/Stopped

	CallID    string // ToolCallEvent/ToolResult
	ToolName  string
	Arguments json.RawMessage // ToolCallEvent
	Result    string          // ToolResult
	IsError   bool            // ToolResult

	InputTokens  int64 // UsageEvent
	OutputTokens int64
	TotalTokens  int64

	Message string // Error
}

// TurnInput is the turn orchestrator's request.
type TurnInput struct {
	SessionKey  string
	SessionID   string
	UserMessage string

	// Model, if set, is "provider_id/model_name" and bypasses role
	// resolution.
	Model string

	// ResponseFormat selects JSON mode when set to "json".
	ResponseFormat string

	Agent string

	// System is the fully assembled system prompt for this turn, built via
	// BuildWorkspaceSections/BuildSystemContext by the caller — a standalone
	// concern from this package's context.go, kept separate from Run so
	// callers can cache or vary it independently of the tool loop.
	System string
}

// LocalToolExecutor runs tool calls that resolve locally — Local{Exec} or
// Local{Process} — rather than being dispatched to a node.
// internal/process implements this once built.
type LocalToolExecutor interface {
	ExecLocal(ctx context.Context, call models.ToolCall, sessionKey string) (content string, isError bool)
	ProcessLocal(ctx context.Context, call models.ToolCall, sessionKey string) (content string, isError bool)
}

// ApprovalGate decides whether a sensitive node dispatch may proceed,
// blocking until the operator resolves it or the gate times out via the
// approval package's PendingApproval flow. When nil, sensitive dispatches
// proceed unconditionally — wiring a gate is how a deployment opts into
// approval.
type ApprovalGate interface {
	RequestApproval(ctx context.Context, sessionKey, toolName string, args json.RawMessage) (approved bool, err error)
}

// ToolCatalog supplies the tool definitions offered to the model for a
// turn. internal/gateway builds this from the local tool set plus every
// connected node's advertised capabilities.
type ToolCatalog interface {
	Tools(ctx context.Context) []providers.Tool
}

// Config wires the turn orchestrator's dependencies. Registry and
// Transcripts are required; the rest degrade gracefully when nil.
type Config struct {
	Registry     *providers.Registry
	ExecutorRole string // role name preferred when Model is unset; defaults to "executor".

	Transcripts  *sessions.TranscriptStore
	SessionStore *sessions.Store

	Router      *nodes.Router
	LocalTools  LocalToolExecutor
	ToolCatalog ToolCatalog
	Approvals   ApprovalGate
	NodeTimeout time.Duration

	Pruning       PruningConfig
	ContextWindow int // chars, the pruning ratio denominator

	MaxTokens int
}

// Turn is the turn orchestrator.
type Turn struct {
	cfg Config
}

// New builds a Turn orchestrator. The caller must hold a per-session
// permit (SessionLocks) before calling Run.
func New(cfg Config) *Turn {
	if cfg.ExecutorRole == "" {
		cfg.ExecutorRole = "executor"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 400000
	}
	return &Turn{cfg: cfg}
}

// Run streams TurnEvents for in. The returned channel is closed once a
// terminal event (Final, Stopped, or Error) has been sent.
func (t *Turn) Run(ctx context.Context, in TurnInput) <-chan TurnEvent {
	out := make(chan TurnEvent, turnEventBuffer)
	go t.run(ctx, in, out)
	return out
}

func (t *Turn) run(ctx context.Context, in TurnInput, out chan<- TurnEvent) {
	defer close(out)

	providerID, model, provider, err := t.resolveProvider(in.Model)
	if err != nil {
		out <- TurnEvent{Kind: EventError, Message: err.Error()}
		return
	}
	_ = providerID

	messages, err := t.loadMessages(in)
	if err != nil {
		out <- TurnEvent{Kind: EventError, Message: fmt.Sprintf("load history: %s", err)}
		return
	}
	messages = PruneMessages(messages, t.cfg.Pruning, t.cfg.ContextWindow)

	var tools []providers.Tool
	if t.cfg.ToolCatalog != nil {
		tools = t.cfg.ToolCatalog.Tools(ctx)
	}

	var textBuf strings.Builder
	var totalInput, totalOutput, totalTotal int64

	for iteration := 0; iteration < MaxToolLoops; iteration++ {
		select {
		case <-ctx.Done():
			t.persistAssistantPartial(in, textBuf.String())
			out <- TurnEvent{Kind: EventStopped, Text: textBuf.String()}
			out <- TurnEvent{Kind: EventUsage, InputTokens: totalInput, OutputTokens: totalOutput, TotalTokens: totalTotal}
			return
		default:
		}

		req := providers.ChatRequest{
			Messages:    messages,
			System:      in.System,
			Tools:       tools,
			Temperature: 0.2,
			MaxTokens:   t.cfg.MaxTokens,
			JSONMode:    strings.EqualFold(in.ResponseFormat, "json"),
			Model:       model,
		}

		stream, err := provider.ChatStream(ctx, req)
		if err != nil {
			out <- TurnEvent{Kind: EventError, Message: err.Error()}
			return
		}

		textBuf.Reset()
		calls, rawArgs, order, usage, streamErr := t.consumeStream(ctx, stream, out, &textBuf)
		if streamErr != nil {
			out <- TurnEvent{Kind: EventError, Message: streamErr.Error()}
			return
		}
		if usage != nil {
			totalInput += int64(usage.InputTokens)
			totalOutput += int64(usage.OutputTokens)
			totalTotal += int64(usage.TotalTokens)
		}

		pending := finalizeToolCalls(calls, rawArgs, order)

		if len(pending) == 0 {
			t.persistAssistantLine(in, textBuf.String(), nil)
			out <- TurnEvent{Kind: EventFinal, Text: textBuf.String()}
			out <- TurnEvent{Kind: EventUsage, InputTokens: totalInput, OutputTokens: totalOutput, TotalTokens: totalTotal}
			if t.cfg.SessionStore != nil {
				t.cfg.SessionStore.RecordUsage(in.SessionKey, totalInput, totalOutput, time.Now())
			}
			return
		}

		assistantParts := make([]models.ContentPart, 0, len(pending)+1)
		if textBuf.Len() > 0 {
			assistantParts = append(assistantParts, models.ContentPart{Type: models.ContentText, Text: textBuf.String()})
		}
		for _, c := range pending {
			assistantParts = append(assistantParts, models.ContentPart{
				Type: models.ContentToolUse, ToolUseID: c.CallID, ToolUseName: c.ToolName, ToolUseInput: c.Arguments,
			})
		}
		messages = append(messages, models.Message{Role: models.RoleAssistant, Parts: assistantParts, Created: time.Now()})
		t.persistAssistantLine(in, textBuf.String(), pending)

		for _, call := range pending {
			select {
			case <-ctx.Done():
				t.persistAssistantPartial(in, "")
				out <- TurnEvent{Kind: EventStopped, Text: textBuf.String()}
				out <- TurnEvent{Kind: EventUsage, InputTokens: totalInput, OutputTokens: totalOutput, TotalTokens: totalTotal}
				return
			default:
			}

			out <- TurnEvent{Kind: EventToolCall, CallID: call.CallID, ToolName: call.ToolName, Arguments: call.Arguments}

			content, isError := t.dispatchTool(ctx, call, in.SessionKey)

			out <- TurnEvent{Kind: EventToolResult, CallID: call.CallID, ToolName: call.ToolName, Result: content, IsError: isError}

			messages = append(messages, models.Message{
				Role: models.RoleTool,
				Parts: []models.ContentPart{{
					Type: models.ContentToolResult, ToolResultID: call.CallID, ToolResultContent: content, ToolResultIsError: isError,
				}},
				Created: time.Now(),
			})
			t.persistToolLine(in, call, content, isError)
		}
	}

	out <- TurnEvent{Kind: EventError, Message: fmt.Sprintf("tool loop limit reached (%d)", MaxToolLoops)}
}

// resolveProvider picks the model for this turn: an explicit model hint wins,
// else the configured executor role, else any registered provider.
func (t *Turn) resolveProvider(modelHint string) (providerID, model string, p providers.Provider, err error) {
	if t.cfg.Registry == nil {
		return "", "", nil, fmt.Errorf("no LLM providers available")
	}

	if modelHint != "" {
		providerID, model = providers.SplitModelSpec(modelHint)
		if p, ok := t.cfg.Registry.Get(providerID); ok {
			return providerID, model, p, nil
		}
		return "", "", nil, fmt.Errorf("no LLM providers available")
	}

	if cfg, ok := t.cfg.Registry.RoleConfig(t.cfg.ExecutorRole); ok {
		providerID, model = providers.SplitModelSpec(cfg.Model)
		if p, ok := t.cfg.Registry.Get(providerID); ok {
			return providerID, model, p, nil
		}
	}

	if id, p, ok := t.cfg.Registry.Any(); ok {
		return id, "", p, nil
	}

	return "", "", nil, fmt.Errorf("no LLM providers available")
}

// loadMessages reads the transcript, translates
// it, then append the inbound user message. The inbound message is
// persisted separately so it lands in the transcript regardless of how the
// turn concludes.
func (t *Turn) loadMessages(in TurnInput) ([]models.Message, error) {
	var lines []models.TranscriptLine
	if t.cfg.Transcripts != nil {
		var err error
		lines, err = t.cfg.Transcripts.Load(in.SessionID)
		if err != nil {
			return nil, err
		}
	}
	messages := LoadHistory(lines)
	messages = append(messages, models.Message{Role: models.RoleUser, Text: in.UserMessage, Created: time.Now()})

	if t.cfg.Transcripts != nil {
		t.cfg.Transcripts.AppendAsync(in.SessionID, models.TranscriptLine{
			Timestamp: time.Now(), Role: models.RoleUser, Content: in.UserMessage,
		})
	}
	return messages, nil
}

// consumeStream drains one provider.ChatStream call,
// forwarding tokens as AssistantDelta and accumulating partial tool calls.
func (t *Turn) consumeStream(ctx context.Context, stream <-chan providers.StreamEvent, out chan<- TurnEvent, textBuf *strings.Builder) (calls map[string]*models.ToolCall, rawArgs map[string]*strings.Builder, order []string, usage *providers.Usage, err error) {
	calls = make(map[string]*models.ToolCall)
	rawArgs = make(map[string]*strings.Builder)

	for ev := range stream {
		switch ev.Kind {
		case providers.EventToken:
			textBuf.WriteString(ev.Text)
			out <- TurnEvent{Kind: EventAssistantDelta, Text: ev.Text}

		case providers.EventToolCallStarted:
			calls[ev.CallID] = &models.ToolCall{CallID: ev.CallID, ToolName: ev.ToolName}
			rawArgs[ev.CallID] = &strings.Builder{}
			order = append(order, ev.CallID)

		case providers.EventToolCallDelta:
			if b, ok := rawArgs[ev.CallID]; ok {
				b.WriteString(ev.Delta)
			}

		case providers.EventToolCallFinished:
			if c, ok := calls[ev.CallID]; ok {
				c.Arguments = ev.Args
			}

		case providers.EventDone:
			usage = ev.Usage

		case providers.EventError:
			return calls, rawArgs, order, usage, ev.Err
		}
	}

	if usage == nil {
		usage = &providers.Usage{}
	}
	return calls, rawArgs, order, usage, nil
}

// finalizeToolCalls handles any call with only
// start+delta buffered (no ToolCallFinished), parse the accumulated raw
// JSON text, falling back to a raw string value if it doesn't parse.
func finalizeToolCalls(calls map[string]*models.ToolCall, rawArgs map[string]*strings.Builder, order []string) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(order))
	for _, id := range order {
		c, ok := calls[id]
		if !ok {
			continue
		}
		if len(c.Arguments) == 0 {
			if b, ok := rawArgs[id]; ok && b.Len() > 0 {
				raw := b.String()
				if json.Valid([]byte(raw)) {
					c.Arguments = json.RawMessage(raw)
				} else {
					encoded, _ := json.Marshal(raw)
					c.Arguments = encoded
				}
			} else {
				c.Arguments = json.RawMessage("{}")
			}
		}
		out = append(out, *c)
	}
	return out
}

// dispatchTool resolves and dispatches one pending
// call: exec/process run inline, a node capability match awaits the node's
// response, anything else is an error result.
func (t *Turn) dispatchTool(ctx context.Context, call models.ToolCall, sessionKey string) (content string, isError bool) {
	if t.cfg.Router == nil {
		return "tool router not configured", true
	}

	resolution := t.cfg.Router.Resolve(call.ToolName)
	switch resolution.Kind {
	case nodes.ResolveLocalExec:
		if t.cfg.LocalTools == nil {
			return "exec not configured", true
		}
		return t.cfg.LocalTools.ExecLocal(ctx, call, sessionKey)

	case nodes.ResolveLocalProcess:
		if t.cfg.LocalTools == nil {
			return "process not configured", true
		}
		return t.cfg.LocalTools.ProcessLocal(ctx, call, sessionKey)

	case nodes.ResolveNode:
		return t.dispatchToNode(ctx, resolution.NodeID, call, sessionKey)

	default:
		return fmt.Sprintf("unknown tool %q", call.ToolName), true
	}
}

func (t *Turn) dispatchToNode(ctx context.Context, nodeID nodes.NodeID, call models.ToolCall, sessionKey string) (content string, isError bool) {
	prefix := call.ToolName
	if idx := strings.IndexByte(prefix, '.'); idx >= 0 {
		prefix = prefix[:idx]
	}

	requiresApproval, err := t.cfg.Router.CheckApproval(ctx, nodeID, prefix)
	if err != nil {
		return err.Error(), true
	}
	if requiresApproval && t.cfg.Approvals != nil {
		approved, err := t.cfg.Approvals.RequestApproval(ctx, sessionKey, call.ToolName, call.Arguments)
		if err != nil {
			return err.Error(), true
		}
		if !approved {
			return "approval denied", true
		}
	}

	ok, result, toolErr, err := t.cfg.Router.DispatchToNode(ctx, nodeID, call.ToolName, call.Arguments, sessionKey, t.cfg.NodeTimeout)
	if err != nil {
		return err.Error(), true
	}
	if !ok {
		if toolErr != nil {
			return toolErr.Message, true
		}
		return "tool call failed", true
	}
	return string(result), false
}

func (t *Turn) persistAssistantLine(in TurnInput, text string, calls []models.ToolCall) {
	if t.cfg.Transcripts == nil {
		return
	}
	line := models.TranscriptLine{Timestamp: time.Now(), Role: models.RoleAssistant, Content: text}
	if len(calls) > 0 {
		line.Metadata = map[string]any{models.MetaToolCalls: calls}
	}
	t.cfg.Transcripts.AppendAsync(in.SessionID, line)
}

func (t *Turn) persistAssistantPartial(in TurnInput, text string) {
	if text == "" {
		return
	}
	t.persistAssistantLine(in, text, nil)
}

func (t *Turn) persistToolLine(in TurnInput, call models.ToolCall, content string, isError bool) {
	if t.cfg.Transcripts == nil {
		return
	}
	t.cfg.Transcripts.AppendAsync(in.SessionID, models.TranscriptLine{
		Timestamp: time.Now(),
		Role:      models.RoleTool,
		Content:   content,
		Metadata: map[string]any{
			models.MetaCallID:   call.CallID,
			models.MetaToolName: call.ToolName,
			models.MetaIsError:  isError,
		},
	})
}
