package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/relaygate/relaygate/pkg/models"
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// AnthropicProvider adapts Anthropic's Messages API to the Provider contract.
// Streaming rides the SDK's own ssestream.Stream rather than StreamSSE: the
// SDK already owns event framing, so re-parsing raw SSE here would just
// duplicate what it does internally.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicProvider builds a provider from config. APIKey is required.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("providers: anthropic API key is required")
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), defaultModel: model}, nil
}

func (p *AnthropicProvider) ID() string { return "anthropic" }

func (p *AnthropicProvider) Capabilities() Capabilities {
	return Capabilities{SupportsTools: ToolSupportParallel, SupportsJSONMode: false, SupportsStreaming: true}
}

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return CollectChat(ctx, p, req)
}

func (p *AnthropicProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	model := p.model(req.Model)
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, p.wrap(fmt.Errorf("convert messages: %w", err), model)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, p.wrap(fmt.Errorf("convert tools: %w", err), model)
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	out := make(chan StreamEvent)
	go p.drain(stream, out, model)
	return out, nil
}

func (p *AnthropicProvider) drain(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- StreamEvent, model string) {
	defer close(out)

	var toolCallID, toolCallName string
	var toolInput strings.Builder
	inToolCall := false
	var usage Usage

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			usage.InputTokens = int(ms.Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				tu := block.AsToolUse()
				toolCallID, toolCallName = tu.ID, tu.Name
				toolInput.Reset()
				inToolCall = true
				out <- StreamEvent{Kind: EventToolCallStarted, CallID: toolCallID, ToolName: toolCallName}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- StreamEvent{Kind: EventToken, Text: delta.Text}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					out <- StreamEvent{Kind: EventToolCallDelta, CallID: toolCallID, Delta: delta.PartialJSON}
				}
			}

		case "content_block_stop":
			if inToolCall {
				out <- StreamEvent{Kind: EventToolCallFinished, CallID: toolCallID, ToolName: toolCallName, Args: json.RawMessage(toolInput.String())}
				inToolCall = false
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(md.Usage.OutputTokens)
			}

		case "message_stop":
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			out <- StreamEvent{Kind: EventDone, Usage: &usage, FinishReason: "stop"}
			return

		case "error":
			out <- StreamEvent{Kind: EventError, Err: p.wrap(errors.New("anthropic stream error"), model)}
			return
		}
	}

	if err := stream.Err(); err != nil {
		out <- StreamEvent{Kind: EventError, Err: p.wrap(err, model)}
	}
}

func (p *AnthropicProvider) convertMessages(messages []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Text != "" {
			content = append(content, anthropic.NewTextBlock(msg.Text))
		}
		for _, part := range msg.Parts {
			switch part.Type {
			case models.ContentText:
				content = append(content, anthropic.NewTextBlock(part.Text))
			case models.ContentToolUse:
				var input map[string]any
				if len(part.ToolUseInput) > 0 {
					if err := json.Unmarshal(part.ToolUseInput, &input); err != nil {
						return nil, fmt.Errorf("invalid tool call input: %w", err)
					}
				}
				content = append(content, anthropic.NewToolUseBlock(part.ToolUseID, input, part.ToolUseName))
			case models.ContentToolResult:
				content = append(content, anthropic.NewToolResultBlock(part.ToolResultID, part.ToolResultContent, part.ToolResultIsError))
			case models.ContentImage:
				content = append(content, anthropic.NewImageBlockBase64(part.ImageMimeType, part.ImageData))
			}
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []Tool) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

func (p *AnthropicProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrap(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe := (&ProviderError{Provider: "anthropic", Model: model, Cause: err, Reason: FailoverUnknown}).WithStatus(apiErr.StatusCode)
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					pe = pe.WithMessage(payload.Error.Message)
				}
				if payload.Error.Type != "" {
					pe = pe.WithCode(payload.Error.Type)
				}
				if payload.RequestID != "" {
					pe = pe.WithRequestID(payload.RequestID)
				}
			}
		}
		if pe.Message == "" {
			pe.Message = "anthropic request failed"
		}
		return pe
	}

	return NewProviderError("anthropic", model, err)
}
