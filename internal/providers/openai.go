package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/relaygate/relaygate/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAIProvider adapts OpenAI's chat completions API to the Provider
// contract. Like AnthropicProvider, it streams through the SDK's own
// CreateChatCompletionStream rather than StreamSSE.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider builds a provider from config. APIKey is required.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("providers: openai API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientCfg), defaultModel: model}, nil
}

func (p *OpenAIProvider) ID() string { return "openai" }

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{SupportsTools: ToolSupportParallel, SupportsJSONMode: true, SupportsStreaming: true}
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return CollectChat(ctx, p, req)
}

func (p *OpenAIProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	model := p.model(req.Model)
	messages := p.convertMessages(req.Messages, req.System)

	request := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		Stream:    true,
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
	}
	if req.Temperature > 0 {
		request.Temperature = float32(req.Temperature)
	}
	if req.JSONMode {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, p.wrap(fmt.Errorf("convert tools: %w", err), model)
		}
		request.Tools = tools
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return nil, p.wrap(err, model)
	}

	out := make(chan StreamEvent)
	go p.drain(stream, out, model)
	return out, nil
}

func (p *OpenAIProvider) drain(stream *openai.ChatCompletionStream, out chan<- StreamEvent, model string) {
	defer close(out)
	defer stream.Close()

	toolCalls := map[int]*struct {
		id, name string
		args     []byte
		started  bool
	}{}
	order := map[int]bool{}

	emitFinished := func() {
		for idx, tc := range toolCalls {
			if tc.id == "" || tc.name == "" {
				continue
			}
			out <- StreamEvent{Kind: EventToolCallFinished, CallID: tc.id, ToolName: tc.name, Args: json.RawMessage(tc.args)}
			delete(toolCalls, idx)
			delete(order, idx)
		}
	}

	for {
		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				emitFinished()
				out <- StreamEvent{Kind: EventDone, FinishReason: "stop"}
				return
			}
			out <- StreamEvent{Kind: EventError, Err: p.wrap(err, model)}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			out <- StreamEvent{Kind: EventToken, Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			entry, ok := toolCalls[index]
			if !ok {
				entry = &struct {
					id, name string
					args     []byte
					started  bool
				}{}
				toolCalls[index] = entry
			}
			if tc.ID != "" {
				entry.id = tc.ID
			}
			if tc.Function.Name != "" {
				entry.name = tc.Function.Name
			}
			if !entry.started && entry.id != "" && entry.name != "" {
				entry.started = true
				out <- StreamEvent{Kind: EventToolCallStarted, CallID: entry.id, ToolName: entry.name}
			}
			if tc.Function.Arguments != "" {
				entry.args = append(entry.args, []byte(tc.Function.Arguments)...)
				if entry.started {
					out <- StreamEvent{Kind: EventToolCallDelta, CallID: entry.id, Delta: tc.Function.Arguments}
				}
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			emitFinished()
		}
		if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonToolCalls {
			var usage *Usage
			if response.Usage != nil {
				usage = &Usage{
					InputTokens:  response.Usage.PromptTokens,
					OutputTokens: response.Usage.CompletionTokens,
					TotalTokens:  response.Usage.TotalTokens,
				}
			}
			out <- StreamEvent{Kind: EventDone, Usage: usage, FinishReason: string(choice.FinishReason)}
			return
		}
	}
}

func (p *OpenAIProvider) convertMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		role := string(msg.Role)
		if msg.Role == models.RoleTool {
			for _, part := range msg.Parts {
				if part.Type == models.ContentToolResult {
					result = append(result, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    part.ToolResultContent,
						ToolCallID: part.ToolResultID,
					})
				}
			}
			continue
		}

		oaiMsg := openai.ChatCompletionMessage{Role: role, Content: msg.Text}
		for _, part := range msg.Parts {
			switch part.Type {
			case models.ContentText:
				oaiMsg.Content += part.Text
			case models.ContentImage:
				oaiMsg.MultiContent = append(oaiMsg.MultiContent,
					openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: oaiMsg.Content},
					openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: "data:" + part.ImageMimeType + ";base64," + part.ImageData},
					},
				)
				oaiMsg.Content = ""
			case models.ContentToolUse:
				oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
					ID:   part.ToolUseID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      part.ToolUseName,
						Arguments: string(part.ToolUseInput),
					},
				})
			}
		}
		result = append(result, oaiMsg)
	}
	return result
}

func (p *OpenAIProvider) convertTools(tools []Tool) ([]openai.Tool, error) {
	result := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		})
	}
	return result, nil
}

func (p *OpenAIProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func (p *OpenAIProvider) wrap(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		pe := (&ProviderError{Provider: "openai", Model: model, Cause: err, Reason: FailoverUnknown}).WithStatus(apiErr.HTTPStatusCode)
		if code, ok := apiErr.Code.(string); ok && code != "" {
			pe = pe.WithCode(code)
		}
		pe = pe.WithMessage(apiErr.Message)
		return pe
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		pe := (&ProviderError{Provider: "openai", Model: model, Cause: err, Reason: FailoverUnknown}).WithStatus(reqErr.HTTPStatusCode)
		if pe.Message == "" && reqErr.Err != nil {
			pe = pe.WithMessage(reqErr.Err.Error())
		}
		return pe
	}

	return NewProviderError("openai", model, err)
}
