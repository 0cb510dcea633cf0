package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/relaygate/relaygate/pkg/models"
	"google.golang.org/genai"
)

// GeminiConfig configures a GeminiProvider.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
}

// GeminiProvider adapts Google's Gemini GenerateContentStream API to the
// Provider contract.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiProvider builds a provider from config. APIKey is required.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("providers: gemini API key is required")
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("providers: create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, defaultModel: model}, nil
}

func (p *GeminiProvider) ID() string { return "gemini" }

func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{SupportsTools: ToolSupportBasic, SupportsJSONMode: true, SupportsStreaming: true}
}

func (p *GeminiProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return CollectChat(ctx, p, req)
}

func (p *GeminiProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	model := p.model(req.Model)
	contents := p.convertMessages(req.Messages)

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		config.Temperature = &temp
	}
	if req.JSONMode {
		config.ResponseMIMEType = "application/json"
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, p.wrap(fmt.Errorf("convert tools: %w", err), model)
		}
		config.Tools = tools
	}

	iterator := p.client.Models.GenerateContentStream(ctx, model, contents, config)

	out := make(chan StreamEvent)
	go p.drain(ctx, iterator, out, model)
	return out, nil
}

func (p *GeminiProvider) drain(ctx context.Context, iterator iter.Seq2[*genai.GenerateContentResponse, error], out chan<- StreamEvent, model string) {
	defer close(out)

	callIndex := 0
	var usage *Usage

	for resp, err := range iterator {
		select {
		case <-ctx.Done():
			out <- StreamEvent{Kind: EventError, Err: ctx.Err()}
			return
		default:
		}

		if err != nil {
			out <- StreamEvent{Kind: EventError, Err: p.wrap(err, model)}
			return
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			usage = &Usage{
				InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
				OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
			}
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					out <- StreamEvent{Kind: EventToken, Text: part.Text}
				}
				if part.FunctionCall != nil {
					callIndex++
					callID := fmt.Sprintf("%s-%d", part.FunctionCall.Name, callIndex)
					argsJSON, marshalErr := json.Marshal(part.FunctionCall.Args)
					if marshalErr != nil {
						argsJSON = []byte("{}")
					}
					out <- StreamEvent{Kind: EventToolCallStarted, CallID: callID, ToolName: part.FunctionCall.Name}
					out <- StreamEvent{Kind: EventToolCallFinished, CallID: callID, ToolName: part.FunctionCall.Name, Args: argsJSON}
				}
			}
		}
	}

	out <- StreamEvent{Kind: EventDone, Usage: usage, FinishReason: "stop"}
}

func (p *GeminiProvider) convertMessages(messages []models.Message) []*genai.Content {
	var result []*genai.Content
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		if msg.Text != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Text})
		}
		for _, part := range msg.Parts {
			switch part.Type {
			case models.ContentText:
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			case models.ContentImage:
				content.Parts = append(content.Parts, &genai.Part{InlineData: &genai.Blob{MIMEType: part.ImageMimeType, Data: []byte(part.ImageData)}})
			case models.ContentToolUse:
				var args map[string]any
				if err := json.Unmarshal(part.ToolUseInput, &args); err != nil {
					args = map[string]any{}
				}
				content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: part.ToolUseName, Args: args}})
			case models.ContentToolResult:
				var response map[string]any
				if err := json.Unmarshal([]byte(part.ToolResultContent), &response); err != nil {
					response = map[string]any{"result": part.ToolResultContent, "error": part.ToolResultIsError}
				}
				content.Parts = append(content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{Name: part.ToolUseName, Response: response}})
			}
		}
		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func (p *GeminiProvider) convertTools(tools []Tool) ([]*genai.Tool, error) {
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		var schema genai.Schema
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{Name: tool.Name, Description: tool.Description, Parameters: &schema})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}, nil
}

func (p *GeminiProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func (p *GeminiProvider) wrap(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	return NewProviderError("gemini", model, err)
}
