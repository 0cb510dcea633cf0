package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/relaygate/relaygate/pkg/models"
)

// BedrockConfig configures a BedrockProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
}

// BedrockProvider adapts AWS Bedrock's Converse/ConverseStream API to the
// Provider contract. Authentication follows the standard AWS credential
// chain unless explicit keys are given.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// NewBedrockProvider builds a provider, loading AWS config from cfg or the
// default credential chain.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("providers: load AWS config: %w", err)
	}

	return &BedrockProvider{client: bedrockruntime.NewFromConfig(awsCfg), defaultModel: cfg.DefaultModel}, nil
}

func (p *BedrockProvider) ID() string { return "bedrock" }

func (p *BedrockProvider) Capabilities() Capabilities {
	return Capabilities{SupportsTools: ToolSupportBasic, SupportsJSONMode: false, SupportsStreaming: true}
}

func (p *BedrockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return CollectChat(ctx, p, req)
}

func (p *BedrockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	model := p.model(req.Model)
	messages := p.convertMessages(req.Messages)

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}
	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		if maxTokens > math.MaxInt32 {
			maxTokens = math.MaxInt32
		}
		converseReq.InferenceConfig = &types.InferenceConfiguration{MaxTokens: aws.Int32(int32(maxTokens))}
	}
	if len(req.Tools) > 0 {
		toolConfig, err := p.convertTools(req.Tools)
		if err != nil {
			return nil, p.wrap(fmt.Errorf("convert tools: %w", err), model)
		}
		converseReq.ToolConfig = toolConfig
	}

	stream, err := p.client.ConverseStream(ctx, converseReq)
	if err != nil {
		return nil, p.wrap(err, model)
	}

	out := make(chan StreamEvent)
	go p.drain(stream, out, model)
	return out, nil
}

func (p *BedrockProvider) drain(stream *bedrockruntime.ConverseStreamOutput, out chan<- StreamEvent, model string) {
	defer close(out)
	eventStream := stream.GetStream()
	defer eventStream.Close()

	var callID, toolName string
	var args strings.Builder
	inToolCall := false

	for event := range eventStream.Events() {
		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				callID = aws.ToString(toolUse.Value.ToolUseId)
				toolName = aws.ToString(toolUse.Value.Name)
				args.Reset()
				inToolCall = true
				out <- StreamEvent{Kind: EventToolCallStarted, CallID: callID, ToolName: toolName}
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch delta := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if delta.Value != "" {
					out <- StreamEvent{Kind: EventToken, Text: delta.Value}
				}
			case *types.ContentBlockDeltaMemberToolUse:
				if delta.Value.Input != nil {
					args.WriteString(*delta.Value.Input)
					out <- StreamEvent{Kind: EventToolCallDelta, CallID: callID, Delta: *delta.Value.Input}
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			if inToolCall {
				out <- StreamEvent{Kind: EventToolCallFinished, CallID: callID, ToolName: toolName, Args: json.RawMessage(args.String())}
				inToolCall = false
			}

		case *types.ConverseStreamOutputMemberMessageStop:
			out <- StreamEvent{Kind: EventDone, FinishReason: string(ev.Value.StopReason)}
			return

		case *types.ConverseStreamOutputMemberMetadata:
			if ev.Value.Usage != nil {
				out <- StreamEvent{Kind: EventDone, Usage: &Usage{
					InputTokens:  int(aws.ToInt32(ev.Value.Usage.InputTokens)),
					OutputTokens: int(aws.ToInt32(ev.Value.Usage.OutputTokens)),
					TotalTokens:  int(aws.ToInt32(ev.Value.Usage.TotalTokens)),
				}, FinishReason: "stop"}
				return
			}
		}
	}

	if err := eventStream.Err(); err != nil {
		out <- StreamEvent{Kind: EventError, Err: p.wrap(err, model)}
	}
}

func (p *BedrockProvider) convertMessages(messages []models.Message) []types.Message {
	result := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []types.ContentBlock
		if msg.Text != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Text})
		}
		for _, part := range msg.Parts {
			switch part.Type {
			case models.ContentText:
				content = append(content, &types.ContentBlockMemberText{Value: part.Text})
			case models.ContentToolResult:
				content = append(content, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(part.ToolResultID),
						Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: part.ToolResultContent}},
					},
				})
			case models.ContentToolUse:
				var input any
				if err := json.Unmarshal(part.ToolUseInput, &input); err != nil {
					input = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(part.ToolUseID),
						Name:      aws.String(part.ToolUseName),
						Input:     document.NewLazyDocument(input),
					},
				})
			}
		}
		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{Role: role, Content: content})
	}
	return result
}

func (p *BedrockProvider) convertTools(tools []Tool) (*types.ToolConfiguration, error) {
	specs := make([]types.Tool, 0, len(tools))
	for _, tool := range tools {
		var schema any
		if err := json.Unmarshal(tool.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name),
				Description: aws.String(tool.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}, nil
}

func (p *BedrockProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func (p *BedrockProvider) wrap(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	msg := err.Error()
	pe := NewProviderError("bedrock", model, err)
	switch {
	case strings.Contains(msg, "ThrottlingException"), strings.Contains(msg, "TooManyRequestsException"):
		pe.Reason = FailoverRateLimit
	case strings.Contains(msg, "ServiceUnavailableException"):
		pe.Reason = FailoverServerError
	case strings.Contains(msg, "AccessDeniedException"), strings.Contains(msg, "UnrecognizedClientException"):
		pe.Reason = FailoverAuth
	case strings.Contains(msg, "ResourceNotFoundException"):
		pe.Reason = FailoverModelUnavailable
	}
	return pe
}
