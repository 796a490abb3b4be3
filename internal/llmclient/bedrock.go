package llmclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/haasonsaas/nexus/pkg/models"
)

// BedrockConfig configures a BedrockProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	MaxRetries      int
	RetryDelay      time.Duration
	Logger          *slog.Logger
}

// BedrockProvider implements Provider against AWS Bedrock's Converse API,
// giving access to foundation models (Anthropic Claude, Titan, Llama,
// Mistral, Cohere) hosted on Bedrock behind a single streaming interface.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	logger       *slog.Logger
}

// NewBedrockProvider constructs a Provider backed by the AWS Bedrock SDK.
// With no explicit credentials it falls back to the default AWS credential
// chain (environment, shared config, IAM role).
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "llmclient.bedrock")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: loading AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		logger:       logger,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) SupportsTools() bool { return true }

func (p *BedrockProvider) Models() []Model {
	return []Model{
		{ID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Name: "Claude 3.5 Sonnet (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "meta.llama3-70b-instruct-v1:0", Name: "Llama 3 70B (Bedrock)", ContextSize: 8192},
		{ID: "mistral.mixtral-8x7b-instruct-v0:1", Name: "Mixtral 8x7B (Bedrock)", ContextSize: 32768},
		{ID: "cohere.command-r-plus-v1:0", Name: "Command R+ (Bedrock)", ContextSize: 128000},
	}
}

// Complete streams a completion via ConverseStream, retrying stream creation
// with exponential backoff on transient errors, the same shape as
// AnthropicProvider.Complete.
func (p *BedrockProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if req == nil {
		return nil, fmt.Errorf("bedrock: request is required")
	}
	out := make(chan *CompletionChunk, 16)

	go func() {
		defer close(out)

		model := req.Model
		if model == "" {
			model = p.defaultModel
		}

		converseReq := &bedrockruntime.ConverseStreamInput{
			ModelId:  aws.String(model),
			Messages: p.convertMessages(req.Messages),
		}
		if req.System != "" {
			converseReq.System = []types.SystemContentBlock{
				&types.SystemContentBlockMemberText{Value: req.System},
			}
		}
		if req.MaxTokens > 0 {
			converseReq.InferenceConfig = &types.InferenceConfiguration{
				MaxTokens: aws.Int32(int32(req.MaxTokens)),
			}
		}
		if toolConfig := p.convertTools(req.Tools); toolConfig != nil {
			converseReq.ToolConfig = toolConfig
		}

		var stream *bedrockruntime.ConverseStreamOutput
		var lastErr error
		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			if attempt > 0 {
				delay := p.retryDelay * (1 << uint(attempt-1))
				select {
				case <-ctx.Done():
					out <- &CompletionChunk{Error: ctx.Err(), Done: true}
					return
				case <-time.After(delay):
				}
			}
			resp, err := p.client.ConverseStream(ctx, converseReq)
			if err == nil {
				stream = resp
				break
			}
			lastErr = p.wrapError(err, model)
			if !IsRetryable(lastErr) {
				out <- &CompletionChunk{Error: lastErr, Done: true}
				return
			}
			p.logger.Warn("bedrock stream creation failed, retrying", "attempt", attempt, "error", lastErr)
		}
		if stream == nil {
			out <- &CompletionChunk{Error: lastErr, Done: true}
			return
		}

		p.processStream(ctx, stream, out, model)
	}()

	return out, nil
}

func (p *BedrockProvider) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, out chan<- *CompletionChunk, model string) {
	eventStream := stream.GetStream()
	defer eventStream.Close()

	var currentToolCall *models.ToolCall
	var toolInput strings.Builder
	var inputTokens, outputTokens int

	events := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			out <- &CompletionChunk{Error: ctx.Err(), Done: true}
			return
		case event, ok := <-events:
			if !ok {
				if err := eventStream.Err(); err != nil {
					out <- &CompletionChunk{Error: p.wrapError(err, model), Done: true}
					return
				}
				out <- &CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentToolCall = &models.ToolCall{
						ID:   aws.ToString(toolUse.Value.ToolUseId),
						Name: aws.ToString(toolUse.Value.Name),
					}
					toolInput.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						out <- &CompletionChunk{Text: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						toolInput.WriteString(*delta.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentToolCall != nil {
					currentToolCall.Input = json.RawMessage(toolInput.String())
					out <- &CompletionChunk{ToolCall: currentToolCall}
					currentToolCall = nil
				}
			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					inputTokens = int(ev.Value.Usage.InputTokens)
					outputTokens = int(ev.Value.Usage.OutputTokens)
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				out <- &CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
		}
	}
}

func (p *BedrockProvider) convertMessages(msgs []CompletionMessage) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue
		}

		var content []types.ContentBlock
		if m.Content != "" {
			content = append(content, &types.ContentBlockMemberText{Value: m.Content})
		}
		for _, cb := range m.ContentBlocks {
			if cb.Type != "image" {
				continue
			}
			format, ok := bedrockImageFormat(cb.MimeType)
			if !ok {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(cb.Base64)
			if err != nil {
				continue
			}
			content = append(content, &types.ContentBlockMemberImage{
				Value: types.ImageBlock{Format: format, Source: &types.ImageSourceMemberBytes{Value: data}},
			})
		}
		for _, tr := range m.ToolResults {
			content = append(content, &types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: tr.Content}},
				},
			})
		}
		for _, tc := range m.ToolCalls {
			var inputDoc any
			if err := json.Unmarshal(tc.Input, &inputDoc); err != nil {
				inputDoc = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(inputDoc),
				},
			})
		}

		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	return out
}

func (p *BedrockProvider) convertTools(tools []Tool) *types.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	out := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Schema, &schema)
		out = append(out, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: out}
}

func bedrockImageFormat(mimeType string) (types.ImageFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return types.ImageFormatPng, true
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	default:
		return "", false
	}
}

func (p *BedrockProvider) wrapError(err error, model string) *ProviderError {
	if err == nil {
		return nil
	}
	if perr, ok := GetProviderError(err); ok {
		return perr
	}
	errStr := strings.ToLower(err.Error())
	perr := NewProviderError("bedrock", model, err)
	if strings.Contains(errStr, "throttling") || strings.Contains(errStr, "toomanyrequests") || strings.Contains(errStr, "serviceunavailable") {
		perr.Reason = FailoverRateLimit
	}
	return perr
}
