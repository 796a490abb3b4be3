package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/nexus/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
	Logger       *slog.Logger
}

// AnthropicProvider implements Provider against the Anthropic Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	logger       *slog.Logger
}

// NewAnthropicProvider constructs a Provider backed by the Anthropic SDK.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultAnthropicModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "llmclient.anthropic")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		logger:       logger,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) Models() []Model {
	return []Model{
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000},
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "claude-3-7-sonnet-20250219", Name: "Claude 3.7 Sonnet", ContextSize: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000},
	}
}

// Complete streams a completion, retrying stream creation with exponential
// backoff on transient errors.
func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if req == nil {
		return nil, fmt.Errorf("anthropic: request is required")
	}

	out := make(chan *CompletionChunk, 16)

	go func() {
		defer close(out)

		var stream *anthropic.MessageStream
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

			s, err := p.createStream(ctx, req)
			if err == nil {
				stream = s
				break
			}
			lastErr = p.wrapError(err)
			if !IsRetryable(lastErr) {
				out <- &CompletionChunk{Error: lastErr, Done: true}
				return
			}
			p.logger.Warn("anthropic stream creation failed, retrying", "attempt", attempt, "error", lastErr)
		}

		if stream == nil {
			out <- &CompletionChunk{Error: lastErr, Done: true}
			return
		}

		p.processStream(ctx, stream, out)
	}()

	return out, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *CompletionRequest) (*anthropic.MessageStream, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
		Messages:  p.convertMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if tools := p.convertTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	return stream, stream.Err()
}

const maxEmptyStreamEvents = 300

// processStream consumes SSE events, accumulating tool_use input_json deltas
// and emitting CompletionChunks as text/tool-call/thinking deltas arrive.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *anthropic.MessageStream, out chan<- *CompletionChunk) {
	type pendingTool struct {
		id    string
		name  string
		input strings.Builder
	}
	var current *pendingTool
	emptyEvents := 0
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()

		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				current = &pendingTool{id: tu.ID, name: tu.Name}
			}
			emptyEvents = 0

		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					emptyEvents++
				} else {
					emptyEvents = 0
					out <- &CompletionChunk{Text: delta.Text}
				}
			case anthropic.ThinkingDelta:
				out <- &CompletionChunk{Thinking: delta.Thinking}
			case anthropic.InputJSONDelta:
				if current != nil {
					current.input.WriteString(delta.PartialJSON)
				}
			}

		case anthropic.ContentBlockStopEvent:
			if current != nil {
				out <- &CompletionChunk{
					ToolCall: &models.ToolCall{
						ID:    current.id,
						Name:  current.name,
						Input: json.RawMessage(current.input.String()),
					},
				}
				current = nil
			}

		case anthropic.MessageDeltaEvent:
			if variant.Usage.OutputTokens > 0 {
				outputTokens = int(variant.Usage.OutputTokens)
			}

		case anthropic.MessageStartEvent:
			inputTokens = int(variant.Message.Usage.InputTokens)
		}

		if emptyEvents > maxEmptyStreamEvents {
			out <- &CompletionChunk{Error: fmt.Errorf("anthropic: malformed stream, too many empty events"), Done: true}
			return
		}

		select {
		case <-ctx.Done():
			out <- &CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}
	}

	if err := stream.Err(); err != nil {
		out <- &CompletionChunk{Error: p.wrapError(err), Done: true}
		return
	}

	out <- &CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
}

func (p *AnthropicProvider) convertMessages(msgs []CompletionMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			continue // system handled separately
		case models.RoleUser:
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, cb := range m.ContentBlocks {
				if cb.Type == "image" {
					blocks = append(blocks, anthropic.NewImageBlockBase64(cb.MimeType, cb.Base64))
				}
			}
			for _, tr := range m.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			out = append(out, anthropic.NewUserMessage(blocks...))
		case models.RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		}
	}
	return out
}

func (p *AnthropicProvider) convertTools(tools []Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Schema, &schema)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema["properties"],
				},
			},
		})
	}
	return out
}

func (p *AnthropicProvider) getModel(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

func (p *AnthropicProvider) getMaxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	return 4096
}

// wrapError classifies a raw SDK error into a ProviderError for uniform
// retry/failover handling.
func (p *AnthropicProvider) wrapError(err error) *ProviderError {
	if err == nil {
		return nil
	}
	perr := NewProviderError("anthropic", "", err)

	var apiErr *anthropic.Error
	if ae, ok := err.(*anthropic.Error); ok {
		apiErr = ae
		perr = perr.WithStatus(apiErr.StatusCode)
	}
	return perr
}

// CountTokens returns a rough token estimate (~4 chars/token) for budgeting
// when a provider-native tokenizer is unavailable.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
