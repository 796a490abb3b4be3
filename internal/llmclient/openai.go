package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/nexus/pkg/models"
)

// OpenAIProvider implements Provider against the OpenAI chat completions API.
type OpenAIProvider struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewOpenAIProvider constructs a Provider backed by the OpenAI SDK.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client:     openai.NewClient(apiKey),
		maxRetries: 3,
		retryDelay: time.Second,
		logger:     slog.Default().With("component", "llmclient.openai"),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Models() []Model {
	return []Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000},
		{ID: "gpt-4", Name: "GPT-4", ContextSize: 8192},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385},
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if req == nil {
		return nil, fmt.Errorf("openai: request is required")
	}

	openaiReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  p.convertToOpenAIMessages(req),
		Stream:    true,
		MaxTokens: req.MaxTokens,
		Tools:     p.convertToOpenAITools(req.Tools),
	}

	out := make(chan *CompletionChunk, 16)

	go func() {
		defer close(out)

		var stream *openai.ChatCompletionStream
		var lastErr error

		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					out <- &CompletionChunk{Error: ctx.Err(), Done: true}
					return
				case <-time.After(p.retryDelay * time.Duration(attempt)):
				}
			}

			s, err := p.client.CreateChatCompletionStream(ctx, openaiReq)
			if err == nil {
				stream = s
				break
			}
			lastErr = NewProviderError("openai", req.Model, err)
			if !IsRetryable(lastErr) {
				out <- &CompletionChunk{Error: lastErr, Done: true}
				return
			}
			p.logger.Warn("openai stream creation failed, retrying", "attempt", attempt, "error", lastErr)
		}

		if stream == nil {
			out <- &CompletionChunk{Error: lastErr, Done: true}
			return
		}
		defer stream.Close()

		p.processStream(ctx, stream, out)
	}()

	return out, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- *CompletionChunk) {
	toolCalls := map[int]*models.ToolCall{}
	order := []int{}

	flush := func() {
		for _, idx := range order {
			if tc := toolCalls[idx]; tc != nil {
				out <- &CompletionChunk{ToolCall: tc}
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			out <- &CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			flush()
			out <- &CompletionChunk{Done: true}
			return
		}
		if err != nil {
			out <- &CompletionChunk{Error: NewProviderError("openai", "", err), Done: true}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			out <- &CompletionChunk{Text: choice.Delta.Content}
		}

		for _, tcDelta := range choice.Delta.ToolCalls {
			idx := 0
			if tcDelta.Index != nil {
				idx = *tcDelta.Index
			}
			tc, ok := toolCalls[idx]
			if !ok {
				tc = &models.ToolCall{ID: tcDelta.ID, Name: tcDelta.Function.Name}
				toolCalls[idx] = tc
				order = append(order, idx)
			}
			if tcDelta.Function.Name != "" {
				tc.Name = tcDelta.Function.Name
			}
			tc.Input = json.RawMessage(string(tc.Input) + tcDelta.Function.Arguments)
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
			out <- &CompletionChunk{Done: true}
			return
		}
	}
}

func (p *OpenAIProvider) convertToOpenAIMessages(req *CompletionRequest) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleUser:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		case models.RoleAssistant:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Input),
					},
				})
			}
			out = append(out, msg)
			for _, tr := range m.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		}
	}
	return out
}

func (p *OpenAIProvider) convertToOpenAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}
