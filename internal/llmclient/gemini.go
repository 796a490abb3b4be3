package llmclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/haasonsaas/nexus/pkg/models"
)

// GeminiConfig configures a GeminiProvider.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
	Logger       *slog.Logger
}

// GeminiProvider implements Provider against Google's Gemini API via the
// genai SDK, using its Go 1.23 iterator-based streaming.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
	logger       *slog.Logger
}

// NewGeminiProvider constructs a Provider backed by the Gemini API.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "llmclient.gemini")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: creating client: %w", err)
	}

	return &GeminiProvider{
		client:       client,
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
		logger:       logger,
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) SupportsTools() bool { return true }

func (p *GeminiProvider) Models() []Model {
	return []Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1000000, SupportsVision: true},
		{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", ContextSize: 1000000, SupportsVision: true},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextSize: 2000000, SupportsVision: true},
		{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", ContextSize: 1000000, SupportsVision: true},
	}
}

// Complete streams a completion via GenerateContentStream, retrying stream
// creation with exponential backoff on transient errors.
func (p *GeminiProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if req == nil {
		return nil, fmt.Errorf("gemini: request is required")
	}
	out := make(chan *CompletionChunk, 16)

	go func() {
		defer close(out)

		model := req.Model
		if model == "" {
			model = p.defaultModel
		}
		contents := p.convertMessages(req.Messages)
		config := p.buildConfig(req)

		var streamErr error
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

			streamErr = p.processStream(ctx, p.client.Models.GenerateContentStream(ctx, model, contents, config), out)
			if streamErr == nil {
				return
			}
			wrapped := p.wrapError(streamErr, model)
			if !IsRetryable(wrapped) {
				out <- &CompletionChunk{Error: wrapped, Done: true}
				return
			}
			p.logger.Warn("gemini stream failed, retrying", "attempt", attempt, "error", wrapped)
			streamErr = wrapped
		}

		out <- &CompletionChunk{Error: fmt.Errorf("gemini: max retries exceeded: %w", streamErr), Done: true}
	}()

	return out, nil
}

func (p *GeminiProvider) processStream(ctx context.Context, stream func(func(*genai.GenerateContentResponse, error) bool), out chan<- *CompletionChunk) error {
	var streamErr error

	stream(func(resp *genai.GenerateContentResponse, err error) bool {
		select {
		case <-ctx.Done():
			streamErr = ctx.Err()
			return false
		default:
		}
		if err != nil {
			streamErr = err
			return false
		}
		if resp == nil {
			return true
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
					out <- &CompletionChunk{Text: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, jerr := json.Marshal(part.FunctionCall.Args)
					if jerr != nil {
						argsJSON = []byte("{}")
					}
					out <- &CompletionChunk{ToolCall: &models.ToolCall{
						ID:    fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, len(argsJSON)),
						Name:  part.FunctionCall.Name,
						Input: argsJSON,
					}}
				}
			}
		}
		return true
	})

	if streamErr != nil {
		return streamErr
	}
	out <- &CompletionChunk{Done: true}
	return nil
}

func (p *GeminiProvider) convertMessages(messages []CompletionMessage) []*genai.Content {
	var result []*genai.Content
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, cb := range msg.ContentBlocks {
			if cb.Type != "image" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(cb.Base64)
			if err != nil {
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: cb.MimeType}})
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Input, &args); err != nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args}})
		}
		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &response); err != nil {
				response = map[string]any{"result": tr.Content, "error": tr.IsError}
			}
			content.Parts = append(content.Parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{Name: toolNameForResult(tr.ToolCallID, messages), Response: response}})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func toolNameForResult(toolCallID string, messages []CompletionMessage) string {
	for _, msg := range messages {
		for _, tc := range msg.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	return ""
}

func (p *GeminiProvider) convertTools(tools []Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func (p *GeminiProvider) buildConfig(req *CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if tools := p.convertTools(req.Tools); len(tools) > 0 {
		cfg.Tools = tools
	}
	return cfg
}

func (p *GeminiProvider) wrapError(err error, model string) *ProviderError {
	if err == nil {
		return nil
	}
	if perr, ok := GetProviderError(err); ok {
		return perr
	}
	perr := NewProviderError("gemini", model, err)
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "429"), strings.Contains(errMsg, "resource exhausted"):
		perr.Reason = FailoverRateLimit
	case strings.Contains(errMsg, "500"), strings.Contains(errMsg, "503"):
		perr.Reason = FailoverServerError
	case strings.Contains(errMsg, "401"), strings.Contains(errMsg, "unauthenticated"):
		perr.Reason = FailoverAuth
	}
	return perr
}
