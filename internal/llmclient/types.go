// Package llmclient provides the LLM provider abstraction used by the graph
// runtime's chat node: a streaming Complete call, model introspection, and
// the shared transient-error classification providers use for retry and
// failover decisions.
package llmclient

import (
	"context"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Provider is implemented by each concrete LLM backend (Anthropic, OpenAI, ...).
type Provider interface {
	// Complete streams a completion for the given request. The returned
	// channel is closed when the stream ends (Done chunk or error).
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider's identifier, e.g. "anthropic".
	Name() string

	// Models lists the models this provider exposes.
	Models() []Model

	// SupportsTools reports whether this provider can execute tool calls.
	SupportsTools() bool
}

// CompletionRequest is a single turn's worth of conversation sent to a provider.
type CompletionRequest struct {
	Model               string
	System              string
	Messages            []CompletionMessage
	Tools               []Tool
	MaxTokens           int
	EnableThinking      bool
	ThinkingBudgetTokens int
}

// CompletionMessage is one message in the conversation sent to the provider.
type CompletionMessage struct {
	Role        models.Role
	Content     string
	ContentBlocks []ContentBlock
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// ContentBlock is a non-text content part of a message, built from a chat
// turn's file attachments (images and PDFs; text files are decoded and
// inlined into Content instead, between named fences).
type ContentBlock struct {
	// Type is "image" for both raster images and PDFs (the model treats a
	// PDF page image the same way).
	Type     string
	MimeType string
	Base64   string
}

// CompletionChunk is a single streamed delta from a provider.
type CompletionChunk struct {
	Text          string
	ToolCall      *models.ToolCall
	Done          bool
	Error         error
	Thinking      string
	ThinkingStart bool
	ThinkingEnd   bool
	InputTokens   int
	OutputTokens  int
}

// Model describes a model a provider exposes.
type Model struct {
	ID            string
	Name          string
	ContextSize   int
	SupportsVision bool
}

// Tool describes a callable tool's schema for the provider's function-calling API.
type Tool struct {
	Name        string
	Description string
	Schema      []byte // raw JSON schema
}
