package graph

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus/internal/approval"
	"github.com/haasonsaas/nexus/internal/llmclient"
	"github.com/haasonsaas/nexus/internal/toolbuffer"
	"github.com/haasonsaas/nexus/internal/toolpolicy"
	"github.com/haasonsaas/nexus/pkg/models"
)

// fakeProvider returns one canned response per call, in order, ignoring the request.
type fakeProvider struct {
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	text      string
	toolCalls []models.ToolCall
	err       error
}

func (f *fakeProvider) Complete(ctx context.Context, req *llmclient.CompletionRequest) (<-chan *llmclient.CompletionChunk, error) {
	if f.calls >= len(f.responses) {
		f.calls++
		ch := make(chan *llmclient.CompletionChunk, 1)
		ch <- &llmclient.CompletionChunk{Text: "", Done: true}
		close(ch)
		return ch, nil
	}
	resp := f.responses[f.calls]
	f.calls++

	ch := make(chan *llmclient.CompletionChunk, len(resp.toolCalls)+2)
	if resp.err != nil {
		ch <- &llmclient.CompletionChunk{Error: resp.err}
		close(ch)
		return ch, nil
	}
	if resp.text != "" {
		ch <- &llmclient.CompletionChunk{Text: resp.text}
	}
	for i := range resp.toolCalls {
		tc := resp.toolCalls[i]
		ch <- &llmclient.CompletionChunk{ToolCall: &tc}
	}
	ch <- &llmclient.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Name() string          { return "fake" }
func (f *fakeProvider) Models() []llmclient.Model { return nil }
func (f *fakeProvider) SupportsTools() bool   { return true }

// fakeTool echoes its input back as the result content.
type fakeTool struct {
	name string
	err  error
}

func (t *fakeTool) Name() string              { return t.name }
func (t *fakeTool) Description() string       { return "test tool" }
func (t *fakeTool) Schema() json.RawMessage    { return json.RawMessage(`{}`) }
func (t *fakeTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, []models.Artifact, error) {
	if t.err != nil {
		return nil, nil, t.err
	}
	return &models.ToolResult{Content: "ok: " + string(input)}, nil, nil
}

func newTestRuntime(provider llmclient.Provider, registry *Registry) *Runtime {
	return &Runtime{
		Provider:         provider,
		Registry:         registry,
		ToolPolicy:       &toolpolicy.Policy{DefaultDecision: toolpolicy.Allowed},
		ToolResults:      toolbuffer.NewMemoryStore(),
		Approvals:        approval.New(approval.NewMemoryStore(), 0),
		MaxRetryAttempts: 1,
	}
}

func TestRunSimpleChatTerminatesAtEnd(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{text: "hello there"}}}
	rt := newTestRuntime(provider, NewRegistry())

	state := State{Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}}}
	outcome := rt.Run(context.Background(), "system prompt", "test-model", state)

	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("expected OutcomeCompleted, got %v (err=%v)", outcome.Kind, outcome.Err)
	}
	if outcome.LastAssistantText() != "hello there" {
		t.Fatalf("unexpected assistant text: %q", outcome.LastAssistantText())
	}
}

func TestRunExecutesToolThenCompletes(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "lookup"})

	provider := &fakeProvider{responses: []fakeResponse{
		{toolCalls: []models.ToolCall{{ID: "call_1", Name: "lookup", Input: json.RawMessage(`"x"`)}}},
		{text: "found it"},
	}}
	rt := newTestRuntime(provider, registry)

	state := State{Messages: []models.Message{{Role: models.RoleUser, Content: "look up x"}}}
	outcome := rt.Run(context.Background(), "system", "test-model", state)

	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("expected OutcomeCompleted, got %v (err=%v)", outcome.Kind, outcome.Err)
	}
	if outcome.LastAssistantText() != "found it" {
		t.Fatalf("unexpected final text: %q", outcome.LastAssistantText())
	}

	var sawToolResult bool
	for _, m := range outcome.Messages {
		if m.Role == models.RoleTool {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Fatal("expected a tool-result message in the run history")
	}
}

func TestRunMetadataOnlyToolCallTerminates(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{toolCalls: []models.ToolCall{{ID: "call_1", Name: "cite_sources", Input: json.RawMessage(`{}`)}}},
	}}
	rt := newTestRuntime(provider, NewRegistry())

	state := State{Messages: []models.Message{{Role: models.RoleUser, Content: "cite your sources"}}}
	outcome := rt.Run(context.Background(), "system", "test-model", state)

	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("expected OutcomeCompleted after metadata-only tool call, got %v", outcome.Kind)
	}
}

func TestRunDeniedToolBlockedThenRetriesAndGivesUp(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "rm"})

	call := models.ToolCall{ID: "call_1", Name: "rm", Input: json.RawMessage(`{}`)}
	provider := &fakeProvider{responses: []fakeResponse{
		{toolCalls: []models.ToolCall{call}},
		{toolCalls: []models.ToolCall{call}},
		{toolCalls: []models.ToolCall{call}},
		{text: "giving up"},
	}}
	rt := newTestRuntime(provider, registry)
	rt.ToolPolicy = &toolpolicy.Policy{Deny: []string{"rm"}, DefaultDecision: toolpolicy.Allowed}
	rt.MaxToolRetries = 2

	state := State{Messages: []models.Message{{Role: models.RoleUser, Content: "remove the file"}}}
	outcome := rt.Run(context.Background(), "system", "test-model", state)

	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("expected OutcomeCompleted, got %v (err=%v)", outcome.Kind, outcome.Err)
	}
	if outcome.LastAssistantText() != "giving up" {
		t.Fatalf("unexpected final text: %q", outcome.LastAssistantText())
	}
}

func TestRunToolRequiresApprovalSuspends(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "send_email"})

	provider := &fakeProvider{responses: []fakeResponse{
		{toolCalls: []models.ToolCall{{ID: "call_1", Name: "send_email", Input: json.RawMessage(`{}`)}}},
	}}
	rt := newTestRuntime(provider, registry)
	rt.ToolPolicy = &toolpolicy.Policy{RequireApproval: []string{"send_email"}, DefaultDecision: toolpolicy.Allowed}

	state := State{Messages: []models.Message{{Role: models.RoleUser, Content: "email the team"}}}
	outcome := rt.Run(context.Background(), "system", "test-model", state)

	if outcome.Kind != OutcomeWaitingApproval {
		t.Fatalf("expected OutcomeWaitingApproval, got %v (err=%v)", outcome.Kind, outcome.Err)
	}
	if outcome.ApprovalID == "" {
		t.Fatal("expected a populated ApprovalID")
	}
}

func TestRunRecursionLimitFails(t *testing.T) {
	var toolCall = models.ToolCall{ID: "call_1", Name: "loopy", Input: json.RawMessage(`{}`)}
	registry := NewRegistry()
	registry.Register(&fakeTool{name: "loopy"})

	responses := make([]fakeResponse, 0, 10)
	for i := 0; i < 10; i++ {
		responses = append(responses, fakeResponse{toolCalls: []models.ToolCall{toolCall}})
	}
	provider := &fakeProvider{responses: responses}
	rt := newTestRuntime(provider, registry)
	rt.RecursionLimit = 3

	state := State{Messages: []models.Message{{Role: models.RoleUser, Content: "loop forever"}}}
	outcome := rt.Run(context.Background(), "system", "test-model", state)

	if outcome.Kind != OutcomeFailed {
		t.Fatalf("expected OutcomeFailed from recursion limit, got %v", outcome.Kind)
	}
}

func TestRunShutdownErrorIsGraceful(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{err: errShutdown{}},
	}}
	rt := newTestRuntime(provider, NewRegistry())
	rt.MaxRetryAttempts = 1

	state := State{Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}}}
	outcome := rt.Run(context.Background(), "system", "test-model", state)

	if outcome.Kind != OutcomeCompleted {
		t.Fatalf("expected shutdown to resolve as OutcomeCompleted, got %v (err=%v)", outcome.Kind, outcome.Err)
	}
}

type errShutdown struct{}

func (errShutdown) Error() string { return "cannot schedule new futures after executor shutdown" }
