// Package chatagent is the chat agent facade: it wraps the
// graph runtime with the three entry points interactive chat and the
// autonomous executor both drive through — batch, token stream, and event
// stream — plus the system prompt and metadata-prelude construction shared
// by all three. The request/response shape is adapted from a session-keyed
// agentic loop to the conversation/agent domain this module serves.
package chatagent

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus/internal/graph"
	"github.com/haasonsaas/nexus/pkg/models"
)

// Request is the common envelope for all three chat agent entry points.
type Request struct {
	Conversation *models.Conversation
	User         *models.User

	// Agent is non-nil when this turn runs under an autonomous agent
	// (interactive chat with no bound agent leaves this nil).
	Agent *models.Agent

	Message string
	Files   []models.Attachment

	// History is every prior message in the conversation, oldest first.
	History []models.Message

	// ForcedTools, if non-empty, restricts the tool schemas offered to the
	// model this turn to exactly this set (still subject to the permission
	// guard).
	ForcedTools []string

	CustomInstructions string
	PlanningMode       bool
	Anonymous          bool

	Model string
}

// Result is the outcome of Facade.Batch: the final assistant turn plus the
// aggregated usage and metadata side-channel content.
type Result struct {
	Content     string
	ToolResults []models.ToolResult
	Usage       graph.Usage
	Metadata    Metadata
	Messages    []models.Message
	Outcome     graph.Outcome
}

// Facade runs chat turns through the graph runtime, handling prompt
// construction, history rewriting, and metadata extraction so callers
// (interactive HTTP handlers, the streaming pipeline, the autonomous
// executor) never touch the graph directly.
type Facade struct {
	Runtime *graph.Runtime

	// DefaultModel is used when Request.Model is empty.
	DefaultModel string

	// Files resolves attachment bytes for multimodal content construction.
	// Nil means attachments pass through with whatever URL the caller set.
	Files FileReader

	// Memory and Dashboard apply the manage_memory / refresh_planner_dashboard
	// metadata tools' side effects (see ApplySideEffects). Both optional.
	Memory    MemoryStore
	Dashboard DashboardRefresher
}

// New creates a Facade around an already-configured graph.Runtime.
func New(rt *graph.Runtime, defaultModel string) *Facade {
	return &Facade{Runtime: rt, DefaultModel: defaultModel}
}

func (f *Facade) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	if f.DefaultModel != "" {
		return f.DefaultModel
	}
	return ""
}

// Batch runs the graph to completion (or suspension) and returns the final
// assistant turn, extracted tool results, aggregated usage, and metadata
// pulled from any metadata-tool calls in the run.
func (f *Facade) Batch(ctx context.Context, req Request) (Result, error) {
	system, err := BuildSystemPrompt(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("chatagent: building system prompt: %w", err)
	}

	state := graph.State{Messages: f.buildTurnMessages(ctx, req)}
	outcome := f.Runtime.Run(ctx, system, f.model(req), state)

	result := Result{
		Content:     outcome.LastAssistantText(),
		ToolResults: outcome.ToolResults(),
		Usage:       outcome.Usage,
		Messages:    outcome.Messages,
		Outcome:     outcome,
	}
	if outcome.Kind == graph.OutcomeFailed {
		return result, outcome.Err
	}
	result.Metadata = ExtractMetadata(outcome.Messages)
	return result, nil
}

// buildTurnMessages rewrites History with the metadata prelude, appends the
// new user message (with any multimodal content blocks attached), and
// returns the full message list the graph should see for this turn.
func (f *Facade) buildTurnMessages(ctx context.Context, req Request) []models.Message {
	out := make([]models.Message, 0, len(req.History)+1)
	var prevCreatedAt time.Time
	for _, msg := range req.History {
		rewritten := msg
		rewritten.Content = renderPrelude(msg, prevCreatedAt) + msg.Content
		out = append(out, rewritten)
		if !msg.CreatedAt.IsZero() {
			prevCreatedAt = msg.CreatedAt
		}
	}

	atts, fences := f.applyMultimodal(ctx, req.Files)
	userMsg := models.Message{
		Role:        models.RoleUser,
		Content:     req.Message + fences,
		Attachments: atts,
		CreatedAt:   time.Now(),
	}
	out = append(out, userMsg)
	return out
}

// approvalMarker renders the byte-exact approval-request prefix that
// marks an assistant message as an interactive approval prompt.
func approvalMarker(approvalID, description string) string {
	return fmt.Sprintf("[approval-request:%s]\n**Action requires approval**\n\n%s", approvalID, description)
}

// ApprovalMarker is the exported form of approvalMarker, used by the
// autonomous executor and the streaming pipeline to construct the
// assistant-visible approval message from a graph.Outcome.
func ApprovalMarker(outcome graph.Outcome) string {
	return approvalMarker(outcome.ApprovalID, outcome.ApprovalDescription)
}
