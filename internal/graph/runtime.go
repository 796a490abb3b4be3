package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/apperrors"
	"github.com/haasonsaas/nexus/internal/approval"
	"github.com/haasonsaas/nexus/internal/backoff"
	"github.com/haasonsaas/nexus/internal/llmclient"
	"github.com/haasonsaas/nexus/internal/reqctx"
	"github.com/haasonsaas/nexus/internal/toolbuffer"
	"github.com/haasonsaas/nexus/internal/toolpolicy"
	"github.com/haasonsaas/nexus/pkg/models"
)

// shutdownSentinel is the distinguished executor-shutdown error text the
// chat agent facade treats as a graceful termination rather than a crash.
const shutdownSentinel = "cannot schedule new futures"

// transientGuidance and giveUpGuidance are appended to the message list by
// the self-correction node, matching the exact wording the system prompt
// instructs the model to look for.
const (
	transientGuidance = "the previous tool call failed, try a different approach"
	giveUpGuidance     = "repeated attempts at this tool call have failed; give up on this approach and tell the user what happened"
)

var transientToolErrorSubstrings = []string{
	"rate limit",
	"quota exceeded",
	"temporarily unavailable",
	"service unavailable",
	"503",
	"429",
	"timeout",
	"connection reset",
	"connection refused",
}

// Runtime executes the graph: plan -> chat -> (tools -> check_tool_results -> chat)* -> end.
type Runtime struct {
	Provider llmclient.Provider

	// ClassifierModel and PlannerModel may name cheaper models for the plan
	// node's classify/outline calls; empty means reuse the turn's model.
	ClassifierModel string
	PlannerModel    string

	Registry       *Registry
	ToolPolicy     *toolpolicy.Policy
	Approvals      *approval.Flow
	ToolResults    toolbuffer.Store
	ToolResultTTL  time.Duration

	RetryPolicy     backoff.BackoffPolicy
	MaxRetryAttempts int

	PlanningEnabled    bool
	PlanningMinLength  int
	MaxToolRetries     int
	RecursionLimit     int
}

func (rt *Runtime) planningMinLength() int {
	if rt.PlanningMinLength > 0 {
		return rt.PlanningMinLength
	}
	return DefaultPlanningMinLength
}

func (rt *Runtime) maxToolRetries() int {
	if rt.MaxToolRetries > 0 {
		return rt.MaxToolRetries
	}
	return DefaultMaxToolRetries
}

func (rt *Runtime) recursionLimit() int {
	if rt.RecursionLimit > 0 {
		return rt.RecursionLimit
	}
	return DefaultRecursionLimit
}

// Run executes the graph to completion (or suspension) for a single turn,
// returning the typed Outcome in place of raising exceptions for approval
// suspension or fatal recursion.
func (rt *Runtime) Run(ctx context.Context, system string, model string, state State) Outcome {
	visits := 0
	usage := Usage{}

	for i := 0; ; i++ {
		visits++
		if visits > rt.recursionLimit() {
			return Outcome{
				Kind:     OutcomeFailed,
				Messages: state.Messages,
				Usage:    usage,
				Err:      fmt.Errorf("graph: recursion limit (%d) exceeded", rt.recursionLimit()),
			}
		}

		if i == 0 && rt.shouldPlan(state) {
			if err := rt.planNode(ctx, system, model, &state); err != nil {
				// Planning failures fall back to plain chat per the plan
				// node's contract; the error is logged by the caller via ctx.
				reqctx.LoggerFromContext(ctx).Warn("plan node failed, falling back to chat", "error", err)
			}
		}

		chatUsage, err := rt.chatNode(ctx, system, model, &state)
		usage.InputTokens += chatUsage.InputTokens
		usage.OutputTokens += chatUsage.OutputTokens
		if err != nil {
			if isShutdown(err) {
				return Outcome{Kind: OutcomeCompleted, Messages: state.Messages, Usage: usage}
			}
			return Outcome{Kind: OutcomeFailed, Messages: state.Messages, Usage: usage, Err: err}
		}

		last := lastAssistantMessage(state.Messages)
		if last == nil || !hasNonMetadataToolCall(last.ToolCalls) {
			return Outcome{Kind: OutcomeCompleted, Messages: state.Messages, Usage: usage}
		}

		outcome, err := rt.toolsNode(ctx, &state, last)
		if err != nil {
			return Outcome{Kind: OutcomeFailed, Messages: state.Messages, Usage: usage, Err: err}
		}
		if outcome != nil {
			outcome.Usage = usage
			return *outcome
		}

		rt.checkToolResultsNode(&state)
	}
}

// shouldPlan reports whether the plan node should run this turn: planning is
// enabled, no plan has been produced yet, and the latest user message is
// long enough to be worth outlining.
func (rt *Runtime) shouldPlan(state State) bool {
	if !rt.PlanningEnabled || state.Plan != "" {
		return false
	}
	msg := lastUserMessage(state.Messages)
	return msg != nil && len(msg.Content) > rt.planningMinLength()
}

// planNode runs the cheap classifier call and, if it returns PLAN, the
// outliner call, writing the result into state.Plan. Any error here is
// non-fatal: the caller falls back to a normal chat turn.
func (rt *Runtime) planNode(ctx context.Context, system, model string, state *State) error {
	classifierModel := rt.ClassifierModel
	if classifierModel == "" {
		classifierModel = model
	}

	classifyReq := &llmclient.CompletionRequest{
		Model:  classifierModel,
		System: "Reply with exactly one word: PLAN if this request needs a multi-step plan before answering, or CHAT if it can be answered directly.",
		Messages: toCompletionMessages(state.Messages),
		MaxTokens: 8,
	}
	verdict, _, err := rt.completeOnce(ctx, classifyReq)
	if err != nil {
		return err
	}
	if !strings.Contains(strings.ToUpper(verdict), "PLAN") {
		return nil
	}

	plannerModel := rt.PlannerModel
	if plannerModel == "" {
		plannerModel = model
	}
	outlineReq := &llmclient.CompletionRequest{
		Model:  plannerModel,
		System: "Produce a short numbered list of steps to address the user's request. Output only the numbered list.",
		Messages: toCompletionMessages(state.Messages),
		MaxTokens: 512,
	}
	plan, _, err := rt.completeOnce(ctx, outlineReq)
	if err != nil {
		return err
	}
	state.Plan = strings.TrimSpace(plan)
	return nil
}

// completeOnce drains a Complete stream into a single text result, used by
// the cheap classifier/outliner calls that never invoke tools.
func (rt *Runtime) completeOnce(ctx context.Context, req *llmclient.CompletionRequest) (string, Usage, error) {
	chunks, err := rt.Provider.Complete(ctx, req)
	if err != nil {
		return "", Usage{}, err
	}
	var sb strings.Builder
	var usage Usage
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", usage, chunk.Error
		}
		sb.WriteString(chunk.Text)
		usage.InputTokens += chunk.InputTokens
		usage.OutputTokens += chunk.OutputTokens
	}
	return sb.String(), usage, nil
}

// chatNode runs the main LLM turn, injecting and clearing state.Plan if
// present, retrying transient provider errors with backoff.
func (rt *Runtime) chatNode(ctx context.Context, system, model string, state *State) (Usage, error) {
	messages := toCompletionMessages(state.Messages)
	effectiveSystem := system
	if state.Plan != "" {
		effectiveSystem = system + "\n\nPlan for this turn:\n" + state.Plan
		state.Plan = ""
	}

	req := &llmclient.CompletionRequest{
		Model:    model,
		System:   effectiveSystem,
		Messages: messages,
		Tools:    toolSchemas(rt.Registry),
	}

	maxAttempts := rt.MaxRetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	type result struct {
		text      string
		toolCalls []models.ToolCall
		usage     Usage
	}

	res, err := backoff.RetryTransient(ctx, rt.RetryPolicy, maxAttempts, func(attempt int) (result, error) {
		chunks, err := rt.Provider.Complete(ctx, req)
		if err != nil {
			return result{}, err
		}
		var r result
		toolCallsByID := map[string]*models.ToolCall{}
		var order []string
		for chunk := range chunks {
			if chunk.Error != nil {
				return result{}, chunk.Error
			}
			if chunk.Text != "" {
				emit(ctx, Event{Kind: EventToken, Text: chunk.Text})
			}
			if chunk.Thinking != "" {
				emit(ctx, Event{Kind: EventThinking, Text: chunk.Thinking})
			}
			r.text += chunk.Text
			r.usage.InputTokens += chunk.InputTokens
			r.usage.OutputTokens += chunk.OutputTokens
			if chunk.ToolCall != nil {
				if _, exists := toolCallsByID[chunk.ToolCall.ID]; !exists {
					order = append(order, chunk.ToolCall.ID)
				}
				tc := *chunk.ToolCall
				toolCallsByID[chunk.ToolCall.ID] = &tc
			}
		}
		for _, id := range order {
			r.toolCalls = append(r.toolCalls, *toolCallsByID[id])
		}
		return r, nil
	})
	if err != nil {
		return Usage{}, err
	}

	state.Messages = append(state.Messages, models.Message{
		Role:      models.RoleAssistant,
		Content:   res.text,
		ToolCalls: res.toolCalls,
		CreatedAt: time.Now(),
	})
	return res.usage, nil
}

// toolsNode executes every tool call in the last assistant message, applying
// the permission guard and routing request_approval calls through the
// approval flow. Returns a non-nil Outcome only when the turn must suspend
// (waiting_approval); nil means the loop should continue to
// check_tool_results.
func (rt *Runtime) toolsNode(ctx context.Context, state *State, last *models.Message) (*Outcome, error) {
	conv := reqctx.ConversationFromContext(ctx)
	convID := ""
	if conv != nil {
		convID = conv.ID
	}

	var toolMessages []models.Message
	for _, call := range last.ToolCalls {
		if MetadataTools[call.Name] {
			// Metadata tools are recorded by the caller at save time by
			// reading the AI message's tool calls directly; they produce no
			// tool-result turn here.
			continue
		}

		decision, reason := rt.checkPolicy(call.Name)
		switch decision {
		case toolpolicy.Denied:
			toolMessages = append(toolMessages, blockedToolMessage(call, reason))
			continue
		case toolpolicy.RequiresApproval:
			outcome, err := rt.requestApproval(ctx, convID, call, reason)
			if err != nil {
				return nil, err
			}
			return outcome, nil
		}

		tool, ok := rt.Registry.Get(call.Name)
		if !ok {
			toolMessages = append(toolMessages, blockedToolMessage(call, "unknown tool"))
			continue
		}

		emit(ctx, Event{Kind: EventToolStart, ToolName: call.Name, ToolCallID: call.ID, Input: call.Input})
		toolResult, artifacts, err := tool.Execute(ctx, call.Input)
		emit(ctx, Event{Kind: EventToolEnd, ToolName: call.Name, ToolCallID: call.ID})
		if err != nil {
			if outcome, ok := apperrors.AsApprovalOutcome(err); ok {
				if len(toolMessages) > 0 {
					state.Messages = append(state.Messages, toolMessages...)
				}
				return &Outcome{
					Kind:                OutcomeWaitingApproval,
					ApprovalID:          outcome.ApprovalID,
					ApprovalDescription: fmt.Sprintf("%s requires approval: %s", outcome.ToolName, outcome.Reason),
				}, nil
			}
			toolMessages = append(toolMessages, models.Message{
				Role:      models.RoleTool,
				CreatedAt: time.Now(),
				ToolResults: []models.ToolResult{{
					ToolCallID: call.ID,
					Content:    err.Error(),
					IsError:    true,
				}},
			})
			continue
		}

		if rt.ToolResults != nil {
			env := toolbuffer.Wrap(convID, call.Name, *toolResult, artifacts, rt.ToolResultTTL)
			env.ToolCallID = call.ID
			if err := rt.ToolResults.Put(ctx, env); err != nil {
				reqctx.LoggerFromContext(ctx).Warn("failed to store tool result envelope", "error", err)
			}
			toolMessages = append(toolMessages, models.Message{
				Role:      models.RoleTool,
				CreatedAt: time.Now(),
				ToolResults: []models.ToolResult{{
					ToolCallID: call.ID,
					Content:    env.Content,
					IsError:    toolResult.IsError,
				}},
			})
			continue
		}

		toolMessages = append(toolMessages, models.Message{
			Role:      models.RoleTool,
			CreatedAt: time.Now(),
			ToolResults: []models.ToolResult{*toolResult},
		})
	}

	state.Messages = append(state.Messages, toolMessages...)
	return nil, nil
}

// checkPolicy wraps a possible Execute-time ApprovalRequiredError into the
// same three-way decision the permission guard reports for a static policy
// check, so callers only need to branch once.
func (rt *Runtime) checkPolicy(toolName string) (toolpolicy.Decision, string) {
	if rt.ToolPolicy == nil {
		return toolpolicy.Allowed, "no policy configured"
	}
	return rt.ToolPolicy.Check(toolName)
}

// requestApproval creates a pending ApprovalRequest for a tool call that
// requires human sign-off and returns the waiting_approval Outcome.
func (rt *Runtime) requestApproval(ctx context.Context, conversationID string, call models.ToolCall, reason string) (*Outcome, error) {
	if rt.Approvals == nil {
		return nil, fmt.Errorf("graph: tool %q requires approval but no approval flow is configured", call.Name)
	}
	outcome, err := rt.Approvals.Request(ctx, conversationID, "", call, reason)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Kind:                OutcomeWaitingApproval,
		ApprovalID:          outcome.ApprovalID,
		ApprovalDescription: fmt.Sprintf("%s requires approval: %s", outcome.ToolName, reason),
	}, nil
}

// checkToolResultsNode is the self-correction gate: it scans tool messages
// produced since the last assistant message for errors or transient-failure
// text, incrementing or resetting state.ToolRetries and appending guidance
// for the next chat turn accordingly.
func (rt *Runtime) checkToolResultsNode(state *State) {
	var failed bool
	for i := len(state.Messages) - 1; i >= 0; i-- {
		m := state.Messages[i]
		if m.Role == models.RoleAssistant {
			break
		}
		if m.Role != models.RoleTool {
			continue
		}
		for _, tr := range m.ToolResults {
			if tr.IsError || looksTransient(tr.Content) {
				failed = true
			}
		}
	}

	if !failed {
		state.ToolRetries = 0
		return
	}

	state.ToolRetries++
	guidance := transientGuidance
	if state.ToolRetries > rt.maxToolRetries() {
		guidance = giveUpGuidance
	}
	state.Messages = append(state.Messages, models.Message{
		Role:      models.RoleUser,
		Content:   guidance,
		CreatedAt: time.Now(),
	})
}

func looksTransient(content string) bool {
	msg := strings.ToLower(content)
	for _, substr := range transientToolErrorSubstrings {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func isShutdown(err error) bool {
	return err != nil && strings.Contains(err.Error(), shutdownSentinel)
}

// IsShutdown reports whether err is the distinguished executor-shutdown
// sentinel error, which callers outside this package (the chat agent facade's
// event stream) must treat as graceful termination rather than a failure.
func IsShutdown(err error) bool {
	return isShutdown(err)
}

func blockedToolMessage(call models.ToolCall, reason string) models.Message {
	return models.Message{
		Role:      models.RoleTool,
		CreatedAt: time.Now(),
		ToolResults: []models.ToolResult{{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("tool blocked: %s (%s)", call.Name, reason),
			IsError:    true,
		}},
	}
}

func lastAssistantMessage(messages []models.Message) *models.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant {
			return &messages[i]
		}
	}
	return nil
}

func lastUserMessage(messages []models.Message) *models.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return &messages[i]
		}
	}
	return nil
}

// hasNonMetadataToolCall reports whether calls contains at least one tool
// call that is not purely a metadata sink; the router only continues into
// the tools node in that case.
func hasNonMetadataToolCall(calls []models.ToolCall) bool {
	if len(calls) == 0 {
		return false
	}
	return !isMetadataOnly(calls)
}

func toCompletionMessages(messages []models.Message) []llmclient.CompletionMessage {
	out := make([]llmclient.CompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, llmclient.CompletionMessage{
			Role:          m.Role,
			Content:       m.Content,
			ContentBlocks: attachmentsToContentBlocks(m.Attachments),
			ToolCalls:     m.ToolCalls,
			ToolResults:   m.ToolResults,
		})
	}
	return out
}

// attachmentsToContentBlocks converts image and PDF attachments into
// provider content blocks for multimodal construction. Text file
// attachments are not handled here: the chat agent facade inlines their
// decoded contents into the message's Content between named fences before
// the message ever reaches the graph.
func attachmentsToContentBlocks(attachments []models.Attachment) []llmclient.ContentBlock {
	if len(attachments) == 0 {
		return nil
	}
	var blocks []llmclient.ContentBlock
	for _, att := range attachments {
		if att.Type != "image" && att.Type != "pdf" {
			continue
		}
		data, ok := inlineBase64(att.URL)
		if !ok {
			continue
		}
		blocks = append(blocks, llmclient.ContentBlock{
			Type:     "image",
			MimeType: att.MimeType,
			Base64:   data,
		})
	}
	return blocks
}

// inlineBase64 extracts the base64 payload from a "data:<mime>;base64,<b64>"
// URL, the only attachment URL form the graph embeds content blocks from.
func inlineBase64(url string) (string, bool) {
	const marker = ";base64,"
	idx := strings.Index(url, marker)
	if idx < 0 {
		return "", false
	}
	return url[idx+len(marker):], true
}

func toolSchemas(reg *Registry) []llmclient.Tool {
	if reg == nil {
		return nil
	}
	var out []llmclient.Tool
	for _, t := range reg.List() {
		out = append(out, llmclient.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			Schema:      t.Schema(),
		})
	}
	return out
}
