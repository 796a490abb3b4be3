// Package reqctx carries per-request ambient state through a conversation
// turn: the active conversation, a request-scoped logger, model/system-prompt
// overrides, and the approval decision channel the graph runtime waits on.
package reqctx

import (
	"context"
	"log/slog"
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

type conversationKey struct{}
type loggerKey struct{}
type systemPromptKey struct{}
type modelKey struct{}
type userIDKey struct{}
type runIDKey struct{}
type approvalWaiterKey struct{}
type agentContextKey struct{}
type plannerDashboardKey struct{}

// WithConversation stores the active conversation in the context.
func WithConversation(ctx context.Context, conv *models.Conversation) context.Context {
	if conv == nil {
		return ctx
	}
	return context.WithValue(ctx, conversationKey{}, conv)
}

// ConversationFromContext retrieves the active conversation, or nil.
func ConversationFromContext(ctx context.Context) *models.Conversation {
	conv, _ := ctx.Value(conversationKey{}).(*models.Conversation)
	return conv
}

// WithLogger stores a request-scoped logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFromContext returns the request-scoped logger, falling back to
// slog.Default() when none was set.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	if !ok || logger == nil {
		return slog.Default()
	}
	return logger
}

// WithSystemPrompt stores a per-turn system prompt override.
func WithSystemPrompt(ctx context.Context, prompt string) context.Context {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ctx
	}
	return context.WithValue(ctx, systemPromptKey{}, prompt)
}

// SystemPromptFromContext retrieves the system prompt override, if any.
func SystemPromptFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(systemPromptKey{}).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// WithModel stores a per-turn model override.
func WithModel(ctx context.Context, model string) context.Context {
	model = strings.TrimSpace(model)
	if model == "" {
		return ctx
	}
	return context.WithValue(ctx, modelKey{}, model)
}

// ModelFromContext retrieves the model override, if any.
func ModelFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(modelKey{}).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// WithUserID stores the acting user's ID in the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext retrieves the acting user's ID, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(userIDKey{}).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// WithRunID stores the current graph run identifier, used to correlate
// streamed events and tool result envelopes back to a single turn.
func WithRunID(ctx context.Context, runID string) context.Context {
	if runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext retrieves the current run identifier, if any.
func RunIDFromContext(ctx context.Context) (string, bool) {
	value, ok := ctx.Value(runIDKey{}).(string)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

// AgentContext is installed for the duration of an autonomous run so tools
// like trigger_agent and request_approval can see which agent and user are
// acting, and can detect circular agent-to-agent triggering by walking
// TriggerChain (the IDs of every agent in the current trigger chain,
// outermost first, including this run's own agent as the last entry).
type AgentContext struct {
	Agent        *models.Agent
	User         *models.User
	TriggerChain []string
}

// InChain reports whether agentID already appears in the trigger chain,
// i.e. triggering it again would be circular.
func (a AgentContext) InChain(agentID string) bool {
	for _, id := range a.TriggerChain {
		if id == agentID {
			return true
		}
	}
	return false
}

// WithAgentContext installs the AgentContext for an autonomous run.
func WithAgentContext(ctx context.Context, agentCtx *AgentContext) context.Context {
	if agentCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, agentContextKey{}, agentCtx)
}

// AgentContextFromContext retrieves the AgentContext installed for the
// current autonomous run, or nil if this is an interactive (non-agent) turn.
func AgentContextFromContext(ctx context.Context) *AgentContext {
	agentCtx, _ := ctx.Value(agentContextKey{}).(*AgentContext)
	return agentCtx
}

// PlannerDashboardStore is the per-request ambient slot holding the planner
// dashboard snapshot text. The refresh_planner_dashboard tool overwrites it
// mid-conversation; the chat agent facade reads it fresh on the NEXT turn's
// system prompt assembly, never mid-run. Never shared across
// requests — a new instance must be installed per conversation turn.
type PlannerDashboardStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, snapshot string) error
}

// WithPlannerDashboard installs the planner dashboard store for a turn.
func WithPlannerDashboard(ctx context.Context, store PlannerDashboardStore) context.Context {
	if store == nil {
		return ctx
	}
	return context.WithValue(ctx, plannerDashboardKey{}, store)
}

// PlannerDashboardFromContext retrieves the installed planner dashboard store.
func PlannerDashboardFromContext(ctx context.Context) (PlannerDashboardStore, bool) {
	store, ok := ctx.Value(plannerDashboardKey{}).(PlannerDashboardStore)
	if !ok || store == nil {
		return nil, false
	}
	return store, true
}

// ApprovalDecision is the outcome of a human resolving an ApprovalRequest.
type ApprovalDecision struct {
	Approved bool
	Reason   string
}

// ApprovalWaiter lets the graph runtime block on a decision for a specific
// approval request without the caller needing to know the transport (SSE,
// webhook, polling) that eventually delivers it.
type ApprovalWaiter interface {
	Wait(ctx context.Context, approvalID string) (ApprovalDecision, error)
}

// WithApprovalWaiter stores the ApprovalWaiter used by the graph's tools node.
func WithApprovalWaiter(ctx context.Context, waiter ApprovalWaiter) context.Context {
	if waiter == nil {
		return ctx
	}
	return context.WithValue(ctx, approvalWaiterKey{}, waiter)
}

// ApprovalWaiterFromContext retrieves the ApprovalWaiter, if any.
func ApprovalWaiterFromContext(ctx context.Context) (ApprovalWaiter, bool) {
	waiter, ok := ctx.Value(approvalWaiterKey{}).(ApprovalWaiter)
	if !ok || waiter == nil {
		return nil, false
	}
	return waiter, true
}
