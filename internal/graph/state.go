// Package graph implements the agent graph runtime: a small state machine
// that routes a conversation turn between a planning node, the main chat
// node, tool execution, and a self-correction gate, with an explicit
// recursion limit and a typed outcome in place of exception-driven control
// flow for approval suspension.
package graph

import (
	"github.com/haasonsaas/nexus/pkg/models"
)

// DefaultPlanningMinLength is the minimum length (characters) of the latest
// user message before the plan node is considered.
const DefaultPlanningMinLength = 400

// DefaultMaxToolRetries bounds how many consecutive failed tool batches the
// self-correction node tolerates before telling the model to give up.
const DefaultMaxToolRetries = 2

// DefaultRecursionLimit caps total node visits per run, independent of
// MaxToolRetries: the former counts node visits, the latter counts only
// tool failures.
const DefaultRecursionLimit = 50

// State is the graph's shared, mutable state threaded through every node.
type State struct {
	Messages    []models.Message
	ToolRetries int
	Plan        string
}

// OutcomeKind discriminates a Run's result.
type OutcomeKind string

const (
	OutcomeCompleted        OutcomeKind = "completed"
	OutcomeWaitingApproval  OutcomeKind = "waiting_approval"
	OutcomeFailed           OutcomeKind = "failed"
)

// Usage aggregates token counts across every chat-node invocation in a run.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Outcome is the typed result of a graph run, replacing exception-based
// approval control flow with an ordinary return value.
type Outcome struct {
	Kind     OutcomeKind
	Messages []models.Message
	Usage    Usage

	// Populated when Kind == OutcomeWaitingApproval.
	ApprovalID          string
	ApprovalDescription string

	// Populated when Kind == OutcomeFailed.
	Err error
}

// LastAssistantText returns the textual content of the final assistant
// message, skipping trailing tool-call-only turns, or "" if none.
func (o Outcome) LastAssistantText() string {
	for i := len(o.Messages) - 1; i >= 0; i-- {
		m := o.Messages[i]
		if m.Role == models.RoleAssistant && m.Content != "" {
			return m.Content
		}
	}
	return ""
}

// ToolResults collects every tool result message produced during the run.
func (o Outcome) ToolResults() []models.ToolResult {
	var out []models.ToolResult
	for _, m := range o.Messages {
		out = append(out, m.ToolResults...)
	}
	return out
}
