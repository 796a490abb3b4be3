package chatagent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/apperrors"
	"github.com/haasonsaas/nexus/internal/approval"
	"github.com/haasonsaas/nexus/internal/graph"
	"github.com/haasonsaas/nexus/internal/reqctx"
	"github.com/haasonsaas/nexus/pkg/models"
)

// The four metadata tools below (graph.MetadataTools) are data sinks: the
// graph's tools node never calls their Execute (it short-circuits metadata
// calls to the next chat turn without running them — see
// internal/graph/runtime.go's toolsNode). Their Execute methods exist only
// to satisfy graph.Tool so they can be registered for schema purposes; the
// real side effect happens once, at save time, via ExtractMetadata and
// Facade.ApplySideEffects.

type citeSourcesTool struct{}

// NewCiteSourcesTool returns the cite_sources metadata tool.
func NewCiteSourcesTool() graph.Tool { return citeSourcesTool{} }

func (citeSourcesTool) Name() string        { return "cite_sources" }
func (citeSourcesTool) Description() string { return "Record which web sources were actually used to answer the user, as {title, url} pairs." }
func (citeSourcesTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"sources":{"type":"array","items":{"type":"object","properties":{"title":{"type":"string"},"url":{"type":"string"}},"required":["url"]}}},"required":["sources"]}`)
}
func (citeSourcesTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, []models.Artifact, error) {
	return &models.ToolResult{Content: "sources recorded"}, nil, nil
}

type manageMemoryTool struct{}

// NewManageMemoryTool returns the manage_memory metadata tool.
func NewManageMemoryTool() graph.Tool { return manageMemoryTool{} }

func (manageMemoryTool) Name() string        { return "manage_memory" }
func (manageMemoryTool) Description() string { return "Add, update, or delete entries in the user's long-term memory store." }
func (manageMemoryTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"operations":{"type":"array","items":{"type":"object","properties":{"action":{"type":"string","enum":["add","update","delete"]},"content":{"type":"string"},"category":{"type":"string"},"id":{"type":"string"}},"required":["action"]}}},"required":["operations"]}`)
}
func (manageMemoryTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, []models.Artifact, error) {
	return &models.ToolResult{Content: "memory operations recorded"}, nil, nil
}

type generateImageTool struct{}

// NewGenerateImageTool returns the generate_image metadata tool.
func NewGenerateImageTool() graph.Tool { return generateImageTool{} }

func (generateImageTool) Name() string        { return "generate_image" }
func (generateImageTool) Description() string { return "Produce an image from a prompt; the prompt is recorded on the saved assistant message." }
func (generateImageTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"prompt":{"type":"string"}},"required":["prompt"]}`)
}
func (generateImageTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, []models.Artifact, error) {
	return &models.ToolResult{Content: "image generation recorded"}, nil, nil
}

type refreshPlannerDashboardTool struct{}

// NewRefreshPlannerDashboardTool returns the refresh_planner_dashboard
// metadata tool, usable only in planning mode.
func NewRefreshPlannerDashboardTool() graph.Tool { return refreshPlannerDashboardTool{} }

func (refreshPlannerDashboardTool) Name() string        { return "refresh_planner_dashboard" }
func (refreshPlannerDashboardTool) Description() string { return "Overwrite the planner dashboard so the next turn's system prompt sees fresh data." }
func (refreshPlannerDashboardTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}
func (refreshPlannerDashboardTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, []models.Artifact, error) {
	return &models.ToolResult{Content: "planner dashboard refresh recorded"}, nil, nil
}

// requestApprovalTool is the LLM-callable escape hatch a model uses mid-turn
// to pause for human sign-off on an action its static policy wouldn't
// otherwise flag (the second of the two approval-triggering paths described
// in the approval flow design; the first is the static permission guard).
type requestApprovalTool struct {
	approvals *approval.Flow
}

// NewRequestApprovalTool returns the request_approval tool bound to flow.
func NewRequestApprovalTool(flow *approval.Flow) graph.Tool {
	return &requestApprovalTool{approvals: flow}
}

func (t *requestApprovalTool) Name() string { return "request_approval" }
func (t *requestApprovalTool) Description() string {
	return "Pause this action and ask a human to approve it before proceeding."
}
func (t *requestApprovalTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"tool_name":{"type":"string"},"reason":{"type":"string"}},"required":["tool_name","reason"]}`)
}

func (t *requestApprovalTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, []models.Artifact, error) {
	var params struct {
		ToolName string `json:"tool_name"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, nil, fmt.Errorf("request_approval: invalid arguments: %w", err)
	}
	if params.ToolName == "" {
		return nil, nil, fmt.Errorf("request_approval: tool_name is required")
	}

	conv := reqctx.ConversationFromContext(ctx)
	convID := ""
	if conv != nil {
		convID = conv.ID
	}

	call := models.ToolCall{ID: uuid.NewString(), Name: params.ToolName, Input: input}
	outcome, err := t.approvals.Request(ctx, convID, "", call, params.Reason)
	if err != nil {
		return nil, nil, err
	}
	return nil, nil, &apperrors.ApprovalRequiredError{Outcome: outcome}
}
