package graph

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Tool is a callable tool exposed to the graph's tools node. Execution
// errors are returned as ordinary Go errors; tool-level application errors
// (a failed web search, say) should be reported via a ToolResult with
// IsError set, not a Go error, so the self-correction node can see them.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, []models.Artifact, error)
}

// AlwaysSafeTools never require an agent's tool-permission allow-list to
// contain them explicitly (permission guard §4.3).
var AlwaysSafeTools = map[string]bool{
	"web_search":        true,
	"fetch_url":         true,
	"retrieve_file":     true,
	"request_approval":  true,
}

// MetadataTools are data sinks rather than external effects: calling one
// does not require another LLM turn, so the graph's router treats an
// AI message whose tool calls are entirely metadata tools as terminal.
var MetadataTools = map[string]bool{
	"cite_sources":             true,
	"manage_memory":            true,
	"generate_image":           true,
	"refresh_planner_dashboard": true,
}

// Registry resolves tool names to their implementations.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, overwriting any existing tool of the same name.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get returns the named tool, if registered.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns every registered tool.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// isMetadataOnly reports whether every tool call in calls targets a
// metadata tool (used to short-circuit the graph's router to END).
func isMetadataOnly(calls []models.ToolCall) bool {
	if len(calls) == 0 {
		return false
	}
	for _, c := range calls {
		if !MetadataTools[c.Name] {
			return false
		}
	}
	return true
}
