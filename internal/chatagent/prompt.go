package chatagent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus/internal/reqctx"
	"github.com/haasonsaas/nexus/pkg/models"
)

const baseInstructions = `You are a helpful assistant. Answer clearly and concisely, and say when you are unsure rather than guessing.`

const toolUseRules = `You have access to tools. Call a tool only when it is necessary to answer the user; do not narrate that you are about to call one. When a tool result comes back as an error, either try a different approach or tell the user what went wrong — do not repeat the exact same call.`

// sessionGapThreshold marks a history message as following a session gap
// when more than this much time elapsed since the previous message.
const sessionGapThreshold = time.Hour

// BuildSystemPrompt assembles the first message of a turn: base
// instructions, tool-use rules, user personalization, planning context,
// agent context, and a freshly-read planner dashboard snapshot.
func BuildSystemPrompt(ctx context.Context, req Request) (string, error) {
	var parts []string
	parts = append(parts, baseInstructions)

	if !req.disableTools() {
		parts = append(parts, toolUseRules)
	}

	if !req.Anonymous {
		if p := personalization(req); p != "" {
			parts = append(parts, p)
		}
	}

	if req.PlanningMode {
		parts = append(parts, "You are in planning mode: break down the request into concrete steps before acting, and prefer presenting a plan before executing irreversible actions.")
	}

	if req.Agent != nil {
		parts = append(parts, agentContext(req.Agent))
	}

	if store, ok := reqctx.PlannerDashboardFromContext(ctx); ok {
		snapshot, err := store.Get(ctx)
		if err != nil {
			return "", fmt.Errorf("chatagent: reading planner dashboard snapshot: %w", err)
		}
		if snapshot != "" {
			parts = append(parts, "Planner dashboard (current state):\n"+snapshot)
		}
	}

	if req.CustomInstructions != "" {
		parts = append(parts, req.CustomInstructions)
	}

	return strings.Join(parts, "\n\n"), nil
}

func (r Request) disableTools() bool {
	return len(r.ForcedTools) == 1 && r.ForcedTools[0] == "none"
}

func personalization(req Request) string {
	if req.User == nil {
		return ""
	}
	name := req.User.Name
	if name == "" {
		return ""
	}
	return fmt.Sprintf("You are talking with %s (user id %s).", name, req.User.ID)
}

func agentContext(agent *models.Agent) string {
	return fmt.Sprintf("You are running as the autonomous agent %q.", agent.Name)
}

// preludeFile is one entry in a message prelude's "files" array.
type preludeFile struct {
	ID       string `json:"id"`
	Filename string `json:"filename,omitempty"`
	Type     string `json:"type,omitempty"`
}

// prelude is the JSON body of a history message's metadata prelude.
type prelude struct {
	SessionGap   bool          `json:"session_gap,omitempty"`
	Timestamp    string        `json:"timestamp,omitempty"`
	RelativeTime string        `json:"relative_time,omitempty"`
	Files        []preludeFile `json:"files,omitempty"`
	ToolsUsed    []string      `json:"tools_used,omitempty"`
	ToolSummary  string        `json:"tool_summary,omitempty"`
}

// renderPrelude builds the "<!-- METADATA: {...} -->\n" prefix for a single
// history message, the LLM's only stable way to reference prior uploads by
// identifier.
func renderPrelude(msg models.Message, prevCreatedAt time.Time) string {
	p := prelude{}

	if !msg.CreatedAt.IsZero() {
		p.Timestamp = msg.CreatedAt.UTC().Format(time.RFC3339)
		p.RelativeTime = relativeTime(msg.CreatedAt)
		if !prevCreatedAt.IsZero() && msg.CreatedAt.Sub(prevCreatedAt) > sessionGapThreshold {
			p.SessionGap = true
		}
	}

	for i, att := range msg.Attachments {
		p.Files = append(p.Files, preludeFile{
			ID:       fmt.Sprintf("%s:%d", msg.ID, i),
			Filename: att.Filename,
			Type:     att.Type,
		})
	}

	if msg.Role == models.RoleAssistant && len(msg.ToolCalls) > 0 {
		seen := make(map[string]bool, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			if seen[tc.Name] {
				continue
			}
			seen[tc.Name] = true
			p.ToolsUsed = append(p.ToolsUsed, tc.Name)
		}
		p.ToolSummary = fmt.Sprintf("used %s", strings.Join(p.ToolsUsed, ", "))
	}

	if !p.SessionGap && p.Timestamp == "" && p.RelativeTime == "" && len(p.Files) == 0 && len(p.ToolsUsed) == 0 && p.ToolSummary == "" {
		return ""
	}

	encoded, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return "<!-- METADATA: " + string(encoded) + " -->\n"
}

// relativeTime renders a short human-readable age string ("3m ago", "2h ago").
func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
