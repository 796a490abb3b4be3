package chatagent

import (
	"encoding/json"
	"regexp"
	"strings"

	"golang.org/x/text/language"

	"github.com/haasonsaas/nexus/pkg/models"
)

// MemoryOp is one entry in a manage_memory tool call's operations array.
type MemoryOp struct {
	Action   string `json:"action"`
	Content  string `json:"content,omitempty"`
	Category string `json:"category,omitempty"`
	ID       string `json:"id,omitempty"`
}

// Metadata is the side-band data extracted from a run's metadata-only tool
// calls: citations, memory operations, generated-image prompts,
// and a planner-dashboard-refresh flag, plus the detected response language.
type Metadata struct {
	Sources                []models.Source
	MemoryOps              []MemoryOp
	GeneratedImagePrompts  []string
	PlannerDashboardRefresh bool
	Language               string
}

// ExtractMetadata scans every assistant message's tool calls for metadata
// tools and reads their arguments directly — the LLM vendor already
// validated them against the tool schema, so no re-parsing of tool result
// text is needed. It is reused by the batch chat path, the
// streaming pipeline's cleanup/consumer save, and the autonomous executor.
func ExtractMetadata(messages []models.Message) Metadata {
	var md Metadata
	callNames := make(map[string]string)
	var citedSources bool
	var usedWebSearch bool
	var webSearchResults []string

	for _, m := range messages {
		if m.Role == models.RoleAssistant {
			for _, call := range m.ToolCalls {
				callNames[call.ID] = call.Name
				switch call.Name {
				case "cite_sources":
					var payload struct {
						Sources []models.Source `json:"sources"`
					}
					if json.Unmarshal(call.Input, &payload) == nil {
						md.Sources = payload.Sources
						citedSources = true
					}
				case "manage_memory":
					var payload struct {
						Operations []MemoryOp `json:"operations"`
					}
					if json.Unmarshal(call.Input, &payload) == nil {
						md.MemoryOps = append(md.MemoryOps, payload.Operations...)
					}
				case "generate_image":
					var payload struct {
						Prompt string `json:"prompt"`
					}
					if json.Unmarshal(call.Input, &payload) == nil && payload.Prompt != "" {
						md.GeneratedImagePrompts = append(md.GeneratedImagePrompts, payload.Prompt)
					}
				case "refresh_planner_dashboard":
					md.PlannerDashboardRefresh = true
				case "web_search":
					usedWebSearch = true
				}
			}
		}
		if m.Role == models.RoleTool {
			for _, tr := range m.ToolResults {
				if callNames[tr.ToolCallID] == "web_search" {
					webSearchResults = append(webSearchResults, tr.Content)
				}
			}
		}
	}

	if !citedSources && usedWebSearch {
		md.Sources = synthesizeSourcesFromWebSearch(webSearchResults)
	}

	md.Language = detectLanguage(lastAssistantContent(messages))
	return md
}

// webSearchResultLine matches a single "title - href" or "title (href)" line
// a web_search tool is expected to return per result, grounded on the
// common (title, href) pair shape search tools surface.
var webSearchResultLine = regexp.MustCompile(`(?m)^(.+?)\s*[-(]\s*(https?://\S+)\)?\s*$`)

// synthesizeSourcesFromWebSearch builds a Source list from raw web_search
// tool result text when the model never called cite_sources itself, to
// avoid silently losing the sources it actually consulted.
func synthesizeSourcesFromWebSearch(results []string) []models.Source {
	var out []models.Source
	for _, r := range results {
		for _, m := range webSearchResultLine.FindAllStringSubmatch(r, -1) {
			out = append(out, models.Source{Title: strings.TrimSpace(m[1]), URL: m[2]})
		}
	}
	return out
}

func lastAssistantContent(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleAssistant && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}

// minDetectableRunes is the shortest content length considered reliably
// classifiable; shorter or ambiguous content yields "" (spec: "too short or
// ambiguous content yields null").
const minDetectableRunes = 12

// languageHints are short, distinctive function words per language; a
// best-effort stand-in for a statistical detector (no language-ID library
// is present anywhere in the example pack — see DESIGN.md).
var languageHints = map[language.Tag][]string{
	language.Spanish: {" el ", " la ", " que ", " de ", " y ", " es "},
	language.French:  {" le ", " la ", " de ", " et ", " est ", " une "},
	language.German:  {" der ", " die ", " und ", " ist ", " das ", " nicht "},
	language.English: {" the ", " and ", " is ", " of ", " to ", " a "},
}

// detectLanguage is a short-text-tolerant heuristic: it scores content
// against a small set of function-word hints per candidate language and
// returns the BCP-47 tag of the best match, or "" when the content is too
// short or no candidate scores above zero.
func detectLanguage(content string) string {
	content = strings.ToLower(strings.TrimSpace(content))
	if len([]rune(content)) < minDetectableRunes {
		return ""
	}
	padded := " " + content + " "

	var best language.Tag
	bestScore := 0
	for tag, hints := range languageHints {
		score := 0
		for _, hint := range hints {
			if strings.Contains(padded, hint) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = tag
		}
	}
	if bestScore == 0 {
		return ""
	}
	return best.String()
}
