package chatagent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus/internal/graph"
)

// TokenChunk is one item of a TokenStream: either a plain text fragment, or
// (exactly once, as the last item) the final Result once the run completes.
type TokenChunk struct {
	Text  string
	Final *Result
}

// TokenStream runs a turn through the graph and yields assistant content as
// it is produced, terminating with one final item carrying the completed
// (content, metadata, tool results, usage) tuple. The
// returned channel is always closed, whether the run completes, suspends for
// approval, or fails — a failure surfaces as a Final Result with a non-nil
// Outcome.Err, never a panic or an unclosed channel.
func (f *Facade) TokenStream(ctx context.Context, req Request) (<-chan TokenChunk, error) {
	system, err := BuildSystemPrompt(ctx, req)
	if err != nil {
		return nil, err
	}
	state := graph.State{Messages: f.buildTurnMessages(ctx, req)}

	events := make(chan graph.Event, 32)
	out := make(chan TokenChunk, 32)
	runCtx := graph.WithEventSink(ctx, chanSink(events))

	var outcome graph.Outcome
	go func() {
		outcome = f.Runtime.Run(runCtx, system, f.model(req), state)
		close(events)
	}()

	go func() {
		defer close(out)
		for ev := range events {
			if ev.Kind == graph.EventToken && ev.Text != "" {
				out <- TokenChunk{Text: ev.Text}
			}
		}
		out <- TokenChunk{Final: f.finalResult(outcome)}
	}()

	return out, nil
}

// StreamEventKind discriminates an EventStream item.
type StreamEventKind string

const (
	StreamThinking  StreamEventKind = "thinking"
	StreamToolStart StreamEventKind = "tool_start"
	StreamToolEnd   StreamEventKind = "tool_end"
	StreamToken     StreamEventKind = "token"
	StreamFinal     StreamEventKind = "final"
)

// ToolDisplay is the human-facing presentation for a tool_start/tool_end
// event: a short label, its past-tense form for a completed-actions log, and
// one of a fixed icon set the UI knows how to render.
type ToolDisplay struct {
	Label          string
	PastTenseLabel string
	Icon           string
}

// toolDisplayTable maps tool names to their display presentation. Tools not
// listed here still stream (with Display left zero), they just render with
// no icon/label in a client that wants one.
var toolDisplayTable = map[string]ToolDisplay{
	"web_search":                {"Searching the web", "Searched the web", "search"},
	"fetch_url":                 {"Reading a page", "Read a page", "link"},
	"generate_image":            {"Generating an image", "Generated an image", "sparkles"},
	"execute_code":              {"Running code", "Ran code", "code"},
	"manage_memory":             {"Updating memory", "Updated memory", "checklist"},
	"refresh_planner_dashboard": {"Refreshing the dashboard", "Refreshed the dashboard", "refresh"},
	"trigger_agent":             {"Triggering an agent", "Triggered an agent", "calendar"},
}

// StreamEvent is one tagged item of an EventStream.
type StreamEvent struct {
	Kind StreamEventKind

	// Text carries the fragment for Thinking and Token events.
	Text string

	// ToolName, ToolCallID, Detail, and Display are set on ToolStart/ToolEnd.
	ToolName   string
	ToolCallID string
	Detail     string
	Display    ToolDisplay

	// Final is set only on the terminal StreamFinal event.
	Final *Result
}

// EventStream runs a turn through the graph and yields every thinking
// fragment, tool start/end, and token as it is produced, terminating with a
// single StreamFinal event. The channel is always closed and a StreamFinal
// item always arrives last, even when the run fails: a failure surfaces as
// Outcome.Kind == graph.OutcomeFailed with Outcome.Err set, never a second
// return value or a panic. A run that ends because the executor is shutting
// down sets Outcome.Err to the shutdown sentinel; callers that want to treat
// that case as graceful termination rather than a genuine failure should
// check graph.IsShutdown(result.Outcome.Err) on the final item.
func (f *Facade) EventStream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	system, err := BuildSystemPrompt(ctx, req)
	if err != nil {
		return nil, err
	}
	state := graph.State{Messages: f.buildTurnMessages(ctx, req)}

	events := make(chan graph.Event, 32)
	out := make(chan StreamEvent, 32)
	runCtx := graph.WithEventSink(ctx, chanSink(events))

	var outcome graph.Outcome
	go func() {
		outcome = f.Runtime.Run(runCtx, system, f.model(req), state)
		close(events)
	}()

	go func() {
		defer close(out)
		for ev := range events {
			out <- toStreamEvent(ev)
		}
		out <- StreamEvent{Kind: StreamFinal, Final: f.finalResult(outcome)}
	}()

	return out, nil
}

func toStreamEvent(ev graph.Event) StreamEvent {
	switch ev.Kind {
	case graph.EventThinking:
		return StreamEvent{Kind: StreamThinking, Text: ev.Text}
	case graph.EventToken:
		return StreamEvent{Kind: StreamToken, Text: ev.Text}
	case graph.EventToolStart:
		display := toolDisplayTable[ev.ToolName]
		return StreamEvent{
			Kind:       StreamToolStart,
			ToolName:   ev.ToolName,
			ToolCallID: ev.ToolCallID,
			Detail:     toolDetail(ev.ToolName, ev.Input, display),
			Display:    display,
		}
	case graph.EventToolEnd:
		display := toolDisplayTable[ev.ToolName]
		return StreamEvent{
			Kind:       StreamToolEnd,
			ToolName:   ev.ToolName,
			ToolCallID: ev.ToolCallID,
			Detail:     display.PastTenseLabel,
			Display:    display,
		}
	default:
		return StreamEvent{Kind: StreamEventKind(ev.Kind), Text: ev.Text}
	}
}

// toolDetail builds a short human-readable description of a tool call once
// its arguments have resolved, e.g. "Searching the web for \"go generics\"".
func toolDetail(name string, input []byte, display ToolDisplay) string {
	label := display.Label
	if label == "" {
		label = name
	}
	arg := firstStringArg(input)
	if arg == "" {
		return label
	}
	return label + ": " + arg
}

// firstStringArg pulls the first string-valued field out of a tool call's
// JSON arguments, for use as a short inline detail (query, url, prompt...).
func firstStringArg(input []byte) string {
	var raw map[string]any
	if err := json.Unmarshal(input, &raw); err != nil {
		return ""
	}
	for _, key := range []string{"query", "url", "prompt", "content", "text"} {
		if v, ok := raw[key].(string); ok && v != "" {
			return truncate(v, 80)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// finalResult converts a completed graph.Outcome into the facade's Result,
// extracting metadata only when the run produced messages to scan (a failed
// run before any chat turn completed has nothing to extract).
func (f *Facade) finalResult(outcome graph.Outcome) *Result {
	result := Result{
		Content:     outcome.LastAssistantText(),
		ToolResults: outcome.ToolResults(),
		Usage:       outcome.Usage,
		Messages:    outcome.Messages,
		Outcome:     outcome,
	}
	if outcome.Kind != graph.OutcomeFailed {
		result.Metadata = ExtractMetadata(outcome.Messages)
	}
	return &result
}

// chanSink adapts a channel of graph.Event to the graph.EventSink interface.
type chanSink chan graph.Event

func (s chanSink) Emit(ev graph.Event) { s <- ev }
