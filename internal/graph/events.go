package graph

import (
	"context"
	"encoding/json"
)

// EventKind discriminates a streamed Event, mirroring the chat agent
// facade's event-stream kinds: thinking, tool_start, tool_end,
// token. The facade's "final" kind is not produced here — it is built by
// the facade itself from the completed Outcome.
type EventKind string

const (
	EventThinking  EventKind = "thinking"
	EventToolStart EventKind = "tool_start"
	EventToolEnd   EventKind = "tool_end"
	EventToken     EventKind = "token"
)

// Event is a single streamed fragment produced while a Run is in flight.
type Event struct {
	Kind       EventKind
	Text       string
	ToolName   string
	ToolCallID string

	// Input carries the tool call's arguments on EventToolStart, once the
	// provider has resolved them, so a consumer can build a human-readable
	// detail string without re-parsing the final message.
	Input json.RawMessage
}

// EventSink receives Events as a Run produces them. Installed per call via
// WithEventSink; a Runtime has no event-sink field of its own so concurrent
// Run calls sharing a Runtime never race on it.
type EventSink interface {
	Emit(Event)
}

type eventSinkKey struct{}

// WithEventSink installs an EventSink for the duration of a single Run call.
func WithEventSink(ctx context.Context, sink EventSink) context.Context {
	if sink == nil {
		return ctx
	}
	return context.WithValue(ctx, eventSinkKey{}, sink)
}

func eventSinkFromContext(ctx context.Context) (EventSink, bool) {
	sink, ok := ctx.Value(eventSinkKey{}).(EventSink)
	if !ok || sink == nil {
		return nil, false
	}
	return sink, true
}

func emit(ctx context.Context, ev Event) {
	if sink, ok := eventSinkFromContext(ctx); ok {
		sink.Emit(ev)
	}
}
