package approval

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestFlowRequestAndApprove(t *testing.T) {
	ctx := context.Background()
	flow := New(NewMemoryStore(), time.Minute)

	toolCall := models.ToolCall{ID: "call-1", Name: "send_email", Input: json.RawMessage(`{}`)}
	outcome, err := flow.Request(ctx, "conv-1", "msg-1", toolCall, "external side effect")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if outcome.ToolName != "send_email" {
		t.Fatalf("expected tool name send_email, got %s", outcome.ToolName)
	}

	req, err := flow.Resolve(ctx, outcome.ApprovalID, true, "user-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if req.Status != models.ApprovalApproved {
		t.Fatalf("expected approved, got %s", req.Status)
	}
}

func TestFlowResolveExpired(t *testing.T) {
	ctx := context.Background()
	flow := New(NewMemoryStore(), time.Minute)

	toolCall := models.ToolCall{ID: "call-1", Name: "send_email"}
	outcome, err := flow.Request(ctx, "conv-1", "msg-1", toolCall, "")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	req, err := flow.Get(ctx, outcome.ApprovalID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	req.ExpiresAt = time.Now().Add(-time.Minute)

	if _, err := flow.Resolve(ctx, outcome.ApprovalID, true, "user-1"); err == nil {
		t.Fatal("expected expired approval to error")
	}
}

func TestFlowListPending(t *testing.T) {
	ctx := context.Background()
	flow := New(NewMemoryStore(), time.Minute)

	_, err := flow.Request(ctx, "conv-1", "msg-1", models.ToolCall{ID: "call-1", Name: "send_email"}, "")
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	pending, err := flow.ListPending(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(pending))
	}
}
