package toolbuffer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestWrapTruncatesLargeContent(t *testing.T) {
	big := strings.Repeat("x", MaxInlineContentBytes+100)
	env := Wrap("conv-1", "websearch", models.ToolResult{ToolCallID: "call-1", Content: big}, nil, 0)

	if !env.Truncated {
		t.Fatal("expected Truncated to be true for oversized content")
	}
	if len(env.Content) != MaxInlineContentBytes {
		t.Fatalf("expected content bounded to %d bytes, got %d", MaxInlineContentBytes, len(env.Content))
	}
	if env.FullSize != len(big) {
		t.Fatalf("expected FullSize %d, got %d", len(big), env.FullSize)
	}
}

func TestMemoryStorePutGetList(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	env := Wrap("conv-1", "websearch", models.ToolResult{ToolCallID: "call-1", Content: "result"}, nil, time.Hour)
	if err := store.Put(ctx, env); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, env.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ToolCallID != "call-1" {
		t.Fatalf("expected tool call id call-1, got %s", got.ToolCallID)
	}

	list, err := store.ListByConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ListByConversation: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 envelope, got %d", len(list))
	}
}

func TestMemoryStorePruneExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	expired := Wrap("conv-1", "websearch", models.ToolResult{ToolCallID: "call-1", Content: "old"}, nil, time.Hour)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	if err := store.Put(ctx, expired); err != nil {
		t.Fatalf("Put: %v", err)
	}

	fresh := Wrap("conv-1", "websearch", models.ToolResult{ToolCallID: "call-2", Content: "new"}, nil, time.Hour)
	if err := store.Put(ctx, fresh); err != nil {
		t.Fatalf("Put: %v", err)
	}

	pruned, err := store.PruneExpired(ctx)
	if err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned envelope, got %d", pruned)
	}

	list, err := store.ListByConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ListByConversation: %v", err)
	}
	if len(list) != 1 || list[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh envelope to remain, got %+v", list)
	}
}

func TestJanitorStop(t *testing.T) {
	store := NewMemoryStore()
	j := NewJanitor(store, time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		j.Run(context.Background())
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	j.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
