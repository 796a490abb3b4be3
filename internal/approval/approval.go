// Package approval implements the approval flow: creating, persisting, and
// resolving ApprovalRequests that pause a tool call pending human sign-off.
//
// Pending approvals never signal through a sentinel error or a panic out of
// the graph runtime. Callers get back a typed apperrors.ApprovalOutcome that
// the graph's tools node threads through as an ordinary return value.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/internal/apperrors"
	"github.com/haasonsaas/nexus/pkg/models"
)

// DefaultTTL is how long a request remains actionable before it expires.
const DefaultTTL = 15 * time.Minute

// Store persists ApprovalRequests.
type Store interface {
	Create(ctx context.Context, req *models.ApprovalRequest) error
	Get(ctx context.Context, id string) (*models.ApprovalRequest, error)
	Update(ctx context.Context, req *models.ApprovalRequest) error
	ListPending(ctx context.Context, conversationID string) ([]*models.ApprovalRequest, error)
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.ApprovalRequest
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*models.ApprovalRequest)}
}

func (s *MemoryStore) Create(ctx context.Context, req *models.ApprovalRequest) error {
	if req == nil {
		return fmt.Errorf("approval: request is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: approval request %q", apperrors.ErrNotFound, id)
	}
	return req, nil
}

func (s *MemoryStore) Update(ctx context.Context, req *models.ApprovalRequest) error {
	if req == nil {
		return fmt.Errorf("approval: request is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryStore) ListPending(ctx context.Context, conversationID string) ([]*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var out []*models.ApprovalRequest
	for _, req := range s.requests {
		if req.Status != models.ApprovalPending {
			continue
		}
		if !req.ExpiresAt.IsZero() && req.ExpiresAt.Before(now) {
			continue
		}
		if conversationID != "" && req.ConversationID != conversationID {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (s *MemoryStore) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	pruned := 0
	for id, req := range s.requests {
		if req.RequestedAt.Before(cutoff) {
			delete(s.requests, id)
			pruned++
		}
	}
	return pruned, nil
}

// Flow creates and resolves ApprovalRequests against a Store.
type Flow struct {
	store Store
	ttl   time.Duration
}

// New creates a Flow. ttl of zero uses DefaultTTL.
func New(store Store, ttl time.Duration) *Flow {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Flow{store: store, ttl: ttl}
}

// Request creates a pending ApprovalRequest for a tool call and returns the
// typed outcome the graph's tools node should surface to the caller.
func (f *Flow) Request(ctx context.Context, conversationID, messageID string, toolCall models.ToolCall, reason string) (apperrors.ApprovalOutcome, error) {
	now := time.Now()
	req := &models.ApprovalRequest{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		MessageID:      messageID,
		ToolCallID:      toolCall.ID,
		ToolName:       toolCall.Name,
		ToolInput:      toolCall.Input,
		Reason:         reason,
		Status:         models.ApprovalPending,
		RequestedAt:    now,
		ExpiresAt:      now.Add(f.ttl),
	}

	if err := f.store.Create(ctx, req); err != nil {
		return apperrors.ApprovalOutcome{}, err
	}

	return apperrors.ApprovalOutcome{
		ApprovalID: req.ID,
		ToolCallID: toolCall.ID,
		ToolName:   toolCall.Name,
		Reason:     reason,
	}, nil
}

// Resolve applies a human decision to a pending request.
func (f *Flow) Resolve(ctx context.Context, approvalID string, approved bool, decidedBy string) (*models.ApprovalRequest, error) {
	req, err := f.store.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.ApprovalPending {
		return req, nil
	}
	if !req.ExpiresAt.IsZero() && time.Now().After(req.ExpiresAt) {
		req.Status = models.ApprovalExpired
		_ = f.store.Update(ctx, req)
		return req, fmt.Errorf("%w: approval %q", apperrors.ErrApprovalTimeout, approvalID)
	}

	if approved {
		req.Status = models.ApprovalApproved
	} else {
		req.Status = models.ApprovalRejected
	}
	req.ResolvedAt = time.Now()
	req.ResolvedBy = decidedBy

	if err := f.store.Update(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// Get returns a single ApprovalRequest by ID.
func (f *Flow) Get(ctx context.Context, approvalID string) (*models.ApprovalRequest, error) {
	return f.store.Get(ctx, approvalID)
}

// ListPending lists outstanding ApprovalRequests for a conversation.
func (f *Flow) ListPending(ctx context.Context, conversationID string) ([]*models.ApprovalRequest, error) {
	return f.store.ListPending(ctx, conversationID)
}
