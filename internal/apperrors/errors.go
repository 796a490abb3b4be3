// Package apperrors defines the typed error taxonomy shared across the
// service: validation, not-found, permission, budget, and the approval
// result variant that replaces exception-style control flow for paused
// tool calls (see the graph runtime's tools node).
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for classification via errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrForbidden       = errors.New("forbidden")
	ErrBudgetExceeded  = errors.New("budget exceeded")
	ErrApprovalTimeout = errors.New("approval timeout")
)

// Kind classifies an Error for retry/HTTP-status mapping.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindConflict   Kind = "conflict"
	KindBudget     Kind = "budget_exceeded"
	KindTimeout    Kind = "timeout"
	KindUpstream   Kind = "upstream" // LLM provider / downstream service failure
	KindInternal   Kind = "internal"
)

// IsRetryable reports whether callers should retry an error of this kind.
func (k Kind) IsRetryable() bool {
	switch k {
	case KindTimeout, KindUpstream:
		return true
	default:
		return false
	}
}

// Error is the application's structured error type. It carries enough
// context to log, classify for retry, and render to an API response
// without string-sniffing the message.
type Error struct {
	Kind    Kind
	Op      string // the operation that failed, e.g. "scheduler.Acquire"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an Error of the given kind and message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies cause into an Error of the given kind, preserving it as
// the unwrap chain.
func Wrap(kind Kind, op string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Classify infers a Kind from an arbitrary error using sentinel matching
// first and a substring fallback second, mirroring the dual strategy used
// for transient LLM provider errors (see internal/llmclient.ClassifyError).
func Classify(err error) Kind {
	if err == nil {
		return KindInternal
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrBudgetExceeded):
		return KindBudget
	case errors.Is(err, ErrApprovalTimeout):
		return KindTimeout
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case strings.Contains(msg, "not found"):
		return KindNotFound
	case strings.Contains(msg, "forbidden") || strings.Contains(msg, "permission") || strings.Contains(msg, "denied"):
		return KindForbidden
	default:
		return KindInternal
	}
}

// IsRetryable is a convenience wrapper around Classify(err).IsRetryable().
func IsRetryable(err error) bool {
	return Classify(err).IsRetryable()
}

// ApprovalOutcome is the typed result of a tool call that requires human
// sign-off, returned from the graph's tools node in place of panicking or
// returning a sentinel error. This is the re-architected replacement for
// approval-as-exception control flow.
type ApprovalOutcome struct {
	ApprovalID string
	ToolCallID string
	ToolName   string
	Reason     string
}

// ApprovalRequiredError wraps an ApprovalOutcome so it can still flow through
// normal error-returning call chains (e.g. errgroup.Group.Wait) while callers
// that care can recover the structured outcome via errors.As.
type ApprovalRequiredError struct {
	Outcome ApprovalOutcome
}

func (e *ApprovalRequiredError) Error() string {
	return fmt.Sprintf("tool %q requires approval (request %s)", e.Outcome.ToolName, e.Outcome.ApprovalID)
}

// AsApprovalOutcome extracts an ApprovalOutcome from an error chain, if present.
func AsApprovalOutcome(err error) (ApprovalOutcome, bool) {
	var aerr *ApprovalRequiredError
	if errors.As(err, &aerr) {
		return aerr.Outcome, true
	}
	return ApprovalOutcome{}, false
}
