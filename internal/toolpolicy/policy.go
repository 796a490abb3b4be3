// Package toolpolicy is the permission guard: it decides, for a given agent
// and tool call, whether execution proceeds, is denied outright, or must
// pause for human approval.
package toolpolicy

import (
	"strings"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Decision is the guard's verdict for a tool call.
type Decision string

const (
	// Allowed means the tool call may execute immediately.
	Allowed Decision = "allowed"
	// Denied means the tool call must not execute.
	Denied Decision = "denied"
	// RequiresApproval means the tool call must pause pending human sign-off.
	RequiresApproval Decision = "requires_approval"
)

// Policy evaluates ToolPermissions allow/deny lists against tool names,
// applying wildcard matching as a strict superset of exact matching:
// "*" matches everything, "prefix*" and "*suffix" match accordingly.
type Policy struct {
	// Allow lists tools (or patterns) that execute without approval.
	Allow []string
	// Deny lists tools (or patterns) that are always refused.
	Deny []string
	// RequireApproval lists tools (or patterns) that must pause for sign-off
	// even if not explicitly denied.
	RequireApproval []string
	// DefaultDecision applies when no list matches. Defaults to Allowed.
	DefaultDecision Decision
}

// FromAgent builds a Policy from an agent's ToolPermissions. A nil
// ToolPermissions defers to defaultPolicy (the deployment default); a
// non-nil, empty ToolPermissions denies everything.
func FromAgent(perms *models.ToolPermissions, defaultPolicy *Policy) *Policy {
	if perms == nil {
		if defaultPolicy != nil {
			return defaultPolicy
		}
		return &Policy{DefaultDecision: Allowed}
	}
	return &Policy{
		Allow:           perms.Allow,
		Deny:            perms.Deny,
		DefaultDecision: Denied,
	}
}

// Check evaluates toolName against the policy's lists in priority order:
// deny, then allow, then require-approval, then the default decision.
func (p *Policy) Check(toolName string) (Decision, string) {
	if p == nil {
		return Allowed, "no policy configured"
	}

	if matches(p.Deny, toolName) {
		return Denied, "tool in denylist"
	}
	if matches(p.Allow, toolName) {
		return Allowed, "tool in allowlist"
	}
	if matches(p.RequireApproval, toolName) {
		return RequiresApproval, "tool requires approval"
	}
	if p.DefaultDecision == "" {
		return Allowed, "default"
	}
	return p.DefaultDecision, "default"
}

// matches reports whether toolName matches any pattern in patterns.
// Supports exact match, "*" (match all), "prefix*", and "*suffix".
func matches(patterns []string, toolName string) bool {
	name := strings.ToLower(strings.TrimSpace(toolName))
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		if pattern == "*" || pattern == name {
			return true
		}
		if len(pattern) > 1 && strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(name, pattern[:len(pattern)-1]) {
				return true
			}
		}
		if len(pattern) > 1 && strings.HasPrefix(pattern, "*") {
			if strings.HasSuffix(name, pattern[1:]) {
				return true
			}
		}
	}
	return false
}
