package toolpolicy

import (
	"testing"

	"github.com/haasonsaas/nexus/pkg/models"
)

func TestCheckDenylistWins(t *testing.T) {
	p := &Policy{Allow: []string{"*"}, Deny: []string{"exec_shell"}}
	decision, _ := p.Check("exec_shell")
	if decision != Denied {
		t.Fatalf("expected Denied, got %s", decision)
	}
}

func TestCheckWildcardAllow(t *testing.T) {
	p := &Policy{Allow: []string{"read_*"}}
	decision, _ := p.Check("read_file")
	if decision != Allowed {
		t.Fatalf("expected Allowed, got %s", decision)
	}
	decision, _ = p.Check("write_file")
	if decision != Allowed {
		// DefaultDecision empty -> Allowed
		t.Fatalf("expected default Allowed, got %s", decision)
	}
}

func TestCheckRequiresApproval(t *testing.T) {
	p := &Policy{RequireApproval: []string{"send_email"}, DefaultDecision: Allowed}
	decision, _ := p.Check("send_email")
	if decision != RequiresApproval {
		t.Fatalf("expected RequiresApproval, got %s", decision)
	}
}

func TestFromAgentNilDefersToDefault(t *testing.T) {
	def := &Policy{DefaultDecision: Denied}
	p := FromAgent(nil, def)
	if p != def {
		t.Fatal("expected nil ToolPermissions to defer to the default policy")
	}
}

func TestFromAgentEmptyDeniesEverything(t *testing.T) {
	p := FromAgent(&models.ToolPermissions{}, &Policy{DefaultDecision: Allowed})
	decision, _ := p.Check("anything")
	if decision != Denied {
		t.Fatalf("expected an empty, non-nil ToolPermissions to deny everything, got %s", decision)
	}
}
