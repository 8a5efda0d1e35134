package authz

import (
	"testing"

	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

func TestExpertFilesystemWriteIsScopeViolation(t *testing.T) {
	// Testable Property 8.
	expert := identity.NewIdentity("carol", identity.RoleExpert)
	err := Decide(expert, "filesystem.write", Target{Path: "/etc/passwd", IsFilesystem: true})
	if err != ErrScopeViolation {
		t.Fatalf("expected ErrScopeViolation, got %v", err)
	}
}

func TestAgentFilesystemWriteAllowed(t *testing.T) {
	agent := identity.NewIdentity("alice", identity.RoleAgent)
	err := Decide(agent, "filesystem.write", Target{Path: "/tmp/a.txt", IsFilesystem: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestGuestEventAppendDenied(t *testing.T) {
	guest := identity.NewIdentity("bob", identity.RoleGuest)
	err := Decide(guest, "event.append", Target{})
	if err != ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestExpertShadowWriteAllowed(t *testing.T) {
	expert := identity.NewIdentity("carol", identity.RoleExpert)
	err := Decide(expert, "shadow.write", Target{Path: "shadow/a.txt"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}
