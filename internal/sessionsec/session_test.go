package sessionsec

import (
	"context"
	"testing"
	"time"

	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

type fakeResolver struct {
	agents map[string]identity.Identity
}

func (f *fakeResolver) Resolve(agentID string) (identity.Identity, bool) {
	id, ok := f.agents[agentID]
	return id, ok
}

type fakeCredentials struct {
	valid map[string]string
}

func (f *fakeCredentials) Validate(agentID, credential string) bool {
	return f.valid[agentID] == credential
}

func newTestRegistry(t *testing.T) (*Registry, *fakeResolver) {
	t.Helper()
	resolver := &fakeResolver{agents: map[string]identity.Identity{
		"alice": identity.NewIdentity("alice", identity.RoleAgent),
	}}
	creds := &fakeCredentials{valid: map[string]string{"alice": "correct-password"}}
	reg := NewRegistry(Config{
		Secret:                        []byte("test-secret"),
		MaxConcurrentSessionsPerAgent: 2,
		IdleTimeout:                   time.Hour,
		AbsoluteTimeout:               24 * time.Hour,
	}, resolver, creds, nil, nil)
	t.Cleanup(reg.Close)
	return reg, resolver
}

func TestCreateSessionRejectsUnknownAgent(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.CreateSession(context.Background(), "nobody", "whatever", "10.0.0.1", "X")
	if err != ErrUnknownAgent {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestCreateSessionRejectsBadCredential(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.CreateSession(context.Background(), "alice", "wrong", "10.0.0.1", "X")
	if err != ErrInvalidCredential {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestValidateRoundTrip(t *testing.T) {
	reg, _ := newTestRegistry(t)
	token, err := reg.CreateSession(context.Background(), "alice", "correct-password", "10.0.0.1", "X")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	ident, err := reg.Validate(context.Background(), token, "alice", "10.0.0.1", "X")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ident.AgentID != "alice" {
		t.Fatalf("unexpected identity: %+v", ident)
	}
}

func TestValidateBoundMismatch(t *testing.T) {
	// S3: validating from a different IP than the session was bound to.
	reg, _ := newTestRegistry(t)
	token, err := reg.CreateSession(context.Background(), "alice", "correct-password", "10.0.0.1", "X")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	_, err = reg.Validate(context.Background(), token, "alice", "10.0.0.2", "X")
	if err != ErrBoundMismatch {
		t.Fatalf("expected ErrBoundMismatch, got %v", err)
	}

	// Rebinding must transition the session to revoked: a subsequent
	// validate from the ORIGINAL ip must now also fail.
	_, err = reg.Validate(context.Background(), token, "alice", "10.0.0.1", "X")
	if err != ErrRevoked {
		t.Fatalf("expected session revoked after mismatch, got %v", err)
	}
}

func TestMaxConcurrentSessions(t *testing.T) {
	reg, _ := newTestRegistry(t)
	for i := 0; i < 2; i++ {
		if _, err := reg.CreateSession(context.Background(), "alice", "correct-password", "10.0.0.1", "X"); err != nil {
			t.Fatalf("CreateSession #%d: %v", i, err)
		}
	}
	if _, err := reg.CreateSession(context.Background(), "alice", "correct-password", "10.0.0.1", "X"); err != ErrTooManySessions {
		t.Fatalf("expected ErrTooManySessions, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	reg, _ := newTestRegistry(t)
	token, err := reg.CreateSession(context.Background(), "alice", "correct-password", "10.0.0.1", "X")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := reg.Revoke(context.Background(), token, "manual"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := reg.Validate(context.Background(), token, "alice", "10.0.0.1", "X"); err != ErrRevoked {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

// consumer is a stand-in for any component that needs to validate tokens
// (e.g. the Event Store's adapter, the admin socket). It only proves
// that distinct components sharing one *Registry see identical results.
type consumer struct {
	reg *Registry
}

func (c *consumer) authenticate(token, agentID, ip, ua string) (identity.Identity, error) {
	return c.reg.Validate(context.Background(), token, agentID, ip, ua)
}

func TestSingletonSharedAcrossComponents(t *testing.T) {
	reg, _ := newTestRegistry(t)
	token, err := reg.CreateSession(context.Background(), "alice", "correct-password", "10.0.0.1", "X")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	c1 := &consumer{reg: reg}
	c2 := &consumer{reg: reg}

	id1, err := c1.authenticate(token, "alice", "10.0.0.1", "X")
	if err != nil {
		t.Fatalf("c1.authenticate: %v", err)
	}
	id2, err := c2.authenticate(token, "alice", "10.0.0.1", "X")
	if err != nil {
		t.Fatalf("c2.authenticate: %v", err)
	}
	if id1.AgentID != id2.AgentID || id1.Role != id2.Role {
		t.Fatalf("two components sharing one registry observed different identities: %+v vs %+v", id1, id2)
	}
}
