package adminsock

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/lighthouse-coord/lighthouse/internal/expertcoord"
	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

type fakeSessions struct {
	revokedTokens []string
	revokedAgents []string
	failToken     string
}

func (f *fakeSessions) Revoke(ctx context.Context, token, reason string) error {
	if token == f.failToken {
		return errors.New("invalid_token")
	}
	f.revokedTokens = append(f.revokedTokens, token)
	return nil
}

func (f *fakeSessions) RevokeAgent(ctx context.Context, agentID, reason string) error {
	f.revokedAgents = append(f.revokedAgents, agentID)
	return nil
}

type fakeExperts struct {
	quarantined []string
	experts     []expertcoord.Expert
}

func (f *fakeExperts) Quarantine(ctx context.Context, expertID, reason string, caller identity.Identity) error {
	f.quarantined = append(f.quarantined, expertID)
	return nil
}

func (f *fakeExperts) All() []expertcoord.Expert {
	return f.experts
}

func roundTrip(t *testing.T, s *Server, req Request) Response {
	t.Helper()
	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		s.handleConn(context.Background(), server)
		close(done)
	}()

	data, _ := json.Marshal(req)
	if _, err := client.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, maxRequestBytes)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	<-done

	var resp Response
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestRevokeSession(t *testing.T) {
	sessions := &fakeSessions{}
	experts := &fakeExperts{}
	s := NewServer("", sessions, experts, identity.NewIdentity("admin", identity.RoleAgent), nil)

	resp := roundTrip(t, s, Request{Cmd: "revoke-session", Token: "tok-1", Reason: "compromised"})
	if !resp.OK {
		t.Fatalf("expected ok, got error %q", resp.Error)
	}
	if len(sessions.revokedTokens) != 1 || sessions.revokedTokens[0] != "tok-1" {
		t.Fatalf("expected tok-1 revoked, got %v", sessions.revokedTokens)
	}
}

func TestRevokeSession_MissingToken(t *testing.T) {
	s := NewServer("", &fakeSessions{}, &fakeExperts{}, identity.NewIdentity("admin", identity.RoleAgent), nil)
	resp := roundTrip(t, s, Request{Cmd: "revoke-session"})
	if resp.OK {
		t.Fatal("expected failure for missing token")
	}
}

func TestQuarantineExpert(t *testing.T) {
	experts := &fakeExperts{}
	s := NewServer("", &fakeSessions{}, experts, identity.NewIdentity("admin", identity.RoleAgent), nil)

	resp := roundTrip(t, s, Request{Cmd: "quarantine-expert", ExpertID: "expert-1", Reason: "bad votes"})
	if !resp.OK {
		t.Fatalf("expected ok, got error %q", resp.Error)
	}
	if len(experts.quarantined) != 1 || experts.quarantined[0] != "expert-1" {
		t.Fatalf("expected expert-1 quarantined, got %v", experts.quarantined)
	}
}

func TestStatus(t *testing.T) {
	experts := &fakeExperts{experts: []expertcoord.Expert{
		{ExpertID: "e1", Status: expertcoord.ExpertIdle},
		{ExpertID: "e2", Status: expertcoord.ExpertQuarantined},
	}}
	s := NewServer("", &fakeSessions{}, experts, identity.NewIdentity("admin", identity.RoleAgent), nil)

	resp := roundTrip(t, s, Request{Cmd: "status"})
	if !resp.OK || len(resp.Experts) != 2 {
		t.Fatalf("expected 2 experts, got %+v", resp)
	}
}

func TestUnknownCommand(t *testing.T) {
	s := NewServer("", &fakeSessions{}, &fakeExperts{}, identity.NewIdentity("admin", identity.RoleAgent), nil)
	resp := roundTrip(t, s, Request{Cmd: "bogus"})
	if resp.OK {
		t.Fatal("expected failure for unknown command")
	}
}
