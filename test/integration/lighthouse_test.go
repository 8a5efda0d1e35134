// Package integration_test exercises the Coordination Core end to end
// by wiring real components together — eventstore.Store over a real
// BoltDB file, sessionsec.Registry, authz.Decide, and the Speed
// Layer/Expert Coordinator — against the literal scenarios spec.md §8
// names (S1-S5), following the teacher's package-per-concern
// table-driven test style rather than a single monolithic harness.
package integration_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lighthouse-coord/lighthouse/internal/authz"
	"github.com/lighthouse-coord/lighthouse/internal/eventstore"
	"github.com/lighthouse-coord/lighthouse/internal/expertcoord"
	"github.com/lighthouse-coord/lighthouse/internal/identity"
	"github.com/lighthouse-coord/lighthouse/internal/sessionsec"
	"github.com/lighthouse-coord/lighthouse/internal/speedlayer"
)

type staticResolver struct {
	agents map[string]identity.Identity
}

func (r *staticResolver) Resolve(agentID string) (identity.Identity, bool) {
	id, ok := r.agents[agentID]
	return id, ok
}

type staticCredentials struct {
	valid map[string]string
}

func (c *staticCredentials) Validate(agentID, credential string) bool {
	return c.valid[agentID] == credential
}

func newStore(t *testing.T) *eventstore.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := eventstore.Open(dir+"/events.db", eventstore.Options{Secret: []byte("it-secret")})
	if err != nil {
		t.Fatalf("eventstore.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var systemIdentity = identity.NewIdentity("system", identity.RoleSystemAdmin)

// S1: fresh store, bootstrap event creates alice as agent. A single
// event.query({}) returns exactly one event, sequence 1, non-zero tag.
func TestScenarioS1_BootstrapEvent(t *testing.T) {
	store := newStore(t)

	seq, tag, err := store.Append(context.Background(), eventstore.EventDraft{
		EventType:   eventstore.EventAgentBootstrapped,
		AggregateID: "agent:alice",
		AgentID:     systemIdentity.AgentID,
		Payload:     json.RawMessage(`{"agent_id":"alice","role":"agent"}`),
	}, systemIdentity)
	if err != nil {
		t.Fatalf("bootstrap append: %v", err)
	}
	if seq != 1 {
		t.Fatalf("expected sequence 1, got %d", seq)
	}
	if tag.IsZero() {
		t.Fatalf("expected non-zero integrity tag")
	}

	page, err := store.Query(context.Background(), eventstore.QueryFilter{}, systemIdentity)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Events) != 1 || page.Events[0].Sequence != 1 {
		t.Fatalf("expected exactly one event at sequence 1, got %+v", page.Events)
	}
}

// S2: alice opens a session, appends file.written twice with the same
// draft, and gets two distinct, consecutive sequences — no implicit
// dedup (Testable Property: "A third call with the same draft returns
// sequence 3").
func TestScenarioS2_SessionAndNoImplicitDedup(t *testing.T) {
	store := newStore(t)
	alice := identity.NewIdentity("alice", identity.RoleAgent)
	resolver := &staticResolver{agents: map[string]identity.Identity{"alice": alice}}
	creds := &staticCredentials{valid: map[string]string{"alice": "s3cr3t"}}

	sessions := sessionsec.NewRegistry(sessionsec.Config{
		Secret:                        []byte("it-secret"),
		MaxConcurrentSessionsPerAgent: 4,
		IdleTimeout:                   time.Hour,
		AbsoluteTimeout:               24 * time.Hour,
	}, resolver, creds, store, nil)
	t.Cleanup(sessions.Close)

	tok, err := sessions.CreateSession(context.Background(), "alice", "s3cr3t", "10.0.0.1", "X")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	id, err := sessions.Validate(context.Background(), tok, "alice", "10.0.0.1", "X")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	draft := eventstore.EventDraft{
		EventType:   eventstore.EventFileWritten,
		AggregateID: "file:a.txt",
		AgentID:     id.AgentID,
		Payload:     json.RawMessage(`{"path":"a.txt","content_hash":"H"}`),
	}

	seq2, _, err := store.Append(context.Background(), draft, id)
	if err != nil {
		t.Fatalf("append #1: %v", err)
	}
	if seq2 != 2 {
		t.Fatalf("expected sequence 2 (after the session.created event), got %d", seq2)
	}

	seq3, _, err := store.Append(context.Background(), draft, id)
	if err != nil {
		t.Fatalf("append #2: %v", err)
	}
	if seq3 != 3 {
		t.Fatalf("expected sequence 3 for the identical repeated draft, got %d", seq3)
	}
}

// S3: validating the same token from a different IP than it was bound
// to fails with bound_mismatch.
func TestScenarioS3_BoundMismatch(t *testing.T) {
	store := newStore(t)
	alice := identity.NewIdentity("alice", identity.RoleAgent)
	resolver := &staticResolver{agents: map[string]identity.Identity{"alice": alice}}
	creds := &staticCredentials{valid: map[string]string{"alice": "s3cr3t"}}

	sessions := sessionsec.NewRegistry(sessionsec.Config{
		Secret:                        []byte("it-secret"),
		MaxConcurrentSessionsPerAgent: 4,
		IdleTimeout:                   time.Hour,
		AbsoluteTimeout:               24 * time.Hour,
	}, resolver, creds, store, nil)
	t.Cleanup(sessions.Close)

	tok, err := sessions.CreateSession(context.Background(), "alice", "s3cr3t", "10.0.0.1", "X")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	_, err = sessions.Validate(context.Background(), tok, "alice", "10.0.0.2", "X")
	if err != sessionsec.ErrBoundMismatch {
		t.Fatalf("expected ErrBoundMismatch, got %v", err)
	}
}

// S4: command.validate for an obviously destructive command hits a
// policy-cache deny without ever reaching the Expert Coordinator, and
// the core appends no event for a rejected command.
func TestScenarioS4_PolicyDenyNoEscalation(t *testing.T) {
	store := newStore(t)

	mem, err := speedlayer.NewMemCache(64)
	if err != nil {
		t.Fatalf("NewMemCache: %v", err)
	}
	policy, err := speedlayer.NewPolicyCache([]speedlayer.RuleSpec{
		{KindPattern: "rm*", PathPattern: "/*", Action: speedlayer.RuleDeny, Priority: 0},
	})
	if err != nil {
		t.Fatalf("NewPolicyCache: %v", err)
	}
	pattern := speedlayer.NewPatternCache(nil, speedlayer.PatternCacheConfig{})
	breaker := speedlayer.NewCircuitBreaker(0.5, time.Second, time.Second)

	dispatcher := speedlayer.NewDispatcher(mem, policy, pattern, &explodingDelegator{t: t}, breaker, speedlayer.DispatcherConfig{
		PolicyDeadline: 5 * time.Millisecond,
		ExpertDeadline: time.Second,
	})

	cmd := speedlayer.Command{Kind: "rm -rf", TargetPath: "/", CallerRole: "agent"}
	verdict, err := dispatcher.Validate(context.Background(), cmd, identity.NewIdentity("alice", identity.RoleAgent))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if verdict != speedlayer.VerdictDeny {
		t.Fatalf("expected deny, got %v", verdict)
	}

	head, _ := store.Head()
	if head != 0 {
		t.Fatalf("expected no events appended for a rejected command, head sequence = %d", head)
	}
}

// explodingDelegator fails the test if it is ever called: S4 must never
// reach the Expert Coordinator.
type explodingDelegator struct{ t *testing.T }

func (e *explodingDelegator) Delegate(ctx context.Context, fingerprint string, cmd speedlayer.Command, deadline time.Time) (speedlayer.Verdict, error) {
	e.t.Fatalf("expert delegation must not be reached for a policy-cache deny")
	return "", nil
}

// S5/Testable Property 6: three votes (approve/0.9, approve/0.8,
// abstain) with N=3 aggregate to approve; all-abstain aggregates to
// deny (fail-closed).
func TestScenarioS5AndFailClosedConsensus(t *testing.T) {
	params := expertcoord.ConsensusParams{N: 3, TauApprove: 0.6, TauDeny: 0.6}

	approveVotes := map[string]expertcoord.Vote{
		"e1": {ExpertID: "e1", Verdict: expertcoord.VoteApprove, Confidence: 0.9},
		"e2": {ExpertID: "e2", Verdict: expertcoord.VoteApprove, Confidence: 0.8},
		"e3": {ExpertID: "e3", Verdict: expertcoord.VoteAbstain, Confidence: 0},
	}
	if got := expertcoord.Aggregate(approveVotes, params); got != expertcoord.FinalApprove {
		t.Fatalf("expected approve, got %v", got)
	}

	allAbstain := map[string]expertcoord.Vote{
		"e1": {ExpertID: "e1", Verdict: expertcoord.VoteAbstain, Confidence: 0},
		"e2": {ExpertID: "e2", Verdict: expertcoord.VoteAbstain, Confidence: 0},
		"e3": {ExpertID: "e3", Verdict: expertcoord.VoteAbstain, Confidence: 0},
	}
	if got := expertcoord.Aggregate(allAbstain, params); got != expertcoord.FinalDeny {
		t.Fatalf("expected fail-closed deny, got %v", got)
	}
}

// Testable Property 8: an expert identity attempting filesystem.write
// fails with scope_violation regardless of path.
func TestScopeViolation_ExpertCannotTouchFilesystem(t *testing.T) {
	expert := identity.NewIdentity("bob", identity.RoleExpert, "security")
	err := authz.Decide(expert, "filesystem.write", authz.Target{Path: "/anything", IsFilesystem: true})
	if err != authz.ErrScopeViolation {
		t.Fatalf("expected ErrScopeViolation, got %v", err)
	}
}
