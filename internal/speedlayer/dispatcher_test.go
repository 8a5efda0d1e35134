package speedlayer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

type fakeExperts struct {
	calls    int32
	verdict  Verdict
	err      error
	delay    time.Duration
}

func (f *fakeExperts) Delegate(ctx context.Context, fingerprint string, cmd Command, deadline time.Time) (Verdict, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.verdict, f.err
}

func newDispatcher(t *testing.T, experts ExpertDelegator, rules []RuleSpec) *Dispatcher {
	t.Helper()
	mem, err := NewMemCache(1024)
	if err != nil {
		t.Fatalf("NewMemCache: %v", err)
	}
	policy, err := NewPolicyCache(rules)
	if err != nil {
		t.Fatalf("NewPolicyCache: %v", err)
	}
	pattern := NewPatternCache(nil, PatternCacheConfig{})
	breaker := NewCircuitBreaker(0.5, time.Second, 100*time.Millisecond)
	return NewDispatcher(mem, policy, pattern, experts, breaker, DispatcherConfig{
		PolicyDeadline: 50 * time.Millisecond,
		ExpertDeadline: time.Second,
	})
}

func TestPolicyDenyNeverConsultsExperts(t *testing.T) {
	// S4 + Testable Property 5: policy deny short-circuits before any
	// expert is consulted.
	experts := &fakeExperts{verdict: VerdictApprove}
	d := newDispatcher(t, experts, []RuleSpec{
		{KindPattern: "rm *", Action: RuleDeny, Priority: 1},
	})

	v, err := d.Validate(context.Background(), Command{Kind: "rm *", TargetPath: "/"}, identity.NewIdentity("alice", identity.RoleAgent))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v != VerdictDeny {
		t.Fatalf("expected deny, got %v", v)
	}
	if atomic.LoadInt32(&experts.calls) != 0 {
		t.Fatalf("expected no expert calls, got %d", experts.calls)
	}
}

func TestEscalatesWhenAllTiersAbstain(t *testing.T) {
	experts := &fakeExperts{verdict: VerdictApprove}
	d := newDispatcher(t, experts, nil)

	v, err := d.Validate(context.Background(), Command{Kind: "refactor", TargetPath: "shadow/x.go"}, identity.NewIdentity("alice", identity.RoleAgent))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if v != VerdictApprove {
		t.Fatalf("expected approve, got %v", v)
	}
	if atomic.LoadInt32(&experts.calls) != 1 {
		t.Fatalf("expected exactly 1 expert call, got %d", experts.calls)
	}
}

func TestCoalescesConcurrentIdenticalFingerprints(t *testing.T) {
	experts := &fakeExperts{verdict: VerdictApprove, delay: 30 * time.Millisecond}
	d := newDispatcher(t, experts, nil)
	cmd := Command{Kind: "refactor", TargetPath: "shadow/x.go"}
	caller := identity.NewIdentity("alice", identity.RoleAgent)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := d.Validate(context.Background(), cmd, caller); err != nil {
				t.Errorf("Validate: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&experts.calls); got != 1 {
		t.Fatalf("expected exactly 1 coalesced expert call, got %d", got)
	}
}
