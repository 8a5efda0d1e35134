package speedlayer

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensOnErrorRate(t *testing.T) {
	cb := NewCircuitBreaker(0.5, time.Minute, 50*time.Millisecond)
	cb.Record(true)
	cb.Record(true)
	if cb.State() != BreakerOpen {
		t.Fatalf("expected breaker to open after 2/2 failures, got %v", cb.State())
	}
	if cb.Allow() {
		t.Fatal("expected Allow to reject while open")
	}
}

func TestCircuitBreakerHalfOpenThenClose(t *testing.T) {
	cb := NewCircuitBreaker(0.5, time.Minute, 20*time.Millisecond)
	cb.Record(true)
	cb.Record(true)
	if cb.State() != BreakerOpen {
		t.Fatalf("expected open, got %v", cb.State())
	}

	time.Sleep(30 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatalf("expected half_open after cooldown, got %v", cb.State())
	}
	if !cb.Allow() {
		t.Fatal("expected a single trial to be allowed in half_open")
	}
	if cb.Allow() {
		t.Fatal("expected a second concurrent trial to be rejected in half_open")
	}

	cb.Record(false)
	if cb.State() != BreakerClosed {
		t.Fatalf("expected closed after successful trial, got %v", cb.State())
	}
}

func TestPolicyCacheStablePriorityOrder(t *testing.T) {
	pc, err := NewPolicyCache([]RuleSpec{
		{KindPattern: "rm *", Action: RuleApprove, Priority: 10},
		{KindPattern: "rm *", Action: RuleDeny, Priority: 1},
	})
	if err != nil {
		t.Fatalf("NewPolicyCache: %v", err)
	}
	dec, err := pc.Evaluate(Command{Kind: "rm *"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dec.Verdict != VerdictDeny {
		t.Fatalf("expected the lower-priority (1) deny rule to win, got %v", dec.Verdict)
	}
}
