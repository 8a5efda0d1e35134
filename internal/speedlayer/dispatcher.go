package speedlayer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

// ErrCircuitOpen is returned when the breaker is open and the caller
// lacks system.admin (§4.4, error kind circuit_open per §7).
var ErrCircuitOpen = fmt.Errorf("circuit_open")

// ExpertDelegator is the subset of the Expert Coordinator the dispatcher
// calls into when every speed-layer tier abstains.
type ExpertDelegator interface {
	Delegate(ctx context.Context, fingerprint string, cmd Command, deadline time.Time) (Verdict, error)
}

// Dispatcher runs a command through the three speed-layer tiers in
// order and, if every tier abstains, escalates to the Expert
// Coordinator. The same fingerprint never has two in-flight escalations
// concurrently: concurrent identical requests are coalesced via
// singleflight and the fanned-out result is shared (§4.4 "Dispatch
// invariants").
type Dispatcher struct {
	mem     *MemCache
	policy  *PolicyCache
	pattern *PatternCache
	experts ExpertDelegator
	breaker *CircuitBreaker

	group singleflight.Group

	policyDeadline time.Duration
	expertDeadline time.Duration
}

// DispatcherConfig configures the dispatcher's latency budgets.
type DispatcherConfig struct {
	PolicyDeadline time.Duration
	ExpertDeadline time.Duration
}

// NewDispatcher wires the three tiers, the expert escalation path, and
// the circuit breaker into one coalescing dispatcher.
func NewDispatcher(mem *MemCache, policy *PolicyCache, pattern *PatternCache, experts ExpertDelegator, breaker *CircuitBreaker, cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		mem:            mem,
		policy:         policy,
		pattern:        pattern,
		experts:        experts,
		breaker:        breaker,
		policyDeadline: cfg.PolicyDeadline,
		expertDeadline: cfg.ExpertDeadline,
	}
}

// Validate answers "is this command safe?" (§4.4). The first
// non-abstain tier verdict wins; if all abstain, the command escalates
// to the Expert Coordinator, subject to the circuit breaker.
func (d *Dispatcher) Validate(ctx context.Context, cmd Command, caller identity.Identity) (Verdict, error) {
	fp := cmd.Fingerprint()

	tierCtx, cancel := context.WithTimeout(ctx, d.policyDeadline)
	verdict, reason, err := d.runTiers(tierCtx, cmd)
	cancel()
	if err != nil {
		return "", err
	}
	if verdict != VerdictAbstain && verdict != VerdictEscalate {
		d.mem.Remember(cmd, Decision{Verdict: verdict, Reason: reason})
		return verdict, nil
	}

	return d.escalate(ctx, fp, cmd, caller)
}

// runTiers consults memory, policy, then pattern caches in order. A
// tier returning Escalate is treated the same as Abstain: hand off to
// the Expert Coordinator. Testable Property 5: if any tier returns
// deny, the final verdict is never approve — guaranteed here because
// the loop returns on the FIRST non-abstain verdict; a later tier is
// never consulted once an earlier one has decided.
func (d *Dispatcher) runTiers(ctx context.Context, cmd Command) (Verdict, string, error) {
	for _, tier := range []Tier{d.mem, d.policy, d.pattern} {
		select {
		case <-ctx.Done():
			return "", "", fmt.Errorf("timeout: speed layer exceeded policy deadline: %w", ctx.Err())
		default:
		}
		dec, err := tier.Evaluate(cmd)
		if err != nil {
			return "", "", err
		}
		if dec.Verdict != VerdictAbstain {
			return dec.Verdict, dec.Reason, nil
		}
	}
	return VerdictAbstain, "", nil
}

// escalate hands the command to the Expert Coordinator, coalescing
// concurrent identical fingerprints and honoring the circuit breaker.
func (d *Dispatcher) escalate(ctx context.Context, fingerprint string, cmd Command, caller identity.Identity) (Verdict, error) {
	if !d.breaker.Allow() {
		if caller.Has(identity.PermSystemAdmin) {
			// system_admin bypasses fail-closed but still does not skip
			// the breaker bookkeeping below.
		} else {
			return VerdictDeny, ErrCircuitOpen
		}
	}

	deadline := time.Now().Add(d.expertDeadline)
	v, err, _ := d.group.Do(fingerprint, func() (interface{}, error) {
		escCtx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()
		verdict, derr := d.experts.Delegate(escCtx, fingerprint, cmd, deadline)
		d.breaker.Record(derr != nil)
		if derr != nil {
			return Verdict(""), derr
		}
		return verdict, nil
	})
	if err != nil {
		return VerdictDeny, err
	}
	return v.(Verdict), nil
}
