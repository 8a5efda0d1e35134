package expertcoord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lighthouse-coord/lighthouse/internal/eventstore"
	"github.com/lighthouse-coord/lighthouse/internal/identity"
	"github.com/lighthouse-coord/lighthouse/internal/speedlayer"
)

// ExpertCaller dispatches a single command to one expert over
// internal/expertrpc and returns its vote, or an error (including
// context deadline exceeded) on failure.
type ExpertCaller interface {
	Call(ctx context.Context, expertID string, cmd speedlayer.Command, deadline time.Time) (Vote, error)
}

// Coordinator is the Expert Coordinator (C5). It implements
// speedlayer.ExpertDelegator, so a Dispatcher can escalate to it
// directly.
type Coordinator struct {
	registry *Registry
	caller   ExpertCaller
	events   EventAppender
	chain    *decisionChain
	logger   *zap.Logger

	params               ConsensusParams
	deadlineSafetyMargin time.Duration

	mu          sync.Mutex
	delegations map[string]*Delegation
}

// Config configures a Coordinator's consensus policy (from
// config.ExpertConfig).
type Config struct {
	N                    int
	TauApprove           float64
	TauDeny              float64
	DeadlineSafetyMargin time.Duration
}

// NewCoordinator wires a Registry, an outbound ExpertCaller, and the
// Event Store (via the narrow EventAppender view) into one Coordinator.
func NewCoordinator(registry *Registry, caller ExpertCaller, events EventAppender, cfg Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		registry: registry,
		caller:   caller,
		events:   events,
		chain:    newDecisionChain(),
		logger:   logger,
		params: ConsensusParams{
			N:          cfg.N,
			TauApprove: cfg.TauApprove,
			TauDeny:    cfg.TauDeny,
		},
		deadlineSafetyMargin: cfg.DeadlineSafetyMargin,
		delegations:          make(map[string]*Delegation),
	}
}

// transition moves a delegation forward in its state machine. It is
// monotonic-forward-only: a direct rename of
// internal/escalation/state_machine.go's Escalate, minus Decay — a
// logged delegation is immutable, so there is no equivalent of the
// teacher's decay-to-normal path.
func transition(d *Delegation, to DelegationState) bool {
	if to.rank() <= d.State.rank() {
		return false
	}
	d.State = to
	return true
}

// Delegate implements speedlayer.ExpertDelegator. It selects experts,
// dispatches the command to each in parallel with a per-call deadline,
// applies the fixed consensus rule to the collected votes, and appends
// an expert.decision event before returning the aggregated verdict to
// the Speed Layer.
func (c *Coordinator) Delegate(ctx context.Context, fingerprint string, cmd speedlayer.Command, deadline time.Time) (speedlayer.Verdict, error) {
	overallDeadline := deadline.Add(-c.deadlineSafetyMargin)
	if overallDeadline.Before(time.Now()) {
		overallDeadline = time.Now()
	}

	required := capabilitiesForCommand(cmd)

	del := &Delegation{
		DelegationID: uuid.NewString(),
		Fingerprint:  fingerprint,
		RequesterID:  cmd.CallerRole,
		Capabilities: required,
		N:            c.params.N,
		Deadline:     overallDeadline,
		Votes:        make(map[string]Vote),
		State:        DelegationPending,
	}

	pool := c.registry.All()
	del.Selected = Select(pool, required, c.params.N)
	transition(del, DelegationDispatched)

	c.mu.Lock()
	c.delegations[del.DelegationID] = del
	c.mu.Unlock()

	c.collectVotes(ctx, del, pool, cmd)

	transition(del, DelegationDecided)
	del.Verdict = Aggregate(del.Votes, c.params)

	if err := c.logDecision(ctx, del); err != nil {
		c.logger.Warn("failed to log expert decision", zap.String("delegation_id", del.DelegationID), zap.Error(err))
		return "", err
	}
	transition(del, DelegationLogged)

	return finalToSpeedlayerVerdict(del.Verdict), nil
}

// collectVotes dispatches the command to every selected expert in
// parallel. An expert that times out is re-selected exactly once from
// the remaining eligible pool (§4.5: "the coordinator may re-select a
// replacement once; after that the missing voter counts as abstain").
// Each original slot therefore makes at most two calls — the original
// and, on failure, one replacement — and the vote it finally records is
// always keyed by the original slot's expert_id, regardless of which
// expert actually answered.
func (c *Coordinator) collectVotes(ctx context.Context, del *Delegation, pool []Expert, cmd speedlayer.Command) {
	transition(del, DelegationCollecting)

	var mu sync.Mutex
	var wg sync.WaitGroup

	tried := make(map[string]bool, len(del.Selected))
	for _, id := range del.Selected {
		tried[id] = true
	}

	dispatch := func(originalID string) {
		defer wg.Done()

		candidate := originalID
		reselected := false
		for {
			c.registry.MarkBusy(candidate)
			callCtx, cancel := context.WithDeadline(ctx, del.Deadline)
			vote, err := c.caller.Call(callCtx, candidate, cmd, del.Deadline)
			cancel()
			c.registry.MarkIdle(candidate)

			if err == nil {
				mu.Lock()
				if verr := validateVote(vote); verr != nil {
					c.logger.Warn("dropping out-of-bounds vote", zap.String("expert_id", candidate), zap.Error(verr))
					del.Votes[originalID] = Vote{ExpertID: originalID, Verdict: VoteAbstain, RecordedAt: time.Now()}
				} else {
					del.Votes[originalID] = vote
				}
				mu.Unlock()
				return
			}

			if reselected {
				// Already spent this slot's one reselection; the
				// missing voter counts as abstain.
				mu.Lock()
				del.Votes[originalID] = Vote{ExpertID: originalID, Verdict: VoteAbstain, RecordedAt: time.Now()}
				mu.Unlock()
				return
			}

			mu.Lock()
			replacement := firstUnselected(pool, del.Capabilities, tried)
			if replacement != "" {
				tried[replacement] = true
			}
			mu.Unlock()

			if replacement == "" {
				mu.Lock()
				del.Votes[originalID] = Vote{ExpertID: originalID, Verdict: VoteAbstain, RecordedAt: time.Now()}
				mu.Unlock()
				return
			}

			reselected = true
			candidate = replacement
		}
	}

	for _, id := range del.Selected {
		wg.Add(1)
		go dispatch(id)
	}
	wg.Wait()

	if len(del.Votes) < len(del.Selected) {
		transition(del, DelegationPartiallyCollected)
	}
}

// firstUnselected returns the first eligible, not-yet-tried expert from
// pool, or "" if none remain.
func firstUnselected(pool []Expert, required []Capability, tried map[string]bool) string {
	candidates := Select(pool, required, len(pool))
	for _, id := range candidates {
		if !tried[id] {
			return id
		}
	}
	return ""
}

// logDecision appends the terminal expert.decision event, with
// causation_id set to the delegation id so the Project Aggregate and
// any interested observer can correlate the decision to the request
// that produced it (§8 scenario S5).
func (c *Coordinator) logDecision(ctx context.Context, del *Delegation) error {
	decisionHash, parentHash, err := c.chain.record(*del)
	if err != nil {
		return err
	}

	payload := fmt.Sprintf(
		`{"delegation_id":%q,"fingerprint":%q,"verdict":%q,"selected":%d,"votes":%d,"decision_hash":%q,"parent_hash":%q}`,
		del.DelegationID, del.Fingerprint, string(del.Verdict), len(del.Selected), len(del.Votes), decisionHash, parentHash,
	)

	caller := identity.NewIdentity("system", identity.RoleSystemAdmin)
	_, _, err = c.events.Append(ctx, eventstore.EventDraft{
		EventType:   eventstore.EventExpertDecision,
		AggregateID: "delegation:" + del.DelegationID,
		AgentID:     "system",
		CausationID: del.DelegationID,
		Payload:     []byte(payload),
	}, caller)
	return err
}

// capabilitiesForCommand maps a command kind to the capability tags
// required to adjudicate it. Kept intentionally simple: one tag per
// kind, since spec.md does not define a richer taxonomy.
func capabilitiesForCommand(cmd speedlayer.Command) []Capability {
	if cmd.Kind == "" {
		return nil
	}
	return []Capability{Capability(cmd.Kind)}
}

// finalToSpeedlayerVerdict narrows the Expert Coordinator's four-valued
// FinalVerdict to the Speed Layer's three actionable verdicts.
// needs-revision has no speed-layer equivalent and is treated as deny,
// the same fail-closed posture the aggregation rule itself uses for its
// final fallback branch.
func finalToSpeedlayerVerdict(v FinalVerdict) speedlayer.Verdict {
	switch v {
	case FinalApprove:
		return speedlayer.VerdictApprove
	default:
		return speedlayer.VerdictDeny
	}
}
