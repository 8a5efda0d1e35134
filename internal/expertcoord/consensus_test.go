package expertcoord

import "testing"

func TestAggregate_DenyWins(t *testing.T) {
	p := ConsensusParams{N: 3, TauApprove: 0.6, TauDeny: 0.6}
	votes := map[string]Vote{
		"e1": {ExpertID: "e1", Verdict: VoteApprove, Confidence: 0.9},
		"e2": {ExpertID: "e2", Verdict: VoteApprove, Confidence: 0.9},
		"e3": {ExpertID: "e3", Verdict: VoteDeny, Confidence: 0.7},
	}
	got := Aggregate(votes, p)
	if got != FinalDeny {
		t.Fatalf("expected deny to win regardless of approve majority, got %s", got)
	}
}

func TestAggregate_DenyBelowThresholdDoesNotWin(t *testing.T) {
	p := ConsensusParams{N: 3, TauApprove: 0.6, TauDeny: 0.8}
	votes := map[string]Vote{
		"e1": {ExpertID: "e1", Verdict: VoteApprove, Confidence: 0.9},
		"e2": {ExpertID: "e2", Verdict: VoteApprove, Confidence: 0.9},
		"e3": {ExpertID: "e3", Verdict: VoteDeny, Confidence: 0.5}, // below tau_deny
	}
	got := Aggregate(votes, p)
	if got != FinalApprove {
		t.Fatalf("expected approve majority since deny is below tau_deny, got %s", got)
	}
}

func TestAggregate_ApproveMajority(t *testing.T) {
	p := ConsensusParams{N: 3, TauApprove: 0.6, TauDeny: 0.6}
	votes := map[string]Vote{
		"e1": {ExpertID: "e1", Verdict: VoteApprove, Confidence: 0.9},
		"e2": {ExpertID: "e2", Verdict: VoteApprove, Confidence: 0.8},
		"e3": {ExpertID: "e3", Verdict: VoteAbstain},
	}
	got := Aggregate(votes, p)
	if got != FinalApprove {
		t.Fatalf("expected approve, got %s", got)
	}
}

func TestAggregate_NeedsRevisionFallback(t *testing.T) {
	p := ConsensusParams{N: 3, TauApprove: 0.9, TauDeny: 0.9}
	votes := map[string]Vote{
		"e1": {ExpertID: "e1", Verdict: VoteApprove, Confidence: 0.5}, // below tau_approve
		"e2": {ExpertID: "e2", Verdict: VoteNeedsRevision, Confidence: 0.5},
		"e3": {ExpertID: "e3", Verdict: VoteAbstain},
	}
	got := Aggregate(votes, p)
	if got != FinalNeedsRevision {
		t.Fatalf("expected needs-revision, got %s", got)
	}
}

func TestAggregate_FailClosedDeny(t *testing.T) {
	p := ConsensusParams{N: 3, TauApprove: 0.9, TauDeny: 0.9}
	votes := map[string]Vote{
		"e1": {ExpertID: "e1", Verdict: VoteAbstain},
		"e2": {ExpertID: "e2", Verdict: VoteAbstain},
		"e3": {ExpertID: "e3", Verdict: VoteAbstain},
	}
	got := Aggregate(votes, p)
	if got != FinalDeny {
		t.Fatalf("expected fail-closed deny when nothing clears a threshold, got %s", got)
	}
}

func TestAggregate_TimeoutCountsAsAbstain(t *testing.T) {
	// A missing voter represented as VoteAbstain (the caller's
	// responsibility per §4.5) must not itself tip the result toward
	// approve.
	p := ConsensusParams{N: 5, TauApprove: 0.6, TauDeny: 0.6}
	votes := map[string]Vote{
		"e1": {ExpertID: "e1", Verdict: VoteApprove, Confidence: 0.9},
		"e2": {ExpertID: "e2", Verdict: VoteApprove, Confidence: 0.9},
		"e3": {ExpertID: "e3", Verdict: VoteAbstain}, // timed out
		"e4": {ExpertID: "e4", Verdict: VoteAbstain}, // timed out
		"e5": {ExpertID: "e5", Verdict: VoteAbstain}, // timed out
	}
	// ceil(5/2) = 3, only 2 approvals -> not approve.
	got := Aggregate(votes, p)
	if got != FinalDeny {
		t.Fatalf("expected fail-closed deny with insufficient approvals, got %s", got)
	}
}
