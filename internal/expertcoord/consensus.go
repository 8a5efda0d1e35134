package expertcoord

// ConsensusParams are the policy knobs the fixed aggregation rule reads
// (config's expert.tau_approve / expert.tau_deny / expert.consensus_n).
type ConsensusParams struct {
	N         int
	TauApprove float64
	TauDeny    float64
}

// Aggregate applies the fixed consensus rule from §4.5 to a set of
// votes, one per selected expert (missing voters must already be
// represented as VoteAbstain by the caller — timeouts count as
// abstain). The shape mirrors internal/escalation/severity.go's
// sequential threshold evaluation (highest-priority rule first,
// fall through to the next), here as a fixed enumeration rather than a
// weighted score:
//
//  1. any deny with confidence >= tau_deny -> deny
//  2. count(approve with confidence >= tau_approve) >= ceil(N/2) -> approve
//  3. any needs-revision -> needs-revision
//  4. otherwise -> deny (fail-closed; ties break toward deny)
func Aggregate(votes map[string]Vote, p ConsensusParams) FinalVerdict {
	approveCount := 0
	sawNeedsRevision := false

	for _, v := range votes {
		if v.Verdict == VoteDeny && v.Confidence >= p.TauDeny {
			return FinalDeny
		}
	}
	for _, v := range votes {
		if v.Verdict == VoteApprove && v.Confidence >= p.TauApprove {
			approveCount++
		}
		if v.Verdict == VoteNeedsRevision {
			sawNeedsRevision = true
		}
	}

	quorum := (p.N + 1) / 2 // ceil(N/2)
	if approveCount >= quorum {
		return FinalApprove
	}
	if sawNeedsRevision {
		return FinalNeedsRevision
	}
	return FinalDeny
}
