// Package expertcoord is the Expert Coordinator (C5): it authenticates
// experts via challenge/response, selects and dispatches delegations,
// and adjudicates multi-expert consensus by a fixed aggregation rule
// (§4.5). It implements speedlayer.ExpertDelegator for the Speed
// Layer's escalation path.
package expertcoord

import (
	"time"
)

// ExpertStatus is an expert's current availability.
type ExpertStatus string

const (
	ExpertIdle        ExpertStatus = "idle"
	ExpertBusy        ExpertStatus = "busy"
	ExpertQuarantined ExpertStatus = "quarantined"
)

// Capability is a tag describing a class of command an expert can
// adjudicate (e.g. "refactor", "security-review"). Selection requires
// the command's required capabilities to intersect the expert's set.
type Capability string

// Expert is a registered expert's durable state, held by the Registry.
// PublicKey is the ed25519 key supplied at registration, against which
// the registration challenge response was verified.
type Expert struct {
	ExpertID     string
	AgentID      string
	PublicKey    []byte
	Capabilities []Capability
	Status       ExpertStatus
	RegisteredAt time.Time
	LastActiveAt time.Time
}

// HasCapability reports whether the expert can serve any of the
// required capabilities.
func (e Expert) HasCapability(required []Capability) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[Capability]bool, len(e.Capabilities))
	for _, c := range e.Capabilities {
		have[c] = true
	}
	for _, r := range required {
		if have[r] {
			return true
		}
	}
	return false
}

// VoteVerdict is an individual expert's response to a delegation.
type VoteVerdict string

const (
	VoteApprove       VoteVerdict = "approve"
	VoteDeny          VoteVerdict = "deny"
	VoteAbstain       VoteVerdict = "abstain"
	VoteNeedsRevision VoteVerdict = "needs-revision"
)

// Vote is one expert's response, or the synthetic abstain recorded on
// timeout (§4.5 "Timeouts count as abstain").
type Vote struct {
	ExpertID    string
	Verdict     VoteVerdict
	Confidence  float64
	Annotations string
	RecordedAt  time.Time
}

// DelegationState is the delegation's position in its state machine
// (§4.5). Transitions are monotonic forward-only: a delegation that has
// reached Logged is immutable, and there is no decay, unlike the
// teacher's containment state machine this one is modeled on.
type DelegationState int

const (
	DelegationPending DelegationState = iota
	DelegationDispatched
	DelegationCollecting
	DelegationPartiallyCollected
	DelegationDecided
	DelegationLogged
)

func (s DelegationState) String() string {
	switch s {
	case DelegationPending:
		return "pending"
	case DelegationDispatched:
		return "dispatched"
	case DelegationCollecting:
		return "collecting"
	case DelegationPartiallyCollected:
		return "partially_collected"
	case DelegationDecided:
		return "decided"
	case DelegationLogged:
		return "logged"
	default:
		return "unknown"
	}
}

// rank gives each state a monotonic ordinal so forward-only transitions
// can be checked with a simple comparison.
func (s DelegationState) rank() int { return int(s) }

// FinalVerdict is the delegation's aggregated outcome (§4.5).
type FinalVerdict string

const (
	FinalApprove       FinalVerdict = "approve"
	FinalDeny          FinalVerdict = "deny"
	FinalNeedsRevision FinalVerdict = "needs-revision"
	FinalTimeout       FinalVerdict = "timeout"
)

// Delegation is one command-validate escalation in flight.
type Delegation struct {
	DelegationID string
	Fingerprint  string
	RequesterID  string
	Capabilities []Capability
	N            int
	Deadline     time.Time
	Selected     []string // expert_id, in selection order
	Votes        map[string]Vote
	State        DelegationState
	Verdict      FinalVerdict
}
