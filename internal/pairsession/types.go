// Package pairsession is the Pair-Session Manager (C7): it links one
// builder and one expert via the event chain `pair.requested ->
// pair.accepted -> (pair.suggestion | pair.comment)* -> pair.closed`
// (§4.7), enforcing exactly two participants and causation_id
// acyclicity.
package pairsession

import "time"

// State is a pair session's position in its event chain.
type State string

const (
	StateRequested State = "requested"
	StateAccepted  State = "accepted"
	StateClosed    State = "closed"
)

// Session is one pair session's in-memory bookkeeping. The durable
// source of truth is the event log; this struct is a cache the Manager
// uses to enforce the chain's invariants before appending.
type Session struct {
	PairID       string
	BuilderID    string
	ExpertID     string
	State        State
	RequestedAt  time.Time
	RequestEventID string
}

// participants returns the exactly-two agent IDs allowed to append into
// this session's aggregate (§4.7 "only they may append events").
func (s Session) participants() [2]string {
	return [2]string{s.BuilderID, s.ExpertID}
}

func (s Session) isParticipant(agentID string) bool {
	return agentID == s.BuilderID || agentID == s.ExpertID
}
