package eventstore

import (
	"encoding/json"
	"time"
)

// Sequence is the monotonic position of an event in the primary log.
// The first appended event is Sequence 1; Sequence 0 is reserved to mean
// "before the log begins" (used as the implicit prior tag for sequence 1).
type Sequence uint64

// IntegrityTag is the HMAC-SHA256 chain tag over a canonical event
// encoding and its predecessor's tag.
type IntegrityTag [32]byte

// IsZero reports whether the tag is the all-zero sentinel used for the
// (nonexistent) predecessor of the first event.
func (t IntegrityTag) IsZero() bool {
	return t == IntegrityTag{}
}

// EventType enumerates the domain events the core appends or accepts.
// Unrecognized values fail Append with ErrSchemaInvalid.
type EventType string

const (
	EventAgentBootstrapped EventType = "agent.bootstrapped"
	EventAgentPromoted     EventType = "agent.promoted"
	EventAgentRevoked      EventType = "agent.revoked"
	EventSessionCreated    EventType = "session.created"
	EventSessionRevoked    EventType = "session.revoked"
	EventFileWritten       EventType = "file.written"
	EventShadowAnnotated   EventType = "annotation.added"
	EventExpertRegistered  EventType = "expert.registered"
	EventExpertQuarantined EventType = "expert.quarantined"
	EventExpertDecision    EventType = "expert.decision"
	EventPairRequested     EventType = "pair.requested"
	EventPairAccepted      EventType = "pair.accepted"
	EventPairSuggested     EventType = "pair.suggestion"
	EventPairComment       EventType = "pair.comment"
	EventPairClosed        EventType = "pair.closed"
	EventSnapshotCreated   EventType = "snapshot.created"
	EventLogTruncated      EventType = "log.truncated"
)

// knownEventTypes backs schema validation at Append time.
var knownEventTypes = map[EventType]bool{
	EventAgentBootstrapped: true,
	EventAgentPromoted:     true,
	EventAgentRevoked:      true,
	EventSessionCreated:    true,
	EventSessionRevoked:    true,
	EventFileWritten:       true,
	EventShadowAnnotated:   true,
	EventExpertRegistered:  true,
	EventExpertQuarantined: true,
	EventExpertDecision:    true,
	EventPairRequested:     true,
	EventPairAccepted:      true,
	EventPairSuggested:     true,
	EventPairComment:       true,
	EventPairClosed:        true,
	EventSnapshotCreated:   true,
	EventLogTruncated:      true,
}

// EventDraft is the caller-supplied description of an event to append.
// Sequence and IntegrityTag are assigned by the store.
type EventDraft struct {
	EventType   EventType
	AggregateID string
	AgentID     string
	CausationID string          // empty means no causation
	Payload     json.RawMessage // must be an object; re-marshaled canonically
}

// Event is the immutable, persisted record (§3).
type Event struct {
	Sequence     Sequence
	EventID      string
	EventType    EventType
	AggregateID  string
	AgentID      string
	Timestamp    time.Time
	CausationID  string
	Payload      json.RawMessage
	IntegrityTag IntegrityTag
}

// QueryFilter narrows a Query or Subscribe call.
type QueryFilter struct {
	AggregateID    string // exact match, empty means any
	EventTypes     []EventType
	SequenceFrom   Sequence // inclusive, 0 means from the start
	SequenceTo     Sequence // inclusive, 0 means unbounded
	Limit          int
	Cursor         string
}

// Page is a bounded, ordered result of Query.
type Page struct {
	Events     []Event
	NextCursor string
	HasMore    bool
}

// Range identifies a contiguous span of sequences for IntegrityCheck.
type Range struct {
	From Sequence
	To   Sequence // 0 means "to the current head"
}
