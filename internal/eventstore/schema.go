package eventstore

import (
	"encoding/json"
	"fmt"
)

// payloadSchemas backs per-event_type field validation at Append time
// (§3: "event_type and payload schema agree"; §4.1: "schema_invalid if
// payload does not validate for declared event_type"). Each entry names
// the fields internal/projectaggregate and the other consumers of that
// event_type actually decode, so a malformed payload is rejected here
// rather than discovered later, silently, during folding.
var payloadSchemas = map[EventType]func(json.RawMessage) error{
	EventAgentBootstrapped: requireFields("agent_id", "role"),
	EventAgentPromoted:     requireFields("agent_id", "role"),
	EventAgentRevoked:      requireFields("agent_id", "reason"),
	EventSessionCreated:    requireFields("session_id", "agent_id", "ip"),
	EventSessionRevoked:    requireFields("session_id", "agent_id", "reason"),
	EventFileWritten:       requireFields("path", "content_hash"),
	EventShadowAnnotated:   requireFields("path", "body", "author_id"),
	EventExpertRegistered:  requireFields("expert_id", "agent_id", "public_key"),
	EventExpertQuarantined: requireFields("expert_id", "reason"),
	EventExpertDecision:    requireFields("delegation_id", "verdict", "decision_hash"),
	EventPairRequested:     requireFields("builder_id", "expert_id"),
	EventPairAccepted:      requireFields(),
	EventPairSuggested:     requireFields("pair_id", "body"),
	EventPairComment:       requireFields("pair_id", "body"),
	EventPairClosed:        requireFields(),
	EventSnapshotCreated:   requireFields("name"),
	EventLogTruncated:      requireFields("truncated_after_sequence"),
}

// requireFields builds a validator rejecting a payload that is missing
// any of names, or where a present field decodes as an empty string.
// Non-string fields (counts, sequence numbers) are only checked for
// presence, not zero-ness, since 0 is a legitimate value for several of
// them (e.g. expert.decision's votes).
func requireFields(names ...string) func(json.RawMessage) error {
	return func(raw json.RawMessage) error {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return fmt.Errorf("payload is not a JSON object: %w", err)
		}
		for _, name := range names {
			v, ok := fields[name]
			if !ok {
				return fmt.Errorf("missing required field %q", name)
			}
			var s string
			if err := json.Unmarshal(v, &s); err == nil && s == "" {
				return fmt.Errorf("field %q must not be empty", name)
			}
		}
		return nil
	}
}

// validatePayloadSchema looks up eventType's schema and applies it to
// payload. event_types with no registered schema pass through
// unvalidated (none currently; new event_types should add an entry
// here alongside their eventstore.Event* constant).
func validatePayloadSchema(eventType EventType, payload json.RawMessage) error {
	validate, ok := payloadSchemas[eventType]
	if !ok {
		return nil
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	return validate(payload)
}
