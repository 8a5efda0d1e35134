package eventstore

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// canonicalizeJSON re-marshals raw to its canonical form. encoding/json's
// map key ordering is already alphabetical and deterministic, so
// round-tripping through map[string]interface{} is sufficient to strip
// incidental whitespace and key-order variance from caller-supplied
// payloads before they enter the integrity-tag computation.
func canonicalizeJSON(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return json.RawMessage("{}"), nil
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	if _, ok := v.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("payload must be a JSON object")
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("re-marshal payload: %w", err)
	}
	return out, nil
}
