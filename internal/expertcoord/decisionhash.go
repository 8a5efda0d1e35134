package expertcoord

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrVoteOutOfBounds is returned when a vote's confidence falls outside
// [0,1] or is NaN/Inf, adapted from internal/governance/constitutional.go's
// parameter-bounds checking — there applied to severity/anomaly/quorum
// inputs, here applied to expert vote confidence before it can influence
// consensus.
var ErrVoteOutOfBounds = errors.New("vote_confidence_out_of_bounds")

// validateVote rejects a vote whose confidence cannot be trusted. A
// malformed or compromised expert response must never silently
// participate in Aggregate's arithmetic.
func validateVote(v Vote) error {
	if math.IsNaN(v.Confidence) || math.IsInf(v.Confidence, 0) {
		return fmt.Errorf("%w: expert %s confidence is NaN/Inf", ErrVoteOutOfBounds, v.ExpertID)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("%w: expert %s confidence %.4f outside [0,1]", ErrVoteOutOfBounds, v.ExpertID, v.Confidence)
	}
	return nil
}

// decisionChain computes a hash-chained fingerprint for every logged
// delegation decision, the same Merkle-style parent-hash linking
// internal/governance/constitutional.go uses for containment decisions
// (decision_hash = SHA256(canonical fields), parent_hash = previous
// decision_hash). Here it chains expert.decision events instead of
// escalation decisions, and is exposed as a small helper rather than a
// kernel with enforcement authority — the Event Store's own HMAC chain
// is what actually guards the log; this hash is carried in the event
// payload as an additional, independently-recomputable integrity
// artifact for auditors who only have decision events, not the full log.
type decisionChain struct {
	mu   sync.Mutex
	last string
}

func newDecisionChain() *decisionChain {
	return &decisionChain{}
}

// record computes the canonical hash of a delegation's decision inputs,
// links it to the previous decision's hash, and returns both.
func (c *decisionChain) record(d Delegation) (decisionHash, parentHash string, err error) {
	canonical := map[string]interface{}{
		"delegation_id": d.DelegationID,
		"fingerprint":   d.Fingerprint,
		"verdict":       string(d.Verdict),
		"selected":      d.Selected,
	}
	b, err := json.Marshal(canonical)
	if err != nil {
		return "", "", fmt.Errorf("expertcoord: failed to marshal decision for hashing: %w", err)
	}
	sum := sha256.Sum256(b)
	decisionHash = hex.EncodeToString(sum[:])

	c.mu.Lock()
	parentHash = c.last
	c.last = decisionHash
	c.mu.Unlock()

	return decisionHash, parentHash, nil
}
