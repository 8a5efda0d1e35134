package expertcoord

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lighthouse-coord/lighthouse/internal/eventstore"
	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

var (
	ErrChallengeExpired     = errors.New("challenge_expired")
	ErrChallengeConsumed    = errors.New("challenge_consumed")
	ErrSignatureInvalid     = errors.New("signature_invalid")
	ErrUnknownExpert        = errors.New("unknown_expert")
	ErrExpertQuarantined    = errors.New("expert_quarantined")
)

// challenge is a single-use, expiring registration nonce (§4.5
// "Challenges are single-use and expire"), verified the same way
// internal/gossip/server.go verifies envelope signatures: ed25519.Verify
// over a message built from the challenge bytes, here in place of a
// gossip envelope.
type challenge struct {
	nonce     []byte
	expiresAt time.Time
	consumed  bool
}

// EventAppender is the narrow view of eventstore.Store the registry
// needs to log registration and quarantine lifecycle events, matching
// sessionsec.EventAppender's shape.
type EventAppender interface {
	Append(ctx context.Context, draft eventstore.EventDraft, caller identity.Identity) (eventstore.Sequence, eventstore.IntegrityTag, error)
}

// Registry holds every registered expert's durable identity and status.
// It is the single source of "who is a registered expert" for selection
// and consensus.
type Registry struct {
	challengeTTL time.Duration
	events       EventAppender
	logger       *zap.Logger

	mu         sync.Mutex
	challenges map[string]*challenge // keyed by challenge_id
	experts    map[string]*Expert    // keyed by expert_id
	byAgent    map[string]string     // agent_id -> expert_id
}

// NewRegistry constructs a Registry. challengeTTL bounds how long an
// issued challenge remains answerable (config's expert.challenge_ttl).
func NewRegistry(challengeTTL time.Duration, events EventAppender, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		challengeTTL: challengeTTL,
		events:       events,
		logger:       logger,
		challenges:   make(map[string]*challenge),
		experts:      make(map[string]*Expert),
		byAgent:      make(map[string]string),
	}
}

// IssueChallenge produces a fresh single-use nonce for an agent about to
// register as an expert.
func (r *Registry) IssueChallenge() (challengeID string, nonce []byte) {
	nonce = make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		panic(fmt.Sprintf("expertcoord: failed to read random nonce: %v", err))
	}
	id := uuid.NewString()

	r.mu.Lock()
	r.challenges[id] = &challenge{nonce: nonce, expiresAt: time.Now().Add(r.challengeTTL)}
	r.mu.Unlock()

	return id, nonce
}

// Register verifies an agent's proof of possession of the private key
// matching pubKey (§4.5: "proves possession of its secret by returning
// hmac(secret, challenge) with a fresh nonce" — generalized here to an
// ed25519 signature over the nonce, the same primitive
// internal/gossip/server.go uses for envelope authentication) and, on
// success, appends an expert.registered event and returns the durable
// expert_id.
func (r *Registry) Register(ctx context.Context, agentID string, challengeID string, pubKey ed25519.PublicKey, signature []byte, capabilities []Capability, caller identity.Identity) (string, error) {
	r.mu.Lock()
	ch, ok := r.challenges[challengeID]
	if !ok {
		r.mu.Unlock()
		return "", ErrUnknownExpert
	}
	if ch.consumed {
		r.mu.Unlock()
		return "", ErrChallengeConsumed
	}
	if time.Now().After(ch.expiresAt) {
		r.mu.Unlock()
		return "", ErrChallengeExpired
	}
	ch.consumed = true
	nonce := ch.nonce
	r.mu.Unlock()

	if !ed25519.Verify(pubKey, nonce, signature) {
		return "", ErrSignatureInvalid
	}

	expertID := uuid.NewString()
	now := time.Now()
	exp := &Expert{
		ExpertID:     expertID,
		AgentID:      agentID,
		PublicKey:    append([]byte(nil), pubKey...),
		Capabilities: capabilities,
		Status:       ExpertIdle,
		RegisteredAt: now,
		LastActiveAt: now,
	}

	r.mu.Lock()
	r.experts[expertID] = exp
	r.byAgent[agentID] = expertID
	r.mu.Unlock()

	payload := fmt.Sprintf(`{"expert_id":%q,"agent_id":%q,"public_key":%q}`, expertID, agentID, hex.EncodeToString(pubKey))
	if _, _, err := r.events.Append(ctx, eventstore.EventDraft{
		EventType:   eventstore.EventExpertRegistered,
		AggregateID: "expert:" + expertID,
		AgentID:     agentID,
		Payload:     []byte(payload),
	}, caller); err != nil {
		r.logger.Warn("failed to log expert registration", zap.String("expert_id", expertID), zap.Error(err))
	}

	return expertID, nil
}

// Quarantine marks an expert as never-selectable (§4.5 "never select
// quarantined experts") and records it in the log.
func (r *Registry) Quarantine(ctx context.Context, expertID string, reason string, caller identity.Identity) error {
	r.mu.Lock()
	exp, ok := r.experts[expertID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownExpert
	}
	exp.Status = ExpertQuarantined
	r.mu.Unlock()

	payload := fmt.Sprintf(`{"expert_id":%q,"reason":%q}`, expertID, reason)
	_, _, err := r.events.Append(ctx, eventstore.EventDraft{
		EventType:   eventstore.EventExpertQuarantined,
		AggregateID: "expert:" + expertID,
		AgentID:     caller.AgentID,
		Payload:     []byte(payload),
	}, caller)
	return err
}

// Get returns the registered expert, if any.
func (r *Registry) Get(expertID string) (Expert, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.experts[expertID]
	if !ok {
		return Expert{}, false
	}
	return *exp, true
}

// MarkBusy/MarkIdle update an expert's availability between delegations;
// selection prefers idle experts (§4.5).
func (r *Registry) MarkBusy(expertID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exp, ok := r.experts[expertID]; ok && exp.Status != ExpertQuarantined {
		exp.Status = ExpertBusy
		exp.LastActiveAt = time.Now()
	}
}

func (r *Registry) MarkIdle(expertID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if exp, ok := r.experts[expertID]; ok && exp.Status != ExpertQuarantined {
		exp.Status = ExpertIdle
	}
}

// All returns a snapshot of every registered expert, for selection.
func (r *Registry) All() []Expert {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Expert, 0, len(r.experts))
	for _, exp := range r.experts {
		out = append(out, *exp)
	}
	return out
}
