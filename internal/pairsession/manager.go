package pairsession

import (
	"context"
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
	ErrNotParticipant   = errors.New("not_a_participant")
	ErrUnknownPair      = errors.New("unknown_pair")
	ErrAlreadyAccepted  = errors.New("already_accepted")
	ErrAlreadyClosed    = errors.New("already_closed")
	ErrBadCausation     = errors.New("bad_causation_reference")
)

// EventAppender is the narrow view of eventstore.Store the manager
// appends pair-session events through.
type EventAppender interface {
	Append(ctx context.Context, draft eventstore.EventDraft, caller identity.Identity) (eventstore.Sequence, eventstore.IntegrityTag, error)
}

// Manager enforces the pair-session event chain and its invariants
// (§4.7): exactly two participants, and pair.accepted must reference
// its pair.requested via causation_id. The exactly-two-participants
// guard is modeled on internal/operator/server.go's fixed-capacity
// connection guard (a bounded semaphore admitting no more than N
// concurrent holders) — here repurposed as "exactly two, named at
// request time, may ever hold a seat in this session."
type Manager struct {
	events EventAppender
	logger *zap.Logger
	window *causationWindow

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager constructs a Manager. windowSize bounds the causation
// acyclicity index (config-driven; 0 uses a sane default).
func NewManager(events EventAppender, windowSize int, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		events:   events,
		logger:   logger,
		window:   newCausationWindow(windowSize),
		sessions: make(map[string]*Session),
	}
}

type pairRequestedPayload struct {
	BuilderID string `json:"builder_id"`
	ExpertID  string `json:"expert_id"`
}

// RequestPair starts a new pair session between exactly two named
// participants.
func (m *Manager) RequestPair(ctx context.Context, builderID, expertID string, caller identity.Identity) (string, error) {
	pairID := uuid.NewString()

	payload := fmt.Sprintf(`{"builder_id":%q,"expert_id":%q}`, builderID, expertID)
	seq, _, err := m.events.Append(ctx, eventstore.EventDraft{
		EventType:   eventstore.EventPairRequested,
		AggregateID: "pair:" + pairID,
		AgentID:     caller.AgentID,
		Payload:     []byte(payload),
	}, caller)
	if err != nil {
		return "", err
	}

	// The Event Store does not hand back the event_id it assigned
	// internally, only the sequence — so the causation reference
	// pair.accepted must carry (§4.7) is the request event's sequence,
	// stringified, rather than its opaque event_id.
	eventID := fmt.Sprintf("seq:%d", seq)
	m.window.Record(eventID)

	m.mu.Lock()
	m.sessions[pairID] = &Session{
		PairID:         pairID,
		BuilderID:      builderID,
		ExpertID:       expertID,
		State:          StateRequested,
		RequestedAt:    time.Now(),
		RequestEventID: eventID,
	}
	m.mu.Unlock()

	return pairID, nil
}

// AcceptPair answers a pending pair.requested. causationID must
// reference the originating request (§4.7 "pair.accepted must reference
// the pair.requested it answers via causation_id").
func (m *Manager) AcceptPair(ctx context.Context, pairID, causationID string, caller identity.Identity) error {
	sess, err := m.sessionFor(pairID, caller)
	if err != nil {
		return err
	}
	if sess.State != StateRequested {
		return ErrAlreadyAccepted
	}
	if causationID != sess.RequestEventID {
		return fmt.Errorf("%w: accept for pair %s referenced %s, expected %s", ErrBadCausation, pairID, causationID, sess.RequestEventID)
	}

	_, _, err = m.events.Append(ctx, eventstore.EventDraft{
		EventType:   eventstore.EventPairAccepted,
		AggregateID: "pair:" + pairID,
		AgentID:     caller.AgentID,
		CausationID: causationID,
		Payload:     []byte(`{}`),
	}, caller)
	if err != nil {
		return err
	}

	m.mu.Lock()
	sess.State = StateAccepted
	m.mu.Unlock()

	return nil
}

// Suggest appends a pair.suggestion event into the session, callable
// only by a participant.
func (m *Manager) Suggest(ctx context.Context, pairID, causationID, body string, caller identity.Identity) error {
	return m.appendInSession(ctx, pairID, eventstore.EventPairSuggested, causationID, body, caller)
}

// Comment appends a pair.comment event into the session, callable only
// by a participant.
func (m *Manager) Comment(ctx context.Context, pairID, causationID, body string, caller identity.Identity) error {
	return m.appendInSession(ctx, pairID, eventstore.EventPairComment, causationID, body, caller)
}

func (m *Manager) appendInSession(ctx context.Context, pairID string, evType eventstore.EventType, causationID, body string, caller identity.Identity) error {
	sess, err := m.sessionFor(pairID, caller)
	if err != nil {
		return err
	}
	if sess.State == StateClosed {
		return ErrAlreadyClosed
	}
	if causationID != "" && !m.window.Contains(causationID) {
		return fmt.Errorf("%w: %s does not reference a recent event in pair %s", ErrBadCausation, causationID, pairID)
	}

	payload := fmt.Sprintf(`{"pair_id":%q,"body":%q}`, pairID, body)
	seq, _, err := m.events.Append(ctx, eventstore.EventDraft{
		EventType:   evType,
		AggregateID: "pair:" + pairID,
		AgentID:     caller.AgentID,
		CausationID: causationID,
		Payload:     []byte(payload),
	}, caller)
	if err != nil {
		return err
	}

	m.window.Record(fmt.Sprintf("seq:%d", seq))
	return nil
}

// ClosePair terminates a session. A closed session's aggregate_id
// accepts no further events.
func (m *Manager) ClosePair(ctx context.Context, pairID string, caller identity.Identity) error {
	sess, err := m.sessionFor(pairID, caller)
	if err != nil {
		return err
	}
	if sess.State == StateClosed {
		return ErrAlreadyClosed
	}

	_, _, err = m.events.Append(ctx, eventstore.EventDraft{
		EventType:   eventstore.EventPairClosed,
		AggregateID: "pair:" + pairID,
		AgentID:     caller.AgentID,
		Payload:     []byte(`{}`),
	}, caller)
	if err != nil {
		return err
	}

	m.mu.Lock()
	sess.State = StateClosed
	m.mu.Unlock()

	return nil
}

func (m *Manager) sessionFor(pairID string, caller identity.Identity) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[pairID]
	if !ok {
		return nil, ErrUnknownPair
	}
	if !sess.isParticipant(caller.AgentID) {
		return nil, ErrNotParticipant
	}
	return sess, nil
}
