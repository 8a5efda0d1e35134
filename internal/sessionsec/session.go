// Package sessionsec is the Session Security component (C2): it issues,
// validates, and revokes session tokens, and is the one place in the
// process that is allowed to mint an authenticated identity.Identity for
// a caller-presented token.
//
// Invariant (§4.2, §9): there is exactly one Registry per process. It is
// constructed once, at startup, and the same pointer is threaded into
// every component that needs to validate a token or resolve an identity
// — the adapters, the admin socket. Constructing a
// second Registry with its own agent table or HMAC secret is the
// "isolated authenticator" defect the spec forbids; TestSingletonSharedAcrossComponents
// exercises this directly.
package sessionsec

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lighthouse-coord/lighthouse/internal/eventstore"
	"github.com/lighthouse-coord/lighthouse/internal/identity"
	"github.com/lighthouse-coord/lighthouse/internal/ratelimit"
)

// State is a session's lifecycle state (§3).
type State string

const (
	StatePending State = "pending"
	StateActive  State = "active"
	StateRevoked State = "revoked"
	StateExpired State = "expired"
)

// Session is the persisted shape of a live or historical session.
type Session struct {
	SessionID    string
	AgentID      string
	CreatedAt    time.Time
	LastActivity time.Time
	State        State
	IPAddr       string
	UserAgent    string
}

// AgentResolver looks up a known agent's identity by agent_id. It must
// return (Identity{}, false) for unknown agents — Registry never
// creates an agent as a side effect of session creation or validation
// (§9 "No auto-registration").
type AgentResolver interface {
	Resolve(agentID string) (identity.Identity, bool)
}

// CredentialValidator checks a caller-supplied credential against the
// agent's registered credential. Pluggable so tests and real deployments
// can swap the backing mechanism without touching Registry.
type CredentialValidator interface {
	Validate(agentID, credential string) bool
}

// EventAppender is the subset of eventstore.Store that Registry uses to
// record session lifecycle events. A narrow interface keeps sessionsec
// testable without a real Store.
type EventAppender interface {
	Append(ctx context.Context, draft eventstore.EventDraft, caller identity.Identity) (eventstore.Sequence, eventstore.IntegrityTag, error)
}

// Config configures a Registry.
type Config struct {
	Secret                        []byte
	MaxConcurrentSessionsPerAgent int
	IdleTimeout                   time.Duration
	AbsoluteTimeout               time.Duration

	// ValidateRateLimit bounds Validate calls per agent_id. Default: 100
	// per second (capacity 100, refill every second).
	ValidateRateLimitCapacity int
	ValidateRateLimitPeriod   time.Duration
}

// Registry is the singleton session authenticator.
type Registry struct {
	secret          []byte
	maxConcurrent   int
	idleTimeout     time.Duration
	absoluteTimeout time.Duration

	resolver   AgentResolver
	credential CredentialValidator
	events     EventAppender
	logger     *zap.Logger

	mu           sync.Mutex
	byToken      map[string]*Session // keyed by session_id, not the raw token
	byAgent      map[string][]string // agent_id -> session_ids
	validateRate *ratelimit.PerKey
}

// systemIdentity is the synthetic actor recorded on events the registry
// itself appends (session lifecycle transitions), distinct from any
// agent identity.
var systemIdentity = identity.NewIdentity("system", identity.RoleSystemAdmin)

// NewRegistry constructs the singleton session registry.
func NewRegistry(cfg Config, resolver AgentResolver, credential CredentialValidator, events EventAppender, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	capacity := cfg.ValidateRateLimitCapacity
	if capacity <= 0 {
		capacity = 100
	}
	period := cfg.ValidateRateLimitPeriod
	if period <= 0 {
		period = time.Second
	}
	return &Registry{
		secret:          cfg.Secret,
		maxConcurrent:   cfg.MaxConcurrentSessionsPerAgent,
		idleTimeout:     cfg.IdleTimeout,
		absoluteTimeout: cfg.AbsoluteTimeout,
		resolver:        resolver,
		credential:      credential,
		events:          events,
		logger:          logger,
		byToken:         make(map[string]*Session),
		byAgent:         make(map[string][]string),
		validateRate:    ratelimit.NewPerKey(capacity, period),
	}
}

// Close releases background resources (rate limiter refill goroutines).
func (r *Registry) Close() {
	r.validateRate.Close()
}

// CreateSession validates credential, binds a new session to
// (agent_id, ip, user_agent), and returns an opaque token (§4.2).
func (r *Registry) CreateSession(ctx context.Context, agentID, credential, ip, userAgent string) (string, error) {
	if _, ok := r.resolver.Resolve(agentID); !ok {
		return "", ErrUnknownAgent
	}
	if !r.credential.Validate(agentID, credential) {
		return "", ErrInvalidCredential
	}

	r.mu.Lock()
	active := r.countActiveLocked(agentID)
	if r.maxConcurrent > 0 && active >= r.maxConcurrent {
		r.mu.Unlock()
		return "", ErrTooManySessions
	}

	sessionID, err := randomID()
	if err != nil {
		r.mu.Unlock()
		return "", fmt.Errorf("io_error: generate session_id: %w", err)
	}
	now := time.Now().UTC()
	sess := &Session{
		SessionID:    sessionID,
		AgentID:      agentID,
		CreatedAt:    now,
		LastActivity: now,
		State:        StateActive,
		IPAddr:       ip,
		UserAgent:    userAgent,
	}
	r.byToken[sessionID] = sess
	r.byAgent[agentID] = append(r.byAgent[agentID], sessionID)
	r.mu.Unlock()

	token := buildToken(r.secret, sessionID, agentID, now.UnixNano())

	if r.events != nil {
		payload := fmt.Sprintf(`{"session_id":%q,"agent_id":%q,"ip":%q}`, sessionID, agentID, ip)
		if _, _, err := r.events.Append(ctx, eventstore.EventDraft{
			EventType:   eventstore.EventSessionCreated,
			AggregateID: "session:" + sessionID,
			AgentID:     agentID,
			Payload:     []byte(payload),
		}, systemIdentity); err != nil {
			r.logger.Warn("sessionsec: failed to append session.created", zap.Error(err))
		}
	}

	return token, nil
}

// Validate checks a token against its (agent_id, ip, user_agent) binding
// and session state, returning the caller's authenticated identity.
func (r *Registry) Validate(ctx context.Context, token, agentID, ip, userAgent string) (identity.Identity, error) {
	pt, err := parseToken(token)
	if err != nil {
		return identity.Identity{}, ErrInvalidToken
	}
	if pt.agentID != agentID {
		return identity.Identity{}, ErrInvalidToken
	}
	if !verifyToken(r.secret, pt) {
		return identity.Identity{}, ErrInvalidToken
	}

	if !r.validateRate.Allow(agentID) {
		return identity.Identity{}, ErrRateLimited
	}

	r.mu.Lock()
	sess, ok := r.byToken[pt.sessionID]
	if !ok {
		r.mu.Unlock()
		return identity.Identity{}, ErrInvalidToken
	}

	switch sess.State {
	case StateRevoked:
		r.mu.Unlock()
		return identity.Identity{}, ErrRevoked
	case StateExpired:
		r.mu.Unlock()
		return identity.Identity{}, ErrExpired
	}

	now := time.Now().UTC()
	if r.idleTimeout > 0 && now.Sub(sess.LastActivity) > r.idleTimeout {
		sess.State = StateExpired
		r.mu.Unlock()
		return identity.Identity{}, ErrExpired
	}
	if r.absoluteTimeout > 0 && now.Sub(sess.CreatedAt) > r.absoluteTimeout {
		sess.State = StateExpired
		r.mu.Unlock()
		return identity.Identity{}, ErrExpired
	}

	if sess.IPAddr != ip || sess.UserAgent != userAgent {
		sess.State = StateRevoked
		r.mu.Unlock()
		return identity.Identity{}, ErrBoundMismatch
	}

	sess.LastActivity = now
	r.mu.Unlock()

	ident, ok := r.resolver.Resolve(agentID)
	if !ok {
		// The agent existed at session creation but has since been
		// removed from the identity table; do not synthesize one.
		return identity.Identity{}, ErrUnknownAgent
	}
	return ident, nil
}

// Revoke marks a single session revoked and appends a session.revoked
// event, per §4.2.
func (r *Registry) Revoke(ctx context.Context, token, reason string) error {
	pt, err := parseToken(token)
	if err != nil {
		return ErrInvalidToken
	}

	r.mu.Lock()
	sess, ok := r.byToken[pt.sessionID]
	if !ok {
		r.mu.Unlock()
		return ErrInvalidToken
	}
	sess.State = StateRevoked
	agentID := sess.AgentID
	sessionID := sess.SessionID
	r.mu.Unlock()

	return r.appendRevocation(ctx, sessionID, agentID, reason)
}

// RevokeAgent revokes every active session belonging to agentID.
func (r *Registry) RevokeAgent(ctx context.Context, agentID, reason string) error {
	r.mu.Lock()
	ids := append([]string(nil), r.byAgent[agentID]...)
	for _, id := range ids {
		if sess, ok := r.byToken[id]; ok {
			sess.State = StateRevoked
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.appendRevocation(ctx, id, agentID, reason); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) appendRevocation(ctx context.Context, sessionID, agentID, reason string) error {
	if r.events == nil {
		return nil
	}
	payload := fmt.Sprintf(`{"session_id":%q,"agent_id":%q,"reason":%q}`, sessionID, agentID, reason)
	_, _, err := r.events.Append(ctx, eventstore.EventDraft{
		EventType:   eventstore.EventSessionRevoked,
		AggregateID: "session:" + sessionID,
		AgentID:     agentID,
		Payload:     []byte(payload),
	}, systemIdentity)
	return err
}

// countActiveLocked counts sessions in StateActive or StatePending for
// agentID. Callers must hold r.mu.
func (r *Registry) countActiveLocked(agentID string) int {
	n := 0
	for _, id := range r.byAgent[agentID] {
		sess, ok := r.byToken[id]
		if !ok {
			continue
		}
		if sess.State == StateActive || sess.State == StatePending {
			n++
		}
	}
	return n
}

func randomID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// validateIP is a light sanity check used by adapters before calling
// CreateSession; Registry itself treats ip as an opaque binding string.
func validateIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
