package sessionsec

import "errors"

var (
	ErrInvalidCredential = errors.New("unauthenticated: invalid credential")
	ErrUnknownAgent      = errors.New("unauthenticated: unknown agent_id")
	ErrTooManySessions   = errors.New("conflict: max_concurrent_sessions_per_agent exceeded")
	ErrInvalidToken      = errors.New("invalid_token")
	ErrExpired           = errors.New("expired")
	ErrRevoked           = errors.New("revoked")
	ErrBoundMismatch     = errors.New("bound_mismatch")
	ErrRateLimited       = errors.New("rate_limited")
)
