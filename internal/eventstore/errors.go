package eventstore

import "errors"

// Error kinds surfaced by the core (§7). Components elsewhere in the
// process match on these sentinels with errors.Is; they are never
// constructed with dynamic context that could leak secrets or payloads.
var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrPermissionDenied    = errors.New("permission_denied")
	ErrSchemaInvalid       = errors.New("schema_invalid")
	ErrIntegrityViolation  = errors.New("integrity_violation")
	ErrIOError             = errors.New("io_error")
	ErrNotFound            = errors.New("not_found")
	ErrConflict            = errors.New("conflict")
	ErrLagging             = errors.New("lagging")
	ErrStoreHalted         = errors.New("io_error: store halted after integrity_violation")
)
