// Package authz is the Authorizer (C3): a pure function of
// (identity, operation, target) with no state of its own. The
// role→permission table lives in identity.RolePermissions; this package
// only adds the shadow-vs-filesystem scope rule that the permission
// table alone cannot express (§4.3).
package authz

import (
	"errors"
	"strings"
)

// ErrScopeViolation is returned when an expert identity attempts any
// operation on a non-shadow (filesystem) path, or when a permitted
// operation that is not a filesystem.* operation addresses such a path.
// The shadow.* vs filesystem.* distinction is load-bearing (§4.3):
// experts operate only on shadow paths.
var ErrScopeViolation = errors.New("scope_violation")

// ErrPermissionDenied is returned when the identity's role does not
// grant the requested permission at all.
var ErrPermissionDenied = errors.New("permission_denied")

// Target describes the resource an operation addresses. Path is only
// meaningful for filesystem/shadow operations; empty for others.
type Target struct {
	Path       string
	IsFilesystem bool // true for filesystem.* targets; false for shadow.* or non-path targets
}

// Decide authorizes operation against target for caller. It is a pure
// function: given the same three inputs it always returns the same
// result, with no hidden state or I/O (§4.3).
func Decide(caller CallerPermissions, operation string, target Target) error {
	// The shadow/filesystem scope rule is checked first: it must take
	// precedence over the generic permission check, since an expert
	// never holds filesystem.* permissions at all and would otherwise
	// always fail with permission_denied before this rule is reached
	// (§4.3 Testable Property 8: scope_violation "regardless of path").
	if target.IsFilesystem && caller.IsExpert() {
		return ErrScopeViolation
	}

	if !caller.HasPermission(operation) {
		return ErrPermissionDenied
	}

	if target.IsFilesystem && !strings.HasPrefix(operation, "filesystem.") {
		return ErrScopeViolation
	}

	return nil
}

// CallerPermissions is the minimal view of an identity.Identity that
// Decide needs: permission lookup by string key, and whether the
// identity is an expert (for the scope rule, which is role-specific
// rather than permission-specific).
type CallerPermissions interface {
	HasPermission(operation string) bool
	IsExpert() bool
}
