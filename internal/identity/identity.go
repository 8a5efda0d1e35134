// Package identity defines the authenticated-identity and permission
// vocabulary shared by every component in the process. Per the
// single-construction-point invariant, exactly one registry of these
// values should exist per process; this package only defines the shapes,
// it does not itself hold the singleton (see sessionsec.Registry).
package identity

// Role is an agent's fixed role, assigned at bootstrap or promotion.
type Role string

const (
	RoleGuest        Role = "guest"
	RoleAgent        Role = "agent"
	RoleExpert       Role = "expert"
	RoleSystemAdmin  Role = "system_admin"
)

// Permission is an enumerated capability (§3).
type Permission string

const (
	PermShadowRead      Permission = "shadow.read"
	PermShadowWrite     Permission = "shadow.write"
	PermFilesystemRead  Permission = "filesystem.read"
	PermFilesystemWrite Permission = "filesystem.write"
	PermEventAppend     Permission = "event.append"
	PermEventQuery      Permission = "event.query"
	PermExpertRegister  Permission = "expert.register"
	PermExpertDelegate  Permission = "expert.delegate"
	PermPairStart       Permission = "pair.start"
	PermSystemAdmin     Permission = "system.admin"
)

// Identity is the authenticated caller passed into every component
// operation. It is a snapshot, not a live handle: callers re-resolve it
// per-request via the session registry's Validate.
type Identity struct {
	AgentID     string
	Role        Role
	Permissions map[Permission]bool
	ExpertTags  []string // capability tags, only meaningful when Role == RoleExpert
}

// Has reports whether the identity carries the given permission.
func (id Identity) Has(p Permission) bool {
	if id.Permissions == nil {
		return false
	}
	return id.Permissions[p]
}

// HasPermission is the string-keyed form of Has, satisfying
// authz.CallerPermissions without authz needing to import this
// package's Permission type.
func (id Identity) HasPermission(p string) bool {
	return id.Has(Permission(p))
}

// IsExpert reports whether the identity's role is RoleExpert, backing
// the shadow/filesystem scope rule in authz.
func (id Identity) IsExpert() bool {
	return id.Role == RoleExpert
}

// RolePermissions is the fixed role→permission map (§4.3). It is
// exported so the bootstrap path and tests can construct identities
// without duplicating the table.
var RolePermissions = map[Role][]Permission{
	RoleGuest: {
		PermShadowRead,
	},
	RoleAgent: {
		PermShadowRead,
		PermFilesystemRead,
		PermFilesystemWrite,
		PermEventAppend,
		PermEventQuery,
	},
	RoleExpert: {
		PermShadowRead,
		PermShadowWrite,
		PermEventAppend,
		PermEventQuery,
		PermExpertRegister,
	},
	RoleSystemAdmin: {
		PermShadowRead,
		PermShadowWrite,
		PermFilesystemRead,
		PermFilesystemWrite,
		PermEventAppend,
		PermEventQuery,
		PermExpertRegister,
		PermExpertDelegate,
		PermPairStart,
		PermSystemAdmin,
	},
}

// NewIdentity builds an Identity for the given agent and role, populating
// Permissions from the fixed role table. ExpertTags is only honored when
// role is RoleExpert.
func NewIdentity(agentID string, role Role, expertTags ...string) Identity {
	perms := make(map[Permission]bool, len(RolePermissions[role]))
	for _, p := range RolePermissions[role] {
		perms[p] = true
	}
	id := Identity{
		AgentID:     agentID,
		Role:        role,
		Permissions: perms,
	}
	if role == RoleExpert {
		id.ExpertTags = expertTags
	}
	return id
}
