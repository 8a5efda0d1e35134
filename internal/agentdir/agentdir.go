// Package agentdir loads the static agent directory Session Security
// authenticates against: agent_id, role, and a credential hash,
// provisioned out-of-band under data_dir/keys/ and never written by the
// core (§6 "keys/ ... provisioned out-of-band"). It implements
// sessionsec.AgentResolver and sessionsec.CredentialValidator.
//
// This is the concrete form of the trusted-peer loading
// internal/gossip/server.go's caller left as "TODO: load trusted peers
// from config + key files" — here carried through to a real file format
// instead of a deferred placeholder.
package agentdir

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

// entry is one agent's directory record as persisted in agents.yaml.
type entry struct {
	AgentID          string `yaml:"agent_id"`
	Role             string `yaml:"role"`
	CredentialSHA256 string `yaml:"credential_sha256"`
}

// file is the top-level shape of keys/agents.yaml.
type file struct {
	Agents []entry `yaml:"agents"`
}

// Directory is a read-only, in-memory view of the agent directory file.
// It never creates or renames an agent on its own — the
// "no auto-registration" invariant applies at this layer too. A Reload
// replaces the whole table atomically with the file's current contents,
// so agents removed from the file are dropped.
type Directory struct {
	mu      sync.RWMutex
	agents  map[string]entry
}

// Load reads and parses the agent directory file at path.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agentdir.Load: read %q: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("agentdir.Load: parse %q: %w", path, err)
	}

	agents := make(map[string]entry, len(f.Agents))
	for _, e := range f.Agents {
		if e.AgentID == "" {
			return nil, fmt.Errorf("agentdir.Load: entry with empty agent_id in %q", path)
		}
		role := identity.Role(e.Role)
		if _, known := identity.RolePermissions[role]; !known {
			return nil, fmt.Errorf("agentdir.Load: agent %q has unknown role %q", e.AgentID, e.Role)
		}
		agents[e.AgentID] = e
	}

	return &Directory{agents: agents}, nil
}

// Reload re-reads path and, on success, atomically replaces the
// in-memory table. On failure the existing table is retained, matching
// the hot-reload discipline the rest of the process uses for config.
func (d *Directory) Reload(path string) error {
	fresh, err := Load(path)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.agents = fresh.agents
	d.mu.Unlock()
	return nil
}

// Resolve implements sessionsec.AgentResolver.
func (d *Directory) Resolve(agentID string) (identity.Identity, bool) {
	d.mu.RLock()
	e, ok := d.agents[agentID]
	d.mu.RUnlock()
	if !ok {
		return identity.Identity{}, false
	}
	return identity.NewIdentity(e.AgentID, identity.Role(e.Role)), true
}

// Validate implements sessionsec.CredentialValidator. Credentials are
// compared as SHA-256 digests in constant time; the directory file never
// stores a credential in the clear.
func (d *Directory) Validate(agentID, credential string) bool {
	d.mu.RLock()
	e, ok := d.agents[agentID]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	sum := sha256.Sum256([]byte(credential))
	got := hex.EncodeToString(sum[:])
	return hmac.Equal([]byte(got), []byte(e.CredentialSHA256))
}
