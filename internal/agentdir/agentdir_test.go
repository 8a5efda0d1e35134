package agentdir

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeDirFile(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "agents.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write agents.yaml: %v", err)
	}
	return path
}

func hashOf(cred string) string {
	sum := sha256.Sum256([]byte(cred))
	return hex.EncodeToString(sum[:])
}

func TestLoadAndValidate(t *testing.T) {
	dir := t.TempDir()
	path := writeDirFile(t, dir, `
agents:
  - agent_id: builder-1
    role: agent
    credential_sha256: `+hashOf("s3cr3t")+`
`)

	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	id, ok := d.Resolve("builder-1")
	if !ok {
		t.Fatal("expected builder-1 to resolve")
	}
	if id.Role != "agent" {
		t.Fatalf("expected role agent, got %s", id.Role)
	}

	if !d.Validate("builder-1", "s3cr3t") {
		t.Fatal("expected credential to validate")
	}
	if d.Validate("builder-1", "wrong") {
		t.Fatal("expected wrong credential to be rejected")
	}
}

func TestResolveUnknownAgent(t *testing.T) {
	dir := t.TempDir()
	path := writeDirFile(t, dir, "agents: []\n")

	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := d.Resolve("ghost"); ok {
		t.Fatal("expected unknown agent not to resolve")
	}
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	dir := t.TempDir()
	path := writeDirFile(t, dir, `
agents:
  - agent_id: x
    role: superuser
    credential_sha256: abc
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
