// Package adminsock is the local administrative surface (C8): a
// Unix domain socket speaking newline-delimited JSON, adapted directly
// from internal/operator/server.go's protocol and connection discipline
// but repointed at session and expert administration instead of PID
// isolation-state overrides.
//
// Protocol: one JSON request per connection, newline-delimited.
// Socket path: configurable (default /run/lighthouse/admin.sock).
// Permissions: 0600.
//
// Commands (JSON request -> JSON response):
//
//	{"cmd":"revoke-session","token":"...","reason":"..."}
//	  -> Revokes the session bound to token.
//	  -> Response: {"ok":true}
//
//	{"cmd":"revoke-agent","agent_id":"...","reason":"..."}
//	  -> Revokes all of an agent's active sessions.
//	  -> Response: {"ok":true}
//
//	{"cmd":"quarantine-expert","expert_id":"...","reason":"..."}
//	  -> Quarantines an expert; it will not be selected for new delegations.
//	  -> Response: {"ok":true}
//
//	{"cmd":"status"}
//	  -> Returns a snapshot of experts and their status.
//	  -> Response: {"ok":true,"experts":[...]}
//
// Security:
//   - Socket is created with 0600 permissions.
//   - Each connection is handled in a separate goroutine.
//   - Max concurrent connections: 4 (operator use only, not high-throughput).
//   - Max request size: 4096 bytes (prevents memory exhaustion).
//   - Connection timeout: one 10s deadline covering the read and the write.
//   - All commands are logged to the audit ledger by the components they
//     delegate to (sessionsec, expertcoord) — adminsock itself holds no
//     authorization or storage logic of its own.
package adminsock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/lighthouse-coord/lighthouse/internal/expertcoord"
	"github.com/lighthouse-coord/lighthouse/internal/identity"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// SessionRevoker is the narrow view of sessionsec.Registry this socket uses.
type SessionRevoker interface {
	Revoke(ctx context.Context, token, reason string) error
	RevokeAgent(ctx context.Context, agentID, reason string) error
}

// ExpertAdmin is the narrow view of expertcoord.Registry this socket uses.
type ExpertAdmin interface {
	Quarantine(ctx context.Context, expertID, reason string, caller identity.Identity) error
	All() []expertcoord.Expert
}

// ExpertStatus mirrors the fields of expertcoord.Expert that the status
// command reports, so the wire response carries only the id and status
// and not the rest of expertcoord.Expert (such as its public key).
type ExpertStatus struct {
	ExpertID string `json:"expert_id"`
	Status   string `json:"status"`
}

// Request is the JSON structure for admin commands.
type Request struct {
	Cmd      string `json:"cmd"`
	Token    string `json:"token,omitempty"`
	AgentID  string `json:"agent_id,omitempty"`
	ExpertID string `json:"expert_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Response is the JSON structure for admin command responses.
type Response struct {
	OK      bool           `json:"ok"`
	Error   string         `json:"error,omitempty"`
	Experts []ExpertStatus `json:"experts,omitempty"`
}

// Server is the admin Unix domain socket server.
type Server struct {
	socketPath string
	sessions   SessionRevoker
	experts    ExpertAdmin
	adminID    identity.Identity
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates an admin Server. adminID is the identity recorded as
// the caller of record for every command issued over this socket — the
// socket's own Unix-permission boundary (0600, local-only) stands in for
// per-connection authentication, matching the teacher's "only root can
// connect" trust model.
func NewServer(socketPath string, sessions SessionRevoker, experts ExpertAdmin, adminID identity.Identity, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		socketPath: socketPath,
		sessions:   sessions,
		experts:    experts,
		adminID:    adminID,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe starts the admin socket server. Removes any stale
// socket file before binding. Blocks until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("adminsock: remove stale socket %q: %w", s.socketPath, err)
	}

	if dir := filepath.Dir(s.socketPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("adminsock: mkdir %q: %w", dir, err)
		}
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("adminsock: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("adminsock: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("admin socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("adminsock: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("adminsock: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(ctx, c)
		}(conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("adminsock: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := s.dispatch(ctx, req)
	s.writeResponse(conn, resp)
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Cmd {
	case "revoke-session":
		return s.cmdRevokeSession(ctx, req)
	case "revoke-agent":
		return s.cmdRevokeAgent(ctx, req)
	case "quarantine-expert":
		return s.cmdQuarantineExpert(ctx, req)
	case "status":
		return s.cmdStatus()
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdRevokeSession(ctx context.Context, req Request) Response {
	if req.Token == "" {
		return Response{OK: false, Error: "token required for revoke-session"}
	}
	if err := s.sessions.Revoke(ctx, req.Token, req.Reason); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("adminsock: session revoked", zap.String("reason", req.Reason))
	return Response{OK: true}
}

func (s *Server) cmdRevokeAgent(ctx context.Context, req Request) Response {
	if req.AgentID == "" {
		return Response{OK: false, Error: "agent_id required for revoke-agent"}
	}
	if err := s.sessions.RevokeAgent(ctx, req.AgentID, req.Reason); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("adminsock: agent revoked", zap.String("agent_id", req.AgentID), zap.String("reason", req.Reason))
	return Response{OK: true}
}

func (s *Server) cmdQuarantineExpert(ctx context.Context, req Request) Response {
	if req.ExpertID == "" {
		return Response{OK: false, Error: "expert_id required for quarantine-expert"}
	}
	if err := s.experts.Quarantine(ctx, req.ExpertID, req.Reason, s.adminID); err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	s.log.Info("adminsock: expert quarantined", zap.String("expert_id", req.ExpertID), zap.String("reason", req.Reason))
	return Response{OK: true}
}

func (s *Server) cmdStatus() Response {
	experts := s.experts.All()
	out := make([]ExpertStatus, 0, len(experts))
	for _, e := range experts {
		out = append(out, ExpertStatus{ExpertID: e.ExpertID, Status: string(e.Status)})
	}
	return Response{OK: true, Experts: out}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
