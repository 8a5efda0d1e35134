package expertrpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/lighthouse-coord/lighthouse/internal/expertcoord"
	"github.com/lighthouse-coord/lighthouse/internal/speedlayer"
)

// AddressResolver maps a registered expert_id to the network address its
// process is reachable at. The Expert Coordinator's registry tracks
// identity and capability; address resolution is a separate, pluggable
// concern so tests can stub it.
type AddressResolver interface {
	Address(expertID string) (string, bool)
}

// ClientTLSFiles names the PEM files the client dials with, mirroring
// TLSFiles but from the connecting side (client cert proves the
// coordinator's own identity for mTLS).
type ClientTLSFiles struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// Client dispatches Delegate calls to remote expert processes over TLS
// 1.3 mTLS, reusing one *grpc.ClientConn per address. It implements
// expertcoord.ExpertCaller.
type Client struct {
	resolver AddressResolver
	tlsCfg   *tls.Config

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewClient builds a Client. Returns an error if the TLS material
// cannot be loaded.
func NewClient(resolver AddressResolver, files ClientTLSFiles) (*Client, error) {
	tlsCfg, err := buildClientTLS(files)
	if err != nil {
		return nil, fmt.Errorf("expertrpc client TLS config: %w", err)
	}
	return &Client{
		resolver: resolver,
		tlsCfg:   tlsCfg,
		conns:    make(map[string]*grpc.ClientConn),
	}, nil
}

func buildClientTLS(files ClientTLSFiles) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert/key: %w", err)
	}
	caData, err := os.ReadFile(files.CAFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file %q: %w", files.CAFile, err)
	}
	caPool := x509.NewCertPool()
	if !caPool.AppendCertsFromPEM(caData) {
		return nil, fmt.Errorf("failed to parse CA certificate from %q", files.CAFile)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      caPool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

func (c *Client) connFor(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[addr]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(credentials.NewTLS(c.tlsCfg)),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("expertrpc dial %s: %w", addr, err)
	}
	c.conns[addr] = conn
	return conn, nil
}

// Call implements expertcoord.ExpertCaller: it resolves expertID to an
// address, dials (or reuses) the connection, and invokes Delegate with
// the command translated into a DelegateRequest.
func (c *Client) Call(ctx context.Context, expertID string, cmd speedlayer.Command, deadline time.Time) (expertcoord.Vote, error) {
	addr, ok := c.resolver.Address(expertID)
	if !ok {
		return expertcoord.Vote{}, fmt.Errorf("expertrpc: no known address for expert %s", expertID)
	}
	conn, err := c.connFor(addr)
	if err != nil {
		return expertcoord.Vote{}, err
	}

	req := &DelegateRequest{
		Fingerprint:  cmd.Fingerprint(),
		Kind:         cmd.Kind,
		Args:         cmd.Args,
		TargetPath:   cmd.TargetPath,
		DeadlineUnix: deadline.Unix(),
	}
	resp := new(DelegateResponse)

	if err := conn.Invoke(ctx, "/"+ServiceName+"/Delegate", req, resp); err != nil {
		return expertcoord.Vote{}, fmt.Errorf("expertrpc delegate call to %s: %w", expertID, err)
	}

	return expertcoord.Vote{
		ExpertID:    expertID,
		Verdict:     expertcoord.VoteVerdict(resp.Verdict),
		Confidence:  resp.Confidence,
		Annotations: resp.Annotations,
		RecordedAt:  time.Now(),
	}, nil
}

// Close tears down every pooled connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing conn to %s: %w", addr, err)
		}
	}
	c.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}
