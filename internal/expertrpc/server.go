package expertrpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// TLSFiles names the PEM files a mutually-authenticated listener needs,
// mirroring internal/gossip/server.go's certFile/keyFile/caFile triple.
type TLSFiles struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// ListenAndServe starts a TLS 1.3 mTLS gRPC server hosting srv and
// blocks until ctx is cancelled, a direct adaptation of
// internal/gossip/server.go's ListenAndServe/buildServerTLS — same
// VersionTLS13 floor, RequireAndVerifyClientCert policy, and graceful
// shutdown on context cancellation.
func ListenAndServe(ctx context.Context, addr string, files TLSFiles, srv ExpertServiceServer, log *zap.Logger) error {
	tlsCfg, err := buildServerTLS(files)
	if err != nil {
		return fmt.Errorf("expertrpc TLS config: %w", err)
	}

	creds := credentials.NewTLS(tlsCfg)
	grpcSrv := grpc.NewServer(
		grpc.Creds(creds),
		grpc.MaxRecvMsgSize(1<<20),
		grpc.MaxSendMsgSize(1<<20),
	)
	RegisterExpertServiceServer(grpcSrv, srv)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("expertrpc listen %s: %w", addr, err)
	}

	log.Info("expertrpc server listening", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		grpcSrv.GracefulStop()
	}()

	if err := grpcSrv.Serve(lis); err != nil {
		return fmt.Errorf("expertrpc grpc serve: %w", err)
	}
	return nil
}

func buildServerTLS(files TLSFiles) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
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
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    caPool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
