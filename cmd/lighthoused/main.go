// Package main — cmd/lighthoused/main.go
//
// Lighthouse coordination core entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/lighthouse/config.yaml.
//  2. Initialise structured logger (zap, JSON format).
//  3. Load the agent directory (data_dir/keys/agents.yaml).
//  4. Open the Event Store (data_dir/log, HMAC chain verified on open).
//  5. Start the Prometheus metrics server (127.0.0.1:9091).
//  6. Construct Session Security and the expert registry.
//  7. Construct the Expert RPC (mTLS gRPC) client used to dial out to
//     expert agent processes, then the Expert Coordinator, the Speed
//     Layer, the Project Aggregate follower, and the Pair-Session
//     Manager, wiring each through the narrow interfaces it depends on.
//  8. Start the admin socket.
//  9. Register SIGHUP handler that re-validates config.yaml and reloads
//     the agent directory.
// 10. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to all goroutines).
//  2. Close the Expert RPC client connections.
//  3. Close the Event Store (flushes and closes BoltDB).
//  4. Flush logger.
//  5. Exit 0.
//
// Exit codes (§6): 0 clean shutdown; 10 config error; 20 storage
// recovery failure; 30 integrity violation detected at startup; 40
// authentication-secret unavailable.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lighthouse-coord/lighthouse/internal/adminsock"
	"github.com/lighthouse-coord/lighthouse/internal/agentdir"
	"github.com/lighthouse-coord/lighthouse/internal/config"
	"github.com/lighthouse-coord/lighthouse/internal/eventstore"
	"github.com/lighthouse-coord/lighthouse/internal/expertcoord"
	"github.com/lighthouse-coord/lighthouse/internal/expertrpc"
	"github.com/lighthouse-coord/lighthouse/internal/identity"
	"github.com/lighthouse-coord/lighthouse/internal/observability"
	"github.com/lighthouse-coord/lighthouse/internal/pairsession"
	"github.com/lighthouse-coord/lighthouse/internal/projectaggregate"
	"github.com/lighthouse-coord/lighthouse/internal/sessionsec"
	"github.com/lighthouse-coord/lighthouse/internal/speedlayer"
)

const exitConfigError = 10
const exitStorageFailure = 20
const exitIntegrityViolation = 30
const exitSecretUnavailable = 40

func main() {
	configPath := flag.String("config", "/etc/lighthouse/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("lighthoused %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(exitConfigError)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(exitConfigError)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("lighthouse starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("node_id", cfg.NodeID),
		zap.String("config", *configPath),
	)

	if cfg.AuthSecret == "" {
		log.Error("auth_secret is empty — cannot derive HMAC chain or session keys")
		os.Exit(exitSecretUnavailable)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agents, err := agentdir.Load(filepath.Join(cfg.DataDir, "keys", "agents.yaml"))
	if err != nil {
		log.Error("agent directory load failed", zap.Error(err))
		os.Exit(exitConfigError)
	}

	store, err := eventstore.Open(filepath.Join(cfg.DataDir, "log", "0000.dat"), eventstore.Options{
		Secret: []byte(cfg.AuthSecret),
		Logger: log,
	})
	if err != nil {
		log.Error("event store open failed", zap.Error(err), zap.String("data_dir", cfg.DataDir))
		os.Exit(exitStorageFailure)
	}
	defer store.Close() //nolint:errcheck
	log.Info("event store opened", zap.String("data_dir", cfg.DataDir))

	if ok, err := store.IntegrityCheck(ctx, eventstore.Range{}); err != nil || !ok {
		log.Error("event log integrity check failed at startup", zap.Error(err))
		os.Exit(exitIntegrityViolation)
	}

	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	sessions := sessionsec.NewRegistry(sessionsec.Config{
		Secret:                        []byte(cfg.AuthSecret),
		MaxConcurrentSessionsPerAgent: cfg.MaxConcurrentSessionsPerAgent,
		IdleTimeout:                   cfg.SessionIdleTimeout,
		AbsoluteTimeout:               cfg.SessionAbsoluteTimeout,
		ValidateRateLimitCapacity:     100,
		ValidateRateLimitPeriod:       time.Second,
	}, agents, agents, store, log)
	defer sessions.Close()

	experts := expertcoord.NewRegistry(cfg.Expert.ChallengeTTL, store, log)

	expertAddrs := &staticAddressResolver{addrs: map[string]string{}}
	rpcClient, err := expertrpc.NewClient(expertAddrs, expertrpc.ClientTLSFiles{
		CertFile: filepath.Join(cfg.DataDir, "keys", "expertrpc-client.crt"),
		KeyFile:  filepath.Join(cfg.DataDir, "keys", "expertrpc-client.key"),
		CAFile:   filepath.Join(cfg.DataDir, "keys", "expertrpc-ca.crt"),
	})
	if err != nil {
		log.Error("expert rpc client TLS setup failed", zap.Error(err))
		os.Exit(exitSecretUnavailable)
	}
	defer rpcClient.Close() //nolint:errcheck

	coordinator := expertcoord.NewCoordinator(experts, rpcClient, store, expertcoord.Config{
		N:                    cfg.Expert.ConsensusN,
		TauApprove:           cfg.Expert.TauApprove,
		TauDeny:              cfg.Expert.TauDeny,
		DeadlineSafetyMargin: cfg.Expert.DeadlineSafetyMargin,
	}, log)

	mem, err := speedlayer.NewMemCache(cfg.SpeedLayer.MemoryCacheSize)
	if err != nil {
		log.Error("speed layer memory cache init failed", zap.Error(err))
		os.Exit(exitConfigError)
	}
	policy, err := speedlayer.NewPolicyCache(nil)
	if err != nil {
		log.Error("speed layer policy cache init failed", zap.Error(err))
		os.Exit(exitConfigError)
	}
	pattern := speedlayer.NewPatternCache(nil, speedlayer.PatternCacheConfig{})
	breaker := speedlayer.NewCircuitBreaker(
		cfg.SpeedLayer.CircuitBreakerErrorThreshold,
		cfg.SpeedLayer.CircuitBreakerWindow,
		cfg.SpeedLayer.CircuitBreakerCooldown,
	)
	dispatcher := speedlayer.NewDispatcher(mem, policy, pattern, coordinator, breaker, speedlayer.DispatcherConfig{
		PolicyDeadline: time.Duration(cfg.SpeedLayer.PolicyDeadlineMS) * time.Millisecond,
		ExpertDeadline: time.Duration(cfg.SpeedLayer.ExpertDeadlineMS) * time.Millisecond,
	})
	_ = dispatcher // exercised by adapters issuing command.validate; held here for lifetime/shutdown parity.

	systemIdentity := identity.NewIdentity(cfg.NodeID, identity.RoleSystemAdmin)

	aggregate, err := projectaggregate.Follow(ctx, store, systemIdentity, log)
	if err != nil {
		log.Error("project aggregate follow failed", zap.Error(err))
		os.Exit(exitStorageFailure)
	}
	_ = aggregate

	pairs := pairsession.NewManager(store, 256, log)
	_ = pairs

	if cfg.Admin.Enabled {
		adminSrv := adminsock.NewServer(cfg.Admin.SocketPath, sessions, experts, systemIdentity, log)
		go func() {
			if err := adminSrv.ListenAndServe(ctx); err != nil {
				log.Error("admin socket server error", zap.Error(err))
			}
		}()
		log.Info("admin socket listening", zap.String("path", cfg.Admin.SocketPath))
	} else {
		log.Info("admin socket disabled")
	}

	// lighthoused only ever plays the Expert RPC client role here: experts
	// are separate agent processes that host expertrpc.ListenAndServe
	// themselves and answer Delegate calls over mTLS. The coordinator
	// dials out to them via rpcClient, constructed above.

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			if _, err := config.Load(*configPath); err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			if err := agents.Reload(filepath.Join(cfg.DataDir, "keys", "agents.yaml")); err != nil {
				log.Error("agent directory hot-reload failed — retaining old directory", zap.Error(err))
				continue
			}
			log.Info("config re-validated and agent directory reloaded")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	time.Sleep(200 * time.Millisecond) // let goroutines observe ctx.Done before the deferred closes run.

	log.Info("lighthouse shutdown complete")
}

// staticAddressResolver is a placeholder expertrpc.AddressResolver: the
// real deployment resolves expert addresses from the expert directory's
// registration payload (§4.5's registration event carries no network
// address today — only identity and capabilities), so this starts empty
// and nothing in the daemon adds entries to it; every lookup misses until
// a populated map is supplied. Left as a dedicated type rather than a
// closure so tests can swap in a populated map directly.
type staticAddressResolver struct {
	addrs map[string]string
}

func (r *staticAddressResolver) Address(expertID string) (string, bool) {
	addr, ok := r.addrs[expertID]
	return addr, ok
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
