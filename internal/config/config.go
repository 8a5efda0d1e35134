// Package config provides configuration loading and validation for the
// Lighthouse coordination core.
//
// Configuration file: /etc/lighthouse/config.yaml (default)
// Schema version: 1
//
// SIGHUP:
//   - The daemon listens for SIGHUP.
//   - On SIGHUP: re-read and re-validate config.yaml, then reload the
//     agent directory (data_dir/keys/agents.yaml).
//   - Re-read config values are not applied to running components: every
//     setting (speed-layer deadlines, consensus thresholds, log level,
//     data_dir, listen addresses) keeps its startup value until restart.
//   - If the new config is invalid, an error is logged and the agent
//     directory is not reloaded. The process does NOT crash on an invalid
//     config at SIGHUP.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g. tau_* ∈ [0,1], consensus_N ∈ {1,3,5}).
//   - data_dir must be absolute.
//   - Invalid config on startup: process refuses to start (exit code 10).
//   - Invalid config on hot-reload: logged, old config retained.
//   - Unknown keys, at the top level or nested, are rejected at startup (§6).
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the build via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for the Lighthouse core.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this core instance in events and logs.
	// Default: hostname.
	NodeID string `yaml:"node_id"`

	// DataDir is the directory containing log/, index/, checkpoints/, keys/.
	DataDir string `yaml:"data_dir"`

	// AuthSecret is the opaque HMAC secret; its bytes are used directly as
	// the session-token and event-chain signing key. Never logged.
	AuthSecret string `yaml:"auth_secret"`

	// MaxConcurrentSessionsPerAgent caps active sessions per agent_id (§3).
	MaxConcurrentSessionsPerAgent int `yaml:"max_concurrent_sessions_per_agent"`

	// SessionIdleTimeout revokes a session after this much inactivity.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	// SessionAbsoluteTimeout revokes a session this long after creation,
	// regardless of activity.
	SessionAbsoluteTimeout time.Duration `yaml:"session_absolute_timeout"`

	// SpeedLayer configures the tiered command classifier.
	SpeedLayer SpeedLayerConfig `yaml:"speed_layer"`

	// Expert configures the Expert Coordinator's consensus parameters.
	Expert ExpertConfig `yaml:"expert"`

	// CORS configures the adapter's cross-origin allow-list.
	CORS CORSConfig `yaml:"cors"`

	// ShadowSearch configures the project aggregate's bounded search.
	ShadowSearch ShadowSearchConfig `yaml:"shadow_search"`

	// Observability configures metrics and logging.
	Observability ObservabilityConfig `yaml:"observability"`

	// Admin configures the local operator override socket.
	Admin AdminConfig `yaml:"admin"`
}

// SpeedLayerConfig holds the tiered classifier's latency budgets.
type SpeedLayerConfig struct {
	// PolicyDeadlineMS is the budget for the memory+policy cache tiers
	// combined, in milliseconds. Default: 5.
	PolicyDeadlineMS int `yaml:"policy_deadline_ms"`

	// ExpertDeadlineMS is the overall budget for an escalated command,
	// including the Expert Coordinator round trip. Default: 30000.
	ExpertDeadlineMS int `yaml:"expert_deadline_ms"`

	// MemoryCacheSize bounds the fingerprint→decision LRU. Default: 100000.
	MemoryCacheSize int `yaml:"memory_cache_size"`

	// CircuitBreakerErrorThreshold is the fraction of escalation failures
	// (in the trailing window) that opens the circuit. Default: 0.5.
	CircuitBreakerErrorThreshold float64 `yaml:"circuit_breaker_error_threshold"`

	// CircuitBreakerWindow is the trailing window used to compute the
	// error rate. Default: 30s.
	CircuitBreakerWindow time.Duration `yaml:"circuit_breaker_window"`

	// CircuitBreakerCooldown is how long the breaker stays open before
	// probing with a half-open trial. Default: 15s.
	CircuitBreakerCooldown time.Duration `yaml:"circuit_breaker_cooldown"`
}

// ExpertConfig holds the Expert Coordinator's consensus parameters.
type ExpertConfig struct {
	// ConsensusN is the number of experts selected per delegation.
	// Must be 1, 3, or 5. Default: 3.
	ConsensusN int `yaml:"consensus_n"`

	// TauApprove is the minimum confidence for an "approve" vote to count
	// toward the approve majority. Range: [0,1]. Default: 0.6.
	TauApprove float64 `yaml:"tau_approve"`

	// TauDeny is the minimum confidence for a "deny" vote to immediately
	// veto the delegation. Range: [0,1]. Default: 0.6.
	TauDeny float64 `yaml:"tau_deny"`

	// ResponseDeadline is validated and loaded but not passed to any
	// component; each expert call runs under the coordinator's overall
	// delegation deadline instead. Default: 10s.
	ResponseDeadline time.Duration `yaml:"response_deadline"`

	// DeadlineSafetyMargin is subtracted from the requester's deadline to
	// produce the coordinator's overall deadline (§4.5). Default: 500ms.
	DeadlineSafetyMargin time.Duration `yaml:"deadline_safety_margin"`

	// ChallengeTTL bounds how long a registration challenge remains valid.
	// Default: 60s.
	ChallengeTTL time.Duration `yaml:"challenge_ttl"`
}

// CORSConfig holds the cross-origin allow-list for adapters.
type CORSConfig struct {
	// AllowOrigins is the explicit allow-list. A credentialed wildcard
	// ("*") is rejected at startup (§6).
	AllowOrigins []string `yaml:"allow_origins"`
}

// ShadowSearchConfig holds shadow.search pagination parameters.
type ShadowSearchConfig struct {
	// PageSize bounds the number of results per shadow.search call.
	// Default: 50.
	PageSize int `yaml:"page_size"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// AdminConfig holds the operator override Unix socket parameters.
type AdminConfig struct {
	// SocketPath is the Unix domain socket path for local admin commands.
	// Permissions: 0600. Default: /run/lighthouse/admin.sock.
	SocketPath string `yaml:"socket_path"`

	// Enabled controls whether the admin socket is active. Default: true.
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion:                 "1",
		NodeID:                        hostname,
		DataDir:                       "/var/lib/lighthouse",
		MaxConcurrentSessionsPerAgent: 4,
		SessionIdleTimeout:            30 * time.Minute,
		SessionAbsoluteTimeout:        12 * time.Hour,
		SpeedLayer: SpeedLayerConfig{
			PolicyDeadlineMS:             5,
			ExpertDeadlineMS:             30000,
			MemoryCacheSize:              100000,
			CircuitBreakerErrorThreshold: 0.5,
			CircuitBreakerWindow:         30 * time.Second,
			CircuitBreakerCooldown:       15 * time.Second,
		},
		Expert: ExpertConfig{
			ConsensusN:           3,
			TauApprove:           0.6,
			TauDeny:              0.6,
			ResponseDeadline:     10 * time.Second,
			DeadlineSafetyMargin: 500 * time.Millisecond,
			ChallengeTTL:         60 * time.Second,
		},
		ShadowSearch: ShadowSearchConfig{
			PageSize: 50,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Admin: AdminConfig{
			Enabled:    true,
			SocketPath: "/run/lighthouse/admin.sock",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated, or if
// it contains unrecognized keys at any level.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := rejectUnknownKeys(data); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// knownTopLevelKeys mirrors the yaml tags of Config's fields. Unknown
// options are rejected at startup per §6.
var knownTopLevelKeys = map[string]bool{
	"schema_version":                    true,
	"node_id":                           true,
	"data_dir":                          true,
	"auth_secret":                       true,
	"max_concurrent_sessions_per_agent": true,
	"session_idle_timeout":              true,
	"session_absolute_timeout":          true,
	"speed_layer":                       true,
	"expert":                            true,
	"cors":                              true,
	"shadow_search":                     true,
	"observability":                     true,
	"admin":                             true,
}

// rejectUnknownKeys decodes the document generically and checks that every
// top-level mapping key is recognized.
func rejectUnknownKeys(data []byte) error {
	var raw map[string]yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("decode for key validation: %w", err)
	}
	for key := range raw {
		if !knownTopLevelKeys[key] {
			return fmt.Errorf("unknown configuration option %q", key)
		}
	}
	return nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.DataDir == "" {
		errs = append(errs, "data_dir must not be empty")
	} else if !filepath.IsAbs(cfg.DataDir) {
		errs = append(errs, fmt.Sprintf("data_dir must be absolute, got %q", cfg.DataDir))
	}
	if cfg.MaxConcurrentSessionsPerAgent < 1 {
		errs = append(errs, fmt.Sprintf("max_concurrent_sessions_per_agent must be >= 1, got %d", cfg.MaxConcurrentSessionsPerAgent))
	}
	if cfg.SessionIdleTimeout <= 0 {
		errs = append(errs, "session_idle_timeout must be > 0")
	}
	if cfg.SessionAbsoluteTimeout <= 0 {
		errs = append(errs, "session_absolute_timeout must be > 0")
	}
	if cfg.SessionIdleTimeout > cfg.SessionAbsoluteTimeout {
		errs = append(errs, "session_idle_timeout must not exceed session_absolute_timeout")
	}

	if cfg.SpeedLayer.PolicyDeadlineMS < 1 {
		errs = append(errs, "speed_layer.policy_deadline_ms must be >= 1")
	}
	if cfg.SpeedLayer.ExpertDeadlineMS < cfg.SpeedLayer.PolicyDeadlineMS {
		errs = append(errs, "speed_layer.expert_deadline_ms must be >= policy_deadline_ms")
	}
	if cfg.SpeedLayer.MemoryCacheSize < 1 {
		errs = append(errs, "speed_layer.memory_cache_size must be >= 1")
	}
	if cfg.SpeedLayer.CircuitBreakerErrorThreshold <= 0 || cfg.SpeedLayer.CircuitBreakerErrorThreshold > 1 {
		errs = append(errs, "speed_layer.circuit_breaker_error_threshold must be in (0.0, 1.0]")
	}
	if cfg.SpeedLayer.CircuitBreakerWindow <= 0 {
		errs = append(errs, "speed_layer.circuit_breaker_window must be > 0")
	}
	if cfg.SpeedLayer.CircuitBreakerCooldown <= 0 {
		errs = append(errs, "speed_layer.circuit_breaker_cooldown must be > 0")
	}

	switch cfg.Expert.ConsensusN {
	case 1, 3, 5:
	default:
		errs = append(errs, fmt.Sprintf("expert.consensus_n must be 1, 3, or 5, got %d", cfg.Expert.ConsensusN))
	}
	if cfg.Expert.TauApprove < 0 || cfg.Expert.TauApprove > 1 {
		errs = append(errs, "expert.tau_approve must be in [0.0, 1.0]")
	}
	if cfg.Expert.TauDeny < 0 || cfg.Expert.TauDeny > 1 {
		errs = append(errs, "expert.tau_deny must be in [0.0, 1.0]")
	}
	if cfg.Expert.ResponseDeadline <= 0 {
		errs = append(errs, "expert.response_deadline must be > 0")
	}
	if cfg.Expert.DeadlineSafetyMargin < 0 {
		errs = append(errs, "expert.deadline_safety_margin must be >= 0")
	}
	if cfg.Expert.ChallengeTTL <= 0 {
		errs = append(errs, "expert.challenge_ttl must be > 0")
	}

	for _, origin := range cfg.CORS.AllowOrigins {
		if origin == "*" {
			errs = append(errs, "cors.allow_origins: credentialed wildcard (\"*\") is forbidden")
		}
	}

	if cfg.ShadowSearch.PageSize < 1 {
		errs = append(errs, "shadow_search.page_size must be >= 1")
	}

	if cfg.Observability.MetricsAddr == "" {
		errs = append(errs, "observability.metrics_addr must not be empty")
	}
	if _, err := parseLogLevel(cfg.Observability.LogLevel); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.Observability.LogFormat != "json" && cfg.Observability.LogFormat != "console" {
		errs = append(errs, fmt.Sprintf("observability.log_format must be \"json\" or \"console\", got %q", cfg.Observability.LogFormat))
	}

	if cfg.Admin.Enabled && cfg.Admin.SocketPath == "" {
		errs = append(errs, "admin.socket_path must not be empty when admin.enabled is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", joinStrings(errs, "\n  - "))
	}
	return nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func parseLogLevel(level string) (string, error) {
	if !validLogLevels[level] {
		return "", fmt.Errorf("observability.log_level must be one of debug, info, warn, error, got %q", level)
	}
	return level, nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
