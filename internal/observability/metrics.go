// Package observability — metrics.go
//
// Prometheus metrics for the Lighthouse coordinator.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: lighthouse_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - agent_id and session_id are NOT used as labels (unbounded cardinality).
//   - Per-agent/per-session metrics are aggregated before recording.
//   - State labels use the string state name (bounded enum).

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for Lighthouse.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Event Store ──────────────────────────────────────────────────────────

	// EventsAppendedTotal counts events successfully appended to the log.
	// Labels: event_type
	EventsAppendedTotal *prometheus.CounterVec

	// EventsRejectedTotal counts append attempts rejected by validation.
	// Labels: reason (unauthenticated, hash_mismatch, schema_invalid)
	EventsRejectedTotal *prometheus.CounterVec

	// EventLogSequence is the highest sequence number appended so far.
	EventLogSequence prometheus.Gauge

	// ─── Session Security ─────────────────────────────────────────────────────

	// SessionsActive is the current number of active sessions.
	SessionsActive prometheus.Gauge

	// SessionValidationsTotal counts token validation attempts.
	// Labels: result (ok, invalid_token, expired, revoked, bound_mismatch, rate_limited)
	SessionValidationsTotal *prometheus.CounterVec

	// ─── Speed Layer ──────────────────────────────────────────────────────────

	// CommandsValidatedTotal counts commands run through the Speed Layer.
	// Labels: verdict (allow, deny, escalate)
	CommandsValidatedTotal *prometheus.CounterVec

	// CommandValidationLatency records Speed Layer validation latency.
	CommandValidationLatency prometheus.Histogram

	// CircuitBreakerOpen is 1 when the escalation circuit breaker is open.
	CircuitBreakerOpen prometheus.Gauge

	// ─── Expert Coordinator ───────────────────────────────────────────────────

	// DelegationsDecidedTotal counts delegations that reached a final verdict.
	// Labels: verdict (approve, deny, needs_revision)
	DelegationsDecidedTotal *prometheus.CounterVec

	// DelegationLatency records time from dispatch to decided.
	DelegationLatency prometheus.Histogram

	// ExpertsQuarantinedTotal counts quarantine events.
	ExpertsQuarantinedTotal prometheus.Counter

	// ─── Project Aggregate ────────────────────────────────────────────────────

	// AggregateRebuildLatency records full fold-forward rebuild latency.
	AggregateRebuildLatency prometheus.Histogram

	// AggregateFilesTracked is the current number of distinct files folded.
	AggregateFilesTracked prometheus.Gauge

	// ─── Pair Sessions ────────────────────────────────────────────────────────

	// PairSessionsActive is the current number of open pair sessions.
	PairSessionsActive prometheus.Gauge

	// ─── Process ──────────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since the process started.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all Lighthouse Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		EventsAppendedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lighthouse",
			Subsystem: "eventstore",
			Name:      "appended_total",
			Help:      "Total events successfully appended to the log, by event type.",
		}, []string{"event_type"}),

		EventsRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lighthouse",
			Subsystem: "eventstore",
			Name:      "rejected_total",
			Help:      "Total append attempts rejected, by reason.",
		}, []string{"reason"}),

		EventLogSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lighthouse",
			Subsystem: "eventstore",
			Name:      "sequence",
			Help:      "Highest sequence number appended to the log so far.",
		}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lighthouse",
			Subsystem: "sessionsec",
			Name:      "sessions_active",
			Help:      "Current number of active sessions across all agents.",
		}),

		SessionValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lighthouse",
			Subsystem: "sessionsec",
			Name:      "validations_total",
			Help:      "Total session token validations, by result.",
		}, []string{"result"}),

		CommandsValidatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lighthouse",
			Subsystem: "speedlayer",
			Name:      "commands_validated_total",
			Help:      "Total commands run through the Speed Layer, by verdict.",
		}, []string{"verdict"}),

		CommandValidationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lighthouse",
			Subsystem: "speedlayer",
			Name:      "validation_latency_seconds",
			Help:      "Speed Layer command validation latency in seconds.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}),

		CircuitBreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lighthouse",
			Subsystem: "speedlayer",
			Name:      "circuit_breaker_open",
			Help:      "1 if the escalation circuit breaker is currently open, else 0.",
		}),

		DelegationsDecidedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lighthouse",
			Subsystem: "expertcoord",
			Name:      "delegations_decided_total",
			Help:      "Total delegations reaching a final verdict, by verdict.",
		}, []string{"verdict"}),

		DelegationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lighthouse",
			Subsystem: "expertcoord",
			Name:      "delegation_latency_seconds",
			Help:      "Time from delegation dispatch to final verdict, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		ExpertsQuarantinedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lighthouse",
			Subsystem: "expertcoord",
			Name:      "experts_quarantined_total",
			Help:      "Total experts quarantined over the process lifetime.",
		}),

		AggregateRebuildLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lighthouse",
			Subsystem: "projectaggregate",
			Name:      "rebuild_latency_seconds",
			Help:      "Full fold-forward aggregate rebuild latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		AggregateFilesTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lighthouse",
			Subsystem: "projectaggregate",
			Name:      "files_tracked",
			Help:      "Current number of distinct files folded into the project aggregate.",
		}),

		PairSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lighthouse",
			Subsystem: "pairsession",
			Name:      "sessions_active",
			Help:      "Current number of open pair sessions.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lighthouse",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the process started.",
		}),
	}

	reg.MustRegister(
		m.EventsAppendedTotal,
		m.EventsRejectedTotal,
		m.EventLogSequence,
		m.SessionsActive,
		m.SessionValidationsTotal,
		m.CommandsValidatedTotal,
		m.CommandValidationLatency,
		m.CircuitBreakerOpen,
		m.DelegationsDecidedTotal,
		m.DelegationLatency,
		m.ExpertsQuarantinedTotal,
		m.AggregateRebuildLatency,
		m.AggregateFilesTracked,
		m.PairSessionsActive,
		m.UptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
// The server binds to addr (e.g., "127.0.0.1:9091") and serves GET /metrics.
// Returns an error only if the server fails to start or encounters a fatal error.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the UptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.UptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
