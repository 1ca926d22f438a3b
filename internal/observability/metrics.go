// Package observability — metrics.go
//
// Prometheus metrics for the governance operations console.
//
// Endpoint: GET /metrics on 127.0.0.1:9109 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure; the public dashboard talks
// to the transport package's own listener, never this one.
//
// Metric naming convention: governance_ops_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Outcome/kind/cause/choice labels are closed, small enumerations.
//   - Member and proposal ids are NEVER used as labels (unbounded
//     cardinality) — per-entity detail belongs in the ledger, not metrics.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for the console.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Ledger ───────────────────────────────────────────────────────────────

	// LedgerEventsTotal counts ledger events appended, by kind.
	LedgerEventsTotal *prometheus.CounterVec

	// LedgerTotalSeq mirrors the ledger's current seq counter.
	LedgerTotalSeq prometheus.Gauge

	// ─── Members ──────────────────────────────────────────────────────────────

	// MembersAlive is the current count of living members.
	MembersAlive prometheus.Gauge

	// MembersDiedTotal counts deaths, by cause.
	MembersDiedTotal *prometheus.CounterVec

	// ─── Graveyard ────────────────────────────────────────────────────────────

	// GraveyardTombstones is the current count of sealed tombstones.
	GraveyardTombstones prometheus.Gauge

	// ─── Proposals ────────────────────────────────────────────────────────────

	// ProposalsOpenedTotal counts proposals opened, by risk level.
	ProposalsOpenedTotal *prometheus.CounterVec

	// ProposalsSealedTotal counts proposals sealed, by outcome.
	ProposalsSealedTotal *prometheus.CounterVec

	// VotesCastTotal counts votes cast, by choice.
	VotesCastTotal *prometheus.CounterVec

	// DissentRate records the distribution of a round's dissent rate.
	DissentRate prometheus.Histogram

	// ─── Broadcast ────────────────────────────────────────────────────────────

	// BroadcastSubscribers is the current number of connected WS clients.
	BroadcastSubscribers prometheus.Gauge

	// BroadcastResyncsTotal counts lagging-subscriber resync coalescions.
	BroadcastResyncsTotal prometheus.Counter

	// BroadcastDroppedTotal counts subscribers dropped after a failed resync.
	BroadcastDroppedTotal prometheus.Counter

	// ─── Tick driver ──────────────────────────────────────────────────────────

	// TicksTotal counts completed governance ticks.
	TicksTotal prometheus.Counter

	// ─── Process ──────────────────────────────────────────────────────────────

	// UptimeSeconds is the number of seconds since the process started.
	UptimeSeconds prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers all console Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		LedgerEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governance_ops",
			Subsystem: "ledger",
			Name:      "events_total",
			Help:      "Total ledger events appended, by kind.",
		}, []string{"kind"}),

		LedgerTotalSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governance_ops",
			Subsystem: "ledger",
			Name:      "total_seq",
			Help:      "Current ledger sequence counter.",
		}),

		MembersAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governance_ops",
			Subsystem: "members",
			Name:      "alive",
			Help:      "Current number of living members.",
		}),

		MembersDiedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governance_ops",
			Subsystem: "members",
			Name:      "died_total",
			Help:      "Total member deaths, by cause.",
		}, []string{"cause"}),

		GraveyardTombstones: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governance_ops",
			Subsystem: "graveyard",
			Name:      "tombstones",
			Help:      "Current number of sealed tombstones.",
		}),

		ProposalsOpenedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governance_ops",
			Subsystem: "proposals",
			Name:      "opened_total",
			Help:      "Total proposals opened, by risk level.",
		}, []string{"risk"}),

		ProposalsSealedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governance_ops",
			Subsystem: "proposals",
			Name:      "sealed_total",
			Help:      "Total proposals sealed, by outcome.",
		}, []string{"outcome"}),

		VotesCastTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "governance_ops",
			Subsystem: "proposals",
			Name:      "votes_cast_total",
			Help:      "Total votes cast, by choice.",
		}, []string{"choice"}),

		DissentRate: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "governance_ops",
			Subsystem: "proposals",
			Name:      "dissent_rate_pct",
			Help:      "Distribution of dissent rate percentage across sealed rounds.",
			Buckets:   []float64{0, 5, 10, 20, 30, 40, 50, 75, 100},
		}),

		BroadcastSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governance_ops",
			Subsystem: "broadcast",
			Name:      "subscribers",
			Help:      "Current number of connected broadcast subscribers.",
		}),

		BroadcastResyncsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "governance_ops",
			Subsystem: "broadcast",
			Name:      "resyncs_total",
			Help:      "Total lagging-subscriber resync coalescions.",
		}),

		BroadcastDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "governance_ops",
			Subsystem: "broadcast",
			Name:      "dropped_total",
			Help:      "Total subscribers dropped after a failed resync enqueue.",
		}),

		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "governance_ops",
			Subsystem: "tick",
			Name:      "total",
			Help:      "Total governance ticks completed.",
		}),

		UptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "governance_ops",
			Subsystem: "process",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the process started.",
		}),
	}

	reg.MustRegister(
		m.LedgerEventsTotal,
		m.LedgerTotalSeq,
		m.MembersAlive,
		m.MembersDiedTotal,
		m.GraveyardTombstones,
		m.ProposalsOpenedTotal,
		m.ProposalsSealedTotal,
		m.VotesCastTotal,
		m.DissentRate,
		m.BroadcastSubscribers,
		m.BroadcastResyncsTotal,
		m.BroadcastDroppedTotal,
		m.TicksTotal,
		m.UptimeSeconds,
		// Standard Go runtime metrics.
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given
// address. Blocks until ctx is cancelled or the server fails. Binds to
// addr (e.g. "127.0.0.1:9091") and serves GET /metrics and GET /healthz.
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

	// Start uptime updater goroutine.
	go m.updateUptime(ctx)

	// Shutdown on context cancellation.
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
