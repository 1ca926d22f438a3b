// Package main — cmd/governanced/main.go
//
// governanced entrypoint: the governance operations console process.
//
// Startup sequence:
//  1. Load and validate config from governance.yaml (or defaults).
//  2. Initialise structured logger (zap, configurable level/format).
//  3. Open the ledger (verifies the causal hash chain).
//  4. Open the graveyard (re-indexes sealed tombstones).
//  5. Construct the member pool, engine, broadcast hub, and proposal
//     engine — the two-phase wiring engine.New's doc comment describes.
//  6. Wire observability hooks onto the ledger, member pool, proposal
//     engine, broadcast hub, and tick driver.
//  7. Start the Prometheus metrics server (loopback only).
//  8. Start the tick driver's goroutine.
//  9. Start the public HTTP/WebSocket server.
// 10. Register SIGHUP handler for config hot-reload.
// 11. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (stops the tick driver and metrics server).
//  2. Shut down the HTTP server with a bounded drain timeout.
//  3. Flush the logger.
//  4. Exit 0.
//
// On ledger/graveyard tamper detection, or config validation failure on
// startup: exit 1 immediately — this process never serves traffic
// against state it cannot trust.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/govops/console/internal/admin"
	"github.com/govops/console/internal/broadcast"
	"github.com/govops/console/internal/config"
	"github.com/govops/console/internal/engine"
	"github.com/govops/console/internal/graveyard"
	"github.com/govops/console/internal/ledger"
	"github.com/govops/console/internal/members"
	"github.com/govops/console/internal/observability"
	"github.com/govops/console/internal/proposals"
	"github.com/govops/console/internal/tick"
	"github.com/govops/console/internal/transport"
)

func main() {
	// ── Flags ─────────────────────────────────────────────────────────────────
	configPath := flag.String("config", "governance.yaml", "Path to governance.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("governanced %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 1: Load config ───────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 2: Initialise logger ─────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("governanced starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 3: Open the ledger ───────────────────────────────────────────────
	ledgerPath := filepath.Join(cfg.Storage.DataDir, "ledger.json")
	ldg, err := ledger.Open(ledgerPath, log)
	if err != nil {
		log.Fatal("ledger open failed — refusing to serve against untrusted state",
			zap.Error(err), zap.String("path", ledgerPath))
	}
	log.Info("ledger opened", zap.String("path", ledgerPath), zap.Int64("events", ldg.Total()))

	// ── Step 4: Open the graveyard ────────────────────────────────────────────
	graveyardDir := filepath.Join(cfg.Storage.DataDir, "graveyard")
	gy, err := graveyard.Open(graveyardDir, log)
	if err != nil {
		log.Fatal("graveyard open failed", zap.Error(err), zap.String("dir", graveyardDir))
	}
	stats, err := gy.Stats()
	if err != nil {
		log.Fatal("graveyard stats failed", zap.Error(err))
	}
	log.Info("graveyard opened", zap.String("dir", graveyardDir), zap.Int("tombstones", stats.Count))

	// ── Step 5: Wire the engine (two-phase construction) ──────────────────────
	memberPool := members.New(gy, ldg, cfg.Member.FatalDamage, log)

	eng := engine.New(log, ldg, gy, memberPool)
	eng.Broadcast = broadcast.New(cfg.Broadcast.QueueCapacity, eng.Snapshot, log)
	memberPool.SetBroadcaster(eng.Broadcast)
	eng.Proposals = proposals.New(ldg, memberPool, eng.Broadcast, proposals.Config{
		VoteEnergyCost:  cfg.Proposal.VoteEnergyCost,
		ConsensusCutoff: cfg.Proposal.ConsensusCutoff,
		ScarDamage: proposals.ScarDamage{
			Low:    cfg.Proposal.ScarDamage.Low,
			Medium: cfg.Proposal.ScarDamage.Medium,
			High:   cfg.Proposal.ScarDamage.High,
		},
	}, log)

	tickDriver := tick.New(eng.Proposals, memberPool, tick.Config{
		Period:         cfg.Tick.Period,
		AutoMode:       cfg.Tick.AutoMode,
		FatalDamage:    cfg.Member.FatalDamage,
		TickEnergyCost: cfg.Member.TickEnergyCost,
	}, time.Now().UnixNano(), log)

	// ── Step 6: Observability hooks ────────────────────────────────────────────
	metrics := observability.NewMetrics()
	ldg.OnAppend(func(kind string) {
		metrics.LedgerEventsTotal.WithLabelValues(kind).Inc()
		metrics.LedgerTotalSeq.Set(float64(ldg.Total()))
	})
	memberPool.OnDeath(func(cause string) {
		metrics.MembersDiedTotal.WithLabelValues(cause).Inc()
	})
	eng.Proposals.OnOpened(func(risk string) {
		metrics.ProposalsOpenedTotal.WithLabelValues(risk).Inc()
	})
	eng.Proposals.OnVote(func(choice proposals.Choice) {
		metrics.VotesCastTotal.WithLabelValues(string(choice)).Inc()
	})
	eng.Proposals.OnSealed(func(rm proposals.RoundMetrics) {
		eng.RecordRoundMetrics(rm)
		metrics.ProposalsSealedTotal.WithLabelValues(string(rm.Outcome)).Inc()
		metrics.DissentRate.Observe(rm.DissentRatePct)
	})
	eng.Broadcast.OnResync(func() { metrics.BroadcastResyncsTotal.Inc() })
	eng.Broadcast.OnDrop(func() { metrics.BroadcastDroppedTotal.Inc() })
	tickDriver.OnTick(func() { metrics.TicksTotal.Inc() })
	go pollGauges(ctx, metrics, memberPool, gy, eng.Broadcast, log)

	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Step 8: Tick driver ────────────────────────────────────────────────────
	go tickDriver.Run(ctx)
	log.Info("tick driver started", zap.Duration("period", cfg.Tick.Period), zap.Bool("auto_mode", cfg.Tick.AutoMode))

	// ── Step 9: Public HTTP/WebSocket server ──────────────────────────────────
	gate := admin.NewGate(cfg.Server.AdminKey)
	ingress := admin.NewIngress(gate, eng.Proposals, eng.Proposals, memberPool, log)
	_, mux := transport.NewServer(eng, ingress, cfg.Proposal.DefaultVotingWindow, cfg.Server.StaticDir, log)

	httpSrv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // the WS handler streams indefinitely
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info("http server started", zap.String("addr", cfg.Server.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", zap.Error(err))
		}
	}()

	// ── Step 10: SIGHUP hot-reload ────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			// Only non-destructive fields are safe to apply live — the
			// listen address, data directory, and tick period require a
			// restart per the hot-reload contract.
			eng.Proposals.SetConfig(proposals.Config{
				VoteEnergyCost:  newCfg.Proposal.VoteEnergyCost,
				ConsensusCutoff: newCfg.Proposal.ConsensusCutoff,
				ScarDamage: proposals.ScarDamage{
					Low:    newCfg.Proposal.ScarDamage.Low,
					Medium: newCfg.Proposal.ScarDamage.Medium,
					High:   newCfg.Proposal.ScarDamage.High,
				},
			})
			memberPool.SetFatalDamage(newCfg.Member.FatalDamage)
			tickDriver.SetTuning(newCfg.Tick.AutoMode, newCfg.Member.TickEnergyCost)
			log.Info("config hot-reload successful",
				zap.Int("vote_energy_cost", newCfg.Proposal.VoteEnergyCost),
				zap.Float64("consensus_cutoff", newCfg.Proposal.ConsensusCutoff),
				zap.Int("fatal_damage", newCfg.Member.FatalDamage),
				zap.Bool("auto_mode", newCfg.Tick.AutoMode))
		}
	}()

	// ── Step 11: Wait for shutdown signal ─────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}

	log.Info("governanced shutdown complete")
}

// pollGauges periodically refreshes the gauges that have no natural
// event hook (alive count, tombstone count, subscriber count) every 5
// seconds.
func pollGauges(ctx context.Context, m *observability.Metrics, mp *members.Pool, gy *graveyard.Store, hub *broadcast.Hub, log *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.MembersAlive.Set(float64(mp.AliveCount()))
			m.BroadcastSubscribers.Set(float64(hub.SubscriberCount()))
			if stats, err := gy.Stats(); err != nil {
				log.Warn("graveyard stats poll failed", zap.Error(err))
			} else {
				m.GraveyardTombstones.Set(float64(stats.Count))
			}
		}
	}
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
