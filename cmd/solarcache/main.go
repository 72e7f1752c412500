package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/solar-grid-cache/internal/api"
	"github.com/mohammed-shakir/solar-grid-cache/internal/cleanup"
	"github.com/mohammed-shakir/solar-grid-cache/internal/core/config"
	"github.com/mohammed-shakir/solar-grid-cache/internal/core/health"
	"github.com/mohammed-shakir/solar-grid-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/solar-grid-cache/internal/core/observability"
	"github.com/mohammed-shakir/solar-grid-cache/internal/core/server"
	"github.com/mohammed-shakir/solar-grid-cache/internal/events"
	"github.com/mohammed-shakir/solar-grid-cache/internal/hotspots"
	"github.com/mohammed-shakir/solar-grid-cache/internal/invalidation"
	"github.com/mohammed-shakir/solar-grid-cache/internal/jobs"
	"github.com/mohammed-shakir/solar-grid-cache/internal/logger"
	"github.com/mohammed-shakir/solar-grid-cache/internal/metrics"
	"github.com/mohammed-shakir/solar-grid-cache/internal/orchestrator"
	"github.com/mohammed-shakir/solar-grid-cache/internal/popularity"
	"github.com/mohammed-shakir/solar-grid-cache/internal/prefetch"
	"github.com/mohammed-shakir/solar-grid-cache/internal/provider"
	"github.com/mohammed-shakir/solar-grid-cache/internal/provider/nasapower"
	"github.com/mohammed-shakir/solar-grid-cache/internal/provider/pvgis"
	"github.com/mohammed-shakir/solar-grid-cache/internal/provider/synthetic"
	"github.com/mohammed-shakir/solar-grid-cache/internal/store"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "solarcache",
		Component: "main",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version, os.Getenv("BUILD_REVISION"), os.Getenv("BUILD_BRANCH"), os.Getenv("BUILD_DATE"))
	appLog.Info("starting solarcache",
		"addr", cfg.Addr,
		"version", Version,
		"store", cfg.StoreDriver,
		"h3_res", cfg.H3Res)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsEnabled {
		mp := metrics.New(metrics.Config{Addr: cfg.MetricsAddr, Path: cfg.MetricsPath}, appLog)
		go func() {
			if err := mp.Serve(ctx); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	rawStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		appLog.Error("record store setup failed", "driver", cfg.StoreDriver, "err", err)
		return 1
	}
	defer closeStore()
	st := store.WithTimeout(rawStore, cfg.StoreOpTimeout)

	// no client timeout: the chain sets each provider's deadline
	hc := httpclient.NewOutbound(0)
	chain := provider.NewChain(appLog,
		pvgis.New(cfg.PVGISURL, hc),
		nasapower.New(cfg.NASAPowerURL, hc),
		synthetic.New(),
	).WithTimeout(cfg.ProviderTimeout, cfg.ProviderTimeoutOvr)

	tracker := popularity.NewTracker(st, popularity.Config{
		HotLocationThreshold: cfg.Popularity.HotThreshold,
		PreFetchThreshold:    cfg.Popularity.PreFetchThreshold,
		AccessCountWeight:    cfg.Popularity.AccessCountWeight,
		RecencyWeight:        cfg.Popularity.RecencyWeight,
		LocationTypeWeight:   cfg.Popularity.LocationTypeWeight,
	}, appLog)
	if err := tracker.Config().Validate(); err != nil {
		appLog.Error("invalid popularity config", "err", err)
		return 1
	}

	dc := popularity.DefaultDecayConfig()
	dc.DecayPerDay = cfg.Popularity.DecayPerDay
	dc.MinScore = cfg.Popularity.DecayMinScore
	decay := popularity.NewDecayEngine(st, dc, appLog)

	registry := hotspots.New(st, tracker, appLog)

	pc := prefetch.DefaultConfig()
	pc.RPS = cfg.Jobs.PrefetchRPS
	pc.RecentWindow = cfg.Jobs.PrefetchRecentWindow
	pc.ExpiringWithinDays = cfg.Jobs.PrefetchExpiringDays
	scheduler := prefetch.New(registry, st, chain, pc, appLog)

	cc := cleanup.DefaultConfig()
	cc.PruneBelowScore = cfg.Jobs.PruneBelowScore
	cc.PruneIdleDays = cfg.Jobs.PruneIdleDays
	cleaner := cleanup.New(st, cc, appLog)

	opts := orchestrator.Options{TTLDays: cfg.CacheTTLDays, H3Res: cfg.H3Res}
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(cfg.Kafka.BrokerList(), cfg.Events.Topic, cfg.Kafka.ClientID, 0, appLog)
		if err != nil {
			appLog.Error("access event publisher setup failed", "err", err)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("access event publisher close", "err", err)
			}
		}()
		opts.Events = pub
	}
	orch := orchestrator.New(st, tracker, chain, opts, appLog)

	prefetchJob := jobs.New("prefetch", cfg.Jobs.PrefetchInterval, scheduler.Run, appLog)
	decayJob := jobs.New("decay", cfg.Jobs.DecayInterval, decay.ManualPass, appLog)
	cleanupJob := jobs.New("cleanup", cfg.Jobs.CleanupInterval, cleaner.Run, appLog)
	// de-dup only runs on demand
	dedupeJob := jobs.New("dedupe", 0, cleaner.Dedupe, appLog)

	if cfg.Jobs.Enabled {
		cleanupJob.Start(ctx)
		decayJob.Start(ctx)
		prefetchJob.Start(ctx)
	}
	defer func() {
		prefetchJob.Stop()
		decayJob.Stop()
		cleanupJob.Stop()
	}()

	checks := []health.Check{}
	if p, ok := st.(store.Pinger); ok {
		checks = append(checks, health.PingCheck("store", p))
	}

	if cfg.Invalidation.Enabled && cfg.Invalidation.Driver == "kafka" {
		ic := invalidation.DefaultConfig()
		ic.Brokers = cfg.Kafka.BrokerList()
		ic.Topic = cfg.Invalidation.Topic
		ic.GroupID = cfg.Invalidation.GroupID
		ic.DedupeSize = cfg.Invalidation.DedupeSize
		runner := invalidation.New(ic, st, appLog)
		if err := runner.Start(ctx); err != nil {
			appLog.Error("invalidation runner setup failed", "err", err)
			return 1
		}
		defer runner.Stop()
		checks = append(checks, health.ConsumerCheck("invalidation", runner))
	}

	handler := api.New(api.Deps{
		Lookup:    orch,
		Tuning:    tracker,
		Hot:       registry,
		Refresher: scheduler,
		Prefetch:  prefetchJob,
		Decay:     decayJob,
		Cleanup:   cleanupJob,
		Dedupe:    dedupeJob,
		Log:       appLog,
	})

	if err := server.Run(ctx, cfg, appLog, server.NewRouter(appLog, handler, checks...)); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
