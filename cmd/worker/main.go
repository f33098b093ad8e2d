// Package main is the ingest worker's process entrypoint: it binds the
// health/scheduler HTTP surface, verifies database connectivity, then runs
// the dispatcher loop until a shutdown signal arrives (§6 process lifecycle).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/northfield/commerce-ingest/internal/adapter/adsclient"
	"github.com/northfield/commerce-ingest/internal/adapter/commerceclient"
	"github.com/northfield/commerce-ingest/internal/adapter/httpserver"
	"github.com/northfield/commerce-ingest/internal/adapter/observability"
	"github.com/northfield/commerce-ingest/internal/adapter/repo/postgres"
	"github.com/northfield/commerce-ingest/internal/config"
	"github.com/northfield/commerce-ingest/internal/dispatcher"
	"github.com/northfield/commerce-ingest/internal/domain"
	"github.com/northfield/commerce-ingest/internal/jobhandler"
	"github.com/northfield/commerce-ingest/internal/scheduler"
	"github.com/northfield/commerce-ingest/internal/service/ratelimiter"
	"github.com/northfield/commerce-ingest/internal/service/throttle"
	"github.com/northfield/commerce-ingest/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting ingest worker", slog.String("env", cfg.AppEnv))

	// The health/scheduler mux is fully built (all routes registered) before
	// the server starts listening, then bound before the database is
	// verified (§4.9): readiness flips on only after that first select now().
	healthState := httpserver.NewHealthState()
	healthMux := chi.NewRouter()
	healthMux.Use(httpserver.RequestID(), httpserver.Recoverer(), httpserver.SecurityHeaders, httpserver.AccessLog())
	healthMux.Get("/", httpserver.HealthHandler(healthState))
	healthMux.Get("/health", httpserver.HealthHandler(healthState))
	healthMux.Handle("/metrics", promhttp.Handler())

	pool, err := postgres.NewPool(context.Background(), cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", slog.Any("error", err))
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
	}

	integrations := postgres.NewIntegrationRepo(pool)
	cursors := postgres.NewCursorRepo(pool)
	runs := postgres.NewSyncRunRepo(pool)
	warehouse := postgres.NewWarehouse(pool)

	commerceThrottle := throttle.NewController(rdb, cfg.CommerceThrottleBufferRatio, time.Duration(cfg.CommerceThrottleSafetyMS)*time.Millisecond)
	commerceCli := commerceclient.NewClient(cfg.CommerceAPIVersion, cfg.CommerceRequestTimeout, commerceThrottle)

	adsLimiter := ratelimiter.NewRedisLuaLimiter(rdb, pool, nil)
	adsBackoff := adsclient.BackoffConfig{
		Base:        cfg.AdsBackoffBase,
		Factor:      cfg.AdsBackoffFactor,
		MaxDelay:    cfg.AdsBackoffMaxDelay,
		JitterMax:   time.Duration(cfg.AdsBackoffJitterMaxMS) * time.Millisecond,
		MaxAttempts: cfg.AdsBackoffMaxAttempts,
	}
	adsCli := adsclient.NewClient(cfg.AdsRequestTimeout, adsLimiter, cfg.AdsRateLimitPerMinute, adsBackoff)

	commerceDeps := jobhandler.CommerceDeps{
		Integrations:   integrations,
		Cursors:        cursors,
		Warehouse:      warehouse,
		Client:         commerceCli,
		WindowFillDays: cfg.CommerceWindowFillDays,
	}
	adsDeps := jobhandler.AdsDeps{
		Integrations:          integrations,
		Warehouse:             warehouse,
		Client:                adsCli,
		AttributionWindowDays: cfg.AdsAttributionWindowDays,
	}

	registry := dispatcher.NewRegistry(
		jobhandler.CommerceFresh{CommerceDeps: commerceDeps},
		jobhandler.CommerceWindowFill{CommerceDeps: commerceDeps},
		jobhandler.AdsFresh{AdsDeps: adsDeps},
		jobhandler.AdsWindowFill{AdsDeps: adsDeps},
	)

	disp := &dispatcher.Dispatcher{
		Runs:         runs,
		Integrations: integrations,
		Registry:     registry,
		PollInterval: cfg.PollInterval(),
	}

	sched := &scheduler.Scheduler{Integrations: integrations, Runs: runs}
	mountSchedulerEndpoints(healthMux, sched, cfg)

	go func() {
		addr := ":" + strconv.Itoa(cfg.HealthPort)
		if err := http.ListenAndServe(addr, healthMux); err != nil {
			slog.Error("health server error", slog.Any("error", err))
		}
	}()

	ctx := context.Background()
	if _, err := pool.Exec(ctx, "select now()"); err != nil {
		slog.Error("database verification failed", slog.Any("error", err))
		os.Exit(1)
	}
	healthState.MarkReady()
	slog.Info("database verified")

	abandonedSweeper := sweeper.New(runs, cfg.AbandonedRunMaxAge, cfg.SweepInterval)
	go abandonedSweeper.Run(ctx)

	dispCtx, cancelDisp := context.WithCancel(ctx)
	go disp.Run(dispCtx)

	slog.Info("ingest worker started, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))

	// Cancel the dispatch loop. The same context is passed to the in-flight
	// handler, so its outstanding HTTP calls and database statements are
	// cancelled as well; main returns without waiting for that run to finish.
	cancelDisp()
	slog.Info("ingest worker stopped")
}

// mountSchedulerEndpoints wires the two §4.2 scheduler routes: one per
// source type, each gated by its own fresh-sched interval and, for ads,
// the ADS_JOBS_ENABLED flag. The group sits behind a per-IP rate limit
// since the endpoint is open (no auth) whenever CRON_SECRET is unset.
func mountSchedulerEndpoints(mux chi.Router, sched *scheduler.Scheduler, cfg config.Config) {
	mux.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.SchedulerRateLimitPerMin, time.Minute))
		r.Handle("/scheduler/commerce-fresh", httpserver.SchedulerEndpoint(
			sched, domain.IntegrationCommerce, cfg.FreshSchedMinutesCommerce, cfg.CronSecret, true))
		r.Handle("/scheduler/ads-fresh", httpserver.SchedulerEndpoint(
			sched, domain.IntegrationAds, cfg.FreshSchedMinutesAds, cfg.CronSecret, cfg.AdsJobsEnabled))
	})
}
