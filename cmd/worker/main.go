// Package main is the entry point of the CodeKids background worker.
//
// The worker runs periodic jobs:
//   - refresh the cached leaderboard snapshot from the points table
//   - audit the prerequisite graph for cycles
//
// Runs are made exclusive across worker instances with a Redis lock, so any
// number of workers can be deployed. The worker serves /metrics, /health and
// /ready on its own address.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codekids/codekids-hub/config"
	"github.com/codekids/codekids-hub/internal/application/progression"
	"github.com/codekids/codekids-hub/internal/bootstrap"
	"github.com/codekids/codekids-hub/internal/infrastructure/metrics"
	"github.com/codekids/codekids-hub/internal/infrastructure/persistence/redis"
	"github.com/codekids/codekids-hub/internal/infrastructure/scheduler"
	"github.com/codekids/codekids-hub/internal/infrastructure/scheduler/jobs"
	"github.com/codekids/codekids-hub/internal/interface/http/handlers"
	"github.com/codekids/codekids-hub/pkg/logger"
	"github.com/codekids/codekids-hub/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION & LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	flags := cfg.Features()

	log := bootstrap.NewLogger(cfg).With(logger.Component("worker"))
	defer func() { _ = log.Sync() }()
	log.Info("starting CodeKids worker", logger.String("timezone", cfg.App.Location().String()))

	timeutil.SetLocation(cfg.App.Location())

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE & REDIS
	// ─────────────────────────────────────────────────────────────────────────
	store, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	cache, err := bootstrap.ConnectRedis(ctx, cfg)
	switch {
	case errors.Is(err, bootstrap.ErrRedisDisabled):
		log.Warn("redis disabled, jobs are not locked across instances")
	case err != nil && cfg.IsProduction():
		return fmt.Errorf("failed to connect to redis: %w", err)
	case err != nil:
		log.Warn("failed to connect to redis, jobs are not locked across instances", logger.Err(err))
	default:
		defer func() { _ = cache.Close() }()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	m := metrics.New()

	schedCfg := scheduler.Config{
		Logger:   log,
		Location: cfg.App.Location(),
		OnResult: func(res scheduler.Result) { m.ObserveJob(res.Job, res.OK(), res.Duration) },
	}
	if cache != nil {
		// The lock outlives the longest job.
		schedCfg.Locker = redis.NewLocker(cache, cfg.Scheduler.JobTimeout+time.Minute)
	}
	sched, err := scheduler.New(schedCfg)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if err := registerJobs(sched, cfg, flags, store, cache, log); err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. METRICS & HEALTH ENDPOINT
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("database", store.Ping, true)
	if cache != nil {
		health.AddCheck("redis", handlers.PingCheck(cache), false)
	}

	r := chi.NewRouter()
	r.Handle("/metrics", m.Handler())
	r.Get("/health", handlers.HealthHandler(health))
	r.Get("/ready", handlers.HealthHandler(health))
	opsServer := &http.Server{
		Addr:              cfg.Scheduler.MetricsAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", logger.Err(err))
		}
	}()

	sched.Start()
	log.Info("CodeKids worker is running",
		logger.Any("jobs", sched.Names()),
		logger.String("metrics_addr", cfg.Scheduler.MetricsAddr),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	<-ctx.Done()
	log.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := sched.Stop(); err != nil {
		log.Error("scheduler shutdown failed", logger.Err(err))
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", logger.Err(err))
	}

	log.Info("shutdown completed")
	return nil
}

// registerJobs wires the periodic jobs. The leaderboard job only makes sense
// with the Redis snapshot to refresh.
func registerJobs(
	sched *scheduler.Scheduler,
	cfg *config.Config,
	flags *config.FeatureFlags,
	store *bootstrap.Storage,
	cache *redis.Cache,
	log *logger.Logger,
) error {
	if cache != nil && flags.IsEnabled(config.FeatureLeaderboardCache, nil) {
		engine := progression.NewAchievementEngine(store.Achievements, store.Progress, progression.EngineConfig{
			Logger:           log,
			LeaderboardCache: redis.NewLeaderboardCache(cache),
		})
		job := jobs.NewRebuildLeaderboardJob(engine, log, jobs.RebuildLeaderboardConfig{
			Rows:    cfg.Scheduler.LeaderboardRows,
			Timeout: cfg.Scheduler.JobTimeout,
		})
		if err := sched.Add(job, scheduler.Every(cfg.Scheduler.LeaderboardInterval)); err != nil {
			return fmt.Errorf("register %s: %w", job.Name(), err)
		}
	}

	if flags.IsEnabled(config.FeatureGraphAudit, nil) {
		job := jobs.NewAuditGraphJob(store.Dependencies, log)
		if err := sched.Add(job, scheduler.Cron(cfg.Scheduler.GraphAuditCron)); err != nil {
			return fmt.Errorf("register %s: %w", job.Name(), err)
		}
	}
	return nil
}
