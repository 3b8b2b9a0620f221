// Package main is the entry point of the CodeKids API server.
//
// The server exposes the progression engine over HTTP: lessons, courses,
// dependency checks, submissions, achievements and the authoring endpoints.
// When Redis is available it also hosts the websocket lesson rooms and
// pushes achievement and level-up news to connected learners.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codekids/codekids-hub/config"
	"github.com/codekids/codekids-hub/internal/application/command"
	"github.com/codekids/codekids-hub/internal/application/eventhandler"
	"github.com/codekids/codekids-hub/internal/application/progression"
	"github.com/codekids/codekids-hub/internal/application/query"
	"github.com/codekids/codekids-hub/internal/bootstrap"
	"github.com/codekids/codekids-hub/internal/infrastructure/messaging"
	"github.com/codekids/codekids-hub/internal/infrastructure/metrics"
	"github.com/codekids/codekids-hub/internal/infrastructure/persistence/redis"
	httpapi "github.com/codekids/codekids-hub/internal/interface/http"
	"github.com/codekids/codekids-hub/internal/interface/http/handlers"
	"github.com/codekids/codekids-hub/internal/interface/realtime"
	"github.com/codekids/codekids-hub/pkg/logger"
	"github.com/codekids/codekids-hub/pkg/retry"
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

	log := bootstrap.NewLogger(cfg).With(logger.Component("server"))
	defer func() { _ = log.Sync() }()
	log.Info("starting CodeKids API server",
		logger.String("timezone", cfg.App.Location().String()),
		logger.String("storage", cfg.Database.Driver),
	)

	timeutil.SetLocation(cfg.App.Location())

	// ─────────────────────────────────────────────────────────────────────────
	// 2. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	store, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing storage")
		store.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. REDIS (optional outside production)
	// ─────────────────────────────────────────────────────────────────────────
	cache, err := bootstrap.ConnectRedis(ctx, cfg)
	switch {
	case errors.Is(err, bootstrap.ErrRedisDisabled):
		log.Warn("redis disabled, realtime rooms and caches are off")
	case err != nil && cfg.IsProduction():
		return fmt.Errorf("failed to connect to redis: %w", err)
	case err != nil:
		log.Warn("failed to connect to redis, realtime rooms and caches are off", logger.Err(err))
	default:
		defer func() { _ = cache.Close() }()
		log.Info("redis connection established")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. METRICS & EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	m := metrics.New()

	busCfg := messaging.DefaultConfig()
	busCfg.Logger = log
	busCfg.Observer = m
	bus := messaging.NewBus(busCfg)
	bus.Use(
		messaging.RecoveryMiddleware(log),
		messaging.RetryMiddleware(retry.Policy{
			Attempts: 3,
			Base:     100 * time.Millisecond,
			Cap:      time.Second,
		}),
	)
	defer func() {
		log.Info("closing event bus")
		_ = bus.Close()
	}()

	var roomBus *redis.RoomBus
	if cache != nil {
		roomBus = redis.NewRoomBus(cache)
	}
	if roomBus != nil {
		audience := bootstrap.NotifyAudience(flags, store.Users)
		if err := eventhandler.Register(bus, roomBus, audience, log); err != nil {
			return fmt.Errorf("failed to register event handlers: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. PROGRESSION ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	runner := bootstrap.NewRunner(cfg, cache, m, log)

	engineCfg := progression.EngineConfig{Publisher: bus, Logger: log}
	if cache != nil && flags.IsEnabled(config.FeatureLeaderboardCache, nil) {
		engineCfg.LeaderboardCache = redis.NewLeaderboardCache(cache)
	}

	resolver := progression.NewResolver(store.Dependencies, store.Progress, store.Achievements)
	navigator := progression.NewNavigator(store.Courses, resolver)
	catalog := progression.NewCatalog(store.Courses, store.Users, resolver, navigator)
	engine := progression.NewAchievementEngine(store.Achievements, store.Progress, engineCfg)
	tracker := progression.NewTracker(
		store.Courses, store.Progress, store.Executions,
		resolver, navigator, engine, runner,
		progression.TrackerConfig{Publisher: bus, Logger: log},
	)
	saveCode := command.NewSaveCodeHandler(tracker)

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HEALTH & REALTIME
	// ─────────────────────────────────────────────────────────────────────────
	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	health.AddCheck("database", store.Ping, true)
	if cache != nil {
		health.AddCheck("redis", handlers.PingCheck(cache), false)
	}

	var rooms *realtime.Handler
	if roomBus != nil && flags.IsEnabled(config.FeatureRealtime, nil) {
		opts := []realtime.Option{realtime.WithMetrics(m), realtime.WithLogger(log)}
		if flags.IsEnabled(config.FeatureRealtimePresence, nil) {
			opts = append(opts, realtime.WithPresence(redis.NewPresence(cache, cfg.Realtime.PresenceTTL)))
		}
		rooms = realtime.NewHandler(realtime.Config{
			HeartbeatInterval: cfg.Realtime.HeartbeatInterval,
			MaxMessageBytes:   cfg.Realtime.MaxMessageBytes,
			AllowedOrigins:    cfg.HTTP.AllowedOrigins,
		}, realtime.NewRedisRooms(roomBus, log), saveCode, opts...)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	srvCfg := httpapi.DefaultConfig()
	srvCfg.Addr = cfg.HTTP.Addr
	srvCfg.ReadTimeout = cfg.HTTP.ReadTimeout
	srvCfg.WriteTimeout = cfg.HTTP.WriteTimeout
	srvCfg.IdleTimeout = cfg.HTTP.IdleTimeout
	srvCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
	srvCfg.RateLimit = cfg.HTTP.RateLimit
	srvCfg.RateLimitBurst = cfg.HTTP.RateLimitBurst

	deps := httpapi.Dependencies{
		Logger:        log,
		Metrics:       m,
		HealthChecker: health,

		LessonView:   query.NewLessonViewHandler(store.Courses, resolver, navigator),
		Dependencies: query.NewCheckDependenciesHandler(store.Courses, resolver),
		Navigation:   query.NewNavigationHandler(navigator),
		CourseView:   query.NewCourseViewHandler(store.Courses, resolver, navigator),
		Catalog:      query.NewCatalogHandler(catalog),
		Dashboard:    query.NewDashboardHandler(store.Users, store.Progress, store.Achievements, catalog),
		Achievements: query.NewAchievementsHandler(engine),
		Hint:         query.NewHintHandler(tracker),

		SubmitLesson:      command.NewSubmitLessonHandler(tracker, m),
		SaveCode:          saveCode,
		Unlock:            command.NewUnlockHandler(tracker),
		CheckAchievements: command.NewCheckAchievementsHandler(engine),
		RunCode:           command.NewRunCodeHandler(tracker),
		ValidateSolution:  command.NewValidateSolutionHandler(tracker),
		Authoring:         command.NewAuthoringHandler(store.Courses, store.Dependencies, store.Achievements, bus, log),
	}
	// A typed nil would register the route.
	if rooms != nil {
		deps.Realtime = rooms
	}
	server := httpapi.NewServer(srvCfg, deps)

	log.Info("CodeKids API server is running",
		logger.String("address", cfg.HTTP.Addr),
		logger.Bool("realtime", rooms != nil),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. SERVE UNTIL SIGNALLED
	// ─────────────────────────────────────────────────────────────────────────
	if err := server.Run(ctx, cfg.App.ShutdownTimeout); err != nil {
		return err
	}
	log.Info("shutdown completed")
	return nil
}
