// Package bootstrap builds the infrastructure shared by the server and the
// worker from configuration: logging, storage, Redis and the code runners.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codekids/codekids-hub/config"
	"github.com/codekids/codekids-hub/internal/application/eventhandler"
	"github.com/codekids/codekids-hub/internal/domain/achievement"
	"github.com/codekids/codekids-hub/internal/domain/course"
	"github.com/codekids/codekids-hub/internal/domain/dependency"
	"github.com/codekids/codekids-hub/internal/domain/execution"
	"github.com/codekids/codekids-hub/internal/domain/progress"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/internal/domain/user"
	"github.com/codekids/codekids-hub/internal/infrastructure/executor"
	"github.com/codekids/codekids-hub/internal/infrastructure/persistence/memory"
	"github.com/codekids/codekids-hub/internal/infrastructure/persistence/postgres"
	"github.com/codekids/codekids-hub/internal/infrastructure/persistence/redis"
	"github.com/codekids/codekids-hub/pkg/logger"
	"github.com/codekids/codekids-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.Level)
	if cfg.Observability.Format == string(logger.FormatConsole) {
		opts.Format = logger.FormatConsole
	}
	return logger.New(opts).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
	)
}

// ══════════════════════════════════════════════════════════════════════════════
// STORAGE
// ══════════════════════════════════════════════════════════════════════════════

// Storage groups the repositories of one backend.
type Storage struct {
	Driver string

	Users        user.Repository
	Courses      course.Repository
	Dependencies dependency.Repository
	Achievements achievement.Repository
	Progress     progress.Repository
	Executions   progress.ExecutionRepository

	conn *postgres.Connection
}

// Ping checks the backend. The memory driver is always up.
func (s *Storage) Ping(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Ping(ctx)
}

// Close releases the connection pool.
func (s *Storage) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

// OpenStorage connects the configured backend and, for postgres, applies
// pending migrations when DB_AUTO_MIGRATE is set.
func OpenStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Storage, error) {
	if cfg.Database.Driver == "memory" {
		log.Warn("using in-memory storage, data is lost on restart")
		s := memory.NewStore()
		return &Storage{
			Driver:       "memory",
			Users:        s.Users(),
			Courses:      s.Courses(),
			Dependencies: s.Dependencies(),
			Achievements: s.Achievements(),
			Progress:     s.Progress(),
			Executions:   s.Executions(),
		}, nil
	}

	// The database container often comes up after the application.
	policy := retry.Startup(func(attempt int, err error, delay time.Duration) {
		log.Warn("database not reachable yet", logger.Int("attempt", attempt), logger.Err(err), logger.Duration("delay", delay))
	})
	conn, err := retry.Value(ctx, policy, func(ctx context.Context) (*postgres.Connection, error) {
		return postgres.NewConnection(ctx, postgresConfig(cfg.Database))
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		log.Info("database schema is up to date")
	}

	return &Storage{
		Driver:       "postgres",
		Users:        postgres.NewUserRepository(conn),
		Courses:      postgres.NewCourseRepository(conn),
		Dependencies: postgres.NewDependencyRepository(conn),
		Achievements: postgres.NewAchievementRepository(conn),
		Progress:     postgres.NewProgressRepository(conn),
		Executions:   postgres.NewExecutionRepository(conn),
		conn:         conn,
	}, nil
}

func postgresConfig(db config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig()
	pc.URL = db.URL
	pc.MaxConns = db.MaxConns
	pc.MinConns = db.MinConns
	pc.MaxConnLifetime = db.ConnMaxLifetime
	pc.MaxConnIdleTime = db.ConnMaxIdleTime
	return pc
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS
// ══════════════════════════════════════════════════════════════════════════════

// ErrRedisDisabled is returned by ConnectRedis when REDIS_DISABLED is set.
var ErrRedisDisabled = errors.New("redis is disabled")

// ConnectRedis connects the cache. Callers decide whether running without it
// is acceptable.
func ConnectRedis(ctx context.Context, cfg *config.Config) (*redis.Cache, error) {
	if cfg.Redis.Disabled {
		return nil, ErrRedisDisabled
	}
	return redis.NewCache(ctx, redisConfig(cfg.Redis))
}

func redisConfig(rc config.RedisConfig) redis.Config {
	c := redis.DefaultConfig()
	c.Host = rc.Host
	c.Port = rc.Port
	c.Password = rc.Password
	c.DB = rc.DB
	c.PoolSize = rc.PoolSize
	c.MinIdleConns = rc.MinIdleConns
	c.DialTimeout = rc.DialTimeout
	c.ReadTimeout = rc.ReadTimeout
	c.WriteTimeout = rc.WriteTimeout
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// CODE EXECUTION
// ══════════════════════════════════════════════════════════════════════════════

// unavailableRunner stands in for a language whose runners are all switched off.
type unavailableRunner struct{}

func (unavailableRunner) Execute(context.Context, shared.CodingLanguage, string) (*execution.Result, error) {
	return nil, shared.ErrExecutorUnavailable
}

// NewRunner assembles the executor dispatcher. Python goes to the remote
// runner when that feature is on, with the local interpreter as fallback
// while its circuit is open. cache and observer may be nil.
func NewRunner(cfg *config.Config, cache *redis.Cache, observer executor.Observer, log *logger.Logger) *executor.Dispatcher {
	flags := cfg.Features()
	ec := executor.DefaultConfig()
	ec.Timeout = cfg.Executor.Timeout
	ec.MaxOutputBytes = cfg.Executor.MaxOutputBytes
	ec.PythonPath = cfg.Executor.PythonPath

	opts := []executor.DispatcherOption{executor.WithLogger(log)}
	if observer != nil {
		opts = append(opts, executor.WithObserver(observer))
	}

	var python execution.Runner
	if flags.IsEnabled(config.FeaturePythonExecution, nil) {
		python = executor.NewPythonRunner(ec)
	}
	if flags.IsEnabled(config.FeatureRemoteExecution, nil) {
		remote := executor.DefaultRemoteConfig(cfg.Executor.RemoteURL)
		remote.RequestsPerSecond = cfg.Executor.RemoteRateLimit
		remote.Burst = cfg.Executor.RemoteBurst
		remote.Fallback = python
		remote.Logger = log
		python = executor.NewRemoteRunner(ec, remote)
	}
	if python == nil {
		log.Warn("no python runner enabled, python lessons cannot be graded")
		python = unavailableRunner{}
	}
	opts = append(opts, executor.WithRunner(shared.LanguagePython, python))

	if cache != nil && flags.IsEnabled(config.FeatureExecutionCache, nil) {
		opts = append(opts, executor.WithCache(redis.NewExecutionCache(cache, cfg.Executor.CacheTTL)))
	}
	return executor.NewDispatcher(ec, opts...)
}

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ══════════════════════════════════════════════════════════════════════════════

// NotifyAudience evaluates FeatureAchievementNotify for each learner. A
// learner without a profile is treated as a student.
func NotifyAudience(flags *config.FeatureFlags, users user.Repository) eventhandler.Audience {
	return func(ctx context.Context, userID string) bool {
		fc := &config.FeatureContext{UserID: userID, Role: string(user.RoleStudent)}
		if u, err := users.GetByID(ctx, userID); err == nil {
			fc.Role = string(u.Role)
			fc.IsAdmin = u.Role == user.RoleAdmin
		}
		return flags.IsEnabled(config.FeatureAchievementNotify, fc)
	}
}
