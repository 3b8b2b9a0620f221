package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekids/codekids-hub/config"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/internal/domain/user"
	"github.com/codekids/codekids-hub/pkg/logger"
)

func load(t *testing.T, vars map[string]string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(vars)
	require.NoError(t, err)
	return cfg
}

func TestOpenStorage_Memory(t *testing.T) {
	ctx := context.Background()
	cfg := load(t, map[string]string{"DB_DRIVER": "memory"})

	s, err := OpenStorage(ctx, cfg, logger.Nop())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "memory", s.Driver)
	assert.NoError(t, s.Ping(ctx))

	require.NoError(t, s.Users.Create(ctx, &user.User{ID: "kid", Role: user.RoleStudent, Age: 9}))
	got, err := s.Users.GetByID(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, 9, got.Age)
}

func TestConnectRedis_Disabled(t *testing.T) {
	cfg := load(t, map[string]string{"REDIS_DISABLED": "true"})
	_, err := ConnectRedis(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrRedisDisabled)
}

func TestRedisConfigMapping(t *testing.T) {
	cfg := load(t, map[string]string{"REDIS_HOST": "cache", "REDIS_PORT": "6380", "REDIS_DB": "2"})
	rc := redisConfig(cfg.Redis)
	assert.Equal(t, "cache:6380", rc.Addr())
	assert.Equal(t, 2, rc.DB)
	assert.Equal(t, 3*time.Second, rc.ReadTimeout)
}

func TestPostgresConfigMapping(t *testing.T) {
	cfg := load(t, map[string]string{"DB_URL": "postgres://u:p@db:5432/codekids", "DB_MAX_CONNS": "7"})
	pc := postgresConfig(cfg.Database)
	assert.Equal(t, "postgres://u:p@db:5432/codekids", pc.DSN())
	assert.Equal(t, int32(7), pc.MaxConns)
}

func TestNewRunner_PythonSwitchedOff(t *testing.T) {
	cfg := load(t, map[string]string{"FEATURE_EXECUTOR_PYTHON": "false"})
	runner := NewRunner(cfg, nil, nil, logger.Nop())

	_, err := runner.Execute(context.Background(), shared.LanguagePython, "print(1)")
	assert.ErrorIs(t, err, shared.ErrExecutorUnavailable)

	_, err = runner.Execute(context.Background(), shared.CodingLanguage("cobol"), "DISPLAY 1")
	assert.ErrorIs(t, err, shared.ErrUnsupportedLanguage)
}

func TestNewLogger(t *testing.T) {
	cfg := load(t, map[string]string{"LOG_LEVEL": "debug", "LOG_FORMAT": "console"})
	assert.NotNil(t, NewLogger(cfg))
}

func TestNotifyAudience(t *testing.T) {
	ctx := context.Background()
	cfg := load(t, map[string]string{"DB_DRIVER": "memory"})
	s, err := OpenStorage(ctx, cfg, logger.Nop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Users.Create(ctx, &user.User{ID: "kid", Role: user.RoleStudent, Age: 9}))
	require.NoError(t, s.Users.Create(ctx, &user.User{ID: "mom", Role: user.RoleParent, Age: 40}))
	require.NoError(t, s.Users.Create(ctx, &user.User{ID: "root", Role: user.RoleAdmin, Age: 30}))

	flags := cfg.Features()
	audience := NotifyAudience(flags, s.Users)
	assert.True(t, audience(ctx, "kid"))
	assert.True(t, audience(ctx, "gateway-only"), "no profile counts as a student")
	assert.False(t, audience(ctx, "mom"), "notifications are for students")
	assert.True(t, audience(ctx, "root"))

	flags.SetUserOverride("kid", config.FeatureAchievementNotify, false)
	assert.False(t, audience(ctx, "kid"))

	off := load(t, map[string]string{"DB_DRIVER": "memory", "FEATURE_NOTIFY_ACHIEVEMENTS": "false"})
	assert.False(t, NotifyAudience(off.Features(), s.Users)(ctx, "gateway-only"))
}
