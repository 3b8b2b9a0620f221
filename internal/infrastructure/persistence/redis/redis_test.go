package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekids/codekids-hub/internal/domain/achievement"
	"github.com/codekids/codekids-hub/internal/domain/execution"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "exec:abc", ExecutionKey("abc"))
	assert.Equal(t, "presence:lesson:l1", PresenceKey("l1"))
	assert.Equal(t, "pubsub:lesson:l1", LessonChannel("l1"))
	assert.Equal(t, "pubsub:user:u1", UserChannel("u1"))
	assert.Equal(t, "lock:graph-audit", LockKey("graph-audit"))
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "cache"
	cfg.DB = 3
	opts := cfg.Options()
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, cfg.PoolSize, opts.PoolSize)
}

func TestParticipantIsStale(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := Participant{LastSeenAt: now.Add(-time.Minute)}
	assert.False(t, p.IsStale(now, 90*time.Second))
	assert.True(t, p.IsStale(now, 30*time.Second))
}

func TestDecodeRoomMessage(t *testing.T) {
	msg, err := DecodeRoomMessage(`{"event":"code-update","data":{"code":"x"},"from":"c1","at":"2024-03-01T12:00:00Z"}`)
	require.NoError(t, err)
	assert.Equal(t, "code-update", msg.Event)
	assert.Equal(t, "c1", msg.From)
	assert.JSONEq(t, `{"code":"x"}`, string(msg.Data))

	_, err = DecodeRoomMessage("not json")
	assert.ErrorIs(t, err, ErrCacheSerialization)
}

// ══════════════════════════════════════════════════════════════════════════════
// Integration tests, run when CODEKIDS_TEST_REDIS_ADDR points at a scratch Redis.
// ══════════════════════════════════════════════════════════════════════════════

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("CODEKIDS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CODEKIDS_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheFromClient(client)
}

func TestLeaderboardCache_Integration(t *testing.T) {
	ctx := context.Background()
	lb := NewLeaderboardCache(newTestCache(t))

	_, ok, err := lb.Top(ctx, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lb.Store(ctx, []achievement.LeaderboardEntry{
		{Rank: 1, UserID: "a", DisplayName: "Ada", TotalPoints: 50},
		{Rank: 2, UserID: "b", DisplayName: "Bo", TotalPoints: 30},
	}))

	require.NoError(t, lb.Bump(ctx, "b", 70))
	top, ok, err := lb.Top(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].UserID)
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, 70, top[0].TotalPoints)

	// A learner outside the snapshot drops it.
	require.NoError(t, lb.Bump(ctx, "c", 10))
	_, ok, err = lb.Top(ctx, 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecutionCache_Integration(t *testing.T) {
	ctx := context.Background()
	c := NewExecutionCache(newTestCache(t), time.Minute)

	_, hit, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, "k", &execution.Result{Success: true, Output: "hi\n"}))
	res, hit, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "hi\n", res.Output)
}

func TestPresenceAndRoomBus_Integration(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)
	presence := NewPresence(cache, time.Minute)
	bus := NewRoomBus(cache)

	require.NoError(t, presence.Join(ctx, "l1", Participant{ConnectionID: "c1", UserID: "u1"}))
	require.NoError(t, presence.Join(ctx, "l1", Participant{ConnectionID: "c2", UserID: "u1"}))
	require.NoError(t, presence.Join(ctx, "l1", Participant{ConnectionID: "c3", UserID: "u2"}))
	parts, err := presence.Participants(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, parts, 2)

	require.NoError(t, presence.Leave(ctx, "l1", "c3"))
	parts, err = presence.Participants(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, parts, 1)

	sub, err := bus.Subscribe(ctx, "l1")
	require.NoError(t, err)
	defer sub.Close()
	userSub, err := bus.SubscribeUser(ctx, "u1")
	require.NoError(t, err)
	defer userSub.Close()

	n, err := bus.Count(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, bus.Broadcast(ctx, "l1", "user-joined", map[string]string{"user_id": "u2"}))
	raw, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	msg, err := DecodeRoomMessage(raw.Payload)
	require.NoError(t, err)
	assert.Equal(t, "user-joined", msg.Event)

	require.NoError(t, bus.NotifyUser(ctx, "u1", "level-up", map[string]int{"level": 2}))
	raw, err = userSub.ReceiveMessage(ctx)
	require.NoError(t, err)
	msg, err = DecodeRoomMessage(raw.Payload)
	require.NoError(t, err)
	assert.Equal(t, "level-up", msg.Event)
}

func TestLocker_Integration(t *testing.T) {
	ctx := context.Background()
	l := NewLocker(newTestCache(t), time.Minute)

	lk, err := l.Lock(ctx, "job")
	require.NoError(t, err)
	_, err = l.Lock(ctx, "job")
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, lk.Unlock(ctx))
	_, err = l.Lock(ctx, "job")
	assert.NoError(t, err)
}
