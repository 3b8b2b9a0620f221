// Package redis holds everything CodeKids keeps in Redis:
//   - the leaderboard snapshot (sorted set plus an info hash)
//   - cached results of deterministic code runs
//   - lesson-room presence, refreshed by websocket heartbeats
//   - pub/sub channels per lesson room and per learner
//   - locks that keep scheduled jobs to one worker
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config mirrors the REDIS_* settings.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int
	MaxRetries   int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) Options() *redis.Options {
	return &redis.Options{
		Addr:         c.Addr(),
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		PoolTimeout:  c.PoolTimeout,
	}
}

var (
	ErrCacheMiss          = errors.New("redis: cache miss")
	ErrCacheConnection    = errors.New("redis: unreachable")
	ErrCacheSerialization = errors.New("redis: bad payload")
)

func badPayload(err error) error {
	return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// KEYS
// ══════════════════════════════════════════════════════════════════════════════

const (
	PrefixLeaderboard   = "leaderboard:"
	PrefixExecution     = "exec:"
	PrefixPresence      = "presence:lesson:"
	PrefixLock          = "lock:"
	PrefixLessonChannel = "pubsub:lesson:"
	PrefixUserChannel   = "pubsub:user:"
)

const (
	TTLLeaderboard = 10 * time.Minute
	TTLExecution   = 24 * time.Hour
	TTLLock        = 2 * time.Minute

	// Longer than the websocket heartbeat, or live members would expire.
	TTLPresence = 90 * time.Second
)

func ExecutionKey(hash string) string      { return PrefixExecution + hash }
func PresenceKey(lessonID string) string   { return PrefixPresence + lessonID }
func LessonChannel(lessonID string) string { return PrefixLessonChannel + lessonID }
func UserChannel(userID string) string     { return PrefixUserChannel + userID }
func LockKey(resource string) string       { return PrefixLock + resource }

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Cache owns the go-redis client shared by the stores in this package.
type Cache struct {
	client *redis.Client
}

// NewCache connects and fails fast when Redis does not answer within the
// dial timeout.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(cfg.Options())

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCacheConnection, cfg.Addr(), err)
	}
	return &Cache{client: client}, nil
}

func NewCacheFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client          { return c.client }
func (c *Cache) Close() error                   { return c.client.Close() }
func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// Publish sends message JSON-encoded.
func (c *Cache) Publish(ctx context.Context, channel string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return badPayload(err)
	}
	return c.client.Publish(ctx, channel, data).Err()
}

// Subscribe opens a subscription. The caller closes it.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.client.Subscribe(ctx, channels...)
}

// getJSON loads the JSON value at key. A missing key returns ErrCacheMiss.
func getJSON[T any](ctx context.Context, c *Cache, key string) (T, error) {
	var out T
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return out, ErrCacheMiss
	case err != nil:
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, badPayload(err)
	}
	return out, nil
}

// setJSON stores v as JSON. A zero ttl keeps it forever.
func setJSON(ctx context.Context, c *Cache, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return badPayload(err)
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}
