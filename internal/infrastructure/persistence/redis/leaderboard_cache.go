package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/codekids/codekids-hub/internal/domain/achievement"
	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache keeps a snapshot of the top learners by points.
//
// Layout:
//   - Sorted set "leaderboard:points" stores userID -> total points
//   - Hash "leaderboard:info" stores userID -> entry JSON
//   - String "leaderboard:size" stores how many rows the snapshot covers
//
// The snapshot stays exact between rebuilds: learners inside it are bumped in
// place, and a bump for anyone outside it drops the snapshot so reads fall
// back to the store until the next rebuild.
type LeaderboardCache struct {
	cache *Cache
}

const (
	keyLeaderboardPoints = PrefixLeaderboard + "points"
	keyLeaderboardInfo   = PrefixLeaderboard + "info"
	keyLeaderboardSize   = PrefixLeaderboard + "size"
)

// NewLeaderboardCache creates a new LeaderboardCache instance.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache}
}

// Store replaces the snapshot with entries.
func (l *LeaderboardCache) Store(ctx context.Context, entries []achievement.LeaderboardEntry) error {
	pipe := l.cache.Client().TxPipeline()
	pipe.Del(ctx, keyLeaderboardPoints, keyLeaderboardInfo, keyLeaderboardSize)

	if len(entries) > 0 {
		members := make([]redis.Z, 0, len(entries))
		info := make(map[string]any, len(entries))
		for _, e := range entries {
			if e.UserID == "" {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal leaderboard entry: %w", err)
			}
			members = append(members, redis.Z{Score: float64(e.TotalPoints), Member: e.UserID})
			info[e.UserID] = data
		}
		pipe.ZAdd(ctx, keyLeaderboardPoints, members...)
		pipe.HSet(ctx, keyLeaderboardInfo, info)
		pipe.Expire(ctx, keyLeaderboardPoints, TTLLeaderboard)
		pipe.Expire(ctx, keyLeaderboardInfo, TTLLeaderboard)
	}
	pipe.Set(ctx, keyLeaderboardSize, len(entries), TTLLeaderboard)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store leaderboard: %w", err)
	}
	return nil
}

// Top returns the first limit rows. ok is false when no snapshot is stored.
// A snapshot shorter than limit holds every learner with points, so rebuilds
// should store as many rows as the largest page served.
func (l *LeaderboardCache) Top(ctx context.Context, limit int) ([]achievement.LeaderboardEntry, bool, error) {
	if limit <= 0 {
		return []achievement.LeaderboardEntry{}, true, nil
	}

	exists, err := l.cache.Client().Exists(ctx, keyLeaderboardSize).Result()
	if err != nil {
		return nil, false, err
	}
	if exists == 0 {
		return nil, false, nil
	}

	ranked, err := l.cache.Client().ZRevRangeWithScores(ctx, keyLeaderboardPoints, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, false, err
	}

	ids := make([]string, len(ranked))
	for i, z := range ranked {
		ids[i] = z.Member.(string)
	}
	if len(ids) == 0 {
		return []achievement.LeaderboardEntry{}, true, nil
	}

	raw, err := l.cache.Client().HMGet(ctx, keyLeaderboardInfo, ids...).Result()
	if err != nil {
		return nil, false, err
	}

	entries := make([]achievement.LeaderboardEntry, 0, len(ranked))
	for i, v := range raw {
		str, isStr := v.(string)
		if !isStr {
			return nil, false, nil
		}
		var e achievement.LeaderboardEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		e.Rank = i + 1
		e.TotalPoints = int(ranked[i].Score)
		entries = append(entries, e)
	}
	return entries, true, nil
}

// Bump records a new total for userID.
func (l *LeaderboardCache) Bump(ctx context.Context, userID string, totalPoints int) error {
	raw, err := l.cache.Client().HGet(ctx, keyLeaderboardInfo, userID).Result()
	if errors.Is(err, redis.Nil) {
		return l.Invalidate(ctx)
	}
	if err != nil {
		return err
	}

	var e achievement.LeaderboardEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return l.Invalidate(ctx)
	}
	lvl := shared.Points(totalPoints).Level()
	e.TotalPoints = totalPoints
	e.CurrentLevel = lvl.Int()
	e.LevelTitle = lvl.Title()
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard entry: %w", err)
	}

	pipe := l.cache.Client().Pipeline()
	pipe.ZAddGT(ctx, keyLeaderboardPoints, redis.Z{Score: float64(totalPoints), Member: userID})
	pipe.HSet(ctx, keyLeaderboardInfo, userID, data)
	_, err = pipe.Exec(ctx)
	return err
}

// Invalidate drops the snapshot.
func (l *LeaderboardCache) Invalidate(ctx context.Context) error {
	return l.cache.Delete(ctx, keyLeaderboardSize, keyLeaderboardPoints, keyLeaderboardInfo)
}

// Size reports how many rows the current snapshot holds, or -1 without one.
func (l *LeaderboardCache) Size(ctx context.Context) (int, error) {
	s, err := l.cache.Client().Get(ctx, keyLeaderboardSize).Result()
	if errors.Is(err, redis.Nil) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}
