package query

import (
	"context"

	"github.com/codekids/codekids-hub/internal/application/progression"
	"github.com/codekids/codekids-hub/internal/domain/achievement"
)

// Leaderboard limits.
const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// UserAchievements is the earned list plus the points row.
type UserAchievements struct {
	Achievements []*achievement.UserAchievement `json:"achievements"`
	Points       *achievement.UserPoints        `json:"points"`
}

// AchievementsHandler serves achievement reads.
type AchievementsHandler struct {
	engine *progression.AchievementEngine
}

// NewAchievementsHandler creates the handler.
func NewAchievementsHandler(engine *progression.AchievementEngine) *AchievementsHandler {
	return &AchievementsHandler{engine: engine}
}

// Earned returns the learner's achievements, newest first.
func (h *AchievementsHandler) Earned(ctx context.Context, userID string) (*UserAchievements, error) {
	list, pts, err := h.engine.Earned(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &UserAchievements{Achievements: head(list, len(list)), Points: pts}, nil
}

// Available returns the catalog with earned flags.
func (h *AchievementsHandler) Available(ctx context.Context, userID string) ([]progression.AvailableAchievement, error) {
	return h.engine.Available(ctx, userID)
}

// Stats returns per-category stats.
func (h *AchievementsHandler) Stats(ctx context.Context, userID string) (*progression.AchievementStats, error) {
	return h.engine.Stats(ctx, userID)
}

// Leaderboard returns the top learners. Limit is clamped to 1..100, default 10.
func (h *AchievementsHandler) Leaderboard(ctx context.Context, limit int) ([]achievement.LeaderboardEntry, error) {
	switch {
	case limit <= 0:
		limit = DefaultLeaderboardLimit
	case limit > MaxLeaderboardLimit:
		limit = MaxLeaderboardLimit
	}
	entries, err := h.engine.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []achievement.LeaderboardEntry{}
	}
	return entries, nil
}
