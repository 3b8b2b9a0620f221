package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/codekids/codekids-hub/internal/domain/achievement"
	"github.com/codekids/codekids-hub/internal/domain/progress"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT ENGINE
// Awards achievements at most once per learner and keeps points in step.
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardCache serves the top of the points table without hitting the store.
type LeaderboardCache interface {
	Top(ctx context.Context, limit int) ([]achievement.LeaderboardEntry, bool, error)
	Store(ctx context.Context, entries []achievement.LeaderboardEntry) error
	Bump(ctx context.Context, userID string, totalPoints int) error
}

// EngineConfig configures the achievement engine.
type EngineConfig struct {
	Clock            Clock
	Publisher        shared.EventPublisher
	Logger           *logger.Logger
	LeaderboardCache LeaderboardCache
}

// AchievementEngine evaluates rules and records awards.
type AchievementEngine struct {
	repo     achievement.Repository
	progress progress.Repository
	clock    Clock
	events   shared.EventPublisher
	log      *logger.Logger
	cache    LeaderboardCache
}

// NewAchievementEngine creates an engine.
func NewAchievementEngine(repo achievement.Repository, prog progress.Repository, cfg EngineConfig) *AchievementEngine {
	e := &AchievementEngine{
		repo:     repo,
		progress: prog,
		clock:    defaultClock(cfg.Clock),
		events:   cfg.Publisher,
		log:      cfg.Logger,
		cache:    cfg.LeaderboardCache,
	}
	if e.events == nil {
		e.events = shared.NopPublisher{}
	}
	if e.log == nil {
		e.log = logger.Nop()
	}
	e.log = e.log.With(logger.Component("achievement_engine"))
	return e
}

// Award grants key to userID. It returns nil without error when the learner
// already owns the achievement, including when a concurrent award won the race.
func (e *AchievementEngine) Award(ctx context.Context, userID string, key achievement.Key) (*achievement.UserAchievement, error) {
	typ, err := e.repo.GetType(ctx, key)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, shared.WrapError("achievement", "Award", shared.ErrConfiguration,
				fmt.Sprintf("achievement type %q is not in the catalog", key), err)
		}
		return nil, fmt.Errorf("award %s: %w", key, err)
	}

	has, err := e.repo.Has(ctx, userID, key)
	if err != nil {
		return nil, fmt.Errorf("award %s: %w", key, err)
	}
	if has {
		return nil, nil
	}

	ua := achievement.NewUserAchievement(userID, *typ, e.clock())
	pts, err := e.repo.Award(ctx, ua)
	if err != nil {
		if shared.IsAlreadyExists(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("award %s: %w", key, err)
	}

	e.log.Info("achievement awarded",
		logger.UserID(userID),
		logger.AchievementKey(string(key)),
		logger.PointsAmount(ua.PointsEarned),
	)
	e.announce(ctx, ua, pts)
	return ua, nil
}

func (e *AchievementEngine) announce(ctx context.Context, ua *achievement.UserAchievement, pts *achievement.UserPoints) {
	if err := e.events.Publish(shared.NewAchievementEarnedEvent(ua.UserID, string(ua.Key), ua.Title, ua.PointsEarned, pts.TotalPoints)); err != nil {
		e.log.Warn("publish achievement event failed", logger.Err(err))
	}

	oldLevel := shared.Points(pts.TotalPoints - ua.PointsEarned).Level().Int()
	if pts.CurrentLevel > oldLevel {
		if err := e.events.Publish(shared.NewLevelUpEvent(ua.UserID, oldLevel, pts.CurrentLevel, pts.LevelTitle)); err != nil {
			e.log.Warn("publish level event failed", logger.Err(err))
		}
	}

	if e.cache != nil {
		if err := e.cache.Bump(ctx, ua.UserID, pts.TotalPoints); err != nil {
			e.log.Warn("leaderboard cache update failed", logger.Err(err))
		}
	}
}

// SubmissionFacts describes the graded attempt that triggered evaluation.
type SubmissionFacts struct {
	Completed   bool
	Score       int
	TimeSpent   int
	CompletedAt time.Time
}

// CheckSubmission runs every rule after a submission has been recorded.
func (e *AchievementEngine) CheckSubmission(ctx context.Context, userID string, sub SubmissionFacts) ([]*achievement.UserAchievement, error) {
	facts, err := e.facts(ctx, userID)
	if err != nil {
		return nil, err
	}
	facts.Submitted = true
	facts.Completed = sub.Completed
	facts.Score = sub.Score
	facts.TimeSpent = sub.TimeSpent
	facts.CompletedAt = sub.CompletedAt.In(facts.Now.Location())
	return e.apply(ctx, userID, achievement.AllRules(), facts)
}

// CheckAll re-evaluates the rules that only depend on stored state.
func (e *AchievementEngine) CheckAll(ctx context.Context, userID string) ([]*achievement.UserAchievement, error) {
	facts, err := e.facts(ctx, userID)
	if err != nil {
		return nil, err
	}
	rules := achievement.StateRules()
	if facts.CompletedCount >= 1 {
		rules = append(rules, achievement.Rule{Key: achievement.FirstLesson, Applies: func(achievement.Facts) bool { return true }})
	}
	if facts.CompletedCount >= achievement.FastLearnerLessons {
		rules = append(rules, achievement.Rule{Key: achievement.FastLearner, Applies: func(achievement.Facts) bool { return true }})
	}
	return e.apply(ctx, userID, rules, facts)
}

func (e *AchievementEngine) facts(ctx context.Context, userID string) (achievement.Facts, error) {
	sum, err := e.progress.Summary(ctx, userID)
	if err != nil {
		return achievement.Facts{}, fmt.Errorf("achievement facts: %w", err)
	}
	now := e.clock()
	times := make([]time.Time, len(sum.CompletionTimes))
	for i, t := range sum.CompletionTimes {
		times[i] = t.In(now.Location())
	}
	return achievement.Facts{
		Now:               now,
		CompletedCount:    sum.CompletedCount,
		CompletionTimes:   times,
		DistinctLanguages: sum.DistinctLanguages,
	}, nil
}

func (e *AchievementEngine) apply(ctx context.Context, userID string, rules []achievement.Rule, f achievement.Facts) ([]*achievement.UserAchievement, error) {
	var earned []*achievement.UserAchievement
	for _, key := range achievement.Eligible(rules, f) {
		ua, err := e.Award(ctx, userID, key)
		if err != nil {
			return earned, err
		}
		if ua != nil {
			earned = append(earned, ua)
		}
	}
	return earned, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Read side
// ──────────────────────────────────────────────────────────────────────────────

// AvailableAchievement is a catalog entry annotated for one learner.
type AvailableAchievement struct {
	achievement.Type
	Earned   bool       `json:"earned"`
	EarnedAt *time.Time `json:"earned_at,omitempty"`
}

// Available returns the catalog with the learner's earned flags.
func (e *AchievementEngine) Available(ctx context.Context, userID string) ([]AvailableAchievement, error) {
	types, err := e.repo.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list achievement types: %w", err)
	}
	earned, err := e.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user achievements: %w", err)
	}
	at := make(map[achievement.Key]time.Time, len(earned))
	for _, ua := range earned {
		at[ua.Key] = ua.EarnedAt
	}

	out := make([]AvailableAchievement, 0, len(types))
	for _, t := range types {
		a := AvailableAchievement{Type: t}
		if ts, ok := at[t.Key]; ok {
			a.Earned = true
			a.EarnedAt = &ts
		}
		out = append(out, a)
	}
	return out, nil
}

// CategoryStats counts earned achievements in one category.
type CategoryStats struct {
	Category achievement.Category `json:"category"`
	Earned   int                  `json:"earned"`
	Total    int                  `json:"total"`
	Points   int                  `json:"points"`
}

// AchievementStats summarizes a learner's achievements.
type AchievementStats struct {
	TotalEarned    int                     `json:"total_earned"`
	TotalAvailable int                     `json:"total_available"`
	Categories     []CategoryStats         `json:"categories"`
	Points         *achievement.UserPoints `json:"points"`
}

// Stats returns per-category counts and the points row.
func (e *AchievementEngine) Stats(ctx context.Context, userID string) (*AchievementStats, error) {
	avail, err := e.Available(ctx, userID)
	if err != nil {
		return nil, err
	}
	pts, err := e.repo.GetPoints(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get points: %w", err)
	}

	stats := &AchievementStats{TotalAvailable: len(avail), Points: pts}
	index := make(map[achievement.Category]int)
	for _, a := range avail {
		i, ok := index[a.Category]
		if !ok {
			i = len(stats.Categories)
			index[a.Category] = i
			stats.Categories = append(stats.Categories, CategoryStats{Category: a.Category})
		}
		stats.Categories[i].Total++
		if a.Earned {
			stats.TotalEarned++
			stats.Categories[i].Earned++
			stats.Categories[i].Points += a.Points
		}
	}
	return stats, nil
}

// Earned returns the learner's achievements and points.
func (e *AchievementEngine) Earned(ctx context.Context, userID string) ([]*achievement.UserAchievement, *achievement.UserPoints, error) {
	list, err := e.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("list user achievements: %w", err)
	}
	pts, err := e.repo.GetPoints(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("get points: %w", err)
	}
	return list, pts, nil
}

// Leaderboard returns the top learners by points, from the cache when warm.
func (e *AchievementEngine) Leaderboard(ctx context.Context, limit int) ([]achievement.LeaderboardEntry, error) {
	if e.cache != nil {
		entries, ok, err := e.cache.Top(ctx, limit)
		if err != nil {
			e.log.Warn("leaderboard cache read failed", logger.Err(err))
		} else if ok {
			return entries, nil
		}
	}
	entries, err := e.repo.TopPoints(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return entries, nil
}

// RebuildLeaderboard reloads the cache from the store.
func (e *AchievementEngine) RebuildLeaderboard(ctx context.Context, limit int) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	entries, err := e.repo.TopPoints(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("rebuild leaderboard: %w", err)
	}
	if err := e.cache.Store(ctx, entries); err != nil {
		return 0, fmt.Errorf("rebuild leaderboard: %w", err)
	}
	return len(entries), nil
}
