// Package achievement models the reward catalog, earned achievements and the
// points total that drives a learner's level.
package achievement

import (
	"fmt"
	"time"

	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// Key identifies an achievement type, e.g. "first_lesson".
type Key string

// Built-in achievement keys.
const (
	FirstLesson      Key = "first_lesson"
	FastLearner      Key = "fast_learner"
	PerfectScore     Key = "perfect_score"
	SpeedRacer       Key = "speed_racer"
	EarlyBird        Key = "early_bird"
	CodingStreak     Key = "coding_streak"
	LanguageExplorer Key = "language_explorer"
	WeekendWarrior   Key = "weekend_warrior"
)

// Category groups achievement types for stats.
type Category string

const (
	CategoryMilestone   Category = "milestone"
	CategorySkill       Category = "skill"
	CategoryHabit       Category = "habit"
	CategoryExploration Category = "exploration"
)

// Type is a catalog entry.
type Type struct {
	Key         Key      `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Icon        string   `json:"icon_url"`
	Points      int      `json:"points"`
	Category    Category `json:"category"`
}

// IconFor returns the conventional icon path for a key.
func IconFor(k Key) string {
	return fmt.Sprintf("/assets/achievements/%s.png", k)
}

// DefaultCatalog is the catalog seeded by the initial migration.
func DefaultCatalog() []Type {
	return []Type{
		{Key: FirstLesson, Title: "First Steps", Description: "You completed your first coding lesson!", Icon: IconFor(FirstLesson), Points: 10, Category: CategoryMilestone},
		{Key: PerfectScore, Title: "Perfect Score", Description: "You got 100% on a lesson!", Icon: IconFor(PerfectScore), Points: 10, Category: CategorySkill},
		{Key: FastLearner, Title: "Fast Learner", Description: "You completed 5 lessons!", Icon: IconFor(FastLearner), Points: 25, Category: CategoryMilestone},
		{Key: SpeedRacer, Title: "Speed Racer", Description: "You finished a lesson in under 5 minutes!", Icon: IconFor(SpeedRacer), Points: 15, Category: CategorySkill},
		{Key: EarlyBird, Title: "Early Bird", Description: "You finished a lesson before 9 in the morning!", Icon: IconFor(EarlyBird), Points: 15, Category: CategoryHabit},
		{Key: CodingStreak, Title: "Coding Streak", Description: "You coded on 3 different days this week!", Icon: IconFor(CodingStreak), Points: 30, Category: CategoryHabit},
		{Key: LanguageExplorer, Title: "Language Explorer", Description: "You learned in 3 different languages!", Icon: IconFor(LanguageExplorer), Points: 40, Category: CategoryExploration},
		{Key: WeekendWarrior, Title: "Weekend Warrior", Description: "You coded on a Saturday and on a Sunday!", Icon: IconFor(WeekendWarrior), Points: 20, Category: CategoryHabit},
	}
}

// UserAchievement is an earned achievement. At most one exists per (user, key).
type UserAchievement struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Key          Key       `json:"achievement_type"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Icon         string    `json:"icon_url"`
	Category     Category  `json:"category,omitempty"`
	PointsEarned int       `json:"points_earned"`
	EarnedAt     time.Time `json:"earned_at"`
}

// NewUserAchievement builds the row for a fresh award.
func NewUserAchievement(userID string, t Type, now time.Time) *UserAchievement {
	return &UserAchievement{
		ID:           shared.NewID(),
		UserID:       userID,
		Key:          t.Key,
		Title:        t.Title,
		Description:  t.Description,
		Icon:         t.Icon,
		Category:     t.Category,
		PointsEarned: t.Points,
		EarnedAt:     now,
	}
}

// UserPoints is the cumulative total. Level and title are derived on every write.
type UserPoints struct {
	UserID       string    `json:"user_id"`
	TotalPoints  int       `json:"total_points"`
	CurrentLevel int       `json:"current_level"`
	LevelTitle   string    `json:"level_title"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewUserPoints returns the zero row for a user with no awards.
func NewUserPoints(userID string) *UserPoints {
	p := &UserPoints{UserID: userID}
	p.recompute()
	return p
}

// Add increments the total and recomputes the level.
func (p *UserPoints) Add(amount int, now time.Time) {
	p.TotalPoints = shared.Points(p.TotalPoints).Add(amount).Int()
	p.UpdatedAt = now
	p.recompute()
}

func (p *UserPoints) recompute() {
	lvl := shared.Points(p.TotalPoints).Level()
	p.CurrentLevel = lvl.Int()
	p.LevelTitle = lvl.Title()
}

// LeaderboardEntry is one row of the points leaderboard.
type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	UserID       string `json:"user_id"`
	DisplayName  string `json:"display_name"`
	TotalPoints  int    `json:"total_points"`
	CurrentLevel int    `json:"current_level"`
	LevelTitle   string `json:"level_title"`
}
