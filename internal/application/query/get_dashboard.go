package query

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codekids/codekids-hub/internal/application/progression"
	"github.com/codekids/codekids-hub/internal/domain/achievement"
	"github.com/codekids/codekids-hub/internal/domain/progress"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/internal/domain/user"
	"github.com/codekids/codekids-hub/pkg/timeutil"
)

// Dashboard list sizes.
const (
	RecentProgressLimit     = 5
	RecentAchievementsLimit = 3
)

// ══════════════════════════════════════════════════════════════════════════════
// GET DASHBOARD QUERY
// ══════════════════════════════════════════════════════════════════════════════

// DashboardStats are the headline numbers of a learner.
type DashboardStats struct {
	CompletedLessons  int `json:"completedLessons"`
	TotalScore        int `json:"totalScore"`
	AverageScore      int `json:"averageScore"`
	AchievementsCount int `json:"achievementsCount"`
	CurrentStreak     int `json:"currentStreak"`
}

// Dashboard is the learner home page.
type Dashboard struct {
	Stats              DashboardStats                 `json:"stats"`
	RecentProgress     []*progress.Progress           `json:"recentProgress"`
	Achievements       []*achievement.UserAchievement `json:"achievements"`
	Points             *achievement.UserPoints        `json:"points"`
	RecommendedCourses []*progression.CourseEntry     `json:"recommendedCourses"`
}

// DashboardHandler builds dashboards.
type DashboardHandler struct {
	users        user.Repository
	progress     progress.Repository
	achievements achievement.Repository
	catalog      *progression.Catalog
	clock        func() time.Time
}

// NewDashboardHandler creates the handler.
func NewDashboardHandler(
	users user.Repository,
	prog progress.Repository,
	achievements achievement.Repository,
	catalog *progression.Catalog,
) *DashboardHandler {
	return &DashboardHandler{
		users:        users,
		progress:     prog,
		achievements: achievements,
		catalog:      catalog,
		clock:        timeutil.Now,
	}
}

// Handle returns the dashboard of userID.
func (h *DashboardHandler) Handle(ctx context.Context, userID string) (*Dashboard, error) {
	if userID == "" {
		return nil, invalid("GetDashboard", "user id is required")
	}

	var (
		rows        []*progress.Progress
		earned      []*achievement.UserAchievement
		points      *achievement.UserPoints
		recommended []*progression.CourseEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = h.progress.ListByUser(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		earned, err = h.achievements.ListByUser(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		points, err = h.achievements.GetPoints(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		recommended, err = h.catalog.Recommended(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get_dashboard: %w", err)
	}

	d := &Dashboard{
		Stats:              Summarize(rows, len(earned), h.clock()),
		RecentProgress:     head(rows, RecentProgressLimit),
		Achievements:       head(earned, RecentAchievementsLimit),
		Points:             points,
		RecommendedCourses: recommended,
	}
	return d, nil
}

// Summarize computes dashboard stats from progress rows. The average is taken
// over completed lessons; the streak counts distinct completion days in the
// trailing week.
func Summarize(rows []*progress.Progress, achievementsCount int, now time.Time) DashboardStats {
	s := DashboardStats{AchievementsCount: achievementsCount}
	var times []time.Time
	for _, p := range rows {
		s.TotalScore += p.Score
		if p.Completed {
			s.CompletedLessons++
			if p.CompletedAt != nil {
				times = append(times, timeutil.Local(*p.CompletedAt))
			}
		}
	}
	if s.CompletedLessons > 0 {
		s.AverageScore = int(math.Round(float64(s.TotalScore) / float64(s.CompletedLessons)))
	}
	s.CurrentStreak = achievement.StreakDays(times, timeutil.Local(now))
	return s
}

// Progress returns every progress row of the learner, most recent first.
func (h *DashboardHandler) Progress(ctx context.Context, userID string) ([]*progress.Progress, error) {
	rows, err := h.progress.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}
	return head(rows, len(rows)), nil
}

func head[T any](list []T, n int) []T {
	if list == nil {
		return []T{}
	}
	if len(list) > n {
		return list[:n]
	}
	return list
}

// ══════════════════════════════════════════════════════════════════════════════
// GET CHILDREN QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ChildSummary is one child on the parent dashboard.
type ChildSummary struct {
	*user.User
	Stats  DashboardStats          `json:"stats"`
	Points *achievement.UserPoints `json:"points"`
}

// Children returns the children of a parent with their headline stats.
// Only parents may call it.
func (h *DashboardHandler) Children(ctx context.Context, parentID string, role user.Role) ([]ChildSummary, error) {
	if role != user.RoleParent {
		return nil, shared.NewDomainError("query", "GetChildren", shared.ErrForbidden, "Access denied. Parent role required.")
	}
	kids, err := h.users.ListChildren(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("get_children: %w", err)
	}

	out := make([]ChildSummary, len(kids))
	g, gctx := errgroup.WithContext(ctx)
	for i, kid := range kids {
		g.Go(func() error {
			rows, err := h.progress.ListByUser(gctx, kid.ID)
			if err != nil {
				return err
			}
			earned, err := h.achievements.ListByUser(gctx, kid.ID)
			if err != nil {
				return err
			}
			pts, err := h.achievements.GetPoints(gctx, kid.ID)
			if err != nil {
				return err
			}
			out[i] = ChildSummary{User: kid, Stats: Summarize(rows, len(earned), h.clock()), Points: pts}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get_children: %w", err)
	}
	return out, nil
}
