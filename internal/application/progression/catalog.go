package progression

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/codekids/codekids-hub/internal/domain/course"
	"github.com/codekids/codekids-hub/internal/domain/dependency"
	"github.com/codekids/codekids-hub/internal/domain/progress"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/internal/domain/user"
)

// RecommendedLimit caps the recommended course list.
const RecommendedLimit = 6

// ══════════════════════════════════════════════════════════════════════════════
// COURSE CATALOG AGGREGATOR
// ══════════════════════════════════════════════════════════════════════════════

// CourseEntry is a course annotated with the learner's gate and progress.
type CourseEntry struct {
	*course.Course
	Dependencies         dependency.Result       `json:"dependencies"`
	IsLocked             bool                    `json:"is_locked"`
	LockReason           *dependency.Status      `json:"lock_reason,omitempty"`
	UserProgress         progress.CourseProgress `json:"user_progress"`
	CompletionPercentage int                     `json:"completion_percentage"`
}

// Categories partitions catalog entries for the course browser.
type Categories struct {
	Available  []*CourseEntry `json:"available"`
	Locked     []*CourseEntry `json:"locked"`
	Completed  []*CourseEntry `json:"completed"`
	InProgress []*CourseEntry `json:"in_progress"`
	NotStarted []*CourseEntry `json:"not_started"`
}

// Categorize splits entries. Available and Locked are disjoint and cover every
// entry; the other three subdivide Available by completion.
func Categorize(entries []*CourseEntry) Categories {
	c := Categories{
		Available:  []*CourseEntry{},
		Locked:     []*CourseEntry{},
		Completed:  []*CourseEntry{},
		InProgress: []*CourseEntry{},
		NotStarted: []*CourseEntry{},
	}
	for _, e := range entries {
		if e.IsLocked {
			c.Locked = append(c.Locked, e)
			continue
		}
		c.Available = append(c.Available, e)
		switch {
		case e.CompletionPercentage >= 100:
			c.Completed = append(c.Completed, e)
		case e.CompletionPercentage > 0:
			c.InProgress = append(c.InProgress, e)
		default:
			c.NotStarted = append(c.NotStarted, e)
		}
	}
	return c
}

// CourseStats is the per-lesson rollup of one course.
type CourseStats struct {
	TotalLessons         int `json:"total_lessons"`
	CompletedLessons     int `json:"completed_lessons"`
	AccessibleLessons    int `json:"accessible_lessons"`
	LockedLessons        int `json:"locked_lessons"`
	TotalDependencies    int `json:"total_dependencies"`
	CompletionPercentage int `json:"completion_percentage"`
}

// StatsOf rolls up evaluated lessons.
func StatsOf(gates []LessonGate) CourseStats {
	s := CourseStats{TotalLessons: len(gates)}
	for _, g := range gates {
		if g.Completed {
			s.CompletedLessons++
		}
		if g.Accessible {
			s.AccessibleLessons++
		}
		if !g.Accessible && !g.Completed {
			s.LockedLessons++
		}
		s.TotalDependencies += g.Result.Total
	}
	s.CompletionPercentage = progress.CompletionPercentage(s.CompletedLessons, s.TotalLessons)
	return s
}

// Catalog builds course listings for a learner.
type Catalog struct {
	courses   course.Repository
	users     user.Repository
	resolver  *Resolver
	navigator *Navigator
}

// NewCatalog creates a catalog aggregator.
func NewCatalog(courses course.Repository, users user.Repository, resolver *Resolver, navigator *Navigator) *Catalog {
	return &Catalog{courses: courses, users: users, resolver: resolver, navigator: navigator}
}

// All returns active courses without learner annotations.
func (c *Catalog) All(ctx context.Context) ([]*course.Course, error) {
	list, err := c.courses.ListCourses(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: list courses: %w", err)
	}
	return list, nil
}

// ListAvailable annotates every active course for the learner.
func (c *Catalog) ListAvailable(ctx context.Context, userID string) ([]*CourseEntry, error) {
	var (
		courses []*course.Course
		counts  map[string]int
		snap    *UserSnapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		courses, err = c.courses.ListCourses(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		counts, err = c.courses.LessonCounts(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap, err = c.resolver.Load(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("catalog: load: %w", err)
	}

	ids := make([]string, len(courses))
	for i, crs := range courses {
		ids[i] = crs.ID
	}
	gates, err := c.resolver.GateCourses(ctx, ids, snap)
	if err != nil {
		return nil, err
	}

	rows := make([]*progress.Progress, 0, len(snap.Progress))
	for _, p := range snap.Progress {
		rows = append(rows, p)
	}

	out := make([]*CourseEntry, 0, len(courses))
	for _, crs := range courses {
		out = append(out, entryFor(crs, gates[crs.ID], counts[crs.ID], rows))
	}
	return out, nil
}

func entryFor(crs *course.Course, res dependency.Result, total int, rows []*progress.Progress) *CourseEntry {
	up := progress.Aggregate(crs.ID, total, rows)
	e := &CourseEntry{
		Course:               crs,
		Dependencies:         res,
		IsLocked:             !res.AllMet,
		UserProgress:         up,
		CompletionPercentage: progress.CompletionPercentage(up.CompletedLessons, up.TotalLessons),
	}
	if e.IsLocked {
		e.LockReason = res.FirstUnmet()
	}
	return e
}

// Recommended returns unlocked courses for the learner's age group, courses
// already started first, then easiest first. A learner without a profile has
// no age group and gets no recommendations.
func (c *Catalog) Recommended(ctx context.Context, userID string) ([]*CourseEntry, error) {
	u, err := c.users.GetByID(ctx, userID)
	switch {
	case shared.IsNotFound(err):
		return []*CourseEntry{}, nil
	case err != nil:
		return nil, fmt.Errorf("catalog: recommended: %w", err)
	}
	entries, err := c.ListAvailable(ctx, userID)
	if err != nil {
		return nil, err
	}
	return Recommend(entries, u.AgeGroup()), nil
}

// Recommend filters and orders entries for an age group.
func Recommend(entries []*CourseEntry, group shared.AgeGroup) []*CourseEntry {
	out := make([]*CourseEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsLocked && e.AgeGroup == group {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i].UserProgress.CompletedLessons > 0, out[j].UserProgress.CompletedLessons > 0
		if ai != aj {
			return ai
		}
		return out[i].Difficulty < out[j].Difficulty
	})
	if len(out) > RecommendedLimit {
		out = out[:RecommendedLimit]
	}
	return out
}

// CourseStats evaluates every lesson of a course for the learner.
func (c *Catalog) CourseStats(ctx context.Context, courseID, userID string) (CourseStats, []LessonGate, error) {
	if _, err := c.courses.GetCourse(ctx, courseID); err != nil {
		return CourseStats{}, nil, err
	}
	snap, err := c.resolver.Load(ctx, userID)
	if err != nil {
		return CourseStats{}, nil, err
	}
	gates, err := c.navigator.Gates(ctx, courseID, snap)
	if err != nil {
		return CourseStats{}, nil, err
	}
	return StatsOf(gates), gates, nil
}
