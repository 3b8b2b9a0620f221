// Package progression wires the pure dependency and achievement rules to the
// repositories. It hosts the resolver, the achievement engine, the progression
// tracker, the navigation planner and the course catalog aggregator.
package progression

import (
	"context"
	"fmt"
	"time"

	"github.com/codekids/codekids-hub/internal/domain/achievement"
	"github.com/codekids/codekids-hub/internal/domain/course"
	"github.com/codekids/codekids-hub/internal/domain/dependency"
	"github.com/codekids/codekids-hub/internal/domain/progress"
	"github.com/codekids/codekids-hub/pkg/timeutil"
)

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

func defaultClock(c Clock) Clock {
	if c == nil {
		return timeutil.Now
	}
	return c
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLVER
// Loads what a learner has done and evaluates prerequisite edges against it.
// ══════════════════════════════════════════════════════════════════════════════

// Resolver evaluates lesson and course gates for one learner.
type Resolver struct {
	deps         dependency.Repository
	progress     progress.Repository
	achievements achievement.Repository
}

// NewResolver creates a resolver.
func NewResolver(deps dependency.Repository, prog progress.Repository, ach achievement.Repository) *Resolver {
	return &Resolver{deps: deps, progress: prog, achievements: ach}
}

// UserSnapshot is a learner's state plus the raw rows it was built from.
type UserSnapshot struct {
	*dependency.Snapshot
	Progress map[string]*progress.Progress // by lesson id
}

// Row returns the progress row for a lesson, or nil.
func (s *UserSnapshot) Row(lessonID string) *progress.Progress {
	return s.Progress[lessonID]
}

// Load reads the learner's progress and achievements.
func (r *Resolver) Load(ctx context.Context, userID string) (*UserSnapshot, error) {
	rows, err := r.progress.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolver: list progress: %w", err)
	}
	earned, err := r.achievements.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolver: list achievements: %w", err)
	}

	snap := &UserSnapshot{Snapshot: dependency.NewSnapshot(), Progress: make(map[string]*progress.Progress, len(rows))}
	for _, p := range rows {
		snap.AddProgress(p.LessonID, p.CourseID, p.Score, p.Completed)
		snap.Progress[p.LessonID] = p
	}
	for _, ua := range earned {
		snap.AddAchievement(string(ua.Key))
	}
	return snap, nil
}

// Check evaluates the edges of one subject against a loaded state.
func (r *Resolver) Check(ctx context.Context, subject dependency.Subject, state dependency.UserState) (dependency.Result, error) {
	deps, err := r.deps.ListForSubject(ctx, subject)
	if err != nil {
		return dependency.Result{}, fmt.Errorf("resolver: list dependencies of %s: %w", subject, err)
	}
	return dependency.Evaluate(deps, state), nil
}

// CheckLesson loads the learner and evaluates a lesson gate.
func (r *Resolver) CheckLesson(ctx context.Context, userID, lessonID string) (dependency.Result, error) {
	snap, err := r.Load(ctx, userID)
	if err != nil {
		return dependency.Result{}, err
	}
	return r.Check(ctx, dependency.LessonSubject(lessonID), snap)
}

// CheckCourse loads the learner and evaluates a course gate.
func (r *Resolver) CheckCourse(ctx context.Context, userID, courseID string) (dependency.Result, error) {
	snap, err := r.Load(ctx, userID)
	if err != nil {
		return dependency.Result{}, err
	}
	return r.Check(ctx, dependency.CourseSubject(courseID), snap)
}

// LessonGate is the evaluated state of one lesson for one learner.
type LessonGate struct {
	Lesson     *course.Lesson
	Result     dependency.Result
	Completed  bool
	Accessible bool
	Locked     bool
	Progress   *progress.Progress
}

// GateLessons evaluates every lesson of an ordered list with one batch read.
func (r *Resolver) GateLessons(ctx context.Context, lessons []*course.Lesson, snap *UserSnapshot) ([]LessonGate, error) {
	ids := make([]string, len(lessons))
	for i, l := range lessons {
		ids[i] = l.ID
	}
	bySubject, err := r.deps.ListForSubjects(ctx, dependency.SubjectLesson, ids)
	if err != nil {
		return nil, fmt.Errorf("resolver: list lesson dependencies: %w", err)
	}

	out := make([]LessonGate, len(lessons))
	for i, l := range lessons {
		res := dependency.Evaluate(bySubject[l.ID], snap)
		completed := snap.IsCompleted(l.ID)
		out[i] = LessonGate{
			Lesson:     l,
			Result:     res,
			Completed:  completed,
			Accessible: dependency.Accessible(res, completed, l.IsOptional),
			Locked:     dependency.Locked(res, l.IsOptional),
			Progress:   snap.Row(l.ID),
		}
	}
	return out, nil
}

// GateCourses evaluates the course-level gates of many courses.
func (r *Resolver) GateCourses(ctx context.Context, courseIDs []string, snap *UserSnapshot) (map[string]dependency.Result, error) {
	bySubject, err := r.deps.ListForSubjects(ctx, dependency.SubjectCourse, courseIDs)
	if err != nil {
		return nil, fmt.Errorf("resolver: list course dependencies: %w", err)
	}
	out := make(map[string]dependency.Result, len(courseIDs))
	for _, id := range courseIDs {
		out[id] = dependency.Evaluate(bySubject[id], snap)
	}
	return out, nil
}
