package query

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/codekids/codekids-hub/internal/application/progression"
	"github.com/codekids/codekids-hub/internal/domain/course"
	"github.com/codekids/codekids-hub/internal/domain/dependency"
	"github.com/codekids/codekids-hub/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET COURSE VIEW QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetCourseViewQuery identifies the course and the viewer.
type GetCourseViewQuery struct {
	UserID   string
	CourseID string
}

// CourseLesson is one lesson row of the course view.
type CourseLesson struct {
	*course.Lesson
	IsAccessible bool              `json:"is_accessible"`
	IsLocked     bool              `json:"is_locked"`
	IsCompleted  bool              `json:"is_completed"`
	Score        int               `json:"score"`
	Dependencies dependency.Result `json:"dependencies"`
}

// CourseView is the response of GetCourseViewQuery.
type CourseView struct {
	*course.Course
	Dependencies         dependency.Result `json:"dependencies"`
	IsLocked             bool              `json:"is_locked"`
	Lessons              []CourseLesson    `json:"lessons"`
	CompletionPercentage int               `json:"completion_percentage"`
}

// CourseViewHandler handles course reads.
type CourseViewHandler struct {
	courses   course.Repository
	resolver  *progression.Resolver
	navigator *progression.Navigator
}

// NewCourseViewHandler creates the handler.
func NewCourseViewHandler(courses course.Repository, resolver *progression.Resolver, navigator *progression.Navigator) *CourseViewHandler {
	return &CourseViewHandler{courses: courses, resolver: resolver, navigator: navigator}
}

// Handle executes the query.
func (h *CourseViewHandler) Handle(ctx context.Context, q GetCourseViewQuery) (*CourseView, error) {
	if q.CourseID == "" {
		return nil, invalid("GetCourseView", "course id is required")
	}

	var (
		crs  *course.Course
		snap *progression.UserSnapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		crs, err = h.courses.GetCourse(gctx, q.CourseID)
		return err
	})
	g.Go(func() error {
		var err error
		snap, err = h.resolver.Load(gctx, q.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	gate, err := h.resolver.Check(ctx, dependency.CourseSubject(crs.ID), snap)
	if err != nil {
		return nil, err
	}
	gates, err := h.navigator.Gates(ctx, crs.ID, snap)
	if err != nil {
		return nil, fmt.Errorf("get_course_view: %w", err)
	}

	view := &CourseView{
		Course:       crs,
		Dependencies: gate,
		IsLocked:     !gate.AllMet,
		Lessons:      make([]CourseLesson, 0, len(gates)),
	}
	completed := 0
	for _, lg := range gates {
		row := CourseLesson{
			Lesson:       lg.Lesson,
			IsAccessible: lg.Accessible,
			IsLocked:     lg.Locked,
			IsCompleted:  lg.Completed,
			Dependencies: lg.Result,
		}
		if lg.Progress != nil {
			row.Score = lg.Progress.Score
		}
		if lg.Completed {
			completed++
		}
		view.Lessons = append(view.Lessons, row)
	}
	view.CompletionPercentage = progress.CompletionPercentage(completed, len(gates))
	return view, nil
}
