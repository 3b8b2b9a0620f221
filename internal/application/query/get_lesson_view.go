// Package query contains read operations following CQRS pattern.
// Queries never modify state; accessibility is recomputed on every read.
package query

import (
	"context"
	"fmt"

	"github.com/codekids/codekids-hub/internal/application/progression"
	"github.com/codekids/codekids-hub/internal/domain/course"
	"github.com/codekids/codekids-hub/internal/domain/dependency"
	"github.com/codekids/codekids-hub/internal/domain/execution"
	"github.com/codekids/codekids-hub/internal/domain/shared"
)

func invalid(op, msg string) error {
	return shared.NewDomainError("query", op, shared.ErrInvalidInput, msg)
}

// ══════════════════════════════════════════════════════════════════════════════
// GET LESSON VIEW QUERY
// Lesson content with its gate, navigation and the learner's own progress.
// ══════════════════════════════════════════════════════════════════════════════

// GetLessonViewQuery identifies the lesson and the viewer.
type GetLessonViewQuery struct {
	UserID   string
	LessonID string
}

// LessonDetail is a lesson annotated with its gate.
type LessonDetail struct {
	*course.Lesson
	IsAccessible bool              `json:"is_accessible"`
	IsLocked     bool              `json:"is_locked"`
	Dependencies dependency.Result `json:"dependencies"`
}

// UserLessonProgress is the viewer's state on the lesson.
type UserLessonProgress struct {
	IsCompleted bool   `json:"is_completed"`
	Score       int    `json:"score"`
	UserCode    string `json:"user_code"`
}

// LessonView is the response of GetLessonViewQuery.
type LessonView struct {
	Lesson       LessonDetail            `json:"lesson"`
	Navigation   *progression.Navigation `json:"navigation"`
	UserProgress UserLessonProgress      `json:"user_progress"`
}

// LessonViewHandler handles lesson reads.
type LessonViewHandler struct {
	courses   course.Repository
	resolver  *progression.Resolver
	navigator *progression.Navigator
}

// NewLessonViewHandler creates the handler.
func NewLessonViewHandler(courses course.Repository, resolver *progression.Resolver, navigator *progression.Navigator) *LessonViewHandler {
	return &LessonViewHandler{courses: courses, resolver: resolver, navigator: navigator}
}

// Handle executes the query. A locked lesson is still returned, flagged as
// not accessible, so clients can render its requirements.
func (h *LessonViewHandler) Handle(ctx context.Context, q GetLessonViewQuery) (*LessonView, error) {
	if q.LessonID == "" {
		return nil, invalid("GetLessonView", "lesson id is required")
	}
	lesson, err := h.courses.GetLesson(ctx, q.LessonID)
	if err != nil {
		return nil, err
	}

	snap, err := h.resolver.Load(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	gates, err := h.navigator.Gates(ctx, lesson.CourseID, snap)
	if err != nil {
		return nil, err
	}

	var gate progression.LessonGate
	for _, g := range gates {
		if g.Lesson.ID == lesson.ID {
			gate = g
			break
		}
	}
	if gate.Lesson == nil {
		return nil, fmt.Errorf("get_lesson_view: lesson %s missing from its course", lesson.ID)
	}

	view := &LessonView{
		Lesson: LessonDetail{
			Lesson:       lesson,
			IsAccessible: gate.Accessible,
			IsLocked:     gate.Locked,
			Dependencies: gate.Result,
		},
		Navigation: progression.Plan(gates, lesson.ID),
	}
	if p := snap.Row(lesson.ID); p != nil {
		view.UserProgress = UserLessonProgress{IsCompleted: p.Completed, Score: p.Score, UserCode: p.CodeSubmission}
	}
	return view, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECK DEPENDENCIES QUERY
// ══════════════════════════════════════════════════════════════════════════════

// CheckDependenciesQuery evaluates the gate of one lesson or course.
type CheckDependenciesQuery struct {
	UserID  string
	Subject dependency.Subject
}

// CheckDependenciesHandler handles CheckDependenciesQuery.
type CheckDependenciesHandler struct {
	courses  course.Repository
	resolver *progression.Resolver
}

// NewCheckDependenciesHandler creates the handler.
func NewCheckDependenciesHandler(courses course.Repository, resolver *progression.Resolver) *CheckDependenciesHandler {
	return &CheckDependenciesHandler{courses: courses, resolver: resolver}
}

// Handle executes the query.
func (h *CheckDependenciesHandler) Handle(ctx context.Context, q CheckDependenciesQuery) (*dependency.Result, error) {
	var err error
	switch q.Subject.Kind {
	case dependency.SubjectLesson:
		_, err = h.courses.GetLesson(ctx, q.Subject.ID)
	case dependency.SubjectCourse:
		_, err = h.courses.GetCourse(ctx, q.Subject.ID)
	default:
		return nil, invalid("CheckDependencies", "unknown subject kind")
	}
	if err != nil {
		return nil, err
	}

	snap, err := h.resolver.Load(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	res, err := h.resolver.Check(ctx, q.Subject, snap)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// NAVIGATION QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// NavigationHandler serves previous/next lookups.
type NavigationHandler struct {
	navigator *progression.Navigator
}

// NewNavigationHandler creates the handler.
func NewNavigationHandler(navigator *progression.Navigator) *NavigationHandler {
	return &NavigationHandler{navigator: navigator}
}

// Navigate returns the accessible neighbours of a lesson.
func (h *NavigationHandler) Navigate(ctx context.Context, userID, courseID, lessonID string) (*progression.Navigation, error) {
	if courseID == "" {
		return nil, invalid("Navigate", "Course ID is required")
	}
	return h.navigator.Navigate(ctx, courseID, userID, lessonID)
}

// Next returns the next lesson to work on, or nil when the course has none left.
func (h *NavigationHandler) Next(ctx context.Context, userID, courseID, currentLessonID string) (*course.Lesson, error) {
	return h.navigator.NextAccessible(ctx, courseID, userID, currentLessonID)
}

// ══════════════════════════════════════════════════════════════════════════════
// GET HINT QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetHintQuery asks for help on a lesson.
type GetHintQuery struct {
	LessonID string
	Code     string
}

// HintHandler handles GetHintQuery.
type HintHandler struct {
	tracker *progression.Tracker
}

// NewHintHandler creates the handler.
func NewHintHandler(tracker *progression.Tracker) *HintHandler {
	return &HintHandler{tracker: tracker}
}

// Handle executes the query.
func (h *HintHandler) Handle(ctx context.Context, q GetHintQuery) (*execution.Hint, error) {
	if q.LessonID == "" {
		return nil, invalid("GetHint", "lessonId is required")
	}
	hint, err := h.tracker.Hint(ctx, q.LessonID, q.Code)
	if err != nil {
		return nil, err
	}
	return &hint, nil
}
