package query

import (
	"context"

	"github.com/codekids/codekids-hub/internal/application/progression"
	"github.com/codekids/codekids-hub/internal/domain/course"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSE CATALOG QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// AvailableCourses is the response of the available courses query.
type AvailableCourses struct {
	Courses    []*progression.CourseEntry `json:"courses"`
	Categories progression.Categories     `json:"categories"`
	Count      int                        `json:"count"`
}

// CourseProgressView is the per-course stats response.
type CourseProgressView struct {
	Lessons []LessonSummary         `json:"lessons"`
	Stats   progression.CourseStats `json:"stats"`
}

// LessonSummary is a compact lesson row for the stats view.
type LessonSummary struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	OrderIndex      int    `json:"order_index"`
	IsAccessible    bool   `json:"is_accessible"`
	IsCompleted     bool   `json:"is_completed"`
	DependencyCount int    `json:"dependency_count"`
}

// CatalogHandler serves course listings.
type CatalogHandler struct {
	catalog *progression.Catalog
}

// NewCatalogHandler creates the handler.
func NewCatalogHandler(catalog *progression.Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// All returns active courses.
func (h *CatalogHandler) All(ctx context.Context) ([]*course.Course, error) {
	return h.catalog.All(ctx)
}

// Available returns every course annotated for the learner plus the partition.
func (h *CatalogHandler) Available(ctx context.Context, userID string) (*AvailableCourses, error) {
	if userID == "" {
		return nil, invalid("ListAvailableCourses", "user id is required")
	}
	entries, err := h.catalog.ListAvailable(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &AvailableCourses{
		Courses:    entries,
		Categories: progression.Categorize(entries),
		Count:      len(entries),
	}, nil
}

// Recommended returns up to six courses for the learner's age group.
func (h *CatalogHandler) Recommended(ctx context.Context, userID string) ([]*progression.CourseEntry, error) {
	return h.catalog.Recommended(ctx, userID)
}

// CourseProgress returns lesson-level stats of a course for the learner.
func (h *CatalogHandler) CourseProgress(ctx context.Context, userID, courseID string) (*CourseProgressView, error) {
	stats, gates, err := h.catalog.CourseStats(ctx, courseID, userID)
	if err != nil {
		return nil, err
	}
	view := &CourseProgressView{Stats: stats, Lessons: make([]LessonSummary, 0, len(gates))}
	for _, g := range gates {
		view.Lessons = append(view.Lessons, LessonSummary{
			ID:              g.Lesson.ID,
			Title:           g.Lesson.Title,
			OrderIndex:      g.Lesson.OrderIndex,
			IsAccessible:    g.Accessible,
			IsCompleted:     g.Completed,
			DependencyCount: g.Result.Total,
		})
	}
	return view, nil
}
