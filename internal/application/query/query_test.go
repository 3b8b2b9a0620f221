package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekids/codekids-hub/internal/application/progression"
	"github.com/codekids/codekids-hub/internal/domain/course"
	"github.com/codekids/codekids-hub/internal/domain/dependency"
	"github.com/codekids/codekids-hub/internal/domain/progress"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/internal/domain/user"
	"github.com/codekids/codekids-hub/internal/infrastructure/persistence/memory"
)

type env struct {
	store     *memory.Store
	resolver  *progression.Resolver
	navigator *progression.Navigator
	catalog   *progression.Catalog
}

func setup(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	e := &env{store: s}
	e.resolver = progression.NewResolver(s.Dependencies(), s.Progress(), s.Achievements())
	e.navigator = progression.NewNavigator(s.Courses(), e.resolver)
	e.catalog = progression.NewCatalog(s.Courses(), s.Users(), e.resolver, e.navigator)

	require.NoError(t, s.Users().Create(ctx, &user.User{ID: "mom", Role: user.RoleParent, Age: 40}))
	require.NoError(t, s.Users().Create(ctx, &user.User{ID: "kid", Role: user.RoleStudent, Age: 6, ParentID: "mom", DisplayName: "Kid"}))
	require.NoError(t, s.Courses().CreateCourse(ctx, &course.Course{
		ID: "c1", Title: "Shapes", Slug: "shapes", AgeGroup: shared.AgeGroupYoung, Difficulty: 1, IsActive: true,
	}))
	for i, id := range []string{"l1", "l2", "l3"} {
		require.NoError(t, s.Courses().CreateLesson(ctx, &course.Lesson{ID: id, CourseID: "c1", Title: "Lesson " + id, OrderIndex: i + 1}))
	}
	require.NoError(t, s.Dependencies().Add(ctx, &dependency.Dependency{
		Subject:     dependency.LessonSubject("l2"),
		Requirement: dependency.LessonRequirement{LessonID: "l1", Min: 80},
	}))
	return e
}

func (e *env) complete(t *testing.T, lessonID string, score int, at time.Time) {
	t.Helper()
	_, _, err := e.store.Progress().RecordSubmission(context.Background(), "kid", lessonID, "c1",
		progress.Submission{Code: "x", Score: score, Valid: true, TimeSpent: 60}, at)
	require.NoError(t, err)
}

func TestLessonView_LockedLessonIsReturned(t *testing.T) {
	e := setup(t)
	h := NewLessonViewHandler(e.store.Courses(), e.resolver, e.navigator)

	view, err := h.Handle(context.Background(), GetLessonViewQuery{UserID: "kid", LessonID: "l2"})
	require.NoError(t, err)
	assert.False(t, view.Lesson.IsAccessible)
	assert.True(t, view.Lesson.IsLocked)
	require.Len(t, view.Lesson.Dependencies.Unmet, 1)
	assert.Equal(t, `Complete "Lesson l1" with 80% score`, view.Lesson.Dependencies.Unmet[0].Requirement)
	require.NotNil(t, view.Navigation.Next)
	assert.Equal(t, "l3", view.Navigation.Next.ID)
	assert.False(t, view.UserProgress.IsCompleted)

	_, err = h.Handle(context.Background(), GetLessonViewQuery{UserID: "kid", LessonID: "nope"})
	assert.True(t, shared.IsNotFound(err))
}

func TestLessonView_ShowsOwnProgress(t *testing.T) {
	e := setup(t)
	e.complete(t, "l1", 90, time.Now())
	h := NewLessonViewHandler(e.store.Courses(), e.resolver, e.navigator)

	view, err := h.Handle(context.Background(), GetLessonViewQuery{UserID: "kid", LessonID: "l2"})
	require.NoError(t, err)
	assert.True(t, view.Lesson.IsAccessible)

	view, err = h.Handle(context.Background(), GetLessonViewQuery{UserID: "kid", LessonID: "l1"})
	require.NoError(t, err)
	assert.True(t, view.UserProgress.IsCompleted)
	assert.Equal(t, 90, view.UserProgress.Score)
	assert.Equal(t, "x", view.UserProgress.UserCode)
}

func TestCourseView(t *testing.T) {
	e := setup(t)
	e.complete(t, "l1", 70, time.Now())
	h := NewCourseViewHandler(e.store.Courses(), e.resolver, e.navigator)

	view, err := h.Handle(context.Background(), GetCourseViewQuery{UserID: "kid", CourseID: "c1"})
	require.NoError(t, err)
	assert.False(t, view.IsLocked)
	require.Len(t, view.Lessons, 3)
	assert.True(t, view.Lessons[0].IsCompleted)
	assert.Equal(t, 70, view.Lessons[0].Score)
	assert.False(t, view.Lessons[1].IsAccessible, "70 is below the 80 threshold")
	assert.Equal(t, 33, view.CompletionPercentage)

	_, err = h.Handle(context.Background(), GetCourseViewQuery{UserID: "kid", CourseID: "missing"})
	assert.True(t, shared.IsNotFound(err))
}

func TestSummarize(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	at := func(d time.Duration) *time.Time { ts := now.Add(-d); return &ts }
	rows := []*progress.Progress{
		{Score: 100, Completed: true, CompletedAt: at(time.Hour)},
		{Score: 81, Completed: true, CompletedAt: at(2 * time.Hour)},
		{Score: 50, Completed: true, CompletedAt: at(26 * time.Hour)},
		{Score: 0, Completed: false},
	}
	s := Summarize(rows, 4, now)
	assert.Equal(t, 3, s.CompletedLessons)
	assert.Equal(t, 231, s.TotalScore)
	assert.Equal(t, 77, s.AverageScore)
	assert.Equal(t, 4, s.AchievementsCount)
	assert.Equal(t, 2, s.CurrentStreak)

	assert.Equal(t, DashboardStats{}, Summarize(nil, 0, now))
}

func TestDashboardAndChildren(t *testing.T) {
	e := setup(t)
	e.complete(t, "l1", 100, time.Now())
	h := NewDashboardHandler(e.store.Users(), e.store.Progress(), e.store.Achievements(), e.catalog)

	d, err := h.Handle(context.Background(), "kid")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Stats.CompletedLessons)
	assert.Len(t, d.RecentProgress, 1)
	assert.Empty(t, d.Achievements)
	require.Len(t, d.RecommendedCourses, 1)
	assert.Equal(t, "c1", d.RecommendedCourses[0].ID)

	_, err = h.Children(context.Background(), "kid", user.RoleStudent)
	assert.True(t, shared.IsForbidden(err))

	kids, err := h.Children(context.Background(), "mom", user.RoleParent)
	require.NoError(t, err)
	require.Len(t, kids, 1)
	assert.Equal(t, "kid", kids[0].ID)
	assert.Equal(t, 1, kids[0].Stats.CompletedLessons)
}

func TestDashboard_WithoutUserProfile(t *testing.T) {
	e := setup(t)
	_, _, err := e.store.Progress().RecordSubmission(context.Background(), "gateway-kid", "l1", "c1",
		progress.Submission{Code: "x", Score: 90, Valid: true, TimeSpent: 30}, time.Now())
	require.NoError(t, err)
	h := NewDashboardHandler(e.store.Users(), e.store.Progress(), e.store.Achievements(), e.catalog)

	d, err := h.Handle(context.Background(), "gateway-kid")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Stats.CompletedLessons)
	assert.Equal(t, 90, d.Stats.AverageScore)
	assert.NotNil(t, d.RecommendedCourses)
	assert.Empty(t, d.RecommendedCourses)
}

func TestAvailableCourses(t *testing.T) {
	e := setup(t)
	h := NewCatalogHandler(e.catalog)

	out, err := h.Available(context.Background(), "kid")
	require.NoError(t, err)
	assert.Equal(t, 1, out.Count)
	assert.Len(t, out.Categories.NotStarted, 1)

	cp, err := h.CourseProgress(context.Background(), "kid", "c1")
	require.NoError(t, err)
	assert.Equal(t, 3, cp.Stats.TotalLessons)
	assert.Equal(t, 1, cp.Stats.LockedLessons)
	assert.Equal(t, 1, cp.Stats.TotalDependencies)
}
