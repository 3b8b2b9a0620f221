package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekids/codekids-hub/internal/application/progression"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/internal/domain/user"
	"github.com/codekids/codekids-hub/internal/infrastructure/persistence/memory"
)

func newAuthoring() (*AuthoringHandler, *memory.Store) {
	s := memory.NewStore()
	return NewAuthoringHandler(s.Courses(), s.Dependencies(), s.Achievements(), nil, nil), s
}

func TestCreateCourse_SlugAndRole(t *testing.T) {
	h, _ := newAuthoring()
	ctx := context.Background()

	_, err := h.CreateCourse(ctx, CreateCourseCommand{Role: user.RoleStudent, Title: "X", AgeGroup: "8-12", Difficulty: 1})
	assert.True(t, shared.IsForbidden(err))

	c, err := h.CreateCourse(ctx, CreateCourseCommand{
		Role: user.RoleTeacher, Title: "Python Adventures: Part 1!", AgeGroup: "8-12", Difficulty: 2, CodingLanguage: "Python",
	})
	require.NoError(t, err)
	assert.Equal(t, "python-adventures-part-1", c.Slug)
	assert.Equal(t, shared.LanguagePython, c.CodingLanguage)

	_, err = h.CreateCourse(ctx, CreateCourseCommand{Role: user.RoleAdmin, Title: "Bad", AgeGroup: "99", Difficulty: 1})
	assert.True(t, shared.IsValidation(err))
}

func TestAddDependency_RejectsCycles(t *testing.T) {
	h, _ := newAuthoring()
	ctx := context.Background()

	c, err := h.CreateCourse(ctx, CreateCourseCommand{Role: user.RoleAdmin, Title: "Loops", AgeGroup: "8-12", Difficulty: 1})
	require.NoError(t, err)
	a, err := h.CreateLesson(ctx, CreateLessonCommand{Role: user.RoleAdmin, CourseID: c.ID, Title: "A", OrderIndex: 1})
	require.NoError(t, err)
	b, err := h.CreateLesson(ctx, CreateLessonCommand{Role: user.RoleAdmin, CourseID: c.ID, Title: "B", OrderIndex: 2})
	require.NoError(t, err)

	_, err = h.AddDependency(ctx, AddDependencyCommand{
		Role: user.RoleAdmin, SubjectKind: "lesson", SubjectID: b.ID, Type: "lesson", RequiredID: a.ID, MinScore: 80,
	})
	require.NoError(t, err)

	_, err = h.AddDependency(ctx, AddDependencyCommand{
		Role: user.RoleAdmin, SubjectKind: "lesson", SubjectID: a.ID, Type: "lesson", RequiredID: b.ID,
	})
	assert.ErrorIs(t, err, shared.ErrDependencyCycle)

	_, err = h.AddDependency(ctx, AddDependencyCommand{
		Role: user.RoleAdmin, SubjectKind: "lesson", SubjectID: a.ID, Type: "achievement", RequiredAchievementType: "unknown_badge",
	})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.AddDependency(ctx, AddDependencyCommand{
		Role: user.RoleAdmin, SubjectKind: "lesson", SubjectID: a.ID, Type: "achievement", RequiredAchievementType: "first_lesson",
	})
	assert.NoError(t, err)

	_, err = h.AddDependency(ctx, AddDependencyCommand{
		Role: user.RoleAdmin, SubjectKind: "quiz", SubjectID: a.ID, Type: "lesson", RequiredID: b.ID,
	})
	assert.True(t, shared.IsValidation(err))
}

type recorderStub struct {
	err error
	res *progression.SubmitResult
}

func (r recorderStub) Submit(context.Context, progression.SubmitInput) (*progression.SubmitResult, error) {
	return r.res, r.err
}

type metricsStub struct {
	submissions, rejections int
}

func (m *metricsStub) ObserveSubmission(bool, int) { m.submissions++ }
func (m *metricsStub) ObserveRejection()           { m.rejections++ }

func TestSubmitLessonHandler(t *testing.T) {
	ctx := context.Background()
	m := &metricsStub{}

	h := NewSubmitLessonHandler(recorderStub{err: shared.NewDependencyNotMet("lesson", "l1", nil)}, m)
	_, err := h.Handle(ctx, SubmitLessonCommand{UserID: "u", LessonID: "l1"})
	assert.True(t, shared.IsDependencyNotMet(err))
	_, ok := shared.AsDependencyNotMet(err)
	assert.True(t, ok)
	assert.Equal(t, 1, m.rejections)

	_, err = h.Handle(ctx, SubmitLessonCommand{UserID: "u", LessonID: "l1", TimeSpent: -1})
	assert.True(t, shared.IsValidation(err))

	h = NewSubmitLessonHandler(recorderStub{res: &progression.SubmitResult{}}, m)
	_, err = h.Handle(ctx, SubmitLessonCommand{UserID: "u", LessonID: "l1"})
	require.NoError(t, err)
	assert.Equal(t, 1, m.submissions)
}
