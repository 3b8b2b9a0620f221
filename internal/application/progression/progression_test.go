package progression

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekids/codekids-hub/internal/domain/achievement"
	"github.com/codekids/codekids-hub/internal/domain/course"
	"github.com/codekids/codekids-hub/internal/domain/dependency"
	"github.com/codekids/codekids-hub/internal/domain/execution"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/internal/domain/user"
	"github.com/codekids/codekids-hub/internal/infrastructure/persistence/memory"
)

// echoRunner prints the code back, so code "hello" produces output "hello".
type echoRunner struct{}

func (echoRunner) Execute(_ context.Context, _ shared.CodingLanguage, code string) (*execution.Result, error) {
	return &execution.Result{Success: true, Output: code}, nil
}

type fixture struct {
	store    *memory.Store
	now      time.Time
	resolver *Resolver
	engine   *AchievementEngine
	nav      *Navigator
	catalog  *Catalog
	tracker  *Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		// Wednesday afternoon: no early_bird, no weekend.
		now: time.Date(2024, 6, 5, 15, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	s := f.store
	f.resolver = NewResolver(s.Dependencies(), s.Progress(), s.Achievements())
	f.engine = NewAchievementEngine(s.Achievements(), s.Progress(), EngineConfig{Clock: clock})
	f.nav = NewNavigator(s.Courses(), f.resolver)
	f.catalog = NewCatalog(s.Courses(), s.Users(), f.resolver, f.nav)
	f.tracker = NewTracker(s.Courses(), s.Progress(), s.Executions(), f.resolver, f.nav, f.engine, echoRunner{}, TrackerConfig{Clock: clock})

	require.NoError(t, s.Users().Create(context.Background(), &user.User{ID: "kid", Role: user.RoleStudent, Age: 9, DisplayName: "Kid"}))
	return f
}

func (f *fixture) course(t *testing.T, id string, group shared.AgeGroup, difficulty int, lang string) {
	t.Helper()
	require.NoError(t, f.store.Courses().CreateCourse(context.Background(), &course.Course{
		ID: id, Title: "Course " + id, Slug: id, AgeGroup: group, Difficulty: shared.Difficulty(difficulty),
		LanguageTarget: lang, CodingLanguage: shared.LanguagePython, IsActive: true,
	}))
}

func (f *fixture) lesson(t *testing.T, courseID, id string, order int, expected string) {
	t.Helper()
	require.NoError(t, f.store.Courses().CreateLesson(context.Background(), &course.Lesson{
		ID: id, CourseID: courseID, Title: "Lesson " + id, OrderIndex: order, ExpectedOutput: expected,
	}))
}

func (f *fixture) requireLesson(t *testing.T, subject, required string, min int) {
	t.Helper()
	require.NoError(t, f.store.Dependencies().Add(context.Background(), &dependency.Dependency{
		Subject:     dependency.LessonSubject(subject),
		Requirement: dependency.LessonRequirement{LessonID: required, Min: min},
	}))
}

func (f *fixture) requireAchievement(t *testing.T, subject string, key achievement.Key) {
	t.Helper()
	require.NoError(t, f.store.Dependencies().Add(context.Background(), &dependency.Dependency{
		Subject:     dependency.LessonSubject(subject),
		Requirement: dependency.AchievementRequirement{AchievementType: string(key)},
	}))
}

func (f *fixture) submit(t *testing.T, lessonID, code string) *SubmitResult {
	t.Helper()
	res, err := f.tracker.Submit(context.Background(), SubmitInput{UserID: "kid", LessonID: lessonID, Code: code, TimeSpent: 600})
	require.NoError(t, err)
	return res
}

func keys(list []*achievement.UserAchievement) []achievement.Key {
	out := make([]achievement.Key, 0, len(list))
	for _, ua := range list {
		out = append(out, ua.Key)
	}
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// Achievement engine
// ══════════════════════════════════════════════════════════════════════════════

func TestAward_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ua, err := f.engine.Award(ctx, "kid", achievement.FirstLesson)
	require.NoError(t, err)
	require.NotNil(t, ua)
	assert.Equal(t, 10, ua.PointsEarned)

	again, err := f.engine.Award(ctx, "kid", achievement.FirstLesson)
	require.NoError(t, err)
	assert.Nil(t, again)

	list, pts, err := f.engine.Earned(ctx, "kid")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 10, pts.TotalPoints)
	assert.Equal(t, 1, pts.CurrentLevel)
}

// racingRepo never sees an existing award, so only the unique insert keeps
// awards single.
type racingRepo struct {
	achievement.Repository
}

func (racingRepo) Has(context.Context, string, achievement.Key) (bool, error) { return false, nil }

func TestAward_ConcurrentInsertsRecoverFromConflict(t *testing.T) {
	f := newFixture(t)
	engine := NewAchievementEngine(racingRepo{f.store.Achievements()}, f.store.Progress(), EngineConfig{})

	var (
		wg      sync.WaitGroup
		granted atomic.Int32
		errs    = make(chan error, 20)
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ua, err := engine.Award(context.Background(), "kid", achievement.FirstLesson)
			if err != nil {
				errs <- err
				return
			}
			if ua != nil {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), granted.Load())

	list, pts, err := f.engine.Earned(context.Background(), "kid")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 10, pts.TotalPoints)
}

func TestAward_UnknownTypeIsConfigurationError(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Award(context.Background(), "kid", achievement.Key("moon_landing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrConfiguration)
}

func TestAward_PointsMonotonicAndLevels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sequence := []achievement.Key{
		achievement.FirstLesson, achievement.FirstLesson, achievement.PerfectScore,
		achievement.FastLearner, achievement.PerfectScore, achievement.LanguageExplorer,
		achievement.CodingStreak, achievement.WeekendWarrior, achievement.SpeedRacer, achievement.EarlyBird,
	}
	last := 0
	for _, k := range sequence {
		_, err := f.engine.Award(ctx, "kid", k)
		require.NoError(t, err)
		_, pts, err := f.engine.Earned(ctx, "kid")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, pts.TotalPoints, last)
		assert.Equal(t, shared.Points(pts.TotalPoints).Level().Int(), pts.CurrentLevel)
		last = pts.TotalPoints
	}

	list, pts, err := f.engine.Earned(ctx, "kid")
	require.NoError(t, err)
	sum := 0
	for _, ua := range list {
		sum += ua.PointsEarned
	}
	assert.Equal(t, sum, pts.TotalPoints)
	assert.Equal(t, 165, pts.TotalPoints)
	assert.Equal(t, 3, pts.CurrentLevel)
	assert.Equal(t, "Code Explorer", pts.LevelTitle)
}

func TestAvailableAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Award(ctx, "kid", achievement.CodingStreak)
	require.NoError(t, err)

	avail, err := f.engine.Available(ctx, "kid")
	require.NoError(t, err)
	assert.Len(t, avail, 8)
	earned := 0
	for _, a := range avail {
		if a.Earned {
			earned++
			assert.Equal(t, achievement.CodingStreak, a.Key)
			assert.NotNil(t, a.EarnedAt)
		}
	}
	assert.Equal(t, 1, earned)

	stats, err := f.engine.Stats(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEarned)
	assert.Equal(t, 30, stats.Points.TotalPoints)
	for _, c := range stats.Categories {
		if c.Category == achievement.CategoryHabit {
			assert.Equal(t, 1, c.Earned)
			assert.Equal(t, 30, c.Points)
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// Tracker
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmit_EndToEndUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.course(t, "c1", shared.AgeGroupMiddle, 1, "english")
	f.lesson(t, "c1", "l1", 1, "hello")
	f.lesson(t, "c1", "l2", 2, "")
	f.lesson(t, "c1", "l3", 3, "")
	f.requireLesson(t, "l3", "l1", 80)
	f.requireAchievement(t, "l3", achievement.FirstLesson)

	_, err := f.tracker.Submit(ctx, SubmitInput{UserID: "kid", LessonID: "l3", Code: "x"})
	dnm, ok := shared.AsDependencyNotMet(err)
	require.True(t, ok, "locked lesson must be rejected")
	require.Len(t, dnm.Unmet, 2)
	assert.Equal(t, `Complete "Lesson l1" with 80% score`, dnm.Unmet[0].Requirement)
	assert.Equal(t, 0, dnm.Unmet[0].CurrentValue)
	assert.Equal(t, dependency.ValueNotEarned, dnm.Unmet[1].CurrentValue)

	_, err = f.store.Progress().Get(ctx, "kid", "l3")
	assert.True(t, shared.IsNotFound(err), "a rejected submission writes nothing")

	// A wrong answer records an incomplete attempt and awards nothing.
	res := f.submit(t, "l1", "goodbye")
	assert.False(t, res.Validation.Valid)
	assert.False(t, res.Progress.Completed)
	assert.Empty(t, res.NewAchievements)
	assert.False(t, res.CourseCompleted)

	res = f.submit(t, "l1", "Hello")
	assert.True(t, res.Validation.Valid)
	assert.Equal(t, 100, res.Progress.Score)
	assert.ElementsMatch(t, []achievement.Key{achievement.FirstLesson, achievement.PerfectScore}, keys(res.NewAchievements))
	require.NotNil(t, res.NextLesson)
	assert.Equal(t, "l2", res.NextLesson.ID)
	assert.Equal(t, 1200, res.Progress.TimeSpent)

	_, pts, err := f.engine.Earned(ctx, "kid")
	require.NoError(t, err)
	assert.Equal(t, 20, pts.TotalPoints)
	assert.Equal(t, 1, pts.CurrentLevel)

	gate, err := f.resolver.CheckLesson(ctx, "kid", "l3")
	require.NoError(t, err)
	assert.True(t, gate.AllMet)

	res = f.submit(t, "l3", "anything")
	assert.True(t, res.Validation.Valid)
	require.NotNil(t, res.NextLesson)
	assert.Equal(t, "l2", res.NextLesson.ID, "falls back to the first open lesson")

	res = f.submit(t, "l2", "anything")
	assert.Nil(t, res.NextLesson)
	assert.True(t, res.CourseCompleted)
	assert.Equal(t, 4, f.store.ExecutionCount())
}

func TestSubmit_CompletionIsSticky(t *testing.T) {
	f := newFixture(t)
	f.course(t, "c1", shared.AgeGroupMiddle, 1, "english")
	f.lesson(t, "c1", "l1", 1, "42")

	first := f.submit(t, "l1", "42")
	require.True(t, first.Progress.Completed)
	completedAt := *first.Progress.CompletedAt

	f.now = f.now.Add(time.Hour)
	res := f.submit(t, "l1", "41")
	assert.True(t, res.Progress.Completed)
	assert.Equal(t, 0, res.Progress.Score)
	assert.Equal(t, completedAt, *res.Progress.CompletedAt)

	p, err := f.tracker.SaveCode(context.Background(), "kid", "l1", "draft")
	require.NoError(t, err)
	assert.True(t, p.Completed)
	assert.Equal(t, "draft", p.CodeSubmission)
}

func TestSubmit_CodingStreakAwardedOnce(t *testing.T) {
	f := newFixture(t)
	f.course(t, "c1", shared.AgeGroupMiddle, 1, "english")
	for i, id := range []string{"a", "b", "c", "d"} {
		f.lesson(t, "c1", id, i+1, "")
	}

	streakAwards := 0
	countStreak := func(res *SubmitResult) {
		for _, ua := range res.NewAchievements {
			if ua.Key == achievement.CodingStreak {
				streakAwards++
			}
		}
	}

	// Two completions on the 5th count as one day.
	f.now = time.Date(2024, 6, 5, 15, 0, 0, 0, time.UTC)
	countStreak(f.submit(t, "a", "x"))
	countStreak(f.submit(t, "b", "x"))
	assert.Equal(t, 0, streakAwards)

	f.now = time.Date(2024, 6, 6, 15, 0, 0, 0, time.UTC)
	countStreak(f.submit(t, "c", "x"))
	assert.Equal(t, 0, streakAwards)

	f.now = time.Date(2024, 6, 7, 15, 0, 0, 0, time.UTC)
	countStreak(f.submit(t, "d", "x"))
	countStreak(f.submit(t, "a", "x"))
	assert.Equal(t, 1, streakAwards)

	earned, err := f.engine.CheckAll(context.Background(), "kid")
	require.NoError(t, err)
	assert.Empty(t, earned)
}

func TestSubmit_LanguageExplorer(t *testing.T) {
	f := newFixture(t)
	for i, lang := range []string{"english", "spanish", "french"} {
		id := string(rune('a' + i))
		f.course(t, id, shared.AgeGroupMiddle, 1, lang)
		f.lesson(t, id, id+"1", 1, "")
	}
	f.submit(t, "a1", "x")
	f.submit(t, "b1", "x")
	res := f.submit(t, "c1", "x")
	assert.Contains(t, keys(res.NewAchievements), achievement.LanguageExplorer)
}

func TestTracker_RunValidateHint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.course(t, "c1", shared.AgeGroupMiddle, 1, "english")
	require.NoError(t, f.store.Courses().CreateLesson(ctx, &course.Lesson{
		ID: "l1", CourseID: "c1", Title: "Print", OrderIndex: 1, ExpectedOutput: "hi", Hint: "Use print()",
	}))

	res, err := f.tracker.RunCode(ctx, RunInput{UserID: "kid", LessonID: "l1", Language: shared.LanguagePython, Code: "hi"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, f.store.ExecutionCount())

	_, err = f.tracker.RunCode(ctx, RunInput{UserID: "kid", Language: shared.LanguagePython, Code: "  "})
	assert.True(t, shared.IsValidation(err))

	v, err := f.tracker.Validate(ctx, "l1", "hi")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	_, err = f.store.Progress().Get(ctx, "kid", "l1")
	assert.True(t, shared.IsNotFound(err))

	h, err := f.tracker.Hint(ctx, "l1", "")
	require.NoError(t, err)
	assert.Equal(t, "Use print()", h.Hint)

	h, err = f.tracker.Hint(ctx, "", "while true")
	require.NoError(t, err)
	assert.Equal(t, execution.ProblemLoop, h.Problem)
}

func TestUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.course(t, "c1", shared.AgeGroupMiddle, 1, "english")
	f.lesson(t, "c1", "l1", 1, "")
	f.lesson(t, "c1", "l2", 2, "")
	f.requireLesson(t, "l2", "l1", 0)

	_, err := f.tracker.Unlock(ctx, "kid", dependency.LessonSubject("l2"), false)
	assert.True(t, shared.IsDependencyNotMet(err))

	res, err := f.tracker.Unlock(ctx, "kid", dependency.LessonSubject("l2"), true)
	require.NoError(t, err)
	assert.True(t, res.AdminOverride)

	res, err = f.tracker.Unlock(ctx, "kid", dependency.LessonSubject("l1"), false)
	require.NoError(t, err)
	assert.Equal(t, "Lesson is already accessible", res.Message)

	_, err = f.tracker.Unlock(ctx, "kid", dependency.CourseSubject("nope"), false)
	assert.True(t, shared.IsNotFound(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// Navigation
// ══════════════════════════════════════════════════════════════════════════════

func TestNavigate_SkipsLockedLessons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.course(t, "c1", shared.AgeGroupMiddle, 1, "english")
	f.lesson(t, "c1", "a", 1, "")
	f.lesson(t, "c1", "b", 2, "")
	f.lesson(t, "c1", "c", 3, "")
	f.requireAchievement(t, "b", achievement.LanguageExplorer)

	nav, err := f.nav.Navigate(ctx, "c1", "kid", "a")
	require.NoError(t, err)
	assert.Nil(t, nav.Previous)
	require.NotNil(t, nav.Next)
	assert.Equal(t, "c", nav.Next.ID)
	assert.Equal(t, 1, nav.CurrentPosition)
	assert.Equal(t, 3, nav.Total)

	nav, err = f.nav.Navigate(ctx, "c1", "kid", "c")
	require.NoError(t, err)
	require.NotNil(t, nav.Previous)
	assert.Equal(t, "a", nav.Previous.ID)
	assert.Nil(t, nav.Next)
	assert.Equal(t, 3, nav.CurrentPosition)

	nav, err = f.nav.Navigate(ctx, "c1", "kid", "missing")
	require.NoError(t, err)
	assert.Nil(t, nav.Current)
	assert.Nil(t, nav.Previous)
	assert.Nil(t, nav.Next)
	assert.Equal(t, 3, nav.Total)
	assert.Equal(t, 0, nav.CurrentPosition)
}

func TestNextOpen(t *testing.T) {
	gate := func(id string, accessible, completed bool) LessonGate {
		return LessonGate{Lesson: &course.Lesson{ID: id}, Accessible: accessible, Completed: completed}
	}
	gates := []LessonGate{
		gate("a", true, false),
		gate("b", true, true),
		gate("c", false, false),
		gate("d", true, false),
	}
	assert.Equal(t, "d", NextOpen(gates, "b").ID)
	assert.Equal(t, "a", NextOpen(gates, "d").ID)
	assert.Equal(t, "a", NextOpen(gates, "unknown").ID)
	assert.Nil(t, NextOpen([]LessonGate{gate("a", true, true)}, "a"))
}

// ══════════════════════════════════════════════════════════════════════════════
// Catalog
// ══════════════════════════════════════════════════════════════════════════════

func TestListAvailable_CompletionAndLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.course(t, "c1", shared.AgeGroupMiddle, 1, "english")
	for i, id := range []string{"l1", "l2", "l3", "l4"} {
		f.lesson(t, "c1", id, i+1, "")
	}
	f.course(t, "c2", shared.AgeGroupMiddle, 2, "english")
	f.course(t, "c3", shared.AgeGroupMiddle, 3, "english")
	require.NoError(t, f.store.Dependencies().Add(ctx, &dependency.Dependency{
		Subject:     dependency.CourseSubject("c3"),
		Requirement: dependency.CourseRequirement{CourseID: "c1", Min: 100},
	}))

	f.submit(t, "l1", "x")
	f.submit(t, "l2", "x")
	f.submit(t, "l3", "x")

	entries, err := f.catalog.ListAvailable(ctx, "kid")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byID := make(map[string]*CourseEntry)
	for _, e := range entries {
		byID[e.ID] = e
	}
	assert.Equal(t, 75, byID["c1"].CompletionPercentage)
	assert.Equal(t, 3, byID["c1"].UserProgress.CompletedLessons)
	assert.Equal(t, 4, byID["c1"].UserProgress.TotalLessons)
	assert.Equal(t, 0, byID["c2"].CompletionPercentage)
	assert.False(t, byID["c3"].IsLocked, "best score in c1 is already 100")

	cats := Categorize(entries)
	assert.Len(t, cats.Available, 3)
	assert.Empty(t, cats.Locked)
	assert.Len(t, cats.InProgress, 1)
	assert.Len(t, cats.NotStarted, 2)

	stats, _, err := f.catalog.CourseStats(ctx, "c1", "kid")
	require.NoError(t, err)
	assert.Equal(t, CourseStats{TotalLessons: 4, CompletedLessons: 3, AccessibleLessons: 4, CompletionPercentage: 75}, stats)
}

func TestCategorize_Partition(t *testing.T) {
	entries := []*CourseEntry{
		{Course: &course.Course{ID: "done"}, CompletionPercentage: 100},
		{Course: &course.Course{ID: "half"}, CompletionPercentage: 50},
		{Course: &course.Course{ID: "new"}},
		{Course: &course.Course{ID: "locked"}, IsLocked: true, CompletionPercentage: 50},
	}
	c := Categorize(entries)
	assert.Len(t, c.Available, 3)
	assert.Len(t, c.Locked, 1)
	assert.Equal(t, len(entries), len(c.Available)+len(c.Locked))
	assert.Equal(t, len(c.Available), len(c.Completed)+len(c.InProgress)+len(c.NotStarted))
	assert.Equal(t, "done", c.Completed[0].ID)
	assert.Equal(t, "half", c.InProgress[0].ID)
	assert.Equal(t, "new", c.NotStarted[0].ID)
}

func TestRecommend_Ordering(t *testing.T) {
	entry := func(id string, group shared.AgeGroup, difficulty, completed int, locked bool) *CourseEntry {
		e := &CourseEntry{
			Course:   &course.Course{ID: id, AgeGroup: group, Difficulty: shared.Difficulty(difficulty)},
			IsLocked: locked,
		}
		e.UserProgress.CompletedLessons = completed
		return e
	}
	entries := []*CourseEntry{
		entry("hard", shared.AgeGroupMiddle, 4, 0, false),
		entry("easy", shared.AgeGroupMiddle, 1, 0, false),
		entry("started", shared.AgeGroupMiddle, 5, 2, false),
		entry("locked", shared.AgeGroupMiddle, 1, 0, true),
		entry("teen", shared.AgeGroupTeen, 1, 0, false),
	}
	got := Recommend(entries, shared.AgeGroupMiddle)
	ids := make([]string, len(got))
	for i, e := range got {
		ids[i] = e.ID
	}
	assert.Equal(t, []string{"started", "easy", "hard"}, ids)

	var many []*CourseEntry
	for i := 0; i < 10; i++ {
		many = append(many, entry(string(rune('a'+i)), shared.AgeGroupMiddle, 1, 0, false))
	}
	assert.Len(t, Recommend(many, shared.AgeGroupMiddle), RecommendedLimit)
}
