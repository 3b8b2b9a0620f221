package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekids/codekids-hub/internal/application/command"
	"github.com/codekids/codekids-hub/internal/application/progression"
	"github.com/codekids/codekids-hub/internal/application/query"
	"github.com/codekids/codekids-hub/internal/domain/course"
	"github.com/codekids/codekids-hub/internal/domain/dependency"
	"github.com/codekids/codekids-hub/internal/domain/execution"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/internal/domain/user"
	"github.com/codekids/codekids-hub/internal/infrastructure/metrics"
	"github.com/codekids/codekids-hub/internal/infrastructure/persistence/memory"
	"github.com/codekids/codekids-hub/internal/interface/http/handlers"
	"github.com/codekids/codekids-hub/pkg/logger"
)

// echoRunner prints the code back.
type echoRunner struct{}

func (echoRunner) Execute(_ context.Context, _ shared.CodingLanguage, code string) (*execution.Result, error) {
	return &execution.Result{Success: true, Output: code}, nil
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	Meta      *ResponseMeta   `json:"meta"`
	RequestID string          `json:"request_id"`
}

type testServer struct {
	t       *testing.T
	store   *memory.Store
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()

	resolver := progression.NewResolver(s.Dependencies(), s.Progress(), s.Achievements())
	navigator := progression.NewNavigator(s.Courses(), resolver)
	catalog := progression.NewCatalog(s.Courses(), s.Users(), resolver, navigator)
	// Wednesday afternoon keeps the clock-dependent rules quiet.
	clock := func() time.Time { return time.Date(2024, 6, 5, 15, 0, 0, 0, time.UTC) }
	engine := progression.NewAchievementEngine(s.Achievements(), s.Progress(), progression.EngineConfig{Clock: clock})
	tracker := progression.NewTracker(s.Courses(), s.Progress(), s.Executions(), resolver, navigator, engine, echoRunner{}, progression.TrackerConfig{Clock: clock})

	health := handlers.NewCompositeHealthChecker("test")
	health.AddCheck("store", func(context.Context) error { return nil }, true)

	srv := NewServer(DefaultConfig(), Dependencies{
		Logger:        logger.Nop(),
		Metrics:       metrics.New(),
		HealthChecker: health,

		LessonView:   query.NewLessonViewHandler(s.Courses(), resolver, navigator),
		Dependencies: query.NewCheckDependenciesHandler(s.Courses(), resolver),
		Navigation:   query.NewNavigationHandler(navigator),
		CourseView:   query.NewCourseViewHandler(s.Courses(), resolver, navigator),
		Catalog:      query.NewCatalogHandler(catalog),
		Dashboard:    query.NewDashboardHandler(s.Users(), s.Progress(), s.Achievements(), catalog),
		Achievements: query.NewAchievementsHandler(engine),
		Hint:         query.NewHintHandler(tracker),

		SubmitLesson:      command.NewSubmitLessonHandler(tracker, nil),
		SaveCode:          command.NewSaveCodeHandler(tracker),
		Unlock:            command.NewUnlockHandler(tracker),
		CheckAchievements: command.NewCheckAchievementsHandler(engine),
		RunCode:           command.NewRunCodeHandler(tracker),
		ValidateSolution:  command.NewValidateSolutionHandler(tracker),
		Authoring:         command.NewAuthoringHandler(s.Courses(), s.Dependencies(), s.Achievements(), nil, nil),
	})

	require.NoError(t, s.Users().Create(ctx, &user.User{ID: "mom", Role: user.RoleParent, Age: 38}))
	require.NoError(t, s.Users().Create(ctx, &user.User{ID: "kid", Role: user.RoleStudent, Age: 9, ParentID: "mom", DisplayName: "Kid"}))
	require.NoError(t, s.Courses().CreateCourse(ctx, &course.Course{
		ID: "c1", Title: "Turtle Paths", Slug: "turtle-paths", AgeGroup: shared.AgeGroupMiddle, Difficulty: 1,
		CodingLanguage: shared.LanguagePython, IsActive: true,
	}))
	for i, l := range []struct{ id, expected string }{{"l1", "hello"}, {"l2", ""}, {"l3", ""}} {
		require.NoError(t, s.Courses().CreateLesson(ctx, &course.Lesson{
			ID: l.id, CourseID: "c1", Title: "Lesson " + l.id, OrderIndex: i + 1, ExpectedOutput: l.expected,
		}))
	}
	require.NoError(t, s.Dependencies().Add(ctx, &dependency.Dependency{
		Subject:     dependency.LessonSubject("l2"),
		Requirement: dependency.LessonRequirement{LessonID: "l1", Min: 80},
	}))

	return &testServer{t: t, store: s, handler: srv.Handler()}
}

func (ts *testServer) do(method, path, userID, role, body string) (*httptest.ResponseRecorder, envelope) {
	ts.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(handlers.HeaderUserID, userID)
	}
	if role != "" {
		req.Header.Set(handlers.HeaderUserRole, role)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (ts *testServer) get(path, userID string) (*httptest.ResponseRecorder, envelope) {
	return ts.do(http.MethodGet, path, userID, "", "")
}

// ══════════════════════════════════════════════════════════════════════════════
// Health & status
// ══════════════════════════════════════════════════════════════════════════════

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.get("/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.RequestID)
	assert.Equal(t, env.RequestID, rec.Header().Get("X-Request-ID"))

	rec, _ = ts.get("/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.get("/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "codekids_http_requests_total")
	assert.Contains(t, rec.Body.String(), `route="/health"`)
}

func TestRequestIDIsPropagated(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "req-42", env.RequestID)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAPIRequiresIdentity(t *testing.T) {
	ts := newTestServer(t)
	rec, env := ts.get("/api/v1/dashboard", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeUnauthorized, env.Error.Code)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	rec, env := ts.get("/api/v1/nope", "kid")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeNotFound, env.Error.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// Lessons
// ══════════════════════════════════════════════════════════════════════════════

func TestGetLesson(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.get("/api/v1/lessons/l2", "kid")
	require.Equal(t, http.StatusOK, rec.Code)
	var view struct {
		IsAccessible bool `json:"is_accessible"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.False(t, view.IsAccessible, "a locked lesson is still viewable")

	rec, env = ts.get("/api/v1/lessons/missing", "kid")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, env.Error.Code)
}

func TestSubmitLockedLesson(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(http.MethodPost, "/api/v1/lessons/l2/submit", "kid", "", `{"code":"x","timeSpent":30}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, CodeDependencyNotMet, env.Error.Code)
	assert.Equal(t, "Lesson dependencies not met", env.Error.Message)

	raw, err := json.Marshal(env.Error.Details)
	require.NoError(t, err)
	var details struct {
		Subject      string                    `json:"subject"`
		ID           string                    `json:"id"`
		Requirements []shared.UnmetRequirement `json:"requirements"`
	}
	require.NoError(t, json.Unmarshal(raw, &details))
	assert.Equal(t, "lesson", details.Subject)
	assert.Equal(t, "l2", details.ID)
	require.Len(t, details.Requirements, 1)
	assert.Equal(t, "l1", details.Requirements[0].Target)
	assert.Equal(t, 80, details.Requirements[0].MinScore)
}

func TestSubmitFlow(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(http.MethodPost, "/api/v1/lessons/l1/submit", "kid", "", `{"code":"hello","timeSpent":600}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Validation struct {
			Valid bool `json:"valid"`
			Score int  `json:"score"`
		} `json:"validation"`
		NewAchievements []json.RawMessage `json:"new_achievements"`
		NextLesson      *struct {
			ID string `json:"id"`
		} `json:"next_lesson"`
		CourseCompleted bool `json:"course_completed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Validation.Valid)
	assert.Equal(t, 100, res.Validation.Score)
	assert.Len(t, res.NewAchievements, 2)
	require.NotNil(t, res.NextLesson)
	assert.Equal(t, "l2", res.NextLesson.ID)
	assert.False(t, res.CourseCompleted)

	rec, _ = ts.get("/api/v1/lessons/l2/dependencies", "kid")
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, id := range []string{"l2", "l3"} {
		rec, _ = ts.do(http.MethodPost, "/api/v1/lessons/"+id+"/submit", "kid", "", `{"code":"done","timeSpent":600}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, env = ts.get("/api/v1/courses/c1/next?currentLessonId=l3", "kid")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "No more lessons available", env.Error.Message)
	assert.Equal(t, map[string]any{"completed_course": true}, env.Error.Details)

	rec, env = ts.get("/api/v1/dashboard", "kid")
	require.Equal(t, http.StatusOK, rec.Code)
	var dash struct {
		Stats struct {
			CompletedLessons int `json:"completedLessons"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &dash))
	assert.Equal(t, 3, dash.Stats.CompletedLessons)
}

func TestNavigationRequiresCourseID(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.get("/api/v1/lessons/l1/navigation", "kid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Course ID is required", env.Error.Message)

	rec, _ = ts.get("/api/v1/lessons/l1/navigation?courseId=c1", "kid")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSaveCodeAndBadBody(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(http.MethodPost, "/api/v1/lessons/l1/code", "kid", "", `{"code":"print('hi')"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := ts.do(http.MethodPost, "/api/v1/lessons/l1/code", "kid", "", `{"code":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid JSON body", env.Error.Message)
}

func TestUnlockAdminOverride(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(http.MethodPost, "/api/v1/lessons/l2/unlock", "kid", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := ts.do(http.MethodPost, "/api/v1/lessons/l2/unlock", "root", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		AdminOverride bool `json:"admin_override"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.AdminOverride)
}

// ══════════════════════════════════════════════════════════════════════════════
// Learner views
// ══════════════════════════════════════════════════════════════════════════════

func TestChildrenRequiresParent(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.get("/api/v1/children", "kid")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Access denied. Parent role required.", env.Error.Message)

	rec, env = ts.do(http.MethodGet, "/api/v1/children", "mom", "parent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, env.Meta.TotalCount)
}

func TestLeaderboardLimit(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.get("/api/v1/achievements/leaderboard?limit=abc", "kid")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := ts.get("/api/v1/achievements/leaderboard?limit=500", "kid")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestCourseRoutes(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{
		"/api/v1/courses",
		"/api/v1/courses/available",
		"/api/v1/courses/recommended",
		"/api/v1/courses/c1",
		"/api/v1/courses/c1/dependencies",
		"/api/v1/courses/c1/progress",
		"/api/v1/progress",
		"/api/v1/achievements",
		"/api/v1/achievements/available",
		"/api/v1/achievements/stats",
	} {
		rec, env := ts.get(path, "kid")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.True(t, env.Success, path)
	}

	rec, _ := ts.get("/api/v1/courses/missing", "kid")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// Code & authoring
// ══════════════════════════════════════════════════════════════════════════════

func TestRunAndValidateCode(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(http.MethodPost, "/api/v1/code/run", "kid", "", `{"code":"42","language":"python"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var run execution.Result
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, "42", run.Output)

	rec, _ = ts.do(http.MethodPost, "/api/v1/code/run", "kid", "", `{"code":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = ts.do(http.MethodPost, "/api/v1/code/validate", "kid", "", `{"lessonId":"l1","code":"nope"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var v execution.Validation
	require.NoError(t, json.Unmarshal(env.Data, &v))
	assert.False(t, v.Valid)

	rec, _ = ts.do(http.MethodPost, "/api/v1/code/hint", "kid", "", `{"code":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthoring(t *testing.T) {
	ts := newTestServer(t)
	body := `{"title":"Space Loops","ageGroup":"8-12","difficulty":2,"codingLanguage":"javascript"}`

	rec, env := ts.do(http.MethodPost, "/api/v1/admin/courses", "kid", "", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeForbidden, env.Error.Code)

	rec, env = ts.do(http.MethodPost, "/api/v1/admin/courses", "ms-lee", "teacher", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var c course.Course
	require.NoError(t, json.Unmarshal(env.Data, &c))
	assert.Equal(t, "space-loops", c.Slug)

	rec, _ = ts.do(http.MethodPost, "/api/v1/admin/courses/"+c.ID+"/lessons", "ms-lee", "teacher",
		`{"title":"First loop","orderIndex":1,"expectedOutput":"1 2 3"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec, _ = ts.do(http.MethodPost, "/api/v1/admin/dependencies", "ms-lee", "teacher",
		`{"subjectKind":"lesson","subjectId":"l1","type":"lesson","requiredId":"l2"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "l2 already requires l1")
}

func TestRunStopsWithContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := NewServer(cfg, Dependencies{Logger: logger.Nop()})
	assert.Zero(t, srv.Uptime())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, time.Second) }()

	require.Eventually(t, func() bool { return srv.Uptime() > 0 }, time.Second, 5*time.Millisecond)
	assert.Error(t, srv.Run(context.Background(), time.Second), "a server runs once")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
