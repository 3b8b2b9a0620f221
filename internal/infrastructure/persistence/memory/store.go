// Package memory is an in-process implementation of every repository interface.
// It backs the test suites and the DB_DRIVER=memory development mode.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codekids/codekids-hub/internal/domain/achievement"
	"github.com/codekids/codekids-hub/internal/domain/course"
	"github.com/codekids/codekids-hub/internal/domain/dependency"
	"github.com/codekids/codekids-hub/internal/domain/progress"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/internal/domain/user"
)

// Store holds all tables behind one lock.
type Store struct {
	mu sync.RWMutex

	users      map[string]*user.User
	courses    map[string]*course.Course
	lessons    map[string]*course.Lesson
	deps       []*dependency.Dependency
	types      map[achievement.Key]achievement.Type
	earned     map[string]map[achievement.Key]*achievement.UserAchievement
	points     map[string]*achievement.UserPoints
	progress   map[string]*progress.Progress // key: user|lesson
	executions []*progress.Execution
}

// NewStore returns an empty store seeded with the default achievement catalog.
func NewStore() *Store {
	s := &Store{
		users:    make(map[string]*user.User),
		courses:  make(map[string]*course.Course),
		lessons:  make(map[string]*course.Lesson),
		types:    make(map[achievement.Key]achievement.Type),
		earned:   make(map[string]map[achievement.Key]*achievement.UserAchievement),
		points:   make(map[string]*achievement.UserPoints),
		progress: make(map[string]*progress.Progress),
	}
	for _, t := range achievement.DefaultCatalog() {
		s.types[t.Key] = t
	}
	return s
}

// Users returns the user repository view.
func (s *Store) Users() user.Repository { return userRepo{s} }

// Courses returns the catalog repository view.
func (s *Store) Courses() course.Repository { return courseRepo{s} }

// Dependencies returns the dependency repository view.
func (s *Store) Dependencies() dependency.Repository { return dependencyRepo{s} }

// Achievements returns the achievement repository view.
func (s *Store) Achievements() achievement.Repository { return achievementRepo{s} }

// Progress returns the progress repository view.
func (s *Store) Progress() progress.Repository { return progressRepo{s} }

// Executions returns the execution audit repository view.
func (s *Store) Executions() progress.ExecutionRepository { return executionRepo{s} }

// ExecutionCount is used by tests to inspect the audit trail.
func (s *Store) ExecutionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.executions)
}

func progressKey(userID, lessonID string) string {
	return userID + "|" + lessonID
}

func alreadyExists(domain, op, msg string) error {
	return shared.NewDomainError(domain, op, shared.ErrAlreadyExists, msg)
}

// ══════════════════════════════════════════════════════════════════════════════
// USERS
// ══════════════════════════════════════════════════════════════════════════════

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, u *user.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.ID]; ok {
		return alreadyExists("user", "Create", "user already exists")
	}
	cp := *u
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	r.s.users[u.ID] = &cp
	return nil
}

func (r userRepo) GetByID(_ context.Context, id string) (*user.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, shared.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r userRepo) ListChildren(_ context.Context, parentID string) ([]*user.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*user.User
	for _, u := range r.s.users {
		if u.ParentID == parentID {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayName < out[j].DisplayName })
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSES & LESSONS
// ══════════════════════════════════════════════════════════════════════════════

type courseRepo struct{ s *Store }

func (r courseRepo) CreateCourse(_ context.Context, c *course.Course) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.courses {
		if c.Slug != "" && existing.Slug == c.Slug {
			return alreadyExists("course", "Create", "slug already taken")
		}
	}
	if c.ID == "" {
		c.ID = shared.NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	cp := *c
	r.s.courses[c.ID] = &cp
	return nil
}

func (r courseRepo) GetCourse(_ context.Context, id string) (*course.Course, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.courses[id]
	if !ok {
		return nil, shared.ErrCourseNotFound
	}
	cp := *c
	return &cp, nil
}

func (r courseRepo) ListCourses(_ context.Context) ([]*course.Course, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*course.Course, 0, len(r.s.courses))
	for _, c := range r.s.courses {
		if !c.IsActive {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Difficulty != out[j].Difficulty {
			return out[i].Difficulty < out[j].Difficulty
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

func (r courseRepo) CreateLesson(_ context.Context, l *course.Lesson) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.courses[l.CourseID]; !ok {
		return shared.ErrCourseNotFound
	}
	for _, existing := range r.s.lessons {
		if existing.CourseID == l.CourseID && existing.OrderIndex == l.OrderIndex {
			return alreadyExists("lesson", "Create", "order_index already used in course")
		}
	}
	if l.ID == "" {
		l.ID = shared.NewID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	cp := *l
	r.s.lessons[l.ID] = &cp
	return nil
}

func (r courseRepo) GetLesson(_ context.Context, id string) (*course.Lesson, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	l, ok := r.s.lessons[id]
	if !ok {
		return nil, shared.ErrLessonNotFound
	}
	return r.s.lessonView(l), nil
}

func (r courseRepo) ListLessons(_ context.Context, courseID string) ([]*course.Lesson, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*course.Lesson
	for _, l := range r.s.lessons {
		if l.CourseID == courseID {
			out = append(out, r.s.lessonView(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func (r courseRepo) LessonCounts(_ context.Context) (map[string]int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string]int)
	for _, l := range r.s.lessons {
		out[l.CourseID]++
	}
	return out, nil
}

// lessonView copies l and fills the course's coding language. Caller holds the lock.
func (s *Store) lessonView(l *course.Lesson) *course.Lesson {
	cp := *l
	if c, ok := s.courses[l.CourseID]; ok {
		cp.CodingLanguage = c.CodingLanguage
	}
	return &cp
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

type dependencyRepo struct{ s *Store }

func (r dependencyRepo) ListForSubject(_ context.Context, subject dependency.Subject) ([]dependency.Dependency, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []dependency.Dependency
	for _, d := range r.s.deps {
		if d.Subject == subject {
			out = append(out, r.s.withTitle(*d))
		}
	}
	return out, nil
}

func (r dependencyRepo) ListForSubjects(_ context.Context, kind dependency.SubjectKind, ids []string) (map[string][]dependency.Dependency, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[string][]dependency.Dependency)
	for _, d := range r.s.deps {
		if d.Subject.Kind == kind && want[d.Subject.ID] {
			out[d.Subject.ID] = append(out[d.Subject.ID], r.s.withTitle(*d))
		}
	}
	return out, nil
}

func (r dependencyRepo) ListAll(_ context.Context) ([]dependency.Dependency, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]dependency.Dependency, 0, len(r.s.deps))
	for _, d := range r.s.deps {
		out = append(out, r.s.withTitle(*d))
	}
	return out, nil
}

func (r dependencyRepo) Add(_ context.Context, d *dependency.Dependency) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if d.ID == "" {
		d.ID = shared.NewID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	cp := *d
	r.s.deps = append(r.s.deps, &cp)
	return nil
}

// withTitle resolves the display title of the target. Caller holds the lock.
func (s *Store) withTitle(d dependency.Dependency) dependency.Dependency {
	d.TargetTitle = ""
	switch req := d.Requirement.(type) {
	case dependency.LessonRequirement:
		if l, ok := s.lessons[req.LessonID]; ok {
			d.TargetTitle = l.Title
		}
	case dependency.CourseRequirement:
		if c, ok := s.courses[req.CourseID]; ok {
			d.TargetTitle = c.Title
		}
	case dependency.AchievementRequirement:
		if t, ok := s.types[achievement.Key(req.AchievementType)]; ok {
			d.TargetTitle = t.Title
		}
	}
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

type achievementRepo struct{ s *Store }

func (r achievementRepo) ListTypes(_ context.Context) ([]achievement.Type, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]achievement.Type, 0, len(r.s.types))
	for _, t := range r.s.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (r achievementRepo) GetType(_ context.Context, key achievement.Key) (*achievement.Type, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.types[key]
	if !ok {
		return nil, shared.ErrAchievementTypeNotFound
	}
	return &t, nil
}

func (r achievementRepo) Has(_ context.Context, userID string, key achievement.Key) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.earned[userID][key]
	return ok, nil
}

func (r achievementRepo) Award(_ context.Context, ua *achievement.UserAchievement) (*achievement.UserPoints, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	byKey, ok := r.s.earned[ua.UserID]
	if !ok {
		byKey = make(map[achievement.Key]*achievement.UserAchievement)
		r.s.earned[ua.UserID] = byKey
	}
	if _, dup := byKey[ua.Key]; dup {
		return nil, alreadyExists("achievement", "Award", "achievement already awarded")
	}
	cp := *ua
	byKey[ua.Key] = &cp

	pts, ok := r.s.points[ua.UserID]
	if !ok {
		pts = achievement.NewUserPoints(ua.UserID)
		r.s.points[ua.UserID] = pts
	}
	pts.Add(ua.PointsEarned, ua.EarnedAt)
	out := *pts
	return &out, nil
}

func (r achievementRepo) ListByUser(_ context.Context, userID string) ([]*achievement.UserAchievement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*achievement.UserAchievement, 0, len(r.s.earned[userID]))
	for _, ua := range r.s.earned[userID] {
		cp := *ua
		if t, ok := r.s.types[ua.Key]; ok {
			cp.Category = t.Category
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EarnedAt.Equal(out[j].EarnedAt) {
			return out[i].EarnedAt.After(out[j].EarnedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (r achievementRepo) GetPoints(_ context.Context, userID string) (*achievement.UserPoints, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if p, ok := r.s.points[userID]; ok {
		cp := *p
		return &cp, nil
	}
	return achievement.NewUserPoints(userID), nil
}

func (r achievementRepo) TopPoints(_ context.Context, limit int) ([]achievement.LeaderboardEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rows := make([]*achievement.UserPoints, 0, len(r.s.points))
	for _, p := range r.s.points {
		rows = append(rows, p)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalPoints != rows[j].TotalPoints {
			return rows[i].TotalPoints > rows[j].TotalPoints
		}
		return rows[i].UserID < rows[j].UserID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]achievement.LeaderboardEntry, 0, len(rows))
	for i, p := range rows {
		name := p.UserID
		if u, ok := r.s.users[p.UserID]; ok && u.DisplayName != "" {
			name = u.DisplayName
		}
		out = append(out, achievement.LeaderboardEntry{
			Rank:         i + 1,
			UserID:       p.UserID,
			DisplayName:  name,
			TotalPoints:  p.TotalPoints,
			CurrentLevel: p.CurrentLevel,
			LevelTitle:   p.LevelTitle,
		})
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

type progressRepo struct{ s *Store }

func (r progressRepo) Get(_ context.Context, userID, lessonID string) (*progress.Progress, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.progress[progressKey(userID, lessonID)]
	if !ok {
		return nil, shared.NewDomainError("progress", "Get", shared.ErrNotFound, "no progress for lesson")
	}
	cp := *p
	return &cp, nil
}

func (r progressRepo) SaveCode(_ context.Context, userID, lessonID, courseID, code string, now time.Time) (*progress.Progress, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := progressKey(userID, lessonID)
	p, ok := r.s.progress[key]
	if !ok {
		p = progress.NewDraft(userID, lessonID, courseID, code, now)
		r.s.progress[key] = p
	} else {
		p.SaveCode(code, now)
	}
	cp := *p
	return &cp, nil
}

func (r progressRepo) RecordSubmission(_ context.Context, userID, lessonID, courseID string, sub progress.Submission, now time.Time) (*progress.Progress, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := progressKey(userID, lessonID)
	p, ok := r.s.progress[key]
	if !ok {
		p = progress.NewDraft(userID, lessonID, courseID, "", now)
		r.s.progress[key] = p
	}
	became := p.Apply(sub, now)
	cp := *p
	return &cp, became, nil
}

func (r progressRepo) ListByUser(_ context.Context, userID string) ([]*progress.Progress, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*progress.Progress
	for _, p := range r.s.progress {
		if p.UserID != userID {
			continue
		}
		cp := *p
		if l, ok := r.s.lessons[p.LessonID]; ok {
			cp.LessonTitle = l.Title
			cp.OrderIndex = l.OrderIndex
		}
		if c, ok := r.s.courses[p.CourseID]; ok {
			cp.CourseTitle = c.Title
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].LessonID < out[j].LessonID
	})
	return out, nil
}

func (r progressRepo) Summary(_ context.Context, userID string) (*progress.Summary, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sum := &progress.Summary{}
	langs := make(map[string]struct{})
	for _, p := range r.s.progress {
		if p.UserID != userID || !p.Completed {
			continue
		}
		sum.CompletedCount++
		if p.CompletedAt != nil {
			sum.CompletionTimes = append(sum.CompletionTimes, *p.CompletedAt)
		}
		if l, ok := r.s.lessons[p.LessonID]; ok {
			if c, ok := r.s.courses[l.CourseID]; ok && c.LanguageTarget != "" {
				langs[strings.ToLower(c.LanguageTarget)] = struct{}{}
			}
		}
	}
	sum.DistinctLanguages = len(langs)
	return sum, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTIONS
// ══════════════════════════════════════════════════════════════════════════════

type executionRepo struct{ s *Store }

func (r executionRepo) Record(_ context.Context, e *progress.Execution) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e.ID == "" {
		e.ID = shared.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	cp := *e
	r.s.executions = append(r.s.executions, &cp)
	return nil
}
