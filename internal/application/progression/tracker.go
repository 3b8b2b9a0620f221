package progression

import (
	"context"
	"fmt"
	"strings"

	"github.com/codekids/codekids-hub/internal/domain/achievement"
	"github.com/codekids/codekids-hub/internal/domain/course"
	"github.com/codekids/codekids-hub/internal/domain/dependency"
	"github.com/codekids/codekids-hub/internal/domain/execution"
	"github.com/codekids/codekids-hub/internal/domain/progress"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESSION TRACKER
// Per (user, lesson): NotStarted -> InProgress -> Completed.
// ══════════════════════════════════════════════════════════════════════════════

// TrackerConfig configures the tracker.
type TrackerConfig struct {
	Clock     Clock
	Publisher shared.EventPublisher
	Logger    *logger.Logger
}

// Tracker records drafts and graded submissions.
type Tracker struct {
	courses    course.Repository
	progress   progress.Repository
	executions progress.ExecutionRepository
	resolver   *Resolver
	navigator  *Navigator
	engine     *AchievementEngine
	runner     execution.Runner
	clock      Clock
	events     shared.EventPublisher
	log        *logger.Logger
}

// NewTracker creates a tracker.
func NewTracker(
	courses course.Repository,
	prog progress.Repository,
	executions progress.ExecutionRepository,
	resolver *Resolver,
	navigator *Navigator,
	engine *AchievementEngine,
	runner execution.Runner,
	cfg TrackerConfig,
) *Tracker {
	t := &Tracker{
		courses:    courses,
		progress:   prog,
		executions: executions,
		resolver:   resolver,
		navigator:  navigator,
		engine:     engine,
		runner:     runner,
		clock:      defaultClock(cfg.Clock),
		events:     cfg.Publisher,
		log:        cfg.Logger,
	}
	if t.events == nil {
		t.events = shared.NopPublisher{}
	}
	if t.log == nil {
		t.log = logger.Nop()
	}
	t.log = t.log.With(logger.Component("progression_tracker"))
	return t
}

// SaveCode stores a draft. A completed row keeps its completion and score.
func (t *Tracker) SaveCode(ctx context.Context, userID, lessonID, code string) (*progress.Progress, error) {
	lesson, err := t.courses.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	p, err := t.progress.SaveCode(ctx, userID, lessonID, lesson.CourseID, code, t.clock())
	if err != nil {
		return nil, fmt.Errorf("save code: %w", err)
	}
	if err := t.events.Publish(shared.NewCodeSavedEvent(userID, lessonID)); err != nil {
		t.log.Warn("publish code saved failed", logger.Err(err))
	}
	return p, nil
}

// SubmitInput is one graded attempt.
type SubmitInput struct {
	UserID    string
	LessonID  string
	Code      string
	TimeSpent int
}

// SubmitResult is what a learner sees after submitting.
type SubmitResult struct {
	Progress        *progress.Progress             `json:"progress"`
	Validation      execution.Validation           `json:"validation"`
	NewAchievements []*achievement.UserAchievement `json:"new_achievements"`
	NextLesson      *course.Lesson                 `json:"next_lesson"`
	CourseCompleted bool                           `json:"course_completed"`
}

// Submit grades code for a lesson and records the outcome. A locked lesson
// that the learner has not completed before is rejected with
// *shared.DependencyNotMetError and nothing is written.
func (t *Tracker) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	lesson, err := t.courses.GetLesson(ctx, in.LessonID)
	if err != nil {
		return nil, err
	}
	log := t.log.With(logger.UserID(in.UserID), logger.LessonID(in.LessonID))

	snap, err := t.resolver.Load(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	gate, err := t.resolver.Check(ctx, dependency.LessonSubject(lesson.ID), snap)
	if err != nil {
		return nil, err
	}
	if !gate.AllMet && !snap.IsCompleted(lesson.ID) {
		log.Info("submission rejected by prerequisites", logger.Int("unmet", len(gate.Unmet)))
		return nil, shared.NewDependencyNotMet("lesson", lesson.ID, gate.UnmetRequirements())
	}

	validation := execution.Accept()
	if lesson.HasExpectedOutput() {
		validation = execution.Validate(ctx, t.runner, lesson.CodingLanguage, in.Code, lesson.ExpectedOutput)
	}

	t.audit(ctx, &progress.Execution{
		UserID:       in.UserID,
		LessonID:     lesson.ID,
		Code:         in.Code,
		Output:       validation.ActualOutput,
		Success:      validation.Valid,
		ErrorMessage: failureText(validation),
	})

	now := t.clock()
	p, became, err := t.progress.RecordSubmission(ctx, in.UserID, lesson.ID, lesson.CourseID, progress.Submission{
		Code:      in.Code,
		Score:     validation.Score,
		Valid:     validation.Valid,
		TimeSpent: in.TimeSpent,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("record submission: %w", err)
	}

	earned, err := t.engine.CheckSubmission(ctx, in.UserID, SubmissionFacts{
		Completed:   validation.Valid,
		Score:       validation.Score,
		TimeSpent:   in.TimeSpent,
		CompletedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("check achievements: %w", err)
	}

	next, err := t.navigator.NextAccessible(ctx, lesson.CourseID, in.UserID, lesson.ID)
	if err != nil {
		return nil, err
	}

	if became {
		if err := t.events.Publish(shared.NewLessonCompletedEvent(in.UserID, lesson.ID, lesson.CourseID, p.Score, p.TimeSpent)); err != nil {
			log.Warn("publish lesson completed failed", logger.Err(err))
		}
	}
	log.Info("lesson submitted",
		logger.Score(validation.Score),
		logger.Bool("valid", validation.Valid),
		logger.Int("new_achievements", len(earned)),
	)

	if earned == nil {
		earned = []*achievement.UserAchievement{}
	}
	return &SubmitResult{
		Progress:        p,
		Validation:      validation,
		NewAchievements: earned,
		NextLesson:      next,
		CourseCompleted: validation.Valid && next == nil,
	}, nil
}

func failureText(v execution.Validation) string {
	if v.Valid {
		return ""
	}
	return v.Feedback
}

func (t *Tracker) audit(ctx context.Context, e *progress.Execution) {
	if t.executions == nil {
		return
	}
	if err := t.executions.Record(ctx, e); err != nil {
		t.log.Warn("record execution failed", logger.Err(err), logger.LessonID(e.LessonID))
	}
}

// RunInput is an ungraded run.
type RunInput struct {
	UserID   string
	LessonID string
	Language shared.CodingLanguage
	Code     string
}

// RunCode executes code without grading. A lesson id adds an audit row.
func (t *Tracker) RunCode(ctx context.Context, in RunInput) (*execution.Result, error) {
	if strings.TrimSpace(in.Code) == "" {
		return nil, shared.NewDomainError("executor", "Run", shared.ErrEmptyValue, "code is required")
	}
	res, err := t.runner.Execute(ctx, in.Language, in.Code)
	if err != nil {
		return nil, err
	}
	if in.LessonID != "" {
		t.audit(ctx, &progress.Execution{
			UserID:       in.UserID,
			LessonID:     in.LessonID,
			Code:         in.Code,
			Output:       res.Output,
			Success:      res.Success,
			ErrorMessage: res.Error,
		})
	}
	return res, nil
}

// Validate grades code against a lesson without recording progress.
func (t *Tracker) Validate(ctx context.Context, lessonID, code string) (execution.Validation, error) {
	lesson, err := t.courses.GetLesson(ctx, lessonID)
	if err != nil {
		return execution.Validation{}, err
	}
	return execution.Validate(ctx, t.runner, lesson.CodingLanguage, code, lesson.ExpectedOutput), nil
}

// Hint returns help for a lesson. An empty lesson id yields a canned hint.
func (t *Tracker) Hint(ctx context.Context, lessonID, code string) (execution.Hint, error) {
	authored := ""
	if lessonID != "" {
		lesson, err := t.courses.GetLesson(ctx, lessonID)
		if err != nil {
			return execution.Hint{}, err
		}
		authored = lesson.Hint
	}
	return execution.HintFor(authored, code), nil
}

// UnlockResult reports how a lock request was resolved.
type UnlockResult struct {
	Message       string            `json:"message"`
	Subject       any               `json:"subject"`
	Dependencies  dependency.Result `json:"dependencies"`
	AdminOverride bool              `json:"admin_override"`
}

// Unlock reports whether the caller may open a lesson or course. Admins bypass
// unmet prerequisites; nothing is persisted either way.
func (t *Tracker) Unlock(ctx context.Context, userID string, subject dependency.Subject, override bool) (*UnlockResult, error) {
	var item any
	switch subject.Kind {
	case dependency.SubjectLesson:
		l, err := t.courses.GetLesson(ctx, subject.ID)
		if err != nil {
			return nil, err
		}
		item = l
	case dependency.SubjectCourse:
		c, err := t.courses.GetCourse(ctx, subject.ID)
		if err != nil {
			return nil, err
		}
		item = c
	default:
		return nil, shared.NewDomainError("progression", "Unlock", shared.ErrInvalidInput, "unknown subject kind")
	}

	snap, err := t.resolver.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	res, err := t.resolver.Check(ctx, subject, snap)
	if err != nil {
		return nil, err
	}

	label := "Lesson"
	if subject.Kind == dependency.SubjectCourse {
		label = "Course"
	}
	switch {
	case res.AllMet:
		return &UnlockResult{Message: label + " is already accessible", Subject: item, Dependencies: res}, nil
	case override:
		t.log.Info("prerequisites overridden", logger.UserID(userID), logger.String("subject", subject.String()))
		return &UnlockResult{Message: label + " unlocked by admin override", Subject: item, Dependencies: res, AdminOverride: true}, nil
	default:
		return nil, shared.NewDependencyNotMet(string(subject.Kind), subject.ID, res.UnmetRequirements())
	}
}
