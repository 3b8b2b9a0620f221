package command

import (
	"context"
	"fmt"

	"github.com/gosimple/slug"

	"github.com/codekids/codekids-hub/internal/domain/achievement"
	"github.com/codekids/codekids-hub/internal/domain/course"
	"github.com/codekids/codekids-hub/internal/domain/dependency"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/internal/domain/user"
	"github.com/codekids/codekids-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHORING COMMANDS
// Teachers and admins create courses, lessons and prerequisite edges.
// New edges must keep the dependency graph acyclic.
// ══════════════════════════════════════════════════════════════════════════════

// CreateCourseCommand creates a course. The slug is derived from the title.
type CreateCourseCommand struct {
	Role           user.Role
	Title          string
	Description    string
	AgeGroup       string
	LanguageTarget string
	CodingLanguage string
	Difficulty     int
}

// CreateLessonCommand appends a lesson to a course.
type CreateLessonCommand struct {
	Role           user.Role
	CourseID       string
	Title          string
	Content        string
	OrderIndex     int
	ExpectedOutput string
	StarterCode    string
	Hint           string
	IsOptional     bool
}

// AddDependencyCommand adds a prerequisite edge.
type AddDependencyCommand struct {
	Role user.Role

	// SubjectKind is "lesson" or "course".
	SubjectKind string
	SubjectID   string

	// Type is "lesson", "course" or "achievement".
	Type                    string
	RequiredID              string
	RequiredAchievementType string
	MinScore                int
}

// Validate validates the command.
func (c AddDependencyCommand) Validate() error {
	switch dependency.SubjectKind(c.SubjectKind) {
	case dependency.SubjectLesson, dependency.SubjectCourse:
	default:
		return invalid("AddDependency", "subject must be lesson or course")
	}
	if c.SubjectID == "" {
		return invalid("AddDependency", "subject id is required")
	}
	return nil
}

// AuthoringHandler handles the authoring commands.
type AuthoringHandler struct {
	courses      course.Repository
	deps         dependency.Repository
	achievements achievement.Repository
	events       shared.EventPublisher
	log          *logger.Logger
}

// NewAuthoringHandler creates the handler.
func NewAuthoringHandler(
	courses course.Repository,
	deps dependency.Repository,
	achievements achievement.Repository,
	events shared.EventPublisher,
	log *logger.Logger,
) *AuthoringHandler {
	if events == nil {
		events = shared.NopPublisher{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &AuthoringHandler{
		courses:      courses,
		deps:         deps,
		achievements: achievements,
		events:       events,
		log:          log.With(logger.Component("authoring")),
	}
}

func authorize(role user.Role, op string) error {
	if !role.CanAuthor() {
		return shared.NewDomainError("authoring", op, shared.ErrForbidden, "only teachers and admins can author content")
	}
	return nil
}

// CreateCourse handles CreateCourseCommand.
func (h *AuthoringHandler) CreateCourse(ctx context.Context, cmd CreateCourseCommand) (*course.Course, error) {
	if err := authorize(cmd.Role, "CreateCourse"); err != nil {
		return nil, err
	}
	c := &course.Course{
		ID:             shared.NewID(),
		Title:          cmd.Title,
		Slug:           slug.Make(cmd.Title),
		Description:    cmd.Description,
		AgeGroup:       shared.AgeGroup(cmd.AgeGroup),
		LanguageTarget: cmd.LanguageTarget,
		CodingLanguage: shared.ParseCodingLanguage(cmd.CodingLanguage),
		Difficulty:     shared.Difficulty(cmd.Difficulty),
		IsActive:       true,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := h.courses.CreateCourse(ctx, c); err != nil {
		return nil, fmt.Errorf("create_course: %w", err)
	}
	h.log.Info("course created", logger.CourseID(c.ID), logger.String("slug", c.Slug))
	return c, nil
}

// CreateLesson handles CreateLessonCommand.
func (h *AuthoringHandler) CreateLesson(ctx context.Context, cmd CreateLessonCommand) (*course.Lesson, error) {
	if err := authorize(cmd.Role, "CreateLesson"); err != nil {
		return nil, err
	}
	l := &course.Lesson{
		ID:             shared.NewID(),
		CourseID:       cmd.CourseID,
		Title:          cmd.Title,
		Content:        cmd.Content,
		OrderIndex:     cmd.OrderIndex,
		ExpectedOutput: cmd.ExpectedOutput,
		StarterCode:    cmd.StarterCode,
		Hint:           cmd.Hint,
		IsOptional:     cmd.IsOptional,
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if _, err := h.courses.GetCourse(ctx, cmd.CourseID); err != nil {
		return nil, err
	}
	if err := h.courses.CreateLesson(ctx, l); err != nil {
		return nil, fmt.Errorf("create_lesson: %w", err)
	}
	h.log.Info("lesson created", logger.CourseID(l.CourseID), logger.LessonID(l.ID))
	return l, nil
}

// AddDependency handles AddDependencyCommand. It rejects edges to unknown
// targets and edges that would close a cycle.
func (h *AuthoringHandler) AddDependency(ctx context.Context, cmd AddDependencyCommand) (*dependency.Dependency, error) {
	if err := authorize(cmd.Role, "AddDependency"); err != nil {
		return nil, err
	}
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	req, err := dependency.DecodeRequirement(dependency.Type(cmd.Type), cmd.RequiredID, cmd.RequiredAchievementType, cmd.MinScore)
	if err != nil {
		return nil, err
	}

	subject := dependency.Subject{Kind: dependency.SubjectKind(cmd.SubjectKind), ID: cmd.SubjectID}
	if err := h.ensureExists(ctx, subject.Kind, subject.ID); err != nil {
		return nil, err
	}
	if err := h.ensureTarget(ctx, req); err != nil {
		return nil, err
	}

	d := &dependency.Dependency{Subject: subject, Requirement: req}
	all, err := h.deps.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("add_dependency: %w", err)
	}
	if dependency.NewGraph(all).WouldCreateCycle(*d) {
		return nil, shared.ErrDependencyCycle
	}

	if err := h.deps.Add(ctx, d); err != nil {
		return nil, fmt.Errorf("add_dependency: %w", err)
	}
	if err := h.events.Publish(shared.NewDependencyAddedEvent(string(subject.Kind), subject.ID, string(req.Type()))); err != nil {
		h.log.Warn("publish failed", logger.Operation("AddDependency"), logger.Err(err))
	}
	h.log.Info("dependency added", logger.String("subject", subject.String()), logger.String("requires", req.Target()))
	return d, nil
}

func (h *AuthoringHandler) ensureExists(ctx context.Context, kind dependency.SubjectKind, id string) error {
	var err error
	switch kind {
	case dependency.SubjectLesson:
		_, err = h.courses.GetLesson(ctx, id)
	case dependency.SubjectCourse:
		_, err = h.courses.GetCourse(ctx, id)
	}
	return err
}

func (h *AuthoringHandler) ensureTarget(ctx context.Context, req dependency.Requirement) error {
	switch r := req.(type) {
	case dependency.LessonRequirement:
		return h.ensureExists(ctx, dependency.SubjectLesson, r.LessonID)
	case dependency.CourseRequirement:
		return h.ensureExists(ctx, dependency.SubjectCourse, r.CourseID)
	case dependency.AchievementRequirement:
		_, err := h.achievements.GetType(ctx, achievement.Key(r.AchievementType))
		return err
	}
	return nil
}
