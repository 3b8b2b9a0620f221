// Package command contains write operations (CQRS - Commands).
// Commands change learner or catalog state and return the resulting view.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/codekids/codekids-hub/internal/application/progression"
	"github.com/codekids/codekids-hub/internal/domain/progress"
	"github.com/codekids/codekids-hub/internal/domain/shared"
)

func invalid(op, msg string) error {
	return shared.NewDomainError("command", op, shared.ErrInvalidInput, msg)
}

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT LESSON COMMAND
// Grades a learner's code for a lesson, records progress and awards achievements.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitLessonCommand contains the data of one submission.
type SubmitLessonCommand struct {
	UserID   string
	LessonID string
	Code     string

	// TimeSpent is the number of seconds the learner worked on this attempt.
	TimeSpent int
}

// Validate validates the command.
func (c SubmitLessonCommand) Validate() error {
	if c.UserID == "" {
		return invalid("SubmitLesson", "user_id is required")
	}
	if c.LessonID == "" {
		return invalid("SubmitLesson", "lesson_id is required")
	}
	if c.TimeSpent < 0 {
		return shared.NewDomainError("command", "SubmitLesson", shared.ErrNegativeValue, "timeSpent cannot be negative")
	}
	return nil
}

// SubmissionRecorder is satisfied by progression.Tracker.
type SubmissionRecorder interface {
	Submit(ctx context.Context, in progression.SubmitInput) (*progression.SubmitResult, error)
}

// SubmitLessonHandler handles SubmitLessonCommand.
type SubmitLessonHandler struct {
	tracker SubmissionRecorder
	metrics SubmissionMetrics
}

// SubmissionMetrics counts submission outcomes.
type SubmissionMetrics interface {
	ObserveSubmission(valid bool, newAchievements int)
	ObserveRejection()
}

// NewSubmitLessonHandler creates the handler. metrics may be nil.
func NewSubmitLessonHandler(tracker SubmissionRecorder, metrics SubmissionMetrics) *SubmitLessonHandler {
	return &SubmitLessonHandler{tracker: tracker, metrics: metrics}
}

// Handle executes the command.
func (h *SubmitLessonHandler) Handle(ctx context.Context, cmd SubmitLessonCommand) (*progression.SubmitResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	res, err := h.tracker.Submit(ctx, progression.SubmitInput{
		UserID:    cmd.UserID,
		LessonID:  cmd.LessonID,
		Code:      cmd.Code,
		TimeSpent: cmd.TimeSpent,
	})
	if err != nil {
		if h.metrics != nil && shared.IsDependencyNotMet(err) {
			h.metrics.ObserveRejection()
		}
		return nil, fmt.Errorf("submit_lesson: %w", err)
	}
	if h.metrics != nil {
		h.metrics.ObserveSubmission(res.Validation.Valid, len(res.NewAchievements))
	}
	return res, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SAVE CODE COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// SaveCodeCommand stores a draft without grading it.
type SaveCodeCommand struct {
	UserID   string
	LessonID string
	Code     string
}

// Validate validates the command.
func (c SaveCodeCommand) Validate() error {
	if c.UserID == "" || c.LessonID == "" {
		return invalid("SaveCode", "user_id and lesson_id are required")
	}
	return nil
}

// SaveCodeHandler handles SaveCodeCommand.
type SaveCodeHandler struct {
	tracker *progression.Tracker
}

// NewSaveCodeHandler creates the handler.
func NewSaveCodeHandler(tracker *progression.Tracker) *SaveCodeHandler {
	return &SaveCodeHandler{tracker: tracker}
}

// Handle executes the command.
func (h *SaveCodeHandler) Handle(ctx context.Context, cmd SaveCodeCommand) (*progress.Progress, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	p, err := h.tracker.SaveCode(ctx, cmd.UserID, cmd.LessonID, cmd.Code)
	if err != nil {
		return nil, fmt.Errorf("save_code: %w", err)
	}
	return p, nil
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }
