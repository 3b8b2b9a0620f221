package command

import (
	"context"
	"fmt"

	"github.com/codekids/codekids-hub/internal/application/progression"
	"github.com/codekids/codekids-hub/internal/domain/execution"
	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RUN CODE COMMAND
// Executes learner code without grading. Runs tied to a lesson are audited.
// ══════════════════════════════════════════════════════════════════════════════

// RunCodeCommand contains the code to run.
type RunCodeCommand struct {
	UserID   string
	Language string
	Code     string

	// LessonID is optional. When set the run is recorded in the execution audit.
	LessonID string
}

// Validate validates the command.
func (c RunCodeCommand) Validate() error {
	if c.UserID == "" {
		return invalid("RunCode", "user_id is required")
	}
	if blank(c.Code) {
		return shared.NewDomainError("command", "RunCode", shared.ErrEmptyValue, "code is required")
	}
	return nil
}

// RunCodeHandler handles RunCodeCommand.
type RunCodeHandler struct {
	tracker *progression.Tracker
}

// NewRunCodeHandler creates the handler.
func NewRunCodeHandler(tracker *progression.Tracker) *RunCodeHandler {
	return &RunCodeHandler{tracker: tracker}
}

// Handle executes the command.
func (h *RunCodeHandler) Handle(ctx context.Context, cmd RunCodeCommand) (*execution.Result, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	res, err := h.tracker.RunCode(ctx, progression.RunInput{
		UserID:   cmd.UserID,
		LessonID: cmd.LessonID,
		Language: shared.ParseCodingLanguage(cmd.Language),
		Code:     cmd.Code,
	})
	if err != nil {
		return nil, fmt.Errorf("run_code: %w", err)
	}
	return res, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// VALIDATE SOLUTION COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// ValidateSolutionCommand grades code against a lesson without saving progress.
type ValidateSolutionCommand struct {
	LessonID string
	Code     string
}

// Validate validates the command.
func (c ValidateSolutionCommand) Validate() error {
	if c.LessonID == "" {
		return invalid("ValidateSolution", "lessonId is required")
	}
	return nil
}

// ValidateSolutionHandler handles ValidateSolutionCommand.
type ValidateSolutionHandler struct {
	tracker *progression.Tracker
}

// NewValidateSolutionHandler creates the handler.
func NewValidateSolutionHandler(tracker *progression.Tracker) *ValidateSolutionHandler {
	return &ValidateSolutionHandler{tracker: tracker}
}

// Handle executes the command.
func (h *ValidateSolutionHandler) Handle(ctx context.Context, cmd ValidateSolutionCommand) (*execution.Validation, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	v, err := h.tracker.Validate(ctx, cmd.LessonID, cmd.Code)
	if err != nil {
		return nil, fmt.Errorf("validate_solution: %w", err)
	}
	return &v, nil
}
