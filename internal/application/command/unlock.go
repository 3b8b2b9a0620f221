package command

import (
	"context"
	"fmt"

	"github.com/codekids/codekids-hub/internal/application/progression"
	"github.com/codekids/codekids-hub/internal/domain/achievement"
	"github.com/codekids/codekids-hub/internal/domain/dependency"
	"github.com/codekids/codekids-hub/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// UNLOCK COMMAND
// Reports whether a lesson or course can be opened. Admins may override.
// ══════════════════════════════════════════════════════════════════════════════

// UnlockCommand asks to open a lesson or course.
type UnlockCommand struct {
	UserID  string
	Role    user.Role
	Subject dependency.Subject
}

// Validate validates the command.
func (c UnlockCommand) Validate() error {
	if c.UserID == "" || c.Subject.ID == "" {
		return invalid("Unlock", "user_id and subject id are required")
	}
	return nil
}

// UnlockHandler handles UnlockCommand.
type UnlockHandler struct {
	tracker *progression.Tracker
}

// NewUnlockHandler creates the handler.
func NewUnlockHandler(tracker *progression.Tracker) *UnlockHandler {
	return &UnlockHandler{tracker: tracker}
}

// Handle executes the command.
func (h *UnlockHandler) Handle(ctx context.Context, cmd UnlockCommand) (*progression.UnlockResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	res, err := h.tracker.Unlock(ctx, cmd.UserID, cmd.Subject, cmd.Role.CanOverrideLocks())
	if err != nil {
		return nil, fmt.Errorf("unlock: %w", err)
	}
	return res, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECK ACHIEVEMENTS COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// CheckAchievementsCommand re-evaluates stored-state rules for a learner.
type CheckAchievementsCommand struct {
	UserID string
}

// CheckAchievementsHandler handles CheckAchievementsCommand.
type CheckAchievementsHandler struct {
	engine *progression.AchievementEngine
}

// NewCheckAchievementsHandler creates the handler.
func NewCheckAchievementsHandler(engine *progression.AchievementEngine) *CheckAchievementsHandler {
	return &CheckAchievementsHandler{engine: engine}
}

// Handle executes the command and returns the newly earned achievements.
func (h *CheckAchievementsHandler) Handle(ctx context.Context, cmd CheckAchievementsCommand) ([]*achievement.UserAchievement, error) {
	if cmd.UserID == "" {
		return nil, invalid("CheckAchievements", "user_id is required")
	}
	earned, err := h.engine.CheckAll(ctx, cmd.UserID)
	if err != nil {
		return nil, fmt.Errorf("check_achievements: %w", err)
	}
	if earned == nil {
		earned = []*achievement.UserAchievement{}
	}
	return earned, nil
}
