package eventhandler

import (
	"context"

	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ACHIEVEMENT EARNED HANDLER
// Tells every open tab of the learner about a new achievement.
// ═══════════════════════════════════════════════════════════════════════════

// OnAchievementEarnedHandler handles shared.AchievementEarnedEvent.
type OnAchievementEarnedHandler struct {
	notifier Notifier
	audience Audience
	log      *logger.Logger
}

// NewOnAchievementEarnedHandler creates the handler.
func NewOnAchievementEarnedHandler(notifier Notifier, audience Audience, log *logger.Logger) *OnAchievementEarnedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnAchievementEarnedHandler{
		notifier: notifier,
		audience: audience,
		log:      log.With(logger.Component("on_achievement_earned")),
	}
}

// AchievementEarnedPayload is the body of the achievement-earned event.
type AchievementEarnedPayload struct {
	AchievementType string `json:"achievement_type"`
	Title           string `json:"title"`
	PointsEarned    int    `json:"points_earned"`
	TotalPoints     int    `json:"total_points"`
}

// Handle implements shared.EventHandler.
func (h *OnAchievementEarnedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.AchievementEarnedEvent)
	if !ok {
		h.log.Warn("unexpected event", logger.String("event_type", string(event.EventType())))
		return nil
	}

	if !h.audience.allows(context.Background(), e.UserID) {
		return nil
	}

	payload := AchievementEarnedPayload{
		AchievementType: e.AchievementType,
		Title:           e.Title,
		PointsEarned:    e.PointsEarned,
		TotalPoints:     e.TotalPoints,
	}
	return deliver(h.log, event, func(ctx context.Context) error {
		return h.notifier.NotifyUser(ctx, e.UserID, EventAchievementEarned, payload)
	})
}

// EventType returns the handled event type.
func (h *OnAchievementEarnedHandler) EventType() shared.EventType {
	return shared.EventAchievementEarned
}
