package eventhandler

import (
	"context"

	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/pkg/logger"
)

// OnLevelUpHandler tells the learner about a new level.
type OnLevelUpHandler struct {
	notifier Notifier
	audience Audience
	log      *logger.Logger
}

// NewOnLevelUpHandler creates the handler.
func NewOnLevelUpHandler(notifier Notifier, audience Audience, log *logger.Logger) *OnLevelUpHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnLevelUpHandler{notifier: notifier, audience: audience, log: log.With(logger.Component("on_level_up"))}
}

// Handle implements shared.EventHandler.
func (h *OnLevelUpHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.LevelUpEvent)
	if !ok || !h.audience.allows(context.Background(), e.UserID) {
		return nil
	}
	return deliver(h.log, event, func(ctx context.Context) error {
		return h.notifier.NotifyUser(ctx, e.UserID, EventLevelUp, map[string]any{
			"old_level":   e.OldLevel,
			"new_level":   e.NewLevel,
			"level_title": e.LevelTitle,
		})
	})
}

// EventType returns the handled event type.
func (h *OnLevelUpHandler) EventType() shared.EventType {
	return shared.EventLevelUp
}
