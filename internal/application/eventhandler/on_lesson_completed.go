package eventhandler

import (
	"context"

	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON LESSON COMPLETED HANDLER
// Lets classmates in the lesson room see who finished. Only the first
// completion of a lesson emits the event.
// ═══════════════════════════════════════════════════════════════════════════

// OnLessonCompletedHandler handles shared.LessonCompletedEvent.
type OnLessonCompletedHandler struct {
	notifier Notifier
	log      *logger.Logger
}

// NewOnLessonCompletedHandler creates the handler.
func NewOnLessonCompletedHandler(notifier Notifier, log *logger.Logger) *OnLessonCompletedHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnLessonCompletedHandler{
		notifier: notifier,
		log:      log.With(logger.Component("on_lesson_completed")),
	}
}

// Handle implements shared.EventHandler.
func (h *OnLessonCompletedHandler) Handle(event shared.Event) error {
	e, ok := event.(shared.LessonCompletedEvent)
	if !ok {
		return nil
	}
	h.log.Info("lesson completed",
		logger.UserID(e.UserID),
		logger.LessonID(e.LessonID),
		logger.Score(e.Score),
	)
	return deliver(h.log, event, func(ctx context.Context) error {
		return h.notifier.Broadcast(ctx, e.LessonID, EventLessonCompleted, map[string]any{
			"user_id": e.UserID,
			"score":   e.Score,
		})
	})
}

// EventType returns the handled event type.
func (h *OnLessonCompletedHandler) EventType() shared.EventType {
	return shared.EventLessonCompleted
}
