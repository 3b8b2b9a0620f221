// Package eventhandler contains handlers for domain events. They push
// progression news to learners connected over websockets.
package eventhandler

import (
	"context"
	"time"

	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/pkg/logger"
	"github.com/codekids/codekids-hub/pkg/retry"
)

// Realtime server event names.
const (
	EventAchievementEarned = "achievement-earned"
	EventLevelUp           = "level-up"
	EventLessonCompleted   = "lesson-completed"
)

// Notifier delivers realtime events. Satisfied by the Redis room bus.
type Notifier interface {
	// Broadcast sends to every connection in a lesson room.
	Broadcast(ctx context.Context, lessonID, event string, payload any) error

	// NotifyUser sends to every connection of one learner.
	NotifyUser(ctx context.Context, userID, event string, payload any) error
}

// Audience decides whether a learner gets personal notifications. A nil
// Audience lets everyone through.
type Audience func(ctx context.Context, userID string) bool

func (a Audience) allows(ctx context.Context, userID string) bool {
	return a == nil || a(ctx, userID)
}

// publishTimeout bounds a single fan-out call.
const publishTimeout = 5 * time.Second

// deliver runs send with a timeout. Failures are marked retryable so the bus
// retry middleware can repeat them.
func deliver(log *logger.Logger, event shared.Event, send func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := send(ctx); err != nil {
		log.Warn("realtime delivery failed",
			logger.String("event_type", string(event.EventType())),
			logger.Err(err),
		)
		return retry.Retryable(err)
	}
	return nil
}

// Register subscribes the realtime handlers to bus. audience filters the
// per-learner notifications; room broadcasts are not filtered.
func Register(bus shared.EventSubscriber, notifier Notifier, audience Audience, log *logger.Logger) error {
	handlers := []interface {
		EventType() shared.EventType
		Handle(shared.Event) error
	}{
		NewOnAchievementEarnedHandler(notifier, audience, log),
		NewOnLevelUpHandler(notifier, audience, log),
		NewOnLessonCompletedHandler(notifier, log),
	}
	for _, h := range handlers {
		if err := bus.Subscribe(h.EventType(), h.Handle); err != nil {
			return err
		}
	}
	return nil
}
