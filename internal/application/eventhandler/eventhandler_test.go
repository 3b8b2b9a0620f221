package eventhandler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/internal/infrastructure/messaging"
	"github.com/codekids/codekids-hub/pkg/retry"
)

type sent struct {
	target, event string
	payload       any
}

type recordingNotifier struct {
	rooms, users []sent
	err          error
}

func (n *recordingNotifier) Broadcast(_ context.Context, lessonID, event string, payload any) error {
	n.rooms = append(n.rooms, sent{lessonID, event, payload})
	return n.err
}

func (n *recordingNotifier) NotifyUser(_ context.Context, userID, event string, payload any) error {
	n.users = append(n.users, sent{userID, event, payload})
	return n.err
}

func TestRegister_RoutesEvents(t *testing.T) {
	bus := messaging.NewBus(messaging.Config{})
	n := &recordingNotifier{}
	require.NoError(t, Register(bus, n, nil, nil))

	require.NoError(t, bus.Publish(shared.NewAchievementEarnedEvent("u1", "first_lesson", "First Steps", 10, 10)))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, "Explorer")))
	require.NoError(t, bus.Publish(shared.NewLessonCompletedEvent("u1", "l1", "c1", 95, 120)))
	require.NoError(t, bus.Publish(shared.NewCodeSavedEvent("u1", "l1")))

	require.Len(t, n.users, 2)
	assert.Equal(t, sent{"u1", EventAchievementEarned, AchievementEarnedPayload{
		AchievementType: "first_lesson", Title: "First Steps", PointsEarned: 10, TotalPoints: 10,
	}}, n.users[0])
	assert.Equal(t, EventLevelUp, n.users[1].event)

	require.Len(t, n.rooms, 1)
	assert.Equal(t, "l1", n.rooms[0].target)
	assert.Equal(t, EventLessonCompleted, n.rooms[0].event)
}

func TestDeliveryFailureIsRetryable(t *testing.T) {
	n := &recordingNotifier{err: errors.New("redis down")}
	h := NewOnAchievementEarnedHandler(n, nil, nil)

	err := h.Handle(shared.NewAchievementEarnedEvent("u1", "perfect_score", "Perfect Score", 10, 20))
	require.Error(t, err)
	assert.True(t, retry.IsRetryable(err))
}

func TestHandlersIgnoreOtherEvents(t *testing.T) {
	n := &recordingNotifier{}
	assert.NoError(t, NewOnLevelUpHandler(n, nil, nil).Handle(shared.NewCodeSavedEvent("u1", "l1")))
	assert.NoError(t, NewOnLessonCompletedHandler(n, nil).Handle(shared.NewCodeSavedEvent("u1", "l1")))
	assert.Empty(t, n.rooms)
	assert.Empty(t, n.users)
}

func TestAudienceFiltersPersonalNotifications(t *testing.T) {
	bus := messaging.NewBus(messaging.Config{})
	n := &recordingNotifier{}
	onlyU2 := func(_ context.Context, userID string) bool { return userID == "u2" }
	require.NoError(t, Register(bus, n, onlyU2, nil))

	require.NoError(t, bus.Publish(shared.NewAchievementEarnedEvent("u1", "first_lesson", "First Steps", 10, 10)))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent("u1", 1, 2, "Explorer")))
	require.NoError(t, bus.Publish(shared.NewAchievementEarnedEvent("u2", "first_lesson", "First Steps", 10, 10)))
	require.NoError(t, bus.Publish(shared.NewLessonCompletedEvent("u1", "l1", "c1", 95, 120)))

	require.Len(t, n.users, 1)
	assert.Equal(t, "u2", n.users[0].target)
	assert.Len(t, n.rooms, 1, "room broadcasts are not filtered")
}
