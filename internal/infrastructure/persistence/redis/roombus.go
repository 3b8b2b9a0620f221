package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROOM BUS
// ══════════════════════════════════════════════════════════════════════════════

// RoomMessage is what travels on a room or user channel.
type RoomMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`

	// From is the sending connection, so it can skip its own echo.
	From string    `json:"from,omitempty"`
	At   time.Time `json:"at"`
}

// RoomBus fans events out over Redis pub/sub. Delivery is at most once and
// nothing is replayed to late subscribers.
type RoomBus struct {
	cache *Cache
}

// NewRoomBus creates a bus.
func NewRoomBus(cache *Cache) *RoomBus {
	return &RoomBus{cache: cache}
}

// Broadcast publishes an event to everyone in the lesson room.
func (b *RoomBus) Broadcast(ctx context.Context, lessonID, event string, payload any) error {
	return b.publish(ctx, LessonChannel(lessonID), "", event, payload)
}

// BroadcastFrom publishes on behalf of a connection.
func (b *RoomBus) BroadcastFrom(ctx context.Context, lessonID, connectionID, event string, payload any) error {
	return b.publish(ctx, LessonChannel(lessonID), connectionID, event, payload)
}

// NotifyUser publishes an event to every connection of one learner.
func (b *RoomBus) NotifyUser(ctx context.Context, userID, event string, payload any) error {
	return b.publish(ctx, UserChannel(userID), "", event, payload)
}

func (b *RoomBus) publish(ctx context.Context, channel, from, event string, payload any) error {
	msg := RoomMessage{Event: event, From: from, At: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		msg.Data = data
	}
	if err := b.cache.Publish(ctx, channel, msg); err != nil {
		return fmt.Errorf("failed to publish %s on %s: %w", event, channel, err)
	}
	return nil
}

// Subscribe joins the lesson room. The subscription is the room
// membership; close it to leave.
func (b *RoomBus) Subscribe(ctx context.Context, lessonID string) (*redis.PubSub, error) {
	sub, err := b.subscribe(ctx, LessonChannel(lessonID))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to lesson %s: %w", lessonID, err)
	}
	return sub, nil
}

// SubscribeUser listens on the learner's own channel.
func (b *RoomBus) SubscribeUser(ctx context.Context, userID string) (*redis.PubSub, error) {
	sub, err := b.subscribe(ctx, UserChannel(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to user %s: %w", userID, err)
	}
	return sub, nil
}

func (b *RoomBus) subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	sub := b.cache.Subscribe(ctx, channel)
	// Wait for the confirmation so the membership count includes us.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return sub, nil
}

// Count returns how many connections are subscribed to the lesson room.
func (b *RoomBus) Count(ctx context.Context, lessonID string) (int64, error) {
	channel := LessonChannel(lessonID)
	counts, err := b.cache.Client().PubSubNumSub(ctx, channel).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count subscribers: %w", err)
	}
	return counts[channel], nil
}

// DecodeRoomMessage parses a pub/sub payload.
func DecodeRoomMessage(payload string) (RoomMessage, error) {
	var msg RoomMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return msg, nil
}
