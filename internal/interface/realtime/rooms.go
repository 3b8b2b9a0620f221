package realtime

import (
	"context"
	"encoding/json"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/codekids/codekids-hub/internal/infrastructure/persistence/redis"
	"github.com/codekids/codekids-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROOM BACKEND
// ══════════════════════════════════════════════════════════════════════════════

// Envelope is an event received from a room or user channel.
type Envelope struct {
	Event string
	Data  json.RawMessage

	// From is the publishing connection, empty for server-side events.
	From string
}

// Subscription is a connection's membership in one lesson room, or its
// user channel.
type Subscription interface {
	Messages() <-chan Envelope
	Close() error
}

// Rooms is the pub/sub backend of the lesson rooms.
type Rooms interface {
	Subscribe(ctx context.Context, lessonID string) (Subscription, error)
	SubscribeUser(ctx context.Context, userID string) (Subscription, error)
	BroadcastFrom(ctx context.Context, lessonID, connectionID, event string, payload any) error
	Count(ctx context.Context, lessonID string) (int64, error)
}

// Presence tracks who is in a room. Satisfied by *redis.Presence.
type Presence interface {
	Join(ctx context.Context, lessonID string, part redis.Participant) error
	Heartbeat(ctx context.Context, lessonID string, part redis.Participant) error
	Leave(ctx context.Context, lessonID, connectionID string) error
	Participants(ctx context.Context, lessonID string) ([]redis.Participant, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// Redis implementation
// ──────────────────────────────────────────────────────────────────────────────

// RedisRooms runs the rooms on the Redis room bus.
type RedisRooms struct {
	bus *redis.RoomBus
	log *logger.Logger
}

// NewRedisRooms wraps bus.
func NewRedisRooms(bus *redis.RoomBus, log *logger.Logger) *RedisRooms {
	if log == nil {
		log = logger.Nop()
	}
	return &RedisRooms{bus: bus, log: log}
}

// Subscribe joins the room.
func (r *RedisRooms) Subscribe(ctx context.Context, lessonID string) (Subscription, error) {
	ps, err := r.bus.Subscribe(ctx, lessonID)
	if err != nil {
		return nil, err
	}
	return newPubSubSubscription(ps, r.log), nil
}

// SubscribeUser listens for the user's personal events.
func (r *RedisRooms) SubscribeUser(ctx context.Context, userID string) (Subscription, error) {
	ps, err := r.bus.SubscribeUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return newPubSubSubscription(ps, r.log), nil
}

// BroadcastFrom publishes on behalf of connectionID.
func (r *RedisRooms) BroadcastFrom(ctx context.Context, lessonID, connectionID, event string, payload any) error {
	return r.bus.BroadcastFrom(ctx, lessonID, connectionID, event, payload)
}

// Count returns the number of subscribed connections.
func (r *RedisRooms) Count(ctx context.Context, lessonID string) (int64, error) {
	return r.bus.Count(ctx, lessonID)
}

type pubSubSubscription struct {
	ps   *goredis.PubSub
	out  chan Envelope
	done chan struct{}
	once sync.Once
}

func newPubSubSubscription(ps *goredis.PubSub, log *logger.Logger) *pubSubSubscription {
	s := &pubSubSubscription{ps: ps, out: make(chan Envelope, 64), done: make(chan struct{})}
	go func() {
		defer close(s.out)
		for msg := range ps.Channel() {
			rm, err := redis.DecodeRoomMessage(msg.Payload)
			if err != nil {
				log.Warn("dropping malformed room message", logger.String("channel", msg.Channel), logger.Err(err))
				continue
			}
			select {
			case s.out <- Envelope{Event: rm.Event, Data: rm.Data, From: rm.From}:
			case <-s.done:
				return
			}
		}
	}()
	return s
}

func (s *pubSubSubscription) Messages() <-chan Envelope { return s.out }

func (s *pubSubSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
