package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codekids/codekids-hub/internal/application/command"
	"github.com/codekids/codekids-hub/internal/domain/shared"
	"github.com/codekids/codekids-hub/internal/infrastructure/persistence/redis"
	"github.com/codekids/codekids-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION
// One per connection. The read loop owns the room state and a writer goroutine
// owns the socket writes. Pump goroutines forward the user channel, open for
// the whole connection, and the room subscription once joined.
// ══════════════════════════════════════════════════════════════════════════════

var (
	errNotJoined     = errors.New("join the lesson first")
	errLessonChanged = errors.New("this connection belongs to another lesson")
	errUnknownEvent  = errors.New("unknown event")
)

type session struct {
	h        *Handler
	conn     *websocket.Conn
	lessonID string
	user     UserRef
	log      *logger.Logger

	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once
	userSub  Subscription

	mu       sync.Mutex
	sub      Subscription
	joinedAt time.Time
}

func newSession(h *Handler, conn *websocket.Conn, lessonID string, user UserRef) *session {
	return &session{
		h:        h,
		conn:     conn,
		lessonID: lessonID,
		user:     user,
		log: h.log.With(
			logger.UserID(user.UserID),
			logger.LessonID(lessonID),
			logger.String("connection_id", user.ConnectionID),
		),
		send: make(chan []byte, h.cfg.SendBuffer),
		done: make(chan struct{}),
	}
}

func (s *session) run(ctx context.Context) {
	s.log.Debug("connection opened")
	go s.writeLoop(ctx)

	// Personal events arrive whether or not a room was joined.
	if sub, err := s.h.rooms.SubscribeUser(ctx, s.user.UserID); err != nil {
		s.log.Warn("user channel subscribe failed", logger.Err(err))
	} else {
		s.userSub = sub
		go s.pump(sub)
	}

	s.readLoop(ctx)

	leaveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeWait)
	defer cancel()
	s.leave(leaveCtx)
	if s.userSub != nil {
		if err := s.userSub.Close(); err != nil {
			s.log.Debug("closing user channel failed", logger.Err(err))
		}
	}
	s.stop()
	s.log.Debug("connection closed")
}

// stop ends the writer and closes the socket. Safe to call from any goroutine.
func (s *session) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Read side
// ──────────────────────────────────────────────────────────────────────────────

func (s *session) readLoop(ctx context.Context) {
	pongWait := 2 * s.h.cfg.HeartbeatInterval
	s.conn.SetReadLimit(s.h.cfg.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("read failed", logger.Err(err))
			}
			return
		}
		msg, err := DecodeMessage(raw)
		if err != nil {
			s.sendError("", "invalid message")
			continue
		}
		if err := s.handle(ctx, msg); err != nil {
			s.sendError(msg.Event, clientMessage(err))
		}
	}
}

func (s *session) handle(ctx context.Context, msg Message) error {
	if msg.Event == EventJoinLesson {
		return s.join(ctx, msg.Data)
	}
	if !s.joined() {
		return errNotJoined
	}

	switch msg.Event {
	case EventCodeChange:
		var p codeChange
		if err := decodeData(msg.Data, &p); err != nil {
			return err
		}
		if _, err := s.h.saver.Handle(ctx, command.SaveCodeCommand{
			UserID:   s.user.UserID,
			LessonID: s.lessonID,
			Code:     p.Code,
		}); err != nil {
			return err
		}
		return s.broadcast(ctx, EventCodeUpdate, CodeUpdate{UserRef: s.user, Code: p.Code})

	case EventCursorMove:
		var p cursorMove
		if err := decodeData(msg.Data, &p); err != nil {
			return err
		}
		return s.broadcast(ctx, EventCursorUpdate, CursorUpdate{UserRef: s.user, Position: p.Position})

	case EventRequestHelp:
		var p helpRequest
		if err := decodeData(msg.Data, &p); err != nil {
			return err
		}
		s.log.Info("help requested")
		return s.broadcast(ctx, EventHelpRequested, HelpRequested{UserRef: s.user, LessonID: s.lessonID, Message: p.Message})

	case EventLeaveLesson:
		s.leave(ctx)
		return nil

	default:
		return errUnknownEvent
	}
}

// join subscribes to the room, registers presence, announces the newcomer
// and sends it the participant list. Joining twice only resends the list.
func (s *session) join(ctx context.Context, data json.RawMessage) error {
	var p struct {
		LessonID string `json:"lessonId"`
	}
	if err := decodeData(data, &p); err != nil {
		return err
	}
	if p.LessonID != "" && p.LessonID != s.lessonID {
		return errLessonChanged
	}

	if !s.joined() {
		sub, err := s.h.rooms.Subscribe(ctx, s.lessonID)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.sub = sub
		s.joinedAt = time.Now().UTC()
		s.mu.Unlock()
		go s.pump(sub)

		if s.h.presence != nil {
			if err := s.h.presence.Join(ctx, s.lessonID, s.participant()); err != nil {
				s.log.Warn("presence join failed", logger.Err(err))
			}
		}
		if err := s.broadcast(ctx, EventUserJoined, s.user); err != nil {
			s.log.Warn("announce join failed", logger.Err(err))
		}
		s.log.Info("joined lesson room")
	}
	return s.sendParticipants(ctx)
}

func (s *session) sendParticipants(ctx context.Context) error {
	out := RoomParticipants{LessonID: s.lessonID, Participants: []ParticipantView{}}
	count, err := s.h.rooms.Count(ctx, s.lessonID)
	if err != nil {
		s.log.Warn("room count failed", logger.Err(err))
	}
	out.Connections = count

	if s.h.presence != nil {
		parts, err := s.h.presence.Participants(ctx, s.lessonID)
		if err != nil {
			s.log.Warn("presence read failed", logger.Err(err))
		}
		for _, p := range parts {
			out.Participants = append(out.Participants, ParticipantView{UserID: p.UserID, DisplayName: p.DisplayName})
		}
	}
	s.emit(EventRoomParticipants, out)
	return nil
}

// leave drops room membership. It is a no-op when not joined.
func (s *session) leave(ctx context.Context) {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub == nil {
		return
	}

	if s.h.presence != nil {
		if err := s.h.presence.Leave(ctx, s.lessonID, s.user.ConnectionID); err != nil {
			s.log.Warn("presence leave failed", logger.Err(err))
		}
	}
	if err := s.broadcast(ctx, EventUserLeft, s.user); err != nil {
		s.log.Warn("announce leave failed", logger.Err(err))
	}
	if err := sub.Close(); err != nil {
		s.log.Debug("closing subscription failed", logger.Err(err))
	}
	s.log.Info("left lesson room")
}

func (s *session) joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil
}

func (s *session) participant() redis.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return redis.Participant{
		ConnectionID: s.user.ConnectionID,
		UserID:       s.user.UserID,
		DisplayName:  s.user.DisplayName,
		JoinedAt:     s.joinedAt,
	}
}

func (s *session) broadcast(ctx context.Context, event string, payload any) error {
	return s.h.rooms.BroadcastFrom(ctx, s.lessonID, s.user.ConnectionID, event, payload)
}

// ──────────────────────────────────────────────────────────────────────────────
// Write side
// ──────────────────────────────────────────────────────────────────────────────

// pump forwards events from one subscription, skipping this connection's
// own echoes. It ends when the subscription is closed.
func (s *session) pump(sub Subscription) {
	for env := range sub.Messages() {
		if env.From != "" && env.From == s.user.ConnectionID {
			continue
		}
		frame, err := json.Marshal(Message{Event: env.Event, Data: env.Data})
		if err != nil {
			continue
		}
		s.enqueue(frame)
	}
}

func (s *session) emit(event string, payload any) {
	frame, err := EncodeMessage(event, payload)
	if err != nil {
		s.log.Error("encode frame failed", logger.String("event", event), logger.Err(err))
		return
	}
	s.enqueue(frame)
}

func (s *session) sendError(event, message string) {
	s.emit(EventError, ErrorPayload{Event: event, Message: message})
}

// enqueue queues a frame. A full buffer means the client stopped reading, so
// the connection is dropped.
func (s *session) enqueue(frame []byte) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.send <- frame:
	case <-s.done:
	default:
		s.log.Warn("send buffer full, closing connection")
		s.stop()
	}
}

func (s *session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return

		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("write failed", logger.Err(err))
				s.stop()
				return
			}

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.stop()
				return
			}
			if s.h.presence != nil && s.joined() {
				if err := s.h.presence.Heartbeat(ctx, s.lessonID, s.participant()); err != nil {
					s.log.Warn("presence heartbeat failed", logger.Err(err))
				}
			}
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func decodeData(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return shared.NewDomainError("realtime", "decode", shared.ErrInvalidInput, "invalid event data")
	}
	return nil
}

// clientMessage hides internal failures from the client.
func clientMessage(err error) string {
	var de *shared.DomainError
	switch {
	case errors.As(err, &de) && de.Message != "":
		return de.Message
	case errors.Is(err, errNotJoined), errors.Is(err, errLessonChanged), errors.Is(err, errUnknownEvent):
		return err.Error()
	default:
		return "request failed"
	}
}
