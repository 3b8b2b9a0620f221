package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codekids/codekids-hub/internal/application/command"
	"github.com/codekids/codekids-hub/internal/domain/progress"
	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// In-memory room backend
// ══════════════════════════════════════════════════════════════════════════════

type memRooms struct {
	mu   sync.Mutex
	subs map[*memSub]struct{}
}

type memSub struct {
	rooms    *memRooms
	lessonID string
	userID   string
	ch       chan Envelope
}

func newMemRooms() *memRooms {
	return &memRooms{subs: make(map[*memSub]struct{})}
}

func (m *memRooms) Subscribe(_ context.Context, lessonID string) (Subscription, error) {
	return m.add(&memSub{rooms: m, lessonID: lessonID, ch: make(chan Envelope, 32)}), nil
}

func (m *memRooms) SubscribeUser(_ context.Context, userID string) (Subscription, error) {
	return m.add(&memSub{rooms: m, userID: userID, ch: make(chan Envelope, 32)}), nil
}

func (m *memRooms) add(s *memSub) *memSub {
	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()
	return s
}

func (m *memRooms) userSubs(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for s := range m.subs {
		if s.userID == userID {
			n++
		}
	}
	return n
}

func (m *memRooms) publish(match func(*memSub) bool, from, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.subs {
		if match(s) {
			s.ch <- Envelope{Event: event, Data: data, From: from}
		}
	}
	return nil
}

func (m *memRooms) BroadcastFrom(_ context.Context, lessonID, connectionID, event string, payload any) error {
	return m.publish(func(s *memSub) bool { return s.lessonID == lessonID }, connectionID, event, payload)
}

func (m *memRooms) NotifyUser(userID, event string, payload any) error {
	return m.publish(func(s *memSub) bool { return s.userID == userID }, "", event, payload)
}

func (m *memRooms) Count(_ context.Context, lessonID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for s := range m.subs {
		if s.lessonID == lessonID {
			n++
		}
	}
	return n, nil
}

func (s *memSub) Messages() <-chan Envelope { return s.ch }

func (s *memSub) Close() error {
	s.rooms.mu.Lock()
	defer s.rooms.mu.Unlock()
	if _, ok := s.rooms.subs[s]; ok {
		delete(s.rooms.subs, s)
		close(s.ch)
	}
	return nil
}

type recordingSaver struct {
	mu    sync.Mutex
	saved []command.SaveCodeCommand
}

func (r *recordingSaver) Handle(_ context.Context, cmd command.SaveCodeCommand) (*progress.Progress, error) {
	if cmd.Code == "boom" {
		return nil, shared.ErrLessonNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, cmd)
	return &progress.Progress{UserID: cmd.UserID, LessonID: cmd.LessonID, CodeSubmission: cmd.Code}, nil
}

func (r *recordingSaver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

type connCounter struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (c *connCounter) ConnectionOpened() { c.mu.Lock(); c.opened++; c.mu.Unlock() }
func (c *connCounter) ConnectionClosed() { c.mu.Lock(); c.closed++; c.mu.Unlock() }

// ══════════════════════════════════════════════════════════════════════════════
// Helpers
// ══════════════════════════════════════════════════════════════════════════════

type harness struct {
	rooms   *memRooms
	saver   *recordingSaver
	metrics *connCounter
	server  *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{rooms: newMemRooms(), saver: &recordingSaver{}, metrics: &connCounter{}}
	handler := NewHandler(Config{HeartbeatInterval: time.Second}, h.rooms, h.saver, WithMetrics(h.metrics))

	r := chi.NewRouter()
	r.Method(http.MethodGet, "/ws/lessons/{lessonId}", handler)
	h.server = httptest.NewServer(r)
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) dial(t *testing.T, lessonID, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/lessons/" + lessonID + "?userId=" + userID + "&displayName=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	frame, err := EncodeMessage(event, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// expect reads frames until event arrives.
func expect(t *testing.T, conn *websocket.Conn, event string) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", event)
		msg, err := DecodeMessage(raw)
		require.NoError(t, err)
		if msg.Event == event {
			return msg
		}
	}
}

func join(t *testing.T, conn *websocket.Conn) RoomParticipants {
	t.Helper()
	send(t, conn, EventJoinLesson, nil)
	var rp RoomParticipants
	require.NoError(t, json.Unmarshal(expect(t, conn, EventRoomParticipants).Data, &rp))
	return rp
}

// ══════════════════════════════════════════════════════════════════════════════
// Tests
// ══════════════════════════════════════════════════════════════════════════════

func TestCodec(t *testing.T) {
	frame, err := EncodeMessage(EventCodeUpdate, CodeUpdate{UserRef: UserRef{UserID: "kid", ConnectionID: "c1"}, Code: "x"})
	require.NoError(t, err)
	msg, err := DecodeMessage(frame)
	require.NoError(t, err)
	assert.Equal(t, EventCodeUpdate, msg.Event)
	assert.JSONEq(t, `{"userId":"kid","connectionId":"c1","code":"x"}`, string(msg.Data))

	_, err = DecodeMessage([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, errEmptyEvent)
	_, err = DecodeMessage([]byte(`nope`))
	assert.Error(t, err)
}

func TestRejectsAnonymousConnections(t *testing.T) {
	h := newHarness(t)
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws/lessons/l1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEventsRequireJoin(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "l1", "kid")

	send(t, conn, EventCodeChange, map[string]string{"code": "x"})
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(expect(t, conn, EventError).Data, &e))
	assert.Equal(t, EventCodeChange, e.Event)
	assert.Equal(t, "join the lesson first", e.Message)
	assert.Zero(t, h.saver.count())

	send(t, conn, EventJoinLesson, map[string]string{"lessonId": "other"})
	require.NoError(t, json.Unmarshal(expect(t, conn, EventError).Data, &e))
	assert.Equal(t, "this connection belongs to another lesson", e.Message)
}

func TestRoomFlow(t *testing.T) {
	h := newHarness(t)

	alice := h.dial(t, "l1", "alice")
	rp := join(t, alice)
	assert.Equal(t, int64(1), rp.Connections)

	bob := h.dial(t, "l1", "bob")
	rp = join(t, bob)
	assert.Equal(t, int64(2), rp.Connections)

	var joined UserRef
	require.NoError(t, json.Unmarshal(expect(t, alice, EventUserJoined).Data, &joined))
	assert.Equal(t, "bob", joined.UserID)

	// Code edits are saved for the sender and mirrored to the others.
	send(t, alice, EventCodeChange, map[string]string{"code": "print(1)"})
	var update CodeUpdate
	require.NoError(t, json.Unmarshal(expect(t, bob, EventCodeUpdate).Data, &update))
	assert.Equal(t, "alice", update.UserID)
	assert.Equal(t, "print(1)", update.Code)
	require.Equal(t, 1, h.saver.count())
	assert.Equal(t, command.SaveCodeCommand{UserID: "alice", LessonID: "l1", Code: "print(1)"}, h.saver.saved[0])

	send(t, bob, EventCursorMove, map[string]any{"position": map[string]int{"line": 3, "ch": 7}})
	var cursor CursorUpdate
	require.NoError(t, json.Unmarshal(expect(t, alice, EventCursorUpdate).Data, &cursor))
	assert.JSONEq(t, `{"line":3,"ch":7}`, string(cursor.Position))

	send(t, bob, EventRequestHelp, map[string]string{"message": "stuck on loops"})
	var help HelpRequested
	require.NoError(t, json.Unmarshal(expect(t, alice, EventHelpRequested).Data, &help))
	assert.Equal(t, "stuck on loops", help.Message)
	assert.Equal(t, "l1", help.LessonID)

	// A failed save is reported to the sender only.
	send(t, alice, EventCodeChange, map[string]string{"code": "boom"})
	var e ErrorPayload
	require.NoError(t, json.Unmarshal(expect(t, alice, EventError).Data, &e))
	assert.Equal(t, "lesson not found", e.Message)

	// Server-side events reach every connection of the user.
	require.NoError(t, h.rooms.NotifyUser("bob", "achievement-earned", map[string]string{"key": "first_lesson"}))
	msg := expect(t, bob, "achievement-earned")
	assert.JSONEq(t, `{"key":"first_lesson"}`, string(msg.Data))

	send(t, bob, EventLeaveLesson, nil)
	var left UserRef
	require.NoError(t, json.Unmarshal(expect(t, alice, EventUserLeft).Data, &left))
	assert.Equal(t, "bob", left.UserID)

	assert.Eventually(t, func() bool {
		count, err := h.rooms.Count(context.Background(), "l1")
		return err == nil && count == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestUserEventsReachConnectionBeforeJoin(t *testing.T) {
	h := newHarness(t)
	kid := h.dial(t, "l1", "kid")

	assert.Eventually(t, func() bool { return h.rooms.userSubs("kid") == 1 },
		3*time.Second, 10*time.Millisecond)
	require.NoError(t, h.rooms.NotifyUser("kid", "level-up", map[string]int{"newLevel": 2}))
	msg := expect(t, kid, "level-up")
	assert.JSONEq(t, `{"newLevel":2}`, string(msg.Data))

	count, err := h.rooms.Count(context.Background(), "l1")
	require.NoError(t, err)
	assert.Zero(t, count, "not in the room until join-lesson")

	require.NoError(t, kid.Close())
	assert.Eventually(t, func() bool { return h.rooms.userSubs("kid") == 0 },
		3*time.Second, 10*time.Millisecond)
}

func TestDisconnectLeavesRoom(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, "l1", "alice")
	join(t, alice)
	bob := h.dial(t, "l1", "bob")
	join(t, bob)

	require.NoError(t, bob.Close())
	var left UserRef
	require.NoError(t, json.Unmarshal(expect(t, alice, EventUserLeft).Data, &left))
	assert.Equal(t, "bob", left.UserID)

	assert.Eventually(t, func() bool {
		h.metrics.mu.Lock()
		defer h.metrics.mu.Unlock()
		return h.metrics.opened == 2 && h.metrics.closed == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(Config{AllowedOrigins: []string{"https://codekids.app"}}, newMemRooms(), &recordingSaver{})
	r := httptest.NewRequest(http.MethodGet, "/ws/lessons/l1", nil)
	assert.True(t, h.checkOrigin(r))

	r.Header.Set("Origin", "https://codekids.app")
	assert.True(t, h.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(r))
}
