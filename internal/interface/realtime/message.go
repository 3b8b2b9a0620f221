// Package realtime serves the lesson rooms over websockets. Each connection
// owns its session: who it is, which room it joined and its Redis
// subscription. Rooms fan out over Redis pub/sub, so any instance can serve
// any connection.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client events.
const (
	EventJoinLesson  = "join-lesson"
	EventCodeChange  = "code-change"
	EventCursorMove  = "cursor-move"
	EventRequestHelp = "request-help"
	EventLeaveLesson = "leave-lesson"
)

// Server events. achievement-earned, level-up and lesson-completed arrive
// from the event handlers through Redis and are forwarded unchanged.
const (
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventRoomParticipants = "room-participants"
	EventCodeUpdate       = "code-update"
	EventCursorUpdate     = "cursor-update"
	EventHelpRequested    = "help-requested"
	EventError            = "error"
)

// Message is one websocket frame in either direction.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var errEmptyEvent = errors.New("realtime: message has no event")

// DecodeMessage parses a client frame.
func DecodeMessage(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("realtime: decode message: %w", err)
	}
	if m.Event == "" {
		return m, errEmptyEvent
	}
	return m, nil
}

// EncodeMessage builds a server frame.
func EncodeMessage(event string, payload any) ([]byte, error) {
	m := Message{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("realtime: encode %s: %w", event, err)
		}
		m.Data = data
	}
	return json.Marshal(m)
}

// ──────────────────────────────────────────────────────────────────────────────
// Payloads
// ──────────────────────────────────────────────────────────────────────────────

type codeChange struct {
	Code string `json:"code"`
}

type cursorMove struct {
	Position json.RawMessage `json:"position"`
}

type helpRequest struct {
	Message string `json:"message"`
}

// UserRef identifies the sender of a room event.
type UserRef struct {
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName,omitempty"`
	ConnectionID string `json:"connectionId"`
}

// CodeUpdate is broadcast after a participant edits their code.
type CodeUpdate struct {
	UserRef
	Code string `json:"code"`
}

// CursorUpdate is broadcast when a participant moves the cursor.
type CursorUpdate struct {
	UserRef
	Position json.RawMessage `json:"position"`
}

// HelpRequested is broadcast when a participant asks for help.
type HelpRequested struct {
	UserRef
	LessonID string `json:"lessonId"`
	Message  string `json:"message"`
}

// ParticipantView is one entry of room-participants.
type ParticipantView struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// RoomParticipants is sent to a connection right after it joins.
type RoomParticipants struct {
	LessonID     string            `json:"lessonId"`
	Participants []ParticipantView `json:"participants"`
	Connections  int64             `json:"connections"`
}

// ErrorPayload reports a rejected client event.
type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}
