package shared

import "time"

type EventType string

const (
	EventLessonCompleted   EventType = "progress.lesson_completed"
	EventCodeSaved         EventType = "progress.code_saved"
	EventAchievementEarned EventType = "achievement.earned"
	EventLevelUp           EventType = "achievement.level_up"
	EventDependencyAdded   EventType = "catalog.dependency_added"
)

// Event is something that already happened. Events are plain values and
// safe to hand to several goroutines.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID is the user or catalog item the event is about.
	AggregateID() string
}

// Header carries the fields every event shares. Concrete events embed it.
type Header struct {
	Type    EventType `json:"type"`
	At      time.Time `json:"occurred_at"`
	Subject string    `json:"aggregate_id"`
}

func (h Header) EventType() EventType  { return h.Type }
func (h Header) OccurredAt() time.Time { return h.At }
func (h Header) AggregateID() string   { return h.Subject }

func header(t EventType, subject string) Header {
	return Header{Type: t, At: time.Now().UTC(), Subject: subject}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// LessonCompletedEvent fires once, when a lesson first becomes completed for
// a user. Re-submissions of a completed lesson do not fire it again.
type LessonCompletedEvent struct {
	Header
	UserID    string `json:"user_id"`
	LessonID  string `json:"lesson_id"`
	CourseID  string `json:"course_id"`
	Score     int    `json:"score"`
	TimeSpent int    `json:"time_spent"`
}

func NewLessonCompletedEvent(userID, lessonID, courseID string, score, timeSpent int) LessonCompletedEvent {
	return LessonCompletedEvent{
		Header:    header(EventLessonCompleted, userID),
		UserID:    userID,
		LessonID:  lessonID,
		CourseID:  courseID,
		Score:     score,
		TimeSpent: timeSpent,
	}
}

// CodeSavedEvent fires on every draft save, auto-saves from lesson rooms
// included.
type CodeSavedEvent struct {
	Header
	UserID   string `json:"user_id"`
	LessonID string `json:"lesson_id"`
}

func NewCodeSavedEvent(userID, lessonID string) CodeSavedEvent {
	return CodeSavedEvent{Header: header(EventCodeSaved, userID), UserID: userID, LessonID: lessonID}
}

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

type AchievementEarnedEvent struct {
	Header
	UserID          string `json:"user_id"`
	AchievementType string `json:"achievement_type"`
	Title           string `json:"title"`
	PointsEarned    int    `json:"points_earned"`
	TotalPoints     int    `json:"total_points"`
}

func NewAchievementEarnedEvent(userID, achievementType, title string, pointsEarned, totalPoints int) AchievementEarnedEvent {
	return AchievementEarnedEvent{
		Header:          header(EventAchievementEarned, userID),
		UserID:          userID,
		AchievementType: achievementType,
		Title:           title,
		PointsEarned:    pointsEarned,
		TotalPoints:     totalPoints,
	}
}

type LevelUpEvent struct {
	Header
	UserID     string `json:"user_id"`
	OldLevel   int    `json:"old_level"`
	NewLevel   int    `json:"new_level"`
	LevelTitle string `json:"level_title"`
}

func NewLevelUpEvent(userID string, oldLevel, newLevel int, title string) LevelUpEvent {
	return LevelUpEvent{
		Header:     header(EventLevelUp, userID),
		UserID:     userID,
		OldLevel:   oldLevel,
		NewLevel:   newLevel,
		LevelTitle: title,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHORING
// ══════════════════════════════════════════════════════════════════════════════

type DependencyAddedEvent struct {
	Header
	SubjectKind string `json:"subject_kind"`
	SubjectID   string `json:"subject_id"`
	Type        string `json:"type"`
}

func NewDependencyAddedEvent(subjectKind, subjectID, depType string) DependencyAddedEvent {
	return DependencyAddedEvent{
		Header:      header(EventDependencyAdded, subjectID),
		SubjectKind: subjectKind,
		SubjectID:   subjectID,
		Type:        depType,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BUS
// ══════════════════════════════════════════════════════════════════════════════

type EventHandler func(event Event) error

type EventPublisher interface {
	Publish(event Event) error
}

type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	// SubscribeAll registers handler for every event type.
	SubscribeAll(handler EventHandler) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) error { return nil }
