// Package progress tracks each learner's work on each lesson.
//
// A progress row moves NotStarted -> InProgress -> Completed and never moves back.
package progress

import (
	"math"
	"time"

	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// State is the lifecycle position of a (user, lesson) pair.
type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

// Progress is the durable record for one (user, lesson) pair.
type Progress struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	LessonID       string     `json:"lesson_id"`
	CourseID       string     `json:"course_id"`
	CodeSubmission string     `json:"code_submission"`
	Score          int        `json:"score"`
	Completed      bool       `json:"completed"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	// TimeSpent accumulates seconds across submissions.
	TimeSpent int       `json:"time_spent"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Read-side joins, empty on writes.
	LessonTitle string `json:"lesson_title,omitempty"`
	CourseTitle string `json:"course_title,omitempty"`
	OrderIndex  int    `json:"order_index,omitempty"`
}

// StateOf returns the state of p, treating nil as not started.
func StateOf(p *Progress) State {
	switch {
	case p == nil:
		return StateNotStarted
	case p.Completed:
		return StateCompleted
	default:
		return StateInProgress
	}
}

// NewDraft creates the first, incomplete row for a pair.
func NewDraft(userID, lessonID, courseID, code string, now time.Time) *Progress {
	return &Progress{
		ID:             shared.NewID(),
		UserID:         userID,
		LessonID:       lessonID,
		CourseID:       courseID,
		CodeSubmission: code,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// SaveCode replaces the draft text. Score and completion are untouched.
func (p *Progress) SaveCode(code string, now time.Time) {
	p.CodeSubmission = code
	p.UpdatedAt = now
}

// Submission is a graded attempt.
type Submission struct {
	Code      string
	Score     int
	Valid     bool
	TimeSpent int
}

// Apply records a submission: the score is overwritten, time accumulates and
// completion is sticky. It reports whether this call moved the row into Completed.
func (p *Progress) Apply(s Submission, now time.Time) bool {
	p.CodeSubmission = s.Code
	p.Score = shared.NewScore(s.Score).Int()
	if s.TimeSpent > 0 {
		p.TimeSpent += s.TimeSpent
	}
	p.UpdatedAt = now
	if s.Valid && !p.Completed {
		p.Completed = true
		completedAt := now
		p.CompletedAt = &completedAt
		return true
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════
// Aggregates
// ═══════════════════════════════════════════════════════════════════════════

// CourseProgress is the per-course rollup shown in the catalog.
type CourseProgress struct {
	TotalLessons     int        `json:"total_lessons"`
	CompletedLessons int        `json:"completed_lessons"`
	AverageScore     float64    `json:"average_score"`
	TotalTimeSpent   int        `json:"total_time_spent"`
	LastActivity     *time.Time `json:"last_activity"`
}

// Aggregate rolls up rows belonging to courseID. Average score is taken over
// completed lessons only.
func Aggregate(courseID string, totalLessons int, rows []*Progress) CourseProgress {
	cp := CourseProgress{TotalLessons: totalLessons}
	scoreSum := 0
	for _, p := range rows {
		if p.CourseID != courseID {
			continue
		}
		cp.TotalTimeSpent += p.TimeSpent
		if cp.LastActivity == nil || p.UpdatedAt.After(*cp.LastActivity) {
			t := p.UpdatedAt
			cp.LastActivity = &t
		}
		if p.Completed {
			cp.CompletedLessons++
			scoreSum += p.Score
		}
	}
	if cp.CompletedLessons > 0 {
		cp.AverageScore = math.Round(float64(scoreSum)/float64(cp.CompletedLessons)*100) / 100
	}
	return cp
}

// CompletionPercentage is round(100 * completed / total), or 0 for an empty course.
func CompletionPercentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

// Summary holds the stored facts achievement rules need.
type Summary struct {
	CompletedCount    int
	CompletionTimes   []time.Time
	DistinctLanguages int
}

// ═══════════════════════════════════════════════════════════════════════════
// Code executions
// ═══════════════════════════════════════════════════════════════════════════

// Execution is an append-only audit row for one run of learner code.
type Execution struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	LessonID     string    `json:"lesson_id"`
	Code         string    `json:"code"`
	Output       string    `json:"output"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
