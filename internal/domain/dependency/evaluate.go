package dependency

import (
	"fmt"

	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// Values reported for achievement requirements.
const (
	ValueEarned    = "Earned"
	ValueNotEarned = "Not Earned"
)

// UserState is the read-only view of a learner that evaluation needs.
type UserState interface {
	// LessonResult returns the stored score and completion flag for a lesson.
	LessonResult(lessonID string) (score int, completed bool, found bool)
	// CourseBestScore returns the maximum score over completed lessons of a course.
	CourseBestScore(courseID string) (score int, found bool)
	// HasAchievement reports whether the learner owns the achievement type.
	HasAchievement(key string) bool
}

// Status is the evaluation of one dependency.
type Status struct {
	DependencyID string `json:"id"`
	Type         Type   `json:"dependency_type"`
	Target       string `json:"target"`
	TargetTitle  string `json:"target_title,omitempty"`
	MinScore     int    `json:"min_score"`
	IsMet        bool   `json:"is_met"`
	// CurrentValue is the learner's score (int) or ValueEarned/ValueNotEarned.
	CurrentValue any    `json:"current_value"`
	Requirement  string `json:"requirement"`
}

// Unmet converts the status into the error payload shape.
func (s Status) Unmet() shared.UnmetRequirement {
	return shared.UnmetRequirement{
		Type:         string(s.Type),
		Target:       s.Target,
		TargetTitle:  s.TargetTitle,
		MinScore:     s.MinScore,
		CurrentValue: s.CurrentValue,
		Requirement:  s.Requirement,
	}
}

// Result aggregates the evaluation of a dependency list.
type Result struct {
	AllMet bool     `json:"all_met"`
	Total  int      `json:"total_dependencies"`
	Met    []Status `json:"met_dependencies"`
	Unmet  []Status `json:"unmet_dependencies"`
}

// FirstUnmet returns the first unmet dependency in stored order, or nil.
func (r Result) FirstUnmet() *Status {
	if len(r.Unmet) == 0 {
		return nil
	}
	s := r.Unmet[0]
	return &s
}

// UnmetRequirements returns the unmet list in the error payload shape.
func (r Result) UnmetRequirements() []shared.UnmetRequirement {
	out := make([]shared.UnmetRequirement, 0, len(r.Unmet))
	for _, s := range r.Unmet {
		out = append(out, s.Unmet())
	}
	return out
}

// Evaluate checks every dependency against state. It never mutates anything
// and never fails: a requirement whose target does not exist is simply unmet.
func Evaluate(deps []Dependency, state UserState) Result {
	res := Result{
		Total: len(deps),
		Met:   make([]Status, 0, len(deps)),
		Unmet: make([]Status, 0),
	}
	for _, d := range deps {
		s := evaluateOne(d, state)
		if s.IsMet {
			res.Met = append(res.Met, s)
		} else {
			res.Unmet = append(res.Unmet, s)
		}
	}
	res.AllMet = len(res.Unmet) == 0
	return res
}

func evaluateOne(d Dependency, state UserState) Status {
	s := Status{
		DependencyID: d.ID,
		TargetTitle:  d.TargetTitle,
	}
	title := d.TargetTitle

	switch r := d.Requirement.(type) {
	case LessonRequirement:
		s.Type, s.Target, s.MinScore = TypeLesson, r.LessonID, r.Min
		score, completed, found := state.LessonResult(r.LessonID)
		if !found {
			score = 0
		}
		s.CurrentValue = score
		s.IsMet = found && completed && score >= r.Min
		if title == "" {
			title = r.LessonID
		}
		s.Requirement = fmt.Sprintf("Complete %q with %d%% score", title, r.Min)

	case CourseRequirement:
		s.Type, s.Target, s.MinScore = TypeCourse, r.CourseID, r.Min
		// No completed lesson counts as a best score of 0, so a zero
		// threshold is met from the start.
		best, _ := state.CourseBestScore(r.CourseID)
		s.CurrentValue = best
		s.IsMet = best >= r.Min
		if title == "" {
			title = r.CourseID
		}
		s.Requirement = fmt.Sprintf("Reach %d%% in course %q", r.Min, title)

	case AchievementRequirement:
		s.Type, s.Target = TypeAchievement, r.AchievementType
		s.IsMet = state.HasAchievement(r.AchievementType)
		s.CurrentValue = ValueNotEarned
		if s.IsMet {
			s.CurrentValue = ValueEarned
		}
		if title == "" {
			title = r.AchievementType
		}
		s.Requirement = fmt.Sprintf("Earn %q achievement", title)

	default:
		// An edge without a decodable requirement can never be satisfied.
		s.CurrentValue = 0
		s.Requirement = "Unknown requirement"
	}
	return s
}

// Accessible is the gate predicate: all dependencies met, or the learner already
// completed the item, or the item is optional. Courses pass optional=false.
func Accessible(r Result, completed, optional bool) bool {
	return r.AllMet || completed || optional
}

// Locked reports whether a lesson is shown as locked.
func Locked(r Result, optional bool) bool {
	return !r.AllMet && !optional
}

// ═══════════════════════════════════════════════════════════════════════════
// Snapshot
// ═══════════════════════════════════════════════════════════════════════════

type lessonFact struct {
	score     int
	completed bool
}

// Snapshot is an in-memory UserState built from a learner's progress and achievements.
type Snapshot struct {
	lessons      map[string]lessonFact
	courseBest   map[string]int
	achievements map[string]struct{}
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		lessons:      make(map[string]lessonFact),
		courseBest:   make(map[string]int),
		achievements: make(map[string]struct{}),
	}
}

// AddProgress records a progress row. Course aggregates only count completed rows.
func (s *Snapshot) AddProgress(lessonID, courseID string, score int, completed bool) *Snapshot {
	s.lessons[lessonID] = lessonFact{score: score, completed: completed}
	if completed && courseID != "" {
		if best, ok := s.courseBest[courseID]; !ok || score > best {
			s.courseBest[courseID] = score
		}
	}
	return s
}

// AddAchievement records an earned achievement type.
func (s *Snapshot) AddAchievement(key string) *Snapshot {
	s.achievements[key] = struct{}{}
	return s
}

// LessonResult implements UserState.
func (s *Snapshot) LessonResult(lessonID string) (int, bool, bool) {
	f, ok := s.lessons[lessonID]
	return f.score, f.completed, ok
}

// CourseBestScore implements UserState.
func (s *Snapshot) CourseBestScore(courseID string) (int, bool) {
	best, ok := s.courseBest[courseID]
	return best, ok
}

// HasAchievement implements UserState.
func (s *Snapshot) HasAchievement(key string) bool {
	_, ok := s.achievements[key]
	return ok
}

// IsCompleted reports whether the learner completed the lesson.
func (s *Snapshot) IsCompleted(lessonID string) bool {
	return s.lessons[lessonID].completed
}
