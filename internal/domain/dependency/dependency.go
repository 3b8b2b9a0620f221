// Package dependency models prerequisite edges between lessons, courses and achievements
// and evaluates them against a learner's state.
//
// A dependency points from a subject (lesson or course) to exactly one requirement.
// Requirements form a closed set: LessonRequirement, CourseRequirement and
// AchievementRequirement. Evaluation dispatches on the concrete variant.
package dependency

import (
	"fmt"
	"time"

	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// Type tags the requirement variant in storage and on the wire.
type Type string

const (
	TypeLesson      Type = "lesson"
	TypeCourse      Type = "course"
	TypeAchievement Type = "achievement"
)

// SubjectKind says what the dependency gates.
type SubjectKind string

const (
	SubjectLesson SubjectKind = "lesson"
	SubjectCourse SubjectKind = "course"
)

// Subject identifies a gated lesson or course.
type Subject struct {
	Kind SubjectKind
	ID   string
}

// String renders "lesson:<id>".
func (s Subject) String() string {
	return string(s.Kind) + ":" + s.ID
}

// LessonSubject is a helper for lesson subjects.
func LessonSubject(id string) Subject { return Subject{Kind: SubjectLesson, ID: id} }

// CourseSubject is a helper for course subjects.
func CourseSubject(id string) Subject { return Subject{Kind: SubjectCourse, ID: id} }

// Requirement is the closed union of prerequisite kinds.
type Requirement interface {
	Type() Type
	// Target is the required lesson id, course id or achievement type key.
	Target() string
	MinScore() int
	isRequirement()
}

// LessonRequirement needs a completed lesson at MinScore or better.
type LessonRequirement struct {
	LessonID string
	Min      int
}

func (r LessonRequirement) Type() Type     { return TypeLesson }
func (r LessonRequirement) Target() string { return r.LessonID }
func (r LessonRequirement) MinScore() int  { return r.Min }
func (LessonRequirement) isRequirement()   {}

// CourseRequirement needs the best completed score in a course to reach MinScore.
type CourseRequirement struct {
	CourseID string
	Min      int
}

func (r CourseRequirement) Type() Type     { return TypeCourse }
func (r CourseRequirement) Target() string { return r.CourseID }
func (r CourseRequirement) MinScore() int  { return r.Min }
func (CourseRequirement) isRequirement()   {}

// AchievementRequirement needs an earned achievement.
type AchievementRequirement struct {
	AchievementType string
}

func (r AchievementRequirement) Type() Type     { return TypeAchievement }
func (r AchievementRequirement) Target() string { return r.AchievementType }
func (r AchievementRequirement) MinScore() int  { return 0 }
func (AchievementRequirement) isRequirement()   {}

// Dependency is one stored edge.
type Dependency struct {
	ID          string
	Subject     Subject
	Requirement Requirement
	// TargetTitle is the display title of the required item, resolved by the store.
	// Empty when the target no longer exists.
	TargetTitle string
	CreatedAt   time.Time
}

// DecodeRequirement rebuilds a Requirement from its stored columns.
// Exactly one of requiredID and achievementType must be set for the given type.
func DecodeRequirement(t Type, requiredID, achievementType string, minScore int) (Requirement, error) {
	if minScore < 0 || minScore > 100 {
		return nil, shared.NewDomainError("dependency", "Decode", shared.ErrValueOutOfRange,
			fmt.Sprintf("min_score %d out of range", minScore))
	}
	switch t {
	case TypeLesson:
		if requiredID == "" || achievementType != "" {
			return nil, invalidColumns(t)
		}
		return LessonRequirement{LessonID: requiredID, Min: minScore}, nil
	case TypeCourse:
		if requiredID == "" || achievementType != "" {
			return nil, invalidColumns(t)
		}
		return CourseRequirement{CourseID: requiredID, Min: minScore}, nil
	case TypeAchievement:
		if achievementType == "" || requiredID != "" {
			return nil, invalidColumns(t)
		}
		return AchievementRequirement{AchievementType: achievementType}, nil
	default:
		return nil, shared.NewDomainError("dependency", "Decode", shared.ErrInvalidInput,
			fmt.Sprintf("unknown dependency type %q", t))
	}
}

func invalidColumns(t Type) error {
	return shared.NewDomainError("dependency", "Decode", shared.ErrInvalidInput,
		fmt.Sprintf("invalid column combination for %s dependency", t))
}

// EncodeRequirement splits a Requirement into its stored columns.
func EncodeRequirement(r Requirement) (t Type, requiredID, achievementType string, minScore int) {
	switch v := r.(type) {
	case LessonRequirement:
		return TypeLesson, v.LessonID, "", v.Min
	case CourseRequirement:
		return TypeCourse, v.CourseID, "", v.Min
	case AchievementRequirement:
		return TypeAchievement, "", v.AchievementType, 0
	}
	return "", "", "", 0
}
