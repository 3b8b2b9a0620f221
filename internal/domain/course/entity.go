// Package course models the content catalog: courses and their ordered lessons.
package course

import (
	"strings"
	"time"

	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// Course is a sequence of lessons for one age group.
type Course struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Slug        string          `json:"slug"`
	Description string          `json:"description"`
	AgeGroup    shared.AgeGroup `json:"age_group"`
	// LanguageTarget is the human language the course teaches, e.g. "english".
	LanguageTarget string                `json:"language_target"`
	CodingLanguage shared.CodingLanguage `json:"coding_language"`
	Difficulty     shared.Difficulty     `json:"difficulty"`
	IsActive       bool                  `json:"is_active"`
	CreatedAt      time.Time             `json:"created_at"`
}

// Validate checks authoring invariants.
func (c *Course) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return shared.NewDomainError("course", "Validate", shared.ErrEmptyValue, "title is required")
	}
	if !c.AgeGroup.IsValid() {
		return shared.NewDomainError("course", "Validate", shared.ErrInvalidInput, "age_group must be one of 4-7, 8-12, 13+")
	}
	if !c.Difficulty.IsValid() {
		return shared.NewDomainError("course", "Validate", shared.ErrValueOutOfRange, "difficulty must be between 1 and 5")
	}
	return nil
}

// Lesson is one step of a course.
type Lesson struct {
	ID       string `json:"id"`
	CourseID string `json:"course_id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	// OrderIndex is unique within the course and defines navigation order.
	OrderIndex     int    `json:"order_index"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	StarterCode    string `json:"starter_code,omitempty"`
	Hint           string `json:"hint,omitempty"`
	IsOptional     bool   `json:"is_optional"`
	// CodingLanguage is copied from the owning course on read.
	CodingLanguage shared.CodingLanguage `json:"coding_language"`
	CreatedAt      time.Time             `json:"created_at"`
}

// HasExpectedOutput reports whether submissions are graded against an output.
func (l *Lesson) HasExpectedOutput() bool {
	return strings.TrimSpace(l.ExpectedOutput) != ""
}

// Validate checks authoring invariants.
func (l *Lesson) Validate() error {
	if l.CourseID == "" {
		return shared.NewDomainError("lesson", "Validate", shared.ErrEmptyValue, "course_id is required")
	}
	if strings.TrimSpace(l.Title) == "" {
		return shared.NewDomainError("lesson", "Validate", shared.ErrEmptyValue, "title is required")
	}
	if l.OrderIndex < 0 {
		return shared.NewDomainError("lesson", "Validate", shared.ErrNegativeValue, "order_index cannot be negative")
	}
	return nil
}
