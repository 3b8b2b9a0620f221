package shared

import (
	"strings"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════
// Identifiers
// ═══════════════════════════════════════════════════════════════════════════

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// IsValidID reports whether id parses as a UUID.
func IsValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Score Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Score is a lesson score in percent.
type Score int

const (
	MinScore Score = 0
	MaxScore Score = 100
)

// IsValid checks if the score is within 0..100.
func (s Score) IsValid() bool {
	return s >= MinScore && s <= MaxScore
}

// Int returns the underlying int value.
func (s Score) Int() int {
	return int(s)
}

// NewScore clamps a raw score into range.
func NewScore(v int) Score {
	switch {
	case v < int(MinScore):
		return MinScore
	case v > int(MaxScore):
		return MaxScore
	default:
		return Score(v)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Points and Level
// ═══════════════════════════════════════════════════════════════════════════

// Points is a user's cumulative achievement total.
type Points int

// Int returns the underlying int value.
func (p Points) Int() int {
	return int(p)
}

// Add returns p + amount, ignoring negative amounts so totals never decrease.
func (p Points) Add(amount int) Points {
	if amount <= 0 {
		return p
	}
	return p + Points(amount)
}

// Level derives the level from the points total.
func (p Points) Level() Level {
	switch {
	case p >= 200:
		return 4
	case p >= 100:
		return 3
	case p >= 50:
		return 2
	default:
		return 1
	}
}

// Level is a tier derived from Points. It is never stored independently.
type Level int

const (
	MinLevel Level = 1
	MaxLevel Level = 4
)

// Int returns the underlying int value.
func (l Level) Int() int {
	return int(l)
}

// Title returns the display title for the level.
func (l Level) Title() string {
	switch {
	case l >= 4:
		return "Code Master"
	case l == 3:
		return "Code Explorer"
	case l == 2:
		return "Code Adventurer"
	default:
		return "Beginner Coder"
	}
}

// RequiredPoints returns the lowest total that reaches this level.
func (l Level) RequiredPoints() int {
	switch {
	case l >= 4:
		return 200
	case l == 3:
		return 100
	case l == 2:
		return 50
	default:
		return 0
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Age Group
// ═══════════════════════════════════════════════════════════════════════════

// AgeGroup buckets learners and courses.
type AgeGroup string

const (
	AgeGroupYoung  AgeGroup = "4-7"
	AgeGroupMiddle AgeGroup = "8-12"
	AgeGroupTeen   AgeGroup = "13+"
)

// AgeGroupFor maps an age to its bucket.
func AgeGroupFor(age int) AgeGroup {
	switch {
	case age >= 4 && age <= 7:
		return AgeGroupYoung
	case age >= 8 && age <= 12:
		return AgeGroupMiddle
	default:
		return AgeGroupTeen
	}
}

// IsValid checks if the group is a known bucket.
func (g AgeGroup) IsValid() bool {
	switch g {
	case AgeGroupYoung, AgeGroupMiddle, AgeGroupTeen:
		return true
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════
// Difficulty
// ═══════════════════════════════════════════════════════════════════════════

// Difficulty ranks a course from 1 (easiest) to 5.
type Difficulty int

// IsValid checks the 1..5 range.
func (d Difficulty) IsValid() bool {
	return d >= 1 && d <= 5
}

// ═══════════════════════════════════════════════════════════════════════════
// Coding language
// ═══════════════════════════════════════════════════════════════════════════

// CodingLanguage is the language learners write lesson code in.
type CodingLanguage string

const (
	LanguageJavaScript CodingLanguage = "javascript"
	LanguagePython     CodingLanguage = "python"
	LanguageBlockly    CodingLanguage = "blockly"
)

// ParseCodingLanguage normalizes user input. Unknown values fall back to javascript.
func ParseCodingLanguage(s string) CodingLanguage {
	switch CodingLanguage(strings.ToLower(strings.TrimSpace(s))) {
	case LanguagePython:
		return LanguagePython
	case LanguageBlockly:
		return LanguageBlockly
	default:
		return LanguageJavaScript
	}
}
