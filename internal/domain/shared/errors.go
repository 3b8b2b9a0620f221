// Package shared holds the value objects, errors and events every domain
// package speaks.
package shared

import (
	"errors"
	"fmt"
	"strings"
)

// class is a sentinel that belongs to a broader class, so that
// errors.Is(ErrEmptyValue, ErrValidation) holds.
type class struct {
	msg    string
	parent error
}

func (c *class) Error() string { return c.msg }
func (c *class) Unwrap() error { return c.parent }

func sentinel(msg string, parent error) error { return &class{msg: msg, parent: parent} }

// Error classes. The HTTP layer maps each class to a status code.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrValidation       = errors.New("validation failed")
	ErrDependencyNotMet = errors.New("dependencies not met")
	ErrForbidden        = errors.New("forbidden")
	ErrExternalService  = errors.New("external service failed")
	ErrConfiguration    = errors.New("misconfigured")
)

var (
	ErrInvalidID       = sentinel("invalid id", ErrValidation)
	ErrInvalidInput    = sentinel("invalid input", ErrValidation)
	ErrEmptyValue      = sentinel("value is empty", ErrValidation)
	ErrNegativeValue   = sentinel("value is negative", ErrValidation)
	ErrValueOutOfRange = sentinel("value out of range", ErrValidation)

	ErrUnauthorized = sentinel("unauthorized", ErrForbidden)

	// ErrServiceUnavailable and ErrTimeout are worth retrying later.
	ErrServiceUnavailable = sentinel("service unavailable", ErrExternalService)
	ErrTimeout            = sentinel("timed out", ErrExternalService)
	ErrRateLimited        = sentinel("rate limited", ErrExternalService)
)

// DomainError attaches where and why to an error class.
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(e.Domain)
	b.WriteByte('.')
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the class and the cause to errors.Is and errors.As.
func (e *DomainError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

var (
	ErrUserNotFound            = NewDomainError("user", "Find", ErrNotFound, "user not found")
	ErrCourseNotFound          = NewDomainError("course", "Find", ErrNotFound, "course not found")
	ErrLessonNotFound          = NewDomainError("lesson", "Find", ErrNotFound, "lesson not found")
	ErrAchievementTypeNotFound = NewDomainError("achievement", "FindType", ErrNotFound, "achievement type not found")
	ErrDependencyCycle         = NewDomainError("dependency", "Add", ErrInvalidInput, "dependency would create a cycle")
	ErrUnsupportedLanguage     = NewDomainError("executor", "Execute", ErrInvalidInput, "unsupported coding language")
	ErrExecutorUnavailable     = NewDomainError("executor", "Execute", ErrServiceUnavailable, "code executor is unavailable")
)

// ══════════════════════════════════════════════════════════════════════════════
// LOCKED CONTENT
// ══════════════════════════════════════════════════════════════════════════════

// UnmetRequirement is one prerequisite the learner still lacks, in the shape
// clients render next to a locked item.
type UnmetRequirement struct {
	Type         string `json:"type"`
	Target       string `json:"target"`
	TargetTitle  string `json:"target_title,omitempty"`
	MinScore     int    `json:"min_score"`
	CurrentValue any    `json:"current_value"`
	Requirement  string `json:"requirement"`
}

// DependencyNotMetError rejects access to or submission of a locked lesson
// or course.
type DependencyNotMetError struct {
	Subject string
	ID      string
	Unmet   []UnmetRequirement
}

func NewDependencyNotMet(subject, id string, unmet []UnmetRequirement) *DependencyNotMetError {
	return &DependencyNotMetError{Subject: subject, ID: id, Unmet: unmet}
}

func (e *DependencyNotMetError) Error() string {
	reqs := make([]string, len(e.Unmet))
	for i, u := range e.Unmet {
		reqs[i] = u.Requirement
	}
	return fmt.Sprintf("%s %s is locked: %s", e.Subject, e.ID, strings.Join(reqs, "; "))
}

func (e *DependencyNotMetError) Unwrap() error { return ErrDependencyNotMet }

func AsDependencyNotMet(err error) (*DependencyNotMetError, bool) {
	var dnm *DependencyNotMetError
	ok := errors.As(err, &dnm)
	return dnm, ok
}

// ══════════════════════════════════════════════════════════════════════════════
// CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

func IsNotFound(err error) bool         { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool    { return errors.Is(err, ErrAlreadyExists) }
func IsDependencyNotMet(err error) bool { return errors.Is(err, ErrDependencyNotMet) }
func IsValidation(err error) bool       { return errors.Is(err, ErrValidation) }
func IsForbidden(err error) bool        { return errors.Is(err, ErrForbidden) }
func IsExternalService(err error) bool  { return errors.Is(err, ErrExternalService) }

func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrTimeout)
}
