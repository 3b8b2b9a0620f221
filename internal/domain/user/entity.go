// Package user holds the learner, parent and staff accounts the progression engine reads.
// Accounts are created by the identity service; this package only models what
// progression needs from them.
package user

import (
	"time"

	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// Role is the account role.
type Role string

const (
	RoleStudent Role = "student"
	RoleParent  Role = "parent"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// IsValid checks the role against the known set.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleParent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// CanAuthor reports whether the role may create courses, lessons and dependencies.
func (r Role) CanAuthor() bool {
	return r == RoleAdmin || r == RoleTeacher
}

// CanOverrideLocks reports whether the role may bypass dependency gates.
func (r Role) CanOverrideLocks() bool {
	return r == RoleAdmin
}

// User is an account.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	Age         int    `json:"age"`
	// ParentID is a weak reference. A dangling value is tolerated.
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AgeGroup returns the course bucket this user belongs to.
func (u *User) AgeGroup() shared.AgeGroup {
	return shared.AgeGroupFor(u.Age)
}

// Validate checks invariants before persisting.
func (u *User) Validate() error {
	if u.ID == "" {
		return shared.NewDomainError("user", "Validate", shared.ErrEmptyValue, "id is required")
	}
	if !u.Role.IsValid() {
		return shared.NewDomainError("user", "Validate", shared.ErrInvalidInput, "unknown role")
	}
	if u.Age < 0 {
		return shared.NewDomainError("user", "Validate", shared.ErrNegativeValue, "age cannot be negative")
	}
	return nil
}
