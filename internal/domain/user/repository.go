package user

import "context"

// Repository reads and writes accounts.
type Repository interface {
	// Create stores a new user.
	// Returns an ErrAlreadyExists error when the id or username is taken.
	Create(ctx context.Context, u *User) error

	// GetByID returns a user.
	// Returns shared.ErrUserNotFound when absent.
	GetByID(ctx context.Context, id string) (*User, error)

	// ListChildren returns the users whose ParentID is parentID.
	ListChildren(ctx context.Context, parentID string) ([]*User, error)
}
