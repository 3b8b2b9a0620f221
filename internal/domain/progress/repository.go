package progress

import (
	"context"
	"time"
)

// Repository persists progress rows. Concurrent writers to the same pair are
// resolved by the store's upsert; the last writer wins.
type Repository interface {
	// Get returns the row for a pair.
	// Returns an ErrNotFound error when the pair has no row.
	Get(ctx context.Context, userID, lessonID string) (*Progress, error)

	// SaveCode inserts a draft or updates only the code of an existing row.
	SaveCode(ctx context.Context, userID, lessonID, courseID, code string, now time.Time) (*Progress, error)

	// RecordSubmission upserts a graded attempt with the rules of Progress.Apply
	// and reports whether the row became completed.
	RecordSubmission(ctx context.Context, userID, lessonID, courseID string, s Submission, now time.Time) (*Progress, bool, error)

	// ListByUser returns every row of a user with lesson and course titles,
	// most recently updated first.
	ListByUser(ctx context.Context, userID string) ([]*Progress, error)

	// Summary returns completion facts for achievement rules.
	Summary(ctx context.Context, userID string) (*Summary, error)
}

// ExecutionRepository stores the code execution audit trail.
type ExecutionRepository interface {
	Record(ctx context.Context, e *Execution) error
}
