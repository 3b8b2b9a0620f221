package dependency

import "context"

// Repository stores prerequisite edges.
type Repository interface {
	// ListForSubject returns the edges of one subject in creation order,
	// with TargetTitle resolved.
	ListForSubject(ctx context.Context, subject Subject) ([]Dependency, error)

	// ListForSubjects returns edges for many subjects of one kind, keyed by subject id.
	ListForSubjects(ctx context.Context, kind SubjectKind, ids []string) (map[string][]Dependency, error)

	// ListAll returns every edge. Used by authoring checks and the graph audit.
	ListAll(ctx context.Context) ([]Dependency, error)

	// Add stores a new edge and fills in its ID.
	Add(ctx context.Context, d *Dependency) error
}
