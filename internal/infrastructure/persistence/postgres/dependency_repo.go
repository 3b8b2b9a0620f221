package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/codekids/codekids-hub/internal/domain/dependency"
	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// DependencyRepository implements dependency.Repository for PostgreSQL.
type DependencyRepository struct {
	conn *Connection
}

// NewDependencyRepository creates a new DependencyRepository.
func NewDependencyRepository(conn *Connection) *DependencyRepository {
	return &DependencyRepository{conn: conn}
}

// selectDependencies resolves the target title with one LEFT JOIN per variant.
// A dangling target leaves the title empty.
const selectDependencies = `
	SELECT d.id, d.subject_kind, d.subject_id, d.dependency_type,
	       COALESCE(d.required_id, ''), COALESCE(d.required_achievement_type, ''),
	       d.min_score, d.created_at,
	       COALESCE(rl.title, rc.title, rat.title, '')
	FROM dependencies d
	LEFT JOIN lessons rl ON d.dependency_type = 'lesson' AND rl.id = d.required_id
	LEFT JOIN courses rc ON d.dependency_type = 'course' AND rc.id = d.required_id
	LEFT JOIN achievement_types rat ON d.dependency_type = 'achievement' AND rat.type = d.required_achievement_type
`

// ListForSubject returns the edges of one subject in creation order.
func (r *DependencyRepository) ListForSubject(ctx context.Context, subject dependency.Subject) ([]dependency.Dependency, error) {
	rows, err := r.conn.Query(ctx, selectDependencies+`
		WHERE d.subject_kind = $1 AND d.subject_id = $2
		ORDER BY d.created_at, d.id
	`, string(subject.Kind), subject.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	return collectDependencies(rows)
}

// ListForSubjects returns edges for many subjects of one kind, keyed by subject id.
func (r *DependencyRepository) ListForSubjects(ctx context.Context, kind dependency.SubjectKind, ids []string) (map[string][]dependency.Dependency, error) {
	out := make(map[string][]dependency.Dependency)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.conn.Query(ctx, selectDependencies+`
		WHERE d.subject_kind = $1 AND d.subject_id = ANY($2)
		ORDER BY d.created_at, d.id
	`, string(kind), ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	deps, err := collectDependencies(rows)
	if err != nil {
		return nil, err
	}
	for _, d := range deps {
		out[d.Subject.ID] = append(out[d.Subject.ID], d)
	}
	return out, nil
}

// ListAll returns every edge.
func (r *DependencyRepository) ListAll(ctx context.Context) ([]dependency.Dependency, error) {
	rows, err := r.conn.Query(ctx, selectDependencies+` ORDER BY d.created_at, d.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	return collectDependencies(rows)
}

// Add stores a new edge.
func (r *DependencyRepository) Add(ctx context.Context, d *dependency.Dependency) error {
	if d.Requirement == nil {
		return shared.NewDomainError("dependency", "Add", shared.ErrInvalidInput, "requirement is required")
	}
	if d.ID == "" {
		d.ID = shared.NewID()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	t, requiredID, achievementType, minScore := dependency.EncodeRequirement(d.Requirement)

	_, err := r.conn.Exec(ctx, `
		INSERT INTO dependencies (id, subject_kind, subject_id, dependency_type,
			required_id, required_achievement_type, min_score, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
	`, d.ID, string(d.Subject.Kind), d.Subject.ID, string(t), requiredID, achievementType, minScore, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add dependency: %w", err)
	}
	return nil
}

func collectDependencies(rows pgx.Rows) ([]dependency.Dependency, error) {
	defer rows.Close()

	var out []dependency.Dependency
	for rows.Next() {
		var (
			d                       dependency.Dependency
			kind, typ               string
			requiredID, achievement string
			minScore                int
		)
		err := rows.Scan(&d.ID, &kind, &d.Subject.ID, &typ, &requiredID, &achievement,
			&minScore, &d.CreatedAt, &d.TargetTitle)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		d.Subject.Kind = dependency.SubjectKind(kind)
		req, err := dependency.DecodeRequirement(dependency.Type(typ), requiredID, achievement, minScore)
		if err != nil {
			return nil, fmt.Errorf("dependency %s: %w", d.ID, err)
		}
		d.Requirement = req
		out = append(out, d)
	}
	return out, rows.Err()
}
