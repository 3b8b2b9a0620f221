package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/codekids/codekids-hub/internal/domain/progress"
	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
// Writes are single-statement upserts on (user_id, lesson_id); concurrent
// writers to the same pair resolve last-writer-wins.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

const progressColumns = `id, user_id, lesson_id, course_id, code_submission, score,
	completed, completed_at, time_spent, created_at, updated_at`

// Get returns the row for a pair.
func (r *ProgressRepository) Get(ctx context.Context, userID, lessonID string) (*progress.Progress, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+progressColumns+`
		FROM user_progress
		WHERE user_id = $1 AND lesson_id = $2
	`, userID, lessonID)
	p, err := scanProgress(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.NewDomainError("progress", "Get", shared.ErrNotFound, "no progress for lesson")
		}
		return nil, fmt.Errorf("failed to get progress: %w", err)
	}
	return p, nil
}

// SaveCode inserts a draft or replaces only the code of an existing row.
func (r *ProgressRepository) SaveCode(ctx context.Context, userID, lessonID, courseID, code string, now time.Time) (*progress.Progress, error) {
	draft := progress.NewDraft(userID, lessonID, courseID, code, now)
	row := r.conn.QueryRow(ctx, `
		INSERT INTO user_progress (id, user_id, lesson_id, course_id, code_submission, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (user_id, lesson_id) DO UPDATE
		SET code_submission = EXCLUDED.code_submission,
		    updated_at = EXCLUDED.updated_at
		RETURNING `+progressColumns,
		draft.ID, userID, lessonID, courseID, code, now)
	p, err := scanProgress(row)
	if err != nil {
		return nil, fmt.Errorf("failed to save code: %w", err)
	}
	return p, nil
}

// RecordSubmission upserts a graded attempt. The score is overwritten, time
// accumulates and completion is sticky, matching progress.Progress.Apply.
func (r *ProgressRepository) RecordSubmission(
	ctx context.Context,
	userID, lessonID, courseID string,
	s progress.Submission,
	now time.Time,
) (*progress.Progress, bool, error) {
	score := shared.NewScore(s.Score).Int()
	spent := max(s.TimeSpent, 0)

	row := r.conn.QueryRow(ctx, `
		WITH prev AS (
			SELECT completed FROM user_progress WHERE user_id = $2 AND lesson_id = $3
		), upsert AS (
			INSERT INTO user_progress (id, user_id, lesson_id, course_id, code_submission, score,
				completed, completed_at, time_spent, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7::boolean,
				CASE WHEN $7::boolean THEN $9::timestamptz END, $8, $9, $9)
			ON CONFLICT (user_id, lesson_id) DO UPDATE
			SET code_submission = EXCLUDED.code_submission,
			    score = EXCLUDED.score,
			    time_spent = user_progress.time_spent + EXCLUDED.time_spent,
			    completed = user_progress.completed OR EXCLUDED.completed,
			    completed_at = COALESCE(user_progress.completed_at, EXCLUDED.completed_at),
			    updated_at = EXCLUDED.updated_at
			RETURNING `+progressColumns+`
		)
		SELECT upsert.*, (upsert.completed AND NOT COALESCE((SELECT completed FROM prev), FALSE))
		FROM upsert
	`, shared.NewID(), userID, lessonID, courseID, s.Code, score, s.Valid, spent, now)

	var (
		p      progress.Progress
		became bool
	)
	err := row.Scan(&p.ID, &p.UserID, &p.LessonID, &p.CourseID, &p.CodeSubmission, &p.Score,
		&p.Completed, &p.CompletedAt, &p.TimeSpent, &p.CreatedAt, &p.UpdatedAt, &became)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record submission: %w", err)
	}
	return &p, became, nil
}

// ListByUser returns every row of a user with lesson and course titles,
// most recently updated first.
func (r *ProgressRepository) ListByUser(ctx context.Context, userID string) ([]*progress.Progress, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT p.id, p.user_id, p.lesson_id, p.course_id, p.code_submission, p.score,
		       p.completed, p.completed_at, p.time_spent, p.created_at, p.updated_at,
		       COALESCE(l.title, ''), COALESCE(l.order_index, 0), COALESCE(c.title, '')
		FROM user_progress p
		LEFT JOIN lessons l ON l.id = p.lesson_id
		LEFT JOIN courses c ON c.id = p.course_id
		WHERE p.user_id = $1
		ORDER BY p.updated_at DESC, p.lesson_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress: %w", err)
	}
	defer rows.Close()

	var out []*progress.Progress
	for rows.Next() {
		var p progress.Progress
		err := rows.Scan(&p.ID, &p.UserID, &p.LessonID, &p.CourseID, &p.CodeSubmission, &p.Score,
			&p.Completed, &p.CompletedAt, &p.TimeSpent, &p.CreatedAt, &p.UpdatedAt,
			&p.LessonTitle, &p.OrderIndex, &p.CourseTitle)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// Summary returns completion facts for achievement rules.
func (r *ProgressRepository) Summary(ctx context.Context, userID string) (*progress.Summary, error) {
	sum := &progress.Summary{}

	rows, err := r.conn.Query(ctx, `
		SELECT completed_at
		FROM user_progress
		WHERE user_id = $1 AND completed AND completed_at IS NOT NULL
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query completions: %w", err)
	}
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		sum.CompletionTimes = append(sum.CompletionTimes, at)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = r.conn.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(DISTINCT LOWER(NULLIF(c.language_target, '')))
		FROM user_progress p
		LEFT JOIN lessons l ON l.id = p.lesson_id
		LEFT JOIN courses c ON c.id = l.course_id
		WHERE p.user_id = $1 AND p.completed
	`, userID).Scan(&sum.CompletedCount, &sum.DistinctLanguages)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize progress: %w", err)
	}
	return sum, nil
}

func scanProgress(row pgx.Row) (*progress.Progress, error) {
	var p progress.Progress
	err := row.Scan(&p.ID, &p.UserID, &p.LessonID, &p.CourseID, &p.CodeSubmission, &p.Score,
		&p.Completed, &p.CompletedAt, &p.TimeSpent, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// EXECUTION AUDIT
// ══════════════════════════════════════════════════════════════════════════════

// ExecutionRepository implements progress.ExecutionRepository for PostgreSQL.
type ExecutionRepository struct {
	conn *Connection
}

// NewExecutionRepository creates a new ExecutionRepository.
func NewExecutionRepository(conn *Connection) *ExecutionRepository {
	return &ExecutionRepository{conn: conn}
}

// Record appends one audit row.
func (r *ExecutionRepository) Record(ctx context.Context, e *progress.Execution) error {
	if e.ID == "" {
		e.ID = shared.NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.conn.Exec(ctx, `
		INSERT INTO code_executions (id, user_id, lesson_id, code, output, success, error_message, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8)
	`, e.ID, e.UserID, e.LessonID, e.Code, e.Output, e.Success, e.ErrorMessage, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}
