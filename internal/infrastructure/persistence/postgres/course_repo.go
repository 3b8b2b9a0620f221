package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/codekids/codekids-hub/internal/domain/course"
	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COURSE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CourseRepository implements course.Repository for PostgreSQL.
type CourseRepository struct {
	conn *Connection
}

// NewCourseRepository creates a new CourseRepository.
func NewCourseRepository(conn *Connection) *CourseRepository {
	return &CourseRepository{conn: conn}
}

const courseColumns = `id, title, slug, description, age_group, language_target,
	coding_language, difficulty, is_active, created_at`

const lessonColumns = `l.id, l.course_id, l.title, l.content, l.order_index, l.expected_output,
	l.starter_code, l.hints, l.is_optional, l.created_at, c.coding_language`

// ─────────────────────────────────────────────────────────────────────────────
// Courses
// ─────────────────────────────────────────────────────────────────────────────

// CreateCourse inserts a course. A taken slug maps to ErrAlreadyExists.
func (r *CourseRepository) CreateCourse(ctx context.Context, c *course.Course) error {
	if c.ID == "" {
		c.ID = shared.NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := r.conn.Exec(ctx, `
		INSERT INTO courses (`+courseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.Title, c.Slug, c.Description, string(c.AgeGroup), c.LanguageTarget,
		string(c.CodingLanguage), int(c.Difficulty), c.IsActive, c.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.NewDomainError("course", "Create", shared.ErrAlreadyExists, "slug already taken")
		}
		return fmt.Errorf("failed to create course: %w", err)
	}
	return nil
}

// GetCourse returns a course by id.
func (r *CourseRepository) GetCourse(ctx context.Context, id string) (*course.Course, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses WHERE id = $1`, id)
	c, err := scanCourse(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrCourseNotFound
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return c, nil
}

// ListCourses returns active courses ordered by difficulty then title.
func (r *CourseRepository) ListCourses(ctx context.Context) ([]*course.Course, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+courseColumns+`
		FROM courses
		WHERE is_active
		ORDER BY difficulty, title
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	var out []*course.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCourse(row pgx.Row) (*course.Course, error) {
	var (
		c                        course.Course
		ageGroup, codingLanguage string
		difficulty               int
	)
	err := row.Scan(&c.ID, &c.Title, &c.Slug, &c.Description, &ageGroup, &c.LanguageTarget,
		&codingLanguage, &difficulty, &c.IsActive, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.AgeGroup = shared.AgeGroup(ageGroup)
	c.CodingLanguage = shared.ParseCodingLanguage(codingLanguage)
	c.Difficulty = shared.Difficulty(difficulty)
	return &c, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Lessons
// ─────────────────────────────────────────────────────────────────────────────

// CreateLesson inserts a lesson. A duplicate order_index maps to ErrAlreadyExists,
// a missing course to ErrCourseNotFound.
func (r *CourseRepository) CreateLesson(ctx context.Context, l *course.Lesson) error {
	if l.ID == "" {
		l.ID = shared.NewID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	_, err := r.conn.Exec(ctx, `
		INSERT INTO lessons (id, course_id, title, content, order_index, expected_output,
			starter_code, hints, is_optional, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, l.ID, l.CourseID, l.Title, l.Content, l.OrderIndex, l.ExpectedOutput,
		l.StarterCode, l.Hint, l.IsOptional, l.CreatedAt)
	switch {
	case err == nil:
		return nil
	case IsUniqueViolation(err):
		return shared.NewDomainError("lesson", "Create", shared.ErrAlreadyExists, "order_index already used in course")
	case IsForeignKeyViolation(err):
		return shared.ErrCourseNotFound
	default:
		return fmt.Errorf("failed to create lesson: %w", err)
	}
}

// GetLesson returns a lesson with its course's coding language.
func (r *CourseRepository) GetLesson(ctx context.Context, id string) (*course.Lesson, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+lessonColumns+`
		FROM lessons l
		JOIN courses c ON c.id = l.course_id
		WHERE l.id = $1
	`, id)
	l, err := scanLesson(row)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrLessonNotFound
		}
		return nil, fmt.Errorf("failed to get lesson: %w", err)
	}
	return l, nil
}

// ListLessons returns a course's lessons ordered by order_index.
func (r *CourseRepository) ListLessons(ctx context.Context, courseID string) ([]*course.Lesson, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+lessonColumns+`
		FROM lessons l
		JOIN courses c ON c.id = l.course_id
		WHERE l.course_id = $1
		ORDER BY l.order_index
	`, courseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lessons: %w", err)
	}
	defer rows.Close()

	var out []*course.Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lesson: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// LessonCounts returns the number of lessons per course id.
func (r *CourseRepository) LessonCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn.Query(ctx, `SELECT course_id, COUNT(*) FROM lessons GROUP BY course_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count lessons: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			courseID string
			n        int
		)
		if err := rows.Scan(&courseID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan lesson count: %w", err)
		}
		out[courseID] = n
	}
	return out, rows.Err()
}

func scanLesson(row pgx.Row) (*course.Lesson, error) {
	var (
		l    course.Lesson
		lang string
	)
	err := row.Scan(&l.ID, &l.CourseID, &l.Title, &l.Content, &l.OrderIndex, &l.ExpectedOutput,
		&l.StarterCode, &l.Hint, &l.IsOptional, &l.CreatedAt, &lang)
	if err != nil {
		return nil, err
	}
	l.CodingLanguage = shared.ParseCodingLanguage(lang)
	return &l, nil
}
