package course

import "context"

// Repository reads and authors catalog content.
type Repository interface {
	// CreateCourse stores a course.
	// Returns an ErrAlreadyExists error when the slug is taken.
	CreateCourse(ctx context.Context, c *Course) error

	// GetCourse returns a course.
	// Returns shared.ErrCourseNotFound when absent.
	GetCourse(ctx context.Context, id string) (*Course, error)

	// ListCourses returns active courses ordered by difficulty then title.
	ListCourses(ctx context.Context) ([]*Course, error)

	// CreateLesson stores a lesson.
	// Returns an ErrAlreadyExists error when order_index is taken within the course.
	CreateLesson(ctx context.Context, l *Lesson) error

	// GetLesson returns a lesson with its course's coding language.
	// Returns shared.ErrLessonNotFound when absent.
	GetLesson(ctx context.Context, id string) (*Lesson, error)

	// ListLessons returns a course's lessons ordered by order_index.
	ListLessons(ctx context.Context, courseID string) ([]*Lesson, error)

	// LessonCounts returns the number of lessons per course id.
	LessonCounts(ctx context.Context) (map[string]int, error)
}
