package progression

import (
	"context"
	"fmt"

	"github.com/codekids/codekids-hub/internal/domain/course"
)

// ══════════════════════════════════════════════════════════════════════════════
// NAVIGATION PLANNER
// ══════════════════════════════════════════════════════════════════════════════

// LessonRef is the compact lesson shape used in navigation.
type LessonRef struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	OrderIndex int    `json:"order_index"`
}

func refOf(l *course.Lesson) *LessonRef {
	if l == nil {
		return nil
	}
	return &LessonRef{ID: l.ID, Title: l.Title, OrderIndex: l.OrderIndex}
}

// Navigation is the previous/next pair around a lesson. Locked lessons are
// skipped in both directions.
type Navigation struct {
	Previous        *LessonRef `json:"previous"`
	Next            *LessonRef `json:"next"`
	Current         *LessonRef `json:"current"`
	Total           int        `json:"total"`
	Completed       int        `json:"completed"`
	CurrentPosition int        `json:"currentPosition"`
}

// Navigator plans movement through a course.
type Navigator struct {
	courses  course.Repository
	resolver *Resolver
}

// NewNavigator creates a navigator.
func NewNavigator(courses course.Repository, resolver *Resolver) *Navigator {
	return &Navigator{courses: courses, resolver: resolver}
}

// Gates loads the lessons of a course and evaluates each for the learner.
func (n *Navigator) Gates(ctx context.Context, courseID string, snap *UserSnapshot) ([]LessonGate, error) {
	lessons, err := n.courses.ListLessons(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("navigator: list lessons: %w", err)
	}
	return n.resolver.GateLessons(ctx, lessons, snap)
}

// Navigate returns the neighbours of currentLessonID. An unknown lesson
// yields an empty navigation with the totals still filled in.
func (n *Navigator) Navigate(ctx context.Context, courseID, userID, currentLessonID string) (*Navigation, error) {
	snap, err := n.resolver.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	gates, err := n.Gates(ctx, courseID, snap)
	if err != nil {
		return nil, err
	}
	return Plan(gates, currentLessonID), nil
}

// Plan computes navigation over already evaluated lessons in order.
func Plan(gates []LessonGate, currentLessonID string) *Navigation {
	nav := &Navigation{Total: len(gates)}
	current := -1
	for i, g := range gates {
		if g.Completed {
			nav.Completed++
		}
		if g.Lesson.ID == currentLessonID {
			current = i
		}
	}
	if current < 0 {
		return nav
	}

	nav.Current = refOf(gates[current].Lesson)
	nav.CurrentPosition = current + 1
	for i := current - 1; i >= 0; i-- {
		if gates[i].Accessible {
			nav.Previous = refOf(gates[i].Lesson)
			break
		}
	}
	for i := current + 1; i < len(gates); i++ {
		if gates[i].Accessible {
			nav.Next = refOf(gates[i].Lesson)
			break
		}
	}
	return nav
}

// NextAccessible returns the first accessible, incomplete lesson after
// afterLessonID, falling back to the first such lesson anywhere in the course.
func (n *Navigator) NextAccessible(ctx context.Context, courseID, userID, afterLessonID string) (*course.Lesson, error) {
	snap, err := n.resolver.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	gates, err := n.Gates(ctx, courseID, snap)
	if err != nil {
		return nil, err
	}
	return NextOpen(gates, afterLessonID), nil
}

// NextOpen picks the next lesson to work on from evaluated lessons.
func NextOpen(gates []LessonGate, afterLessonID string) *course.Lesson {
	open := func(g LessonGate) bool { return g.Accessible && !g.Completed }

	after := -1
	for i, g := range gates {
		if g.Lesson.ID == afterLessonID {
			after = i
			break
		}
	}
	if after >= 0 {
		for _, g := range gates[after+1:] {
			if open(g) {
				return g.Lesson
			}
		}
	}
	for _, g := range gates {
		if open(g) {
			return g.Lesson
		}
	}
	return nil
}
