package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress_StateMachine(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, StateNotStarted, StateOf(nil))

	p := NewDraft("u1", "l1", "c1", "print(1)", t0)
	assert.Equal(t, StateInProgress, StateOf(p))

	became := p.Apply(Submission{Code: "print(2)", Score: 0, Valid: false, TimeSpent: 30}, t0.Add(time.Minute))
	assert.False(t, became)
	assert.Equal(t, StateInProgress, StateOf(p))
	assert.Nil(t, p.CompletedAt)

	t2 := t0.Add(2 * time.Minute)
	became = p.Apply(Submission{Code: "print(3)", Score: 100, Valid: true, TimeSpent: 40}, t2)
	assert.True(t, became)
	assert.Equal(t, StateCompleted, StateOf(p))
	require.NotNil(t, p.CompletedAt)
	assert.Equal(t, t2, *p.CompletedAt)
	assert.Equal(t, 70, p.TimeSpent)

	// A later failing attempt overwrites the score but never regresses completion.
	became = p.Apply(Submission{Code: "oops", Score: 0, Valid: false, TimeSpent: 5}, t2.Add(time.Hour))
	assert.False(t, became)
	assert.True(t, p.Completed)
	assert.Equal(t, 0, p.Score)
	assert.Equal(t, t2, *p.CompletedAt)
	assert.Equal(t, 75, p.TimeSpent)

	p.SaveCode("draft", t2.Add(2*time.Hour))
	assert.Equal(t, "draft", p.CodeSubmission)
	assert.True(t, p.Completed)
	assert.Equal(t, 0, p.Score)
}

func TestCompletionPercentage(t *testing.T) {
	assert.Equal(t, 75, CompletionPercentage(3, 4))
	assert.Equal(t, 0, CompletionPercentage(0, 0))
	assert.Equal(t, 33, CompletionPercentage(1, 3))
	assert.Equal(t, 67, CompletionPercentage(2, 3))
	assert.Equal(t, 100, CompletionPercentage(5, 5))
}

func TestAggregate(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	rows := []*Progress{
		{CourseID: "c1", Score: 80, Completed: true, TimeSpent: 100, UpdatedAt: t0},
		{CourseID: "c1", Score: 100, Completed: true, TimeSpent: 50, UpdatedAt: t0.Add(time.Hour)},
		{CourseID: "c1", Score: 10, Completed: false, TimeSpent: 20, UpdatedAt: t0.Add(-time.Hour)},
		{CourseID: "c2", Score: 100, Completed: true, TimeSpent: 999, UpdatedAt: t0.Add(5 * time.Hour)},
	}

	cp := Aggregate("c1", 4, rows)
	assert.Equal(t, 4, cp.TotalLessons)
	assert.Equal(t, 2, cp.CompletedLessons)
	assert.Equal(t, 90.0, cp.AverageScore)
	assert.Equal(t, 170, cp.TotalTimeSpent)
	require.NotNil(t, cp.LastActivity)
	assert.Equal(t, t0.Add(time.Hour), *cp.LastActivity)

	empty := Aggregate("c9", 0, rows)
	assert.Equal(t, 0, empty.CompletedLessons)
	assert.Nil(t, empty.LastActivity)
	assert.Equal(t, 0.0, empty.AverageScore)
}
