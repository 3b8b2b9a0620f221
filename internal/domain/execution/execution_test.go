package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codekids/codekids-hub/internal/domain/shared"
)

type stubRunner struct {
	res *Result
	err error
}

func (s stubRunner) Execute(context.Context, shared.CodingLanguage, string) (*Result, error) {
	return s.res, s.err
}

func TestGrade_NormalizesAndContains(t *testing.T) {
	v := Grade("  Hello, World!\n", "hello, world!")
	assert.True(t, v.Valid)
	assert.Equal(t, 100, v.Score)
	assert.Equal(t, FeedbackSuccess, v.Feedback)

	v = Grade("The answer is 42\n", "42")
	assert.True(t, v.Valid)

	v = Grade("41", "42")
	assert.False(t, v.Valid)
	assert.Equal(t, 0, v.Score)
	assert.Equal(t, FeedbackMismatch, v.Feedback)
	assert.Equal(t, "41", v.ActualOutput)
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	v := Validate(ctx, stubRunner{}, shared.LanguagePython, "print(1)", "  ")
	assert.Equal(t, Accept(), v)

	v = Validate(ctx, stubRunner{res: &Result{Success: false, Error: "SyntaxError"}}, shared.LanguagePython, "print(", "1")
	assert.False(t, v.Valid)
	assert.Equal(t, "Code execution error: SyntaxError", v.Feedback)

	v = Validate(ctx, stubRunner{err: errors.New("runner down")}, shared.LanguagePython, "print(1)", "1")
	assert.False(t, v.Valid)
	assert.Equal(t, "Code execution error: runner down", v.Feedback)

	v = Validate(ctx, stubRunner{res: &Result{Success: true, Output: "1\n"}}, shared.LanguagePython, "print(1)", "1")
	assert.True(t, v.Valid)
}

func TestHintFor(t *testing.T) {
	h := HintFor("Use print()", "x")
	assert.Equal(t, "Use print()", h.Hint)
	assert.Len(t, h.Suggestions, 3)

	assert.Equal(t, ProblemVariable, HintFor("", "let x = undefined").Problem)
	assert.Equal(t, "Make sure your loop has a clear start and end point.", HintFor("", "for (;;) {}").Hint)
	assert.Equal(t, "Try breaking the problem into smaller steps!", HintFor("", "console.log(1)").Hint)
}
