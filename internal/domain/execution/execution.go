// Package execution defines the code-execution collaborator contract and the
// grading rules applied to its output.
package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codekids/codekids-hub/internal/domain/shared"
)

// Feedback texts shown to learners.
const (
	FeedbackNoExpectation = "Good job!"
	FeedbackSuccess       = "Great job! Your code works correctly!"
	FeedbackMismatch      = "Try again! The output doesn't match expected result."
	feedbackErrorFormat   = "Code execution error: %s"
)

// Result is the outcome of running learner code.
type Result struct {
	Success  bool          `json:"success"`
	Output   string        `json:"output"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
}

// Validation is a graded attempt.
type Validation struct {
	Valid        bool   `json:"valid"`
	Score        int    `json:"score"`
	Feedback     string `json:"feedback"`
	ActualOutput string `json:"actual_output,omitempty"`
}

// Runner executes code in one of the supported languages.
// Execution failures are reported in Result; the error return is reserved for
// infrastructure problems such as an unavailable remote runner.
type Runner interface {
	Execute(ctx context.Context, lang shared.CodingLanguage, code string) (*Result, error)
}

// Accept is the validation used for lessons without an expected output.
func Accept() Validation {
	return Validation{Valid: true, Score: 100, Feedback: FeedbackNoExpectation}
}

// Validate runs code and compares its output to expected. A runner error is
// folded into a failed validation so callers never surface it as a request error.
func Validate(ctx context.Context, r Runner, lang shared.CodingLanguage, code, expected string) Validation {
	if strings.TrimSpace(expected) == "" {
		return Accept()
	}
	res, err := r.Execute(ctx, lang, code)
	if err != nil {
		return Failed(err.Error())
	}
	if !res.Success {
		return Failed(res.Error)
	}
	return Grade(res.Output, expected)
}

// Grade compares trimmed, lowercased output against the expectation.
// Containment is enough so print decorations do not fail a correct answer.
func Grade(output, expected string) Validation {
	actual := normalize(output)
	if strings.Contains(actual, normalize(expected)) {
		return Validation{Valid: true, Score: 100, Feedback: FeedbackSuccess, ActualOutput: output}
	}
	return Validation{Valid: false, Score: 0, Feedback: FeedbackMismatch, ActualOutput: output}
}

// Failed builds the validation for code that could not run.
func Failed(msg string) Validation {
	return Validation{Valid: false, Score: 0, Feedback: fmt.Sprintf(feedbackErrorFormat, msg)}
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
