package execution

import "strings"

// Problem is the class of mistake a hint addresses.
type Problem string

const (
	ProblemSyntax   Problem = "syntax_error"
	ProblemLogic    Problem = "logic_error"
	ProblemVariable Problem = "variable_error"
	ProblemLoop     Problem = "loop_error"
	ProblemGeneral  Problem = "general"
)

var cannedHints = map[Problem]string{
	ProblemSyntax:   "Check your brackets and quotes. Every opening one needs a closing one!",
	ProblemLogic:    "Think about the order of your steps. What should happen first?",
	ProblemVariable: "Did you remember to create your variable before using it?",
	ProblemLoop:     "Make sure your loop has a clear start and end point.",
	ProblemGeneral:  "Try breaking the problem into smaller steps!",
}

// Suggestions are returned with every hint.
var Suggestions = []string{
	"Read the instructions carefully",
	"Check if all blocks are connected properly",
	"Look at the vocabulary words for clues",
}

// Hint is the response to a help request.
type Hint struct {
	Hint        string   `json:"hint"`
	Problem     Problem  `json:"problem_type"`
	Suggestions []string `json:"suggestions"`
}

// DetectProblem guesses what the learner is stuck on from their code.
func DetectProblem(code string) Problem {
	c := strings.ToLower(code)
	switch {
	case strings.Contains(c, "undefined") || strings.Contains(c, "null"):
		return ProblemVariable
	case strings.Contains(c, "while") || strings.Contains(c, "for"):
		return ProblemLoop
	default:
		return ProblemGeneral
	}
}

// HintFor returns the authored hint when there is one, otherwise a canned hint
// for the detected problem.
func HintFor(authored, code string) Hint {
	out := Hint{Suggestions: append([]string(nil), Suggestions...)}
	if strings.TrimSpace(authored) != "" {
		out.Hint = authored
		out.Problem = ProblemGeneral
		return out
	}
	out.Problem = DetectProblem(code)
	out.Hint = cannedHints[out.Problem]
	return out
}
