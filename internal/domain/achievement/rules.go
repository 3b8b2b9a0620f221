package achievement

import (
	"time"

	"github.com/codekids/codekids-hub/pkg/timeutil"
)

// Facts is everything the rules look at. Times are in the platform's local zone.
type Facts struct {
	Now time.Time

	// Submission facts. Zero when rules run outside a submission.
	Submitted   bool
	Completed   bool
	Score       int
	TimeSpent   int
	CompletedAt time.Time

	// Stored state after the submission was recorded.
	CompletedCount    int
	CompletionTimes   []time.Time
	DistinctLanguages int
}

// Rule awards Key when Applies holds. Rules are independent and idempotent:
// the engine ignores keys the user already owns.
type Rule struct {
	Key     Key
	Applies func(f Facts) bool
}

// Thresholds used by the built-in rules.
const (
	FastLearnerLessons    = 5
	SpeedRacerSeconds     = 300
	EarlyBirdHour         = 9
	StreakWindowDays      = 7
	StreakMinDays         = 3
	LanguageExplorerCount = 3
)

// SubmissionRules depend on the facts of a single completed submission.
func SubmissionRules() []Rule {
	return []Rule{
		{Key: FirstLesson, Applies: func(f Facts) bool {
			return f.Completed && f.CompletedCount == 1
		}},
		{Key: FastLearner, Applies: func(f Facts) bool {
			return f.Completed && f.CompletedCount == FastLearnerLessons
		}},
		{Key: PerfectScore, Applies: func(f Facts) bool {
			return f.Completed && f.Score == 100
		}},
		{Key: SpeedRacer, Applies: func(f Facts) bool {
			return f.Completed && f.TimeSpent < SpeedRacerSeconds
		}},
		{Key: EarlyBird, Applies: func(f Facts) bool {
			return f.Completed && !f.CompletedAt.IsZero() && f.CompletedAt.Hour() < EarlyBirdHour
		}},
	}
}

// StateRules depend only on stored completions and can be re-checked at any time.
func StateRules() []Rule {
	return []Rule{
		{Key: CodingStreak, Applies: func(f Facts) bool {
			return StreakDays(f.CompletionTimes, f.Now) >= StreakMinDays
		}},
		{Key: LanguageExplorer, Applies: func(f Facts) bool {
			return f.DistinctLanguages >= LanguageExplorerCount
		}},
		{Key: WeekendWarrior, Applies: func(f Facts) bool {
			// Any Saturday and any Sunday over the learner's lifetime,
			// not necessarily the same weekend.
			return hasWeekday(f.CompletionTimes, time.Saturday) && hasWeekday(f.CompletionTimes, time.Sunday)
		}},
	}
}

// AllRules returns submission rules followed by state rules.
func AllRules() []Rule {
	return append(SubmissionRules(), StateRules()...)
}

// Eligible returns the keys whose rule applies, in rule order.
func Eligible(rules []Rule, f Facts) []Key {
	var out []Key
	for _, r := range rules {
		if r.Applies(f) {
			out = append(out, r.Key)
		}
	}
	return out
}

// StreakDays counts distinct completion dates within the trailing window
// ending today. Several completions on one date count once.
func StreakDays(times []time.Time, now time.Time) int {
	since := timeutil.StartOfDayIn(now).AddDate(0, 0, -(StreakWindowDays - 1))
	days := make(map[string]struct{})
	for _, t := range times {
		local := t.In(now.Location())
		if local.Before(since) {
			continue
		}
		days[timeutil.DateKey(local)] = struct{}{}
	}
	return len(days)
}

func hasWeekday(times []time.Time, d time.Weekday) bool {
	for _, t := range times {
		if t.Weekday() == d {
			return true
		}
	}
	return false
}
