package config

import (
	"errors"
	"hash/crc32"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Flag names. Each can be overridden with FEATURE_<NAME>, dots becoming
// underscores: a boolean switches the flag, an integer 0-100 sets the share
// of users that get it.
const (
	FeatureRealtime          = "realtime.rooms"
	FeatureRealtimePresence  = "realtime.presence"
	FeatureRemoteExecution   = "executor.remote"
	FeaturePythonExecution   = "executor.python"
	FeatureExecutionCache    = "executor.cache"
	FeatureLeaderboardCache  = "leaderboard.cache"
	FeatureGraphAudit        = "jobs.graph_audit"
	FeatureAchievementNotify = "notify.achievements"
)

var (
	ErrFeatureNotFound       = errors.New("feature flags: unknown flag")
	ErrInvalidRolloutPercent = errors.New("feature flags: rollout must be between 0 and 100")
)

// Flag is one toggle. Percent 0 is off and 100 is everyone.
type Flag struct {
	Name    string
	About   string
	Percent int
	// Roles restricts the flag; empty means every role.
	Roles []string
}

// FeatureContext identifies who a flag is evaluated for. A nil context
// evaluates the flag for the process as a whole.
type FeatureContext struct {
	UserID  string
	Role    string
	IsAdmin bool
}

// FeatureFlags is safe for concurrent use. A nil *FeatureFlags reports every
// flag as off.
type FeatureFlags struct {
	mu     sync.RWMutex
	flags  map[string]Flag
	pinned map[string]map[string]bool // user -> flag -> value
}

func defaultFlags() []Flag {
	return []Flag{
		{Name: FeatureRealtime, About: "collaborative lesson rooms over websocket", Percent: 100},
		{Name: FeatureRealtimePresence, About: "participant lists in lesson rooms", Percent: 100},
		{Name: FeatureRemoteExecution, About: "run code on a remote sandbox (needs EXECUTOR_REMOTE_URL)"},
		{Name: FeaturePythonExecution, About: "run python in a local subprocess", Percent: 100},
		{Name: FeatureExecutionCache, About: "reuse results of identical programs", Percent: 100},
		{Name: FeatureLeaderboardCache, About: "serve the leaderboard from a Redis snapshot", Percent: 100},
		{Name: FeatureGraphAudit, About: "scan the prerequisite graph for cycles", Percent: 100},
		{Name: FeatureAchievementNotify, About: "push badge and level news to learners", Percent: 100, Roles: []string{"student"}},
	}
}

// LoadFeatureFlags applies FEATURE_* values read through lookup on top of the
// defaults. Values that parse as neither are ignored.
func LoadFeatureFlags(lookup func(string) string) *FeatureFlags {
	ff := &FeatureFlags{flags: map[string]Flag{}, pinned: map[string]map[string]bool{}}
	for _, f := range defaultFlags() {
		if lookup != nil {
			if p, ok := parseRollout(lookup(envKey(f.Name))); ok {
				f.Percent = p
			}
		}
		ff.flags[f.Name] = f
	}
	return ff
}

func envKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.ReplaceAll(name, ".", "_"))
}

func parseRollout(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if on, err := strconv.ParseBool(v); err == nil {
		if on {
			return 100, true
		}
		return 0, true
	}
	if p, err := strconv.Atoi(v); err == nil && p >= 0 && p <= 100 {
		return p, true
	}
	return 0, false
}

// IsEnabled evaluates name for ctx. Per-user pins win, admins get every
// known flag, and partial rollouts bucket users by a hash of flag and user so
// a user keeps the same answer.
func (ff *FeatureFlags) IsEnabled(name string, ctx *FeatureContext) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	f, known := ff.flags[name]
	if ctx == nil {
		return known && f.Percent > 0
	}
	if v, ok := ff.pinned[ctx.UserID][name]; ok && ctx.UserID != "" {
		return v
	}
	switch {
	case !known:
		return false
	case ctx.IsAdmin:
		return true
	case f.Percent == 0:
		return false
	case len(f.Roles) > 0 && ctx.Role != "" && !slices.Contains(f.Roles, ctx.Role):
		return false
	case f.Percent >= 100 || ctx.UserID == "":
		return true
	}
	return int(crc32.ChecksumIEEE([]byte(name+"/"+ctx.UserID))%100) < f.Percent
}

// SetRolloutPercent changes a flag at runtime.
func (ff *FeatureFlags) SetRolloutPercent(name string, percent int) error {
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}
	ff.mu.Lock()
	defer ff.mu.Unlock()
	f, ok := ff.flags[name]
	if !ok {
		return ErrFeatureNotFound
	}
	f.Percent = percent
	ff.flags[name] = f
	return nil
}

func (ff *FeatureFlags) EnableFeature(name string) error  { return ff.SetRolloutPercent(name, 100) }
func (ff *FeatureFlags) DisableFeature(name string) error { return ff.SetRolloutPercent(name, 0) }

// SetUserOverride pins a flag for one user regardless of rollout.
func (ff *FeatureFlags) SetUserOverride(userID, name string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.pinned[userID] == nil {
		ff.pinned[userID] = map[string]bool{}
	}
	ff.pinned[userID][name] = enabled
}

func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.pinned, userID)
}

// GetAllFeatures returns copies sorted by name.
func (ff *FeatureFlags) GetAllFeatures() []Flag {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	out := make([]Flag, 0, len(ff.flags))
	for _, f := range ff.flags {
		f.Roles = slices.Clone(f.Roles)
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b Flag) int { return strings.Compare(a.Name, b.Name) })
	return out
}
