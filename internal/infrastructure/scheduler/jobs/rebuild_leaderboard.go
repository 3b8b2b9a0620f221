// Package jobs contains the worker's scheduled jobs.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/codekids/codekids-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRebuilder reloads the leaderboard cache from the store.
// Satisfied by progression.AchievementEngine.
type LeaderboardRebuilder interface {
	RebuildLeaderboard(ctx context.Context, limit int) (int, error)
}

// RebuildLeaderboardJob refreshes the cached leaderboard snapshot. Between
// runs the cache is kept current by point bumps, or dropped when a learner
// outside the snapshot earns points.
type RebuildLeaderboardJob struct {
	engine LeaderboardRebuilder
	log    *logger.Logger
	config RebuildLeaderboardConfig

	lastStats atomic.Pointer[RebuildStats]
}

// RebuildLeaderboardConfig contains configuration for the rebuild job.
type RebuildLeaderboardConfig struct {
	// Rows is how many learners the snapshot holds. It must cover the
	// largest leaderboard page the API serves.
	Rows int

	// Timeout is the maximum duration for the rebuild operation.
	Timeout time.Duration
}

// DefaultRebuildLeaderboardConfig returns sensible defaults.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{
		Rows:    100,
		Timeout: time.Minute,
	}
}

// RebuildStats contains statistics from a rebuild run.
type RebuildStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Rows      int
}

// NewRebuildLeaderboardJob creates a new rebuild leaderboard job.
func NewRebuildLeaderboardJob(engine LeaderboardRebuilder, log *logger.Logger, config RebuildLeaderboardConfig) *RebuildLeaderboardJob {
	if log == nil {
		log = logger.Nop()
	}
	if config.Rows <= 0 {
		config.Rows = DefaultRebuildLeaderboardConfig().Rows
	}
	return &RebuildLeaderboardJob{engine: engine, log: log, config: config}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Reloads the cached points leaderboard from the store"
}

// Run executes the rebuild job.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	start := time.Now()
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	n, err := j.engine.RebuildLeaderboard(ctx, j.config.Rows)
	if err != nil {
		return fmt.Errorf("rebuild_leaderboard: %w", err)
	}

	stats := &RebuildStats{StartedAt: start, Duration: time.Since(start), Rows: n}
	j.lastStats.Store(stats)
	j.log.Info("leaderboard cache rebuilt", logger.Int("rows", n), logger.Latency(stats.Duration))
	return nil
}

// LastStats returns the stats of the last successful run, or nil.
func (j *RebuildLeaderboardJob) LastStats() *RebuildStats {
	return j.lastStats.Load()
}
