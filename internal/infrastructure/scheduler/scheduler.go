// Package scheduler runs the worker's periodic jobs on gocron: the leaderboard
// cache rebuild and the prerequisite graph audit.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/codekids/codekids-hub/pkg/logger"
)

// Job is one unit of periodic work. Run gets a context that is cancelled
// when the scheduler stops.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// Result describes one finished run.
type Result struct {
	Job      string
	Started  time.Time
	Duration time.Duration
	Err      error
}

func (r Result) OK() bool { return r.Err == nil }

var ErrUnknownJob = errors.New("scheduler: unknown job")

// Every runs a job at a fixed interval.
func Every(d time.Duration) gocron.JobDefinition { return gocron.DurationJob(d) }

// Cron runs a job on a five-field crontab expression.
func Cron(expr string) gocron.JobDefinition { return gocron.CronJob(expr, false) }

type Config struct {
	Logger *logger.Logger
	// Location for cron expressions. Defaults to UTC.
	Location *time.Location
	// Locker, when set, keeps each run to one worker instance.
	Locker gocron.Locker
	// OnResult is called after every run, scheduled or triggered.
	OnResult func(Result)
}

type Scheduler struct {
	cron     gocron.Scheduler
	log      *logger.Logger
	onResult func(Result)

	ctx  context.Context
	stop context.CancelFunc

	mu   sync.RWMutex
	jobs map[string]Job
	last map[string]Result
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	opts := []gocron.SchedulerOption{gocron.WithLocation(cfg.Location)}
	if cfg.Locker != nil {
		opts = append(opts, gocron.WithDistributedLocker(cfg.Locker))
	}
	cron, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron,
		log:      cfg.Logger.With(logger.Component("scheduler")),
		onResult: cfg.OnResult,
		ctx:      ctx,
		stop:     stop,
		jobs:     map[string]Job{},
		last:     map[string]Result{},
	}, nil
}

// Add schedules job on def. A run that is still going when the next one is
// due pushes the next one back instead of overlapping.
func (s *Scheduler) Add(job Job, def gocron.JobDefinition) error {
	name := job.Name()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("scheduler: job %q already added", name)
	}
	if _, err := s.cron.NewJob(def,
		gocron.NewTask(func() { s.execute(job) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return fmt.Errorf("scheduler: add %s: %w", name, err)
	}
	s.jobs[name] = job
	s.log.Info("job added", logger.String("job", name), logger.String("description", job.Description()))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", logger.Int("jobs", len(s.Names())))
}

// Stop cancels running jobs and waits for them.
func (s *Scheduler) Stop() error {
	s.stop()
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	s.log.Info("scheduler stopped")
	return nil
}

// Trigger runs a job now, on the caller's goroutine.
func (s *Scheduler) Trigger(name string) (Result, error) {
	s.mu.RLock()
	job, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(job), nil
}

// Last returns the latest result of name.
func (s *Scheduler) Last(name string) (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.last[name]
	return r, ok
}

// Names lists added jobs, sorted.
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.jobs))
}

func (s *Scheduler) execute(job Job) Result {
	res := Result{Job: job.Name(), Started: time.Now()}
	res.Err = job.Run(s.ctx)
	res.Duration = time.Since(res.Started)

	log := s.log.With(logger.String("job", res.Job), logger.Latency(res.Duration))
	if res.Err != nil {
		log.Error("job failed", logger.Err(res.Err))
	} else {
		log.Info("job done")
	}

	s.mu.Lock()
	s.last[res.Job] = res
	s.mu.Unlock()
	if s.onResult != nil {
		s.onResult(res)
	}
	return res
}
