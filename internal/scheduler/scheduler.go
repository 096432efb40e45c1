// Package scheduler runs the periodic maintenance of the executor: pruning
// expired cached results, trimming the run history and forgetting idle
// rate limit buckets.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/graphery/executor/internal/ratelimit"
	"github.com/graphery/executor/internal/storage"
)

// Job is one periodic maintenance task. Run returns the number of rows it
// removed.
type Job struct {
	Name string
	Spec string // Cron expression or descriptor such as "@every 10m".
	Run  func(ctx context.Context) (int64, error)
}

// Scheduler fires maintenance jobs on their cron schedules. A job never
// overlaps with itself; a firing that finds it still running is skipped.
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.Parser
	metrics *Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	jobs    map[string]Job
	running map[string]bool
}

// New creates a Scheduler. metrics may be nil.
func New(metrics *Metrics, logger *slog.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		parser:  parser,
		metrics: metrics,
		logger:  logger,
		jobs:    make(map[string]Job),
		running: make(map[string]bool),
	}
}

// Add registers a job. The schedule is validated immediately.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	if _, err := s.parser.Parse(job.Spec); err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", job.Spec, job.Name, err)
	}
	s.mu.Lock()
	if _, dup := s.jobs[job.Name]; dup {
		s.mu.Unlock()
		return fmt.Errorf("job %s already registered", job.Name)
	}
	s.jobs[job.Name] = job
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(job.Spec, func() { s.RunNow(ctx, job.Name) }); err != nil {
		return fmt.Errorf("scheduling job %s: %w", job.Name, err)
	}
	s.logger.Info("maintenance job scheduled", slog.String("job", job.Name), slog.String("spec", job.Spec))
	return nil
}

// Start begins firing jobs. Returns a cancel function that stops the
// scheduler and waits for running jobs.
func (s *Scheduler) Start(ctx context.Context) func() {
	s.cron.Start()
	s.logger.InfoContext(ctx, "maintenance scheduler started", slog.Int("jobs", len(s.cron.Entries())))
	return func() {
		<-s.cron.Stop().Done()
		s.logger.Info("maintenance scheduler stopped")
	}
}

// RunNow runs the named job synchronously. It reports false when the job is
// unknown or already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	job, ok := s.jobs[name]
	if !ok || s.running[name] {
		s.mu.Unlock()
		if ok {
			s.logger.Warn("maintenance job still running, skipping", slog.String("job", name))
		}
		return false
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	start := time.Now()
	n, err := job.Run(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "failure"
		s.logger.ErrorContext(ctx, "maintenance job failed",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.DebugContext(ctx, "maintenance job done",
			slog.String("job", name),
			slog.Int64("removed", n),
			slog.Duration("duration", duration),
		)
	}
	if s.metrics != nil {
		s.metrics.JobsRun.WithLabelValues(name, status).Inc()
		s.metrics.RowsRemoved.WithLabelValues(name).Add(float64(n))
		s.metrics.JobDuration.WithLabelValues(name).Observe(duration.Seconds())
	}
	return true
}

// PruneResults returns a job deleting expired cached results.
func PruneResults(results storage.ResultStore, spec string) Job {
	return Job{
		Name: "prune_results",
		Spec: spec,
		Run: func(ctx context.Context) (int64, error) {
			return results.Prune(ctx, time.Now().UTC())
		},
	}
}

// TrimHistory returns a job deleting runs older than retention.
func TrimHistory(runs storage.RunStore, spec string, retention time.Duration) Job {
	return Job{
		Name: "trim_history",
		Spec: spec,
		Run: func(ctx context.Context) (int64, error) {
			return runs.DeleteBefore(ctx, time.Now().UTC().Add(-retention))
		},
	}
}

// SweepRateLimits returns a job forgetting clients idle for at least idle.
func SweepRateLimits(limiter *ratelimit.Limiter, spec string, idle time.Duration) Job {
	return Job{
		Name: "sweep_rate_limits",
		Spec: spec,
		Run: func(context.Context) (int64, error) {
			return limiter.Sweep(idle), nil
		},
	}
}
