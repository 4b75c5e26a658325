package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/edgard/taskbell/internal/bot/tasks"
	"github.com/edgard/taskbell/internal/config"
)

// Jobs manages periodic background jobs using gocron. Cron-scheduled jobs
// come from the configuration; interval jobs are registered directly.
type Jobs struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
	jobCfg    map[string]config.JobConfig
	taskMap   map[string]tasks.ScheduledTaskFunc

	mu       sync.Mutex
	interval []intervalJob
	running  bool

	// runCtx is handed to every job invocation and cancelled by Stop, so
	// an in-flight job can wind down instead of outliving the runner.
	runCtx context.Context
	cancel context.CancelFunc
}

type intervalJob struct {
	name  string
	every time.Duration
	fn    tasks.ScheduledTaskFunc
}

// NewJobs creates the background job runner.
func NewJobs(logger *slog.Logger, jobCfg map[string]config.JobConfig, taskMap map[string]tasks.ScheduledTaskFunc) (*Jobs, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create job scheduler: %w", err)
	}

	return &Jobs{
		scheduler: s,
		logger:    logger.With("component", "jobs"),
		jobCfg:    jobCfg,
		taskMap:   taskMap,
	}, nil
}

// AddInterval registers a job that runs at a fixed interval, independent of
// the cron-configured jobs. Must be called before Start.
func (j *Jobs) AddInterval(name string, every time.Duration, fn tasks.ScheduledTaskFunc) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.interval = append(j.interval, intervalJob{name: name, every: every, fn: fn})
}

// Start schedules all enabled jobs and starts the runner.
func (j *Jobs) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("job runner is already running")
	}
	j.runCtx, j.cancel = context.WithCancel(context.Background())

	scheduled := 0
	for name, cfg := range j.jobCfg {
		if !cfg.Enabled {
			j.logger.Info("Skipping disabled job", "job_name", name)
			continue
		}

		fn, ok := j.taskMap[name]
		if !ok {
			j.logger.Warn("Job configured but not registered, skipping", "job_name", name)
			continue
		}
		if cfg.Schedule == "" {
			j.logger.Warn("Job enabled but has empty schedule, skipping", "job_name", name)
			continue
		}

		if _, err := j.scheduler.NewJob(
			gocron.CronJob(cfg.Schedule, false),
			gocron.NewTask(j.wrap(name, fn), j.runCtx),
			gocron.WithName(name),
		); err != nil {
			j.logger.Error("Failed to schedule job", "job_name", name, "schedule", cfg.Schedule, "error", err)
			continue
		}

		j.logger.Info("Scheduled job", "job_name", name, "schedule", cfg.Schedule)
		scheduled++
	}

	for _, ij := range j.interval {
		if _, err := j.scheduler.NewJob(
			gocron.DurationJob(ij.every),
			gocron.NewTask(j.wrap(ij.name, ij.fn), j.runCtx),
			gocron.WithName(ij.name),
		); err != nil {
			j.logger.Error("Failed to schedule interval job", "job_name", ij.name, "error", err)
			continue
		}

		j.logger.Info("Scheduled interval job", "job_name", ij.name, "interval", ij.every)
		scheduled++
	}

	j.scheduler.Start()
	j.running = true
	j.logger.Info("Job runner started", "jobs_scheduled", scheduled)
	return nil
}

// wrap adds run logging and error capture around a task function.
func (j *Jobs) wrap(name string, fn tasks.ScheduledTaskFunc) func(ctx context.Context) {
	return func(ctx context.Context) {
		j.logger.Info("Running job", "job_name", name)
		start := time.Now()
		if err := fn(ctx); err != nil {
			j.logger.Error("Job failed", "job_name", name, "error", err)
		}
		j.logger.Info("Finished job", "job_name", name, "duration", time.Since(start))
	}
}

// Stop cancels the job context and shuts the runner down, waiting for
// in-flight jobs to return.
func (j *Jobs) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.running {
		return nil
	}
	j.cancel()

	err := j.scheduler.Shutdown()
	if err != nil {
		j.logger.Error("Error during job runner shutdown", "error", err)
	} else {
		j.logger.Info("Job runner stopped")
	}
	j.running = false
	return err
}
