package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs at midnight on the first of every month.
const DefaultSchedule = "0 0 1 * *"

// runTimeout bounds one scheduled run.
const runTimeout = 9 * time.Minute

// Scheduler runs a Job on a cron schedule in a fixed time zone.
type Scheduler struct {
	cron     *cron.Cron
	sched    cron.Schedule
	job      *Job
	logger   *slog.Logger
	loc      *time.Location
	schedule string
}

// NewScheduler creates a scheduler. The schedule is a standard five-field
// cron expression interpreted in the named IANA time zone.
func NewScheduler(job *Job, logger *slog.Logger, schedule, timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", timezone, err)
	}
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", schedule, err)
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	return &Scheduler{
		cron:     c,
		sched:    sched,
		job:      job,
		logger:   logger,
		loc:      loc,
		schedule: schedule,
	}, nil
}

// Start registers the cleanup job and starts the scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runOnce); err != nil {
		return fmt.Errorf("schedule cleanup job: %w", err)
	}
	s.cron.Start()
	s.logger.Info("Scheduled cleanup job",
		"schedule", s.schedule,
		"location", s.loc.String(),
		"next_run", s.Next(time.Now()).Format(time.RFC3339))
	return nil
}

// Stop stops the scheduler. The returned context is done once a running job finishes.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next reports the first run after the given time.
func (s *Scheduler) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}

func (s *Scheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	res := s.job.Run(ctx)
	if !res.Success {
		s.logger.Error("Scheduled cleanup failed", "error", res.Error)
		return
	}
	s.logger.Info("Scheduled cleanup finished", "inactive_count", res.InactiveCount)
}
