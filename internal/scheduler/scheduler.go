// Package scheduler wires the four background loops (token refresh, WebSub
// renewal, fallback polling, fan-out) onto a shared cron runtime: one
// process, four independently-scheduled jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one background loop's single tick function: a cooperative task on
// the shared scheduler, taking a cancellation handle.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each Job on its own @every interval using one
// robfig/cron/v3 runtime (cron.WithSeconds), logging tick outcomes and
// honoring ctx cancellation between runs.
type Scheduler struct {
	cron   *cron.Cron
	log    *slog.Logger
	jobs   []Job
	runCtx context.Context
}

func New(log *slog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log,
	}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(j Job) error {
	spec := fmt.Sprintf("@every %s", j.Interval)
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		// Every tick runs with the scheduler's lifetime context, which
		// Start sets; a tick that fires before Start is skipped.
		if s.runCtx == nil {
			return
		}
		if err := j.Run(s.runCtx); err != nil {
			s.log.Error("scheduled job failed", "job", j.Name, "duration", time.Since(start), "err", err)
			return
		}
		s.log.Info("scheduled job completed", "job", j.Name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("scheduling job %s: %w", j.Name, err)
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start begins the cron runtime and blocks until ctx is cancelled, then
// stops the runtime and waits, up to a small grace window, for in-flight
// jobs to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.runCtx = ctx
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
	}
}
