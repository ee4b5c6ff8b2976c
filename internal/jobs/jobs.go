// Package jobs runs the periodic cleanup sweeps on a cron schedule.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ma496/EasyForNet-sub002/internal/audit"
	"github.com/ma496/EasyForNet-sub002/internal/auth"
	"github.com/ma496/EasyForNet-sub002/internal/obs"
)

const defaultJobTimeout = 5 * time.Minute

// Job is one named sweep reporting how many rows it removed.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// CleanupJobs returns the session and single-use token sweeps.
func CleanupJobs(c *auth.Cleaner) []Job {
	return []Job{
		{Name: "auth_tokens", Run: c.DeleteExpiredAuthTokens},
		{Name: "tokens", Run: c.DeleteExpiredTokens},
	}
}

// RunOnce runs every job in order. A failing job does not stop the rest;
// all failures are returned joined.
func RunOnce(ctx context.Context, logger logrus.FieldLogger, jobs []Job) error {
	var errs []error
	for _, j := range jobs {
		start := time.Now()
		n, err := j.Run(ctx)
		fields := logrus.Fields{"job": j.Name, "deleted": n, "duration_ms": time.Since(start).Milliseconds()}
		if err != nil {
			logger.WithFields(fields).WithError(err).Error("cleanup job failed")
			errs = append(errs, fmt.Errorf("%s: %w", j.Name, err))
			continue
		}
		obs.RecordCleanup(j.Name, n)
		logger.WithFields(fields).Info("cleanup job finished")
		_ = audit.LogEvent(ctx, audit.EventCleanup, map[string]any{"kind": j.Name, "deleted": n})
	}
	return errors.Join(errs...)
}

// Scheduler wraps a cron runner whose jobs never overlap with themselves.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logrus.Logger
	timeout time.Duration
}

// NewScheduler builds a stopped scheduler logging through logger.
func NewScheduler(logger *logrus.Logger) *Scheduler {
	cl := cron.PrintfLogger(logger)
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		timeout: defaultJobTimeout,
	}
}

// Add schedules jobs to run together on spec, a standard five-field cron
// expression or descriptor such as "@daily".
func (s *Scheduler) Add(spec string, jobs ...Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_ = RunOnce(ctx, s.logger, jobs)
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	return nil
}

// Len is the number of scheduled entries.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for running jobs until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
