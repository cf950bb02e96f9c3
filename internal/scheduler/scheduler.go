// Package scheduler triggers calendar refreshes on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "tmusync/internal/log"
)

// Job is one refresh. It must return when ctx is cancelled.
type Job func(ctx context.Context)

// Scheduler runs a Job immediately and then on every tick of a standard
// five-field cron schedule. Overlapping ticks are skipped.
type Scheduler struct {
	spec string
	c    *cron.Cron
	id   cron.EntryID
	job  Job
}

// cronLogger routes cron's own messages through the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron "+msg, err, keysAndValues...)
}

// New parses spec and prepares a scheduler in loc.
func New(spec string, loc *time.Location, job Job) (*Scheduler, error) {
	if job == nil {
		return nil, fmt.Errorf("scheduler: job is nil")
	}
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	return &Scheduler{spec: spec, c: c, job: job}, nil
}

// Run performs one refresh, then fires job on schedule until ctx is done.
// It waits for a running job to finish before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	id, err := s.c.AddFunc(s.spec, func() { s.job(ctx) })
	if err != nil {
		return fmt.Errorf("scheduler: bad schedule %q: %w", s.spec, err)
	}
	s.id = id

	s.job(ctx)

	s.c.Start()
	appLog.Info("refresh scheduled", "spec", s.spec, "next", s.Next())

	<-ctx.Done()
	<-s.c.Stop().Done()
	return nil
}

// Next returns the next planned refresh, or the zero time before Run.
func (s *Scheduler) Next() time.Time {
	if s.id == 0 {
		return time.Time{}
	}
	return s.c.Entry(s.id).Next
}
