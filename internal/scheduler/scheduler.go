// Package scheduler runs background jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

// Job is one unit of scheduled work. Errors are logged; they never stop the loop.
type Job func(ctx context.Context) error

type entry struct {
	name string
	cron string
	job  Job
}

type Scheduler struct {
	logger  *zap.Logger
	entries []entry

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{logger: logger, now: time.Now, after: time.After}
}

// Add registers job under name. The cron expression is validated up front.
func (s *Scheduler) Add(name, cronExpr string, job Job) error {
	if !gronx.IsValid(cronExpr) {
		return fmt.Errorf("invalid cron expression for %s: %q", name, cronExpr)
	}
	s.entries = append(s.entries, entry{name: name, cron: cronExpr, job: job})
	s.logger.Info("Scheduled job", zap.String("job", name), zap.String("cron", cronExpr))
	return nil
}

// Run blocks until ctx is cancelled. Each job runs in its own loop, so a
// slow run delays only the next tick of that job.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range s.entries {
		wg.Add(1)
		go func(e entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(e)
	}
	wg.Wait()
	s.logger.Info("Scheduler stopped.")
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	for {
		next, err := gronx.NextTickAfter(e.cron, s.now(), false)
		wait := time.Until(next)
		if err != nil {
			s.logger.Error("Failed to compute next tick", zap.String("job", e.name), zap.Error(err))
			wait = 30 * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-s.after(wait):
		}
		if err != nil {
			continue
		}
		s.runOnce(ctx, e)
	}
}

func (s *Scheduler) runOnce(ctx context.Context, e entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled job panicked", zap.String("job", e.name), zap.Any("panic", r))
		}
	}()

	start := s.now()
	s.logger.Info("Running scheduled job", zap.String("job", e.name))
	if err := e.job(ctx); err != nil {
		s.logger.Error("Scheduled job failed", zap.String("job", e.name), zap.Error(err))
		return
	}
	s.logger.Info("Scheduled job finished", zap.String("job", e.name), zap.Duration("took", time.Since(start)))
}
