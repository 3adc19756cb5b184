// Package retention prunes old conversation turns on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// parser accepts standard 5-field expressions and @-descriptors such as @daily.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Pruner deletes turns created before cutoff and reports how many.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job deletes turns older than MaxAge each time its schedule fires.
type Job struct {
	pruner   Pruner
	schedule cron.Schedule
	maxAge   time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// Opts holds parameters for creating a Job.
type Opts struct {
	Pruner   Pruner
	Schedule string // 5-field cron expression
	MaxAge   time.Duration
	Logger   *zap.Logger
}

// New validates opts and returns a Job.
func New(opts Opts) (*Job, error) {
	if opts.Pruner == nil {
		return nil, fmt.Errorf("retention: pruner is required")
	}
	if opts.MaxAge <= 0 {
		return nil, fmt.Errorf("retention: max age must be positive")
	}
	sched, err := parser.Parse(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("retention: parse schedule %q: %w", opts.Schedule, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{
		pruner:   opts.Pruner,
		schedule: sched,
		maxAge:   opts.MaxAge,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Next returns the first fire time after from.
func (j *Job) Next(from time.Time) time.Time {
	return j.schedule.Next(from)
}

// RunOnce prunes immediately.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.maxAge)
	n, err := j.pruner.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention: prune: %w", err)
	}
	return n, nil
}

// Run prunes on every schedule tick until ctx is cancelled, then waits for
// an in-flight prune to finish.
func (j *Job) Run(ctx context.Context) error {
	c := cron.New(cron.WithParser(parser))
	c.Schedule(j.schedule, cron.FuncJob(func() {
		n, err := j.RunOnce(ctx)
		if err != nil {
			j.logger.Error("retention run failed", zap.Error(err))
			return
		}
		j.logger.Info("retention run complete",
			zap.Int64("deleted", n),
			zap.Duration("max_age", j.maxAge))
	}))
	c.Start()
	j.logger.Info("retention scheduled", zap.Time("next", j.Next(j.now())))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
