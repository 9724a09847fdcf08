package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/truthlens/entitlements/pkg/logger"
)

// Cron runs jobs on six-field cron expressions (seconds first), evaluated in UTC.
type Cron struct {
	cron *cron.Cron
	log  *slog.Logger

	// base parents every run's context and is cancelled when Run stops.
	base   context.Context
	cancel context.CancelFunc
}

// NewCron returns a stopped scheduler. A nil log discards output.
func NewCron(log *slog.Logger) *Cron {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("cron"))
	cl := cronLogger{log: log}
	base, cancel := context.WithCancel(context.Background())
	return &Cron{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:    log,
		base:   base,
		cancel: cancel,
	}
}

// Add schedules fn. Each run gets its own context bounded by timeout, zero
// meaning no deadline, and cancelled once Run stops.
func (c *Cron) Add(name, spec string, timeout time.Duration, fn JobFunc) error {
	if fn == nil {
		panic("scheduler: job func is required")
	}
	_, err := c.cron.AddFunc(spec, func() {
		ctx := c.base
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		start := time.Now()
		if err := fn(ctx); err != nil {
			c.log.ErrorContext(ctx, "cron job failed",
				slog.String("job", name),
				logger.Duration(time.Since(start)),
				logger.Error(err),
			)
			return
		}
		c.log.InfoContext(ctx, "cron job finished",
			slog.String("job", name),
			logger.Duration(time.Since(start)),
		)
	})
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	c.log.Info("registered cron job", slog.String("job", name), slog.String("spec", spec))
	return nil
}

// Len is the number of scheduled jobs.
func (c *Cron) Len() int { return len(c.cron.Entries()) }

// Run starts the scheduler and blocks until ctx is done. It then cancels the
// contexts of running jobs and waits for them to return. A Cron runs once.
func (c *Cron) Run(ctx context.Context) error {
	c.cron.Start()
	<-ctx.Done()
	c.cancel()
	<-c.cron.Stop().Done()
	c.log.Info("cron stopped")
	return nil
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{logger.Error(err)}, keysAndValues...)...)
}
