// Package scheduler runs the service's background jobs.
//
// Poller covers fixed-interval work such as the subscription validation sweep.
// Each job runs on a clock ticker and never overlaps itself: a tick that
// arrives while the previous run is still in flight is skipped and logged.
//
// Cron covers wall-clock work such as the midnight usage rollover.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/truthlens/entitlements/pkg/logger"
)

var (
	ErrJobExists       = errors.New("scheduler: job already registered")
	ErrInvalidInterval = errors.New("scheduler: interval must be positive")
	ErrNoJobs          = errors.New("scheduler: no jobs registered")
	ErrAlreadyRunning  = errors.New("scheduler: poller already running")
)

// JobFunc is one run of a job. The context is cancelled when the poller stops.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
	running  atomic.Bool
	runs     atomic.Int64
	skipped  atomic.Int64
}

// Poller runs registered jobs at fixed intervals.
type Poller struct {
	mu      sync.Mutex
	jobs    map[string]*job
	order   []string
	started bool
	clock   clockwork.Clock
	log     *slog.Logger
}

type PollerOption func(*Poller)

func WithClock(c clockwork.Clock) PollerOption {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.log = l
		}
	}
}

func NewPoller(opts ...PollerOption) *Poller {
	p := &Poller{
		jobs:  make(map[string]*job),
		clock: clockwork.NewRealClock(),
		log:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(logger.Component("poller"))
	return p
}

// Every registers fn to run each interval once Run is called.
func (p *Poller) Every(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, name)
	}
	if fn == nil {
		panic("scheduler: job func is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, name)
	}
	p.jobs[name] = &job{name: name, interval: interval, fn: fn}
	p.order = append(p.order, name)

	p.log.Info("registered interval job",
		slog.String("job", name),
		slog.Duration("interval", interval),
	)
	return nil
}

// Run blocks until ctx is done, then waits for in-flight runs to return.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	if len(p.jobs) == 0 {
		p.mu.Unlock()
		return ErrNoJobs
	}
	p.started = true
	jobs := make([]*job, 0, len(p.order))
	for _, name := range p.order {
		jobs = append(jobs, p.jobs[name])
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, j, &wg)
		}()
	}
	wg.Wait()
	p.log.Info("poller stopped")
	return nil
}

func (p *Poller) loop(ctx context.Context, j *job, runs *sync.WaitGroup) {
	ticker := p.clock.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if !j.running.CompareAndSwap(false, true) {
				j.skipped.Add(1)
				p.log.WarnContext(ctx, "previous run still in flight, tick skipped",
					slog.String("job", j.name),
					slog.Int64("skipped", j.skipped.Load()),
				)
				continue
			}
			runs.Add(1)
			go func() {
				defer runs.Done()
				defer j.running.Store(false)
				p.run(ctx, j)
			}()
		}
	}
}

func (p *Poller) run(ctx context.Context, j *job) {
	start := p.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			p.log.ErrorContext(ctx, "job panicked",
				slog.String("job", j.name),
				slog.Any("panic", r),
			)
		}
	}()

	j.runs.Add(1)
	if err := j.fn(ctx); err != nil {
		p.log.ErrorContext(ctx, "job failed",
			slog.String("job", j.name),
			logger.Duration(p.clock.Since(start)),
			logger.Error(err),
		)
		return
	}
	p.log.DebugContext(ctx, "job finished",
		slog.String("job", j.name),
		logger.Duration(p.clock.Since(start)),
	)
}

// JobStats reports how often a job ran and how many ticks it skipped.
type JobStats struct {
	Runs    int64
	Skipped int64
	Running bool
}

// Stats returns the counters for name. ok is false for unknown jobs.
func (p *Poller) Stats(name string) (JobStats, bool) {
	p.mu.Lock()
	j, ok := p.jobs[name]
	p.mu.Unlock()
	if !ok {
		return JobStats{}, false
	}
	return JobStats{
		Runs:    j.runs.Load(),
		Skipped: j.skipped.Load(),
		Running: j.running.Load(),
	}, true
}
