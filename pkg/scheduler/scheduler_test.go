package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/truthlens/entitlements/pkg/scheduler"
)

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}
}

func stats(t *testing.T, p *scheduler.Poller, name string) scheduler.JobStats {
	t.Helper()
	s, ok := p.Stats(name)
	require.True(t, ok)
	return s
}

func TestPoller_Every(t *testing.T) {
	t.Parallel()
	p := scheduler.NewPoller()
	noop := func(context.Context) error { return nil }

	require.NoError(t, p.Every("sweep", time.Minute, noop))
	assert.ErrorIs(t, p.Every("sweep", time.Hour, noop), scheduler.ErrJobExists)
	assert.ErrorIs(t, p.Every("zero", 0, noop), scheduler.ErrInvalidInterval)

	_, ok := p.Stats("zero")
	assert.False(t, ok)
}

func TestPoller_RunWithoutJobs(t *testing.T) {
	t.Parallel()
	err := scheduler.NewPoller().Run(context.Background())
	assert.ErrorIs(t, err, scheduler.ErrNoJobs)
}

func TestPoller_SkipsTickWhileInFlight(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	p := scheduler.NewPoller(scheduler.WithClock(clock))

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	require.NoError(t, p.Every("sweep", time.Minute, func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)
	waitFor(t, started)

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return stats(t, p, "sweep").Skipped == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, stats(t, p, "sweep").Running)

	close(release)
	require.Eventually(t, func() bool {
		return !stats(t, p, "sweep").Running
	}, 2*time.Second, 5*time.Millisecond)

	clock.Advance(time.Minute)
	waitFor(t, started)

	cancel()
	require.NoError(t, <-done)
	s := stats(t, p, "sweep")
	assert.Equal(t, int64(2), s.Runs)
	assert.Equal(t, int64(1), s.Skipped)
}

func TestPoller_RunTwice(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	p := scheduler.NewPoller(scheduler.WithClock(clock))
	require.NoError(t, p.Every("sweep", time.Minute, func(context.Context) error { return nil }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	assert.ErrorIs(t, p.Run(ctx), scheduler.ErrAlreadyRunning)
	cancel()
	require.NoError(t, <-done)
}

func TestPoller_FailuresDoNotStopTheJob(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	p := scheduler.NewPoller(scheduler.WithClock(clock))

	var calls atomic.Int64
	require.NoError(t, p.Every("flaky", time.Second, func(context.Context) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return errors.New("still failing")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	require.Eventually(t, func() bool {
		if !stats(t, p, "flaky").Running {
			clock.Advance(time.Second)
		}
		return calls.Load() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestPoller_RunWaitsForInFlightJob(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	p := scheduler.NewPoller(scheduler.WithClock(clock))

	started := make(chan struct{}, 1)
	var finished atomic.Bool
	require.NoError(t, p.Every("slow", time.Minute, func(ctx context.Context) error {
		started <- struct{}{}
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)
	waitFor(t, started)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, finished.Load())
}

func TestCron_InvalidSpec(t *testing.T) {
	t.Parallel()
	c := scheduler.NewCron(nil)
	err := c.Add("rollover", "every midnight", 0, func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Zero(t, c.Len())

	require.NoError(t, c.Add("rollover", "0 0 0 * * *", time.Minute, func(context.Context) error { return nil }))
	assert.Equal(t, 1, c.Len())
}

func TestCron_Run(t *testing.T) {
	t.Parallel()
	c := scheduler.NewCron(nil)

	var calls atomic.Int64
	var hadDeadline atomic.Bool
	require.NoError(t, c.Add("tick", "* * * * * *", time.Minute, func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		hadDeadline.Store(ok)
		calls.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() > 0 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, hadDeadline.Load())
}

func TestCron_RunCancelsInFlightJobs(t *testing.T) {
	t.Parallel()
	c := scheduler.NewCron(nil)

	started := make(chan struct{}, 1)
	jobErr := make(chan error, 1)
	require.NoError(t, c.Add("rollover", "* * * * * *", time.Hour, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
			return nil
		}
		<-ctx.Done()
		jobErr <- ctx.Err()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, started)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.ErrorIs(t, <-jobErr, context.Canceled)
}
