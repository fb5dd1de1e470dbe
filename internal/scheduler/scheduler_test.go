package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/strrl/viralscope/internal/store"
)

type countingJob struct {
	calls atomic.Int32
	err   error
}

func (c *countingJob) run(ctx context.Context, _ time.Time) error {
	c.calls.Add(1)
	return c.err
}

func TestPeriodicJob_RunOnStartupAndTicks(t *testing.T) {
	job := &countingJob{}
	p := NewPeriodicJob("trends", PeriodicConfig{Interval: 10 * time.Millisecond, RunOnStartup: true}, job.run)

	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()

	err := p.Serve(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() = %v, want deadline exceeded", err)
	}
	if n := job.calls.Load(); n < 3 {
		t.Errorf("ran %d times, want at least 3", n)
	}
}

func TestPeriodicJob_NoStartupRun(t *testing.T) {
	job := &countingJob{}
	p := NewPeriodicJob("calibration", PeriodicConfig{Interval: time.Hour}, job.run)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = p.Serve(ctx)

	if n := job.calls.Load(); n != 0 {
		t.Errorf("ran %d times before first tick", n)
	}
}

func TestPeriodicJob_ErrorsDoNotStopLoop(t *testing.T) {
	for _, jobErr := range []error{store.ErrJobRunning, errors.New("db down")} {
		job := &countingJob{err: jobErr}
		p := NewPeriodicJob("x", PeriodicConfig{Interval: 5 * time.Millisecond, RunOnStartup: true}, job.run)

		ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
		err := p.Serve(ctx)
		cancel()

		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("%v: Serve() = %v", jobErr, err)
		}
		if job.calls.Load() < 2 {
			t.Errorf("%v: loop stopped after failure", jobErr)
		}
	}
}

func TestPeriodicJob_TimeoutAppliesPerRun(t *testing.T) {
	var deadline time.Time
	var mu sync.Mutex
	run := func(ctx context.Context, _ time.Time) error {
		mu.Lock()
		defer mu.Unlock()
		deadline, _ = ctx.Deadline()
		return nil
	}
	p := NewPeriodicJob("x", PeriodicConfig{Interval: time.Hour, Timeout: time.Minute, RunOnStartup: true}, run)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = p.Serve(ctx)

	mu.Lock()
	defer mu.Unlock()
	if deadline.IsZero() {
		t.Fatal("run context had no deadline")
	}
}

func TestDiscard(t *testing.T) {
	want := errors.New("boom")
	fn := Discard(func(context.Context, time.Time) (int, error) { return 1, want })
	if err := fn(context.Background(), time.Now()); !errors.Is(err, want) {
		t.Errorf("Discard() = %v", err)
	}
}

func TestTree_RunsJobs(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tree := NewTree(logger, DefaultTreeConfig())

	job := &countingJob{}
	tree.AddJob(NewPeriodicJob("trends", PeriodicConfig{Interval: 5 * time.Millisecond, RunOnStartup: true}, job.run))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for job.calls.Load() == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("job never ran under the tree")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
}
