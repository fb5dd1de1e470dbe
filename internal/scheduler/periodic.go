// Package scheduler runs the trend and calibration jobs on fixed intervals
// under a suture supervisor tree.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/strrl/viralscope/internal/logging"
	"github.com/strrl/viralscope/internal/store"
)

// JobFunc runs one job invocation for the given wall-clock time.
type JobFunc func(ctx context.Context, now time.Time) error

// Discard adapts a job's Run method, dropping its result.
func Discard[T any](run func(context.Context, time.Time) (T, error)) JobFunc {
	return func(ctx context.Context, now time.Time) error {
		_, err := run(ctx, now)
		return err
	}
}

type PeriodicConfig struct {
	Interval     time.Duration
	Timeout      time.Duration
	RunOnStartup bool
}

// PeriodicJob is a suture.Service that invokes a JobFunc on every tick.
// Job errors are logged and never returned, so a failing backend does not
// burn through the supervisor's restart budget.
type PeriodicJob struct {
	name string
	cfg  PeriodicConfig
	run  JobFunc
	now  func() time.Time
}

func NewPeriodicJob(name string, cfg PeriodicConfig, run JobFunc) *PeriodicJob {
	return &PeriodicJob{name: name, cfg: cfg, run: run, now: time.Now}
}

func (p *PeriodicJob) Serve(ctx context.Context) error {
	logger := logging.WithComponent("scheduler").With().Str("job", p.name).Logger()
	logger.Info().Dur("interval", p.cfg.Interval).Msg("job scheduled")

	if p.cfg.RunOnStartup {
		p.tick(ctx)
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *PeriodicJob) tick(ctx context.Context) {
	runCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	log := logging.Ctx(runCtx).With().Str("job", p.name).Logger()
	err := p.run(runCtx, p.now())
	switch {
	case err == nil:
	case errors.Is(err, store.ErrJobRunning):
		log.Info().Msg("previous run still in progress, skipping tick")
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
	default:
		log.Error().Err(err).Msg("scheduled run failed")
	}
}

func (p *PeriodicJob) String() string {
	return p.name
}
