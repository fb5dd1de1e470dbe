package store

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/strrl/viralscope/internal/config"
	"github.com/strrl/viralscope/internal/logging"
	"github.com/strrl/viralscope/internal/metrics"
	"github.com/strrl/viralscope/internal/signals"
)

// ErrBreakerOpen is returned while the read breaker is open.
var ErrBreakerOpen = gobreaker.ErrOpenState

// Guarded wraps a Store so that reads fail fast once the backend keeps
// failing. Writes and locks pass straight through: a failed trend batch is
// already isolated and counted.
type Guarded struct {
	Store
	breaker *gobreaker.CircuitBreaker[any]
}

func NewGuarded(inner Store, name string, cfg config.BreakerConfig) *Guarded {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, int(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("store breaker state changed")
		},
	}
	metrics.SetBreakerState(name, int(gobreaker.StateClosed))

	return &Guarded{
		Store:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// State reports the breaker state.
func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}

func guard[T any](cb *gobreaker.CircuitBreaker[any], fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := out.(T)
	return v, nil
}

func (g *Guarded) FetchRecentEngagement(ctx context.Context, start, end time.Time) ([]signals.EngagementRecord, error) {
	return guard(g.breaker, func() ([]signals.EngagementRecord, error) {
		return g.Store.FetchRecentEngagement(ctx, start, end)
	})
}

func (g *Guarded) FetchOutcomePairs(ctx context.Context, start, end time.Time) ([]signals.OutcomePair, error) {
	return guard(g.breaker, func() ([]signals.OutcomePair, error) {
		return g.Store.FetchOutcomePairs(ctx, start, end)
	})
}

func (g *Guarded) ListTrends(ctx context.Context, phase signals.Phase, limit int) ([]signals.TrendRecord, error) {
	return guard(g.breaker, func() ([]signals.TrendRecord, error) {
		return g.Store.ListTrends(ctx, phase, limit)
	})
}

func (g *Guarded) LatestPlattParameters(ctx context.Context) (*signals.PlattParameters, error) {
	return guard(g.breaker, func() (*signals.PlattParameters, error) {
		return g.Store.LatestPlattParameters(ctx)
	})
}
