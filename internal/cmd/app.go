package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/strrl/viralscope/internal/aggregator"
	"github.com/strrl/viralscope/internal/alerting"
	"github.com/strrl/viralscope/internal/calibration"
	"github.com/strrl/viralscope/internal/pipeline"
	"github.com/strrl/viralscope/internal/store"
)

// app bundles the store and the jobs built on it for one command.
type app struct {
	store       *store.Guarded
	trends      *pipeline.TrendJob
	calibration *calibration.Job
	cache       *calibration.ParameterCache
	corrector   *calibration.Corrector
	closers     []func() error
}

func newApp(ctx context.Context) (*app, error) {
	raw, err := store.Open(ctx, cfg.Database, cfg.Trends.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	st := store.NewGuarded(raw, cfg.Database.Driver, cfg.Breaker)

	publisher, closePublisher, err := alerting.FromConfig(cfg.Kafka)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	cache := calibration.NewParameterCache()
	return &app{
		store:       st,
		trends:      pipeline.NewTrendJob(aggregator.FromConfig(cfg.Trends), st, st, st),
		calibration: calibration.NewJob(calibration.JobConfigFrom(cfg.Calibration), st, st, cache, st, publisher),
		cache:       cache,
		corrector:   calibration.NewCorrector(cache, st),
		closers:     []func() error{closePublisher, st.Close},
	}, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", err)
		}
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
