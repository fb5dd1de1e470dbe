package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/strrl/viralscope/internal/calibration"
	"github.com/strrl/viralscope/internal/logging"
	"github.com/strrl/viralscope/internal/pipeline"
	"github.com/strrl/viralscope/internal/scheduler"
	"github.com/strrl/viralscope/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduled jobs and the HTTP API until interrupted",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	tree := scheduler.NewTree(logging.NewSlogLogger(logging.WithComponent("supervisor")), scheduler.DefaultTreeConfig())

	sc := cfg.Scheduler
	tree.AddJob(scheduler.NewPeriodicJob(pipeline.TrendJobName, scheduler.PeriodicConfig{
		Interval:     sc.TrendInterval,
		Timeout:      sc.RunTimeout,
		RunOnStartup: sc.RunOnStartup,
	}, scheduler.Discard(a.trends.Run)))
	tree.AddJob(scheduler.NewPeriodicJob(calibration.JobName, scheduler.PeriodicConfig{
		Interval:     sc.CalibrationInterval,
		Timeout:      sc.RunTimeout,
		RunOnStartup: sc.RunOnStartup,
	}, scheduler.Discard(a.calibration.Run)))

	if cfg.Server.Enabled {
		tree.AddAPI(server.New(cfg.Server.Addr, server.Deps{
			Trends:      a.trends,
			Calibration: a.calibration,
			Reader:      a.store,
			Corrector:   a.corrector,
			Report:      calibration.JobConfigFrom(cfg.Calibration),
			Token:       cfg.Server.Token,
		}))
	}

	logging.Info().
		Dur("trend_interval", sc.TrendInterval).
		Dur("calibration_interval", sc.CalibrationInterval).
		Bool("http", cfg.Server.Enabled).
		Msg("viralscope started")

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("shutting down")
		return nil
	}
	return err
}
