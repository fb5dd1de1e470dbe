package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/strrl/viralscope/internal/config"
	"github.com/strrl/viralscope/internal/logging"
)

var (
	configPath string
	logLevel   string
	jsonOutput bool

	// cfg is loaded once in PersistentPreRunE and shared by every command.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "viralscope",
	Short: "Trend velocity and prediction calibration for short-form video",
	Long: `viralscope aggregates scraped engagement into per-topic trend records
and keeps virality predictions calibrated against observed outcomes.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: viralscope.yaml or $"+config.PathEnvVar+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}

	logging.Init(logging.Config{
		Level:  loaded.Logging.Level,
		Format: loaded.Logging.Format,
		Caller: loaded.Logging.Caller,
	})
	logging.Debug().Str("command", cmd.CommandPath()).Str("driver", loaded.Database.Driver).Msg("configuration loaded")

	cfg = loaded
	return nil
}
