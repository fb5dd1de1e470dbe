package cmd

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/strrl/viralscope/internal/calibration"
	"github.com/strrl/viralscope/internal/output"
)

var (
	calibrationOut   string
	calibrationLimit int
)

var calibrationCmd = &cobra.Command{
	Use:   "calibration",
	Short: "Measure and correct prediction calibration",
}

var calibrationRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Compute ECE over the outcome window and refit Platt parameters",
	RunE:  runCalibration,
}

var calibrationReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the reliability table without refitting",
	RunE:  reportCalibration,
}

var calibrationParamsCmd = &cobra.Command{
	Use:   "params",
	Short: "Show the latest and previous Platt parameters",
	RunE:  showParams,
}

var calibrationCorrectCmd = &cobra.Command{
	Use:   "correct <score>",
	Short: "Map a raw 0-100 score through the current Platt parameters",
	Args:  cobra.ExactArgs(1),
	RunE:  correctScore,
}

func init() {
	rootCmd.AddCommand(calibrationCmd)
	calibrationCmd.AddCommand(calibrationRunCmd, calibrationReportCmd, calibrationParamsCmd, calibrationCorrectCmd)

	calibrationRunCmd.Flags().StringVarP(&calibrationOut, "out", "o", "", "Also write a markdown report to this directory")
	calibrationReportCmd.Flags().StringVarP(&calibrationOut, "out", "o", "", "Also write a markdown report to this directory")
	calibrationParamsCmd.Flags().IntVarP(&calibrationLimit, "limit", "n", 10, "Number of historical fits to show")
}

func runCalibration(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.calibration.Run(cmd.Context(), time.Now())
	if err != nil {
		return fmt.Errorf("calibration run failed: %w", err)
	}

	if calibrationOut != "" {
		if err := writeCalibrationReport(result.Report, &result); err != nil {
			return err
		}
	}

	if jsonOutput {
		return printJSON(result)
	}

	fmt.Printf("Run %s: %s\n", result.RunID, result.Status)
	if result.SkipReason != "" {
		fmt.Printf("Skipped: %s\n", result.SkipReason)
		return nil
	}
	fmt.Printf("Samples: %d  ECE: %.4f  Drift: %t\n", result.TotalSamples, result.ECE, result.DriftDetected)
	if result.PlattParams != nil {
		fmt.Printf("Platt refitted: a=%.6f b=%.6f\n", result.PlattParams.A, result.PlattParams.B)
	} else {
		fmt.Printf("Platt not refitted: %s\n", result.FitStatus)
	}
	return nil
}

func reportCalibration(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	jobCfg := calibration.JobConfigFrom(cfg.Calibration)
	now := time.Now().UTC()
	pairs, err := a.store.FetchOutcomePairs(cmd.Context(), now.Add(-jobCfg.Lookback), now)
	if err != nil {
		return fmt.Errorf("failed to read outcomes: %w", err)
	}
	report := calibration.GenerateReport(pairs, jobCfg.Bins, now)

	if calibrationOut != "" {
		if err := writeCalibrationReport(report, nil); err != nil {
			return err
		}
	}

	if jsonOutput {
		return printJSON(report)
	}
	fmt.Print(output.CalibrationReport(report, jobCfg.DriftThreshold, nil))
	return nil
}

func showParams(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	history, err := a.store.PlattParameterHistory(cmd.Context(), calibrationLimit)
	if err != nil {
		return fmt.Errorf("failed to read platt history: %w", err)
	}

	if jsonOutput {
		return printJSON(history)
	}
	if len(history) == 0 {
		fmt.Println("No Platt parameters fitted yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FITTED\tA\tB\tSAMPLES")
	for _, p := range history {
		fmt.Fprintf(w, "%s\t%.6f\t%.6f\t%d\n", p.FittedAt.Format(time.RFC3339), p.A, p.B, p.SampleCount)
	}
	return w.Flush()
}

func correctScore(cmd *cobra.Command, args []string) error {
	score, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("score must be a number: %w", err)
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	correction, err := a.corrector.Correct(cmd.Context(), score)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(correction)
	}
	if !correction.Calibrated {
		fmt.Printf("%.2f (uncalibrated)\n", correction.Corrected)
		return nil
	}
	fmt.Printf("%.2f\n", correction.Corrected)
	return nil
}

func writeCalibrationReport(report calibration.Report, result *calibration.RunResult) error {
	content := output.CalibrationReport(report, cfg.Calibration.DriftThreshold, result)
	path, err := output.NewGenerator(calibrationOut).Write("calibration-"+report.GeneratedAt.Format("20060102-1504"), content)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	return nil
}
