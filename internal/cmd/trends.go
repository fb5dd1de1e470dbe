package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/strrl/viralscope/internal/output"
	"github.com/strrl/viralscope/internal/signals"
)

var (
	trendsOut   string
	trendsPhase string
	trendsLimit int
)

var trendsCmd = &cobra.Command{
	Use:   "trends",
	Short: "Aggregate and inspect trend records",
}

var trendsRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Aggregate the last 48 hours of engagement into trend records",
	RunE:  runTrends,
}

var trendsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored trend records by velocity",
	RunE:  listTrends,
}

func init() {
	rootCmd.AddCommand(trendsCmd)
	trendsCmd.AddCommand(trendsRunCmd, trendsListCmd)

	trendsRunCmd.Flags().StringVarP(&trendsOut, "out", "o", "", "Also write a markdown summary to this directory")
	trendsListCmd.Flags().StringVar(&trendsPhase, "phase", "", "Only list records in this phase (emerging, rising, peak, declining)")
	trendsListCmd.Flags().IntVarP(&trendsLimit, "limit", "n", 50, "Maximum number of records (0 = no limit)")
}

func runTrends(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.trends.Run(cmd.Context(), time.Now())
	if err != nil {
		return fmt.Errorf("trend run failed: %w", err)
	}

	if trendsOut != "" {
		path, err := output.NewGenerator(trendsOut).Write("trends-"+result.WindowEnd.Format("20060102-1504"), output.TrendSummary(result, result.Records))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	}

	if jsonOutput {
		return printJSON(result)
	}

	fmt.Printf("Run %s: %s\n", result.RunID, result.Status)
	fmt.Printf("Window: %s to %s\n", result.WindowStart.Format(time.RFC3339), result.WindowEnd.Format(time.RFC3339))
	fmt.Printf("Read %d records across %d topics; upserted %d, failed %d\n",
		result.Stats.RecordsRead, result.Stats.Topics, result.Stats.Upserted, result.Stats.Failed)
	for _, phase := range signals.Phases {
		fmt.Printf("  %-10s %d\n", phase, result.Stats.Phases[phase])
	}
	return nil
}

func listTrends(cmd *cobra.Command, _ []string) error {
	phase := signals.Phase(trendsPhase)
	if phase != "" && !phase.IsValid() {
		return fmt.Errorf("unknown phase %q", trendsPhase)
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.store.ListTrends(cmd.Context(), phase, trendsLimit)
	if err != nil {
		return fmt.Errorf("failed to list trends: %w", err)
	}

	if jsonOutput {
		return printJSON(records)
	}

	if len(records) == 0 {
		fmt.Println("No trend records.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TOPIC\tPHASE\tVIDEOS\tVIEWS\tGROWTH\tVELOCITY\tCOMPUTED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.3f\t%.2f\t%s\n",
			r.Topic, r.Phase, r.VideoCount, r.TotalViews, r.GrowthRate, r.VelocityScore, r.ComputedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
