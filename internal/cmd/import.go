package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strrl/viralscope/internal/parser"
)

var importDays int

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load scraper dumps (newline-delimited JSON) into the store",
}

var importEngagementCmd = &cobra.Command{
	Use:   "engagement <path-or-glob>",
	Short: "Append engagement observations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, parser.KindEngagement, args[0])
	},
}

var importOutcomesCmd = &cobra.Command{
	Use:   "outcomes <path-or-glob>",
	Short: "Append predicted/actual outcome pairs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runImport(cmd, parser.KindOutcomes, args[0])
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importEngagementCmd, importOutcomesCmd)

	importCmd.PersistentFlags().IntVarP(&importDays, "days", "d", 0, "Only import rows from the last N days (0 = all)")
}

func runImport(cmd *cobra.Command, kind parser.Kind, path string) error {
	ctx := cmd.Context()

	p, err := parser.NewParser()
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}

	stats, err := p.Stats(ctx, kind, path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if stats.Rows == 0 {
		return fmt.Errorf("no %s rows found in %s", kind, path)
	}
	fmt.Printf("Found %d %s rows from %s to %s\n", stats.Rows, kind,
		stats.First.Format("2006-01-02"), stats.Last.Format("2006-01-02"))

	var since time.Time
	if importDays > 0 {
		since = time.Now().AddDate(0, 0, -importDays)
		fmt.Printf("Importing last %d days (since %s)\n", importDays, since.Format("2006-01-02"))
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var n int
	switch kind {
	case parser.KindEngagement:
		records, err := p.ReadEngagement(ctx, path, since)
		if err != nil {
			return err
		}
		n, err = a.store.AppendEngagement(ctx, records)
		if err != nil {
			return fmt.Errorf("failed to store engagement: %w", err)
		}
	case parser.KindOutcomes:
		pairs, err := p.ReadOutcomes(ctx, path, since)
		if err != nil {
			return err
		}
		n, err = a.store.AppendOutcomes(ctx, pairs)
		if err != nil {
			return fmt.Errorf("failed to store outcomes: %w", err)
		}
	}

	if jsonOutput {
		return printJSON(map[string]any{"kind": kind, "path": path, "imported": n})
	}
	fmt.Printf("Imported %d rows\n", n)
	return nil
}
